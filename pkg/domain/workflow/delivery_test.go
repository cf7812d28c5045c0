package workflow_test

import (
	"context"
	"testing"

	"github.com/openctemio/docflow/pkg/domain/workflow"
	"github.com/stretchr/testify/assert"
)

func TestFinalDelivery(t *testing.T) {
	ctx := context.Background()
	assert.False(t, workflow.IsFinalDelivery(ctx))
	assert.True(t, workflow.IsFinalDelivery(workflow.WithFinalDelivery(ctx)))
}
