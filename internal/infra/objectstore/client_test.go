package objectstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewBucket_Prefix(t *testing.T) {
	tests := []struct {
		prefix string
		want   string
	}{
		{"", "2026/01/x.json"},
		{"workflows", "workflows/2026/01/x.json"},
		{"workflows/", "workflows/2026/01/x.json"},
	}
	for _, tt := range tests {
		t.Run(tt.prefix, func(t *testing.T) {
			b := NewBucket(nil, "archive", tt.prefix)
			assert.Equal(t, tt.want, b.Key("2026/01/x.json"))
		})
	}
}
