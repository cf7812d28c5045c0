package lease_test

import (
	"testing"
	"time"

	"github.com/openctemio/docflow/pkg/domain/lease"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatus_LoadLabel(t *testing.T) {
	tests := []struct {
		name   string
		status lease.Status
		want   string
	}{
		{"disabled", lease.Status{MaxConcurrency: 0}, lease.LoadDisabled},
		{"idle", lease.Status{MaxConcurrency: 10}, lease.LoadIdle},
		{"light", lease.Status{MaxConcurrency: 10, ActiveWeight: 4}, lease.LoadLight},
		{"moderate", lease.Status{MaxConcurrency: 10, ActiveWeight: 5}, lease.LoadModerate},
		{"high", lease.Status{MaxConcurrency: 10, ActiveWeight: 9}, lease.LoadHigh},
		{"full", lease.Status{MaxConcurrency: 10, ActiveWeight: 10}, lease.LoadFull},
		{"queued", lease.Status{MaxConcurrency: 10, ActiveWeight: 6, QueueLength: 1}, lease.LoadQueued},
		{"queued saturated", lease.Status{MaxConcurrency: 10, ActiveWeight: 10, QueueLength: 1}, lease.LoadQueuedSaturated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.status.LoadLabel())
		})
	}
}

func TestStatus_Severity(t *testing.T) {
	tests := []struct {
		name   string
		status lease.Status
		want   lease.Severity
	}{
		{"disabled", lease.Status{}, lease.SeverityWarning},
		{"idle", lease.Status{MaxConcurrency: 4}, lease.SeverityInfo},
		{"short queue below saturation", lease.Status{MaxConcurrency: 4, ActiveWeight: 2, QueueLength: 3}, lease.SeverityInfo},
		{"saturated with queue", lease.Status{MaxConcurrency: 4, ActiveWeight: 4, QueueLength: 1}, lease.SeverityWarning},
		{"queue twice capacity", lease.Status{MaxConcurrency: 4, ActiveWeight: 1, QueueLength: 8}, lease.SeverityWarning},
		{"deep queue saturated", lease.Status{MaxConcurrency: 4, ActiveWeight: 4, QueueLength: 20}, lease.SeverityCritical},
		{"deep queue not saturated", lease.Status{MaxConcurrency: 4, ActiveWeight: 3, QueueLength: 20}, lease.SeverityWarning},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.status.Severity())
		})
	}
}

func TestStatus_Report(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := lease.Status{Category: lease.CategoryValidation, MaxConcurrency: 8, ActiveWeight: 2, QueueLength: 0}

	r := s.Report(now)
	assert.Equal(t, "Active: 2/8, Queued: 0", r.Message)
	assert.Equal(t, lease.LoadLight, r.Label)
	assert.Equal(t, lease.SeverityInfo, r.Severity)
	assert.InDelta(t, 25.0, r.Utilization, 0.001)
	assert.Equal(t, now, r.ReportedAt)
}

func TestLease_Expired(t *testing.T) {
	granted := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.False(t, lease.Lease{GrantedAt: granted}.Expired(granted.Add(time.Hour)))

	l := lease.Lease{GrantedAt: granted, TTL: time.Minute}
	assert.False(t, l.Expired(granted.Add(59*time.Second)))
	assert.True(t, l.Expired(granted.Add(time.Minute)))
}

func TestParseCategory(t *testing.T) {
	c, err := lease.ParseCategory(" Validation ")
	require.NoError(t, err)
	assert.Equal(t, lease.CategoryValidation, c)

	_, err = lease.ParseCategory("gpu")
	assert.Error(t, err)
}
