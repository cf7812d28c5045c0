package lease

import (
	"fmt"
	"time"
)

// Severity grades a status report.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Load labels shown to operators.
const (
	LoadDisabled        = "Disabled"
	LoadIdle            = "Idle"
	LoadLight           = "Light Load"
	LoadModerate        = "Moderate Load"
	LoadHigh            = "High Load"
	LoadFull            = "Full Capacity"
	LoadQueued          = "Queued"
	LoadQueuedSaturated = "Queued (Saturated)"
)

const saturatedPercent = 95

// LoadLabel describes the status in operator terms.
func (s Status) LoadLabel() string {
	if s.MaxConcurrency <= 0 {
		return LoadDisabled
	}
	util := s.Utilization()
	if s.QueueLength > 0 {
		if util >= saturatedPercent {
			return LoadQueuedSaturated
		}
		return LoadQueued
	}
	switch {
	case s.ActiveWeight == 0:
		return LoadIdle
	case util < 50:
		return LoadLight
	case util < 80:
		return LoadModerate
	case util < saturatedPercent:
		return LoadHigh
	default:
		return LoadFull
	}
}

// Severity grades the status. A queue is normal operation; only deep queues on a
// saturated category are critical.
func (s Status) Severity() Severity {
	if s.MaxConcurrency <= 0 {
		return SeverityWarning
	}
	util := s.Utilization()
	q, capacity := s.QueueLength, s.MaxConcurrency
	if q >= capacity*5 && util >= saturatedPercent {
		return SeverityCritical
	}
	if q >= capacity*2 || (util >= saturatedPercent && q > 0) {
		return SeverityWarning
	}
	return SeverityInfo
}

// StatusReport is the pushed form of a Status.
type StatusReport struct {
	Status
	Label       string    `json:"label"`
	Severity    Severity  `json:"severity"`
	Message     string    `json:"message"`
	Utilization float64   `json:"utilization_percent"`
	ReportedAt  time.Time `json:"reported_at"`
}

// Report builds a StatusReport at now.
func (s Status) Report(now time.Time) StatusReport {
	return StatusReport{
		Status:      s,
		Label:       s.LoadLabel(),
		Severity:    s.Severity(),
		Message:     fmt.Sprintf("Active: %d/%d, Queued: %d", s.ActiveWeight, s.MaxConcurrency, s.QueueLength),
		Utilization: s.Utilization(),
		ReportedAt:  now,
	}
}
