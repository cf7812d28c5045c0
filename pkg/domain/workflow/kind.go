// Package workflow defines workflow instances, messages and the transition table
// that drives them.
package workflow

import "strings"

// Kind identifies a workflow definition.
type Kind string

const (
	KindGeneration Kind = "generation"
	KindIngestion  Kind = "ingestion"
	KindValidation Kind = "validation"
	KindReview     Kind = "review"
)

// AllKinds returns every workflow kind.
func AllKinds() []Kind {
	return []Kind{KindGeneration, KindIngestion, KindValidation, KindReview}
}

// IsValid checks if the kind is known.
func (k Kind) IsValid() bool {
	switch k {
	case KindGeneration, KindIngestion, KindValidation, KindReview:
		return true
	}
	return false
}

// ParseKind parses a kind case-insensitively.
func ParseKind(s string) (Kind, bool) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	return k, k.IsValid()
}

// State is a workflow state. Each Definition declares the states it uses.
type State string

// States shared by every definition.
const (
	// StateInitial is where a freshly created instance sits before its creation transition.
	StateInitial   State = "initial"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// MessageType names an event or command on the bus. Types are namespaced by kind,
// for example "ingestion.classified".
type MessageType string

// Kind returns the namespace prefix of the message type.
func (t MessageType) Kind() Kind {
	prefix, _, _ := strings.Cut(string(t), ".")
	return Kind(prefix)
}
