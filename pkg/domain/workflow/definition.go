package workflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/openctemio/docflow/pkg/domain/shared"
)

// Machine is the kind-agnostic view of a Definition used by the router.
type Machine interface {
	Kind() Kind
	// IsCreation reports whether typ may create a new instance.
	IsCreation(typ MessageType) bool
	// MessageTypes lists every inbound type the definition reacts to.
	MessageTypes() []MessageType
	IsTerminal(state State) bool
	// Apply runs the matching transition against inst in place.
	Apply(inst *Instance, msg Message) (Outcome, error)
	Validate() error
}

// Outcome describes what Apply did.
type Outcome struct {
	Applied  bool
	From     State
	To       State
	Messages []Message
}

// Scope is what guards and actions see while a transition runs.
// Actions mutate Data; the instance itself is only updated once the action succeeds.
type Scope[D any] struct {
	Instance *Instance
	Data     *D
	Message  Message

	out     []outbound
	failure string
}

type outbound struct {
	typ     MessageType
	payload json.RawMessage
}

// CorrelationID returns the correlation ID of the instance.
func (s *Scope[D]) CorrelationID() shared.ID {
	return s.Instance.CorrelationID
}

// Decode unmarshals the inbound payload into v.
func (s *Scope[D]) Decode(v any) error {
	return s.Message.Decode(v)
}

// Publish queues an outbound message. It is sent only after the instance is saved.
func (s *Scope[D]) Publish(typ MessageType, payload any) error {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s payload: %w", typ, err)
		}
		raw = data
	}
	s.out = append(s.out, outbound{typ: typ, payload: raw})
	return nil
}

// Fail records the failure reason stored on the instance.
func (s *Scope[D]) Fail(reason string) {
	s.failure = reason
}

// Guard decides whether a transition applies.
type Guard[D any] func(s *Scope[D]) bool

// Action performs the side effects of a transition.
type Action[D any] func(s *Scope[D]) error

// Transition is one guarded rule. An empty Next keeps the current state.
type Transition[D any] struct {
	Guard  Guard[D]
	Action Action[D]
	Next   State
}

type transitionKey struct {
	state State
	typ   MessageType
}

// Definition is the transition table of one workflow kind, with D as its data type.
type Definition[D any] struct {
	kind        Kind
	states      map[State]bool
	terminal    map[State]bool
	creation    map[MessageType]bool
	transitions map[transitionKey][]Transition[D]
	anyState    map[MessageType][]Transition[D]
	types       []MessageType
	now         func() time.Time
}

// NewDefinition creates an empty table with only the initial state declared.
func NewDefinition[D any](kind Kind) *Definition[D] {
	return &Definition[D]{
		kind:        kind,
		states:      map[State]bool{StateInitial: true},
		terminal:    map[State]bool{},
		creation:    map[MessageType]bool{},
		transitions: map[transitionKey][]Transition[D]{},
		anyState:    map[MessageType][]Transition[D]{},
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// States declares non-terminal states.
func (d *Definition[D]) States(states ...State) *Definition[D] {
	for _, s := range states {
		d.states[s] = true
	}
	return d
}

// Terminal declares terminal states.
func (d *Definition[D]) Terminal(states ...State) *Definition[D] {
	for _, s := range states {
		d.states[s] = true
		d.terminal[s] = true
	}
	return d
}

// Initially registers the creation transitions for typ.
func (d *Definition[D]) Initially(typ MessageType, transitions ...Transition[D]) *Definition[D] {
	d.creation[typ] = true
	return d.On(StateInitial, typ, transitions...)
}

// On registers transitions for (state, typ), evaluated in order.
func (d *Definition[D]) On(state State, typ MessageType, transitions ...Transition[D]) *Definition[D] {
	key := transitionKey{state: state, typ: typ}
	d.transitions[key] = append(d.transitions[key], transitions...)
	d.addType(typ)
	return d
}

// OnAny registers fault handlers for typ that apply in every non-terminal state
// without a specific transition for typ.
func (d *Definition[D]) OnAny(typ MessageType, transitions ...Transition[D]) *Definition[D] {
	d.anyState[typ] = append(d.anyState[typ], transitions...)
	d.addType(typ)
	return d
}

func (d *Definition[D]) addType(typ MessageType) {
	if !slices.Contains(d.types, typ) {
		d.types = append(d.types, typ)
	}
}

// Kind returns the workflow kind.
func (d *Definition[D]) Kind() Kind {
	return d.kind
}

// IsCreation reports whether typ creates instances.
func (d *Definition[D]) IsCreation(typ MessageType) bool {
	return d.creation[typ]
}

// MessageTypes lists the inbound types in registration order.
func (d *Definition[D]) MessageTypes() []MessageType {
	return slices.Clone(d.types)
}

// IsTerminal reports whether state accepts no further transitions.
func (d *Definition[D]) IsTerminal(state State) bool {
	return d.terminal[state]
}

// HasState reports whether state is declared.
func (d *Definition[D]) HasState(state State) bool {
	return d.states[state]
}

// Validate checks the table for undeclared states and missing creation events.
func (d *Definition[D]) Validate() error {
	var errs []error
	if !d.kind.IsValid() {
		errs = append(errs, fmt.Errorf("unknown kind %q", d.kind))
	}
	if len(d.creation) == 0 {
		errs = append(errs, fmt.Errorf("%s: no creation event", d.kind))
	}
	if len(d.terminal) == 0 {
		errs = append(errs, fmt.Errorf("%s: no terminal state", d.kind))
	}
	check := func(from State, typ MessageType, ts []Transition[D]) {
		for _, t := range ts {
			if t.Next != "" && !d.states[t.Next] {
				errs = append(errs, fmt.Errorf("%s: %s on %s targets undeclared state %q", d.kind, from, typ, t.Next))
			}
		}
	}
	for key, ts := range d.transitions {
		if !d.states[key.state] {
			errs = append(errs, fmt.Errorf("%s: transition from undeclared state %q", d.kind, key.state))
		}
		if d.terminal[key.state] {
			errs = append(errs, fmt.Errorf("%s: transition from terminal state %q", d.kind, key.state))
		}
		if key.typ.Kind() != d.kind {
			errs = append(errs, fmt.Errorf("%s: message type %q outside the kind namespace", d.kind, key.typ))
		}
		check(key.state, key.typ, ts)
	}
	for typ, ts := range d.anyState {
		check("*", typ, ts)
	}
	return errors.Join(errs...)
}

func (d *Definition[D]) lookup(state State, typ MessageType) []Transition[D] {
	if ts, ok := d.transitions[transitionKey{state: state, typ: typ}]; ok {
		return ts
	}
	return d.anyState[typ]
}

// Apply runs the first matching transition for (inst.State, msg.Type).
// Unmatched pairs and terminal instances yield Outcome{Applied: false} and no error.
// On error inst is left unchanged.
func (d *Definition[D]) Apply(inst *Instance, msg Message) (Outcome, error) {
	outcome := Outcome{From: inst.State, To: inst.State}
	if inst.Kind != d.kind {
		return outcome, fmt.Errorf("%w: %s instance given to %s definition", ErrKindMismatch, inst.Kind, d.kind)
	}
	if d.terminal[inst.State] {
		return outcome, nil
	}
	candidates := d.lookup(inst.State, msg.Type)
	if len(candidates) == 0 {
		return outcome, nil
	}

	var data D
	if err := inst.DecodeData(&data); err != nil {
		return outcome, err
	}
	scope := &Scope[D]{Instance: inst, Data: &data, Message: msg}

	var chosen *Transition[D]
	for i := range candidates {
		if candidates[i].Guard == nil || candidates[i].Guard(scope) {
			chosen = &candidates[i]
			break
		}
	}
	if chosen == nil {
		return outcome, nil
	}
	if chosen.Action != nil {
		if err := chosen.Action(scope); err != nil {
			return outcome, fmt.Errorf("%s %s on %s: %w", d.kind, inst.State, msg.Type, err)
		}
	}

	encoded, err := json.Marshal(&data)
	if err != nil {
		return outcome, fmt.Errorf("encode %s instance data: %w", d.kind, err)
	}

	now := d.now()
	next := inst.State
	if chosen.Next != "" {
		next = chosen.Next
	}

	messages := make([]Message, 0, len(scope.out))
	for i, o := range scope.out {
		messages = append(messages, Message{
			ID:            OutboundID(inst.CorrelationID, inst.Version+1, i, o.typ),
			Type:          o.typ,
			CorrelationID: inst.CorrelationID,
			Timestamp:     now,
			Payload:       o.payload,
		})
	}

	inst.Data = encoded
	inst.State = next
	inst.Outbox = messages
	inst.UpdatedAt = now
	if scope.failure != "" {
		inst.FailureReason = scope.failure
	}
	if d.terminal[next] {
		inst.CompletedAt = &now
	}

	outcome.Applied = true
	outcome.To = next
	outcome.Messages = messages
	return outcome, nil
}

var _ Machine = (*Definition[struct{}])(nil)
