package workflow

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/openctemio/docflow/pkg/domain/shared"
)

// Message is the envelope for every event and command on the bus.
type Message struct {
	ID            string          `json:"id"`
	Type          MessageType     `json:"type"`
	CorrelationID shared.ID       `json:"correlation_id"`
	Timestamp     time.Time       `json:"timestamp"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// NewMessage builds a message with a random ID and a JSON encoded payload.
func NewMessage(typ MessageType, correlationID shared.ID, payload any) (Message, error) {
	msg := Message{
		ID:            shared.NewID().String(),
		Type:          typ,
		CorrelationID: correlationID,
		Timestamp:     time.Now().UTC(),
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Message{}, fmt.Errorf("marshal %s payload: %w", typ, err)
		}
		msg.Payload = data
	}
	return msg, nil
}

// Decode unmarshals the payload into v. An empty payload leaves v untouched.
// A malformed payload is a validation error, so the bus does not redeliver it.
func (m Message) Decode(v any) error {
	if len(m.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w: %w", m.Type, shared.ErrValidation, err)
	}
	return nil
}

// Validate checks the envelope fields the router relies on.
func (m Message) Validate() error {
	if m.Type == "" {
		return shared.NewValidationError("message type is required")
	}
	if m.CorrelationID.IsZero() {
		return shared.NewValidationError("correlation_id is required")
	}
	return nil
}

// OutboundID derives the ID of the index-th message produced when an instance
// moved to version. Re-publishing the same outbox therefore yields the same IDs,
// which lets the bus drop duplicates.
func OutboundID(correlationID shared.ID, version int64, index int, typ MessageType) string {
	h, _ := blake2b.New(16, nil)
	h.Write(correlationID.Bytes())
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], uint64(version))
	binary.BigEndian.PutUint64(buf[8:], uint64(index))
	h.Write(buf[:])
	h.Write([]byte(typ))
	return hex.EncodeToString(h.Sum(nil))
}

// ReplyID derives the ID of a message sent in response to cause. A worker that
// handles the same delivery twice therefore emits the same reply ID.
func ReplyID(cause Message, typ MessageType) string {
	h, _ := blake2b.New(16, nil)
	h.Write([]byte(cause.ID))
	h.Write([]byte{0})
	h.Write([]byte(typ))
	return hex.EncodeToString(h.Sum(nil))
}

// NewReply builds a message answering cause, on the same correlation ID.
func NewReply(cause Message, typ MessageType, payload any) (Message, error) {
	msg, err := NewMessage(typ, cause.CorrelationID, payload)
	if err != nil {
		return Message{}, err
	}
	msg.ID = ReplyID(cause, typ)
	return msg, nil
}
