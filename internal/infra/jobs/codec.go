package jobs

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/openctemio/docflow/pkg/domain/shared"
	"github.com/openctemio/docflow/pkg/domain/workflow"
)

// zstdMagic starts every zstd frame. JSON never does, so the frame header is
// enough to tell the two encodings apart.
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	decoder, _ = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(64<<20))
)

// encodeMessage serializes a message as a task payload. Payloads larger than
// threshold bytes are zstd compressed; threshold 0 disables compression.
func encodeMessage(msg workflow.Message, threshold int) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal message %s: %w", msg.ID, err)
	}
	if threshold > 0 && len(data) > threshold {
		return encoder.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
	}
	return data, nil
}

// decodeMessage reverses encodeMessage. Undecodable payloads are validation
// errors so they are never retried.
func decodeMessage(payload []byte) (workflow.Message, error) {
	if bytes.HasPrefix(payload, zstdMagic) {
		raw, err := decoder.DecodeAll(payload, nil)
		if err != nil {
			return workflow.Message{}, fmt.Errorf("decompress task payload: %w: %w", shared.ErrValidation, err)
		}
		payload = raw
	}
	var msg workflow.Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return workflow.Message{}, fmt.Errorf("unmarshal task payload: %w: %w", shared.ErrValidation, err)
	}
	return msg, nil
}
