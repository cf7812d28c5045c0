package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/openctemio/docflow/pkg/domain/shared"
	"github.com/openctemio/docflow/pkg/domain/workflow"
)

const listBatchSize = 200

// instanceRecord is the stored JSON form of an instance.
type instanceRecord struct {
	CorrelationID shared.ID          `json:"correlation_id"`
	Kind          workflow.Kind      `json:"kind"`
	State         workflow.State     `json:"state"`
	Version       int64              `json:"version"`
	Data          json.RawMessage    `json:"data,omitempty"`
	FailureReason string             `json:"failure_reason,omitempty"`
	Outbox        []workflow.Message `json:"outbox,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
	CompletedAt   *time.Time         `json:"completed_at,omitempty"`
}

func toRecord(inst *workflow.Instance, version int64) instanceRecord {
	return instanceRecord{
		CorrelationID: inst.CorrelationID,
		Kind:          inst.Kind,
		State:         inst.State,
		Version:       version,
		Data:          inst.Data,
		FailureReason: inst.FailureReason,
		Outbox:        inst.Outbox,
		CreatedAt:     inst.CreatedAt,
		UpdatedAt:     inst.UpdatedAt,
		CompletedAt:   inst.CompletedAt,
	}
}

func (r instanceRecord) instance() *workflow.Instance {
	return &workflow.Instance{
		CorrelationID: r.CorrelationID,
		Kind:          r.Kind,
		State:         r.State,
		Version:       r.Version,
		Data:          r.Data,
		FailureReason: r.FailureReason,
		Outbox:        r.Outbox,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
		CompletedAt:   r.CompletedAt,
	}
}

func decodeRecord(data []byte) (*workflow.Instance, error) {
	var rec instanceRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode instance record: %w", err)
	}
	return rec.instance(), nil
}

// Store implements workflow.Repository on Redis.
type Store struct {
	client *redis.Client
	prefix string
}

// NewStore creates a store whose keys all start with prefix.
func NewStore(c *Client, prefix string) *Store {
	return &Store{client: c.rdb, prefix: prefix}
}

func (s *Store) member(kind workflow.Kind, id shared.ID) string {
	return string(kind) + ":" + id.String()
}

func (s *Store) key(member string) string {
	return s.prefix + "wf:" + member
}

func (s *Store) indexKey() string {
	return s.prefix + "wf:index"
}

// Load returns the stored instance.
func (s *Store) Load(ctx context.Context, kind workflow.Kind, correlationID shared.ID) (*workflow.Instance, error) {
	data, err := s.client.Get(ctx, s.key(s.member(kind, correlationID))).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%s instance %s: %w", kind, correlationID, shared.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("redis get instance: %w", err)
	}
	return decodeRecord(data)
}

// Save writes inst when the stored version equals expectedVersion.
func (s *Store) Save(ctx context.Context, inst *workflow.Instance, expectedVersion int64) error {
	member := s.member(inst.Kind, inst.CorrelationID)
	key := s.key(member)
	data, err := json.Marshal(toRecord(inst, expectedVersion+1))
	if err != nil {
		return fmt.Errorf("encode instance record: %w", err)
	}

	txf := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
			if expectedVersion != 0 {
				return workflow.ErrVersionConflict
			}
		case err != nil:
			return fmt.Errorf("redis get instance: %w", err)
		default:
			stored, err := decodeRecord(current)
			if err != nil {
				return err
			}
			if expectedVersion == 0 || stored.Version != expectedVersion {
				return workflow.ErrVersionConflict
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.ZAdd(ctx, s.indexKey(), redis.Z{
				Score:  float64(inst.CreatedAt.UnixNano()),
				Member: member,
			})
			return nil
		})
		return err
	}

	err = s.client.Watch(ctx, txf, key)
	if errors.Is(err, redis.TxFailedErr) {
		return workflow.ErrVersionConflict
	}
	if err != nil {
		return err
	}
	inst.Version = expectedVersion + 1
	return nil
}

// List walks the creation index in batches and filters each record.
func (s *Store) List(ctx context.Context, filter workflow.Filter) ([]*workflow.Instance, error) {
	out := make([]*workflow.Instance, 0)
	var start int64
	for {
		members, err := s.client.ZRange(ctx, s.indexKey(), start, start+listBatchSize-1).Result()
		if err != nil {
			return nil, fmt.Errorf("redis zrange: %w", err)
		}
		if len(members) == 0 {
			return out, nil
		}
		start += int64(len(members))

		if filter.Kind != "" {
			members = filterKind(members, filter.Kind)
			if len(members) == 0 {
				continue
			}
		}
		keys := make([]string, len(members))
		for i, m := range members {
			keys[i] = s.key(m)
		}
		values, err := s.client.MGet(ctx, keys...).Result()
		if err != nil {
			return nil, fmt.Errorf("redis mget: %w", err)
		}
		for _, v := range values {
			raw, ok := v.(string)
			if !ok {
				// Deleted between ZRANGE and MGET.
				continue
			}
			inst, err := decodeRecord([]byte(raw))
			if err != nil {
				return nil, err
			}
			if !filter.Matches(inst) {
				continue
			}
			out = append(out, inst)
			if filter.Limit > 0 && len(out) == filter.Limit {
				return out, nil
			}
		}
	}
}

func filterKind(members []string, kind workflow.Kind) []string {
	prefix := string(kind) + ":"
	kept := members[:0]
	for _, m := range members {
		if strings.HasPrefix(m, prefix) {
			kept = append(kept, m)
		}
	}
	return kept
}

// Delete removes the instance and its index entry.
func (s *Store) Delete(ctx context.Context, kind workflow.Kind, correlationID shared.ID) error {
	member := s.member(kind, correlationID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key(member))
		pipe.ZRem(ctx, s.indexKey(), member)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete instance: %w", err)
	}
	return nil
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

var _ workflow.Repository = (*Store)(nil)
