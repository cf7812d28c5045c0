package postgres

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/lib/pq"

	"github.com/openctemio/docflow/pkg/domain/workflow"
)

// Optional columns are NULL rather than zero values.

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

func timeOrNil(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

// encodeOutbox returns nil for an empty outbox so the column stays NULL and
// the pending-outbox index skips the row.
func encodeOutbox(msgs []workflow.Message) ([]byte, error) {
	if len(msgs) == 0 {
		return nil, nil
	}
	return json.Marshal(msgs)
}

func decodeOutbox(data []byte) ([]workflow.Message, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var msgs []workflow.Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// isUniqueViolation reports a duplicate insert, which Save treats as a lost race.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation"
}
