// Package events appends audit entries inside the caller's transaction.
package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Audit entry types.
const (
	TypeModeChanged        = "system.mode.changed"
	TypeInvoiceDecided     = "invoice.decided"
	TypeAliasLearned       = "alias.learned"
	TypeAliasConflict      = "alias.conflict"
	TypeAliasBound         = "alias.bound"
	TypeAlertOpened        = "alert.opened"
	TypeTerminalViolation  = "event.terminal_violation"
	TypeStaleClaimRequeued = "event.requeued"
)

type Writer struct {
	Now func() time.Time
}

type Payload map[string]any

// Append writes one audit_log row. entityID may be empty.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, entryType, entityKind, entityID, actorID string, payload Payload) error {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = Payload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}
	if actorID == "" {
		actorID = "agent"
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO audit_log(ts,type,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?)`,
		ts, entryType, entityKind, nullable(entityID), actorID, string(data))
	return err
}

// ID formats a numeric entity id.
func ID(id int64) string {
	return strconv.FormatInt(id, 10)
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
