// Package queue is the durable work log consumed by the agent loop.
//
// Events are appended by producers and claimed one at a time. A claim is a
// compare-and-swap on status inside an immediate transaction, so any number
// of processes may poll the same database without double-claiming.
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"procureiq/internal/domain"
)

var (
	ErrNotFound = errors.New("event not found")
	// ErrTerminalState is returned when completing or failing an event that
	// already reached done or failed.
	ErrTerminalState = errors.New("event already terminal")
	// ErrClaimLost is returned when a worker finishes an event it no longer
	// holds, after a recovery sweep requeued it.
	ErrClaimLost = errors.New("claim lost")
)

// TerminalStateError carries the status the event was found in.
type TerminalStateError struct {
	ID     int64
	Status domain.EventStatus
}

func (e TerminalStateError) Error() string {
	return fmt.Sprintf("event %d is %s: %s", e.ID, e.Status, ErrTerminalState)
}

func (e TerminalStateError) Unwrap() error { return ErrTerminalState }

type Store struct {
	DB       *sql.DB
	WorkerID string
	Now      func() time.Time
}

func (s Store) now() string {
	if s.Now != nil {
		return s.Now().UTC().Format(time.RFC3339)
	}
	return time.Now().UTC().Format(time.RFC3339)
}

// Append stores a pending event and returns its id.
func (s Store) Append(ctx context.Context, kind domain.EventKind, payload any) (int64, error) {
	return s.append(ctx, s.DB, kind, payload)
}

// AppendTx stores a pending event inside the caller's transaction, so the
// event becomes visible only if the caller commits.
func (s Store) AppendTx(ctx context.Context, tx *sql.Tx, kind domain.EventKind, payload any) (int64, error) {
	return s.append(ctx, tx, kind, payload)
}

func (s Store) append(ctx context.Context, q execer, kind domain.EventKind, payload any) (int64, error) {
	switch kind {
	case domain.EventInvoiceReceived, domain.EventStockAlert, domain.EventDecisionRecorded:
	default:
		return 0, fmt.Errorf("invalid event kind %q", kind)
	}
	data, err := encodePayload(payload)
	if err != nil {
		return 0, err
	}
	res, err := q.ExecContext(ctx, `INSERT INTO events(kind,payload_json,status,created_at) VALUES (?,?,?,?)`,
		string(kind), data, string(domain.EventPending), s.now())
	if err != nil {
		return 0, fmt.Errorf("append event: %w", err)
	}
	return res.LastInsertId()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// ClaimNext moves the oldest pending event to processing. ok is false when
// the queue is empty or another worker won the race.
func (s Store) ClaimNext(ctx context.Context) (domain.Event, bool, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Event{}, false, err
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRowContext(ctx, `SELECT id FROM events WHERE status=? ORDER BY id LIMIT 1`, string(domain.EventPending)).Scan(&id)
	if err == sql.ErrNoRows {
		return domain.Event{}, false, nil
	}
	if err != nil {
		return domain.Event{}, false, fmt.Errorf("select pending: %w", err)
	}
	res, err := tx.ExecContext(ctx, `UPDATE events SET status=?, claimed_at=?, worker_id=?, attempts=attempts+1 WHERE id=? AND status=?`,
		string(domain.EventProcessing), s.now(), nullable(s.WorkerID), id, string(domain.EventPending))
	if err != nil {
		return domain.Event{}, false, fmt.Errorf("claim event %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.Event{}, false, nil
	}
	evt, err := getEvent(ctx, tx, id)
	if err != nil {
		return domain.Event{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Event{}, false, err
	}
	return evt, true, nil
}

// Complete marks a processing event done and stores its outcome.
func (s Store) Complete(ctx context.Context, id int64, outcome any) error {
	data, err := encodePayload(outcome)
	if err != nil {
		return err
	}
	return s.finish(ctx, id, domain.EventDone, data, "")
}

// Fail marks a processing event failed with the error recorded.
func (s Store) Fail(ctx context.Context, id int64, cause error) error {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	return s.finish(ctx, id, domain.EventFailed, "", msg)
}

func (s Store) finish(ctx context.Context, id int64, status domain.EventStatus, outcome, errMsg string) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	res, err := tx.ExecContext(ctx, `UPDATE events SET status=?, outcome_json=?, error=?, completed_at=? WHERE id=? AND status=? AND (?='' OR worker_id=?)`,
		string(status), nullable(outcome), nullable(errMsg), s.now(), id, string(domain.EventProcessing), s.WorkerID, s.WorkerID)
	if err != nil {
		return fmt.Errorf("finish event %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		current, err := getEvent(ctx, tx, id)
		if err != nil {
			return err
		}
		if s.WorkerID != "" && current.WorkerID != s.WorkerID {
			return fmt.Errorf("event %d is %s under %q: %w", id, current.Status, current.WorkerID, ErrClaimLost)
		}
		if current.Status.Terminal() {
			return TerminalStateError{ID: id, Status: current.Status}
		}
		return fmt.Errorf("event %d is %s, not processing", id, current.Status)
	}
	return tx.Commit()
}

// RecoverStale returns processing events claimed before cutoff to pending.
func (s Store) RecoverStale(ctx context.Context, cutoff time.Time) ([]int64, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	rows, err := tx.QueryContext(ctx, `SELECT id FROM events WHERE status=? AND claimed_at IS NOT NULL AND claimed_at < ? ORDER BY id`,
		string(domain.EventProcessing), cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, err
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `UPDATE events SET status=?, claimed_at=NULL, worker_id=NULL WHERE id=? AND status=?`,
			string(domain.EventPending), id, string(domain.EventProcessing)); err != nil {
			return nil, fmt.Errorf("requeue event %d: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ids, nil
}

func (s Store) Get(ctx context.Context, id int64) (domain.Event, error) {
	return getEvent(ctx, s.DB, id)
}

type Filter struct {
	Kind   domain.EventKind
	Status domain.EventStatus
	Limit  int
	// BeforeID pages backwards from an id (exclusive).
	BeforeID int64
}

// List returns events newest first.
func (s Store) List(ctx context.Context, f Filter) ([]domain.Event, error) {
	var clauses []string
	var args []any
	if f.Kind != "" {
		clauses = append(clauses, "kind=?")
		args = append(args, string(f.Kind))
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, string(f.Status))
	}
	if f.BeforeID > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, f.BeforeID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + eventColumns + ` FROM events ` + where + ` ORDER BY id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		evt, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, evt)
	}
	return res, rows.Err()
}

// CountByStatus reports queue depth per status.
func (s Store) CountByStatus(ctx context.Context) (map[domain.EventStatus]int, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM events GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[domain.EventStatus]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[domain.EventStatus(status)] = n
	}
	return counts, rows.Err()
}

const eventColumns = `id,kind,payload_json,status,attempts,worker_id,outcome_json,error,created_at,claimed_at,completed_at`

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

func getEvent(ctx context.Context, q queryer, id int64) (domain.Event, error) {
	evt, err := scanEvent(q.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id=?`, id))
	if err == sql.ErrNoRows {
		return evt, ErrNotFound
	}
	return evt, err
}

func scanEvent(row scanner) (domain.Event, error) {
	var evt domain.Event
	var kind, status string
	var workerID, outcome, errMsg, claimedAt, completedAt sql.NullString
	if err := row.Scan(&evt.ID, &kind, &evt.Payload, &status, &evt.Attempts, &workerID, &outcome, &errMsg, &evt.CreatedAt, &claimedAt, &completedAt); err != nil {
		return evt, err
	}
	evt.Kind = domain.EventKind(kind)
	evt.Status = domain.EventStatus(status)
	evt.WorkerID = workerID.String
	evt.Outcome = outcome.String
	evt.Error = errMsg.String
	if claimedAt.Valid {
		evt.ClaimedAt = &claimedAt.String
	}
	if completedAt.Valid {
		evt.CompletedAt = &completedAt.String
	}
	return evt, nil
}

// Decode unmarshals an event payload into v.
func Decode(evt domain.Event, v any) error {
	if err := json.Unmarshal([]byte(evt.Payload), v); err != nil {
		return fmt.Errorf("decode %s payload: %w", evt.Kind, err)
	}
	return nil
}

func encodePayload(v any) (string, error) {
	if v == nil {
		return "{}", nil
	}
	if s, ok := v.(string); ok {
		if !json.Valid([]byte(s)) {
			return "", fmt.Errorf("payload is not valid JSON")
		}
		return s, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	return string(b), nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
