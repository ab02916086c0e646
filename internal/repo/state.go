package repo

import (
	"context"
	"database/sql"

	"procureiq/internal/domain"
)

// GetSystemState returns the singleton row, or normal/0 when it was never
// written.
func (r Repo) GetSystemState(ctx context.Context, tx *sql.Tx) (domain.SystemState, error) {
	var st domain.SystemState
	var mode string
	err := r.q(tx).QueryRowContext(ctx, `SELECT mode,severity,rolling_confidence,samples,last_updated FROM system_state WHERE id=1`).
		Scan(&mode, &st.Severity, &st.RollingConfidence, &st.Samples, &st.LastUpdated)
	if err == sql.ErrNoRows {
		return domain.SystemState{Mode: domain.ModeNormal, RollingConfidence: 100}, nil
	}
	st.Mode = domain.Mode(mode)
	return st, err
}

func (r Repo) PutSystemState(ctx context.Context, tx *sql.Tx, st domain.SystemState) (domain.SystemState, error) {
	st.LastUpdated = r.now()
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO system_state(id,mode,severity,rolling_confidence,samples,last_updated) VALUES (1,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET mode=excluded.mode, severity=excluded.severity, rolling_confidence=excluded.rolling_confidence, samples=excluded.samples, last_updated=excluded.last_updated`,
		string(st.Mode), st.Severity, st.RollingConfidence, st.Samples, st.LastUpdated)
	return st, err
}

// Heartbeat records that a worker is alive and how many cycles it ran.
func (r Repo) Heartbeat(ctx context.Context, workerID, status string, cycles int64) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO agent_heartbeats(worker_id,status,cycles,last_heartbeat) VALUES (?,?,?,?)
		ON CONFLICT(worker_id) DO UPDATE SET status=excluded.status, cycles=excluded.cycles, last_heartbeat=excluded.last_heartbeat`,
		workerID, status, cycles, r.now())
	return err
}

func (r Repo) ListHeartbeats(ctx context.Context) ([]domain.Heartbeat, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT worker_id,status,cycles,last_heartbeat FROM agent_heartbeats ORDER BY worker_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Heartbeat
	for rows.Next() {
		var h domain.Heartbeat
		if err := rows.Scan(&h.WorkerID, &h.Status, &h.Cycles, &h.LastHeartbeat); err != nil {
			return nil, err
		}
		res = append(res, h)
	}
	return res, rows.Err()
}

type AuditFilters struct {
	Type       string
	EntityKind string
	EntityID   string
	Limit      int
}

func (r Repo) ListAudit(ctx context.Context, f AuditFilters) ([]domain.AuditEntry, error) {
	query := `SELECT id,ts,type,entity_kind,entity_id,actor_id,payload_json FROM audit_log WHERE 1=1`
	var args []any
	if f.Type != "" {
		query += " AND type=?"
		args = append(args, f.Type)
	}
	if f.EntityKind != "" {
		query += " AND entity_kind=?"
		args = append(args, f.EntityKind)
	}
	if f.EntityID != "" {
		query += " AND entity_id=?"
		args = append(args, f.EntityID)
	}
	query += " ORDER BY id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		var entityID sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &entityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		e.EntityID = entityID.String
		res = append(res, e)
	}
	return res, rows.Err()
}
