package calls

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"callcenter-dispatch/pkg/utils"
)

// PostgresRepo stores call_logs and call_sessions (migrations/001_dispatch.sql).
// Updates lock the row with SELECT ... FOR UPDATE inside utils.WithTx.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

type rowScanner interface {
	Scan(dest ...any) error
}

const logColumns = `id, tenant_id, direction, from_number, to_number, trunk, provider_call_id,
status, duration_seconds, disposition, flow_events, created_at, updated_at`

func scanLog(row rowScanner) (CallLog, error) {
	var (
		l    CallLog
		flow []byte
	)
	if err := row.Scan(
		&l.ID,
		&l.TenantID,
		&l.Direction,
		&l.From,
		&l.To,
		&l.Trunk,
		&l.ProviderCallID,
		&l.Status,
		&l.DurationSeconds,
		&l.Disposition,
		&flow,
		&l.CreatedAt,
		&l.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CallLog{}, ErrLogNotFound
		}
		return CallLog{}, err
	}
	if len(flow) > 0 {
		if err := json.Unmarshal(flow, &l.FlowEvents); err != nil {
			return CallLog{}, fmt.Errorf("decode flow events: %w", err)
		}
	}
	return l, nil
}

func (r *PostgresRepo) InsertLog(ctx context.Context, l CallLog) error {
	flow, err := json.Marshal(nonNilFlow(l.FlowEvents))
	if err != nil {
		return err
	}
	const q = `
INSERT INTO call_logs (
  id, tenant_id, direction, from_number, to_number, trunk, provider_call_id,
  status, duration_seconds, disposition, flow_events, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
`
	_, err = r.db.ExecContext(ctx, q,
		l.ID,
		l.TenantID,
		l.Direction,
		l.From,
		l.To,
		l.Trunk,
		l.ProviderCallID,
		l.Status,
		l.DurationSeconds,
		l.Disposition,
		flow,
		l.CreatedAt,
		l.UpdatedAt,
	)
	return err
}

func (r *PostgresRepo) GetLog(ctx context.Context, tenantID, id string) (CallLog, error) {
	q := `SELECT ` + logColumns + ` FROM call_logs WHERE tenant_id = $1 AND id = $2`
	return scanLog(r.db.QueryRowContext(ctx, q, tenantID, id))
}

func (r *PostgresRepo) GetLogByProviderID(ctx context.Context, providerCallID string) (CallLog, error) {
	if providerCallID == "" {
		return CallLog{}, ErrLogNotFound
	}
	q := `SELECT ` + logColumns + ` FROM call_logs WHERE provider_call_id = $1`
	return scanLog(r.db.QueryRowContext(ctx, q, providerCallID))
}

func (r *PostgresRepo) UpdateLog(ctx context.Context, tenantID, id string, fn func(*CallLog) error) (CallLog, error) {
	var out CallLog
	err := utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		q := `SELECT ` + logColumns + ` FROM call_logs WHERE tenant_id = $1 AND id = $2 FOR UPDATE`
		l, err := scanLog(tx.QueryRowContext(ctx, q, tenantID, id))
		if err != nil {
			return err
		}
		if err := fn(&l); err != nil {
			return err
		}
		flow, err := json.Marshal(nonNilFlow(l.FlowEvents))
		if err != nil {
			return err
		}
		const uq = `
UPDATE call_logs
SET provider_call_id = $3, status = $4, duration_seconds = $5, disposition = $6,
    flow_events = $7, trunk = $8, updated_at = $9
WHERE tenant_id = $1 AND id = $2
`
		if _, err := tx.ExecContext(ctx, uq,
			tenantID, id,
			l.ProviderCallID,
			l.Status,
			l.DurationSeconds,
			l.Disposition,
			flow,
			l.Trunk,
			l.UpdatedAt,
		); err != nil {
			return err
		}
		out = l
		return nil
	})
	return out, err
}

const sessionColumns = `id, tenant_id, call_log_id, agent_id, contact_id, queue_id, status,
started_at, answered_at, ended_at, duration_seconds, notes, disposition, transfer_history, updated_at`

func scanSession(row rowScanner) (Session, error) {
	var (
		s                         Session
		agentID, contactID, queue sql.NullString
		answeredAt, endedAt       sql.NullTime
		history                   []byte
	)
	if err := row.Scan(
		&s.ID,
		&s.TenantID,
		&s.CallLogID,
		&agentID,
		&contactID,
		&queue,
		&s.Status,
		&s.StartedAt,
		&answeredAt,
		&endedAt,
		&s.DurationSeconds,
		&s.Notes,
		&s.Disposition,
		&history,
		&s.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, ErrNotFound
		}
		return Session{}, err
	}
	s.AgentID = nullString(agentID)
	s.ContactID = nullString(contactID)
	s.QueueID = nullString(queue)
	if answeredAt.Valid {
		t := answeredAt.Time
		s.AnsweredAt = &t
	}
	if endedAt.Valid {
		t := endedAt.Time
		s.EndedAt = &t
	}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &s.TransferHistory); err != nil {
			return Session{}, fmt.Errorf("decode transfer history: %w", err)
		}
	}
	return s, nil
}

func (r *PostgresRepo) InsertSession(ctx context.Context, s Session) error {
	history, err := json.Marshal(nonNilHistory(s.TransferHistory))
	if err != nil {
		return err
	}
	const q = `
INSERT INTO call_sessions (
  id, tenant_id, call_log_id, agent_id, contact_id, queue_id, status,
  started_at, answered_at, ended_at, duration_seconds, notes, disposition, transfer_history, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
`
	_, err = r.db.ExecContext(ctx, q,
		s.ID,
		s.TenantID,
		s.CallLogID,
		s.AgentID,
		s.ContactID,
		s.QueueID,
		s.Status,
		s.StartedAt,
		s.AnsweredAt,
		s.EndedAt,
		s.DurationSeconds,
		s.Notes,
		s.Disposition,
		history,
		s.UpdatedAt,
	)
	return err
}

func (r *PostgresRepo) GetSession(ctx context.Context, tenantID, id string) (Session, error) {
	q := `SELECT ` + sessionColumns + ` FROM call_sessions WHERE tenant_id = $1 AND id = $2`
	return scanSession(r.db.QueryRowContext(ctx, q, tenantID, id))
}

func (r *PostgresRepo) UpdateSession(ctx context.Context, tenantID, id string, fn func(*Session) error) (Session, error) {
	var out Session
	err := utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		q := `SELECT ` + sessionColumns + ` FROM call_sessions WHERE tenant_id = $1 AND id = $2 FOR UPDATE`
		s, err := scanSession(tx.QueryRowContext(ctx, q, tenantID, id))
		if err != nil {
			return err
		}
		if err := fn(&s); err != nil {
			return err
		}
		history, err := json.Marshal(nonNilHistory(s.TransferHistory))
		if err != nil {
			return err
		}
		const uq = `
UPDATE call_sessions
SET agent_id = $3, contact_id = $4, status = $5, answered_at = $6, ended_at = $7,
    duration_seconds = $8, notes = $9, disposition = $10, transfer_history = $11, updated_at = $12
WHERE tenant_id = $1 AND id = $2
`
		if _, err := tx.ExecContext(ctx, uq,
			tenantID, id,
			s.AgentID,
			s.ContactID,
			s.Status,
			s.AnsweredAt,
			s.EndedAt,
			s.DurationSeconds,
			s.Notes,
			s.Disposition,
			history,
			s.UpdatedAt,
		); err != nil {
			return err
		}
		out = s
		return nil
	})
	return out, err
}

func (r *PostgresRepo) ListSessions(ctx context.Context, tenantID string, f SessionFilter) ([]Session, error) {
	where, args := sessionWhere(tenantID, f)
	q := `SELECT ` + sessionColumns + ` FROM call_sessions WHERE ` + where + ` ORDER BY started_at ASC, id ASC`
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Session, 0)
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) CountSessions(ctx context.Context, tenantID string, f SessionFilter) (int, error) {
	where, args := sessionWhere(tenantID, f)
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM call_sessions WHERE `+where, args...).Scan(&n)
	return n, err
}

func sessionWhere(tenantID string, f SessionFilter) (string, []any) {
	conds := []string{"tenant_id = $1"}
	args := []any{tenantID}
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if len(f.Statuses) > 0 {
		ss := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			ss[i] = string(s)
		}
		add("status = ANY($%d)", ss)
	}
	if len(f.AgentIDs) > 0 {
		add("agent_id = ANY($%d)", f.AgentIDs)
	}
	if f.QueueID != "" {
		add("queue_id = $%d", f.QueueID)
	}
	if f.CallLogID != "" {
		add("call_log_id = $%d", f.CallLogID)
	}
	if f.Unassigned {
		conds = append(conds, "agent_id IS NULL")
	}
	if !f.StartedFrom.IsZero() {
		add("started_at >= $%d", f.StartedFrom)
	}
	if !f.StartedTo.IsZero() {
		add("started_at < $%d", f.StartedTo)
	}
	return strings.Join(conds, " AND "), args
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func nonNilFlow(v []FlowEvent) []FlowEvent {
	if v == nil {
		return []FlowEvent{}
	}
	return v
}

func nonNilHistory(v []TransferEntry) []TransferEntry {
	if v == nil {
		return []TransferEntry{}
	}
	return v
}
