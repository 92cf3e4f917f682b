package agents

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"callcenter-dispatch/pkg/utils"
)

// PostgresRepo stores agents in agent_extensions (migrations/001_dispatch.sql).
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const agentColumns = `id, tenant_id, user_id, extension, credential_hash, active, status,
current_call_id, settings, status_changed_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgent(row rowScanner) (Agent, error) {
	var (
		a        Agent
		current  sql.NullString
		settings []byte
	)
	if err := row.Scan(
		&a.ID,
		&a.TenantID,
		&a.UserID,
		&a.Extension,
		&a.CredentialHash,
		&a.Active,
		&a.Status,
		&current,
		&settings,
		&a.StatusChangedAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Agent{}, ErrNotFound
		}
		return Agent{}, err
	}
	if current.Valid {
		v := current.String
		a.CurrentCallID = &v
	}
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &a.Settings); err != nil {
			return Agent{}, fmt.Errorf("decode agent settings: %w", err)
		}
	}
	return a, nil
}

func (r *PostgresRepo) Insert(ctx context.Context, a Agent) error {
	settings, err := json.Marshal(a.Settings)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO agent_extensions (
  id, tenant_id, user_id, extension, credential_hash, active, status,
  current_call_id, settings, status_changed_at, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
`
	_, err = r.db.ExecContext(ctx, q,
		a.ID,
		a.TenantID,
		a.UserID,
		a.Extension,
		a.CredentialHash,
		a.Active,
		a.Status,
		a.CurrentCallID,
		settings,
		a.StatusChangedAt,
		a.CreatedAt,
		a.UpdatedAt,
	)
	switch {
	case utils.IsUniqueViolation(err, "agent_extensions_tenant_extension_key"):
		return ErrDuplicateExtension
	case utils.IsUniqueViolation(err, "agent_extensions_tenant_user_key"):
		return ErrDuplicateUser
	}
	return err
}

func (r *PostgresRepo) Get(ctx context.Context, tenantID, id string) (Agent, error) {
	q := `SELECT ` + agentColumns + ` FROM agent_extensions WHERE tenant_id = $1 AND id = $2`
	return scanAgent(r.db.QueryRowContext(ctx, q, tenantID, id))
}

func (r *PostgresRepo) GetByUser(ctx context.Context, tenantID, userID string) (Agent, error) {
	q := `SELECT ` + agentColumns + ` FROM agent_extensions WHERE tenant_id = $1 AND user_id = $2`
	return scanAgent(r.db.QueryRowContext(ctx, q, tenantID, userID))
}

func (r *PostgresRepo) GetByExtension(ctx context.Context, tenantID, extension string) (Agent, error) {
	q := `SELECT ` + agentColumns + ` FROM agent_extensions WHERE tenant_id = $1 AND extension = $2`
	return scanAgent(r.db.QueryRowContext(ctx, q, tenantID, extension))
}

func (r *PostgresRepo) List(ctx context.Context, tenantID string, f ListFilter) ([]Agent, error) {
	var (
		b    strings.Builder
		args = []any{tenantID}
	)
	b.WriteString(`SELECT ` + agentColumns + ` FROM agent_extensions WHERE tenant_id = $1`)
	if f.ActiveOnly {
		b.WriteString(` AND active`)
	}
	if len(f.Statuses) > 0 {
		args = append(args, statusStrings(f.Statuses))
		fmt.Fprintf(&b, ` AND status = ANY($%d)`, len(args))
	}
	if len(f.UserIDs) > 0 {
		args = append(args, f.UserIDs)
		fmt.Fprintf(&b, ` AND user_id = ANY($%d)`, len(args))
	}
	b.WriteString(` ORDER BY extension ASC, id ASC`)

	rows, err := r.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Agent, 0)
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) SetStatus(ctx context.Context, tenantID, id string, status Status, now time.Time) (Agent, error) {
	q := `
UPDATE agent_extensions
SET status = $3,
    status_changed_at = CASE WHEN status <> $3 THEN $4 ELSE status_changed_at END,
    updated_at = $4
WHERE tenant_id = $1 AND id = $2
RETURNING ` + agentColumns
	return scanAgent(r.db.QueryRowContext(ctx, q, tenantID, id, status, now))
}

func (r *PostgresRepo) SetCurrentCall(ctx context.Context, tenantID, id string, sessionID *string, now time.Time) (Agent, error) {
	q := `
UPDATE agent_extensions
SET current_call_id = $3, updated_at = $4
WHERE tenant_id = $1 AND id = $2
RETURNING ` + agentColumns
	return scanAgent(r.db.QueryRowContext(ctx, q, tenantID, id, sessionID, now))
}

func (r *PostgresRepo) Claim(ctx context.Context, tenantID, id, sessionID string, now time.Time) (Agent, error) {
	q := `
UPDATE agent_extensions
SET status = 'ON_CALL',
    current_call_id = $3,
    status_changed_at = $4,
    updated_at = $4
WHERE tenant_id = $1 AND id = $2
  AND active
  AND current_call_id IS NULL
  AND status = 'AVAILABLE'
RETURNING ` + agentColumns
	a, err := scanAgent(r.db.QueryRowContext(ctx, q, tenantID, id, sessionID, now))
	return r.conditional(ctx, tenantID, id, a, err)
}

func (r *PostgresRepo) Attach(ctx context.Context, tenantID, id, sessionID string, now time.Time) (Agent, error) {
	q := `
UPDATE agent_extensions
SET status = 'ON_CALL',
    status_changed_at = CASE WHEN status <> 'ON_CALL' THEN $4 ELSE status_changed_at END,
    updated_at = $4
WHERE tenant_id = $1 AND id = $2
  AND current_call_id = $3
RETURNING ` + agentColumns
	a, err := scanAgent(r.db.QueryRowContext(ctx, q, tenantID, id, sessionID, now))
	return r.conditional(ctx, tenantID, id, a, err)
}

func (r *PostgresRepo) CompareAndSetStatus(ctx context.Context, tenantID, id string, from, to Status, requireIdle bool, now time.Time) (Agent, error) {
	q := `
UPDATE agent_extensions
SET status = $4,
    status_changed_at = CASE WHEN status <> $4 THEN $6 ELSE status_changed_at END,
    updated_at = $6
WHERE tenant_id = $1 AND id = $2
  AND status = $3
  AND (NOT $5 OR current_call_id IS NULL)
RETURNING ` + agentColumns
	a, err := scanAgent(r.db.QueryRowContext(ctx, q, tenantID, id, from, to, requireIdle, now))
	return r.conditional(ctx, tenantID, id, a, err)
}

func (r *PostgresRepo) Release(ctx context.Context, tenantID, id, sessionID string, to Status, now time.Time) (Agent, error) {
	q := `
UPDATE agent_extensions
SET status = $4,
    current_call_id = NULL,
    status_changed_at = CASE WHEN status <> $4 THEN $5 ELSE status_changed_at END,
    updated_at = $5
WHERE tenant_id = $1 AND id = $2
  AND (current_call_id IS NULL OR current_call_id = $3)
RETURNING ` + agentColumns
	a, err := scanAgent(r.db.QueryRowContext(ctx, q, tenantID, id, sessionID, to, now))
	return r.conditional(ctx, tenantID, id, a, err)
}

func (r *PostgresRepo) UpdateSettings(ctx context.Context, tenantID, id string, s Settings, now time.Time) (Agent, error) {
	settings, err := json.Marshal(s)
	if err != nil {
		return Agent{}, err
	}
	q := `
UPDATE agent_extensions SET settings = $3, updated_at = $4
WHERE tenant_id = $1 AND id = $2
RETURNING ` + agentColumns
	return scanAgent(r.db.QueryRowContext(ctx, q, tenantID, id, settings, now))
}

func (r *PostgresRepo) SetActive(ctx context.Context, tenantID, id string, active bool, now time.Time) (Agent, error) {
	q := `
UPDATE agent_extensions
SET active = $3,
    status = CASE WHEN $3 THEN status ELSE 'OFFLINE' END,
    status_changed_at = CASE WHEN NOT $3 AND status <> 'OFFLINE' THEN $4 ELSE status_changed_at END,
    updated_at = $4
WHERE tenant_id = $1 AND id = $2
RETURNING ` + agentColumns
	return scanAgent(r.db.QueryRowContext(ctx, q, tenantID, id, active, now))
}

// conditional turns a zero-row conditional update into ErrNotFound or
// ErrClaimConflict depending on whether the row exists.
func (r *PostgresRepo) conditional(ctx context.Context, tenantID, id string, a Agent, err error) (Agent, error) {
	if !errors.Is(err, ErrNotFound) {
		return a, err
	}
	var exists bool
	const q = `SELECT EXISTS (SELECT 1 FROM agent_extensions WHERE tenant_id = $1 AND id = $2)`
	if qerr := r.db.QueryRowContext(ctx, q, tenantID, id).Scan(&exists); qerr != nil {
		return Agent{}, qerr
	}
	if exists {
		return Agent{}, ErrClaimConflict
	}
	return Agent{}, ErrNotFound
}

func statusStrings(ss []Status) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = string(s)
	}
	return out
}
