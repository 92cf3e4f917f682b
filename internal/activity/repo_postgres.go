package activity

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

// PostgresRepo writes agent_activity_logs. The table has an INSERT-only policy.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Append(ctx context.Context, e Entry) error {
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("encode activity metadata: %w", err)
	}
	const q = `
INSERT INTO agent_activity_logs (id, tenant_id, agent_id, type, metadata, created_at)
VALUES ($1,$2,$3,$4,$5,$6)
`
	_, err = r.db.ExecContext(ctx, q, e.ID, e.TenantID, e.AgentID, e.Type, meta, e.CreatedAt)
	return err
}

func (r *PostgresRepo) List(ctx context.Context, tenantID string, f Filter) ([]Entry, error) {
	conds := []string{"tenant_id = $1"}
	args := []any{tenantID}
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if len(f.AgentIDs) > 0 {
		add("agent_id = ANY($%d)", f.AgentIDs)
	}
	if len(f.Types) > 0 {
		types := make([]string, len(f.Types))
		for i, t := range f.Types {
			types[i] = string(t)
		}
		add("type = ANY($%d)", types)
	}
	if !f.From.IsZero() {
		add("created_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("created_at < $%d", f.To)
	}

	q := `SELECT id, tenant_id, agent_id, type, metadata, created_at FROM agent_activity_logs WHERE ` +
		strings.Join(conds, " AND ") + ` ORDER BY created_at ASC, id ASC`
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Entry, 0)
	for rows.Next() {
		var (
			e    Entry
			meta []byte
		)
		if err := rows.Scan(&e.ID, &e.TenantID, &e.AgentID, &e.Type, &meta, &e.CreatedAt); err != nil {
			return nil, err
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &e.Metadata); err != nil {
				return nil, fmt.Errorf("decode activity metadata: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
