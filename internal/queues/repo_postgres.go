package queues

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"callcenter-dispatch/pkg/utils"
)

// PostgresRepo stores call_queues. Membership and settings are JSONB columns.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const numberConstraint = "call_queues_tenant_number_key"

const queueColumns = `id, tenant_id, name, number, agent_ids, active, settings, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQueue(row rowScanner) (Queue, error) {
	var (
		q                 Queue
		members, settings []byte
	)
	if err := row.Scan(&q.ID, &q.TenantID, &q.Name, &q.Number, &members, &q.Active, &settings, &q.CreatedAt, &q.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Queue{}, ErrNotFound
		}
		return Queue{}, err
	}
	if err := json.Unmarshal(members, &q.AgentIDs); err != nil {
		return Queue{}, fmt.Errorf("decode queue members: %w", err)
	}
	if err := json.Unmarshal(settings, &q.Settings); err != nil {
		return Queue{}, fmt.Errorf("decode queue settings: %w", err)
	}
	return q, nil
}

func encode(q Queue) (members, settings []byte, err error) {
	ids := q.AgentIDs
	if ids == nil {
		ids = []string{}
	}
	if members, err = json.Marshal(ids); err != nil {
		return nil, nil, err
	}
	if settings, err = json.Marshal(q.Settings); err != nil {
		return nil, nil, err
	}
	return members, settings, nil
}

func (r *PostgresRepo) Insert(ctx context.Context, q Queue) error {
	members, settings, err := encode(q)
	if err != nil {
		return err
	}
	const stmt = `
INSERT INTO call_queues (id, tenant_id, name, number, agent_ids, active, settings, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
`
	_, err = r.db.ExecContext(ctx, stmt, q.ID, q.TenantID, q.Name, q.Number, members, q.Active, settings, q.CreatedAt, q.UpdatedAt)
	if utils.IsUniqueViolation(err, numberConstraint) {
		return ErrDuplicateNumber
	}
	return err
}

func (r *PostgresRepo) Get(ctx context.Context, tenantID, id string) (Queue, error) {
	q := `SELECT ` + queueColumns + ` FROM call_queues WHERE tenant_id = $1 AND id = $2`
	return scanQueue(r.db.QueryRowContext(ctx, q, tenantID, id))
}

func (r *PostgresRepo) GetByNumber(ctx context.Context, tenantID, number string) (Queue, error) {
	q := `SELECT ` + queueColumns + ` FROM call_queues WHERE tenant_id = $1 AND number = $2`
	return scanQueue(r.db.QueryRowContext(ctx, q, tenantID, number))
}

func (r *PostgresRepo) List(ctx context.Context, tenantID string, activeOnly bool) ([]Queue, error) {
	q := `SELECT ` + queueColumns + ` FROM call_queues WHERE tenant_id = $1 AND (active OR NOT $2) ORDER BY number`
	rows, err := r.db.QueryContext(ctx, q, tenantID, activeOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Queue, 0)
	for rows.Next() {
		item, err := scanQueue(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) Update(ctx context.Context, q Queue) error {
	members, settings, err := encode(q)
	if err != nil {
		return err
	}
	const stmt = `
UPDATE call_queues
SET name = $3, number = $4, agent_ids = $5, active = $6, settings = $7, updated_at = $8
WHERE tenant_id = $1 AND id = $2
`
	res, err := r.db.ExecContext(ctx, stmt, q.TenantID, q.ID, q.Name, q.Number, members, q.Active, settings, q.UpdatedAt)
	if utils.IsUniqueViolation(err, numberConstraint) {
		return ErrDuplicateNumber
	}
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
