package contacts

import (
	"context"
	"database/sql"
	"errors"
)

// PostgresDirectory reads the contacts table owned by the CRM service.
// It expects phone_normalized to hold NormalizePhone(phone).
type PostgresDirectory struct {
	db *sql.DB
}

func NewPostgresDirectory(db *sql.DB) *PostgresDirectory { return &PostgresDirectory{db: db} }

const contactColumns = `id, tenant_id, name, phone, COALESCE(email, ''), COALESCE(company, '')`

func scanContact(row *sql.Row) (*Contact, error) {
	var c Contact
	if err := row.Scan(&c.ID, &c.TenantID, &c.Name, &c.Phone, &c.Email, &c.Company); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

func (d *PostgresDirectory) Get(ctx context.Context, tenantID, id string) (*Contact, error) {
	q := `SELECT ` + contactColumns + ` FROM contacts WHERE tenant_id = $1 AND id = $2`
	return scanContact(d.db.QueryRowContext(ctx, q, tenantID, id))
}

func (d *PostgresDirectory) FindByPhone(ctx context.Context, tenantID, phone string) (*Contact, error) {
	n := NormalizePhone(phone)
	if n == "" {
		return nil, nil
	}
	q := `SELECT ` + contactColumns + ` FROM contacts WHERE tenant_id = $1 AND phone_normalized = $2 ORDER BY id LIMIT 1`
	return scanContact(d.db.QueryRowContext(ctx, q, tenantID, n))
}
