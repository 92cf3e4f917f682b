package queues

import "context"

type Repository interface {
	Insert(ctx context.Context, q Queue) error
	Get(ctx context.Context, tenantID, id string) (Queue, error)
	GetByNumber(ctx context.Context, tenantID, number string) (Queue, error)
	// List returns queues ordered by number.
	List(ctx context.Context, tenantID string, activeOnly bool) ([]Queue, error)
	// Update persists q; it returns ErrDuplicateNumber when the number is taken.
	Update(ctx context.Context, q Queue) error
}
