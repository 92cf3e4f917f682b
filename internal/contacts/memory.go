package contacts

import (
	"context"
	"sync"
)

// MemoryDirectory is an in-memory Directory for tests and local runs.
type MemoryDirectory struct {
	mu       sync.RWMutex
	contacts map[string]Contact
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{contacts: make(map[string]Contact)}
}

// Add stores c, normalizing its phone number.
func (d *MemoryDirectory) Add(c Contact) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c.Phone = NormalizePhone(c.Phone)
	d.contacts[c.ID] = c
}

func (d *MemoryDirectory) Get(ctx context.Context, tenantID, id string) (*Contact, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.contacts[id]
	if !ok || c.TenantID != tenantID {
		return nil, nil
	}
	return &c, nil
}

func (d *MemoryDirectory) FindByPhone(ctx context.Context, tenantID, phone string) (*Contact, error) {
	n := NormalizePhone(phone)
	if n == "" {
		return nil, nil
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, c := range d.contacts {
		if c.TenantID == tenantID && c.Phone == n {
			return &c, nil
		}
	}
	return nil, nil
}
