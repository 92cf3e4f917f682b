// Package contacts is a read-only adapter over the tenant's contact directory.
package contacts

import (
	"context"
	"strings"
)

type Contact struct {
	ID       string `json:"id" db:"id"`
	TenantID string `json:"tenantId" db:"tenant_id"`
	Name     string `json:"name" db:"name"`
	Phone    string `json:"phone" db:"phone"`
	Email    string `json:"email,omitempty" db:"email"`
	Company  string `json:"company,omitempty" db:"company"`
}

// Directory looks contacts up. A miss is (nil, nil); errors mean the lookup failed.
type Directory interface {
	Get(ctx context.Context, tenantID, id string) (*Contact, error)
	FindByPhone(ctx context.Context, tenantID, phone string) (*Contact, error)
}

// NormalizePhone reduces a dialable string to E.164-ish form: formatting is
// stripped, a 00 prefix becomes +, and bare 10/11 digit NANP numbers get +1.
// Non-numeric input such as "anonymous" returns "".
func NormalizePhone(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	plus := strings.HasPrefix(s, "+")
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '-', r == '(', r == ')', r == '.', r == '+':
		default:
			return ""
		}
	}
	digits := b.String()
	if digits == "" {
		return ""
	}
	switch {
	case plus:
		return "+" + digits
	case strings.HasPrefix(digits, "00"):
		return "+" + digits[2:]
	case len(digits) == 10:
		return "+1" + digits
	case len(digits) == 11 && digits[0] == '1':
		return "+" + digits
	default:
		return digits
	}
}
