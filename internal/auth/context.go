package auth

import (
	"context"
	"errors"
)

type ctxKey int

const (
	ctxUserID ctxKey = iota
	ctxTenantID
	ctxRole
)

var ErrNoIdentity = errors.New("identity not in context")

func WithIdentity(ctx context.Context, id Identity) context.Context {
	ctx = context.WithValue(ctx, ctxUserID, id.UserID)
	ctx = context.WithValue(ctx, ctxTenantID, id.TenantID)
	ctx = context.WithValue(ctx, ctxRole, id.Role)
	return ctx
}

func UserID(ctx context.Context) (string, error) {
	if s, ok := ctx.Value(ctxUserID).(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New("user_id not in context")
}

func TenantID(ctx context.Context) (string, error) {
	if s, ok := ctx.Value(ctxTenantID).(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New("tenant_id not in context")
}

func Role(ctx context.Context) (string, error) {
	if s, ok := ctx.Value(ctxRole).(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New("role not in context")
}

// FromContext returns the full identity or ErrNoIdentity if any part is missing.
func FromContext(ctx context.Context) (Identity, error) {
	uid, err1 := UserID(ctx)
	tid, err2 := TenantID(ctx)
	role, err3 := Role(ctx)
	if err1 != nil || err2 != nil || err3 != nil {
		return Identity{}, ErrNoIdentity
	}
	return Identity{UserID: uid, TenantID: tid, Role: role}, nil
}
