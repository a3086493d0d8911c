package auth

import (
	"context"
	"errors"
)

type ctxKey int

const (
	ctxUserID ctxKey = iota
	ctxOrganizationID
)

func WithIdentity(ctx context.Context, userID, organizationID int64) context.Context {
	ctx = context.WithValue(ctx, ctxUserID, userID)
	ctx = context.WithValue(ctx, ctxOrganizationID, organizationID)
	return ctx
}

func UserID(ctx context.Context) (int64, error) {
	if v, ok := ctx.Value(ctxUserID).(int64); ok && v > 0 {
		return v, nil
	}
	return 0, errors.New("user_id not in context")
}

func OrganizationID(ctx context.Context) (int64, error) {
	if v, ok := ctx.Value(ctxOrganizationID).(int64); ok && v > 0 {
		return v, nil
	}
	return 0, errors.New("organization_id not in context")
}
