package auth

import (
	"context"
	"errors"
)

type contextKey string

const userIDKey contextKey = "user_id"

// WithUserID attaches the authenticated caller's user id to the context.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// GetUserID retrieves the authenticated caller's user id from the context.
func GetUserID(ctx context.Context) (string, error) {
	id, ok := ctx.Value(userIDKey).(string)
	if !ok || id == "" {
		return "", errors.New("auth: no user id in context")
	}
	return id, nil
}

// MustGetUserID panics if no user id is present. Only safe downstream of
// NewMiddleware, which guarantees one on every route that is neither
// public nor reached through a presigned URL.
func MustGetUserID(ctx context.Context) string {
	id, err := GetUserID(ctx)
	if err != nil {
		panic(err)
	}
	return id
}
