// Package userctx carries the authenticated user through request context.
package userctx

import (
	"context"

	"github.com/nkiryanov/authhub/internal/models"
)

type userKey struct{}

// Context with the user resolved by auth middleware
func New(ctx context.Context, u models.User) context.Context {
	return context.WithValue(ctx, userKey{}, u)
}

// False if request has not passed auth middleware
func FromContext(ctx context.Context) (models.User, bool) {
	u, ok := ctx.Value(userKey{}).(models.User)
	return u, ok
}
