// Package access decides whether a train may touch the station's data.
package access

import (
	"context"

	"fairdatastation/internal/apperr"
)

// Checker is consulted before any data engine is queried. A nil error
// grants access.
type Checker interface {
	CheckAccess(ctx context.Context) error
}

// Basic grants every request.
type Basic struct{}

func (Basic) CheckAccess(context.Context) error {
	return nil
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context) error

func (f CheckerFunc) CheckAccess(ctx context.Context) error {
	return f(ctx)
}

// Deny refuses every request with reason.
func Deny(reason string) Checker {
	return CheckerFunc(func(context.Context) error {
		return apperr.AccessDenied(nil, "%s", reason)
	})
}
