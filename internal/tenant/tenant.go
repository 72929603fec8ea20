// Package tenant provides multi-tenant isolation primitives.
//
// Every public entry point of the retrieval core (ingest, retrieve, delete)
// requires a pre-validated tenant identifier. Authentication happens
// upstream; this package only enforces isolation once an identifier is
// supplied. The model is fail-closed: a missing or empty tenant is an
// error, never an unfiltered query.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMissingTenant is returned when tenant info is absent from a
	// context or an operation is attempted without a tenant scope. This is
	// a programming-contract violation upstream, not a retryable failure.
	ErrMissingTenant = errors.New("tenant missing from request scope")

	// ErrInvalidTenant is returned when a tenant identifier is empty or
	// malformed.
	ErrInvalidTenant = errors.New("invalid tenant identifier")

	// ErrTenantMismatch is returned when data crossing a storage boundary
	// carries a tenant id different from the request scope. This indicates
	// an isolation bug upstream and is fatal, never retried.
	ErrTenantMismatch = errors.New("tenant scope mismatch")
)

// Info holds the tenant scope for a request.
type Info struct {
	// TenantID is the opaque account/organization identifier (required).
	TenantID string
}

// Validate checks that the tenant identifier is present and well formed.
func (i Info) Validate() error {
	if strings.TrimSpace(i.TenantID) == "" {
		return ErrInvalidTenant
	}
	return nil
}

// contextKey is the context key for Info.
type contextKey struct{}

// ContextWith adds tenant Info to a context.
func ContextWith(ctx context.Context, info Info) context.Context {
	return context.WithValue(ctx, contextKey{}, info)
}

// FromContext extracts tenant Info from a context.
// Returns ErrMissingTenant if not present - fail closed.
func FromContext(ctx context.Context) (Info, error) {
	val := ctx.Value(contextKey{})
	if val == nil {
		return Info{}, ErrMissingTenant
	}
	info, ok := val.(Info)
	if !ok {
		return Info{}, ErrMissingTenant
	}
	return info, nil
}

// Validate checks a bare tenant identifier as supplied to a public entry
// point.
func Validate(tenantID string) error {
	return Info{TenantID: tenantID}.Validate()
}

// CheckContext verifies that any tenant scope carried by the context
// matches the explicit identifier of the operation. A context without a
// scope passes, since the explicit identifier is authoritative; a
// conflicting scope means two tenants got crossed somewhere upstream and
// fails closed with ErrTenantMismatch.
func CheckContext(ctx context.Context, tenantID string) error {
	info, err := FromContext(ctx)
	if err != nil {
		return nil
	}
	if info.TenantID != tenantID {
		return fmt.Errorf("%w: request scoped to %q, operation targets %q",
			ErrTenantMismatch, info.TenantID, tenantID)
	}
	return nil
}
