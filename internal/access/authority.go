// Package access holds the single owner identity that gates administrative
// operations.
package access

import (
	"context"
	"errors"
	"time"

	"bondledger/pkg/domain"
	dErrors "bondledger/pkg/domain-errors"
	"bondledger/pkg/platform/sentinel"
)

// OwnerStore persists the owner identity.
type OwnerStore interface {
	Get(ctx context.Context) (domain.CallerID, error)
	Set(ctx context.Context, owner domain.CallerID, now time.Time) error
}

// Authority answers "is this caller the owner" and moves ownership.
type Authority struct {
	store OwnerStore
}

func NewAuthority(store OwnerStore) *Authority {
	return &Authority{store: store}
}

// Bootstrap installs owner when no owner is stored yet and returns the
// effective owner. A stored owner always wins over the bootstrap value.
func (a *Authority) Bootstrap(ctx context.Context, owner domain.CallerID, now time.Time) (domain.CallerID, error) {
	current, err := a.store.Get(ctx)
	if err == nil {
		return current, nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return domain.NullCaller, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read owner")
	}
	if owner.IsNull() {
		return domain.NullCaller, dErrors.New(dErrors.CodeInvalidParameter, "owner must not be the null identity")
	}
	if err := a.store.Set(ctx, owner, now); err != nil {
		return domain.NullCaller, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store owner")
	}
	return owner, nil
}

func (a *Authority) Owner(ctx context.Context) (domain.CallerID, error) {
	owner, err := a.store.Get(ctx)
	if errors.Is(err, sentinel.ErrNotFound) {
		return domain.NullCaller, dErrors.New(dErrors.CodeNotFound, "owner not configured")
	}
	if err != nil {
		return domain.NullCaller, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read owner")
	}
	return owner, nil
}

// RequireOwner fails with unauthorized unless caller is the owner.
func (a *Authority) RequireOwner(ctx context.Context, caller domain.CallerID) error {
	owner, err := a.Owner(ctx)
	if err != nil {
		return err
	}
	if caller.IsNull() || caller != owner {
		return dErrors.New(dErrors.CodeUnauthorized, "caller is not the owner")
	}
	return nil
}

// TransferOwnership hands ownership to newOwner and returns the previous owner.
func (a *Authority) TransferOwnership(ctx context.Context, caller, newOwner domain.CallerID, now time.Time) (domain.CallerID, error) {
	if err := a.RequireOwner(ctx, caller); err != nil {
		return domain.NullCaller, err
	}
	if newOwner.IsNull() {
		return domain.NullCaller, dErrors.New(dErrors.CodeInvalidParameter, "new owner must not be the null identity")
	}
	if err := a.store.Set(ctx, newOwner, now); err != nil {
		return domain.NullCaller, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store owner")
	}
	return caller, nil
}
