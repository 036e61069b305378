// Package engine coordinates gift-state mutations: it owns the per-wishlist
// commit ordering and turns every committed mutation into exactly one fanout
// event.
package engine

import (
	"context"
	"time"

	apperrors "github.com/perennial-labs/giftsync/internal/platform/errors"
	"github.com/perennial-labs/giftsync/internal/services/registry/fanout"
	"github.com/perennial-labs/giftsync/internal/services/registry/storage"
)

// ErrInvalidAmount indicates a contribution amount of zero or less.
var ErrInvalidAmount = apperrors.New(apperrors.CodeContributionInvalidAmount, "contribution amount must be positive")

// ErrInvalidActor indicates a blank claimant or contributor identity.
var ErrInvalidActor = apperrors.New(apperrors.CodeInvalidActor, "actor identity is required")

// Engine binds the state store to the fanout hub under the per-wishlist
// ordering discipline: for any one wishlist, events are published in the
// order their transactions committed.
type Engine struct {
	store         storage.GiftStore
	hub           *fanout.Hub
	allowOverfund bool
	locks         *wishlistLocks
	now           func() time.Time
}

// New returns an engine over the given store and hub. allowOverfund permits
// contributions past an item's funding target.
func New(store storage.GiftStore, hub *fanout.Hub, allowOverfund bool) *Engine {
	return &Engine{
		store:         store,
		hub:           hub,
		allowOverfund: allowOverfund,
		locks:         newWishlistLocks(),
		now:           time.Now,
	}
}

// WishlistBySlug resolves a public wishlist by its share slug.
func (e *Engine) WishlistBySlug(ctx context.Context, shareSlug string) (storage.WishlistRecord, error) {
	return e.store.GetWishlistBySlug(ctx, shareSlug)
}

// Snapshot returns consistent item states for a wishlist, for full-state
// resynchronization after connect or reconnect.
func (e *Engine) Snapshot(ctx context.Context, wishlistID string) ([]storage.ItemState, error) {
	return e.store.ListItemStates(ctx, wishlistID)
}

// ItemState returns one item's consistent funding snapshot.
func (e *Engine) ItemState(ctx context.Context, itemID string) (storage.ItemState, error) {
	return e.store.GetItemState(ctx, itemID)
}

// Contributions returns the full ledger for one item.
func (e *Engine) Contributions(ctx context.Context, itemID string) ([]storage.ContributionRecord, error) {
	return e.store.ListContributions(ctx, itemID)
}

// retryOnConflict runs op and repeats it once when the store reports a
// transient transaction conflict. Business conflicts pass through untouched.
func retryOnConflict(op func() error) error {
	err := op()
	if err != nil && apperrors.CodeOf(err) == apperrors.CodeTransactionConflict {
		err = op()
	}
	return err
}
