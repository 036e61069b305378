// Package storage defines persistence contracts for gift registry state.
package storage

import (
	"context"
	"time"

	apperrors "github.com/perennial-labs/giftsync/internal/platform/errors"
	"github.com/perennial-labs/giftsync/internal/services/registry/domain/gift"
)

// ErrNotFound indicates a requested persistence record is missing.
// Callers use this to differentiate between legitimate "no such entity" states
// and transport or data corruption failures.
var ErrNotFound = apperrors.New(apperrors.CodeNotFound, "record not found")

// ErrAlreadyReserved indicates an insert tried to create a second active
// reservation for the same item, which would violate the single-active-claim
// rule.
var ErrAlreadyReserved = apperrors.New(apperrors.CodeGiftAlreadyReserved, "item already has an active reservation")

// ErrNotReserved indicates a release targeted an item with no active
// reservation.
var ErrNotReserved = apperrors.New(apperrors.CodeGiftNotReserved, "item has no active reservation")

// ErrForbidden indicates the caller is neither the reservation claimant nor
// the wishlist owner.
var ErrForbidden = apperrors.New(apperrors.CodeReleaseForbidden, "caller may not release this reservation")

// ErrWrongMode indicates the item is locked into the opposite funding mode:
// reserving an item that has contributions, or contributing to a reserved item.
var ErrWrongMode = apperrors.New(apperrors.CodeGiftWrongMode, "item funding mode disallows this operation")

// ErrAlreadyFunded indicates a contribution arrived after the target was met
// and over-funding is disabled.
var ErrAlreadyFunded = apperrors.New(apperrors.CodeGiftAlreadyFunded, "item funding target is already met")

// ErrTransactionConflict indicates a transient storage conflict. The whole
// check-and-write is safe to retry once.
var ErrTransactionConflict = apperrors.New(apperrors.CodeTransactionConflict, "storage transaction conflict")

// WishlistRecord stores one shareable wishlist. List CRUD is owned by an
// external collaborator; the engine only resolves slugs and owner identity.
type WishlistRecord struct {
	ID        string
	OwnerID   string
	ShareSlug string
	Title     string
	IsPublic  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ItemRecord stores one gift item. TargetCost is in cents; nil means the item
// has no funding target.
type ItemRecord struct {
	ID         string
	WishlistID string
	Title      string
	TargetCost *int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ReservationRecord stores one exclusive claim. Released rows are retained
// for audit; at most one row per item may be active.
type ReservationRecord struct {
	ID         string
	ItemID     string
	Claimant   string
	Active     bool
	CreatedAt  time.Time
	ReleasedAt *time.Time
}

// ContributionRecord stores one immutable ledger entry. Amount is in cents
// and always positive; corrections are new rows, never edits.
type ContributionRecord struct {
	ID          string
	ItemID      string
	Contributor string
	Amount      int64
	CreatedAt   time.Time
}

// ItemState is the consistent funding snapshot of one item: the record plus
// the reservation/contribution facts its status derives from.
type ItemState struct {
	Item              ItemRecord
	Reservation       *ReservationRecord
	FundedTotal       int64
	ContributionCount int
}

// Status derives the item's funding status from the snapshot facts.
func (s ItemState) Status() gift.Status {
	return gift.DeriveStatus(s.Item.TargetCost, s.Reservation != nil, s.FundedTotal)
}

// WishlistStore resolves shareable wishlists and accepts records from the
// external CRUD collaborator.
type WishlistStore interface {
	PutWishlist(ctx context.Context, wishlist WishlistRecord) error
	// GetWishlistBySlug returns ErrNotFound for unknown or private slugs.
	GetWishlistBySlug(ctx context.Context, shareSlug string) (WishlistRecord, error)
}

// ItemStore persists gift items and serves funding snapshots.
type ItemStore interface {
	PutItem(ctx context.Context, item ItemRecord) error
	// GetItemState returns the item with a consistent view of its active
	// reservation and funded total. Returns ErrNotFound for unknown items.
	GetItemState(ctx context.Context, itemID string) (ItemState, error)
	// ListItemStates returns consistent snapshots for every item of a
	// wishlist, ordered by creation time. Used for full-state resync.
	ListItemStates(ctx context.Context, wishlistID string) ([]ItemState, error)
}

// ReservationStore performs the atomic check-and-write primitives for
// exclusive claims.
type ReservationStore interface {
	// InsertReservation atomically creates the single active reservation for
	// an item. Returns the existing record with existing=true when the same
	// claimant already holds the claim. Fails with ErrAlreadyReserved for a
	// different claimant, ErrWrongMode when contributions exist, and
	// ErrNotFound for unknown items.
	InsertReservation(ctx context.Context, reservation ReservationRecord) (record ReservationRecord, existing bool, err error)
	// ReleaseReservation atomically marks the active reservation released.
	// ownerOverride authorizes the wishlist owner to release on the
	// claimant's behalf. Fails with ErrNotReserved when no claim is active
	// and ErrForbidden when the caller is not authorized.
	ReleaseReservation(ctx context.Context, itemID, caller string, ownerOverride bool, releasedAt time.Time) (ReservationRecord, error)
}

// ContributionStore appends ledger rows and aggregates totals transactionally.
type ContributionStore interface {
	// InsertContribution appends one row and returns the new funded total
	// computed inside the same transaction. Fails with ErrWrongMode when an
	// active reservation exists, ErrAlreadyFunded when the target is met and
	// allowOverfund is false, and ErrNotFound for unknown items.
	InsertContribution(ctx context.Context, contribution ContributionRecord, allowOverfund bool) (newTotal int64, err error)
	// ListContributions returns the append-only ledger for an item, oldest
	// first.
	ListContributions(ctx context.Context, itemID string) ([]ContributionRecord, error)
}

// GiftStore aggregates every persistence contract the engine needs.
type GiftStore interface {
	WishlistStore
	ItemStore
	ReservationStore
	ContributionStore
}
