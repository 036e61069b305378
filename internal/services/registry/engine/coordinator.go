package engine

import (
	"context"
	"strings"

	"github.com/perennial-labs/giftsync/internal/platform/id"
	"github.com/perennial-labs/giftsync/internal/services/registry/domain/gift"
	"github.com/perennial-labs/giftsync/internal/services/registry/fanout"
	"github.com/perennial-labs/giftsync/internal/services/registry/storage"
)

// Reserve places an exclusive claim on an item. Repeat claims by the same
// claimant return the existing reservation without a new event; a claim on
// an item someone else holds fails with the AlreadyReserved code.
func (e *Engine) Reserve(ctx context.Context, itemID, claimant string) (storage.ReservationRecord, error) {
	claimant = strings.TrimSpace(claimant)
	if claimant == "" {
		return storage.ReservationRecord{}, ErrInvalidActor
	}

	state, err := e.store.GetItemState(ctx, itemID)
	if err != nil {
		return storage.ReservationRecord{}, err
	}

	lock := e.locks.lock(state.Item.WishlistID)
	lock.Lock()
	defer lock.Unlock()

	var (
		record   storage.ReservationRecord
		existing bool
	)
	err = retryOnConflict(func() error {
		var opErr error
		record, existing, opErr = e.store.InsertReservation(ctx, storage.ReservationRecord{
			ID:        id.NewID(),
			ItemID:    itemID,
			Claimant:  claimant,
			CreatedAt: e.now().UTC(),
		})
		return opErr
	})
	if err != nil {
		return storage.ReservationRecord{}, err
	}
	if existing {
		return record, nil
	}

	e.hub.Publish(state.Item.WishlistID, fanout.Event{
		Kind:     fanout.KindGiftReserved,
		ItemID:   itemID,
		Status:   gift.StatusReserved,
		Claimant: claimant,
		NewTotal: state.FundedTotal,
	})
	return record, nil
}

// Release drops the active claim on an item. Only the claimant may release,
// unless ownerOverride marks the caller as the wishlist owner.
func (e *Engine) Release(ctx context.Context, itemID, caller string, ownerOverride bool) error {
	caller = strings.TrimSpace(caller)
	if caller == "" {
		return ErrInvalidActor
	}

	state, err := e.store.GetItemState(ctx, itemID)
	if err != nil {
		return err
	}

	lock := e.locks.lock(state.Item.WishlistID)
	lock.Lock()
	defer lock.Unlock()

	var released storage.ReservationRecord
	err = retryOnConflict(func() error {
		var opErr error
		released, opErr = e.store.ReleaseReservation(ctx, itemID, caller, ownerOverride, e.now().UTC())
		return opErr
	})
	if err != nil {
		return err
	}

	e.hub.Publish(state.Item.WishlistID, fanout.Event{
		Kind:     fanout.KindGiftReleased,
		ItemID:   itemID,
		Status:   gift.DeriveStatus(state.Item.TargetCost, false, state.FundedTotal),
		Claimant: released.Claimant,
		NewTotal: state.FundedTotal,
	})
	return nil
}
