package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	apperrors "github.com/perennial-labs/giftsync/internal/platform/errors"
	"github.com/perennial-labs/giftsync/internal/platform/id"
	"github.com/perennial-labs/giftsync/internal/services/registry/domain/gift"
	"github.com/perennial-labs/giftsync/internal/services/registry/fanout"
	"github.com/perennial-labs/giftsync/internal/services/registry/storage"
)

// ContributionResult is the outcome of a committed contribution.
type ContributionResult struct {
	NewTotal int64
	Status   gift.Status
}

// Contribute appends one ledger entry and returns the item's new funded
// total with its derived status. The ledger is append-only: a committed
// contribution is never edited or removed.
func (e *Engine) Contribute(ctx context.Context, itemID, contributor string, amount int64) (ContributionResult, error) {
	contributor = strings.TrimSpace(contributor)
	if contributor == "" {
		return ContributionResult{}, ErrInvalidActor
	}
	if amount <= 0 {
		return ContributionResult{}, apperrors.WithMetadata(
			apperrors.CodeContributionInvalidAmount,
			fmt.Sprintf("contribution amount must be positive, got %d", amount),
			map[string]string{"Amount": strconv.FormatInt(amount, 10)},
		)
	}

	state, err := e.store.GetItemState(ctx, itemID)
	if err != nil {
		return ContributionResult{}, err
	}

	lock := e.locks.lock(state.Item.WishlistID)
	lock.Lock()
	defer lock.Unlock()

	var newTotal int64
	err = retryOnConflict(func() error {
		var opErr error
		newTotal, opErr = e.store.InsertContribution(ctx, storage.ContributionRecord{
			ID:          id.NewID(),
			ItemID:      itemID,
			Contributor: contributor,
			Amount:      amount,
			CreatedAt:   e.now().UTC(),
		}, e.allowOverfund)
		return opErr
	})
	if err != nil {
		return ContributionResult{}, err
	}

	status := gift.DeriveStatus(state.Item.TargetCost, false, newTotal)
	e.hub.Publish(state.Item.WishlistID, fanout.Event{
		Kind:        fanout.KindGiftContributed,
		ItemID:      itemID,
		Status:      status,
		Contributor: contributor,
		Amount:      amount,
		NewTotal:    newTotal,
	})
	return ContributionResult{NewTotal: newTotal, Status: status}, nil
}
