package sqlite

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/perennial-labs/giftsync/internal/platform/id"
	"github.com/perennial-labs/giftsync/internal/services/registry/domain/gift"
	"github.com/perennial-labs/giftsync/internal/services/registry/storage"
)

func newContribution(itemID, contributor string, amount int64) storage.ContributionRecord {
	return storage.ContributionRecord{
		ID:          id.NewID(),
		ItemID:      itemID,
		Contributor: contributor,
		Amount:      amount,
		CreatedAt:   time.Now().UTC().Truncate(time.Millisecond),
	}
}

func TestInsertContribution(t *testing.T) {
	store := openTestStore(t)
	wishlist := seedWishlist(t, store)
	item := seedItem(t, store, wishlist.ID, int64Ptr(10000))

	total, err := store.InsertContribution(context.Background(), newContribution(item.ID, "omar", 2500), false)
	if err != nil {
		t.Fatalf("InsertContribution: %v", err)
	}
	if total != 2500 {
		t.Fatalf("total = %d, want 2500", total)
	}

	total, err = store.InsertContribution(context.Background(), newContribution(item.ID, "ruth", 1500), false)
	if err != nil {
		t.Fatalf("second InsertContribution: %v", err)
	}
	if total != 4000 {
		t.Fatalf("total = %d, want 4000", total)
	}

	state, err := store.GetItemState(context.Background(), item.ID)
	if err != nil {
		t.Fatalf("GetItemState: %v", err)
	}
	if state.FundedTotal != 4000 || state.ContributionCount != 2 {
		t.Fatalf("funding = %d/%d, want 4000/2", state.FundedTotal, state.ContributionCount)
	}
	if got := state.Status(); got != gift.StatusFunding {
		t.Fatalf("status = %q, want %q", got, gift.StatusFunding)
	}
}

func TestInsertContributionUnknownItem(t *testing.T) {
	store := openTestStore(t)
	if _, err := store.InsertContribution(context.Background(), newContribution(id.NewID(), "omar", 100), false); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestInsertContributionRejectsReservedItem(t *testing.T) {
	store := openTestStore(t)
	wishlist := seedWishlist(t, store)
	item := seedItem(t, store, wishlist.ID, int64Ptr(10000))

	if _, _, err := store.InsertReservation(context.Background(), newReservation(item.ID, "ruth")); err != nil {
		t.Fatalf("InsertReservation: %v", err)
	}
	if _, err := store.InsertContribution(context.Background(), newContribution(item.ID, "omar", 100), false); !errors.Is(err, storage.ErrWrongMode) {
		t.Fatalf("err = %v, want ErrWrongMode", err)
	}
}

func TestInsertContributionAlreadyFunded(t *testing.T) {
	store := openTestStore(t)
	wishlist := seedWishlist(t, store)
	item := seedItem(t, store, wishlist.ID, int64Ptr(1000))

	if _, err := store.InsertContribution(context.Background(), newContribution(item.ID, "omar", 1000), false); err != nil {
		t.Fatalf("InsertContribution: %v", err)
	}
	if _, err := store.InsertContribution(context.Background(), newContribution(item.ID, "ruth", 1), false); !errors.Is(err, storage.ErrAlreadyFunded) {
		t.Fatalf("err = %v, want ErrAlreadyFunded", err)
	}
}

func TestInsertContributionOverfundAllowed(t *testing.T) {
	store := openTestStore(t)
	wishlist := seedWishlist(t, store)
	item := seedItem(t, store, wishlist.ID, int64Ptr(1000))

	if _, err := store.InsertContribution(context.Background(), newContribution(item.ID, "omar", 1000), true); err != nil {
		t.Fatalf("InsertContribution: %v", err)
	}
	total, err := store.InsertContribution(context.Background(), newContribution(item.ID, "ruth", 500), true)
	if err != nil {
		t.Fatalf("overfund InsertContribution: %v", err)
	}
	if total != 1500 {
		t.Fatalf("total = %d, want 1500", total)
	}
}

func TestInsertContributionCrossesTarget(t *testing.T) {
	store := openTestStore(t)
	wishlist := seedWishlist(t, store)
	item := seedItem(t, store, wishlist.ID, int64Ptr(10000))

	// 40 then 70 on a 100 target: the second contribution is accepted because
	// the total was below target when it arrived, and the item lands on
	// FUNDED with a total above target.
	if _, err := store.InsertContribution(context.Background(), newContribution(item.ID, "omar", 4000), false); err != nil {
		t.Fatalf("InsertContribution: %v", err)
	}
	total, err := store.InsertContribution(context.Background(), newContribution(item.ID, "ruth", 7000), false)
	if err != nil {
		t.Fatalf("crossing InsertContribution: %v", err)
	}
	if total != 11000 {
		t.Fatalf("total = %d, want 11000", total)
	}

	state, err := store.GetItemState(context.Background(), item.ID)
	if err != nil {
		t.Fatalf("GetItemState: %v", err)
	}
	if got := state.Status(); got != gift.StatusFunded {
		t.Fatalf("status = %q, want %q", got, gift.StatusFunded)
	}
}

func TestInsertContributionNoTargetNeverFunds(t *testing.T) {
	store := openTestStore(t)
	wishlist := seedWishlist(t, store)
	item := seedItem(t, store, wishlist.ID, nil)

	if _, err := store.InsertContribution(context.Background(), newContribution(item.ID, "omar", 1_000_000), false); err != nil {
		t.Fatalf("InsertContribution: %v", err)
	}
	state, err := store.GetItemState(context.Background(), item.ID)
	if err != nil {
		t.Fatalf("GetItemState: %v", err)
	}
	if got := state.Status(); got != gift.StatusFunding {
		t.Fatalf("status = %q, want %q", got, gift.StatusFunding)
	}
}

func TestInsertContributionRejectsNonPositiveAmount(t *testing.T) {
	store := openTestStore(t)
	wishlist := seedWishlist(t, store)
	item := seedItem(t, store, wishlist.ID, nil)

	for _, amount := range []int64{0, -100} {
		if _, err := store.InsertContribution(context.Background(), newContribution(item.ID, "omar", amount), false); err == nil {
			t.Fatalf("amount %d should be rejected", amount)
		}
	}
}

func TestInsertContributionConcurrentTotals(t *testing.T) {
	store := openTestStore(t)
	wishlist := seedWishlist(t, store)
	item := seedItem(t, store, wishlist.ID, nil)

	const contributors = 8
	const amount = 250
	var wg sync.WaitGroup
	totals := make(chan int64, contributors)
	for i := 0; i < contributors; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			contributor := "guest-" + string(rune('a'+n))
			for {
				total, err := store.InsertContribution(context.Background(), newContribution(item.ID, contributor, amount), false)
				if errors.Is(err, storage.ErrTransactionConflict) {
					continue
				}
				if err != nil {
					t.Errorf("InsertContribution: %v", err)
					return
				}
				totals <- total
				return
			}
		}(i)
	}
	wg.Wait()
	close(totals)

	seen := make(map[int64]bool)
	for total := range totals {
		if total%amount != 0 || total <= 0 || total > contributors*amount {
			t.Fatalf("total %d is not a valid running sum", total)
		}
		if seen[total] {
			t.Fatalf("total %d returned twice", total)
		}
		seen[total] = true
	}

	state, err := store.GetItemState(context.Background(), item.ID)
	if err != nil {
		t.Fatalf("GetItemState: %v", err)
	}
	if state.FundedTotal != contributors*amount {
		t.Fatalf("final total = %d, want %d", state.FundedTotal, contributors*amount)
	}
	if state.ContributionCount != contributors {
		t.Fatalf("count = %d, want %d", state.ContributionCount, contributors)
	}
}

func TestListContributions(t *testing.T) {
	store := openTestStore(t)
	wishlist := seedWishlist(t, store)
	item := seedItem(t, store, wishlist.ID, nil)

	base := time.Now().UTC().Truncate(time.Millisecond)
	for i, contributor := range []string{"omar", "ruth", "kei"} {
		record := storage.ContributionRecord{
			ID:          id.NewID(),
			ItemID:      item.ID,
			Contributor: contributor,
			Amount:      int64(100 * (i + 1)),
			CreatedAt:   base.Add(time.Duration(i) * time.Second),
		}
		if _, err := store.InsertContribution(context.Background(), record, false); err != nil {
			t.Fatalf("InsertContribution: %v", err)
		}
	}

	contributions, err := store.ListContributions(context.Background(), item.ID)
	if err != nil {
		t.Fatalf("ListContributions: %v", err)
	}
	if len(contributions) != 3 {
		t.Fatalf("len = %d, want 3", len(contributions))
	}
	wantContributors := []string{"omar", "ruth", "kei"}
	for i, contribution := range contributions {
		if contribution.Contributor != wantContributors[i] {
			t.Fatalf("contributions[%d].Contributor = %q, want %q", i, contribution.Contributor, wantContributors[i])
		}
	}
}
