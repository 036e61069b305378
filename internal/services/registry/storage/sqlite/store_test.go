package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/perennial-labs/giftsync/internal/platform/id"
	"github.com/perennial-labs/giftsync/internal/services/registry/domain/gift"
	"github.com/perennial-labs/giftsync/internal/services/registry/storage"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "registry.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return store
}

func seedWishlist(t *testing.T, store *Store) storage.WishlistRecord {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Millisecond)
	wishlist := storage.WishlistRecord{
		ID:        id.NewID(),
		OwnerID:   id.NewID(),
		ShareSlug: "birthday-" + id.NewID()[:8],
		Title:     "Birthday",
		IsPublic:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := store.PutWishlist(context.Background(), wishlist); err != nil {
		t.Fatalf("PutWishlist: %v", err)
	}
	return wishlist
}

func seedItem(t *testing.T, store *Store, wishlistID string, targetCost *int64) storage.ItemRecord {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Millisecond)
	item := storage.ItemRecord{
		ID:         id.NewID(),
		WishlistID: wishlistID,
		Title:      "Telescope",
		TargetCost: targetCost,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := store.PutItem(context.Background(), item); err != nil {
		t.Fatalf("PutItem: %v", err)
	}
	return item
}

func int64Ptr(value int64) *int64 {
	return &value
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open("  "); err == nil {
		t.Fatal("Open with blank path should fail")
	}
}

func TestWishlistRoundTrip(t *testing.T) {
	store := openTestStore(t)
	wishlist := seedWishlist(t, store)

	got, err := store.GetWishlistBySlug(context.Background(), wishlist.ShareSlug)
	if err != nil {
		t.Fatalf("GetWishlistBySlug: %v", err)
	}
	if got.ID != wishlist.ID {
		t.Fatalf("wishlist id = %q, want %q", got.ID, wishlist.ID)
	}
	if got.OwnerID != wishlist.OwnerID {
		t.Fatalf("owner id = %q, want %q", got.OwnerID, wishlist.OwnerID)
	}
	if !got.IsPublic {
		t.Fatal("wishlist should be public")
	}
	if !got.CreatedAt.Equal(wishlist.CreatedAt) {
		t.Fatalf("created at = %v, want %v", got.CreatedAt, wishlist.CreatedAt)
	}
}

func TestWishlistUpsertUpdatesFields(t *testing.T) {
	store := openTestStore(t)
	wishlist := seedWishlist(t, store)

	wishlist.Title = "Renamed"
	wishlist.UpdatedAt = wishlist.UpdatedAt.Add(time.Second)
	if err := store.PutWishlist(context.Background(), wishlist); err != nil {
		t.Fatalf("PutWishlist update: %v", err)
	}

	got, err := store.GetWishlistBySlug(context.Background(), wishlist.ShareSlug)
	if err != nil {
		t.Fatalf("GetWishlistBySlug: %v", err)
	}
	if got.Title != "Renamed" {
		t.Fatalf("title = %q, want %q", got.Title, "Renamed")
	}
}

func TestGetWishlistBySlugUnknown(t *testing.T) {
	store := openTestStore(t)
	if _, err := store.GetWishlistBySlug(context.Background(), "no-such-slug"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestGetWishlistBySlugHidesPrivate(t *testing.T) {
	store := openTestStore(t)
	now := time.Now().UTC()
	wishlist := storage.WishlistRecord{
		ID:        id.NewID(),
		OwnerID:   id.NewID(),
		ShareSlug: "private-slug",
		Title:     "Private",
		IsPublic:  false,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := store.PutWishlist(context.Background(), wishlist); err != nil {
		t.Fatalf("PutWishlist: %v", err)
	}
	if _, err := store.GetWishlistBySlug(context.Background(), "private-slug"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound for private wishlist", err)
	}
}

func TestItemStateRoundTrip(t *testing.T) {
	store := openTestStore(t)
	wishlist := seedWishlist(t, store)
	item := seedItem(t, store, wishlist.ID, int64Ptr(10000))

	state, err := store.GetItemState(context.Background(), item.ID)
	if err != nil {
		t.Fatalf("GetItemState: %v", err)
	}
	if state.Item.ID != item.ID {
		t.Fatalf("item id = %q, want %q", state.Item.ID, item.ID)
	}
	if state.Item.TargetCost == nil || *state.Item.TargetCost != 10000 {
		t.Fatalf("target cost = %v, want 10000", state.Item.TargetCost)
	}
	if state.Reservation != nil {
		t.Fatal("new item should have no active reservation")
	}
	if state.FundedTotal != 0 || state.ContributionCount != 0 {
		t.Fatalf("funding = %d/%d, want 0/0", state.FundedTotal, state.ContributionCount)
	}
	if got := state.Status(); got != gift.StatusAvailable {
		t.Fatalf("status = %q, want %q", got, gift.StatusAvailable)
	}
}

func TestItemStateNoTargetCost(t *testing.T) {
	store := openTestStore(t)
	wishlist := seedWishlist(t, store)
	item := seedItem(t, store, wishlist.ID, nil)

	state, err := store.GetItemState(context.Background(), item.ID)
	if err != nil {
		t.Fatalf("GetItemState: %v", err)
	}
	if state.Item.TargetCost != nil {
		t.Fatalf("target cost = %v, want nil", state.Item.TargetCost)
	}
}

func TestGetItemStateUnknown(t *testing.T) {
	store := openTestStore(t)
	if _, err := store.GetItemState(context.Background(), id.NewID()); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestListItemStatesOrdersByCreation(t *testing.T) {
	store := openTestStore(t)
	wishlist := seedWishlist(t, store)

	base := time.Now().UTC().Truncate(time.Millisecond)
	var wantIDs []string
	for i := 0; i < 3; i++ {
		item := storage.ItemRecord{
			ID:         id.NewID(),
			WishlistID: wishlist.ID,
			Title:      "Item",
			CreatedAt:  base.Add(time.Duration(i) * time.Second),
			UpdatedAt:  base.Add(time.Duration(i) * time.Second),
		}
		if err := store.PutItem(context.Background(), item); err != nil {
			t.Fatalf("PutItem: %v", err)
		}
		wantIDs = append(wantIDs, item.ID)
	}

	states, err := store.ListItemStates(context.Background(), wishlist.ID)
	if err != nil {
		t.Fatalf("ListItemStates: %v", err)
	}
	if len(states) != len(wantIDs) {
		t.Fatalf("len = %d, want %d", len(states), len(wantIDs))
	}
	for i, state := range states {
		if state.Item.ID != wantIDs[i] {
			t.Fatalf("states[%d].Item.ID = %q, want %q", i, state.Item.ID, wantIDs[i])
		}
	}
}

func TestListItemStatesEmptyWishlist(t *testing.T) {
	store := openTestStore(t)
	wishlist := seedWishlist(t, store)

	states, err := store.ListItemStates(context.Background(), wishlist.ID)
	if err != nil {
		t.Fatalf("ListItemStates: %v", err)
	}
	if len(states) != 0 {
		t.Fatalf("len = %d, want 0", len(states))
	}
}

func TestStoreCanceledContext(t *testing.T) {
	store := openTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := store.PutWishlist(ctx, storage.WishlistRecord{ID: "x", ShareSlug: "y"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if _, err := store.GetItemState(ctx, "x"); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
