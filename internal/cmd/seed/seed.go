// Package seed loads wishlists and items into a registry database from a
// JSON fixture file. Wishlist CRUD is owned by an external collaborator in
// production; this tool fills that role for local development and demos.
package seed

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/perennial-labs/giftsync/internal/platform/id"
	"github.com/perennial-labs/giftsync/internal/services/registry/storage"
	"github.com/perennial-labs/giftsync/internal/services/registry/storage/sqlite"
)

// Config holds seed command configuration.
type Config struct {
	DBPath   string
	FilePath string
}

// ParseConfig parses flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	fs.StringVar(&cfg.DBPath, "db-path", "registry.db", "registry SQLite database path")
	fs.StringVar(&cfg.FilePath, "file", "", "JSON fixture file with wishlists to load")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if strings.TrimSpace(cfg.FilePath) == "" {
		return Config{}, fmt.Errorf("fixture file is required")
	}
	return cfg, nil
}

// Fixture is the root of the JSON fixture file.
type Fixture struct {
	Wishlists []WishlistFixture `json:"wishlists"`
}

// WishlistFixture describes one wishlist to load. IDs are optional; a fixed
// id makes re-running the seed an upsert instead of a duplicate.
type WishlistFixture struct {
	ID        string        `json:"id,omitempty"`
	OwnerID   string        `json:"owner_id"`
	ShareSlug string        `json:"share_slug"`
	Title     string        `json:"title"`
	IsPublic  *bool         `json:"is_public,omitempty"`
	Items     []ItemFixture `json:"items"`
}

// ItemFixture describes one gift item. TargetCost is in cents; omit it for
// items without a funding target.
type ItemFixture struct {
	ID         string `json:"id,omitempty"`
	Title      string `json:"title"`
	TargetCost *int64 `json:"target_cost,omitempty"`
}

// Run loads the fixture file into the registry database.
func Run(ctx context.Context, cfg Config, out io.Writer) error {
	if out == nil {
		out = io.Discard
	}

	raw, err := os.ReadFile(cfg.FilePath)
	if err != nil {
		return fmt.Errorf("read fixture file: %w", err)
	}
	var fixture Fixture
	if err := json.Unmarshal(raw, &fixture); err != nil {
		return fmt.Errorf("parse fixture file: %w", err)
	}
	if len(fixture.Wishlists) == 0 {
		return fmt.Errorf("fixture file contains no wishlists")
	}

	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open registry storage: %w", err)
	}
	defer store.Close()

	now := time.Now().UTC()
	var wishlists, items int
	for _, wishlist := range fixture.Wishlists {
		record, err := seedWishlist(ctx, store, wishlist, now)
		if err != nil {
			return err
		}
		wishlists++
		for _, item := range wishlist.Items {
			if err := seedItem(ctx, store, record.ID, item, now); err != nil {
				return fmt.Errorf("wishlist %q: %w", record.ShareSlug, err)
			}
			items++
		}
		fmt.Fprintf(out, "seeded wishlist %q (%d items)\n", record.ShareSlug, len(wishlist.Items))
	}
	fmt.Fprintf(out, "done: %d wishlists, %d items\n", wishlists, items)
	return nil
}

func seedWishlist(ctx context.Context, store *sqlite.Store, fixture WishlistFixture, now time.Time) (storage.WishlistRecord, error) {
	shareSlug := strings.TrimSpace(fixture.ShareSlug)
	if shareSlug == "" {
		return storage.WishlistRecord{}, fmt.Errorf("wishlist share_slug is required")
	}
	isPublic := true
	if fixture.IsPublic != nil {
		isPublic = *fixture.IsPublic
	}
	record := storage.WishlistRecord{
		ID:        strings.TrimSpace(fixture.ID),
		OwnerID:   strings.TrimSpace(fixture.OwnerID),
		ShareSlug: shareSlug,
		Title:     fixture.Title,
		IsPublic:  isPublic,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if record.ID == "" {
		record.ID = id.NewID()
	}
	if record.OwnerID == "" {
		record.OwnerID = id.NewID()
	}
	if err := store.PutWishlist(ctx, record); err != nil {
		return storage.WishlistRecord{}, fmt.Errorf("put wishlist %q: %w", shareSlug, err)
	}
	return record, nil
}

func seedItem(ctx context.Context, store *sqlite.Store, wishlistID string, fixture ItemFixture, now time.Time) error {
	if strings.TrimSpace(fixture.Title) == "" {
		return fmt.Errorf("item title is required")
	}
	record := storage.ItemRecord{
		ID:         strings.TrimSpace(fixture.ID),
		WishlistID: wishlistID,
		Title:      fixture.Title,
		TargetCost: fixture.TargetCost,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if record.ID == "" {
		record.ID = id.NewID()
	}
	if err := store.PutItem(ctx, record); err != nil {
		return fmt.Errorf("put item %q: %w", fixture.Title, err)
	}
	return nil
}
