// Package sqlite provides a SQLite-backed registry storage implementation.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/perennial-labs/giftsync/internal/platform/storage/sqlitemigrate"
	"github.com/perennial-labs/giftsync/internal/services/registry/storage"
	"github.com/perennial-labs/giftsync/internal/services/registry/storage/sqlite/migrations"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// Store persists registry state in SQLite.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

func toNullMillis(value *time.Time) sql.NullInt64 {
	if value == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*value), Valid: true}
}

func fromNullMillis(value sql.NullInt64) *time.Time {
	if !value.Valid {
		return nil
	}
	t := fromMillis(value.Int64)
	return &t
}

// Open opens a SQLite registry store and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.Apply(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// PutWishlist upserts one wishlist record supplied by the CRUD collaborator.
func (s *Store) PutWishlist(ctx context.Context, wishlist storage.WishlistRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	wishlistID := strings.TrimSpace(wishlist.ID)
	shareSlug := strings.TrimSpace(wishlist.ShareSlug)
	if wishlistID == "" {
		return fmt.Errorf("wishlist id is required")
	}
	if shareSlug == "" {
		return fmt.Errorf("share slug is required")
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO wishlists (id, owner_id, share_slug, title, is_public, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   owner_id = excluded.owner_id,
		   share_slug = excluded.share_slug,
		   title = excluded.title,
		   is_public = excluded.is_public,
		   updated_at = excluded.updated_at`,
		wishlistID,
		strings.TrimSpace(wishlist.OwnerID),
		shareSlug,
		wishlist.Title,
		boolToInt(wishlist.IsPublic),
		toMillis(wishlist.CreatedAt),
		toMillis(wishlist.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("put wishlist: %w", err)
	}
	return nil
}

// GetWishlistBySlug returns one public wishlist by its share slug.
func (s *Store) GetWishlistBySlug(ctx context.Context, shareSlug string) (storage.WishlistRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.WishlistRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.WishlistRecord{}, fmt.Errorf("storage is not configured")
	}
	shareSlug = strings.TrimSpace(shareSlug)
	if shareSlug == "" {
		return storage.WishlistRecord{}, fmt.Errorf("share slug is required")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT id, owner_id, share_slug, title, is_public, created_at, updated_at
		 FROM wishlists
		 WHERE share_slug = ? AND is_public = 1`,
		shareSlug,
	)
	return scanWishlist(row)
}

// PutItem upserts one gift item supplied by the CRUD collaborator.
func (s *Store) PutItem(ctx context.Context, item storage.ItemRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	itemID := strings.TrimSpace(item.ID)
	wishlistID := strings.TrimSpace(item.WishlistID)
	if itemID == "" {
		return fmt.Errorf("item id is required")
	}
	if wishlistID == "" {
		return fmt.Errorf("wishlist id is required")
	}

	var targetCost sql.NullInt64
	if item.TargetCost != nil {
		targetCost = sql.NullInt64{Int64: *item.TargetCost, Valid: true}
	}
	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO items (id, wishlist_id, title, target_cost, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   title = excluded.title,
		   target_cost = excluded.target_cost,
		   updated_at = excluded.updated_at`,
		itemID,
		wishlistID,
		item.Title,
		targetCost,
		toMillis(item.CreatedAt),
		toMillis(item.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("put item: %w", err)
	}
	return nil
}

// GetItemState returns one item with a consistent funding snapshot.
func (s *Store) GetItemState(ctx context.Context, itemID string) (storage.ItemState, error) {
	if err := ctx.Err(); err != nil {
		return storage.ItemState{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.ItemState{}, fmt.Errorf("storage is not configured")
	}
	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return storage.ItemState{}, fmt.Errorf("item id is required")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return storage.ItemState{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	state, err := itemStateTx(ctx, tx, itemID)
	if err != nil {
		return storage.ItemState{}, err
	}
	if err := tx.Commit(); err != nil {
		return storage.ItemState{}, fmt.Errorf("commit tx: %w", err)
	}
	return state, nil
}

// ListItemStates returns consistent snapshots for every item of a wishlist,
// ordered by creation time. This is the full-state resynchronization read.
func (s *Store) ListItemStates(ctx context.Context, wishlistID string) ([]storage.ItemState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	wishlistID = strings.TrimSpace(wishlistID)
	if wishlistID == "" {
		return nil, fmt.Errorf("wishlist id is required")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(
		ctx,
		`SELECT id FROM items WHERE wishlist_id = ? ORDER BY created_at ASC, id ASC`,
		wishlistID,
	)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	var itemIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("list items: %w", err)
		}
		itemIDs = append(itemIDs, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("list items: %w", err)
	}
	rows.Close()

	states := make([]storage.ItemState, 0, len(itemIDs))
	for _, id := range itemIDs {
		state, err := itemStateTx(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		states = append(states, state)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return states, nil
}

// itemStateTx loads one item and its funding facts inside the caller's
// transaction so the derived status reflects a single consistent snapshot.
func itemStateTx(ctx context.Context, tx *sql.Tx, itemID string) (storage.ItemState, error) {
	row := tx.QueryRowContext(
		ctx,
		`SELECT id, wishlist_id, title, target_cost, created_at, updated_at
		 FROM items WHERE id = ?`,
		itemID,
	)
	var (
		state      storage.ItemState
		targetCost sql.NullInt64
		createdAt  int64
		updatedAt  int64
	)
	err := row.Scan(
		&state.Item.ID,
		&state.Item.WishlistID,
		&state.Item.Title,
		&targetCost,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ItemState{}, storage.ErrNotFound
		}
		return storage.ItemState{}, fmt.Errorf("get item: %w", err)
	}
	if targetCost.Valid {
		value := targetCost.Int64
		state.Item.TargetCost = &value
	}
	state.Item.CreatedAt = fromMillis(createdAt)
	state.Item.UpdatedAt = fromMillis(updatedAt)

	reservation, err := activeReservationTx(ctx, tx, itemID)
	if err != nil {
		return storage.ItemState{}, err
	}
	state.Reservation = reservation

	total, count, err := contributionTotalTx(ctx, tx, itemID)
	if err != nil {
		return storage.ItemState{}, err
	}
	state.FundedTotal = total
	state.ContributionCount = count
	return state, nil
}

func activeReservationTx(ctx context.Context, tx *sql.Tx, itemID string) (*storage.ReservationRecord, error) {
	row := tx.QueryRowContext(
		ctx,
		`SELECT id, item_id, claimant, active, created_at, released_at
		 FROM reservations
		 WHERE item_id = ? AND active = 1`,
		itemID,
	)
	reservation, err := scanReservation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get active reservation: %w", err)
	}
	return &reservation, nil
}

func contributionTotalTx(ctx context.Context, tx *sql.Tx, itemID string) (int64, int, error) {
	row := tx.QueryRowContext(
		ctx,
		`SELECT COALESCE(SUM(amount), 0), COUNT(*)
		 FROM contributions WHERE item_id = ?`,
		itemID,
	)
	var total int64
	var count int
	if err := row.Scan(&total, &count); err != nil {
		return 0, 0, fmt.Errorf("sum contributions: %w", err)
	}
	return total, count, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWishlist(row rowScanner) (storage.WishlistRecord, error) {
	var (
		wishlist  storage.WishlistRecord
		isPublic  int
		createdAt int64
		updatedAt int64
	)
	err := row.Scan(
		&wishlist.ID,
		&wishlist.OwnerID,
		&wishlist.ShareSlug,
		&wishlist.Title,
		&isPublic,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.WishlistRecord{}, storage.ErrNotFound
		}
		return storage.WishlistRecord{}, fmt.Errorf("get wishlist: %w", err)
	}
	wishlist.IsPublic = isPublic != 0
	wishlist.CreatedAt = fromMillis(createdAt)
	wishlist.UpdatedAt = fromMillis(updatedAt)
	return wishlist, nil
}

func scanReservation(row rowScanner) (storage.ReservationRecord, error) {
	var (
		reservation storage.ReservationRecord
		active      int
		createdAt   int64
		releasedAt  sql.NullInt64
	)
	err := row.Scan(
		&reservation.ID,
		&reservation.ItemID,
		&reservation.Claimant,
		&active,
		&createdAt,
		&releasedAt,
	)
	if err != nil {
		return storage.ReservationRecord{}, err
	}
	reservation.Active = active != 0
	reservation.CreatedAt = fromMillis(createdAt)
	reservation.ReleasedAt = fromNullMillis(releasedAt)
	return reservation, nil
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

// isUniqueViolation reports whether err is the one-active-reservation index
// rejecting a concurrent insert.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "unique constraint failed")
}

// isBusy reports whether err is a transient SQLite write conflict.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_BUSY, sqlite3lib.SQLITE_LOCKED:
			return true
		}
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "database is locked") || strings.Contains(message, "busy")
}

var _ storage.GiftStore = (*Store)(nil)
