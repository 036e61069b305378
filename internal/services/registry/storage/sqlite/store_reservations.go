package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/perennial-labs/giftsync/internal/services/registry/storage"
)

// InsertReservation atomically creates the single active reservation for an
// item.
//
// The read-check-insert runs inside one transaction, and the partial unique
// index on active rows backstops the race two viewers create by clicking
// reserve in the same instant: whichever insert commits second fails the
// index and maps to ErrAlreadyReserved.
func (s *Store) InsertReservation(ctx context.Context, reservation storage.ReservationRecord) (storage.ReservationRecord, bool, error) {
	if err := ctx.Err(); err != nil {
		return storage.ReservationRecord{}, false, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.ReservationRecord{}, false, fmt.Errorf("storage is not configured")
	}
	itemID := strings.TrimSpace(reservation.ItemID)
	claimant := strings.TrimSpace(reservation.Claimant)
	if strings.TrimSpace(reservation.ID) == "" {
		return storage.ReservationRecord{}, false, fmt.Errorf("reservation id is required")
	}
	if itemID == "" {
		return storage.ReservationRecord{}, false, fmt.Errorf("item id is required")
	}
	if claimant == "" {
		return storage.ReservationRecord{}, false, fmt.Errorf("claimant is required")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		if isBusy(err) {
			return storage.ReservationRecord{}, false, storage.ErrTransactionConflict
		}
		return storage.ReservationRecord{}, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	// Unknown items must surface NotFound, not a dangling foreign key error.
	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT 1 FROM items WHERE id = ?`, itemID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ReservationRecord{}, false, storage.ErrNotFound
		}
		return storage.ReservationRecord{}, false, fmt.Errorf("check item: %w", err)
	}

	existing, err := activeReservationTx(ctx, tx, itemID)
	if err != nil {
		return storage.ReservationRecord{}, false, err
	}
	if existing != nil {
		if existing.Claimant == claimant {
			// Repeat claim by the same guest is idempotent.
			return *existing, true, nil
		}
		return storage.ReservationRecord{}, false, storage.ErrAlreadyReserved
	}

	// Reservation and contribution are mutually exclusive funding modes.
	_, contributionCount, err := contributionTotalTx(ctx, tx, itemID)
	if err != nil {
		return storage.ReservationRecord{}, false, err
	}
	if contributionCount > 0 {
		return storage.ReservationRecord{}, false, storage.ErrWrongMode
	}

	_, err = tx.ExecContext(
		ctx,
		`INSERT INTO reservations (id, item_id, claimant, active, created_at, released_at)
		 VALUES (?, ?, ?, 1, ?, NULL)`,
		strings.TrimSpace(reservation.ID),
		itemID,
		claimant,
		toMillis(reservation.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ReservationRecord{}, false, storage.ErrAlreadyReserved
		}
		if isBusy(err) {
			return storage.ReservationRecord{}, false, storage.ErrTransactionConflict
		}
		return storage.ReservationRecord{}, false, fmt.Errorf("insert reservation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return storage.ReservationRecord{}, false, storage.ErrAlreadyReserved
		}
		if isBusy(err) {
			return storage.ReservationRecord{}, false, storage.ErrTransactionConflict
		}
		return storage.ReservationRecord{}, false, fmt.Errorf("commit reservation: %w", err)
	}

	created := storage.ReservationRecord{
		ID:        strings.TrimSpace(reservation.ID),
		ItemID:    itemID,
		Claimant:  claimant,
		Active:    true,
		CreatedAt: reservation.CreatedAt.UTC(),
	}
	return created, false, nil
}

// ReleaseReservation atomically marks the active reservation released.
//
// Released rows are never deleted; the audit trail keeps every claim that
// ever existed, with released_at recording when it ended.
func (s *Store) ReleaseReservation(ctx context.Context, itemID, caller string, ownerOverride bool, releasedAt time.Time) (storage.ReservationRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.ReservationRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.ReservationRecord{}, fmt.Errorf("storage is not configured")
	}
	itemID = strings.TrimSpace(itemID)
	caller = strings.TrimSpace(caller)
	if itemID == "" {
		return storage.ReservationRecord{}, fmt.Errorf("item id is required")
	}
	if caller == "" && !ownerOverride {
		return storage.ReservationRecord{}, fmt.Errorf("caller is required")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		if isBusy(err) {
			return storage.ReservationRecord{}, storage.ErrTransactionConflict
		}
		return storage.ReservationRecord{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	existing, err := activeReservationTx(ctx, tx, itemID)
	if err != nil {
		return storage.ReservationRecord{}, err
	}
	if existing == nil {
		return storage.ReservationRecord{}, storage.ErrNotReserved
	}
	if existing.Claimant != caller && !ownerOverride {
		return storage.ReservationRecord{}, storage.ErrForbidden
	}

	if _, err := tx.ExecContext(
		ctx,
		`UPDATE reservations SET active = 0, released_at = ? WHERE id = ?`,
		toMillis(releasedAt),
		existing.ID,
	); err != nil {
		if isBusy(err) {
			return storage.ReservationRecord{}, storage.ErrTransactionConflict
		}
		return storage.ReservationRecord{}, fmt.Errorf("release reservation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		if isBusy(err) {
			return storage.ReservationRecord{}, storage.ErrTransactionConflict
		}
		return storage.ReservationRecord{}, fmt.Errorf("commit release: %w", err)
	}

	released := *existing
	released.Active = false
	releasedUTC := releasedAt.UTC()
	released.ReleasedAt = &releasedUTC
	return released, nil
}
