package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/perennial-labs/giftsync/internal/services/registry/storage"
)

// InsertContribution atomically appends a contribution and returns the new
// funded total for the item.
//
// The running total is recomputed with SUM inside the same transaction as the
// insert, so concurrent contributors each observe a total that includes their
// own row plus every row committed before them.
func (s *Store) InsertContribution(ctx context.Context, contribution storage.ContributionRecord, allowOverfund bool) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	itemID := strings.TrimSpace(contribution.ItemID)
	contributor := strings.TrimSpace(contribution.Contributor)
	if strings.TrimSpace(contribution.ID) == "" {
		return 0, fmt.Errorf("contribution id is required")
	}
	if itemID == "" {
		return 0, fmt.Errorf("item id is required")
	}
	if contributor == "" {
		return 0, fmt.Errorf("contributor is required")
	}
	if contribution.Amount <= 0 {
		return 0, fmt.Errorf("contribution amount must be positive")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		if isBusy(err) {
			return 0, storage.ErrTransactionConflict
		}
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT target_cost FROM items WHERE id = ?`, itemID)
	var targetCost sql.NullInt64
	if err := row.Scan(&targetCost); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, storage.ErrNotFound
		}
		return 0, fmt.Errorf("check item: %w", err)
	}

	// A reserved item never accepts contributions; the claimant covers it.
	reservation, err := activeReservationTx(ctx, tx, itemID)
	if err != nil {
		return 0, err
	}
	if reservation != nil {
		return 0, storage.ErrWrongMode
	}

	total, _, err := contributionTotalTx(ctx, tx, itemID)
	if err != nil {
		return 0, err
	}
	if targetCost.Valid && total >= targetCost.Int64 && !allowOverfund {
		return 0, storage.ErrAlreadyFunded
	}

	if _, err := tx.ExecContext(
		ctx,
		`INSERT INTO contributions (id, item_id, contributor, amount, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		strings.TrimSpace(contribution.ID),
		itemID,
		contributor,
		contribution.Amount,
		toMillis(contribution.CreatedAt),
	); err != nil {
		if isBusy(err) {
			return 0, storage.ErrTransactionConflict
		}
		return 0, fmt.Errorf("insert contribution: %w", err)
	}

	newTotal, _, err := contributionTotalTx(ctx, tx, itemID)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		if isBusy(err) {
			return 0, storage.ErrTransactionConflict
		}
		return 0, fmt.Errorf("commit contribution: %w", err)
	}
	return newTotal, nil
}

// ListContributions returns every contribution for an item in insertion
// order. Contributions are append-only so the list never shrinks.
func (s *Store) ListContributions(ctx context.Context, itemID string) ([]storage.ContributionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return nil, fmt.Errorf("item id is required")
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT id, item_id, contributor, amount, created_at
		 FROM contributions
		 WHERE item_id = ?
		 ORDER BY created_at ASC, id ASC`,
		itemID,
	)
	if err != nil {
		return nil, fmt.Errorf("list contributions: %w", err)
	}
	defer rows.Close()

	var contributions []storage.ContributionRecord
	for rows.Next() {
		var (
			contribution storage.ContributionRecord
			createdAt    int64
		)
		if err := rows.Scan(
			&contribution.ID,
			&contribution.ItemID,
			&contribution.Contributor,
			&contribution.Amount,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("list contributions: %w", err)
		}
		contribution.CreatedAt = fromMillis(createdAt)
		contributions = append(contributions, contribution)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list contributions: %w", err)
	}
	return contributions, nil
}
