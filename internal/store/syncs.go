package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hendripermana/permoney/internal/ledger"
)

const syncColumns = `id, syncable_type, syncable_id, parent_id, status,
	window_start, window_end, error, sync_stats,
	created_at, updated_at, syncing_at, completed_at, failed_at, stale_at, finalized_at`

// CreateOrWidenSync finds or creates the single canonical pending sync
// for a syncable. If a pending sync already exists its window is widened
// in place (min of starts, max of ends; an unbounded bound stays
// unbounded) instead of inserting a duplicate row.
//
// Returns the resulting sync and whether a new row was created. The
// whole find-or-widen runs in one transaction so two concurrent
// requests cannot both insert. Child syncs are created separately via
// CreateChildSyncs and never widened into.
func (s *Store) CreateOrWidenSync(ctx context.Context, ref ledger.SyncableRef, window ledger.Window) (*ledger.Sync, bool, error) {
	if err := window.Validate(); err != nil {
		return nil, false, err
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	row := tx.QueryRowContext(ctx, `
		SELECT `+syncColumns+`
		FROM syncs
		WHERE syncable_type = ? AND syncable_id = ? AND status = 'pending'
		ORDER BY created_at ASC
		LIMIT 1
	`, string(ref.Type), ref.ID)

	existing, err := scanSync(row)
	if err != nil && err != sql.ErrNoRows {
		return nil, false, fmt.Errorf("failed to query pending sync for %s: %w", ref, err)
	}
	if err == nil {
		widened := existing.Window.Widen(window)
		res, err := tx.ExecContext(ctx, `
			UPDATE syncs SET window_start = ?, window_end = ?, updated_at = ?
			WHERE id = ? AND status = 'pending'
		`, dateToNullString(widened.Start), dateToNullString(widened.End),
			now.Format(time.RFC3339), existing.ID)
		if err != nil {
			return nil, false, fmt.Errorf("failed to widen sync %s: %w", existing.ID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, false, fmt.Errorf("failed to read rows affected: %w", err)
		}
		if n == 1 {
			if err := tx.Commit(); err != nil {
				return nil, false, fmt.Errorf("failed to commit widen: %w", err)
			}
			existing.Window = widened
			existing.UpdatedAt = now
			return existing, false, nil
		}
		// The row left pending between the read and the write: a worker
		// claimed it. Insert a fresh pending sync instead; a widen must
		// never land on a sync whose execution window is already fixed.
	}

	sync := &ledger.Sync{
		ID:        uuid.NewString(),
		Syncable:  ref,
		Status:    ledger.SyncStatusPending,
		Window:    window,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO syncs (id, syncable_type, syncable_id, status,
			window_start, window_end, created_at, updated_at)
		VALUES (?, ?, ?, 'pending', ?, ?, ?, ?)
	`, sync.ID, string(ref.Type), ref.ID,
		dateToNullString(window.Start), dateToNullString(window.End),
		now.Format(time.RFC3339), now.Format(time.RFC3339))
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert sync for %s: %w", ref, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit sync insert: %w", err)
	}
	return sync, true, nil
}

// CreateChildSyncs inserts one child sync per ref under the given
// parent, all in a single transaction. Atomicity matters: a worker that
// can see any child must see all of them, otherwise an early-finishing
// child could finalize the parent while siblings are still being
// inserted. Callers enqueue the returned syncs only after this commits.
func (s *Store) CreateChildSyncs(ctx context.Context, parentID string, refs []ledger.SyncableRef, window ledger.Window) ([]*ledger.Sync, error) {
	if err := window.Validate(); err != nil {
		return nil, err
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	syncs := make([]*ledger.Sync, 0, len(refs))

	for _, ref := range refs {
		sync := &ledger.Sync{
			ID:        uuid.NewString(),
			Syncable:  ref,
			ParentID:  parentID,
			Status:    ledger.SyncStatusPending,
			Window:    window,
			CreatedAt: now,
			UpdatedAt: now,
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO syncs (id, syncable_type, syncable_id, parent_id, status,
				window_start, window_end, created_at, updated_at)
			VALUES (?, ?, ?, ?, 'pending', ?, ?, ?, ?)
		`, sync.ID, string(ref.Type), ref.ID, parentID,
			dateToNullString(window.Start), dateToNullString(window.End),
			now.Format(time.RFC3339), now.Format(time.RFC3339))
		if err != nil {
			return nil, fmt.Errorf("failed to insert child sync for %s: %w", ref, err)
		}
		syncs = append(syncs, sync)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit child syncs: %w", err)
	}
	return syncs, nil
}

// GetSync retrieves a single sync by ID.
// Returns sql.ErrNoRows if not found.
func (s *Store) GetSync(ctx context.Context, id string) (*ledger.Sync, error) {
	row := s.conn.QueryRowContext(ctx,
		"SELECT "+syncColumns+" FROM syncs WHERE id = ?", id)
	return scanSync(row)
}

// ClaimStart atomically transitions a sync from pending to syncing.
// Returns false if the sync was not pending (already picked up by
// another worker, finalized, or marked stale) - the caller must treat
// that as a no-op, not an error.
func (s *Store) ClaimStart(ctx context.Context, id string) (bool, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.conn.ExecContext(ctx, `
		UPDATE syncs SET status = 'syncing', syncing_at = ?, updated_at = ?
		WHERE id = ? AND status = 'pending'
	`, now, now, id)
	if err != nil {
		return false, fmt.Errorf("failed to claim sync %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n == 1, nil
}

// MarkFailed records an execution error and transitions the sync from
// syncing to failed. Finalization still runs afterwards so a failed
// child never leaves its parent hanging.
func (s *Store) MarkFailed(ctx context.Context, id, errMsg string) (bool, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.conn.ExecContext(ctx, `
		UPDATE syncs SET status = 'failed', error = ?, failed_at = ?, updated_at = ?
		WHERE id = ? AND status = 'syncing'
	`, errMsg, now, now, id)
	if err != nil {
		return false, fmt.Errorf("failed to mark sync %s failed: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n == 1, nil
}

// ClaimFinalize atomically claims the finalization of a sync and moves
// it to its terminal status. The claim is the non-blocking lock: exactly
// one caller sees rows affected == 1 and owns the post-sync hooks; every
// other concurrent caller gets false immediately and gives up. Parent
// and child are never claimed inside the same transaction.
func (s *Store) ClaimFinalize(ctx context.Context, id string, target ledger.SyncStatus) (bool, error) {
	if target != ledger.SyncStatusCompleted && target != ledger.SyncStatusFailed {
		return false, fmt.Errorf("invalid finalize target %q", target)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	stampCol := "completed_at"
	if target == ledger.SyncStatusFailed {
		stampCol = "failed_at"
	}

	query := fmt.Sprintf(`
		UPDATE syncs SET status = ?, %s = COALESCE(%s, ?), finalized_at = ?, updated_at = ?
		WHERE id = ? AND finalized_at IS NULL
		  AND status IN ('pending', 'syncing', 'failed')
	`, stampCol, stampCol)

	res, err := s.conn.ExecContext(ctx, query, string(target), now, now, now, id)
	if err != nil {
		return false, fmt.Errorf("failed to finalize sync %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n == 1, nil
}

// IncompleteChildCount returns how many children of a sync are still
// pending or syncing.
func (s *Store) IncompleteChildCount(ctx context.Context, parentID string) (int, error) {
	var count int
	err := s.conn.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM syncs
		WHERE parent_id = ? AND status IN ('pending', 'syncing')
	`, parentID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count incomplete children: %w", err)
	}
	return count, nil
}

// HasFailedChild reports whether any child of a sync failed or went
// stale. Either poisons the parent's terminal status.
func (s *Store) HasFailedChild(ctx context.Context, parentID string) (bool, error) {
	var exists int
	err := s.conn.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM syncs
			WHERE parent_id = ? AND status IN ('failed', 'stale')
		)
	`, parentID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check failed children: %w", err)
	}
	return exists == 1, nil
}

// CountSyncsSince returns how many syncs were created for a syncable
// at or after the given time. Used to diagnose runaway scheduling.
func (s *Store) CountSyncsSince(ctx context.Context, ref ledger.SyncableRef, since time.Time) (int, error) {
	var count int
	err := s.conn.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM syncs
		WHERE syncable_type = ? AND syncable_id = ? AND created_at >= ?
	`, string(ref.Type), ref.ID, since.UTC().Format(time.RFC3339)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count syncs for %s: %w", ref, err)
	}
	return count, nil
}

// HasVisibleIncompleteSync reports whether the syncable has a pending
// or syncing sync created at or after the given time. Older incomplete
// syncs are deliberately invisible so a stuck sync doesn't pin the UI
// on "syncing" forever.
func (s *Store) HasVisibleIncompleteSync(ctx context.Context, ref ledger.SyncableRef, since time.Time) (bool, error) {
	var exists int
	err := s.conn.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM syncs
			WHERE syncable_type = ? AND syncable_id = ?
			  AND status IN ('pending', 'syncing')
			  AND created_at >= ?
		)
	`, string(ref.Type), ref.ID, since.UTC().Format(time.RFC3339)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check incomplete syncs for %s: %w", ref, err)
	}
	return exists == 1, nil
}

// RecordSyncStats stores execution statistics on the sync row.
func (s *Store) RecordSyncStats(ctx context.Context, id string, stats ledger.SyncStats) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("failed to marshal sync stats: %w", err)
	}
	_, err = s.conn.ExecContext(ctx, `
		UPDATE syncs SET sync_stats = ?, updated_at = ? WHERE id = ?
	`, string(data), time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("failed to record sync stats: %w", err)
	}
	return nil
}

// MarkStaleOlderThan marks incomplete syncs created before the cutoff
// as stale. Returns the number of syncs affected.
func (s *Store) MarkStaleOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.conn.ExecContext(ctx, `
		UPDATE syncs SET status = 'stale', stale_at = ?, updated_at = ?
		WHERE status IN ('pending', 'syncing') AND created_at < ?
	`, now, now, cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("failed to mark stale syncs: %w", err)
	}
	return res.RowsAffected()
}

// MarkStuckSyncing marks syncs stale that have been in syncing since
// before syncingCutoff AND were created before minAgeCutoff. The dual
// gate avoids flagging a sync that is merely slow mid-execution.
func (s *Store) MarkStuckSyncing(ctx context.Context, syncingCutoff, minAgeCutoff time.Time) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.conn.ExecContext(ctx, `
		UPDATE syncs SET status = 'stale', stale_at = ?, updated_at = ?
		WHERE status = 'syncing'
		  AND syncing_at IS NOT NULL AND syncing_at < ?
		  AND created_at < ?
	`, now, now,
		syncingCutoff.UTC().Format(time.RFC3339),
		minAgeCutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("failed to mark stuck syncs: %w", err)
	}
	return res.RowsAffected()
}

// ListParentsWithStaleChildren returns IDs of unfinalized parent syncs
// that have at least one stale child. The reaper feeds these to the
// finalizer so a parent whose fan-out went stale settles promptly
// instead of lingering until it ages out itself.
func (s *Store) ListParentsWithStaleChildren(ctx context.Context) ([]string, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT DISTINCT p.id FROM syncs p
		JOIN syncs c ON c.parent_id = p.id
		WHERE p.finalized_at IS NULL
		  AND p.status IN ('pending', 'syncing', 'failed')
		  AND c.status = 'stale'
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list parents of stale syncs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan sync id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// PruneFinalizedBefore deletes terminal root syncs created before the
// cutoff. Children are removed by the parent_id cascade.
func (s *Store) PruneFinalizedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.conn.ExecContext(ctx, `
		DELETE FROM syncs
		WHERE parent_id IS NULL
		  AND status IN ('completed', 'failed', 'stale')
		  AND created_at < ?
	`, cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("failed to prune syncs: %w", err)
	}
	return res.RowsAffected()
}

// ListPendingSyncIDs returns IDs of pending syncs, oldest first. The
// executor polls this as a fallback for enqueues lost across restarts.
func (s *Store) ListPendingSyncIDs(ctx context.Context, limit int) ([]string, error) {
	query := "SELECT id FROM syncs WHERE status = 'pending' ORDER BY created_at ASC"
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending syncs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan sync id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListPendingChildIDs returns IDs of pending children of a sync,
// oldest first.
func (s *Store) ListPendingChildIDs(ctx context.Context, parentID string) ([]string, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id FROM syncs
		WHERE parent_id = ? AND status = 'pending'
		ORDER BY created_at ASC
	`, parentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending children of %s: %w", parentID, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan sync id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListRecentSyncs returns the most recent syncs for a syncable,
// newest first.
func (s *Store) ListRecentSyncs(ctx context.Context, ref ledger.SyncableRef, limit int) ([]*ledger.Sync, error) {
	query := `
	SELECT ` + syncColumns + `
	FROM syncs
	WHERE syncable_type = ? AND syncable_id = ?
	ORDER BY created_at DESC
	`
	args := []any{string(ref.Type), ref.ID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list syncs for %s: %w", ref, err)
	}
	defer rows.Close()

	var syncs []*ledger.Sync
	for rows.Next() {
		sync, err := scanSync(rows)
		if err != nil {
			return nil, err
		}
		syncs = append(syncs, sync)
	}
	return syncs, rows.Err()
}

// scanSync reads a sync row into a domain record.
func scanSync(row scanner) (*ledger.Sync, error) {
	var sync ledger.Sync
	var syncableType, createdAt, updatedAt string
	var parentID, windowStart, windowEnd, errMsg, statsJSON sql.NullString
	var syncingAt, completedAt, failedAt, staleAt, finalizedAt sql.NullString

	err := row.Scan(
		&sync.ID, &syncableType, &sync.Syncable.ID, &parentID, &sync.Status,
		&windowStart, &windowEnd, &errMsg, &statsJSON,
		&createdAt, &updatedAt, &syncingAt, &completedAt, &failedAt, &staleAt, &finalizedAt,
	)
	if err != nil {
		return nil, err
	}

	sync.Syncable.Type = ledger.SyncableType(syncableType)
	if parentID.Valid {
		sync.ParentID = parentID.String
	}
	sync.Window.Start = nullStringToDate(windowStart)
	sync.Window.End = nullStringToDate(windowEnd)
	if errMsg.Valid {
		sync.Error = errMsg.String
	}
	if statsJSON.Valid && statsJSON.String != "" {
		if err := json.Unmarshal([]byte(statsJSON.String), &sync.Stats); err != nil {
			return nil, fmt.Errorf("failed to unmarshal sync stats: %w", err)
		}
	}
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		sync.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, updatedAt); err == nil {
		sync.UpdatedAt = t
	}
	sync.SyncingAt = nullStringToTime(syncingAt)
	sync.CompletedAt = nullStringToTime(completedAt)
	sync.FailedAt = nullStringToTime(failedAt)
	sync.StaleAt = nullStringToTime(staleAt)
	sync.FinalizedAt = nullStringToTime(finalizedAt)
	return &sync, nil
}
