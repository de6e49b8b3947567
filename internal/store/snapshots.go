package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vellumdb/vellum/internal/errors"
	"github.com/vellumdb/vellum/internal/history"
)

const snapshotColumns = `id, conversation_id, version, created_at, message_count, file_count,
	trigger_kind, trigger_ref, previous_snapshot_id, restored_from_snapshot_id, fingerprint`

// AppendSnapshot inserts a new snapshot. A UNIQUE violation on
// (conversation_id, version) means another writer won the race for this
// version; the caller receives CONFLICT and must retry against the new
// latest.
func AppendSnapshot(ctx context.Context, q DBTX, s *history.Snapshot) error {
	query := `
		INSERT INTO snapshots (` + snapshotColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := q.ExecContext(ctx, query,
		s.ID, s.ConversationID, s.Version, s.CreatedAt, s.MessageCount, s.FileCount,
		s.TriggerKind, toNullString(s.TriggerRef), toNullString(s.PreviousSnapshotID),
		toNullString(s.RestoredFromSnapshotID), s.Fingerprint,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return errors.NewConflict(s.ConversationID, s.Version)
		}
		return errors.NewInternal(err)
	}
	return nil
}

// LatestSnapshot returns the highest-version snapshot of a conversation,
// or nil if the conversation has no snapshots yet.
func LatestSnapshot(ctx context.Context, q DBTX, conversationID string) (*history.Snapshot, error) {
	query := `
		SELECT ` + snapshotColumns + `
		FROM snapshots
		WHERE conversation_id = ?
		ORDER BY version DESC
		LIMIT 1
	`
	s, err := scanSnapshot(q.QueryRowContext(ctx, query, conversationID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return s, nil
}

// GetSnapshot retrieves one snapshot of a conversation by ID.
func GetSnapshot(ctx context.Context, q DBTX, conversationID, snapshotID string) (*history.Snapshot, error) {
	query := `
		SELECT ` + snapshotColumns + `
		FROM snapshots
		WHERE conversation_id = ? AND id = ?
	`
	s, err := scanSnapshot(q.QueryRowContext(ctx, query, conversationID, snapshotID))
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("snapshot", snapshotID)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return s, nil
}

// ConversationSnapshots returns every snapshot of a conversation in version
// order, for export and index rebuilds.
func ConversationSnapshots(ctx context.Context, q DBTX, conversationID string) ([]history.Snapshot, error) {
	query := `
		SELECT ` + snapshotColumns + `
		FROM snapshots
		WHERE conversation_id = ?
		ORDER BY version ASC
	`
	rows, err := q.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	return collectSnapshots(rows)
}

// GetSnapshotByVersion retrieves one snapshot of a conversation by its
// per-conversation version number.
func GetSnapshotByVersion(ctx context.Context, q DBTX, conversationID string, version int64) (*history.Snapshot, error) {
	query := `
		SELECT ` + snapshotColumns + `
		FROM snapshots
		WHERE conversation_id = ? AND version = ?
	`
	s, err := scanSnapshot(q.QueryRowContext(ctx, query, conversationID, version))
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("snapshot version", fmt.Sprintf("%d", version))
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return s, nil
}

// SnapshotChain walks the previous-snapshot pointers from target back to the
// root and returns the chain in root-to-target order. A cycle or a dangling
// pointer is a lineage corruption and surfaces as INTEGRITY.
func SnapshotChain(ctx context.Context, q DBTX, conversationID, targetSnapshotID string) ([]history.Snapshot, error) {
	seen := make(map[string]bool)
	var reversed []history.Snapshot

	id := targetSnapshotID
	for id != "" {
		if seen[id] {
			return nil, errors.NewIntegrity("snapshot lineage contains a cycle", map[string]any{
				"conversation_id": conversationID,
				"snapshot_id":     id,
			})
		}
		seen[id] = true

		s, err := GetSnapshot(ctx, q, conversationID, id)
		if err != nil {
			if errors.Is(err, errors.ErrNotFound) && len(reversed) > 0 {
				return nil, errors.NewIntegrity("snapshot lineage points at a missing snapshot", map[string]any{
					"conversation_id": conversationID,
					"snapshot_id":     id,
				})
			}
			return nil, err
		}
		reversed = append(reversed, *s)

		id = ""
		if s.PreviousSnapshotID != nil {
			id = *s.PreviousSnapshotID
		}
	}

	chain := make([]history.Snapshot, len(reversed))
	for i, s := range reversed {
		chain[len(reversed)-1-i] = s
	}
	return chain, nil
}

// ListSnapshots returns a conversation's snapshots newest-first, with the
// total count for pagination.
func ListSnapshots(ctx context.Context, q DBTX, conversationID string, limit, offset int) ([]history.Snapshot, int, error) {
	var total int
	countQuery := `SELECT COUNT(*) FROM snapshots WHERE conversation_id = ?`
	if err := q.QueryRowContext(ctx, countQuery, conversationID).Scan(&total); err != nil {
		return nil, 0, errors.NewInternal(err)
	}

	query := `
		SELECT ` + snapshotColumns + `
		FROM snapshots
		WHERE conversation_id = ?
		ORDER BY version DESC
		LIMIT ? OFFSET ?
	`
	rows, err := q.QueryContext(ctx, query, conversationID, limit, offset)
	if err != nil {
		return nil, 0, errors.NewInternal(err)
	}
	defer rows.Close()

	snapshots, err := collectSnapshots(rows)
	if err != nil {
		return nil, 0, err
	}
	return snapshots, total, nil
}

// SnapshotsOnDay returns the snapshots created on one UTC calendar day,
// oldest-first. The day is given as YYYY-MM-DD.
func SnapshotsOnDay(ctx context.Context, q DBTX, conversationID, day string) ([]history.Snapshot, error) {
	start, err := time.ParseInLocation("2006-01-02", day, time.UTC)
	if err != nil {
		return nil, errors.NewValidation("date must be formatted as YYYY-MM-DD")
	}
	end := start.AddDate(0, 0, 1)

	query := `
		SELECT ` + snapshotColumns + `
		FROM snapshots
		WHERE conversation_id = ? AND created_at >= ? AND created_at < ?
		ORDER BY version ASC
	`
	rows, err := q.QueryContext(ctx, query, conversationID, start.UnixMilli(), end.UnixMilli())
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	return collectSnapshots(rows)
}

// ConversationExists reports whether any snapshot references the
// conversation. The conversation entity itself lives outside the engine.
func ConversationExists(ctx context.Context, q DBTX, conversationID string) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx,
		`SELECT 1 FROM snapshots WHERE conversation_id = ? LIMIT 1`, conversationID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.NewInternal(err)
	}
	return true, nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for the scan helpers.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row rowScanner) (*history.Snapshot, error) {
	var (
		s            history.Snapshot
		triggerRef   sql.NullString
		previousID   sql.NullString
		restoredFrom sql.NullString
	)
	err := row.Scan(
		&s.ID, &s.ConversationID, &s.Version, &s.CreatedAt, &s.MessageCount, &s.FileCount,
		&s.TriggerKind, &triggerRef, &previousID, &restoredFrom, &s.Fingerprint,
	)
	if err != nil {
		return nil, err
	}
	s.TriggerRef = fromNullString(triggerRef)
	s.PreviousSnapshotID = fromNullString(previousID)
	s.RestoredFromSnapshotID = fromNullString(restoredFrom)
	return &s, nil
}

func collectSnapshots(rows *sql.Rows) ([]history.Snapshot, error) {
	var snapshots []history.Snapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		snapshots = append(snapshots, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return snapshots, nil
}
