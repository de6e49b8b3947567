package store

import (
	"context"
	"time"

	"github.com/vellumdb/vellum/internal/errors"
	"github.com/vellumdb/vellum/internal/history"
)

// DayOf formats a Unix millisecond timestamp as a UTC calendar day.
func DayOf(millis int64) string {
	return time.UnixMilli(millis).UTC().Format("2006-01-02")
}

// UpsertTimelineDay folds a newly created snapshot into the per-day rollup.
// Called in the same transaction as the snapshot insert, so the projection
// never observes a snapshot that was rolled back.
func UpsertTimelineDay(ctx context.Context, q DBTX, s *history.Snapshot) error {
	query := `
		INSERT INTO timeline_days (conversation_id, day, snapshot_count, first_snapshot_id, last_snapshot_id)
		VALUES (?, ?, 1, ?, ?)
		ON CONFLICT(conversation_id, day) DO UPDATE SET
			snapshot_count = snapshot_count + 1,
			last_snapshot_id = excluded.last_snapshot_id
	`
	_, err := q.ExecContext(ctx, query, s.ConversationID, DayOf(s.CreatedAt), s.ID, s.ID)
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// TimelineDays returns a conversation's per-day rollup, newest day first.
func TimelineDays(ctx context.Context, q DBTX, conversationID string) ([]history.TimelineDay, error) {
	query := `
		SELECT conversation_id, day, snapshot_count, first_snapshot_id, last_snapshot_id
		FROM timeline_days
		WHERE conversation_id = ?
		ORDER BY day DESC
	`
	rows, err := q.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var days []history.TimelineDay
	for rows.Next() {
		var d history.TimelineDay
		if err := rows.Scan(&d.ConversationID, &d.Day, &d.SnapshotCount, &d.FirstSnapshotID, &d.LastSnapshotID); err != nil {
			return nil, errors.NewInternal(err)
		}
		days = append(days, d)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return days, nil
}

// RebuildTimelineDays re-derives the per-day rollup of a conversation from
// the authoritative snapshots table. The projection carries no independent
// state, so dropping and re-deriving it is always safe.
func RebuildTimelineDays(ctx context.Context, q DBTX, conversationID string) error {
	if _, err := q.ExecContext(ctx,
		`DELETE FROM timeline_days WHERE conversation_id = ?`, conversationID); err != nil {
		return errors.NewInternal(err)
	}

	query := `
		SELECT ` + snapshotColumns + `
		FROM snapshots
		WHERE conversation_id = ?
		ORDER BY version ASC
	`
	rows, err := q.QueryContext(ctx, query, conversationID)
	if err != nil {
		return errors.NewInternal(err)
	}
	defer rows.Close()

	snapshots, err := collectSnapshots(rows)
	if err != nil {
		return err
	}

	for i := range snapshots {
		if err := UpsertTimelineDay(ctx, q, &snapshots[i]); err != nil {
			return err
		}
	}
	return nil
}
