package ops

import (
	"context"
	"database/sql"

	"github.com/rs/zerolog/log"

	"github.com/vellumdb/vellum/internal/errors"
	"github.com/vellumdb/vellum/internal/history"
	"github.com/vellumdb/vellum/internal/store"
)

// TimelineInput contains parameters for the Timeline operation.
type TimelineInput struct {
	ConversationID string
}

// TimelineTotals summarizes a conversation's accumulated history.
type TimelineTotals struct {
	LatestVersion    int64 `json:"latest_version"`
	ActiveMessages   int   `json:"active_messages"`
	MessageRevisions int   `json:"message_revisions"`
	ActiveFiles      int   `json:"active_files"`
	MediaRevisions   int   `json:"media_revisions"`
	MediaBytes       int64 `json:"media_bytes"`
}

// TimelineOutput contains the result of the Timeline operation.
type TimelineOutput struct {
	ConversationID string                `json:"conversation_id"`
	Days           []history.TimelineDay `json:"days"`
	Totals         TimelineTotals        `json:"totals"`
}

// Timeline returns the per-day snapshot rollup of a conversation, newest day
// first, with history totals.
func Timeline(ctx context.Context, database *sql.DB, input TimelineInput) (*TimelineOutput, error) {
	conversationID, err := validateConversationID(input.ConversationID)
	if err != nil {
		return nil, err
	}

	latest, err := store.LatestSnapshot(ctx, database, conversationID)
	if err != nil {
		return nil, err
	}
	if latest == nil {
		return nil, errors.NewNotFound("conversation", conversationID)
	}

	days, err := store.TimelineDays(ctx, database, conversationID)
	if err != nil {
		return nil, err
	}

	totals := TimelineTotals{LatestVersion: latest.Version}
	if totals.ActiveMessages, err = store.CountActiveMessages(ctx, database, conversationID); err != nil {
		return nil, err
	}
	if totals.MessageRevisions, err = store.CountMessageRevisions(ctx, database, conversationID); err != nil {
		return nil, err
	}
	if totals.ActiveFiles, err = store.CountActiveFiles(ctx, database, conversationID); err != nil {
		return nil, err
	}
	if totals.MediaRevisions, err = store.CountMediaRevisions(ctx, database, conversationID); err != nil {
		return nil, err
	}
	if totals.MediaBytes, err = store.TotalMediaBytes(ctx, database, conversationID); err != nil {
		return nil, err
	}

	return &TimelineOutput{
		ConversationID: conversationID,
		Days:           days,
		Totals:         totals,
	}, nil
}

// SnapshotsOnDateInput contains parameters for the SnapshotsOnDate operation.
type SnapshotsOnDateInput struct {
	ConversationID string
	Day            string // YYYY-MM-DD, UTC
}

// SnapshotsOnDateOutput contains the result of the SnapshotsOnDate operation.
type SnapshotsOnDateOutput struct {
	Day       string            `json:"day"`
	Snapshots []SnapshotSummary `json:"snapshots"`
}

// SnapshotsOnDate drills a timeline day down to its individual snapshots,
// oldest first.
func SnapshotsOnDate(ctx context.Context, database *sql.DB, input SnapshotsOnDateInput) (*SnapshotsOnDateOutput, error) {
	conversationID, err := validateConversationID(input.ConversationID)
	if err != nil {
		return nil, err
	}

	snapshots, err := store.SnapshotsOnDay(ctx, database, conversationID, input.Day)
	if err != nil {
		return nil, err
	}

	items := make([]SnapshotSummary, len(snapshots))
	for i := range snapshots {
		items[i] = summarize(&snapshots[i])
	}
	return &SnapshotsOnDateOutput{
		Day:       input.Day,
		Snapshots: items,
	}, nil
}

// ListSnapshotsInput contains parameters for the ListSnapshots operation.
type ListSnapshotsInput struct {
	ConversationID string
	Limit          int // default: 20, max: 100
	Offset         int // default: 0
}

// ListSnapshotsOutput contains the result of the ListSnapshots operation.
type ListSnapshotsOutput struct {
	Snapshots  []SnapshotSummary `json:"snapshots"`
	Pagination Pagination        `json:"pagination"`
}

// ListSnapshots pages through a conversation's snapshots, newest first.
func ListSnapshots(ctx context.Context, database *sql.DB, input ListSnapshotsInput) (*ListSnapshotsOutput, error) {
	conversationID, err := validateConversationID(input.ConversationID)
	if err != nil {
		return nil, err
	}

	limit := clampLimit(input.Limit, DefaultListLimit, MaxListLimit)
	offset := max(input.Offset, 0)

	snapshots, total, err := store.ListSnapshots(ctx, database, conversationID, limit, offset)
	if err != nil {
		return nil, err
	}

	items := make([]SnapshotSummary, len(snapshots))
	for i := range snapshots {
		items[i] = summarize(&snapshots[i])
	}
	return &ListSnapshotsOutput{
		Snapshots: items,
		Pagination: Pagination{
			Limit:   limit,
			Offset:  offset,
			HasMore: offset+len(items) < total,
			Total:   total,
		},
	}, nil
}

// RebuildIndexesInput contains parameters for the RebuildIndexes operation.
type RebuildIndexesInput struct {
	ConversationID string
}

// RebuildIndexesOutput contains the result of the RebuildIndexes operation.
type RebuildIndexesOutput struct {
	ConversationID string `json:"conversation_id"`
	TimelineDays   int    `json:"timeline_days"`
}

// RebuildIndexes re-derives the timeline rollup and the search index of a
// conversation from the authoritative snapshot and revision tables.
func RebuildIndexes(ctx context.Context, database *sql.DB, input RebuildIndexesInput) (*RebuildIndexesOutput, error) {
	conversationID, err := validateConversationID(input.ConversationID)
	if err != nil {
		return nil, err
	}

	exists, err := store.ConversationExists(ctx, database, conversationID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, errors.NewNotFound("conversation", conversationID)
	}

	err = withTx(ctx, database, func(tx *sql.Tx) error {
		if err := store.RebuildTimelineDays(ctx, tx, conversationID); err != nil {
			return err
		}
		return store.RebuildSearchIndex(ctx, tx, conversationID)
	})
	if err != nil {
		return nil, err
	}

	days, err := store.TimelineDays(ctx, database, conversationID)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("conversation_id", conversationID).
		Int("timeline_days", len(days)).
		Msg("indexes rebuilt")
	return &RebuildIndexesOutput{
		ConversationID: conversationID,
		TimelineDays:   len(days),
	}, nil
}
