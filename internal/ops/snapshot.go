package ops

import (
	"context"
	"database/sql"

	"github.com/vellumdb/vellum/internal/history"
	"github.com/vellumdb/vellum/internal/store"
)

// snapshotSpec carries the trigger details for a snapshot written at the end
// of a tracked mutation.
type snapshotSpec struct {
	ConversationID string
	TriggerKind    history.TriggerKind
	TriggerRef     *string
	RestoredFrom   *string
	// ID, when set, was pre-generated so revision rows written earlier in
	// the same transaction could already reference the snapshot.
	ID string
}

// createSnapshot writes the snapshot row for a mutation that has already
// applied its revision writes in tx. The fingerprint and counts are computed
// from the post-mutation active state, so the snapshot certifies exactly what
// the transaction is about to commit. Version allocation relies on the unique
// (conversation_id, version) index: a concurrent writer that computed the
// same version loses with CONFLICT and the whole transaction rolls back.
func createSnapshot(ctx context.Context, tx *sql.Tx, spec snapshotSpec) (*history.Snapshot, error) {
	latest, err := store.LatestSnapshot(ctx, tx, spec.ConversationID)
	if err != nil {
		return nil, err
	}

	version := int64(1)
	var previousID *string
	if latest != nil {
		version = latest.Version + 1
		previousID = &latest.ID
	}

	active, err := store.ActiveMessages(ctx, tx, spec.ConversationID)
	if err != nil {
		return nil, err
	}
	fileCount, err := store.CountActiveFiles(ctx, tx, spec.ConversationID)
	if err != nil {
		return nil, err
	}

	id := spec.ID
	if id == "" {
		id, err = store.NewID()
		if err != nil {
			return nil, err
		}
	}

	s := &history.Snapshot{
		ID:                     id,
		ConversationID:         spec.ConversationID,
		Version:                version,
		CreatedAt:              store.NowMillis(),
		MessageCount:           len(active),
		FileCount:              fileCount,
		TriggerKind:            spec.TriggerKind,
		TriggerRef:             spec.TriggerRef,
		PreviousSnapshotID:     previousID,
		RestoredFromSnapshotID: spec.RestoredFrom,
		Fingerprint:            history.Fingerprint(active),
	}

	if err := store.AppendSnapshot(ctx, tx, s); err != nil {
		return nil, err
	}
	if err := store.UpsertTimelineDay(ctx, tx, s); err != nil {
		return nil, err
	}
	return s, nil
}

func summarize(s *history.Snapshot) SnapshotSummary {
	return SnapshotSummary{
		ID:           s.ID,
		Version:      s.Version,
		CreatedAt:    s.CreatedAt,
		MessageCount: s.MessageCount,
		FileCount:    s.FileCount,
		TriggerKind:  string(s.TriggerKind),
		TriggerRef:   s.TriggerRef,
		Fingerprint:  s.Fingerprint,
	}
}
