package ops

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/vellumdb/vellum/internal/errors"
	"github.com/vellumdb/vellum/internal/history"
	"github.com/vellumdb/vellum/internal/objectstore"
	"github.com/vellumdb/vellum/internal/store"
)

// StateInput contains parameters for the State operation. At most one of
// SnapshotID and Version selects the target; neither means the latest
// snapshot.
type StateInput struct {
	ConversationID string
	SnapshotID     *string
	Version        *int64
}

// StateMessage is one message in a reconstructed conversation state.
type StateMessage struct {
	MessageID      string `json:"message_id"`
	RevisionID     string `json:"revision_id"`
	RevisionNumber int64  `json:"revision_number"`
	Content        string `json:"content"`
	Preview        string `json:"preview"`
	Role           string `json:"role"`
	CreatedAt      int64  `json:"created_at"`
}

// StateFile is one file in a reconstructed conversation state.
type StateFile struct {
	FileName       string  `json:"file_name"`
	RevisionID     string  `json:"revision_id"`
	RevisionNumber int64   `json:"revision_number"`
	Locator        string  `json:"locator"`
	ObjectVersion  string  `json:"object_version"`
	Checksum       string  `json:"checksum"`
	MimeType       *string `json:"mime_type,omitempty"`
	SizeBytes      int64   `json:"size_bytes"`
	Status         string  `json:"status"`
}

// StateOutput contains the result of the State operation.
type StateOutput struct {
	Snapshot SnapshotSummary `json:"snapshot"`
	Messages []StateMessage  `json:"messages"`
	Files    []StateFile     `json:"files"`
}

// State reconstructs the complete conversation state as of a snapshot and
// re-verifies the snapshot's fingerprint against the reconstruction. A
// mismatch means the revision rows no longer agree with what the snapshot
// certified and surfaces as INTEGRITY.
func State(ctx context.Context, database *sql.DB, input StateInput) (*StateOutput, error) {
	conversationID, err := validateConversationID(input.ConversationID)
	if err != nil {
		return nil, err
	}
	if input.SnapshotID != nil && input.Version != nil {
		return nil, errors.NewValidation("specify at most one of snapshot_id and version")
	}

	target, err := resolveSnapshot(ctx, database, conversationID, input.SnapshotID, input.Version)
	if err != nil {
		return nil, err
	}

	messages, err := store.MessagesAtVersion(ctx, database, conversationID, target.Version)
	if err != nil {
		return nil, err
	}
	media, err := store.MediaAtVersion(ctx, database, conversationID, target.Version)
	if err != nil {
		return nil, err
	}

	if fp := history.Fingerprint(messages); fp != target.Fingerprint {
		log.Error().
			Str("conversation_id", conversationID).
			Str("snapshot_id", target.ID).
			Int64("version", target.Version).
			Msg("snapshot fingerprint mismatch on state read")
		return nil, errors.NewIntegrity("snapshot fingerprint does not match reconstructed state", map[string]any{
			"snapshot_id": target.ID,
			"version":     target.Version,
			"expected":    target.Fingerprint,
			"actual":      fp,
		})
	}

	out := &StateOutput{
		Snapshot: summarize(target),
		Messages: make([]StateMessage, len(messages)),
		Files:    make([]StateFile, len(media)),
	}
	for i, m := range messages {
		out.Messages[i] = StateMessage{
			MessageID:      m.MessageID,
			RevisionID:     m.ID,
			RevisionNumber: m.RevisionNumber,
			Content:        m.Content,
			Preview:        history.Preview(m.Content, history.DefaultPreviewChars),
			Role:           m.Role,
			CreatedAt:      m.CreatedAt,
		}
	}
	for i, f := range media {
		out.Files[i] = StateFile{
			FileName:       f.FileName,
			RevisionID:     f.ID,
			RevisionNumber: f.RevisionNumber,
			Locator:        f.StorageLocator,
			ObjectVersion:  f.StorageObjectVersion,
			Checksum:       f.Checksum,
			MimeType:       f.MimeType,
			SizeBytes:      f.SizeBytes,
			Status:         string(f.Status),
		}
	}
	return out, nil
}

// VerifyInput contains parameters for the Verify operation.
type VerifyInput struct {
	ConversationID string
	// SnapshotID optionally bounds the verification; default is the latest
	// snapshot.
	SnapshotID *string
	// VerifyObjects additionally fetches every file active at the target
	// and re-checks content checksums against the object store.
	VerifyObjects bool
}

// VerifyOutput contains the result of the Verify operation.
type VerifyOutput struct {
	ConversationID    string `json:"conversation_id"`
	TargetSnapshotID  string `json:"target_snapshot_id"`
	SnapshotsVerified int    `json:"snapshots_verified"`
	ObjectsVerified   int    `json:"objects_verified"`
}

// Verify walks the snapshot chain from the root to the target and proves the
// conversation's integrity: version numbers are gapless, lineage pointers
// are consistent, and every snapshot's fingerprint matches the state
// reconstructed at its version. Any discrepancy surfaces as INTEGRITY.
func Verify(ctx context.Context, database *sql.DB, objects objectstore.Store, input VerifyInput) (*VerifyOutput, error) {
	conversationID, err := validateConversationID(input.ConversationID)
	if err != nil {
		return nil, err
	}

	target, err := resolveSnapshot(ctx, database, conversationID, input.SnapshotID, nil)
	if err != nil {
		return nil, err
	}

	chain, err := store.SnapshotChain(ctx, database, conversationID, target.ID)
	if err != nil {
		return nil, err
	}

	for i, s := range chain {
		if err := ctx.Err(); err != nil {
			return nil, errors.NewCancelled("verify")
		}

		want := int64(i + 1)
		if s.Version != want {
			return nil, errors.NewIntegrity("snapshot chain has a version gap", map[string]any{
				"snapshot_id": s.ID,
				"expected":    want,
				"actual":      s.Version,
			})
		}
		if i == 0 && s.PreviousSnapshotID != nil {
			return nil, errors.NewIntegrity("root snapshot has a previous pointer", map[string]any{
				"snapshot_id": s.ID,
			})
		}

		messages, err := store.MessagesAtVersion(ctx, database, conversationID, s.Version)
		if err != nil {
			return nil, err
		}
		if fp := history.Fingerprint(messages); fp != s.Fingerprint {
			log.Error().
				Str("conversation_id", conversationID).
				Str("snapshot_id", s.ID).
				Int64("version", s.Version).
				Msg("snapshot fingerprint mismatch during chain verification")
			return nil, errors.NewIntegrity("snapshot fingerprint does not match reconstructed state", map[string]any{
				"snapshot_id": s.ID,
				"version":     s.Version,
				"expected":    s.Fingerprint,
				"actual":      fp,
			})
		}
	}

	objectsVerified := 0
	if input.VerifyObjects {
		media, err := store.MediaAtVersion(ctx, database, conversationID, target.Version)
		if err != nil {
			return nil, err
		}
		for _, f := range media {
			if err := ctx.Err(); err != nil {
				return nil, errors.NewCancelled("verify")
			}
			data, err := objects.Get(ctx, objectstore.Ref{
				Locator:       f.StorageLocator,
				ObjectVersion: f.StorageObjectVersion,
			})
			if err != nil {
				return nil, err
			}
			if objectstore.Checksum(data) != f.Checksum {
				log.Error().
					Str("conversation_id", conversationID).
					Str("revision_id", f.ID).
					Str("file_name", f.FileName).
					Msg("stored object does not match recorded checksum")
				return nil, errors.NewIntegrity("file content does not match recorded checksum", map[string]any{
					"revision_id": f.ID,
					"file_name":   f.FileName,
					"expected":    f.Checksum,
				})
			}
			objectsVerified++
		}
	}

	return &VerifyOutput{
		ConversationID:    conversationID,
		TargetSnapshotID:  target.ID,
		SnapshotsVerified: len(chain),
		ObjectsVerified:   objectsVerified,
	}, nil
}

// resolveSnapshot resolves the target snapshot by ID, by version, or to the
// latest snapshot when neither is given.
func resolveSnapshot(ctx context.Context, q store.DBTX, conversationID string, snapshotID *string, version *int64) (*history.Snapshot, error) {
	if id := cleanOptionalString(snapshotID); id != nil {
		return store.GetSnapshot(ctx, q, conversationID, *id)
	}
	if version != nil {
		if *version < 1 {
			return nil, errors.NewValidation(fmt.Sprintf("version must be positive, got %d", *version))
		}
		return store.GetSnapshotByVersion(ctx, q, conversationID, *version)
	}
	latest, err := store.LatestSnapshot(ctx, q, conversationID)
	if err != nil {
		return nil, err
	}
	if latest == nil {
		return nil, errors.NewNotFound("conversation", conversationID)
	}
	return latest, nil
}
