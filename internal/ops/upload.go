package ops

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/vellumdb/vellum/internal/config"
	"github.com/vellumdb/vellum/internal/errors"
	"github.com/vellumdb/vellum/internal/history"
	"github.com/vellumdb/vellum/internal/objectstore"
	"github.com/vellumdb/vellum/internal/store"
)

// UploadFileInput contains parameters for the UploadFile operation.
type UploadFileInput struct {
	ConversationID string
	FileName       string
	Data           []byte
	MimeType       *string
	// Source is "upload" (default) or "generated", selecting the snapshot
	// trigger.
	Source *string
}

// UploadFileOutput contains the result of the UploadFile operation.
type UploadFileOutput struct {
	RevisionID     string          `json:"revision_id"`
	FileName       string          `json:"file_name"`
	RevisionNumber int64           `json:"revision_number"`
	Locator        string          `json:"locator"`
	ObjectVersion  string          `json:"object_version"`
	Checksum       string          `json:"checksum"`
	SizeBytes      int64           `json:"size_bytes"`
	Snapshot       SnapshotSummary `json:"snapshot"`
}

// UploadFile stores file content as an immutable object and records a new
// media revision for the (conversation, file name) identity. A prior active
// revision is archived, never overwritten. The object write happens before
// the transaction; if the transaction rolls back the object is unreferenced
// but harmless, since puts never overwrite.
func UploadFile(ctx context.Context, database *sql.DB, objects objectstore.Store, cfg *config.Config, input UploadFileInput) (*UploadFileOutput, error) {
	conversationID, err := validateConversationID(input.ConversationID)
	if err != nil {
		return nil, err
	}
	fileName, err := validateFileName(input.FileName)
	if err != nil {
		return nil, err
	}
	if len(input.Data) == 0 {
		return nil, errors.NewValidation("file content is required")
	}
	maxBytes := config.DefaultConfig().MaxUploadBytes
	if cfg != nil && cfg.MaxUploadBytes > 0 {
		maxBytes = cfg.MaxUploadBytes
	}
	if int64(len(input.Data)) > maxBytes {
		return nil, errors.NewValidation(fmt.Sprintf("file exceeds maximum size of %d bytes", maxBytes))
	}

	trigger := history.TriggerFileUploaded
	source := "upload"
	if s := cleanOptionalString(input.Source); s != nil {
		switch *s {
		case "upload":
		case "generated":
			trigger = history.TriggerFileGenerated
			source = "generated"
		default:
			return nil, errors.NewValidation("source must be one of: upload, generated")
		}
	}
	mimeType := cleanOptionalString(input.MimeType)

	ref, err := objects.Put(ctx, input.Data)
	if err != nil {
		return nil, err
	}
	checksum := objectstore.Checksum(input.Data)

	var out *UploadFileOutput
	err = withTx(ctx, database, func(tx *sql.Tx) error {
		prior, err := store.ActiveMediaRevision(ctx, tx, conversationID, fileName)
		if err != nil {
			return err
		}
		maxRevision, err := store.MaxMediaRevisionNumber(ctx, tx, conversationID, fileName)
		if err != nil {
			return err
		}

		snapshotID, err := store.NewID()
		if err != nil {
			return err
		}
		revisionID, err := store.NewID()
		if err != nil {
			return err
		}

		var previousID *string
		if prior != nil {
			if err := store.UpdateMediaStatus(ctx, tx, prior.ID, history.MediaArchived, snapshotID); err != nil {
				return err
			}
			previousID = &prior.ID
		}

		rev := &history.MediaRevision{
			ID:                   revisionID,
			ConversationID:       conversationID,
			FileName:             fileName,
			SnapshotID:           snapshotID,
			StorageLocator:       ref.Locator,
			StorageObjectVersion: ref.ObjectVersion,
			Checksum:             checksum,
			MimeType:             mimeType,
			SizeBytes:            int64(len(input.Data)),
			Source:               &source,
			RevisionNumber:       maxRevision + 1,
			PreviousRevisionID:   previousID,
			Status:               history.MediaActive,
			CreatedAt:            store.NowMillis(),
		}
		if err := store.AppendMediaRevision(ctx, tx, rev); err != nil {
			return err
		}

		s, err := createSnapshot(ctx, tx, snapshotSpec{
			ConversationID: conversationID,
			TriggerKind:    trigger,
			TriggerRef:     &fileName,
			ID:             snapshotID,
		})
		if err != nil {
			return err
		}

		out = &UploadFileOutput{
			RevisionID:     revisionID,
			FileName:       fileName,
			RevisionNumber: rev.RevisionNumber,
			Locator:        ref.Locator,
			ObjectVersion:  ref.ObjectVersion,
			Checksum:       checksum,
			SizeBytes:      rev.SizeBytes,
			Snapshot:       summarize(s),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteFileInput contains parameters for the DeleteFile operation.
type DeleteFileInput struct {
	ConversationID string
	FileName       string
}

// DeleteFileOutput contains the result of the DeleteFile operation.
type DeleteFileOutput struct {
	FileName string          `json:"file_name"`
	Snapshot SnapshotSummary `json:"snapshot"`
}

// DeleteFile soft-deletes the active revision of a file. The stored object
// and every prior revision remain retrievable.
func DeleteFile(ctx context.Context, database *sql.DB, input DeleteFileInput) (*DeleteFileOutput, error) {
	conversationID, err := validateConversationID(input.ConversationID)
	if err != nil {
		return nil, err
	}
	fileName, err := validateFileName(input.FileName)
	if err != nil {
		return nil, err
	}

	var out *DeleteFileOutput
	err = withTx(ctx, database, func(tx *sql.Tx) error {
		active, err := store.ActiveMediaRevision(ctx, tx, conversationID, fileName)
		if err != nil {
			return err
		}
		if active == nil {
			return errors.NewNotFound("file", fileName)
		}

		snapshotID, err := store.NewID()
		if err != nil {
			return err
		}
		if err := store.UpdateMediaStatus(ctx, tx, active.ID, history.MediaSoftDeleted, snapshotID); err != nil {
			return err
		}

		s, err := createSnapshot(ctx, tx, snapshotSpec{
			ConversationID: conversationID,
			TriggerKind:    history.TriggerFileDeleted,
			TriggerRef:     &fileName,
			ID:             snapshotID,
		})
		if err != nil {
			return err
		}

		out = &DeleteFileOutput{
			FileName: fileName,
			Snapshot: summarize(s),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// FileVersionsInput contains parameters for the FileVersions operation.
type FileVersionsInput struct {
	ConversationID string
	FileName       string
}

// FileVersionItem is one media revision in a file's version history.
type FileVersionItem struct {
	RevisionID     string  `json:"revision_id"`
	RevisionNumber int64   `json:"revision_number"`
	Locator        string  `json:"locator"`
	ObjectVersion  string  `json:"object_version"`
	Checksum       string  `json:"checksum"`
	MimeType       *string `json:"mime_type,omitempty"`
	SizeBytes      int64   `json:"size_bytes"`
	Source         *string `json:"source,omitempty"`
	Status         string  `json:"status"`
	SnapshotID     string  `json:"snapshot_id"`
	CreatedAt      int64   `json:"created_at"`
}

// FileVersionsOutput contains the result of the FileVersions operation.
type FileVersionsOutput struct {
	FileName string            `json:"file_name"`
	Versions []FileVersionItem `json:"versions"`
}

// FileVersions returns every revision of a file, newest first.
func FileVersions(ctx context.Context, database *sql.DB, input FileVersionsInput) (*FileVersionsOutput, error) {
	conversationID, err := validateConversationID(input.ConversationID)
	if err != nil {
		return nil, err
	}
	fileName, err := validateFileName(input.FileName)
	if err != nil {
		return nil, err
	}

	revisions, err := store.FileVersions(ctx, database, conversationID, fileName)
	if err != nil {
		return nil, err
	}

	items := make([]FileVersionItem, len(revisions))
	for i, r := range revisions {
		items[i] = FileVersionItem{
			RevisionID:     r.ID,
			RevisionNumber: r.RevisionNumber,
			Locator:        r.StorageLocator,
			ObjectVersion:  r.StorageObjectVersion,
			Checksum:       r.Checksum,
			MimeType:       r.MimeType,
			SizeBytes:      r.SizeBytes,
			Source:         r.Source,
			Status:         string(r.Status),
			SnapshotID:     r.SnapshotID,
			CreatedAt:      r.CreatedAt,
		}
	}

	return &FileVersionsOutput{
		FileName: fileName,
		Versions: items,
	}, nil
}

// FileContentInput contains parameters for the FileContent operation.
type FileContentInput struct {
	RevisionID string
}

// FileContentOutput contains the result of the FileContent operation.
type FileContentOutput struct {
	FileName string
	MimeType *string
	Data     []byte
}

// FileContent retrieves the exact bytes of a media revision, any revision,
// not just the active one. The checksum recorded on the revision is verified
// against the retrieved content.
func FileContent(ctx context.Context, database *sql.DB, objects objectstore.Store, input FileContentInput) (*FileContentOutput, error) {
	revisionID, err := validateIdentifier("revision_id", input.RevisionID)
	if err != nil {
		return nil, err
	}

	rev, err := store.GetMediaRevision(ctx, database, revisionID)
	if err != nil {
		return nil, err
	}

	data, err := objects.Get(ctx, objectstore.Ref{
		Locator:       rev.StorageLocator,
		ObjectVersion: rev.StorageObjectVersion,
	})
	if err != nil {
		return nil, err
	}
	if objectstore.Checksum(data) != rev.Checksum {
		return nil, errors.NewIntegrity("file content does not match recorded checksum", map[string]any{
			"revision_id": rev.ID,
			"file_name":   rev.FileName,
			"expected":    rev.Checksum,
		})
	}

	return &FileContentOutput{
		FileName: rev.FileName,
		MimeType: rev.MimeType,
		Data:     data,
	}, nil
}
