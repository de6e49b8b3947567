package ops

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/vellumdb/vellum/internal/config"
	"github.com/vellumdb/vellum/internal/errors"
	"github.com/vellumdb/vellum/internal/store"
)

// ExportInput contains parameters for the Export operation.
type ExportInput struct {
	ConversationID string
	// Path is optional; default is
	// ~/.vellum/exports/<conversation>-<timestamp>.jsonl.
	Path string
}

// ExportOutput contains the result of the Export operation.
type ExportOutput struct {
	Path             string `json:"path"`
	Snapshots        int    `json:"snapshots"`
	MessageRevisions int    `json:"message_revisions"`
	MediaRevisions   int    `json:"media_revisions"`
	RestoreRecords   int    `json:"restore_records"`
	ExportedAt       int64  `json:"exported_at"`
}

// exportHeader is the first line of a JSONL export file.
type exportHeader struct {
	VellumExport   bool   `json:"_vellum_export"`
	SchemaVersion  string `json:"schema_version"`
	ConversationID string `json:"conversation_id"`
	ExportedAt     int64  `json:"exported_at"`
}

// exportRecord wraps one exported row with its table name so imports can
// dispatch without sniffing fields.
type exportRecord struct {
	Table string `json:"table"`
	Row   any    `json:"row"`
}

// Export writes a conversation's complete history, snapshots, message and
// media revisions and restore records, to a JSONL file. The file is written
// to a temp path and atomically renamed into place, so a failed export never
// clobbers an existing file.
func Export(ctx context.Context, database *sql.DB, cfg *config.Config, input ExportInput) (*ExportOutput, error) {
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

	now := time.Now()
	exportPath := input.Path
	if exportPath == "" {
		exportPath, err = defaultExportPath(conversationID, now)
		if err != nil {
			return nil, err
		}
	}

	// Validate ALL paths (both user-provided and default) so a hostile
	// conversation id can never steer the default path out of the exports
	// directory.
	if err := ValidatePath(exportPath, PathCheckWrite, cfg); err != nil {
		return nil, err
	}

	dir := filepath.Dir(exportPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to create export directory: %w", err))
	}

	// Write to temp file first, then atomic rename to preserve any
	// existing file on failure
	randBytes := make([]byte, 8)
	if _, err := rand.Read(randBytes); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to generate temp file name: %w", err))
	}
	tempPath := exportPath + "." + hex.EncodeToString(randBytes) + ".tmp"
	file, err := openFileNoFollow(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to create export file: %w", err))
	}

	success := false
	defer func() {
		if file != nil {
			file.Close()
		}
		if !success {
			os.Remove(tempPath)
		}
	}()

	writeLine := func(v any) error {
		line, err := json.Marshal(v)
		if err != nil {
			return errors.NewInternal(err)
		}
		if _, err := file.Write(line); err != nil {
			return errors.NewInternal(err)
		}
		if _, err := file.Write([]byte("\n")); err != nil {
			return errors.NewInternal(err)
		}
		return nil
	}

	out := &ExportOutput{
		Path:       exportPath,
		ExportedAt: now.UnixMilli(),
	}
	header := exportHeader{
		VellumExport:   true,
		SchemaVersion:  "1.0",
		ConversationID: conversationID,
		ExportedAt:     out.ExportedAt,
	}
	if err := writeLine(header); err != nil {
		return nil, err
	}

	snapshots, err := store.ConversationSnapshots(ctx, database, conversationID)
	if err != nil {
		return nil, err
	}
	for i := range snapshots {
		if err := ctx.Err(); err != nil {
			return nil, errors.NewCancelled("export")
		}
		if err := writeLine(exportRecord{Table: "snapshots", Row: &snapshots[i]}); err != nil {
			return nil, err
		}
	}
	out.Snapshots = len(snapshots)

	messages, err := store.ConversationMessageRevisions(ctx, database, conversationID)
	if err != nil {
		return nil, err
	}
	for i := range messages {
		if err := ctx.Err(); err != nil {
			return nil, errors.NewCancelled("export")
		}
		if err := writeLine(exportRecord{Table: "message_revisions", Row: &messages[i]}); err != nil {
			return nil, err
		}
	}
	out.MessageRevisions = len(messages)

	media, err := store.ConversationMediaRevisions(ctx, database, conversationID)
	if err != nil {
		return nil, err
	}
	for i := range media {
		if err := writeLine(exportRecord{Table: "media_revisions", Row: &media[i]}); err != nil {
			return nil, err
		}
	}
	out.MediaRevisions = len(media)

	restores, err := store.RestoreRecords(ctx, database, conversationID)
	if err != nil {
		return nil, err
	}
	for i := range restores {
		if err := writeLine(exportRecord{Table: "restore_records", Row: &restores[i]}); err != nil {
			return nil, err
		}
	}
	out.RestoreRecords = len(restores)

	if err := file.Sync(); err != nil {
		return nil, errors.NewInternal(err)
	}

	// Close before atomic replace (required on Windows; fine elsewhere).
	if err := file.Close(); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to close export file: %w", err))
	}
	file = nil

	// os.Rename would follow a symlink destination
	if info, err := os.Lstat(exportPath); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return nil, errors.NewInternal(fmt.Errorf("export path is a symlink"))
	}

	// On Windows, os.Rename fails if the destination exists. Fail safely,
	// preserving the existing file, instead of a non-atomic delete+rename.
	if err := os.Rename(tempPath, exportPath); err != nil {
		if runtime.GOOS == "windows" {
			if _, statErr := os.Stat(exportPath); statErr == nil {
				return nil, errors.NewValidation("export destination already exists; overwriting is not supported on Windows yet (choose a new path or delete the existing file)")
			}
		}
		return nil, errors.NewInternal(fmt.Errorf("failed to finalize export: %w", err))
	}

	success = true
	return out, nil
}

// defaultExportPath generates the default export path:
// ~/.vellum/exports/<conversation>-<timestamp>.jsonl.
func defaultExportPath(conversationID string, now time.Time) (string, error) {
	exportsDir, err := DefaultExportsDir()
	if err != nil {
		return "", err
	}
	timestamp := now.Format("2006-01-02T150405")
	filename := fmt.Sprintf("%s-%s.jsonl", SanitizeForFilename(conversationID), timestamp)
	return filepath.Join(exportsDir, filename), nil
}
