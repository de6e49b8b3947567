package ops

import (
	"context"
	"database/sql"
	"fmt"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/vellumdb/vellum/internal/errors"
	"github.com/vellumdb/vellum/internal/history"
	"github.com/vellumdb/vellum/internal/store"
)

// RestoreInput contains parameters for the Restore operation. The target
// snapshot is selected by SnapshotID or Version. Scope-specific selectors:
// MessageID for single_message, FileName for single_file, MessageIDs for
// message_range.
type RestoreInput struct {
	ConversationID string
	SnapshotID     *string
	Version        *int64
	Scope          string
	MessageID      *string
	FileName       *string
	MessageIDs     []string
	Reason         *string
}

// RestoreOutput contains the result of the Restore operation.
type RestoreOutput struct {
	RestoreID          string          `json:"restore_id"`
	FromSnapshotID     string          `json:"from_snapshot_id"`
	ToSnapshotID       string          `json:"to_snapshot_id"`
	Snapshot           SnapshotSummary `json:"snapshot"`
	MessagesRestored   int             `json:"messages_restored"`
	FilesRestored      int             `json:"files_restored"`
	AffectedMessageIDs []string        `json:"affected_message_ids,omitempty"`
	AffectedFileNames  []string        `json:"affected_file_names,omitempty"`
}

// Restore re-applies the state of a past snapshot by writing new revisions
// forward. Nothing is rewound or deleted: restored content becomes the next
// revision of each affected entity, entities absent from the target are
// soft-deleted, and the restore itself produces a new snapshot plus an audit
// record, all in a single transaction.
func Restore(ctx context.Context, database *sql.DB, input RestoreInput) (*RestoreOutput, error) {
	conversationID, err := validateConversationID(input.ConversationID)
	if err != nil {
		return nil, err
	}
	scope := history.RestoreScope(input.Scope)
	if !history.ValidScope(scope) {
		return nil, errors.NewValidation("scope must be one of: full_chat, single_message, single_file, message_range, files_only")
	}
	if input.SnapshotID == nil && input.Version == nil {
		return nil, errors.NewValidation("specify the target snapshot by snapshot_id or version")
	}
	if input.SnapshotID != nil && input.Version != nil {
		return nil, errors.NewValidation("specify at most one of snapshot_id and version")
	}
	reason := cleanOptionalString(input.Reason)
	if reason != nil && utf8.RuneCountInString(*reason) > MaxReasonChars {
		return nil, errors.NewValidation(fmt.Sprintf("reason exceeds maximum length of %d characters", MaxReasonChars))
	}

	messageScope, fileScope, err := resolveScopeSelectors(scope, input)
	if err != nil {
		return nil, err
	}

	var out *RestoreOutput
	err = withTx(ctx, database, func(tx *sql.Tx) error {
		target, err := resolveSnapshot(ctx, tx, conversationID, input.SnapshotID, input.Version)
		if err != nil {
			return err
		}
		latest, err := store.LatestSnapshot(ctx, tx, conversationID)
		if err != nil {
			return err
		}

		targetMessages, err := store.MessagesAtVersion(ctx, tx, conversationID, target.Version)
		if err != nil {
			return err
		}
		targetMedia, err := store.MediaAtVersion(ctx, tx, conversationID, target.Version)
		if err != nil {
			return err
		}

		// Integrity gate: refuse to restore from a snapshot whose
		// certified state no longer reconstructs.
		if fp := history.Fingerprint(targetMessages); fp != target.Fingerprint {
			log.Error().
				Str("conversation_id", conversationID).
				Str("snapshot_id", target.ID).
				Int64("version", target.Version).
				Msg("restore refused: target snapshot fingerprint mismatch")
			return errors.NewIntegrity("target snapshot fingerprint does not match reconstructed state", map[string]any{
				"snapshot_id": target.ID,
				"version":     target.Version,
				"expected":    target.Fingerprint,
				"actual":      fp,
			})
		}

		snapshotID, err := store.NewID()
		if err != nil {
			return err
		}

		rst := &restorer{
			tx:             tx,
			conversationID: conversationID,
			snapshotID:     snapshotID,
			now:            store.NowMillis(),
		}

		if messageScope != nil {
			if err := rst.restoreMessages(ctx, targetMessages, *messageScope); err != nil {
				return err
			}
		}
		if fileScope != nil {
			if err := rst.restoreFiles(ctx, targetMedia, *fileScope); err != nil {
				return err
			}
		}

		s, err := createSnapshot(ctx, tx, snapshotSpec{
			ConversationID: conversationID,
			TriggerKind:    history.TriggerRestorePerformed,
			TriggerRef:     &target.ID,
			RestoredFrom:   &target.ID,
			ID:             snapshotID,
		})
		if err != nil {
			return err
		}

		restoreID, err := store.NewID()
		if err != nil {
			return err
		}
		record := &history.RestoreRecord{
			ID:                 restoreID,
			ConversationID:     conversationID,
			FromSnapshotID:     latest.ID,
			ToSnapshotID:       target.ID,
			Scope:              scope,
			Reason:             reason,
			AffectedMessageIDs: rst.affectedMessages,
			AffectedFileNames:  rst.affectedFiles,
			MessagesRestored:   rst.messagesRestored,
			FilesRestored:      rst.filesRestored,
			CreatedAt:          s.CreatedAt,
		}
		if err := store.AppendRestoreRecord(ctx, tx, record); err != nil {
			return err
		}

		out = &RestoreOutput{
			RestoreID:          restoreID,
			FromSnapshotID:     latest.ID,
			ToSnapshotID:       target.ID,
			Snapshot:           summarize(s),
			MessagesRestored:   rst.messagesRestored,
			FilesRestored:      rst.filesRestored,
			AffectedMessageIDs: rst.affectedMessages,
			AffectedFileNames:  rst.affectedFiles,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("conversation_id", conversationID).
		Str("restore_id", out.RestoreID).
		Str("from_snapshot_id", out.FromSnapshotID).
		Str("to_snapshot_id", out.ToSnapshotID).
		Str("scope", string(scope)).
		Int("messages_restored", out.MessagesRestored).
		Int("files_restored", out.FilesRestored).
		Msg("restore committed")
	return out, nil
}

// RestoreHistoryInput contains parameters for the RestoreHistory operation.
type RestoreHistoryInput struct {
	ConversationID string
}

// RestoreHistoryOutput contains the result of the RestoreHistory operation.
type RestoreHistoryOutput struct {
	ConversationID string                  `json:"conversation_id"`
	Restores       []history.RestoreRecord `json:"restores"`
}

// RestoreHistory returns a conversation's restore audit trail, newest first.
func RestoreHistory(ctx context.Context, database *sql.DB, input RestoreHistoryInput) (*RestoreHistoryOutput, error) {
	conversationID, err := validateConversationID(input.ConversationID)
	if err != nil {
		return nil, err
	}
	records, err := store.RestoreRecords(ctx, database, conversationID)
	if err != nil {
		return nil, err
	}
	return &RestoreHistoryOutput{
		ConversationID: conversationID,
		Restores:       records,
	}, nil
}

// messageSelection names which messages a restore touches. All=true covers
// the full reconstructed set plus soft-deletion of messages created after
// the target.
type messageSelection struct {
	All bool
	IDs []string
}

// fileSelection is the file-side counterpart of messageSelection.
type fileSelection struct {
	All   bool
	Names []string
}

// resolveScopeSelectors validates the scope-specific selectors and derives
// the message and file selections. A nil selection means that side of the
// state is untouched.
func resolveScopeSelectors(scope history.RestoreScope, input RestoreInput) (*messageSelection, *fileSelection, error) {
	switch scope {
	case history.ScopeFullChat:
		return &messageSelection{All: true}, &fileSelection{All: true}, nil

	case history.ScopeSingleMessage:
		id := cleanOptionalString(input.MessageID)
		if id == nil {
			return nil, nil, errors.NewValidation("message_id is required for single_message scope")
		}
		return &messageSelection{IDs: []string{*id}}, nil, nil

	case history.ScopeSingleFile:
		name := cleanOptionalString(input.FileName)
		if name == nil {
			return nil, nil, errors.NewValidation("file_name is required for single_file scope")
		}
		return nil, &fileSelection{Names: []string{*name}}, nil

	case history.ScopeMessageRange:
		if len(input.MessageIDs) == 0 {
			return nil, nil, errors.NewValidation("message_ids is required for message_range scope")
		}
		ids := make([]string, 0, len(input.MessageIDs))
		seen := make(map[string]bool)
		for _, raw := range input.MessageIDs {
			id, err := validateIdentifier("message_ids entry", raw)
			if err != nil {
				return nil, nil, err
			}
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
		return &messageSelection{IDs: ids}, nil, nil

	case history.ScopeFilesOnly:
		return nil, &fileSelection{All: true}, nil
	}
	return nil, nil, errors.NewValidation("unknown scope")
}

// restorer accumulates the per-entity work of one restore transaction.
type restorer struct {
	tx             *sql.Tx
	conversationID string
	snapshotID     string
	now            int64

	messagesRestored int
	filesRestored    int
	affectedMessages []string
	affectedFiles    []string
}

// restoreMessages re-applies the target revision of each selected message.
// A message whose active content already equals the target content is left
// alone. With All selection, messages present now but absent from the target
// are soft-deleted.
func (r *restorer) restoreMessages(ctx context.Context, target []history.MessageRevision, sel messageSelection) error {
	byID := make(map[string]*history.MessageRevision, len(target))
	for i := range target {
		byID[target[i].MessageID] = &target[i]
	}

	ids := sel.IDs
	if sel.All {
		ids = make([]string, 0, len(target))
		for _, rev := range target {
			ids = append(ids, rev.MessageID)
		}
	}

	for _, messageID := range ids {
		targetRev, ok := byID[messageID]
		if !ok {
			return errors.NewNotFound("message in target snapshot", messageID)
		}
		active, err := store.ActiveMessageRevision(ctx, r.tx, messageID)
		if err != nil {
			return err
		}
		if active == nil {
			return errors.NewIntegrity("message has no active revision", map[string]any{
				"message_id": messageID,
			})
		}
		if !active.IsSoftDeleted && active.Content == targetRev.Content {
			continue
		}

		if err := r.writeRestoredRevision(ctx, active, targetRev); err != nil {
			return err
		}
		r.messagesRestored++
		r.affectedMessages = append(r.affectedMessages, messageID)
	}

	if sel.All {
		current, err := store.ActiveMessages(ctx, r.tx, r.conversationID)
		if err != nil {
			return err
		}
		for i := range current {
			if _, inTarget := byID[current[i].MessageID]; inTarget {
				continue
			}
			// Skip the revisions this restore just wrote
			if current[i].SnapshotID == r.snapshotID {
				continue
			}
			if err := store.SoftDeleteMessageRevision(ctx, r.tx, current[i].ID, r.snapshotID); err != nil {
				return err
			}
			r.affectedMessages = append(r.affectedMessages, current[i].MessageID)
		}
	}
	return nil
}

// writeRestoredRevision supersedes the active revision with a copy of the
// target revision's content.
func (r *restorer) writeRestoredRevision(ctx context.Context, active, targetRev *history.MessageRevision) error {
	revisionID, err := store.NewID()
	if err != nil {
		return err
	}
	if err := store.DeactivateMessageRevision(ctx, r.tx, active.ID, r.now); err != nil {
		return err
	}
	rev := &history.MessageRevision{
		ID:                revisionID,
		ConversationID:    active.ConversationID,
		MessageID:         active.MessageID,
		SnapshotID:        r.snapshotID,
		Content:           targetRev.Content,
		Role:              targetRev.Role,
		RevisionNumber:    active.RevisionNumber + 1,
		IsActive:          true,
		OriginalCreatedAt: active.OriginalCreatedAt,
		CreatedAt:         r.now,
	}
	if err := store.AppendMessageRevision(ctx, r.tx, rev); err != nil {
		return err
	}
	return store.IndexRevision(ctx, r.tx, rev)
}

// restoreFiles re-applies the target revision of each selected file. The
// restored revision reuses the target's immutable object; no bytes move.
func (r *restorer) restoreFiles(ctx context.Context, target []history.MediaRevision, sel fileSelection) error {
	byName := make(map[string]*history.MediaRevision, len(target))
	for i := range target {
		byName[target[i].FileName] = &target[i]
	}

	names := sel.Names
	if sel.All {
		names = make([]string, 0, len(target))
		for _, rev := range target {
			names = append(names, rev.FileName)
		}
	}

	for _, fileName := range names {
		targetRev, ok := byName[fileName]
		if !ok {
			return errors.NewNotFound("file in target snapshot", fileName)
		}

		versions, err := store.FileVersions(ctx, r.tx, r.conversationID, fileName)
		if err != nil {
			return err
		}
		newest := &versions[0]
		if newest.Status == history.MediaActive &&
			newest.StorageLocator == targetRev.StorageLocator &&
			newest.StorageObjectVersion == targetRev.StorageObjectVersion {
			continue
		}

		revisionID, err := store.NewID()
		if err != nil {
			return err
		}
		if newest.Status == history.MediaActive {
			if err := store.UpdateMediaStatus(ctx, r.tx, newest.ID, history.MediaArchived, r.snapshotID); err != nil {
				return err
			}
		}
		rev := &history.MediaRevision{
			ID:                   revisionID,
			ConversationID:       r.conversationID,
			FileName:             fileName,
			SnapshotID:           r.snapshotID,
			StorageLocator:       targetRev.StorageLocator,
			StorageObjectVersion: targetRev.StorageObjectVersion,
			Checksum:             targetRev.Checksum,
			MimeType:             targetRev.MimeType,
			SizeBytes:            targetRev.SizeBytes,
			Source:               targetRev.Source,
			RevisionNumber:       newest.RevisionNumber + 1,
			PreviousRevisionID:   &newest.ID,
			Status:               history.MediaActive,
			CreatedAt:            r.now,
		}
		if err := store.AppendMediaRevision(ctx, r.tx, rev); err != nil {
			return err
		}
		r.filesRestored++
		r.affectedFiles = append(r.affectedFiles, fileName)
	}

	if sel.All {
		current, err := store.ActiveMedia(ctx, r.tx, r.conversationID)
		if err != nil {
			return err
		}
		for i := range current {
			if _, inTarget := byName[current[i].FileName]; inTarget {
				continue
			}
			if current[i].SnapshotID == r.snapshotID {
				continue
			}
			if err := store.UpdateMediaStatus(ctx, r.tx, current[i].ID, history.MediaSoftDeleted, r.snapshotID); err != nil {
				return err
			}
			r.affectedFiles = append(r.affectedFiles, current[i].FileName)
		}
	}
	return nil
}
