package store

import (
	"context"
	"database/sql"

	"github.com/vellumdb/vellum/internal/errors"
	"github.com/vellumdb/vellum/internal/history"
)

const messageColumns = `id, conversation_id, message_id, snapshot_id, content, role,
	revision_number, is_active, is_soft_deleted, edit_reason, superseded_at,
	soft_deleted_in, original_created_at, created_at`

// AppendMessageRevision inserts a new message revision. Revisions are
// immutable once written; the partial unique index on active rows rejects a
// second active revision for the same stable message identity.
func AppendMessageRevision(ctx context.Context, q DBTX, rev *history.MessageRevision) error {
	query := `
		INSERT INTO message_revisions (` + messageColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := q.ExecContext(ctx, query,
		rev.ID, rev.ConversationID, rev.MessageID, rev.SnapshotID, rev.Content, rev.Role,
		rev.RevisionNumber, rev.IsActive, rev.IsSoftDeleted, toNullString(rev.EditReason),
		toNullInt64(rev.SupersededAt), toNullString(rev.SoftDeletedIn),
		rev.OriginalCreatedAt, rev.CreatedAt,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return errors.NewConflict(rev.ConversationID, rev.RevisionNumber)
		}
		return errors.NewInternal(err)
	}
	return nil
}

// ActiveMessageRevision returns the active revision for a stable message
// identity, or nil if the message has no revisions.
func ActiveMessageRevision(ctx context.Context, q DBTX, messageID string) (*history.MessageRevision, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM message_revisions
		WHERE message_id = ? AND is_active = 1
	`
	rev, err := scanMessageRevision(q.QueryRowContext(ctx, query, messageID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return rev, nil
}

// DeactivateMessageRevision flips is_active off and stamps superseded_at.
// This and the soft-delete flip are the only mutations revisions ever see.
func DeactivateMessageRevision(ctx context.Context, q DBTX, revisionID string, supersededAt int64) error {
	query := `
		UPDATE message_revisions
		SET is_active = 0, superseded_at = ?
		WHERE id = ? AND is_active = 1
	`
	result, err := q.ExecContext(ctx, query, supersededAt, revisionID)
	if err != nil {
		return errors.NewInternal(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if affected == 0 {
		return errors.NewNotFound("active message revision", revisionID)
	}
	return nil
}

// SoftDeleteMessageRevision marks the revision soft-deleted and records the
// snapshot in which the deletion happened, so reconstruction can tell
// whether the message was already deleted at a given historical point.
func SoftDeleteMessageRevision(ctx context.Context, q DBTX, revisionID, snapshotID string) error {
	query := `
		UPDATE message_revisions
		SET is_soft_deleted = 1, soft_deleted_in = ?
		WHERE id = ? AND is_soft_deleted = 0
	`
	result, err := q.ExecContext(ctx, query, snapshotID, revisionID)
	if err != nil {
		return errors.NewInternal(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if affected == 0 {
		return errors.NewNotFound("message revision", revisionID)
	}
	return nil
}

// ActiveMessages returns all active, non-deleted message revisions of a
// conversation in fingerprint order (original creation time, then message
// id).
func ActiveMessages(ctx context.Context, q DBTX, conversationID string) ([]history.MessageRevision, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM message_revisions
		WHERE conversation_id = ? AND is_active = 1 AND is_soft_deleted = 0
		ORDER BY original_created_at ASC, message_id ASC
	`
	rows, err := q.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	return collectMessageRevisions(rows)
}

// ConversationMessageRevisions returns every message revision of a
// conversation in write order, for export.
func ConversationMessageRevisions(ctx context.Context, q DBTX, conversationID string) ([]history.MessageRevision, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM message_revisions
		WHERE conversation_id = ?
		ORDER BY created_at ASC, id ASC
	`
	rows, err := q.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	return collectMessageRevisions(rows)
}

// MessageExists reports whether any revision was ever recorded for the
// stable message identity.
func MessageExists(ctx context.Context, q DBTX, messageID string) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx,
		"SELECT 1 FROM message_revisions WHERE message_id = ? LIMIT 1", messageID,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.NewInternal(err)
	}
	return true, nil
}

// MessageHistory returns every revision of a stable message identity in
// revision order. No revision is ever overwritten, so this is the complete
// edit history.
func MessageHistory(ctx context.Context, q DBTX, messageID string) ([]history.MessageRevision, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM message_revisions
		WHERE message_id = ?
		ORDER BY revision_number ASC
	`
	rows, err := q.QueryContext(ctx, query, messageID)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	revisions, err := collectMessageRevisions(rows)
	if err != nil {
		return nil, err
	}
	if len(revisions) == 0 {
		return nil, errors.NewNotFound("message", messageID)
	}
	return revisions, nil
}

// MessagesAtVersion reconstructs the message set as it stood at a snapshot
// version: for each stable message identity, the highest revision whose
// owning snapshot's version is at or below the target, excluding messages
// that were already soft-deleted by then. Results come back in fingerprint
// order.
func MessagesAtVersion(ctx context.Context, q DBTX, conversationID string, targetVersion int64) ([]history.MessageRevision, error) {
	query := `
		SELECT ` + prefixedColumns("mr", messageColumns) + `
		FROM message_revisions mr
		JOIN snapshots s ON s.id = mr.snapshot_id
		LEFT JOIN snapshots sd ON sd.id = mr.soft_deleted_in
		WHERE mr.conversation_id = ?
		  AND s.version <= ?
		  AND mr.revision_number = (
			SELECT MAX(mr2.revision_number)
			FROM message_revisions mr2
			JOIN snapshots s2 ON s2.id = mr2.snapshot_id
			WHERE mr2.message_id = mr.message_id AND s2.version <= ?
		  )
		  AND NOT (mr.is_soft_deleted = 1 AND sd.version IS NOT NULL AND sd.version <= ?)
		ORDER BY mr.original_created_at ASC, mr.message_id ASC
	`
	rows, err := q.QueryContext(ctx, query, conversationID, targetVersion, targetVersion, targetVersion)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	return collectMessageRevisions(rows)
}

// CountActiveMessages counts the active, non-deleted messages of a
// conversation.
func CountActiveMessages(ctx context.Context, q DBTX, conversationID string) (int, error) {
	var count int
	query := `
		SELECT COUNT(*)
		FROM message_revisions
		WHERE conversation_id = ? AND is_active = 1 AND is_soft_deleted = 0
	`
	if err := q.QueryRowContext(ctx, query, conversationID).Scan(&count); err != nil {
		return 0, errors.NewInternal(err)
	}
	return count, nil
}

// CountMessageRevisions counts every revision row of a conversation,
// including inactive and soft-deleted ones. Historical row counts never
// decrease.
func CountMessageRevisions(ctx context.Context, q DBTX, conversationID string) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM message_revisions WHERE conversation_id = ?`
	if err := q.QueryRowContext(ctx, query, conversationID).Scan(&count); err != nil {
		return 0, errors.NewInternal(err)
	}
	return count, nil
}

func scanMessageRevision(row rowScanner) (*history.MessageRevision, error) {
	var (
		rev           history.MessageRevision
		editReason    sql.NullString
		supersededAt  sql.NullInt64
		softDeletedIn sql.NullString
	)
	err := row.Scan(
		&rev.ID, &rev.ConversationID, &rev.MessageID, &rev.SnapshotID, &rev.Content, &rev.Role,
		&rev.RevisionNumber, &rev.IsActive, &rev.IsSoftDeleted, &editReason, &supersededAt,
		&softDeletedIn, &rev.OriginalCreatedAt, &rev.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	rev.EditReason = fromNullString(editReason)
	rev.SupersededAt = fromNullInt64(supersededAt)
	rev.SoftDeletedIn = fromNullString(softDeletedIn)
	return &rev, nil
}

func collectMessageRevisions(rows *sql.Rows) ([]history.MessageRevision, error) {
	var revisions []history.MessageRevision
	for rows.Next() {
		rev, err := scanMessageRevision(rows)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		revisions = append(revisions, *rev)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return revisions, nil
}
