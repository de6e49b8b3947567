package store

import (
	"context"
	"database/sql"

	"github.com/vellumdb/vellum/internal/errors"
	"github.com/vellumdb/vellum/internal/history"
)

const mediaColumns = `id, conversation_id, file_name, snapshot_id, storage_locator,
	storage_object_version, checksum, mime_type, size_bytes, source, revision_number,
	previous_revision_id, status, status_changed_in, created_at`

// AppendMediaRevision inserts a new media revision bound to one object-store
// locator/version.
func AppendMediaRevision(ctx context.Context, q DBTX, rev *history.MediaRevision) error {
	query := `
		INSERT INTO media_revisions (` + mediaColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := q.ExecContext(ctx, query,
		rev.ID, rev.ConversationID, rev.FileName, rev.SnapshotID, rev.StorageLocator,
		rev.StorageObjectVersion, rev.Checksum, toNullString(rev.MimeType), rev.SizeBytes,
		toNullString(rev.Source), rev.RevisionNumber, toNullString(rev.PreviousRevisionID),
		rev.Status, toNullString(rev.StatusChangedIn), rev.CreatedAt,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return errors.NewConflict(rev.ConversationID, rev.RevisionNumber)
		}
		return errors.NewInternal(err)
	}
	return nil
}

// GetMediaRevision retrieves one media revision by ID.
func GetMediaRevision(ctx context.Context, q DBTX, revisionID string) (*history.MediaRevision, error) {
	query := `
		SELECT ` + mediaColumns + `
		FROM media_revisions
		WHERE id = ?
	`
	rev, err := scanMediaRevision(q.QueryRowContext(ctx, query, revisionID))
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("media revision", revisionID)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return rev, nil
}

// ActiveMediaRevision returns the active revision for a file, or nil if the
// file has no active revision.
func ActiveMediaRevision(ctx context.Context, q DBTX, conversationID, fileName string) (*history.MediaRevision, error) {
	query := `
		SELECT ` + mediaColumns + `
		FROM media_revisions
		WHERE conversation_id = ? AND file_name = ? AND status = ?
		ORDER BY revision_number DESC
		LIMIT 1
	`
	rev, err := scanMediaRevision(q.QueryRowContext(ctx, query, conversationID, fileName, history.MediaActive))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return rev, nil
}

// ActiveMedia returns the active revision of every file in a conversation,
// ordered by file name.
func ActiveMedia(ctx context.Context, q DBTX, conversationID string) ([]history.MediaRevision, error) {
	query := `
		SELECT ` + mediaColumns + `
		FROM media_revisions
		WHERE conversation_id = ? AND status = ?
		ORDER BY file_name ASC, revision_number DESC
	`
	rows, err := q.QueryContext(ctx, query, conversationID, history.MediaActive)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	return collectMediaRevisions(rows)
}

// ConversationMediaRevisions returns every media revision of a conversation
// in write order, for export.
func ConversationMediaRevisions(ctx context.Context, q DBTX, conversationID string) ([]history.MediaRevision, error) {
	query := `
		SELECT ` + mediaColumns + `
		FROM media_revisions
		WHERE conversation_id = ?
		ORDER BY created_at ASC, id ASC
	`
	rows, err := q.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	return collectMediaRevisions(rows)
}

// MaxMediaRevisionNumber returns the highest revision number recorded for a
// file, or 0 when the file has never been uploaded.
func MaxMediaRevisionNumber(ctx context.Context, q DBTX, conversationID, fileName string) (int64, error) {
	var max sql.NullInt64
	query := `
		SELECT MAX(revision_number)
		FROM media_revisions
		WHERE conversation_id = ? AND file_name = ?
	`
	if err := q.QueryRowContext(ctx, query, conversationID, fileName).Scan(&max); err != nil {
		return 0, errors.NewInternal(err)
	}
	if !max.Valid {
		return 0, nil
	}
	return max.Int64, nil
}

// FileVersions returns every revision of a file, newest-first. Two uploads
// of the same name are never conflated; each remains independently listed.
func FileVersions(ctx context.Context, q DBTX, conversationID, fileName string) ([]history.MediaRevision, error) {
	query := `
		SELECT ` + mediaColumns + `
		FROM media_revisions
		WHERE conversation_id = ? AND file_name = ?
		ORDER BY revision_number DESC
	`
	rows, err := q.QueryContext(ctx, query, conversationID, fileName)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	revisions, err := collectMediaRevisions(rows)
	if err != nil {
		return nil, err
	}
	if len(revisions) == 0 {
		return nil, errors.NewNotFound("file", fileName)
	}
	return revisions, nil
}

// UpdateMediaStatus transitions a revision's status and records the snapshot
// in which the transition happened. Status is the only mutable field; rows
// are never deleted.
func UpdateMediaStatus(ctx context.Context, q DBTX, revisionID string, status history.MediaStatus, snapshotID string) error {
	query := `
		UPDATE media_revisions
		SET status = ?, status_changed_in = ?
		WHERE id = ?
	`
	result, err := q.ExecContext(ctx, query, status, snapshotID, revisionID)
	if err != nil {
		return errors.NewInternal(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if affected == 0 {
		return errors.NewNotFound("media revision", revisionID)
	}
	return nil
}

// MediaAtVersion reconstructs the file set as it stood at a snapshot
// version: for each file name, the highest revision whose owning snapshot's
// version is at or below the target, excluding files already soft-deleted by
// then.
func MediaAtVersion(ctx context.Context, q DBTX, conversationID string, targetVersion int64) ([]history.MediaRevision, error) {
	query := `
		SELECT ` + prefixedColumns("mr", mediaColumns) + `
		FROM media_revisions mr
		JOIN snapshots s ON s.id = mr.snapshot_id
		LEFT JOIN snapshots sc ON sc.id = mr.status_changed_in
		WHERE mr.conversation_id = ?
		  AND s.version <= ?
		  AND mr.revision_number = (
			SELECT MAX(mr2.revision_number)
			FROM media_revisions mr2
			JOIN snapshots s2 ON s2.id = mr2.snapshot_id
			WHERE mr2.conversation_id = mr.conversation_id
			  AND mr2.file_name = mr.file_name
			  AND s2.version <= ?
		  )
		  AND NOT (mr.status = ? AND sc.version IS NOT NULL AND sc.version <= ?)
		ORDER BY mr.file_name ASC
	`
	rows, err := q.QueryContext(ctx, query,
		conversationID, targetVersion, targetVersion, history.MediaSoftDeleted, targetVersion)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	return collectMediaRevisions(rows)
}

// CountActiveFiles counts the files with an active revision in a
// conversation.
func CountActiveFiles(ctx context.Context, q DBTX, conversationID string) (int, error) {
	var count int
	query := `
		SELECT COUNT(DISTINCT file_name)
		FROM media_revisions
		WHERE conversation_id = ? AND status = ?
	`
	if err := q.QueryRowContext(ctx, query, conversationID, history.MediaActive).Scan(&count); err != nil {
		return 0, errors.NewInternal(err)
	}
	return count, nil
}

// CountMediaRevisions counts every media revision row of a conversation.
func CountMediaRevisions(ctx context.Context, q DBTX, conversationID string) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM media_revisions WHERE conversation_id = ?`
	if err := q.QueryRowContext(ctx, query, conversationID).Scan(&count); err != nil {
		return 0, errors.NewInternal(err)
	}
	return count, nil
}

// TotalMediaBytes sums the sizes of all active file revisions in a
// conversation.
func TotalMediaBytes(ctx context.Context, q DBTX, conversationID string) (int64, error) {
	var total sql.NullInt64
	query := `
		SELECT SUM(size_bytes)
		FROM media_revisions
		WHERE conversation_id = ? AND status = ?
	`
	if err := q.QueryRowContext(ctx, query, conversationID, history.MediaActive).Scan(&total); err != nil {
		return 0, errors.NewInternal(err)
	}
	if !total.Valid {
		return 0, nil
	}
	return total.Int64, nil
}

// SearchFilesByName matches active file revisions whose name contains the
// query (case-insensitive LIKE, % and _ escaped).
func SearchFilesByName(ctx context.Context, q DBTX, conversationID, query string, limit int) ([]history.MediaRevision, error) {
	pattern := "%" + escapeLike(query) + "%"
	sqlQuery := `
		SELECT ` + mediaColumns + `
		FROM media_revisions
		WHERE conversation_id = ? AND status = ? AND file_name LIKE ? ESCAPE '\'
		ORDER BY file_name ASC, revision_number DESC
		LIMIT ?
	`
	rows, err := q.QueryContext(ctx, sqlQuery, conversationID, history.MediaActive, pattern, limit)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	return collectMediaRevisions(rows)
}

func scanMediaRevision(row rowScanner) (*history.MediaRevision, error) {
	var (
		rev             history.MediaRevision
		mimeType        sql.NullString
		source          sql.NullString
		previousID      sql.NullString
		statusChangedIn sql.NullString
	)
	err := row.Scan(
		&rev.ID, &rev.ConversationID, &rev.FileName, &rev.SnapshotID, &rev.StorageLocator,
		&rev.StorageObjectVersion, &rev.Checksum, &mimeType, &rev.SizeBytes,
		&source, &rev.RevisionNumber, &previousID, &rev.Status, &statusChangedIn, &rev.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	rev.MimeType = fromNullString(mimeType)
	rev.Source = fromNullString(source)
	rev.PreviousRevisionID = fromNullString(previousID)
	rev.StatusChangedIn = fromNullString(statusChangedIn)
	return &rev, nil
}

func collectMediaRevisions(rows *sql.Rows) ([]history.MediaRevision, error) {
	var revisions []history.MediaRevision
	for rows.Next() {
		rev, err := scanMediaRevision(rows)
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
