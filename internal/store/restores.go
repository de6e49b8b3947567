package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/vellumdb/vellum/internal/errors"
	"github.com/vellumdb/vellum/internal/history"
)

const restoreColumns = `id, conversation_id, from_snapshot_id, to_snapshot_id, scope, reason,
	affected_message_ids, affected_file_names, messages_restored, files_restored, created_at`

// AppendRestoreRecord inserts an audit entry for a completed restore.
// Records are immutable and only ever written by the restore engine.
func AppendRestoreRecord(ctx context.Context, q DBTX, rec *history.RestoreRecord) error {
	messageIDs, err := marshalStringList(rec.AffectedMessageIDs)
	if err != nil {
		return errors.NewInternal(err)
	}
	fileNames, err := marshalStringList(rec.AffectedFileNames)
	if err != nil {
		return errors.NewInternal(err)
	}

	query := `
		INSERT INTO restore_records (` + restoreColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = q.ExecContext(ctx, query,
		rec.ID, rec.ConversationID, rec.FromSnapshotID, rec.ToSnapshotID, rec.Scope,
		toNullString(rec.Reason), messageIDs, fileNames,
		rec.MessagesRestored, rec.FilesRestored, rec.CreatedAt,
	)
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// RestoreRecords returns a conversation's restore audit trail, newest-first.
func RestoreRecords(ctx context.Context, q DBTX, conversationID string) ([]history.RestoreRecord, error) {
	query := `
		SELECT ` + restoreColumns + `
		FROM restore_records
		WHERE conversation_id = ?
		ORDER BY created_at DESC, id DESC
	`
	rows, err := q.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var records []history.RestoreRecord
	for rows.Next() {
		rec, err := scanRestoreRecord(rows)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return records, nil
}

func scanRestoreRecord(row rowScanner) (*history.RestoreRecord, error) {
	var (
		rec        history.RestoreRecord
		reason     sql.NullString
		messageIDs sql.NullString
		fileNames  sql.NullString
	)
	err := row.Scan(
		&rec.ID, &rec.ConversationID, &rec.FromSnapshotID, &rec.ToSnapshotID, &rec.Scope,
		&reason, &messageIDs, &fileNames, &rec.MessagesRestored, &rec.FilesRestored, &rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.Reason = fromNullString(reason)
	if rec.AffectedMessageIDs, err = unmarshalStringList(messageIDs); err != nil {
		return nil, err
	}
	if rec.AffectedFileNames, err = unmarshalStringList(fileNames); err != nil {
		return nil, err
	}
	return &rec, nil
}

func marshalStringList(list []string) (sql.NullString, error) {
	if len(list) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(list)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func unmarshalStringList(ns sql.NullString) ([]string, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	var list []string
	if err := json.Unmarshal([]byte(ns.String), &list); err != nil {
		return nil, err
	}
	return list, nil
}
