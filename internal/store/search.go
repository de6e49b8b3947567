package store

import (
	"context"
	"database/sql"
	"strings"

	"github.com/vellumdb/vellum/internal/errors"
	"github.com/vellumdb/vellum/internal/history"
)

// Snippet highlight markers produced by the FTS snippet() function. The ops
// layer converts them to HTML-safe <b> tags after escaping user content.
const (
	SnippetOpenMarker  = "[[[B]]]"
	SnippetCloseMarker = "[[[/B]]]"
	snippetTokens      = 12
)

// MessageMatch pairs a matched revision with its relevance-ranked snippet.
type MessageMatch struct {
	Revision history.MessageRevision
	Snippet  string
}

// IndexRevision adds a message revision's content to the full-text index.
// Called in the same transaction as the revision insert.
func IndexRevision(ctx context.Context, q DBTX, rev *history.MessageRevision) error {
	query := `
		INSERT INTO revision_fts (content, revision_id, message_id, conversation_id)
		VALUES (?, ?, ?, ?)
	`
	if _, err := q.ExecContext(ctx, query, rev.Content, rev.ID, rev.MessageID, rev.ConversationID); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// SearchMessages runs a full-text query over a conversation's message
// revisions, ranked by BM25. By default only currently active, non-deleted
// revisions match; includeSuperseded widens the search to the whole history.
func SearchMessages(ctx context.Context, q DBTX, conversationID, query string, includeSuperseded bool, limit, offset int) ([]MessageMatch, error) {
	ftsQuery := sanitizeFTSQuery(query)
	if ftsQuery == "" {
		return nil, nil
	}

	sqlQuery := `
		SELECT ` + prefixedColumns("mr", messageColumns) + `,
			snippet(revision_fts, 0, ?, ?, '...', ?) AS snip
		FROM revision_fts f
		JOIN message_revisions mr ON mr.id = f.revision_id
		WHERE revision_fts MATCH ?
		  AND f.conversation_id = ?
	`
	if !includeSuperseded {
		sqlQuery += ` AND mr.is_active = 1 AND mr.is_soft_deleted = 0`
	}
	sqlQuery += `
		ORDER BY bm25(revision_fts)
		LIMIT ? OFFSET ?
	`

	rows, err := q.QueryContext(ctx, sqlQuery,
		SnippetOpenMarker, SnippetCloseMarker, snippetTokens,
		ftsQuery, conversationID, limit, offset)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var matches []MessageMatch
	for rows.Next() {
		var (
			m             MessageMatch
			editReason    sql.NullString
			supersededAt  sql.NullInt64
			softDeletedIn sql.NullString
		)
		rev := &m.Revision
		if err := rows.Scan(
			&rev.ID, &rev.ConversationID, &rev.MessageID, &rev.SnapshotID, &rev.Content, &rev.Role,
			&rev.RevisionNumber, &rev.IsActive, &rev.IsSoftDeleted, &editReason,
			&supersededAt, &softDeletedIn,
			&rev.OriginalCreatedAt, &rev.CreatedAt, &m.Snippet,
		); err != nil {
			return nil, errors.NewInternal(err)
		}
		rev.EditReason = fromNullString(editReason)
		rev.SupersededAt = fromNullInt64(supersededAt)
		rev.SoftDeletedIn = fromNullString(softDeletedIn)
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return matches, nil
}

// RebuildSearchIndex re-derives a conversation's full-text rows from the
// authoritative message_revisions table.
func RebuildSearchIndex(ctx context.Context, q DBTX, conversationID string) error {
	if _, err := q.ExecContext(ctx,
		`DELETE FROM revision_fts WHERE conversation_id = ?`, conversationID); err != nil {
		return errors.NewInternal(err)
	}

	query := `
		INSERT INTO revision_fts (content, revision_id, message_id, conversation_id)
		SELECT content, id, message_id, conversation_id
		FROM message_revisions
		WHERE conversation_id = ?
	`
	if _, err := q.ExecContext(ctx, query, conversationID); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// sanitizeFTSQuery turns free-form user input into a safe FTS5 query:
// each whitespace-separated term becomes a quoted prefix token, so FTS
// operator syntax in the input cannot break the query.
func sanitizeFTSQuery(query string) string {
	terms := strings.Fields(query)
	if len(terms) == 0 {
		return ""
	}
	quoted := make([]string, 0, len(terms))
	for _, term := range terms {
		term = strings.ReplaceAll(term, `"`, `""`)
		quoted = append(quoted, `"`+term+`"*`)
	}
	return strings.Join(quoted, " ")
}

// escapeLike escapes LIKE wildcards in user input (backslash escape).
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}
