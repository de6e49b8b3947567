package ops

import (
	"context"
	"database/sql"
	"fmt"
	"html"
	"strings"
	"unicode/utf8"

	"github.com/vellumdb/vellum/internal/errors"
	"github.com/vellumdb/vellum/internal/store"
)

// SearchInput contains parameters for the Search operation.
type SearchInput struct {
	ConversationID string
	Query          string // required
	// IncludeHistorical extends the search to superseded and soft-deleted
	// revisions, i.e. content no longer visible in the current state.
	IncludeHistorical bool
	Limit             int // default: 20, max: 100
	Offset            int // default: 0
}

// MessageSearchItem is one message revision matched by full-text search.
type MessageSearchItem struct {
	MessageID      string `json:"message_id"`
	RevisionID     string `json:"revision_id"`
	RevisionNumber int64  `json:"revision_number"`
	Role           string `json:"role"`
	IsActive       bool   `json:"is_active"`
	IsSoftDeleted  bool   `json:"is_soft_deleted"`
	SnapshotID     string `json:"snapshot_id"`
	CreatedAt      int64  `json:"created_at"`
	// Snippet is HTML-safe: user-controlled content is escaped; only
	// <b>...</b> highlight tags are present.
	Snippet string `json:"snippet"`
}

// FileSearchItem is one file matched by name.
type FileSearchItem struct {
	FileName       string `json:"file_name"`
	RevisionID     string `json:"revision_id"`
	RevisionNumber int64  `json:"revision_number"`
	Status         string `json:"status"`
	SizeBytes      int64  `json:"size_bytes"`
	CreatedAt      int64  `json:"created_at"`
}

// SearchOutput contains the result of the Search operation.
type SearchOutput struct {
	Messages   []MessageSearchItem `json:"messages"`
	Files      []FileSearchItem    `json:"files"`
	Pagination Pagination          `json:"pagination"`
	Sort       string              `json:"sort"` // "relevance"
}

// Search performs full-text search over message revisions, ranked by BM25
// relevance, plus a file-name match over the conversation's media.
func Search(ctx context.Context, database *sql.DB, input SearchInput) (*SearchOutput, error) {
	conversationID, err := validateConversationID(input.ConversationID)
	if err != nil {
		return nil, err
	}
	query := strings.TrimSpace(input.Query)
	if query == "" {
		return nil, errors.NewValidation("query is required")
	}
	if utf8.RuneCountInString(query) > MaxQueryChars {
		return nil, errors.NewValidation(fmt.Sprintf("query exceeds maximum length of %d characters", MaxQueryChars))
	}

	limit := clampLimit(input.Limit, DefaultSearchLimit, MaxSearchLimit)
	offset := max(input.Offset, 0)

	matches, err := store.SearchMessages(ctx, database, conversationID, query, input.IncludeHistorical, limit+1, offset)
	if err != nil {
		return nil, err
	}
	hasMore := len(matches) > limit
	if hasMore {
		matches = matches[:limit]
	}

	messages := make([]MessageSearchItem, len(matches))
	for i, m := range matches {
		snippet := escapeSnippetHTML(m.Snippet)
		snippet = truncateSnippet(snippet, MaxSnippetChars)
		messages[i] = MessageSearchItem{
			MessageID:      m.Revision.MessageID,
			RevisionID:     m.Revision.ID,
			RevisionNumber: m.Revision.RevisionNumber,
			Role:           m.Revision.Role,
			IsActive:       m.Revision.IsActive,
			IsSoftDeleted:  m.Revision.IsSoftDeleted,
			SnapshotID:     m.Revision.SnapshotID,
			CreatedAt:      m.Revision.CreatedAt,
			Snippet:        snippet,
		}
	}

	// File-name matches are a small unpaged complement to the ranked
	// message results.
	fileMatches, err := store.SearchFilesByName(ctx, database, conversationID, query, DefaultSearchLimit)
	if err != nil {
		return nil, err
	}
	files := make([]FileSearchItem, len(fileMatches))
	for i, f := range fileMatches {
		files[i] = FileSearchItem{
			FileName:       f.FileName,
			RevisionID:     f.ID,
			RevisionNumber: f.RevisionNumber,
			Status:         string(f.Status),
			SizeBytes:      f.SizeBytes,
			CreatedAt:      f.CreatedAt,
		}
	}

	return &SearchOutput{
		Messages: messages,
		Files:    files,
		Pagination: Pagination{
			Limit:   limit,
			Offset:  offset,
			HasMore: hasMore,
			Total:   offset + len(messages), // lower bound; FTS count is not paid for
		},
		Sort: "relevance",
	}, nil
}

// truncateSnippet truncates a snippet to approximately maxChars while:
// 1. Preserving valid UTF-8 (never splits multi-byte runes)
// 2. Preserving markup integrity (closes any open <b> tags)
// 3. Preferring word boundaries when possible
func truncateSnippet(s string, maxChars int) string {
	if maxChars <= 0 {
		return "..."
	}

	if len(s) <= maxChars {
		return s
	}

	// Find a safe truncation point that doesn't split UTF-8 runes
	truncateAt := maxChars
	for truncateAt > 0 && !utf8.RuneStart(s[truncateAt]) {
		truncateAt--
	}

	if truncateAt == 0 {
		return "..."
	}

	truncated := s[:truncateAt]

	// Avoid returning malformed HTML by trimming any partial tag/entity
	// suffix. At this point the only tags present should be <b> and </b>,
	// and user content may contain HTML entities (e.g., &lt;).
	if lastLT := strings.LastIndex(truncated, "<"); lastLT != -1 && !strings.Contains(truncated[lastLT:], ">") {
		truncated = truncated[:lastLT]
	}
	if lastAmp := strings.LastIndex(truncated, "&"); lastAmp != -1 && !strings.Contains(truncated[lastAmp:], ";") {
		truncated = truncated[:lastAmp]
	}

	// Try to cut at word boundary if we're not losing too much content
	if lastSpace := strings.LastIndex(truncated, " "); lastSpace > truncateAt/2 {
		truncated = truncated[:lastSpace]
	}

	// Close any unclosed <b> tags to keep the markup well formed
	openTags := strings.Count(truncated, "<b>")
	closeTags := strings.Count(truncated, "</b>")
	for range openTags - closeTags {
		truncated += "</b>"
	}

	return truncated + "..."
}

// escapeSnippetHTML escapes user content in a snippet while preserving our
// <b> highlight markers. This prevents XSS from user-controlled message
// content rendered by web clients.
//
// The snippet from SQLite FTS5 contains:
//   - User content (potentially malicious HTML/JS)
//   - Our markers from snippet()'s start/end mark arguments
func escapeSnippetHTML(s string) string {
	// Use unlikely placeholders that won't appear in normal content
	const (
		openPlaceholder  = "\x00VLM_B_OPEN\x00"
		closePlaceholder = "\x00VLM_B_CLOSE\x00"
	)

	// Step 1: Replace internal highlight markers with placeholders.
	s = strings.ReplaceAll(s, store.SnippetOpenMarker, openPlaceholder)
	s = strings.ReplaceAll(s, store.SnippetCloseMarker, closePlaceholder)

	// Step 2: Escape all HTML in user content
	s = html.EscapeString(s)

	// Step 3: Restore highlight tags (and only highlight tags).
	s = strings.ReplaceAll(s, openPlaceholder, "<b>")
	s = strings.ReplaceAll(s, closePlaceholder, "</b>")

	return s
}
