// Package ops implements the engine's operations: recording, editing and
// deleting messages, file uploads, timeline and state reads, search,
// verification, restore and export. Every tracked mutation commits its
// revision writes and the snapshot they belong to in a single transaction.
package ops

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/vellumdb/vellum/internal/errors"
)

// Pagination limits
const (
	DefaultListLimit   = 20
	MaxListLimit       = 100
	DefaultSearchLimit = 20
	MaxSearchLimit     = 100
	MaxSnippetChars    = 300

	MaxIdentifierChars = 256
	MaxQueryChars      = 500
	MaxReasonChars     = 2000
	MaxFileNameChars   = 512
)

// Pagination contains pagination metadata for list operations.
type Pagination struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
	Total   int  `json:"total"`
}

// SnapshotSummary is the compact snapshot view operations return to callers.
type SnapshotSummary struct {
	ID           string  `json:"id"`
	Version      int64   `json:"version"`
	CreatedAt    int64   `json:"created_at"`
	MessageCount int     `json:"message_count"`
	FileCount    int     `json:"file_count"`
	TriggerKind  string  `json:"trigger_kind"`
	TriggerRef   *string `json:"trigger_ref,omitempty"`
	Fingerprint  string  `json:"fingerprint"`
}

// validateConversationID checks the opaque conversation identifier.
func validateConversationID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", errors.NewValidation("conversation_id is required")
	}
	if utf8.RuneCountInString(id) > MaxIdentifierChars {
		return "", errors.NewValidation(fmt.Sprintf("conversation_id exceeds maximum length of %d characters", MaxIdentifierChars))
	}
	return id, nil
}

// validateIdentifier checks a required opaque identifier field.
func validateIdentifier(field, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", errors.NewValidation(field + " is required")
	}
	if utf8.RuneCountInString(value) > MaxIdentifierChars {
		return "", errors.NewValidation(fmt.Sprintf("%s exceeds maximum length of %d characters", field, MaxIdentifierChars))
	}
	return value, nil
}

// validateFileName checks a file name used as the stable file identity.
// Separators are rejected so file names can never address paths.
func validateFileName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.NewValidation("file_name is required")
	}
	if utf8.RuneCountInString(name) > MaxFileNameChars {
		return "", errors.NewValidation(fmt.Sprintf("file_name exceeds maximum length of %d characters", MaxFileNameChars))
	}
	if strings.ContainsAny(name, "/\\") || name == "." || name == ".." {
		return "", errors.NewValidation("file_name must not contain path separators")
	}
	return name, nil
}

// validateRole checks the speaker role of a message.
func validateRole(role string) (string, error) {
	role = strings.TrimSpace(role)
	switch role {
	case "user", "assistant", "system":
		return role, nil
	}
	return "", errors.NewValidation("role must be one of: user, assistant, system")
}

// cleanOptionalString trims an optional string pointer, returning nil when
// the result is empty.
func cleanOptionalString(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

// clampLimit applies defaults and bounds to a caller-supplied page size.
func clampLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}

// withTx runs fn inside a transaction, committing on nil and rolling back
// on error or panic.
func withTx(ctx context.Context, database *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := database.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewInternal(fmt.Errorf("begin transaction: %w", err))
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.NewInternal(fmt.Errorf("commit transaction: %w", err))
	}
	return nil
}
