package ops

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/vellumdb/vellum/internal/errors"
	"github.com/vellumdb/vellum/internal/history"
	"github.com/vellumdb/vellum/internal/store"
)

// MaxTitleChars is the maximum character count for a conversation title.
const MaxTitleChars = 500

// RenameConversationInput contains parameters for the RenameConversation
// operation.
type RenameConversationInput struct {
	ConversationID string
	Title          string
}

// RenameConversationOutput contains the result of the RenameConversation
// operation.
type RenameConversationOutput struct {
	ConversationID string          `json:"conversation_id"`
	Title          string          `json:"title"`
	Snapshot       SnapshotSummary `json:"snapshot"`
}

// RenameConversation marks a conversation rename in the history. The
// conversation entity itself lives outside the engine, so the rename is
// tracked as a snapshot alone: trigger conversation_renamed with the new
// title in trigger_ref. No revision rows change.
func RenameConversation(ctx context.Context, database *sql.DB, input RenameConversationInput) (*RenameConversationOutput, error) {
	conversationID, err := validateConversationID(input.ConversationID)
	if err != nil {
		return nil, err
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, errors.NewValidation("title is required")
	}
	if utf8.RuneCountInString(title) > MaxTitleChars {
		return nil, errors.NewValidation(fmt.Sprintf("title exceeds maximum length of %d characters", MaxTitleChars))
	}

	var out *RenameConversationOutput
	err = withTx(ctx, database, func(tx *sql.Tx) error {
		exists, err := store.ConversationExists(ctx, tx, conversationID)
		if err != nil {
			return err
		}
		if !exists {
			return errors.NewNotFound("conversation", conversationID)
		}

		s, err := createSnapshot(ctx, tx, snapshotSpec{
			ConversationID: conversationID,
			TriggerKind:    history.TriggerConversationRenamed,
			TriggerRef:     &title,
		})
		if err != nil {
			return err
		}

		out = &RenameConversationOutput{
			ConversationID: conversationID,
			Title:          title,
			Snapshot:       summarize(s),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
