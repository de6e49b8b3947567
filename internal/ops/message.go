package ops

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/vellumdb/vellum/internal/config"
	"github.com/vellumdb/vellum/internal/errors"
	"github.com/vellumdb/vellum/internal/history"
	"github.com/vellumdb/vellum/internal/store"
)

// RecordMessageInput contains parameters for the RecordMessage operation.
type RecordMessageInput struct {
	ConversationID string
	MessageID      string
	Content        string
	Role           string
}

// RecordMessageOutput contains the result of the RecordMessage operation.
type RecordMessageOutput struct {
	RevisionID string          `json:"revision_id"`
	MessageID  string          `json:"message_id"`
	Snapshot   SnapshotSummary `json:"snapshot"`
}

// RecordMessage records a new message as revision 1 and snapshots the
// conversation.
func RecordMessage(ctx context.Context, database *sql.DB, cfg *config.Config, input RecordMessageInput) (*RecordMessageOutput, error) {
	conversationID, err := validateConversationID(input.ConversationID)
	if err != nil {
		return nil, err
	}
	messageID, err := validateIdentifier("message_id", input.MessageID)
	if err != nil {
		return nil, err
	}
	role, err := validateRole(input.Role)
	if err != nil {
		return nil, err
	}
	if err := validateContent(input.Content, cfg); err != nil {
		return nil, err
	}

	var out *RecordMessageOutput
	err = withTx(ctx, database, func(tx *sql.Tx) error {
		exists, err := store.MessageExists(ctx, tx, messageID)
		if err != nil {
			return err
		}
		if exists {
			return errors.NewValidation(fmt.Sprintf("message %q already recorded; use edit to revise it", messageID))
		}

		snapshotID, err := store.NewID()
		if err != nil {
			return err
		}
		revisionID, err := store.NewID()
		if err != nil {
			return err
		}

		now := store.NowMillis()
		rev := &history.MessageRevision{
			ID:                revisionID,
			ConversationID:    conversationID,
			MessageID:         messageID,
			SnapshotID:        snapshotID,
			Content:           input.Content,
			Role:              role,
			RevisionNumber:    1,
			IsActive:          true,
			OriginalCreatedAt: now,
			CreatedAt:         now,
		}
		if err := store.AppendMessageRevision(ctx, tx, rev); err != nil {
			return err
		}
		if err := store.IndexRevision(ctx, tx, rev); err != nil {
			return err
		}

		s, err := createSnapshot(ctx, tx, snapshotSpec{
			ConversationID: conversationID,
			TriggerKind:    history.TriggerMessageSent,
			TriggerRef:     &messageID,
			ID:             snapshotID,
		})
		if err != nil {
			return err
		}

		out = &RecordMessageOutput{
			RevisionID: revisionID,
			MessageID:  messageID,
			Snapshot:   summarize(s),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// EditMessageInput contains parameters for the EditMessage operation.
type EditMessageInput struct {
	MessageID  string
	Content    string
	EditReason *string
}

// EditMessageOutput contains the result of the EditMessage operation.
type EditMessageOutput struct {
	RevisionID     string          `json:"revision_id"`
	MessageID      string          `json:"message_id"`
	RevisionNumber int64           `json:"revision_number"`
	Snapshot       SnapshotSummary `json:"snapshot"`
}

// EditMessage supersedes the active revision of a message with a new one
// carrying the edited content. The prior revision stays readable forever.
func EditMessage(ctx context.Context, database *sql.DB, cfg *config.Config, input EditMessageInput) (*EditMessageOutput, error) {
	messageID, err := validateIdentifier("message_id", input.MessageID)
	if err != nil {
		return nil, err
	}
	if err := validateContent(input.Content, cfg); err != nil {
		return nil, err
	}
	reason := cleanOptionalString(input.EditReason)
	if reason != nil && utf8.RuneCountInString(*reason) > MaxReasonChars {
		return nil, errors.NewValidation(fmt.Sprintf("edit_reason exceeds maximum length of %d characters", MaxReasonChars))
	}

	var out *EditMessageOutput
	err = withTx(ctx, database, func(tx *sql.Tx) error {
		active, err := store.ActiveMessageRevision(ctx, tx, messageID)
		if err != nil {
			return err
		}
		if active == nil {
			return errors.NewNotFound("message", messageID)
		}
		if active.IsSoftDeleted {
			return errors.NewValidation(fmt.Sprintf("message %q is deleted; restore it before editing", messageID))
		}
		if active.Content == input.Content {
			return errors.NewValidation("content is identical to the active revision")
		}

		snapshotID, err := store.NewID()
		if err != nil {
			return err
		}
		revisionID, err := store.NewID()
		if err != nil {
			return err
		}

		now := store.NowMillis()
		if err := store.DeactivateMessageRevision(ctx, tx, active.ID, now); err != nil {
			return err
		}
		rev := &history.MessageRevision{
			ID:                revisionID,
			ConversationID:    active.ConversationID,
			MessageID:         messageID,
			SnapshotID:        snapshotID,
			Content:           input.Content,
			Role:              active.Role,
			RevisionNumber:    active.RevisionNumber + 1,
			IsActive:          true,
			EditReason:        reason,
			OriginalCreatedAt: active.OriginalCreatedAt,
			CreatedAt:         now,
		}
		if err := store.AppendMessageRevision(ctx, tx, rev); err != nil {
			return err
		}
		if err := store.IndexRevision(ctx, tx, rev); err != nil {
			return err
		}

		s, err := createSnapshot(ctx, tx, snapshotSpec{
			ConversationID: active.ConversationID,
			TriggerKind:    history.TriggerMessageEdited,
			TriggerRef:     &messageID,
			ID:             snapshotID,
		})
		if err != nil {
			return err
		}

		out = &EditMessageOutput{
			RevisionID:     revisionID,
			MessageID:      messageID,
			RevisionNumber: rev.RevisionNumber,
			Snapshot:       summarize(s),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteMessageInput contains parameters for the DeleteMessage operation.
type DeleteMessageInput struct {
	MessageID string
}

// DeleteMessageOutput contains the result of the DeleteMessage operation.
type DeleteMessageOutput struct {
	MessageID string          `json:"message_id"`
	Snapshot  SnapshotSummary `json:"snapshot"`
}

// DeleteMessage soft-deletes a message. Content is retained and the message
// reappears when a snapshot from before the deletion is restored.
func DeleteMessage(ctx context.Context, database *sql.DB, input DeleteMessageInput) (*DeleteMessageOutput, error) {
	messageID, err := validateIdentifier("message_id", input.MessageID)
	if err != nil {
		return nil, err
	}

	var out *DeleteMessageOutput
	err = withTx(ctx, database, func(tx *sql.Tx) error {
		active, err := store.ActiveMessageRevision(ctx, tx, messageID)
		if err != nil {
			return err
		}
		if active == nil {
			return errors.NewNotFound("message", messageID)
		}
		if active.IsSoftDeleted {
			return errors.NewValidation(fmt.Sprintf("message %q is already deleted", messageID))
		}

		snapshotID, err := store.NewID()
		if err != nil {
			return err
		}
		if err := store.SoftDeleteMessageRevision(ctx, tx, active.ID, snapshotID); err != nil {
			return err
		}

		s, err := createSnapshot(ctx, tx, snapshotSpec{
			ConversationID: active.ConversationID,
			TriggerKind:    history.TriggerMessageDeleted,
			TriggerRef:     &messageID,
			ID:             snapshotID,
		})
		if err != nil {
			return err
		}

		out = &DeleteMessageOutput{
			MessageID: messageID,
			Snapshot:  summarize(s),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// MessageHistoryInput contains parameters for the MessageHistory operation.
type MessageHistoryInput struct {
	MessageID string
}

// MessageHistoryItem is one revision in a message's history.
type MessageHistoryItem struct {
	RevisionID     string  `json:"revision_id"`
	RevisionNumber int64   `json:"revision_number"`
	Content        string  `json:"content"`
	Preview        string  `json:"preview"`
	Role           string  `json:"role"`
	IsActive       bool    `json:"is_active"`
	IsSoftDeleted  bool    `json:"is_soft_deleted"`
	EditReason     *string `json:"edit_reason,omitempty"`
	SnapshotID     string  `json:"snapshot_id"`
	CreatedAt      int64   `json:"created_at"`
	SupersededAt   *int64  `json:"superseded_at,omitempty"`
}

// MessageHistoryOutput contains the result of the MessageHistory operation.
type MessageHistoryOutput struct {
	MessageID string               `json:"message_id"`
	Revisions []MessageHistoryItem `json:"revisions"`
}

// MessageHistory returns every revision of a message, oldest first.
func MessageHistory(ctx context.Context, database *sql.DB, input MessageHistoryInput) (*MessageHistoryOutput, error) {
	messageID, err := validateIdentifier("message_id", input.MessageID)
	if err != nil {
		return nil, err
	}

	revisions, err := store.MessageHistory(ctx, database, messageID)
	if err != nil {
		return nil, err
	}

	items := make([]MessageHistoryItem, len(revisions))
	for i, r := range revisions {
		items[i] = MessageHistoryItem{
			RevisionID:     r.ID,
			RevisionNumber: r.RevisionNumber,
			Content:        r.Content,
			Preview:        history.Preview(r.Content, history.DefaultPreviewChars),
			Role:           r.Role,
			IsActive:       r.IsActive,
			IsSoftDeleted:  r.IsSoftDeleted,
			EditReason:     r.EditReason,
			SnapshotID:     r.SnapshotID,
			CreatedAt:      r.CreatedAt,
			SupersededAt:   r.SupersededAt,
		}
	}

	return &MessageHistoryOutput{
		MessageID: messageID,
		Revisions: items,
	}, nil
}

// validateContent checks message content against the configured size cap.
func validateContent(content string, cfg *config.Config) error {
	if strings.TrimSpace(content) == "" {
		return errors.NewValidation("content is required")
	}
	maxChars := config.DefaultConfig().MaxContentChars
	if cfg != nil && cfg.MaxContentChars > 0 {
		maxChars = cfg.MaxContentChars
	}
	if utf8.RuneCountInString(content) > maxChars {
		return errors.NewValidation(fmt.Sprintf("content exceeds maximum length of %d characters", maxChars))
	}
	return nil
}
