package mcp

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	stderrors "errors"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/vellumdb/vellum/internal/config"
	"github.com/vellumdb/vellum/internal/errors"
	"github.com/vellumdb/vellum/internal/objectstore"
	"github.com/vellumdb/vellum/internal/ops"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	db      *sql.DB
	objects objectstore.Store
	cfg     *config.Config
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(db *sql.DB, objects objectstore.Store, cfg *config.Config) *Handlers {
	return &Handlers{db: db, objects: objects, cfg: cfg}
}

// Request types for each tool

// RecordRequest represents the arguments for history_record.
type RecordRequest struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	Content        string `json:"content"`
	Role           string `json:"role"`
}

// EditRequest represents the arguments for history_edit.
type EditRequest struct {
	MessageID  string  `json:"message_id"`
	Content    string  `json:"content"`
	EditReason *string `json:"edit_reason,omitempty"`
}

// DeleteRequest represents the arguments for history_delete.
type DeleteRequest struct {
	MessageID      string `json:"message_id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	FileName       string `json:"file_name,omitempty"`
}

// UploadRequest represents the arguments for history_upload.
type UploadRequest struct {
	ConversationID string  `json:"conversation_id"`
	FileName       string  `json:"file_name"`
	ContentBase64  string  `json:"content_base64"`
	MimeType       *string `json:"mime_type,omitempty"`
	Source         *string `json:"source,omitempty"`
}

// TimelineRequest represents the arguments for history_timeline.
type TimelineRequest struct {
	ConversationID string `json:"conversation_id"`
	Day            string `json:"day,omitempty"`
	List           bool   `json:"list,omitempty"`
	Limit          int    `json:"limit,omitempty"`
	Offset         int    `json:"offset,omitempty"`
}

// StateRequest represents the arguments for history_state.
type StateRequest struct {
	ConversationID string  `json:"conversation_id"`
	SnapshotID     *string `json:"snapshot_id,omitempty"`
	Version        *int64  `json:"version,omitempty"`
}

// SearchRequest represents the arguments for history_search.
type SearchRequest struct {
	ConversationID    string `json:"conversation_id"`
	Query             string `json:"query"`
	IncludeHistorical bool   `json:"include_historical,omitempty"`
	Limit             int    `json:"limit,omitempty"`
	Offset            int    `json:"offset,omitempty"`
}

// FileVersionsRequest represents the arguments for history_file_versions.
type FileVersionsRequest struct {
	ConversationID string `json:"conversation_id,omitempty"`
	FileName       string `json:"file_name,omitempty"`
	RevisionID     string `json:"revision_id,omitempty"`
}

// RestoreRequest represents the arguments for history_restore.
type RestoreRequest struct {
	ConversationID string   `json:"conversation_id"`
	SnapshotID     *string  `json:"snapshot_id,omitempty"`
	Version        *int64   `json:"version,omitempty"`
	Scope          string   `json:"scope,omitempty"`
	MessageID      *string  `json:"message_id,omitempty"`
	FileName       *string  `json:"file_name,omitempty"`
	MessageIDs     []string `json:"message_ids,omitempty"`
	Reason         *string  `json:"reason,omitempty"`
	List           bool     `json:"list,omitempty"`
}

// VerifyRequest represents the arguments for history_verify.
type VerifyRequest struct {
	ConversationID string  `json:"conversation_id"`
	SnapshotID     *string `json:"snapshot_id,omitempty"`
	VerifyObjects  bool    `json:"verify_objects,omitempty"`
}

// Handler implementations

// HandleRecord handles the history_record tool call.
func (h *Handlers) HandleRecord(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[RecordRequest](req)
	if err != nil {
		return errorResult(errors.NewValidation(err.Error())), nil
	}

	result, err := ops.RecordMessage(ctx, h.db, h.cfg, ops.RecordMessageInput{
		ConversationID: input.ConversationID,
		MessageID:      input.MessageID,
		Content:        input.Content,
		Role:           input.Role,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleEdit handles the history_edit tool call.
func (h *Handlers) HandleEdit(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[EditRequest](req)
	if err != nil {
		return errorResult(errors.NewValidation(err.Error())), nil
	}

	result, err := ops.EditMessage(ctx, h.db, h.cfg, ops.EditMessageInput{
		MessageID:  input.MessageID,
		Content:    input.Content,
		EditReason: input.EditReason,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleDelete handles the history_delete tool call.
// Deletes a message when message_id is given, or a file when
// conversation_id and file_name are given.
func (h *Handlers) HandleDelete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[DeleteRequest](req)
	if err != nil {
		return errorResult(errors.NewValidation(err.Error())), nil
	}

	switch {
	case input.MessageID != "" && input.FileName != "":
		return errorResult(errors.NewValidation("provide message_id or file_name, not both")), nil
	case input.MessageID != "":
		result, err := ops.DeleteMessage(ctx, h.db, ops.DeleteMessageInput{
			MessageID: input.MessageID,
		})
		if err != nil {
			return errorResult(err), nil
		}
		return successResult(result)
	case input.FileName != "":
		result, err := ops.DeleteFile(ctx, h.db, ops.DeleteFileInput{
			ConversationID: input.ConversationID,
			FileName:       input.FileName,
		})
		if err != nil {
			return errorResult(err), nil
		}
		return successResult(result)
	default:
		return errorResult(errors.NewValidation("message_id or file_name is required")), nil
	}
}

// HandleUpload handles the history_upload tool call.
func (h *Handlers) HandleUpload(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[UploadRequest](req)
	if err != nil {
		return errorResult(errors.NewValidation(err.Error())), nil
	}

	data, err := base64.StdEncoding.DecodeString(input.ContentBase64)
	if err != nil {
		return errorResult(errors.NewValidation("content_base64 is not valid base64")), nil
	}

	result, err := ops.UploadFile(ctx, h.db, h.objects, h.cfg, ops.UploadFileInput{
		ConversationID: input.ConversationID,
		FileName:       input.FileName,
		Data:           data,
		MimeType:       input.MimeType,
		Source:         input.Source,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleTimeline handles the history_timeline tool call.
// Default is the per-day rollup; day drills into one calendar day and
// list returns a flat paginated snapshot list.
func (h *Handlers) HandleTimeline(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[TimelineRequest](req)
	if err != nil {
		return errorResult(errors.NewValidation(err.Error())), nil
	}

	switch {
	case input.Day != "":
		result, err := ops.SnapshotsOnDate(ctx, h.db, ops.SnapshotsOnDateInput{
			ConversationID: input.ConversationID,
			Day:            input.Day,
		})
		if err != nil {
			return errorResult(err), nil
		}
		return successResult(result)
	case input.List:
		result, err := ops.ListSnapshots(ctx, h.db, ops.ListSnapshotsInput{
			ConversationID: input.ConversationID,
			Limit:          input.Limit,
			Offset:         input.Offset,
		})
		if err != nil {
			return errorResult(err), nil
		}
		return successResult(result)
	default:
		result, err := ops.Timeline(ctx, h.db, ops.TimelineInput{
			ConversationID: input.ConversationID,
		})
		if err != nil {
			return errorResult(err), nil
		}
		return successResult(result)
	}
}

// HandleState handles the history_state tool call.
func (h *Handlers) HandleState(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[StateRequest](req)
	if err != nil {
		return errorResult(errors.NewValidation(err.Error())), nil
	}

	result, err := ops.State(ctx, h.db, ops.StateInput{
		ConversationID: input.ConversationID,
		SnapshotID:     input.SnapshotID,
		Version:        input.Version,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleSearch handles the history_search tool call.
func (h *Handlers) HandleSearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SearchRequest](req)
	if err != nil {
		return errorResult(errors.NewValidation(err.Error())), nil
	}

	result, err := ops.Search(ctx, h.db, ops.SearchInput{
		ConversationID:    input.ConversationID,
		Query:             input.Query,
		IncludeHistorical: input.IncludeHistorical,
		Limit:             input.Limit,
		Offset:            input.Offset,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleFileVersions handles the history_file_versions tool call.
// Lists versions for conversation_id+file_name, or fetches one version's
// bytes (base64) when revision_id is given.
func (h *Handlers) HandleFileVersions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[FileVersionsRequest](req)
	if err != nil {
		return errorResult(errors.NewValidation(err.Error())), nil
	}

	if input.RevisionID != "" {
		result, err := ops.FileContent(ctx, h.db, h.objects, ops.FileContentInput{
			RevisionID: input.RevisionID,
		})
		if err != nil {
			return errorResult(err), nil
		}
		return successResult(map[string]any{
			"file_name":      result.FileName,
			"mime_type":      result.MimeType,
			"content_base64": base64.StdEncoding.EncodeToString(result.Data),
		})
	}

	result, err := ops.FileVersions(ctx, h.db, ops.FileVersionsInput{
		ConversationID: input.ConversationID,
		FileName:       input.FileName,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleRestore handles the history_restore tool call.
// Performs a restore, or returns the restore audit log when list is set.
func (h *Handlers) HandleRestore(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[RestoreRequest](req)
	if err != nil {
		return errorResult(errors.NewValidation(err.Error())), nil
	}

	if input.List {
		result, err := ops.RestoreHistory(ctx, h.db, ops.RestoreHistoryInput{
			ConversationID: input.ConversationID,
		})
		if err != nil {
			return errorResult(err), nil
		}
		return successResult(result)
	}

	result, err := ops.Restore(ctx, h.db, ops.RestoreInput{
		ConversationID: input.ConversationID,
		SnapshotID:     input.SnapshotID,
		Version:        input.Version,
		Scope:          input.Scope,
		MessageID:      input.MessageID,
		FileName:       input.FileName,
		MessageIDs:     input.MessageIDs,
		Reason:         input.Reason,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleVerify handles the history_verify tool call.
func (h *Handlers) HandleVerify(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[VerifyRequest](req)
	if err != nil {
		return errorResult(errors.NewValidation(err.Error())), nil
	}

	result, err := ops.Verify(ctx, h.db, h.objects, ops.VerifyInput{
		ConversationID: input.ConversationID,
		SnapshotID:     input.SnapshotID,
		VerifyObjects:  input.VerifyObjects,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// Result helpers

// errorResult creates an MCP error result from any error.
// Uses IsError: true so MCP clients recognize failures properly.
// Note: Internal error details are not exposed to prevent leaking sensitive info.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	var hErr *errors.HistoryError
	if stderrors.As(err, &hErr) {
		errorObj := map[string]any{
			"code":    hErr.Code,
			"message": hErr.Message,
			"status":  hErr.Status,
		}
		// Only include details for non-internal errors to avoid leaking
		// sensitive info like file paths or SQL errors
		if hErr.Code != errors.ErrInternal && hErr.Details != nil {
			errorObj["details"] = hErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    "INTERNAL",
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
