package mcp

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/vellumdb/vellum/internal/config"
	"github.com/vellumdb/vellum/internal/db"
	"github.com/vellumdb/vellum/internal/errors"
	"github.com/vellumdb/vellum/internal/objectstore"
)

// testSetup creates a temporary database, object store, and config for testing.
func testSetup(t *testing.T) (*sql.DB, objectstore.Store, *config.Config, func()) {
	t.Helper()

	tmpDir := t.TempDir()
	database, err := db.Init(tmpDir)
	if err != nil {
		t.Fatalf("failed to init db: %v", err)
	}

	objects, err := objectstore.NewFSStore(filepath.Join(tmpDir, "objects"))
	if err != nil {
		t.Fatalf("failed to init object store: %v", err)
	}

	cfg := config.DefaultConfig()
	cfg.AllowUnsafePaths = true // Allow temp dirs in tests

	cleanup := func() {
		database.Close()
	}

	return database, objects, cfg, cleanup
}

// makeRequest creates a CallToolRequest with the given arguments.
func makeRequest(args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Arguments: args,
		},
	}
}

// recordMessage stores a message through the handler, failing the test on error.
func recordMessage(t *testing.T, h *Handlers, conversationID, messageID, content string) {
	t.Helper()
	req := makeRequest(map[string]any{
		"conversation_id": conversationID,
		"message_id":      messageID,
		"content":         content,
		"role":            "user",
	})
	result, err := h.HandleRecord(context.Background(), req)
	if err != nil {
		t.Fatalf("record handler returned error: %v", err)
	}
	if result.IsError {
		t.Fatalf("setup record failed: %v", extractErrorMessage(result))
	}
}

// TestHandleRecord tests the history_record handler.
func TestHandleRecord(t *testing.T) {
	database, objects, cfg, cleanup := testSetup(t)
	defer cleanup()

	h := NewHandlers(database, objects, cfg)
	ctx := context.Background()

	tests := []struct {
		name      string
		args      map[string]any
		wantError bool
		errorCode string
	}{
		{
			name: "record valid message",
			args: map[string]any{
				"conversation_id": "conv-1",
				"message_id":      "m1",
				"content":         "Hello there",
				"role":            "user",
			},
			wantError: false,
		},
		{
			name: "record without content",
			args: map[string]any{
				"conversation_id": "conv-1",
				"message_id":      "m2",
				"role":            "user",
			},
			wantError: true,
			errorCode: "VALIDATION",
		},
		{
			name: "record with unknown role",
			args: map[string]any{
				"conversation_id": "conv-1",
				"message_id":      "m2",
				"content":         "Hi",
				"role":            "moderator",
			},
			wantError: true,
			errorCode: "VALIDATION",
		},
		{
			name: "record duplicate message id",
			args: map[string]any{
				"conversation_id": "conv-1",
				"message_id":      "m1", // already recorded by first test
				"content":         "Hello again",
				"role":            "user",
			},
			wantError: true,
			errorCode: "VALIDATION",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := makeRequest(tt.args)
			result, err := h.HandleRecord(ctx, req)

			if err != nil {
				t.Fatalf("handler returned error: %v", err)
			}

			if tt.wantError {
				if !result.IsError {
					t.Errorf("expected error result, got success")
				}
				if tt.errorCode != "" {
					assertErrorCode(t, result, tt.errorCode)
				}
			} else {
				if result.IsError {
					t.Errorf("expected success, got error: %v", extractErrorMessage(result))
				}
			}
		})
	}
}

// TestHandleEdit tests the history_edit handler.
func TestHandleEdit(t *testing.T) {
	database, objects, cfg, cleanup := testSetup(t)
	defer cleanup()

	h := NewHandlers(database, objects, cfg)
	ctx := context.Background()

	recordMessage(t, h, "conv-1", "edit-me", "Original text")

	tests := []struct {
		name      string
		args      map[string]any
		wantError bool
		errorCode string
	}{
		{
			name: "edit existing message",
			args: map[string]any{
				"message_id":  "edit-me",
				"content":     "Revised text",
				"edit_reason": "typo",
			},
			wantError: false,
		},
		{
			name: "edit with identical content",
			args: map[string]any{
				"message_id": "edit-me",
				"content":    "Revised text",
			},
			wantError: true,
			errorCode: "VALIDATION",
		},
		{
			name: "edit non-existent message",
			args: map[string]any{
				"message_id": "missing",
				"content":    "Whatever",
			},
			wantError: true,
			errorCode: "NOT_FOUND",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := makeRequest(tt.args)
			result, err := h.HandleEdit(ctx, req)

			if err != nil {
				t.Fatalf("handler returned error: %v", err)
			}

			if tt.wantError {
				if !result.IsError {
					t.Errorf("expected error result, got success")
				}
				if tt.errorCode != "" {
					assertErrorCode(t, result, tt.errorCode)
				}
			} else {
				if result.IsError {
					t.Errorf("expected success, got error: %v", extractErrorMessage(result))
				}
			}
		})
	}
}

// TestHandleEdit_BumpsRevisionNumber asserts the revision number in the response.
func TestHandleEdit_BumpsRevisionNumber(t *testing.T) {
	database, objects, cfg, cleanup := testSetup(t)
	defer cleanup()

	h := NewHandlers(database, objects, cfg)
	ctx := context.Background()

	recordMessage(t, h, "conv-1", "m1", "First draft")

	req := makeRequest(map[string]any{
		"message_id": "m1",
		"content":    "Second draft",
	})
	result, err := h.HandleEdit(ctx, req)
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	output := parseOutput(t, result)

	if n := output["revision_number"].(float64); n != 2 {
		t.Errorf("revision_number = %v, want 2", n)
	}
	snapshot := output["snapshot"].(map[string]any)
	if v := snapshot["version"].(float64); v != 2 {
		t.Errorf("snapshot.version = %v, want 2", v)
	}
}

// TestHandleDelete tests the history_delete handler for messages and files.
func TestHandleDelete(t *testing.T) {
	database, objects, cfg, cleanup := testSetup(t)
	defer cleanup()

	h := NewHandlers(database, objects, cfg)
	ctx := context.Background()

	recordMessage(t, h, "conv-1", "m1", "Delete me")

	uploadReq := makeRequest(map[string]any{
		"conversation_id": "conv-1",
		"file_name":       "notes.txt",
		"content_base64":  base64.StdEncoding.EncodeToString([]byte("notes")),
	})
	uploadResult, err := h.HandleUpload(ctx, uploadReq)
	if err != nil {
		t.Fatalf("upload handler returned error: %v", err)
	}
	if uploadResult.IsError {
		t.Fatalf("setup upload failed: %v", extractErrorMessage(uploadResult))
	}

	tests := []struct {
		name      string
		args      map[string]any
		wantError bool
		errorCode string
	}{
		{
			name: "delete message",
			args: map[string]any{
				"message_id": "m1",
			},
			wantError: false,
		},
		{
			name: "delete already deleted message",
			args: map[string]any{
				"message_id": "m1",
			},
			wantError: true,
			errorCode: "VALIDATION",
		},
		{
			name: "delete file",
			args: map[string]any{
				"conversation_id": "conv-1",
				"file_name":       "notes.txt",
			},
			wantError: false,
		},
		{
			name: "delete non-existent file",
			args: map[string]any{
				"conversation_id": "conv-1",
				"file_name":       "missing.txt",
			},
			wantError: true,
			errorCode: "NOT_FOUND",
		},
		{
			name: "delete with both message and file",
			args: map[string]any{
				"message_id":      "m1",
				"conversation_id": "conv-1",
				"file_name":       "notes.txt",
			},
			wantError: true,
			errorCode: "VALIDATION",
		},
		{
			name:      "delete with no addressing",
			args:      map[string]any{},
			wantError: true,
			errorCode: "VALIDATION",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := makeRequest(tt.args)
			result, err := h.HandleDelete(ctx, req)

			if err != nil {
				t.Fatalf("handler returned error: %v", err)
			}

			if tt.wantError {
				if !result.IsError {
					t.Errorf("expected error result, got success")
				}
				if tt.errorCode != "" {
					assertErrorCode(t, result, tt.errorCode)
				}
			} else {
				if result.IsError {
					t.Errorf("expected success, got error: %v", extractErrorMessage(result))
				}
			}
		})
	}
}

// TestHandleUpload tests the history_upload handler.
func TestHandleUpload(t *testing.T) {
	database, objects, cfg, cleanup := testSetup(t)
	defer cleanup()

	h := NewHandlers(database, objects, cfg)
	ctx := context.Background()

	tests := []struct {
		name      string
		args      map[string]any
		wantError bool
		errorCode string
	}{
		{
			name: "upload valid file",
			args: map[string]any{
				"conversation_id": "conv-1",
				"file_name":       "report.md",
				"content_base64":  base64.StdEncoding.EncodeToString([]byte("# Report")),
				"mime_type":       "text/markdown",
			},
			wantError: false,
		},
		{
			name: "upload same name again appends a version",
			args: map[string]any{
				"conversation_id": "conv-1",
				"file_name":       "report.md",
				"content_base64":  base64.StdEncoding.EncodeToString([]byte("# Report v2")),
			},
			wantError: false,
		},
		{
			name: "upload with invalid base64",
			args: map[string]any{
				"conversation_id": "conv-1",
				"file_name":       "bad.bin",
				"content_base64":  "not base64!!",
			},
			wantError: true,
			errorCode: "VALIDATION",
		},
		{
			name: "upload with path separator in name",
			args: map[string]any{
				"conversation_id": "conv-1",
				"file_name":       "../escape.txt",
				"content_base64":  base64.StdEncoding.EncodeToString([]byte("x")),
			},
			wantError: true,
			errorCode: "VALIDATION",
		},
		{
			name: "upload with unknown source",
			args: map[string]any{
				"conversation_id": "conv-1",
				"file_name":       "gen.txt",
				"content_base64":  base64.StdEncoding.EncodeToString([]byte("x")),
				"source":          "telepathy",
			},
			wantError: true,
			errorCode: "VALIDATION",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := makeRequest(tt.args)
			result, err := h.HandleUpload(ctx, req)

			if err != nil {
				t.Fatalf("handler returned error: %v", err)
			}

			if tt.wantError {
				if !result.IsError {
					t.Errorf("expected error result, got success")
				}
				if tt.errorCode != "" {
					assertErrorCode(t, result, tt.errorCode)
				}
			} else {
				if result.IsError {
					t.Errorf("expected success, got error: %v", extractErrorMessage(result))
				}
			}
		})
	}
}

// TestHandleTimeline tests the three modes of the history_timeline handler.
func TestHandleTimeline(t *testing.T) {
	database, objects, cfg, cleanup := testSetup(t)
	defer cleanup()

	h := NewHandlers(database, objects, cfg)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		recordMessage(t, h, "conv-1", fmt.Sprintf("m%d", i), fmt.Sprintf("Message %d", i))
	}

	t.Run("day rollup with totals", func(t *testing.T) {
		req := makeRequest(map[string]any{"conversation_id": "conv-1"})
		result, err := h.HandleTimeline(ctx, req)
		if err != nil {
			t.Fatalf("handler returned error: %v", err)
		}
		output := parseOutput(t, result)

		days := output["days"].([]any)
		if len(days) != 1 {
			t.Fatalf("got %d days, want 1", len(days))
		}
		totals := output["totals"].(map[string]any)
		if v := totals["latest_version"].(float64); v != 3 {
			t.Errorf("totals.latest_version = %v, want 3", v)
		}
		if n := totals["active_messages"].(float64); n != 3 {
			t.Errorf("totals.active_messages = %v, want 3", n)
		}
	})

	t.Run("drill into a day", func(t *testing.T) {
		// Read the day key back from the rollup rather than assuming today.
		rollupResult, err := h.HandleTimeline(ctx, makeRequest(map[string]any{
			"conversation_id": "conv-1",
		}))
		if err != nil {
			t.Fatalf("handler returned error: %v", err)
		}
		rollup := parseOutput(t, rollupResult)
		day := rollup["days"].([]any)[0].(map[string]any)["day"].(string)

		req := makeRequest(map[string]any{
			"conversation_id": "conv-1",
			"day":             day,
		})
		result, err := h.HandleTimeline(ctx, req)
		if err != nil {
			t.Fatalf("handler returned error: %v", err)
		}
		output := parseOutput(t, result)

		snapshots := output["snapshots"].([]any)
		if len(snapshots) != 3 {
			t.Errorf("got %d snapshots on %s, want 3", len(snapshots), day)
		}
	})

	t.Run("flat list with pagination", func(t *testing.T) {
		req := makeRequest(map[string]any{
			"conversation_id": "conv-1",
			"list":            true,
			"limit":           2,
		})
		result, err := h.HandleTimeline(ctx, req)
		if err != nil {
			t.Fatalf("handler returned error: %v", err)
		}
		output := parseOutput(t, result)

		snapshots := output["snapshots"].([]any)
		if len(snapshots) != 2 {
			t.Errorf("got %d snapshots, want 2", len(snapshots))
		}
		pagination := output["pagination"].(map[string]any)
		if pagination["has_more"] != true {
			t.Errorf("pagination.has_more = %v, want true", pagination["has_more"])
		}
		if int(pagination["total"].(float64)) != 3 {
			t.Errorf("pagination.total = %v, want 3", pagination["total"])
		}
	})

	t.Run("bad day format", func(t *testing.T) {
		req := makeRequest(map[string]any{
			"conversation_id": "conv-1",
			"day":             "yesterday",
		})
		result, err := h.HandleTimeline(ctx, req)
		if err != nil {
			t.Fatalf("handler returned error: %v", err)
		}
		if !result.IsError {
			t.Fatal("expected error result for bad day format")
		}
		assertErrorCode(t, result, "VALIDATION")
	})
}

// TestHandleState tests the history_state handler.
func TestHandleState(t *testing.T) {
	database, objects, cfg, cleanup := testSetup(t)
	defer cleanup()

	h := NewHandlers(database, objects, cfg)
	ctx := context.Background()

	recordMessage(t, h, "conv-1", "m1", "First")
	recordMessage(t, h, "conv-1", "m2", "Second")

	t.Run("latest state", func(t *testing.T) {
		req := makeRequest(map[string]any{"conversation_id": "conv-1"})
		result, err := h.HandleState(ctx, req)
		if err != nil {
			t.Fatalf("handler returned error: %v", err)
		}
		output := parseOutput(t, result)

		messages := output["messages"].([]any)
		if len(messages) != 2 {
			t.Errorf("got %d messages, want 2", len(messages))
		}
	})

	t.Run("state at version 1", func(t *testing.T) {
		req := makeRequest(map[string]any{
			"conversation_id": "conv-1",
			"version":         1,
		})
		result, err := h.HandleState(ctx, req)
		if err != nil {
			t.Fatalf("handler returned error: %v", err)
		}
		output := parseOutput(t, result)

		messages := output["messages"].([]any)
		if len(messages) != 1 {
			t.Errorf("got %d messages at version 1, want 1", len(messages))
		}
	})

	t.Run("snapshot_id and version together", func(t *testing.T) {
		req := makeRequest(map[string]any{
			"conversation_id": "conv-1",
			"snapshot_id":     "someid",
			"version":         1,
		})
		result, err := h.HandleState(ctx, req)
		if err != nil {
			t.Fatalf("handler returned error: %v", err)
		}
		if !result.IsError {
			t.Fatal("expected error result")
		}
		assertErrorCode(t, result, "VALIDATION")
	})

	t.Run("unknown conversation", func(t *testing.T) {
		req := makeRequest(map[string]any{"conversation_id": "nope"})
		result, err := h.HandleState(ctx, req)
		if err != nil {
			t.Fatalf("handler returned error: %v", err)
		}
		if !result.IsError {
			t.Fatal("expected error result")
		}
		assertErrorCode(t, result, "NOT_FOUND")
	})
}

// TestHandleSearch tests the history_search handler.
func TestHandleSearch(t *testing.T) {
	database, objects, cfg, cleanup := testSetup(t)
	defer cleanup()

	h := NewHandlers(database, objects, cfg)
	ctx := context.Background()

	recordMessage(t, h, "conv-1", "m1", "The quarterly budget needs review")
	recordMessage(t, h, "conv-1", "m2", "Lunch plans for Friday")

	t.Run("matches message content", func(t *testing.T) {
		req := makeRequest(map[string]any{
			"conversation_id": "conv-1",
			"query":           "budget",
		})
		result, err := h.HandleSearch(ctx, req)
		if err != nil {
			t.Fatalf("handler returned error: %v", err)
		}
		output := parseOutput(t, result)

		messages := output["messages"].([]any)
		if len(messages) != 1 {
			t.Fatalf("got %d message hits, want 1", len(messages))
		}
		hit := messages[0].(map[string]any)
		if hit["message_id"] != "m1" {
			t.Errorf("message_id = %v, want m1", hit["message_id"])
		}
	})

	t.Run("empty query", func(t *testing.T) {
		req := makeRequest(map[string]any{
			"conversation_id": "conv-1",
			"query":           "   ",
		})
		result, err := h.HandleSearch(ctx, req)
		if err != nil {
			t.Fatalf("handler returned error: %v", err)
		}
		if !result.IsError {
			t.Fatal("expected error result for empty query")
		}
		assertErrorCode(t, result, "VALIDATION")
	})
}

// TestHandleFileVersions tests listing versions and fetching one version's bytes.
func TestHandleFileVersions(t *testing.T) {
	database, objects, cfg, cleanup := testSetup(t)
	defer cleanup()

	h := NewHandlers(database, objects, cfg)
	ctx := context.Background()

	for _, content := range []string{"v1 bytes", "v2 bytes"} {
		req := makeRequest(map[string]any{
			"conversation_id": "conv-1",
			"file_name":       "data.txt",
			"content_base64":  base64.StdEncoding.EncodeToString([]byte(content)),
		})
		result, err := h.HandleUpload(ctx, req)
		if err != nil {
			t.Fatalf("upload handler returned error: %v", err)
		}
		if result.IsError {
			t.Fatalf("setup upload failed: %v", extractErrorMessage(result))
		}
	}

	req := makeRequest(map[string]any{
		"conversation_id": "conv-1",
		"file_name":       "data.txt",
	})
	result, err := h.HandleFileVersions(ctx, req)
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	output := parseOutput(t, result)

	versions := output["versions"].([]any)
	if len(versions) != 2 {
		t.Fatalf("got %d versions, want 2", len(versions))
	}

	// Newest first; fetch the older version's content by revision id.
	oldest := versions[len(versions)-1].(map[string]any)
	contentReq := makeRequest(map[string]any{
		"revision_id": oldest["revision_id"].(string),
	})
	contentResult, err := h.HandleFileVersions(ctx, contentReq)
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	contentOutput := parseOutput(t, contentResult)

	decoded, err := base64.StdEncoding.DecodeString(contentOutput["content_base64"].(string))
	if err != nil {
		t.Fatalf("content_base64 is not valid base64: %v", err)
	}
	if string(decoded) != "v1 bytes" {
		t.Errorf("content = %q, want %q", decoded, "v1 bytes")
	}
}

// TestHandleRestore tests the history_restore handler round trip and audit listing.
func TestHandleRestore(t *testing.T) {
	database, objects, cfg, cleanup := testSetup(t)
	defer cleanup()

	h := NewHandlers(database, objects, cfg)
	ctx := context.Background()

	recordMessage(t, h, "conv-1", "m1", "Original")

	editReq := makeRequest(map[string]any{
		"message_id": "m1",
		"content":    "Edited",
	})
	if result, err := h.HandleEdit(ctx, editReq); err != nil || result.IsError {
		t.Fatalf("setup edit failed: %v / %v", err, extractErrorMessage(result))
	}

	// Restore to version 1 (pre-edit).
	restoreReq := makeRequest(map[string]any{
		"conversation_id": "conv-1",
		"version":         1,
		"scope":           "full_chat",
		"reason":          "undo the edit",
	})
	result, err := h.HandleRestore(ctx, restoreReq)
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	output := parseOutput(t, result)

	if n := output["messages_restored"].(float64); n != 1 {
		t.Errorf("messages_restored = %v, want 1", n)
	}

	// State should read "Original" again.
	stateResult, err := h.HandleState(ctx, makeRequest(map[string]any{"conversation_id": "conv-1"}))
	if err != nil {
		t.Fatalf("state handler returned error: %v", err)
	}
	stateOutput := parseOutput(t, stateResult)
	msg := stateOutput["messages"].([]any)[0].(map[string]any)
	if msg["content"] != "Original" {
		t.Errorf("content after restore = %v, want Original", msg["content"])
	}

	t.Run("audit log listing", func(t *testing.T) {
		req := makeRequest(map[string]any{
			"conversation_id": "conv-1",
			"list":            true,
		})
		result, err := h.HandleRestore(ctx, req)
		if err != nil {
			t.Fatalf("handler returned error: %v", err)
		}
		output := parseOutput(t, result)

		restores := output["restores"].([]any)
		if len(restores) != 1 {
			t.Fatalf("got %d restore records, want 1", len(restores))
		}
	})

	t.Run("missing scope", func(t *testing.T) {
		req := makeRequest(map[string]any{
			"conversation_id": "conv-1",
			"version":         1,
		})
		result, err := h.HandleRestore(ctx, req)
		if err != nil {
			t.Fatalf("handler returned error: %v", err)
		}
		if !result.IsError {
			t.Fatal("expected error result for missing scope")
		}
		assertErrorCode(t, result, "VALIDATION")
	})

	t.Run("missing target", func(t *testing.T) {
		req := makeRequest(map[string]any{
			"conversation_id": "conv-1",
			"scope":           "full_chat",
		})
		result, err := h.HandleRestore(ctx, req)
		if err != nil {
			t.Fatalf("handler returned error: %v", err)
		}
		if !result.IsError {
			t.Fatal("expected error result for missing target")
		}
		assertErrorCode(t, result, "VALIDATION")
	})
}

// TestHandleVerify tests the history_verify handler.
func TestHandleVerify(t *testing.T) {
	database, objects, cfg, cleanup := testSetup(t)
	defer cleanup()

	h := NewHandlers(database, objects, cfg)
	ctx := context.Background()

	recordMessage(t, h, "conv-1", "m1", "Check me")
	uploadReq := makeRequest(map[string]any{
		"conversation_id": "conv-1",
		"file_name":       "attach.txt",
		"content_base64":  base64.StdEncoding.EncodeToString([]byte("attached")),
	})
	if result, err := h.HandleUpload(ctx, uploadReq); err != nil || result.IsError {
		t.Fatalf("setup upload failed: %v / %v", err, extractErrorMessage(result))
	}

	req := makeRequest(map[string]any{
		"conversation_id": "conv-1",
		"verify_objects":  true,
	})
	result, err := h.HandleVerify(ctx, req)
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	output := parseOutput(t, result)

	if n := output["snapshots_verified"].(float64); n != 2 {
		t.Errorf("snapshots_verified = %v, want 2", n)
	}
	if n := output["objects_verified"].(float64); n != 1 {
		t.Errorf("objects_verified = %v, want 1", n)
	}
}

func TestServerRegistration(t *testing.T) {
	database, objects, cfg, cleanup := testSetup(t)
	defer cleanup()

	s := NewServer(database, objects, cfg, "test")
	tools := s.ListTools()
	if tools == nil {
		t.Fatal("expected tools to be registered, got nil")
	}

	expectedTools := []string{
		"history_record",
		"history_edit",
		"history_delete",
		"history_upload",
		"history_timeline",
		"history_state",
		"history_search",
		"history_file_versions",
		"history_restore",
		"history_verify",
	}

	if len(tools) != len(expectedTools) {
		t.Errorf("registered tool count = %d, want %d", len(tools), len(expectedTools))
	}

	for _, name := range expectedTools {
		if _, ok := tools[name]; !ok {
			t.Errorf("missing registered tool: %s", name)
		}
	}
}

func TestServerRegistration_WithDisabledTools(t *testing.T) {
	database, objects, cfg, cleanup := testSetup(t)
	defer cleanup()

	cfg.DisabledTools = []string{"history_restore", "history_delete"}
	s := NewServer(database, objects, cfg, "test")
	tools := s.ListTools()

	if len(tools) != 8 {
		t.Errorf("registered tool count = %d, want 8", len(tools))
	}

	for _, name := range []string{"history_restore", "history_delete"} {
		if _, ok := tools[name]; ok {
			t.Errorf("disabled tool %q should not be registered", name)
		}
	}

	// Core tools should still be registered
	for _, name := range []string{"history_record", "history_state", "history_search"} {
		if _, ok := tools[name]; !ok {
			t.Errorf("core tool %q should be registered", name)
		}
	}
}

func TestServerRegistration_AllToolsDisabled(t *testing.T) {
	database, objects, cfg, cleanup := testSetup(t)
	defer cleanup()

	cfg.DisabledTools = AllToolNames()
	s := NewServer(database, objects, cfg, "test")
	tools := s.ListTools()

	if len(tools) != 0 {
		t.Errorf("registered tool count = %d, want 0 (all disabled)", len(tools))
	}
}

func TestServerRegistration_DuplicateDisabled(t *testing.T) {
	database, objects, cfg, cleanup := testSetup(t)
	defer cleanup()

	// Duplicates should be handled gracefully (map lookup)
	cfg.DisabledTools = []string{"history_verify", "history_verify", "history_verify"}
	s := NewServer(database, objects, cfg, "test")
	tools := s.ListTools()

	if len(tools) != 9 {
		t.Errorf("registered tool count = %d, want 9", len(tools))
	}

	if _, ok := tools["history_verify"]; ok {
		t.Error("disabled tool 'history_verify' should not be registered")
	}
}

func TestValidateDisabledTools(t *testing.T) {
	tests := []struct {
		name    string
		input   []string
		wantLen int
	}{
		{
			name:    "all valid",
			input:   []string{"history_restore", "history_delete"},
			wantLen: 0,
		},
		{
			name:    "one unknown",
			input:   []string{"history_restore", "fake_tool"},
			wantLen: 1,
		},
		{
			name:    "all unknown",
			input:   []string{"foo", "bar", "baz"},
			wantLen: 3,
		},
		{
			name:    "empty list",
			input:   []string{},
			wantLen: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			unknown := ValidateDisabledTools(tt.input)
			if len(unknown) != tt.wantLen {
				t.Errorf("ValidateDisabledTools() returned %d unknown, want %d", len(unknown), tt.wantLen)
			}
		})
	}
}

func TestAllToolNames(t *testing.T) {
	names := AllToolNames()

	if len(names) != 10 {
		t.Errorf("AllToolNames() returned %d names, want 10", len(names))
	}

	unknown := ValidateDisabledTools(names)
	if len(unknown) != 0 {
		t.Errorf("AllToolNames() returned invalid names: %v", unknown)
	}
}

func TestErrorResult_InternalDoesNotExposeDetails(t *testing.T) {
	r := errorResult(errors.NewInternal(fmt.Errorf("sql error: open /tmp/secret.db: permission denied")))
	if !r.IsError {
		t.Fatal("expected IsError=true")
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(r.Content[0].(mcp.TextContent).Text), &payload); err != nil {
		t.Fatalf("failed to unmarshal error payload: %v", err)
	}
	errObj := payload["error"].(map[string]any)

	if errObj["code"] != string(errors.ErrInternal) {
		t.Fatalf("code=%v, want %v", errObj["code"], errors.ErrInternal)
	}
	if _, ok := errObj["details"]; ok {
		t.Fatal("expected INTERNAL errors to omit details")
	}
}

func TestErrorResult_NonInternalIncludesDetails(t *testing.T) {
	r := errorResult(errors.NewNotFound("snapshot", "abc"))
	if !r.IsError {
		t.Fatal("expected IsError=true")
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(r.Content[0].(mcp.TextContent).Text), &payload); err != nil {
		t.Fatalf("failed to unmarshal error payload: %v", err)
	}
	errObj := payload["error"].(map[string]any)

	if errObj["code"] != string(errors.ErrNotFound) {
		t.Fatalf("code=%v, want %v", errObj["code"], errors.ErrNotFound)
	}
	if _, ok := errObj["details"]; !ok {
		t.Fatal("expected non-INTERNAL errors to include details when present")
	}
}

// Helper functions

// parseOutput extracts and unmarshals the JSON output from an MCP result.
func parseOutput(t *testing.T, result *mcp.CallToolResult) map[string]any {
	t.Helper()
	if result.IsError {
		t.Fatalf("expected success, got error: %v", extractErrorMessage(result))
	}
	var output map[string]any
	if err := json.Unmarshal([]byte(result.Content[0].(mcp.TextContent).Text), &output); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	return output
}

func assertErrorCode(t *testing.T, result *mcp.CallToolResult, expectedCode string) {
	t.Helper()

	if len(result.Content) == 0 {
		t.Errorf("no content in error result")
		return
	}

	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Errorf("content is not TextContent")
		return
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(text.Text), &payload); err != nil {
		t.Errorf("failed to unmarshal error payload: %v", err)
		return
	}

	errorObj, ok := payload["error"].(map[string]any)
	if !ok {
		t.Errorf("no error object in payload")
		return
	}

	code, ok := errorObj["code"].(string)
	if !ok {
		t.Errorf("no code in error object")
		return
	}

	if code != expectedCode {
		t.Errorf("got error code %q, want %q", code, expectedCode)
	}
}

func extractErrorMessage(result *mcp.CallToolResult) string {
	if len(result.Content) == 0 {
		return "<no content>"
	}

	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		return "<not text content>"
	}

	return text.Text
}
