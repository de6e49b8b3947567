package ops

import (
	"context"
	"testing"

	"github.com/vellumdb/vellum/internal/errors"
)

func TestRestore_SingleMessage(t *testing.T) {
	database, _, cfg := newTestEnv(t)
	ctx := context.Background()

	first := record(t, database, cfg, "conv-1", "msg-1", "Original")
	if _, err := EditMessage(ctx, database, cfg, EditMessageInput{
		MessageID: "msg-1",
		Content:   "Edited",
	}); err != nil {
		t.Fatalf("EditMessage failed: %v", err)
	}

	out, err := Restore(ctx, database, RestoreInput{
		ConversationID: "conv-1",
		SnapshotID:     &first.Snapshot.ID,
		Scope:          "single_message",
		MessageID:      stringPtr("msg-1"),
		Reason:         stringPtr("undo edit"),
	})
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if out.MessagesRestored != 1 {
		t.Errorf("messages restored = %d, want 1", out.MessagesRestored)
	}
	if out.Snapshot.Version != 3 {
		t.Errorf("new snapshot version = %d, want 3 (restore moves forward)", out.Snapshot.Version)
	}
	if out.Snapshot.TriggerKind != "restore_performed" {
		t.Errorf("trigger = %q, want restore_performed", out.Snapshot.TriggerKind)
	}

	// Restored content is a NEW revision; the edit is preserved in history
	hist, err := MessageHistory(ctx, database, MessageHistoryInput{MessageID: "msg-1"})
	if err != nil {
		t.Fatalf("MessageHistory failed: %v", err)
	}
	if len(hist.Revisions) != 3 {
		t.Fatalf("revisions = %d, want 3", len(hist.Revisions))
	}
	if hist.Revisions[2].Content != "Original" || !hist.Revisions[2].IsActive {
		t.Error("active revision should carry the restored content")
	}
	if hist.Revisions[1].Content != "Edited" {
		t.Error("edited revision lost from history")
	}
}

func TestRestore_FullChatRoundTrip(t *testing.T) {
	database, objects, cfg := newTestEnv(t)
	ctx := context.Background()

	record(t, database, cfg, "conv-1", "msg-1", "Alpha")
	second := record(t, database, cfg, "conv-1", "msg-2", "Beta")
	if _, err := UploadFile(ctx, database, objects, cfg, UploadFileInput{
		ConversationID: "conv-1", FileName: "notes.txt", Data: []byte("v1"),
	}); err != nil {
		t.Fatalf("UploadFile failed: %v", err)
	}

	// Mutations after the chosen target
	if _, err := EditMessage(ctx, database, cfg, EditMessageInput{
		MessageID: "msg-1", Content: "Alpha revised",
	}); err != nil {
		t.Fatalf("EditMessage failed: %v", err)
	}
	record(t, database, cfg, "conv-1", "msg-3", "Gamma")
	if _, err := DeleteMessage(ctx, database, DeleteMessageInput{MessageID: "msg-2"}); err != nil {
		t.Fatalf("DeleteMessage failed: %v", err)
	}

	// Restore to the snapshot right after msg-2 was recorded
	out, err := Restore(ctx, database, RestoreInput{
		ConversationID: "conv-1",
		SnapshotID:     &second.Snapshot.ID,
		Scope:          "full_chat",
	})
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}

	state, err := State(ctx, database, StateInput{ConversationID: "conv-1"})
	if err != nil {
		t.Fatalf("State after restore failed: %v", err)
	}
	if len(state.Messages) != 2 {
		t.Fatalf("messages after restore = %d, want 2", len(state.Messages))
	}
	if state.Messages[0].Content != "Alpha" {
		t.Errorf("msg-1 content = %q, want Alpha", state.Messages[0].Content)
	}
	if state.Messages[1].Content != "Beta" {
		t.Errorf("msg-2 content = %q, want Beta (un-deleted)", state.Messages[1].Content)
	}
	// msg-3 did not exist at the target and must be gone from current state
	for _, m := range state.Messages {
		if m.MessageID == "msg-3" {
			t.Error("msg-3 survived a full restore to before its creation")
		}
	}
	// the restored state equals the target snapshot's fingerprint
	if state.Snapshot.Fingerprint != second.Snapshot.Fingerprint {
		t.Error("restored state fingerprint differs from target snapshot")
	}
	if out.MessagesRestored != 2 {
		t.Errorf("messages restored = %d, want 2 (edit undone, delete undone)", out.MessagesRestored)
	}

	// msg-3 content still lives in its history
	hist, err := MessageHistory(ctx, database, MessageHistoryInput{MessageID: "msg-3"})
	if err != nil {
		t.Fatalf("MessageHistory(msg-3) failed: %v", err)
	}
	if hist.Revisions[0].Content != "Gamma" {
		t.Error("msg-3 content lost")
	}
}

// A restore itself is just more history: restoring back to the snapshot that
// was latest immediately before a restore reproduces the pre-restore state
// exactly.
func TestRestore_ReturnToPreRestoreSnapshot(t *testing.T) {
	database, objects, cfg := newTestEnv(t)
	ctx := context.Background()

	early := record(t, database, cfg, "conv-1", "msg-1", "Draft")
	if _, err := EditMessage(ctx, database, cfg, EditMessageInput{
		MessageID: "msg-1", Content: "Final",
	}); err != nil {
		t.Fatalf("EditMessage failed: %v", err)
	}
	record(t, database, cfg, "conv-1", "msg-2", "Follow-up")
	if _, err := UploadFile(ctx, database, objects, cfg, UploadFileInput{
		ConversationID: "conv-1", FileName: "notes.txt", Data: []byte("late version"),
	}); err != nil {
		t.Fatalf("UploadFile failed: %v", err)
	}

	before, err := State(ctx, database, StateInput{ConversationID: "conv-1"})
	if err != nil {
		t.Fatalf("State before restore failed: %v", err)
	}

	// Restore back to the first snapshot, then back to the snapshot that
	// was latest immediately before that restore
	first, err := Restore(ctx, database, RestoreInput{
		ConversationID: "conv-1",
		SnapshotID:     &early.Snapshot.ID,
		Scope:          "full_chat",
	})
	if err != nil {
		t.Fatalf("first restore failed: %v", err)
	}
	if first.FromSnapshotID != before.Snapshot.ID {
		t.Fatalf("from_snapshot_id = %s, want the pre-restore latest %s", first.FromSnapshotID, before.Snapshot.ID)
	}

	second, err := Restore(ctx, database, RestoreInput{
		ConversationID: "conv-1",
		SnapshotID:     &first.FromSnapshotID,
		Scope:          "full_chat",
	})
	if err != nil {
		t.Fatalf("return restore failed: %v", err)
	}

	after, err := State(ctx, database, StateInput{ConversationID: "conv-1"})
	if err != nil {
		t.Fatalf("State after return restore failed: %v", err)
	}

	if after.Snapshot.Fingerprint != before.Snapshot.Fingerprint {
		t.Error("return restore fingerprint differs from pre-restore state")
	}
	if len(after.Messages) != len(before.Messages) {
		t.Fatalf("messages = %d, want %d", len(after.Messages), len(before.Messages))
	}
	for i := range before.Messages {
		if after.Messages[i].MessageID != before.Messages[i].MessageID ||
			after.Messages[i].Content != before.Messages[i].Content ||
			after.Messages[i].Role != before.Messages[i].Role {
			t.Errorf("message %d diverged: got %s=%q, want %s=%q",
				i, after.Messages[i].MessageID, after.Messages[i].Content,
				before.Messages[i].MessageID, before.Messages[i].Content)
		}
	}
	if len(after.Files) != len(before.Files) {
		t.Fatalf("files = %d, want %d", len(after.Files), len(before.Files))
	}
	for i := range before.Files {
		if after.Files[i].FileName != before.Files[i].FileName ||
			after.Files[i].Checksum != before.Files[i].Checksum {
			t.Errorf("file %d diverged: got %s %s, want %s %s",
				i, after.Files[i].FileName, after.Files[i].Checksum,
				before.Files[i].FileName, before.Files[i].Checksum)
		}
	}

	// Both restores stay in the audit trail
	audit, err := RestoreHistory(ctx, database, RestoreHistoryInput{ConversationID: "conv-1"})
	if err != nil {
		t.Fatalf("RestoreHistory failed: %v", err)
	}
	if len(audit.Restores) != 2 {
		t.Errorf("restore records = %d, want 2", len(audit.Restores))
	}
	if second.Snapshot.Version <= first.Snapshot.Version {
		t.Error("the return restore must move the version forward, not rewind it")
	}
}

func TestRestore_SingleFile(t *testing.T) {
	database, objects, cfg := newTestEnv(t)
	ctx := context.Background()

	v1, err := UploadFile(ctx, database, objects, cfg, UploadFileInput{
		ConversationID: "conv-1", FileName: "report.csv", Data: []byte("v1 data"),
	})
	if err != nil {
		t.Fatalf("upload v1 failed: %v", err)
	}
	if _, err := UploadFile(ctx, database, objects, cfg, UploadFileInput{
		ConversationID: "conv-1", FileName: "report.csv", Data: []byte("v2 data"),
	}); err != nil {
		t.Fatalf("upload v2 failed: %v", err)
	}

	out, err := Restore(ctx, database, RestoreInput{
		ConversationID: "conv-1",
		SnapshotID:     &v1.Snapshot.ID,
		Scope:          "single_file",
		FileName:       stringPtr("report.csv"),
	})
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if out.FilesRestored != 1 {
		t.Errorf("files restored = %d, want 1", out.FilesRestored)
	}

	versions, err := FileVersions(ctx, database, FileVersionsInput{
		ConversationID: "conv-1", FileName: "report.csv",
	})
	if err != nil {
		t.Fatalf("FileVersions failed: %v", err)
	}
	if len(versions.Versions) != 3 {
		t.Fatalf("versions = %d, want 3 (restore adds one)", len(versions.Versions))
	}
	newest := versions.Versions[0]
	if newest.Locator != v1.Locator || newest.ObjectVersion != v1.ObjectVersion {
		t.Error("restored revision should reuse the v1 object")
	}

	got, err := FileContent(ctx, database, objects, FileContentInput{RevisionID: newest.RevisionID})
	if err != nil {
		t.Fatalf("FileContent failed: %v", err)
	}
	if string(got.Data) != "v1 data" {
		t.Errorf("restored content = %q, want v1 data", got.Data)
	}
}

func TestRestore_ToLatestIsIdempotentButSnapshots(t *testing.T) {
	database, _, cfg := newTestEnv(t)
	ctx := context.Background()

	latest := record(t, database, cfg, "conv-1", "msg-1", "Hello")

	out, err := Restore(ctx, database, RestoreInput{
		ConversationID: "conv-1",
		SnapshotID:     &latest.Snapshot.ID,
		Scope:          "full_chat",
	})
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if out.MessagesRestored != 0 || out.FilesRestored != 0 {
		t.Errorf("restore to latest changed %d/%d entities, want 0/0",
			out.MessagesRestored, out.FilesRestored)
	}
	// A snapshot and audit record are still written
	if out.Snapshot.Version != 2 {
		t.Errorf("snapshot version = %d, want 2", out.Snapshot.Version)
	}

	audit, err := RestoreHistory(ctx, database, RestoreHistoryInput{ConversationID: "conv-1"})
	if err != nil {
		t.Fatalf("RestoreHistory failed: %v", err)
	}
	if len(audit.Restores) != 1 {
		t.Fatalf("restore records = %d, want 1", len(audit.Restores))
	}
	if audit.Restores[0].ToSnapshotID != latest.Snapshot.ID {
		t.Error("audit record points at wrong target")
	}
}

func TestRestore_MessageRange(t *testing.T) {
	database, _, cfg := newTestEnv(t)
	ctx := context.Background()

	record(t, database, cfg, "conv-1", "msg-1", "One")
	record(t, database, cfg, "conv-1", "msg-2", "Two")
	third := record(t, database, cfg, "conv-1", "msg-3", "Three")

	for _, id := range []string{"msg-1", "msg-2", "msg-3"} {
		if _, err := EditMessage(ctx, database, cfg, EditMessageInput{
			MessageID: id, Content: "changed " + id,
		}); err != nil {
			t.Fatalf("EditMessage(%s) failed: %v", id, err)
		}
	}

	out, err := Restore(ctx, database, RestoreInput{
		ConversationID: "conv-1",
		SnapshotID:     &third.Snapshot.ID,
		Scope:          "message_range",
		MessageIDs:     []string{"msg-1", "msg-3"},
	})
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if out.MessagesRestored != 2 {
		t.Errorf("messages restored = %d, want 2", out.MessagesRestored)
	}

	state, err := State(ctx, database, StateInput{ConversationID: "conv-1"})
	if err != nil {
		t.Fatalf("State failed: %v", err)
	}
	contents := map[string]string{}
	for _, m := range state.Messages {
		contents[m.MessageID] = m.Content
	}
	if contents["msg-1"] != "One" || contents["msg-3"] != "Three" {
		t.Errorf("ranged messages not restored: %v", contents)
	}
	if contents["msg-2"] != "changed msg-2" {
		t.Errorf("msg-2 = %q, want untouched edit", contents["msg-2"])
	}
}

func TestRestore_Validation(t *testing.T) {
	database, _, cfg := newTestEnv(t)
	ctx := context.Background()

	snap := record(t, database, cfg, "conv-1", "msg-1", "Hello")

	cases := []struct {
		name  string
		input RestoreInput
	}{
		{"unknown scope", RestoreInput{
			ConversationID: "conv-1", SnapshotID: &snap.Snapshot.ID, Scope: "everything",
		}},
		{"no target", RestoreInput{
			ConversationID: "conv-1", Scope: "full_chat",
		}},
		{"both targets", RestoreInput{
			ConversationID: "conv-1", SnapshotID: &snap.Snapshot.ID, Version: int64Ptr(1), Scope: "full_chat",
		}},
		{"single_message without id", RestoreInput{
			ConversationID: "conv-1", SnapshotID: &snap.Snapshot.ID, Scope: "single_message",
		}},
		{"single_file without name", RestoreInput{
			ConversationID: "conv-1", SnapshotID: &snap.Snapshot.ID, Scope: "single_file",
		}},
		{"message_range without ids", RestoreInput{
			ConversationID: "conv-1", SnapshotID: &snap.Snapshot.ID, Scope: "message_range",
		}},
	}
	for _, tc := range cases {
		if _, err := Restore(ctx, database, tc.input); !errors.Is(err, errors.ErrValidation) {
			t.Errorf("%s: error = %v, want VALIDATION", tc.name, err)
		}
	}
}

func TestRestore_MessageNotInTarget(t *testing.T) {
	database, _, cfg := newTestEnv(t)
	ctx := context.Background()

	first := record(t, database, cfg, "conv-1", "msg-1", "Hello")
	record(t, database, cfg, "conv-1", "msg-2", "Later")

	// msg-2 did not exist at the first snapshot
	_, err := Restore(ctx, database, RestoreInput{
		ConversationID: "conv-1",
		SnapshotID:     &first.Snapshot.ID,
		Scope:          "single_message",
		MessageID:      stringPtr("msg-2"),
	})
	if !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("out-of-target restore error = %v, want NOT_FOUND", err)
	}
}

func TestRestore_ByVersion(t *testing.T) {
	database, _, cfg := newTestEnv(t)
	ctx := context.Background()

	record(t, database, cfg, "conv-1", "msg-1", "Original")
	if _, err := EditMessage(ctx, database, cfg, EditMessageInput{
		MessageID: "msg-1", Content: "Edited",
	}); err != nil {
		t.Fatalf("EditMessage failed: %v", err)
	}

	out, err := Restore(ctx, database, RestoreInput{
		ConversationID: "conv-1",
		Version:        int64Ptr(1),
		Scope:          "full_chat",
	})
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if out.MessagesRestored != 1 {
		t.Errorf("messages restored = %d, want 1", out.MessagesRestored)
	}

	state, err := State(ctx, database, StateInput{ConversationID: "conv-1"})
	if err != nil {
		t.Fatalf("State failed: %v", err)
	}
	if state.Messages[0].Content != "Original" {
		t.Errorf("content = %q, want Original", state.Messages[0].Content)
	}
}
