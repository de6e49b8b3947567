package ops

import (
	"bytes"
	"context"
	"testing"

	"github.com/vellumdb/vellum/internal/errors"
)

func TestUploadFile_HappyPath(t *testing.T) {
	database, objects, cfg := newTestEnv(t)
	ctx := context.Background()

	data := []byte("col_a,col_b\n1,2\n")
	out, err := UploadFile(ctx, database, objects, cfg, UploadFileInput{
		ConversationID: "conv-1",
		FileName:       "report.csv",
		Data:           data,
		MimeType:       stringPtr("text/csv"),
	})
	if err != nil {
		t.Fatalf("UploadFile failed: %v", err)
	}
	if out.RevisionNumber != 1 {
		t.Errorf("revision number = %d, want 1", out.RevisionNumber)
	}
	if out.Snapshot.FileCount != 1 {
		t.Errorf("file count = %d, want 1", out.Snapshot.FileCount)
	}
	if out.Snapshot.TriggerKind != "file_uploaded" {
		t.Errorf("trigger = %q, want file_uploaded", out.Snapshot.TriggerKind)
	}

	got, err := FileContent(ctx, database, objects, FileContentInput{RevisionID: out.RevisionID})
	if err != nil {
		t.Fatalf("FileContent failed: %v", err)
	}
	if !bytes.Equal(got.Data, data) {
		t.Error("retrieved content differs from upload")
	}
	if got.MimeType == nil || *got.MimeType != "text/csv" {
		t.Errorf("mime type = %v, want text/csv", got.MimeType)
	}
}

func TestUploadFile_NewVersionArchivesPrior(t *testing.T) {
	database, objects, cfg := newTestEnv(t)
	ctx := context.Background()

	v1, err := UploadFile(ctx, database, objects, cfg, UploadFileInput{
		ConversationID: "conv-1",
		FileName:       "report.csv",
		Data:           []byte("v1"),
	})
	if err != nil {
		t.Fatalf("upload v1 failed: %v", err)
	}
	v2, err := UploadFile(ctx, database, objects, cfg, UploadFileInput{
		ConversationID: "conv-1",
		FileName:       "report.csv",
		Data:           []byte("v2"),
	})
	if err != nil {
		t.Fatalf("upload v2 failed: %v", err)
	}
	if v2.RevisionNumber != 2 {
		t.Errorf("revision number = %d, want 2", v2.RevisionNumber)
	}
	if v2.Snapshot.FileCount != 1 {
		t.Errorf("file count = %d, want 1 (same file name)", v2.Snapshot.FileCount)
	}
	if v2.Locator == v1.Locator {
		t.Error("different content produced same locator")
	}

	versions, err := FileVersions(ctx, database, FileVersionsInput{
		ConversationID: "conv-1",
		FileName:       "report.csv",
	})
	if err != nil {
		t.Fatalf("FileVersions failed: %v", err)
	}
	if len(versions.Versions) != 2 {
		t.Fatalf("versions = %d, want 2", len(versions.Versions))
	}
	if versions.Versions[0].Status != "active" {
		t.Errorf("newest status = %q, want active", versions.Versions[0].Status)
	}
	if versions.Versions[1].Status != "archived" {
		t.Errorf("prior status = %q, want archived", versions.Versions[1].Status)
	}

	// The first version's bytes are still retrievable
	got, err := FileContent(ctx, database, objects, FileContentInput{RevisionID: v1.RevisionID})
	if err != nil {
		t.Fatalf("FileContent(v1) failed: %v", err)
	}
	if string(got.Data) != "v1" {
		t.Errorf("v1 content = %q, want %q", got.Data, "v1")
	}
}

func TestUploadFile_IdenticalContentDistinctObjectVersions(t *testing.T) {
	database, objects, cfg := newTestEnv(t)
	ctx := context.Background()

	data := []byte("same bytes")
	v1, err := UploadFile(ctx, database, objects, cfg, UploadFileInput{
		ConversationID: "conv-1", FileName: "a.txt", Data: data,
	})
	if err != nil {
		t.Fatalf("upload a failed: %v", err)
	}
	v2, err := UploadFile(ctx, database, objects, cfg, UploadFileInput{
		ConversationID: "conv-1", FileName: "b.txt", Data: data,
	})
	if err != nil {
		t.Fatalf("upload b failed: %v", err)
	}
	if v1.Locator != v2.Locator {
		t.Error("identical content should share a locator")
	}
	if v1.ObjectVersion == v2.ObjectVersion {
		t.Error("each put must get a distinct object version")
	}
}

func TestUploadFile_Generated(t *testing.T) {
	database, objects, cfg := newTestEnv(t)

	out, err := UploadFile(context.Background(), database, objects, cfg, UploadFileInput{
		ConversationID: "conv-1",
		FileName:       "plot.png",
		Data:           []byte{0x89, 0x50, 0x4e, 0x47},
		Source:         stringPtr("generated"),
	})
	if err != nil {
		t.Fatalf("UploadFile failed: %v", err)
	}
	if out.Snapshot.TriggerKind != "file_generated" {
		t.Errorf("trigger = %q, want file_generated", out.Snapshot.TriggerKind)
	}
}

func TestUploadFile_TooLarge(t *testing.T) {
	database, objects, cfg := newTestEnv(t)
	cfg.MaxUploadBytes = 8

	_, err := UploadFile(context.Background(), database, objects, cfg, UploadFileInput{
		ConversationID: "conv-1",
		FileName:       "big.bin",
		Data:           []byte("123456789"),
	})
	if !errors.Is(err, errors.ErrValidation) {
		t.Errorf("oversized upload error = %v, want VALIDATION", err)
	}
}

func TestUploadFile_BadSource(t *testing.T) {
	database, objects, cfg := newTestEnv(t)

	_, err := UploadFile(context.Background(), database, objects, cfg, UploadFileInput{
		ConversationID: "conv-1",
		FileName:       "a.txt",
		Data:           []byte("x"),
		Source:         stringPtr("downloaded"),
	})
	if !errors.Is(err, errors.ErrValidation) {
		t.Errorf("bad source error = %v, want VALIDATION", err)
	}
}

func TestDeleteFile_SoftDelete(t *testing.T) {
	database, objects, cfg := newTestEnv(t)
	ctx := context.Background()

	up, err := UploadFile(ctx, database, objects, cfg, UploadFileInput{
		ConversationID: "conv-1",
		FileName:       "report.csv",
		Data:           []byte("data"),
	})
	if err != nil {
		t.Fatalf("UploadFile failed: %v", err)
	}

	out, err := DeleteFile(ctx, database, DeleteFileInput{
		ConversationID: "conv-1",
		FileName:       "report.csv",
	})
	if err != nil {
		t.Fatalf("DeleteFile failed: %v", err)
	}
	if out.Snapshot.FileCount != 0 {
		t.Errorf("file count = %d, want 0 after delete", out.Snapshot.FileCount)
	}

	// Bytes remain retrievable through the revision
	got, err := FileContent(ctx, database, objects, FileContentInput{RevisionID: up.RevisionID})
	if err != nil {
		t.Fatalf("FileContent after delete failed: %v", err)
	}
	if string(got.Data) != "data" {
		t.Error("content lost after soft delete")
	}

	// Double delete is NOT_FOUND (no active revision)
	if _, err := DeleteFile(ctx, database, DeleteFileInput{
		ConversationID: "conv-1",
		FileName:       "report.csv",
	}); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("double delete error = %v, want NOT_FOUND", err)
	}
}

func TestFileVersions_NotFound(t *testing.T) {
	database, _, _ := newTestEnv(t)

	_, err := FileVersions(context.Background(), database, FileVersionsInput{
		ConversationID: "conv-1",
		FileName:       "missing.txt",
	})
	if !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("missing file error = %v, want NOT_FOUND", err)
	}
}
