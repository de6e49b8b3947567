package errors

import (
	"fmt"
	"testing"
)

func TestHistoryError_Error(t *testing.T) {
	err := &HistoryError{
		Code:    ErrNotFound,
		Status:  404,
		Message: "snapshot not found",
	}

	expected := "NOT_FOUND: snapshot not found"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestNewValidation(t *testing.T) {
	err := NewValidation("scope is required")

	if err.Code != ErrValidation {
		t.Errorf("Code = %q, want %q", err.Code, ErrValidation)
	}
	if err.Status != 400 {
		t.Errorf("Status = %d, want 400", err.Status)
	}
	if err.Message != "scope is required" {
		t.Errorf("Message = %q, want %q", err.Message, "scope is required")
	}
}

func TestNewNotFound(t *testing.T) {
	err := NewNotFound("snapshot", "01ABC")

	if err.Code != ErrNotFound {
		t.Errorf("Code = %q, want %q", err.Code, ErrNotFound)
	}
	if err.Status != 404 {
		t.Errorf("Status = %d, want 404", err.Status)
	}
	if err.Details["identifier"] != "01ABC" {
		t.Errorf("Details[identifier] = %v, want %q", err.Details["identifier"], "01ABC")
	}
	if err.Details["kind"] != "snapshot" {
		t.Errorf("Details[kind] = %v, want %q", err.Details["kind"], "snapshot")
	}
}

func TestNewConflict(t *testing.T) {
	err := NewConflict("conv-1", 5)

	if err.Code != ErrConflict {
		t.Errorf("Code = %q, want %q", err.Code, ErrConflict)
	}
	if err.Status != 409 {
		t.Errorf("Status = %d, want 409", err.Status)
	}
	if err.Details["attempted_version"] != int64(5) {
		t.Errorf("Details[attempted_version] = %v, want 5", err.Details["attempted_version"])
	}
}

func TestNewIntegrity(t *testing.T) {
	err := NewIntegrity("fingerprint mismatch", map[string]any{"snapshot_id": "01ABC"})

	if err.Code != ErrIntegrity {
		t.Errorf("Code = %q, want %q", err.Code, ErrIntegrity)
	}
	if err.Status != 422 {
		t.Errorf("Status = %d, want 422", err.Status)
	}
	if err.Details["snapshot_id"] != "01ABC" {
		t.Errorf("Details[snapshot_id] = %v, want %q", err.Details["snapshot_id"], "01ABC")
	}
}

func TestNewStorage(t *testing.T) {
	err := NewStorage(fmt.Errorf("disk full"))

	if err.Code != ErrStorage {
		t.Errorf("Code = %q, want %q", err.Code, ErrStorage)
	}
	if err.Status != 502 {
		t.Errorf("Status = %d, want 502", err.Status)
	}
}

func TestNewInternal(t *testing.T) {
	err := NewInternal(nil)

	if err.Code != ErrInternal {
		t.Errorf("Code = %q, want %q", err.Code, ErrInternal)
	}
	if err.Message != "internal error" {
		t.Errorf("Message = %q, want %q", err.Message, "internal error")
	}

	wrapped := NewInternal(fmt.Errorf("boom"))
	if wrapped.Message != "boom" {
		t.Errorf("Message = %q, want %q", wrapped.Message, "boom")
	}
}

func TestIs(t *testing.T) {
	err := NewValidation("bad input")

	if !Is(err, ErrValidation) {
		t.Error("Is() = false for matching code, want true")
	}
	if Is(err, ErrNotFound) {
		t.Error("Is() = true for non-matching code, want false")
	}
	if Is(fmt.Errorf("plain error"), ErrValidation) {
		t.Error("Is() = true for non-HistoryError, want false")
	}
	if Is(nil, ErrValidation) {
		t.Error("Is(nil) = true, want false")
	}
}
