// Package history defines the domain model of the snapshot & restore engine:
// immutable, lineage-linked snapshots over append-only message and media
// revisions. Rows of these types are created exactly once and never mutated
// afterwards, except the active/soft-delete flags that the ops layer flips.
package history

// TriggerKind identifies the tracked mutation that caused a snapshot.
// It is a closed set; trigger details ride in Snapshot.TriggerRef rather
// than free-form metadata maps.
type TriggerKind string

const (
	TriggerMessageSent         TriggerKind = "message_sent"
	TriggerMessageEdited       TriggerKind = "message_edited"
	TriggerMessageDeleted      TriggerKind = "message_deleted"
	TriggerFileUploaded        TriggerKind = "file_uploaded"
	TriggerFileGenerated       TriggerKind = "file_generated"
	TriggerFileDeleted         TriggerKind = "file_deleted"
	TriggerConversationRenamed TriggerKind = "conversation_renamed"
	TriggerRestorePerformed    TriggerKind = "restore_performed"
)

// ValidTrigger reports whether k is a known trigger kind.
func ValidTrigger(k TriggerKind) bool {
	switch k {
	case TriggerMessageSent, TriggerMessageEdited, TriggerMessageDeleted,
		TriggerFileUploaded, TriggerFileGenerated, TriggerFileDeleted,
		TriggerConversationRenamed, TriggerRestorePerformed:
		return true
	}
	return false
}

// RestoreScope selects which part of the reconstructed state a restore
// re-applies.
type RestoreScope string

const (
	ScopeFullChat      RestoreScope = "full_chat"
	ScopeSingleMessage RestoreScope = "single_message"
	ScopeSingleFile    RestoreScope = "single_file"
	ScopeMessageRange  RestoreScope = "message_range"
	ScopeFilesOnly     RestoreScope = "files_only"
)

// ValidScope reports whether s is a known restore scope.
func ValidScope(s RestoreScope) bool {
	switch s {
	case ScopeFullChat, ScopeSingleMessage, ScopeSingleFile, ScopeMessageRange, ScopeFilesOnly:
		return true
	}
	return false
}

// MediaStatus is the lifecycle state of a media revision. Statuses only
// transition; rows are never deleted.
type MediaStatus string

const (
	MediaActive      MediaStatus = "active"
	MediaProcessing  MediaStatus = "processing"
	MediaArchived    MediaStatus = "archived"
	MediaSoftDeleted MediaStatus = "soft_deleted"
)

// Snapshot is an immutable point-in-time marker for a conversation. Version
// is strictly increasing per conversation starting at 1; PreviousSnapshotID
// forms an acyclic singly-linked chain terminating at empty.
type Snapshot struct {
	// ID is a ULID that uniquely identifies this snapshot
	ID string `json:"id"`

	// ConversationID is the opaque external conversation identity
	ConversationID string `json:"conversation_id"`

	// Version is the per-conversation sequence number, starting at 1
	Version int64 `json:"version"`

	// CreatedAt is the Unix millisecond timestamp of creation
	CreatedAt int64 `json:"created_at"`

	// MessageCount is the number of active, non-deleted messages at creation
	MessageCount int `json:"message_count"`

	// FileCount is the number of active files at creation
	FileCount int `json:"file_count"`

	// TriggerKind names the tracked mutation that produced this snapshot
	TriggerKind TriggerKind `json:"trigger_kind"`

	// TriggerRef optionally references the mutated entity (message id,
	// file name, new conversation title)
	TriggerRef *string `json:"trigger_ref,omitempty"`

	// PreviousSnapshotID links to the prior latest snapshot (empty at root)
	PreviousSnapshotID *string `json:"previous_snapshot_id,omitempty"`

	// RestoredFromSnapshotID is set only on restore_performed snapshots
	RestoredFromSnapshotID *string `json:"restored_from_snapshot_id,omitempty"`

	// Fingerprint is the deterministic hash over the ordered active
	// message revision set, for integrity re-verification on read
	Fingerprint string `json:"fingerprint"`
}

// MessageRevision is one immutable version of a message. At most one
// revision per MessageID is active at any time; RevisionNumber strictly
// increases per MessageID.
type MessageRevision struct {
	// ID is a ULID that uniquely identifies this revision
	ID string `json:"id"`

	// ConversationID is the owning conversation
	ConversationID string `json:"conversation_id"`

	// MessageID is the stable message identity shared by all revisions
	MessageID string `json:"message_id"`

	// SnapshotID is the snapshot created by the write of this revision
	SnapshotID string `json:"snapshot_id"`

	// Content is the message body (markdown)
	Content string `json:"content"`

	// Role is the speaker role (user, assistant, system)
	Role string `json:"role"`

	// RevisionNumber starts at 1 and increases per MessageID
	RevisionNumber int64 `json:"revision_number"`

	// IsActive marks the revision currently considered current
	IsActive bool `json:"is_active"`

	// IsSoftDeleted marks the message as deleted without removing content
	IsSoftDeleted bool `json:"is_soft_deleted"`

	// EditReason optionally explains why this revision superseded the prior
	EditReason *string `json:"edit_reason,omitempty"`

	// SupersededAt is the Unix millisecond timestamp when a newer revision
	// deactivated this one (nil while active)
	SupersededAt *int64 `json:"superseded_at,omitempty"`

	// SoftDeletedIn is the ID of the snapshot in which the soft-delete flag
	// was flipped. Reconstruction at a target snapshot excludes this message
	// only if that snapshot's version is at or before the target's.
	SoftDeletedIn *string `json:"soft_deleted_in,omitempty"`

	// OriginalCreatedAt is the Unix millisecond timestamp of the first
	// revision of this MessageID; it anchors the stable fingerprint order
	OriginalCreatedAt int64 `json:"original_created_at"`

	// CreatedAt is the Unix millisecond timestamp of this revision
	CreatedAt int64 `json:"created_at"`
}

// MediaRevision is one immutable version of a file, keyed by
// (ConversationID, FileName) with strictly increasing RevisionNumber.
// Each revision binds to exactly one object-store locator/version.
type MediaRevision struct {
	// ID is a ULID that uniquely identifies this revision
	ID string `json:"id"`

	// ConversationID is the owning conversation
	ConversationID string `json:"conversation_id"`

	// FileName is the stable file identity within the conversation
	FileName string `json:"file_name"`

	// SnapshotID is the snapshot created by the write of this revision
	SnapshotID string `json:"snapshot_id"`

	// StorageLocator is the content-addressed object locator
	StorageLocator string `json:"storage_locator"`

	// StorageObjectVersion is the immutable per-write object version
	StorageObjectVersion string `json:"storage_object_version"`

	// Checksum is the SHA-256 hex digest of the content, re-verified on read
	Checksum string `json:"checksum"`

	// MimeType is the declared content type (nullable)
	MimeType *string `json:"mime_type,omitempty"`

	// SizeBytes is the content length
	SizeBytes int64 `json:"size_bytes"`

	// Source indicates where the file originated (e.g. "upload", "generated")
	Source *string `json:"source,omitempty"`

	// RevisionNumber starts at 1 and increases per (ConversationID, FileName)
	RevisionNumber int64 `json:"revision_number"`

	// PreviousRevisionID links to the revision this one superseded (nullable)
	PreviousRevisionID *string `json:"previous_revision_id,omitempty"`

	// Status is the lifecycle state; transitions only, no deletion
	Status MediaStatus `json:"status"`

	// StatusChangedIn is the ID of the snapshot in which Status last changed
	// (nil while the status set at creation still holds)
	StatusChangedIn *string `json:"status_changed_in,omitempty"`

	// CreatedAt is the Unix millisecond timestamp of this revision
	CreatedAt int64 `json:"created_at"`
}

// RestoreRecord is the append-only audit entry written by the restore engine.
type RestoreRecord struct {
	ID                 string       `json:"id"`
	ConversationID     string       `json:"conversation_id"`
	FromSnapshotID     string       `json:"from_snapshot_id"`
	ToSnapshotID       string       `json:"to_snapshot_id"`
	Scope              RestoreScope `json:"scope"`
	Reason             *string      `json:"reason,omitempty"`
	AffectedMessageIDs []string     `json:"affected_message_ids,omitempty"`
	AffectedFileNames  []string     `json:"affected_file_names,omitempty"`
	MessagesRestored   int          `json:"messages_restored"`
	FilesRestored      int          `json:"files_restored"`
	CreatedAt          int64        `json:"created_at"`
}

// TimelineDay is the derived per-date rollup of a conversation's snapshots.
// It is non-authoritative and rebuildable from the snapshots table.
type TimelineDay struct {
	ConversationID  string `json:"conversation_id"`
	Day             string `json:"day"` // YYYY-MM-DD, UTC
	SnapshotCount   int    `json:"snapshot_count"`
	FirstSnapshotID string `json:"first_snapshot_id"`
	LastSnapshotID  string `json:"last_snapshot_id"`
}
