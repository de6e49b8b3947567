package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// Tool definitions for the MCP surface. Argument names mirror the JSON
// fields of the request structs in handlers.go.

var recordToolDef = mcp.NewTool("history_record",
	mcp.WithDescription("Record a new conversation message. Appends revision 1 of the message and creates a new snapshot version."),
	mcp.WithString("conversation_id",
		mcp.Required(),
		mcp.Description("Conversation the message belongs to."),
	),
	mcp.WithString("message_id",
		mcp.Required(),
		mcp.Description("Caller-assigned message identifier, unique within the conversation."),
	),
	mcp.WithString("content",
		mcp.Required(),
		mcp.Description("Message text (markdown allowed)."),
	),
	mcp.WithString("role",
		mcp.Required(),
		mcp.Description("Author role."),
		mcp.Enum("user", "assistant", "system"),
	),
)

var editToolDef = mcp.NewTool("history_edit",
	mcp.WithDescription("Edit an existing message. Appends a new revision; earlier revisions stay readable."),
	mcp.WithString("message_id",
		mcp.Required(),
		mcp.Description("Message to edit."),
	),
	mcp.WithString("content",
		mcp.Required(),
		mcp.Description("Replacement text. Must differ from the current revision."),
	),
	mcp.WithString("edit_reason",
		mcp.Description("Optional note explaining the edit."),
	),
)

var deleteToolDef = mcp.NewTool("history_delete",
	mcp.WithDescription("Soft-delete a message or a file. Pass message_id to delete a message, or conversation_id plus file_name to delete a file. Deleted entities remain recoverable via restore."),
	mcp.WithString("message_id",
		mcp.Description("Message to delete."),
	),
	mcp.WithString("conversation_id",
		mcp.Description("Conversation that owns the file (required with file_name)."),
	),
	mcp.WithString("file_name",
		mcp.Description("File to delete."),
	),
)

var uploadToolDef = mcp.NewTool("history_upload",
	mcp.WithDescription("Upload a file into the conversation. Re-uploading the same name appends a new version; prior versions stay retrievable."),
	mcp.WithString("conversation_id",
		mcp.Required(),
		mcp.Description("Conversation to attach the file to."),
	),
	mcp.WithString("file_name",
		mcp.Required(),
		mcp.Description("Bare file name, no path separators."),
	),
	mcp.WithString("content_base64",
		mcp.Required(),
		mcp.Description("File bytes, base64-encoded."),
	),
	mcp.WithString("mime_type",
		mcp.Description("Optional MIME type."),
	),
	mcp.WithString("source",
		mcp.Description("Origin of the file."),
		mcp.Enum("upload", "generated"),
	),
)

var timelineToolDef = mcp.NewTool("history_timeline",
	mcp.WithDescription("Browse the conversation's version timeline. Default: per-day rollup with totals. Pass day (YYYY-MM-DD, UTC) for that day's snapshots, or list:true for a flat paginated snapshot list."),
	mcp.WithString("conversation_id",
		mcp.Required(),
		mcp.Description("Conversation to inspect."),
	),
	mcp.WithString("day",
		mcp.Description("UTC calendar day to drill into, YYYY-MM-DD."),
	),
	mcp.WithBoolean("list",
		mcp.Description("Return a flat snapshot list instead of the day rollup."),
	),
	mcp.WithNumber("limit",
		mcp.Description("Page size for list mode (default 20, max 100)."),
	),
	mcp.WithNumber("offset",
		mcp.Description("Page offset for list mode."),
	),
)

var stateToolDef = mcp.NewTool("history_state",
	mcp.WithDescription("Reconstruct the full conversation state (messages and files) at a snapshot. Address the snapshot by id or version; omit both for the latest."),
	mcp.WithString("conversation_id",
		mcp.Required(),
		mcp.Description("Conversation to reconstruct."),
	),
	mcp.WithString("snapshot_id",
		mcp.Description("Snapshot to reconstruct at."),
	),
	mcp.WithNumber("version",
		mcp.Description("Snapshot version to reconstruct at (1-based)."),
	),
)

var searchToolDef = mcp.NewTool("history_search",
	mcp.WithDescription("Full-text search over message content plus file-name matching. By default only current revisions are searched; include_historical also searches superseded ones."),
	mcp.WithString("conversation_id",
		mcp.Required(),
		mcp.Description("Conversation to search."),
	),
	mcp.WithString("query",
		mcp.Required(),
		mcp.Description("Search terms. Treated as plain text."),
	),
	mcp.WithBoolean("include_historical",
		mcp.Description("Also match superseded revisions."),
	),
	mcp.WithNumber("limit",
		mcp.Description("Page size (default 20, max 100)."),
	),
	mcp.WithNumber("offset",
		mcp.Description("Page offset."),
	),
)

var fileVersionsToolDef = mcp.NewTool("history_file_versions",
	mcp.WithDescription("List every stored version of a file, newest first. Pass revision_id instead to fetch that version's bytes (base64) with checksum verification."),
	mcp.WithString("conversation_id",
		mcp.Description("Conversation that owns the file (required with file_name)."),
	),
	mcp.WithString("file_name",
		mcp.Description("File to list versions for."),
	),
	mcp.WithString("revision_id",
		mcp.Description("Fetch the content of this specific version."),
	),
)

var restoreToolDef = mcp.NewTool("history_restore",
	mcp.WithDescription("Restore conversation state to an earlier snapshot by writing new forward revisions; nothing is rewritten or lost. Address the target by snapshot_id or version. Pass list:true to read the restore audit log instead."),
	mcp.WithString("conversation_id",
		mcp.Required(),
		mcp.Description("Conversation to restore."),
	),
	mcp.WithString("snapshot_id",
		mcp.Description("Target snapshot."),
	),
	mcp.WithNumber("version",
		mcp.Description("Target snapshot version (1-based)."),
	),
	mcp.WithString("scope",
		mcp.Description("What to restore."),
		mcp.Enum("full_chat", "single_message", "single_file", "message_range", "files_only"),
	),
	mcp.WithString("message_id",
		mcp.Description("Message to restore (scope single_message)."),
	),
	mcp.WithString("file_name",
		mcp.Description("File to restore (scope single_file)."),
	),
	mcp.WithArray("message_ids",
		mcp.Description("Messages to restore (scope message_range)."),
		mcp.Items(map[string]any{"type": "string"}),
	),
	mcp.WithString("reason",
		mcp.Description("Optional note recorded in the audit log."),
	),
	mcp.WithBoolean("list",
		mcp.Description("Return the restore audit log instead of performing a restore."),
	),
)

var verifyToolDef = mcp.NewTool("history_verify",
	mcp.WithDescription("Audit the snapshot chain: lineage, version contiguity and content fingerprints, optionally re-hashing stored file objects."),
	mcp.WithString("conversation_id",
		mcp.Required(),
		mcp.Description("Conversation to verify."),
	),
	mcp.WithString("snapshot_id",
		mcp.Description("Verify the chain up to this snapshot only."),
	),
	mcp.WithBoolean("verify_objects",
		mcp.Description("Also re-hash the stored file objects at the target snapshot."),
	),
)
