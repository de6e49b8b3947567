package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/vellumdb/vellum/internal/config"
	"github.com/vellumdb/vellum/internal/errors"
	"github.com/vellumdb/vellum/internal/objectstore"
	"github.com/vellumdb/vellum/internal/ops"
	"github.com/vellumdb/vellum/internal/web"
)

// newCLIApp creates the CLI application with all commands.
func newCLIApp(db *sql.DB, objects objectstore.Store, cfg *config.Config) *cli.App {
	app := &cli.App{
		Name:    "vellum",
		Usage:   "Versioned conversation history store",
		Version: Version,
		Commands: []*cli.Command{
			recordCmd(db, cfg),
			editCmd(db, cfg),
			deleteCmd(db),
			uploadCmd(db, objects, cfg),
			renameCmd(db),
			timelineCmd(db),
			stateCmd(db),
			searchCmd(db),
			versionsCmd(db, objects),
			historyCmd(db),
			restoreCmd(db),
			verifyCmd(db, objects),
			exportCmd(db, cfg),
			rebuildIndexCmd(db),
			serveCmd(db, objects, cfg),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// recordCmd creates the record command.
func recordCmd(db *sql.DB, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "record",
		Usage: "Record a new message (reads content from stdin)",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "conversation", Aliases: []string{"c"}, Required: true, Usage: "Conversation ID"},
			&cli.StringFlag{Name: "message", Aliases: []string{"m"}, Required: true, Usage: "Message ID"},
			&cli.StringFlag{Name: "role", Aliases: []string{"r"}, Value: "user", Usage: "Author role: user|assistant|system"},
		},
		Action: func(c *cli.Context) error {
			if !stdinHasData() {
				return outputError(errors.NewValidation("message content must be piped via stdin"))
			}
			content, err := readStdin(int64(cfg.MaxContentChars) * 4)
			if err != nil {
				return outputError(err)
			}

			output, err := ops.RecordMessage(c.Context, db, cfg, ops.RecordMessageInput{
				ConversationID: c.String("conversation"),
				MessageID:      c.String("message"),
				Content:        content,
				Role:           c.String("role"),
			})
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

// editCmd creates the edit command.
func editCmd(db *sql.DB, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:      "edit",
		Usage:     "Edit a message (reads new content from stdin)",
		ArgsUsage: "<message-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "reason", Usage: "Why the message is being edited"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return outputError(errors.NewValidation("message ID argument is required"))
			}
			if !stdinHasData() {
				return outputError(errors.NewValidation("new content must be piped via stdin"))
			}
			content, err := readStdin(int64(cfg.MaxContentChars) * 4)
			if err != nil {
				return outputError(err)
			}

			input := ops.EditMessageInput{
				MessageID: c.Args().First(),
				Content:   content,
			}
			if reason := c.String("reason"); reason != "" {
				input.EditReason = &reason
			}

			output, err := ops.EditMessage(c.Context, db, cfg, input)
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

// deleteCmd creates the delete command.
func deleteCmd(db *sql.DB) *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Usage:     "Soft-delete a message, or a file with --conversation and --file",
		ArgsUsage: "[message-id]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "conversation", Aliases: []string{"c"}, Usage: "Conversation ID (file delete)"},
			&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Usage: "File name (file delete)"},
		},
		Action: func(c *cli.Context) error {
			if fileName := c.String("file"); fileName != "" {
				output, err := ops.DeleteFile(c.Context, db, ops.DeleteFileInput{
					ConversationID: c.String("conversation"),
					FileName:       fileName,
				})
				if err != nil {
					return outputError(err)
				}
				return outputJSON(output)
			}

			if c.NArg() < 1 {
				return outputError(errors.NewValidation("message ID argument or --file is required"))
			}

			output, err := ops.DeleteMessage(c.Context, db, ops.DeleteMessageInput{
				MessageID: c.Args().First(),
			})
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

// uploadCmd creates the upload command.
func uploadCmd(db *sql.DB, objects objectstore.Store, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "upload",
		Usage: "Upload a file version (reads bytes from stdin)",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "conversation", Aliases: []string{"c"}, Required: true, Usage: "Conversation ID"},
			&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Required: true, Usage: "File name"},
			&cli.StringFlag{Name: "mime", Usage: "MIME type"},
			&cli.BoolFlag{Name: "generated", Usage: "Mark the file as generated rather than uploaded"},
		},
		Action: func(c *cli.Context) error {
			if !stdinHasData() {
				return outputError(errors.NewValidation("file content must be piped via stdin"))
			}
			data, err := readStdinBytes(cfg.MaxUploadBytes)
			if err != nil {
				return outputError(err)
			}

			input := ops.UploadFileInput{
				ConversationID: c.String("conversation"),
				FileName:       c.String("file"),
				Data:           data,
			}
			if mime := c.String("mime"); mime != "" {
				input.MimeType = &mime
			}
			if c.Bool("generated") {
				source := "generated"
				input.Source = &source
			}

			output, err := ops.UploadFile(c.Context, db, objects, cfg, input)
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

// renameCmd creates the rename command.
func renameCmd(db *sql.DB) *cli.Command {
	return &cli.Command{
		Name:      "rename",
		Usage:     "Record a conversation rename in the history",
		ArgsUsage: "<conversation-id> <new-title>",
		Action: func(c *cli.Context) error {
			if c.NArg() < 2 {
				return outputError(errors.NewValidation("conversation ID and new title arguments are required"))
			}

			output, err := ops.RenameConversation(c.Context, db, ops.RenameConversationInput{
				ConversationID: c.Args().Get(0),
				Title:          strings.Join(c.Args().Slice()[1:], " "),
			})
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

// timelineCmd creates the timeline command.
func timelineCmd(db *sql.DB) *cli.Command {
	return &cli.Command{
		Name:      "timeline",
		Usage:     "Show the per-day snapshot timeline of a conversation",
		ArgsUsage: "<conversation-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "day", Usage: "Drill into one UTC day (YYYY-MM-DD)"},
			&cli.BoolFlag{Name: "list", Usage: "Flat snapshot list instead of the day rollup"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: 20, Usage: "Maximum items to return (list mode)"},
			&cli.IntFlag{Name: "offset", Aliases: []string{"o"}, Value: 0, Usage: "Items to skip (list mode)"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return outputError(errors.NewValidation("conversation ID argument is required"))
			}
			conversationID := c.Args().First()

			if day := c.String("day"); day != "" {
				output, err := ops.SnapshotsOnDate(c.Context, db, ops.SnapshotsOnDateInput{
					ConversationID: conversationID,
					Day:            day,
				})
				if err != nil {
					return outputError(err)
				}
				return outputJSON(output)
			}

			if c.Bool("list") {
				output, err := ops.ListSnapshots(c.Context, db, ops.ListSnapshotsInput{
					ConversationID: conversationID,
					Limit:          c.Int("limit"),
					Offset:         c.Int("offset"),
				})
				if err != nil {
					return outputError(err)
				}
				return outputJSON(output)
			}

			output, err := ops.Timeline(c.Context, db, ops.TimelineInput{
				ConversationID: conversationID,
			})
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

// stateCmd creates the state command.
func stateCmd(db *sql.DB) *cli.Command {
	return &cli.Command{
		Name:      "state",
		Usage:     "Reconstruct conversation state at a snapshot (default: latest)",
		ArgsUsage: "<conversation-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "snapshot", Aliases: []string{"s"}, Usage: "Snapshot ID"},
			&cli.Int64Flag{Name: "version", Usage: "Snapshot version"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return outputError(errors.NewValidation("conversation ID argument is required"))
			}

			input := ops.StateInput{
				ConversationID: c.Args().First(),
			}
			if snapshot := c.String("snapshot"); snapshot != "" {
				input.SnapshotID = &snapshot
			}
			if c.IsSet("version") {
				version := c.Int64("version")
				input.Version = &version
			}

			output, err := ops.State(c.Context, db, input)
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

// searchCmd creates the search command.
func searchCmd(db *sql.DB) *cli.Command {
	return &cli.Command{
		Name:      "search",
		Usage:     "Full-text search over messages and file names",
		ArgsUsage: "<conversation-id> <query>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "historical", Usage: "Also match superseded revisions"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: 20, Usage: "Maximum items to return"},
			&cli.IntFlag{Name: "offset", Aliases: []string{"o"}, Value: 0, Usage: "Items to skip"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 2 {
				return outputError(errors.NewValidation("conversation ID and query arguments are required"))
			}

			output, err := ops.Search(c.Context, db, ops.SearchInput{
				ConversationID:    c.Args().Get(0),
				Query:             strings.Join(c.Args().Slice()[1:], " "),
				IncludeHistorical: c.Bool("historical"),
				Limit:             c.Int("limit"),
				Offset:            c.Int("offset"),
			})
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

// versionsCmd creates the versions command.
func versionsCmd(db *sql.DB, objects objectstore.Store) *cli.Command {
	return &cli.Command{
		Name:      "versions",
		Usage:     "List a file's stored versions, or dump one with --revision",
		ArgsUsage: "<conversation-id> <file-name>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "revision", Usage: "Write this revision's bytes to stdout"},
		},
		Action: func(c *cli.Context) error {
			if revisionID := c.String("revision"); revisionID != "" {
				output, err := ops.FileContent(c.Context, db, objects, ops.FileContentInput{
					RevisionID: revisionID,
				})
				if err != nil {
					return outputError(err)
				}
				_, err = os.Stdout.Write(output.Data)
				return err
			}

			if c.NArg() < 2 {
				return outputError(errors.NewValidation("conversation ID and file name arguments are required"))
			}

			output, err := ops.FileVersions(c.Context, db, ops.FileVersionsInput{
				ConversationID: c.Args().Get(0),
				FileName:       c.Args().Get(1),
			})
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

// historyCmd creates the history command.
func historyCmd(db *sql.DB) *cli.Command {
	return &cli.Command{
		Name:      "history",
		Usage:     "Show the full revision history of a message",
		ArgsUsage: "<message-id>",
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return outputError(errors.NewValidation("message ID argument is required"))
			}

			output, err := ops.MessageHistory(c.Context, db, ops.MessageHistoryInput{
				MessageID: c.Args().First(),
			})
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

// restoreCmd creates the restore command.
func restoreCmd(db *sql.DB) *cli.Command {
	return &cli.Command{
		Name:      "restore",
		Usage:     "Restore conversation state to an earlier snapshot",
		ArgsUsage: "<conversation-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "snapshot", Aliases: []string{"s"}, Usage: "Target snapshot ID"},
			&cli.Int64Flag{Name: "version", Usage: "Target snapshot version"},
			&cli.StringFlag{Name: "scope", Value: "full_chat", Usage: "Restore scope: full_chat|single_message|single_file|message_range|files_only"},
			&cli.StringFlag{Name: "message", Aliases: []string{"m"}, Usage: "Message ID (scope single_message)"},
			&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Usage: "File name (scope single_file)"},
			&cli.StringFlag{Name: "messages", Usage: "Comma-separated message IDs (scope message_range)"},
			&cli.StringFlag{Name: "reason", Usage: "Note recorded in the audit log"},
			&cli.BoolFlag{Name: "list", Usage: "Show the restore audit log instead"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return outputError(errors.NewValidation("conversation ID argument is required"))
			}
			conversationID := c.Args().First()

			if c.Bool("list") {
				output, err := ops.RestoreHistory(c.Context, db, ops.RestoreHistoryInput{
					ConversationID: conversationID,
				})
				if err != nil {
					return outputError(err)
				}
				return outputJSON(output)
			}

			input := ops.RestoreInput{
				ConversationID: conversationID,
				Scope:          c.String("scope"),
			}
			if snapshot := c.String("snapshot"); snapshot != "" {
				input.SnapshotID = &snapshot
			}
			if c.IsSet("version") {
				version := c.Int64("version")
				input.Version = &version
			}
			if message := c.String("message"); message != "" {
				input.MessageID = &message
			}
			if fileName := c.String("file"); fileName != "" {
				input.FileName = &fileName
			}
			if messages := c.String("messages"); messages != "" {
				input.MessageIDs = splitList(messages)
			}
			if reason := c.String("reason"); reason != "" {
				input.Reason = &reason
			}

			output, err := ops.Restore(c.Context, db, input)
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

// verifyCmd creates the verify command.
func verifyCmd(db *sql.DB, objects objectstore.Store) *cli.Command {
	return &cli.Command{
		Name:      "verify",
		Usage:     "Audit snapshot lineage and content fingerprints",
		ArgsUsage: "<conversation-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "snapshot", Aliases: []string{"s"}, Usage: "Verify up to this snapshot only"},
			&cli.BoolFlag{Name: "objects", Usage: "Also re-hash stored file objects"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return outputError(errors.NewValidation("conversation ID argument is required"))
			}

			input := ops.VerifyInput{
				ConversationID: c.Args().First(),
				VerifyObjects:  c.Bool("objects"),
			}
			if snapshot := c.String("snapshot"); snapshot != "" {
				input.SnapshotID = &snapshot
			}

			output, err := ops.Verify(c.Context, db, objects, input)
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

// exportCmd creates the export command.
func exportCmd(db *sql.DB, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:      "export",
		Usage:     "Export a conversation's full history to a JSONL file",
		ArgsUsage: "<conversation-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "path", Aliases: []string{"p"}, Usage: "Export file path (default: ~/.vellum/exports/<conversation>-<timestamp>.jsonl)"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return outputError(errors.NewValidation("conversation ID argument is required"))
			}

			output, err := ops.Export(c.Context, db, cfg, ops.ExportInput{
				ConversationID: c.Args().First(),
				Path:           c.String("path"),
			})
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

// rebuildIndexCmd creates the rebuild-index command.
func rebuildIndexCmd(db *sql.DB) *cli.Command {
	return &cli.Command{
		Name:      "rebuild-index",
		Usage:     "Rebuild the timeline and search indexes from the revision tables",
		ArgsUsage: "<conversation-id>",
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return outputError(errors.NewValidation("conversation ID argument is required"))
			}

			output, err := ops.RebuildIndexes(c.Context, db, ops.RebuildIndexesInput{
				ConversationID: c.Args().First(),
			})
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

// serveCmd creates the serve command.
func serveCmd(db *sql.DB, objects objectstore.Store, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the JSON API server",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bind", Usage: "Bind address (overrides config)"},
			&cli.IntFlag{Name: "port", Usage: "Listen port (overrides config)"},
		},
		Action: func(c *cli.Context) error {
			bind := cfg.HTTPBind
			if b := c.String("bind"); b != "" {
				bind = b
			}
			port := cfg.HTTPPort
			if p := c.Int("port"); p != 0 {
				port = p
			}

			srv := web.NewServer(db, objects, cfg, Version, bind, port)
			return web.Run(srv)
		},
	}
}

// Helper functions

// outputJSON marshals result to stdout as JSON.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	if hErr, ok := err.(*errors.HistoryError); ok {
		return cli.Exit(fmt.Sprintf("[%s] %s", hErr.Code, hErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}

// stdinHasData returns true if stdin has piped data (not a terminal).
func stdinHasData() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

// readStdin reads trimmed text from stdin, failing when it exceeds maxBytes.
func readStdin(maxBytes int64) (string, error) {
	data, err := readStdinBytes(maxBytes)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// readStdinBytes reads raw bytes from stdin, failing when they exceed maxBytes.
func readStdinBytes(maxBytes int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(os.Stdin, maxBytes+1))
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	if int64(len(data)) > maxBytes {
		return nil, errors.NewValidation(fmt.Sprintf("stdin input exceeds maximum size of %d bytes", maxBytes))
	}
	return data, nil
}

// splitList splits a comma-separated string into a slice.
func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
