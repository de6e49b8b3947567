package web

import (
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"strconv"

	"github.com/vellumdb/vellum/internal/config"
	"github.com/vellumdb/vellum/internal/errors"
	"github.com/vellumdb/vellum/internal/objectstore"
	"github.com/vellumdb/vellum/internal/ops"
)

// Handlers contains HTTP route handlers for the JSON API.
type Handlers struct {
	db      *sql.DB
	objects objectstore.Store
	cfg     *config.Config
	version string
}

// HandleRoot handles GET / — service identification.
func (h *Handlers) HandleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "vellum",
		"version": h.version,
	})
}

// HandleTimeline handles GET /conversations/{id}/timeline — per-day rollup.
func (h *Handlers) HandleTimeline(w http.ResponseWriter, r *http.Request) {
	result, err := ops.Timeline(r.Context(), h.db, ops.TimelineInput{
		ConversationID: r.PathValue("id"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// HandleTimelineDay handles GET /conversations/{id}/timeline/{day}.
func (h *Handlers) HandleTimelineDay(w http.ResponseWriter, r *http.Request) {
	result, err := ops.SnapshotsOnDate(r.Context(), h.db, ops.SnapshotsOnDateInput{
		ConversationID: r.PathValue("id"),
		Day:            r.PathValue("day"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// HandleSnapshots handles GET /conversations/{id}/snapshots — flat paginated list.
func (h *Handlers) HandleSnapshots(w http.ResponseWriter, r *http.Request) {
	result, err := ops.ListSnapshots(r.Context(), h.db, ops.ListSnapshotsInput{
		ConversationID: r.PathValue("id"),
		Limit:          parseIntParam(r, "limit", 0),
		Offset:         parseIntParam(r, "offset", 0),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// HandleState handles GET /conversations/{id}/state — reconstruct state at a
// snapshot addressed by ?snapshot_id= or ?version= (default: latest).
func (h *Handlers) HandleState(w http.ResponseWriter, r *http.Request) {
	input := ops.StateInput{
		ConversationID: r.PathValue("id"),
		SnapshotID:     ptrString(r.URL.Query().Get("snapshot_id")),
	}
	if v := r.URL.Query().Get("version"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, errors.NewValidation("version must be an integer"))
			return
		}
		input.Version = &n
	}

	result, err := ops.State(r.Context(), h.db, input)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// HandleSearch handles GET /conversations/{id}/search?q=...
func (h *Handlers) HandleSearch(w http.ResponseWriter, r *http.Request) {
	result, err := ops.Search(r.Context(), h.db, ops.SearchInput{
		ConversationID:    r.PathValue("id"),
		Query:             r.URL.Query().Get("q"),
		IncludeHistorical: parseBoolParam(r, "include_historical"),
		Limit:             parseIntParam(r, "limit", 0),
		Offset:            parseIntParam(r, "offset", 0),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// HandleVerify handles GET /conversations/{id}/verify.
func (h *Handlers) HandleVerify(w http.ResponseWriter, r *http.Request) {
	result, err := ops.Verify(r.Context(), h.db, h.objects, ops.VerifyInput{
		ConversationID: r.PathValue("id"),
		SnapshotID:     ptrString(r.URL.Query().Get("snapshot_id")),
		VerifyObjects:  parseBoolParam(r, "verify_objects"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// HandleRestoreHistory handles GET /conversations/{id}/restores.
func (h *Handlers) HandleRestoreHistory(w http.ResponseWriter, r *http.Request) {
	result, err := ops.RestoreHistory(r.Context(), h.db, ops.RestoreHistoryInput{
		ConversationID: r.PathValue("id"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// recordMessageBody is the JSON body for POST /conversations/{id}/messages.
type recordMessageBody struct {
	MessageID string `json:"message_id"`
	Content   string `json:"content"`
	Role      string `json:"role"`
}

// HandleRecordMessage handles POST /conversations/{id}/messages.
func (h *Handlers) HandleRecordMessage(w http.ResponseWriter, r *http.Request) {
	var body recordMessageBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}

	result, err := ops.RecordMessage(r.Context(), h.db, h.cfg, ops.RecordMessageInput{
		ConversationID: r.PathValue("id"),
		MessageID:      body.MessageID,
		Content:        body.Content,
		Role:           body.Role,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// renameBody is the JSON body for POST /conversations/{id}/rename.
type renameBody struct {
	Title string `json:"title"`
}

// HandleRename handles POST /conversations/{id}/rename.
func (h *Handlers) HandleRename(w http.ResponseWriter, r *http.Request) {
	var body renameBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}

	result, err := ops.RenameConversation(r.Context(), h.db, ops.RenameConversationInput{
		ConversationID: r.PathValue("id"),
		Title:          body.Title,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// editMessageBody is the JSON body for PUT /messages/{id}.
type editMessageBody struct {
	Content    string  `json:"content"`
	EditReason *string `json:"edit_reason,omitempty"`
}

// HandleEditMessage handles PUT /messages/{id}.
func (h *Handlers) HandleEditMessage(w http.ResponseWriter, r *http.Request) {
	var body editMessageBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}

	result, err := ops.EditMessage(r.Context(), h.db, h.cfg, ops.EditMessageInput{
		MessageID:  r.PathValue("id"),
		Content:    body.Content,
		EditReason: body.EditReason,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// HandleDeleteMessage handles DELETE /messages/{id}.
func (h *Handlers) HandleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	result, err := ops.DeleteMessage(r.Context(), h.db, ops.DeleteMessageInput{
		MessageID: r.PathValue("id"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// HandleMessageHistory handles GET /messages/{id}/history.
func (h *Handlers) HandleMessageHistory(w http.ResponseWriter, r *http.Request) {
	result, err := ops.MessageHistory(r.Context(), h.db, ops.MessageHistoryInput{
		MessageID: r.PathValue("id"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// HandleUploadFile handles POST /conversations/{id}/files. The file bytes are
// the request body; file_name and source are query parameters and the MIME
// type comes from the Content-Type header.
func (h *Handlers) HandleUploadFile(w http.ResponseWriter, r *http.Request) {
	maxBytes := config.DefaultConfig().MaxUploadBytes
	if h.cfg != nil && h.cfg.MaxUploadBytes > 0 {
		maxBytes = h.cfg.MaxUploadBytes
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBytes+1))
	if err != nil {
		writeError(w, errors.NewValidation("failed to read upload body"))
		return
	}

	result, err := ops.UploadFile(r.Context(), h.db, h.objects, h.cfg, ops.UploadFileInput{
		ConversationID: r.PathValue("id"),
		FileName:       r.URL.Query().Get("file_name"),
		Data:           data,
		MimeType:       ptrString(r.Header.Get("Content-Type")),
		Source:         ptrString(r.URL.Query().Get("source")),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// HandleDeleteFile handles DELETE /conversations/{id}/files/{name}.
func (h *Handlers) HandleDeleteFile(w http.ResponseWriter, r *http.Request) {
	result, err := ops.DeleteFile(r.Context(), h.db, ops.DeleteFileInput{
		ConversationID: r.PathValue("id"),
		FileName:       r.PathValue("name"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// HandleFileVersions handles GET /conversations/{id}/files/{name}/versions.
func (h *Handlers) HandleFileVersions(w http.ResponseWriter, r *http.Request) {
	result, err := ops.FileVersions(r.Context(), h.db, ops.FileVersionsInput{
		ConversationID: r.PathValue("id"),
		FileName:       r.PathValue("name"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// HandleFileContent handles GET /revisions/{id}/content — raw bytes of one
// stored file version, checksum-verified.
func (h *Handlers) HandleFileContent(w http.ResponseWriter, r *http.Request) {
	result, err := ops.FileContent(r.Context(), h.db, h.objects, ops.FileContentInput{
		RevisionID: r.PathValue("id"),
	})
	if err != nil {
		writeError(w, err)
		return
	}

	contentType := "application/octet-stream"
	if result.MimeType != nil && *result.MimeType != "" {
		contentType = *result.MimeType
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(result.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

// restoreBody is the JSON body for POST /conversations/{id}/restore.
type restoreBody struct {
	SnapshotID *string  `json:"snapshot_id,omitempty"`
	Version    *int64   `json:"version,omitempty"`
	Scope      string   `json:"scope"`
	MessageID  *string  `json:"message_id,omitempty"`
	FileName   *string  `json:"file_name,omitempty"`
	MessageIDs []string `json:"message_ids,omitempty"`
	Reason     *string  `json:"reason,omitempty"`
}

// HandleRestore handles POST /conversations/{id}/restore.
func (h *Handlers) HandleRestore(w http.ResponseWriter, r *http.Request) {
	var body restoreBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}

	result, err := ops.Restore(r.Context(), h.db, ops.RestoreInput{
		ConversationID: r.PathValue("id"),
		SnapshotID:     body.SnapshotID,
		Version:        body.Version,
		Scope:          body.Scope,
		MessageID:      body.MessageID,
		FileName:       body.FileName,
		MessageIDs:     body.MessageIDs,
		Reason:         body.Reason,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// decodeBody decodes a JSON request body, rejecting unknown fields.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errors.NewValidation("invalid JSON body: " + err.Error())
	}
	return nil
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError maps an error to its HTTP status and JSON error payload.
// Internal error details are not exposed to prevent leaking sensitive info.
func writeError(w http.ResponseWriter, err error) {
	var hErr *errors.HistoryError
	if stderrors.As(err, &hErr) {
		errorObj := map[string]any{
			"code":    hErr.Code,
			"message": hErr.Message,
		}
		if hErr.Code != errors.ErrInternal && hErr.Details != nil {
			errorObj["details"] = hErr.Details
		}
		writeJSON(w, hErr.Status, map[string]any{"error": errorObj})
		return
	}

	writeJSON(w, http.StatusInternalServerError, map[string]any{
		"error": map[string]any{
			"code":    "INTERNAL",
			"message": "an internal error occurred",
		},
	})
}

// parseIntParam parses an integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}

// parseBoolParam parses a boolean query parameter.
func parseBoolParam(r *http.Request, name string) bool {
	s := r.URL.Query().Get(name)
	return s == "true" || s == "1"
}

// ptrString returns a pointer to s if non-empty, nil otherwise.
func ptrString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
