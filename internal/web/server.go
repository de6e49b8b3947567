package web

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vellumdb/vellum/internal/config"
	"github.com/vellumdb/vellum/internal/objectstore"
)

// NewServer creates and configures the HTTP server for the Vellum JSON API.
func NewServer(db *sql.DB, objects objectstore.Store, cfg *config.Config, version, bind string, port int) *http.Server {
	h := &Handlers{
		db:      db,
		objects: objects,
		cfg:     cfg,
		version: version,
	}

	mux := http.NewServeMux()

	// Routes using Go 1.22+ pattern syntax
	mux.HandleFunc("GET /{$}", h.HandleRoot)
	mux.HandleFunc("GET /conversations/{id}/timeline", h.HandleTimeline)
	mux.HandleFunc("GET /conversations/{id}/timeline/{day}", h.HandleTimelineDay)
	mux.HandleFunc("GET /conversations/{id}/snapshots", h.HandleSnapshots)
	mux.HandleFunc("GET /conversations/{id}/state", h.HandleState)
	mux.HandleFunc("GET /conversations/{id}/search", h.HandleSearch)
	mux.HandleFunc("GET /conversations/{id}/verify", h.HandleVerify)
	mux.HandleFunc("GET /conversations/{id}/restores", h.HandleRestoreHistory)
	mux.HandleFunc("POST /conversations/{id}/messages", h.HandleRecordMessage)
	mux.HandleFunc("POST /conversations/{id}/restore", h.HandleRestore)
	mux.HandleFunc("POST /conversations/{id}/rename", h.HandleRename)
	mux.HandleFunc("POST /conversations/{id}/files", h.HandleUploadFile)
	mux.HandleFunc("DELETE /conversations/{id}/files/{name}", h.HandleDeleteFile)
	mux.HandleFunc("GET /conversations/{id}/files/{name}/versions", h.HandleFileVersions)
	mux.HandleFunc("PUT /messages/{id}", h.HandleEditMessage)
	mux.HandleFunc("DELETE /messages/{id}", h.HandleDeleteMessage)
	mux.HandleFunc("GET /messages/{id}/history", h.HandleMessageHistory)
	mux.HandleFunc("GET /revisions/{id}/content", h.HandleFileContent)

	handler := securityHeaders(requestLogger(mux))

	return &http.Server{
		Addr:    fmt.Sprintf("%s:%d", bind, port),
		Handler: handler,
	}
}

// securityHeaders adds security-related HTTP headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", "default-src 'none'")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response status for request logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(status int) {
	sr.status = status
	sr.ResponseWriter.WriteHeader(status)
}

// requestLogger logs each request with method, path, status, and duration.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

// Run starts the HTTP server and handles graceful shutdown on SIGINT/SIGTERM.
func Run(srv *http.Server) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	log.Info().Str("addr", srv.Addr).Msg("vellum API listening")

	if strings.Contains(srv.Addr, "0.0.0.0") || strings.Contains(srv.Addr, "::") {
		log.Warn().Msg("server is binding to all interfaces and may be accessible from the network")
	}

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
		log.Info().Msg("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}
}
