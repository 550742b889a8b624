package mcp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/kwonno/O2-maintenance-sub000/internal/document"
	"github.com/kwonno/O2-maintenance-sub000/internal/metrics"
	"github.com/kwonno/O2-maintenance-sub000/internal/storage"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 15 * time.Second
)

// Run starts the MCP server in the configured mode
func (s *Server) Run(ctx context.Context) error {
	if s.config.IsServerMode() {
		return s.runServerMode(ctx)
	}
	return s.runStdioMode(ctx)
}

// runStdioMode serves MCP over stdin/stdout until the client disconnects
func (s *Server) runStdioMode(_ context.Context) error {
	s.logger.Debug("starting MCP server in stdio mode", zap.String("storage", s.svc.Store().Backend()))

	if err := server.ServeStdio(s.mcpServer); err != nil {
		return fmt.Errorf("failed to serve stdio: %w", err)
	}
	return nil
}

// runServerMode serves MCP over SSE plus the operational endpoints until ctx is canceled
func (s *Server) runServerMode(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.Address(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	// ctx is already canceled; give in-flight requests their own budget
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	s.logger.Info("shutting down http server")
	if err := s.sse.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("sse shutdown", zap.Error(err))
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// Handler is the server-mode router: MCP over SSE, health, metrics and signed downloads
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(metrics.HTTPMetrics)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", metrics.Handler())
	r.Handle("/sse", s.sse.SSEHandler())
	r.Handle("/message", s.sse.MessageHandler())

	if local, ok := s.svc.Store().(*storage.Local); ok {
		r.Get("/files/*", s.serveFile(local))
	}
	return r
}

// serveFile streams a stored document to holders of a valid signed URL
func (s *Server) serveFile(local *storage.Local) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := url.PathUnescape(chi.URLParam(r, "*"))
		if err != nil {
			http.Error(w, "bad path", http.StatusBadRequest)
			return
		}
		q := r.URL.Query()
		if err := local.VerifySignedURL(p, q.Get("expires"), q.Get("sig")); err != nil {
			http.Error(w, "invalid or expired link", http.StatusForbidden)
			return
		}

		data, err := local.Get(r.Context(), p)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			http.Error(w, "not found", http.StatusNotFound)
			return
		case err != nil:
			s.logger.Warn("serve file", zap.String("path", p), zap.Error(err))
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", contentTypeFor(p))
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", path.Base(p)))
		_, _ = w.Write(data)
	}
}

func contentTypeFor(p string) string {
	t, err := document.ParseDocumentType(path.Ext(p))
	if err != nil {
		return "application/octet-stream"
	}
	if t == document.TypeXLS {
		return "application/vnd.ms-excel"
	}
	return t.ContentType()
}
