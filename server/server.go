// Package server exposes the signal catalog over HTTP: file registration
// and catalog inspection as request/response endpoints, signal streaming
// as a per-connection websocket channel.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/plotune/pltxd/catalog"
	"github.com/plotune/pltxd/config"
	"github.com/plotune/pltxd/pltx"
)

// Server serves the HTTP and websocket API for one catalog.
type Server struct {
	cfg      *config.Config
	catalog  *catalog.Catalog
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// New creates a Server.
func New(cfg *config.Config, cat *catalog.Catalog, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:     cfg,
		catalog: cat,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// The service fronts local tooling; origin policy is the
			// deployment's concern.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /read-file", s.handleReadFile)
	mux.HandleFunc("GET /fetch/{signal}", s.handleFetch)
	mux.HandleFunc("GET /readers", s.handleReaders)
	mux.HandleFunc("GET /readers/{id}/headers", s.handleReaderHeaders)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /info", s.handleInfo)
	return mux
}

// ListenAndServe binds the configured address and serves until ctx is
// canceled, then shuts down gracefully. When the configured port is 0,
// the actual bound port is patched back into the config before serving.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("bind %s: %w", s.cfg.Addr(), err)
	}
	s.cfg.Connection.Port = ln.Addr().(*net.TCPAddr).Port
	s.logger.Info("server listening", "addr", ln.Addr().String())

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

type fileReadRequest struct {
	Mode string `json:"mode"` // "online" | "offline"; only offline playback is served
	Path string `json:"path"`
}

type fileReadResponse struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Path      string   `json:"path"`
	Source    string   `json:"source"`
	Headers   []string `json:"headers"`
	Desc      *string  `json:"desc"`
	Tags      []string `json:"tags"`
	CreatedAt *string  `json:"created_at"`
	SourceURL *string  `json:"source_url"`
}

func (s *Server) handleReadFile(w http.ResponseWriter, r *http.Request) {
	var req fileReadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}
	s.logger.Debug("read-file requested", "mode", req.Mode, "path", req.Path)

	info, err := s.catalog.OpenFile(req.Path)
	if err != nil {
		s.logger.Error("open failed", "path", req.Path, "error", err)
		switch {
		case errors.Is(err, os.ErrNotExist):
			http.Error(w, "file not found", http.StatusNotFound)
		case errors.Is(err, pltx.ErrBadHeader),
			errors.Is(err, pltx.ErrBadIndex),
			errors.Is(err, pltx.ErrUnsupportedVersion),
			errors.Is(err, pltx.ErrUnsupportedCompression):
			http.Error(w, "malformed pltx file", http.StatusUnprocessableEntity)
		default:
			http.Error(w, "open failed", http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, fileReadResponse{
		ID:      info.ID,
		Name:    info.Name,
		Path:    info.Path,
		Source:  info.Path,
		Headers: info.Headers,
	})
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	public := r.PathValue("signal")

	// Resolve before upgrading: an unknown name fails the request with
	// no channel opened.
	entry, ok := s.catalog.Resolve(public)
	if !ok {
		s.logger.Warn("signal not found", "signal", public)
		http.Error(w, "signal not found", http.StatusNotFound)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	cursor, err := entry.Reader.OpenCursor(ctx, entry.Signal)
	if err != nil {
		// The catalog entry is authoritative, so this only happens if
		// the mapping is out of sync with the reader.
		s.logger.Error("cursor open failed", "signal", public, "error", err)
		http.Error(w, "signal not found", http.StatusNotFound)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		cursor.Close()
		s.logger.Warn("websocket upgrade failed", "signal", public, "error", err)
		return
	}
	defer conn.Close()

	// The client never sends data; the read pump only detects
	// disconnects so the cursor stops promptly.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	sess := &session{
		conn:   conn,
		cursor: cursor,
		signal: public,
		logger: s.logger,
	}
	sess.run(ctx)
}

func (s *Server) handleReaders(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.catalog.Readers())
}

func (s *Server) handleReaderHeaders(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	headers, ok := s.catalog.ReaderHeaders(id)
	if !ok {
		http.Error(w, "reader not found", http.StatusNotFound)
		return
	}
	writeJSON(w, struct {
		ID      string   `json:"id"`
		Headers []string `json:"headers"`
	}{ID: id, Headers: headers})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, struct {
		Status string `json:"status"`
	}{Status: "ok"})
}

func (s *Server) handleInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.cfg)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
