// Package server exposes a session as a live web page: the full rendered
// document, per-format index files, incremental element pulls for the page
// script and the event ingestion endpoint. The transport is deliberately
// thin; all document logic stays in the session.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"

	"github.com/livedoc-io/livedoc/pkg/document"
	"github.com/livedoc-io/livedoc/pkg/event"
	"github.com/livedoc-io/livedoc/pkg/session"
)

// DefaultRefresh is the client poll interval suggested to the page script.
const DefaultRefresh = 250 * time.Millisecond

// Server serves one session over HTTP.
type Server struct {
	addr    string
	logger  *slog.Logger
	sess    *session.Session
	refresh time.Duration

	httpServer *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithRefresh overrides the client poll interval.
func WithRefresh(d time.Duration) Option {
	return func(s *Server) { s.refresh = d }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// New creates a server for the given session.
func New(sess *session.Session, addr string, opts ...Option) *Server {
	s := &Server{
		addr:    addr,
		logger:  slog.Default(),
		sess:    sess,
		refresh: DefaultRefresh,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the chi router serving the live view.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/", s.handlePage(document.FormatHTML, "text/html; charset=utf-8"))
	r.Get("/index.html", s.handlePage(document.FormatHTML, "text/html; charset=utf-8"))
	r.Get("/index.md", s.handlePage(document.FormatMarkdown, "text/markdown; charset=utf-8"))
	r.Get("/index.txt", s.handlePage(document.FormatText, "text/plain; charset=utf-8"))

	r.Get("/live/element", s.handleElement)
	r.Get("/live/poll", s.handlePoll)
	r.Post("/live/event", s.handleEvent)

	return r
}

// Start begins serving in the background.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:    s.addr,
		Handler: s.Router(),
	}
	srv := s.httpServer
	s.logger.Info("live view listening", "addr", s.addr)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("live view server failed", "error", err)
		}
	}()
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Run serves until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

func (s *Server) handlePage(format, contentType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page := s.sess.GetPage(format)
		if page == nil {
			s.sess.Render()
			page = s.sess.GetPage(format)
		}
		if page == nil {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", contentType)
		_, _ = w.Write(page)
	}
}

// handleElement serves one subtree of the document, addressed by its
// dotted path, so a client can refresh a single region.
func (s *Server) handleElement(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		name = session.RootName
	}
	format := r.URL.Query().Get("format")
	if format == "" {
		format = document.FormatHTML
	}
	var backup *bool
	if raw := r.URL.Query().Get("backup"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			http.Error(w, "malformed backup flag", http.StatusBadRequest)
			return
		}
		backup = &b
	}

	ts, content, ok := s.sess.GetElement(name, format, backup)
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, map[string]any{
		"timestamp": ts.UnixMilli(),
		"content":   string(content),
	})
}

// handlePoll serves the outermost element that changed since the client's
// last pull, which is what the page script swaps in place.
func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("client")
	if clientID == "" {
		clientID = "local"
	}
	target, content, ok := s.sess.ChangedElement(clientID, document.FormatHTML)
	resp := map[string]any{
		"refreshMs": s.refresh.Milliseconds(),
	}
	if ok {
		resp["target"] = target
		resp["content"] = string(content)
	}
	writeJSON(w, resp)
}

// handleEvent ingests one interaction event from the page script.
func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	var ev event.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		http.Error(w, "malformed event", http.StatusBadRequest)
		return
	}
	if ev.Target == "" {
		http.Error(w, "event without target", http.StatusBadRequest)
		return
	}
	s.sess.PushEvent(ev)
	w.WriteHeader(http.StatusAccepted)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
