// Package server exposes sessions and adherence reports over HTTP.
package server

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strconv"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"go.uber.org/zap"

	"github.com/TobiSchelling/parley/internal/adherence"
	"github.com/TobiSchelling/parley/internal/aggregate"
	"github.com/TobiSchelling/parley/internal/config"
	"github.com/TobiSchelling/parley/internal/database"
	"github.com/TobiSchelling/parley/internal/models"
	"github.com/TobiSchelling/parley/internal/report"
)

//go:embed templates/*.html
var templateFS embed.FS

var md = goldmark.New(goldmark.WithExtensions(extension.Table))

// Store is what the server reads.
type Store interface {
	ListSessions(ctx context.Context, f database.SessionFilter) ([]database.Session, error)
	GetSession(ctx context.Context, id string) (*database.Session, error)
	Turns(ctx context.Context, sessionID string) ([]models.TurnEntry, error)
	Summaries(ctx context.Context, sessionID string) ([]models.QuestionSummary, error)
	GuidanceEvents(ctx context.Context, sessionID string) ([]models.GuidanceEvent, error)
	AdherenceSummary(ctx context.Context, sessionID string) (*adherence.Summary, time.Time, error)
	ScopeSessions(ctx context.Context, scope aggregate.Scope) ([]aggregate.Session, error)
}

// Server is the HTTP server for sessions and adherence reports.
type Server struct {
	db     Store
	cfg    *config.Holder
	agg    *aggregate.Aggregator
	page   *template.Template
	mux    *http.ServeMux
	logger *zap.Logger
}

// New creates a new Server. cfg may be nil.
func New(db Store, cfg *config.Holder, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	page, err := template.New("adherence.html").
		Funcs(template.FuncMap{"markdown": renderMarkdown}).
		ParseFS(templateFS, "templates/adherence.html")
	if err != nil {
		return nil, fmt.Errorf("parsing adherence template: %w", err)
	}
	s := &Server{db: db, cfg: cfg, agg: aggregate.New(logger), page: page, mux: http.NewServeMux(), logger: logger}
	s.routes()
	return s, nil
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("GET /api/sessions", s.handleSessions)
	s.mux.HandleFunc("GET /api/sessions/{id}", s.handleSession)
	s.mux.HandleFunc("GET /api/adherence", s.handleAdherenceJSON)
	s.mux.HandleFunc("GET /adherence", s.handleAdherencePage)
}

type sessionView struct {
	ID                  string     `json:"id"`
	WorkspaceID         string     `json:"workspace_id,omitempty"`
	ProjectID           string     `json:"project_id,omitempty"`
	TemplateID          string     `json:"template_id"`
	CollectionID        string     `json:"collection_id,omitempty"`
	Persona             string     `json:"persona,omitempty"`
	Status              string     `json:"status"`
	Questions           int        `json:"questions"`
	AdditionalQuestions []string   `json:"additional_questions,omitempty"`
	StartedAt           time.Time  `json:"started_at"`
	CompletedAt         *time.Time `json:"completed_at,omitempty"`
	Error               string     `json:"error,omitempty"`
}

func viewOf(s database.Session) sessionView {
	return sessionView{
		ID:                  s.ID,
		WorkspaceID:         s.WorkspaceID,
		ProjectID:           s.ProjectID,
		TemplateID:          s.TemplateID,
		CollectionID:        s.CollectionID,
		Persona:             s.PersonaName,
		Status:              s.Status,
		Questions:           len(s.Template.Questions),
		AdditionalQuestions: s.AdditionalQuestions,
		StartedAt:           s.StartedAt,
		CompletedAt:         s.CompletedAt,
		Error:               s.Error,
	}
}

type sessionDetail struct {
	sessionView
	Turns     []models.TurnEntry       `json:"turns"`
	Summaries []models.QuestionSummary `json:"summaries"`
	Guidance  []models.GuidanceEvent   `json:"guidance"`
	Adherence *adherence.Summary       `json:"adherence,omitempty"`
	ScoredAt  *time.Time               `json:"scored_at,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"status": "ok"}
	if s.cfg != nil {
		_, rev := s.cfg.Current()
		body["config_revision"] = rev
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := database.SessionFilter{
		CollectionID: q.Get("collection"),
		TemplateID:   q.Get("template"),
		ProjectID:    q.Get("project"),
		Status:       q.Get("status"),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		f.Limit = n
	}

	sessions, err := s.db.ListSessions(r.Context(), f)
	if err != nil {
		s.internalError(w, "listing sessions", err)
		return
	}
	out := make([]sessionView, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, viewOf(sess))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")
	sess, err := s.db.GetSession(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		s.internalError(w, "loading session", err)
		return
	}

	d := sessionDetail{sessionView: viewOf(*sess)}
	if d.Turns, err = s.db.Turns(ctx, id); err != nil {
		s.internalError(w, "loading transcript", err)
		return
	}
	if d.Summaries, err = s.db.Summaries(ctx, id); err != nil {
		s.internalError(w, "loading summaries", err)
		return
	}
	if d.Guidance, err = s.db.GuidanceEvents(ctx, id); err != nil {
		s.internalError(w, "loading guidance log", err)
		return
	}
	sum, at, err := s.db.AdherenceSummary(ctx, id)
	switch {
	case err == nil:
		d.Adherence, d.ScoredAt = sum, &at
	case !errors.Is(err, database.ErrNotFound):
		s.internalError(w, "loading adherence summary", err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleAdherenceJSON(w http.ResponseWriter, r *http.Request) {
	rep, status, err := s.adherenceReport(r)
	if err != nil {
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleAdherencePage(w http.ResponseWriter, r *http.Request) {
	rep, status, err := s.adherenceReport(r)
	if err != nil {
		http.Error(w, err.Error(), status)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	data := map[string]any{"Scope": rep.Scope, "Markdown": report.Markdown(rep)}
	if err := s.page.Execute(w, data); err != nil {
		s.logger.Error("rendering adherence page", zap.Error(err))
	}
}

// adherenceReport parses scope, id, from, to and top and aggregates.
func (s *Server) adherenceReport(r *http.Request) (*aggregate.Report, int, error) {
	q := r.URL.Query()
	scope := aggregate.Scope{Kind: q.Get("scope"), ID: q.Get("id")}
	switch scope.Kind {
	case aggregate.ScopeCollection, aggregate.ScopeTemplate, aggregate.ScopeProject:
	default:
		return nil, http.StatusBadRequest, fmt.Errorf("scope must be collection, template or project")
	}
	if scope.ID == "" {
		return nil, http.StatusBadRequest, fmt.Errorf("id is required")
	}

	var opts aggregate.Options
	var err error
	if opts.From, err = ParseBound(q.Get("from"), false); err != nil {
		return nil, http.StatusBadRequest, fmt.Errorf("from: %w", err)
	}
	if opts.To, err = ParseBound(q.Get("to"), true); err != nil {
		return nil, http.StatusBadRequest, fmt.Errorf("to: %w", err)
	}
	if v := q.Get("top"); v != "" {
		if opts.TopN, err = strconv.Atoi(v); err != nil || opts.TopN < 0 {
			return nil, http.StatusBadRequest, fmt.Errorf("top must be a non-negative integer")
		}
	}

	sessions, err := s.db.ScopeSessions(r.Context(), scope)
	if err != nil {
		s.logger.Error("loading scope sessions", zap.String("scope", scope.Kind), zap.String("id", scope.ID), zap.Error(err))
		return nil, http.StatusInternalServerError, fmt.Errorf("internal server error")
	}
	return s.agg.Aggregate(scope, sessions, opts), http.StatusOK, nil
}

// ParseBound parses an RFC 3339 timestamp or a YYYY-MM-DD date. A date used
// as an upper bound covers the whole day. Empty input is an open bound.
func ParseBound(v string, upper bool) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected YYYY-MM-DD or RFC 3339, got %q", v)
	}
	if upper {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}

func (s *Server) internalError(w http.ResponseWriter, what string, err error) {
	s.logger.Error(what, zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal server error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func renderMarkdown(text string) template.HTML {
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(text))
	}
	return template.HTML(buf.String()) //nolint: gosec
}

// Serve listens on 127.0.0.1:port until ctx is done, then shuts down.
func Serve(ctx context.Context, srv *Server, port int) error {
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	hs := &http.Server{Addr: addr, Handler: srv.Handler(), ReadHeaderTimeout: 10 * time.Second}

	errc := make(chan error, 1)
	go func() { errc <- hs.ListenAndServe() }()
	srv.logger.Info("server listening", zap.String("addr", "http://"+addr))

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := hs.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
