package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/TobiSchelling/parley/internal/aggregate"
	"github.com/TobiSchelling/parley/internal/config"
	"github.com/TobiSchelling/parley/internal/database"
	"github.com/TobiSchelling/parley/internal/models"
)

var t0 = time.Date(2026, 4, 2, 14, 0, 0, 0, time.UTC)

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func seedSession(t *testing.T, db *database.DB, id string) {
	t.Helper()
	ctx := context.Background()
	err := db.CreateSession(ctx, database.Session{
		ID:           id,
		TemplateID:   "onboarding",
		CollectionID: "c1",
		Status:       models.SessionCompleted,
		Template:     models.Template{ID: "onboarding", Questions: []models.Question{{Text: "How did you start?"}}},
		StartedAt:    t0,
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	turns := []models.TurnEntry{
		{Speaker: models.SpeakerInterviewer, Text: "How did you start?", Timestamp: t0, QuestionIndex: 0},
		{Speaker: models.SpeakerRespondent, Text: "Slowly.", Timestamp: t0.Add(time.Second), QuestionIndex: 0},
	}
	if err := db.AppendTurns(ctx, id, 0, turns); err != nil {
		t.Fatalf("AppendTurns: %v", err)
	}
	events := []models.GuidanceEvent{
		{Index: 0, Action: models.ActionNone, Confidence: 0.3, Timestamp: t0.Add(2 * time.Second), TriggerTurnIndex: 1},
	}
	if err := db.SaveGuidanceEvents(ctx, id, events); err != nil {
		t.Fatalf("SaveGuidanceEvents: %v", err)
	}
}

func newServer(t *testing.T, db *database.DB) *Server {
	t.Helper()
	srv, err := New(db, config.NewHolder(config.Default()), nil)
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	return srv
}

func get(srv *Server, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", path, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthRoute(t *testing.T) {
	rec := get(newServer(t, openTestDB(t)), "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"config_revision": 1`) {
		t.Errorf("expected config revision in body, got %s", rec.Body.String())
	}
}

func TestSessionsRoute(t *testing.T) {
	db := openTestDB(t)
	seedSession(t, db, "s1")
	seedSession(t, db, "s2")
	srv := newServer(t, db)

	rec := get(srv, "/api/sessions?collection=c1&limit=1")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got []sessionView
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("expected 1 session with limit=1, got %d", len(got))
	}

	if rec := get(srv, "/api/sessions?limit=abc"); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad limit, got %d", rec.Code)
	}
}

func TestSessionDetailRoute(t *testing.T) {
	db := openTestDB(t)
	seedSession(t, db, "s1")
	srv := newServer(t, db)

	rec := get(srv, "/api/sessions/s1")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got sessionDetail
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != "s1" || len(got.Turns) != 2 || len(got.Guidance) != 1 {
		t.Errorf("unexpected detail: id=%s turns=%d guidance=%d", got.ID, len(got.Turns), len(got.Guidance))
	}
	if got.Adherence != nil {
		t.Error("expected no adherence summary before scoring")
	}

	if rec := get(srv, "/api/sessions/missing"); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestAdherenceJSONRoute(t *testing.T) {
	db := openTestDB(t)
	seedSession(t, db, "s1")
	srv := newServer(t, db)

	rec := get(srv, "/api/adherence?scope=collection&id=c1&from=2026-04-01&to=2026-04-02")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var got aggregate.Report
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Coverage.SessionsVisited != 1 || got.Coverage.GuidanceEventsInWindow != 1 {
		t.Errorf("unexpected coverage: %+v", got.Coverage)
	}
	if got.Adherence.NotApplicable != 1 {
		t.Errorf("expected the non-injected event to be N/A, got %+v", got.Adherence.Counts)
	}
}

func TestAdherenceRouteRejectsBadInput(t *testing.T) {
	srv := newServer(t, openTestDB(t))
	for _, path := range []string{
		"/api/adherence?scope=team&id=x",
		"/api/adherence?scope=collection",
		"/api/adherence?scope=collection&id=c1&from=yesterday",
		"/api/adherence?scope=collection&id=c1&top=-1",
	} {
		if rec := get(srv, path); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", path, rec.Code)
		}
	}
}

func TestAdherencePageRoute(t *testing.T) {
	db := openTestDB(t)
	seedSession(t, db, "s1")
	srv := newServer(t, db)

	rec := get(srv, "/adherence?scope=collection&id=c1")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "<h1") || !strings.Contains(body, "Adherence report: collection c1") {
		t.Error("expected rendered markdown heading in response")
	}
	if !strings.Contains(body, "<table>") {
		t.Error("expected coverage table in response")
	}
}

func TestParseBound(t *testing.T) {
	to, err := ParseBound("2026-04-02", true)
	if err != nil {
		t.Fatalf("ParseBound: %v", err)
	}
	if !to.After(t0) {
		t.Errorf("expected a date upper bound to cover the whole day, got %s", to)
	}
	from, err := ParseBound("2026-04-02T15:00:00Z", false)
	if err != nil {
		t.Fatalf("ParseBound: %v", err)
	}
	if !from.After(t0) {
		t.Errorf("unexpected from %s", from)
	}
	if b, _ := ParseBound("", false); !b.IsZero() {
		t.Error("expected empty input to be an open bound")
	}
}
