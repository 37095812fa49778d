package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/MikeSquared-Agency/envoy/internal/dialog"
	"github.com/MikeSquared-Agency/envoy/internal/flow"
	"github.com/MikeSquared-Agency/envoy/internal/nlu"
	"github.com/MikeSquared-Agency/envoy/internal/scraper"
	"github.com/MikeSquared-Agency/envoy/internal/state"
	"github.com/MikeSquared-Agency/envoy/internal/tools"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeScraper struct {
	members []scraper.MemberRecord
	err     error
	group   string
	limit   int
}

func (f *fakeScraper) Scrape(_ context.Context, group string, limit int) ([]scraper.MemberRecord, error) {
	f.group, f.limit = group, limit
	if f.err != nil {
		return []scraper.MemberRecord{}, f.err
	}
	return f.members, nil
}

type fakeLeads struct{ n int }

func (f *fakeLeads) CountLeads(context.Context) (int, error) { return f.n, nil }

func newTestServer(t *testing.T, token string, sc MemberScraper) *Server {
	t.Helper()
	cat, err := flow.LoadCatalog("../../config/leads.json")
	if err != nil {
		t.Fatalf("failed to load catalog: %v", err)
	}
	logger := discardLogger()
	exec := tools.NewExecutor(cat, logger)
	mem := state.NewMemoryStore()
	engine := dialog.New(cat, nlu.NewClassifier(nil, logger), mem, mem, exec, logger)

	return NewServer(8760, token, Deps{
		Catalog:     cat,
		Dialogs:     engine,
		Scraper:     sc,
		Tools:       exec,
		Leads:       &fakeLeads{n: 3},
		Model:       "phi",
		MembersFile: filepath.Join(t.TempDir(), "members.json"),
	}, logger)
}

func do(srv *Server, method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t, "", nil)

	w := do(srv, "GET", "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}

	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %q", body["status"])
	}
}

func TestStatusEndpoint(t *testing.T) {
	srv := newTestServer(t, "secret", nil)

	// Status stays public even when a token is configured.
	w := do(srv, "GET", "/api/v1/envoy/status", "", nil)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}

	var body struct {
		Agent string   `json:"agent"`
		Goals []string `json:"goals"`
		Model string   `json:"model"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Agent != "Envoy" {
		t.Errorf("expected agent Envoy, got %q", body.Agent)
	}
	if len(body.Goals) != 3 || body.Goals[0] != "collect_contact_info" {
		t.Errorf("unexpected goals %v", body.Goals)
	}
	if body.Model != "phi" {
		t.Errorf("expected model phi, got %q", body.Model)
	}
}

func TestNotFoundEndpoint(t *testing.T) {
	srv := newTestServer(t, "", nil)

	w := do(srv, "GET", "/nonexistent", "", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestBearerAuth(t *testing.T) {
	srv := newTestServer(t, "secret", nil)

	tests := []struct {
		name  string
		token string
		want  int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong", "nope", http.StatusUnauthorized},
		{"valid", "secret", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(srv, "GET", "/api/v1/stats", tt.token, nil)
			if w.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, w.Code)
			}
		})
	}
}

func TestDialogLifecycle(t *testing.T) {
	srv := newTestServer(t, "", nil)

	w := do(srv, "GET", "/api/v1/dialog/u1", "", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for idle user, got %d", w.Code)
	}

	w = do(srv, "POST", "/api/v1/dialog/u1/messages", "", map[string]string{"text": "Хочу записаться на демо"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var reply messageResponse
	if err := json.NewDecoder(w.Body).Decode(&reply); err != nil {
		t.Fatalf("failed to decode reply: %v", err)
	}
	if reply.Intent != nlu.IntentScheduleMeeting {
		t.Errorf("expected schedule_meeting, got %q", reply.Intent)
	}
	if reply.Goal != flow.GoalScheduleDemo {
		t.Errorf("expected schedule_demo goal, got %q", reply.Goal)
	}
	if reply.Text == "" {
		t.Error("expected reply text")
	}

	w = do(srv, "GET", "/api/v1/dialog/u1", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var st state.DialogState
	if err := json.NewDecoder(w.Body).Decode(&st); err != nil {
		t.Fatalf("failed to decode state: %v", err)
	}
	if st.ActiveGoal != flow.GoalScheduleDemo || len(st.History) != 1 {
		t.Errorf("unexpected state: %+v", st)
	}

	w = do(srv, "GET", "/api/v1/stats", "", nil)
	var stats map[string]any
	json.NewDecoder(w.Body).Decode(&stats)
	if stats["active_dialogs"] != float64(1) {
		t.Errorf("expected 1 active dialog, got %v", stats["active_dialogs"])
	}
	if stats["leads"] != float64(3) {
		t.Errorf("expected 3 leads, got %v", stats["leads"])
	}

	w = do(srv, "DELETE", "/api/v1/dialog/u1", "", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	w = do(srv, "GET", "/api/v1/dialog/u1", "", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 after reset, got %d", w.Code)
	}
}

func TestPostMessage_Validation(t *testing.T) {
	srv := newTestServer(t, "", nil)

	w := do(srv, "POST", "/api/v1/dialog/u1/messages", "", map[string]string{"text": "  "})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for empty text, got %d", w.Code)
	}

	req := httptest.NewRequest("POST", "/api/v1/dialog/u1/messages", bytes.NewBufferString("{bad"))
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed JSON, got %d", rec.Code)
	}
}

func TestScrapeEndpoint(t *testing.T) {
	sc := &fakeScraper{members: []scraper.MemberRecord{
		{ID: 2, Username: "ivan", FirstName: "Иван"},
		{ID: 3, Username: "id3"},
	}}
	srv := newTestServer(t, "", sc)

	w := do(srv, "POST", "/api/v1/scrape", "", map[string]any{"group": " @devs "})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if sc.group != "@devs" || sc.limit != defaultScrapeLimit {
		t.Errorf("unexpected scrape call %q/%d", sc.group, sc.limit)
	}

	var resp scrapeResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Audience.Total != 2 || resp.Audience.WithUsernames != 1 {
		t.Errorf("unexpected audience %+v", resp.Audience)
	}
	if _, err := os.Stat(resp.File); err != nil {
		t.Errorf("expected members file to be written: %v", err)
	}
}

func TestScrapeEndpoint_Errors(t *testing.T) {
	srv := newTestServer(t, "", nil)
	if w := do(srv, "POST", "/api/v1/scrape", "", map[string]any{"group": "@devs"}); w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 without a scraper, got %d", w.Code)
	}

	srv = newTestServer(t, "", &fakeScraper{err: errors.New("gateway down")})
	if w := do(srv, "POST", "/api/v1/scrape", "", map[string]any{"group": ""}); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without a group, got %d", w.Code)
	}
	if w := do(srv, "POST", "/api/v1/scrape", "", map[string]any{"group": "@devs", "limit": 5}); w.Code != http.StatusBadGateway {
		t.Errorf("expected 502 on scrape failure, got %d", w.Code)
	}
}

func TestToolEndpoint(t *testing.T) {
	srv := newTestServer(t, "", nil)

	w := do(srv, "POST", "/api/v1/tools/calendar_check", "", map[string]any{"params": map[string]string{"date": "пятница"}})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var res tools.Result
	json.NewDecoder(w.Body).Decode(&res)
	if res.Message != "Время пятница доступно для записи" {
		t.Errorf("unexpected message %q", res.Message)
	}

	w = do(srv, "POST", "/api/v1/tools/launch_rockets", "", nil)
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 for unknown tool, got %d", w.Code)
	}
}
