package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/starford/stormboard/internal/board"
	"github.com/starford/stormboard/internal/models"
	"github.com/starford/stormboard/internal/testutil"
)

// testEnv sets up an engine with the brainstorm window open and the
// router in front of it. authToken="" means disabled mode.
func testEnv(t *testing.T, authToken string) (*board.Engine, http.Handler) {
	t.Helper()

	e := board.NewEngine(testutil.TestDB(t), slog.New(slog.NewTextHandler(testWriter{t}, nil)))
	t.Cleanup(e.Close)
	if err := e.Load(models.DefaultSessionID); err != nil {
		t.Fatal(err)
	}

	admin := &models.User{ID: "admin", Name: "Admin", Role: models.RoleAdmin, Status: models.UserApproved}
	if err := e.StartTimer(admin, 5); err != nil {
		t.Fatal(err)
	}

	router := NewRouter(e, authToken != "", authToken)
	return e, router
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(strings.TrimSpace(string(p)))
	return len(p), nil
}

func seedNote(t *testing.T, e *board.Engine, id string, typ models.NoteType) {
	t.Helper()
	if _, err := e.AddNote("seed", models.Note{
		ID: id, Content: "note " + id, Author: "tester",
		Category: models.CategoryProcess, Type: typ,
	}); err != nil {
		t.Fatal(err)
	}
}

func TestListNotes(t *testing.T) {
	e, router := testEnv(t, "")
	seedNote(t, e, "n1", models.TypeProblem)
	seedNote(t, e, "n2", models.TypeProblem)

	req := httptest.NewRequest(http.MethodGet, "/notes", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp struct {
		Session string        `json:"session"`
		Notes   []models.Note `json:"notes"`
		Total   int           `json:"total"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Session != models.DefaultSessionID {
		t.Errorf("session = %q", resp.Session)
	}
	if resp.Total != 2 || len(resp.Notes) != 2 {
		t.Errorf("total = %d, notes = %d", resp.Total, len(resp.Notes))
	}
}

func TestListNotes_ActiveFilter(t *testing.T) {
	e, router := testEnv(t, "")
	seedNote(t, e, "n1", models.TypeProblem)
	seedNote(t, e, "n2", models.TypeProblem)
	e.MergeNotes("seed", "n1", "n2")

	req := httptest.NewRequest(http.MethodGet, "/notes?active=true", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var resp struct {
		Notes []models.Note `json:"notes"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Notes) != 1 || resp.Notes[0].ID != "n2" {
		t.Errorf("active notes = %+v", resp.Notes)
	}
}

func TestGetNote(t *testing.T) {
	e, router := testEnv(t, "")
	seedNote(t, e, "n1", models.TypeProblem)

	req := httptest.NewRequest(http.MethodGet, "/notes/n1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var note models.Note
	if err := json.Unmarshal(w.Body.Bytes(), &note); err != nil {
		t.Fatal(err)
	}
	if note.ID != "n1" || note.Content != "note n1" {
		t.Errorf("note = %+v", note)
	}

	req = httptest.NewRequest(http.MethodGet, "/notes/ghost", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing note status = %d", w.Code)
	}
}

func TestSessionsAndStats(t *testing.T) {
	e, router := testEnv(t, "")
	seedNote(t, e, "n1", models.TypeProblem)
	seedNote(t, e, "s1", models.TypeSolution)
	e.Flush()

	req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("sessions status = %d", w.Code)
	}
	var sessResp struct {
		Sessions []models.Session `json:"sessions"`
		Current  string           `json:"current"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &sessResp); err != nil {
		t.Fatal(err)
	}
	if len(sessResp.Sessions) != 1 || sessResp.Current != models.DefaultSessionID {
		t.Errorf("sessions = %+v", sessResp)
	}

	req = httptest.NewRequest(http.MethodGet, "/sessions/"+models.DefaultSessionID+"/stats", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("stats status = %d, body = %s", w.Code, w.Body.String())
	}
	var stats models.SessionStats
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatal(err)
	}
	if stats.TotalProblems != 1 || stats.ActiveProblems != 1 || stats.TotalSolutions != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestTimerEndpoint(t *testing.T) {
	_, router := testEnv(t, "")

	req := httptest.NewRequest(http.MethodGet, "/timer", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var timer models.TimerState
	if err := json.Unmarshal(w.Body.Bytes(), &timer); err != nil {
		t.Fatal(err)
	}
	if !timer.IsActive || timer.StartedBy != "admin" {
		t.Errorf("timer = %+v", timer)
	}
}

func TestAuth(t *testing.T) {
	_, router := testEnv(t, "secret")

	req := httptest.NewRequest(http.MethodGet, "/notes", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("no token status = %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/notes", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("bad token status = %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/notes", nil)
	req.Header.Set("Authorization", "Bearer secret")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("valid token status = %d", w.Code)
	}
}

func TestPendingUsers(t *testing.T) {
	e, router := testEnv(t, "")
	e.RegisterUser(models.User{ID: "u1", Name: "Alice", Phone: "081"})
	e.RegisterUser(models.User{ID: "u2", Name: "Bob", Phone: "082"})

	req := httptest.NewRequest(http.MethodGet, "/users/pending", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Users []models.User `json:"users"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	// The first-ever registrant is auto-approved; only Bob is pending.
	if len(resp.Users) != 1 || resp.Users[0].Name != "Bob" {
		t.Errorf("pending = %+v", resp.Users)
	}
}
