package client

import (
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/starford/stormboard/internal/board"
	"github.com/starford/stormboard/internal/hub"
	"github.com/starford/stormboard/internal/models"
	"github.com/starford/stormboard/internal/testutil"
)

func testServer(t *testing.T) (*httptest.Server, *board.Engine) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(testWriter{t}, nil))
	e := board.NewEngine(testutil.TestDB(t), logger)
	t.Cleanup(e.Close)
	if err := e.Load(models.DefaultSessionID); err != nil {
		t.Fatal(err)
	}
	h := hub.New(e, logger, 64)
	t.Cleanup(h.Close)
	e.SetBroadcaster(h)

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv, e
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(strings.TrimSpace(string(p)))
	return len(p), nil
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dialClient(t *testing.T, srv *httptest.Server, opts ...Option) *Client {
	t.Helper()
	opts = append(opts, WithLogger(slog.New(slog.NewTextHandler(testWriter{t}, nil))))
	c, err := Dial(wsURL(srv), opts...)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

// adminClient dials and registers the first participant, who is
// auto-approved as admin.
func adminClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c := dialClient(t, srv)
	res, err := c.Register("Alice", "081")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if !res.Success || res.Role != models.RoleAdmin {
		t.Fatalf("first registration = %+v", res)
	}
	return c
}

func TestDial_InitialState(t *testing.T) {
	srv, _ := testServer(t)
	c := dialClient(t, srv)

	waitFor(t, func() bool { return c.CurrentSession() == models.DefaultSessionID },
		"initial session sync never arrived")
	if len(c.Notes()) != 0 {
		t.Error("fresh board must have no notes")
	}
	if c.CanAddNotes() {
		t.Error("notes must be gated before the timer starts")
	}
}

func TestAddNote_PropagatesToPeers(t *testing.T) {
	srv, _ := testServer(t)

	alice := adminClient(t, srv)
	if err := alice.StartTimer(5); err != nil {
		t.Fatal(err)
	}
	waitFor(t, alice.CanAddNotes, "timer broadcast never arrived")

	bob := dialClient(t, srv)
	waitFor(t, bob.CanAddNotes, "late joiner must see the running timer")

	n, err := alice.AddNote(models.Note{
		Content: "onboarding too complex", Author: "Alice",
		Category: models.CategoryProcess, Type: models.TypeProblem,
	})
	if err != nil {
		t.Fatalf("AddNote: %v", err)
	}
	if n.ID == "" {
		t.Fatal("note id not assigned")
	}

	// Optimistic local echo lands immediately.
	if _, ok := alice.Note(n.ID); !ok {
		t.Error("originator mirror missing the new note")
	}

	waitFor(t, func() bool { _, ok := bob.Note(n.ID); return ok },
		"peer mirror never received the note")
	got, _ := bob.Note(n.ID)
	if got.Content != "onboarding too complex" || got.CreatedByName != "Alice" {
		t.Errorf("peer copy = %+v", got)
	}
}

func TestAddNote_GatedLocally(t *testing.T) {
	srv, _ := testServer(t)
	c := dialClient(t, srv)
	waitFor(t, func() bool { return c.CurrentSession() != "" }, "no session sync")

	if _, err := c.AddNote(models.Note{
		Content: "x", Author: "a",
		Category: models.CategoryProcess, Type: models.TypeProblem,
	}); err == nil {
		t.Fatal("add must be refused while the window is closed")
	}
}

func TestMerge_MirrorsConverge(t *testing.T) {
	srv, _ := testServer(t)

	alice := adminClient(t, srv)
	if err := alice.StartTimer(5); err != nil {
		t.Fatal(err)
	}
	waitFor(t, alice.CanAddNotes, "timer broadcast never arrived")

	bob := dialClient(t, srv)
	waitFor(t, bob.CanAddNotes, "timer state never synced")

	n1, err := alice.AddNote(models.Note{
		ID: "n1", Content: "slow signup", Author: "Alice",
		Category: models.CategoryProcess, Type: models.TypeProblem,
	})
	if err != nil {
		t.Fatal(err)
	}
	n2, err := alice.AddNote(models.Note{
		ID: "n2", Content: "signup needs too many clicks", Author: "Alice",
		Category: models.CategoryProcess, Type: models.TypeProblem,
	})
	if err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool {
		_, ok1 := bob.Note(n1.ID)
		_, ok2 := bob.Note(n2.ID)
		return ok1 && ok2
	}, "notes never reached the peer")

	// The peer merges; only the ids travel, both mirrors replay the
	// same combine and converge.
	if err := bob.MergeNotes("n1", "n2"); err != nil {
		t.Fatalf("merge: %v", err)
	}

	waitFor(t, func() bool {
		n, ok := alice.Note("n1")
		return ok && n.Status == models.StatusMerged
	}, "merge never reached the originator's peer")

	aliceN2, _ := alice.Note("n2")
	bobN2, _ := bob.Note("n2")
	if aliceN2.Content != bobN2.Content {
		t.Errorf("mirrors diverged: %q vs %q", aliceN2.Content, bobN2.Content)
	}
	if !strings.Contains(aliceN2.Content, "[merged from: slow signup]") {
		t.Errorf("merged content = %q", aliceN2.Content)
	}

	// A second merge of the same pair is refused locally.
	if err := bob.MergeNotes("n1", "n2"); err == nil {
		t.Error("double merge must be refused")
	}
}

func TestLikeNote_LandsExactlyOnce(t *testing.T) {
	srv, _ := testServer(t)

	alice := adminClient(t, srv)
	if err := alice.StartTimer(5); err != nil {
		t.Fatal(err)
	}
	waitFor(t, alice.CanAddNotes, "timer broadcast never arrived")

	n, err := alice.AddNote(models.Note{
		ID: "n1", Content: "x", Author: "Alice",
		Category: models.CategoryProcess, Type: models.TypeProblem,
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := alice.LikeNote(n.ID); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool {
		got, ok := alice.Note(n.ID)
		return ok && got.Likes == 1
	}, "like echo never arrived")

	// The count must be exactly one: no optimistic double-apply.
	time.Sleep(100 * time.Millisecond)
	got, _ := alice.Note(n.ID)
	if got.Likes != 1 {
		t.Errorf("likes = %d, want exactly 1", got.Likes)
	}
}

func TestSolutionCascade_AcrossClients(t *testing.T) {
	srv, _ := testServer(t)

	alice := adminClient(t, srv)
	if err := alice.StartTimer(5); err != nil {
		t.Fatal(err)
	}
	waitFor(t, alice.CanAddNotes, "timer broadcast never arrived")

	bob := dialClient(t, srv)
	waitFor(t, bob.CanAddNotes, "timer state never synced")

	for _, n := range []models.Note{
		{ID: "p1", Content: "problem", Author: "Alice", Category: models.CategoryProcess, Type: models.TypeProblem},
		{ID: "s1", Content: "fix it", Author: "Alice", Category: models.CategoryProcess, Type: models.TypeSolution},
	} {
		if _, err := alice.AddNote(n); err != nil {
			t.Fatal(err)
		}
	}
	if err := alice.LinkNotes("p1", "s1"); err != nil {
		t.Fatal(err)
	}
	if err := alice.MarkSolutionComplete("s1"); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool {
		p, ok := bob.Note("p1")
		return ok && p.Status == models.StatusResolved
	}, "cascade never reached the peer")
	s, _ := bob.Note("s1")
	if s.Status != models.StatusResolved {
		t.Errorf("solution status on peer = %q", s.Status)
	}
}

func TestLateJoiner_ConvergesDuringLikes(t *testing.T) {
	srv, e := testServer(t)

	alice := adminClient(t, srv)
	if err := alice.StartTimer(5); err != nil {
		t.Fatal(err)
	}
	waitFor(t, alice.CanAddNotes, "timer broadcast never arrived")

	n, err := alice.AddNote(models.Note{
		ID: "n1", Content: "x", Author: "Alice",
		Category: models.CategoryProcess, Type: models.TypeProblem,
	})
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { _, err := e.Note(n.ID); return err == nil },
		"note never reached the server")

	// Stream likes while a new client connects: every like must land
	// either in bob's connect snapshot or in a broadcast he receives.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			e.LikeNote(n.ID)
			time.Sleep(time.Millisecond)
		}
	}()
	bob := dialClient(t, srv)
	<-done

	want, err := e.Note(n.ID)
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool {
		got, ok := bob.Note(n.ID)
		return ok && got.Likes == want.Likes
	}, "late joiner's like count never converged")

	// And it must not overshoot: no like may arrive both in the
	// snapshot and as a broadcast.
	time.Sleep(100 * time.Millisecond)
	got, _ := bob.Note(n.ID)
	if got.Likes != want.Likes {
		t.Errorf("likes = %d, want %d", got.Likes, want.Likes)
	}
}

func TestSessions_RoundTrip(t *testing.T) {
	srv, _ := testServer(t)
	alice := adminClient(t, srv)

	ok, err := alice.CreateSession("Retro", "sprint retro")
	if err != nil || !ok {
		t.Fatalf("create session: ok=%v err=%v", ok, err)
	}

	sessions, err := alice.Sessions()
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 2 {
		t.Fatalf("sessions = %d", len(sessions))
	}

	var retro models.Session
	for _, s := range sessions {
		if s.Name == "Retro" {
			retro = s
		}
	}
	if err := alice.SwitchSession(retro.ID); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return alice.CurrentSession() == retro.ID },
		"session switch never arrived")

	stats, err := alice.SessionStats(retro.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalProblems != 0 || stats.TotalSolutions != 0 {
		t.Errorf("fresh session stats = %+v", stats)
	}
}

func TestForcedLogout(t *testing.T) {
	srv, _ := testServer(t)

	alice := adminClient(t, srv)

	var loggedOut atomic.Bool
	bob := dialClient(t, srv, WithForcedLogoutHandler(func() { loggedOut.Store(true) }))
	res, err := bob.Register("Bob", "082")
	if err != nil || !res.Success {
		t.Fatalf("register: %+v %v", res, err)
	}
	if res.Status != models.UserPending {
		t.Fatalf("second registration status = %q", res.Status)
	}

	pending, err := alice.PendingUsers()
	if err != nil || len(pending) != 1 {
		t.Fatalf("pending = %v, %v", pending, err)
	}
	if err := alice.DeletePendingUser(pending[0].ID); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool { return bob.User() == nil }, "identity never cleared")
	waitFor(t, loggedOut.Load, "forced logout callback never fired")
}

func TestReconnect_ResumesAfterDrop(t *testing.T) {
	srv, _ := testServer(t)

	alice := adminClient(t, srv)

	// Drop every open connection server-side; the client retries on a
	// fixed delay and resyncs from the fresh state push.
	srv.CloseClientConnections()

	waitFor(t, func() bool {
		sessions, err := alice.Sessions()
		return err == nil && len(sessions) == 1
	}, "client never recovered after the drop")
}
