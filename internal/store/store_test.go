package store_test

import (
	"errors"
	"testing"

	"github.com/starford/stormboard/internal/apperr"
	"github.com/starford/stormboard/internal/models"
	"github.com/starford/stormboard/internal/store"
	"github.com/starford/stormboard/internal/testutil"
)

func testNote(id string) *models.Note {
	return &models.Note{
		ID:        id,
		Content:   "content of " + id,
		Author:    "tester",
		Category:  models.CategoryProcess,
		Type:      models.TypeProblem,
		Quadrant:  models.QuadrantUnsorted,
		Status:    models.StatusActive,
		Timestamp: 1000,
		SessionID: models.DefaultSessionID,
	}
}

func TestInsertAndGetNote(t *testing.T) {
	db := testutil.TestDB(t)

	n := testNote("n1")
	n.LinkedNoteIDs = []string{"s1"}
	if err := db.InsertNote(n); err != nil {
		t.Fatalf("InsertNote: %v", err)
	}

	got, err := db.GetNote("n1")
	if err != nil {
		t.Fatalf("GetNote: %v", err)
	}
	if got.Content != n.Content {
		t.Errorf("content = %q", got.Content)
	}
	if len(got.LinkedNoteIDs) != 1 || got.LinkedNoteIDs[0] != "s1" {
		t.Errorf("linked = %v", got.LinkedNoteIDs)
	}
	if got.MergedFromIDs == nil {
		t.Error("merged ids should decode to empty slice, not nil")
	}
}

func TestGetNote_Missing(t *testing.T) {
	db := testutil.TestDB(t)
	_, err := db.GetNote("nope")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestUpdateNote_Partial(t *testing.T) {
	db := testutil.TestDB(t)
	if err := db.InsertNote(testNote("n1")); err != nil {
		t.Fatal(err)
	}

	q := models.QuadrantQ2
	likes := 7
	if err := db.UpdateNote("n1", store.NoteUpdate{Quadrant: &q, Likes: &likes}); err != nil {
		t.Fatalf("UpdateNote: %v", err)
	}

	got, _ := db.GetNote("n1")
	if got.Quadrant != models.QuadrantQ2 {
		t.Errorf("quadrant = %q", got.Quadrant)
	}
	if got.Likes != 7 {
		t.Errorf("likes = %d", got.Likes)
	}
	// Untouched fields stay put.
	if got.Status != models.StatusActive {
		t.Errorf("status = %q", got.Status)
	}
}

func TestUpdateNote_Missing(t *testing.T) {
	db := testutil.TestDB(t)
	q := models.QuadrantQ1
	err := db.UpdateNote("ghost", store.NoteUpdate{Quadrant: &q})
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestNotesBySession_Scoped(t *testing.T) {
	db := testutil.TestDB(t)

	a := testNote("a")
	b := testNote("b")
	b.SessionID = "retro"
	if err := db.InsertNote(a); err != nil {
		t.Fatal(err)
	}
	if err := db.InsertNote(b); err != nil {
		t.Fatal(err)
	}

	notes, err := db.NotesBySession(models.DefaultSessionID)
	if err != nil {
		t.Fatal(err)
	}
	if len(notes) != 1 || notes[0].ID != "a" {
		t.Fatalf("default session notes = %v", notes)
	}

	notes, err = db.NotesBySession("retro")
	if err != nil {
		t.Fatal(err)
	}
	if len(notes) != 1 || notes[0].ID != "b" {
		t.Fatalf("retro session notes = %v", notes)
	}
}

func TestCreateUser_FirstIsAdmin(t *testing.T) {
	db := testutil.TestDB(t)

	first, err := db.CreateUser(models.User{ID: "u1", Name: "Alice", Phone: "0811111111"})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if first.Status != models.UserApproved || first.Role != models.RoleAdmin {
		t.Errorf("first user = %s/%s, want APPROVED/ADMIN", first.Status, first.Role)
	}

	second, err := db.CreateUser(models.User{ID: "u2", Name: "Bob", Phone: "0822222222"})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if second.Status != models.UserPending || second.Role != models.RoleUser {
		t.Errorf("second user = %s/%s, want PENDING/USER", second.Status, second.Role)
	}
}

func TestCreateUser_DuplicatePhoneIdempotent(t *testing.T) {
	db := testutil.TestDB(t)

	if _, err := db.CreateUser(models.User{ID: "u1", Name: "Alice", Phone: "0811111111"}); err != nil {
		t.Fatal(err)
	}
	again, err := db.CreateUser(models.User{ID: "u9", Name: "Imposter", Phone: "0811111111"})
	if err != nil {
		t.Fatalf("duplicate phone should be idempotent success: %v", err)
	}
	if again.ID != "u1" || again.Name != "Alice" {
		t.Errorf("duplicate registration returned %+v, want original row", again)
	}
}

func TestApproveAndDeleteUser(t *testing.T) {
	db := testutil.TestDB(t)

	if _, err := db.CreateUser(models.User{ID: "admin", Name: "Admin", Phone: "1"}); err != nil {
		t.Fatal(err)
	}
	if _, err := db.CreateUser(models.User{ID: "u2", Name: "Bob", Phone: "2"}); err != nil {
		t.Fatal(err)
	}

	pending, err := db.PendingUsers()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].ID != "u2" {
		t.Fatalf("pending = %v", pending)
	}

	if err := db.ApproveUser("u2", models.RoleAdmin); err != nil {
		t.Fatalf("ApproveUser: %v", err)
	}
	u, _ := db.GetUser("u2")
	if u.Status != models.UserApproved || u.Role != models.RoleAdmin {
		t.Errorf("after approval: %s/%s", u.Status, u.Role)
	}

	if err := db.DeleteUser("u2"); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	if _, err := db.GetUser("u2"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("deleted user lookup err = %v", err)
	}
}

func TestUserByPhone(t *testing.T) {
	db := testutil.TestDB(t)
	if _, err := db.CreateUser(models.User{ID: "u1", Name: "Alice", Phone: "0811111111"}); err != nil {
		t.Fatal(err)
	}
	u, err := db.UserByPhone("0811111111")
	if err != nil {
		t.Fatalf("UserByPhone: %v", err)
	}
	if u.ID != "u1" {
		t.Errorf("id = %q", u.ID)
	}
	if _, err := db.UserByPhone("unknown"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("unknown phone err = %v", err)
	}
}

func TestDefaultSessionEnsured(t *testing.T) {
	db := testutil.TestDB(t)
	sessions, err := db.Sessions()
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, s := range sessions {
		if s.ID == models.DefaultSessionID {
			found = true
		}
	}
	if !found {
		t.Fatal("default session missing")
	}
}

func TestSessionStats(t *testing.T) {
	db := testutil.TestDB(t)

	p1 := testNote("p1")
	p1.Quadrant = models.QuadrantQ1
	p2 := testNote("p2")
	p2.Status = models.StatusResolved
	merged := testNote("p3")
	merged.Status = models.StatusMerged
	sol := testNote("s1")
	sol.Type = models.TypeSolution
	for _, n := range []*models.Note{p1, p2, merged, sol} {
		if err := db.InsertNote(n); err != nil {
			t.Fatal(err)
		}
	}

	stats, err := db.SessionStats(models.DefaultSessionID)
	if err != nil {
		t.Fatalf("SessionStats: %v", err)
	}
	if stats.TotalProblems != 2 {
		t.Errorf("total problems = %d, want 2 (merged excluded)", stats.TotalProblems)
	}
	if stats.ResolvedProblems != 1 {
		t.Errorf("resolved = %d", stats.ResolvedProblems)
	}
	if stats.ActiveProblems != 1 {
		t.Errorf("active = %d", stats.ActiveProblems)
	}
	if stats.TotalSolutions != 1 {
		t.Errorf("solutions = %d", stats.TotalSolutions)
	}
	if len(stats.CategoryBreakdown) != 1 || stats.CategoryBreakdown[0].Count != 2 {
		t.Errorf("category breakdown = %v", stats.CategoryBreakdown)
	}
}
