package board

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/starford/stormboard/internal/apperr"
	"github.com/starford/stormboard/internal/models"
	"github.com/starford/stormboard/internal/protocol"
	"github.com/starford/stormboard/internal/store"
)

// Broadcaster fans mutation events out to connected clients. The hub
// implements it; the engine never talks to sockets directly.
type Broadcaster interface {
	// Broadcast delivers the envelope to every connected client.
	Broadcast(env protocol.Envelope)
	// BroadcastExcept delivers to every client except the originating
	// connection, which already applied its optimistic local copy.
	BroadcastExcept(originID string, env protocol.Envelope)
}

// Engine is the single authority for the current session's note and
// user state. Mutations arrive serialized through the hub loop; the
// mutex exists so the REST API and MCP server can read (and add)
// concurrently with that loop.
//
// Every mutation commits to the in-memory projection first and then
// queues the durable write on a buffered channel drained by one writer
// goroutine. A write failure is logged, never rolled back: the
// projection stays authoritative and durable state heals on the next
// full reload.
type Engine struct {
	mu        sync.Mutex
	st        store.Store
	logger    *slog.Logger
	bc        Broadcaster
	notes     Projection
	sessionID string
	timer     *Timer

	persistCh  chan func()
	stopCh     chan struct{}
	writerDone chan struct{}
	closed     atomic.Bool
}

// NewEngine creates an engine backed by st and starts its persistence
// writer.
func NewEngine(st store.Store, logger *slog.Logger) *Engine {
	e := &Engine{
		st:         st,
		logger:     logger,
		notes:      Projection{},
		sessionID:  models.DefaultSessionID,
		timer:      NewTimer(),
		persistCh:  make(chan func(), 256),
		stopCh:     make(chan struct{}),
		writerDone: make(chan struct{}),
	}
	go e.runWriter()
	return e
}

// SetBroadcaster wires the fan-out channel. Must be called before the
// hub starts accepting connections.
func (e *Engine) SetBroadcaster(bc Broadcaster) {
	e.bc = bc
}

// Load replaces the projection with the stored notes of sessionID.
// Called once at startup.
func (e *Engine) Load(sessionID string) error {
	if sessionID == "" {
		sessionID = models.DefaultSessionID
	}
	notes, err := e.st.NotesBySession(sessionID)
	if err != nil {
		return fmt.Errorf("board: load session %s: %w", sessionID, err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sessionID = sessionID
	e.notes = make(Projection, len(notes))
	for _, n := range notes {
		e.notes[n.ID] = n
	}
	e.logger.Info("session loaded",
		slog.String("session_id", sessionID),
		slog.Int("notes", len(notes)))
	return nil
}

func (e *Engine) runWriter() {
	defer close(e.writerDone)
	for {
		select {
		case fn := <-e.persistCh:
			fn()
		case <-e.stopCh:
			for {
				select {
				case fn := <-e.persistCh:
					fn()
				default:
					return
				}
			}
		}
	}
}

// enqueue schedules a durable write. When the queue is full, or the
// writer has already stopped, the write runs inline rather than being
// dropped.
func (e *Engine) enqueue(fn func()) {
	if e.closed.Load() {
		fn()
		return
	}
	select {
	case e.persistCh <- fn:
	default:
		fn()
	}
}

// Flush blocks until every queued durable write has completed. After
// Close it returns immediately.
func (e *Engine) Flush() {
	if e.closed.Load() {
		return
	}
	ack := make(chan struct{})
	select {
	case e.persistCh <- func() { close(ack) }:
	case <-e.writerDone:
		return
	}
	select {
	case <-ack:
	case <-e.writerDone:
	}
}

// Close drains the persistence queue and stops the writer. Safe to
// call more than once.
func (e *Engine) Close() {
	if e.closed.CompareAndSwap(false, true) {
		close(e.stopCh)
	}
	<-e.writerDone
}

func (e *Engine) broadcast(env protocol.Envelope) {
	if e.bc != nil {
		e.bc.Broadcast(env)
	}
}

func (e *Engine) broadcastExcept(origin string, env protocol.Envelope) {
	if e.bc != nil {
		e.bc.BroadcastExcept(origin, env)
	}
}

func (e *Engine) persistNote(id string, upd store.NoteUpdate) {
	e.enqueue(func() {
		if err := e.st.UpdateNote(id, upd); err != nil {
			e.logger.Warn("durable write failed",
				slog.String("note_id", id),
				slog.String("error", err.Error()))
		}
	})
}

// AddNote validates and appends a note to the current session. Rejected
// while the brainstorm timer is inactive or expired: no note is
// created and nothing is broadcast.
func (e *Engine) AddNote(origin string, n models.Note) (*models.Note, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.timer.CanAddNotes() {
		return nil, apperr.ErrTimerInactive
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Status == "" {
		n.Status = models.StatusActive
	}
	if n.Quadrant == "" {
		n.Quadrant = models.QuadrantUnsorted
	}
	if n.Timestamp == 0 {
		n.Timestamp = time.Now().UnixMilli()
	}
	if n.LinkedNoteIDs == nil {
		n.LinkedNoteIDs = []string{}
	}
	if n.MergedFromIDs == nil {
		n.MergedFromIDs = []string{}
	}
	n.SessionID = e.sessionID

	if err := n.Validate(); err != nil {
		return nil, fmt.Errorf("board: invalid note: %w", err)
	}
	if _, exists := e.notes[n.ID]; exists {
		return nil, apperr.ErrAlreadyExists
	}

	stored := n.Clone()
	e.notes[n.ID] = stored

	row := stored.Clone()
	e.enqueue(func() {
		if err := e.st.InsertNote(row); err != nil {
			e.logger.Warn("durable write failed",
				slog.String("note_id", row.ID),
				slog.String("error", err.Error()))
		}
	})

	e.broadcastExcept(origin, protocol.MustEnvelope(protocol.EventNoteAdded, n))
	return stored.Clone(), nil
}

// UpdateQuadrant moves a note to another quadrant. A missing id is a
// logged no-op.
func (e *Engine) UpdateQuadrant(origin, id string, q models.Quadrant) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !SetQuadrant(e.notes, id, q) {
		e.logger.Info("quadrant update dropped", slog.String("note_id", id))
		return
	}
	e.persistNote(id, store.NoteUpdate{Quadrant: &q})
	e.broadcastExcept(origin, protocol.MustEnvelope(protocol.EventQuadrantUpdated,
		protocol.QuadrantUpdate{ID: id, Quadrant: q}))
}

// MergeNotes absorbs source into target. A missing id or an
// already-merged endpoint makes the whole call a logged no-op, so a
// racing second merge of the same source never double-applies.
func (e *Engine) MergeNotes(origin, sourceID, targetID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !MergeInto(e.notes, sourceID, targetID) {
		e.logger.Info("merge dropped",
			slog.String("source_id", sourceID),
			slog.String("target_id", targetID))
		return
	}

	dst := e.notes[targetID]
	srcStatus := models.StatusMerged
	content := dst.Content
	likes := dst.Likes
	e.persistNote(sourceID, store.NoteUpdate{Status: &srcStatus})
	e.persistNote(targetID, store.NoteUpdate{
		Content:       &content,
		Likes:         &likes,
		MergedFromIDs: append([]string(nil), dst.MergedFromIDs...),
	})

	e.broadcastExcept(origin, protocol.MustEnvelope(protocol.EventNotesMerged,
		protocol.MergePair{SourceID: sourceID, TargetID: targetID}))
}

// LinkNotes records the symmetric problem-solution association.
// Linking an already-linked pair is a safe no-op.
func (e *Engine) LinkNotes(origin, id1, id2 string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !Link(e.notes, id1, id2) {
		e.logger.Info("link dropped",
			slog.String("note_id1", id1),
			slog.String("note_id2", id2))
		return
	}
	e.persistLinks(id1, id2)
	e.broadcastExcept(origin, protocol.MustEnvelope(protocol.EventNotesLinked,
		protocol.LinkPair{NoteID1: id1, NoteID2: id2}))
}

// UnlinkNotes removes the association from both sides.
func (e *Engine) UnlinkNotes(origin, id1, id2 string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !Unlink(e.notes, id1, id2) {
		e.logger.Info("unlink dropped",
			slog.String("note_id1", id1),
			slog.String("note_id2", id2))
		return
	}
	e.persistLinks(id1, id2)
	e.broadcastExcept(origin, protocol.MustEnvelope(protocol.EventNotesUnlinked,
		protocol.LinkPair{NoteID1: id1, NoteID2: id2}))
}

func (e *Engine) persistLinks(ids ...string) {
	for _, id := range ids {
		if n, ok := e.notes[id]; ok {
			e.persistNote(id, store.NoteUpdate{
				LinkedNoteIDs: append([]string(nil), n.LinkedNoteIDs...),
			})
		}
	}
}

// MarkSolutionComplete resolves the solution and cascades to every
// linked problem, traversing the link relation at call time.
func (e *Engine) MarkSolutionComplete(origin, solutionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	changed := ResolveCascade(e.notes, solutionID)
	if changed == nil {
		e.logger.Info("resolve dropped", slog.String("solution_id", solutionID))
		return
	}
	resolved := models.StatusResolved
	for _, id := range changed {
		e.persistNote(id, store.NoteUpdate{Status: &resolved})
	}
	e.broadcastExcept(origin, protocol.MustEnvelope(protocol.EventSolutionComplete, solutionID))
}

// LikeNote increments the like counter. Unlike other mutations the
// fan-out includes the sender, which applies the increment on receipt
// instead of echoing locally.
func (e *Engine) LikeNote(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !Like(e.notes, id) {
		e.logger.Info("like dropped", slog.String("note_id", id))
		return
	}
	likes := e.notes[id].Likes
	e.persistNote(id, store.NoteUpdate{Likes: &likes})
	e.broadcast(protocol.MustEnvelope(protocol.EventNoteLiked, id))
}

// StartTimer opens the brainstorm window. Admin-only, and only valid
// while the timer is inactive.
func (e *Engine) StartTimer(actor *models.User, minutes int) error {
	if !actor.IsAdmin() {
		return apperr.ErrForbidden
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	state, err := e.timer.Start(minutes, actor.ID)
	if err != nil {
		return fmt.Errorf("board: start timer: %w", err)
	}
	e.logger.Info("brainstorm timer started",
		slog.Int("minutes", minutes),
		slog.String("started_by", actor.ID))
	e.broadcast(protocol.MustEnvelope(protocol.EventSessionStarted,
		protocol.TimerStarted{EndTime: state.EndTime, StartedBy: state.StartedBy}))
	return nil
}

// ExtendTimer adds minutes to the existing end time. Admin-only, and
// only valid while the timer is active.
func (e *Engine) ExtendTimer(actor *models.User, minutes int) error {
	if !actor.IsAdmin() {
		return apperr.ErrForbidden
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	state, err := e.timer.Extend(minutes)
	if err != nil {
		return fmt.Errorf("board: extend timer: %w", err)
	}
	e.broadcast(protocol.MustEnvelope(protocol.EventSessionExtended,
		protocol.TimerExtended{EndTime: state.EndTime}))
	return nil
}

// EndTimer forces the timer inactive. Admin-only.
func (e *Engine) EndTimer(actor *models.User) error {
	if !actor.IsAdmin() {
		return apperr.ErrForbidden
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	e.timer.End()
	e.broadcast(protocol.Envelope{Event: protocol.EventSessionEnded})
	return nil
}

// RegisterUser registers a participant. The first registrant ever is
// auto-approved as admin; duplicates by phone are idempotent successes.
// A new pending registration is announced to every client so admins see
// it without polling.
func (e *Engine) RegisterUser(u models.User) (protocol.RegisterResult, models.User) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if err := u.Validate(); err != nil {
		e.logger.Info("registration dropped", slog.String("error", err.Error()))
		return protocol.RegisterResult{Success: false}, models.User{}
	}

	stored, err := e.st.CreateUser(u)
	if err != nil {
		e.logger.Warn("register user failed",
			slog.String("user_id", u.ID),
			slog.String("error", err.Error()))
		return protocol.RegisterResult{Success: false}, models.User{}
	}

	if stored.Status == models.UserPending {
		e.broadcast(protocol.MustEnvelope(protocol.EventNewPendingUser, stored))
	}
	return protocol.RegisterResult{Success: true, Status: stored.Status, Role: stored.Role}, stored
}

// LoginByPhone looks a user up by their phone number.
func (e *Engine) LoginByPhone(phone string) (*models.User, error) {
	return e.st.UserByPhone(phone)
}

// GetUser returns a user by id.
func (e *Engine) GetUser(id string) (*models.User, error) {
	return e.st.GetUser(id)
}

// PendingUsers lists users awaiting approval.
func (e *Engine) PendingUsers() ([]models.User, error) {
	return e.st.PendingUsers()
}

// ApproveUser approves a pending user with the given role. Admin-only.
func (e *Engine) ApproveUser(actor *models.User, userID string, role models.UserRole) error {
	if !actor.IsAdmin() {
		return apperr.ErrForbidden
	}
	if role == "" {
		role = models.RoleUser
	}
	if err := e.st.ApproveUser(userID, role); err != nil {
		return err
	}
	e.broadcast(protocol.MustEnvelope(protocol.EventUserApproved,
		protocol.Approval{UserID: userID, Role: role}))
	return nil
}

// DeletePendingUser removes a user. Admin-only. The fan-out forces a
// logout on the deleted user's client if it is connected.
func (e *Engine) DeletePendingUser(actor *models.User, userID string) error {
	if !actor.IsAdmin() {
		return apperr.ErrForbidden
	}
	if err := e.st.DeleteUser(userID); err != nil {
		return err
	}
	e.broadcast(protocol.MustEnvelope(protocol.EventUserDeleted, userID))
	return nil
}

// Sessions lists every brainstorm session.
func (e *Engine) Sessions() ([]models.Session, error) {
	return e.st.Sessions()
}

// CreateSession appends a new session. Admin-only; sessions are never
// deleted.
func (e *Engine) CreateSession(actor *models.User, name, description string) (models.Session, error) {
	if !actor.IsAdmin() {
		return models.Session{}, apperr.ErrForbidden
	}
	s := models.Session{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		CreatedAt:   time.Now().UnixMilli(),
		IsActive:    true,
		CreatedBy:   actor.ID,
	}
	if err := e.st.CreateSession(s); err != nil {
		return models.Session{}, err
	}
	e.broadcast(protocol.MustEnvelope(protocol.EventSessionCreated, s))
	return s, nil
}

// SwitchSession atomically swaps the whole in-memory projection to
// another session and pushes the new session id plus a full snapshot to
// every client. This is global and disruptive: every connected
// participant switches at once.
func (e *Engine) SwitchSession(sessionID string) error {
	if sessionID == "" {
		return errors.New("board: empty session id")
	}

	// Drain queued writes first so the reload observes them.
	e.Flush()

	notes, err := e.st.NotesBySession(sessionID)
	if err != nil {
		return fmt.Errorf("board: switch session %s: %w", sessionID, err)
	}

	e.mu.Lock()
	e.sessionID = sessionID
	e.notes = make(Projection, len(notes))
	for _, n := range notes {
		e.notes[n.ID] = n
	}
	snapshot := cloneAll(e.notes.Notes())
	e.mu.Unlock()

	e.logger.Info("session switched",
		slog.String("session_id", sessionID),
		slog.Int("notes", len(snapshot)))

	e.broadcast(protocol.MustEnvelope(protocol.EventCurrentSession, sessionID))
	e.broadcast(protocol.MustEnvelope(protocol.EventSyncNotes, snapshot))
	return nil
}

// SessionStats computes dashboard counts; an empty id means the current
// session.
func (e *Engine) SessionStats(sessionID string) (*models.SessionStats, error) {
	if sessionID == "" {
		sessionID = e.CurrentSession()
	}
	return e.st.SessionStats(sessionID)
}

// CurrentSession returns the active session id.
func (e *Engine) CurrentSession() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessionID
}

// TimerState returns a snapshot of the brainstorm timer.
func (e *Engine) TimerState() models.TimerState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.timer.State()
}

// Attach runs fn under the projection lock with a consistent snapshot
// of the board state. The hub uses it when a client connects: note and
// timer mutations broadcast while holding the same lock, so any
// mutation is either visible in this snapshot or fanned out after
// whatever fn queues.
func (e *Engine) Attach(fn func(notes []*models.Note, timer models.TimerState, sessionID string)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(cloneAll(e.notes.Notes()), e.timer.State(), e.sessionID)
}

// NotesSnapshot returns deep copies of every note in the projection,
// newest first.
func (e *Engine) NotesSnapshot() []*models.Note {
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneAll(e.notes.Notes())
}

// ActiveNotes returns deep copies of the non-merged notes.
func (e *Engine) ActiveNotes() []*models.Note {
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneAll(e.notes.Active())
}

// Note returns a deep copy of one note.
func (e *Engine) Note(id string) (*models.Note, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	n, ok := e.notes[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return n.Clone(), nil
}

func cloneAll(notes []*models.Note) []*models.Note {
	out := make([]*models.Note, len(notes))
	for i, n := range notes {
		out[i] = n.Clone()
	}
	return out
}
