// Package client implements the board client: a websocket connection
// maintaining a local mirror of the server's note projection, applied
// through the same combine rules the server uses so both sides stay
// byte-equal without shipping full state on every mutation.
package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/starford/stormboard/internal/board"
	"github.com/starford/stormboard/internal/models"
	"github.com/starford/stormboard/internal/protocol"
)

const (
	reconnectAttempts = 5
	reconnectDelay    = time.Second
)

// ErrClosed is returned by calls made after the client shut down or
// exhausted its reconnect attempts.
var ErrClosed = errors.New("client: connection closed")

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithDialer overrides the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// WithAckTimeout sets how long correlated calls wait for their reply.
func WithAckTimeout(d time.Duration) Option {
	return func(c *Client) { c.ackTimeout = d }
}

// WithForcedLogoutHandler registers a callback fired when the server
// deletes this client's identity.
func WithForcedLogoutHandler(fn func()) Option {
	return func(c *Client) { c.onForcedLogout = fn }
}

// Client is one participant's connection to the board.
//
// State model: the server's broadcasts carry ids, not snapshots. Each
// receiving client replays the mutation against its own mirror with the
// shared combine rules, so every mirror converges on the authoritative
// projection. A dropped connection is re-established up to five times
// with a fixed one second delay; the server's initial state push on
// reconnect resynchronizes the mirror wholesale.
type Client struct {
	url        string
	logger     *slog.Logger
	dialer     *websocket.Dialer
	ackTimeout time.Duration

	onForcedLogout func()

	mu      sync.Mutex
	conn    *websocket.Conn
	notes   board.Projection
	timer   models.TimerState
	session string
	user    *models.User
	closed  bool

	wmu sync.Mutex // serializes writes to conn

	nextID  atomic.Uint64
	pending sync.Map // uint64 -> chan json.RawMessage

	done chan struct{}
}

// Dial connects to the board server at url (a ws:// endpoint) and
// starts the read loop.
func Dial(url string, opts ...Option) (*Client, error) {
	c := &Client{
		url:        url,
		logger:     slog.Default(),
		dialer:     websocket.DefaultDialer,
		ackTimeout: 10 * time.Second,
		notes:      board.Projection{},
		session:    models.DefaultSessionID,
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	conn, _, err := c.dialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", url, err)
	}
	c.conn = conn
	go c.readLoop()
	return c, nil
}

// Close shuts the connection down. No reconnect is attempted.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	err := conn.Close()
	<-c.done
	return err
}

// Done is closed once the client gives up: explicit Close or exhausted
// reconnects.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) readLoop() {
	defer close(c.done)

	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()

		var env protocol.Envelope
		err := conn.ReadJSON(&env)
		if err == nil {
			c.apply(env)
			continue
		}

		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return
		}

		c.logger.Warn("connection lost, reconnecting", slog.String("error", err.Error()))
		if !c.reconnect() {
			c.logger.Error("reconnect attempts exhausted")
			c.mu.Lock()
			c.closed = true
			c.mu.Unlock()
			return
		}
	}
}

// reconnect retries the dial on a fixed delay. On success the stored
// identity is re-announced so admin gating survives the new connection.
func (c *Client) reconnect() bool {
	for attempt := 1; attempt <= reconnectAttempts; attempt++ {
		time.Sleep(reconnectDelay)

		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return false
		}

		conn, _, err := c.dialer.Dial(c.url, nil)
		if err != nil {
			c.logger.Warn("reconnect failed",
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()))
			continue
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			conn.Close()
			return false
		}
		c.conn = conn
		user := c.user
		c.mu.Unlock()

		c.logger.Info("reconnected", slog.Int("attempt", attempt))
		if user != nil {
			// Re-announce the identity so the server re-learns this
			// connection's role. Registration is idempotent by phone,
			// so the stored row comes back unchanged. Fire-and-forget:
			// the ack is routed like any other but nobody waits here.
			go func() {
				if _, err := c.call(protocol.EventRegisterUser, user); err != nil {
					c.logger.Warn("identity replay failed", slog.String("error", err.Error()))
				}
			}()
		}
		return true
	}
	return false
}

// apply folds one server event into the local mirror.
func (c *Client) apply(env protocol.Envelope) {
	if env.Event == protocol.EventAck {
		if ch, ok := c.pending.LoadAndDelete(env.ID); ok {
			ch.(chan json.RawMessage) <- env.Data
		}
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch env.Event {
	case protocol.EventSyncNotes:
		var notes []*models.Note
		if c.decode(env, &notes) {
			c.notes = make(board.Projection, len(notes))
			for _, n := range notes {
				c.notes[n.ID] = n
			}
		}

	case protocol.EventSessionSync:
		c.decode(env, &c.timer)

	case protocol.EventCurrentSession:
		c.decode(env, &c.session)

	case protocol.EventNoteAdded:
		var n models.Note
		if c.decode(env, &n) {
			c.notes[n.ID] = &n
		}

	case protocol.EventQuadrantUpdated:
		var upd protocol.QuadrantUpdate
		if c.decode(env, &upd) {
			board.SetQuadrant(c.notes, upd.ID, upd.Quadrant)
		}

	case protocol.EventNotesMerged:
		var pair protocol.MergePair
		if c.decode(env, &pair) {
			board.MergeInto(c.notes, pair.SourceID, pair.TargetID)
		}

	case protocol.EventNotesLinked:
		var pair protocol.LinkPair
		if c.decode(env, &pair) {
			board.Link(c.notes, pair.NoteID1, pair.NoteID2)
		}

	case protocol.EventNotesUnlinked:
		var pair protocol.LinkPair
		if c.decode(env, &pair) {
			board.Unlink(c.notes, pair.NoteID1, pair.NoteID2)
		}

	case protocol.EventSolutionComplete:
		var id string
		if c.decode(env, &id) {
			board.ResolveCascade(c.notes, id)
		}

	case protocol.EventNoteLiked:
		var id string
		if c.decode(env, &id) {
			board.Like(c.notes, id)
		}

	case protocol.EventSessionStarted:
		var started protocol.TimerStarted
		if c.decode(env, &started) {
			c.timer = models.TimerState{
				IsActive:  true,
				EndTime:   started.EndTime,
				StartedBy: started.StartedBy,
			}
		}

	case protocol.EventSessionExtended:
		var ext protocol.TimerExtended
		if c.decode(env, &ext) {
			c.timer.EndTime = ext.EndTime
		}

	case protocol.EventSessionEnded:
		c.timer = models.TimerState{}

	case protocol.EventUserApproved:
		var appr protocol.Approval
		if c.decode(env, &appr) && c.user != nil && c.user.ID == appr.UserID {
			c.user.Status = models.UserApproved
			c.user.Role = appr.Role
		}

	case protocol.EventUserDeleted:
		var id string
		if c.decode(env, &id) && c.user != nil && c.user.ID == id {
			c.user = nil
			if c.onForcedLogout != nil {
				go c.onForcedLogout()
			}
		}

	case protocol.EventNewPendingUser, protocol.EventSessionCreated:
		// Informational; lists are fetched on demand.

	default:
		c.logger.Info("unknown event ignored", slog.String("event", env.Event))
	}
}

func (c *Client) decode(env protocol.Envelope, v any) bool {
	if err := json.Unmarshal(env.Data, v); err != nil {
		c.logger.Warn("malformed event dropped",
			slog.String("event", env.Event),
			slog.String("error", err.Error()))
		return false
	}
	return true
}

func (c *Client) write(env protocol.Envelope) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	conn := c.conn
	c.mu.Unlock()

	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := conn.WriteJSON(env); err != nil {
		return fmt.Errorf("client: write %s: %w", env.Event, err)
	}
	return nil
}

func (c *Client) emit(event string, data any) error {
	env, err := protocol.NewEnvelope(event, data)
	if err != nil {
		return err
	}
	return c.write(env)
}

// call sends a correlated request and blocks for its acknowledgment.
func (c *Client) call(event string, data any) (json.RawMessage, error) {
	env, err := protocol.NewEnvelope(event, data)
	if err != nil {
		return nil, err
	}
	env.ID = c.nextID.Add(1)

	ch := make(chan json.RawMessage, 1)
	c.pending.Store(env.ID, ch)
	defer c.pending.Delete(env.ID)

	if err := c.write(env); err != nil {
		return nil, err
	}

	select {
	case raw := <-ch:
		return raw, nil
	case <-c.done:
		return nil, ErrClosed
	case <-time.After(c.ackTimeout):
		return nil, fmt.Errorf("client: %s: ack timeout", event)
	}
}

// Register announces a new participant and stores the resulting
// identity on success.
func (c *Client) Register(name, phone string) (protocol.RegisterResult, error) {
	u := models.User{ID: uuid.NewString(), Name: name, Phone: phone}
	raw, err := c.call(protocol.EventRegisterUser, u)
	if err != nil {
		return protocol.RegisterResult{}, err
	}
	var res protocol.RegisterResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return protocol.RegisterResult{}, fmt.Errorf("client: register ack: %w", err)
	}
	if res.Success {
		u.Status = res.Status
		u.Role = res.Role
		c.mu.Lock()
		c.user = &u
		c.mu.Unlock()
	}
	return res, nil
}

// Login resumes an identity by phone number.
func (c *Client) Login(phone string) (*models.User, error) {
	raw, err := c.call(protocol.EventLoginByPhone, phone)
	if err != nil {
		return nil, err
	}
	var u *models.User
	if err := json.Unmarshal(raw, &u); err != nil || u == nil {
		return nil, fmt.Errorf("client: unknown phone")
	}
	c.mu.Lock()
	c.user = u
	c.mu.Unlock()
	return u, nil
}

// User returns the current identity, or nil when logged out.
func (c *Client) User() *models.User {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.user == nil {
		return nil
	}
	u := *c.user
	return &u
}

// AddNote creates a note and applies it locally before the server
// confirms. Refused locally while the brainstorm window is closed,
// mirroring the server's gate.
func (c *Client) AddNote(n models.Note) (*models.Note, error) {
	c.mu.Lock()
	if !c.timer.CanAddNotes(time.Now()) {
		c.mu.Unlock()
		return nil, fmt.Errorf("client: brainstorm timer not running")
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
	n.SessionID = c.session
	if c.user != nil {
		n.CreatedByUserID = c.user.ID
		n.CreatedByPhone = c.user.Phone
		n.CreatedByName = c.user.Name
	}
	local := n.Clone()
	c.notes[n.ID] = local
	c.mu.Unlock()

	if err := c.emit(protocol.EventAddNote, n); err != nil {
		return nil, err
	}
	return local.Clone(), nil
}

// UpdateQuadrant moves a note locally and announces the move.
func (c *Client) UpdateQuadrant(id string, q models.Quadrant) error {
	c.mu.Lock()
	ok := board.SetQuadrant(c.notes, id, q)
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("client: quadrant update refused for %s", id)
	}
	return c.emit(protocol.EventUpdateQuadrant, protocol.QuadrantUpdate{ID: id, Quadrant: q})
}

// MergeNotes absorbs source into target locally, then announces the
// pair. Nothing is sent when the local combine refuses, so a stale
// double-merge never reaches the wire.
func (c *Client) MergeNotes(sourceID, targetID string) error {
	c.mu.Lock()
	ok := board.MergeInto(c.notes, sourceID, targetID)
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("client: merge refused for %s into %s", sourceID, targetID)
	}
	return c.emit(protocol.EventMergeNotes, protocol.MergePair{SourceID: sourceID, TargetID: targetID})
}

// LinkNotes associates a problem with a solution.
func (c *Client) LinkNotes(id1, id2 string) error {
	c.mu.Lock()
	ok := board.Link(c.notes, id1, id2)
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("client: link refused for %s and %s", id1, id2)
	}
	return c.emit(protocol.EventLinkNotes, protocol.LinkPair{NoteID1: id1, NoteID2: id2})
}

// UnlinkNotes removes an association.
func (c *Client) UnlinkNotes(id1, id2 string) error {
	c.mu.Lock()
	ok := board.Unlink(c.notes, id1, id2)
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("client: unlink refused for %s and %s", id1, id2)
	}
	return c.emit(protocol.EventUnlinkNotes, protocol.LinkPair{NoteID1: id1, NoteID2: id2})
}

// MarkSolutionComplete resolves a solution and its linked problems.
func (c *Client) MarkSolutionComplete(solutionID string) error {
	c.mu.Lock()
	changed := board.ResolveCascade(c.notes, solutionID)
	c.mu.Unlock()
	if changed == nil {
		return fmt.Errorf("client: resolve refused for %s", solutionID)
	}
	return c.emit(protocol.EventMarkSolution, solutionID)
}

// LikeNote votes for a note. No local echo: the server's note-liked
// broadcast includes the sender, so the increment lands exactly once.
func (c *Client) LikeNote(id string) error {
	return c.emit(protocol.EventLikeNote, id)
}

// StartTimer asks the server to open the brainstorm window.
func (c *Client) StartTimer(minutes int) error {
	return c.emit(protocol.EventStartSession, protocol.TimerStart{Minutes: minutes})
}

// ExtendTimer adds minutes to the running window.
func (c *Client) ExtendTimer(minutes int) error {
	return c.emit(protocol.EventExtendSession, protocol.TimerExtend{Minutes: minutes})
}

// EndTimer closes the window.
func (c *Client) EndTimer() error {
	return c.emit(protocol.EventEndSession, nil)
}

// PendingUsers fetches the registrations awaiting approval. Empty for
// non-admins.
func (c *Client) PendingUsers() ([]models.User, error) {
	raw, err := c.call(protocol.EventGetPendingUsers, nil)
	if err != nil {
		return nil, err
	}
	var users []models.User
	if err := json.Unmarshal(raw, &users); err != nil {
		return nil, fmt.Errorf("client: pending users ack: %w", err)
	}
	return users, nil
}

// ApproveUser approves a pending registration.
func (c *Client) ApproveUser(userID string, role models.UserRole) error {
	return c.emit(protocol.EventApproveUser, protocol.Approval{UserID: userID, Role: role})
}

// DeletePendingUser removes a registration.
func (c *Client) DeletePendingUser(userID string) error {
	return c.emit(protocol.EventDeletePending, userID)
}

// Sessions fetches every brainstorm session.
func (c *Client) Sessions() ([]models.Session, error) {
	raw, err := c.call(protocol.EventGetSessions, nil)
	if err != nil {
		return nil, err
	}
	var sessions []models.Session
	if err := json.Unmarshal(raw, &sessions); err != nil {
		return nil, fmt.Errorf("client: sessions ack: %w", err)
	}
	return sessions, nil
}

// CreateSession creates a new session. Admin-only server-side.
func (c *Client) CreateSession(name, description string) (bool, error) {
	raw, err := c.call(protocol.EventCreateSession, models.Session{Name: name, Description: description})
	if err != nil {
		return false, err
	}
	var res protocol.CreateResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return false, fmt.Errorf("client: create session ack: %w", err)
	}
	return res.Success, nil
}

// SwitchSession moves every participant to another session.
func (c *Client) SwitchSession(sessionID string) error {
	raw, err := c.call(protocol.EventSwitchSession, sessionID)
	if err != nil {
		return err
	}
	var ok bool
	if err := json.Unmarshal(raw, &ok); err != nil || !ok {
		return fmt.Errorf("client: switch to session %s refused", sessionID)
	}
	return nil
}

// SessionStats fetches the dashboard counts for a session.
func (c *Client) SessionStats(sessionID string) (*models.SessionStats, error) {
	raw, err := c.call(protocol.EventGetSessionStats, sessionID)
	if err != nil {
		return nil, err
	}
	var stats *models.SessionStats
	if err := json.Unmarshal(raw, &stats); err != nil || stats == nil {
		return nil, fmt.Errorf("client: session stats unavailable")
	}
	return stats, nil
}

// Notes returns deep copies of the local mirror, newest first.
func (c *Client) Notes() []*models.Note {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneAll(c.notes.Notes())
}

// ActiveNotes returns the non-merged notes of the local mirror.
func (c *Client) ActiveNotes() []*models.Note {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneAll(c.notes.Active())
}

// Note returns one note from the local mirror.
func (c *Client) Note(id string) (*models.Note, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.notes[id]
	if !ok {
		return nil, false
	}
	return n.Clone(), true
}

// Timer returns the last known timer state.
func (c *Client) Timer() models.TimerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timer
}

// CanAddNotes reports whether the brainstorm window currently accepts
// notes, judged against the local clock.
func (c *Client) CanAddNotes() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timer.CanAddNotes(time.Now())
}

// CurrentSession returns the active session id.
func (c *Client) CurrentSession() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

func cloneAll(notes []*models.Note) []*models.Note {
	out := make([]*models.Note, len(notes))
	for i, n := range notes {
		out[i] = n.Clone()
	}
	return out
}
