// Package hub implements the websocket fan-out layer: it upgrades
// connections, feeds inbound events to the board engine, and broadcasts
// mutation events to every connected client.
package hub

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/starford/stormboard/internal/board"
	"github.com/starford/stormboard/internal/models"
	"github.com/starford/stormboard/internal/protocol"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second

	maxFrameSize = 64 * 1024
)

// client is one websocket connection. The hub loop owns membership; the
// read loop owns user (the identity announced via register-user,
// login-by-phone or get-user) and is the only dispatcher for this
// connection, so no locking is needed on either.
type client struct {
	id   string
	conn *websocket.Conn
	send chan protocol.Envelope
	user *models.User
}

type outbound struct {
	env    protocol.Envelope
	except string
	join   *client
}

// Hub fans engine events out to connected clients and routes client
// events into the engine.
//
// Concurrency model: a single internal loop (goroutine) owns the client
// set. Public methods communicate with this loop through channels, so
// no mutexes are required. Slow clients are skipped, never waited on.
type Hub struct {
	engine     *board.Engine
	logger     *slog.Logger
	sendBuffer int
	upgrader   websocket.Upgrader

	unregisterCh chan *client
	broadcastCh  chan outbound
	countReqCh   chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// New creates a hub bound to the engine and starts its loop. sendBuffer
// is the per-client outbound queue depth; the connect-time state push
// needs headroom, so tiny values are raised to the default.
func New(engine *board.Engine, logger *slog.Logger, sendBuffer int) *Hub {
	if sendBuffer < 8 {
		sendBuffer = 64
	}
	h := &Hub{
		engine:     engine,
		logger:     logger,
		sendBuffer: sendBuffer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The board is token/identity gated, not origin gated.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		unregisterCh: make(chan *client),
		broadcastCh:  make(chan outbound, 256),
		countReqCh:   make(chan chan int),
		stopCh:       make(chan struct{}),
		stopped:      make(chan struct{}),
	}
	go h.run()
	return h
}

var _ board.Broadcaster = (*Hub)(nil)

func (h *Hub) run() {
	defer close(h.stopped)

	clients := make(map[*client]struct{})

	deliver := func(out outbound) {
		for c := range clients {
			if out.except != "" && c.id == out.except {
				continue
			}
			select {
			case c.send <- out.env:
			default:
				// Client buffer full; skip to avoid blocking the hub loop.
			}
		}
	}

	for {
		select {
		case <-h.stopCh:
			for c := range clients {
				close(c.send)
			}
			return

		case c := <-h.unregisterCh:
			if _, ok := clients[c]; ok {
				delete(clients, c)
				close(c.send)
			}

		case out := <-h.broadcastCh:
			if out.join != nil {
				clients[out.join] = struct{}{}
				continue
			}
			deliver(out)

		case resp := <-h.countReqCh:
			resp <- len(clients)
		}
	}
}

// Close stops the hub loop and closes every client queue.
func (h *Hub) Close() {
	if h.closed.CompareAndSwap(false, true) {
		close(h.stopCh)
	}
	<-h.stopped
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	if h.closed.Load() {
		return 0
	}
	resp := make(chan int, 1)
	select {
	case h.countReqCh <- resp:
	case <-h.stopped:
		return 0
	}
	select {
	case n := <-resp:
		return n
	case <-h.stopped:
		return 0
	}
}

// Broadcast delivers the envelope to every connected client.
func (h *Hub) Broadcast(env protocol.Envelope) {
	h.publish(outbound{env: env})
}

// BroadcastExcept delivers to every client except the originating
// connection.
func (h *Hub) BroadcastExcept(originID string, env protocol.Envelope) {
	h.publish(outbound{env: env, except: originID})
}

func (h *Hub) publish(out outbound) {
	if h.closed.Load() {
		return
	}
	select {
	case h.broadcastCh <- out:
	case <-h.stopped:
	}
}

// join enqueues the client onto the broadcast stream itself, not a
// side channel: envelopes queued ahead of the join predate the
// client's snapshot and skip it, envelopes behind it reach it.
func (h *Hub) join(c *client) bool {
	if h.closed.Load() {
		return false
	}
	select {
	case h.broadcastCh <- outbound{join: c}:
		return true
	case <-h.stopped:
		return false
	}
}

// ServeHTTP is the websocket endpoint handler (GET /ws).
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan protocol.Envelope, h.sendBuffer),
	}

	// Initial state push: full note snapshot, timer, active session.
	// Snapshot and join are queued under the engine lock, so a
	// mutation committed before the snapshot is inside it and one
	// committed after is broadcast behind the join.
	joined := false
	h.engine.Attach(func(notes []*models.Note, timer models.TimerState, session string) {
		c.send <- protocol.MustEnvelope(protocol.EventSyncNotes, notes)
		c.send <- protocol.MustEnvelope(protocol.EventSessionSync, timer)
		c.send <- protocol.MustEnvelope(protocol.EventCurrentSession, session)
		joined = h.join(c)
	})
	if !joined {
		conn.Close()
		return
	}

	h.logger.Info("client connected", slog.String("conn_id", c.id))
	go h.writeLoop(c)
	h.readLoop(c)
}

func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case env, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(env); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) readLoop(c *client) {
	defer func() {
		select {
		case h.unregisterCh <- c:
		case <-h.stopped:
		}
		c.conn.Close()
		h.logger.Info("client disconnected", slog.String("conn_id", c.id))
	}()

	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var env protocol.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("websocket read failed",
					slog.String("conn_id", c.id),
					slog.String("error", err.Error()))
			}
			return
		}
		h.dispatch(c, env)
	}
}

// dispatch routes one inbound envelope. Malformed payloads are logged
// and dropped; the connection stays up.
func (h *Hub) dispatch(c *client, env protocol.Envelope) {
	switch env.Event {
	case protocol.EventAddNote:
		var n models.Note
		if !h.decode(c, env, &n) {
			return
		}
		if _, err := h.engine.AddNote(c.id, n); err != nil {
			h.logger.Info("add-note rejected",
				slog.String("conn_id", c.id),
				slog.String("error", err.Error()))
		}

	case protocol.EventUpdateQuadrant:
		var upd protocol.QuadrantUpdate
		if h.decode(c, env, &upd) {
			h.engine.UpdateQuadrant(c.id, upd.ID, upd.Quadrant)
		}

	case protocol.EventMergeNotes:
		var pair protocol.MergePair
		if h.decode(c, env, &pair) {
			h.engine.MergeNotes(c.id, pair.SourceID, pair.TargetID)
		}

	case protocol.EventLinkNotes:
		var pair protocol.LinkPair
		if h.decode(c, env, &pair) {
			h.engine.LinkNotes(c.id, pair.NoteID1, pair.NoteID2)
		}

	case protocol.EventUnlinkNotes:
		var pair protocol.LinkPair
		if h.decode(c, env, &pair) {
			h.engine.UnlinkNotes(c.id, pair.NoteID1, pair.NoteID2)
		}

	case protocol.EventMarkSolution:
		var id string
		if h.decode(c, env, &id) {
			h.engine.MarkSolutionComplete(c.id, id)
		}

	case protocol.EventLikeNote:
		var id string
		if h.decode(c, env, &id) {
			h.engine.LikeNote(id)
		}

	case protocol.EventRegisterUser:
		var u models.User
		if !h.decode(c, env, &u) {
			return
		}
		res, stored := h.engine.RegisterUser(u)
		if res.Success {
			c.user = &stored
		}
		h.ack(c, env, res)

	case protocol.EventGetUser:
		var id string
		if !h.decode(c, env, &id) {
			return
		}
		u, err := h.engine.GetUser(id)
		if err != nil {
			h.ack(c, env, nil)
			return
		}
		c.user = u
		h.ack(c, env, u)

	case protocol.EventLoginByPhone:
		var phone string
		if !h.decode(c, env, &phone) {
			return
		}
		u, err := h.engine.LoginByPhone(phone)
		if err != nil {
			h.ack(c, env, nil)
			return
		}
		c.user = u
		h.ack(c, env, u)

	case protocol.EventGetPendingUsers:
		if !c.user.IsAdmin() {
			h.ack(c, env, []models.User{})
			return
		}
		pending, err := h.engine.PendingUsers()
		if err != nil {
			h.logger.Warn("pending users lookup failed", slog.String("error", err.Error()))
			pending = []models.User{}
		}
		h.ack(c, env, pending)

	case protocol.EventApproveUser:
		var appr protocol.Approval
		if h.decode(c, env, &appr) {
			if err := h.engine.ApproveUser(c.user, appr.UserID, appr.Role); err != nil {
				h.logger.Info("approve-user rejected",
					slog.String("conn_id", c.id),
					slog.String("error", err.Error()))
			}
		}

	case protocol.EventDeletePending:
		var id string
		if h.decode(c, env, &id) {
			if err := h.engine.DeletePendingUser(c.user, id); err != nil {
				h.logger.Info("delete-pending-user rejected",
					slog.String("conn_id", c.id),
					slog.String("error", err.Error()))
			}
		}

	case protocol.EventStartSession:
		var req protocol.TimerStart
		if h.decode(c, env, &req) {
			if err := h.engine.StartTimer(c.user, req.Minutes); err != nil {
				h.logger.Info("start-session rejected",
					slog.String("conn_id", c.id),
					slog.String("error", err.Error()))
			}
		}

	case protocol.EventExtendSession:
		var req protocol.TimerExtend
		if h.decode(c, env, &req) {
			if err := h.engine.ExtendTimer(c.user, req.Minutes); err != nil {
				h.logger.Info("extend-session rejected",
					slog.String("conn_id", c.id),
					slog.String("error", err.Error()))
			}
		}

	case protocol.EventEndSession:
		if err := h.engine.EndTimer(c.user); err != nil {
			h.logger.Info("end-session rejected",
				slog.String("conn_id", c.id),
				slog.String("error", err.Error()))
		}

	case protocol.EventGetSessions:
		sessions, err := h.engine.Sessions()
		if err != nil {
			h.logger.Warn("sessions lookup failed", slog.String("error", err.Error()))
			sessions = []models.Session{}
		}
		h.ack(c, env, sessions)

	case protocol.EventCreateSession:
		var s models.Session
		if !h.decode(c, env, &s) {
			return
		}
		_, err := h.engine.CreateSession(c.user, s.Name, s.Description)
		if err != nil {
			h.logger.Info("create-session rejected",
				slog.String("conn_id", c.id),
				slog.String("error", err.Error()))
		}
		h.ack(c, env, protocol.CreateResult{Success: err == nil})

	case protocol.EventSwitchSession:
		var id string
		if !h.decode(c, env, &id) {
			return
		}
		err := h.engine.SwitchSession(id)
		if err != nil {
			h.logger.Warn("switch-session failed",
				slog.String("session_id", id),
				slog.String("error", err.Error()))
		}
		h.ack(c, env, err == nil)

	case protocol.EventGetSessionStats:
		var id string
		if !h.decode(c, env, &id) {
			return
		}
		stats, err := h.engine.SessionStats(id)
		if err != nil {
			h.ack(c, env, nil)
			return
		}
		h.ack(c, env, stats)

	default:
		h.logger.Info("unknown event dropped",
			slog.String("conn_id", c.id),
			slog.String("event", env.Event))
	}
}

func (h *Hub) decode(c *client, env protocol.Envelope, v any) bool {
	if len(env.Data) == 0 {
		// Events like get-session-stats may legitimately carry no
		// payload; leave v at its zero value.
		return true
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		h.logger.Warn("malformed payload dropped",
			slog.String("conn_id", c.id),
			slog.String("event", env.Event),
			slog.String("error", err.Error()))
		return false
	}
	return true
}

// ack replies to a correlated call. Calls without a correlation id get
// no reply.
func (h *Hub) ack(c *client, env protocol.Envelope, data any) {
	if env.ID == 0 {
		return
	}
	reply, err := protocol.Ack(env.ID, data)
	if err != nil {
		h.logger.Warn("ack marshal failed",
			slog.String("event", env.Event),
			slog.String("error", err.Error()))
		return
	}
	select {
	case c.send <- reply:
	default:
		h.logger.Warn("ack dropped, client buffer full", slog.String("conn_id", c.id))
	}
}
