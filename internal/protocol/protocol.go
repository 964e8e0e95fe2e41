// Package protocol defines the websocket wire format shared by the hub
// and the client reconciler: a small JSON envelope carrying a named
// event, an optional correlation id for acknowledged calls, and the
// event payload.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/starford/stormboard/internal/models"
)

// Server-to-client events.
const (
	EventSyncNotes      = "sync-notes"      // full note snapshot
	EventSessionSync    = "session-sync"    // timer snapshot
	EventCurrentSession = "current-session" // active session id

	EventNoteAdded        = "note-added"
	EventQuadrantUpdated  = "quadrant-updated"
	EventNotesMerged      = "notes-merged"
	EventNotesLinked      = "notes-linked"
	EventNotesUnlinked    = "notes-unlinked"
	EventSolutionComplete = "solution-completed"
	EventNoteLiked        = "note-liked"

	EventNewPendingUser = "new-pending-user"
	EventUserApproved   = "user-approved"
	EventUserDeleted    = "user-deleted"

	EventSessionStarted  = "session-started"
	EventSessionExtended = "session-extended"
	EventSessionEnded    = "session-ended"
	EventSessionCreated  = "session-created"

	EventAck = "ack"
)

// Client-to-server events.
const (
	EventAddNote          = "add-note"
	EventUpdateQuadrant   = "update-quadrant"
	EventMergeNotes       = "merge-notes"
	EventLinkNotes        = "link-notes"
	EventUnlinkNotes      = "unlink-notes"
	EventMarkSolution     = "solution-complete"
	EventLikeNote         = "like-note"
	EventRegisterUser     = "register-user"
	EventGetUser          = "get-user"
	EventLoginByPhone     = "login-by-phone"
	EventGetPendingUsers  = "get-pending-users"
	EventApproveUser      = "approve-user"
	EventDeletePending    = "delete-pending-user"
	EventStartSession     = "start-session"
	EventExtendSession    = "extend-session"
	EventEndSession       = "end-session"
	EventGetSessions      = "get-sessions"
	EventCreateSession    = "create-session"
	EventSwitchSession    = "switch-session"
	EventGetSessionStats  = "get-session-stats"
)

// Envelope is one websocket frame. ID is non-zero only for calls that
// expect an acknowledgment; the reply is an "ack" envelope carrying the
// same ID.
type Envelope struct {
	Event string          `json:"event"`
	ID    uint64          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals data into an envelope for the given event.
func NewEnvelope(event string, data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("protocol: marshal %s: %w", event, err)
	}
	return Envelope{Event: event, Data: raw}, nil
}

// MustEnvelope is NewEnvelope for payloads that cannot fail to marshal.
func MustEnvelope(event string, data any) Envelope {
	env, err := NewEnvelope(event, data)
	if err != nil {
		panic(err)
	}
	return env
}

// Ack builds the acknowledgment envelope for a correlated call.
func Ack(id uint64, data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("protocol: marshal ack: %w", err)
	}
	return Envelope{Event: EventAck, ID: id, Data: raw}, nil
}

// QuadrantUpdate is the payload for update-quadrant / quadrant-updated.
type QuadrantUpdate struct {
	ID       string          `json:"id"`
	Quadrant models.Quadrant `json:"quadrant"`
}

// MergePair is the payload for merge-notes / notes-merged. Receivers
// recompute the merge deterministically from their own copies, so only
// the ids travel over the wire.
type MergePair struct {
	SourceID string `json:"sourceId"`
	TargetID string `json:"targetId"`
}

// LinkPair is the payload for link/unlink events.
type LinkPair struct {
	NoteID1 string `json:"noteId1"`
	NoteID2 string `json:"noteId2"`
}

// Approval is the payload for approve-user / user-approved.
type Approval struct {
	UserID string          `json:"userId"`
	Role   models.UserRole `json:"role"`
}

// TimerStart is the payload for start-session.
type TimerStart struct {
	Minutes int `json:"minutes"`
}

// TimerExtend is the payload for extend-session.
type TimerExtend struct {
	Minutes int `json:"minutes"`
}

// TimerStarted is the broadcast payload for session-started.
type TimerStarted struct {
	EndTime   int64  `json:"endTime"`
	StartedBy string `json:"startedBy"`
}

// TimerExtended is the broadcast payload for session-extended.
type TimerExtended struct {
	EndTime int64 `json:"endTime"`
}

// RegisterResult is the ack payload for register-user.
type RegisterResult struct {
	Success bool              `json:"success"`
	Status  models.UserStatus `json:"status,omitempty"`
	Role    models.UserRole   `json:"role,omitempty"`
}

// CreateResult is the ack payload for create-session.
type CreateResult struct {
	Success bool `json:"success"`
}
