// Package models defines the domain types for Stormboard.
package models

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// NoteType distinguishes problem notes from solution notes.
// It never changes after a note is created.
type NoteType string

// Note types.
const (
	TypeProblem  NoteType = "PROBLEM"
	TypeSolution NoteType = "SOLUTION"
)

// Quadrant is a priority-matrix placement bucket.
type Quadrant string

// Quadrants. The meaning of Q1..Q4 differs between the problem and
// solution views but the mechanism is identical.
const (
	QuadrantUnsorted Quadrant = "UNSORTED"
	QuadrantQ1       Quadrant = "Q1"
	QuadrantQ2       Quadrant = "Q2"
	QuadrantQ3       Quadrant = "Q3"
	QuadrantQ4       Quadrant = "Q4"
)

// NoteStatus is the lifecycle state of a note. MERGED and RESOLVED are
// terminal soft-states; notes are never hard-deleted.
type NoteStatus string

// Note statuses.
const (
	StatusActive   NoteStatus = "ACTIVE"
	StatusResolved NoteStatus = "RESOLVED"
	StatusMerged   NoteStatus = "MERGED"
)

// Note categories.
const (
	CategoryCustomer = "Customer"
	CategoryProcess  = "Process"
	CategoryTools    = "Tools"
	CategoryPeople   = "People"
)

// Note is a single submitted idea, either a problem or a solution.
type Note struct {
	ID        string     `json:"id"`
	Content   string     `json:"content"`
	Author    string     `json:"author"`
	AvatarURL string     `json:"avatarUrl,omitempty"`
	Category  string     `json:"category"`
	Type      NoteType   `json:"type"`
	Quadrant  Quadrant   `json:"quadrant"`
	Status    NoteStatus `json:"status"`
	Timestamp int64      `json:"timestamp"` // unix millis
	Likes     int        `json:"likes"`

	// LinkedNoteIDs is a symmetric many-to-many relation with notes of
	// the opposite type: if A lists B then B lists A.
	LinkedNoteIDs []string `json:"linkedNoteIds"`
	// MergedFromIDs records which notes were absorbed into this one.
	// Append-only audit trail.
	MergedFromIDs []string `json:"mergedFromIds"`

	// Creator identity, retained for audit, never rendered.
	CreatedByUserID string `json:"createdByUserId,omitempty"`
	CreatedByPhone  string `json:"createdByPhone,omitempty"`
	CreatedByName   string `json:"createdByName,omitempty"`

	SessionID string `json:"sessionId,omitempty"`
}

// Validate checks the fields a client controls on submission.
func (n Note) Validate() error {
	return validation.ValidateStruct(&n,
		validation.Field(&n.Content, validation.Required),
		validation.Field(&n.Author, validation.Required),
		validation.Field(&n.Category, validation.Required,
			validation.In(CategoryCustomer, CategoryProcess, CategoryTools, CategoryPeople)),
		validation.Field(&n.Type, validation.Required,
			validation.In(TypeProblem, TypeSolution)),
		validation.Field(&n.Quadrant,
			validation.In(QuadrantUnsorted, QuadrantQ1, QuadrantQ2, QuadrantQ3, QuadrantQ4)),
	)
}

// Linked reports whether id is present in the note's link set.
func (n *Note) Linked(id string) bool {
	for _, l := range n.LinkedNoteIDs {
		if l == id {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the note.
func (n *Note) Clone() *Note {
	c := *n
	c.LinkedNoteIDs = append([]string(nil), n.LinkedNoteIDs...)
	c.MergedFromIDs = append([]string(nil), n.MergedFromIDs...)
	return &c
}
