package store

import "github.com/starford/stormboard/internal/models"

// Store defines the durable persistence interface for the board.
// Consumers should depend on this interface rather than the concrete
// *DB type to facilitate testing with mocks.
type Store interface {
	InsertNote(n *models.Note) error
	UpdateNote(id string, upd NoteUpdate) error
	GetNote(id string) (*models.Note, error)
	NotesBySession(sessionID string) ([]*models.Note, error)

	CreateUser(u models.User) (models.User, error)
	GetUser(id string) (*models.User, error)
	UserByPhone(phone string) (*models.User, error)
	PendingUsers() ([]models.User, error)
	ApproveUser(id string, role models.UserRole) error
	DeleteUser(id string) error

	Sessions() ([]models.Session, error)
	CreateSession(s models.Session) error
	SessionStats(sessionID string) (*models.SessionStats, error)

	Close() error
}

// Verify *DB satisfies Store at compile time.
var _ Store = (*DB)(nil)

// NoteUpdate is a partial update of a note row. Nil fields are left
// unchanged. Slice fields use nil for "unchanged" and an empty slice
// for "set to empty".
type NoteUpdate struct {
	Quadrant      *models.Quadrant
	Status        *models.NoteStatus
	Content       *string
	Likes         *int
	LinkedNoteIDs []string
	MergedFromIDs []string
}
