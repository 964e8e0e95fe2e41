package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/starford/stormboard/internal/apperr"
	"github.com/starford/stormboard/internal/models"
)

const noteColumns = `id, content, author, avatar_url, category, type, quadrant, status,
	timestamp, likes, linked_note_ids, merged_from_ids,
	created_by_user_id, created_by_phone, created_by_name, session_id`

// InsertNote persists a new note row.
func (db *DB) InsertNote(n *models.Note) error {
	linked, _ := json.Marshal(emptyIfNil(n.LinkedNoteIDs))
	merged, _ := json.Marshal(emptyIfNil(n.MergedFromIDs))

	_, err := db.conn.Exec(`
		INSERT INTO notes (`+noteColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.Content, n.Author, n.AvatarURL, n.Category, string(n.Type),
		string(n.Quadrant), string(n.Status), n.Timestamp, n.Likes,
		string(linked), string(merged),
		n.CreatedByUserID, n.CreatedByPhone, n.CreatedByName, n.SessionID)
	if err != nil {
		return fmt.Errorf("store: insert note: %w", err)
	}
	return nil
}

// UpdateNote applies a partial update to a note row. An update with no
// set fields is a no-op.
func (db *DB) UpdateNote(id string, upd NoteUpdate) error {
	var set []string
	var args []any

	if upd.Quadrant != nil {
		set = append(set, "quadrant = ?")
		args = append(args, string(*upd.Quadrant))
	}
	if upd.Status != nil {
		set = append(set, "status = ?")
		args = append(args, string(*upd.Status))
	}
	if upd.Content != nil {
		set = append(set, "content = ?")
		args = append(args, *upd.Content)
	}
	if upd.Likes != nil {
		set = append(set, "likes = ?")
		args = append(args, *upd.Likes)
	}
	if upd.LinkedNoteIDs != nil {
		data, _ := json.Marshal(upd.LinkedNoteIDs)
		set = append(set, "linked_note_ids = ?")
		args = append(args, string(data))
	}
	if upd.MergedFromIDs != nil {
		data, _ := json.Marshal(upd.MergedFromIDs)
		set = append(set, "merged_from_ids = ?")
		args = append(args, string(data))
	}

	if len(set) == 0 {
		return nil
	}

	args = append(args, id)
	res, err := db.conn.Exec(`UPDATE notes SET `+strings.Join(set, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("store: update note %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

// GetNote returns a single note by id.
func (db *DB) GetNote(id string) (*models.Note, error) {
	row := db.conn.QueryRow(`SELECT `+noteColumns+` FROM notes WHERE id = ?`, id)
	n, err := scanNote(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get note %s: %w", id, err)
	}
	return n, nil
}

// NotesBySession returns every note of a session, newest first.
func (db *DB) NotesBySession(sessionID string) ([]*models.Note, error) {
	if sessionID == "" {
		sessionID = models.DefaultSessionID
	}
	rows, err := db.conn.Query(
		`SELECT `+noteColumns+` FROM notes WHERE session_id = ? ORDER BY timestamp DESC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("store: notes by session: %w", err)
	}
	defer rows.Close()

	var out []*models.Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan note: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNote(r rowScanner) (*models.Note, error) {
	var n models.Note
	var typ, quadrant, status, linked, merged string
	err := r.Scan(&n.ID, &n.Content, &n.Author, &n.AvatarURL, &n.Category,
		&typ, &quadrant, &status, &n.Timestamp, &n.Likes, &linked, &merged,
		&n.CreatedByUserID, &n.CreatedByPhone, &n.CreatedByName, &n.SessionID)
	if err != nil {
		return nil, err
	}
	n.Type = models.NoteType(typ)
	n.Quadrant = models.Quadrant(quadrant)
	n.Status = models.NoteStatus(status)
	n.LinkedNoteIDs = decodeIDs(linked)
	n.MergedFromIDs = decodeIDs(merged)
	return &n, nil
}

func decodeIDs(raw string) []string {
	out := []string{}
	if raw == "" {
		return out
	}
	_ = json.Unmarshal([]byte(raw), &out)
	return out
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
