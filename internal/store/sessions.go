package store

import (
	"fmt"

	"github.com/starford/stormboard/internal/models"
)

// Sessions returns all sessions, newest first.
func (db *DB) Sessions() ([]models.Session, error) {
	rows, err := db.conn.Query(
		`SELECT id, name, description, created_at, is_active, created_by
		 FROM sessions ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("store: sessions: %w", err)
	}
	defer rows.Close()

	out := []models.Session{}
	for rows.Next() {
		var s models.Session
		var active int
		if err := rows.Scan(&s.ID, &s.Name, &s.Description, &s.CreatedAt, &active, &s.CreatedBy); err != nil {
			return nil, fmt.Errorf("store: scan session: %w", err)
		}
		s.IsActive = active != 0
		out = append(out, s)
	}
	return out, rows.Err()
}

// CreateSession inserts a session row. Sessions are append-only: there
// is no delete or archive.
func (db *DB) CreateSession(s models.Session) error {
	active := 0
	if s.IsActive {
		active = 1
	}
	if _, err := db.conn.Exec(
		`INSERT INTO sessions (id, name, description, created_at, is_active, created_by)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		s.ID, s.Name, s.Description, s.CreatedAt, active, s.CreatedBy,
	); err != nil {
		return fmt.Errorf("store: create session: %w", err)
	}
	return nil
}

// SessionStats computes dashboard counts for a session. Merged notes
// are excluded from every count.
func (db *DB) SessionStats(sessionID string) (*models.SessionStats, error) {
	if sessionID == "" {
		sessionID = models.DefaultSessionID
	}

	stats := &models.SessionStats{
		CategoryBreakdown: []models.CategoryCount{},
		QuadrantBreakdown: []models.QuadrantCount{},
	}

	counts := []struct {
		dst   *int
		query string
	}{
		{&stats.TotalProblems,
			`SELECT COUNT(*) FROM notes WHERE session_id = ? AND type = 'PROBLEM' AND status != 'MERGED'`},
		{&stats.ResolvedProblems,
			`SELECT COUNT(*) FROM notes WHERE session_id = ? AND type = 'PROBLEM' AND status = 'RESOLVED'`},
		{&stats.ActiveProblems,
			`SELECT COUNT(*) FROM notes WHERE session_id = ? AND type = 'PROBLEM' AND status = 'ACTIVE'`},
		{&stats.TotalSolutions,
			`SELECT COUNT(*) FROM notes WHERE session_id = ? AND type = 'SOLUTION' AND status != 'MERGED'`},
	}
	for _, c := range counts {
		if err := db.conn.QueryRow(c.query, sessionID).Scan(c.dst); err != nil {
			return nil, fmt.Errorf("store: session stats: %w", err)
		}
	}

	rows, err := db.conn.Query(
		`SELECT category, COUNT(*) FROM notes
		 WHERE session_id = ? AND type = 'PROBLEM' AND status != 'MERGED'
		 GROUP BY category`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("store: category breakdown: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var c models.CategoryCount
		if err := rows.Scan(&c.Category, &c.Count); err != nil {
			return nil, err
		}
		stats.CategoryBreakdown = append(stats.CategoryBreakdown, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	qrows, err := db.conn.Query(
		`SELECT quadrant, COUNT(*) FROM notes
		 WHERE session_id = ? AND type = 'PROBLEM' AND status != 'MERGED'
		 GROUP BY quadrant`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("store: quadrant breakdown: %w", err)
	}
	defer qrows.Close()
	for qrows.Next() {
		var q models.QuadrantCount
		if err := qrows.Scan(&q.Quadrant, &q.Count); err != nil {
			return nil, err
		}
		stats.QuadrantBreakdown = append(stats.QuadrantBreakdown, q)
	}
	return stats, qrows.Err()
}
