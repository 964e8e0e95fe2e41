package models

// DefaultSessionID is the session every server starts in. The row is
// ensured at store open and never deleted.
const DefaultSessionID = "default"

// Session is a named partition of notes (a brainstorm collection),
// distinct from a transport connection.
type Session struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	CreatedAt   int64  `json:"created_at"` // unix millis
	IsActive    bool   `json:"is_active"`
	CreatedBy   string `json:"created_by"`
}

// CategoryCount is one row of a per-category breakdown.
type CategoryCount struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}

// QuadrantCount is one row of a per-quadrant breakdown.
type QuadrantCount struct {
	Quadrant string `json:"quadrant"`
	Count    int    `json:"count"`
}

// SessionStats summarizes a session for the dashboard. Merged notes are
// excluded from every count.
type SessionStats struct {
	TotalProblems     int             `json:"totalProblems"`
	ResolvedProblems  int             `json:"resolvedProblems"`
	ActiveProblems    int             `json:"activeProblems"`
	TotalSolutions    int             `json:"totalSolutions"`
	CategoryBreakdown []CategoryCount `json:"categoryBreakdown"`
	QuadrantBreakdown []QuadrantCount `json:"quadrantBreakdown"`
}
