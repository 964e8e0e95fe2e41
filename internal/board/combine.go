// Package board implements the authoritative mutation engine for the
// brainstorm board and the pure combine logic behind every mutation.
//
// The combine functions in this file are deliberately free of I/O and
// side effects: merge, link, and resolve broadcasts carry only note ids
// over the wire, and every peer (the server engine and each client
// reconciler) recomputes the full effect locally by calling the same
// function. Keeping one shared implementation is what guarantees the
// copies never drift.
package board

import (
	"fmt"
	"sort"

	"github.com/starford/stormboard/internal/models"
)

// Projection is the in-memory note state of one session, keyed by id.
type Projection map[string]*models.Note

// Notes returns the projection's notes sorted newest first.
func (p Projection) Notes() []*models.Note {
	out := make([]*models.Note, 0, len(p))
	for _, n := range p {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp > out[j].Timestamp
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Active returns the non-merged notes, newest first. Merged notes are
// permanently excluded from every active view.
func (p Projection) Active() []*models.Note {
	out := p.Notes()
	filtered := out[:0]
	for _, n := range out {
		if n.Status != models.StatusMerged {
			filtered = append(filtered, n)
		}
	}
	return filtered
}

// SetQuadrant reassigns a note's quadrant. Any placement may move to
// any other, including back to UNSORTED. Returns false when the id is
// unknown or the note has been merged away.
func SetQuadrant(p Projection, id string, q models.Quadrant) bool {
	n, ok := p[id]
	if !ok || n.Status == models.StatusMerged {
		return false
	}
	n.Quadrant = q
	return true
}

// MergeInto absorbs the source note into the target: the source is
// flagged MERGED (content preserved for audit), the target's content
// gains a delimited excerpt of the source, its mergedFromIds gains the
// source id, and its like count becomes the sum of both. The operation
// is asymmetric and irreversible; there is no unmerge.
//
// Returns false without touching anything when either id is missing or
// either note is already MERGED. The already-merged guard is what makes
// a racing second merge of the same source a safe no-op on every peer.
func MergeInto(p Projection, sourceID, targetID string) bool {
	src, ok := p[sourceID]
	if !ok {
		return false
	}
	dst, ok := p[targetID]
	if !ok || sourceID == targetID {
		return false
	}
	if src.Status == models.StatusMerged || dst.Status == models.StatusMerged {
		return false
	}

	src.Status = models.StatusMerged
	dst.Content = fmt.Sprintf("%s\n\n[merged from: %s]", dst.Content, src.Content)
	dst.MergedFromIDs = append(dst.MergedFromIDs, sourceID)
	dst.Likes += src.Likes
	return true
}

// Link records a symmetric association between a problem and a
// solution: each note's linkedNoteIds gains the other's id. Linking an
// already-linked pair is a no-op that still reports success. Returns
// false for missing ids, merged endpoints, or same-type pairs.
func Link(p Projection, id1, id2 string) bool {
	a, b, ok := linkEndpoints(p, id1, id2)
	if !ok {
		return false
	}
	if !a.Linked(id2) {
		a.LinkedNoteIDs = append(a.LinkedNoteIDs, id2)
	}
	if !b.Linked(id1) {
		b.LinkedNoteIDs = append(b.LinkedNoteIDs, id1)
	}
	return true
}

// Unlink removes the association from both sides. Unlinking a pair that
// is not linked is a safe no-op.
func Unlink(p Projection, id1, id2 string) bool {
	a, ok := p[id1]
	if !ok {
		return false
	}
	b, ok := p[id2]
	if !ok {
		return false
	}
	a.LinkedNoteIDs = removeID(a.LinkedNoteIDs, id2)
	b.LinkedNoteIDs = removeID(b.LinkedNoteIDs, id1)
	return true
}

// ResolveCascade marks the solution RESOLVED and cascades to every
// linked note of type PROBLEM, traversing the link relation at call
// time. MERGED is terminal: a merged solution refuses the whole call
// and merged cascade targets keep their status, since links survive a
// merge. Returns the ids of all notes whose status changed (the
// solution first), or nil when the solution id is unknown or merged.
func ResolveCascade(p Projection, solutionID string) []string {
	sol, ok := p[solutionID]
	if !ok || sol.Status == models.StatusMerged {
		return nil
	}
	changed := []string{solutionID}
	sol.Status = models.StatusResolved
	for _, id := range sol.LinkedNoteIDs {
		n, ok := p[id]
		if !ok || n.Type != models.TypeProblem || n.Status == models.StatusMerged {
			continue
		}
		n.Status = models.StatusResolved
		changed = append(changed, id)
	}
	return changed
}

// Like increments a note's like counter by exactly one.
func Like(p Projection, id string) bool {
	n, ok := p[id]
	if !ok {
		return false
	}
	n.Likes++
	return true
}

func linkEndpoints(p Projection, id1, id2 string) (*models.Note, *models.Note, bool) {
	a, ok := p[id1]
	if !ok {
		return nil, nil, false
	}
	b, ok := p[id2]
	if !ok {
		return nil, nil, false
	}
	if a.Status == models.StatusMerged || b.Status == models.StatusMerged {
		return nil, nil, false
	}
	// Links only pair a problem with a solution.
	if a.Type == b.Type {
		return nil, nil, false
	}
	return a, b, true
}

func removeID(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
