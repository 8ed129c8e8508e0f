// Package dedup drops repeated permit identifiers within a single source run.
package dedup

import "github.com/sells-group/permit-cli/internal/model"

// Set tracks identifiers seen during one source run. It is not safe for
// concurrent use; each source run owns its own Set.
type Set struct {
	seen map[string]struct{}
}

// New returns an empty Set.
func New() *Set {
	return &Set{seen: make(map[string]struct{})}
}

// Seen reports whether id was already marked.
func (s *Set) Seen(id string) bool {
	_, ok := s.seen[id]
	return ok
}

// MarkSeen records id.
func (s *Set) MarkSeen(id string) {
	s.seen[id] = struct{}{}
}

// Len returns the number of distinct identifiers marked.
func (s *Set) Len() int { return len(s.seen) }

// Filter keeps the first record for each identifier, preserving input order,
// and returns the number of records dropped.
func (s *Set) Filter(records []model.Record) ([]model.Record, int) {
	out := make([]model.Record, 0, len(records))
	for _, r := range records {
		if s.Seen(r.Identifier) {
			continue
		}
		s.MarkSeen(r.Identifier)
		out = append(out, r)
	}
	return out, len(records) - len(out)
}
