package dashboard

import (
	"sync"

	"github.com/tars-dashboard/engine/internal/insights"
	"github.com/tars-dashboard/engine/pkg/models"
)

// State holds the latest snapshot and the insights derived from it. Every
// write recomputes insights under the same lock, so readers never observe a
// snapshot paired with stale insights.
type State struct {
	mu       sync.RWMutex
	snapshot *models.StatusSnapshot
	insights models.InsightSet
	version  uint64
}

// NewState returns an empty state. Snapshot returns nil until the first Replace.
func NewState() *State {
	return &State{}
}

// Replace overwrites the snapshot and recomputes insights. The state keeps its
// own copy of snap; a nil snap is stored as an empty snapshot.
func (s *State) Replace(snap *models.StatusSnapshot) models.InsightSet {
	var next *models.StatusSnapshot
	if snap == nil {
		next = &models.StatusSnapshot{}
	} else {
		next = snap.Clone()
	}
	next.Normalize()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = next
	s.insights = insights.Derive(next)
	s.version++
	return s.insights
}

// MutateField adds delta to the named counter, clamping at zero, and
// recomputes insights. It returns the new value, or false when nothing is
// loaded yet or the field is not a counter.
func (s *State) MutateField(field string, delta int) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snapshot == nil {
		return 0, false
	}
	p := counter(s.snapshot, field)
	if p == nil {
		return 0, false
	}
	*p = max(0, *p+delta)
	s.insights = insights.Derive(s.snapshot)
	s.version++
	return *p, true
}

// Snapshot returns a copy of the current snapshot, or nil before the first load.
func (s *State) Snapshot() *models.StatusSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.snapshot == nil {
		return nil
	}
	return s.snapshot.Clone()
}

// Insights returns the current insights, or nil before the first load.
func (s *State) Insights() *models.InsightSet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.snapshot == nil {
		return nil
	}
	set := s.insights
	return &set
}

// Version increases on every write.
func (s *State) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// counter maps a wire field name to its counter in snap.
func counter(snap *models.StatusSnapshot, field string) *int {
	switch field {
	case "memories":
		return &snap.Memories
	case "tasks":
		return &snap.Tasks
	case "emailsIn":
		return &snap.EmailsIn
	case "emailsOut":
		return &snap.EmailsOut
	case "skills":
		return &snap.Skills
	case "subdomains":
		return &snap.Subdomains
	case "deployments":
		return &snap.Deployments
	}
	return nil
}
