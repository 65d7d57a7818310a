// Package results holds the outcome of the analysis job and decides how it is displayed.
package results

import (
	"sync"

	"github.com/MegaGrindStone/minutes-web-ui/internal/models"
)

// Snapshot is a read-only view of the job state at one point in time.
type Snapshot struct {
	Loading bool           `json:"isLoading"`
	Result  *models.Result `json:"result,omitempty"`
}

// State owns the loading flag and the result of the current analysis job. The external pipeline
// writes it, and every interested view gets a Snapshot pushed on each change. It is safe for
// concurrent use.
type State struct {
	mu       sync.Mutex
	snapshot Snapshot
	subs     map[int]func(Snapshot)
	nextSub  int
}

// NewState creates an idle State: not loading and without a result.
func NewState() *State {
	return &State{
		subs: make(map[int]func(Snapshot)),
	}
}

// Snapshot returns the current loading flag and result.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot.clone()
}

// Begin marks a new job as in flight and drops the previous result.
func (s *State) Begin() {
	s.set(Snapshot{Loading: true})
}

// Complete delivers the job's result. The loading flag stays raised, which is what keeps the panels
// visible until Reset.
func (s *State) Complete(result models.Result) {
	s.set(Snapshot{Loading: true, Result: &result})
}

// Reset clears the loading flag and the result.
func (s *State) Reset() {
	s.set(Snapshot{})
}

// Subscribe registers fn to be called with every new Snapshot, in the order changes are applied. fn
// runs with the State locked and must not call back into it. The returned function removes the
// subscription.
func (s *State) Subscribe(fn func(Snapshot)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

func (s *State) set(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = snap
	for _, fn := range s.subs {
		fn(snap.clone())
	}
}

func (s Snapshot) clone() Snapshot {
	if s.Result == nil {
		return s
	}
	r := *s.Result
	return Snapshot{Loading: s.Loading, Result: &r}
}
