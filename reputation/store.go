package reputation

import (
	"sync"
	"time"

	"github.com/playergold/node/persistence"
)

// Event is one entry in the append-only event log of spec.md §4.3.
type Event struct {
	NodeID    string    `json:"node_id"`
	Kind      string    `json:"kind"`
	Delta     float64   `json:"delta"`
	Timestamp time.Time `json:"timestamp"`
}

const maxEvents = 10_000

// Store is the node reputation store of spec.md §4.3: a map from id to
// score record, serialized per node via each entry's own mutex and
// guarded overall by mu for map structure changes.
type Store struct {
	mu        sync.RWMutex
	scores    map[string]*entry
	events    []Event
	nodesPath string
	eventPath string
}

func NewStore(nodesPath, eventPath string) *Store {
	return &Store{
		scores:    make(map[string]*entry),
		nodesPath: nodesPath,
		eventPath: eventPath,
	}
}

// Register creates an entry for id if one doesn't already exist.
// Calling Register twice for the same id yields one entry (spec.md §8
// idempotence property).
func (s *Store) Register(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.scores[id]; !ok {
		s.scores[id] = &entry{score: newNodeScore(id)}
	}
}

func (s *Store) get(id string) *entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scores[id]
}

func (s *Store) appendEvent(e Event) {
	s.mu.Lock()
	s.events = append(s.events, e)
	if len(s.events) > maxEvents {
		s.events = s.events[len(s.events)-maxEvents:]
	}
	s.mu.Unlock()
}

// RecordSuccessfulValidation credits id with reward and logs a success.
func (s *Store) RecordSuccessfulValidation(id string, reward float64) {
	e := s.get(id)
	if e == nil {
		return
	}
	e.mu.Lock()
	e.score.Current = clamp(e.score.Current+reward, 0, maxScore)
	e.score.TotalValidations++
	e.score.Successful++
	e.score.LastActivity = time.Now()
	e.score.recordHistory()
	e.mu.Unlock()

	s.appendEvent(Event{NodeID: id, Kind: "success", Delta: reward, Timestamp: time.Now()})
}

// RecordFailedValidation logs a failed validation without a score
// change of its own (penalties are applied separately via ApplyPenalty).
func (s *Store) RecordFailedValidation(id string) {
	e := s.get(id)
	if e == nil {
		return
	}
	e.mu.Lock()
	e.score.TotalValidations++
	e.score.Failed++
	e.score.LastActivity = time.Now()
	e.mu.Unlock()
}

// ApplyPenalty applies severity's delta to id's score and, if the
// node's cumulative penalty reaches 50, implicitly unregisters it from
// active validation per spec.md §4.3.
func (s *Store) ApplyPenalty(id string, kind string, severity PenaltySeverity) {
	e := s.get(id)
	if e == nil {
		return
	}
	delta := severity.delta()

	e.mu.Lock()
	e.score.Current = clamp(e.score.Current+delta, 0, maxScore)
	e.score.Penalties += -delta
	e.score.LastActivity = time.Now()
	e.score.recordHistory()
	if e.score.Penalties >= unregisterDebt {
		e.score.Unregistered = true
	}
	e.mu.Unlock()

	s.appendEvent(Event{NodeID: id, Kind: "penalty:" + kind, Delta: delta, Timestamp: time.Now()})
}

// UpdateParticipationRate sets id's participation rate, clamped to
// [0,1].
func (s *Store) UpdateParticipationRate(id string, rate float64) {
	e := s.get(id)
	if e == nil {
		return
	}
	e.mu.Lock()
	e.score.ParticipationRate = clamp(rate, 0, 1)
	e.mu.Unlock()
}

// Get returns a value-copy snapshot of id's score, or false if unknown.
func (s *Store) Get(id string) (NodeScore, bool) {
	e := s.get(id)
	if e == nil {
		return NodeScore{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	cp := e.score
	cp.History = append([]float64(nil), e.score.History...)
	return cp, true
}

// Eligible reports whether id meets the validation eligibility bar.
func (s *Store) Eligible(id string) bool {
	score, ok := s.Get(id)
	return ok && score.Eligible()
}

// GetTop returns the n highest-reputation node ids.
func (s *Store) GetTop(n int) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := sortByReputation(s.scores)
	if n >= 0 && n < len(ids) {
		ids = ids[:n]
	}
	return ids
}

// All returns every registered node id, sorted by descending
// reputation.
func (s *Store) All() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortByReputation(s.scores)
}

// Persist atomically writes the score table and event log.
func (s *Store) Persist() error {
	s.mu.RLock()
	ids := make([]string, 0, len(s.scores))
	for id := range s.scores {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	snap := make(map[string]NodeScore, len(ids))
	for _, id := range ids {
		score, _ := s.Get(id)
		snap[id] = score
	}

	s.mu.RLock()
	events := append([]Event(nil), s.events...)
	s.mu.RUnlock()

	if err := persistence.WriteJSONAtomic(s.nodesPath, snap); err != nil {
		return err
	}
	return persistence.WriteJSONAtomic(s.eventPath, events)
}

// Load restores the score table and event log from disk.
func (s *Store) Load() error {
	var snap map[string]NodeScore
	found, err := persistence.ReadJSON(s.nodesPath, &snap)
	if err != nil {
		return err
	}
	if found {
		s.mu.Lock()
		s.scores = make(map[string]*entry, len(snap))
		for id, v := range snap {
			v := v
			v.ID = id
			s.scores[id] = &entry{score: v}
		}
		s.mu.Unlock()
	}

	var events []Event
	found, err = persistence.ReadJSON(s.eventPath, &events)
	if err != nil {
		return err
	}
	if found {
		s.mu.Lock()
		s.events = events
		s.mu.Unlock()
	}
	return nil
}
