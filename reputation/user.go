package reputation

import (
	"sync"
	"time"

	"github.com/playergold/node/persistence"
)

const (
	defaultBurnMultiplier = 10.0
	defaultMaxUserScore   = 1000.0
)

// priorityThresholds is the reputation-interface's detailed per-level
// table, chosen as canonical per spec.md §9's Open Question (the
// original has two divergent tables; DESIGN.md records this decision).
var priorityThresholds = [5]float64{0, 75, 150, 300, 500}

// UserScore is the UserReputation record of spec.md §3.
type UserScore struct {
	Current         float64   `json:"current"`
	TokensBurned    float64   `json:"tokens_burned"`
	VoluntaryBurns  int       `json:"voluntary_burns"`
	TransactionCnt  int       `json:"transaction_count"`
	PriorityLevel   int       `json:"priority_level"`
	LastActivity    time.Time `json:"last_activity"`
}

func newUserScore() UserScore {
	return UserScore{PriorityLevel: 1}
}

// PriorityLevelFor maps a current score to the 1..5 priority level
// using priorityThresholds.
func PriorityLevelFor(current float64) int {
	level := 1
	for i, t := range priorityThresholds {
		if current >= t {
			level = i + 1
		}
	}
	return level
}

type userEntry struct {
	mu    sync.Mutex
	score UserScore
}

// UserStore tracks per-user reputation, separate from the node score
// table but sharing its persistence and concurrency conventions.
type UserStore struct {
	mu            sync.RWMutex
	users         map[string]*userEntry
	burnMultiplier float64
	maxScore      float64
	path          string
}

func NewUserStore(path string) *UserStore {
	return &UserStore{
		users:          make(map[string]*userEntry),
		burnMultiplier: defaultBurnMultiplier,
		maxScore:       defaultMaxUserScore,
		path:           path,
	}
}

func (s *UserStore) getOrCreate(addr string) *userEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.users[addr]
	if !ok {
		e = &userEntry{score: newUserScore()}
		s.users[addr] = e
	}
	return e
}

// RecordBurn applies a voluntary burn of amount from addr, raising its
// reputation by amount*burn_multiplier clamped to max, per spec.md §3.
func (s *UserStore) RecordBurn(addr string, amount float64) UserScore {
	e := s.getOrCreate(addr)
	e.mu.Lock()
	defer e.mu.Unlock()

	e.score.TokensBurned += amount
	e.score.VoluntaryBurns++
	e.score.Current = clamp(e.score.Current+amount*s.burnMultiplier, 0, s.maxScore)
	e.score.PriorityLevel = PriorityLevelFor(e.score.Current)
	e.score.LastActivity = time.Now()
	return e.score
}

// RecordTransaction increments addr's transaction counter.
func (s *UserStore) RecordTransaction(addr string) {
	e := s.getOrCreate(addr)
	e.mu.Lock()
	e.score.TransactionCnt++
	e.score.LastActivity = time.Now()
	e.mu.Unlock()
}

// Get returns a snapshot of addr's user reputation.
func (s *UserStore) Get(addr string) (UserScore, bool) {
	s.mu.RLock()
	e, ok := s.users[addr]
	s.mu.RUnlock()
	if !ok {
		return UserScore{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.score, true
}

// Persist atomically writes the user reputation table.
func (s *UserStore) Persist() error {
	s.mu.RLock()
	addrs := make([]string, 0, len(s.users))
	for a := range s.users {
		addrs = append(addrs, a)
	}
	s.mu.RUnlock()

	snap := make(map[string]UserScore, len(addrs))
	for _, a := range addrs {
		score, _ := s.Get(a)
		snap[a] = score
	}
	return persistence.WriteJSONAtomic(s.path, snap)
}

// Load restores the user reputation table from disk.
func (s *UserStore) Load() error {
	var snap map[string]UserScore
	found, err := persistence.ReadJSON(s.path, &snap)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	s.mu.Lock()
	s.users = make(map[string]*userEntry, len(snap))
	for addr, v := range snap {
		s.users[addr] = &userEntry{score: v}
	}
	s.mu.Unlock()
	return nil
}
