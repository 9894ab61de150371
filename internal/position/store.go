package position

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"perp-trader/internal/common"
)

// Store is the process-local registry of tracked positions. All mutation
// goes through its methods so the monotonic invariants hold regardless of
// caller mistakes.
type Store struct {
	mu        sync.RWMutex
	positions map[string]*Position
}

func NewStore() *Store {
	return &Store{positions: make(map[string]*Position)}
}

// Track registers a position if it is not already tracked and returns the
// tracked copy. An already-tracked key keeps its existing state; exchange
// snapshots seen on later polls never reset ratchet progress.
func (s *Store) Track(p Position) (Position, error) {
	if err := p.Validate(); err != nil {
		return Position{}, err
	}
	if p.RemainingSize == 0 {
		p.RemainingSize = p.OriginalSize
	}
	if p.RemainingSize > p.OriginalSize {
		return Position{}, fmt.Errorf("%w: remaining size exceeds original", common.ErrInvalidInput)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.positions[p.Key()]; ok {
		return *existing, nil
	}
	cp := p
	s.positions[p.Key()] = &cp
	return cp, nil
}

// Get returns a copy of the tracked position.
func (s *Store) Get(key string) (Position, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.positions[key]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

// All returns copies of every tracked position, ordered by key so a poll
// cycle visits positions deterministically.
func (s *Store) All() []Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Position, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// Len returns the number of tracked positions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.positions)
}

// CommitStopLevel ratchets the stop level after a successful exchange
// update. Lowering the level is silently ignored: the live floor is a
// watermark and never moves backwards.
func (s *Store) CommitStopLevel(key string, level float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[key]
	if !ok {
		return fmt.Errorf("position %s not tracked", key)
	}
	if level > p.StopLevel {
		p.StopLevel = level
	}
	return nil
}

// CommitBreakeven records the one-time break-even stop move.
func (s *Store) CommitBreakeven(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[key]
	if !ok {
		return fmt.Errorf("position %s not tracked", key)
	}
	p.BreakevenSet = true
	return nil
}

// CommitTier records a fired tier and the size it released. The close size
// is clamped so remaining never goes negative. Returns the updated copy.
func (s *Store) CommitTier(key string, tier int, closedSize float64) (Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[key]
	if !ok {
		return Position{}, fmt.Errorf("position %s not tracked", key)
	}
	if p.TierExecuted(tier) {
		return *p, fmt.Errorf("tier %d already executed for %s", tier, key)
	}
	p.ExecutedTiers = append(p.ExecutedTiers, tier)
	p.RemainingSize -= closedSize
	if p.RemainingSize < common.SizeEpsilon {
		p.RemainingSize = 0
	}
	return *p, nil
}

// ObservePnL updates the informational high-water P&L mark.
func (s *Store) ObservePnL(key string, pnlPercent float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.positions[key]; ok && pnlPercent > p.HighestPnL {
		p.HighestPnL = pnlPercent
	}
}

// Retire removes a position from the active set, either because its
// remaining size is exhausted or an external full close was observed.
func (s *Store) Retire(key string) (Position, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[key]
	if !ok {
		return Position{}, false
	}
	delete(s.positions, key)
	return *p, true
}

// Restore seeds a position with previously recorded progress. Used at
// startup to rebuild ratchet state from the event log; the usual
// monotonic checks apply on top of whatever is restored.
func (s *Store) Restore(p Position) error {
	if err := p.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := p
	s.positions[p.Key()] = &cp
	return nil
}
