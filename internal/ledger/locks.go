package ledger

import "sync"

// symbolLocks hands out one mutex per symbol. Entries are never evicted; the
// symbol set is small and fixed.
type symbolLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newSymbolLocks() *symbolLocks {
	return &symbolLocks{locks: make(map[string]*sync.Mutex)}
}

func (s *symbolLocks) lock(symbol string) func() {
	s.mu.Lock()
	m, ok := s.locks[symbol]
	if !ok {
		m = &sync.Mutex{}
		s.locks[symbol] = m
	}
	s.mu.Unlock()

	m.Lock()
	return m.Unlock
}
