package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"crypto-paper-trader/internal/domain"
)

// MemoryStore keeps trades in process. It backs the ledger when no database
// is configured.
type MemoryStore struct {
	mu     sync.RWMutex
	trades map[string]*domain.PaperTrade
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{trades: make(map[string]*domain.PaperTrade)}
}

func (m *MemoryStore) InsertTrade(_ context.Context, trade *domain.PaperTrade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *trade
	m.trades[trade.ID] = &cp
	return nil
}

func (m *MemoryStore) CloseTrade(_ context.Context, trade *domain.PaperTrade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.trades[trade.ID]
	if !ok || !existing.IsOpen() {
		return domain.ErrNoOpenPosition
	}
	cp := *trade
	m.trades[trade.ID] = &cp
	return nil
}

func (m *MemoryStore) GetTrade(_ context.Context, id string) (*domain.PaperTrade, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.trades[id]
	if !ok {
		return nil, domain.ErrNoOpenPosition
	}
	cp := *t
	return &cp, nil
}

func (m *MemoryStore) ListOpenTrades(_ context.Context, symbol string) ([]*domain.PaperTrade, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.PaperTrade
	for _, t := range m.trades {
		if !t.IsOpen() || (symbol != "" && t.Symbol != symbol) {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out, nil
}

func (m *MemoryStore) ListClosedTradesSince(_ context.Context, since time.Time) ([]*domain.PaperTrade, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.PaperTrade
	for _, t := range m.trades {
		if t.IsOpen() || t.ClosedAt == nil || t.ClosedAt.Before(since) {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClosedAt.Before(*out[j].ClosedAt) })
	return out, nil
}

func (m *MemoryStore) SumClosedNetPnL(_ context.Context) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sum := decimal.Zero
	for _, t := range m.trades {
		if !t.IsOpen() && t.NetPnL != nil {
			sum = sum.Add(decimal.NewFromFloat(*t.NetPnL))
		}
	}
	return sum.InexactFloat64(), nil
}
