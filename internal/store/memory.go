package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Memory is an in-process Store used by tests and dry runs.
type Memory struct {
	mu      sync.Mutex
	tokens  map[string]*Token
	trades  map[string]*Trade
	wallets map[string]*Wallet
	cfg     *TradingConfig
	now     func() time.Time
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		tokens:  make(map[string]*Token),
		trades:  make(map[string]*Trade),
		wallets: make(map[string]*Wallet),
		now:     time.Now,
	}
}

func copyToken(t *Token) *Token   { c := *t; return &c }
func copyTrade(t *Trade) *Trade   { c := *t; return &c }
func copyWallet(w *Wallet) *Wallet { c := *w; return &c }

func (m *Memory) CreateTokenIfAbsent(_ context.Context, t *Token) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tokens[t.Address]; ok {
		return false, nil
	}
	now := m.now()
	t.CreatedAt = now
	t.UpdatedAt = now
	m.tokens[t.Address] = copyToken(t)
	return true, nil
}

func (m *Memory) GetToken(_ context.Context, address string) (*Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tokens[address]
	if !ok {
		return nil, ErrNotFound
	}
	return copyToken(t), nil
}

func (m *Memory) UpdateToken(_ context.Context, t *Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tokens[t.Address]; !ok {
		return ErrNotFound
	}
	t.UpdatedAt = m.now()
	m.tokens[t.Address] = copyToken(t)
	return nil
}

func (m *Memory) ListTokensByStatus(_ context.Context, status TokenStatus) ([]*Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Token
	for _, t := range m.tokens {
		if t.Status == status {
			out = append(out, copyToken(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) PurgeTokensBefore(_ context.Context, cutoff time.Time, statuses []TokenStatus) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	matches := func(s TokenStatus) bool {
		for _, c := range statuses {
			if c == s {
				return true
			}
		}
		return false
	}

	var n int64
	for addr, t := range m.tokens {
		if t.UpdatedAt.Before(cutoff) && matches(t.Status) {
			delete(m.tokens, addr)
			n++
		}
	}
	return n, nil
}

func (m *Memory) CreateTrade(_ context.Context, tr *Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.trades[tr.ID]; ok {
		return ErrDuplicateKey
	}
	now := m.now()
	tr.CreatedAt = now
	tr.UpdatedAt = now
	m.trades[tr.ID] = copyTrade(tr)
	return nil
}

func (m *Memory) GetTrade(_ context.Context, id string) (*Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tr, ok := m.trades[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyTrade(tr), nil
}

// OpenTradeForToken returns the BOUGHT trade for a token, if any.
func (m *Memory) OpenTradeForToken(_ context.Context, tokenAddress string) (*Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, tr := range m.trades {
		if tr.TokenAddress == tokenAddress && tr.Status == TradeBought {
			return copyTrade(tr), nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) UpdateTrade(_ context.Context, tr *Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.trades[tr.ID]; !ok {
		return ErrNotFound
	}
	tr.UpdatedAt = m.now()
	m.trades[tr.ID] = copyTrade(tr)
	return nil
}

func (m *Memory) ListTradesByStatus(_ context.Context, status TradeStatus) ([]*Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Trade
	for _, tr := range m.trades {
		if tr.Status == status {
			out = append(out, copyTrade(tr))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) CountTradesByStatus(_ context.Context, status TradeStatus) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, tr := range m.trades {
		if tr.Status == status {
			n++
		}
	}
	return n, nil
}

func (m *Memory) SumBuyAmountByStatus(_ context.Context, status TradeStatus) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sum := decimal.Zero
	for _, tr := range m.trades {
		if tr.Status == status {
			sum = sum.Add(tr.BuyAmount)
		}
	}
	return sum, nil
}

func (m *Memory) PurgeTradesBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for id, tr := range m.trades {
		if tr.Status == TradeSold && tr.ClosedAt != nil && tr.ClosedAt.Before(cutoff) {
			delete(m.trades, id)
			n++
		}
	}
	return n, nil
}

func (m *Memory) GetOrCreateTradingConfig(_ context.Context) (*TradingConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cfg == nil {
		cfg := DefaultTradingConfig()
		cfg.UpdatedAt = m.now()
		m.cfg = &cfg
	}
	c := *m.cfg
	return &c, nil
}

func (m *Memory) SaveTradingConfig(_ context.Context, cfg *TradingConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := *cfg
	c.UpdatedAt = m.now()
	m.cfg = &c
	return nil
}

func (m *Memory) GetWallet(_ context.Context, address string) (*Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.wallets[address]
	if !ok {
		return nil, ErrNotFound
	}
	return copyWallet(w), nil
}

func (m *Memory) SaveWallet(_ context.Context, w *Wallet) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.wallets[w.Address] = copyWallet(w)
	return nil
}
