package store

import (
	"context"
	"sort"
	"sync"
)

// Memory is an in-process Store used by tests and replay runs. Apply holds
// the write lock for the whole batch, so a batch is visible all-or-nothing.
type Memory struct {
	mu sync.RWMutex

	factories    map[string]*Factory
	exchanges    map[string]*Exchange
	cryptomedias map[string]*Cryptomedia
	users        map[string]*User
	positions    map[string]*Position
	trades       map[string]*Trade
	hourData     map[string]*ExchangeHourData
	dayData      map[string]*ExchangeDayData
	globalDays   map[string]*GlobalDayData
	cursors      map[string]*ModuleCursor

	tradesByExchange    map[string][]string
	positionsByExchange map[string][]string
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		factories:           make(map[string]*Factory),
		exchanges:           make(map[string]*Exchange),
		cryptomedias:        make(map[string]*Cryptomedia),
		users:               make(map[string]*User),
		positions:           make(map[string]*Position),
		trades:              make(map[string]*Trade),
		hourData:            make(map[string]*ExchangeHourData),
		dayData:             make(map[string]*ExchangeDayData),
		globalDays:          make(map[string]*GlobalDayData),
		cursors:             make(map[string]*ModuleCursor),
		tradesByExchange:    make(map[string][]string),
		positionsByExchange: make(map[string][]string),
	}
}

func (m *Memory) GetFactory(_ context.Context, address string) (*Factory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if f, ok := m.factories[address]; ok {
		return f.Clone(), nil
	}
	return nil, ErrNotFound
}

func (m *Memory) GetExchange(_ context.Context, address string) (*Exchange, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if e, ok := m.exchanges[address]; ok {
		return e.Clone(), nil
	}
	return nil, ErrNotFound
}

func (m *Memory) GetCryptomedia(_ context.Context, address string) (*Cryptomedia, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.cryptomedias[address]; ok {
		return c.Clone(), nil
	}
	return nil, ErrNotFound
}

func (m *Memory) GetUser(_ context.Context, address string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if u, ok := m.users[address]; ok {
		return u.Clone(), nil
	}
	return nil, ErrNotFound
}

func (m *Memory) GetPosition(_ context.Context, id string) (*Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p, ok := m.positions[id]; ok {
		return p.Clone(), nil
	}
	return nil, ErrNotFound
}

func (m *Memory) GetTrade(_ context.Context, id string) (*Trade, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if t, ok := m.trades[id]; ok {
		return t.Clone(), nil
	}
	return nil, ErrNotFound
}

func (m *Memory) GetExchangeHourData(_ context.Context, id string) (*ExchangeHourData, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if h, ok := m.hourData[id]; ok {
		return h.Clone(), nil
	}
	return nil, ErrNotFound
}

func (m *Memory) GetExchangeDayData(_ context.Context, id string) (*ExchangeDayData, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if d, ok := m.dayData[id]; ok {
		return d.Clone(), nil
	}
	return nil, ErrNotFound
}

func (m *Memory) GetGlobalDayData(_ context.Context, id string) (*GlobalDayData, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if g, ok := m.globalDays[id]; ok {
		return g.Clone(), nil
	}
	return nil, ErrNotFound
}

func (m *Memory) GetModuleCursor(_ context.Context, module string) (*ModuleCursor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.cursors[module]; ok {
		return c.Clone(), nil
	}
	return nil, ErrNotFound
}

// Apply commits every staged entity under a single write lock.
func (m *Memory) Apply(_ context.Context, batch *Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for k, v := range batch.factories {
		m.factories[k] = v.Clone()
	}
	for k, v := range batch.exchanges {
		m.exchanges[k] = v.Clone()
	}
	for k, v := range batch.cryptomedias {
		m.cryptomedias[k] = v.Clone()
	}
	for k, v := range batch.users {
		m.users[k] = v.Clone()
	}
	for k, v := range batch.positions {
		if _, seen := m.positions[k]; !seen {
			m.positionsByExchange[v.Exchange] = append(m.positionsByExchange[v.Exchange], k)
		}
		m.positions[k] = v.Clone()
	}
	for k, v := range batch.trades {
		if _, seen := m.trades[k]; !seen {
			m.tradesByExchange[v.Exchange] = append(m.tradesByExchange[v.Exchange], k)
		}
		m.trades[k] = v.Clone()
	}
	for k, v := range batch.hourData {
		m.hourData[k] = v.Clone()
	}
	for k, v := range batch.dayData {
		m.dayData[k] = v.Clone()
	}
	for k, v := range batch.globalDays {
		m.globalDays[k] = v.Clone()
	}
	for k, v := range batch.cursors {
		m.cursors[k] = v.Clone()
	}
	return nil
}

func (m *Memory) TradesByExchange(_ context.Context, exchange string) ([]*Trade, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := m.tradesByExchange[exchange]
	out := make([]*Trade, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.trades[id].Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BlockNumber != out[j].BlockNumber {
			return out[i].BlockNumber < out[j].BlockNumber
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) PositionsByExchange(_ context.Context, exchange string) ([]*Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := m.positionsByExchange[exchange]
	out := make([]*Position, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.positions[id].Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) Close() {}
