package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by every lookup for an absent entity.
var ErrNotFound = errors.New("not found")

// Reader is the read side of the entity store. Implementations return deep
// copies; callers may mutate results freely before staging them in a Batch.
type Reader interface {
	GetFactory(ctx context.Context, address string) (*Factory, error)
	GetExchange(ctx context.Context, address string) (*Exchange, error)
	GetCryptomedia(ctx context.Context, address string) (*Cryptomedia, error)
	GetUser(ctx context.Context, address string) (*User, error)
	GetPosition(ctx context.Context, id string) (*Position, error)
	GetTrade(ctx context.Context, id string) (*Trade, error)
	GetExchangeHourData(ctx context.Context, id string) (*ExchangeHourData, error)
	GetExchangeDayData(ctx context.Context, id string) (*ExchangeDayData, error)
	GetGlobalDayData(ctx context.Context, id string) (*GlobalDayData, error)
	GetModuleCursor(ctx context.Context, module string) (*ModuleCursor, error)
}

// Store is the durable entity store. Apply commits a Batch atomically: either
// every staged save becomes visible or none does.
type Store interface {
	Reader

	Apply(ctx context.Context, batch *Batch) error

	// Secondary lookups by owning exchange. These replace the original
	// schema's embedded key lists so exchanges stay fixed-size.
	TradesByExchange(ctx context.Context, exchange string) ([]*Trade, error)
	PositionsByExchange(ctx context.Context, exchange string) ([]*Position, error)

	Close()
}

// Batch stages one event's writes. Reads fall through to the underlying
// reader when the entity has not been staged yet, so a handler always sees
// its own earlier writes.
type Batch struct {
	src Reader

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
}

// NewBatch creates an empty batch reading through src.
func NewBatch(src Reader) *Batch {
	return &Batch{
		src:          src,
		factories:    make(map[string]*Factory),
		exchanges:    make(map[string]*Exchange),
		cryptomedias: make(map[string]*Cryptomedia),
		users:        make(map[string]*User),
		positions:    make(map[string]*Position),
		trades:       make(map[string]*Trade),
		hourData:     make(map[string]*ExchangeHourData),
		dayData:      make(map[string]*ExchangeDayData),
		globalDays:   make(map[string]*GlobalDayData),
		cursors:      make(map[string]*ModuleCursor),
	}
}

// Len reports the number of staged saves.
func (b *Batch) Len() int {
	return len(b.factories) + len(b.exchanges) + len(b.cryptomedias) +
		len(b.users) + len(b.positions) + len(b.trades) +
		len(b.hourData) + len(b.dayData) + len(b.globalDays) + len(b.cursors)
}

func (b *Batch) GetFactory(ctx context.Context, address string) (*Factory, error) {
	if f, ok := b.factories[address]; ok {
		return f.Clone(), nil
	}
	return b.src.GetFactory(ctx, address)
}

func (b *Batch) PutFactory(f *Factory) { b.factories[f.Address] = f.Clone() }

func (b *Batch) GetExchange(ctx context.Context, address string) (*Exchange, error) {
	if e, ok := b.exchanges[address]; ok {
		return e.Clone(), nil
	}
	return b.src.GetExchange(ctx, address)
}

func (b *Batch) PutExchange(e *Exchange) { b.exchanges[e.Address] = e.Clone() }

func (b *Batch) GetCryptomedia(ctx context.Context, address string) (*Cryptomedia, error) {
	if c, ok := b.cryptomedias[address]; ok {
		return c.Clone(), nil
	}
	return b.src.GetCryptomedia(ctx, address)
}

func (b *Batch) PutCryptomedia(c *Cryptomedia) { b.cryptomedias[c.Address] = c.Clone() }

func (b *Batch) GetUser(ctx context.Context, address string) (*User, error) {
	if u, ok := b.users[address]; ok {
		return u.Clone(), nil
	}
	return b.src.GetUser(ctx, address)
}

func (b *Batch) PutUser(u *User) { b.users[u.Address] = u.Clone() }

func (b *Batch) GetPosition(ctx context.Context, id string) (*Position, error) {
	if p, ok := b.positions[id]; ok {
		return p.Clone(), nil
	}
	return b.src.GetPosition(ctx, id)
}

func (b *Batch) PutPosition(p *Position) { b.positions[p.ID] = p.Clone() }

func (b *Batch) GetTrade(ctx context.Context, id string) (*Trade, error) {
	if t, ok := b.trades[id]; ok {
		return t.Clone(), nil
	}
	return b.src.GetTrade(ctx, id)
}

func (b *Batch) PutTrade(t *Trade) { b.trades[t.ID] = t.Clone() }

func (b *Batch) GetExchangeHourData(ctx context.Context, id string) (*ExchangeHourData, error) {
	if h, ok := b.hourData[id]; ok {
		return h.Clone(), nil
	}
	return b.src.GetExchangeHourData(ctx, id)
}

func (b *Batch) PutExchangeHourData(h *ExchangeHourData) { b.hourData[h.ID] = h.Clone() }

func (b *Batch) GetExchangeDayData(ctx context.Context, id string) (*ExchangeDayData, error) {
	if d, ok := b.dayData[id]; ok {
		return d.Clone(), nil
	}
	return b.src.GetExchangeDayData(ctx, id)
}

func (b *Batch) PutExchangeDayData(d *ExchangeDayData) { b.dayData[d.ID] = d.Clone() }

func (b *Batch) GetGlobalDayData(ctx context.Context, id string) (*GlobalDayData, error) {
	if g, ok := b.globalDays[id]; ok {
		return g.Clone(), nil
	}
	return b.src.GetGlobalDayData(ctx, id)
}

func (b *Batch) PutGlobalDayData(g *GlobalDayData) { b.globalDays[g.ID] = g.Clone() }

func (b *Batch) GetModuleCursor(ctx context.Context, module string) (*ModuleCursor, error) {
	if c, ok := b.cursors[module]; ok {
		return c.Clone(), nil
	}
	return b.src.GetModuleCursor(ctx, module)
}

func (b *Batch) PutModuleCursor(c *ModuleCursor) { b.cursors[c.Module] = c.Clone() }
