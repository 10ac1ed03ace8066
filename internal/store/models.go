package store

import (
	"math/big"
)

// Factory is the global registry singleton, keyed by the factory contract
// address. It exists from the first PairCreated event onward and accumulates
// protocol-wide totals.
type Factory struct {
	Address        string
	PairCount      uint64
	TxCount        uint64
	TotalVolumeETH *big.Int
}

func (f *Factory) Clone() *Factory {
	c := *f
	c.TotalVolumeETH = cloneBig(f.TotalVolumeETH)
	return &c
}

// Exchange is the per-contract bonding curve state. The reserve ratio is
// fixed at creation and never changes. The token price is kept as an exact
// numerator/denominator pair; division happens only at read time.
type Exchange struct {
	Address            string
	Deployer           string
	Creator            string
	PoolBalance        *big.Int
	TotalSupply        *big.Int
	ReserveRatio       *big.Int // parts-per-million of MaxRatio
	PriceNum           *big.Int
	PriceDen           *big.Int
	TxCount            uint64
	VolumeETH          *big.Int
	CreatedAtBlock     uint64
	CreatedAtTimestamp int64
}

func (e *Exchange) Clone() *Exchange {
	c := *e
	c.PoolBalance = cloneBig(e.PoolBalance)
	c.TotalSupply = cloneBig(e.TotalSupply)
	c.ReserveRatio = cloneBig(e.ReserveRatio)
	c.PriceNum = cloneBig(e.PriceNum)
	c.PriceDen = cloneBig(e.PriceDen)
	c.VolumeETH = cloneBig(e.VolumeETH)
	return &c
}

// TokenPrice materializes the stored rational price. The second return is
// false while the price is undefined (no trades yet, denominator zero).
func (e *Exchange) TokenPrice() (*big.Rat, bool) {
	if e.PriceNum == nil || e.PriceDen == nil || e.PriceDen.Sign() == 0 {
		return nil, false
	}
	return new(big.Rat).SetFrac(e.PriceNum, e.PriceDen), true
}

// MarketCap is price * totalSupply, derived at read time.
func (e *Exchange) MarketCap() (*big.Rat, bool) {
	price, ok := e.TokenPrice()
	if !ok {
		return nil, false
	}
	return price.Mul(price, new(big.Rat).SetInt(e.TotalSupply)), true
}

// Cryptomedia is the media contract paired with an exchange at creation.
// Immutable after creation.
type Cryptomedia struct {
	Address            string
	Deployer           string
	Creator            string
	CreatedAtBlock     uint64
	CreatedAtTimestamp int64
}

func (c *Cryptomedia) Clone() *Cryptomedia {
	cc := *c
	return &cc
}

// User exists from a wallet's first buy/sell/redeem.
type User struct {
	Address string
}

func (u *User) Clone() *User {
	c := *u
	return &c
}

// Position is one user's token balance at one exchange. The balance is the
// authoritative on-chain read at event time, never a locally summed delta.
type Position struct {
	ID       string // <exchange>-<user>
	Exchange string
	User     string
	Balance  *big.Int
}

func (p *Position) Clone() *Position {
	c := *p
	c.Balance = cloneBig(p.Balance)
	return &c
}

// TradeKind discriminates trade records.
type TradeKind string

const (
	TradeBuy    TradeKind = "buy"
	TradeSell   TradeKind = "sell"
	TradeRedeem TradeKind = "redeem"
)

// Trade is an immutable per-event record, keyed <txHash>-<logIndex>.
// TokenAmount and EthAmount are nil for redemptions.
type Trade struct {
	ID           string
	Kind         TradeKind
	Exchange     string
	Counterparty string
	BlockNumber  uint64
	Timestamp    int64
	TokenAmount  *big.Int
	EthAmount    *big.Int
}

func (t *Trade) Clone() *Trade {
	c := *t
	c.TokenAmount = cloneBig(t.TokenAmount)
	c.EthAmount = cloneBig(t.EthAmount)
	return &c
}

// ExchangeHourData accumulates one exchange's trading activity for one hour
// window. Snapshot fields (TotalSupply, PriceNum, PriceDen) hold the
// last-observed exchange values for the window, not an average.
type ExchangeHourData struct {
	ID            string // <exchange>-<hourIndex>
	Exchange      string
	HourStartUnix int64
	VolumeETH     *big.Int
	VolumeToken   *big.Int
	TxCount       uint64
	TotalSupply   *big.Int
	PriceNum      *big.Int
	PriceDen      *big.Int
}

func (h *ExchangeHourData) Clone() *ExchangeHourData {
	c := *h
	c.VolumeETH = cloneBig(h.VolumeETH)
	c.VolumeToken = cloneBig(h.VolumeToken)
	c.TotalSupply = cloneBig(h.TotalSupply)
	c.PriceNum = cloneBig(h.PriceNum)
	c.PriceDen = cloneBig(h.PriceDen)
	return &c
}

// ExchangeDayData is the daily counterpart of ExchangeHourData.
type ExchangeDayData struct {
	ID          string // <exchange>-<dayIndex>
	Exchange    string
	Date        int64 // day start, unix seconds
	VolumeETH   *big.Int
	VolumeToken *big.Int
	TxCount     uint64
	TotalSupply *big.Int
	PriceNum    *big.Int
	PriceDen    *big.Int
}

func (d *ExchangeDayData) Clone() *ExchangeDayData {
	c := *d
	c.VolumeETH = cloneBig(d.VolumeETH)
	c.VolumeToken = cloneBig(d.VolumeToken)
	c.TotalSupply = cloneBig(d.TotalSupply)
	c.PriceNum = cloneBig(d.PriceNum)
	c.PriceDen = cloneBig(d.PriceDen)
	return &c
}

// GlobalDayData accumulates protocol-wide daily volume. TxCount mirrors the
// factory's running total as of the last trade of the day.
type GlobalDayData struct {
	ID        string // <dayIndex>
	Date      int64
	VolumeETH *big.Int
	TxCount   uint64
}

func (g *GlobalDayData) Clone() *GlobalDayData {
	c := *g
	c.VolumeETH = cloneBig(g.VolumeETH)
	return &c
}

// ModuleCursor tracks the last block a module has fully processed. It is
// written in the same batch as the module's entity mutations so redelivery
// after a crash observes a consistent cut.
type ModuleCursor struct {
	Module             string
	Version            string
	LastProcessedBlock uint64
}

func (m *ModuleCursor) Clone() *ModuleCursor {
	c := *m
	return &c
}

func cloneBig(x *big.Int) *big.Int {
	if x == nil {
		return nil
	}
	return new(big.Int).Set(x)
}
