package store

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memExchange(address string) *Exchange {
	return &Exchange{
		Address:      address,
		Deployer:     "0xf1",
		Creator:      "0xc1",
		PoolBalance:  big.NewInt(1000),
		TotalSupply:  big.NewInt(100),
		ReserveRatio: big.NewInt(333333),
		VolumeETH:    big.NewInt(0),
	}
}

func TestMemoryNotFound(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()

	_, err := mem.GetExchange(ctx, "0xmissing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = mem.GetFactory(ctx, "0xmissing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = mem.GetTrade(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = mem.GetModuleCursor(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBatchReadsOwnWrites(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()

	batch := NewBatch(mem)
	batch.PutExchange(memExchange("0xe1"))

	// Staged entity is visible through the batch but not the store.
	staged, err := batch.GetExchange(ctx, "0xe1")
	require.NoError(t, err)
	assert.Equal(t, "0xe1", staged.Address)

	_, err = mem.GetExchange(ctx, "0xe1")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, mem.Apply(ctx, batch))
	committed, err := mem.GetExchange(ctx, "0xe1")
	require.NoError(t, err)
	assert.Equal(t, "1000", committed.PoolBalance.String())
}

func TestBatchLen(t *testing.T) {
	mem := NewMemory()
	batch := NewBatch(mem)
	assert.Equal(t, 0, batch.Len())

	batch.PutExchange(memExchange("0xe1"))
	batch.PutExchange(memExchange("0xe1"))
	batch.PutUser(&User{Address: "0xb1"})
	assert.Equal(t, 2, batch.Len())
}

func TestCloneIsolation(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()

	original := memExchange("0xe1")
	batch := NewBatch(mem)
	batch.PutExchange(original)

	// Mutating the caller's copy after Put does not leak into the batch.
	original.PoolBalance.SetInt64(9999)
	staged, err := batch.GetExchange(ctx, "0xe1")
	require.NoError(t, err)
	assert.Equal(t, "1000", staged.PoolBalance.String())

	require.NoError(t, mem.Apply(ctx, batch))

	// Mutating a read result does not leak into the store.
	got, err := mem.GetExchange(ctx, "0xe1")
	require.NoError(t, err)
	got.PoolBalance.SetInt64(7)
	got.TxCount = 42

	again, err := mem.GetExchange(ctx, "0xe1")
	require.NoError(t, err)
	assert.Equal(t, "1000", again.PoolBalance.String())
	assert.Equal(t, uint64(0), again.TxCount)
}

func TestTradesByExchangeOrdering(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()

	batch := NewBatch(mem)
	batch.PutTrade(&Trade{ID: "0xb-1", Kind: TradeSell, Exchange: "0xe1", Counterparty: "0xb1", BlockNumber: 20})
	batch.PutTrade(&Trade{ID: "0xa-0", Kind: TradeBuy, Exchange: "0xe1", Counterparty: "0xb1", BlockNumber: 10})
	batch.PutTrade(&Trade{ID: "0xc-0", Kind: TradeBuy, Exchange: "0xe2", Counterparty: "0xb2", BlockNumber: 5})
	require.NoError(t, mem.Apply(ctx, batch))

	trades, err := mem.TradesByExchange(ctx, "0xe1")
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, "0xa-0", trades[0].ID)
	assert.Equal(t, "0xb-1", trades[1].ID)

	trades, err = mem.TradesByExchange(ctx, "0xe2")
	require.NoError(t, err)
	require.Len(t, trades, 1)

	trades, err = mem.TradesByExchange(ctx, "0xe3")
	require.NoError(t, err)
	assert.Empty(t, trades)
}

func TestPositionOverwriteDoesNotDuplicateIndex(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()

	batch := NewBatch(mem)
	batch.PutPosition(&Position{ID: "0xe1-0xb1", Exchange: "0xe1", User: "0xb1", Balance: big.NewInt(100)})
	require.NoError(t, mem.Apply(ctx, batch))

	batch = NewBatch(mem)
	batch.PutPosition(&Position{ID: "0xe1-0xb1", Exchange: "0xe1", User: "0xb1", Balance: big.NewInt(40)})
	require.NoError(t, mem.Apply(ctx, batch))

	positions, err := mem.PositionsByExchange(ctx, "0xe1")
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, "40", positions[0].Balance.String())
}

func TestCursorRoundTrip(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()

	batch := NewBatch(mem)
	batch.PutModuleCursor(&ModuleCursor{Module: "verse", Version: "1.0.0", LastProcessedBlock: 9000123})
	require.NoError(t, mem.Apply(ctx, batch))

	cursor, err := mem.GetModuleCursor(ctx, "verse")
	require.NoError(t, err)
	assert.Equal(t, uint64(9000123), cursor.LastProcessedBlock)
}
