package verse

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neuroswish/verse-indexer/internal/store"
)

func testExchange() *store.Exchange {
	return &store.Exchange{
		Address:      "0xe1",
		Deployer:     "0xf1",
		Creator:      "0xc1",
		PoolBalance:  big.NewInt(1000),
		TotalSupply:  big.NewInt(100),
		ReserveRatio: big.NewInt(333333),
		PriceNum:     big.NewInt(1000000000),
		PriceDen:     big.NewInt(33333300),
		VolumeETH:    big.NewInt(0),
	}
}

func TestBucketIDDerivation(t *testing.T) {
	assert.Equal(t, "0xe1-0", dayBucketID("0xe1", 0))
	assert.Equal(t, "0xe1-0", dayBucketID("0xe1", 86399))
	assert.Equal(t, "0xe1-1", dayBucketID("0xe1", 86400))
	assert.Equal(t, "0xe1-1", dayBucketID("0xe1", 172799))
	assert.Equal(t, "0xe1-2", dayBucketID("0xe1", 172800))

	assert.Equal(t, "0xe1-0", hourBucketID("0xe1", 100))
	assert.Equal(t, "0xe1-1", hourBucketID("0xe1", 3700))
	assert.Equal(t, "0xe1-1", hourBucketID("0xe1", 7199))

	assert.Equal(t, "0", globalDayID(86399))
	assert.Equal(t, "1", globalDayID(86400))
}

func TestHourBucketCreateAndIncrement(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	exchange := testExchange()

	batch := store.NewBatch(mem)
	hourData, err := upsertExchangeHourData(ctx, batch, exchange, 100)
	require.NoError(t, err)

	assert.Equal(t, "0xe1-0", hourData.ID)
	assert.Equal(t, int64(0), hourData.HourStartUnix)
	assert.Equal(t, uint64(1), hourData.TxCount)
	assert.Equal(t, "100", hourData.TotalSupply.String())
	assert.Equal(t, "1000000000", hourData.PriceNum.String())
	require.NoError(t, mem.Apply(ctx, batch))

	// Second trade in the same hour reuses the bucket.
	batch = store.NewBatch(mem)
	hourData, err = upsertExchangeHourData(ctx, batch, exchange, 3599)
	require.NoError(t, err)
	assert.Equal(t, "0xe1-0", hourData.ID)
	assert.Equal(t, uint64(2), hourData.TxCount)
}

func TestHourBucketSnapshotRefresh(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	exchange := testExchange()

	batch := store.NewBatch(mem)
	_, err := upsertExchangeHourData(ctx, batch, exchange, 100)
	require.NoError(t, err)
	require.NoError(t, mem.Apply(ctx, batch))

	exchange.TotalSupply = big.NewInt(250)
	exchange.PriceNum = big.NewInt(5000000000)

	batch = store.NewBatch(mem)
	hourData, err := upsertExchangeHourData(ctx, batch, exchange, 200)
	require.NoError(t, err)

	// Snapshot holds last-observed values, not the creation-time ones.
	assert.Equal(t, "250", hourData.TotalSupply.String())
	assert.Equal(t, "5000000000", hourData.PriceNum.String())
}

func TestDayBucketBoundary(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	exchange := testExchange()

	batch := store.NewBatch(mem)
	d0, err := upsertExchangeDayData(ctx, batch, exchange, 86399)
	require.NoError(t, err)
	d1, err := upsertExchangeDayData(ctx, batch, exchange, 86400)
	require.NoError(t, err)

	assert.NotEqual(t, d0.ID, d1.ID)
	assert.Equal(t, int64(0), d0.Date)
	assert.Equal(t, int64(86400), d1.Date)

	d1again, err := upsertExchangeDayData(ctx, batch, exchange, 172799)
	require.NoError(t, err)
	assert.Equal(t, d1.ID, d1again.ID)
	assert.Equal(t, uint64(2), d1again.TxCount)
}

func TestDayBucketIdempotentKey(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	exchange := testExchange()

	batch := store.NewBatch(mem)
	first, err := upsertExchangeDayData(ctx, batch, exchange, 1000)
	require.NoError(t, err)
	require.NoError(t, mem.Apply(ctx, batch))

	batch = store.NewBatch(mem)
	second, err := upsertExchangeDayData(ctx, batch, exchange, 2000)
	require.NoError(t, err)
	require.NoError(t, mem.Apply(ctx, batch))

	// Same window resolves to the same entity, no duplicate created.
	assert.Equal(t, first.ID, second.ID)
	got, err := mem.GetExchangeDayData(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), got.TxCount)
}

func TestGlobalDayBucketSnapshotsFactoryTxCount(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	factory := &store.Factory{
		Address:        "0xf1",
		TxCount:        7,
		TotalVolumeETH: big.NewInt(0),
	}

	batch := store.NewBatch(mem)
	globalDay, err := upsertGlobalDayData(ctx, batch, factory, 100)
	require.NoError(t, err)

	assert.Equal(t, "0", globalDay.ID)
	assert.Equal(t, int64(0), globalDay.Date)
	assert.Equal(t, uint64(7), globalDay.TxCount)

	factory.TxCount = 8
	globalDay, err = upsertGlobalDayData(ctx, batch, factory, 200)
	require.NoError(t, err)
	assert.Equal(t, uint64(8), globalDay.TxCount)
}
