package verse

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/neuroswish/verse-indexer/internal/store"
)

const (
	hourSeconds = 3600
	daySeconds  = 86400
)

// hourBucketID derives the deterministic hour bucket key for an exchange.
// Two timestamps in the same hour window always resolve to the same key.
func hourBucketID(exchange string, timestamp int64) string {
	return fmt.Sprintf("%s-%d", exchange, timestamp/hourSeconds)
}

// dayBucketID derives the deterministic day bucket key for an exchange.
func dayBucketID(exchange string, timestamp int64) string {
	return fmt.Sprintf("%s-%d", exchange, timestamp/daySeconds)
}

// globalDayID derives the protocol-wide day bucket key.
func globalDayID(timestamp int64) string {
	return fmt.Sprintf("%d", timestamp/daySeconds)
}

// upsertExchangeHourData loads or creates the hour bucket for the event's
// timestamp, refreshes its supply/price snapshot from the exchange's latest
// values, and increments its trade count. The caller adds the volumes.
func upsertExchangeHourData(ctx context.Context, batch *store.Batch, exchange *store.Exchange, timestamp int64) (*store.ExchangeHourData, error) {
	hourIndex := timestamp / hourSeconds
	id := hourBucketID(exchange.Address, timestamp)

	hourData, err := batch.GetExchangeHourData(ctx, id)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		hourData = &store.ExchangeHourData{
			ID:            id,
			Exchange:      exchange.Address,
			HourStartUnix: hourIndex * hourSeconds,
			VolumeETH:     big.NewInt(0),
			VolumeToken:   big.NewInt(0),
		}
	}

	hourData.TotalSupply = cloneOrZero(exchange.TotalSupply)
	hourData.PriceNum = cloneOrZero(exchange.PriceNum)
	hourData.PriceDen = cloneOrZero(exchange.PriceDen)
	hourData.TxCount++

	batch.PutExchangeHourData(hourData)
	return hourData, nil
}

// upsertExchangeDayData is the daily counterpart of upsertExchangeHourData.
func upsertExchangeDayData(ctx context.Context, batch *store.Batch, exchange *store.Exchange, timestamp int64) (*store.ExchangeDayData, error) {
	dayIndex := timestamp / daySeconds
	id := dayBucketID(exchange.Address, timestamp)

	dayData, err := batch.GetExchangeDayData(ctx, id)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		dayData = &store.ExchangeDayData{
			ID:          id,
			Exchange:    exchange.Address,
			Date:        dayIndex * daySeconds,
			VolumeETH:   big.NewInt(0),
			VolumeToken: big.NewInt(0),
		}
	}

	dayData.TotalSupply = cloneOrZero(exchange.TotalSupply)
	dayData.PriceNum = cloneOrZero(exchange.PriceNum)
	dayData.PriceDen = cloneOrZero(exchange.PriceDen)
	dayData.TxCount++

	batch.PutExchangeDayData(dayData)
	return dayData, nil
}

// upsertGlobalDayData loads or creates the protocol-wide day bucket and
// snapshots the factory's running trade count into it. The caller adds the
// ETH volume.
func upsertGlobalDayData(ctx context.Context, batch *store.Batch, factory *store.Factory, timestamp int64) (*store.GlobalDayData, error) {
	dayIndex := timestamp / daySeconds
	id := globalDayID(timestamp)

	globalDay, err := batch.GetGlobalDayData(ctx, id)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		globalDay = &store.GlobalDayData{
			ID:        id,
			Date:      dayIndex * daySeconds,
			VolumeETH: big.NewInt(0),
		}
	}

	globalDay.TxCount = factory.TxCount

	batch.PutGlobalDayData(globalDay)
	return globalDay, nil
}

func cloneOrZero(x *big.Int) *big.Int {
	if x == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(x)
}
