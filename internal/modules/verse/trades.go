package verse

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/neuroswish/verse-indexer/internal/modules/core"
	"github.com/neuroswish/verse-indexer/internal/store"
)

// ErrMissingEntity reports a trade event referencing an entity that does not
// exist in the store. Fatal for the event: no writes are committed.
type ErrMissingEntity struct {
	Entity string
	Key    string
}

func (e ErrMissingEntity) Error() string {
	return fmt.Sprintf("%s %s does not exist", e.Entity, e.Key)
}

// handleBuy processes a Buy event on an exchange contract.
func handleBuy(ctx context.Context, m *VerseModule, event *core.ParsedEvent) error {
	buyer, err := addressArg(event, "buyer")
	if err != nil {
		return err
	}
	tokens, err := bigIntArg(event, "tokens")
	if err != nil {
		return err
	}
	price, err := bigIntArg(event, "price")
	if err != nil {
		return err
	}
	return applyTrade(ctx, m, event, store.TradeBuy, buyer, tokens, price)
}

// handleSell processes a Sell event on an exchange contract.
func handleSell(ctx context.Context, m *VerseModule, event *core.ParsedEvent) error {
	seller, err := addressArg(event, "seller")
	if err != nil {
		return err
	}
	tokens, err := bigIntArg(event, "tokens")
	if err != nil {
		return err
	}
	eth, err := bigIntArg(event, "eth")
	if err != nil {
		return err
	}
	return applyTrade(ctx, m, event, store.TradeSell, seller, tokens, eth)
}

// applyTrade is the shared buy/sell path. Every read, computation, and write
// for the event happens here; the batch commits all-or-nothing at the end.
func applyTrade(ctx context.Context, m *VerseModule, event *core.ParsedEvent, kind store.TradeKind, counterparty string, tokenAmount, ethAmount *big.Int) error {
	exchangeAddress := strings.ToLower(event.Address.Hex())

	batch := store.NewBatch(m.st)

	exchange, factory, err := loadTradeEntities(ctx, m, batch, exchangeAddress)
	if err != nil {
		return err
	}

	if err := ensureUser(ctx, batch, counterparty); err != nil {
		return err
	}

	trade := &store.Trade{
		ID:           tradeID(event),
		Kind:         kind,
		Exchange:     exchangeAddress,
		Counterparty: counterparty,
		BlockNumber:  event.BlockNumber,
		Timestamp:    event.Timestamp,
		TokenAmount:  new(big.Int).Set(tokenAmount),
		EthAmount:    new(big.Int).Set(ethAmount),
	}
	batch.PutTrade(trade)

	// Authoritative reads as of the event's block, never a later one.
	balance, err := m.reader.BalanceOf(ctx, exchangeAddress, counterparty, event.BlockNumber)
	if err != nil {
		return fmt.Errorf("balanceOf read failed: %w", err)
	}
	if _, err := upsertPosition(ctx, batch, exchangeAddress, counterparty, balance); err != nil {
		return err
	}

	poolBalance, err := m.reader.PoolBalance(ctx, exchangeAddress, event.BlockNumber)
	if err != nil {
		return fmt.Errorf("poolBalance read failed: %w", err)
	}
	totalSupply, err := m.reader.TotalSupply(ctx, exchangeAddress, event.BlockNumber)
	if err != nil {
		return fmt.Errorf("totalSupply read failed: %w", err)
	}
	exchange.PoolBalance = poolBalance
	exchange.TotalSupply = totalSupply

	num, den, err := PriceRatio(exchangeAddress, poolBalance, exchange.ReserveRatio, totalSupply, m.protocol.MaxRatioBig())
	if err != nil {
		return err
	}
	exchange.PriceNum = num
	exchange.PriceDen = den

	// Registry running totals.
	factory.TotalVolumeETH.Add(factory.TotalVolumeETH, ethAmount)
	factory.TxCount++
	batch.PutFactory(factory)

	// Protocol-wide day bucket; snapshots the post-increment trade count.
	globalDay, err := upsertGlobalDayData(ctx, batch, factory, event.Timestamp)
	if err != nil {
		return err
	}
	globalDay.VolumeETH.Add(globalDay.VolumeETH, ethAmount)
	batch.PutGlobalDayData(globalDay)

	// Exchange running totals.
	exchange.VolumeETH.Add(exchange.VolumeETH, ethAmount)
	exchange.TxCount++
	batch.PutExchange(exchange)

	// Per-exchange day and hour buckets.
	dayData, err := upsertExchangeDayData(ctx, batch, exchange, event.Timestamp)
	if err != nil {
		return err
	}
	dayData.VolumeETH.Add(dayData.VolumeETH, ethAmount)
	dayData.VolumeToken.Add(dayData.VolumeToken, tokenAmount)
	batch.PutExchangeDayData(dayData)

	hourData, err := upsertExchangeHourData(ctx, batch, exchange, event.Timestamp)
	if err != nil {
		return err
	}
	hourData.VolumeETH.Add(hourData.VolumeETH, ethAmount)
	hourData.VolumeToken.Add(hourData.VolumeToken, tokenAmount)
	batch.PutExchangeHourData(hourData)

	if err := m.st.Apply(ctx, batch); err != nil {
		return err
	}

	if m.publisher != nil {
		m.publisher.EnqueueExchangeChanged(exchangeAddress)
		m.publisher.PublishTrade(trade)
	}

	m.logger.Debug().
		Str("kind", string(kind)).
		Str("exchange", exchangeAddress).
		Str("counterparty", counterparty).
		Str("tokens", tokenAmount.String()).
		Str("eth", ethAmount.String()).
		Msg("Trade recorded")

	return nil
}

// handleRedeem records the redemption and refreshes the redeemer's position.
// Redemption does not move the bonding curve, so no pricing or aggregate
// fields change.
func handleRedeem(ctx context.Context, m *VerseModule, event *core.ParsedEvent) error {
	redeemer, err := addressArg(event, "redeemer")
	if err != nil {
		return err
	}
	exchangeAddress := strings.ToLower(event.Address.Hex())

	batch := store.NewBatch(m.st)

	if _, _, err := loadTradeEntities(ctx, m, batch, exchangeAddress); err != nil {
		return err
	}

	if err := ensureUser(ctx, batch, redeemer); err != nil {
		return err
	}

	trade := &store.Trade{
		ID:           tradeID(event),
		Kind:         store.TradeRedeem,
		Exchange:     exchangeAddress,
		Counterparty: redeemer,
		BlockNumber:  event.BlockNumber,
		Timestamp:    event.Timestamp,
	}
	batch.PutTrade(trade)

	balance, err := m.reader.BalanceOf(ctx, exchangeAddress, redeemer, event.BlockNumber)
	if err != nil {
		return fmt.Errorf("balanceOf read failed: %w", err)
	}
	if _, err := upsertPosition(ctx, batch, exchangeAddress, redeemer, balance); err != nil {
		return err
	}

	if err := m.st.Apply(ctx, batch); err != nil {
		return err
	}

	if m.publisher != nil {
		m.publisher.PublishTrade(trade)
	}

	m.logger.Debug().
		Str("exchange", exchangeAddress).
		Str("redeemer", redeemer).
		Msg("Redemption recorded")

	return nil
}

// loadTradeEntities enforces the trade preconditions: both the exchange and
// its deploying factory must already exist.
func loadTradeEntities(ctx context.Context, m *VerseModule, batch *store.Batch, exchangeAddress string) (*store.Exchange, *store.Factory, error) {
	exchange, err := batch.GetExchange(ctx, exchangeAddress)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, ErrMissingEntity{Entity: "exchange", Key: exchangeAddress}
		}
		return nil, nil, err
	}

	factory, err := batch.GetFactory(ctx, exchange.Deployer)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, ErrMissingEntity{Entity: "factory", Key: exchange.Deployer}
		}
		return nil, nil, err
	}

	return exchange, factory, nil
}
