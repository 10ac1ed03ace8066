package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/centrifugal/gocent/v3"
	"github.com/rs/zerolog"

	"github.com/neuroswish/verse-indexer/internal/store"
)

// Publisher pushes exchange state changes to Centrifugo so API clients see
// price movement without polling. Updates are coalesced per exchange and
// flushed on a short ticker.
type Publisher struct {
	gc           *gocent.Client
	st           store.Reader
	logger       zerolog.Logger
	mu           sync.Mutex
	pending      map[string]struct{}
	flushCh      chan struct{}
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	currentBlock uint64
}

type PublishConfig struct {
	APIURL string
	APIKey string
}

func NewPublisher(config PublishConfig, st store.Reader, logger zerolog.Logger) *Publisher {
	ctx, cancel := context.WithCancel(context.Background())

	p := &Publisher{
		gc: gocent.New(gocent.Config{
			Addr: config.APIURL,
			Key:  config.APIKey,
		}),
		st:      st,
		logger:  logger.With().Str("component", "realtime-publisher").Logger(),
		pending: make(map[string]struct{}),
		flushCh: make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
	}

	p.startFlusher()
	return p
}

func (p *Publisher) startFlusher() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(250 * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-p.ctx.Done():
				p.logger.Info().Msg("Stopping publisher flusher")
				return
			case <-ticker.C:
				p.flush(p.ctx)
			case <-p.flushCh:
				p.flush(p.ctx)
			}
		}
	}()
}

// EnqueueExchangeChanged marks an exchange as dirty for the next flush.
func (p *Publisher) EnqueueExchangeChanged(address string) {
	addr := strings.ToLower(address)
	p.mu.Lock()
	p.pending[addr] = struct{}{}
	p.mu.Unlock()

	select {
	case p.flushCh <- struct{}{}:
	default:
	}
}

// PublishTrade pushes an individual trade record to the exchange's channel.
func (p *Publisher) PublishTrade(trade *store.Trade) {
	payload := map[string]any{
		"type":  "exchange.trade",
		"trade": tradePayload(trade),
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		p.logger.Warn().Err(err).Msg("Failed to marshal trade payload")
		return
	}

	channel := fmt.Sprintf("verse.exchange.%s", strings.ToLower(trade.Exchange))

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if _, err := p.gc.Publish(p.ctx, channel, payloadBytes); err != nil {
			if p.ctx.Err() != nil {
				return
			}
			p.logger.Warn().
				Err(err).
				Str("exchange", trade.Exchange).
				Str("channel", channel).
				Msg("Failed to publish trade event")
		}
	}()
}

func (p *Publisher) SetCurrentBlock(blockNumber uint64) {
	p.mu.Lock()
	p.currentBlock = blockNumber
	p.mu.Unlock()
}

func (p *Publisher) Flush() {
	p.flush(p.ctx)
}

func (p *Publisher) flush(ctx context.Context) {
	p.mu.Lock()
	if len(p.pending) == 0 {
		p.mu.Unlock()
		return
	}

	addrs := make([]string, 0, len(p.pending))
	for addr := range p.pending {
		addrs = append(addrs, addr)
	}
	currentBlock := p.currentBlock
	p.pending = make(map[string]struct{})
	p.mu.Unlock()

	now := time.Now().UTC()
	timestamp := now.Unix()

	items := make([]any, 0, len(addrs))
	for _, addr := range addrs {
		exchange, err := p.st.GetExchange(ctx, addr)
		if err != nil {
			p.logger.Warn().Err(err).Str("exchange", addr).Msg("Failed to load exchange for publish")
			continue
		}

		summary := exchangePayload(exchange)
		items = append(items, summary)

		payload := map[string]any{
			"type":         "exchange.update",
			"block_number": currentBlock,
			"ts":           timestamp,
			"exchange":     summary,
		}

		payloadBytes, err := json.Marshal(payload)
		if err != nil {
			p.logger.Warn().Err(err).Msg("Failed to marshal exchange payload")
			continue
		}

		channel := fmt.Sprintf("verse.exchange.%s", addr)
		if _, err := p.gc.Publish(ctx, channel, payloadBytes); err != nil {
			p.logger.Warn().
				Err(err).
				Str("exchange", addr).
				Str("channel", channel).
				Msg("Failed to publish exchange update")
		}
	}

	if len(items) == 0 {
		return
	}

	batchPayload := map[string]any{
		"type":         "exchange.batch",
		"block_number": currentBlock,
		"ts":           timestamp,
		"items":        items,
	}

	batchPayloadBytes, err := json.Marshal(batchPayload)
	if err != nil {
		p.logger.Warn().Err(err).Msg("Failed to marshal batch payload")
		return
	}

	if _, err := p.gc.Publish(ctx, "verse.exchanges", batchPayloadBytes); err != nil {
		p.logger.Warn().Err(err).Msg("Failed to publish batch update")
	} else {
		p.logger.Debug().
			Int("count", len(items)).
			Uint64("block", currentBlock).
			Msg("Published batch update")
	}
}

func exchangePayload(e *store.Exchange) map[string]any {
	payload := map[string]any{
		"address":      e.Address,
		"creator":      e.Creator,
		"pool_balance": e.PoolBalance.String(),
		"total_supply": e.TotalSupply.String(),
		"tx_count":     e.TxCount,
		"volume_eth":   e.VolumeETH.String(),
	}
	if price, ok := e.TokenPrice(); ok {
		payload["token_price"] = price.FloatString(18)
	}
	if marketCap, ok := e.MarketCap(); ok {
		payload["market_cap"] = marketCap.FloatString(18)
	}
	return payload
}

func tradePayload(t *store.Trade) map[string]any {
	payload := map[string]any{
		"id":           t.ID,
		"kind":         string(t.Kind),
		"exchange":     t.Exchange,
		"counterparty": t.Counterparty,
		"block_number": t.BlockNumber,
		"timestamp":    t.Timestamp,
	}
	if t.TokenAmount != nil {
		payload["token_amount"] = t.TokenAmount.String()
	}
	if t.EthAmount != nil {
		payload["eth_amount"] = t.EthAmount.String()
	}
	return payload
}

func (p *Publisher) Close() error {
	p.logger.Info().Msg("Closing publisher")
	p.cancel()
	p.wg.Wait()
	return nil
}
