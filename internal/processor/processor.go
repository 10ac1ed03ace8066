package processor

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"

	"github.com/neuroswish/verse-indexer/internal/config"
	"github.com/neuroswish/verse-indexer/internal/modules/core"
	"github.com/neuroswish/verse-indexer/internal/store"
)

// cursorName is the pipeline's own progress marker in module_cursors.
const cursorName = "event_processor"

// BlockObserver is told the latest fully processed block. The realtime
// publisher uses it to stamp outgoing payloads.
type BlockObserver interface {
	SetCurrentBlock(blockNumber uint64)
}

const maxConsecutiveErrors = 10

// Processor drives the single-writer event loop: it polls the chain for new
// logs, orders them by (block, transaction, log index), and feeds them to the
// module registry one at a time. Event N+1 never starts before event N's
// writes are durable.
type Processor struct {
	cfg      *config.Config
	client   *ethclient.Client
	registry *core.ModuleRegistry
	st       store.Store
	logger   zerolog.Logger
	observer BlockObserver

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a processor over its own RPC connection.
func New(cfg *config.Config, st store.Store, registry *core.ModuleRegistry, logger zerolog.Logger) (*Processor, error) {
	client, err := ethclient.Dial(cfg.Chain.RPCEndpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC endpoint: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Processor{
		cfg:      cfg,
		client:   client,
		registry: registry,
		st:       st,
		logger:   logger.With().Str("component", "processor").Logger(),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Client exposes the underlying RPC connection for collaborators that share
// it (chain reader, timestamp source).
func (p *Processor) Client() *ethclient.Client {
	return p.client
}

// SetBlockObserver injects an observer notified after each range's writes are
// durable. Optional; nil disables notifications.
func (p *Processor) SetBlockObserver(observer BlockObserver) {
	p.observer = observer
}

// Start runs the sync loop until Stop is called or too many consecutive
// failures occur.
func (p *Processor) Start() error {
	if err := p.registry.Start(); err != nil {
		return err
	}

	p.wg.Add(1)
	go p.syncLoop()
	return nil
}

// Stop shuts the processor down gracefully.
func (p *Processor) Stop() {
	p.logger.Info().Msg("Stopping processor")
	p.cancel()
	p.wg.Wait()
	if err := p.registry.Stop(); err != nil {
		p.logger.Error().Err(err).Msg("Failed to stop registry")
	}
	p.client.Close()
	p.logger.Info().Msg("Processor stopped")
}

func (p *Processor) syncLoop() {
	defer p.wg.Done()

	lastBlock, err := p.loadCursor()
	if err != nil {
		p.logger.Error().Err(err).Msg("Failed to load processor cursor")
		return
	}
	if lastBlock == 0 && p.cfg.Chain.StartBlock > 0 {
		lastBlock = p.cfg.Chain.StartBlock - 1
		p.logger.Info().Uint64("block", p.cfg.Chain.StartBlock).Msg("Starting from configured block")
	}

	consecutiveErrors := 0

	for {
		select {
		case <-p.ctx.Done():
			p.logger.Info().Msg("Sync loop stopped")
			return
		default:
			latestBlock, err := p.client.BlockNumber(p.ctx)
			if err != nil {
				if p.ctx.Err() != nil {
					return
				}
				p.logger.Error().Err(err).Msg("Failed to get latest block number")
				consecutiveErrors++
				if consecutiveErrors >= maxConsecutiveErrors {
					p.logger.Error().Msg("Too many consecutive errors, stopping sync")
					return
				}
				time.Sleep(5 * time.Second)
				continue
			}

			if lastBlock >= latestBlock {
				time.Sleep(p.cfg.Chain.PollInterval)
				continue
			}

			from := lastBlock + 1
			to := from + p.cfg.Chain.BatchSize - 1
			if to > latestBlock {
				to = latestBlock
			}

			startTime := time.Now()
			err = p.processRange(from, to)
			processingTime := time.Since(startTime)

			if err != nil {
				p.logger.Error().
					Err(err).
					Uint64("from", from).
					Uint64("to", to).
					Dur("duration", processingTime).
					Msg("Failed to process block range")

				consecutiveErrors++
				if consecutiveErrors >= maxConsecutiveErrors {
					p.logger.Error().Msg("Too many consecutive errors, stopping sync")
					return
				}
				time.Sleep(5 * time.Second)
				continue
			}

			consecutiveErrors = 0
			lastBlock = to

			p.logger.Info().
				Uint64("from", from).
				Uint64("to", to).
				Uint64("lag", latestBlock-to).
				Dur("duration", processingTime).
				Msg("Block range processed")
		}
	}
}

// processRange fetches the range's matching logs, orders them, and processes
// each in sequence. The cursor only advances past a block once every log in
// it has been handled.
func (p *Processor) processRange(from, to uint64) error {
	ctx, cancel := context.WithTimeout(p.ctx, 60*time.Second)
	defer cancel()

	logs, err := p.fetchLogs(ctx, from, to)
	if err != nil {
		return err
	}

	sort.SliceStable(logs, func(i, j int) bool {
		if logs[i].BlockNumber != logs[j].BlockNumber {
			return logs[i].BlockNumber < logs[j].BlockNumber
		}
		if logs[i].TxIndex != logs[j].TxIndex {
			return logs[i].TxIndex < logs[j].TxIndex
		}
		return logs[i].Index < logs[j].Index
	})

	for i := range logs {
		if logs[i].Removed {
			continue
		}
		if err := p.registry.ProcessEvent(ctx, &logs[i]); err != nil {
			return fmt.Errorf("event at block %d log %d: %w",
				logs[i].BlockNumber, logs[i].Index, err)
		}
	}

	return p.advanceCursors(ctx, to)
}

// fetchLogs queries the range's logs filtered to the topics any registered
// module listens for.
func (p *Processor) fetchLogs(ctx context.Context, from, to uint64) ([]types.Log, error) {
	topicStrings := p.registry.TopicFilters()
	topics := make([]common.Hash, 0, len(topicStrings))
	for _, t := range topicStrings {
		topics = append(topics, common.HexToHash(t))
	}

	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Topics:    [][]common.Hash{topics},
	}

	logs, err := p.client.FilterLogs(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch logs %d-%d: %w", from, to, err)
	}
	return logs, nil
}

// advanceCursors records progress for the pipeline and every module.
func (p *Processor) advanceCursors(ctx context.Context, block uint64) error {
	batch := store.NewBatch(p.st)
	batch.PutModuleCursor(&store.ModuleCursor{
		Module:             cursorName,
		Version:            "1",
		LastProcessedBlock: block,
	})
	if err := p.st.Apply(ctx, batch); err != nil {
		return fmt.Errorf("failed to advance processor cursor: %w", err)
	}

	for _, name := range p.registry.ListModules() {
		if err := p.registry.UpdateModuleBlock(ctx, name, block); err != nil {
			return err
		}
	}

	if p.observer != nil {
		p.observer.SetCurrentBlock(block)
	}
	return nil
}

func (p *Processor) loadCursor() (uint64, error) {
	cursor, err := p.st.GetModuleCursor(p.ctx, cursorName)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return cursor.LastProcessedBlock, nil
}
