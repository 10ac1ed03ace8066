package verse

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/neuroswish/verse-indexer/internal/chain"
	"github.com/neuroswish/verse-indexer/internal/config"
	"github.com/neuroswish/verse-indexer/internal/modules/core"
	"github.com/neuroswish/verse-indexer/internal/modules/loader"
	"github.com/neuroswish/verse-indexer/internal/store"
)

// AddressRegistrar lets the module tell the ingestion layer to start
// delivering events from a newly discovered contract address.
type AddressRegistrar interface {
	RegisterAddress(moduleName, address string) error
}

// TradePublisher receives notifications after an event's writes commit so
// downstream clients can be told about the change.
type TradePublisher interface {
	EnqueueExchangeChanged(address string)
	PublishTrade(trade *store.Trade)
}

// EventHandler function type for handling specific events
type EventHandler func(ctx context.Context, m *VerseModule, event *core.ParsedEvent) error

// VerseModule indexes the bonding-curve pair factory and every exchange it
// deploys: registry totals, per-exchange curve state, user positions, trade
// records, and hour/day/global aggregates.
type VerseModule struct {
	st         store.Store
	manifest   *core.Manifest
	logger     zerolog.Logger
	parser     *core.EventParser
	reader     chain.ExchangeReader
	timestamps chain.TimestampSource
	registrar  AddressRegistrar
	publisher  TradePublisher

	protocol       *config.ProtocolConfig
	factoryAddress common.Address
	factoryABI     *abi.ABI
	exchangeABI    *abi.ABI

	handlers map[common.Hash]EventHandler
}

// moduleContext is the module-specific configuration carried in the manifest
// context block.
type moduleContext struct {
	FactoryAddress string `yaml:"factoryAddress"`
}

// NewVerseModule creates the module from its manifest file.
func NewVerseModule(manifestPath string, protocol *config.ProtocolConfig, reader chain.ExchangeReader, timestamps chain.TimestampSource, logger zerolog.Logger) (*VerseModule, error) {
	manifestLoader := loader.NewManifestLoader(logger)
	manifest, err := manifestLoader.LoadFromFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load manifest: %w", err)
	}

	var mctx moduleContext
	if manifest.Context != nil {
		contextBytes, _ := yaml.Marshal(manifest.Context)
		if err := yaml.Unmarshal(contextBytes, &mctx); err != nil {
			return nil, fmt.Errorf("failed to parse module config: %w", err)
		}
	}

	factoryAddress := protocol.FactoryAddress
	if mctx.FactoryAddress != "" {
		factoryAddress = mctx.FactoryAddress
	}
	if factoryAddress == "" {
		return nil, fmt.Errorf("no factory address configured")
	}

	module := &VerseModule{
		manifest:       manifest,
		logger:         logger.With().Str("module", "verse").Logger(),
		parser:         core.NewEventParser(),
		reader:         reader,
		timestamps:     timestamps,
		protocol:       protocol,
		factoryAddress: common.HexToAddress(strings.ToLower(factoryAddress)),
		handlers:       make(map[common.Hash]EventHandler),
	}

	if err := module.initializeABIs(); err != nil {
		return nil, fmt.Errorf("failed to initialize ABIs: %w", err)
	}

	module.registerEventHandlers()

	return module, nil
}

// initializeABIs parses the contract ABIs and feeds them to the event parser.
func (m *VerseModule) initializeABIs() error {
	factoryABI, err := abi.JSON(strings.NewReader(factoryABIJSON))
	if err != nil {
		return fmt.Errorf("failed to parse factory ABI: %w", err)
	}
	m.factoryABI = &factoryABI
	m.parser.AddContract(m.factoryAddress, &factoryABI)

	exchangeABI, err := abi.JSON(strings.NewReader(exchangeABIJSON))
	if err != nil {
		return fmt.Errorf("failed to parse exchange ABI: %w", err)
	}
	m.exchangeABI = &exchangeABI
	// Exchange addresses are discovered at runtime via PairCreated; register
	// the ABI under the zero address so its events index by topic regardless.
	m.parser.AddContract(common.Address{}, &exchangeABI)

	return nil
}

// registerEventHandlers maps event topic hashes to handler functions.
func (m *VerseModule) registerEventHandlers() {
	m.handlers[m.factoryABI.Events["PairCreated"].ID] = handlePairCreated
	m.handlers[m.exchangeABI.Events["Buy"].ID] = handleBuy
	m.handlers[m.exchangeABI.Events["Sell"].ID] = handleSell
	m.handlers[m.exchangeABI.Events["Redeem"].ID] = handleRedeem
}

// Name returns the module name
func (m *VerseModule) Name() string {
	return m.manifest.Name
}

// Version returns the module version
func (m *VerseModule) Version() string {
	return m.manifest.Version
}

// Manifest returns the module manifest
func (m *VerseModule) Manifest() *core.Manifest {
	return m.manifest
}

// SetRegistrar injects the dynamic data-source registrar.
func (m *VerseModule) SetRegistrar(registrar AddressRegistrar) {
	m.registrar = registrar
}

// SetPublisher injects the realtime publisher. Optional; nil disables
// notifications.
func (m *VerseModule) SetPublisher(publisher TradePublisher) {
	m.publisher = publisher
}

// Initialize sets up the module with the entity store
func (m *VerseModule) Initialize(ctx context.Context, st store.Store) error {
	m.st = st

	m.logger.Info().
		Str("factory", m.factoryAddress.Hex()).
		Uint64("reserve_ratio", m.protocol.ReserveRatio).
		Uint64("max_ratio", m.protocol.MaxRatio).
		Msg("Verse module initialized")
	return nil
}

// HandleEvent processes a single event log. All writes for the event are
// staged in one batch and committed together; an error means nothing was
// written.
func (m *VerseModule) HandleEvent(ctx context.Context, log *types.Log) error {
	if len(log.Topics) == 0 {
		return nil
	}

	handler, exists := m.handlers[log.Topics[0]]
	if !exists {
		return nil
	}

	parsedEvent, err := m.parser.ParseEvent(log)
	if err != nil {
		return fmt.Errorf("failed to parse event: %w", err)
	}

	timestamp, err := m.timestamps.BlockTimestamp(ctx, log.BlockNumber)
	if err != nil {
		return fmt.Errorf("failed to resolve block timestamp: %w", err)
	}
	parsedEvent.Timestamp = timestamp

	if err := handler(ctx, m, parsedEvent); err != nil {
		m.logger.Error().
			Err(err).
			Str("event", parsedEvent.EventName).
			Str("address", parsedEvent.Address.Hex()).
			Uint64("block", parsedEvent.BlockNumber).
			Str("tx_hash", parsedEvent.TransactionHash.Hex()).
			Msg("Handler failed")
		return err
	}

	m.logger.Debug().
		Str("event", parsedEvent.EventName).
		Str("address", parsedEvent.Address.Hex()).
		Uint64("block", parsedEvent.BlockNumber).
		Msg("Processed event")

	return nil
}

// GetEventFilters returns the event filters this module is interested in
func (m *VerseModule) GetEventFilters() []core.EventFilter {
	filters := []core.EventFilter{
		{
			Address: m.factoryAddress.Hex(),
			Topic0:  m.factoryABI.Events["PairCreated"].ID.Hex(),
		},
	}

	// Exchange contracts are registered dynamically after PairCreated, so
	// trade events are matched by topic alone.
	for _, name := range []string{"Buy", "Sell", "Redeem"} {
		filters = append(filters, core.EventFilter{
			Topic0: m.exchangeABI.Events[name].ID.Hex(),
		})
	}

	return filters
}

// GetStartBlock returns the block number to start indexing from
func (m *VerseModule) GetStartBlock() uint64 {
	if len(m.manifest.DataSources) > 0 && m.manifest.DataSources[0].Source.StartBlock != nil {
		return *m.manifest.DataSources[0].Source.StartBlock
	}
	return 0
}

// tradeID builds the immutable trade record key. Transaction hash plus log
// index is unique even when one transaction emits several qualifying events.
func tradeID(event *core.ParsedEvent) string {
	return fmt.Sprintf("%s-%d", event.TransactionHash.Hex(), event.LogIndex)
}

// addressArg extracts an address parameter from a parsed event.
func addressArg(event *core.ParsedEvent, name string) (string, error) {
	raw, ok := event.Args[name]
	if !ok {
		return "", fmt.Errorf("event %s missing %s argument", event.EventName, name)
	}
	addr, ok := raw.(common.Address)
	if !ok {
		return "", fmt.Errorf("event %s argument %s is %T, want address", event.EventName, name, raw)
	}
	return strings.ToLower(addr.Hex()), nil
}

// bigIntArg extracts an unsigned integer parameter from a parsed event.
func bigIntArg(event *core.ParsedEvent, name string) (*big.Int, error) {
	raw, ok := event.Args[name]
	if !ok {
		return nil, fmt.Errorf("event %s missing %s argument", event.EventName, name)
	}
	v, ok := raw.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("event %s argument %s is %T, want uint256", event.EventName, name, raw)
	}
	return v, nil
}
