package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	"github.com/neuroswish/verse-indexer/internal/store"
)

// ModuleRegistry manages the lifecycle of indexer modules and routes event
// logs to the modules whose filters match.
type ModuleRegistry struct {
	modules map[string]Module
	st      store.Store
	logger  zerolog.Logger

	// Event routing
	eventFilters   map[string][]string // topic0 -> module names
	addressFilters map[string][]string // address -> module names

	// Lifecycle management
	mu      sync.RWMutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewModuleRegistry creates a new module registry
func NewModuleRegistry(st store.Store, logger zerolog.Logger) *ModuleRegistry {
	ctx, cancel := context.WithCancel(context.Background())

	return &ModuleRegistry{
		modules:        make(map[string]Module),
		st:             st,
		logger:         logger.With().Str("component", "module_registry").Logger(),
		eventFilters:   make(map[string][]string),
		addressFilters: make(map[string][]string),
		ctx:            ctx,
		cancel:         cancel,
	}
}

// RegisterModule registers a new module
func (r *ModuleRegistry) RegisterModule(module Module) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := module.Name()

	if _, exists := r.modules[name]; exists {
		return fmt.Errorf("module %s is already registered", name)
	}

	manifest := module.Manifest()
	if manifest == nil {
		return fmt.Errorf("module %s has no manifest", name)
	}

	if err := manifest.ValidateManifest(); err != nil {
		return fmt.Errorf("module %s has invalid manifest: %w", name, err)
	}

	if err := module.Initialize(r.ctx, r.st); err != nil {
		return fmt.Errorf("failed to initialize module %s: %w", name, err)
	}

	filters := module.GetEventFilters()
	for _, filter := range filters {
		r.addFilterLocked(name, filter)
	}

	r.modules[name] = module

	if err := r.initializeCursor(name, module.Version(), module.GetStartBlock()); err != nil {
		return fmt.Errorf("failed to initialize cursor for %s: %w", name, err)
	}

	r.logger.Info().
		Str("module", name).
		Str("version", module.Version()).
		Int("filters", len(filters)).
		Msg("Module registered successfully")

	return nil
}

// RegisterAddress adds an address filter for an already registered module.
// Modules call this when a factory event introduces a contract that must be
// tracked from that point on (dynamic data sources).
func (r *ModuleRegistry) RegisterAddress(moduleName, address string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.modules[moduleName]; !exists {
		return fmt.Errorf("module %s is not registered", moduleName)
	}

	r.addFilterLocked(moduleName, EventFilter{Address: address})
	return nil
}

func (r *ModuleRegistry) addFilterLocked(name string, filter EventFilter) {
	if filter.Topic0 != "" {
		lowerTopic := strings.ToLower(filter.Topic0)
		if !contains(r.eventFilters[lowerTopic], name) {
			r.eventFilters[lowerTopic] = append(r.eventFilters[lowerTopic], name)
		}
		r.logger.Debug().
			Str("module", name).
			Str("topic0", lowerTopic).
			Msg("Registered topic filter")
	}
	if filter.Address != "" {
		lowerAddr := strings.ToLower(filter.Address)
		if !contains(r.addressFilters[lowerAddr], name) {
			r.addressFilters[lowerAddr] = append(r.addressFilters[lowerAddr], name)
		}
		r.logger.Debug().
			Str("module", name).
			Str("address", lowerAddr).
			Msg("Registered address filter")
	}
}

// UnregisterModule removes a module from the registry
func (r *ModuleRegistry) UnregisterModule(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.modules[name]; !exists {
		return fmt.Errorf("module %s is not registered", name)
	}

	for topic, moduleNames := range r.eventFilters {
		r.eventFilters[topic] = removeFromSlice(moduleNames, name)
		if len(r.eventFilters[topic]) == 0 {
			delete(r.eventFilters, topic)
		}
	}

	for address, moduleNames := range r.addressFilters {
		r.addressFilters[address] = removeFromSlice(moduleNames, name)
		if len(r.addressFilters[address]) == 0 {
			delete(r.addressFilters, address)
		}
	}

	delete(r.modules, name)

	r.logger.Info().Str("module", name).Msg("Module unregistered")
	return nil
}

// ProcessEvent routes an event to interested modules. A handler error stops
// routing and propagates to the caller: the failing event wrote nothing, and
// continuing past it would leave the derived entities out of sync with the
// chain.
func (r *ModuleRegistry) ProcessEvent(ctx context.Context, log *types.Log) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.running {
		return nil
	}

	interestedModules := r.findInterestedModules(log)
	if len(interestedModules) == 0 {
		if len(log.Topics) > 0 {
			r.logger.Debug().
				Str("topic0", log.Topics[0].Hex()).
				Str("address", log.Address.Hex()).
				Msg("No modules interested in event")
		}
		return nil
	}

	for _, moduleName := range interestedModules {
		module, exists := r.modules[moduleName]
		if !exists {
			continue
		}

		if err := module.HandleEvent(ctx, log); err != nil {
			r.logger.Error().
				Err(err).
				Str("module", moduleName).
				Uint64("block", log.BlockNumber).
				Str("tx_hash", log.TxHash.Hex()).
				Msg("Module failed to process event")
			return fmt.Errorf("module %s: %w", moduleName, err)
		}
	}

	return nil
}

// findInterestedModules finds modules that should process this event
func (r *ModuleRegistry) findInterestedModules(log *types.Log) []string {
	var interested []string
	seen := make(map[string]bool)

	if len(log.Topics) > 0 {
		topic0 := strings.ToLower(log.Topics[0].Hex())
		if moduleNames, exists := r.eventFilters[topic0]; exists {
			for _, name := range moduleNames {
				if !seen[name] {
					interested = append(interested, name)
					seen[name] = true
				}
			}
		}
	}

	address := strings.ToLower(log.Address.Hex())
	if moduleNames, exists := r.addressFilters[address]; exists {
		for _, name := range moduleNames {
			if !seen[name] {
				interested = append(interested, name)
				seen[name] = true
			}
		}
	}

	return interested
}

// Start begins the module registry lifecycle
func (r *ModuleRegistry) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return fmt.Errorf("module registry is already running")
	}

	r.running = true
	r.logger.Info().Int("modules", len(r.modules)).Msg("Module registry started")

	return nil
}

// Stop gracefully stops the module registry
func (r *ModuleRegistry) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return nil
	}

	r.running = false
	r.cancel()

	r.logger.Info().Msg("Module registry stopped")
	return nil
}

// GetModule returns a registered module by name
func (r *ModuleRegistry) GetModule(name string) (Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	module, exists := r.modules[name]
	return module, exists
}

// TopicFilters returns the distinct topic0 hashes any module listens for.
// The processor uses them to narrow its log queries.
func (r *ModuleRegistry) TopicFilters() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	topics := make([]string, 0, len(r.eventFilters))
	for topic := range r.eventFilters {
		topics = append(topics, topic)
	}
	return topics
}

// ListModules returns all registered module names
func (r *ModuleRegistry) ListModules() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.modules))
	for name := range r.modules {
		names = append(names, name)
	}

	return names
}

// UpdateModuleBlock records the last processed block for a module.
func (r *ModuleRegistry) UpdateModuleBlock(ctx context.Context, name string, blockNumber uint64) error {
	cursor, err := r.st.GetModuleCursor(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to load cursor for %s: %w", name, err)
	}
	cursor.LastProcessedBlock = blockNumber

	batch := store.NewBatch(r.st)
	batch.PutModuleCursor(cursor)
	return r.st.Apply(ctx, batch)
}

// initializeCursor creates the module cursor if it does not exist yet.
func (r *ModuleRegistry) initializeCursor(name, version string, startBlock uint64) error {
	cursor, err := r.st.GetModuleCursor(r.ctx, name)
	if err == nil {
		if cursor.Version == version {
			return nil
		}
		cursor.Version = version
	} else if errors.Is(err, store.ErrNotFound) {
		cursor = &store.ModuleCursor{
			Module:             name,
			Version:            version,
			LastProcessedBlock: startBlock,
		}
	} else {
		return err
	}

	batch := store.NewBatch(r.st)
	batch.PutModuleCursor(cursor)
	return r.st.Apply(r.ctx, batch)
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// Helper function to remove an item from a slice
func removeFromSlice(slice []string, item string) []string {
	result := make([]string, 0, len(slice))
	for _, s := range slice {
		if s != item {
			result = append(result, s)
		}
	}
	return result
}
