package core

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neuroswish/verse-indexer/internal/store"
)

var (
	testTopic   = common.HexToHash("0x000000000000000000000000000000000000000000000000000000000000aaaa")
	otherTopic  = common.HexToHash("0x000000000000000000000000000000000000000000000000000000000000bbbb")
	dynAddress  = common.HexToAddress("0x00000000000000000000000000000000000000AB")
	testAddress = common.HexToAddress("0x00000000000000000000000000000000000000F1")
)

// fakeModule is a minimal Module that counts deliveries.
type fakeModule struct {
	name       string
	startBlock uint64
	filters    []EventFilter
	handled    []*types.Log
	handleErr  error
}

func (m *fakeModule) Name() string    { return m.name }
func (m *fakeModule) Version() string { return "1.0.0" }

func (m *fakeModule) Manifest() *Manifest {
	return &Manifest{
		Name:    m.name,
		Version: "1.0.0",
		DataSources: []DataSource{
			{
				Kind:    "ethereum/contract",
				Name:    "Test",
				Network: "rinkeby",
				Source:  DataSourceSource{ABI: "Test"},
				Mapping: DataSourceMapping{
					Kind:          "ethereum/events",
					Entities:      []string{"Test"},
					EventHandlers: []EventHandler{{Event: "Test()", Handler: "handleTest"}},
				},
			},
		},
	}
}

func (m *fakeModule) Initialize(_ context.Context, _ store.Store) error { return nil }

func (m *fakeModule) HandleEvent(_ context.Context, log *types.Log) error {
	if m.handleErr != nil {
		return m.handleErr
	}
	m.handled = append(m.handled, log)
	return nil
}

func (m *fakeModule) GetEventFilters() []EventFilter { return m.filters }
func (m *fakeModule) GetStartBlock() uint64          { return m.startBlock }

func newTestRegistry(t *testing.T) (*ModuleRegistry, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	return NewModuleRegistry(mem, zerolog.Nop()), mem
}

func topicLog(topic common.Hash, address common.Address) *types.Log {
	return &types.Log{
		Address:     address,
		Topics:      []common.Hash{topic},
		BlockNumber: 100,
	}
}

func TestRegisterModuleInitializesCursor(t *testing.T) {
	ctx := context.Background()
	registry, mem := newTestRegistry(t)

	module := &fakeModule{name: "test", startBlock: 500}
	require.NoError(t, registry.RegisterModule(module))

	cursor, err := mem.GetModuleCursor(ctx, "test")
	require.NoError(t, err)
	assert.Equal(t, uint64(500), cursor.LastProcessedBlock)
	assert.Equal(t, "1.0.0", cursor.Version)

	// Re-registering the same name fails.
	assert.Error(t, registry.RegisterModule(&fakeModule{name: "test"}))
}

func TestRegisterModulePreservesExistingCursor(t *testing.T) {
	ctx := context.Background()
	registry, mem := newTestRegistry(t)

	batch := store.NewBatch(mem)
	batch.PutModuleCursor(&store.ModuleCursor{Module: "test", Version: "1.0.0", LastProcessedBlock: 9000})
	require.NoError(t, mem.Apply(ctx, batch))

	require.NoError(t, registry.RegisterModule(&fakeModule{name: "test", startBlock: 500}))

	// Start block does not clobber recorded progress.
	cursor, err := mem.GetModuleCursor(ctx, "test")
	require.NoError(t, err)
	assert.Equal(t, uint64(9000), cursor.LastProcessedBlock)
}

func TestProcessEventRoutesByTopic(t *testing.T) {
	ctx := context.Background()
	registry, _ := newTestRegistry(t)

	module := &fakeModule{
		name:    "test",
		filters: []EventFilter{{Topic0: testTopic.Hex()}},
	}
	require.NoError(t, registry.RegisterModule(module))
	require.NoError(t, registry.Start())

	require.NoError(t, registry.ProcessEvent(ctx, topicLog(testTopic, testAddress)))
	require.NoError(t, registry.ProcessEvent(ctx, topicLog(otherTopic, testAddress)))

	require.Len(t, module.handled, 1)
	assert.Equal(t, testTopic, module.handled[0].Topics[0])
}

func TestProcessEventRoutesByDynamicAddress(t *testing.T) {
	ctx := context.Background()
	registry, _ := newTestRegistry(t)

	module := &fakeModule{name: "test"}
	require.NoError(t, registry.RegisterModule(module))
	require.NoError(t, registry.Start())

	// Unknown address, no filters yet.
	require.NoError(t, registry.ProcessEvent(ctx, topicLog(otherTopic, dynAddress)))
	assert.Empty(t, module.handled)

	require.NoError(t, registry.RegisterAddress("test", dynAddress.Hex()))
	require.NoError(t, registry.ProcessEvent(ctx, topicLog(otherTopic, dynAddress)))
	assert.Len(t, module.handled, 1)

	assert.Error(t, registry.RegisterAddress("unknown", dynAddress.Hex()))
}

func TestProcessEventHandlerErrorPropagates(t *testing.T) {
	ctx := context.Background()
	registry, _ := newTestRegistry(t)

	handlerErr := errors.New("balance read failed")
	module := &fakeModule{
		name:      "test",
		filters:   []EventFilter{{Topic0: testTopic.Hex()}},
		handleErr: handlerErr,
	}
	require.NoError(t, registry.RegisterModule(module))
	require.NoError(t, registry.Start())

	err := registry.ProcessEvent(ctx, topicLog(testTopic, testAddress))
	require.Error(t, err)
	assert.ErrorIs(t, err, handlerErr)
	assert.Contains(t, err.Error(), "module test")
}

func TestProcessEventBeforeStartIsNoop(t *testing.T) {
	ctx := context.Background()
	registry, _ := newTestRegistry(t)

	module := &fakeModule{
		name:    "test",
		filters: []EventFilter{{Topic0: testTopic.Hex()}},
	}
	require.NoError(t, registry.RegisterModule(module))

	require.NoError(t, registry.ProcessEvent(ctx, topicLog(testTopic, testAddress)))
	assert.Empty(t, module.handled)
}

func TestTopicFiltersDeduplicated(t *testing.T) {
	registry, _ := newTestRegistry(t)

	module := &fakeModule{
		name: "test",
		filters: []EventFilter{
			{Topic0: testTopic.Hex()},
			{Topic0: testTopic.Hex()},
			{Topic0: otherTopic.Hex()},
		},
	}
	require.NoError(t, registry.RegisterModule(module))

	assert.Len(t, registry.TopicFilters(), 2)
}

func TestUpdateModuleBlock(t *testing.T) {
	ctx := context.Background()
	registry, mem := newTestRegistry(t)

	require.NoError(t, registry.RegisterModule(&fakeModule{name: "test", startBlock: 100}))
	require.NoError(t, registry.UpdateModuleBlock(ctx, "test", 12345))

	cursor, err := mem.GetModuleCursor(ctx, "test")
	require.NoError(t, err)
	assert.Equal(t, uint64(12345), cursor.LastProcessedBlock)
}

func TestUnregisterModuleRemovesFilters(t *testing.T) {
	ctx := context.Background()
	registry, _ := newTestRegistry(t)

	module := &fakeModule{
		name:    "test",
		filters: []EventFilter{{Topic0: testTopic.Hex()}},
	}
	require.NoError(t, registry.RegisterModule(module))
	require.NoError(t, registry.Start())
	require.NoError(t, registry.UnregisterModule("test"))

	assert.Empty(t, registry.TopicFilters())
	require.NoError(t, registry.ProcessEvent(ctx, topicLog(testTopic, testAddress)))
	assert.Empty(t, module.handled)
}
