package core

import (
	"context"

	"github.com/ethereum/go-ethereum/core/types"

	"github.com/neuroswish/verse-indexer/internal/store"
)

// Module represents a processing module that handles specific blockchain
// events. Inspired by The Graph Protocol's subgraph pattern.
type Module interface {
	// Name returns the unique name of the module
	Name() string

	// Version returns the module version
	Version() string

	// Manifest returns the module's manifest configuration
	Manifest() *Manifest

	// Initialize sets up the module with the entity store
	Initialize(ctx context.Context, st store.Store) error

	// HandleEvent processes a single event log that matches this module's
	// filters. Errors mean the event produced no writes; the caller owns
	// the halt-or-skip decision.
	HandleEvent(ctx context.Context, log *types.Log) error

	// GetEventFilters returns the event filters this module is interested in
	GetEventFilters() []EventFilter

	// GetStartBlock returns the block number from which this module should
	// start processing
	GetStartBlock() uint64
}

// EventFilter defines what events a module wants to receive
type EventFilter struct {
	// Address is the contract address to watch (optional, empty = all addresses)
	Address string `yaml:"address,omitempty"`

	// Topic0 is the event signature hash (optional, empty = all events)
	Topic0 string `yaml:"topic0,omitempty"`
}
