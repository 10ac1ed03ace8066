package verse

import (
	"context"
	"errors"
	"math/big"
	"strings"

	"github.com/neuroswish/verse-indexer/internal/modules/core"
	"github.com/neuroswish/verse-indexer/internal/store"
)

// handlePairCreated reacts to the factory deploying a new exchange/media
// pair. The registry singleton is created lazily on the first pair.
func handlePairCreated(ctx context.Context, m *VerseModule, event *core.ParsedEvent) error {
	exchangeAddress, err := addressArg(event, "exchangeAddress")
	if err != nil {
		return err
	}
	cryptomediaAddress, err := addressArg(event, "cryptomediaAddress")
	if err != nil {
		return err
	}
	creator, err := addressArg(event, "creator")
	if err != nil {
		return err
	}
	deployer := strings.ToLower(event.Address.Hex())

	batch := store.NewBatch(m.st)

	factory, err := batch.GetFactory(ctx, deployer)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		factory = &store.Factory{
			Address:        deployer,
			TotalVolumeETH: big.NewInt(0),
		}
	}
	factory.PairCount++
	batch.PutFactory(factory)

	exchange := &store.Exchange{
		Address:            exchangeAddress,
		Deployer:           deployer,
		Creator:            creator,
		PoolBalance:        big.NewInt(0),
		TotalSupply:        big.NewInt(0),
		ReserveRatio:       m.protocol.ReserveRatioBig(),
		VolumeETH:          big.NewInt(0),
		CreatedAtBlock:     event.BlockNumber,
		CreatedAtTimestamp: event.Timestamp,
	}
	batch.PutExchange(exchange)

	cryptomedia := &store.Cryptomedia{
		Address:            cryptomediaAddress,
		Deployer:           deployer,
		Creator:            creator,
		CreatedAtBlock:     event.BlockNumber,
		CreatedAtTimestamp: event.Timestamp,
	}
	batch.PutCryptomedia(cryptomedia)

	// Route future events from the new contracts to this module.
	if m.registrar != nil {
		if err := m.registrar.RegisterAddress(m.Name(), exchangeAddress); err != nil {
			return err
		}
		if err := m.registrar.RegisterAddress(m.Name(), cryptomediaAddress); err != nil {
			return err
		}
	}

	if err := m.st.Apply(ctx, batch); err != nil {
		return err
	}

	if m.publisher != nil {
		m.publisher.EnqueueExchangeChanged(exchangeAddress)
	}

	m.logger.Info().
		Str("exchange", exchangeAddress).
		Str("cryptomedia", cryptomediaAddress).
		Str("creator", creator).
		Uint64("pair_count", factory.PairCount).
		Msg("Pair created")

	return nil
}
