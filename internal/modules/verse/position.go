package verse

import (
	"context"
	"errors"
	"math/big"

	"github.com/neuroswish/verse-indexer/internal/store"
)

// positionID builds the composite key for a (exchange, user) pair.
func positionID(exchange, user string) string {
	return exchange + "-" + user
}

// upsertPosition overwrites the position's balance with the authoritative
// on-chain value. Balances are never incremented by a local delta, so indexed
// positions cannot drift from chain truth across event-processing gaps.
func upsertPosition(ctx context.Context, batch *store.Batch, exchange, user string, balance *big.Int) (*store.Position, error) {
	id := positionID(exchange, user)

	position, err := batch.GetPosition(ctx, id)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		position = &store.Position{
			ID:       id,
			Exchange: exchange,
			User:     user,
		}
	}

	position.Balance = new(big.Int).Set(balance)
	batch.PutPosition(position)
	return position, nil
}

// ensureUser creates the user entity on first interaction.
func ensureUser(ctx context.Context, batch *store.Batch, address string) error {
	_, err := batch.GetUser(ctx, address)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	batch.PutUser(&store.User{Address: address})
	return nil
}
