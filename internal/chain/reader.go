package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
)

// ExchangeReader reads bonding-curve contract state at a specific block.
// Handlers use it to fetch authoritative balances instead of deriving them
// from event deltas.
type ExchangeReader interface {
	// BalanceOf returns the token balance of holder on the exchange contract.
	BalanceOf(ctx context.Context, exchange, holder string, blockNumber uint64) (*big.Int, error)

	// PoolBalance returns the exchange's ETH reserve pool.
	PoolBalance(ctx context.Context, exchange string, blockNumber uint64) (*big.Int, error)

	// TotalSupply returns the exchange's outstanding token supply.
	TotalSupply(ctx context.Context, exchange string, blockNumber uint64) (*big.Int, error)

	// ReserveRatio returns the exchange's reserve ratio in ppm of the max ratio.
	ReserveRatio(ctx context.Context, exchange string, blockNumber uint64) (*big.Int, error)
}

// TimestampSource resolves a block number to its unix timestamp. Handlers
// need it because event logs carry no block time.
type TimestampSource interface {
	BlockTimestamp(ctx context.Context, blockNumber uint64) (int64, error)
}

const exchangeABIString = `[
	{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"poolBalance","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"totalSupply","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"reserveRatio","outputs":[{"name":"","type":"uint32"}],"type":"function"}
]`

// EthReader is the production ExchangeReader backed by an archive node.
type EthReader struct {
	client  *ethclient.Client
	abi     abi.ABI
	logger  zerolog.Logger
	tsCache map[uint64]int64
}

// NewEthReader creates an ExchangeReader over the given RPC endpoint.
func NewEthReader(endpoint string, logger zerolog.Logger) (*EthReader, error) {
	client, err := ethclient.Dial(endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC endpoint: %w", err)
	}

	parsed, err := abi.JSON(strings.NewReader(exchangeABIString))
	if err != nil {
		return nil, fmt.Errorf("failed to parse exchange ABI: %w", err)
	}

	return &EthReader{
		client:  client,
		abi:     parsed,
		logger:  logger.With().Str("component", "chain_reader").Logger(),
		tsCache: make(map[uint64]int64, tsCacheLimit),
	}, nil
}

// NewEthReaderWithClient wraps an existing client, used when the processor
// already holds a connection.
func NewEthReaderWithClient(client *ethclient.Client, logger zerolog.Logger) (*EthReader, error) {
	parsed, err := abi.JSON(strings.NewReader(exchangeABIString))
	if err != nil {
		return nil, fmt.Errorf("failed to parse exchange ABI: %w", err)
	}

	return &EthReader{
		client:  client,
		abi:     parsed,
		logger:  logger.With().Str("component", "chain_reader").Logger(),
		tsCache: make(map[uint64]int64, tsCacheLimit),
	}, nil
}

func (r *EthReader) BalanceOf(ctx context.Context, exchange, holder string, blockNumber uint64) (*big.Int, error) {
	return r.callUint(ctx, exchange, blockNumber, "balanceOf", common.HexToAddress(holder))
}

func (r *EthReader) PoolBalance(ctx context.Context, exchange string, blockNumber uint64) (*big.Int, error) {
	return r.callUint(ctx, exchange, blockNumber, "poolBalance")
}

func (r *EthReader) TotalSupply(ctx context.Context, exchange string, blockNumber uint64) (*big.Int, error) {
	return r.callUint(ctx, exchange, blockNumber, "totalSupply")
}

func (r *EthReader) ReserveRatio(ctx context.Context, exchange string, blockNumber uint64) (*big.Int, error) {
	return r.callUint(ctx, exchange, blockNumber, "reserveRatio")
}

// callUint performs an eth_call against the exchange contract at the given
// block and decodes a single unsigned integer result.
func (r *EthReader) callUint(ctx context.Context, exchange string, blockNumber uint64, method string, args ...interface{}) (*big.Int, error) {
	_, hasDeadline := ctx.Deadline()
	if !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
	}

	input, err := r.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s call: %w", method, err)
	}

	to := common.HexToAddress(exchange)
	msg := ethereum.CallMsg{To: &to, Data: input}

	output, err := r.client.CallContract(ctx, msg, new(big.Int).SetUint64(blockNumber))
	if err != nil {
		return nil, fmt.Errorf("%s call to %s at block %d failed: %w", method, exchange, blockNumber, err)
	}

	results, err := r.abi.Unpack(method, output)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s result: %w", method, err)
	}
	if len(results) != 1 {
		return nil, fmt.Errorf("unexpected %s result arity %d", method, len(results))
	}

	switch v := results[0].(type) {
	case *big.Int:
		return v, nil
	case uint32:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint64:
		return new(big.Int).SetUint64(v), nil
	default:
		return nil, fmt.Errorf("unexpected %s result type %T", method, results[0])
	}
}

// BlockTimestamp returns the unix timestamp of the given block. Results are
// cached; headers are immutable once the processor is past the reorg window.
func (r *EthReader) BlockTimestamp(ctx context.Context, blockNumber uint64) (int64, error) {
	if ts, ok := r.tsCache[blockNumber]; ok {
		return ts, nil
	}

	_, hasDeadline := ctx.Deadline()
	if !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
	}

	hdr, err := r.client.HeaderByNumber(ctx, new(big.Int).SetUint64(blockNumber))
	if err != nil {
		return 0, fmt.Errorf("failed to get header %d: %w", blockNumber, err)
	}

	ts := int64(hdr.Time)
	if len(r.tsCache) >= tsCacheLimit {
		r.tsCache = make(map[uint64]int64, tsCacheLimit)
	}
	r.tsCache[blockNumber] = ts
	return ts, nil
}

const tsCacheLimit = 4096

// Close releases the underlying RPC connection.
func (r *EthReader) Close() {
	r.client.Close()
}
