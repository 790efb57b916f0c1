// Package chain reads wallet state from an Ethereum node.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const erc721ABIJSON = `[{"inputs":[{"internalType":"address","name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"}]`

var (
	erc721ABI abi.ABI

	// ErrReceiptNotFound means the transaction is unknown or still pending.
	ErrReceiptNotFound = errors.New("chain: receipt not found")
)

func init() {
	parsed, err := abi.JSON(strings.NewReader(erc721ABIJSON))
	if err != nil {
		panic("failed to parse ERC-721 ABI: " + err.Error())
	}
	erc721ABI = parsed
}

// Options parameterise the chain reader.
type Options struct {
	RPCURL        string
	WalletAddress string
	CardsContract string
	Timeout       time.Duration
}

// Receipt summarises a mined transaction.
type Receipt struct {
	Hash        string
	Success     bool
	BlockNumber uint64
	GasUsed     uint64
}

// Reader provides wallet balance and receipt lookups via Ethereum RPC.
type Reader struct {
	opts      Options
	logger    zerolog.Logger
	client    *ethclient.Client
	clientMux sync.Mutex
}

// NewReader builds a chain reader. The node is dialled lazily.
func NewReader(opts Options, logger zerolog.Logger) *Reader {
	return &Reader{opts: opts, logger: logger.With().Str("component", "chain_reader").Logger()}
}

// Balance returns the wallet's ETH balance and the block it was read at.
func (r *Reader) Balance(ctx context.Context) (decimal.Decimal, uint64, error) {
	addr, err := r.wallet()
	if err != nil {
		return decimal.Decimal{}, 0, err
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	client, err := r.getClient(ctx)
	if err != nil {
		return decimal.Decimal{}, 0, err
	}

	blockNumber, err := client.BlockNumber(ctx)
	if err != nil {
		return decimal.Decimal{}, 0, fmt.Errorf("block number: %w", err)
	}
	wei, err := client.BalanceAt(ctx, addr, new(big.Int).SetUint64(blockNumber))
	if err != nil {
		return decimal.Decimal{}, 0, fmt.Errorf("balance at: %w", err)
	}
	return decimal.NewFromBigInt(wei, -18), blockNumber, nil
}

// CardCount returns how many tokens of the configured card contract the wallet holds.
func (r *Reader) CardCount(ctx context.Context) (int64, error) {
	addr, err := r.wallet()
	if err != nil {
		return 0, err
	}
	if !common.IsHexAddress(r.opts.CardsContract) {
		return 0, errors.New("card contract address not configured")
	}
	contract := common.HexToAddress(r.opts.CardsContract)

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	client, err := r.getClient(ctx)
	if err != nil {
		return 0, err
	}

	payload, err := erc721ABI.Pack("balanceOf", addr)
	if err != nil {
		return 0, err
	}
	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: payload}, nil)
	if err != nil {
		return 0, fmt.Errorf("call balanceOf: %w", err)
	}
	outputs, err := erc721ABI.Unpack("balanceOf", res)
	if err != nil {
		return 0, err
	}
	if len(outputs) != 1 {
		return 0, errors.New("unexpected balanceOf response")
	}
	count, ok := outputs[0].(*big.Int)
	if !ok {
		return 0, errors.New("failed to decode balanceOf output")
	}
	return count.Int64(), nil
}

// VerifyReceipt looks up the receipt of a transaction hash.
func (r *Reader) VerifyReceipt(ctx context.Context, hash string) (Receipt, error) {
	if r.opts.RPCURL == "" {
		return Receipt{}, errors.New("ethereum rpc url not configured")
	}
	hash = strings.TrimSpace(hash)
	if len(strings.TrimPrefix(hash, "0x")) != 64 {
		return Receipt{}, fmt.Errorf("invalid transaction hash %q", hash)
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	client, err := r.getClient(ctx)
	if err != nil {
		return Receipt{}, err
	}

	receipt, err := client.TransactionReceipt(ctx, common.HexToHash(hash))
	if errors.Is(err, ethereum.NotFound) {
		return Receipt{}, ErrReceiptNotFound
	}
	if err != nil {
		return Receipt{}, fmt.Errorf("transaction receipt: %w", err)
	}

	out := Receipt{
		Hash:    receipt.TxHash.Hex(),
		Success: receipt.Status == types.ReceiptStatusSuccessful,
		GasUsed: receipt.GasUsed,
	}
	if receipt.BlockNumber != nil {
		out.BlockNumber = receipt.BlockNumber.Uint64()
	}
	return out, nil
}

// WarnIfLow logs a warning when the balance is under threshold. Lookup errors are logged too.
func (r *Reader) WarnIfLow(ctx context.Context, threshold decimal.Decimal) {
	balance, block, err := r.Balance(ctx)
	if err != nil {
		r.logger.Warn().Err(err).Msg("could not read wallet balance")
		return
	}
	if balance.LessThan(threshold) {
		r.logger.Warn().
			Str("balance_eth", balance.String()).
			Str("threshold_eth", threshold.String()).
			Uint64("block", block).
			Msg("wallet balance is low")
		return
	}
	r.logger.Info().Str("balance_eth", balance.String()).Uint64("block", block).Msg("wallet balance")
}

// Close drops the node connection.
func (r *Reader) Close() {
	r.clientMux.Lock()
	defer r.clientMux.Unlock()
	if r.client != nil {
		r.client.Close()
		r.client = nil
	}
}

func (r *Reader) wallet() (common.Address, error) {
	if r.opts.RPCURL == "" {
		return common.Address{}, errors.New("ethereum rpc url not configured")
	}
	if !common.IsHexAddress(r.opts.WalletAddress) {
		return common.Address{}, errors.New("wallet address not configured")
	}
	return common.HexToAddress(r.opts.WalletAddress), nil
}

func (r *Reader) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := r.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}

func (r *Reader) getClient(ctx context.Context) (*ethclient.Client, error) {
	r.clientMux.Lock()
	defer r.clientMux.Unlock()

	if r.client != nil {
		return r.client, nil
	}

	client, err := ethclient.DialContext(ctx, r.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	r.client = client
	return client, nil
}
