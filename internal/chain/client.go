// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ManuGH/camanchor/internal/log"
	"github.com/ManuGH/camanchor/internal/metrics"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
)

// anchorABI declares the single contract method used for anchoring.
const anchorABI = `[{"inputs":[
	{"internalType":"string","name":"videoHash","type":"string"},
	{"internalType":"string","name":"title","type":"string"},
	{"internalType":"string","name":"description","type":"string"},
	{"internalType":"uint256","name":"duration","type":"uint256"}],
	"name":"uploadVideo","outputs":[],"stateMutability":"nonpayable","type":"function"}]`

const anchorMethod = "uploadVideo"

// ClientConfig configures a Client.
type ClientConfig struct {
	PrivateKey      string // hex, optional 0x prefix; empty disables signing
	ContractAddress string
	ChainID         int64 // 0 asks the endpoint
	GasLimit        uint64
	ReceiptTimeout  time.Duration
	ReceiptPoll     time.Duration
}

// AnchorRequest is the payload of one anchoring transaction.
type AnchorRequest struct {
	ContentID       string
	Title           string
	Description     string
	DurationSeconds uint64
}

// Receipt identifies a mined anchoring transaction.
type Receipt struct {
	TxHash      string
	BlockNumber uint64
	GasUsed     uint64
}

// Client reads chain state through the Selector and submits anchoring
// transactions from the funding account.
type Client struct {
	sel      *Selector
	fee      FeePolicy
	key      *ecdsa.PrivateKey
	from     common.Address
	contract common.Address
	abi      abi.ABI
	chainID  *big.Int
	gasLimit uint64

	receiptTimeout time.Duration
	receiptPoll    time.Duration

	// submitMu serialises nonce allocation and broadcast.
	submitMu sync.Mutex
	logger   zerolog.Logger
}

// NewClient parses the key and contract ABI. A client without a key can
// still read chain state.
func NewClient(sel *Selector, fee FeePolicy, cfg ClientConfig) (*Client, error) {
	parsed, err := abi.JSON(strings.NewReader(anchorABI))
	if err != nil {
		return nil, fmt.Errorf("parse anchor abi: %w", err)
	}
	c := &Client{
		sel:            sel,
		fee:            fee,
		abi:            parsed,
		gasLimit:       cfg.GasLimit,
		receiptTimeout: cfg.ReceiptTimeout,
		receiptPoll:    cfg.ReceiptPoll,
		logger:         log.WithComponent("chain"),
	}
	if c.gasLimit == 0 {
		c.gasLimit = 700000
	}
	if c.receiptTimeout <= 0 {
		c.receiptTimeout = 3 * time.Minute
	}
	if c.receiptPoll <= 0 {
		c.receiptPoll = 2 * time.Second
	}
	if cfg.ChainID > 0 {
		c.chainID = big.NewInt(cfg.ChainID)
	}
	if cfg.ContractAddress != "" {
		if !common.IsHexAddress(cfg.ContractAddress) {
			return nil, fmt.Errorf("invalid contract address %q", cfg.ContractAddress)
		}
		c.contract = common.HexToAddress(cfg.ContractAddress)
	}
	if cfg.PrivateKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		c.key = key
		c.from = crypto.PubkeyToAddress(key.PublicKey)
	}
	return c, nil
}

// Address returns the funding account, or the zero address without a key.
func (c *Client) Address() common.Address { return c.from }

// CanSign reports whether a signing key is configured.
func (c *Client) CanSign() bool { return c.key != nil }

// Endpoint returns the bound endpoint for status output.
func (c *Client) Endpoint() string { return c.sel.Endpoint() }

// read runs fn against the bound backend and retries once on a freshly
// selected endpoint after a transport failure.
func read[T any](ctx context.Context, c *Client, fn func(Backend) (T, error)) (T, error) {
	var (
		zero    T
		lastErr error
	)
	for attempt := 0; attempt < 2; attempt++ {
		b, err := c.sel.Backend(ctx)
		if err != nil {
			if lastErr != nil {
				return zero, fmt.Errorf("%w (after: %v)", err, lastErr)
			}
			return zero, err
		}
		v, err := fn(b)
		if err == nil {
			return v, nil
		}
		if ctx.Err() != nil || !isTransportError(err) {
			return zero, err
		}
		c.sel.Invalidate(b)
		lastErr = err
	}
	return zero, lastErr
}

// CurrentBlock returns the latest block height.
func (c *Client) CurrentBlock(ctx context.Context) (uint64, error) {
	return read(ctx, c, func(b Backend) (uint64, error) {
		return b.BlockNumber(ctx)
	})
}

// BalanceOf returns the latest balance of addr in wei.
func (c *Client) BalanceOf(ctx context.Context, addr common.Address) (*big.Int, error) {
	return read(ctx, c, func(b Backend) (*big.Int, error) {
		return b.BalanceAt(ctx, addr, nil)
	})
}

// Balance returns the funding account balance in wei.
func (c *Client) Balance(ctx context.Context) (*big.Int, error) {
	if c.key == nil {
		return nil, ErrNoSigner
	}
	return c.BalanceOf(ctx, c.from)
}

// FeeData reads the base fee of the latest header and the suggested tip.
// Chains without a base fee, or without tip suggestions, report the
// legacy gas price instead.
func (c *Client) FeeData(ctx context.Context) (FeeData, error) {
	return read(ctx, c, func(b Backend) (FeeData, error) {
		head, err := b.HeaderByNumber(ctx, nil)
		if err != nil {
			return FeeData{}, fmt.Errorf("latest header: %w", err)
		}
		if head.BaseFee != nil {
			tip, err := b.SuggestGasTipCap(ctx)
			if err == nil {
				return FeeData{BaseFee: new(big.Int).Set(head.BaseFee), PriorityFee: tip}, nil
			}
			if isTransportError(err) {
				return FeeData{}, fmt.Errorf("suggest tip: %w", err)
			}
			c.logger.Debug().Err(err).Msg("tip suggestion unavailable, using legacy gas price")
		}
		price, err := b.SuggestGasPrice(ctx)
		if err != nil {
			return FeeData{}, fmt.Errorf("suggest gas price: %w", err)
		}
		return FeeData{LegacyFee: price}, nil
	})
}

// SubmitAnchor quotes fees from live data and submits req.
func (c *Client) SubmitAnchor(ctx context.Context, req AnchorRequest) (Receipt, FeeParams, error) {
	fd, err := c.FeeData(ctx)
	if err != nil {
		if errors.Is(err, ErrNoEndpoint) {
			metrics.RecordSubmission("no_endpoint")
		}
		return Receipt{}, FeeParams{}, fmt.Errorf("fee data: %w", err)
	}
	fee, err := c.fee.Quote(fd)
	if err != nil {
		return Receipt{}, FeeParams{}, err
	}
	if fee.Dynamic() {
		metrics.SetFeeQuote("dynamic", "tip_cap", GweiFloat(fee.GasTipCap))
		metrics.SetFeeQuote("dynamic", "fee_cap", GweiFloat(fee.GasFeeCap))
	} else {
		metrics.SetFeeQuote("legacy", "gas_price", GweiFloat(fee.GasPrice))
	}
	rcpt, err := c.Submit(ctx, req, fee)
	return rcpt, fee, err
}

// Submit signs and broadcasts one anchoring transaction with the given fee
// parameters and waits for its receipt. It never retries: a second
// broadcast could double-spend the nonce. On ErrReceiptTimeout the returned
// Receipt still carries the broadcast hash.
func (c *Client) Submit(ctx context.Context, req AnchorRequest, fee FeeParams) (Receipt, error) {
	if c.key == nil {
		metrics.RecordSubmission("no_signer")
		return Receipt{}, ErrNoSigner
	}
	if c.contract == (common.Address{}) {
		metrics.RecordSubmission("error")
		return Receipt{}, errors.New("no contract address configured")
	}
	if fee.MaxPerGas() == nil {
		return Receipt{}, ErrNoFeeData
	}

	data, err := c.abi.Pack(anchorMethod, req.ContentID, req.Title, req.Description,
		new(big.Int).SetUint64(req.DurationSeconds))
	if err != nil {
		return Receipt{}, fmt.Errorf("pack %s: %w", anchorMethod, err)
	}

	c.submitMu.Lock()
	defer c.submitMu.Unlock()

	b, err := c.sel.Backend(ctx)
	if err != nil {
		metrics.RecordSubmission("no_endpoint")
		return Receipt{}, err
	}

	tx, err := c.buildTx(ctx, b, fee, data)
	if err != nil {
		c.invalidateOnTransport(b, err)
		metrics.RecordSubmission("error")
		return Receipt{}, err
	}

	if err := b.SendTransaction(ctx, tx); err != nil {
		c.invalidateOnTransport(b, err)
		metrics.RecordSubmission("error")
		return Receipt{}, fmt.Errorf("send transaction: %w", err)
	}
	hash := tx.Hash()
	c.logger.Info().
		Str(log.FieldEvent, "tx.sent").
		Str(log.FieldTxHash, hash.Hex()).
		Uint64("nonce", tx.Nonce()).
		Str("fee_model", fee.Model()).
		Msg("anchor transaction broadcast")

	rcpt, err := c.waitReceipt(ctx, hash)
	if err != nil {
		metrics.RecordSubmission("error")
		return Receipt{TxHash: hash.Hex()}, err
	}
	if rcpt.Status != types.ReceiptStatusSuccessful {
		metrics.RecordSubmission("reverted")
		return Receipt{TxHash: hash.Hex(), BlockNumber: blockOf(rcpt)}, fmt.Errorf("%w: %s", ErrReverted, hash.Hex())
	}
	metrics.RecordSubmission("success")
	return Receipt{TxHash: hash.Hex(), BlockNumber: blockOf(rcpt), GasUsed: rcpt.GasUsed}, nil
}

func (c *Client) buildTx(ctx context.Context, b Backend, fee FeeParams, data []byte) (*types.Transaction, error) {
	chainID := c.chainID
	if chainID == nil {
		id, err := b.ChainID(ctx)
		if err != nil {
			return nil, fmt.Errorf("chain id: %w", err)
		}
		chainID = id
	}

	balance, err := b.BalanceAt(ctx, c.from, nil)
	if err != nil {
		return nil, fmt.Errorf("balance: %w", err)
	}
	maxCost := new(big.Int).Mul(new(big.Int).SetUint64(c.gasLimit), fee.MaxPerGas())
	if balance.Cmp(maxCost) < 0 {
		return nil, fmt.Errorf("%w: have %s want %s", ErrInsufficientFunds, FormatAmount(balance), FormatAmount(maxCost))
	}

	nonce, err := b.PendingNonceAt(ctx, c.from)
	if err != nil {
		return nil, fmt.Errorf("pending nonce: %w", err)
	}

	to := c.contract
	var inner types.TxData
	if fee.Dynamic() {
		inner = &types.DynamicFeeTx{
			ChainID:   chainID,
			Nonce:     nonce,
			GasTipCap: fee.GasTipCap,
			GasFeeCap: fee.GasFeeCap,
			Gas:       c.gasLimit,
			To:        &to,
			Value:     new(big.Int),
			Data:      data,
		}
	} else {
		inner = &types.LegacyTx{
			Nonce:    nonce,
			GasPrice: fee.GasPrice,
			Gas:      c.gasLimit,
			To:       &to,
			Value:    new(big.Int),
			Data:     data,
		}
	}
	signed, err := types.SignTx(types.NewTx(inner), types.LatestSignerForChainID(chainID), c.key)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	return signed, nil
}

// waitReceipt polls for the receipt. Lookups are reads, so they may move to
// another endpoint; the broadcast itself is never repeated.
func (c *Client) waitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, c.receiptTimeout)
	defer cancel()

	ticker := time.NewTicker(c.receiptPoll)
	defer ticker.Stop()

	for {
		b, err := c.sel.Backend(ctx)
		if err == nil {
			rcpt, err := b.TransactionReceipt(ctx, hash)
			switch {
			case err == nil:
				return rcpt, nil
			case errors.Is(err, ethereum.NotFound):
			default:
				c.invalidateOnTransport(b, err)
				c.logger.Debug().Err(err).Str(log.FieldTxHash, hash.Hex()).Msg("receipt lookup failed")
			}
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: %s", ErrReceiptTimeout, hash.Hex())
			}
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) invalidateOnTransport(b Backend, err error) {
	if isTransportError(err) && !errors.Is(err, ErrInsufficientFunds) {
		c.sel.Invalidate(b)
	}
}

func blockOf(r *types.Receipt) uint64 {
	if r == nil || r.BlockNumber == nil {
		return 0
	}
	return r.BlockNumber.Uint64()
}
