// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package chain talks to the public ledger: endpoint selection, fee
// escalation and anchoring transactions.
package chain

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

var (
	// ErrNoEndpoint means no configured endpoint answered a liveness probe.
	ErrNoEndpoint = errors.New("no ledger access: all rpc endpoints failed")
	// ErrNoSigner means no signing key is configured.
	ErrNoSigner = errors.New("no signing key configured")
	// ErrNoFeeData means the endpoint returned neither fee model.
	ErrNoFeeData = errors.New("no fee data available")
	// ErrInsufficientFunds is returned by the pre-flight balance check.
	ErrInsufficientFunds = errors.New("insufficient funds for gas * price")
	// ErrReverted means the transaction was mined with a failed status.
	ErrReverted = errors.New("transaction reverted")
	// ErrReceiptTimeout means the transaction was broadcast but no receipt
	// arrived in time.
	ErrReceiptTimeout = errors.New("timed out waiting for receipt")
)

// Backend is the subset of the JSON-RPC client the pipeline uses.
// *ethclient.Client satisfies it.
type Backend interface {
	BlockNumber(ctx context.Context) (uint64, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	ChainID(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	Close()
}

// Dialer connects to one endpoint URL.
type Dialer func(ctx context.Context, url string) (Backend, error)

// DialEthereum is the production Dialer.
func DialEthereum(ctx context.Context, url string) (Backend, error) {
	c, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// isTransportError reports whether err means the endpoint itself is
// unreachable or broken, as opposed to a server-side answer.
func isTransportError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ethereum.NotFound) {
		return false
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return false
	}
	var dataErr rpc.DataError
	return !errors.As(err, &dataErr)
}
