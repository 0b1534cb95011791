// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package chain

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

const testKey = "b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291"

var errConnRefused = errors.New("dial tcp 127.0.0.1:8545: connect: connection refused")

// serverErr mimics a JSON-RPC error answered by a live node.
type serverErr struct {
	code int
	msg  string
}

func (e serverErr) Error() string  { return e.msg }
func (e serverErr) ErrorCode() int { return e.code }

type fakeBackend struct {
	mu sync.Mutex

	name       string
	blockErr   error
	height     uint64
	balance    *big.Int
	balanceErr error
	baseFee    *big.Int
	tip        *big.Int
	tipErr     error
	gasPrice   *big.Int
	sendErr    error
	notFound   int // receipt lookups answered with NotFound before success
	status     uint64

	sent    []*types.Transaction
	closed  bool
	lookups int
}

func newFakeBackend(name string) *fakeBackend {
	return &fakeBackend{
		name:     name,
		height:   100,
		balance:  Gwei(1_000_000_000), // 1 token
		baseFee:  Gwei(10),
		tip:      Gwei(2),
		gasPrice: Gwei(40),
		status:   types.ReceiptStatusSuccessful,
	}
}

func (f *fakeBackend) BlockNumber(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.height, f.blockErr
}

func (f *fakeBackend) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.balanceErr != nil {
		return nil, f.balanceErr
	}
	return new(big.Int).Set(f.balance), nil
}

func (f *fakeBackend) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{Number: big.NewInt(int64(f.height)), BaseFee: f.baseFee}, nil
}

func (f *fakeBackend) SuggestGasTipCap(context.Context) (*big.Int, error) {
	if f.tipErr != nil {
		return nil, f.tipErr
	}
	return f.tip, nil
}

func (f *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) {
	return f.gasPrice, nil
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint64(len(f.sent)), nil
}

func (f *fakeBackend) ChainID(context.Context) (*big.Int, error) {
	return big.NewInt(137), nil
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeBackend) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	if f.lookups <= f.notFound {
		return nil, ethereum.NotFound
	}
	return &types.Receipt{
		Status:      f.status,
		TxHash:      hash,
		BlockNumber: big.NewInt(int64(f.height) + 1),
		GasUsed:     50_000,
	}, nil
}

func (f *fakeBackend) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakeBackend) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// fakeDialer hands out preconfigured backends by URL.
type fakeDialer struct {
	mu       sync.Mutex
	backends map[string]*fakeBackend
	dials    map[string]int
}

func newFakeDialer(backends ...*fakeBackend) *fakeDialer {
	d := &fakeDialer{backends: map[string]*fakeBackend{}, dials: map[string]int{}}
	for _, b := range backends {
		d.backends[b.name] = b
	}
	return d
}

func (d *fakeDialer) Dial(_ context.Context, url string) (Backend, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials[url]++
	b, ok := d.backends[url]
	if !ok {
		return nil, errConnRefused
	}
	return b, nil
}

func (d *fakeDialer) count(url string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials[url]
}
