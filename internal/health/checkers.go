// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package health

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ManuGH/camanchor/internal/records"
	"github.com/ManuGH/camanchor/internal/resilience"
)

// StoreChecker verifies the segment ledger answers. Backends that expose an
// integrity check are asked for it; others must return their stats.
type StoreChecker struct {
	store records.Store
}

// NewStoreChecker creates a checker for the ledger store.
func NewStoreChecker(store records.Store) *StoreChecker {
	return &StoreChecker{store: store}
}

func (c *StoreChecker) Name() string { return "ledger" }

func (c *StoreChecker) Check(ctx context.Context) CheckResult {
	if ic, ok := c.store.(interface{ Check(context.Context) error }); ok {
		if err := ic.Check(ctx); err != nil {
			return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
		}
	}
	st, err := c.store.Stats(ctx)
	if err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
	}
	return CheckResult{
		Status:  StatusHealthy,
		Message: fmt.Sprintf("%d uploaded, %d anchored", st.UploadedCount, st.TxCount),
	}
}

// BlockSource reports the current block height of the bound endpoint.
type BlockSource interface {
	CurrentBlock(ctx context.Context) (uint64, error)
}

// RPCChecker probes ledger access. Losing it degrades the daemon: pinning
// continues, submissions fail and are recorded.
type RPCChecker struct {
	src     BlockSource
	timeout time.Duration
}

// NewRPCChecker creates a ledger access checker bounded by timeout.
func NewRPCChecker(src BlockSource, timeout time.Duration) *RPCChecker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &RPCChecker{src: src, timeout: timeout}
}

func (c *RPCChecker) Name() string { return "ledger_rpc" }

func (c *RPCChecker) Check(ctx context.Context) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	block, err := c.src.CurrentBlock(ctx)
	if err != nil {
		return CheckResult{Status: StatusDegraded, Error: err.Error(), Message: "no ledger access"}
	}
	return CheckResult{Status: StatusHealthy, Message: fmt.Sprintf("block %d", block)}
}

// BreakerChecker reports the balance breaker. An open breaker means uploads
// are paused, which is degraded rather than unready.
type BreakerChecker struct {
	breaker *resilience.BalanceBreaker
}

// NewBreakerChecker creates a checker for the balance breaker.
func NewBreakerChecker(b *resilience.BalanceBreaker) *BreakerChecker {
	return &BreakerChecker{breaker: b}
}

func (c *BreakerChecker) Name() string { return "balance_breaker" }

func (c *BreakerChecker) Check(_ context.Context) CheckResult {
	st := c.breaker.Status()
	if st.IsHalted {
		return CheckResult{Status: StatusDegraded, Message: "pipeline halted: " + st.Reason}
	}
	return CheckResult{Status: StatusHealthy, Message: string(st.State)}
}

// DirChecker checks that a directory exists and is writable.
type DirChecker struct {
	name string
	path string
}

// NewDirChecker creates a writability checker for path.
func NewDirChecker(name, path string) *DirChecker {
	return &DirChecker{name: name, path: path}
}

func (c *DirChecker) Name() string { return c.name }

func (c *DirChecker) Check(_ context.Context) CheckResult {
	info, err := os.Stat(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return CheckResult{Status: StatusUnhealthy, Error: "directory not found", Message: c.path}
		}
		return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
	}
	if !info.IsDir() {
		return CheckResult{Status: StatusUnhealthy, Error: "expected directory, got file"}
	}
	probe := filepath.Join(c.path, ".write_test")
	if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: "not writable: " + err.Error()}
	}
	_ = os.Remove(probe)
	return CheckResult{Status: StatusHealthy, Message: "writable"}
}
