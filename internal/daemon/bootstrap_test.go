// SPDX-License-Identifier: MIT

package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ManuGH/camanchor/internal/chain"
	"github.com/ManuGH/camanchor/internal/config"
	"github.com/ManuGH/camanchor/internal/log"
	"github.com/ManuGH/camanchor/internal/pinning"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errUnreachable = errors.New("dial tcp 127.0.0.1:1: connect: connection refused")

type stubPinner struct{}

func (stubPinner) Pin(context.Context, string, string) (pinning.PinResult, error) {
	return pinning.PinResult{}, pinning.ErrNoCredentials
}

func (stubPinner) ListPinned(context.Context, int) ([]pinning.Pin, error) {
	return nil, nil
}

func testConfig(t *testing.T) config.AppConfig {
	t.Helper()
	cfg := config.Defaults()
	cfg.Version = "test"
	cfg.DataDir = t.TempDir()
	cfg.Capture.Dir = filepath.Join(cfg.DataDir, "capture")
	require.NoError(t, os.MkdirAll(cfg.Capture.Dir, 0o750))
	cfg.Store.Backend = config.StoreMemory
	cfg.Ledger.Endpoints = []string{"http://127.0.0.1:1"}
	cfg.Ledger.ProbeTimeout = 100 * time.Millisecond
	cfg.Breaker.SampleInterval = 50 * time.Millisecond
	cfg.API.ListenAddr = "127.0.0.1:0"
	cfg.API.ShutdownTimeout = 5 * time.Second
	return cfg
}

func testOverrides() Overrides {
	return Overrides{
		Dialer: func(context.Context, string) (chain.Backend, error) { return nil, errUnreachable },
		Pinner: stubPinner{},
	}
}

func TestBootstrapHoldsInstanceLock(t *testing.T) {
	cfg := testConfig(t)

	rt, err := Bootstrap(cfg, testOverrides())
	require.NoError(t, err)
	require.NotNil(t, rt.Service)

	_, err = Bootstrap(cfg, testOverrides())
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	// Never started: release what Bootstrap acquired directly.
	require.NoError(t, rt.Service.Close())
	lock, err := AcquireLock(cfg.LockPath())
	assert.ErrorIs(t, err, ErrAlreadyRunning)
	assert.Nil(t, lock)
}

func TestBootstrapRejectsBadMinBalance(t *testing.T) {
	cfg := testConfig(t)
	cfg.Breaker.MinBalance = "lots"

	_, err := Bootstrap(cfg, testOverrides())
	require.Error(t, err)

	// The lock taken before the failure was released.
	lock, err := AcquireLock(cfg.LockPath())
	require.NoError(t, err)
	assert.NoError(t, lock.Release())
}

func TestAppServesAndShutsDown(t *testing.T) {
	cfg := testConfig(t)
	rt, err := Bootstrap(cfg, testOverrides())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewApp(log.WithComponent("test"), rt).Run(ctx) }()

	addr := waitForAddr(t, rt.Manager)

	code, body := get(t, "http://"+addr+"/api/v1/recording/stats")
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"uploadedCount":0,"txCount":0}`, body)

	code, body = get(t, "http://"+addr+"/healthz?verbose=true")
	require.Equal(t, http.StatusOK, code)
	var health map[string]any
	require.NoError(t, json.Unmarshal([]byte(body), &health))
	assert.Equal(t, "degraded", health["status"], "no ledger endpoint is reachable")

	code, body = get(t, "http://"+addr+"/readyz")
	assert.Equal(t, http.StatusOK, code, "ledger rpc is informational")
	assert.Contains(t, body, `"ready":true`)

	code, _ = get(t, "http://"+addr+"/api/v1/recording/balance")
	assert.Equal(t, http.StatusBadGateway, code, "no signing key configured")

	code, _ = get(t, "http://"+addr+"/api/v1/recording/progress")
	assert.Equal(t, http.StatusOK, code)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("app did not stop")
	}

	// Shutdown hooks released the lock.
	lock, err := AcquireLock(cfg.LockPath())
	require.NoError(t, err)
	assert.NoError(t, lock.Release())
}

func TestAppRequiresRuntime(t *testing.T) {
	assert.ErrorIs(t, NewApp(log.WithComponent("test"), nil).Run(context.Background()), ErrMissingManager)
}
