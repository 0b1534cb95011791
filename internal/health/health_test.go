// SPDX-License-Identifier: MIT

package health

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/ManuGH/camanchor/internal/records"
	"github.com/ManuGH/camanchor/internal/resilience"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type daemonChecks struct {
	store   records.Store
	rpcErr  error
	breaker *resilience.BalanceBreaker
	capture string
}

func newDaemonChecks(t *testing.T) *daemonChecks {
	t.Helper()
	return &daemonChecks{
		store:   records.NewMemoryStore(),
		breaker: resilience.NewBalanceBreaker(fixedBalance(10), big.NewInt(5), time.Minute),
		capture: t.TempDir(),
	}
}

// manager registers the checks the way the daemon does.
func (d *daemonChecks) manager(opts ...Option) *Manager {
	m := NewManager("v1.2.0", opts...)
	m.Register(NewStoreChecker(d.store), Critical)
	m.Register(NewDirChecker("capture_dir", d.capture), Critical)
	m.Register(NewRPCChecker(blockFunc(func(context.Context) (uint64, error) {
		if d.rpcErr != nil {
			return 0, d.rpcErr
		}
		return 19_000_000, nil
	}), time.Second), Informational)
	m.Register(NewBreakerChecker(d.breaker), Informational)
	return m
}

func TestReadyAllChecksPass(t *testing.T) {
	d := newDaemonChecks(t)
	resp := d.manager().Ready(context.Background(), true)

	assert.True(t, resp.Ready)
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Empty(t, resp.Failing)
	require.Len(t, resp.Checks, 4)
	assert.Equal(t, "critical", resp.Checks["ledger"].Severity)
	assert.Equal(t, "informational", resp.Checks["ledger_rpc"].Severity)
	assert.Equal(t, "block 19000000", resp.Checks["ledger_rpc"].Message)
}

func TestReadyLedgerRPCDownOnlyDegrades(t *testing.T) {
	d := newDaemonChecks(t)
	d.rpcErr = errors.New("dial tcp: connection refused")

	resp := d.manager().Ready(context.Background(), true)
	assert.True(t, resp.Ready, "pinning continues without ledger access")
	assert.Equal(t, StatusDegraded, resp.Status)
	assert.Equal(t, StatusDegraded, resp.Checks["ledger_rpc"].Status)
}

func TestReadyHaltedBreakerOnlyDegrades(t *testing.T) {
	d := newDaemonChecks(t)
	d.breaker.Trip(resilience.ReasonSubmitFailed)

	resp := d.manager().Ready(context.Background(), false)
	assert.True(t, resp.Ready)
	assert.Equal(t, StatusDegraded, resp.Status)
	assert.Nil(t, resp.Checks, "checks are only listed when verbose")
}

func TestReadyFailsOnBrokenLedgerStore(t *testing.T) {
	d := newDaemonChecks(t)
	d.store = brokenStore{records.NewMemoryStore()}
	d.rpcErr = errors.New("timeout")

	resp := d.manager().Ready(context.Background(), false)
	assert.False(t, resp.Ready)
	assert.Equal(t, StatusUnhealthy, resp.Status)
	assert.Equal(t, []string{"ledger"}, resp.Failing)
}

func TestReadyFailsOnMissingCaptureDir(t *testing.T) {
	d := newDaemonChecks(t)
	d.capture = filepath.Join(t.TempDir(), "gone")

	resp := d.manager().Ready(context.Background(), true)
	assert.False(t, resp.Ready)
	assert.Equal(t, []string{"capture_dir"}, resp.Failing)
	assert.Equal(t, "directory not found", resp.Checks["capture_dir"].Error)
}

func TestInformationalUnhealthyDoesNotFailReadiness(t *testing.T) {
	m := NewManager("v1")
	m.Register(stubChecker{name: "extra", status: StatusUnhealthy}, Informational)

	resp := m.Ready(context.Background(), false)
	assert.True(t, resp.Ready)
	assert.Equal(t, StatusDegraded, resp.Status)
}

func TestRegisterReplacesSameName(t *testing.T) {
	m := NewManager("v1")
	m.Register(stubChecker{name: "ledger", status: StatusUnhealthy}, Critical)
	m.Register(stubChecker{name: "ledger", status: StatusHealthy}, Critical)

	resp := m.Ready(context.Background(), true)
	assert.True(t, resp.Ready)
	assert.Len(t, resp.Checks, 1)
}

func TestPanickingCheckIsUnhealthy(t *testing.T) {
	m := NewManager("v1")
	m.Register(stubChecker{name: "ledger", panics: true}, Critical)

	resp := m.Ready(context.Background(), true)
	assert.False(t, resp.Ready)
	assert.Contains(t, resp.Checks["ledger"].Error, "check panicked")
	assert.Equal(t, "critical", resp.Checks["ledger"].Severity)
}

func TestCheckTimeoutBoundsSlowChecker(t *testing.T) {
	m := NewManager("v1", WithCheckTimeout(20*time.Millisecond))
	m.Register(NewRPCChecker(blockFunc(func(ctx context.Context) (uint64, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	}), time.Hour), Informational)

	start := time.Now()
	resp := m.Ready(context.Background(), true)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, StatusDegraded, resp.Checks["ledger_rpc"].Status)
	assert.Contains(t, resp.Checks["ledger_rpc"].Error, context.DeadlineExceeded.Error())
}

func TestHealthVerboseRunsChecks(t *testing.T) {
	d := newDaemonChecks(t)
	d.store = brokenStore{records.NewMemoryStore()}
	m := d.manager()

	quiet := m.Health(context.Background(), false)
	assert.Equal(t, StatusHealthy, quiet.Status, "liveness does not depend on components")
	assert.Nil(t, quiet.Checks)
	assert.Equal(t, "v1.2.0", quiet.Version)

	loud := m.Health(context.Background(), true)
	assert.Equal(t, StatusUnhealthy, loud.Status)
	assert.Len(t, loud.Checks, 4)
}

func TestUptime(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	m := NewManager("v1", WithClock(func() time.Time { return now }))
	now = now.Add(90 * time.Second)

	assert.Equal(t, 90*time.Second, m.Uptime())
	resp := m.Health(context.Background(), false)
	assert.Equal(t, int64(90), resp.Uptime)
	assert.Equal(t, now, resp.Timestamp)
}

func TestServeReady(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*daemonChecks)
		query     string
		wantCode  int
		wantReady bool
	}{
		{"healthy", func(*daemonChecks) {}, "", http.StatusOK, true},
		{"rpc down", func(d *daemonChecks) { d.rpcErr = errors.New("refused") }, "?verbose=1", http.StatusOK, true},
		{"store broken", func(d *daemonChecks) { d.store = brokenStore{records.NewMemoryStore()} }, "?verbose=true", http.StatusServiceUnavailable, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newDaemonChecks(t)
			tt.mutate(d)

			w := httptest.NewRecorder()
			d.manager().ServeReady(w, httptest.NewRequest(http.MethodGet, "/readyz"+tt.query, nil))

			assert.Equal(t, tt.wantCode, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
			assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))

			var resp ReadinessResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			assert.Equal(t, tt.wantReady, resp.Ready)
			assert.Equal(t, tt.query != "", resp.Checks != nil)
		})
	}
}

func TestServeHealthAlwaysOK(t *testing.T) {
	d := newDaemonChecks(t)
	d.store = brokenStore{records.NewMemoryStore()}

	w := httptest.NewRecorder()
	d.manager().ServeHealth(w, httptest.NewRequest(http.MethodGet, "/healthz?verbose=true", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	var resp HealthResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, StatusUnhealthy, resp.Status)
	assert.Contains(t, resp.Checks, "ledger")
}

func TestServeHandlersSurviveWriteErrors(t *testing.T) {
	m := newDaemonChecks(t).manager()
	m.ServeHealth(&brokenWriter{header: make(http.Header)}, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	m.ServeReady(&brokenWriter{header: make(http.Header)}, httptest.NewRequest(http.MethodGet, "/readyz", nil))
}

type stubChecker struct {
	name   string
	status Status
	panics bool
}

func (s stubChecker) Name() string { return s.name }

func (s stubChecker) Check(context.Context) CheckResult {
	if s.panics {
		panic("boom")
	}
	return CheckResult{Status: s.status}
}

type brokenWriter struct {
	header http.Header
}

func (w *brokenWriter) Header() http.Header       { return w.header }
func (w *brokenWriter) Write([]byte) (int, error) { return 0, assert.AnError }
func (w *brokenWriter) WriteHeader(int)           {}
