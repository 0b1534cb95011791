// SPDX-License-Identifier: MIT

// Package health reports liveness and readiness of the anchoring daemon.
//
// Checks are registered with a Severity. Only Critical checks decide
// readiness: the ledger store and the capture directory. Informational checks
// such as ledger RPC access or the balance breaker degrade the reported
// status but never take the daemon out of rotation, since the pipeline keeps
// pinning and recording failures while they are down.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/ManuGH/camanchor/internal/log"
	"golang.org/x/sync/errgroup"
)

// Status is the health of one check or of the daemon as a whole.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Severity decides whether a failing check makes the daemon unready.
type Severity int

const (
	// Critical checks gate readiness.
	Critical Severity = iota
	// Informational checks only degrade the reported status.
	Informational
)

func (s Severity) String() string {
	if s == Critical {
		return "critical"
	}
	return "informational"
}

// DefaultCheckTimeout bounds each check when the manager has no override.
const DefaultCheckTimeout = 5 * time.Second

// CheckResult is the outcome of one check.
type CheckResult struct {
	Status   Status `json:"status"`
	Message  string `json:"message,omitempty"`
	Error    string `json:"error,omitempty"`
	Severity string `json:"severity,omitempty"`
	// LatencyMS is filled in by the manager.
	LatencyMS int64 `json:"latency_ms"`
}

// HealthResponse is the liveness body. Checks are only run and included
// when verbose output is requested.
type HealthResponse struct {
	Status    Status                 `json:"status"`
	Version   string                 `json:"version,omitempty"`
	Uptime    int64                  `json:"uptime_seconds"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// ReadinessResponse is the readiness body. Failing lists the critical checks
// that made the daemon unready and is always present when non-empty.
type ReadinessResponse struct {
	Ready     bool                   `json:"ready"`
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Failing   []string               `json:"failing,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// Checker is one component check.
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}

type registration struct {
	checker  Checker
	severity Severity
}

// Manager runs the registered checks.
type Manager struct {
	version   string
	startedAt time.Time
	now       func() time.Time
	timeout   time.Duration

	mu     sync.RWMutex
	checks []registration
}

// Option configures a Manager.
type Option func(*Manager)

// WithCheckTimeout bounds every check run by the manager.
func WithCheckTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithClock replaces the wall clock, for uptime in tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a manager reporting version.
func NewManager(version string, opts ...Option) *Manager {
	m := &Manager{
		version: version,
		now:     time.Now,
		timeout: DefaultCheckTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.startedAt = m.now()
	return m
}

// Register adds a check. Registering a second check under the same name
// replaces the first.
func (m *Manager) Register(c Checker, sev Severity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.checks {
		if r.checker.Name() == c.Name() {
			m.checks[i] = registration{checker: c, severity: sev}
			return
		}
	}
	m.checks = append(m.checks, registration{checker: c, severity: sev})
}

// Uptime is the time since the manager was created.
func (m *Manager) Uptime() time.Duration {
	return m.now().Sub(m.startedAt)
}

type evaluation struct {
	results map[string]CheckResult
	status  Status
	failing []string
}

func (e evaluation) ready() bool { return len(e.failing) == 0 }

// evaluate runs all checks concurrently. A critical check that reports
// unhealthy fails readiness; an informational one only degrades.
func (m *Manager) evaluate(ctx context.Context) evaluation {
	m.mu.RLock()
	regs := append([]registration(nil), m.checks...)
	m.mu.RUnlock()

	results := make([]CheckResult, len(regs))
	var g errgroup.Group
	for i, r := range regs {
		g.Go(func() error {
			results[i] = m.runOne(ctx, r)
			return nil
		})
	}
	_ = g.Wait()

	ev := evaluation{results: make(map[string]CheckResult, len(regs)), status: StatusHealthy}
	for i, r := range regs {
		res := results[i]
		ev.results[r.checker.Name()] = res
		switch {
		case res.Status == StatusUnhealthy && r.severity == Critical:
			ev.status = StatusUnhealthy
			ev.failing = append(ev.failing, r.checker.Name())
		case res.Status != StatusHealthy && ev.status == StatusHealthy:
			ev.status = StatusDegraded
		}
	}
	sort.Strings(ev.failing)
	return ev
}

func (m *Manager) runOne(ctx context.Context, r registration) (res CheckResult) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			res = CheckResult{Status: StatusUnhealthy, Error: fmt.Sprintf("check panicked: %v", p)}
		}
		res.Severity = r.severity.String()
		res.LatencyMS = time.Since(start).Milliseconds()
	}()
	return r.checker.Check(ctx)
}

// Health is the liveness view. The process is alive whenever it can answer;
// verbose runs the checks and reports their aggregate status.
func (m *Manager) Health(ctx context.Context, verbose bool) HealthResponse {
	resp := HealthResponse{
		Status:    StatusHealthy,
		Version:   m.version,
		Uptime:    int64(m.Uptime().Seconds()),
		Timestamp: m.now().UTC(),
	}
	if verbose {
		ev := m.evaluate(ctx)
		resp.Status = ev.status
		resp.Checks = ev.results
	}
	return resp
}

// Ready is the readiness view. Checks always run; verbose adds per-check
// results to the response.
func (m *Manager) Ready(ctx context.Context, verbose bool) ReadinessResponse {
	ev := m.evaluate(ctx)
	resp := ReadinessResponse{
		Ready:     ev.ready(),
		Status:    ev.status,
		Timestamp: m.now().UTC(),
		Failing:   ev.failing,
	}
	if verbose {
		resp.Checks = ev.results
	}
	return resp
}

func verboseParam(r *http.Request) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get("verbose"))
	return err == nil && v
}

func writeJSON(w http.ResponseWriter, code int, body any) error {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	return json.NewEncoder(w).Encode(body)
}

// ServeHealth answers liveness probes. It always returns 200.
func (m *Manager) ServeHealth(w http.ResponseWriter, r *http.Request) {
	logger := log.WithContext(r.Context(), log.WithComponent("health"))
	verbose := verboseParam(r)
	resp := m.Health(r.Context(), verbose)

	if err := writeJSON(w, http.StatusOK, resp); err != nil {
		logger.Error().Err(err).Str(log.FieldEvent, "health.encode_error").Msg("failed to encode health response")
	}
	logger.Debug().
		Str(log.FieldEvent, "health.checked").
		Str("status", string(resp.Status)).
		Bool("verbose", verbose).
		Msg("health check performed")
}

// ServeReady answers readiness probes with 503 while any critical check fails.
func (m *Manager) ServeReady(w http.ResponseWriter, r *http.Request) {
	logger := log.WithContext(r.Context(), log.WithComponent("readiness"))
	verbose := verboseParam(r)
	resp := m.Ready(r.Context(), verbose)

	code := http.StatusOK
	if !resp.Ready {
		code = http.StatusServiceUnavailable
		logger.Warn().
			Str(log.FieldEvent, "readiness.failed").
			Strs("failing", resp.Failing).
			Msg("daemon not ready")
	}
	if err := writeJSON(w, code, resp); err != nil {
		logger.Error().Err(err).Str(log.FieldEvent, "readiness.encode_error").Msg("failed to encode readiness response")
	}
	logger.Debug().
		Str(log.FieldEvent, "readiness.checked").
		Str("status", string(resp.Status)).
		Bool("ready", resp.Ready).
		Bool("verbose", verbose).
		Msg("readiness check performed")
}
