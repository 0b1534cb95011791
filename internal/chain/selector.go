// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package chain

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/ManuGH/camanchor/internal/log"
	"github.com/ManuGH/camanchor/internal/metrics"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

const defaultProbeTimeout = 5 * time.Second

// Selector binds the first live endpoint of a ranked list.
type Selector struct {
	endpoints    []string
	dial         Dialer
	probeTimeout time.Duration
	limiter      *rate.Limiter
	group        singleflight.Group
	logger       zerolog.Logger

	mu       sync.RWMutex
	bound    Backend
	boundURL string
}

// NewSelector returns a selector over endpoints in priority order.
// Reselection after a failure is allowed at most once per reselectEvery;
// zero disables the throttle.
func NewSelector(endpoints []string, dial Dialer, probeTimeout, reselectEvery time.Duration) *Selector {
	if dial == nil {
		dial = DialEthereum
	}
	if probeTimeout <= 0 {
		probeTimeout = defaultProbeTimeout
	}
	limit := rate.Inf
	if reselectEvery > 0 {
		limit = rate.Every(reselectEvery)
	}
	return &Selector{
		endpoints:    append([]string(nil), endpoints...),
		dial:         dial,
		probeTimeout: probeTimeout,
		limiter:      rate.NewLimiter(limit, 1),
		logger:       log.WithComponent("rpc-selector"),
	}
}

// Select probes every endpoint in order and binds the first that reports a
// block height within the probe timeout. It replaces any bound endpoint.
func (s *Selector) Select(ctx context.Context) (Backend, error) {
	v, err, _ := s.group.Do("select", func() (any, error) {
		return s.selectLocked(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(Backend), nil
}

func (s *Selector) selectLocked(ctx context.Context) (Backend, error) {
	var errs []error
	for _, endpoint := range s.endpoints {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b, height, err := s.probe(ctx, endpoint)
		metrics.RecordRPCProbe(redact(endpoint), err == nil)
		if err != nil {
			s.logger.Warn().
				Err(err).
				Str(log.FieldEndpoint, redact(endpoint)).
				Msg("rpc endpoint probe failed")
			errs = append(errs, fmt.Errorf("%s: %w", redact(endpoint), err))
			continue
		}

		s.mu.Lock()
		prev := s.bound
		s.bound, s.boundURL = b, endpoint
		s.mu.Unlock()
		if prev != nil && prev != b {
			prev.Close()
		}

		metrics.SetBoundEndpoint(redactAll(s.endpoints), redact(endpoint))
		s.logger.Info().
			Str(log.FieldEvent, "rpc.bound").
			Str(log.FieldEndpoint, redact(endpoint)).
			Uint64(log.FieldBlock, height).
			Msg("rpc endpoint bound")
		return b, nil
	}

	s.mu.Lock()
	prev := s.bound
	s.bound, s.boundURL = nil, ""
	s.mu.Unlock()
	if prev != nil {
		prev.Close()
	}
	metrics.SetBoundEndpoint(redactAll(s.endpoints), "")
	if len(errs) == 0 {
		return nil, ErrNoEndpoint
	}
	return nil, fmt.Errorf("%w: %w", ErrNoEndpoint, errors.Join(errs...))
}

func (s *Selector) probe(ctx context.Context, endpoint string) (Backend, uint64, error) {
	pctx, cancel := context.WithTimeout(ctx, s.probeTimeout)
	defer cancel()

	b, err := s.dial(pctx, endpoint)
	if err != nil {
		return nil, 0, fmt.Errorf("dial: %w", err)
	}
	height, err := b.BlockNumber(pctx)
	if err != nil {
		b.Close()
		return nil, 0, fmt.Errorf("block number: %w", err)
	}
	return b, height, nil
}

// Backend returns the bound endpoint, selecting one if none is bound.
// Reselection is throttled; a throttled call fails with ErrNoEndpoint.
func (s *Selector) Backend(ctx context.Context) (Backend, error) {
	s.mu.RLock()
	b := s.bound
	s.mu.RUnlock()
	if b != nil {
		return b, nil
	}
	if !s.limiter.Allow() {
		return nil, fmt.Errorf("%w: reselection throttled", ErrNoEndpoint)
	}
	return s.Select(ctx)
}

// Invalidate unbinds b after a transport failure so the next Backend call
// reselects. A stale b (already replaced) is ignored.
func (s *Selector) Invalidate(b Backend) {
	s.mu.Lock()
	if s.bound == nil || s.bound != b {
		s.mu.Unlock()
		return
	}
	endpoint := s.boundURL
	s.bound, s.boundURL = nil, ""
	s.mu.Unlock()

	b.Close()
	metrics.SetBoundEndpoint(redactAll(s.endpoints), "")
	s.logger.Warn().
		Str(log.FieldEvent, "rpc.unbound").
		Str(log.FieldEndpoint, redact(endpoint)).
		Msg("rpc endpoint invalidated")
}

// Endpoint returns the bound endpoint with credentials removed, or "".
func (s *Selector) Endpoint() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return redact(s.boundURL)
}

// Close releases the bound connection.
func (s *Selector) Close() {
	s.mu.Lock()
	b := s.bound
	s.bound, s.boundURL = nil, ""
	s.mu.Unlock()
	if b != nil {
		b.Close()
	}
}

// redact strips userinfo, path and query, which commonly carry API keys.
func redact(endpoint string) string {
	if endpoint == "" {
		return ""
	}
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return "invalid-endpoint"
	}
	return u.Scheme + "://" + u.Host
}

func redactAll(endpoints []string) []string {
	out := make([]string, len(endpoints))
	for i, e := range endpoints {
		out[i] = redact(e)
	}
	return out
}
