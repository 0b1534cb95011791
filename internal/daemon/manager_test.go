// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/ManuGH/camanchor/internal/log"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func testServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:      "127.0.0.1:0",
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    10 * time.Second,
		ShutdownTimeout: 5 * time.Second,
	}
}

func testDeps() Deps {
	return Deps{
		Logger: log.WithComponent("test"),
		APIHandler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, "ok")
		}),
	}
}

func waitForAddr(t *testing.T, m Manager) string {
	t.Helper()
	var addr string
	require.Eventually(t, func() bool {
		addr = m.Addr()
		return addr != ""
	}, 2*time.Second, 10*time.Millisecond)
	return addr
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}, Timeout: 2 * time.Second}
	resp, err := client.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestNewManager_ValidDeps(t *testing.T) {
	mgr, err := NewManager(testServerConfig(), testDeps())
	require.NoError(t, err)
	assert.NotNil(t, mgr)
	assert.Empty(t, mgr.Addr())
}

func TestNewManager_MissingLogger(t *testing.T) {
	deps := testDeps()
	deps.Logger = zerolog.Nop()
	_, err := NewManager(testServerConfig(), deps)
	assert.ErrorIs(t, err, ErrMissingLogger)
}

func TestNewManager_MissingHandler(t *testing.T) {
	deps := testDeps()
	deps.APIHandler = nil
	_, err := NewManager(testServerConfig(), deps)
	assert.ErrorIs(t, err, ErrMissingAPIHandler)
}

func TestManager_ShutdownBeforeStart(t *testing.T) {
	mgr, err := NewManager(testServerConfig(), testDeps())
	require.NoError(t, err)
	assert.ErrorIs(t, mgr.Shutdown(context.Background()), ErrManagerNotStarted)
}

func TestManager_StartServeShutdown(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	mgr, err := NewManager(testServerConfig(), testDeps())
	require.NoError(t, err)

	var mu sync.Mutex
	var order []string
	for _, name := range []string{"first", "second", "third"} {
		mgr.RegisterShutdownHook(name, func(context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name)
			return nil
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mgr.Start(ctx) }()

	addr := waitForAddr(t, mgr)
	code, body := get(t, "http://"+addr+"/")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("manager did not stop")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"third", "second", "first"}, order, "hooks run LIFO")

	assert.NoError(t, mgr.Shutdown(context.Background()), "second shutdown is a no-op")
}

func TestManager_StartTwice(t *testing.T) {
	mgr, err := NewManager(testServerConfig(), testDeps())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mgr.Start(ctx) }()
	waitForAddr(t, mgr)

	assert.Error(t, mgr.Start(ctx))
	cancel()
	require.NoError(t, <-done)
}

func TestManager_HookErrorsAreJoined(t *testing.T) {
	mgr, err := NewManager(testServerConfig(), testDeps())
	require.NoError(t, err)

	errFirst := errors.New("first failed")
	ran := false
	mgr.RegisterShutdownHook("first", func(context.Context) error { return errFirst })
	mgr.RegisterShutdownHook("second", func(context.Context) error { ran = true; return nil })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = mgr.Start(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, errFirst)
	assert.True(t, ran, "a failing hook does not stop later hooks")
}

func TestManager_ListenConflict(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	cfg := testServerConfig()
	cfg.ListenAddr = ln.Addr().String()
	mgr, err := NewManager(cfg, testDeps())
	require.NoError(t, err)

	hookRan := false
	mgr.RegisterShutdownHook("cleanup", func(context.Context) error { hookRan = true; return nil })

	err = mgr.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to start API server")
	assert.True(t, hookRan, "hooks run when the server cannot bind")
}
