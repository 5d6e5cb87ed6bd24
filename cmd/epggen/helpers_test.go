package main

import (
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/BadgerOps/epggen/internal/cache"
	"github.com/BadgerOps/epggen/internal/config"
	"github.com/BadgerOps/epggen/internal/engine"
	"github.com/BadgerOps/epggen/internal/provider"
	"github.com/BadgerOps/epggen/internal/provider/mailru"
	"github.com/BadgerOps/epggen/internal/store"
)

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	orig := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	os.Stdout = w
	defer func() { os.Stdout = orig }()

	fn()

	_ = w.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("reading captured stdout: %v", err)
	}
	_ = r.Close()
	return string(data)
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.New(":memory:", slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("store.New() failed: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

// useTestComponents points the command globals at a temporary cache with a
// mailru provider and an in-memory history.
func useTestComponents(t *testing.T) *cache.Store {
	t.Helper()
	testLogger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cs, err := cache.New(t.TempDir(), testLogger)
	if err != nil {
		t.Fatalf("cache.New() failed: %v", err)
	}
	reg := provider.NewRegistry()
	reg.Register(mailru.NewMailruProvider(nil, testLogger))
	hist := newTestStore(t)
	cfg := config.DefaultConfig()

	origCfg, origLogger := globalCfg, logger
	origCache, origStore, origEngine, origRegistry := globalCache, globalStore, globalEngine, globalRegistry
	globalCfg = cfg
	logger = testLogger
	globalCache = cs
	globalStore = hist
	globalRegistry = reg
	globalEngine = engine.NewManager(reg, cs, hist, cfg, testLogger)
	t.Cleanup(func() {
		globalCfg, logger = origCfg, origLogger
		globalCache, globalStore, globalEngine, globalRegistry = origCache, origStore, origEngine, origRegistry
	})
	return cs
}
