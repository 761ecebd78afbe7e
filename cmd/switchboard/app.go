package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"switchboard/internal/bridge"
	"switchboard/internal/chat"
	"switchboard/internal/config"
	"switchboard/internal/history"
	"switchboard/internal/logging"
	"switchboard/internal/registry"
	"switchboard/internal/store"
	"switchboard/internal/summary"
	"switchboard/internal/types"
	"switchboard/internal/workspace"
)

// app holds the fully wired component graph for one process.
type app struct {
	cfg       *config.Config
	store     *store.LocalStore
	registry  *registry.Registry
	loader    *history.Loader
	bridge    *bridge.Bridge
	sums      *summary.SummaryStore
	summaries *summary.Service
	index     *workspace.Index
	watcher   *workspace.Watcher
	chat      *chat.Service
}

// newApp loads config and wires every component. The summary generator is
// optional: without an API key the trigger policy still runs but generation
// is skipped.
func newApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if err := os.MkdirAll(cfg.BaseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create base dir: %w", err)
	}
	if err := logging.Initialize(cfg.BaseDir); err != nil {
		fmt.Fprintf(os.Stderr, "warning: file logging disabled: %v\n", err)
	}

	st, err := store.NewLocalStore(cfg.Store.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	caps := cfg.AllEngineCaps()
	ttl, err := cfg.CacheTTL()
	if err != nil {
		return nil, err
	}
	sweep, err := cfg.SweepInterval()
	if err != nil {
		return nil, err
	}

	reg := registry.NewRegistry(st, caps, ttl, sweep)
	loader := history.NewLoader(caps)
	br := bridge.NewBridge(caps, cfg.Bridge, loader, st)

	var gen summary.Generator
	if cfg.Summary.APIKey != "" {
		g, err := summary.NewGenAIGenerator(ctx, cfg.Summary.APIKey, cfg.Summary.Model)
		if err != nil {
			logging.Get(logging.CategorySummary).Warn("Generator unavailable: %v", err)
		} else {
			gen = g
		}
	}
	sums := summary.NewSummaryStore(st, gen, cfg.Summary)
	svc := summary.NewService(sums, cfg.Summary.MessageThreshold, cfg.Summary.Cadence)

	index := workspace.NewIndex(caps)
	watcher, err := workspace.NewWatcher(caps, reg)
	if err != nil {
		logging.Workspace("Watcher unavailable: %v", err)
		watcher = nil
	}

	adapters := map[types.Engine]chat.Adapter{
		types.EngineClaude: &claudeAdapter{},
		types.EngineCodex:  &codexAdapter{},
		types.EngineGemini: &geminiAdapter{},
	}
	chatSvc := chat.NewService(st, reg, loader, br, svc, sums, adapters)

	return &app{
		cfg:       cfg,
		store:     st,
		registry:  reg,
		loader:    loader,
		bridge:    br,
		sums:      sums,
		summaries: svc,
		index:     index,
		watcher:   watcher,
		chat:      chatSvc,
	}, nil
}

// close tears the graph down in reverse dependency order, waiting for any
// in-flight summary generation first.
func (a *app) close() {
	a.chat.Wait()
	a.summaries.Wait()
	if a.watcher != nil {
		a.watcher.Close()
	}
	a.registry.Close()
	if err := a.store.Close(); err != nil {
		logging.Get(logging.CategoryStore).Warn("Store close: %v", err)
	}
	logging.CloseAll()
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".switchboard", "config.yaml")
}
