package main

import (
	"fmt"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/oxspec/speccompiler/internal/cache"
	"github.com/oxspec/speccompiler/internal/config"
	"github.com/oxspec/speccompiler/internal/diagnostics"
	"github.com/oxspec/speccompiler/internal/emit"
	"github.com/oxspec/speccompiler/internal/handlers"
	"github.com/oxspec/speccompiler/internal/logging"
	"github.com/oxspec/speccompiler/internal/orchestrator"
	"github.com/oxspec/speccompiler/internal/proof"
	"github.com/oxspec/speccompiler/internal/renderer"
	"github.com/oxspec/speccompiler/internal/specir"
	"github.com/oxspec/speccompiler/internal/typeregistry"

	_ "github.com/oxspec/speccompiler/models/default"
)

// engine bundles one build's worth of state (§9 "global state → engine
// object" — every engine owns exactly one store, one diagnostics
// collector, one type registry, one orchestrator, so re-entrant builds in
// the same process never share mutable package-level state).
type engine struct {
	cfg        *config.Config
	logger     *zap.Logger
	store      *specir.Store
	buildCache *cache.Cache
	proofs     *proof.Registry
	orch       *orchestrator.Orchestrator
	diags      *diagnostics.Collector
}

// newEngine loads configuration, opens the Spec-IR store and build cache,
// and registers every built-in phase handler plus the loaded type models'
// exports. includeEmit controls whether the EMIT-phase writer/assembler is
// registered — `verify` stops the pipeline at VERIFY and never touches an
// external writer.
func newEngine(configPath string, verbose bool, includeEmit bool) (*engine, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if verbose {
		cfg.LoggingLevel = "debug"
	}

	logger, err := logging.New(cfg.LoggingLevel)
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}

	store, err := specir.Open(filepath.Join(cfg.BuildDir, "specir.db"))
	if err != nil {
		return nil, fmt.Errorf("opening Spec-IR store: %w", err)
	}

	buildCache, err := cache.Open(cfg.CacheDSN, cfg.LoggingLevel == "debug")
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("opening build cache: %w", err)
	}

	metrics := orchestrator.NewMetrics(prometheus.DefaultRegisterer)
	orch := orchestrator.New(metrics).WithLogger(logger)

	for _, h := range handlers.NewInitializeHandlers() {
		if err := orch.Register(h); err != nil {
			return nil, fmt.Errorf("registering INITIALIZE handler: %w", err)
		}
	}
	for _, h := range handlers.NewAnalyzeHandlers() {
		if err := orch.Register(h); err != nil {
			return nil, fmt.Errorf("registering ANALYZE handler: %w", err)
		}
	}
	for _, h := range handlers.NewTransformHandlers() {
		if err := orch.Register(h); err != nil {
			return nil, fmt.Errorf("registering TRANSFORM handler: %w", err)
		}
	}

	renderPool := renderer.NewPool(cfg.WriterConcurrency, filepath.Join(cfg.BuildDir, "cache", "external"))
	if err := orch.Register(ExternalRenderHandler(cfg, renderPool)); err != nil {
		return nil, fmt.Errorf("registering external-renderer: %w", err)
	}

	proofs := proof.NewRegistryWithBaseline()
	if err := orch.Register(handlers.Verifier(proofs, cfg)); err != nil {
		return nil, fmt.Errorf("registering VERIFY handler: %w", err)
	}

	if includeEmit {
		writer := &emit.ExternalWriter{Executable: "pandoc"}
		if err := orch.Register(emit.Emitter(cfg, buildCache, writer)); err != nil {
			return nil, fmt.Errorf("registering EMIT handler: %w", err)
		}
	}

	loader := typeregistry.NewLoader(store, orch, proofs)
	if err := loader.Load(cfg.Models); err != nil {
		return nil, fmt.Errorf("loading type models: %w", err)
	}

	return &engine{
		cfg:        cfg,
		logger:     logger,
		store:      store,
		buildCache: buildCache,
		proofs:     proofs,
		orch:       orch,
		diags:      diagnostics.NewCollector(),
	}, nil
}

func (e *engine) Close() {
	_ = e.buildCache.Close()
	_ = e.store.Close()
	_ = e.logger.Sync()
}
