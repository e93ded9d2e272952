package server

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/HendryAvila/wayfinder/internal/apportion"
	"github.com/HendryAvila/wayfinder/internal/config"
	"github.com/HendryAvila/wayfinder/internal/engine"
	"github.com/HendryAvila/wayfinder/internal/graph"
	"github.com/HendryAvila/wayfinder/internal/learner"
	"github.com/HendryAvila/wayfinder/internal/linkstrength"
	"github.com/HendryAvila/wayfinder/internal/planner"
	"github.com/HendryAvila/wayfinder/internal/quality"
	"github.com/HendryAvila/wayfinder/internal/store"
	"github.com/HendryAvila/wayfinder/internal/traversal"
)

// App is the assembled engine: every component built from one Config and
// sharing one graph.
type App struct {
	Config     *config.Config
	Logger     *zap.Logger
	Store      graph.Store
	Graph      *graph.Graph
	Learner    *learner.Learner
	Links      *linkstrength.Manager
	Activation *traversal.Activation
	Selector   *traversal.Selector
	Planner    *planner.Planner
	Engine     *engine.Engine
}

// Option customizes Build.
type Option func(*buildOptions)

type buildOptions struct {
	store graph.Store
	clock func() time.Time
}

// WithStore replaces the configured store. Used by tests and tools that
// bring their own persistence.
func WithStore(s graph.Store) Option { return func(o *buildOptions) { o.store = s } }

// WithClock sets the clock shared by the graph, selector and engine.
func WithClock(now func() time.Time) Option { return func(o *buildOptions) { o.clock = now } }

// Build opens the store, restores the graph and wires every component.
// The returned cleanup closes the engine and the store; call it after Run
// has returned. It is always non-nil and safe to call even if Build failed.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (*App, func(), error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := buildOptions{clock: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	st := o.store
	if st == nil {
		var err error
		if st, err = openStore(cfg); err != nil {
			return nil, noop, err
		}
	}
	closeStore := func() {
		if err := st.Close(); err != nil {
			logger.Warn("store close", zap.Error(err))
		}
	}

	records, err := st.Load(ctx)
	if err != nil {
		closeStore()
		return nil, noop, fmt.Errorf("loading graph: %w", err)
	}
	g, err := graph.FromRecords(records,
		graph.WithInitialLinkStrength(cfg.Links.InitialStrength),
		graph.WithClock(o.clock),
	)
	if err != nil {
		closeStore()
		return nil, noop, fmt.Errorf("restoring graph: %w", err)
	}
	nodes, edges := g.Counts()
	logger.Info("graph restored", zap.Int("nodes", nodes), zap.Int("edges", edges), zap.Int("agent_states", len(records.Agents)))

	l := learner.New(learnerConfig(cfg.Learner), logger)
	lookup := quality.NewGraphLookup(g, l)
	registry := quality.DefaultRegistry().With(cfg.Quality.Schemas)
	scorer := quality.NewScorer(qualityConfig(cfg.Quality), registry, lookup, lookup, logger)

	appt, err := apportion.New(cfg.Apportion.TotalSeats)
	if err != nil {
		closeStore()
		return nil, noop, fmt.Errorf("creating apportioner: %w", err)
	}
	links := linkstrength.New(linksConfig(cfg.Links), g, logger)

	eng := engine.New(engine.Config{
		FlushInterval:    cfg.Engine.FlushInterval,
		MaxBatch:         cfg.Engine.MaxBatch,
		QueueSize:        cfg.Engine.QueueSize,
		BaselineInterval: cfg.Learner.BaselineInterval,
		DecayInterval:    cfg.Links.DecayInterval,
	}, g, appt, scorer, l, links,
		engine.WithStore(st),
		engine.WithClock(o.clock),
		engine.WithLogger(logger),
	)

	tcfg := traversalConfig(cfg.Traversal)
	act := traversal.NewActivation(tcfg.MaxActivation)
	sel := traversal.NewSelector(g, act, tcfg,
		traversal.WithClock(o.clock),
		traversal.WithStandardizer(l),
		traversal.WithRecorder(eng),
		traversal.WithSink(eng),
		traversal.WithLogger(logger),
	)

	app := &App{
		Config:     cfg,
		Logger:     logger,
		Store:      st,
		Graph:      g,
		Learner:    l,
		Links:      links,
		Activation: act,
		Selector:   sel,
		Planner:    planner.New(sel, nil, cfg.Planner.Capacity, logger),
		Engine:     eng,
	}
	cleanup := func() {
		eng.Close()
		closeStore()
	}
	return app, cleanup, nil
}

// noop is the cleanup returned when Build fails.
func noop() {}

func openStore(cfg *config.Config) (graph.Store, error) {
	if cfg.Store.Disabled {
		return graph.NopStore{}, nil
	}
	st, err := store.Open(store.Config{DataDir: cfg.Store.DataDir})
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	return st, nil
}

// Run drives the background loops until ctx is cancelled: the engine's
// single writer and the activation tick that publishes staged levels.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.Engine.Run(ctx)
	})
	g.Go(func() error {
		t := time.NewTicker(a.Config.Traversal.TickInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-t.C:
				a.Activation.Tick()
			}
		}
	})
	return g.Wait()
}

// ─── Config mapping ──────────────────────────────────────────────────────────

func learnerConfig(c config.LearnerConfig) learner.Config {
	return learner.Config{
		Alpha:         c.Alpha,
		MinCohort:     c.MinCohort,
		FirstRate:     c.FirstRate,
		MinRate:       c.MinRate,
		MaxRate:       c.MaxRate,
		DefaultTau:    c.DefaultTau,
		TauWindow:     c.TauWindow,
		TauMinSamples: c.TauMinSamples,
	}
}

func qualityConfig(c config.QualityConfig) quality.Config {
	return quality.Config{
		EvidenceDefault: c.EvidenceDefault,
		NoveltyDefault:  c.NoveltyDefault,
		LookupTimeout:   c.LookupTimeout,
		MinFieldLength:  c.MinFieldLength,
	}
}

func linksConfig(c config.LinksConfig) linkstrength.Config {
	return linkstrength.Config{
		HebbianRate:          c.HebbianRate,
		HebbianGate:          c.HebbianGate,
		HebbianWindow:        c.HebbianWindow,
		ValidationRate:       c.ValidationRate,
		ValidationConfidence: c.ValidationConfidence,
		ConfirmationRate:     c.ConfirmationRate,
		DecayRate:            c.DecayRate,
		DecayAfter:           c.DecayAfter,
	}
}

func traversalConfig(c config.TraversalConfig) traversal.Config {
	return traversal.Config{
		Epsilon:            c.Epsilon,
		SatisfiedThreshold: c.SatisfiedThreshold,
		MaxActivation:      c.MaxActivation,
		MinActivationCost:  c.MinActivationCost,
		CompetitionRate:    c.CompetitionRate,
		RelevanceUseful:    c.RelevanceUseful,
		RelevanceUnhelpful: c.RelevanceUnhelpful,
		SpikeThreshold:     c.SpikeThreshold,
		CompletenessGain:   c.CompletenessGain,
		EmotionRate:        c.EmotionRate,
		Seed:               c.Seed,
	}
}
