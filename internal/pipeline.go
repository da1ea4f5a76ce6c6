package internal

import (
	"context"
	"fmt"
	"time"

	"github.com/chrisconley/rhizome/internal/infra"
	specs "github.com/chrisconley/rhizome/specs"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ResultSink receives the post-processed records of a successful run.
type ResultSink interface {
	SaveRun(ctx context.Context, summary specs.RunSummarySpec, records []specs.RecordSpec) error
}

// Pipeline runs harvest, extraction, validation and post-processing as one
// job. All configuration is validated by NewPipeline, before any request.
type Pipeline struct {
	settings  HarvestSettings
	rules     RuleConfig
	processor PostProcessor
	lister    PageLister
	store     CheckpointStore
	sink      ResultSink
	bus       *infra.Bus
	logger    *zap.Logger
	now       func() time.Time
	newRunID  func() string
}

type PipelineOption func(*Pipeline)

func WithSink(sink ResultSink) PipelineOption {
	return func(p *Pipeline) { p.sink = sink }
}

func WithBus(bus *infra.Bus) PipelineOption {
	return func(p *Pipeline) { p.bus = bus }
}

func WithLogger(logger *zap.Logger) PipelineOption {
	return func(p *Pipeline) { p.logger = infra.OrNop(logger) }
}

func WithClock(now func() time.Time) PipelineOption {
	return func(p *Pipeline) { p.now = now }
}

func WithRunID(newRunID func() string) PipelineOption {
	return func(p *Pipeline) { p.newRunID = newRunID }
}

// NewPipeline validates cfg. lister may be nil only when the harvest
// settings are offline.
func NewPipeline(cfg specs.AppConfigSpec, lister PageLister, store CheckpointStore, opts ...PipelineOption) (*Pipeline, error) {
	settings, err := NewHarvestSettings(cfg.Harvest)
	if err != nil {
		return nil, fmt.Errorf("invalid harvest settings: %w", err)
	}
	rules, err := NewRuleConfig(cfg.Rules)
	if err != nil {
		return nil, fmt.Errorf("invalid rules: %w", err)
	}
	processor, err := NewPostProcessor(cfg.PostProcess)
	if err != nil {
		return nil, fmt.Errorf("invalid post-process settings: %w", err)
	}
	if lister == nil && !settings.Offline() {
		return nil, fmt.Errorf("%w: a page lister is required unless offline", ErrInvalidConfig)
	}
	if store == nil {
		return nil, fmt.Errorf("%w: a checkpoint store is required", ErrInvalidConfig)
	}

	p := &Pipeline{
		settings:  settings,
		rules:     rules,
		processor: processor,
		lister:    lister,
		store:     store,
		logger:    zap.NewNop(),
		now:       time.Now,
		newRunID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *Pipeline) Rules() RuleConfig {
	return p.rules
}

func (p *Pipeline) Settings() HarvestSettings {
	return p.settings
}

// Isolate deactivates every rule-group except the one named by key
// ("scope:member"), to check a single group's expectation on its own.
func (p *Pipeline) Isolate(key string) error {
	k, err := ParseRuleGroupKey(key)
	if err != nil {
		return err
	}
	rules, err := p.rules.Isolate(k)
	if err != nil {
		return err
	}
	p.rules = rules
	return nil
}

// Run harvests from scratch, or replays existing checkpoints when offline,
// then processes the result.
func (p *Pipeline) Run(ctx context.Context) (specs.RunSummarySpec, error) {
	session := p.newSession()
	if p.settings.Offline() {
		manifest, err := p.store.ReadManifest()
		if err != nil {
			return specs.RunSummarySpec{}, err
		}
		session.restore(manifest)
		p.logger.Info("replaying checkpoints",
			zap.String("checkpoint_run", manifest.RunID),
			zap.Int("pages", manifest.Pages))
	} else {
		if _, err := p.harvester().Harvest(ctx, session); err != nil {
			return specs.RunSummarySpec{}, fmt.Errorf("harvest failed: %w", err)
		}
	}
	return p.process(ctx, session)
}

// Resume finishes a truncated harvest, then processes the result.
func (p *Pipeline) Resume(ctx context.Context) (specs.RunSummarySpec, error) {
	if p.settings.Offline() {
		return specs.RunSummarySpec{}, fmt.Errorf("%w: resume needs network access", ErrInvalidConfig)
	}
	session := p.newSession()
	if _, err := p.harvester().Resume(ctx, session); err != nil {
		return specs.RunSummarySpec{}, fmt.Errorf("resume failed: %w", err)
	}
	return p.process(ctx, session)
}

func (p *Pipeline) newSession() *HarvestSession {
	return NewHarvestSession(p.newRunID(), p.now())
}

func (p *Pipeline) harvester() *Harvester {
	return NewHarvester(p.lister, p.store,
		WithRecordLimit(p.settings.RecordLimit()),
		WithHarvesterBus(p.bus),
		WithHarvesterLogger(p.logger),
		WithHarvesterClock(p.now))
}

// process classifies every checkpointed record, validates the statistics,
// post-processes the accepted records and hands them to the sink.
func (p *Pipeline) process(ctx context.Context, session *HarvestSession) (specs.RunSummarySpec, error) {
	stats := NewMatchStatistics(p.rules)
	extractor := NewExtractor(p.store,
		WithParseConcurrency(p.settings.ParseConcurrency()),
		WithExtractorBus(p.bus),
		WithExtractorLogger(p.logger))

	accepted, err := extractor.Extract(ctx, session, p.rules, stats)
	if err != nil {
		return specs.RunSummarySpec{}, fmt.Errorf("extraction failed: %w", err)
	}

	discrepancies := validate(p.rules, stats)
	for _, d := range discrepancies {
		p.bus.Publish(DiscrepancyFoundEvent{Discrepancy: d.ToSpec()})
	}
	summary := session.Summary(stats, discrepancies, p.now())
	if err := Report(discrepancies, p.settings.TestMode(), p.logger); err != nil {
		return summary, err
	}

	out := make([]specs.RecordSpec, len(accepted))
	for i, record := range accepted {
		out[i] = p.processor.Apply(record).ToSpec()
	}

	if p.sink != nil {
		if err := p.sink.SaveRun(ctx, summary, out); err != nil {
			return summary, fmt.Errorf("failed to save run: %w", err)
		}
	}

	p.bus.Publish(RunCompletedEvent{Summary: summary})
	p.logger.Info("run complete",
		zap.String("run", summary.RunID),
		zap.Int("pages", summary.Pages),
		zap.Int("fetched", summary.Fetched),
		zap.Int("accepted", summary.Accepted),
		zap.String("ratio", summary.AcceptanceRatio),
		zap.Int("discrepancies", len(summary.Discrepancies)))
	return summary, nil
}
