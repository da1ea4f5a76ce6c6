package internal

import (
	"context"
	"fmt"

	"github.com/chrisconley/rhizome/internal/infra"
	specs "github.com/chrisconley/rhizome/specs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Extractor replays checkpointed pages through the rule engine.
type Extractor struct {
	store       CheckpointStore
	normalize   specs.Normalize
	concurrency int
	bus         *infra.Bus
	logger      *zap.Logger
}

type ExtractorOption func(*Extractor)

// WithParseConcurrency bounds how many pages are decoded at once.
func WithParseConcurrency(n int) ExtractorOption {
	return func(e *Extractor) { e.concurrency = n }
}

func WithExtractorBus(bus *infra.Bus) ExtractorOption {
	return func(e *Extractor) { e.bus = bus }
}

func WithExtractorLogger(logger *zap.Logger) ExtractorOption {
	return func(e *Extractor) { e.logger = infra.OrNop(logger) }
}

func NewExtractor(store CheckpointStore, opts ...ExtractorOption) *Extractor {
	e := &Extractor{
		store:       store,
		normalize:   infra.FlattenRecord,
		concurrency: DefaultParseConcurrency,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract decodes every page of a complete harvest and returns the accepted
// records in page order. Decoding runs concurrently; classification, and so
// every statistics update, runs one page at a time in sequence order.
func (e *Extractor) Extract(ctx context.Context, session *HarvestSession, config RuleConfig, stats *MatchStatistics) ([]Record, error) {
	manifest, err := e.store.ReadManifest()
	if err != nil {
		return nil, err
	}
	if !manifest.Complete {
		return nil, fmt.Errorf("%w: run %s did not finish", infra.ErrCheckpointIncomplete, manifest.RunID)
	}
	pages, err := e.store.Pages()
	if err != nil {
		return nil, err
	}
	if pages != manifest.Pages {
		return nil, fmt.Errorf("%w: manifest lists %d pages, found %d", infra.ErrCheckpointGap, manifest.Pages, pages)
	}

	decoded, err := e.decodeAll(ctx, pages)
	if err != nil {
		return nil, err
	}

	var accepted []Record
	for seq, page := range decoded {
		for _, spec := range page {
			record := NewRecord(spec)
			if record.Deleted() {
				continue
			}
			decision := classify(record, config, stats)
			session.recordClassified(decision.Include)
			if decision.Include {
				accepted = append(accepted, record)
			}
		}
		progress := session.classifyProgress(seq)
		e.bus.Publish(PageClassifiedEvent{Progress: progress})
		e.logger.Debug("page classified",
			zap.Int("seq", seq),
			zap.Int("accepted", progress.Accepted),
			zap.String("ratio", progress.AcceptanceRatio))
	}
	return accepted, nil
}

func (e *Extractor) decodeAll(ctx context.Context, pages int) ([][]specs.RecordSpec, error) {
	decoded := make([][]specs.RecordSpec, pages)
	g, gctx := errgroup.WithContext(ctx)
	if e.concurrency > 0 {
		g.SetLimit(e.concurrency)
	}
	for seq := 0; seq < pages; seq++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			raw, err := e.store.Read(seq)
			if err != nil {
				return err
			}
			records, err := e.decodePage(raw)
			if err != nil {
				return fmt.Errorf("checkpoint %d: %w", seq, err)
			}
			decoded[seq] = records
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return decoded, nil
}

func (e *Extractor) decodePage(raw []byte) ([]specs.RecordSpec, error) {
	var records []specs.RecordSpec
	err := infra.EachRecord(raw, func(element []byte) error {
		record, err := e.normalize(element)
		if err != nil {
			return fmt.Errorf("record %d: %w", len(records), err)
		}
		records = append(records, record)
		return nil
	})
	return records, err
}
