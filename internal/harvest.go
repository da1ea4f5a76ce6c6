package internal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chrisconley/rhizome/internal/infra"
	specs "github.com/chrisconley/rhizome/specs"
	"go.uber.org/zap"
)

// PageLister fetches one ListRecords page. An empty token asks for the first
// page.
type PageLister interface {
	ListRecords(ctx context.Context, resumptionToken string) (infra.Page, error)
}

// CheckpointStore keeps the numbered raw pages of one harvest.
type CheckpointStore interface {
	Reset() (bool, error)
	Write(seq int, raw []byte) error
	Read(seq int) ([]byte, error)
	Pages() (int, error)
	WriteManifest(m specs.CheckpointManifestSpec) error
	ReadManifest() (specs.CheckpointManifestSpec, error)
}

type Harvester struct {
	lister      PageLister
	store       CheckpointStore
	recordLimit int
	bus         *infra.Bus
	logger      *zap.Logger
	now         func() time.Time
}

type HarvesterOption func(*Harvester)

// WithRecordLimit stops pagination once limit records have been fetched.
func WithRecordLimit(limit int) HarvesterOption {
	return func(h *Harvester) { h.recordLimit = limit }
}

func WithHarvesterBus(bus *infra.Bus) HarvesterOption {
	return func(h *Harvester) { h.bus = bus }
}

func WithHarvesterLogger(logger *zap.Logger) HarvesterOption {
	return func(h *Harvester) { h.logger = infra.OrNop(logger) }
}

func WithHarvesterClock(now func() time.Time) HarvesterOption {
	return func(h *Harvester) { h.now = now }
}

func NewHarvester(lister PageLister, store CheckpointStore, opts ...HarvesterOption) *Harvester {
	h := &Harvester{
		lister: lister,
		store:  store,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Harvest starts a fresh run: the previous checkpoints are archived, then
// pages are fetched from the first one until the archive returns no token or
// the record limit is reached. Every page is durable before the next request
// is issued.
func (h *Harvester) Harvest(ctx context.Context, session *HarvestSession) (specs.CheckpointManifestSpec, error) {
	archived, err := h.store.Reset()
	if err != nil {
		return specs.CheckpointManifestSpec{}, fmt.Errorf("failed to reset checkpoints: %w", err)
	}
	if archived {
		h.logger.Info("archived previous checkpoints")
	}
	return h.crawl(ctx, session, 0, "")
}

// Resume continues a truncated run from its last durable page. A directory
// that already holds a complete manifest is left untouched.
func (h *Harvester) Resume(ctx context.Context, session *HarvestSession) (specs.CheckpointManifestSpec, error) {
	manifest, err := h.store.ReadManifest()
	if err == nil && manifest.Complete {
		session.restore(manifest)
		h.logger.Info("checkpoints already complete", zap.String("run", manifest.RunID), zap.Int("pages", manifest.Pages))
		return manifest, nil
	}
	if err != nil && !errors.Is(err, infra.ErrCheckpointIncomplete) {
		return specs.CheckpointManifestSpec{}, err
	}

	pages, err := h.store.Pages()
	if err != nil {
		return specs.CheckpointManifestSpec{}, err
	}
	if pages == 0 {
		return h.crawl(ctx, session, 0, "")
	}

	var last infra.Page
	for seq := 0; seq < pages; seq++ {
		raw, err := h.store.Read(seq)
		if err != nil {
			return specs.CheckpointManifestSpec{}, err
		}
		page, err := infra.ScanPage(raw)
		if err != nil {
			return specs.CheckpointManifestSpec{}, fmt.Errorf("checkpoint %d: %w", seq, err)
		}
		session.pageStored(page.Records)
		last = page
	}
	h.logger.Info("resuming harvest",
		zap.Int("pages", pages),
		zap.Int("records", session.Fetched()))

	if last.Last() {
		return h.finish(session)
	}
	if h.limitReached(session) {
		session.markLimitReached()
		return h.finish(session)
	}
	return h.crawl(ctx, session, pages, last.ResumptionToken)
}

func (h *Harvester) crawl(ctx context.Context, session *HarvestSession, seq int, token string) (specs.CheckpointManifestSpec, error) {
	for {
		if err := ctx.Err(); err != nil {
			return specs.CheckpointManifestSpec{}, err
		}

		page, err := h.lister.ListRecords(ctx, token)
		if err != nil {
			return specs.CheckpointManifestSpec{}, fmt.Errorf("page %d: %w", seq, err)
		}
		if err := h.store.Write(seq, page.Raw); err != nil {
			return specs.CheckpointManifestSpec{}, err
		}
		session.pageStored(page.Records)

		h.bus.Publish(PageFetchedEvent{Progress: session.harvestProgress(seq), Records: page.Records})
		h.bus.Publish(PageCheckpointedEvent{Seq: seq, Bytes: len(page.Raw)})
		h.logger.Debug("page checkpointed",
			zap.Int("seq", seq),
			zap.Int("records", page.Records),
			zap.Int("total", session.Fetched()))

		seq++
		if page.Last() {
			break
		}
		if h.limitReached(session) {
			session.markLimitReached()
			h.logger.Info("record limit reached", zap.Int("limit", h.recordLimit))
			break
		}
		token = page.ResumptionToken
	}
	return h.finish(session)
}

func (h *Harvester) limitReached(session *HarvestSession) bool {
	return h.recordLimit > 0 && session.Fetched() >= h.recordLimit
}

func (h *Harvester) finish(session *HarvestSession) (specs.CheckpointManifestSpec, error) {
	manifest := session.Manifest(h.now())
	if err := h.store.WriteManifest(manifest); err != nil {
		return specs.CheckpointManifestSpec{}, err
	}
	h.bus.Publish(HarvestCompletedEvent{Manifest: manifest})
	h.logger.Info("harvest complete",
		zap.String("run", manifest.RunID),
		zap.Int("pages", manifest.Pages),
		zap.Int("records", manifest.Records),
		zap.Bool("limit_reached", manifest.LimitReached))
	return manifest, nil
}
