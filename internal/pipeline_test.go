package internal

import (
	"context"
	"testing"

	"github.com/chrisconley/rhizome/internal/infra"
	"github.com/chrisconley/rhizome/internal/infra/archivetest"
	specs "github.com/chrisconley/rhizome/specs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type appConfigOption func(*specs.AppConfigSpec)

func withGroups(groups ...specs.RuleGroupSpec) appConfigOption {
	return func(c *specs.AppConfigSpec) { c.Rules.Groups = append(c.Rules.Groups, groups...) }
}

func offline() appConfigOption {
	return func(c *specs.AppConfigSpec) { c.Harvest.Offline = true }
}

func testMode() appConfigOption {
	return func(c *specs.AppConfigSpec) { c.Harvest.TestMode = true }
}

func newTestAppConfig(opts ...appConfigOption) specs.AppConfigSpec {
	c := specs.AppConfigSpec{}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

func newTestSink(t *testing.T) *infra.SQLiteStore {
	t.Helper()
	sink, err := infra.OpenSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sink.Close() })
	return sink
}

func fixedRunID(id string) PipelineOption {
	return WithRunID(func() string { return id })
}

// photoArchive serves three HHCT records over two pages; two are photographs.
func photoArchive(t *testing.T) (*archivetest.Server, *infra.Client) {
	hhct := archivetest.WithSets("partner:HHCT")
	return newTestArchive(t,
		[]archivetest.Record{
			archivetest.NewRecord("metapth1", hhct,
				archivetest.WithField("type", "Photograph"),
				archivetest.WithField("format", "Image", "8 x 10 in"),
				archivetest.WithField("identifier", "https://texashistory.unt.edu/ark:/67531/metapth1/")),
			archivetest.NewRecord("metapth2", hhct, archivetest.WithField("type", "Text")),
		},
		[]archivetest.Record{
			archivetest.NewRecord("metapth3", hhct, archivetest.WithField("type", "Photograph")),
		})
}

func hhctGroup(opts ...groupOption) specs.RuleGroupSpec {
	return newTestGroupSpec("partner", "HHCT", append([]groupOption{withFilter("type", "include", "Photograph")}, opts...)...)
}

func TestPipelineRun(t *testing.T) {
	t.Run("harvests, classifies and saves the accepted records", func(t *testing.T) {
		// Arrange
		_, client := photoArchive(t)
		sink := newTestSink(t)
		p, err := NewPipeline(newTestAppConfig(withGroups(hhctGroup(withExpected(2)))), client, newTestStore(t),
			WithSink(sink), WithClock(testClock), fixedRunID("run-1"))
		require.NoError(t, err)

		// Act
		summary, err := p.Run(context.Background())

		// Assert
		require.NoError(t, err)
		assert.Equal(t, "run-1", summary.RunID)
		assert.Equal(t, 2, summary.Pages)
		assert.Equal(t, 3, summary.Fetched)
		assert.Equal(t, 2, summary.Accepted)
		assert.Equal(t, "0.6667", summary.AcceptanceRatio)
		assert.Empty(t, summary.Discrepancies)

		saved, err := sink.LoadRun(context.Background(), "run-1")
		require.NoError(t, err)
		assert.Equal(t, summary.Accepted, saved.Accepted)
		assert.Equal(t, summary.Statistics, saved.Statistics)

		records, err := sink.Records(context.Background(), "run-1")
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, []string{"Image"}, records[0]["format"])
		assert.Equal(t, []string{"8 x 10 in"}, records[0]["dimensions"])
		assert.Equal(t, []string{"https://texashistory.unt.edu/ark:/67531/metapth1/thumbnail"}, records[0]["thumbnail"])
		assert.Equal(t, []string{"info:ark:/67531/metapth3"}, records[1]["header_identifier"])
	})

	t.Run("discrepancies are reported but do not fail a normal run", func(t *testing.T) {
		_, client := photoArchive(t)
		bus := infra.NewBus()
		var found []specs.DiscrepancySpec
		bus.Subscribe(infra.DiscrepancyFound, func(e infra.Event) {
			found = append(found, e.(DiscrepancyFoundEvent).Discrepancy)
		})
		p, err := NewPipeline(newTestAppConfig(withGroups(hhctGroup(withExpected(5)))), client, newTestStore(t), WithBus(bus))
		require.NoError(t, err)

		summary, err := p.Run(context.Background())

		require.NoError(t, err)
		require.Len(t, summary.Discrepancies, 1)
		assert.Equal(t, "5 results were expected from partner:HHCT, 2 extracted", summary.Discrepancies[0].Message)
		assert.Equal(t, summary.Discrepancies, found)
	})

	t.Run("test mode fails the run and saves nothing", func(t *testing.T) {
		// Arrange
		_, client := photoArchive(t)
		sink := newTestSink(t)
		p, err := NewPipeline(newTestAppConfig(testMode(), withGroups(hhctGroup(withExpected(5)))), client, newTestStore(t),
			WithSink(sink), fixedRunID("run-1"))
		require.NoError(t, err)

		// Act
		summary, err := p.Run(context.Background())

		// Assert
		require.ErrorIs(t, err, ErrValidationFailed)
		assert.Equal(t, CodeValidation, Diagnose(err))
		assert.Len(t, summary.Discrepancies, 1)
		_, err = sink.LoadRun(context.Background(), "run-1")
		assert.ErrorIs(t, err, infra.ErrRunNotFound)
	})

	t.Run("offline replay reuses the checkpoints without any request", func(t *testing.T) {
		// Arrange
		srv, client := photoArchive(t)
		store := newTestStore(t)
		config := newTestAppConfig(withGroups(hhctGroup()))
		online, err := NewPipeline(config, client, store)
		require.NoError(t, err)
		first, err := online.Run(context.Background())
		require.NoError(t, err)

		replay, err := NewPipeline(newTestAppConfig(offline(), withGroups(hhctGroup())), nil, store, fixedRunID("replay"))
		require.NoError(t, err)

		// Act
		second, err := replay.Run(context.Background())

		// Assert
		require.NoError(t, err)
		assert.Len(t, srv.Requests(), 2)
		assert.Equal(t, "replay", second.RunID)
		assert.Equal(t, first.Fetched, second.Fetched)
		assert.Equal(t, first.Accepted, second.Accepted)
		assert.Equal(t, first.Statistics, second.Statistics)
	})

	t.Run("offline without checkpoints", func(t *testing.T) {
		p, err := NewPipeline(newTestAppConfig(offline()), nil, newTestStore(t))
		require.NoError(t, err)

		_, err = p.Run(context.Background())

		assert.ErrorIs(t, err, infra.ErrCheckpointIncomplete)
	})

	t.Run("harvest failure is surfaced", func(t *testing.T) {
		srv, client := photoArchive(t)
		srv.RejectPage(1, "badResumptionToken", "expired")
		p, err := NewPipeline(newTestAppConfig(withGroups(hhctGroup())), client, newTestStore(t))
		require.NoError(t, err)

		_, err = p.Run(context.Background())

		assert.ErrorIs(t, err, infra.ErrRemoteRejected)
	})
}

func TestPipelineResume(t *testing.T) {
	t.Run("finishes a truncated harvest", func(t *testing.T) {
		// Arrange
		srv, client := photoArchive(t)
		store := newTestStore(t)
		_, err := store.Reset()
		require.NoError(t, err)
		require.NoError(t, store.Write(0, archivetest.PageXML(archivetest.Token(1),
			archivetest.NewRecord("metapth1", archivetest.WithSets("partner:HHCT"), archivetest.WithField("type", "Photograph")))))
		p, err := NewPipeline(newTestAppConfig(withGroups(hhctGroup())), client, store)
		require.NoError(t, err)

		// Act
		summary, err := p.Resume(context.Background())

		// Assert
		require.NoError(t, err)
		assert.Len(t, srv.Requests(), 1)
		assert.Equal(t, 2, summary.Pages)
		assert.Equal(t, 2, summary.Fetched)
		assert.Equal(t, 2, summary.Accepted)
	})

	t.Run("offline pipelines cannot resume", func(t *testing.T) {
		p, err := NewPipeline(newTestAppConfig(offline()), nil, newTestStore(t))
		require.NoError(t, err)

		_, err = p.Resume(context.Background())

		assert.ErrorIs(t, err, ErrInvalidConfig)
	})
}

func TestNewPipeline(t *testing.T) {
	store := infra.NewFileCheckpointStore(t.TempDir())

	t.Run("online pipelines need a lister", func(t *testing.T) {
		_, err := NewPipeline(newTestAppConfig(), nil, store)
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("a store is always required", func(t *testing.T) {
		_, err := NewPipeline(newTestAppConfig(offline()), nil, nil)
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("invalid rules are rejected before any request", func(t *testing.T) {
		_, err := NewPipeline(newTestAppConfig(offline(), withGroups(newTestGroupSpec("library", "X"))), nil, store)
		assert.ErrorIs(t, err, ErrInvalidScope)
	})

	t.Run("invalid post-processing", func(t *testing.T) {
		config := newTestAppConfig(offline())
		config.PostProcess.FormatHeuristic = "guess"

		_, err := NewPipeline(config, nil, store)
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("invalid harvest settings", func(t *testing.T) {
		config := newTestAppConfig(offline())
		config.Harvest.RecordLimit = -1

		_, err := NewPipeline(config, nil, store)
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})
}

func TestPipelineIsolate(t *testing.T) {
	store := infra.NewFileCheckpointStore(t.TempDir())
	p, err := NewPipeline(newTestAppConfig(offline(), withGroups(
		hhctGroup(),
		newTestGroupSpec("collection", "ARTL", withFilter("subject", "exclude", "Advertising")),
		newTestGroupSpec("none", "dummy", ignored()),
	)), nil, store)
	require.NoError(t, err)

	t.Run("unknown group", func(t *testing.T) {
		assert.Error(t, p.Isolate("partner:NOPE"))
	})

	t.Run("malformed key", func(t *testing.T) {
		assert.Error(t, p.Isolate("HHCT"))
	})

	t.Run("only the named group stays active", func(t *testing.T) {
		require.NoError(t, p.Isolate("none:dummy"))

		var active []string
		for _, g := range p.Rules().Groups() {
			if g.Active() {
				active = append(active, g.Key().ToString())
			}
		}
		assert.Equal(t, []string{"none:dummy"}, active)
	})
}
