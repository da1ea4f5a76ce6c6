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

// writeCheckpoints stores pages as a finished harvest.
func writeCheckpoints(t *testing.T, store *infra.FileCheckpointStore, pages ...[]byte) {
	t.Helper()
	records := 0
	for seq, raw := range pages {
		require.NoError(t, store.Write(seq, raw))
		page, err := infra.ScanPage(raw)
		require.NoError(t, err)
		records += page.Records
	}
	require.NoError(t, store.WriteManifest(specs.CheckpointManifestSpec{
		RunID:    "run-1",
		Pages:    len(pages),
		Records:  records,
		Complete: true,
	}))
}

func hhctConfig(t *testing.T) RuleConfig {
	return newTestRuleConfig(t,
		newTestGroupSpec("partner", "HHCT", withFilter("type", "include", "Photograph")))
}

func TestExtract(t *testing.T) {
	t.Run("accepted records come back in page order", func(t *testing.T) {
		// Arrange
		store := newTestStore(t)
		photo := archivetest.WithField("type", "Photograph")
		writeCheckpoints(t, store,
			archivetest.PageXML(archivetest.Token(1),
				archivetest.NewRecord("a", archivetest.WithSets("partner:HHCT"), photo),
				archivetest.NewRecord("b", archivetest.WithSets("partner:HHCT"), archivetest.WithField("type", "Text"))),
			archivetest.PageXML(archivetest.Token(2),
				archivetest.NewRecord("c", archivetest.WithSets("partner:ATPS"), photo)),
			archivetest.PageXML("",
				archivetest.NewRecord("d", archivetest.WithSets("partner:HHCT"), photo),
				archivetest.NewRecord("e", archivetest.WithSets("partner:HHCT"), archivetest.Deleted())))
		config := hhctConfig(t)
		stats := NewMatchStatistics(config)
		session := NewHarvestSession("run-2", testClock())

		// Act
		accepted, err := NewExtractor(store, WithParseConcurrency(2)).Extract(context.Background(), session, config, stats)

		// Assert
		require.NoError(t, err)
		require.Len(t, accepted, 2)
		assert.Equal(t, []string{"info:ark:/67531/a"}, accepted[0].Values("header_identifier"))
		assert.Equal(t, []string{"info:ark:/67531/d"}, accepted[1].Values("header_identifier"))

		key := mustKey(t, "partner:HHCT")
		assert.Equal(t, 2, stats.Accepted(key))
		assert.Equal(t, 1, stats.Rejected(key))
		assert.Equal(t, 2, session.Accepted())
	})

	t.Run("progress is published for every page in order", func(t *testing.T) {
		store := newTestStore(t)
		writeCheckpoints(t, store,
			archivetest.PageXML(archivetest.Token(1), archivetest.NewRecord("a", archivetest.WithSets("partner:HHCT"), archivetest.WithField("type", "Photograph"))),
			archivetest.PageXML("", archivetest.NewRecord("b")))
		bus := infra.NewBus()
		var seen []specs.ProgressSpec
		bus.Subscribe(infra.PageClassified, func(e infra.Event) {
			seen = append(seen, e.(PageClassifiedEvent).Progress)
		})
		config := hhctConfig(t)

		_, err := NewExtractor(store, WithExtractorBus(bus)).Extract(context.Background(), NewHarvestSession("run-1", testClock()), config, NewMatchStatistics(config))

		require.NoError(t, err)
		require.Len(t, seen, 2)
		assert.Equal(t, specs.ProgressSpec{RunID: "run-1", Page: 0, Fetched: 1, Accepted: 1, AcceptanceRatio: "1.0000"}, seen[0])
		assert.Equal(t, specs.ProgressSpec{RunID: "run-1", Page: 1, Fetched: 2, Accepted: 1, AcceptanceRatio: "0.5000"}, seen[1])
	})

	t.Run("unfinished harvest", func(t *testing.T) {
		store := newTestStore(t)
		require.NoError(t, store.Write(0, archivetest.PageXML(archivetest.Token(1))))
		config := hhctConfig(t)

		_, err := NewExtractor(store).Extract(context.Background(), NewHarvestSession("run-1", testClock()), config, NewMatchStatistics(config))

		assert.ErrorIs(t, err, infra.ErrCheckpointIncomplete)
	})

	t.Run("manifest lists pages that are missing", func(t *testing.T) {
		store := newTestStore(t)
		writeCheckpoints(t, store, archivetest.PageXML(""))
		require.NoError(t, store.WriteManifest(specs.CheckpointManifestSpec{RunID: "run-1", Pages: 2, Complete: true}))
		config := hhctConfig(t)

		_, err := NewExtractor(store).Extract(context.Background(), NewHarvestSession("run-1", testClock()), config, NewMatchStatistics(config))

		assert.ErrorIs(t, err, infra.ErrCheckpointGap)
		assert.Equal(t, CodeCheckpoint, Diagnose(err))
	})

	t.Run("corrupt checkpoint", func(t *testing.T) {
		store := newTestStore(t)
		require.NoError(t, store.Write(0, []byte("<OAI-PMH><ListRecords><record>")))
		require.NoError(t, store.WriteManifest(specs.CheckpointManifestSpec{RunID: "run-1", Pages: 1, Complete: true}))
		config := hhctConfig(t)

		_, err := NewExtractor(store).Extract(context.Background(), NewHarvestSession("run-1", testClock()), config, NewMatchStatistics(config))

		assert.ErrorIs(t, err, infra.ErrMalformedPage)
	})
}
