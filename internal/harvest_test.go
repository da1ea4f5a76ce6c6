package internal

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/chrisconley/rhizome/internal/infra"
	"github.com/chrisconley/rhizome/internal/infra/archivetest"
	specs "github.com/chrisconley/rhizome/specs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testClock = func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }

func newTestArchive(t *testing.T, pages ...[]archivetest.Record) (*archivetest.Server, *infra.Client) {
	t.Helper()
	srv := archivetest.NewServer(pages...)
	t.Cleanup(srv.Close)
	client, err := infra.NewClient(infra.ClientOptions{
		BaseURL:        srv.URL + "/oai/",
		MetadataPrefix: "oai_dc",
		Timeout:        5 * time.Second,
		MaxRetries:     2,
		InitialBackoff: time.Millisecond,
		HTTPClient:     srv.Client(),
	})
	require.NoError(t, err)
	return srv, client
}

func newTestStore(t *testing.T) *infra.FileCheckpointStore {
	t.Helper()
	return infra.NewFileCheckpointStore(filepath.Join(t.TempDir(), "pth"))
}

// pageRecords builds n records named <prefix>-0 .. <prefix>-(n-1).
func pageRecords(prefix string, n int, opts ...archivetest.RecordOption) []archivetest.Record {
	out := make([]archivetest.Record, n)
	for i := range out {
		out[i] = archivetest.NewRecord(prefix+"-"+strconv.Itoa(i), opts...)
	}
	return out
}

func TestHarvest(t *testing.T) {
	t.Run("one request and one checkpoint per page", func(t *testing.T) {
		// Arrange
		srv, client := newTestArchive(t, pageRecords("p0", 2), pageRecords("p1", 2), pageRecords("p2", 1))
		store := newTestStore(t)
		session := NewHarvestSession("run-1", testClock())

		// Act
		manifest, err := NewHarvester(client, store, WithHarvesterClock(testClock)).Harvest(context.Background(), session)

		// Assert
		require.NoError(t, err)
		assert.Len(t, srv.Requests(), 3)
		assert.Equal(t, 3, client.Requests())
		pages, err := store.Pages()
		require.NoError(t, err)
		assert.Equal(t, 3, pages)

		assert.Equal(t, specs.CheckpointManifestSpec{
			RunID:      "run-1",
			Pages:      3,
			Records:    5,
			Complete:   true,
			StartedAt:  testClock(),
			FinishedAt: testClock(),
		}, manifest)
		stored, err := store.ReadManifest()
		require.NoError(t, err)
		assert.Equal(t, manifest, stored)
	})

	t.Run("pages are sequenced with the archive's resumption tokens", func(t *testing.T) {
		srv, client := newTestArchive(t, pageRecords("p0", 1), pageRecords("p1", 1))
		store := newTestStore(t)

		_, err := NewHarvester(client, store).Harvest(context.Background(), NewHarvestSession("run-1", testClock()))
		require.NoError(t, err)

		requests := srv.Requests()
		require.Len(t, requests, 2)
		assert.Equal(t, "oai_dc", requests[0].Get("metadataPrefix"))
		assert.Equal(t, archivetest.Token(1), requests[1].Get("resumptionToken"))

		raw, err := store.Read(1)
		require.NoError(t, err)
		page, err := infra.ScanPage(raw)
		require.NoError(t, err)
		assert.True(t, page.Last())
	})

	t.Run("previous checkpoints are archived", func(t *testing.T) {
		// Arrange
		_, client := newTestArchive(t, pageRecords("p0", 1))
		store := newTestStore(t)
		_, err := store.Reset()
		require.NoError(t, err)
		require.NoError(t, store.Write(0, []byte("previous run")))
		require.NoError(t, store.Write(1, []byte("previous run")))

		// Act
		_, err = NewHarvester(client, store).Harvest(context.Background(), NewHarvestSession("run-2", testClock()))

		// Assert
		require.NoError(t, err)
		old, err := os.ReadFile(filepath.Join(store.ArchiveDir(), "page_1"))
		require.NoError(t, err)
		assert.Equal(t, "previous run", string(old))
		pages, err := store.Pages()
		require.NoError(t, err)
		assert.Equal(t, 1, pages)
	})

	t.Run("record limit stops pagination", func(t *testing.T) {
		srv, client := newTestArchive(t, pageRecords("p0", 2), pageRecords("p1", 2), pageRecords("p2", 2))
		store := newTestStore(t)
		session := NewHarvestSession("run-1", testClock())

		manifest, err := NewHarvester(client, store, WithRecordLimit(3)).Harvest(context.Background(), session)

		require.NoError(t, err)
		assert.Len(t, srv.Requests(), 2)
		assert.True(t, manifest.LimitReached)
		assert.Equal(t, 4, manifest.Records)
		assert.True(t, session.LimitReached())
	})

	t.Run("rejected page is not checkpointed", func(t *testing.T) {
		// Arrange
		srv, client := newTestArchive(t, pageRecords("p0", 1), pageRecords("p1", 1), pageRecords("p2", 1))
		srv.RejectPage(1, "badResumptionToken", "expired")
		store := newTestStore(t)

		// Act
		_, err := NewHarvester(client, store).Harvest(context.Background(), NewHarvestSession("run-1", testClock()))

		// Assert
		require.ErrorIs(t, err, infra.ErrRemoteRejected)
		assert.Equal(t, CodeRemote, Diagnose(err))
		pages, err := store.Pages()
		require.NoError(t, err)
		assert.Equal(t, 1, pages)
		_, err = store.ReadManifest()
		assert.ErrorIs(t, err, infra.ErrCheckpointIncomplete)
	})

	t.Run("transient failures are retried", func(t *testing.T) {
		srv, client := newTestArchive(t, pageRecords("p0", 1), pageRecords("p1", 1))
		srv.FailPage(1, 503)
		store := newTestStore(t)

		manifest, err := NewHarvester(client, store).Harvest(context.Background(), NewHarvestSession("run-1", testClock()))

		require.NoError(t, err)
		assert.Equal(t, 2, manifest.Pages)
		assert.Len(t, srv.Requests(), 3)
	})

	t.Run("events are published per page", func(t *testing.T) {
		_, client := newTestArchive(t, pageRecords("p0", 2), pageRecords("p1", 1))
		bus := infra.NewBus()
		var fetched []specs.ProgressSpec
		var completed []specs.CheckpointManifestSpec
		bus.Subscribe(infra.PageFetched, func(e infra.Event) {
			fetched = append(fetched, e.(PageFetchedEvent).Progress)
		})
		bus.Subscribe(infra.HarvestCompleted, func(e infra.Event) {
			completed = append(completed, e.(HarvestCompletedEvent).Manifest)
		})

		_, err := NewHarvester(client, newTestStore(t), WithHarvesterBus(bus)).Harvest(context.Background(), NewHarvestSession("run-1", testClock()))

		require.NoError(t, err)
		require.Len(t, fetched, 2)
		assert.Equal(t, 2, fetched[0].Fetched)
		assert.Equal(t, 1, fetched[1].Page)
		assert.Equal(t, 3, fetched[1].Fetched)
		require.Len(t, completed, 1)
		assert.Equal(t, 2, completed[0].Pages)
	})

	t.Run("cancelled context stops before the first request", func(t *testing.T) {
		srv, client := newTestArchive(t, pageRecords("p0", 1))
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := NewHarvester(client, newTestStore(t)).Harvest(ctx, NewHarvestSession("run-1", testClock()))

		assert.ErrorIs(t, err, context.Canceled)
		assert.Empty(t, srv.Requests())
	})
}

func TestResume(t *testing.T) {
	t.Run("continues from the last durable page", func(t *testing.T) {
		// Arrange
		srv, client := newTestArchive(t, pageRecords("p0", 2), pageRecords("p1", 2), pageRecords("p2", 1))
		store := newTestStore(t)
		_, err := store.Reset()
		require.NoError(t, err)
		require.NoError(t, store.Write(0, archivetest.PageXML(archivetest.Token(1), pageRecords("p0", 2)...)))
		session := NewHarvestSession("run-2", testClock())

		// Act
		manifest, err := NewHarvester(client, store).Resume(context.Background(), session)

		// Assert
		require.NoError(t, err)
		requests := srv.Requests()
		require.Len(t, requests, 2)
		assert.Equal(t, archivetest.Token(1), requests[0].Get("resumptionToken"))
		assert.Equal(t, 3, manifest.Pages)
		assert.Equal(t, 5, manifest.Records)
		assert.True(t, manifest.Complete)
	})

	t.Run("complete checkpoints are left untouched", func(t *testing.T) {
		srv, client := newTestArchive(t, pageRecords("p0", 1))
		store := newTestStore(t)
		_, err := NewHarvester(client, store).Harvest(context.Background(), NewHarvestSession("run-1", testClock()))
		require.NoError(t, err)
		session := NewHarvestSession("run-2", testClock())

		manifest, err := NewHarvester(client, store).Resume(context.Background(), session)

		require.NoError(t, err)
		assert.Equal(t, "run-1", manifest.RunID)
		assert.Len(t, srv.Requests(), 1)
		assert.Equal(t, 1, session.Fetched())
	})

	t.Run("truncated run whose last page was final only needs a manifest", func(t *testing.T) {
		srv, client := newTestArchive(t, pageRecords("p0", 1))
		store := newTestStore(t)
		_, err := store.Reset()
		require.NoError(t, err)
		require.NoError(t, store.Write(0, archivetest.PageXML("", pageRecords("p0", 3)...)))

		manifest, err := NewHarvester(client, store).Resume(context.Background(), NewHarvestSession("run-2", testClock()))

		require.NoError(t, err)
		assert.Empty(t, srv.Requests())
		assert.Equal(t, 3, manifest.Records)
	})

	t.Run("empty directory starts from the first page", func(t *testing.T) {
		srv, client := newTestArchive(t, pageRecords("p0", 1))

		manifest, err := NewHarvester(client, newTestStore(t)).Resume(context.Background(), NewHarvestSession("run-1", testClock()))

		require.NoError(t, err)
		require.Len(t, srv.Requests(), 1)
		assert.Equal(t, "oai_dc", srv.Requests()[0].Get("metadataPrefix"))
		assert.Equal(t, 1, manifest.Pages)
	})
}
