package processor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pinapelz/rasis/internal/entity"
	"github.com/pinapelz/rasis/internal/formatter"
	"github.com/pinapelz/rasis/internal/ratelimit"
	"github.com/pinapelz/rasis/internal/repository"

	"github.com/gofrs/uuid"
	"github.com/opentracing/opentracing-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeRepository is an in-memory stand-in for the durable store.
type fakeRepository struct {
	fingerprints  map[string]bool
	entries       []*entity.QueueEntry
	publishLog    []entity.PublishLogRecord
	markPostedErr error
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{fingerprints: map[string]bool{}}
}

func (f *fakeRepository) SeenFingerprint(_ context.Context, fp string) (bool, error) {
	return f.fingerprints[fp], nil
}

func (f *fakeRepository) SaveFingerprint(_ context.Context, fp string) error {
	f.fingerprints[fp] = true
	return nil
}

func (f *fakeRepository) CreateQueueEntry(_ context.Context, e *entity.QueueEntry) error {
	for _, existing := range f.entries {
		if existing.Fingerprint == e.Fingerprint {
			return repository.ErrDuplicateEntry
		}
	}
	copied := *e
	f.entries = append(f.entries, &copied)
	return nil
}

func (f *fakeRepository) GetPendingEntries(_ context.Context, limit int) ([]entity.QueueEntry, error) {
	pending := []entity.QueueEntry{}
	for _, e := range f.entries {
		if e.Status != entity.StatusPending {
			continue
		}
		pending = append(pending, *e)
		if len(pending) == limit {
			break
		}
	}
	return pending, nil
}

func (f *fakeRepository) MarkPosted(_ context.Context, entryID uuid.UUID, postedAt time.Time) error {
	if f.markPostedErr != nil {
		return f.markPostedErr
	}
	for _, e := range f.entries {
		if e.ID != entryID {
			continue
		}
		if e.Status == entity.StatusPosted {
			return repository.ErrEntryAlreadyPosted
		}
		e.Status = entity.StatusPosted
		t := postedAt
		e.PostedAt = &t
		f.publishLog = append(f.publishLog, entity.PublishLogRecord{EntryID: entryID, PostedAt: postedAt})
		return nil
	}
	return repository.ErrEntryNotFound
}

func (f *fakeRepository) CountEntriesByStatus(_ context.Context, status entity.EntryStatus) (int, error) {
	count := 0
	for _, e := range f.entries {
		if e.Status == status {
			count++
		}
	}
	return count, nil
}

func (f *fakeRepository) SweepOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	kept := f.entries[:0]
	for _, e := range f.entries {
		if e.Status == entity.StatusPosted && e.PostedAt != nil && e.PostedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	f.entries = kept
	keptLog := f.publishLog[:0]
	for _, rec := range f.publishLog {
		if rec.PostedAt.Before(cutoff) {
			deleted++
			continue
		}
		keptLog = append(keptLog, rec)
	}
	f.publishLog = keptLog
	return deleted, nil
}

// ratelimit.PublishLog, so the real limiter runs against the fake store.
func (f *fakeRepository) CountPublishedSince(_ context.Context, since time.Time) (int, error) {
	count := 0
	for _, rec := range f.publishLog {
		if !rec.PostedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (f *fakeRepository) OldestPublishedSince(_ context.Context, since time.Time) (time.Time, bool, error) {
	var oldest time.Time
	found := false
	for _, rec := range f.publishLog {
		if rec.PostedAt.Before(since) {
			continue
		}
		if !found || rec.PostedAt.Before(oldest) {
			oldest = rec.PostedAt
			found = true
		}
	}
	return oldest, found, nil
}

type fakeSource struct {
	items []entity.NewsItem
	err   error
}

func (f *fakeSource) FetchItems(_ context.Context) ([]entity.NewsItem, error) {
	return f.items, f.err
}

type fakePublisher struct {
	published []string
	failFrom  int // fail on calls numbered >= failFrom (1-based), 0 disables
	calls     int
}

func (f *fakePublisher) Publish(_ context.Context, text string) error {
	f.calls++
	if f.failFrom > 0 && f.calls >= f.failFrom {
		return errors.New("instance unreachable")
	}
	f.published = append(f.published, text)
	return nil
}

type testHarness struct {
	repo       *fakeRepository
	source     *fakeSource
	publisher  *fakePublisher
	dispatcher *Dispatcher
	now        time.Time
}

func newTestHarness(t *testing.T, cfg Config, items []entity.NewsItem) *testHarness {
	t.Helper()
	h := &testHarness{
		repo:      newFakeRepository(),
		source:    &fakeSource{items: items},
		publisher: &fakePublisher{},
		now:       time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	nowFn := func() time.Time { return h.now }
	limiter := ratelimit.NewWithNow(h.repo, nowFn)
	d, err := New(cfg, []FeedSource{h.source}, h.repo, limiter, h.publisher, formatter.Render,
		zap.NewNop().Sugar(), opentracing.NoopTracer{})
	require.NoError(t, err)
	h.dispatcher = d.WithNow(nowFn)
	return h
}

func newsItem(identifier, content, date string) entity.NewsItem {
	return entity.NewsItem{Identifier: identifier, Content: content, Date: date}
}

func defaultConfig() Config {
	return Config{MaxPerWindow: 3, Window: time.Hour, RetentionDays: 90}
}

func TestRunIngestsAndPublishesNewItems(t *testing.T) {
	h := newTestHarness(t, defaultConfig(), []entity.NewsItem{
		newsItem("IIDX_31_NEWS", "new songs", "2024-05-01"),
		newsItem("DDR_WORLD_NEWS", "new cabinet", "2024-05-01"),
	})
	report, err := h.dispatcher.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Fetched)
	assert.Equal(t, 2, report.NewlyQueued)
	assert.Equal(t, 2, report.Published)
	assert.Equal(t, 0, report.PendingRemaining)
	assert.Equal(t, 2, report.WindowUsed)
	assert.Len(t, h.publisher.published, 2)
	assert.Contains(t, h.publisher.published[0], "beatmania IIDX")
}

func TestRunIdempotentIngestion(t *testing.T) {
	items := []entity.NewsItem{newsItem("IIDX_31_NEWS", "new songs", "2024-05-01")}
	h := newTestHarness(t, defaultConfig(), items)

	_, err := h.dispatcher.Run(context.Background())
	require.NoError(t, err)

	// Same item comes back on the next fetch.
	report, err := h.dispatcher.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.AlreadySeen)
	assert.Equal(t, 0, report.NewlyQueued)
	assert.Len(t, h.repo.entries, 1)
	assert.Len(t, h.repo.fingerprints, 1)
	assert.Len(t, h.publisher.published, 1)
}

func TestRunDiscardsUnsupportedButRecordsFingerprint(t *testing.T) {
	item := newsItem("WACCA_NEWS", "reboot when", "2024-05-01")
	h := newTestHarness(t, defaultConfig(), []entity.NewsItem{item})

	report, err := h.dispatcher.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.DiscardedUnsupported)
	assert.Equal(t, 0, report.NewlyQueued)
	assert.Empty(t, h.repo.entries)
	assert.True(t, h.repo.fingerprints[item.Fingerprint()])

	// Refetching the discarded item is a no-op, not another discard cycle.
	report, err = h.dispatcher.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.AlreadySeen)
	assert.Equal(t, 0, report.DiscardedUnsupported)
}

func TestRunDiscardsItemsBeforeStartDate(t *testing.T) {
	cfg := defaultConfig()
	cfg.StartDate = "2024-01-01"
	old := newsItem("IIDX_31_NEWS", "ancient news", "2023-06-01")
	old.Timestamp = time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC).Unix()
	h := newTestHarness(t, cfg, []entity.NewsItem{old})

	report, err := h.dispatcher.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.DiscardedOld)
	assert.Empty(t, h.repo.entries)
	assert.True(t, h.repo.fingerprints[old.Fingerprint()])
}

func TestRunFIFOUnderLimitedCapacity(t *testing.T) {
	cfg := defaultConfig()
	cfg.MaxPerWindow = 1
	h := newTestHarness(t, cfg, nil)

	// Seed three pending entries with increasing creation times.
	base := h.now.Add(-30 * time.Minute)
	for i, content := range []string{"first", "second", "third"} {
		item := newsItem("IIDX_31_NEWS", content, "2024-05-01")
		entry, err := entity.NewQueueEntry(item, content, base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
		require.NoError(t, h.repo.CreateQueueEntry(context.Background(), entry))
	}

	report, err := h.dispatcher.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Published)
	assert.Equal(t, []string{"first"}, h.publisher.published)
	assert.Equal(t, 2, report.PendingRemaining)
}

func TestRunFIFOTieBreakOnEqualCreationTime(t *testing.T) {
	cfg := defaultConfig()
	cfg.MaxPerWindow = 1
	h := newTestHarness(t, cfg, nil)

	// One ingest batch under a fixed clock stamps every entry with the same
	// creation time; ties resolve in insertion order.
	createdAt := h.now.Add(-30 * time.Minute)
	for _, content := range []string{"first", "second", "third"} {
		item := newsItem("IIDX_31_NEWS", content, "2024-05-01")
		entry, err := entity.NewQueueEntry(item, content, createdAt)
		require.NoError(t, err)
		require.NoError(t, h.repo.CreateQueueEntry(context.Background(), entry))
	}

	report, err := h.dispatcher.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Published)
	assert.Equal(t, []string{"first"}, h.publisher.published)
}

func TestMarkPostedIdempotentTransition(t *testing.T) {
	repo := newFakeRepository()
	entry, err := entity.NewQueueEntry(newsItem("IIDX_31_NEWS", "one", "2024-05-01"), "one", time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.NoError(t, repo.CreateQueueEntry(context.Background(), entry))

	postedAt := time.Date(2024, 5, 1, 13, 0, 0, 0, time.UTC)
	require.NoError(t, repo.MarkPosted(context.Background(), entry.ID, postedAt))

	// The second transition is rejected and leaves exactly one log record.
	err = repo.MarkPosted(context.Background(), entry.ID, postedAt.Add(time.Minute))
	assert.ErrorIs(t, err, repository.ErrEntryAlreadyPosted)
	assert.Len(t, repo.publishLog, 1)
	assert.Equal(t, entity.StatusPosted, repo.entries[0].Status)
	require.NotNil(t, repo.entries[0].PostedAt)
	assert.True(t, postedAt.Equal(*repo.entries[0].PostedAt))

	missing, err := uuid.NewV4()
	require.NoError(t, err)
	assert.ErrorIs(t, repo.MarkPosted(context.Background(), missing, postedAt), repository.ErrEntryNotFound)
}

func TestRunFailFastOnPublishFailure(t *testing.T) {
	h := newTestHarness(t, defaultConfig(), []entity.NewsItem{
		newsItem("IIDX_31_NEWS", "one", "2024-05-01"),
		newsItem("DDR_WORLD_NEWS", "two", "2024-05-01"),
		newsItem("JUBEAT_NEWS", "three", "2024-05-01"),
	})
	h.publisher.failFrom = 2

	report, err := h.dispatcher.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, report.Published)
	// The report is still filled on partial failure.
	assert.Equal(t, 2, report.PendingRemaining)
	assert.Equal(t, 1, report.WindowUsed)

	// Next run retries the survivors once the endpoint recovers.
	h.publisher.failFrom = 0
	report, err = h.dispatcher.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Published)
	assert.Equal(t, 0, report.PendingRemaining)
}

func TestRunToleratesBenignMarkPostedRace(t *testing.T) {
	h := newTestHarness(t, defaultConfig(), []entity.NewsItem{
		newsItem("IIDX_31_NEWS", "one", "2024-05-01"),
	})
	h.repo.markPostedErr = repository.ErrEntryAlreadyPosted

	report, err := h.dispatcher.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Published)
}

func TestRunContinuesOnFetchFailure(t *testing.T) {
	h := newTestHarness(t, defaultConfig(), nil)
	h.source.err = errors.New("upstream down")

	// Existing queue is still processed with zero new items.
	entry, err := entity.NewQueueEntry(newsItem("IIDX_31_NEWS", "queued earlier", "2024-04-30"), "queued earlier", h.now.Add(-time.Hour))
	require.NoError(t, err)
	require.NoError(t, h.repo.CreateQueueEntry(context.Background(), entry))

	report, err := h.dispatcher.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Fetched)
	assert.Equal(t, 1, report.Published)
}

func TestRunSkipsDuplicateQueueEntry(t *testing.T) {
	item := newsItem("IIDX_31_NEWS", "dup", "2024-05-01")
	h := newTestHarness(t, defaultConfig(), []entity.NewsItem{item})

	// Queue already holds the entry but the ledger lost the fingerprint.
	entry, err := entity.NewQueueEntry(item, "dup", h.now.Add(-time.Hour))
	require.NoError(t, err)
	require.NoError(t, h.repo.CreateQueueEntry(context.Background(), entry))

	report, err := h.dispatcher.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.NewlyQueued)
	assert.Len(t, h.repo.entries, 1)
	// The ledger is healed so the item is not retried.
	assert.True(t, h.repo.fingerprints[item.Fingerprint()])
}

func TestRunRateLimitScenario(t *testing.T) {
	items := make([]entity.NewsItem, 5)
	identifiers := []string{"IIDX_31_NEWS", "DDR_WORLD_NEWS", "JUBEAT_NEWS", "NOSTALGIA_OP3", "SOUND_VOLTEX_NEWS"}
	for i := range items {
		items[i] = newsItem(identifiers[i], "news body", "2024-05-01")
	}
	h := newTestHarness(t, defaultConfig(), items)

	// Limit 3/hour, 5 pending, empty window: exactly 3 published.
	report, err := h.dispatcher.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, report.Published)
	assert.Equal(t, 2, report.PendingRemaining)
	assert.Equal(t, 3, report.WindowUsed)
	firstPublish := h.now

	// An immediate second run publishes nothing and reports when the
	// window reopens.
	report, err = h.dispatcher.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Published)
	assert.Equal(t, 2, report.PendingRemaining)
	require.NotNil(t, report.NextAvailable)
	assert.Equal(t, firstPublish.Add(time.Hour), *report.NextAvailable)

	// Once the window slides past the first batch, the rest drains.
	h.now = h.now.Add(61 * time.Minute)
	report, err = h.dispatcher.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Published)
	assert.Equal(t, 0, report.PendingRemaining)
}

func TestSweepRemovesOldPostedRecords(t *testing.T) {
	h := newTestHarness(t, defaultConfig(), nil)

	oldPosted := h.now.AddDate(0, 0, -120)
	entry, err := entity.NewQueueEntry(newsItem("IIDX_31_NEWS", "old", "2024-01-01"), "old", oldPosted)
	require.NoError(t, err)
	require.NoError(t, h.repo.CreateQueueEntry(context.Background(), entry))
	require.NoError(t, h.repo.MarkPosted(context.Background(), entry.ID, oldPosted))

	recent, err := entity.NewQueueEntry(newsItem("DDR_WORLD_NEWS", "recent", "2024-04-30"), "recent", h.now.Add(-time.Hour))
	require.NoError(t, err)
	require.NoError(t, h.repo.CreateQueueEntry(context.Background(), recent))

	deleted, err := h.dispatcher.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted) // entry + log record
	assert.Len(t, h.repo.entries, 1)
	assert.Empty(t, h.repo.publishLog)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"valid", Config{MaxPerWindow: 3, Window: time.Hour, RetentionDays: 90}, false},
		{"valid with start date", Config{MaxPerWindow: 3, Window: time.Hour, StartDate: "2024-01-01"}, false},
		{"missing limit", Config{Window: time.Hour}, true},
		{"window too small", Config{MaxPerWindow: 3, Window: time.Second}, true},
		{"malformed start date", Config{MaxPerWindow: 3, Window: time.Hour, StartDate: "01/02/2024"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
