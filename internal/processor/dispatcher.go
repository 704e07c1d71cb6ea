// Package processor orchestrates one publication run: filter fetched items
// through the dedup ledger, absorb new ones into the durable queue, and
// publish the oldest pending entries within the rate limit.
package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pinapelz/rasis/internal/entity"
	"github.com/pinapelz/rasis/internal/logger"
	"github.com/pinapelz/rasis/internal/repository"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/gofrs/uuid"
	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	otLog "github.com/opentracing/opentracing-go/log"
)

// Config is the explicit limits value object passed to the Dispatcher at
// construction. Nothing is read from the environment during a run.
type Config struct {
	// MaxPerWindow is the publish limit within one sliding window.
	MaxPerWindow int `mapstructure:"max_per_window"`
	// Window is the sliding window duration, e.g. "1h".
	Window time.Duration `mapstructure:"window"`
	// StartDate is an optional YYYY-MM-DD cutoff: items with a timestamp
	// before it are fingerprinted but never enqueued.
	StartDate string `mapstructure:"start_date"`
	// RetentionDays bounds the age of posted entries and log records kept
	// by the sweep.
	RetentionDays int `mapstructure:"retention_days"`
}

// Validate checks the dispatcher limits.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.MaxPerWindow, validation.Required, validation.Min(1)),
		validation.Field(&c.Window, validation.Required, validation.Min(time.Minute)),
		validation.Field(&c.StartDate, validation.Date("2006-01-02")),
		validation.Field(&c.RetentionDays, validation.Min(1)),
	)
}

// FeedSource pulls the current collection of news items.
type FeedSource interface {
	FetchItems(ctx context.Context) ([]entity.NewsItem, error)
}

// Publisher posts rendered text to the outside world.
type Publisher interface {
	Publish(ctx context.Context, text string) error
}

// RenderFunc formats one item; ok is false for unsupported categories.
type RenderFunc func(item *entity.NewsItem) (string, bool)

// Repository defines the durable store methods the Dispatcher writes through.
// The Dispatcher is the only writer.
type Repository interface {
	SeenFingerprint(ctx context.Context, fingerprint string) (bool, error)
	SaveFingerprint(ctx context.Context, fingerprint string) error
	CreateQueueEntry(ctx context.Context, e *entity.QueueEntry) error
	GetPendingEntries(ctx context.Context, limit int) ([]entity.QueueEntry, error)
	MarkPosted(ctx context.Context, entryID uuid.UUID, postedAt time.Time) error
	CountEntriesByStatus(ctx context.Context, status entity.EntryStatus) (int, error)
	SweepOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// RateLimiter computes remaining publish capacity over the sliding window.
type RateLimiter interface {
	CountInWindow(ctx context.Context, window time.Duration) (int, error)
	RemainingCapacity(ctx context.Context, maxPerWindow int, window time.Duration) (int, error)
	NextAvailableTime(ctx context.Context, maxPerWindow int, window time.Duration) (time.Time, bool, error)
}

// RunReport carries the per-run counts, reported regardless of partial
// failure.
type RunReport struct {
	Fetched              int        `json:"fetched"`
	AlreadySeen          int        `json:"already_seen"`
	DiscardedUnsupported int        `json:"discarded_unsupported"`
	DiscardedOld         int        `json:"discarded_old"`
	NewlyQueued          int        `json:"newly_queued"`
	Published            int        `json:"published"`
	PendingRemaining     int        `json:"pending_remaining"`
	WindowUsed           int        `json:"window_used"`
	NextAvailable        *time.Time `json:"next_available,omitempty"`
}

// Dispatcher sequences filtering, queueing and rate-limited publication.
type Dispatcher struct {
	sources    []FeedSource
	repository Repository
	limiter    RateLimiter
	publisher  Publisher
	render     RenderFunc
	cfg        Config
	startDate  time.Time
	logger     logger.Logger
	tracer     opentracing.Tracer
	now        func() time.Time
}

// New creates a Dispatcher. The configuration must already be validated.
func New(cfg Config, sources []FeedSource, repo Repository, limiter RateLimiter, pub Publisher, render RenderFunc, log logger.Logger, tracer opentracing.Tracer) (*Dispatcher, error) {
	var startDate time.Time
	if cfg.StartDate != "" {
		parsed, err := time.Parse("2006-01-02", cfg.StartDate)
		if err != nil {
			return nil, fmt.Errorf("invalid start_date %q: %w", cfg.StartDate, err)
		}
		startDate = parsed
	}
	return &Dispatcher{
		sources:    sources,
		repository: repo,
		limiter:    limiter,
		publisher:  pub,
		render:     render,
		cfg:        cfg,
		startDate:  startDate,
		logger:     log,
		tracer:     tracer,
		now:        time.Now,
	}, nil
}

// WithNow replaces the clock, for deterministic tests.
func (d *Dispatcher) WithNow(now func() time.Time) *Dispatcher {
	d.now = now
	return d
}

// Run executes one full cycle: fetch, dedup, enqueue, publish up to the
// remaining window capacity. Storage failures abort the run; a publish
// failure stops further publishing but the queued state survives for the
// next run. The report is filled in either case.
func (d *Dispatcher) Run(ctx context.Context) (RunReport, error) {
	span, ctx := d.setupTracingSpan(ctx, "dispatch-run")
	defer span.Finish()
	report := RunReport{}

	items := d.fetchAll(ctx)
	report.Fetched = len(items)

	if err := d.ingest(ctx, items, &report); err != nil {
		span.LogFields(
			otLog.Error(err),
		)
		return report, err
	}

	publishErr := d.publishBatch(ctx, &report)

	if err := d.fillStatus(ctx, &report); err != nil {
		span.LogFields(
			otLog.Error(err),
		)
		if publishErr == nil {
			publishErr = err
		}
	}
	d.logger.Info("Run finished: fetched ", report.Fetched,
		", newly queued ", report.NewlyQueued,
		", published ", report.Published,
		", pending ", report.PendingRemaining,
		", window used ", report.WindowUsed)
	span.LogKV("event", "run finished", "published", report.Published)
	return report, publishErr
}

// fetchAll collects items from every source. An upstream fetch failure is
// logged and contributes zero items, the existing queue is still processed.
func (d *Dispatcher) fetchAll(ctx context.Context) []entity.NewsItem {
	var items []entity.NewsItem
	for _, source := range d.sources {
		fetched, err := source.FetchItems(ctx)
		if err != nil {
			d.logger.Error("Failure fetching feed: ", err)
			continue
		}
		items = append(items, fetched...)
	}
	return items
}

// ingest filters fetched items through the ledger and absorbs new ones into
// the queue. The fingerprint is recorded even for discarded items so they
// are never fetched-and-discarded again.
func (d *Dispatcher) ingest(ctx context.Context, items []entity.NewsItem, report *RunReport) error {
	for i := range items {
		item := items[i]
		fingerprint := item.Fingerprint()
		seen, err := d.repository.SeenFingerprint(ctx, fingerprint)
		if err != nil {
			return fmt.Errorf("couldn't check fingerprint: %w", err)
		}
		if seen {
			report.AlreadySeen++
			continue
		}
		if d.beforeCutoff(&item) {
			d.logger.Debug("Item ", item.Identifier, " predates start date, discarding")
			if err := d.repository.SaveFingerprint(ctx, fingerprint); err != nil {
				return fmt.Errorf("couldn't save fingerprint: %w", err)
			}
			report.DiscardedOld++
			continue
		}
		rendered, ok := d.render(&item)
		if !ok {
			d.logger.Debug("Item ", item.Identifier, " has unsupported category, discarding")
			if err := d.repository.SaveFingerprint(ctx, fingerprint); err != nil {
				return fmt.Errorf("couldn't save fingerprint: %w", err)
			}
			report.DiscardedUnsupported++
			continue
		}
		entry, err := entity.NewQueueEntry(item, rendered, d.now())
		if err != nil {
			return fmt.Errorf("couldn't build queue entry: %w", err)
		}
		if err := d.repository.CreateQueueEntry(ctx, entry); err != nil {
			if errors.Is(err, repository.ErrDuplicateEntry) {
				// Ledger and queue disagree, heal the ledger and move on.
				d.logger.Warn("Queue already holds entry for fingerprint ", fingerprint, ", skipping item ", item.Identifier)
				if err := d.repository.SaveFingerprint(ctx, fingerprint); err != nil {
					return fmt.Errorf("couldn't save fingerprint: %w", err)
				}
				continue
			}
			return fmt.Errorf("couldn't enqueue item: %w", err)
		}
		if err := d.repository.SaveFingerprint(ctx, fingerprint); err != nil {
			return fmt.Errorf("couldn't save fingerprint: %w", err)
		}
		report.NewlyQueued++
	}
	return nil
}

// publishBatch publishes the oldest pending entries up to the remaining
// window capacity, failing fast on the first publish error.
func (d *Dispatcher) publishBatch(ctx context.Context, report *RunReport) error {
	capacity, err := d.limiter.RemainingCapacity(ctx, d.cfg.MaxPerWindow, d.cfg.Window)
	if err != nil {
		return fmt.Errorf("couldn't compute remaining capacity: %w", err)
	}
	if capacity == 0 {
		d.logger.Info("Publish window exhausted, deferring pending entries")
		return nil
	}
	entries, err := d.repository.GetPendingEntries(ctx, capacity)
	if err != nil {
		return fmt.Errorf("couldn't list pending entries: %w", err)
	}
	for i := range entries {
		entry := &entries[i]
		if err := d.publisher.Publish(ctx, entry.RenderedContent); err != nil {
			publishFailuresTotal.Inc()
			// A failure likely means the endpoint is down, burning
			// through the rest of the batch would be useless.
			d.logger.Error("Failure publishing entry ", entry.ID, ", halting run: ", err)
			return fmt.Errorf("publish failure for entry %v: %w", entry.ID, err)
		}
		if err := d.repository.MarkPosted(ctx, entry.ID, d.now()); err != nil {
			if errors.Is(err, repository.ErrEntryNotFound) || errors.Is(err, repository.ErrEntryAlreadyPosted) {
				d.logger.Warn("Benign race marking entry ", entry.ID, " posted: ", err)
			} else {
				return fmt.Errorf("couldn't mark entry %v posted: %w", entry.ID, err)
			}
		}
		publishedTotal.Inc()
		report.Published++
	}
	return nil
}

// fillStatus populates the observer counts of the report.
func (d *Dispatcher) fillStatus(ctx context.Context, report *RunReport) error {
	pending, err := d.repository.CountEntriesByStatus(ctx, entity.StatusPending)
	if err != nil {
		return err
	}
	report.PendingRemaining = pending
	used, err := d.limiter.CountInWindow(ctx, d.cfg.Window)
	if err != nil {
		return err
	}
	report.WindowUsed = used
	next, ok, err := d.limiter.NextAvailableTime(ctx, d.cfg.MaxPerWindow, d.cfg.Window)
	if err != nil {
		return err
	}
	if ok {
		report.NextAvailable = &next
	}
	return nil
}

// Sweep deletes posted entries and publish log records older than the
// retention age. Fingerprints are kept.
func (d *Dispatcher) Sweep(ctx context.Context) (int64, error) {
	span, ctx := d.setupTracingSpan(ctx, "retention-sweep")
	defer span.Finish()
	retention := d.cfg.RetentionDays
	if retention == 0 {
		retention = 90
	}
	cutoff := d.now().AddDate(0, 0, -retention)
	deleted, err := d.repository.SweepOlderThan(ctx, cutoff)
	if err != nil {
		span.LogFields(
			otLog.Error(err),
		)
		return 0, fmt.Errorf("retention sweep failed: %w", err)
	}
	d.logger.Info("Retention sweep removed ", deleted, " records older than ", cutoff)
	return deleted, nil
}

func (d *Dispatcher) beforeCutoff(item *entity.NewsItem) bool {
	if d.startDate.IsZero() || item.Timestamp == 0 {
		return false
	}
	return time.Unix(item.Timestamp, 0).Before(d.startDate)
}

func (d *Dispatcher) setupTracingSpan(ctx context.Context, name string) (opentracing.Span, context.Context) {
	span, ctx := opentracing.StartSpanFromContextWithTracer(ctx, d.tracer, name)
	ext.Component.Set(span, "dispatcher")
	return span, ctx
}
