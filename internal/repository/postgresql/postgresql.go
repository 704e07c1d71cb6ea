package postgresql

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pinapelz/rasis/internal/entity"
	"github.com/pinapelz/rasis/internal/repository"

	opentracing "github.com/opentracing/opentracing-go"
	otLog "github.com/opentracing/opentracing-go/log"

	"go.uber.org/zap"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/log/zapadapter"
	"github.com/jackc/pgx/v4/pgxpool"
)

// pgUniqueViolation is the PostgreSQL error code for unique constraint violations
const pgUniqueViolation = "23505"

// Config defines database configuration, usable for Viper
type Config struct {
	Name           string `mapstructure:"name"`
	Hostname       string `mapstructure:"hostname"`
	Port           string `mapstructure:"port"`
	Username       string `mapstructure:"username"`
	Password       string `mapstructure:"password"`
	SSLMode        string `mapstructure:"sslmode"`
	LogLevel       string `mapstructure:"log_level"`
	MinConnections int32  `mapstructure:"min_connections"`
	MaxConnections int32  `mapstructure:"max_connections"`
}

// Repository is the single durable store for the publication pipeline:
// the fingerprint ledger, the queue of entries and the publish log.
type Repository struct {
	pool   *pgxpool.Pool
	tracer opentracing.Tracer
}

func NewZapLogger(logger *zap.Logger) *zapadapter.Logger {
	return zapadapter.NewLogger(logger)
}

// New creates database pool configuration
func New(databaseConfig *Config, logger pgx.Logger, tracer opentracing.Tracer) (*Repository, error) {
	postgresDataSource := fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=%s",
		databaseConfig.Username,
		databaseConfig.Password,
		databaseConfig.Hostname,
		databaseConfig.Name,
		databaseConfig.SSLMode)
	poolConfig, err := pgxpool.ParseConfig(postgresDataSource)
	if err != nil {
		return nil, err
	}
	poolConfig.ConnConfig.Logger = logger
	logLevelMapping := map[string]pgx.LogLevel{
		"trace": pgx.LogLevelTrace,
		"debug": pgx.LogLevelDebug,
		"info":  pgx.LogLevelInfo,
		"warn":  pgx.LogLevelWarn,
		"error": pgx.LogLevelError,
	}
	poolConfig.ConnConfig.LogLevel = logLevelMapping[databaseConfig.LogLevel]
	poolConfig.MaxConns = databaseConfig.MaxConnections
	poolConfig.MinConns = databaseConfig.MinConnections

	pool, err := pgxpool.ConnectConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, err
	}
	return &Repository{pool: pool, tracer: tracer}, nil
}

// SeenFingerprint answers the dedup ledger membership query.
func (r *Repository) SeenFingerprint(ctx context.Context, fingerprint string) (bool, error) {
	var exists bool
	query := "select exists (select 1 from fingerprints where fingerprint=$1)"
	span, ctx := r.setupTracingSpan(ctx, "seen-fingerprint", query)
	defer span.Finish()
	if err := r.pool.QueryRow(ctx, query, fingerprint).Scan(&exists); err != nil {
		span.LogFields(
			otLog.Error(err),
		)
		return false, err
	}
	return exists, nil
}

// SaveFingerprint records a fingerprint in the ledger. Recording an already
// present fingerprint is a no-op.
func (r *Repository) SaveFingerprint(ctx context.Context, fingerprint string) error {
	query := "INSERT INTO fingerprints (fingerprint, first_seen) VALUES ($1, $2) ON CONFLICT (fingerprint) DO NOTHING"
	span, ctx := r.setupTracingSpan(ctx, "save-fingerprint", query)
	defer span.Finish()
	_, err := r.pool.Exec(ctx, query, fingerprint, time.Now())
	if err != nil {
		span.LogFields(
			otLog.Error(err),
		)
	} else {
		span.LogKV("event", "saved fingerprint")
	}
	return err
}

// CreateQueueEntry inserts a new pending entry. A fingerprint collision maps
// to repository.ErrDuplicateEntry.
func (r *Repository) CreateQueueEntry(ctx context.Context, e *entity.QueueEntry) error {
	query := "insert into queue_entries (id, fingerprint, item, rendered_content, status, created_at) values ($1, $2, $3::jsonb, $4, $5, $6)"
	span, ctx := r.setupTracingSpan(ctx, "create-queue-entry", query)
	defer span.Finish()
	item, err := json.Marshal(e.Item)
	if err != nil {
		return fmt.Errorf("couldn't marshal item payload, %w", err)
	}
	_, err = r.pool.Exec(ctx, query, e.ID, e.Fingerprint, string(item), e.RenderedContent, e.Status, e.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			span.LogKV("event", "duplicate queue entry")
			return repository.ErrDuplicateEntry
		}
		span.LogFields(
			otLog.Error(err),
		)
		return err
	}
	span.LogKV("event", "created queue entry")
	return nil
}

// GetPendingEntries returns up to limit pending entries, oldest first.
// Entries with identical creation timestamps keep insertion order via the
// monotonic seq tie-break.
func (r *Repository) GetPendingEntries(ctx context.Context, limit int) ([]entity.QueueEntry, error) {
	query := "select id, fingerprint, item, rendered_content, status, created_at, posted_at from queue_entries where status=$1 order by created_at asc, seq asc limit $2"
	span, ctx := r.setupTracingSpan(ctx, "get-pending-entries", query)
	defer span.Finish()
	rows, err := r.pool.Query(ctx, query, entity.StatusPending, limit)
	if err != nil {
		span.LogFields(
			otLog.Error(err),
		)
		return nil, err
	}
	defer rows.Close()

	entries := []entity.QueueEntry{}
	for rows.Next() {
		e := entity.QueueEntry{}
		var item []byte
		if err := rows.Scan(&e.ID, &e.Fingerprint, &item, &e.RenderedContent, &e.Status, &e.CreatedAt, &e.PostedAt); err != nil {
			span.LogFields(
				otLog.Error(err),
			)
			return nil, err
		}
		if err := json.Unmarshal(item, &e.Item); err != nil {
			return nil, fmt.Errorf("couldn't unmarshal item payload for entry %v, %w", e.ID, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		span.LogFields(
			otLog.Error(err),
		)
		return nil, err
	}
	span.LogKV("entries number", len(entries))
	return entries, nil
}

// MarkPosted transitions an entry pending->posted and appends the publish log
// record within one transaction, so a crash or a retry can never produce a
// posted entry without a log record or a double-counted window.
func (r *Repository) MarkPosted(ctx context.Context, entryID uuid.UUID, postedAt time.Time) error {
	updateQuery := "update queue_entries set status=$1, posted_at=$2 where id=$3 and status=$4"
	span, ctx := r.setupTracingSpan(ctx, "mark-posted", updateQuery)
	defer span.Finish()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		span.LogFields(
			otLog.Error(err),
		)
		return err
	}
	defer tx.Rollback(ctx)

	result, err := tx.Exec(ctx, updateQuery, entity.StatusPosted, postedAt, entryID, entity.StatusPending)
	if err != nil {
		span.LogFields(
			otLog.Error(err),
		)
		return err
	}
	if result.RowsAffected() == 0 {
		var status entity.EntryStatus
		err := tx.QueryRow(ctx, "select status from queue_entries where id=$1", entryID).Scan(&status)
		if err == pgx.ErrNoRows {
			span.LogKV("event", "entry not found")
			return repository.ErrEntryNotFound
		}
		if err != nil {
			span.LogFields(
				otLog.Error(err),
			)
			return err
		}
		span.LogKV("event", "entry already posted")
		return repository.ErrEntryAlreadyPosted
	}
	if _, err := tx.Exec(ctx, "insert into publish_log (entry_id, posted_at) values ($1, $2)", entryID, postedAt); err != nil {
		span.LogFields(
			otLog.Error(err),
		)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		span.LogFields(
			otLog.Error(err),
		)
		return err
	}
	span.LogKV("event", "marked entry posted")
	return nil
}

// CountPublishedSince counts publish log records with timestamp >= since.
func (r *Repository) CountPublishedSince(ctx context.Context, since time.Time) (int, error) {
	var count int
	query := "select count(*) from publish_log where posted_at >= $1"
	span, ctx := r.setupTracingSpan(ctx, "count-published-since", query)
	defer span.Finish()
	if err := r.pool.QueryRow(ctx, query, since).Scan(&count); err != nil {
		span.LogFields(
			otLog.Error(err),
		)
		return 0, err
	}
	return count, nil
}

// OldestPublishedSince returns the earliest publish timestamp >= since.
// The boolean is false when the window holds no records.
func (r *Repository) OldestPublishedSince(ctx context.Context, since time.Time) (time.Time, bool, error) {
	var oldest time.Time
	query := "select posted_at from publish_log where posted_at >= $1 order by posted_at asc limit 1"
	span, ctx := r.setupTracingSpan(ctx, "oldest-published-since", query)
	defer span.Finish()
	err := r.pool.QueryRow(ctx, query, since).Scan(&oldest)
	if err == pgx.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		span.LogFields(
			otLog.Error(err),
		)
		return time.Time{}, false, err
	}
	return oldest, true, nil
}

// CountEntriesByStatus returns the number of queue entries with the status.
func (r *Repository) CountEntriesByStatus(ctx context.Context, status entity.EntryStatus) (int, error) {
	var count int
	query := "select count(*) from queue_entries where status=$1"
	span, ctx := r.setupTracingSpan(ctx, "count-entries-by-status", query)
	defer span.Finish()
	if err := r.pool.QueryRow(ctx, query, status).Scan(&count); err != nil {
		span.LogFields(
			otLog.Error(err),
		)
		return 0, err
	}
	return count, nil
}

// SweepOlderThan deletes posted queue entries and publish log records older
// than cutoff. Fingerprints are retained, losing them would republish old
// items.
func (r *Repository) SweepOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	logQuery := "delete from publish_log where posted_at < $1"
	span, ctx := r.setupTracingSpan(ctx, "sweep-older-than", logQuery)
	defer span.Finish()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		span.LogFields(
			otLog.Error(err),
		)
		return 0, err
	}
	defer tx.Rollback(ctx)

	logResult, err := tx.Exec(ctx, logQuery, cutoff)
	if err != nil {
		span.LogFields(
			otLog.Error(err),
		)
		return 0, err
	}
	entriesResult, err := tx.Exec(ctx, "delete from queue_entries where status=$1 and posted_at < $2", entity.StatusPosted, cutoff)
	if err != nil {
		span.LogFields(
			otLog.Error(err),
		)
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		span.LogFields(
			otLog.Error(err),
		)
		return 0, err
	}
	deleted := logResult.RowsAffected() + entriesResult.RowsAffected()
	span.LogKV("deleted records", deleted)
	return deleted, nil
}

// Healthcheck is needed for application healtchecks
func (r *Repository) Healthcheck(ctx context.Context) error {
	var one int
	row := r.pool.QueryRow(ctx, "select 1")
	if err := row.Scan(&one); err != nil {
		return fmt.Errorf("failure checking database access: %w", err)
	}
	return nil
}

func (r *Repository) setupTracingSpan(ctx context.Context, name string, query string) (opentracing.Span, context.Context) {
	span, ctx := opentracing.StartSpanFromContextWithTracer(ctx, r.tracer, name)
	span.SetTag("component", "repository")
	span.SetTag("db.type", "sql")
	span.SetTag("db.query", query)
	return span, ctx
}
