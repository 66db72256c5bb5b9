package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"

	"github.com/good-yellow-bee/flarepage/internal/metrics"
	"github.com/good-yellow-bee/flarepage/internal/models"
)

// ArchiveConfig holds ClickHouse connection settings for the raw alert
// archive. The archive is append-only history; engine correctness never
// depends on it.
type ArchiveConfig struct {
	// Addresses are the ClickHouse server addresses (host:port).
	Addresses []string

	// Database is the ClickHouse database name.
	Database string

	// Username for authentication.
	Username string

	// Password for authentication.
	Password string

	// DialTimeout is the connection timeout.
	DialTimeout time.Duration

	// Compression enables LZ4 compression.
	Compression bool

	// RetentionDays is the TTL in days for archived alerts.
	RetentionDays int

	// BatchSize is the number of buffered alerts that triggers a flush.
	BatchSize int

	// FlushInterval flushes partial batches on a timer.
	FlushInterval time.Duration
}

// AlertArchive appends every ingested alert to ClickHouse in batches.
type AlertArchive struct {
	config *ArchiveConfig
	db     *sql.DB

	mu      sync.Mutex
	buffer  []archivedAlert
	stopCh  chan struct{}
	doneCh  chan struct{}
	stopped atomic.Bool
	flushed atomic.Int64
	dropped atomic.Int64
}

type archivedAlert struct {
	alert      models.Alert
	incidentID string
}

// NewAlertArchive creates a ClickHouse-backed alert archive.
func NewAlertArchive(config *ArchiveConfig) *AlertArchive {
	if config.DialTimeout == 0 {
		config.DialTimeout = 5 * time.Second
	}
	if config.RetentionDays == 0 {
		config.RetentionDays = 90
	}
	if config.BatchSize == 0 {
		config.BatchSize = 500
	}
	if config.FlushInterval == 0 {
		config.FlushInterval = 5 * time.Second
	}

	return &AlertArchive{
		config: config,
		buffer: make([]archivedAlert, 0, config.BatchSize),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Open initializes the ClickHouse connection and starts the flush loop.
func (a *AlertArchive) Open() error {
	opts := &clickhouse.Options{
		Addr: a.config.Addresses,
		Auth: clickhouse.Auth{
			Database: a.config.Database,
			Username: a.config.Username,
			Password: a.config.Password,
		},
		DialTimeout: a.config.DialTimeout,
	}

	if a.config.Compression {
		opts.Compression = &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		}
	}

	db := clickhouse.OpenDB(opts)

	ctx, cancel := context.WithTimeout(context.Background(), a.config.DialTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping clickhouse: %w", err)
	}

	a.db = db
	go a.flushLoop()
	return nil
}

// Close flushes remaining alerts and closes the connection.
func (a *AlertArchive) Close() error {
	if a.stopped.Swap(true) {
		return nil
	}
	close(a.stopCh)
	<-a.doneCh

	if a.db == nil {
		return nil
	}
	return a.db.Close()
}

// Migrate creates the archive table if it doesn't exist.
func (a *AlertArchive) Migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS alert_archive (
			id UUID,
			incident_id String,
			dedup_key String,
			service_id LowCardinality(String),
			name String,
			severity LowCardinality(String),
			status LowCardinality(String),
			source String,
			starts_at DateTime64(3, 'UTC'),
			ends_at Nullable(DateTime64(3, 'UTC')),
			ingested_at DateTime64(3, 'UTC')
		)
		ENGINE = MergeTree()
		PARTITION BY toYYYYMM(ingested_at)
		ORDER BY (service_id, dedup_key, ingested_at)
		TTL toDateTime(ingested_at) + INTERVAL %d DAY
	`, a.config.RetentionDays)

	if _, err := a.db.ExecContext(ctx, createTable); err != nil {
		return fmt.Errorf("create alert_archive table: %w", err)
	}
	return nil
}

// Append buffers an alert for archival. Never blocks ingestion; the
// buffer drops the batch on persistent insert failure.
func (a *AlertArchive) Append(alert *models.Alert, incidentID string) {
	if a.stopped.Load() {
		return
	}

	a.mu.Lock()
	a.buffer = append(a.buffer, archivedAlert{alert: *alert, incidentID: incidentID})
	full := len(a.buffer) >= a.config.BatchSize
	a.mu.Unlock()

	if full {
		a.flush()
	}
}

// Stats returns flushed and dropped row counts.
func (a *AlertArchive) Stats() (flushed, dropped int64) {
	return a.flushed.Load(), a.dropped.Load()
}

func (a *AlertArchive) flushLoop() {
	defer close(a.doneCh)

	ticker := time.NewTicker(a.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.flush()
		case <-a.stopCh:
			a.flush()
			return
		}
	}
}

func (a *AlertArchive) flush() {
	a.mu.Lock()
	if len(a.buffer) == 0 {
		a.mu.Unlock()
		return
	}
	batch := a.buffer
	a.buffer = make([]archivedAlert, 0, a.config.BatchSize)
	a.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := a.insertBatch(ctx, batch); err != nil {
		a.dropped.Add(int64(len(batch)))
		metrics.ArchiveAlertsDropped.Add(float64(len(batch)))
		log.Printf("alert archive: flush failed, dropped %d alerts: %v", len(batch), err)
		return
	}
	a.flushed.Add(int64(len(batch)))
	metrics.ArchiveAlertsWritten.Add(float64(len(batch)))
}

func (a *AlertArchive) insertBatch(ctx context.Context, batch []archivedAlert) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO alert_archive
			(id, incident_id, dedup_key, service_id, name, severity, status, source, starts_at, ends_at, ingested_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare batch: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, row := range batch {
		var endsAt interface{}
		if row.alert.EndsAt != nil {
			endsAt = *row.alert.EndsAt
		}
		if _, err := stmt.ExecContext(ctx,
			row.alert.ID, row.incidentID, row.alert.DedupKey, row.alert.ServiceID,
			row.alert.Name, string(row.alert.Severity), string(row.alert.Status),
			row.alert.Source, row.alert.StartsAt, endsAt, now,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("append row: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}
