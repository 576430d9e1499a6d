package analytics

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	_ "github.com/ClickHouse/clickhouse-go/v2"

	"github.com/patrickwarner/adrotator/internal/observability"
)

// Event types written to the event log.
const (
	EventImpression = "impression"
	EventClick      = "click"
)

// ErrUnavailable is returned when the analytics DB is not configured.
var ErrUnavailable = errors.New("analytics unavailable")

// AnalyticsService records impression and click events. Implementations
// should return ErrUnavailable when the underlying storage is not configured.
type AnalyticsService interface {
	RecordEvent(ctx context.Context, ev Event) error
}

// Event is one row of the ad_events table.
type Event struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Type       string    `json:"event_type"`
	AdID       string    `json:"ad_id"`
	RequestID  string    `json:"request_id"`
	ViewerHash string    `json:"viewer_hash"`
	Partition  string    `json:"partition"`
}

// NewEvent fills in the ID and timestamp of an event. The viewer key is
// stored hashed.
func NewEvent(eventType, adID, requestID, viewerKey, partition string, now time.Time) Event {
	return Event{
		ID:         uuid.NewString(),
		Timestamp:  now.UTC(),
		Type:       eventType,
		AdID:       adID,
		RequestID:  requestID,
		ViewerHash: HashViewerKey(viewerKey),
		Partition:  partition,
	}
}

// HashViewerKey returns a short stable digest of a viewer key, or "" for an
// anonymous viewer.
func HashViewerKey(viewerKey string) string {
	if viewerKey == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(viewerKey))
	return hex.EncodeToString(sum[:8])
}

// Analytics wraps a ClickHouse DB connection.
type Analytics struct {
	DB      *sql.DB
	Metrics observability.MetricsRegistry
}

const createEventsTable = `CREATE TABLE IF NOT EXISTS ad_events (
       id           UUID,
       timestamp    DateTime64(3),
       event_type   LowCardinality(String),
       ad_id        String,
       request_id   String,
       viewer_hash  String,
       partition    LowCardinality(String)
   ) ENGINE=MergeTree() ORDER BY (event_type, ad_id, timestamp)`

// InitClickHouse connects to ClickHouse and ensures the events table exists.
func InitClickHouse(dsn string, maxOpenConns, maxIdleConns int, connMaxLifetime time.Duration, metrics observability.MetricsRegistry) (*Analytics, error) {
	db, err := sql.Open("clickhouse", dsn)
	if err != nil {
		return nil, fmt.Errorf("clickhouse open: %w", err)
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)
	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}
	if _, err := db.ExecContext(context.Background(), createEventsTable); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("clickhouse create table: %w", err)
	}

	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	zap.L().Info("Connected to ClickHouse")
	return &Analytics{DB: db, Metrics: metrics}, nil
}

// RecordEvent inserts a single event row into the ad_events table.
func (a *Analytics) RecordEvent(ctx context.Context, ev Event) error {
	if a == nil || a.DB == nil {
		return ErrUnavailable
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	stmt := `INSERT INTO ad_events (id, timestamp, event_type, ad_id, request_id, viewer_hash, partition) VALUES (?, ?, ?, ?, ?, ?, ?)`
	if _, err := a.DB.ExecContext(ctx, stmt, ev.ID, ev.Timestamp, ev.Type, ev.AdID, ev.RequestID, ev.ViewerHash, ev.Partition); err != nil {
		a.metrics().IncrementAnalyticsEvents(ev.Type, "error")
		zap.L().Error("clickhouse insert failed", zap.Error(err), zap.String("event_type", ev.Type))
		return fmt.Errorf("insert %s event: %w", ev.Type, err)
	}
	a.metrics().IncrementAnalyticsEvents(ev.Type, "ok")
	return nil
}

func (a *Analytics) metrics() observability.MetricsRegistry {
	if a.Metrics == nil {
		return observability.NewNoOpRegistry()
	}
	return a.Metrics
}

// Close terminates the ClickHouse connection.
func (a *Analytics) Close() {
	if a != nil && a.DB != nil {
		if err := a.DB.Close(); err != nil {
			zap.L().Error("clickhouse close", zap.Error(err))
		}
	}
}

// GetEventsByRequestID returns all events for a given request ID ordered by timestamp.
func (a *Analytics) GetEventsByRequestID(ctx context.Context, id string) ([]Event, error) {
	if a == nil || a.DB == nil {
		return nil, ErrUnavailable
	}
	query := `SELECT id, timestamp, event_type, ad_id, request_id, viewer_hash, partition FROM ad_events WHERE request_id=? ORDER BY timestamp`
	rows, err := a.DB.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			zap.L().Warn("rows close", zap.Error(err))
		}
	}()

	var events []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.ID, &ev.Timestamp, &ev.Type, &ev.AdID, &ev.RequestID, &ev.ViewerHash, &ev.Partition); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return events, nil
}

var _ AnalyticsService = (*Analytics)(nil)
