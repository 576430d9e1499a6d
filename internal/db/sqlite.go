package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/XSAM/otelsql"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/patrickwarner/adrotator/internal/models"
)

// SQLite is a single-file campaign store for local runs. Counter updates use
// the same single-statement increment as Postgres; SQLite serialises writers
// and busy_timeout makes concurrent writers wait instead of failing.
type SQLite struct {
	DB  *sql.DB
	now func() time.Time
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// OpenSQLite opens the database at path and applies embedded migrations.
func OpenSQLite(path string) (*SQLite, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	cleanPath := filepath.Clean(path)
	if err := MigrateSQLite(cleanPath); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	driverName, err := otelsql.Register("sqlite",
		otelsql.WithAttributes(attribute.String("db.system", "sqlite")),
	)
	if err != nil {
		return nil, fmt.Errorf("register otelsql: %w", err)
	}

	dsn := cleanPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	zap.L().Info("Opened SQLite campaign store", zap.String("path", cleanPath))
	return &SQLite{DB: sqlDB, now: time.Now}, nil
}

// Close closes the SQLite handle.
func (s *SQLite) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// LoadActiveCampaigns retrieves active campaigns with a usable display payload.
func (s *SQLite) LoadActiveCampaigns(ctx context.Context) ([]models.Campaign, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE is_active = 1 AND image_url <> '' AND link_url <> '' ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query active campaigns: %w", err)
	}
	return scanCampaigns(rows, scanSQLiteCampaign)
}

// ListCampaigns retrieves every campaign regardless of state.
func (s *SQLite) ListCampaigns(ctx context.Context) ([]models.Campaign, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT `+campaignColumns+` FROM campaigns ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query campaigns: %w", err)
	}
	return scanCampaigns(rows, scanSQLiteCampaign)
}

// GetCampaign fetches a single campaign by ID.
func (s *SQLite) GetCampaign(ctx context.Context, id string) (models.Campaign, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE id = ?`, id)
	c, err := scanSQLiteCampaign(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Campaign{}, ErrNotFound
	}
	if err != nil {
		return models.Campaign{}, fmt.Errorf("get campaign: %w", err)
	}
	return c, nil
}

// InsertCampaign inserts a new campaign with zeroed counters.
func (s *SQLite) InsertCampaign(ctx context.Context, c *models.Campaign) error {
	if strings.TrimSpace(c.ID) == "" {
		return ErrInvalidCampaign
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now().UTC()
	}
	c.CreatedAt = fromMillis(toMillis(c.CreatedAt))
	_, err := s.DB.ExecContext(ctx, `INSERT INTO campaigns (id, advertiser_name, image_url, link_url, is_active, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.AdvertiserName, c.ImageURL, c.LinkURL, boolToInt(c.IsActive), toMillis(c.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert campaign: %w", err)
	}
	c.TotalViews, c.TotalClicks = 0, 0
	return nil
}

// IncrementViews adds one view in a single UPDATE.
func (s *SQLite) IncrementViews(ctx context.Context, id string) (models.Counters, error) {
	return s.increment(ctx, `UPDATE campaigns SET total_views = total_views + 1 WHERE id = ? RETURNING total_views, total_clicks`, id)
}

// IncrementClicks adds one click in a single UPDATE.
func (s *SQLite) IncrementClicks(ctx context.Context, id string) (models.Counters, error) {
	return s.increment(ctx, `UPDATE campaigns SET total_clicks = total_clicks + 1 WHERE id = ? RETURNING total_views, total_clicks`, id)
}

func (s *SQLite) increment(ctx context.Context, query, id string) (models.Counters, error) {
	var c models.Counters
	err := s.DB.QueryRowContext(ctx, query, id).Scan(&c.Views, &c.Clicks)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Counters{}, ErrNotFound
	}
	if err != nil {
		return models.Counters{}, fmt.Errorf("increment counter: %w", err)
	}
	return c, nil
}

func scanSQLiteCampaign(row rowScanner) (models.Campaign, error) {
	var (
		c         models.Campaign
		active    int64
		createdAt int64
	)
	if err := row.Scan(&c.ID, &c.AdvertiserName, &c.ImageURL, &c.LinkURL, &active, &c.TotalViews, &c.TotalClicks, &createdAt); err != nil {
		return models.Campaign{}, err
	}
	c.IsActive = active != 0
	c.CreatedAt = fromMillis(createdAt)
	return c, nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

var _ CampaignRepository = (*SQLite)(nil)
