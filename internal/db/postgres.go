package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/XSAM/otelsql"
	_ "github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/patrickwarner/adrotator/internal/models"
)

// Postgres wraps a postgres DB connection.
type Postgres struct {
	DB *sql.DB
}

const campaignColumns = `id, advertiser_name, image_url, link_url, is_active, total_views, total_clicks, created_at`

// InitPostgres connects to Postgres with connection pooling configuration.
func InitPostgres(dsn string, maxOpenConns, maxIdleConns int, connMaxLifetime, connMaxIdleTime time.Duration) (*Postgres, error) {
	// Register the otelsql wrapper for postgres
	driverName, err := otelsql.Register("postgres",
		otelsql.WithAttributes(
			attribute.String("db.system", "postgresql"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("register otelsql: %w", err)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)
	db.SetConnMaxIdleTime(connMaxIdleTime)

	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	zap.L().Info("Connected to Postgres with connection pooling",
		zap.Int("max_open_conns", maxOpenConns),
		zap.Int("max_idle_conns", maxIdleConns),
		zap.Duration("conn_max_lifetime", connMaxLifetime))
	return &Postgres{DB: db}, nil
}

// Close terminates the Postgres connection.
func (p *Postgres) Close() error {
	if p == nil || p.DB == nil {
		return nil
	}
	if err := p.DB.Close(); err != nil {
		zap.L().Error("postgres close", zap.Error(err))
		return err
	}
	return nil
}

// LoadActiveCampaigns retrieves active campaigns with a usable display
// payload. Whitespace-only URLs are filtered again by the selector.
func (p *Postgres) LoadActiveCampaigns(ctx context.Context) ([]models.Campaign, error) {
	rows, err := p.DB.QueryContext(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE is_active AND image_url <> '' AND link_url <> '' ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query active campaigns: %w", err)
	}
	return scanCampaigns(rows, scanPostgresCampaign)
}

// ListCampaigns retrieves every campaign regardless of state.
func (p *Postgres) ListCampaigns(ctx context.Context) ([]models.Campaign, error) {
	rows, err := p.DB.QueryContext(ctx, `SELECT `+campaignColumns+` FROM campaigns ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query campaigns: %w", err)
	}
	return scanCampaigns(rows, scanPostgresCampaign)
}

// GetCampaign fetches a single campaign by ID.
func (p *Postgres) GetCampaign(ctx context.Context, id string) (models.Campaign, error) {
	row := p.DB.QueryRowContext(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE id=$1`, id)
	c, err := scanPostgresCampaign(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Campaign{}, ErrNotFound
	}
	if err != nil {
		return models.Campaign{}, fmt.Errorf("get campaign: %w", err)
	}
	return c, nil
}

// InsertCampaign inserts a new campaign with zeroed counters and fills in
// the stored creation time.
func (p *Postgres) InsertCampaign(ctx context.Context, c *models.Campaign) error {
	if strings.TrimSpace(c.ID) == "" {
		return ErrInvalidCampaign
	}
	err := p.DB.QueryRowContext(ctx, `INSERT INTO campaigns (id, advertiser_name, image_url, link_url, is_active) VALUES ($1,$2,$3,$4,$5) RETURNING created_at`,
		c.ID, c.AdvertiserName, c.ImageURL, c.LinkURL, c.IsActive).Scan(&c.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert campaign: %w", err)
	}
	c.TotalViews, c.TotalClicks = 0, 0
	return nil
}

// IncrementViews adds one view in a single UPDATE so concurrent callers never
// lose an increment.
func (p *Postgres) IncrementViews(ctx context.Context, id string) (models.Counters, error) {
	return p.increment(ctx, `UPDATE campaigns SET total_views = total_views + 1 WHERE id=$1 RETURNING total_views, total_clicks`, id)
}

// IncrementClicks adds one click in a single UPDATE.
func (p *Postgres) IncrementClicks(ctx context.Context, id string) (models.Counters, error) {
	return p.increment(ctx, `UPDATE campaigns SET total_clicks = total_clicks + 1 WHERE id=$1 RETURNING total_views, total_clicks`, id)
}

func (p *Postgres) increment(ctx context.Context, query, id string) (models.Counters, error) {
	var c models.Counters
	err := p.DB.QueryRowContext(ctx, query, id).Scan(&c.Views, &c.Clicks)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Counters{}, ErrNotFound
	}
	if err != nil {
		return models.Counters{}, fmt.Errorf("increment counter: %w", err)
	}
	return c, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPostgresCampaign(row rowScanner) (models.Campaign, error) {
	var c models.Campaign
	err := row.Scan(&c.ID, &c.AdvertiserName, &c.ImageURL, &c.LinkURL, &c.IsActive, &c.TotalViews, &c.TotalClicks, &c.CreatedAt)
	return c, err
}

func scanCampaigns(rows *sql.Rows, scan func(rowScanner) (models.Campaign, error)) ([]models.Campaign, error) {
	defer func() {
		_ = rows.Close()
	}()
	var cs []models.Campaign
	for rows.Next() {
		c, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		cs = append(cs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return cs, nil
}

var _ CampaignRepository = (*Postgres)(nil)
