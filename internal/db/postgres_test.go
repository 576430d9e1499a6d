package db

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patrickwarner/adrotator/internal/models"
)

func newMockPostgres(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	return &Postgres{DB: sqlDB}, mock
}

var campaignRowColumns = []string{"id", "advertiser_name", "image_url", "link_url", "is_active", "total_views", "total_clicks", "created_at"}

func TestPostgres_LoadActiveCampaigns(t *testing.T) {
	pg, mock := newMockPostgres(t)
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT ` + campaignColumns + ` FROM campaigns WHERE is_active`)).
		WillReturnRows(sqlmock.NewRows(campaignRowColumns).
			AddRow("a", "Acme", "https://cdn/a.png", "https://acme.test", true, 3, 1, created).
			AddRow("b", "Bolt", "https://cdn/b.png", "https://bolt.test", true, 0, 0, created))

	cs, err := pg.LoadActiveCampaigns(context.Background())
	require.NoError(t, err)
	require.Len(t, cs, 2)
	assert.Equal(t, "a", cs[0].ID)
	assert.Equal(t, "Acme", cs[0].AdvertiserName)
	assert.Equal(t, int64(3), cs[0].TotalViews)
	assert.Equal(t, int64(1), cs[0].TotalClicks)
	assert.True(t, cs[1].IsActive)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_LoadActiveCampaignsQueryError(t *testing.T) {
	pg, mock := newMockPostgres(t)
	mock.ExpectQuery("SELECT").WillReturnError(errors.New("connection refused"))

	_, err := pg.LoadActiveCampaigns(context.Background())
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_IncrementViews(t *testing.T) {
	pg, mock := newMockPostgres(t)
	mock.ExpectQuery(regexp.QuoteMeta(`UPDATE campaigns SET total_views = total_views + 1 WHERE id=$1 RETURNING total_views, total_clicks`)).
		WithArgs("a").
		WillReturnRows(sqlmock.NewRows([]string{"total_views", "total_clicks"}).AddRow(11, 2))

	c, err := pg.IncrementViews(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, models.Counters{Views: 11, Clicks: 2}, c)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_IncrementClicksUnknownCampaign(t *testing.T) {
	pg, mock := newMockPostgres(t)
	mock.ExpectQuery(regexp.QuoteMeta(`UPDATE campaigns SET total_clicks = total_clicks + 1`)).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"total_views", "total_clicks"}))

	_, err := pg.IncrementClicks(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_IncrementPropagatesDriverError(t *testing.T) {
	pg, mock := newMockPostgres(t)
	mock.ExpectQuery("UPDATE campaigns").WithArgs("a").WillReturnError(sql.ErrConnDone)

	_, err := pg.IncrementViews(context.Background(), "a")
	require.Error(t, err)
	assert.ErrorIs(t, err, sql.ErrConnDone)
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestPostgres_GetCampaign(t *testing.T) {
	pg, mock := newMockPostgres(t)
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM campaigns WHERE id=$1`)).
		WithArgs("a").
		WillReturnRows(sqlmock.NewRows(campaignRowColumns).
			AddRow("a", "Acme", "https://cdn/a.png", "https://acme.test", false, 7, 9, created))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM campaigns WHERE id=$1`)).
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows(campaignRowColumns))

	c, err := pg.GetCampaign(context.Background(), "a")
	require.NoError(t, err)
	assert.False(t, c.IsActive)
	assert.True(t, created.Equal(c.CreatedAt))

	_, err = pg.GetCampaign(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_InsertCampaign(t *testing.T) {
	pg, mock := newMockPostgres(t)
	created := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO campaigns`)).
		WithArgs("a", "Acme", "https://cdn/a.png", "https://acme.test", true).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(created))

	c := models.Campaign{ID: "a", AdvertiserName: "Acme", ImageURL: "https://cdn/a.png", LinkURL: "https://acme.test", IsActive: true, TotalViews: 4}
	require.NoError(t, pg.InsertCampaign(context.Background(), &c))
	assert.True(t, created.Equal(c.CreatedAt))
	assert.Zero(t, c.TotalViews)

	assert.ErrorIs(t, pg.InsertCampaign(context.Background(), &models.Campaign{ID: " "}), ErrInvalidCampaign)
	assert.NoError(t, mock.ExpectationsWereMet())
}
