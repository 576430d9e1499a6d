package reporting

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateCampaignReport(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = sqlDB.Close() }()

	day1 := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	day0 := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("FROM ad_events").
		WithArgs("x1", 7).
		WillReturnRows(sqlmock.NewRows([]string{"date", "impressions", "clicks"}).
			AddRow(day1, int64(200), int64(4)).
			AddRow(day0, int64(100), int64(0)))
	mock.ExpectQuery("GROUP BY partition").
		WithArgs("x1", 7).
		WillReturnRows(sqlmock.NewRows([]string{"partition", "impressions"}).
			AddRow("eligible", int64(225)).
			AddRow("cooling", int64(75)))
	mock.ExpectQuery("uniqExact").
		WithArgs("x1", 7).
		WillReturnRows(sqlmock.NewRows([]string{"viewers"}).AddRow(int64(120)))

	report, err := GenerateCampaignReport(context.Background(), sqlDB, "x1", 7)
	require.NoError(t, err)

	assert.Equal(t, int64(300), report.Impressions)
	assert.Equal(t, int64(4), report.Clicks)
	assert.InDelta(t, 1.3333, report.CTR, 0.001)
	assert.Equal(t, int64(120), report.UniqueViewers)

	require.Len(t, report.Daily, 2)
	assert.InDelta(t, 2.0, report.Daily[0].CTR, 0.0001)
	assert.Zero(t, report.Daily[1].CTR)

	require.Len(t, report.Partitions, 2)
	assert.Equal(t, "eligible", report.Partitions[0].Partition)
	assert.InDelta(t, 0.75, report.Partitions[0].Share, 0.0001)
	assert.InDelta(t, 0.25, report.Partitions[1].Share, 0.0001)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGenerateCampaignReport_NoActivity(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = sqlDB.Close() }()

	mock.ExpectQuery("FROM ad_events").
		WillReturnRows(sqlmock.NewRows([]string{"date", "impressions", "clicks"}))
	mock.ExpectQuery("GROUP BY partition").
		WillReturnRows(sqlmock.NewRows([]string{"partition", "impressions"}))
	mock.ExpectQuery("uniqExact").
		WillReturnRows(sqlmock.NewRows([]string{"viewers"}).AddRow(int64(0)))

	report, err := GenerateCampaignReport(context.Background(), sqlDB, "x9", 30)
	require.NoError(t, err)
	assert.Zero(t, report.Impressions)
	assert.Zero(t, report.CTR)
	assert.Empty(t, report.Partitions)
}

func TestGenerateCampaignReport_QueryError(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = sqlDB.Close() }()

	mock.ExpectQuery("FROM ad_events").WillReturnError(errors.New("connection refused"))

	_, err = GenerateCampaignReport(context.Background(), sqlDB, "x1", 7)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "daily metrics")
}

func TestGenerateCampaignReport_InvalidRequest(t *testing.T) {
	_, err := GenerateCampaignReport(context.Background(), nil, "", 7)
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = GenerateCampaignReport(context.Background(), nil, "x1", 0)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}
