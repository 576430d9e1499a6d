// Package reporting builds per-campaign performance reports from the
// ad_events table in ClickHouse.
package reporting

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidRequest is returned for an empty ad ID or a non-positive window.
var ErrInvalidRequest = errors.New("invalid report request")

// DailyMetrics holds one day of activity for a campaign. CTR is a
// percentage (0-100).
type DailyMetrics struct {
	Date        time.Time `json:"date"`
	Impressions int64     `json:"impressions"`
	Clicks      int64     `json:"clicks"`
	CTR         float64   `json:"ctr"`
}

// PartitionMetrics counts impressions by the selection partition they came
// from. A high cooling share means viewers are exhausting the pool.
type PartitionMetrics struct {
	Partition   string  `json:"partition"`
	Impressions int64   `json:"impressions"`
	Share       float64 `json:"share"`
}

// CampaignReport is the full report for one campaign.
type CampaignReport struct {
	AdID          string             `json:"ad_id"`
	Days          int                `json:"days"`
	Impressions   int64              `json:"impressions"`
	Clicks        int64              `json:"clicks"`
	CTR           float64            `json:"ctr"`
	UniqueViewers int64              `json:"unique_viewers"`
	Daily         []DailyMetrics     `json:"daily"`
	Partitions    []PartitionMetrics `json:"partitions"`
}

// GenerateCampaignReport queries ClickHouse for the last days of activity
// of adID.
func GenerateCampaignReport(ctx context.Context, db *sql.DB, adID string, days int) (*CampaignReport, error) {
	if adID == "" || days <= 0 {
		return nil, ErrInvalidRequest
	}
	report := &CampaignReport{AdID: adID, Days: days}

	daily, err := getDailyMetrics(ctx, db, adID, days)
	if err != nil {
		return nil, fmt.Errorf("get daily metrics: %w", err)
	}
	report.Daily = daily
	for _, d := range daily {
		report.Impressions += d.Impressions
		report.Clicks += d.Clicks
	}
	report.CTR = ctr(report.Clicks, report.Impressions)

	partitions, err := getPartitionMetrics(ctx, db, adID, days)
	if err != nil {
		return nil, fmt.Errorf("get partition metrics: %w", err)
	}
	report.Partitions = partitions

	err = db.QueryRowContext(ctx, `
		SELECT uniqExact(viewer_hash)
		FROM ad_events
		WHERE ad_id = ?
			AND event_type = 'impression'
			AND viewer_hash != ''
			AND timestamp >= now() - INTERVAL ? DAY`, adID, days).Scan(&report.UniqueViewers)
	if err != nil {
		return nil, fmt.Errorf("count unique viewers: %w", err)
	}

	return report, nil
}

func ctr(clicks, impressions int64) float64 {
	if impressions <= 0 {
		return 0
	}
	return float64(clicks) / float64(impressions) * 100
}

func getDailyMetrics(ctx context.Context, db *sql.DB, adID string, days int) ([]DailyMetrics, error) {
	query := `
		SELECT
			toDate(timestamp) as date,
			countIf(event_type = 'impression') as impressions,
			countIf(event_type = 'click') as clicks
		FROM ad_events
		WHERE ad_id = ?
			AND timestamp >= now() - INTERVAL ? DAY
		GROUP BY date
		ORDER BY date DESC`

	rows, err := db.QueryContext(ctx, query, adID, days)
	if err != nil {
		return nil, fmt.Errorf("query daily metrics: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var metrics []DailyMetrics
	for rows.Next() {
		var m DailyMetrics
		if err := rows.Scan(&m.Date, &m.Impressions, &m.Clicks); err != nil {
			return nil, fmt.Errorf("scan daily metrics: %w", err)
		}
		m.CTR = ctr(m.Clicks, m.Impressions)
		metrics = append(metrics, m)
	}
	return metrics, rows.Err()
}

func getPartitionMetrics(ctx context.Context, db *sql.DB, adID string, days int) ([]PartitionMetrics, error) {
	query := `
		SELECT
			partition,
			count() as impressions
		FROM ad_events
		WHERE ad_id = ?
			AND event_type = 'impression'
			AND timestamp >= now() - INTERVAL ? DAY
		GROUP BY partition
		ORDER BY impressions DESC`

	rows, err := db.QueryContext(ctx, query, adID, days)
	if err != nil {
		return nil, fmt.Errorf("query partition metrics: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var (
		out   []PartitionMetrics
		total int64
	)
	for rows.Next() {
		var p PartitionMetrics
		if err := rows.Scan(&p.Partition, &p.Impressions); err != nil {
			return nil, fmt.Errorf("scan partition metrics: %w", err)
		}
		total += p.Impressions
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Share = float64(out[i].Impressions) / float64(total)
	}
	return out, nil
}
