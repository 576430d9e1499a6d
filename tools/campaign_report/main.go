// Campaign Report Tool prints a performance report for one campaign from the
// ClickHouse event log.
//
// Usage:
//
//	go run ./tools/campaign_report -ad-id=x1 -days=30
//
// The report covers impressions, clicks, CTR and unique viewers, a daily
// breakdown, and how many impressions came from the cooling partition.
//
// Configuration:
//
//	-ad-id: Required. The campaign ID to report on
//	-days: Optional. Number of days to include (default: 7)
//	-clickhouse-dsn: Optional. ClickHouse connection string (default: tcp://localhost:9000)
//
// Environment Variables:
//
//	CLICKHOUSE_DSN: ClickHouse connection string (overridden by -clickhouse-dsn flag)
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"time"

	_ "github.com/ClickHouse/clickhouse-go/v2"

	"github.com/patrickwarner/adrotator/internal/reporting"
)

func main() {
	var (
		adID = flag.String("ad-id", "", "Campaign ID to generate report for")
		days = flag.Int("days", 7, "Number of days to include in report")
		dsn  = flag.String("clickhouse-dsn", getEnv("CLICKHOUSE_DSN", "tcp://localhost:9000"), "ClickHouse DSN")
	)
	flag.Parse()

	if *adID == "" {
		fmt.Fprintf(os.Stderr, "Error: ad-id is required\n")
		flag.Usage()
		os.Exit(1)
	}

	db, err := sql.Open("clickhouse", *dsn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error connecting to ClickHouse: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if err := db.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close database connection: %v\n", err)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error pinging ClickHouse: %v\n", err)
		os.Exit(1)
	}

	report, err := reporting.GenerateCampaignReport(ctx, db, *adID, *days)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error generating report: %v\n", err)
		os.Exit(1)
	}

	printCampaignReport(report)
}

func printCampaignReport(r *reporting.CampaignReport) {
	fmt.Printf("═══════════════════════════════════════════════════════════════\n")
	fmt.Printf("                  CAMPAIGN PERFORMANCE REPORT                  \n")
	fmt.Printf("═══════════════════════════════════════════════════════════════\n")
	fmt.Printf("Campaign ID: %s\n", r.AdID)
	fmt.Printf("Report Period: %d days (ending %s)\n", r.Days, time.Now().Format("2006-01-02"))
	fmt.Printf("Generated: %s\n\n", time.Now().Format("2006-01-02 15:04:05"))

	fmt.Printf("OVERALL PERFORMANCE\n")
	fmt.Printf("───────────────────────────────────────────────────────────────\n")
	fmt.Printf("Total Impressions:  %s\n", formatNumber(r.Impressions))
	fmt.Printf("Total Clicks:       %s\n", formatNumber(r.Clicks))
	fmt.Printf("Unique Viewers:     %s\n", formatNumber(r.UniqueViewers))
	fmt.Printf("Overall CTR:        %.2f%%\n\n", r.CTR)

	if len(r.Daily) > 0 {
		fmt.Printf("DAILY BREAKDOWN\n")
		fmt.Printf("───────────────────────────────────────────────────────────────\n")
		fmt.Printf("Date        | Impressions | Clicks |   CTR   \n")
		fmt.Printf("------------|-------------|--------|---------\n")
		for _, dm := range r.Daily {
			fmt.Printf("%-10s | %11s | %6s | %6.2f%%\n",
				dm.Date.Format("2006-01-02"),
				formatNumber(dm.Impressions),
				formatNumber(dm.Clicks),
				dm.CTR,
			)
		}
		fmt.Printf("\n")
	}

	if len(r.Partitions) > 0 {
		fmt.Printf("SELECTION PARTITIONS\n")
		fmt.Printf("───────────────────────────────────────────────────────────────\n")
		for _, p := range r.Partitions {
			fmt.Printf("%-10s %11s  (%.1f%%)\n", p.Partition, formatNumber(p.Impressions), p.Share*100)
		}
		fmt.Printf("\n")
	}

	fmt.Printf("INSIGHTS\n")
	fmt.Printf("───────────────────────────────────────────────────────────────\n")
	switch {
	case r.Impressions == 0:
		fmt.Printf("No impressions recorded in this period\n")
	case r.Clicks == 0:
		fmt.Printf("No clicks recorded; review the creative\n")
	case r.CTR < 1.0:
		fmt.Printf("Low CTR (%.2f%%)\n", r.CTR)
	default:
		fmt.Printf("CTR %.2f%% is within normal range\n", r.CTR)
	}
	for _, p := range r.Partitions {
		if p.Partition == "cooling" && p.Share > 0.5 {
			fmt.Printf("%.0f%% of impressions were repeats inside the cooldown; the pool may be too small\n", p.Share*100)
		}
	}
	fmt.Printf("═══════════════════════════════════════════════════════════════\n")
}

// formatNumber formats integers with comma separators, e.g. 1234567 becomes "1,234,567".
func formatNumber(n int64) string {
	str := fmt.Sprintf("%d", n)
	if len(str) <= 3 {
		return str
	}
	result := ""
	for i, digit := range str {
		if i > 0 && (len(str)-i)%3 == 0 {
			result += ","
		}
		result += string(digit)
	}
	return result
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
