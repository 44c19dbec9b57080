package insights

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Summary is the aggregated read model served by the insights endpoint.
type Summary struct {
	TotalRecords    int            `json:"total_records"`
	TotalValue      float64        `json:"total_value"`
	StatusCounts    map[string]int `json:"status_counts"`
	OpenAlerts      map[string]int `json:"open_alerts_by_severity"`
	LowStockCount   int            `json:"low_stock_count"`
	ExpiringCount   int            `json:"expiring_count"`
	ExpiringWindowD int            `json:"expiring_window_days"`
	GeneratedAt     time.Time      `json:"generated_at"`
}

// Repository aggregates stock state straight from Postgres. The summary reads
// the same tables the ledger engine writes, so it is consistent with whatever
// the last committed mutation left behind.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the insights repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// BuildSummary runs the aggregate queries for active records and open alerts.
func (r *Repository) BuildSummary(ctx context.Context, expiringWindowDays int) (Summary, error) {
	summary := Summary{
		StatusCounts:    map[string]int{},
		OpenAlerts:      map[string]int{},
		ExpiringWindowD: expiringWindowDays,
		GeneratedAt:     time.Now().UTC(),
	}

	rows, err := r.pool.Query(ctx, `
		SELECT status, COUNT(*), COALESCE(SUM(total_value), 0)
		FROM stock_records
		WHERE is_active
		GROUP BY status`)
	if err != nil {
		return Summary{}, fmt.Errorf("query status counts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int
		var value float64
		if err := rows.Scan(&status, &count, &value); err != nil {
			return Summary{}, fmt.Errorf("scan status counts: %w", err)
		}
		summary.StatusCounts[status] = count
		summary.TotalRecords += count
		summary.TotalValue += value
	}
	if err := rows.Err(); err != nil {
		return Summary{}, err
	}

	alertRows, err := r.pool.Query(ctx, `
		SELECT severity, COUNT(*)
		FROM stock_alerts
		WHERE NOT is_resolved
		GROUP BY severity`)
	if err != nil {
		return Summary{}, fmt.Errorf("query open alerts: %w", err)
	}
	defer alertRows.Close()
	for alertRows.Next() {
		var severity string
		var count int
		if err := alertRows.Scan(&severity, &count); err != nil {
			return Summary{}, fmt.Errorf("scan open alerts: %w", err)
		}
		summary.OpenAlerts[severity] = count
	}
	if err := alertRows.Err(); err != nil {
		return Summary{}, err
	}

	err = r.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM stock_records
		WHERE is_active AND current_stock <= minimum_stock`).Scan(&summary.LowStockCount)
	if err != nil {
		return Summary{}, fmt.Errorf("count low stock: %w", err)
	}

	err = r.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM stock_records
		WHERE is_active
		  AND expiry_date IS NOT NULL
		  AND expiry_date <= NOW() + ($1 * INTERVAL '1 day')`, expiringWindowDays).Scan(&summary.ExpiringCount)
	if err != nil {
		return Summary{}, fmt.Errorf("count expiring: %w", err)
	}

	return summary, nil
}
