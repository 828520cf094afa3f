package sqlite

import (
	"context"
	"database/sql"

	"findsanity/internal/domain"
)

// AddUsage accumulates one call into the daily row for (date, service, operation).
func AddUsage(ctx context.Context, db *sql.DB, date, service, operation string, usage domain.Usage, costUSD float64) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO api_usage (date, service, operation, requests, input_tokens, output_tokens, cache_creation_tokens, cache_read_tokens, cost_usd)
		 VALUES (?, ?, ?, 1, ?, ?, ?, ?, ?)
		 ON CONFLICT(date, service, operation) DO UPDATE SET
		   requests = requests + 1,
		   input_tokens = input_tokens + excluded.input_tokens,
		   output_tokens = output_tokens + excluded.output_tokens,
		   cache_creation_tokens = cache_creation_tokens + excluded.cache_creation_tokens,
		   cache_read_tokens = cache_read_tokens + excluded.cache_read_tokens,
		   cost_usd = cost_usd + excluded.cost_usd`,
		date, service, operation,
		usage.InputTokens, usage.OutputTokens, usage.CacheCreationInputTokens, usage.CacheReadInputTokens, costUSD,
	)
	return err
}

// GetUsageByDateRange returns daily rows with from <= date <= to (YYYY-MM-DD).
func GetUsageByDateRange(ctx context.Context, db *sql.DB, from, to string) ([]domain.DailyUsage, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT date, service, operation, input_tokens, output_tokens, cache_creation_tokens, cache_read_tokens, cost_usd
		 FROM api_usage WHERE date >= ? AND date <= ? ORDER BY date, service, operation`,
		from, to,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.DailyUsage
	for rows.Next() {
		var d domain.DailyUsage
		if err := rows.Scan(&d.Date, &d.Service, &d.Operation, &d.InputTokens, &d.OutputTokens, &d.CacheCreationTokens, &d.CacheReadTokens, &d.CostUSD); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
