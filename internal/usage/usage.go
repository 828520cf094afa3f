// Package usage records token spend per day and prices it.
package usage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"findsanity/internal/config"
	"findsanity/internal/domain"
	"findsanity/internal/storage/sqlite"
)

// Pricing is in USD per million tokens.
type Pricing struct {
	InputPerMTok      float64
	OutputPerMTok     float64
	CacheWritePerMTok float64
	CacheReadPerMTok  float64
}

func PricingFromConfig(cfg config.Config) Pricing {
	return Pricing{
		InputPerMTok:      cfg.PriceInputPerMTok,
		OutputPerMTok:     cfg.PriceOutputPerMTok,
		CacheWritePerMTok: cfg.PriceCacheWritePerMTok,
		CacheReadPerMTok:  cfg.PriceCacheReadPerMTok,
	}
}

func (p Pricing) Cost(u domain.Usage) float64 {
	const perMillion = 1_000_000.0
	return float64(u.InputTokens)*p.InputPerMTok/perMillion +
		float64(u.OutputTokens)*p.OutputPerMTok/perMillion +
		float64(u.CacheCreationInputTokens)*p.CacheWritePerMTok/perMillion +
		float64(u.CacheReadInputTokens)*p.CacheReadPerMTok/perMillion
}

// Tracker is the gateway's usage sink.
type Tracker struct {
	db      *sql.DB
	pricing Pricing
	loc     *time.Location
}

func NewTracker(db *sql.DB, pricing Pricing, loc *time.Location) *Tracker {
	if loc == nil {
		loc = time.UTC
	}
	return &Tracker{db: db, pricing: pricing, loc: loc}
}

func (t *Tracker) RecordUsage(ctx context.Context, rec domain.UsageRecord) error {
	at := rec.At
	if at.IsZero() {
		at = time.Now()
	}
	date := at.In(t.loc).Format(time.DateOnly)
	if err := sqlite.AddUsage(ctx, t.db, date, rec.Service, rec.Operation, rec.Usage, t.pricing.Cost(rec.Usage)); err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

type Report struct {
	From   string
	To     string
	Rows   []domain.DailyUsage
	Totals domain.DailyUsage
}

// Report summarizes the days from..to inclusive, in the tracker's timezone.
func (t *Tracker) Report(ctx context.Context, from, to time.Time) (Report, error) {
	r := Report{
		From: from.In(t.loc).Format(time.DateOnly),
		To:   to.In(t.loc).Format(time.DateOnly),
	}
	rows, err := sqlite.GetUsageByDateRange(ctx, t.db, r.From, r.To)
	if err != nil {
		return r, fmt.Errorf("usage report: %w", err)
	}
	r.Rows = rows
	r.Totals.Date = r.From + ".." + r.To
	for _, row := range rows {
		r.Totals.InputTokens += row.InputTokens
		r.Totals.OutputTokens += row.OutputTokens
		r.Totals.CacheCreationTokens += row.CacheCreationTokens
		r.Totals.CacheReadTokens += row.CacheReadTokens
		r.Totals.CostUSD += row.CostUSD
	}
	return r, nil
}

func (r Report) Format() string {
	var b strings.Builder
	fmt.Fprintf(&b, "API usage %s to %s\n", r.From, r.To)
	if len(r.Rows) == 0 {
		b.WriteString("no calls recorded\n")
		return b.String()
	}
	for _, row := range r.Rows {
		fmt.Fprintf(&b, "%s %s/%s in=%d out=%d cache_write=%d cache_read=%d cost=$%.4f\n",
			row.Date, row.Service, row.Operation, row.InputTokens, row.OutputTokens, row.CacheCreationTokens, row.CacheReadTokens, row.CostUSD)
	}
	fmt.Fprintf(&b, "total in=%d out=%d cache_write=%d cache_read=%d cost=$%.4f\n",
		r.Totals.InputTokens, r.Totals.OutputTokens, r.Totals.CacheCreationTokens, r.Totals.CacheReadTokens, r.Totals.CostUSD)
	return b.String()
}
