// Package scheduler runs maintenance jobs on cron schedules: pruning old
// comment flags and posting the daily API usage digest.
package scheduler

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"findsanity/internal/config"
	"findsanity/internal/storage/sqlite"
	"findsanity/internal/usage"

	"github.com/robfig/cron/v3"
)

type Job struct {
	Name     string
	Schedule cron.Schedule
	Run      func(ctx context.Context) error
}

type Poster interface {
	Post(ctx context.Context, text string) error
}

type Runner struct {
	loc   *time.Location
	now   func() time.Time
	after func(time.Duration) <-chan time.Time
}

func NewRunner(loc *time.Location) *Runner {
	if loc == nil {
		loc = time.Local
	}
	return &Runner{loc: loc, now: time.Now, after: time.After}
}

// Run blocks until ctx is done, running each job at its next scheduled time.
// A failed run is logged and the job waits for its next slot.
func (r *Runner) Run(ctx context.Context, jobs ...Job) {
	var wg sync.WaitGroup
	for _, job := range jobs {
		wg.Add(1)
		go func(job Job) {
			defer wg.Done()
			r.loop(ctx, job)
		}(job)
	}
	wg.Wait()
}

func (r *Runner) loop(ctx context.Context, job Job) {
	for {
		now := r.now().In(r.loc)
		next := job.Schedule.Next(now)
		wait := next.Sub(now)
		log.Printf("scheduler next run job=%s at=%s in=%s", job.Name, next.Format("Mon Jan 2 15:04"), wait.Round(time.Minute))

		select {
		case <-ctx.Done():
			return
		case <-r.after(wait):
		}
		if ctx.Err() != nil {
			return
		}

		start := time.Now()
		if err := job.Run(ctx); err != nil {
			log.Printf("scheduler job failed job=%s: %v", job.Name, err)
			continue
		}
		log.Printf("scheduler job done job=%s elapsed=%s", job.Name, time.Since(start).Round(time.Millisecond))
	}
}

// PruneFlags deletes comment flags that fell out of the strike window.
func PruneFlags(db *sql.DB, window time.Duration, now func() time.Time) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		removed, err := sqlite.PruneFlags(ctx, db, now().Add(-window))
		if err != nil {
			return fmt.Errorf("prune flags: %w", err)
		}
		log.Printf("scheduler pruned flags removed=%d", removed)
		return nil
	}
}

// UsageDigest posts the previous day's usage report.
func UsageDigest(tracker *usage.Tracker, poster Poster, now func() time.Time) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		day := now().AddDate(0, 0, -1)
		report, err := tracker.Report(ctx, day, day)
		if err != nil {
			return err
		}
		if err := poster.Post(ctx, report.Format()); err != nil {
			return fmt.Errorf("post usage digest: %w", err)
		}
		return nil
	}
}

// JobsFromConfig builds the configured jobs. An empty schedule disables its job.
func JobsFromConfig(cfg config.Config, db *sql.DB, tracker *usage.Tracker, poster Poster) ([]Job, error) {
	var jobs []Job
	add := func(name, schedule string, run func(ctx context.Context) error) error {
		schedule = strings.TrimSpace(schedule)
		if schedule == "" {
			log.Printf("scheduler job disabled job=%s (no schedule)", name)
			return nil
		}
		sched, err := config.ParseSchedule(schedule)
		if err != nil {
			return fmt.Errorf("job %s: %w", name, err)
		}
		log.Printf("scheduler job scheduled job=%s cron=%q", name, schedule)
		jobs = append(jobs, Job{Name: name, Schedule: sched, Run: run})
		return nil
	}

	if err := add("prune-flags", cfg.FlagPruneSchedule, PruneFlags(db, cfg.ModerationWindow(), time.Now)); err != nil {
		return nil, err
	}
	if poster != nil {
		if err := add("usage-digest", cfg.UsageDigestSchedule, UsageDigest(tracker, poster, time.Now)); err != nil {
			return nil, err
		}
	} else if strings.TrimSpace(cfg.UsageDigestSchedule) != "" {
		log.Printf("scheduler job disabled job=usage-digest (slack not configured)")
	}
	return jobs, nil
}
