// Package scheduler runs the periodic stats-collection job on a cron
// schedule, grounded on zulandar-railyard's internal/telegraph/cron.go
// (same 5-field parser and next-fire-time helper), wired here to
// robfig/cron's own scheduler loop rather than that file's manual
// sleep-until-next-fire approach, since this package needs to run
// indefinitely as part of a long-lived server rather than compute one
// next-duration value on demand.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/leshchenko/tgpool/internal/scanner"
	"github.com/leshchenko/tgpool/internal/stats"
)

// cronParser matches the original's 5-field (minute hour dom month dow) form.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// NextRun returns the next time expr will fire, or the zero time if expr
// does not parse.
func NextRun(expr string) time.Time {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return time.Time{}
	}
	return sched.Next(time.Now())
}

// Job is the periodic scan configuration.
type Job struct {
	Channels []string
	Parallel bool
	Depth    time.Duration
}

// Scheduler drives Job on a cron schedule against a Scanner, saving each
// run's result to a stats.Store.
type Scheduler struct {
	cron    *cron.Cron
	scanner *scanner.Scanner
	store   stats.Store
	job     Job
}

// New constructs a Scheduler. Start must be called to begin firing.
func New(s *scanner.Scanner, store stats.Store, job Job) *Scheduler {
	return &Scheduler{
		cron:    cron.New(cron.WithParser(cronParser)),
		scanner: s,
		store:   store,
		job:     job,
	}
}

// Start registers expr and begins the cron scheduler's background loop. It
// is an error to call Start twice.
func (s *Scheduler) Start(ctx context.Context, expr string) error {
	_, err := s.cron.AddFunc(expr, func() { s.runOnce(ctx) })
	if err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts the scheduler, waiting for any in-flight run to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) runOnce(ctx context.Context) {
	slog.Info("scheduler: starting scheduled scan", "channels", len(s.job.Channels), "parallel", s.job.Parallel)

	collector := stats.New(s.scanner, nil)
	collector.Depth = s.job.Depth

	err := s.scanner.Session(ctx, nil, func(ctx context.Context) error {
		return collector.CollectAndSave(ctx, s.job.Channels, s.job.Parallel, nil, s.store)
	})
	if err != nil {
		slog.Error("scheduler: scheduled scan failed", "error", err)
		return
	}
	slog.Info("scheduler: scheduled scan completed")
}
