// Package scheduler runs the periodic jobs on cron specs from the config.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/robfig/cron/v3"

	appLog "staysync/internal/log"
)

// Job is one periodic entry point.
type Job func(ctx context.Context) error

// Scheduler wraps a cron runner. Jobs never overlap with themselves: a run
// still in progress causes the next tick to be skipped.
type Scheduler struct {
	cron    *cron.Cron
	ctx     context.Context
	timeout time.Duration
	entries map[string]cron.EntryID
}

// New creates a scheduler evaluating specs in loc. Every job run gets a
// context derived from ctx and bounded by timeout.
func New(ctx context.Context, loc *time.Location, timeout time.Duration) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	logger := appLog.CronLogger()
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	return &Scheduler{cron: c, ctx: ctx, timeout: timeout, entries: make(map[string]cron.EntryID)}
}

// Add registers job under name. An empty spec leaves the job disabled.
func (s *Scheduler) Add(name, spec string, job Job) error {
	if spec == "" {
		appLog.Info("scheduled job disabled", "job", name)
		return nil
	}
	if _, dup := s.entries[name]; dup {
		return fmt.Errorf("scheduler: job %q already registered", name)
	}
	id, err := s.cron.AddFunc(spec, func() { s.run(name, job) })
	if err != nil {
		return fmt.Errorf("scheduler: job %q: invalid spec %q: %w", name, spec, err)
	}
	s.entries[name] = id
	appLog.Info("scheduled job registered", "job", name, "spec", spec)
	return nil
}

func (s *Scheduler) run(name string, job Job) {
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	start := time.Now()
	appLog.Debug("job started", "job", name)
	if err := job(ctx); err != nil {
		appLog.Error("job failed", err, "job", name, "duration", time.Since(start).String())
		return
	}
	appLog.Info("job finished", "job", name, "duration", time.Since(start).String())
}

// Next reports the next scheduled run per job.
func (s *Scheduler) Next() map[string]time.Time {
	out := make(map[string]time.Time, len(s.entries))
	for name, id := range s.entries {
		out[name] = s.cron.Entry(id).Next
	}
	return out
}

// Names lists registered jobs in order.
func (s *Scheduler) Names() []string {
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Scheduler) Start() { s.cron.Start() }

// Stop prevents new runs and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		appLog.Warn("scheduler stop timed out; jobs still running")
	}
}
