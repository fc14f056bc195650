package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// maxConsecutiveFailures is the threshold after which a job's repeated
// faults are escalated in the log. The job itself keeps running; see the
// note in Run.
const maxConsecutiveFailures = 5

// Job is one periodic task. When Align is set, the first tick is delayed
// until the next wall-clock boundary at AlignOffset + k*Interval.
type Job struct {
	Name        string
	Interval    time.Duration
	Align       bool
	AlignOffset time.Duration // offset from midnight, local time
	Run         func(ctx context.Context) error
}

// Scheduler drives registered jobs concurrently until the context is
// cancelled. Jobs are isolated: one job's failure never affects siblings.
type Scheduler struct {
	logger *slog.Logger
	jobs   []Job
}

func New(logger *slog.Logger) *Scheduler {
	return &Scheduler{logger: logger.With("component", "scheduler")}
}

func (s *Scheduler) Register(job Job) {
	s.jobs = append(s.jobs, job)
}

// Run blocks until ctx is cancelled and every job loop has exited.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, job := range s.jobs {
		wg.Add(1)
		go func(job Job) {
			defer wg.Done()
			s.runJob(ctx, job)
		}(job)
	}
	wg.Wait()
}

func (s *Scheduler) runJob(ctx context.Context, job Job) {
	s.logger.Info("Started job", "job", job.Name, "interval", job.Interval.String())
	defer s.logger.Info("Stopped job", "job", job.Name)

	if job.Align {
		next := NextAlignedRun(time.Now(), job.AlignOffset, job.Interval)
		s.logger.Info("Delaying job until aligned time", "job", job.Name, "next_run", next)
		if !sleepUntil(ctx, next) {
			return
		}
	}

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	failureCount := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if err := job.Run(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			failureCount++
			s.logger.Error("Error in job", "job", job.Name, "failure_count", failureCount, "error", err)

			if failureCount >= maxConsecutiveFailures {
				// Escalate but keep ticking; the alerting job picks this
				// up through the shared error counter.
				s.logger.Error("Job failing repeatedly, operator alerting required", "job", job.Name, "failure_count", failureCount)
			}
			continue
		}
		failureCount = 0
	}
}

// NextAlignedRun computes the earliest wall-clock instant >= now that sits
// on the grid offset + k*interval (k integer, offset from midnight).
func NextAlignedRun(now time.Time, offset, interval time.Duration) time.Time {
	anchor := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).Add(offset)
	if now.Before(anchor) {
		return anchor
	}
	intervalsPassed := int64(now.Sub(anchor)/interval) + 1
	return anchor.Add(time.Duration(intervalsPassed) * interval)
}

// sleepUntil waits for the given instant; it reports false when the
// context was cancelled first.
func sleepUntil(ctx context.Context, t time.Time) bool {
	d := time.Until(t)
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
