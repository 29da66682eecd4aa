// Package scheduler runs one recurring poll job per tracked target.
package scheduler

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"webwatch_bot/internal/model"
	"webwatch_bot/internal/storage"
)

const (
	// Polling outside these hours is suppressed for quiet-hours targets.
	activeStartHour = 6
	activeEndHour   = 22

	// A fire missed while the process was down is coalesced into one
	// catch-up run if it is at most this overdue, otherwise dropped.
	misfireGrace = time.Hour
)

// PollFunc runs one poll cycle for a tracked target.
type PollFunc func(ctx context.Context, chatID int64, url string)

type job struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Scheduler owns one goroutine per tracked target, firing the poll
// function at the target's interval. Fires for a target never overlap:
// each job runs its polls sequentially, and ticks that arrive while a
// poll is in flight are dropped, not queued.
type Scheduler struct {
	poll PollFunc
	log  *slog.Logger
	loc  *time.Location

	// Seams for tests.
	unit time.Duration
	now  func() time.Time

	mu   sync.Mutex
	jobs map[string]*job
}

// New creates a Scheduler. Quiet-hours gating is evaluated in loc.
func New(poll PollFunc, loc *time.Location, log *slog.Logger) *Scheduler {
	return &Scheduler{
		poll: poll,
		log:  log,
		loc:  loc,
		unit: time.Minute,
		now:  time.Now,
		jobs: make(map[string]*job),
	}
}

// SetIntervalUnit changes the duration one interval minute maps to.
// Tests use this to run jobs at millisecond cadence.
func (s *Scheduler) SetIntervalUnit(d time.Duration) {
	s.unit = d
}

// SetClock overrides the clock used for quiet-hours decisions.
// Safe to call while jobs are running.
func (s *Scheduler) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func (s *Scheduler) clockNow() time.Time {
	s.mu.Lock()
	now := s.now
	s.mu.Unlock()
	return now()
}

// JobKey returns the deterministic job identifier for a (chat, URL) pair.
func JobKey(chatID int64, url string) string {
	h := sha256.Sum256([]byte(url))
	return fmt.Sprintf("%d_%x", chatID, h[:4])
}

// Add arms a recurring job for the target. Adding a target whose job
// already exists replaces the old job: the previous goroutine is
// cancelled and waited for before the new one starts, so at most one
// job is ever live per target.
func (s *Scheduler) Add(ctx context.Context, t model.Target) {
	s.add(ctx, t, false)
}

func (s *Scheduler) add(ctx context.Context, t model.Target, catchUp bool) {
	key := JobKey(t.ChatID, t.URL)

	s.mu.Lock()
	for {
		old, ok := s.jobs[key]
		if !ok {
			break
		}
		delete(s.jobs, key)
		s.mu.Unlock()
		old.cancel()
		<-old.done
		s.mu.Lock()
	}

	jobCtx, cancel := context.WithCancel(ctx)
	j := &job{cancel: cancel, done: make(chan struct{})}
	s.jobs[key] = j
	s.mu.Unlock()

	go s.runJob(jobCtx, j, t, catchUp)
}

// Remove cancels the target's job and waits for it to stop. After Remove
// returns, no further polls for the target will fire.
func (s *Scheduler) Remove(chatID int64, url string) {
	key := JobKey(chatID, url)

	s.mu.Lock()
	j, ok := s.jobs[key]
	if ok {
		delete(s.jobs, key)
	}
	s.mu.Unlock()

	if ok {
		j.cancel()
		<-j.done
	}
}

// Len returns the number of live jobs.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// Restore re-arms a job for every persisted target. A target whose next
// due time passed while the process was down gets a single catch-up poll,
// provided the miss is within the grace window; older misses are dropped
// and the normal cadence resumes.
func (s *Scheduler) Restore(ctx context.Context, store storage.Storage) error {
	targets, err := store.ListAllTargets(ctx)
	if err != nil {
		return fmt.Errorf("list targets: %w", err)
	}

	for _, t := range targets {
		catchUp := false
		if t.LastCheckAt != nil {
			due := t.LastCheckAt.Add(time.Duration(t.IntervalMinutes) * s.unit)
			overdue := s.clockNow().Sub(due)
			catchUp = overdue > 0 && overdue <= misfireGrace
		}
		s.add(ctx, t, catchUp)
	}

	s.log.Info("scheduler restored", "jobs", len(targets))
	return nil
}

// Stop cancels all jobs and waits for them to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	jobs := make([]*job, 0, len(s.jobs))
	for key, j := range s.jobs {
		jobs = append(jobs, j)
		delete(s.jobs, key)
	}
	s.mu.Unlock()

	for _, j := range jobs {
		j.cancel()
		<-j.done
	}
}

func (s *Scheduler) runJob(ctx context.Context, j *job, t model.Target, catchUp bool) {
	defer close(j.done)

	if catchUp && s.fireAllowed(t) {
		s.poll(ctx, t.ChatID, t.URL)
	}

	ticker := time.NewTicker(time.Duration(t.IntervalMinutes) * s.unit)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.fireAllowed(t) {
				s.log.Debug("fire suppressed by quiet hours", "chat_id", t.ChatID, "url", t.URL)
				continue
			}
			s.poll(ctx, t.ChatID, t.URL)
		}
	}
}

// fireAllowed gates a fire on the quiet-hours window. The ticker cadence
// is untouched either way, so suppressed fires cause no drift.
func (s *Scheduler) fireAllowed(t model.Target) bool {
	if !t.QuietHours {
		return true
	}
	hour := s.clockNow().In(s.loc).Hour()
	return hour >= activeStartHour && hour <= activeEndHour
}
