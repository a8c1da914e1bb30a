package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/angas/agile-export/slots"
	"github.com/robfig/cron/v3"
)

// HalfHourSchedule fires on every :00 and :30 boundary (UTC). Each firing is
// anchored on the boundary following the time it actually ran, so a late
// wake-up never drifts the chain.
type HalfHourSchedule struct{}

func (HalfHourSchedule) Next(t time.Time) time.Time {
	return slots.Next(t)
}

type Scheduler struct {
	logger   *slog.Logger
	cron     *cron.Cron
	halfHour cron.Schedule
}

func New(logger *slog.Logger) *Scheduler {
	return &Scheduler{
		logger: logger,
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(newCronLogger(logger))),
		halfHour: HalfHourSchedule{},
	}
}

// Handle identifies a scheduled job.
type Handle struct {
	name string
	id   cron.EntryID
	cron *cron.Cron
	once sync.Once
}

// Cancel removes the job. A run already in progress is not interrupted.
func (h *Handle) Cancel() {
	h.once.Do(func() { h.cron.Remove(h.id) })
}

func (h *Handle) Active() bool {
	return h.cron.Entry(h.id).Valid()
}

// Next is the next time the job fires, zero before the scheduler is started
// or after Cancel.
func (h *Handle) Next() time.Time {
	return h.cron.Entry(h.id).Next
}

func (h *Handle) Name() string {
	return h.name
}

// AtHalfHours runs action right away and then at the start of every half
// hour interval until the handle is cancelled.
func (s *Scheduler) AtHalfHours(name string, action func()) (*Handle, error) {
	if action == nil {
		return nil, fmt.Errorf("job %s has no action", name)
	}
	job := s.wrap(name, action)
	job.Run()
	return s.add(name, s.halfHour, job), nil
}

// Every runs action with a fixed delay between activations. The first run is
// one period after the scheduler starts.
func (s *Scheduler) Every(name string, d time.Duration, action func()) (*Handle, error) {
	if action == nil {
		return nil, fmt.Errorf("job %s has no action", name)
	}
	if d < time.Second {
		return nil, fmt.Errorf("job %s: interval %v is shorter than one second", name, d)
	}
	return s.add(name, cron.Every(d), s.wrap(name, action)), nil
}

func (s *Scheduler) wrap(name string, action func()) cron.Job {
	l := newCronLogger(s.logger.With(slog.String("job", name)))
	return cron.NewChain(cron.SkipIfStillRunning(l), cron.Recover(l)).Then(cron.FuncJob(action))
}

func (s *Scheduler) add(name string, schedule cron.Schedule, job cron.Job) *Handle {
	id := s.cron.Schedule(schedule, job)
	s.logger.Debug("job scheduled", slog.String("job", name), slog.Int("id", int(id)))
	return &Handle{name: name, id: id, cron: s.cron}
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the scheduler. The returned context is done when running jobs
// have completed.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
