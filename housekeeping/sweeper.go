// Package housekeeping periodically removes expired OAuth states, sessions,
// revoked-token entries and idle in-process counters.
package housekeeping

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// DefaultSchedule runs the sweep every five minutes.
const DefaultSchedule = "@every 5m"

// TaskFunc deletes expired records and reports how many it removed.
type TaskFunc func(ctx context.Context) (int64, error)

// Observer receives sweep results. The metrics package implements it.
type Observer interface {
	SweepRemoved(kind string, n int64)
	SweepFinished(at time.Time)
}

type nopObserver struct{}

func (nopObserver) SweepRemoved(string, int64) {}
func (nopObserver) SweepFinished(time.Time)    {}

type task struct {
	name string
	run  TaskFunc
}

type Sweeper struct {
	mu       sync.Mutex
	tasks    []task
	observer Observer
	nowFunc  func() time.Time
	timeout  time.Duration
	cron     *cron.Cron
}

type SweeperOption func(*Sweeper)

func WithObserver(o Observer) SweeperOption {
	return func(s *Sweeper) {
		s.observer = o
	}
}

func WithNowFunc(now func() time.Time) SweeperOption {
	return func(s *Sweeper) {
		s.nowFunc = now
	}
}

// WithTimeout bounds one full sweep.
func WithTimeout(d time.Duration) SweeperOption {
	return func(s *Sweeper) {
		s.timeout = d
	}
}

func NewSweeper(options ...SweeperOption) *Sweeper {
	s := &Sweeper{
		observer: nopObserver{},
		nowFunc:  time.Now,
		timeout:  time.Minute,
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// Add registers a task under name. Tasks run in the order they were added.
func (s *Sweeper) Add(name string, run TaskFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, task{name: name, run: run})
}

// Counting adapts an in-process cleanup returning an int.
func Counting(cleanup func() int) TaskFunc {
	return func(context.Context) (int64, error) {
		return int64(cleanup()), nil
	}
}

// Discarding adapts a cleanup that reports nothing.
func Discarding(cleanup func()) TaskFunc {
	return func(context.Context) (int64, error) {
		cleanup()
		return 0, nil
	}
}

// RunOnce runs every task. A failing task is logged and does not stop the
// others; the removed counts of the tasks that succeeded are returned.
func (s *Sweeper) RunOnce(ctx context.Context) map[string]int64 {
	s.mu.Lock()
	tasks := append([]task(nil), s.tasks...)
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	removed := make(map[string]int64, len(tasks))
	for _, t := range tasks {
		n, err := s.runTask(ctx, t)
		if err != nil {
			log.Warn().Err(err).Str("task", t.name).Msg("housekeeping task failed")
			continue
		}
		removed[t.name] = n
		if n > 0 {
			s.observer.SweepRemoved(t.name, n)
			log.Debug().Str("task", t.name).Int64("removed", n).Msg("expired records removed")
		}
	}
	s.observer.SweepFinished(s.nowFunc())
	return removed
}

func (s *Sweeper) runTask(ctx context.Context, t task) (n int64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("[Sweeper.runTask] %s panicked: %v", t.name, r)
		}
	}()
	return t.run(ctx)
}

// Start schedules RunOnce. Stop must be called to release the scheduler.
func (s *Sweeper) Start(schedule string) error {
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() { s.RunOnce(context.Background()) }); err != nil {
		return errors.Wrapf(err, "[Sweeper.Start] schedule %q", schedule)
	}

	s.mu.Lock()
	s.cron = c
	count := len(s.tasks)
	s.mu.Unlock()

	c.Start()
	log.Info().Str("schedule", schedule).Int("tasks", count).Msg("housekeeping scheduled")
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish or ctx to end.
func (s *Sweeper) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return
	}

	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		log.Warn().Msg("housekeeping stop timed out")
	}
}
