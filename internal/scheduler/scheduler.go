// Package scheduler runs clock-driven site tasks. Every tick is one cycle;
// each registered task runs on the cycles its cadence selects, once per site,
// on its own goroutine.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Task is a unit of per-site work run on a cycle cadence.
type Task interface {
	Name() string
	EveryNCycles() int
	Offset() int
	Execute(ctx context.Context, siteID string) error
}

// SiteLister supplies the sites each cycle runs against.
type SiteLister interface {
	ListSites(ctx context.Context) ([]string, error)
}

// Scheduler manages registered tasks and the cycle clock.
type Scheduler struct {
	interval time.Duration
	sites    SiteLister
	log      zerolog.Logger

	mu    sync.RWMutex
	tasks map[string]Task // keyed by Task.Name
	order []string
	cycle int

	wg       sync.WaitGroup
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
	started  bool
}

// New returns a scheduler ticking every interval.
func New(interval time.Duration, sites SiteLister, logger zerolog.Logger) *Scheduler {
	if interval <= 0 {
		logger.Warn().Dur("interval", interval).Msg("invalid tick interval, defaulting to 10s")
		interval = 10 * time.Second
	}
	return &Scheduler{
		interval: interval,
		sites:    sites,
		log:      logger.With().Str("component", "scheduler").Logger(),
		tasks:    make(map[string]Task),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// AddTask registers a task. Names must be unique.
func (s *Scheduler) AddTask(task Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[task.Name()]; exists {
		return fmt.Errorf("task %q already registered", task.Name())
	}
	if task.EveryNCycles() <= 0 {
		return fmt.Errorf("task %q: every-n-cycles must be positive, got %d", task.Name(), task.EveryNCycles())
	}
	s.tasks[task.Name()] = task
	s.order = append(s.order, task.Name())
	s.log.Info().
		Str("task", task.Name()).
		Int("every_n_cycles", task.EveryNCycles()).
		Int("offset", task.Offset()).
		Msg("task registered")
	return nil
}

// Due reports whether a task with the given cadence runs on cycle.
func Due(everyN, offset, cycle int) bool {
	if everyN <= 0 || cycle < offset {
		return false
	}
	return (cycle-offset)%everyN == 0
}

// Start launches the tick loop. It returns immediately; later calls are
// no-ops.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	s.log.Info().Dur("interval", s.interval).Msg("scheduler starting")
	go s.loop(ctx)
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.RunCycle(ctx)
		case <-ctx.Done():
			s.log.Info().Msg("context cancelled, scheduler loop exiting")
			return
		case <-s.stop:
			s.log.Info().Msg("stop signal received, scheduler loop exiting")
			return
		}
	}
}

// RunCycle starts every task due on the current cycle against every site
// and advances the cycle counter. It returns the number of executions
// started; they complete asynchronously.
func (s *Scheduler) RunCycle(ctx context.Context) int {
	s.mu.Lock()
	cycle := s.cycle
	s.cycle++
	var due []Task
	for _, name := range s.order {
		t := s.tasks[name]
		if Due(t.EveryNCycles(), t.Offset(), cycle) {
			due = append(due, t)
		}
	}
	s.mu.Unlock()

	if len(due) == 0 {
		return 0
	}

	sites, err := s.sites.ListSites(ctx)
	if err != nil {
		s.log.Error().Err(err).Int("cycle", cycle).Msg("failed to list sites")
		return 0
	}

	started := 0
	for _, task := range due {
		for _, site := range sites {
			s.wg.Add(1)
			started++
			go s.run(ctx, task, site)
		}
	}
	s.log.Debug().Int("cycle", cycle).Int("executions", started).Msg("cycle dispatched")
	return started
}

func (s *Scheduler) run(ctx context.Context, task Task, siteID string) {
	defer s.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Str("task", task.Name()).Str("site", siteID).Interface("panic", r).Msg("task panicked")
		}
	}()

	if err := task.Execute(ctx, siteID); err != nil {
		s.log.Error().Err(err).Str("task", task.Name()).Str("site", siteID).Msg("task execution failed")
	}
}

// wait blocks until every started execution has returned.
func (s *Scheduler) wait() {
	s.wg.Wait()
}

// Stop ends the tick loop and waits for in-flight executions.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })

	s.mu.RLock()
	started := s.started
	s.mu.RUnlock()
	if started {
		<-s.done
	}
	s.wait()
	s.log.Info().Msg("scheduler stopped")
}
