package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Job is a timer-driven pass such as discovery or aggregation
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Service handles scheduling of the timer-driven workers
type Service struct {
	cron       *cron.Cron
	jobs       map[string]Job
	order      []string
	runOnStart bool

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	running sync.WaitGroup
}

// NewService creates a new scheduler service
func NewService(runOnStart bool, jobs ...Job) *Service {
	logger := cron.PrintfLogger(logrus.StandardLogger())
	s := &Service{
		cron: cron.New(
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		jobs:       make(map[string]Job, len(jobs)),
		runOnStart: runOnStart,
	}
	for _, job := range jobs {
		s.jobs[job.Name] = job
		s.order = append(s.order, job.Name)
	}
	return s
}

// Start registers every job at its interval and begins the schedule
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx != nil {
		return fmt.Errorf("scheduler already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)

	for _, name := range s.order {
		job := s.jobs[name]
		if job.Interval <= 0 {
			return fmt.Errorf("job %s has no interval", name)
		}
		if _, err := s.cron.AddFunc("@every "+job.Interval.String(), func() { s.execute(job) }); err != nil {
			return fmt.Errorf("failed to schedule %s: %w", name, err)
		}
		logrus.Infof("Scheduled %s every %v", name, job.Interval)
	}

	s.cron.Start()

	if s.runOnStart {
		for _, name := range s.order {
			s.spawn(s.jobs[name])
		}
	}

	logrus.Infof("Scheduler started with %d jobs", len(s.jobs))
	return nil
}

// Trigger runs a job immediately in the background
func (s *Service) Trigger(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("unknown job %q", name)
	}
	if s.ctx == nil || s.ctx.Err() != nil {
		return fmt.Errorf("scheduler is not running")
	}
	s.spawn(job)
	return nil
}

// spawn must be called with mu held
func (s *Service) spawn(job Job) {
	s.running.Add(1)
	go func() {
		defer s.running.Done()
		s.execute(job)
	}()
}

func (s *Service) execute(job Job) {
	ctx := s.ctx
	if ctx.Err() != nil {
		return
	}

	start := time.Now()
	logrus.Infof("Starting %s run", job.Name)
	if err := job.Run(ctx); err != nil {
		logrus.Errorf("%s run failed: %v", job.Name, err)
		return
	}
	logrus.Infof("%s run finished in %v", job.Name, time.Since(start))
}

// Stop stops scheduling new runs and waits for running ones until ctx ends
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		<-s.cron.Stop().Done()
		s.running.Wait()
		close(done)
	}()

	select {
	case <-done:
		logrus.Info("Scheduler stopped")
	case <-ctx.Done():
		logrus.Warn("Scheduler stop timed out with runs still in flight")
	}
}
