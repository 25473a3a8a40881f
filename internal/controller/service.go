// Package controller schedules pipeline runs and keeps the outcome of the
// most recent one.
package controller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/dgnsrekt/fitstar_utilization/internal/pipeline"
	"github.com/google/uuid"
)

const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"

	TriggerSchedule = "schedule"
	TriggerBoot     = "boot"
	TriggerAPI      = "api"
)

// Runner executes one scrape. *pipeline.Pipeline satisfies it.
type Runner interface {
	Run(ctx context.Context) (pipeline.Result, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context) (pipeline.Result, error)

func (f RunnerFunc) Run(ctx context.Context) (pipeline.Result, error) { return f(ctx) }

// Notifier receives fatal run errors.
type Notifier interface {
	RunFailed(ctx context.Context, err error) error
}

// Recorder keeps finished runs beyond the in-memory last run.
type Recorder interface {
	Append(record any) error
}

type Option func(*Service)

// WithRecorder sends every finished RunRecord to r.
func WithRecorder(r Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

// RunRecord describes one run, finished or in flight.
type RunRecord struct {
	ID         string           `json:"id"`
	Trigger    string           `json:"trigger"`
	Status     string           `json:"status"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt *time.Time       `json:"finished_at,omitempty"`
	ErrorCode  string           `json:"error_code,omitempty"`
	Error      string           `json:"error,omitempty"`
	Result     *pipeline.Result `json:"result,omitempty"`
}

// Service serializes runs: at most one pipeline executes at a time and an
// overlapping trigger is rejected with RUN_IN_PROGRESS.
type Service struct {
	runner   Runner
	notifier Notifier
	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time

	runMu sync.Mutex

	mu      sync.RWMutex
	current *RunRecord
	last    *RunRecord
}

func NewService(runner Runner, notifier Notifier, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{runner: runner, notifier: notifier, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunOnce executes a run and waits for it.
func (s *Service) RunOnce(ctx context.Context, trigger string) (RunRecord, error) {
	rec, err := s.begin(trigger)
	if err != nil {
		return RunRecord{}, err
	}
	return s.execute(ctx, rec), nil
}

// Start begins a run in the background and returns its record immediately.
// The run is detached from ctx cancellation.
func (s *Service) Start(ctx context.Context, trigger string) (RunRecord, error) {
	rec, err := s.begin(trigger)
	if err != nil {
		return RunRecord{}, err
	}
	runCtx := context.WithoutCancel(ctx)
	go s.execute(runCtx, rec)
	return *rec, nil
}

// LastRun returns the most recently finished run.
func (s *Service) LastRun() (RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return RunRecord{}, &pipeline.CodedError{Code: pipeline.CodeNoRuns, Message: "no run has finished yet"}
	}
	return *s.last, nil
}

// Current returns the run in flight, if any.
func (s *Service) Current() (RunRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return RunRecord{}, false
	}
	return *s.current, true
}

// RunEvery runs the pipeline on every tick until ctx is done. A tick that
// lands while a run is in flight is skipped.
func (s *Service) RunEvery(ctx context.Context, interval time.Duration, runOnBoot bool) {
	if runOnBoot {
		s.runLogged(ctx, TriggerBoot)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runLogged(ctx, TriggerSchedule)
		}
	}
}

func (s *Service) runLogged(ctx context.Context, trigger string) {
	if _, err := s.RunOnce(ctx, trigger); err != nil {
		s.logger.Warn("scheduled run skipped", "trigger", trigger, "error", err)
	}
}

func (s *Service) begin(trigger string) (*RunRecord, error) {
	if !s.runMu.TryLock() {
		return nil, &pipeline.CodedError{Code: pipeline.CodeRunInProgress, Message: "a run is already in progress"}
	}
	rec := &RunRecord{
		ID:        uuid.NewString(),
		Trigger:   trigger,
		Status:    StatusRunning,
		StartedAt: s.now(),
	}
	s.mu.Lock()
	s.current = rec
	s.mu.Unlock()
	return rec, nil
}

// execute owns runMu, acquired by begin, and releases it once the record
// is published.
func (s *Service) execute(ctx context.Context, rec *RunRecord) RunRecord {
	log := s.logger.With("run_id", rec.ID, "trigger", rec.Trigger)
	log.Info("run started")

	res, err := s.runner.Run(ctx)
	finished := s.now()

	done := *rec
	done.FinishedAt = &finished
	done.Result = &res
	if err != nil {
		done.Status = StatusFailed
		done.Error = err.Error()
		var ce *pipeline.CodedError
		if errors.As(err, &ce) {
			done.ErrorCode = ce.Code
		}
		log.Error("run failed", "error", err)
		if s.notifier != nil {
			if nerr := s.notifier.RunFailed(ctx, err); nerr != nil {
				log.Warn("failure notification not sent", "error", nerr)
			}
		}
	} else {
		done.Status = StatusSucceeded
		log.Info("run finished", "written", res.Written, "duration_ms", finished.Sub(rec.StartedAt).Milliseconds())
	}

	s.mu.Lock()
	s.current = nil
	s.last = &done
	s.runMu.Unlock()
	s.mu.Unlock()

	if s.recorder != nil {
		if err := s.recorder.Append(done); err != nil {
			log.Warn("run not journaled", "error", err)
		}
	}
	return done
}
