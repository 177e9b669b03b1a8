package export

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	appLog "skylightcal/internal/log"
)

// Store holds the latest successful result and the last failure.
// It is safe for concurrent use.
type Store struct {
	mu          sync.RWMutex
	latest      *Result
	body        []byte
	lastErr     error
	lastAttempt time.Time
}

// Set records the outcome of a run. A failed run keeps the previous
// document available.
func (s *Store) Set(res *Result, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastAttempt = time.Now()
	if err == nil && (res == nil || res.Document == nil) {
		err = errors.New("export: run produced no document")
	}
	var body []byte
	if err == nil {
		if body, err = res.Document.Bytes(); err != nil {
			err = fmt.Errorf("serializing calendar: %w", err)
		}
	}
	s.lastErr = err
	if err == nil {
		s.latest = res
		s.body = body
	}
}

// Latest returns the latest result and its serialized document, or nil.
func (s *Store) Latest() (*Result, []byte) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest, s.body
}

// LastRun returns when the most recent run happened and its error.
func (s *Store) LastRun() (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastAttempt, s.lastErr
}

// Job performs one export; it is what the Scheduler runs.
type Job func(ctx context.Context) (*Result, error)

// Scheduler runs a Job on a cron schedule and publishes results to a Store.
// Overlapping runs are skipped.
type Scheduler struct {
	cron  *cron.Cron
	job   Job
	store *Store

	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler validates spec (standard five-field cron syntax, or
// descriptors such as "@every 15m").
func NewScheduler(spec string, job Job, store *Store) (*Scheduler, error) {
	logger := cronLogger{}
	s := &Scheduler{
		cron:  cron.New(cron.WithLogger(logger), cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger))),
		job:   job,
		store: store,
	}
	if _, err := s.cron.AddFunc(spec, s.RunOnce); err != nil {
		return nil, fmt.Errorf("invalid refresh schedule %q: %w", spec, err)
	}
	return s, nil
}

// Start runs the job once immediately, then on schedule until ctx is done
// or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.RunOnce()
	s.cron.Start()
	go func() {
		<-s.ctx.Done()
		s.Stop()
	}()
}

// Stop halts scheduling and waits for a running job to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	<-s.cron.Stop().Done()
}

// RunOnce runs the job synchronously and stores its outcome.
func (s *Scheduler) RunOnce() {
	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if ctx.Err() != nil {
		return
	}
	res, err := s.job(ctx)
	s.store.Set(res, err)
}

// Next returns the next scheduled activation, zero if not started.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

// cronLogger adapts cron's logger to the application log.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	appLog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	appLog.Error("cron: "+msg, err, keysAndValues...)
}
