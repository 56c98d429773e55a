// Package scheduler runs named background jobs such as metric refreshes.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrInvalidInterval is returned by AddTicker for a non-positive interval.
	ErrInvalidInterval = errors.New("scheduler: interval must be positive")

	errPanicked = errors.New("scheduler: job panicked")
)

// Job is a unit of background work. The context is cancelled on Stop and
// bounded by the job timeout.
type Job func(ctx context.Context) error

// Scheduler manages periodic and delayed jobs.
type Scheduler struct {
	mu      sync.Mutex
	tickers map[string]*tickerEntry
	timers  map[string]*time.Timer
	logger  *zap.Logger
	timeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type tickerEntry struct {
	interval time.Duration
	stopCh   chan struct{}
	lastRun  time.Time
	lastErr  error
	runs     int
}

// TaskInfo describes a registered periodic job.
type TaskInfo struct {
	Name     string        `json:"name"`
	Interval time.Duration `json:"interval"`
	Runs     int           `json:"runs"`
	LastRun  time.Time     `json:"last_run"`
	LastErr  string        `json:"last_error,omitempty"`
}

// New creates a Scheduler. Each job run is bounded by timeout (default 30s).
func New(logger *zap.Logger, timeout time.Duration) *Scheduler {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		tickers: make(map[string]*tickerEntry),
		timers:  make(map[string]*time.Timer),
		logger:  logger,
		timeout: timeout,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// AddTicker registers job to run every interval. With immediate set the
// first run happens right away. A job with the same name is replaced.
// Registering on a stopped Scheduler is a no-op.
func (s *Scheduler) AddTicker(name string, interval time.Duration, immediate bool, job Job) error {
	if interval <= 0 {
		return fmt.Errorf("%w: %s got %s", ErrInvalidInterval, name, interval)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return nil
	}

	if old, ok := s.tickers[name]; ok {
		close(old.stopCh)
		delete(s.tickers, name)
	}

	entry := &tickerEntry{interval: interval, stopCh: make(chan struct{})}
	s.tickers[name] = entry

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		if immediate {
			s.runTicker(name, entry, job)
		}
		for {
			select {
			case <-ticker.C:
				s.runTicker(name, entry, job)
			case <-entry.stopCh:
				return
			case <-s.ctx.Done():
				return
			}
		}
	}()
	s.logger.Info("scheduler job registered", zap.String("name", name), zap.Duration("interval", interval))
	return nil
}

func (s *Scheduler) runTicker(name string, entry *tickerEntry, job Job) {
	err := s.run(name, job)
	s.mu.Lock()
	entry.runs++
	entry.lastRun = time.Now()
	entry.lastErr = err
	s.mu.Unlock()
}

// AddDelay runs job once after delay. A pending delay with the same name
// is cancelled.
func (s *Scheduler) AddDelay(name string, delay time.Duration, job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return
	}

	if old, ok := s.timers[name]; ok {
		old.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		if s.timers[name] == timer {
			delete(s.timers, name)
		}
		s.mu.Unlock()
		_ = s.run(name, job)
	})
	s.timers[name] = timer
}

// run executes job with panic recovery and logs failures.
func (s *Scheduler) run(name string, job Job) (err error) {
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduler job panicked",
				zap.String("job", name), zap.Any("recover", r))
			err = errPanicked
		}
	}()
	if err = job(ctx); err != nil {
		s.logger.Warn("scheduler job failed", zap.String("job", name), zap.Error(err))
	}
	return err
}

// Remove stops and removes a ticker or delay job by name.
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.tickers[name]; ok {
		close(entry.stopCh)
		delete(s.tickers, name)
	}
	if t, ok := s.timers[name]; ok {
		t.Stop()
		delete(s.timers, name)
	}
}

// Stop cancels every job and waits for running tickers to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.cancel()
	for name := range s.tickers {
		delete(s.tickers, name)
	}
	for name, t := range s.timers {
		t.Stop()
		delete(s.timers, name)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// ListTickers returns the names of all registered periodic jobs, sorted.
func (s *Scheduler) ListTickers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.tickers))
	for name := range s.tickers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Status reports every periodic job, sorted by name.
func (s *Scheduler) Status() []TaskInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TaskInfo, 0, len(s.tickers))
	for name, e := range s.tickers {
		info := TaskInfo{Name: name, Interval: e.interval, Runs: e.runs, LastRun: e.lastRun}
		if e.lastErr != nil {
			info.LastErr = e.lastErr.Error()
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
