// Package supervisor runs one room egress per room, each independently
// cancellable, and remembers how finished runs ended.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	ErrAlreadyRunning = errors.New("supervisor: room already running")
	ErrShuttingDown   = errors.New("supervisor: shutting down")
)

// Runner records one room until it ends or ctx is cancelled.
type Runner interface {
	Run(ctx context.Context, room string) error
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, room string) error

func (f RunnerFunc) Run(ctx context.Context, room string) error {
	return f(ctx, room)
}

// Supervisor owns the room runs. A failing run never cancels the others.
type Supervisor struct {
	runner  Runner
	history *History
	logger  *zap.Logger

	running  prometheus.Gauge
	finished *prometheus.CounterVec

	baseCtx   context.Context
	cancelAll context.CancelFunc
	group     errgroup.Group

	mu       sync.Mutex
	active   map[string]context.CancelFunc
	shutdown bool
	onIdle   func()
}

func New(runner Runner, history *History, reg prometheus.Registerer, logger *zap.Logger) (*Supervisor, error) {
	running := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "egress",
		Subsystem: "supervisor",
		Name:      "running_rooms",
		Help:      "Rooms currently being recorded.",
	})
	finished := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "egress",
		Subsystem: "supervisor",
		Name:      "finished_runs_total",
		Help:      "Finished room runs by outcome.",
	}, []string{"outcome"})

	for _, c := range []prometheus.Collector{running, finished} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register supervisor metrics: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Supervisor{
		runner:    runner,
		history:   history,
		logger:    logger,
		running:   running,
		finished:  finished,
		baseCtx:   ctx,
		cancelAll: cancel,
		active:    make(map[string]context.CancelFunc),
	}, nil
}

// OnIdle registers fn to be called each time the last running room finishes.
func (s *Supervisor) OnIdle(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.onIdle = fn
}

// Start begins recording room in the background.
func (s *Supervisor) Start(room string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.startLocked(room)
}

// StartAll starts every room before any finished run can count as the last
// one, so OnIdle does not fire between two starts.
func (s *Supervisor) StartAll(rooms []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for _, room := range rooms {
		if err := s.startLocked(room); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Supervisor) startLocked(room string) error {
	if s.shutdown {
		return ErrShuttingDown
	}
	if _, ok := s.active[room]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, room)
	}

	ctx, cancel := context.WithCancel(s.baseCtx)
	s.active[room] = cancel
	s.running.Inc()

	s.logger.Info("Starting room egress", zap.String("room", room))

	s.group.Go(func() error {
		s.run(ctx, room)
		return nil
	})

	return nil
}

// Stop cancels the run of room. It reports whether the room was running.
func (s *Supervisor) Stop(room string) bool {
	s.mu.Lock()
	cancel, ok := s.active[room]
	s.mu.Unlock()

	if ok {
		s.logger.Info("Stopping room egress", zap.String("room", room))
		cancel()
	}
	return ok
}

// Running returns the rooms being recorded, sorted.
func (s *Supervisor) Running() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	rooms := make([]string, 0, len(s.active))
	for room := range s.active {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)
	return rooms
}

// Result returns the latest finished run of room.
func (s *Supervisor) Result(room string) (Result, bool) {
	return s.history.Latest(room)
}

// Shutdown cancels every run and waits for them to flush, or for ctx.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.shutdown = true
	s.mu.Unlock()

	s.cancelAll()

	done := make(chan struct{})
	go func() {
		_ = s.group.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for rooms %v: %w", s.Running(), ctx.Err())
	}
}

func (s *Supervisor) run(ctx context.Context, room string) {
	res := Result{Room: room, Started: time.Now()}
	res.Err = s.safeRun(ctx, room)
	res.Finished = time.Now()

	s.history.Record(res)

	logger := s.logger.With(zap.String("room", room), zap.Duration("duration", res.Duration()))
	if res.Err != nil {
		s.finished.WithLabelValues("error").Inc()
		logger.Error("Room egress failed", zap.Error(res.Err))
	} else {
		s.finished.WithLabelValues("ok").Inc()
		logger.Info("Room egress completed")
	}

	s.mu.Lock()
	if cancel, ok := s.active[room]; ok {
		cancel()
		delete(s.active, room)
	}
	idle := len(s.active) == 0 && !s.shutdown
	onIdle := s.onIdle
	s.mu.Unlock()

	s.running.Dec()

	if idle && onIdle != nil {
		onIdle()
	}
}

func (s *Supervisor) safeRun(ctx context.Context, room string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("room egress panicked: %v", r)
		}
	}()

	return s.runner.Run(ctx, room)
}
