// Package supervisor runs the long-lived loops of the process under one
// context, recovering panics and optionally restarting loops that fail.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	logx "feedrelay/pkg/logx"
)

type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc
	log    logx.Logger

	// cancelOnErr cancels ctx when any task fails.
	cancelOnErr bool

	wg      sync.WaitGroup
	errMu   sync.Mutex
	err     error
	waiting sync.Once
	idle    chan struct{}

	stats counters
}

type counters struct {
	active   atomic.Int64
	started  atomic.Uint64
	panics   atomic.Uint64
	restarts atomic.Uint64
}

// Counters is a point-in-time snapshot for status output.
type Counters struct {
	Active   int64
	Started  uint64
	Panics   uint64
	Restarts uint64
}

type Option func(*Supervisor)

func WithLogger(log logx.Logger) Option { return func(s *Supervisor) { s.log = log } }

// WithCancelOnError makes the first task failure cancel every other task.
func WithCancelOnError(enabled bool) Option {
	return func(s *Supervisor) { s.cancelOnErr = enabled }
}

func New(parent context.Context, opts ...Option) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{ctx: ctx, cancel: cancel, log: logx.Nop(), idle: make(chan struct{})}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Cancel signals every task to stop and returns immediately.
func (s *Supervisor) Cancel() { s.cancel() }

// Err is the first task failure, or nil.
func (s *Supervisor) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *Supervisor) Counters() Counters {
	if s == nil {
		return Counters{}
	}
	return Counters{
		Active:   s.stats.active.Load(),
		Started:  s.stats.started.Load(),
		Panics:   s.stats.panics.Load(),
		Restarts: s.stats.restarts.Load(),
	}
}

// Go starts a named task. A returned error other than context.Canceled, or a
// panic, is recorded as a failure.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	s.stats.started.Add(1)
	s.stats.active.Add(1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.stats.active.Add(-1)

		log := s.log.With(logx.String("task", name))
		log.Debug("task started")
		if err := s.call(log, fn); err != nil && !errors.Is(err, context.Canceled) {
			s.fail(fmt.Errorf("%s: %w", name, err))
		}
		log.Debug("task stopped")
	}()
}

// Go0 is Go for tasks that cannot fail.
func (s *Supervisor) Go0(name string, fn func(ctx context.Context)) {
	if fn == nil {
		return
	}
	s.Go(name, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}

// call runs fn once and turns a panic into an error.
func (s *Supervisor) call(log logx.Logger, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.stats.panics.Add(1)
			log.Error("task panicked", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(s.ctx)
}

// Stop cancels and waits.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.cancel()
	return s.Wait(ctx)
}

// Wait blocks until every task has returned or ctx ends, then reports Err.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.waiting.Do(func() {
		go func() {
			s.wg.Wait()
			close(s.idle)
		}()
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.idle:
		return s.Err()
	}
}

func (s *Supervisor) fail(err error) {
	s.errMu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.errMu.Unlock()
	if s.cancelOnErr {
		s.cancel()
	}
}
