package supervisor

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	logx "feedrelay/pkg/logx"
)

// healthyRun is how long a run must last before backoff resets.
const healthyRun = 30 * time.Second

type RestartOption func(*restartPolicy)

type restartPolicy struct {
	minWait, maxWait time.Duration
	// limit caps restarts after the first run; zero means no cap.
	limit int
	// restartClean also restarts when fn returns nil.
	restartClean bool
}

// WithRestartBackoff sets the bounds of the doubling wait between runs.
// Non-positive values keep the defaults.
func WithRestartBackoff(minWait, maxWait time.Duration) RestartOption {
	return func(p *restartPolicy) {
		if minWait > 0 {
			p.minWait = minWait
		}
		if maxWait > 0 {
			p.maxWait = maxWait
		}
	}
}

// WithMaxRestarts gives up, failing the supervisor, after n restarts.
func WithMaxRestarts(n int) RestartOption { return func(p *restartPolicy) { p.limit = n } }

// WithRestartOnCleanExit restarts fn even when it returns nil.
func WithRestartOnCleanExit() RestartOption { return func(p *restartPolicy) { p.restartClean = true } }

// GoRestart keeps fn running until the context ends. A failed or panicking
// run is retried after a jittered, doubling wait.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, opts ...RestartOption) {
	if fn == nil {
		return
	}
	p := restartPolicy{minWait: 250 * time.Millisecond, maxWait: 30 * time.Second}
	for _, o := range opts {
		o(&p)
	}
	p.maxWait = max(p.maxWait, p.minWait)

	s.Go0(name, func(ctx context.Context) {
		log := s.log.With(logx.String("task", name))
		wait := p.minWait
		for n := 1; ctx.Err() == nil; n++ {
			began := time.Now()
			err := s.call(log, fn)
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			if err == nil {
				if !p.restartClean {
					return
				}
				err = errors.New("exited")
			}
			if p.limit > 0 && n > p.limit {
				log.Error("task gave up", logx.Int("restarts", n-1), logx.Err(err))
				s.fail(fmt.Errorf("%s: %w", name, err))
				return
			}

			s.stats.restarts.Add(1)
			if time.Since(began) >= healthyRun {
				wait = p.minWait
			}
			d := jitter(wait)
			log.Warn("task restarting", logx.Int("attempt", n), logx.Duration("backoff", d), logx.Err(err))
			if !sleep(ctx, d) {
				return
			}
			wait = min(wait*2, p.maxWait)
		}
	})
}

// jitter adds up to 20% to d.
func jitter(d time.Duration) time.Duration {
	if j := int64(d) / 5; j > 0 {
		return d + time.Duration(rand.Int64N(j+1))
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
