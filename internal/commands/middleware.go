package commands

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	logx "feedrelay/pkg/logx"
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

// Chain wraps h so that m[0] is the outermost middleware.
func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

// Rejection is a refusal the caller should see verbatim, such as a missing
// permission. It is not logged as a failure.
type Rejection struct{ Reply string }

func (r *Rejection) Error() string { return "rejected: " + r.Reply }

func reject(reply string) error { return &Rejection{Reply: reply} }

func reqLogger(fallback logx.Logger, req *Request) logx.Logger {
	if req != nil && !req.Logger.IsZero() {
		return req.Logger
	}
	return fallback
}

// WithTimeout bounds a handler. d <= 0 leaves ctx as is.
func WithTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		if d <= 0 {
			return next
		}
		return func(ctx context.Context, req *Request) error {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(ctx, req)
		}
	}
}

// Recover turns a handler panic into an error.
func Recover(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if r := recover(); r != nil {
					reqLogger(log, req).Error("command panicked", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
					err = fmt.Errorf("command panic: %v", r)
				}
			}()
			return next(ctx, req)
		}
	}
}

// Reply answers the caller when the handler fails: a Rejection with its own
// text, anything else with a generic message. The reply outlives the
// handler's deadline.
func Reply() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			err := next(ctx, req)
			if err == nil {
				return nil
			}
			text := msgUnknownError
			var rej *Rejection
			if errors.As(err, &rej) {
				text = rej.Reply
			}
			_ = req.ReplyText(context.WithoutCancel(ctx), text)
			return err
		}
	}
}

// Log records one line per command with its outcome and latency.
func Log(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			took := time.Since(start)

			l := reqLogger(log, req).With(
				logx.String("cmd", req.Command),
				logx.String("scope", req.Message.Scope()),
				logx.Int64("from_id", req.FromID),
				logx.Duration("took", took),
			)
			var rej *Rejection
			switch {
			case errors.As(err, &rej):
				l.Info("command rejected", logx.String("reason", rej.Reply))
			case err != nil:
				l.Warn("command failed", logx.Err(err))
			case took >= time.Second:
				l.Info("command slow")
			default:
				l.Debug("command ok")
			}
			return err
		}
	}
}
