package adapter

import (
	"context"
	"errors"
	"time"

	tele "gopkg.in/telebot.v4"

	rtsup "feedrelay/internal/runtime/supervisor"
	kit "feedrelay/internal/transport"
	logx "feedrelay/pkg/logx"
)

const (
	dropReportEvery = 5 * time.Second
	stopGrace       = 2 * time.Second
)

// onText forwards text messages to the current sink. Commands are parsed
// further up.
func (a *Adapter) onText(c tele.Context) error {
	m := c.Message()
	if m == nil || m.Sender == nil || m.Chat == nil {
		return nil
	}
	a.push(kit.Update{Kind: kit.UpdateMessage, Message: toMessage(m)})
	return nil
}

func toMessage(m *tele.Message) *kit.Message {
	msg := &kit.Message{
		ID:       m.ID,
		ChatID:   m.Chat.ID,
		ChatType: string(m.Chat.Type),
		Text:     m.Text,
	}
	if m.TopicMessage {
		msg.ThreadID = m.ThreadID
	}
	if m.Sender != nil {
		msg.FromID = m.Sender.ID
		msg.FromUsername = m.Sender.Username
	}
	return msg
}

// push never blocks the telebot handler; a full sink counts a drop.
func (a *Adapter) push(up kit.Update) {
	s := a.updates.Load()
	if s == nil {
		return
	}
	select {
	case s.ch <- up:
	default:
		a.dropped.Add(1)
	}
}

// Start begins long polling. Updates are written to out until Stop or ctx
// ends. Calling Start on a running adapter is a no-op.
func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	if a.bot == nil {
		return errors.New("telegram adapter has no bot")
	}
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if a.sup != nil {
		return nil
	}
	a.updates.Store(&sink{ch: out})

	// Adapter failures are logged and retried, never fatal to the app.
	sup := rtsup.New(ctx, rtsup.WithLogger(a.log))
	a.sup = sup

	sup.Go0("updates.drops", func(c context.Context) {
		t := time.NewTicker(dropReportEvery)
		defer t.Stop()
		for {
			select {
			case <-c.Done():
				a.reportDropped(cap(out))
				return
			case <-t.C:
				a.reportDropped(cap(out))
			}
		}
	})
	sup.Go0("poll.cancel", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})
	// bot.Start returns whenever polling ends; keep it going while ctx lives.
	sup.GoRestart("poll", func(context.Context) error {
		a.log.Info("polling started")
		a.bot.Start()
		a.log.Info("polling stopped")
		return nil
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithRestartOnCleanExit(),
	)
	return nil
}

func (a *Adapter) reportDropped(capacity int) {
	if n := a.dropped.Swap(0); n > 0 {
		a.log.Warn("incoming updates dropped", logx.Uint64("count", n), logx.Int("buffer", capacity))
	}
}

// Stop ends polling and waits briefly for the poll loop to unwind. A long
// poll still in flight is abandoned after a short grace period.
func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	a.updates.Store(nil)
	a.runMu.Unlock()
	if sup == nil {
		return nil
	}
	a.log.Info("stopping")

	sup.Cancel()
	go a.bot.Stop()

	wctx, cancel := context.WithTimeout(ctx, stopGrace)
	defer cancel()
	if err := sup.Wait(wctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			a.log.Warn("telegram stop timed out", logx.Err(err))
			return nil
		}
		a.log.Debug("telegram stopped with error", logx.Err(err))
	}
	return nil
}

// SendLog implements logx.Sender.
func (a *Adapter) SendLog(ctx context.Context, target, text string) error {
	to, err := kit.ParseTarget(target)
	if err != nil {
		return err
	}
	_, err = a.SendText(ctx, to, text, &kit.SendOptions{DisablePreview: true})
	return err
}
