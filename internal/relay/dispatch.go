package relay

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"feedrelay/internal/eventbus"
	kit "feedrelay/internal/transport"
	logx "feedrelay/pkg/logx"
	"feedrelay/pkg/tgui"
)

// Destinations is the chat platform as seen by the relay.
type Destinations interface {
	kit.Sender
	// Resolve returns false when the destination is gone or unusable.
	Resolve(ctx context.Context, destinationID string) (kit.ChatTarget, bool)
}

// Target is a resolved destination.
type Target struct {
	ID   string
	Chat kit.ChatTarget
}

type DispatchConfig struct {
	Concurrency int
	RatePerSec  int
	Timeout     time.Duration
}

func (c DispatchConfig) withDefaults() DispatchConfig {
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 20
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	return c
}

// Report summarizes one fan-out.
type Report struct {
	Delivered int
	Failed    int
}

// DeliveryEvent is published on the bus for every attempt.
type DeliveryEvent struct {
	ItemID      string
	Destination string
	Err         error
}

// Dispatcher sends one message to many targets. A failing target never
// affects the others, and nothing is retried.
type Dispatcher struct {
	dest Destinations
	log  logx.Logger
	bus  eventbus.Bus

	mu      sync.RWMutex
	cfg     DispatchConfig
	limiter *rate.Limiter
}

func NewDispatcher(dest Destinations, cfg DispatchConfig, log logx.Logger, bus eventbus.Bus) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	d := &Dispatcher{dest: dest, log: log, bus: bus}
	d.Apply(cfg)
	return d
}

// Apply swaps limits; in-flight dispatches keep the old ones.
func (d *Dispatcher) Apply(cfg DispatchConfig) {
	cfg = cfg.withDefaults()
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.limiter == nil || d.cfg.RatePerSec != cfg.RatePerSec {
		d.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	}
	d.cfg = cfg
}

func (d *Dispatcher) current() (DispatchConfig, *rate.Limiter) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cfg, d.limiter
}

// Dispatch delivers msg to every target and reports the outcome.
func (d *Dispatcher) Dispatch(ctx context.Context, itemID string, msg tgui.Message, targets []Target) Report {
	cfg, limiter := d.current()

	var delivered, failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(cfg.Concurrency)

	for _, t := range targets {
		g.Go(func() error {
			err := d.deliver(ctx, limiter, cfg.Timeout, msg, t)
			if err != nil {
				failed.Add(1)
				d.log.Warn("delivery failed",
					logx.String("item", itemID), logx.String("destination", t.ID), logx.Err(err))
			} else {
				delivered.Add(1)
			}
			d.publish(itemID, t.ID, err)
			return nil
		})
	}
	_ = g.Wait()

	return Report{Delivered: int(delivered.Load()), Failed: int(failed.Load())}
}

func (d *Dispatcher) deliver(ctx context.Context, limiter *rate.Limiter, timeout time.Duration, msg tgui.Message, t Target) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("send panicked: %v", r)
		}
	}()

	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := limiter.Wait(dctx); err != nil {
		return err
	}
	_, err = msg.Send(dctx, d.dest, t.Chat)
	return err
}

func (d *Dispatcher) publish(itemID, dest string, err error) {
	if d.bus == nil {
		return
	}
	typ := eventbus.TypeDelivered
	if err != nil {
		typ = eventbus.TypeDeliveryFailed
	}
	d.bus.Publish(eventbus.Event{
		Type: typ,
		Time: time.Now(),
		Data: DeliveryEvent{ItemID: itemID, Destination: dest, Err: err},
	})
}
