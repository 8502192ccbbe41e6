package relay

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"feedrelay/internal/eventbus"
	"feedrelay/internal/feed"
	"feedrelay/internal/seen"
	logx "feedrelay/pkg/logx"
)

// Settings are the hot-reloadable knobs of the Poller.
type Settings struct {
	Subreddit    string
	Authors      []string
	PostLimit    int
	CommentLimit int
	Schedule     Schedule
}

func (s Settings) withDefaults() Settings {
	if s.PostLimit <= 0 {
		s.PostLimit = 25
	}
	if s.CommentLimit <= 0 {
		s.CommentLimit = 150
	}
	if s.Schedule == nil {
		s.Schedule = Every(time.Minute)
	}
	return s
}

// DestinationSource lists the currently bound destination ids.
type DestinationSource interface {
	All(ctx context.Context) []string
}

type Deps struct {
	Source     feed.Source
	Bindings   DestinationSource
	Dest       Destinations
	Seen       *seen.Tracker
	Dispatcher *Dispatcher
	Log        logx.Logger
	Bus        eventbus.Bus
}

// CycleResult describes one completed cycle.
type CycleResult struct {
	Started  time.Time
	Duration time.Duration
	Targets  int
	Fetched  int
	Notified int
	Report   Report
	Skipped  bool // no destination resolved; nothing fetched
}

// Stats are cumulative counters since start.
type Stats struct {
	Cycles       uint64
	FailedCycles uint64
	Notified     uint64
	Delivered    uint64
	Failed       uint64
	LastCycle    time.Time
	LastResult   CycleResult
	SeenPosts    int
	SeenComments int
	Settings     Settings
}

// Poller runs the relay cycle forever. Exactly one cycle is in flight.
type Poller struct {
	src      feed.Source
	bindings DestinationSource
	dest     Destinations
	seen     *seen.Tracker
	resolver *Resolver
	disp     *Dispatcher
	log      logx.Logger
	bus      eventbus.Bus

	mu       sync.RWMutex
	settings Settings
	allow    feed.Allowlist
	last     CycleResult

	cycles, failedCycles          atomic.Uint64
	notified, delivered, failures atomic.Uint64
	lastCycle                     atomic.Int64 // unix nanos of the last finished cycle

	wake chan struct{}
}

func NewPoller(d Deps, s Settings) (*Poller, error) {
	if d.Source == nil || d.Bindings == nil || d.Dest == nil || d.Seen == nil {
		return nil, errors.New("relay: source, bindings, destinations and seen tracker are required")
	}
	log := d.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	disp := d.Dispatcher
	if disp == nil {
		disp = NewDispatcher(d.Dest, DispatchConfig{}, log, d.Bus)
	}
	p := &Poller{
		src:      d.Source,
		bindings: d.Bindings,
		dest:     d.Dest,
		seen:     d.Seen,
		resolver: NewResolver(d.Source, log),
		disp:     disp,
		log:      log,
		bus:      d.Bus,
		wake:     make(chan struct{}, 1),
	}
	p.Apply(s)
	return p, nil
}

// Apply swaps settings; the next cycle uses them.
func (p *Poller) Apply(s Settings) {
	s = s.withDefaults()
	allow := feed.NewAllowlist(s.Authors)
	p.mu.Lock()
	p.settings = s
	p.allow = allow
	p.mu.Unlock()
}

func (p *Poller) snapshot() (Settings, feed.Allowlist) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.settings, p.allow
}

// Wake cuts the current sleep short.
func (p *Poller) Wake() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// LastCycle is when the last cycle finished (zero before the first).
func (p *Poller) LastCycle() time.Time {
	n := p.lastCycle.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

func (p *Poller) Stats() Stats {
	s, _ := p.snapshot()
	p.mu.RLock()
	last := p.last
	p.mu.RUnlock()
	return Stats{
		Cycles:       p.cycles.Load(),
		FailedCycles: p.failedCycles.Load(),
		Notified:     p.notified.Load(),
		Delivered:    p.delivered.Load(),
		Failed:       p.failures.Load(),
		LastCycle:    p.LastCycle(),
		LastResult:   last,
		SeenPosts:    p.seen.Len(seen.KindPost),
		SeenComments: p.seen.Len(seen.KindComment),
		Settings:     s,
	}
}

// Run loops until ctx is canceled: cycle, then sleep.
func (p *Poller) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		// Failures are logged inside the boundary.
		_, _ = p.RunCycle(ctx)

		s, _ := p.snapshot()
		now := time.Now()
		wait := s.Schedule.Next(now).Sub(now)
		if wait < 0 {
			wait = 0
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-p.wake:
			t.Stop()
		case <-t.C:
		}
	}
}

// RunCycle runs one cycle inside a failure boundary.
func (p *Poller) RunCycle(ctx context.Context) (res CycleResult, err error) {
	res.Started = time.Now()
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("cycle panicked", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			err = fmt.Errorf("cycle panic: %v", r)
		}
		res.Duration = time.Since(res.Started)
		p.finish(res, err)
	}()
	return p.cycle(ctx, res)
}

func (p *Poller) finish(res CycleResult, err error) {
	p.lastCycle.Store(time.Now().UnixNano())
	p.cycles.Add(1)
	p.notified.Add(uint64(res.Notified))
	p.delivered.Add(uint64(res.Report.Delivered))
	p.failures.Add(uint64(res.Report.Failed))

	p.mu.Lock()
	p.last = res
	p.mu.Unlock()

	typ := eventbus.TypeCycleDone
	var data any = res
	if err != nil && !errors.Is(err, context.Canceled) {
		p.failedCycles.Add(1)
		typ = eventbus.TypeCycleFailed
		data = err
	}
	if p.bus != nil {
		p.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: data})
	}
}

func (p *Poller) cycle(ctx context.Context, res CycleResult) (CycleResult, error) {
	s, allow := p.snapshot()

	targets := p.resolveTargets(ctx)
	res.Targets = len(targets)
	if len(targets) == 0 {
		res.Skipped = true
		p.log.Debug("no destinations bound; skipping fetch")
		return res, nil
	}

	posts, err := p.src.RecentPosts(ctx, s.Subreddit, s.PostLimit)
	if err != nil {
		p.log.Warn("fetch posts failed", logx.String("subreddit", s.Subreddit), logx.Err(err))
		posts = nil
	}
	comments, err := p.src.RecentComments(ctx, s.Subreddit, s.CommentLimit)
	if err != nil {
		p.log.Warn("fetch comments failed", logx.String("subreddit", s.Subreddit), logx.Err(err))
		comments = nil
	}
	res.Fetched = len(posts) + len(comments)

	// Listings are newest first; relay oldest first.
	for i := len(posts) - 1; i >= 0; i-- {
		post := posts[i]
		if !allow.Allows(post.Author) || !p.seen.IsNew(seen.KindPost, post.ID) {
			continue
		}
		if err := p.notify(ctx, seen.KindPost, post, nil, targets, &res); err != nil {
			return res, err
		}
	}
	for i := len(comments) - 1; i >= 0; i-- {
		c := comments[i]
		if !allow.Allows(c.Author) || !p.seen.IsNew(seen.KindComment, c.ID) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}
		rc := p.resolver.Resolve(ctx, c)
		if err := p.notify(ctx, seen.KindComment, c, rc, targets, &res); err != nil {
			return res, err
		}
	}
	return res, nil
}

// notify formats, dispatches, then marks seen. A canceled context stops
// before marking so shutdown never records an undelivered item.
func (p *Poller) notify(ctx context.Context, kind seen.Kind, it feed.Item, rc Context, targets []Target, res *CycleResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := Format(it, rc)
	rep := p.disp.Dispatch(ctx, it.ItemID(), msg, targets)
	if err := ctx.Err(); err != nil {
		return err
	}
	p.seen.MarkSeen(kind, it.ItemID())
	res.Notified++
	res.Report.Delivered += rep.Delivered
	res.Report.Failed += rep.Failed
	p.log.Info("relayed",
		logx.String("kind", kind.String()), logx.String("id", it.ItemID()), logx.String("author", it.ItemAuthor()),
		logx.Int("delivered", rep.Delivered), logx.Int("failed", rep.Failed))
	return nil
}

func (p *Poller) resolveTargets(ctx context.Context) []Target {
	ids := p.bindings.All(ctx)
	out := make([]Target, 0, len(ids))
	for _, id := range ids {
		to, ok := p.dest.Resolve(ctx, id)
		if !ok {
			continue
		}
		out = append(out, Target{ID: id, Chat: to})
	}
	return out
}
