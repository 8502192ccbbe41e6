package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"feedrelay/internal/bindings"
	"feedrelay/internal/commands"
	"feedrelay/internal/config"
	"feedrelay/internal/eventbus"
	"feedrelay/internal/feed/reddit"
	"feedrelay/internal/relay"
	"feedrelay/internal/runtime/supervisor"
	"feedrelay/internal/seen"
	"feedrelay/internal/storage"
	kit "feedrelay/internal/transport"
	telegram "feedrelay/internal/transport/telegram/adapter"
	logx "feedrelay/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter *telegram.Adapter
	reg     *bindings.Registry
	seen    *seen.Tracker
	disp    *relay.Dispatcher
	poller  *relay.Poller
	cmdm    *commands.Manager

	updates chan kit.Update
	started time.Time
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	m, err := mapConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
	ad, err := telegram.New(telegram.Config{
		Token:           cfg.Telegram.Token,
		PollTimeout:     m.pollTimeout,
		ResolveCacheTTL: m.resolveTTL,
	}, bootLog)
	if err != nil {
		return nil, err
	}

	// logx.New applies immediately; enable the chat sink only after the
	// target is set so the first Apply does not warn about a missing target.
	bootCfg := m.logging
	bootCfg.Chat.Enabled = false
	logSvc, root := logx.New(bootCfg, ad)
	logSvc.SetChatTarget(m.logChat)
	logSvc.Apply(m.logging)
	log := root.With(logx.String("comp", "app"))
	cfgm.SetLogger(root.With(logx.String("comp", "config")))

	bus := eventbus.New()

	store, err := storage.Open(m.storage, root.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	loadCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	reg, err := bindings.Load(loadCtx, store, root.With(logx.String("comp", "bindings")))
	cancel()
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	src, err := reddit.New(m.reddit, root.With(logx.String("comp", "reddit")))
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	tracker, err := seen.New(m.postCap, m.commentCap)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	relayLog := root.With(logx.String("comp", "relay"))
	disp := relay.NewDispatcher(ad, m.dispatch, relayLog, bus)
	poller, err := relay.NewPoller(relay.Deps{
		Source:     src,
		Bindings:   reg,
		Dest:       ad,
		Seen:       tracker,
		Dispatcher: disp,
		Log:        relayLog,
		Bus:        bus,
	}, m.poller)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	cmdm := commands.NewManager(root.With(logx.String("comp", "commands")), ad, ad, cfg.Telegram.OwnerUserIDs)
	cmdm.SetRegistry(commands.FeedCommands(commands.FeedDeps{
		Bindings: reg,
		Perms:    ad,
		Stats:    poller,
		Audit:    store,
		Bus:      bus,
		Log:      root.With(logx.String("comp", "commands")),
		OnChange: func(_, oldDest, newDest string) {
			if oldDest != "" {
				ad.Forget(oldDest)
			}
			if newDest != "" {
				ad.Forget(newDest)
			}
			poller.Wake()
		},
	}))

	log.Info("app initialized",
		logx.String("subreddit", m.poller.Subreddit),
		logx.Strings("authors", m.poller.Authors),
		logx.String("interval", m.poller.Schedule.String()),
		logx.String("storage", m.storage.Driver),
		logx.Int("bindings", reg.Len()),
	)

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		adapter: ad,
		reg:     reg,
		seen:    tracker,
		disp:    disp,
		poller:  poller,
		cmdm:    cmdm,
		updates: make(chan kit.Update, 128),
	}, nil
}

func (a *App) Start(ctx context.Context) error {
	a.started = time.Now()
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))),
		supervisor.WithCancelOnError(true),
	)

	// Reject bad hot reloads before they are committed.
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validate(cfg)
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	menuCtx, cancel := context.WithTimeout(a.sup.Context(), 10*time.Second)
	if err := a.adapter.UpdateMenuCommands(menuCtx, a.cmdm.MenuCommands()); err != nil {
		a.log.Warn("failed to set bot command menu", logx.Err(err))
	}
	cancel()

	// Every long-lived task restarts after a panic; only shutdown ends them.
	restart := supervisor.WithRestartBackoff(time.Second, time.Minute)
	a.sup.GoRestart("relay.poller", a.poller.Run, restart)
	a.sup.GoRestart("commands.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.updates)
	}, restart)
	a.sup.GoRestart("eventbus.log", a.logEvents, restart)
	a.sup.GoRestart("config.reload", a.reloadLoop, restart)
	a.sup.GoRestart("config.watch", a.cfgm.Watch, restart)
	a.sup.GoRestart("systemd.watchdog", func(c context.Context) error {
		a.watchdog(c)
		return nil
	}, restart)
	a.notify(daemon.SdNotifyReady)

	a.log.Info("app started")
	return nil
}

// logEvents logs bus events until ctx ends.
func (a *App) logEvents(ctx context.Context) error {
	events, unsub := a.bus.Subscribe(128,
		eventbus.TypeCycleDone,
		eventbus.TypeCycleFailed,
		eventbus.TypeDeliveryFailed,
		eventbus.TypeBindingChanged,
		eventbus.TypeConfigReloaded,
	)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-events:
			if !ok {
				return nil
			}
			a.logEvent(e)
		}
	}
}

// reloadLoop applies published configs until ctx ends. Bursts collapse to
// the newest config.
func (a *App) reloadLoop(ctx context.Context) error {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return nil
		case next, ok := <-sub:
			if !ok {
				return nil
			}
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						next = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(lastApplied, next)
			lastApplied = next
		}
	}
}

// applyConfig pushes a validated config into the live components.
func (a *App) applyConfig(prev, next *config.Config) {
	m, err := mapConfig(next)
	if err != nil {
		// The manager validates before publishing; this only guards races.
		a.log.Warn("invalid config; keeping previous", logx.Err(err))
		return
	}
	if sections := restartRequired(prev, next); len(sections) > 0 {
		a.log.Warn("config changed in sections that need a restart", logx.String("sections", strings.Join(sections, ",")))
	}

	a.logs.SetChatTarget(m.logChat)
	a.logs.Apply(m.logging)

	a.cmdm.SetOwners(next.Telegram.OwnerUserIDs)
	a.seen.Resize(m.postCap, m.commentCap)
	a.disp.Apply(m.dispatch)
	a.poller.Apply(m.poller)

	if a.bus != nil {
		a.bus.Publish(eventbus.Event{Type: eventbus.TypeConfigReloaded, Time: time.Now()})
	}
	a.log.Info("config reloaded",
		logx.String("subreddit", m.poller.Subreddit),
		logx.Int("authors", len(m.poller.Authors)),
		logx.String("interval", m.poller.Schedule.String()),
	)
}

func (a *App) logEvent(e eventbus.Event) {
	switch d := e.Data.(type) {
	case relay.CycleResult:
		a.log.Debug("event", logx.String("type", e.Type),
			logx.Int("fetched", d.Fetched),
			logx.Int("notified", d.Notified),
			logx.Int("targets", d.Targets),
			logx.Duration("took", d.Duration),
		)
	case error:
		a.log.Debug("event", logx.String("type", e.Type), logx.Err(d))
	case relay.DeliveryEvent:
		a.log.Debug("event", logx.String("type", e.Type),
			logx.String("item", d.ItemID),
			logx.String("dest", d.Destination),
			logx.Err(d.Err),
		)
	default:
		a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.notify(daemon.SdNotifyStopping)

	// Cancel first so background loops start unwinding immediately.
	a.sup.Cancel()

	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		// respect the caller's deadline; never extend it
		if dl, ok := ctx.Deadline(); ok {
			limit = min(limit, max(time.Until(dl), 0))
		}
		if limit > 0 {
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, limit)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("supervisor", 3*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	c := a.sup.Counters()
	a.log.Info("stopped",
		logx.Duration("uptime", time.Since(a.started)),
		logx.Uint64("task_restarts", c.Restarts),
		logx.Uint64("task_panics", c.Panics),
		logx.Uint64("events_dropped", a.bus.Dropped()),
	)
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// Err reports the error that canceled the app, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Done is closed when the app's run context ends.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		return nil
	}
	return a.sup.Context().Done()
}
