package core

import (
	"context"
	"fmt"
	"time"

	"heraldbot/internal/calendar"
	"heraldbot/internal/config"
	"heraldbot/internal/runtime/schedule"
	"heraldbot/internal/runtime/supervisor"
	"heraldbot/internal/services/announce"
	"heraldbot/internal/services/remind"
	"heraldbot/internal/services/selection"
	"heraldbot/internal/storage"
	"heraldbot/internal/transport"
	"heraldbot/internal/transport/telegram"
	"heraldbot/pkg/logx"
)

// App is the composition root: it wires config, logging, storage, the
// calendar feed, the announcement engine, the reminder queue and the
// selection flow to the chat gateway, and owns their lifecycle.
type App struct {
	cfgm *config.Manager
	logs *logx.Service
	log  logx.Logger

	adapter transport.Adapter
	store   *storage.Store
	feed    *calendar.Feed
	queue   *remind.Queue
	engine  *announce.Engine
	flow    *selection.Flow
	gate    *Gate
	router  *Router
	sched   *schedule.Runner

	updates chan transport.Update
	sup     *supervisor.Supervisor
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	// The chat sink needs the gateway, which does not exist yet; start
	// with console/file only and re-apply once the adapter is up.
	logs, err := logx.NewService(logOptions(cfg, nil))
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}
	log := logs.Named("app")

	adapter, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: cfg.PollTimeout(),
	}, logs.Named("telegram"))
	if err != nil {
		return nil, err
	}
	if err := logs.Apply(logOptions(cfg, chatSender(adapter))); err != nil {
		log.Warn("log sinks not fully applied", logx.Err(err))
	}

	store, err := storage.Open(storage.Config{
		Driver:      cfg.StorageDriver(),
		Path:        cfg.StoragePath(),
		BusyTimeout: cfg.StorageBusyTimeout(),
	}, logs.Named("storage"))
	if err != nil {
		return nil, err
	}

	feed, err := calendar.NewFeed(calendar.Options{
		URL:      cfg.Calendar.FeedURL,
		Timeout:  cfg.FetchTimeout(),
		Lookback: time.Duration(cfg.LookbackDays()) * 24 * time.Hour,
		Horizon:  time.Duration(cfg.HorizonDays()) * 24 * time.Hour,
		Log:      logs.Named("calendar"),
	})
	if err != nil {
		return nil, err
	}

	queue := remind.New(remind.Options{
		Store:   store,
		Gateway: adapter,
		Log:     logs.Named("remind"),
	})
	engine := announce.New(announce.Options{
		Store:   store,
		Source:  feed,
		Gateway: adapter,
		Log:     logs.Named("announce"),
	})

	var ad transport.Adapter = adapter
	roles, _ := ad.(transport.RoleResolver)
	gate := NewGate(cfg.Telegram.OwnerID, store, roles, logs.Named("access"))

	flow := selection.New(selection.Options{
		Source:  feed,
		Queue:   queue,
		Gateway: ad,
		Access:  gate,
		Log:     logs.Named("selection"),
	})

	a := &App{
		cfgm:    cfgm,
		logs:    logs,
		log:     log,
		adapter: ad,
		store:   store,
		feed:    feed,
		queue:   queue,
		engine:  engine,
		flow:    flow,
		gate:    gate,
		router:  NewRouter(logs.Named("commands"), ad, gate),
		sched:   schedule.New(logs.Named("schedule")),
		updates: make(chan transport.Update, 256),
	}
	a.router.SetRegistry(a.commandSet(), a.callbackSet())
	return a, nil
}

// Done is closed when the app context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	a.cfgm.SetLogger(a.logs.Named("config"))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return cfg.Validate()
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	a.sched.Start(a.sup.Context())
	a.applySchedules(a.cfgm.Get())

	// Catch up on milestones and reminders that came due while the
	// process was down, without delaying startup.
	a.sup.Go0("catchup", func(c context.Context) {
		if err := a.engine.PollOnce(c); err != nil {
			a.log.Warn("startup poll failed", logx.Err(err))
		}
		a.queue.Sweep(c)
	})

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		prev := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							next = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyConfig(prev, next)
				prev = next
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	// Best-effort platform menu sync; the bot works without it.
	if menu, ok := a.adapter.(transport.CommandMenuUpdater); ok {
		cmds := a.router.MenuCommands()
		a.sup.Go0("menu.sync", func(c context.Context) {
			if err := menu.UpdateMenuCommands(c, cmds); err != nil {
				a.log.Warn("command menu not updated", logx.Err(err))
			}
		})
	}

	a.log.Info("app started")
	return nil
}

// applyConfig hot-applies what can change at runtime and warns about
// what cannot.
func (a *App) applyConfig(prev, next *config.Config) {
	if next == nil {
		return
	}
	if err := a.logs.Apply(logOptions(next, chatSender(a.adapter))); err != nil {
		a.log.Warn("log sinks not fully applied", logx.Err(err))
	}
	a.gate.SetOwner(next.Telegram.OwnerID)
	a.feed.SetURL(next.Calendar.FeedURL)
	a.applySchedules(next)

	if prev != nil {
		if prev.Telegram.Token != next.Telegram.Token || prev.PollTimeout() != next.PollTimeout() {
			a.log.Warn("telegram settings changed; restart required to take effect")
		}
		if prev.StorageDriver() != next.StorageDriver() || prev.StoragePath() != next.StoragePath() {
			a.log.Warn("storage settings changed; restart required to take effect")
		}
		if prev.FetchTimeout() != next.FetchTimeout() ||
			prev.LookbackDays() != next.LookbackDays() || prev.HorizonDays() != next.HorizonDays() {
			a.log.Warn("calendar window settings changed; restart required to take effect")
		}
	}
	a.log.Info("config reloaded")
}

func (a *App) applySchedules(cfg *config.Config) {
	if err := a.sched.SetEvery("calendar.poll", cfg.PollInterval(), func(c context.Context) error {
		return a.engine.PollOnce(c)
	}); err != nil {
		a.log.Warn("poll schedule not applied", logx.Err(err))
	}
	if err := a.sched.SetEvery("reminders.sweep", cfg.SweepInterval(), func(c context.Context) error {
		a.queue.Sweep(c)
		return nil
	}); err != nil {
		a.log.Warn("sweep schedule not applied", logx.Err(err))
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	// Each shutdown step gets an upper bound so one component cannot
	// stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		done := make(chan error, 1)
		go func() {
			defer func() {
				if rec := recover(); rec != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, rec)
				}
			}()
			done <- fn(stepCtx)
		}()
		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step failed", logx.String("step", name), logx.Err(err))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached", logx.String("step", name))
		}
	}

	step("schedule", 3*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("adapter", 3*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", time.Second, func(c context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	a.logs.Close()
	return nil
}

// logOptions maps the config file's logging section onto the log
// service. With nothing configured the console sink is enabled so the
// operator sees something.
func logOptions(cfg *config.Config, send logx.SendFunc) logx.Options {
	opts := logx.Options{Level: cfg.Logging.Level}
	if c := cfg.Logging.Console; c != nil {
		opts.Console = logx.ConsoleOptions{Enabled: c.Enabled, Level: c.Level, Color: c.Color}
	}
	if f := cfg.Logging.File; f != nil {
		opts.File = logx.FileOptions{Enabled: f.Enabled, Level: f.Level, Path: f.Path}
	}
	if cfg.Logging.Console == nil && cfg.Logging.File == nil {
		opts.Console = logx.ConsoleOptions{Enabled: true, Color: true}
	}
	if ch := cfg.Logging.Chat; ch != nil {
		opts.Chat = logx.ChatOptions{Enabled: ch.Enabled, Level: ch.Level, ChatID: ch.ChatID, Sender: send}
	}
	return opts
}

// chatSender adapts the gateway to the log service's chat sink.
func chatSender(ad transport.Adapter) logx.SendFunc {
	return func(ctx context.Context, chatID int64, text string) error {
		_, err := ad.SendText(ctx, transport.ChatTarget{ChatID: chatID}, text, nil)
		return err
	}
}
