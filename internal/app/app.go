package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"k8s.io/utils/clock"

	"boardbot/internal/account"
	"boardbot/internal/board"
	"boardbot/internal/config"
	"boardbot/internal/eventbus"
	"boardbot/internal/metrics"
	"boardbot/internal/runtime/supervisor"
	"boardbot/internal/scheduler"
	"boardbot/internal/source"
	"boardbot/internal/source/builtin"
	"boardbot/internal/storage"
	"boardbot/internal/tracker"
	logx "boardbot/pkg/logx"
)

// cycleJob is the scheduler entry driving every source cycle.
const cycleJob = "board.cycle"

const defaultCycle = "@every 1m"

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	board    *board.Local
	tracker  tracker.Repository
	redis    *tracker.Redis // nil unless repository.driver=redis
	accounts *account.Manager
	sched    *scheduler.Service
	sources  *source.Manager
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	// Alerts stay off until the sender account exists.
	baseLogCfg := mapLoggingConfig(cfg)
	baseLogCfg.Alerts.Enabled = false
	logSvc, root := logx.New(baseLogCfg)
	log := root.With(logx.String("comp", "app"))

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
	}
	a.bus = eventbus.New(func(e eventbus.Event, recovered any) {
		log.Error("panic in event handler", logx.String("type", e.Type), logx.Any("panic", recovered))
	})

	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, a.abort(err)
	} else if enabled {
		st, err := storage.Open(sc, root.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, a.abort(err)
		}
		a.store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	a.board = board.NewLocal(cfg.Board.Path, root.With(logx.String("comp", "board")))
	if err := a.board.Open(context.Background(), cfg.Board.Columns); err != nil {
		return nil, a.abort(err)
	}

	if err := a.buildTracker(cfg, root); err != nil {
		return nil, a.abort(err)
	}

	a.accounts, err = account.Build(cfg.Accounts, root.With(logx.String("comp", "accounts")))
	if err != nil {
		return nil, a.abort(err)
	}
	if err := a.installAlerts(cfg); err != nil {
		return nil, a.abort(err)
	}
	logSvc.Apply(mapLoggingConfig(cfg))

	a.sched = scheduler.New(cfg.Scheduler.Timezone, root.With(logx.String("comp", "scheduler")))

	a.sources, err = source.NewManager(context.Background(), cfg.Sources, builtin.DefaultRegistry(), source.Deps{
		Repository: a.tracker,
		Accounts:   a.accounts,
		Board:      a.board,
		Store:      a.store,
		Scheduler:  a.sched,
		Clock:      clock.RealClock{},
		Log:        root,
	})
	if err != nil {
		return nil, a.abort(err)
	}

	cycle := strings.TrimSpace(cfg.Board.Cycle)
	if cycle == "" {
		cycle = defaultCycle
	}
	if err := a.sched.Add(cycleJob, cycle, a.Cycle); err != nil {
		return nil, a.abort(fmt.Errorf("board.cycle: %w", err))
	}
	return a, nil
}

func (a *App) buildTracker(cfg *config.Config, root logx.Logger) error {
	switch strings.ToLower(strings.TrimSpace(cfg.Repository.Driver)) {
	case "", "memory":
		a.tracker = tracker.NewMemory(a.bus)
	case "redis":
		cacheTime, err := config.ParseDurationOrDefault("repository.cache_time", cfg.Repository.CacheTime, 30*time.Second)
		if err != nil {
			return err
		}
		rc := cfg.Repository.Redis
		a.redis = tracker.NewRedis(
			tracker.NewRedisClient(rc.Addr, rc.Password, rc.DB),
			tracker.RedisOptions{Prefix: rc.Prefix, CacheTime: cacheTime},
			a.bus,
			root.With(logx.String("comp", "tracker")),
		)
		a.tracker = a.redis
	default:
		return fmt.Errorf("repository.driver: unknown driver %q", cfg.Repository.Driver)
	}
	return nil
}

func (a *App) installAlerts(cfg *config.Config) error {
	al := cfg.Logging.Alerts
	if !al.Enabled {
		return nil
	}
	acct, err := a.accounts.Get("telegram", al.Account)
	if err != nil {
		return fmt.Errorf("logging.alerts.account: %w", err)
	}
	sender, ok := acct.(logx.AlertSender)
	if !ok {
		return fmt.Errorf("logging.alerts.account: %s cannot send alerts", al.Account)
	}
	a.logs.SetAlertSender(sender)
	return nil
}

// abort releases what NewApp opened so far.
func (a *App) abort(err error) error {
	if a.store != nil {
		_ = a.store.Close()
	}
	_ = a.logs.Close()
	return err
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Cycle runs one board cycle: every source cycle, then a snapshot save.
func (a *App) Cycle(ctx context.Context) error {
	start := time.Now()
	err := a.sources.Cycle(ctx)
	if serr := a.board.Save(ctx); serr != nil {
		a.log.Warn("board save failed", logx.Err(serr))
		err = errors.Join(err, serr)
	}
	a.log.Debug("board cycle done", logx.Duration("took", time.Since(start)), logx.Int("cards", a.board.CardCount()))
	return err
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		if _, _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		reg := builtin.DefaultRegistry()
		for i, s := range cfg.Sources {
			if _, err := reg.Lookup(s.Type); err != nil {
				return fmt.Errorf("sources[%d]: %w", i, err)
			}
		}
		return nil
	})

	cfg := a.cfgm.Get()
	if cfg.Metrics.Enabled {
		metrics.Register()
		mlog := a.log.With(logx.String("comp", "metrics"))
		a.sup.Go("metrics.serve", func(c context.Context) error {
			return metrics.Serve(c, metrics.Options{Addr: cfg.Metrics.Addr, Pprof: cfg.Metrics.Pprof}, mlog)
		})
	}

	if a.redis != nil {
		a.sup.GoRestart("tracker.listen", a.redis.Listen, time.Second, 30*time.Second)
	}

	if err := a.sources.Start(a.sup.Context()); err != nil {
		return err
	}
	a.sched.Start(a.sup.Context())

	if a.bus != nil {
		events, unsub := a.bus.Subscribe(128)
		a.sup.Go0("eventbus.log", func(c context.Context) {
			defer unsub()
			for {
				select {
				case <-c.Done():
					return
				case e, ok := <-events:
					if !ok {
						return
					}
					a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
				}
			}
		})
	}

	a.sup.Go0("config.reload", a.reloadLoop)
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started",
		logx.Strings("sources", a.sources.TypeNames()),
		logx.Strings("accounts", a.accounts.Names()),
		logx.Strings("managed", a.sources.ManagedColumnNames()),
	)
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	a.sup.Cancel()

	// step bounds one shutdown step so a stuck component can't stall the rest.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if max > 0 {
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem < max {
					max = rem
				}
			}
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, max)
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
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("sources", 4*time.Second, a.sources.Stop)
	step("board", time.Second, func(c context.Context) error { return a.board.Save(c) })
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	step("supervisor", 2*time.Second, a.sup.Wait)

	a.log.Info("stopped")
	return a.logs.Close()
}
