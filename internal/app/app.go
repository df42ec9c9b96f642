package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"feebot/internal/config"
	"feebot/internal/dialog"
	"feebot/internal/dispatch"
	"feebot/internal/platform"
	"feebot/internal/platform/ntfy"
	"feebot/internal/platform/simplex"
	"feebot/internal/platform/telegram"
	"feebot/internal/runtime/supervisor"
	"feebot/internal/storage"
	"feebot/internal/subscription"
	"feebot/internal/upstream"
	"feebot/pkg/logx"
)

const adapterStopTimeout = 5 * time.Second

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service

	store    storage.Store
	upstream *upstream.Client
	svc      *subscription.Service
	adapters *platform.Registry
	disp     *dispatch.Dispatcher
	poller   *dispatch.Poller
}

// New loads the config and wires every component. Nothing is started yet.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, root := logx.New(cfg.LogConfig(), nil)
	log := root.With(logx.String("comp", "app"))
	cfgm.SetLogger(root.With(logx.String("comp", "config")))

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	store, err := storage.Open(sc, root.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}
	log.Info("storage ready", logx.String("driver", sc.Driver))

	a := &App{
		cfgm:  cfgm,
		log:   log,
		logs:  logSvc,
		store: store,
	}
	a.upstream = upstream.New(upstream.Config{
		BaseURL:  cfg.Upstream.BaseURL,
		Referral: cfg.Upstream.Referral,
		Timeout:  cfg.UpstreamTimeout(),
	}, root.With(logx.String("comp", "upstream")))
	a.svc = subscription.NewService(store, cfg.ResolvedProURL(), root.With(logx.String("comp", "subscription")))

	a.adapters = platform.NewRegistry(root.With(logx.String("comp", "platforms")))
	if err := a.buildAdapters(cfg, root); err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}

	a.disp = dispatch.New(dispatch.Config{
		SendTimeout: cfg.SendTimeout(),
		RatePerSec:  cfg.Dispatch.RatePerSec,
	}, a.upstream, store, a.adapters, a.svc, root.With(logx.String("comp", "dispatch")))
	a.poller = dispatch.NewPoller(a.disp, cfg.PollInterval(), cfg.PollTimeout(), root.With(logx.String("comp", "poller")))
	return a, nil
}

func (a *App) buildAdapters(cfg *config.Config, root logx.Logger) error {
	if cfg.Telegram.Enabled {
		tlog := root.With(logx.String("comp", "telegram"))
		tg, err := telegram.New(telegram.Config{
			Token:       cfg.Telegram.Token,
			PollTimeout: cfg.TelegramPollTimeout(),
		}, tlog)
		if err != nil {
			return fmt.Errorf("telegram: %w", err)
		}
		dialog.NewInlineDialog(a.svc, tg, tlog.With(logx.String("dialog", "inline"))).Register()
		if err := a.adapters.Register(tg); err != nil {
			return err
		}
		a.logs.SetSender(tg)
	}

	if cfg.SimpleX.Enabled {
		sxLog := root.With(logx.String("comp", "simplex"))
		sx, err := simplex.New(simplex.Config{
			AdapterURL:   cfg.SimpleX.AdapterURL,
			ReadyTimeout: cfg.SimpleXReadyTimeout(),
		}, sxLog)
		if err != nil {
			return fmt.Errorf("simplex: %w", err)
		}
		dialog.NewTextDialog(a.svc, sx, sxLog.With(logx.String("dialog", "text"))).Register()
		if err := a.adapters.Register(sx); err != nil {
			return err
		}
	}

	if cfg.Ntfy.Enabled {
		nf, err := ntfy.New(ntfy.Config{
			BaseURL:         cfg.Ntfy.BaseURL,
			AuthHeader:      cfg.Ntfy.AuthHeader,
			BasicUser:       cfg.Ntfy.BasicUser,
			BasicPass:       cfg.Ntfy.BasicPass,
			DefaultPriority: cfg.Ntfy.DefaultPriority,
			Title:           cfg.Ntfy.Title,
		}, root.With(logx.String("comp", "ntfy")))
		if err != nil {
			return fmt.Errorf("ntfy: %w", err)
		}
		if err := a.adapters.Register(nf); err != nil {
			return err
		}
	}

	if a.adapters.Len() == 0 {
		return errors.New("no platform enabled")
	}
	return nil
}

// Done is closed once the app stops running, including before Start.
func (a *App) Done() <-chan struct{} {
	if a.sup != nil {
		return a.sup.Context().Done()
	}
	closed := make(chan struct{})
	close(closed)
	return closed
}

// Err reports the failure that cancelled the app, if any.
func (a *App) Err() error {
	if a.sup != nil {
		return a.sup.Err()
	}
	return nil
}

// Start brings up the adapters, runs the first poll cycle, schedules the rest
// and reports readiness to the service manager.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	if err := a.adapters.StartAll(a.sup.Context()); err != nil {
		a.sup.Cancel()
		return err
	}
	if err := a.poller.Start(a.sup.Context()); err != nil {
		a.adapters.StopAll(context.Background(), adapterStopTimeout)
		a.sup.Cancel()
		return err
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.applyLoop(c, sub)
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	notify(a.log, daemon.SdNotifyReady)
	a.log.Info("app started",
		logx.Strings("platforms", platformNames(a.adapters.Platforms())),
		logx.Duration("interval", a.poller.Interval()),
	)
	return nil
}

func platformNames(ps []platform.Platform) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = string(p)
	}
	return out
}

// applyLoop applies hot-reloaded config. Only logging and the poll interval
// change live; other sections are reported as needing a restart.
func (a *App) applyLoop(ctx context.Context, sub chan *config.Config) {
	last := a.cfgm.Get()
	for {
		var next *config.Config
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			next = cfg
		}
		// coalesce bursts
		for drained := false; !drained; {
			select {
			case newer := <-sub:
				if newer != nil {
					next = newer
				}
			default:
				drained = true
			}
		}

		sections, attrs := config.SummarizeConfigChange(last, next)
		last = next
		if len(sections) == 0 {
			a.log.Debug("config reload received, but no effective changes detected")
			continue
		}

		a.logs.Apply(next.LogConfig())
		if iv := next.PollInterval(); iv != a.poller.Interval() {
			if err := a.poller.Reschedule(iv); err != nil {
				a.log.Warn("poll interval not applied", logx.Err(err))
			}
		}
		if pending := config.RestartRequired(sections); len(pending) > 0 {
			a.log.Warn("config sections changed; restart required", logx.String("sections", strings.Join(pending, ",")))
		}
		fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
		a.log.Info("config applied", fields...)
	}
}

type stopStep struct {
	name  string
	limit time.Duration
	fn    func(context.Context) error
}

// Stop shuts down in reverse dependency order. Each step is bounded so one
// component cannot stall the rest.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	notify(a.log, daemon.SdNotifyStopping)

	steps := []stopStep{
		{"poller", 30 * time.Second, a.poller.Stop},
		{"supervisor.cancel", 0, func(context.Context) error {
			a.sup.Cancel()
			return nil
		}},
		{"adapters", 0, func(c context.Context) error {
			a.adapters.StopAll(c, adapterStopTimeout)
			return nil
		}},
		{"storage", time.Second, func(context.Context) error { return a.store.Close() }},
		{"supervisor.wait", 2 * time.Second, a.sup.Wait},
	}
	var errs []error
	for _, st := range steps {
		if err := a.runStep(ctx, st); err != nil {
			errs = append(errs, err)
		}
	}

	a.log.Info("stopped")
	_ = a.logs.Close()
	return errors.Join(errs...)
}

// runStep runs one shutdown step. A step that overruns its limit is abandoned
// and reported, not waited for.
func (a *App) runStep(ctx context.Context, st stopStep) error {
	began := time.Now()
	sctx, cancel := boundedContext(ctx, st.limit)
	defer cancel()

	res := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				res <- fmt.Errorf("panic: %v", r)
			}
		}()
		res <- st.fn(sctx)
	}()

	select {
	case err := <-res:
		a.log.Debug("stop step done", logx.String("step", st.name), logx.Duration("took", time.Since(began)))
		if err != nil {
			a.log.Warn("stop step failed", logx.String("step", st.name), logx.Err(err))
			return fmt.Errorf("%s: %w", st.name, err)
		}
		return nil
	case <-sctx.Done():
		a.log.Warn("stop step abandoned", logx.String("step", st.name), logx.Duration("after", time.Since(began)))
		return fmt.Errorf("%s: %w", st.name, sctx.Err())
	}
}

// boundedContext derives a context that never outlives the caller's deadline.
// limit <= 0 means no extra bound.
func boundedContext(ctx context.Context, limit time.Duration) (context.Context, context.CancelFunc) {
	if limit <= 0 {
		return context.WithCancel(ctx)
	}
	if dl, ok := ctx.Deadline(); ok {
		limit = min(limit, max(time.Until(dl), 0))
	}
	return context.WithTimeout(ctx, limit)
}

func notify(log logx.Logger, state string) {
	sent, err := daemon.SdNotify(false, state)
	switch {
	case err != nil:
		log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
	case sent:
		log.Debug("sd_notify sent", logx.String("state", state))
	}
}
