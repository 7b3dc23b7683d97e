// Package app assembles the daemon: configuration, logging, storage,
// the reminder scheduler, and the config hot-reload loop.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"casewatch/internal/config"
	"casewatch/internal/eventbus"
	"casewatch/internal/notify"
	"casewatch/internal/reminder"
	"casewatch/internal/runtime/supervisor"
	"casewatch/internal/storage"
	logx "casewatch/pkg/logx"
)

type App struct {
	cfgPath string

	logSvc  *logx.Service
	log     logx.Logger
	manager *config.Manager
	store   storage.Store
	bus     eventbus.Bus
	sup     *supervisor.Supervisor

	mu       sync.Mutex
	svc      *reminder.Service
	svcHash  string // serialized sections the reminder service was built from
	stopOnce sync.Once
}

func New(cfgPath string) *App {
	return &App{cfgPath: cfgPath}
}

// Start loads configuration and brings every component up. On error the
// partially started pieces are torn down before returning.
func (a *App) Start(ctx context.Context) error {
	a.manager = config.NewManager(a.cfgPath)
	cfg, err := a.manager.Load()
	if err != nil {
		return fmt.Errorf("load config %s: %w", a.cfgPath, err)
	}

	a.logSvc, a.log = logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	a.manager.SetLogger(a.log.With(logx.String("service", "config")))
	a.manager.SetValidator(validateConfig)

	a.store, err = storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: parseBusyTimeout(cfg.Storage.BusyTimeout),
	}, a.log.With(logx.String("service", "storage")))
	if err != nil {
		a.closeLogging()
		return fmt.Errorf("open storage: %w", err)
	}

	a.bus = eventbus.New()
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log.With(logx.String("service", "supervisor"))))

	if err := a.applyConfig(a.sup.Context(), cfg); err != nil {
		_ = a.store.Close()
		a.closeLogging()
		return err
	}

	a.sup.GoRestart("config.watch", a.manager.Watch)
	a.startReloadLoop()
	a.startBusLogger()

	a.log.Info("casewatch started",
		logx.String("config", a.cfgPath),
		logx.Bool("reminder_enabled", cfg.Reminder.Enabled),
	)
	return nil
}

// Stop tears components down in reverse start order. Safe to call more
// than once.
func (a *App) Stop() {
	a.stopOnce.Do(a.stop)
}

func (a *App) stop() {
	if a.sup != nil {
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := a.sup.Stop(sctx); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("supervisor stop", logx.Err(err))
		}
		cancel()
	}

	a.mu.Lock()
	svc := a.svc
	a.svc = nil
	a.mu.Unlock()
	if svc != nil {
		svc.Stop()
	}

	if a.store != nil {
		if err := a.store.Close(); err != nil && !errors.Is(err, storage.ErrClosed) {
			a.log.Warn("storage close", logx.Err(err))
		}
	}

	a.log.Info("casewatch stopped")
	a.closeLogging()
}

func (a *App) closeLogging() {
	if a.logSvc != nil {
		_ = a.logSvc.Close()
	}
}

// startReloadLoop applies validated config changes published by the
// watcher: logging swaps in place, the reminder service is rebuilt only
// when its sections actually changed.
func (a *App) startReloadLoop() {
	ch := a.manager.Subscribe(4)
	a.sup.Go0("config.reload", func(ctx context.Context) {
		defer a.manager.Unsubscribe(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case cfg, ok := <-ch:
				if !ok {
					return
				}
				if cfg == nil {
					continue
				}
				a.logSvc.Apply(logx.Config{
					Level:   cfg.Logging.Level,
					Console: cfg.Logging.Console,
					File: logx.FileConfig{
						Enabled: cfg.Logging.File.Enabled,
						Path:    cfg.Logging.File.Path,
					},
				})
				if err := a.applyConfig(ctx, cfg); err != nil {
					a.log.Error("config reload rejected", logx.Err(err))
				}
			}
		}
	})
}

// startBusLogger drains reminder events into the debug log so outcomes
// are visible even when the reminder logger itself is tuned down.
func (a *App) startBusLogger() {
	events, unsub := a.bus.Subscribe(64)
	log := a.log.With(logx.String("service", "events"))
	a.sup.Go0("events.log", func(ctx context.Context) {
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				log.Debug("event", logx.String("type", ev.Type), logx.Any("data", ev.Data))
			}
		}
	})
}

// reminderSections serializes the config sections the reminder service
// depends on, so reloads that only touch logging don't restart it.
func reminderSections(cfg *config.Config) string {
	b, _ := json.Marshal(struct {
		R config.ReminderConfig  `json:"r"`
		M config.MailConfig      `json:"m"`
		T *config.TelegramConfig `json:"t"`
	}{cfg.Reminder, cfg.Mail, cfg.Telegram})
	return string(b)
}

func (a *App) applyConfig(ctx context.Context, cfg *config.Config) error {
	hash := reminderSections(cfg)

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.svc != nil && hash == a.svcHash {
		return nil
	}

	if a.svc != nil {
		a.svc.Stop()
		a.svc = nil
	}
	a.svcHash = hash

	if !cfg.Reminder.Enabled {
		a.log.Info("reminder scheduler disabled by config")
		return nil
	}

	rcfg, err := buildReminderConfig(cfg)
	if err != nil {
		return err
	}
	sender, err := a.buildSender(cfg)
	if err != nil {
		return err
	}

	svc, err := reminder.New(rcfg, reminder.Deps{
		Settings: a.store,
		Cases:    a.store,
		Ledger:   a.store,
		Sender:   sender,
		Bus:      a.bus,
		Log:      a.log,
	})
	if err != nil {
		return err
	}
	if err := svc.Start(ctx); err != nil {
		return err
	}
	a.svc = svc
	return nil
}

func (a *App) buildSender(cfg *config.Config) (notify.Sender, error) {
	mailer, err := notify.NewMailer(mailOptions(cfg.Mail), a.log.With(logx.String("service", "mail")))
	if err != nil {
		return nil, err
	}

	var mirrors []notify.Sender
	if t := cfg.Telegram; t != nil && strings.TrimSpace(t.Token) != "" {
		mirror, err := notify.NewTelegramMirror(t.Token, t.ChatID, a.log.With(logx.String("service", "telegram")))
		if err != nil {
			// The mirror is optional; a bad token must not block reminders.
			a.log.Warn("telegram mirror unavailable", logx.Err(err))
		} else {
			mirrors = append(mirrors, mirror)
		}
	}
	if len(mirrors) == 0 {
		return mailer, nil
	}
	return notify.NewFanout(mailer, a.log, mirrors...), nil
}

func mailOptions(mc config.MailConfig) notify.MailOptions {
	sendTimeout, _ := config.ParseDurationOrDefault("mail.send_timeout", mc.SendTimeout, 10*time.Second)
	return notify.MailOptions{
		Host:        mc.Host,
		Port:        mc.Port,
		Username:    mc.Username,
		Password:    mc.Password,
		TLSPolicy:   mc.TLSPolicy,
		SendTimeout: sendTimeout,
		RatePerSec:  mc.RatePerSec,
	}
}

func buildReminderConfig(cfg *config.Config) (reminder.Config, error) {
	rc := cfg.Reminder

	interval, err := config.ParseDurationOrDefault("reminder.interval", rc.Interval, time.Hour)
	if err != nil {
		return reminder.Config{}, err
	}
	lead, err := config.ParseDurationOrDefault("reminder.lead", rc.Lead, 24*time.Hour)
	if err != nil {
		return reminder.Config{}, err
	}
	window, err := config.ParseDurationOrDefault("reminder.window", rc.Window, interval)
	if err != nil {
		return reminder.Config{}, err
	}
	initialDelay, err := config.ParseDurationOrDefault("reminder.initial_delay", rc.InitialDelay, 5*time.Second)
	if err != nil {
		return reminder.Config{}, err
	}
	retention, err := config.ParseDurationField("reminder.marker_retention", rc.MarkerRetention)
	if err != nil {
		return reminder.Config{}, err
	}
	if window > lead {
		return reminder.Config{}, fmt.Errorf("reminder: window %s exceeds lead %s", window, lead)
	}

	loc := time.Local
	if tz := strings.TrimSpace(rc.Timezone); tz != "" {
		loc, err = time.LoadLocation(tz)
		if err != nil {
			return reminder.Config{}, fmt.Errorf("reminder.timezone: %w", err)
		}
	}

	return reminder.Config{
		Interval:        interval,
		Lead:            lead,
		Window:          window,
		InitialDelay:    initialDelay,
		MarkerRetention: retention,
		Location:        loc,
	}, nil
}

// validateConfig is the watcher's pre-commit hook: a bad edit is logged
// and ignored, and the last good config stays in effect.
func validateConfig(_ context.Context, cfg *config.Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if _, err := buildReminderConfig(cfg); err != nil {
		return err
	}
	if cfg.Reminder.Enabled && strings.TrimSpace(cfg.Mail.Host) == "" {
		return errors.New("mail.host is required when the reminder scheduler is enabled")
	}
	return nil
}

func parseBusyTimeout(raw string) time.Duration {
	d, err := config.ParseDurationField("storage.busy_timeout", raw)
	if err != nil {
		return 0
	}
	return d
}
