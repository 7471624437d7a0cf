package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/joho/godotenv"

	"botcast/internal/campaigns"
	"botcast/internal/config"
	"botcast/internal/dispatch"
	"botcast/internal/httpapi"
	"botcast/internal/ratelimit"
	"botcast/internal/resolver"
	"botcast/internal/scheduler"
	"botcast/internal/storage"
	"botcast/internal/telegram"
	"botcast/pkg/logx"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config file (json or yaml)")
	flag.Parse()

	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfgPath); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfgPath string) error {
	mgr := config.NewManager(cfgPath)
	cfg, err := mgr.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File:    logx.FileConfig(cfg.Logging.File),
	})
	defer logSvc.Close()
	mgr.SetLogger(log.With(logx.String("comp", "config")))
	mgr.SetValidator(validate)

	dispatchCfg, err := dispatchConfig(cfg)
	if err != nil {
		return err
	}
	schedPoll, err := config.ParseDurationOrDefault("scheduler.poll_every", cfg.Scheduler.PollEvery, 5*time.Second)
	if err != nil {
		return err
	}
	busyTimeout, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return err
	}
	tgTimeout, err := config.ParseDurationOrDefault("telegram.timeout", cfg.Telegram.Timeout, 10*time.Second)
	if err != nil {
		return err
	}

	dsn := cfg.Storage.DSN
	if dsn == "" {
		dsn = os.Getenv("DATABASE_URL")
	}
	store, err := storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		DSN:         dsn,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	sender := telegram.NewClient(telegram.Config{
		APIURL:  cfg.Telegram.APIURL,
		Offline: cfg.Telegram.Offline,
		Timeout: tgTimeout,
	}, log.With(logx.String("comp", "telegram")))

	limiter := ratelimit.New(ratelimit.Config{
		RatePerBot:  cfg.Dispatch.RatePerBot,
		BurstPerBot: cfg.Dispatch.BurstPerBot,
	})

	campaignSvc := campaigns.New(store, log.With(logx.String("comp", "campaigns")))
	dispatcher := dispatch.New(dispatchCfg, store, resolver.New(store), limiter, sender,
		log.With(logx.String("comp", "dispatch")))
	sched := scheduler.New(scheduler.Config{
		Enabled:   cfg.Scheduler.Enabled,
		PollEvery: schedPoll,
	}, store, dispatcher, log.With(logx.String("comp", "scheduler")))
	api := httpapi.NewServer(httpapi.Config{
		Enabled: cfg.HTTP.Enabled,
		Addr:    cfg.HTTP.Addr,
	}, campaignSvc, dispatcher, log.With(logx.String("comp", "http")))

	dispatcher.Start(ctx)
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	if err := api.Start(ctx); err != nil {
		return fmt.Errorf("start http api: %w", err)
	}

	// Hot-reload tunables on config file changes.
	sub := mgr.Subscribe(1)
	defer mgr.Unsubscribe(sub)
	go func() {
		for next := range sub {
			logSvc.Apply(logx.Config{
				Level:   next.Logging.Level,
				Console: next.Logging.Console,
				File:    logx.FileConfig(next.Logging.File),
			})
			limiter.Apply(ratelimit.Config{
				RatePerBot:  next.Dispatch.RatePerBot,
				BurstPerBot: next.Dispatch.BurstPerBot,
			})
			if dc, err := dispatchConfig(next); err == nil {
				dispatcher.Apply(dc)
			}
		}
	}()
	go func() {
		if err := mgr.Watch(ctx); err != nil {
			log.Warn("config watch exited", logx.Err(err))
		}
	}()

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	log.Info("botcast started", logx.String("config", cfgPath))

	<-ctx.Done()
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer stopCancel()
	api.Stop(stopCtx)
	sched.Stop(stopCtx)
	dispatcher.Stop(stopCtx)
	log.Info("botcast stopped")
	return nil
}

func dispatchConfig(cfg *config.Config) (dispatch.Config, error) {
	retryBase, err := config.ParseDurationOrDefault("dispatch.retry_base", cfg.Dispatch.RetryBase, 500*time.Millisecond)
	if err != nil {
		return dispatch.Config{}, err
	}
	retryMaxDelay, err := config.ParseDurationOrDefault("dispatch.retry_max_delay", cfg.Dispatch.RetryMaxDelay, 15*time.Second)
	if err != nil {
		return dispatch.Config{}, err
	}
	timeout, err := config.ParseDurationField("dispatch.campaign_timeout", cfg.Dispatch.CampaignTimeout)
	if err != nil {
		return dispatch.Config{}, err
	}
	return dispatch.Config{
		PerBotWorkers:   cfg.Dispatch.PerBotWorkers,
		GlobalInflight:  cfg.Dispatch.GlobalInflight,
		RetryMax:        cfg.Dispatch.RetryMax,
		RetryBase:       retryBase,
		RetryMaxDelay:   retryMaxDelay,
		CampaignTimeout: timeout,
		SuccessPolicy:   dispatch.SuccessPolicy(cfg.Dispatch.SuccessPolicy),
	}, nil
}

func validate(cfg *config.Config) error {
	if _, err := dispatchConfig(cfg); err != nil {
		return err
	}
	if _, err := config.ParseDurationField("scheduler.poll_every", cfg.Scheduler.PollEvery); err != nil {
		return err
	}
	if _, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
		return err
	}
	if _, err := config.ParseDurationField("telegram.timeout", cfg.Telegram.Timeout); err != nil {
		return err
	}
	return nil
}
