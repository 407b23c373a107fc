package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"castbot/internal/bot"
	"castbot/internal/broadcast"
	"castbot/internal/broadcast/history"
	"castbot/internal/config"
	"castbot/internal/scheduler"
	"castbot/internal/store"
	"castbot/internal/transport/telegram"
	"castbot/pkg/logx"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.json", "path to config file (json or yaml)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfgPath); err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfgPath string) error {
	boot := logx.NewConsole("info")

	cfgMgr := config.NewManager(cfgPath, boot)
	cfg, err := cfgMgr.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
	})
	defer logSvc.Close()

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return err
	}
	adapter, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, log.With(logx.String("svc", "telegram")))
	if err != nil {
		return fmt.Errorf("telegram adapter: %w", err)
	}

	loc := cfg.Location()
	posts := store.NewPosts(cfg.PostsPath(), log.With(logx.String("svc", "store")))
	groups := store.NewGroups(cfg.GroupsPath(), log.With(logx.String("svc", "store")))

	hist, err := history.Open(cfg.HistoryPath(), log.With(logx.String("svc", "history")))
	if err != nil {
		return fmt.Errorf("history store: %w", err)
	}
	defer hist.Close()

	sched := scheduler.New(loc, log.With(logx.String("svc", "scheduler")))
	sched.Start(ctx)
	defer sched.Stop(context.Background())

	exec := broadcast.New(broadcast.Config{
		RatePerSec:       cfg.Broadcast.RatePerSec,
		MaxReportReasons: cfg.Broadcast.MaxReportReasons,
	}, adapter, groups, sched, hist, log.With(logx.String("svc", "broadcast")))

	app := bot.New(bot.Deps{
		Log:     log,
		LogSvc:  logSvc,
		Adapter: adapter,
		Posts:   posts,
		Groups:  groups,
		Sched:   sched,
		Exec:    exec,
		Hist:    hist,
		Loc:     loc,
	}, cfg.Operators)

	// Re-arm stored jobs before any update is consumed.
	app.Restore(time.Now().In(loc))

	cfgCh := cfgMgr.Subscribe(1)
	defer cfgMgr.Unsubscribe(cfgCh)
	go func() {
		if err := cfgMgr.Watch(ctx); err != nil {
			log.Warn("config watch ended", logx.Err(err))
		}
	}()

	log.Info("castbot up",
		logx.String("tz", loc.String()),
		logx.Int("operators", len(cfg.Operators)),
		logx.String("posts", cfg.PostsPath()))

	return app.Run(ctx, cfgCh)
}
