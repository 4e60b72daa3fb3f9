package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gopkg.in/telebot.v3"

	"github.com/okpulse/dogfeeder-bot/internal/access"
	"github.com/okpulse/dogfeeder-bot/internal/bot"
	"github.com/okpulse/dogfeeder-bot/internal/config"
	"github.com/okpulse/dogfeeder-bot/internal/logger"
	"github.com/okpulse/dogfeeder-bot/internal/notify"
	"github.com/okpulse/dogfeeder-bot/internal/ops"
	"github.com/okpulse/dogfeeder-bot/internal/scheduler"
	"github.com/okpulse/dogfeeder-bot/internal/store"
	"github.com/okpulse/dogfeeder-bot/internal/timer"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	zl, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer zl.Sync()

	st, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		zl.Fatal("open store", zap.Error(err))
	}

	var poller telebot.Poller
	if cfg.RunMode == "webhook" {
		poller = &telebot.Webhook{
			Listen: fmt.Sprintf(":%d", cfg.Port),
			Endpoint: &telebot.WebhookEndpoint{
				PublicURL: cfg.WebhookURL + cfg.WebhookPath,
			},
		}
	} else {
		poller = &telebot.LongPoller{Timeout: 10 * time.Second}
	}

	b, err := telebot.NewBot(telebot.Settings{
		Token:  cfg.BotToken,
		Poller: poller,
	})
	if err != nil {
		zl.Fatal("create bot", zap.Error(err))
	}

	acl := access.New(cfg.AllowedUsersFile, zl)
	nt := notify.New(b, st, zl)

	tm, err := timer.New(nt, zl)
	if err != nil {
		zl.Fatal("create feeding timer", zap.Error(err))
	}

	sch, err := scheduler.New(st, nt, zl, cfg.CatchUpPastDue)
	if err != nil {
		zl.Fatal("create scheduler", zap.Error(err))
	}

	opsSrv := ops.NewServer(cfg.HTTPAddr, zl)
	opsSrv.Start()

	app := bot.New(b, st, tm, sch, nt, acl, zl, cfg.DefaultTZ)
	app.SetupHandlers()

	if err := sch.Initialize(); err != nil {
		zl.Error("scheduler initialize", zap.Error(err))
	}

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		s := <-sig
		zl.Info("shutting down", zap.String("signal", s.String()))

		tm.StopAllTimers()
		if err := tm.Shutdown(); err != nil {
			zl.Warn("timer shutdown", zap.Error(err))
		}
		if err := sch.Cleanup(); err != nil {
			zl.Warn("scheduler cleanup", zap.Error(err))
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := opsSrv.Shutdown(ctx); err != nil {
			zl.Warn("ops server shutdown", zap.Error(err))
		}
		if err := st.Close(); err != nil {
			zl.Warn("close store", zap.Error(err))
		}
		b.Stop()
	}()

	zl.Info("bot started",
		zap.String("mode", cfg.RunMode),
		zap.String("db", cfg.DatabaseURL),
		zap.Int("allowed_users", acl.Count()))
	b.Start()
}
