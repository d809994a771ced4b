package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"

	"support-bot/internal/app"
	"support-bot/internal/config"
	"support-bot/internal/notify"
	"support-bot/internal/scheduler"
	"support-bot/internal/telegram"
)

func main() {
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Warning: .env file not found: %v", err)
	}

	cfg := config.New()
	if cfg.TelegramBotToken == "" {
		log.Fatal("TELEGRAM_BOT_TOKEN is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	api, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		log.Fatalf("failed to create telegram client: %v", err)
	}

	var notifiers []notify.Notifier
	if cfg.EscalationChatID != 0 {
		notifiers = append(notifiers, notify.NewTelegram(api, cfg.EscalationChatID))
	} else {
		log.Println("⚠️ ESCALATION_CHAT_ID is not set, escalations go to the webhook only")
	}

	a, err := app.New(ctx, cfg, nil, notifiers...)
	if err != nil {
		log.Fatalf("failed to init support bot: %v", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Printf("failed to close store: %v", err)
		}
	}()

	sched := scheduler.New()
	if err := a.Schedule(sched); err != nil {
		log.Fatalf("failed to schedule jobs: %v", err)
	}
	sched.Start()
	defer sched.Stop()

	bot := telegram.New(api, a.Pipeline, a.Store, a.Reconciler, telegram.Options{
		AdminUserID:      cfg.AdminUserID,
		SourceChatID:     cfg.SourceChatID,
		EscalationChatID: cfg.EscalationChatID,
		ParseMode:        cfg.MessageParseMode,
		Recorder:         a.Recorder,
		Report:           a.DailyReport,
	})
	log.Println("🚀 Support bot started")
	bot.Start(ctx)
}
