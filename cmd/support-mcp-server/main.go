package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"support-bot/internal/app"
	"support-bot/internal/config"
	"support-bot/internal/mcpserver"
	"support-bot/internal/notify"
)

func main() {
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Warning: .env file not found: %v", err)
	}
	log.Printf("🚀 Starting support MCP server")

	cfg := config.New()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var notifiers []notify.Notifier
	if cfg.TelegramBotToken != "" && cfg.EscalationChatID != 0 {
		api, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
		if err != nil {
			log.Printf("⚠️ Telegram escalation disabled: %v", err)
		} else {
			notifiers = append(notifiers, notify.NewTelegram(api, cfg.EscalationChatID))
		}
	}

	a, err := app.New(ctx, cfg, nil, notifiers...)
	if err != nil {
		log.Fatalf("❌ Failed to init support pipeline: %v", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Printf("failed to close store: %v", err)
		}
	}()

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "support-bot-mcp",
		Version: "1.0.0",
	}, nil)
	mcpserver.New(a.Pipeline, a.Store, a.Reconciler).Register(server)

	log.Printf("🔗 Starting support MCP server on stdin/stdout...")
	if err := server.Run(ctx, mcp.NewStdioTransport()); err != nil && ctx.Err() == nil {
		log.Fatalf("❌ Support MCP server failed: %v", err)
	}
}
