package telegram

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"support-bot/internal/ingest"
	"support-bot/internal/resolver"
	"support-bot/internal/storage"
)

const (
	startText = "👋 Hi! Ask me anything about the product and I'll answer from the docs and the latest announcements. " +
		"If I'm not sure, the team will follow up."
	adminOnlyText = "❌ This command is available to the administrator only."
	ackPreviewLen = 50
)

// handleSourceMessage stores a source-of-truth message and acknowledges it.
func (b *Bot) handleSourceMessage(msg *tgbotapi.Message) {
	text := messageText(msg)
	if text == "" {
		return
	}
	added, err := b.store.AppendMessage(text)
	if err != nil {
		log.Printf("❌ Failed to store source message: %v", err)
		b.sendMessage(msg.Chat.ID, "Error processing message. Please try again.", msg.MessageID)
		return
	}
	if !added {
		log.Printf("ℹ️ Source message already stored: %q", ingest.Preview(text, ackPreviewLen))
		return
	}
	b.sendMessage(msg.Chat.ID, "✅ Message stored: "+ingest.Preview(text, ackPreviewLen), msg.MessageID)
}

func (b *Bot) handleQuestion(ctx context.Context, msg *tgbotapi.Message) {
	text := messageText(msg)
	userID := strconv.FormatInt(msg.From.ID, 10)
	log.Printf("Incoming question from %s (@%s): %q", userID, msg.From.UserName, text)

	res := b.resolver.Resolve(ctx, resolver.Query{Text: text, UserID: userID, Channel: "telegram"})
	b.sendMessage(msg.Chat.ID, res.Answer, msg.MessageID)

	if b.recorder != nil && strings.TrimSpace(text) != "" {
		ev := storage.Event{
			Timestamp:  b.now(),
			UserID:     userID,
			Channel:    "telegram",
			Query:      text,
			Answer:     res.Answer,
			Source:     string(res.Source),
			Band:       string(res.Band),
			Confidence: res.Confidence,
			Uncertain:  res.Uncertain,
		}
		if err := b.recorder.AppendInteraction(ev); err != nil {
			log.Printf("⚠️ Failed to record interaction: %v", err)
		}
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "reprocess", "pending", "report":
	default:
		b.sendMessage(msg.Chat.ID, startText, 0)
		return
	}

	if msg.From.ID != b.adminUserID {
		b.sendMessage(msg.Chat.ID, adminOnlyText, 0)
		return
	}
	switch msg.Command() {
	case "reprocess":
		b.handleReprocess(ctx, msg)
	case "pending":
		b.handlePending(msg)
	case "report":
		b.handleReport(ctx, msg)
	}
}

func (b *Bot) handleReprocess(ctx context.Context, msg *tgbotapi.Message) {
	if b.reconciler == nil {
		b.sendMessage(msg.Chat.ID, "Reprocessing is not configured.", 0)
		return
	}
	rep, err := b.reconciler.RunOnce(ctx)
	if err != nil {
		log.Printf("❌ Manual reprocess failed: %v", err)
		b.sendMessage(msg.Chat.ID, fmt.Sprintf("❌ Reprocessing failed: %v", err), 0)
		return
	}
	b.sendMessage(msg.Chat.ID, fmt.Sprintf("Reprocessed unanswered queries. Currently unresolved: %d", rep.Unresolved), 0)
}

func (b *Bot) handlePending(msg *tgbotapi.Message) {
	queue, err := b.store.Unanswered()
	if err != nil {
		b.sendMessage(msg.Chat.ID, fmt.Sprintf("❌ Failed to load pending queries: %v", err), 0)
		return
	}
	if len(queue) == 0 {
		b.sendMessage(msg.Chat.ID, "No pending queries 🎉", 0)
		return
	}
	keys := make([]string, 0, len(queue))
	for k := range queue {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var bld strings.Builder
	fmt.Fprintf(&bld, "Pending queries (%d):\n", len(queue))
	for _, k := range keys {
		e := queue[k]
		fmt.Fprintf(&bld, "- %q from user %s\n", e.Query, e.UserID)
	}
	b.sendMessage(msg.Chat.ID, bld.String(), 0)
}

func (b *Bot) handleReport(ctx context.Context, msg *tgbotapi.Message) {
	if b.report == nil {
		b.sendMessage(msg.Chat.ID, "Reports are not configured.", 0)
		return
	}
	text, err := b.report(ctx)
	if err != nil {
		log.Printf("❌ Report generation failed: %v", err)
		b.sendMessage(msg.Chat.ID, fmt.Sprintf("❌ Report generation failed: %v", err), 0)
		return
	}
	b.sendMessage(msg.Chat.ID, text, 0)
}

func (b *Bot) sendMessage(chatID int64, text string, replyTo int) {
	if b.parseMode != "" {
		text = tgbotapi.EscapeText(b.parseMode, text)
	}
	m := tgbotapi.NewMessage(chatID, text)
	m.ParseMode = b.parseMode
	m.ReplyToMessageID = replyTo
	if _, err := b.s.Send(m); err != nil {
		log.Printf("failed to send message: %v", err)
	}
}

func messageText(msg *tgbotapi.Message) string {
	if t := strings.TrimSpace(msg.Text); t != "" {
		return t
	}
	return strings.TrimSpace(msg.Caption)
}
