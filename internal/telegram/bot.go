package telegram

import (
	"context"
	"log"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"support-bot/internal/reconcile"
	"support-bot/internal/resolver"
	"support-bot/internal/storage"
	"support-bot/internal/store"
)

type Resolver interface {
	Resolve(ctx context.Context, q resolver.Query) resolver.Result
}

// MessageStore is the part of the store the chat layer touches directly.
type MessageStore interface {
	AppendMessage(text string) (bool, error)
	Unanswered() (store.Unanswered, error)
}

type Reconciler interface {
	RunOnce(ctx context.Context) (reconcile.Report, error)
}

type Options struct {
	AdminUserID int64
	// Messages posted in SourceChatID are ingested instead of answered.
	SourceChatID int64
	// Staff discuss escalations in EscalationChatID; only commands are handled there.
	EscalationChatID int64
	ParseMode        string
	Recorder         storage.Recorder
	// Report renders the daily support report for /report.
	Report func(ctx context.Context) (string, error)
}

type Bot struct {
	api *tgbotapi.BotAPI
	s   sender

	resolver   Resolver
	store      MessageStore
	reconciler Reconciler
	recorder   storage.Recorder
	report     func(ctx context.Context) (string, error)

	adminUserID      int64
	sourceChatID     int64
	escalationChatID int64
	parseMode        string
	now              func() time.Time
}

func New(api *tgbotapi.BotAPI, res Resolver, st MessageStore, rec Reconciler, opts Options) *Bot {
	log.Printf("🤖 Authorized on account @%s", api.Self.UserName)
	b := newBot(botAPISender{api: api}, res, st, rec, opts)
	b.api = api
	return b
}

func newBot(s sender, res Resolver, st MessageStore, rec Reconciler, opts Options) *Bot {
	return &Bot{
		s:                s,
		resolver:         res,
		store:            st,
		reconciler:       rec,
		recorder:         opts.Recorder,
		report:           opts.Report,
		adminUserID:      opts.AdminUserID,
		sourceChatID:     opts.SourceChatID,
		escalationChatID: opts.EscalationChatID,
		parseMode:        opts.ParseMode,
		now:              func() time.Time { return time.Now().UTC() },
	}
}

// Start consumes updates until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			log.Println("🤖 Bot stopped receiving updates")
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil {
		msg = update.ChannelPost
	}
	if msg == nil || msg.Chat == nil {
		return
	}
	if msg.From != nil && msg.From.IsBot {
		return
	}

	if b.sourceChatID != 0 && msg.Chat.ID == b.sourceChatID {
		b.handleSourceMessage(msg)
		return
	}
	if msg.From == nil {
		return
	}
	if msg.IsCommand() {
		b.handleCommand(ctx, msg)
		return
	}
	if b.escalationChatID != 0 && msg.Chat.ID == b.escalationChatID {
		return
	}
	// stickers, photos and the like carry no question in group chats
	if messageText(msg) == "" && !msg.Chat.IsPrivate() {
		return
	}
	b.handleQuestion(ctx, msg)
}
