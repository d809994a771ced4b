// Package app assembles the support bot from configuration.
package app

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"support-bot/internal/analytics"
	"support-bot/internal/config"
	"support-bot/internal/evaluator"
	"support-bot/internal/ingest"
	"support-bot/internal/llm"
	"support-bot/internal/notify"
	"support-bot/internal/profile"
	"support-bot/internal/reconcile"
	"support-bot/internal/resolver"
	"support-bot/internal/retrieval"
	"support-bot/internal/scheduler"
	"support-bot/internal/storage"
	"support-bot/internal/store"
)

type App struct {
	Config     *config.Config
	Store      *store.Store
	Pipeline   *resolver.Pipeline
	Reconciler *reconcile.Reconciler
	Ingester   *ingest.Ingester
	Sources    []ingest.Source
	// Recorder is nil when the interaction log is disabled.
	Recorder storage.Recorder
	Notifier notify.Notifier

	now func() time.Time
}

// New wires every component. notifiers receive escalations in addition to
// the configured webhook. llmClient may be nil, in which case it is created
// from cfg.
func New(ctx context.Context, cfg *config.Config, llmClient llm.Client, notifiers ...notify.Notifier) (*App, error) {
	prof, err := profile.Load(cfg.ProfilePath)
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}

	st, err := OpenStore(cfg)
	if err != nil {
		return nil, err
	}

	if llmClient == nil {
		llmClient, err = llm.NewFactory(cfg).CreateClient(cfg.LLMProvider)
		if err != nil {
			// Every answer is deferred to the team until the provider is fixed.
			log.Printf("⚠️ LLM client unavailable, answers will be escalated: %v", err)
		}
	}

	if cfg.EscalationWebhook != "" {
		notifiers = append(notifiers, notify.NewWebhook(cfg.EscalationWebhook))
	}
	var n notify.Notifier = notify.Nop{}
	if len(notifiers) > 0 {
		n = notify.Multi(notifiers)
	}

	retr := retrieval.New(prof.RetrievalConfig())
	eval := evaluator.New(llmClient, prof.EvaluatorPersona(), cfg.LLMTimeout)
	kb := retrieval.NewKnowledgeBase(cfg.KnowledgePaths...)
	pipeline := resolver.New(st, retr, eval, kb, n, prof.ResolverPolicy(cfg.CacheMinConfidence))

	a := &App{
		Config:     cfg,
		Store:      st,
		Pipeline:   pipeline,
		Reconciler: reconcile.New(st, pipeline, n, cfg.ReconcileMinConfidence),
		Ingester:   ingest.New(st),
		Sources:    buildSources(ctx, cfg),
		Notifier:   n,
		now:        func() time.Time { return time.Now().UTC() },
	}
	if cfg.LogFilePath != "" {
		rec, err := storage.NewFileRecorder(cfg.LogFilePath)
		if err != nil {
			log.Printf("failed to init file recorder: %v", err)
		} else {
			a.Recorder = rec
		}
	}
	return a, nil
}

// OpenStore opens the configured persistence backend.
func OpenStore(cfg *config.Config) (*store.Store, error) {
	var (
		b   store.Backend
		err error
	)
	switch cfg.StoreBackend {
	case config.BackendSQLite:
		b, err = store.NewSQLiteBackend(cfg.SQLitePath)
	case config.BackendFile, "":
		b, err = store.NewFileBackend(map[string]string{
			store.DocAnswers:    cfg.AnswersFilePath,
			store.DocMessages:   cfg.MessagesFilePath,
			store.DocUnanswered: cfg.UnansweredFilePath,
		})
	default:
		return nil, fmt.Errorf("unknown store backend: %s", cfg.StoreBackend)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.StoreBackend, err)
	}
	st := store.New(b, cfg.MessageLogCap)
	if _, err := st.Load(); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("load store: %w", err)
	}
	return st, nil
}

func buildSources(ctx context.Context, cfg *config.Config) []ingest.Source {
	var sources []ingest.Source
	for _, u := range cfg.FeedURLs {
		if u != "" {
			sources = append(sources, ingest.NewFeedSource(u))
		}
	}
	creds := cfg.GmailCredentialsJSON
	if creds == "" && cfg.GmailCredentialsPath != "" {
		data, err := os.ReadFile(cfg.GmailCredentialsPath)
		if err != nil {
			log.Printf("⚠️ Gmail credentials unreadable at %s: %v", cfg.GmailCredentialsPath, err)
		}
		creds = string(data)
	}
	if creds != "" && cfg.GmailRefreshToken != "" {
		src, err := ingest.NewGmailSource(ctx, creds, cfg.GmailRefreshToken, cfg.GmailIngestQuery)
		if err != nil {
			log.Printf("⚠️ Gmail ingestion disabled: %v", err)
		} else {
			sources = append(sources, src)
		}
	}
	return sources
}

// DailyReport renders today's support report.
func (a *App) DailyReport(ctx context.Context) (string, error) {
	if a.Recorder == nil {
		return "", fmt.Errorf("interaction log is disabled")
	}
	queue, err := a.Store.Unanswered()
	if err != nil {
		return "", fmt.Errorf("load pending queue: %w", err)
	}
	return analytics.DailyReport(a.Recorder, a.now(), len(queue))
}

// Schedule registers the background jobs: reconciliation, the daily report
// and one ingestion job per source.
func (a *App) Schedule(s *scheduler.Scheduler) error {
	cfg := a.Config
	if err := s.AddJob("reconcile", cfg.ReconcileSchedule, func(ctx context.Context) error {
		_, err := a.Reconciler.RunOnce(ctx)
		return err
	}); err != nil {
		return err
	}
	if a.Recorder != nil {
		if err := s.AddJob("daily-report", cfg.ReportSchedule, func(ctx context.Context) error {
			text, err := a.DailyReport(ctx)
			if err != nil {
				return err
			}
			return a.Notifier.Notify(ctx, text)
		}); err != nil {
			return err
		}
	}
	for _, src := range a.Sources {
		spec := cfg.FeedSchedule
		if src.Name() == "gmail" {
			spec = cfg.GmailSchedule
		}
		if err := s.AddJob("ingest "+src.Name(), spec, a.Ingester.Job(src)); err != nil {
			return err
		}
	}
	return nil
}

// Close waits for pending notifications and closes the store.
func (a *App) Close() error {
	a.Pipeline.Wait()
	return a.Store.Close()
}
