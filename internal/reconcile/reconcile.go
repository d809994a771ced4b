package reconcile

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"

	"support-bot/internal/notify"
	"support-bot/internal/resolver"
	"support-bot/internal/store"
)

// Store is the part of store.Store the loop needs.
type Store interface {
	Unanswered() (store.Unanswered, error)
	Messages() ([]string, error)
	ResolvePending(query, answer string) (bool, error)
}

// Answerer produces a draft answer with its confidence for a query.
type Answerer interface {
	SimulateAgentAnswer(ctx context.Context, query string) resolver.Attempt
}

// Report summarizes one reconciliation cycle.
type Report struct {
	Checked    int
	FromLog    int
	FromAgent  int
	Unresolved int
}

func (r Report) Resolved() int { return r.FromLog + r.FromAgent }

type Reconciler struct {
	store    Store
	answerer Answerer
	notifier notify.Notifier
	// A drafted answer resolves a pending query when its confidence is at
	// least MinConfidence. Zero accepts any non-empty draft.
	minConfidence float64

	mu sync.Mutex
}

func New(st Store, answerer Answerer, notifier notify.Notifier, minConfidence float64) *Reconciler {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Reconciler{store: st, answerer: answerer, notifier: notifier, minConfidence: minConfidence}
}

// RunOnce re-attempts every pending query against a single snapshot of the
// queue and the message log, then reports the unresolved count to the
// escalation channel. Overlapping calls run one after another.
func (r *Reconciler) RunOnce(ctx context.Context) (Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	queue, err := r.store.Unanswered()
	if err != nil {
		return Report{}, fmt.Errorf("load pending queue: %w", err)
	}
	messages, err := r.store.Messages()
	if err != nil {
		return Report{}, fmt.Errorf("load message log: %w", err)
	}

	keys := make([]string, 0, len(queue))
	for k := range queue {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var rep Report
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		entry := queue[key]
		query := entry.Query
		if query == "" {
			query = key
		}
		rep.Checked++

		if msg, ok := resolver.FindInLog(query, messages); ok {
			if r.resolve(ctx, query, msg, fmt.Sprintf("📬 Pending query %q now matches an ingested message:\n%s", query, msg)) {
				rep.FromLog++
			} else {
				rep.Unresolved++
			}
			continue
		}

		at := r.answerer.SimulateAgentAnswer(ctx, query)
		if at.Answer == "" || at.Confidence < r.minConfidence {
			rep.Unresolved++
			continue
		}
		if r.resolve(ctx, query, at.Answer, fmt.Sprintf("✅ Pending query %q resolved (confidence %.2f):\n%s", query, at.Confidence, at.Answer)) {
			rep.FromAgent++
		} else {
			rep.Unresolved++
		}
	}

	log.Printf("🔁 Reconciliation cycle: checked=%d from_log=%d from_agent=%d unresolved=%d",
		rep.Checked, rep.FromLog, rep.FromAgent, rep.Unresolved)
	notify.Send(ctx, r.notifier, fmt.Sprintf("📋 Current unresolved queries count: %d. Please review these questions in the knowledge base.", rep.Unresolved))
	return rep, nil
}

// resolve reports false only when the store write failed; an entry already
// removed by the live pipeline still counts as resolved.
func (r *Reconciler) resolve(ctx context.Context, query, answer, note string) bool {
	if _, err := r.store.ResolvePending(query, answer); err != nil {
		log.Printf("⚠️ Failed to resolve pending query %q: %v", query, err)
		return false
	}
	notify.Send(ctx, r.notifier, note)
	return true
}
