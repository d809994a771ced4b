// Package mcpserver exposes the support pipeline as MCP tools.
package mcpserver

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"support-bot/internal/ingest"
	"support-bot/internal/reconcile"
	"support-bot/internal/resolver"
	"support-bot/internal/store"
)

type AskParams struct {
	Query  string `json:"query" mcp:"the customer's question"`
	UserID string `json:"user_id,omitempty" mcp:"identifier of the asking user, used when the question is escalated"`
}

type IngestParams struct {
	Text string `json:"text" mcp:"source-of-truth announcement text to remember"`
}

type ReprocessParams struct{}

type ListPendingParams struct{}

type Resolver interface {
	Resolve(ctx context.Context, q resolver.Query) resolver.Result
}

type Store interface {
	AppendMessage(text string) (bool, error)
	Unanswered() (store.Unanswered, error)
}

type Reconciler interface {
	RunOnce(ctx context.Context) (reconcile.Report, error)
}

type SupportServer struct {
	resolver   Resolver
	store      Store
	reconciler Reconciler
}

func New(res Resolver, st Store, rec Reconciler) *SupportServer {
	return &SupportServer{resolver: res, store: st, reconciler: rec}
}

// Register adds every support tool to server.
func (s *SupportServer) Register(server *mcp.Server) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "ask_support",
		Description: "Answers a customer question from the answer cache, ingested announcements and the knowledge base; defers to the team when unsure",
	}, s.Ask)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "ingest_message",
		Description: "Stores a source-of-truth announcement so future questions can be answered from it",
	}, s.Ingest)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "reprocess_unanswered",
		Description: "Re-attempts every pending question and reports how many remain unresolved",
	}, s.Reprocess)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_pending",
		Description: "Lists questions waiting for an answer from the team",
	}, s.ListPending)
	log.Printf("📋 Registered support MCP tools: ask_support, ingest_message, reprocess_unanswered, list_pending")
}

func (s *SupportServer) Ask(ctx context.Context, _ *mcp.ServerSession, params *mcp.CallToolParamsFor[AskParams]) (*mcp.CallToolResultFor[any], error) {
	args := params.Arguments
	if strings.TrimSpace(args.Query) == "" {
		return errorResult("❌ query is required"), nil
	}
	userID := args.UserID
	if userID == "" {
		userID = "mcp"
	}
	res := s.resolver.Resolve(ctx, resolver.Query{Text: args.Query, UserID: userID, Channel: "mcp"})
	return &mcp.CallToolResultFor[any]{
		Content: []mcp.Content{&mcp.TextContent{Text: res.Answer}},
		Meta: map[string]interface{}{
			"uncertain":  res.Uncertain,
			"source":     string(res.Source),
			"band":       string(res.Band),
			"confidence": res.Confidence,
		},
	}, nil
}

func (s *SupportServer) Ingest(_ context.Context, _ *mcp.ServerSession, params *mcp.CallToolParamsFor[IngestParams]) (*mcp.CallToolResultFor[any], error) {
	text := strings.TrimSpace(params.Arguments.Text)
	if text == "" {
		return errorResult("❌ text is required"), nil
	}
	added, err := s.store.AppendMessage(text)
	if err != nil {
		return errorResult(fmt.Sprintf("❌ Failed to store message: %v", err)), nil
	}
	msg := "ℹ️ Message already stored"
	if added {
		msg = "✅ Message stored: " + ingest.Preview(text, 50)
	}
	return &mcp.CallToolResultFor[any]{
		Content: []mcp.Content{&mcp.TextContent{Text: msg}},
		Meta:    map[string]interface{}{"added": added},
	}, nil
}

func (s *SupportServer) Reprocess(ctx context.Context, _ *mcp.ServerSession, _ *mcp.CallToolParamsFor[ReprocessParams]) (*mcp.CallToolResultFor[any], error) {
	rep, err := s.reconciler.RunOnce(ctx)
	if err != nil {
		return errorResult(fmt.Sprintf("❌ Reprocessing failed: %v", err)), nil
	}
	return &mcp.CallToolResultFor[any]{
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("Reprocessed unanswered queries. Currently unresolved: %d", rep.Unresolved)}},
		Meta: map[string]interface{}{
			"checked":    rep.Checked,
			"from_log":   rep.FromLog,
			"from_agent": rep.FromAgent,
			"unresolved": rep.Unresolved,
		},
	}, nil
}

func (s *SupportServer) ListPending(_ context.Context, _ *mcp.ServerSession, _ *mcp.CallToolParamsFor[ListPendingParams]) (*mcp.CallToolResultFor[any], error) {
	queue, err := s.store.Unanswered()
	if err != nil {
		return errorResult(fmt.Sprintf("❌ Failed to load pending queries: %v", err)), nil
	}
	entries := make([]store.PendingEntry, 0, len(queue))
	for _, e := range queue {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Query < entries[j].Query })

	var b strings.Builder
	fmt.Fprintf(&b, "Pending queries: %d\n", len(entries))
	for _, e := range entries {
		fmt.Fprintf(&b, "- %q (user %s)\n", e.Query, e.UserID)
	}
	return &mcp.CallToolResultFor[any]{
		Content: []mcp.Content{&mcp.TextContent{Text: b.String()}},
		Meta:    map[string]interface{}{"pending": entries},
	}, nil
}

func errorResult(text string) *mcp.CallToolResultFor[any] {
	return &mcp.CallToolResultFor[any]{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}
