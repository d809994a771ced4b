package analytics

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"support-bot/internal/storage"
)

const topDeferredLimit = 5

// DailyStats summarizes one UTC day of support traffic.
type DailyStats struct {
	Date              string         `json:"date"`
	TotalQueries      int            `json:"total_queries"`
	UniqueUsers       int            `json:"unique_users"`
	Answered          int            `json:"answered"`
	Deferred          int            `json:"deferred"`
	BySource          map[string]int `json:"by_source"`
	AverageConfidence float64        `json:"average_confidence"`
	TopDeferred       []QueryCount   `json:"top_deferred,omitempty"`
}

type QueryCount struct {
	Query string `json:"query"`
	Count int    `json:"count"`
}

// AnalyzeDailyLogs aggregates the events that fall on targetDate.
func AnalyzeDailyLogs(events []storage.Event, targetDate time.Time) *DailyStats {
	startOfDay := time.Date(targetDate.Year(), targetDate.Month(), targetDate.Day(), 0, 0, 0, 0, targetDate.Location())
	endOfDay := startOfDay.Add(24 * time.Hour)

	stats := &DailyStats{
		Date:     startOfDay.Format("2006-01-02"),
		BySource: make(map[string]int),
	}
	users := make(map[string]bool)
	deferred := make(map[string]*QueryCount)
	var confSum float64
	scored := 0

	for _, ev := range events {
		if ev.Timestamp.Before(startOfDay) || !ev.Timestamp.Before(endOfDay) {
			continue
		}
		if strings.TrimSpace(ev.Query) == "" {
			continue
		}
		stats.TotalQueries++
		users[ev.UserID] = true
		if ev.Source != "" {
			stats.BySource[ev.Source]++
		}
		if ev.Confidence > 0 {
			confSum += ev.Confidence
			scored++
		}
		if !ev.Uncertain {
			stats.Answered++
			continue
		}
		stats.Deferred++
		key := strings.ToLower(strings.Join(strings.Fields(ev.Query), " "))
		qc, ok := deferred[key]
		if !ok {
			qc = &QueryCount{Query: ev.Query}
			deferred[key] = qc
		}
		qc.Count++
	}

	stats.UniqueUsers = len(users)
	if scored > 0 {
		stats.AverageConfidence = confSum / float64(scored)
	}
	for _, qc := range deferred {
		stats.TopDeferred = append(stats.TopDeferred, *qc)
	}
	sort.Slice(stats.TopDeferred, func(i, j int) bool {
		a, b := stats.TopDeferred[i], stats.TopDeferred[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Query < b.Query
	})
	if len(stats.TopDeferred) > topDeferredLimit {
		stats.TopDeferred = stats.TopDeferred[:topDeferredLimit]
	}
	return stats
}

// GenerateReportSummary renders the stats for the escalation channel.
// pending is the current size of the unanswered queue.
func (ds *DailyStats) GenerateReportSummary(pending int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📊 Support report for %s\n\n", ds.Date)
	fmt.Fprintf(&b, "- Queries: %d from %d user(s)\n", ds.TotalQueries, ds.UniqueUsers)
	fmt.Fprintf(&b, "- Answered: %d\n", ds.Answered)
	fmt.Fprintf(&b, "- Deferred to the team: %d\n", ds.Deferred)
	if ds.AverageConfidence > 0 {
		fmt.Fprintf(&b, "- Average confidence: %.2f\n", ds.AverageConfidence)
	}
	fmt.Fprintf(&b, "- Still unresolved: %d\n", pending)

	if len(ds.BySource) > 0 {
		sources := make([]string, 0, len(ds.BySource))
		for s := range ds.BySource {
			sources = append(sources, s)
		}
		sort.Strings(sources)
		b.WriteString("\nAnswers by source:\n")
		for _, s := range sources {
			fmt.Fprintf(&b, "- %s: %d\n", s, ds.BySource[s])
		}
	}
	if len(ds.TopDeferred) > 0 {
		b.WriteString("\nMost deferred questions:\n")
		for _, qc := range ds.TopDeferred {
			fmt.Fprintf(&b, "- %q ×%d\n", qc.Query, qc.Count)
		}
	}
	return b.String()
}

func (ds *DailyStats) ToJSON() (string, error) {
	data, err := json.MarshalIndent(ds, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DailyReport loads the interaction log and renders the summary for day.
func DailyReport(rec storage.Recorder, day time.Time, pending int) (string, error) {
	events, err := rec.LoadInteractions()
	if err != nil {
		return "", fmt.Errorf("load interactions: %w", err)
	}
	return AnalyzeDailyLogs(events, day).GenerateReportSummary(pending), nil
}
