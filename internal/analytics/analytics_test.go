package analytics

import (
	"strings"
	"testing"
	"time"

	"support-bot/internal/storage"
)

func TestAnalyzeDailyLogs(t *testing.T) {
	testDate := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

	events := []storage.Event{
		{Timestamp: testDate.Add(2 * time.Hour), UserID: "123", Query: "What is a Core Bank?", Source: "knowledge", Confidence: 0.9},
		{Timestamp: testDate.Add(3 * time.Hour), UserID: "123", Query: "gm", Source: "casual", Confidence: 1},
		{Timestamp: testDate.Add(4 * time.Hour), UserID: "456", Query: "wen token", Source: "none", Uncertain: true},
		{Timestamp: testDate.Add(5 * time.Hour), UserID: "789", Query: "Wen  TOKEN", Source: "none", Uncertain: true},
		{Timestamp: testDate.Add(6 * time.Hour), UserID: "789", Query: "fees?", Source: "knowledge", Uncertain: true, Confidence: 0.2},
		// next day
		{Timestamp: testDate.AddDate(0, 0, 1), UserID: "999", Query: "tomorrow"},
		// no query text
		{Timestamp: testDate.Add(8 * time.Hour), UserID: "123", Query: "  "},
	}

	stats := AnalyzeDailyLogs(events, testDate)

	if stats.Date != "2024-01-15" {
		t.Errorf("Expected date '2024-01-15', got '%s'", stats.Date)
	}
	if stats.TotalQueries != 5 {
		t.Errorf("Expected 5 queries, got %d", stats.TotalQueries)
	}
	if stats.UniqueUsers != 3 {
		t.Errorf("Expected 3 unique users, got %d", stats.UniqueUsers)
	}
	if stats.Answered != 2 || stats.Deferred != 3 {
		t.Errorf("Expected 2 answered / 3 deferred, got %d / %d", stats.Answered, stats.Deferred)
	}
	if stats.BySource["none"] != 2 || stats.BySource["knowledge"] != 2 || stats.BySource["casual"] != 1 {
		t.Errorf("Unexpected sources: %v", stats.BySource)
	}
	if got, want := stats.AverageConfidence, (0.9+1+0.2)/3; got < want-1e-9 || got > want+1e-9 {
		t.Errorf("Expected average confidence %.4f, got %.4f", want, got)
	}
	if len(stats.TopDeferred) != 2 || stats.TopDeferred[0].Count != 2 || stats.TopDeferred[0].Query != "wen token" {
		t.Errorf("Unexpected top deferred: %+v", stats.TopDeferred)
	}
}

func TestAnalyzeDailyLogsEmptyData(t *testing.T) {
	testDate := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	stats := AnalyzeDailyLogs(nil, testDate)

	if stats.Date != "2024-01-15" {
		t.Errorf("Expected date '2024-01-15', got '%s'", stats.Date)
	}
	if stats.TotalQueries != 0 || stats.UniqueUsers != 0 || stats.AverageConfidence != 0 {
		t.Errorf("Expected empty stats, got %+v", stats)
	}
}

func TestGenerateReportSummary(t *testing.T) {
	stats := &DailyStats{
		Date:              "2024-01-15",
		TotalQueries:      5,
		UniqueUsers:       2,
		Answered:          3,
		Deferred:          2,
		BySource:          map[string]int{"knowledge": 2, "cache": 1},
		AverageConfidence: 0.75,
		TopDeferred:       []QueryCount{{Query: "wen token", Count: 2}},
	}

	summary := stats.GenerateReportSummary(4)

	for _, expected := range []string{
		"2024-01-15",
		"Queries: 5 from 2 user(s)",
		"Deferred to the team: 2",
		"Average confidence: 0.75",
		"Still unresolved: 4",
		"- cache: 1",
		"- knowledge: 2",
		`"wen token" ×2`,
	} {
		if !strings.Contains(summary, expected) {
			t.Errorf("Expected summary to contain %q. Summary: %s", expected, summary)
		}
	}
	if strings.Index(summary, "- cache") > strings.Index(summary, "- knowledge") {
		t.Errorf("sources must be sorted: %s", summary)
	}
}

func TestToJSON(t *testing.T) {
	stats := &DailyStats{Date: "2024-01-15", BySource: map[string]int{"memory": 1}}
	jsonStr, err := stats.ToJSON()
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !strings.Contains(jsonStr, "2024-01-15") || !strings.Contains(jsonStr, `"memory": 1`) {
		t.Errorf("Unexpected JSON: %s", jsonStr)
	}
}

func TestDailyReport(t *testing.T) {
	rec, err := storage.NewFileRecorder(t.TempDir() + "/log.jsonl")
	if err != nil {
		t.Fatalf("recorder: %v", err)
	}
	day := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	if err := rec.AppendInteraction(storage.Event{Timestamp: day.Add(time.Hour), UserID: "1", Query: "hi", Source: "casual"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	out, err := DailyReport(rec, day, 3)
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if !strings.Contains(out, "Queries: 1 from 1 user(s)") || !strings.Contains(out, "Still unresolved: 3") {
		t.Fatalf("unexpected report: %s", out)
	}
}
