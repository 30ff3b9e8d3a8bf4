package analytics

import (
	"strings"
	"testing"
	"time"

	"prompt-relay/internal/storage"
)

func TestAnalyzeDailyLogs(t *testing.T) {
	testDate := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

	events := []storage.Event{
		{Timestamp: testDate.Add(2 * time.Hour), ChatID: -1, UserID: 123, Prompt: "hello", Response: "hi", Status: "answered"},
		{Timestamp: testDate.Add(4 * time.Hour), ChatID: -1, UserID: 123, Prompt: "hello again", Status: "answered", Regenerated: true},
		{Timestamp: testDate.Add(6 * time.Hour), ChatID: 456, UserID: 456, Prompt: "find it", Status: "failed"},
		// next day, not counted
		{Timestamp: testDate.AddDate(0, 0, 1), ChatID: -1, UserID: 789, Prompt: "tomorrow", Status: "answered"},
		// bookkeeping record without a prompt, not counted
		{Timestamp: testDate.Add(8 * time.Hour), ChatID: -1, UserID: 123, Status: "answered"},
	}

	stats := AnalyzeDailyLogs(events, testDate)

	if stats.Date != "2024-01-15" {
		t.Errorf("Expected date '2024-01-15', got '%s'", stats.Date)
	}
	if stats.TotalPrompts != 3 {
		t.Errorf("Expected 3 prompts, got %d", stats.TotalPrompts)
	}
	if stats.Answered != 2 || stats.Failed != 1 || stats.Regenerated != 1 {
		t.Errorf("Unexpected outcome counts: %+v", stats)
	}
	if stats.UniqueUsers != 2 {
		t.Errorf("Expected 2 unique users, got %d", stats.UniqueUsers)
	}
	if stats.UniqueChats != 2 {
		t.Errorf("Expected 2 unique chats, got %d", stats.UniqueChats)
	}

	user123, exists := stats.UserStats[123]
	if !exists {
		t.Fatal("Expected stats for user 123")
	}
	if user123.Prompts != 2 || user123.Failed != 0 {
		t.Errorf("Unexpected stats for user 123: %+v", user123)
	}
	if stats.UserStats[456].Failed != 1 {
		t.Errorf("Expected 1 failed prompt for user 456, got %+v", stats.UserStats[456])
	}
}

func TestAnalyzeDailyLogsEmptyData(t *testing.T) {
	testDate := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	stats := AnalyzeDailyLogs(nil, testDate)

	if stats.Date != "2024-01-15" {
		t.Errorf("Expected date '2024-01-15', got '%s'", stats.Date)
	}
	if stats.TotalPrompts != 0 || stats.UniqueUsers != 0 {
		t.Errorf("Expected empty stats, got %+v", stats)
	}
	if strings.Contains(stats.GenerateReportSummary(), "Most active users") {
		t.Errorf("Empty report should not list users")
	}
}

func TestGenerateReportSummary(t *testing.T) {
	stats := &DailyStats{
		Date:         "2024-01-15",
		TotalPrompts: 5,
		Answered:     4,
		Failed:       1,
		UniqueUsers:  2,
		UniqueChats:  1,
		UserStats: map[int64]UserStats{
			123: {UserID: 123, Prompts: 3, Failed: 1},
			456: {UserID: 456, Prompts: 2},
		},
	}

	summary := stats.GenerateReportSummary()

	for _, expected := range []string{
		"2024-01-15",
		"Prompts: 5 (answered 4, failed 1",
		"Unique users: 2",
		"user 123: 3 prompts, 1 failed",
		"user 456: 2 prompts",
	} {
		if !strings.Contains(summary, expected) {
			t.Errorf("Expected summary to contain '%s', but it didn't. Summary: %s", expected, summary)
		}
	}
	if strings.Index(summary, "user 123") > strings.Index(summary, "user 456") {
		t.Errorf("Most active user should come first: %s", summary)
	}
}

func TestToJSON(t *testing.T) {
	stats := &DailyStats{
		Date:         "2024-01-15",
		TotalPrompts: 1,
		UserStats:    map[int64]UserStats{123: {UserID: 123, Prompts: 1}},
	}

	jsonStr, err := stats.ToJSON()
	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if !strings.Contains(jsonStr, "2024-01-15") || !strings.Contains(jsonStr, "\"total_prompts\": 1") {
		t.Errorf("Unexpected JSON: %s", jsonStr)
	}
}
