package analytics

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"prompt-relay/internal/storage"
)

// DailyStats summarizes one UTC day of prompts.
type DailyStats struct {
	Date         string              `json:"date"`
	TotalPrompts int                 `json:"total_prompts"`
	Answered     int                 `json:"answered"`
	Failed       int                 `json:"failed"`
	Regenerated  int                 `json:"regenerated"`
	UniqueUsers  int                 `json:"unique_users"`
	UniqueChats  int                 `json:"unique_chats"`
	UserStats    map[int64]UserStats `json:"user_stats"`
}

type UserStats struct {
	UserID  int64 `json:"user_id"`
	Prompts int   `json:"prompts"`
	Failed  int   `json:"failed"`
}

// AnalyzeDailyLogs aggregates the events that fall on targetDate.
func AnalyzeDailyLogs(events []storage.Event, targetDate time.Time) *DailyStats {
	startOfDay := time.Date(targetDate.Year(), targetDate.Month(), targetDate.Day(), 0, 0, 0, 0, targetDate.Location())
	endOfDay := startOfDay.Add(24 * time.Hour)

	stats := &DailyStats{
		Date:      startOfDay.Format("2006-01-02"),
		UserStats: make(map[int64]UserStats),
	}
	chats := make(map[int64]bool)

	for _, event := range events {
		if event.Timestamp.Before(startOfDay) || !event.Timestamp.Before(endOfDay) {
			continue
		}
		// Events without a prompt are bookkeeping records.
		if event.Prompt == "" {
			continue
		}

		stats.TotalPrompts++
		chats[event.ChatID] = true
		if event.Regenerated {
			stats.Regenerated++
		}

		userStat, exists := stats.UserStats[event.UserID]
		if !exists {
			userStat = UserStats{UserID: event.UserID}
		}
		userStat.Prompts++

		switch event.Status {
		case "answered":
			stats.Answered++
		case "failed":
			stats.Failed++
			userStat.Failed++
		}
		stats.UserStats[event.UserID] = userStat
	}

	stats.UniqueUsers = len(stats.UserStats)
	stats.UniqueChats = len(chats)
	return stats
}

// GenerateReportSummary renders the stats as a plain-text admin report.
func (ds *DailyStats) GenerateReportSummary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Usage report for %s\n\n", ds.Date)
	fmt.Fprintf(&b, "Prompts: %d (answered %d, failed %d, regenerated %d)\n", ds.TotalPrompts, ds.Answered, ds.Failed, ds.Regenerated)
	fmt.Fprintf(&b, "Unique users: %d\n", ds.UniqueUsers)
	fmt.Fprintf(&b, "Unique chats: %d\n", ds.UniqueChats)

	if len(ds.UserStats) == 0 {
		return b.String()
	}

	users := make([]UserStats, 0, len(ds.UserStats))
	for _, u := range ds.UserStats {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].Prompts != users[j].Prompts {
			return users[i].Prompts > users[j].Prompts
		}
		return users[i].UserID < users[j].UserID
	})

	b.WriteString("\nMost active users:\n")
	for i, u := range users {
		if i == 10 {
			break
		}
		fmt.Fprintf(&b, "- user %d: %d prompts", u.UserID, u.Prompts)
		if u.Failed > 0 {
			fmt.Fprintf(&b, ", %d failed", u.Failed)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// ToJSON serializes the stats for detailed inspection.
func (ds *DailyStats) ToJSON() (string, error) {
	data, err := json.MarshalIndent(ds, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
