// Package analytics aggregates the activity of one calendar day.
package analytics

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"health-agent/internal/llm"
	"health-agent/internal/storage"
)

const chatErrorPrefix = "Chat error:"

// DailyStats is the activity of every user on one day.
type DailyStats struct {
	Date              string               `json:"date"`
	Sessions          int                  `json:"sessions"`
	UserMessages      int                  `json:"user_messages"`
	AssistantMessages int                  `json:"assistant_messages"`
	ChatErrors        int                  `json:"chat_errors"`
	UniqueUsers       int                  `json:"unique_users"`
	UserStats         map[string]UserStats `json:"user_stats"`
}

type UserStats struct {
	UserID            string `json:"user_id"`
	Sessions          int    `json:"sessions"`
	UserMessages      int    `json:"user_messages"`
	AssistantMessages int    `json:"assistant_messages"`
	ChatErrors        int    `json:"chat_errors"`
}

// AnalyzeDay counts the messages of convs whose timestamp falls in
// [start, end]. Messages without a timestamp count when their conversation
// was created in the range. A message repeated in a later session of the
// same user counts once, for the session that first stored it.
func AnalyzeDay(convs []storage.Conversation, start, end time.Time) *DailyStats {
	stats := &DailyStats{
		Date:      start.Format("2006-01-02"),
		UserStats: make(map[string]UserStats),
	}
	inRange := func(t time.Time) bool { return !t.Before(start) && !t.After(end) }
	type seenKey struct {
		user string
		msg  llm.MessageID
	}
	seen := make(map[seenKey]bool)

	for _, c := range convs {
		var cs UserStats
		for _, m := range c.Messages {
			if m.Timestamp.IsZero() {
				m.Timestamp = c.CreatedAt
			}
			if !inRange(m.Timestamp) {
				continue
			}
			k := seenKey{user: c.UserID, msg: m.ID()}
			if seen[k] {
				continue
			}
			seen[k] = true
			switch {
			case m.Role == llm.RoleUser:
				cs.UserMessages++
			case m.Role == llm.RoleAssistant:
				cs.AssistantMessages++
			case m.Role == llm.RoleSystem && strings.HasPrefix(m.Content, chatErrorPrefix):
				cs.ChatErrors++
			}
		}
		// a session counts only when the patient wrote in it
		if cs.UserMessages == 0 {
			continue
		}
		cs.UserID = c.UserID
		cs.Sessions = 1
		stats.add(cs)
	}

	stats.UniqueUsers = len(stats.UserStats)
	return stats
}

// Merge adds the counts of other into ds.
func (ds *DailyStats) Merge(other *DailyStats) {
	if other == nil {
		return
	}
	for _, us := range other.UserStats {
		ds.add(us)
	}
	ds.UniqueUsers = len(ds.UserStats)
}

func (ds *DailyStats) add(u UserStats) {
	ds.Sessions += u.Sessions
	ds.UserMessages += u.UserMessages
	ds.AssistantMessages += u.AssistantMessages
	ds.ChatErrors += u.ChatErrors

	us := ds.UserStats[u.UserID]
	us.UserID = u.UserID
	us.Sessions += u.Sessions
	us.UserMessages += u.UserMessages
	us.AssistantMessages += u.AssistantMessages
	us.ChatErrors += u.ChatErrors
	ds.UserStats[u.UserID] = us
}

// GenerateReportSummary renders the stats for logs and the summarize command.
func (ds *DailyStats) GenerateReportSummary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Activity on %s:\n", ds.Date)
	fmt.Fprintf(&b, "- sessions: %d\n", ds.Sessions)
	fmt.Fprintf(&b, "- user messages: %d\n", ds.UserMessages)
	fmt.Fprintf(&b, "- assistant messages: %d\n", ds.AssistantMessages)
	fmt.Fprintf(&b, "- chat errors: %d\n", ds.ChatErrors)
	fmt.Fprintf(&b, "- active users: %d\n", ds.UniqueUsers)

	ids := make([]string, 0, len(ds.UserStats))
	for id := range ds.UserStats {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		us := ds.UserStats[id]
		fmt.Fprintf(&b, "- user %s: %d sessions, %d messages", id, us.Sessions, us.UserMessages)
		if us.ChatErrors > 0 {
			fmt.Fprintf(&b, ", %d chat errors", us.ChatErrors)
		}
		b.WriteString("\n")
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
