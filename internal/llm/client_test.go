package llm

import (
	"testing"
	"time"
)

func TestDistinct(t *testing.T) {
	t0 := time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC)
	msgs := []Message{
		{Role: RoleAssistant, Content: "how are you", Timestamp: t0},
		{Role: RoleUser, Content: "morning headache", Timestamp: t0.Add(time.Second)},
		{Role: RoleAssistant, Content: "how are you", Timestamp: t0},
		{Role: RoleUser, Content: "morning headache", Timestamp: t0.Add(time.Second)},
		// same text at another time is a new message
		{Role: RoleUser, Content: "morning headache", Timestamp: t0.Add(time.Hour)},
		// same instant in another zone is the same message
		{Role: RoleUser, Content: "morning headache", Timestamp: t0.Add(time.Hour).In(time.FixedZone("CET", 3600))},
		{Role: RoleAssistant, Content: "morning headache", Timestamp: t0.Add(time.Hour)},
	}
	got := Distinct(msgs)
	if len(got) != 4 {
		t.Fatalf("want 4 messages, got %d: %+v", len(got), got)
	}
	want := []string{"how are you", "morning headache", "morning headache", "morning headache"}
	for i, m := range got {
		if m.Content != want[i] {
			t.Fatalf("message %d: want %q, got %q", i, want[i], m.Content)
		}
	}
	if got[3].Role != RoleAssistant {
		t.Fatalf("role must be part of the identity: %+v", got[3])
	}
	if len(msgs) != 7 {
		t.Fatalf("input modified")
	}
}
