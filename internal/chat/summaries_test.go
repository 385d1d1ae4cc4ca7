package chat

import (
	"context"
	"testing"
	"time"

	"github.com/ktulhu-ai/ktulhu/internal/history"
)

type fakeSummaries struct {
	list  []history.ChatSummary
	calls int
}

func (f *fakeSummaries) LoadSummaries(context.Context, string) []history.ChatSummary {
	f.calls++
	return append([]history.ChatSummary(nil), f.list...)
}

func TestSummaryList_LoadOnce(t *testing.T) {
	src := &fakeSummaries{list: []history.ChatSummary{{ChatID: "a", Summary: "A", Timestamp: 2}}}
	l := NewSummaryList(src)

	l.Load(context.Background(), "d")
	got := l.Load(context.Background(), "d")
	if src.calls != 1 {
		t.Errorf("loader calls = %d, want 1", src.calls)
	}
	if len(got) != 1 || got[0].ChatID != "a" {
		t.Errorf("Load() = %+v", got)
	}

	l.Reload(context.Background(), "d")
	if src.calls != 2 {
		t.Errorf("Reload should fetch again, calls = %d", src.calls)
	}
}

func TestSummaryList_Apply(t *testing.T) {
	src := &fakeSummaries{list: []history.ChatSummary{
		{ChatID: "a", Summary: "Old A", Timestamp: 300},
		{ChatID: "b", Summary: "B", Timestamp: 200},
	}}
	l := NewSummaryList(src)
	l.now = func() time.Time { return time.UnixMilli(1000) }
	l.Load(context.Background(), "d")

	if l.Apply(event(t, `{"type":"summary","text":"no chat"}`)) {
		t.Error("event without chat_id should be ignored")
	}
	if !l.Apply(event(t, `{"type":"summary","chat_id":"b","summary":"Topic tag: New B</s>"}`)) {
		t.Fatal("Apply() = false")
	}
	l.Apply(event(t, `{"type":"summary","chat_id":"c","message":"C","ts":250}`))

	got := l.Summaries()
	want := []history.ChatSummary{
		{ChatID: "b", Summary: "New B", Text: "New B", Timestamp: 1000},
		{ChatID: "a", Summary: "Old A", Timestamp: 300},
		{ChatID: "c", Summary: "C", Text: "C", Timestamp: 250},
	}
	if len(got) != len(want) {
		t.Fatalf("Summaries() = %+v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("summary[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}

	l.Remove("a")
	if len(l.Summaries()) != 2 {
		t.Errorf("Remove failed: %+v", l.Summaries())
	}
}
