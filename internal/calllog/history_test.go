package calllog

import (
	"context"
	"testing"
	"time"
)

func openTestHistory(t *testing.T) *History {
	t.Helper()
	h, err := OpenHistory(":memory:")
	if err != nil {
		t.Fatalf("OpenHistory: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	return h
}

func TestHistory_InsertAndRecent(t *testing.T) {
	h := openTestHistory(t)
	ctx := context.Background()

	recs := []Record{
		{CallID: "c1", Direction: DirectionOutgoing, PeerID: "u2", Status: StatusEnded, DurationSecs: 30, IsVideo: true, StartedAt: time.Unix(1000, 0), EndedAt: time.Unix(1030, 0)},
		{CallID: "c2", Direction: DirectionIncoming, PeerID: "u3", Status: StatusMissed, StartedAt: time.Unix(2000, 0), EndedAt: time.Unix(2000, 0)},
		{CallID: "c3", Direction: DirectionIncoming, PeerID: "u2", Status: StatusRejected, StartedAt: time.Unix(3000, 0), EndedAt: time.Unix(3000, 0)},
	}
	for _, rec := range recs {
		if err := h.Insert(ctx, rec); err != nil {
			t.Fatalf("Insert(%s): %v", rec.CallID, err)
		}
	}

	got, err := h.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Recent returned %d rows, want 2", len(got))
	}
	if got[0].CallID != "c3" || got[1].CallID != "c2" {
		t.Fatalf("order = %s, %s; want c3, c2", got[0].CallID, got[1].CallID)
	}
	if !got[1].StartedAt.Equal(time.Unix(2000, 0)) {
		t.Fatalf("StartedAt = %v", got[1].StartedAt)
	}
}

func TestHistory_DuplicateCallIDIsIgnored(t *testing.T) {
	h := openTestHistory(t)
	ctx := context.Background()

	rec := Record{CallID: "c1", Direction: DirectionOutgoing, PeerID: "u2", Status: StatusEnded, DurationSecs: 10, StartedAt: time.Unix(1000, 0), EndedAt: time.Unix(1010, 0)}
	if err := h.Insert(ctx, rec); err != nil {
		t.Fatalf("first Insert: %v", err)
	}
	rec.DurationSecs = 999
	if err := h.Insert(ctx, rec); err != nil {
		t.Fatalf("second Insert: %v", err)
	}

	got, err := h.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d rows, want 1 (call logged twice)", len(got))
	}
	if got[0].DurationSecs != 10 {
		t.Fatalf("duplicate insert overwrote the original row: duration %d", got[0].DurationSecs)
	}
}

func TestHistory_RecordRoundTrip(t *testing.T) {
	h := openTestHistory(t)
	ctx := context.Background()

	want := Record{
		CallID:         "c1",
		ConversationID: "conv-9",
		Direction:      DirectionIncoming,
		PeerID:         "u7",
		PeerName:       "Frida",
		IsVideo:        true,
		Status:         StatusEnded,
		DurationSecs:   83,
		StartedAt:      time.Unix(5000, 0),
		EndedAt:        time.Unix(5083, 0),
	}
	if err := h.Insert(ctx, want); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	got, err := h.Recent(ctx, 1)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Recent returned %d rows", len(got))
	}
	g := got[0]
	if g.CallID != want.CallID || g.ConversationID != want.ConversationID ||
		g.Direction != want.Direction || g.PeerID != want.PeerID || g.PeerName != want.PeerName ||
		g.IsVideo != want.IsVideo || g.Status != want.Status || g.DurationSecs != want.DurationSecs ||
		!g.StartedAt.Equal(want.StartedAt) || !g.EndedAt.Equal(want.EndedAt) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", g, want)
	}
}
