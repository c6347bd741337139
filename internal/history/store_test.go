package history

import (
	"context"
	"testing"
	"time"

	"github.com/seralia/guildmind/internal/repos"
	"github.com/seralia/guildmind/internal/repos/testutil"
	"github.com/seralia/guildmind/internal/types"
)

func newTestStore(t *testing.T, maxSize int) *Store {
	t.Helper()
	log := testutil.Logger(t)
	repo := repos.NewTurnRepo(testutil.DB(t), log)
	return NewStore(repo, maxSize, log)
}

func ts(sec int) time.Time {
	return time.Date(2026, 1, 1, 0, 0, sec, 0, time.UTC)
}

func TestAppendAndList(t *testing.T) {
	store := newTestStore(t, 10)
	ctx := context.Background()

	turns := []Turn{
		{TurnID: "m1", Role: types.RoleUser, Text: "hello", Timestamp: ts(1)},
		{TurnID: "m2", Role: types.RoleAssistant, Text: "hi there", Timestamp: ts(2)},
		{TurnID: "m3", Role: types.RoleUser, Text: "how are you", Timestamp: ts(3)},
	}
	for _, tr := range turns {
		if err := store.AppendOrUpdate(ctx, "g1", tr); err != nil {
			t.Fatalf("append %s: %v", tr.TurnID, err)
		}
	}

	got, err := store.List(ctx, "g1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d turns, want 3", len(got))
	}
	for i, tr := range turns {
		if got[i].TurnID != tr.TurnID || got[i].Role != tr.Role || got[i].Text != tr.Text {
			t.Errorf("turn %d = %+v, want %+v", i, got[i], tr)
		}
	}
}

func TestAppendIsIdempotentAndKeepsTimestamp(t *testing.T) {
	store := newTestStore(t, 10)
	ctx := context.Background()

	orig := Turn{TurnID: "m1", Role: types.RoleUser, Text: "original", Timestamp: ts(5)}
	if err := store.AppendOrUpdate(ctx, "g1", orig); err != nil {
		t.Fatalf("append: %v", err)
	}

	edited := Turn{TurnID: "m1", Role: types.RoleUser, Text: "edited", Timestamp: ts(50)}
	if err := store.AppendOrUpdate(ctx, "g1", edited); err != nil {
		t.Fatalf("re-append: %v", err)
	}

	got, err := store.List(ctx, "g1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d turns, want 1", len(got))
	}
	if got[0].Text != "edited" {
		t.Errorf("text = %q, want %q", got[0].Text, "edited")
	}
	if !got[0].Timestamp.Equal(ts(5)) {
		t.Errorf("timestamp = %v, want original %v", got[0].Timestamp, ts(5))
	}
}

func TestCapacityEvictsOldestFirst(t *testing.T) {
	store := newTestStore(t, 3)
	ctx := context.Background()

	for i, id := range []string{"m1", "m2", "m3", "m4", "m5"} {
		tr := Turn{TurnID: id, Role: types.RoleUser, Text: id, Timestamp: ts(i + 1)}
		if err := store.AppendOrUpdate(ctx, "g1", tr); err != nil {
			t.Fatalf("append %s: %v", id, err)
		}
	}

	got, err := store.List(ctx, "g1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{"m3", "m4", "m5"}
	if len(got) != len(want) {
		t.Fatalf("got %d turns, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].TurnID != id {
			t.Errorf("turn %d = %s, want %s", i, got[i].TurnID, id)
		}
	}
}

func TestCapacityTieBreaksByInsertionOrder(t *testing.T) {
	store := newTestStore(t, 2)
	ctx := context.Background()

	same := ts(1)
	for _, id := range []string{"m1", "m2", "m3"} {
		tr := Turn{TurnID: id, Role: types.RoleUser, Text: id, Timestamp: same}
		if err := store.AppendOrUpdate(ctx, "g1", tr); err != nil {
			t.Fatalf("append %s: %v", id, err)
		}
	}

	got, err := store.List(ctx, "g1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{"m2", "m3"}
	for i, id := range want {
		if got[i].TurnID != id {
			t.Errorf("turn %d = %s, want %s", i, got[i].TurnID, id)
		}
	}
}

func TestLimitResolverOverridesDefaultCap(t *testing.T) {
	store := newTestStore(t, 10)
	store.SetLimitResolver(func(_ context.Context, conversationID string) int {
		if conversationID == "g1" {
			return 2
		}
		return 0
	})
	ctx := context.Background()

	for _, conv := range []string{"g1", "g2"} {
		for i, id := range []string{"m1", "m2", "m3"} {
			tr := Turn{TurnID: id, Role: types.RoleUser, Text: id, Timestamp: ts(i + 1)}
			if err := store.AppendOrUpdate(ctx, conv, tr); err != nil {
				t.Fatalf("append %s/%s: %v", conv, id, err)
			}
		}
	}

	g1, err := store.List(ctx, "g1")
	if err != nil {
		t.Fatalf("list g1: %v", err)
	}
	if len(g1) != 2 || g1[0].TurnID != "m2" {
		t.Errorf("g1 = %+v, want m2 and m3 under the per-conversation cap", g1)
	}

	// A conversation without an override keeps the store default.
	g2, err := store.List(ctx, "g2")
	if err != nil {
		t.Fatalf("list g2: %v", err)
	}
	if len(g2) != 3 {
		t.Errorf("g2 has %d turns, want all 3", len(g2))
	}
}

func TestUpdateOfExistingTurnDoesNotEvict(t *testing.T) {
	store := newTestStore(t, 2)
	ctx := context.Background()

	for i, id := range []string{"m1", "m2"} {
		tr := Turn{TurnID: id, Role: types.RoleUser, Text: id, Timestamp: ts(i + 1)}
		if err := store.AppendOrUpdate(ctx, "g1", tr); err != nil {
			t.Fatalf("append %s: %v", id, err)
		}
	}
	// At capacity. An edit must not count as a new turn.
	edit := Turn{TurnID: "m1", Role: types.RoleUser, Text: "edited", Timestamp: ts(1)}
	if err := store.AppendOrUpdate(ctx, "g1", edit); err != nil {
		t.Fatalf("edit: %v", err)
	}

	got, err := store.List(ctx, "g1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d turns, want 2", len(got))
	}
	if got[0].TurnID != "m1" || got[0].Text != "edited" {
		t.Errorf("first turn = %+v, want edited m1", got[0])
	}
}

func TestRemoveAbsentTurnIsNoop(t *testing.T) {
	store := newTestStore(t, 10)
	ctx := context.Background()

	if err := store.Remove(ctx, "g1", "missing"); err != nil {
		t.Fatalf("remove absent: %v", err)
	}
	if err := store.Remove(ctx, "g1", ""); err != nil {
		t.Fatalf("remove empty id: %v", err)
	}
}

func TestClear(t *testing.T) {
	store := newTestStore(t, 10)
	ctx := context.Background()

	tr := Turn{TurnID: "m1", Role: types.RoleUser, Text: "hello", Timestamp: ts(1)}
	if err := store.AppendOrUpdate(ctx, "g1", tr); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.Clear(ctx, "g1"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	got, err := store.List(ctx, "g1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("got %d turns after clear, want 0", len(got))
	}

	// A cleared turn id can come back with a fresh timestamp.
	again := Turn{TurnID: "m1", Role: types.RoleUser, Text: "again", Timestamp: ts(9)}
	if err := store.AppendOrUpdate(ctx, "g1", again); err != nil {
		t.Fatalf("re-append after clear: %v", err)
	}
	got, err = store.List(ctx, "g1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || !got[0].Timestamp.Equal(ts(9)) {
		t.Fatalf("turn after clear = %+v, want fresh m1", got)
	}
}

func TestConversationsAreIsolated(t *testing.T) {
	store := newTestStore(t, 2)
	ctx := context.Background()

	for i, id := range []string{"a1", "a2", "a3"} {
		tr := Turn{TurnID: id, Role: types.RoleUser, Text: id, Timestamp: ts(i + 1)}
		if err := store.AppendOrUpdate(ctx, "g1", tr); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	tr := Turn{TurnID: "b1", Role: types.RoleUser, Text: "b1", Timestamp: ts(1)}
	if err := store.AppendOrUpdate(ctx, "g2", tr); err != nil {
		t.Fatalf("append: %v", err)
	}

	g2, err := store.List(ctx, "g2")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(g2) != 1 {
		t.Fatalf("g2 has %d turns, want 1", len(g2))
	}
}

func TestLatestTimestamp(t *testing.T) {
	store := newTestStore(t, 10)
	ctx := context.Background()

	_, ok, err := store.LatestTimestamp(ctx, "g1")
	if err != nil {
		t.Fatalf("latest on empty: %v", err)
	}
	if ok {
		t.Fatal("ok = true on empty conversation")
	}

	for i, id := range []string{"m1", "m2"} {
		tr := Turn{TurnID: id, Role: types.RoleUser, Text: id, Timestamp: ts(i + 1)}
		if err := store.AppendOrUpdate(ctx, "g1", tr); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	latest, ok, err := store.LatestTimestamp(ctx, "g1")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if !ok || !latest.Equal(ts(2)) {
		t.Fatalf("latest = %v ok=%v, want %v", latest, ok, ts(2))
	}
}
