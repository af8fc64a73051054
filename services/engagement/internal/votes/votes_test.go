package votes

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/example/answer-engagement/services/engagement/internal/domain"
	"github.com/example/answer-engagement/services/engagement/internal/store"
)

type recordedEvent struct {
	subject, name, user string
	props               map[string]any
}

type fakeEvents struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (f *fakeEvents) Publish(subject, eventName, userID string, props map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, recordedEvent{subject, eventName, userID, props})
}

type fakeCache struct{ keys []string }

func (f *fakeCache) Invalidate(key string) { f.keys = append(f.keys, key) }

func newTestService(t *testing.T, answerIDs ...int64) (*Service, *store.InMemoryStore, *fakeEvents, *fakeCache) {
	t.Helper()
	st := store.NewInMemoryStore()
	for _, id := range answerIDs {
		if _, err := st.SeedAnswer(context.Background(), domain.Answer{ID: id, Body: fmt.Sprintf("answer %d", id)}); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	ev, c := &fakeEvents{}, &fakeCache{}
	return NewService(st, Options{Cache: c, Events: ev}), st, ev, c
}

func TestCastVote_ScenarioA_CastThenToggleOff(t *testing.T) {
	svc, _, _, _ := newTestService(t, 1)
	ctx := context.Background()

	res, err := svc.CastVote(ctx, 1, "v1", domain.Level2)
	if err != nil {
		t.Fatalf("cast: %v", err)
	}
	if res.Tally != (domain.VoteTally{Level2: 1}) {
		t.Fatalf("expected {0,1,0}, got %+v", res.Tally)
	}
	if len(res.VotersMap) != 1 || res.VotersMap["v1"] != domain.Level2 {
		t.Fatalf("unexpected voters %v", res.VotersMap)
	}

	res, err = svc.CastVote(ctx, 1, "v1", domain.LevelNone)
	if err != nil {
		t.Fatalf("toggle off: %v", err)
	}
	if res.Tally != (domain.VoteTally{}) || len(res.VotersMap) != 0 {
		t.Fatalf("expected empty tally and voters, got %+v %v", res.Tally, res.VotersMap)
	}
}

func TestCastVote_ScenarioB_LevelReplaced(t *testing.T) {
	svc, st, _, _ := newTestService(t, 1)
	ctx := context.Background()

	if _, err := svc.CastVote(ctx, 1, "v1", domain.Level1); err != nil {
		t.Fatalf("cast 1: %v", err)
	}
	res, err := svc.CastVote(ctx, 1, "v1", domain.Level3)
	if err != nil {
		t.Fatalf("cast 3: %v", err)
	}
	if res.Tally != (domain.VoteTally{Level3: 1}) {
		t.Fatalf("expected {0,0,1}, got %+v", res.Tally)
	}
	rows, _ := st.ListVotes(ctx, 1)
	if len(rows) != 1 || rows[0].Level != domain.Level3 {
		t.Fatalf("expected exactly one row at level 3, got %+v", rows)
	}
}

// After any cast sequence the voter has at most one row, at the last
// non-zero level, and the tally buckets match the listing.
func TestCastVote_AtMostOneRowAndTallyInvariant(t *testing.T) {
	svc, st, _, _ := newTestService(t, 9)
	ctx := context.Background()

	sequence := []domain.Level{1, 2, 2, 0, 3, 1, 0, 0, 2}
	voters := []string{"a", "b", "c"}
	for i, l := range sequence {
		for _, v := range voters[:1+i%3] {
			if _, err := svc.CastVote(ctx, 9, v, l); err != nil {
				t.Fatalf("cast %d: %v", i, err)
			}
		}
	}

	rows, _ := st.ListVotes(ctx, 9)
	seen := map[string]int{}
	for _, r := range rows {
		seen[r.VoterID]++
		if seen[r.VoterID] > 1 {
			t.Fatalf("voter %s has more than one row", r.VoterID)
		}
	}
	res, err := svc.Current(ctx, 9)
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if res.Tally.Total() != len(rows) {
		t.Fatalf("tally total %d != rows %d", res.Tally.Total(), len(rows))
	}
	if res.Tally != domain.TallyOf(rows) {
		t.Fatalf("tally %+v does not match listing %+v", res.Tally, rows)
	}
	if res.VotersMap["a"] != domain.Level2 {
		t.Fatalf("expected last level for a, got %d", res.VotersMap["a"])
	}
}

func TestCastVote_Validation(t *testing.T) {
	svc, _, _, _ := newTestService(t, 1)
	cases := []struct {
		name   string
		answer int64
		voter  string
		level  domain.Level
	}{
		{"zero answer", 0, "v1", 1},
		{"negative answer", -3, "v1", 1},
		{"empty voter", 1, "  ", 1},
		{"level too high", 1, "v1", 4},
		{"negative level", 1, "v1", -1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.CastVote(context.Background(), tc.answer, tc.voter, tc.level)
			if !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestCastVote_UnknownAnswer(t *testing.T) {
	svc, _, ev, _ := newTestService(t)
	for _, l := range []domain.Level{domain.LevelNone, domain.Level2} {
		if _, err := svc.CastVote(context.Background(), 404, "v1", l); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("level %d: expected ErrNotFound, got %v", l, err)
		}
	}
	if len(ev.events) != 0 {
		t.Fatalf("no event expected for failed casts, got %d", len(ev.events))
	}
}

func TestCastVote_SideEffects(t *testing.T) {
	svc, st, ev, c := newTestService(t, 3)
	ctx := context.Background()

	if _, err := svc.CastVote(ctx, 3, "v1", domain.Level3); err != nil {
		t.Fatalf("cast: %v", err)
	}
	a, _ := st.GetAnswer(ctx, 3)
	if a.Votes != (domain.VoteTally{Level3: 1}) {
		t.Fatalf("expected materialized tally, got %+v", a.Votes)
	}
	if len(c.keys) != 1 || c.keys[0] != "answer:3" {
		t.Fatalf("expected cache invalidation, got %v", c.keys)
	}
	if len(ev.events) != 1 || ev.events[0].name != "vote_cast" || ev.events[0].props["score"] != 3 {
		t.Fatalf("unexpected events %+v", ev.events)
	}
}

func TestCastVote_ConcurrentVotersConverge(t *testing.T) {
	svc, _, _, _ := newTestService(t, 1)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = svc.CastVote(ctx, 1, fmt.Sprintf("voter-%d", i), domain.Level(1+i%3))
		}(i)
	}
	wg.Wait()

	res, err := svc.Current(ctx, 1)
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if res.Tally != (domain.VoteTally{Level1: 10, Level2: 10, Level3: 10}) {
		t.Fatalf("unexpected tally %+v", res.Tally)
	}
}

func TestSummaries(t *testing.T) {
	svc, _, _, _ := newTestService(t, 1, 2)
	ctx := context.Background()
	_, _ = svc.CastVote(ctx, 1, "v1", domain.Level3)
	_, _ = svc.CastVote(ctx, 1, "v2", domain.Level1)

	sums, err := svc.Summaries(ctx, []int64{1, 2})
	if err != nil {
		t.Fatalf("summaries: %v", err)
	}
	if len(sums) != 2 || sums[0].Score != 4 || sums[1].Votes.Total() != 0 {
		t.Fatalf("unexpected summaries %+v", sums)
	}
	if sums[1].VotesBy == nil {
		t.Fatal("expected empty, non-nil voter map")
	}
}
