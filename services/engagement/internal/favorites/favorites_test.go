package favorites

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/example/answer-engagement/services/engagement/internal/domain"
	"github.com/example/answer-engagement/services/engagement/internal/store"
)

// racingStore reports every insert as a lost race after performing it.
type racingStore struct {
	*store.InMemoryStore
}

func (s racingStore) UpsertFavorite(ctx context.Context, answerID int64, voterID string) error {
	_ = s.InMemoryStore.UpsertFavorite(ctx, answerID, voterID)
	return fmt.Errorf("upsert favorite: %w", domain.ErrConflict)
}

func seeded(t *testing.T, ids ...int64) *store.InMemoryStore {
	t.Helper()
	st := store.NewInMemoryStore()
	for _, id := range ids {
		if _, err := st.SeedAnswer(context.Background(), domain.Answer{ID: id}); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	return st
}

func TestToggle_PureFlip(t *testing.T) {
	svc := NewService(seeded(t, 5), nil, nil)
	ctx := context.Background()

	want := []bool{true, false, true}
	for i, w := range want {
		got, err := svc.Toggle(ctx, 5, "p1")
		if err != nil {
			t.Fatalf("toggle %d: %v", i, err)
		}
		if got != w {
			t.Fatalf("toggle %d: expected %v, got %v", i, w, got)
		}
	}
	status, _ := svc.Status(ctx, 5, "p1")
	if !status {
		t.Fatal("status should report favorited after three toggles")
	}
}

func TestToggle_ConflictSwallowed(t *testing.T) {
	svc := NewService(racingStore{seeded(t, 1)}, nil, nil)
	got, err := svc.Toggle(context.Background(), 1, "p1")
	if err != nil {
		t.Fatalf("conflict must be swallowed, got %v", err)
	}
	if !got {
		t.Fatal("expected favorited=true after a raced insert")
	}
}

func TestToggle_Errors(t *testing.T) {
	svc := NewService(seeded(t, 1), nil, nil)
	ctx := context.Background()

	if _, err := svc.Toggle(ctx, 0, "p1"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if _, err := svc.Toggle(ctx, 1, ""); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if _, err := svc.Toggle(ctx, 77, "p1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestList(t *testing.T) {
	svc := NewService(seeded(t, 1, 2, 3), nil, nil)
	ctx := context.Background()
	_, _ = svc.Toggle(ctx, 3, "p1")
	_, _ = svc.Toggle(ctx, 1, "p1")
	_, _ = svc.Toggle(ctx, 2, "p2")

	ids, err := svc.List(ctx, "p1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 3 {
		t.Fatalf("unexpected favorites %v", ids)
	}
	if _, err := svc.List(ctx, " "); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}
