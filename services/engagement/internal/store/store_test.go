package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/example/answer-engagement/internal/platform/db"
	"github.com/example/answer-engagement/services/engagement/internal/domain"
)

const missingAnswer int64 = 987654321

type backendFactory func(t *testing.T) Backend

func backends(t *testing.T) map[string]backendFactory {
	t.Helper()
	out := map[string]backendFactory{
		"memory": func(*testing.T) Backend { return NewInMemoryStore() },
		"sqlite": func(t *testing.T) Backend {
			s, err := OpenSQLite(filepath.Join(t.TempDir(), "engagement.db"))
			if err != nil {
				t.Fatalf("OpenSQLite: %v", err)
			}
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}
	if dsn := os.Getenv("ENGAGEMENT_TEST_DATABASE_URL"); dsn != "" {
		out["postgres"] = func(t *testing.T) Backend {
			ctx := context.Background()
			pool, err := db.Open(ctx, dsn, nil)
			if err != nil {
				t.Fatalf("db.Open: %v", err)
			}
			if err := ApplyMigrations(ctx, pool); err != nil {
				t.Fatalf("ApplyMigrations: %v", err)
			}
			if _, err := pool.Exec(ctx, `TRUNCATE answer_comments, answer_favorites, answer_votes, answers RESTART IDENTITY CASCADE`); err != nil {
				t.Fatalf("truncate: %v", err)
			}
			s := NewPostgresStore(pool)
			t.Cleanup(func() { _ = s.Close() })
			return s
		}
	}
	return out
}

// forEachBackend runs fn as a subtest against every available backend.
func forEachBackend(t *testing.T, fn func(t *testing.T, s Backend)) {
	for name, factory := range backends(t) {
		t.Run(name, func(t *testing.T) {
			fn(t, factory(t))
		})
	}
}

func seed(t *testing.T, s Backend, body string) domain.Answer {
	t.Helper()
	a, err := s.SeedAnswer(context.Background(), domain.Answer{Body: body})
	if err != nil {
		t.Fatalf("SeedAnswer: %v", err)
	}
	if a.ID <= 0 {
		t.Fatalf("expected assigned id, got %d", a.ID)
	}
	return a
}

func TestStore_UpsertVoteReplacesLevel(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Backend) {
		ctx := context.Background()
		a := seed(t, s, "answer")

		if err := s.UpsertVote(ctx, a.ID, "v1", domain.Level1); err != nil {
			t.Fatalf("UpsertVote: %v", err)
		}
		if err := s.UpsertVote(ctx, a.ID, "v1", domain.Level3); err != nil {
			t.Fatalf("UpsertVote: %v", err)
		}
		rows, err := s.ListVotes(ctx, a.ID)
		if err != nil {
			t.Fatalf("ListVotes: %v", err)
		}
		if len(rows) != 1 || rows[0].VoterID != "v1" || rows[0].Level != domain.Level3 {
			t.Fatalf("expected one row at level 3, got %+v", rows)
		}
	})
}

func TestStore_DeleteVoteIdempotent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Backend) {
		ctx := context.Background()
		a := seed(t, s, "answer")

		if err := s.DeleteVote(ctx, a.ID, "nobody"); err != nil {
			t.Fatalf("delete of missing row must not fail: %v", err)
		}
		_ = s.UpsertVote(ctx, a.ID, "v1", domain.Level2)
		if err := s.DeleteVote(ctx, a.ID, "v1"); err != nil {
			t.Fatalf("DeleteVote: %v", err)
		}
		if err := s.DeleteVote(ctx, a.ID, "v1"); err != nil {
			t.Fatalf("second DeleteVote: %v", err)
		}
		rows, _ := s.ListVotes(ctx, a.ID)
		if len(rows) != 0 {
			t.Fatalf("expected no rows, got %+v", rows)
		}
	})
}

func TestStore_VoteOnUnknownAnswer(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Backend) {
		err := s.UpsertVote(context.Background(), missingAnswer, "v1", domain.Level1)
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

// Bulk reads must return what a loop of single reads returns.
func TestStore_BulkVotesMatchLoop(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Backend) {
		ctx := context.Background()
		a1, a2, a3 := seed(t, s, "one"), seed(t, s, "two"), seed(t, s, "three")
		_ = s.UpsertVote(ctx, a1.ID, "v1", domain.Level1)
		_ = s.UpsertVote(ctx, a1.ID, "v2", domain.Level2)
		_ = s.UpsertVote(ctx, a2.ID, "v1", domain.Level3)

		ids := []int64{a1.ID, a2.ID, a3.ID}
		bulk, err := s.ListVotesForAnswers(ctx, ids)
		if err != nil {
			t.Fatalf("ListVotesForAnswers: %v", err)
		}
		for _, id := range ids {
			single, _ := s.ListVotes(ctx, id)
			if len(single) != len(bulk[id]) {
				t.Fatalf("answer %d: bulk %v != single %v", id, bulk[id], single)
			}
			for i := range single {
				if single[i] != bulk[id][i] {
					t.Fatalf("answer %d: bulk %v != single %v", id, bulk[id], single)
				}
			}
		}

		mine, err := s.ListVotesByVoter(ctx, "v1", ids)
		if err != nil {
			t.Fatalf("ListVotesByVoter: %v", err)
		}
		if len(mine) != 2 || mine[a1.ID] != domain.Level1 || mine[a2.ID] != domain.Level3 {
			t.Fatalf("unexpected voter map %v", mine)
		}
	})
}

func TestStore_SaveTallyMaterialized(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Backend) {
		ctx := context.Background()
		a := seed(t, s, "answer")
		want := domain.VoteTally{Level1: 2, Level3: 1}
		if err := s.SaveTally(ctx, a.ID, want); err != nil {
			t.Fatalf("SaveTally: %v", err)
		}
		got, err := s.GetAnswer(ctx, a.ID)
		if err != nil {
			t.Fatalf("GetAnswer: %v", err)
		}
		if got.Votes != want || got.Body != "answer" {
			t.Fatalf("unexpected answer %+v", got)
		}
		if err := s.SaveTally(ctx, missingAnswer, want); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestStore_Favorites(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Backend) {
		ctx := context.Background()
		a1, a2 := seed(t, s, "one"), seed(t, s, "two")

		for i := 0; i < 2; i++ {
			if err := s.UpsertFavorite(ctx, a2.ID, "v1"); err != nil {
				t.Fatalf("UpsertFavorite #%d: %v", i, err)
			}
		}
		_ = s.UpsertFavorite(ctx, a1.ID, "v1")
		_ = s.UpsertFavorite(ctx, a1.ID, "v2")

		ok, err := s.FavoriteExists(ctx, a2.ID, "v1")
		if err != nil || !ok {
			t.Fatalf("expected favorite, got %v %v", ok, err)
		}

		all, err := s.ListFavoritesForVoter(ctx, "v1", nil)
		if err != nil {
			t.Fatalf("ListFavoritesForVoter: %v", err)
		}
		if len(all) != 2 || all[0] != a1.ID || all[1] != a2.ID {
			t.Fatalf("expected ascending [%d %d], got %v", a1.ID, a2.ID, all)
		}
		some, _ := s.ListFavoritesForVoter(ctx, "v1", []int64{a2.ID, missingAnswer})
		if len(some) != 1 || some[0] != a2.ID {
			t.Fatalf("unexpected filtered favorites %v", some)
		}
		none, _ := s.ListFavoritesForVoter(ctx, "v1", []int64{})
		if none == nil || len(none) != 0 {
			t.Fatalf("expected empty non-nil slice, got %v", none)
		}

		_ = s.DeleteFavorite(ctx, a2.ID, "v1")
		if err := s.DeleteFavorite(ctx, a2.ID, "v1"); err != nil {
			t.Fatalf("second DeleteFavorite: %v", err)
		}
		if ok, _ := s.FavoriteExists(ctx, a2.ID, "v1"); ok {
			t.Fatal("favorite should be gone")
		}
		if err := s.UpsertFavorite(ctx, missingAnswer, "v1"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestStore_AnswersAndComments(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Backend) {
		ctx := context.Background()
		a := seed(t, s, "answer")

		if ok, _ := s.AnswerExists(ctx, a.ID); !ok {
			t.Fatal("expected answer to exist")
		}
		if ok, _ := s.AnswerExists(ctx, missingAnswer); ok {
			t.Fatal("unexpected answer")
		}
		if _, err := s.GetAnswer(ctx, missingAnswer); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}

		c, err := s.AddComment(ctx, domain.Comment{AnswerID: a.ID, ProfileID: "p1", Body: "nice"})
		if err != nil {
			t.Fatalf("AddComment: %v", err)
		}
		if c.ID.String() == "" || c.CreatedAt.IsZero() {
			t.Fatalf("expected id and timestamp, got %+v", c)
		}
		_, _ = s.AddComment(ctx, domain.Comment{AnswerID: a.ID, ProfileID: "p2", Body: "agreed"})

		n, err := s.CountComments(ctx, a.ID)
		if err != nil || n != 2 {
			t.Fatalf("expected 2 comments, got %d %v", n, err)
		}
		got, _ := s.GetAnswer(ctx, a.ID)
		if got.CommentCount != 2 {
			t.Fatalf("expected comment count 2, got %d", got.CommentCount)
		}
		if _, err := s.AddComment(ctx, domain.Comment{AnswerID: missingAnswer, ProfileID: "p1", Body: "x"}); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		if err := s.Ping(ctx); err != nil {
			t.Fatalf("Ping: %v", err)
		}
	})
}

func TestOpen_Selection(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, ok := s.(*InMemoryStore); !ok {
		t.Fatalf("expected in-memory store, got %T", s)
	}

	if _, err := Open(ctx, Options{Production: true}); err == nil {
		t.Fatal("production must refuse the in-memory store")
	}

	s, err = Open(ctx, Options{SQLitePath: filepath.Join(t.TempDir(), "x.db"), Production: true})
	if err != nil {
		t.Fatalf("Open sqlite: %v", err)
	}
	defer s.Close()
	if _, ok := s.(*SQLiteStore); !ok {
		t.Fatalf("expected sqlite store, got %T", s)
	}
}
