// Package userdata serves the per-viewer hydration read: the viewer's vote
// levels and favorites over a set of answers, in two batched queries.
package userdata

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/example/answer-engagement/services/engagement/internal/domain"
	"github.com/example/answer-engagement/services/engagement/internal/store"
)

// MaxAnswerIDs bounds one hydration request.
const MaxAnswerIDs = 500

type Service struct {
	store store.AggregateStore
}

func NewService(s store.AggregateStore) *Service {
	return &Service{store: s}
}

// Get returns an empty result, not an error, for anonymous viewers and
// empty id lists.
func (s *Service) Get(ctx context.Context, voterID string, answerIDs []int64) (domain.UserAnswerData, error) {
	voterID = strings.TrimSpace(voterID)
	ids := Normalize(answerIDs)
	if voterID == "" || len(ids) == 0 {
		return domain.EmptyUserAnswerData(), nil
	}
	if len(ids) > MaxAnswerIDs {
		return domain.UserAnswerData{}, fmt.Errorf("%d answer ids, at most %d: %w", len(ids), MaxAnswerIDs, domain.ErrValidation)
	}

	var (
		votes map[int64]domain.Level
		favs  []int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		votes, err = s.store.ListVotesByVoter(gctx, voterID, ids)
		return err
	})
	g.Go(func() error {
		var err error
		favs, err = s.store.ListFavoritesForVoter(gctx, voterID, ids)
		return err
	})
	if err := g.Wait(); err != nil {
		return domain.UserAnswerData{}, err
	}

	out := domain.EmptyUserAnswerData()
	for id, l := range votes {
		out.Votes[id] = l
	}
	out.Favorites = append(out.Favorites, favs...)
	return out, nil
}

// Normalize drops non-positive ids and duplicates, keeping first-seen order.
func Normalize(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id <= 0 {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
