// Package favorites implements the favorite toggle and its read side.
package favorites

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/example/answer-engagement/internal/platform/analytics"
	"github.com/example/answer-engagement/services/engagement/internal/domain"
	"github.com/example/answer-engagement/services/engagement/internal/store"
)

type EventPublisher interface {
	Publish(subject, eventName, userID string, props map[string]any)
}

type Service struct {
	store  store.AggregateStore
	events EventPublisher
	log    *zap.Logger
}

func NewService(s store.AggregateStore, events EventPublisher, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: s, events: events, log: log}
}

func validate(answerID int64, voterID string) (string, error) {
	voterID = strings.TrimSpace(voterID)
	if answerID <= 0 {
		return "", fmt.Errorf("answer id %d: %w", answerID, domain.ErrValidation)
	}
	if voterID == "" {
		return "", fmt.Errorf("profile id is required: %w", domain.ErrValidation)
	}
	return voterID, nil
}

// Toggle flips the favorite row of (answerID, voterID) and reports the
// resulting state. It is a read-then-write: a racing insert that loses to
// another writer still ends favorited, so the conflict is reported as true.
func (s *Service) Toggle(ctx context.Context, answerID int64, voterID string) (bool, error) {
	voterID, err := validate(answerID, voterID)
	if err != nil {
		return false, err
	}
	ok, err := s.store.AnswerExists(ctx, answerID)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, fmt.Errorf("answer %d: %w", answerID, domain.ErrNotFound)
	}

	exists, err := s.store.FavoriteExists(ctx, answerID, voterID)
	if err != nil {
		return false, err
	}
	favorited := !exists
	if exists {
		err = s.store.DeleteFavorite(ctx, answerID, voterID)
	} else {
		err = s.store.UpsertFavorite(ctx, answerID, voterID)
		if errors.Is(err, domain.ErrConflict) {
			s.log.Debug("favorite insert raced", zap.Int64("answer_id", answerID))
			err = nil
		}
	}
	if err != nil {
		return false, err
	}

	if s.events != nil {
		s.events.Publish(analytics.SubjectFavoriteToggle, "favorite_toggled", voterID, map[string]any{
			"answer_id": answerID,
			"favorited": favorited,
		})
	}
	return favorited, nil
}

// Status is the non-mutating probe.
func (s *Service) Status(ctx context.Context, answerID int64, voterID string) (bool, error) {
	voterID, err := validate(answerID, voterID)
	if err != nil {
		return false, err
	}
	return s.store.FavoriteExists(ctx, answerID, voterID)
}

// List returns every answer the voter has favorited, ascending.
func (s *Service) List(ctx context.Context, voterID string) ([]int64, error) {
	voterID = strings.TrimSpace(voterID)
	if voterID == "" {
		return nil, fmt.Errorf("profile id is required: %w", domain.ErrValidation)
	}
	return s.store.ListFavoritesForVoter(ctx, voterID, nil)
}
