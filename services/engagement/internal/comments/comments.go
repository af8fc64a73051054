// Package comments adds plain-text comments to answers.
package comments

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"github.com/example/answer-engagement/internal/platform/analytics"
	"github.com/example/answer-engagement/services/engagement/internal/cache"
	"github.com/example/answer-engagement/services/engagement/internal/domain"
	"github.com/example/answer-engagement/services/engagement/internal/store"
)

// MaxRunes bounds a comment after sanitization.
const MaxRunes = 2000

type EventPublisher interface {
	Publish(subject, eventName, userID string, props map[string]any)
}

type Service struct {
	store  store.AggregateStore
	cache  cache.Invalidator
	events EventPublisher
	policy *bluemonday.Policy
	log    *zap.Logger
}

func NewService(s store.AggregateStore, c cache.Invalidator, events EventPublisher, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: s, cache: c, events: events, policy: bluemonday.StrictPolicy(), log: log}
}

// Sanitize strips all markup. The result stays HTML-escaped so entity-encoded
// markup is stored as text, never as tags.
func (s *Service) Sanitize(text string) string {
	return strings.TrimSpace(s.policy.Sanitize(text))
}

// Add stores a comment and returns it with the answer's new comment count.
func (s *Service) Add(ctx context.Context, answerID int64, profileID, text string) (domain.Comment, int, error) {
	profileID = strings.TrimSpace(profileID)
	if answerID <= 0 {
		return domain.Comment{}, 0, fmt.Errorf("answer id %d: %w", answerID, domain.ErrValidation)
	}
	if profileID == "" {
		return domain.Comment{}, 0, fmt.Errorf("profile id is required: %w", domain.ErrValidation)
	}
	body := s.Sanitize(text)
	if n := utf8.RuneCountInString(body); n == 0 || n > MaxRunes {
		return domain.Comment{}, 0, fmt.Errorf("comment length %d, want 1..%d: %w", n, MaxRunes, domain.ErrValidation)
	}

	c, err := s.store.AddComment(ctx, domain.Comment{AnswerID: answerID, ProfileID: profileID, Body: body})
	if err != nil {
		return domain.Comment{}, 0, err
	}
	count, err := s.store.CountComments(ctx, answerID)
	if err != nil {
		return domain.Comment{}, 0, err
	}
	if s.cache != nil {
		s.cache.Invalidate(cache.AnswerKey(answerID))
	}
	if s.events != nil {
		s.events.Publish(analytics.SubjectCommentAdded, "comment_added", profileID, map[string]any{
			"answer_id":  answerID,
			"comment_id": c.ID.String(),
		})
	}
	return c, count, nil
}
