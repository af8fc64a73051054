// Package votes implements vote casting with per-answer tally recomputation.
package votes

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/example/answer-engagement/internal/platform/analytics"
	"github.com/example/answer-engagement/services/engagement/internal/cache"
	"github.com/example/answer-engagement/services/engagement/internal/domain"
	"github.com/example/answer-engagement/services/engagement/internal/store"
)

// EventPublisher is satisfied by *analytics.Publisher.
type EventPublisher interface {
	Publish(subject, eventName, userID string, props map[string]any)
}

// Result is the authoritative state of one answer after a cast.
type Result struct {
	Answer    domain.Answer
	Tally     domain.VoteTally
	VotersMap map[string]domain.Level
}

// Summary is the list-view hint for one answer.
type Summary struct {
	AnswerID int64                   `json:"answerId"`
	Votes    domain.VoteTally        `json:"votes"`
	VotesBy  map[string]domain.Level `json:"votesBy"`
	Score    int                     `json:"score"`
}

type Options struct {
	Cache  cache.Invalidator
	Events EventPublisher
	Logger *zap.Logger
}

type Service struct {
	store  store.AggregateStore
	cache  cache.Invalidator
	events EventPublisher
	log    *zap.Logger
}

func NewService(s store.AggregateStore, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Service{store: s, cache: opts.Cache, events: opts.Events, log: opts.Logger}
}

// CastVote stores level for (answerID, voterID), or removes the vote when
// level is LevelNone, then recomputes the tally from a fresh listing.
func (s *Service) CastVote(ctx context.Context, answerID int64, voterID string, level domain.Level) (Result, error) {
	voterID = strings.TrimSpace(voterID)
	switch {
	case answerID <= 0:
		return Result{}, fmt.Errorf("answer id %d: %w", answerID, domain.ErrValidation)
	case voterID == "":
		return Result{}, fmt.Errorf("voter id is required: %w", domain.ErrValidation)
	case !level.ValidCast():
		return Result{}, fmt.Errorf("level %d: %w", level, domain.ErrValidation)
	}

	var answer domain.Answer
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a, err := s.store.GetAnswer(gctx, answerID)
		answer = a
		return err
	})
	g.Go(func() error {
		if level == domain.LevelNone {
			return s.store.DeleteVote(gctx, answerID, voterID)
		}
		return s.store.UpsertVote(gctx, answerID, voterID, level)
	})
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	res, err := s.recompute(ctx, answer)
	if err != nil {
		return Result{}, err
	}
	if err := s.store.SaveTally(ctx, answerID, res.Tally); err != nil {
		s.log.Warn("save tally failed", zap.Int64("answer_id", answerID), zap.Error(err))
	}
	if s.cache != nil {
		s.cache.Invalidate(cache.AnswerKey(answerID))
	}
	if s.events != nil {
		s.events.Publish(analytics.SubjectVoteCast, "vote_cast", voterID, map[string]any{
			"answer_id": answerID,
			"level":     int(level),
			"score":     res.Tally.Score(),
		})
	}
	return res, nil
}

// Current returns the same shape as CastVote without writing anything.
func (s *Service) Current(ctx context.Context, answerID int64) (Result, error) {
	if answerID <= 0 {
		return Result{}, fmt.Errorf("answer id %d: %w", answerID, domain.ErrValidation)
	}
	answer, err := s.store.GetAnswer(ctx, answerID)
	if err != nil {
		return Result{}, err
	}
	return s.recompute(ctx, answer)
}

func (s *Service) recompute(ctx context.Context, answer domain.Answer) (Result, error) {
	rows, err := s.store.ListVotes(ctx, answer.ID)
	if err != nil {
		return Result{}, err
	}
	tally, voters := domain.TallyOf(rows), domain.VotersOf(rows)
	answer.Votes = tally
	answer.VotesBy = voters
	return Result{Answer: answer, Tally: tally, VotersMap: voters}, nil
}

// Summaries returns tallies and voter maps for answerIDs from one bulk read.
// Answers without votes get an empty summary.
func (s *Service) Summaries(ctx context.Context, answerIDs []int64) ([]Summary, error) {
	byAnswer, err := s.store.ListVotesForAnswers(ctx, answerIDs)
	if err != nil {
		return nil, err
	}
	out := make([]Summary, 0, len(answerIDs))
	for _, id := range answerIDs {
		rows := byAnswer[id]
		tally := domain.TallyOf(rows)
		out = append(out, Summary{AnswerID: id, Votes: tally, VotesBy: domain.VotersOf(rows), Score: tally.Score()})
	}
	return out, nil
}
