// Package store defines the AggregateStore contract and its backends:
// in-memory (development), Postgres (production) and SQLite (single node).
package store

import (
	"context"
	"sort"

	"github.com/example/answer-engagement/services/engagement/internal/domain"
)

// AggregateStore is the durable store of record for vote rows, favorite
// rows, comments and the read-mostly answers they hang off.
//
// Every write is a single statement; callers never need a transaction.
// Unknown answers surface as domain.ErrNotFound, transient serialization
// failures as domain.ErrConflict.
type AggregateStore interface {
	UpsertVote(ctx context.Context, answerID int64, voterID string, level domain.Level) error
	DeleteVote(ctx context.Context, answerID int64, voterID string) error
	ListVotes(ctx context.Context, answerID int64) ([]domain.VoteRecord, error)
	ListVotesForAnswers(ctx context.Context, answerIDs []int64) (map[int64][]domain.VoteRecord, error)
	ListVotesByVoter(ctx context.Context, voterID string, answerIDs []int64) (map[int64]domain.Level, error)
	SaveTally(ctx context.Context, answerID int64, tally domain.VoteTally) error

	UpsertFavorite(ctx context.Context, answerID int64, voterID string) error
	DeleteFavorite(ctx context.Context, answerID int64, voterID string) error
	FavoriteExists(ctx context.Context, answerID int64, voterID string) (bool, error)
	// ListFavoritesForVoter returns favorited answer ids in ascending order.
	// A nil answerIDs means every favorite of the voter.
	ListFavoritesForVoter(ctx context.Context, voterID string, answerIDs []int64) ([]int64, error)

	GetAnswer(ctx context.Context, answerID int64) (domain.Answer, error)
	AnswerExists(ctx context.Context, answerID int64) (bool, error)
	AddComment(ctx context.Context, c domain.Comment) (domain.Comment, error)
	CountComments(ctx context.Context, answerID int64) (int, error)

	Ping(ctx context.Context) error
	Close() error
}

// Seeder creates answers. Answers are owned by an external system; seeding
// exists for development data and tests. A zero ID is assigned by the store.
type Seeder interface {
	SeedAnswer(ctx context.Context, a domain.Answer) (domain.Answer, error)
}

func sortVotes(records []domain.VoteRecord) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].AnswerID != records[j].AnswerID {
			return records[i].AnswerID < records[j].AnswerID
		}
		return records[i].VoterID < records[j].VoterID
	})
}

func sortIDs(ids []int64) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
