package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/answer-engagement/services/engagement/internal/domain"
)

// InMemoryStore is a development-only AggregateStore.
// WARNING: state is lost on restart and is not shared across instances.
type InMemoryStore struct {
	mu        sync.RWMutex
	answers   map[int64]domain.Answer
	votes     map[int64]map[string]domain.Level // answer_id -> voter_id -> level
	favorites map[int64]map[string]struct{}     // answer_id -> voter_id
	comments  map[int64][]domain.Comment
	nextID    int64
	now       func() time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		answers:   make(map[int64]domain.Answer),
		votes:     make(map[int64]map[string]domain.Level),
		favorites: make(map[int64]map[string]struct{}),
		comments:  make(map[int64][]domain.Comment),
		now:       time.Now,
	}
}

func (s *InMemoryStore) SeedAnswer(_ context.Context, a domain.Answer) (domain.Answer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == 0 {
		s.nextID++
		a.ID = s.nextID
	} else if a.ID > s.nextID {
		s.nextID = a.ID
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now().UTC()
	}
	a.VotesBy = nil
	a.Favorited = nil
	a.CommentCount = 0
	s.answers[a.ID] = a
	return a, nil
}

func (s *InMemoryStore) UpsertVote(_ context.Context, answerID int64, voterID string, level domain.Level) error {
	if !level.Valid() {
		return fmt.Errorf("level %d: %w", level, domain.ErrValidation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.answers[answerID]; !ok {
		return fmt.Errorf("answer %d: %w", answerID, domain.ErrNotFound)
	}
	if s.votes[answerID] == nil {
		s.votes[answerID] = make(map[string]domain.Level)
	}
	s.votes[answerID][voterID] = level
	return nil
}

func (s *InMemoryStore) DeleteVote(_ context.Context, answerID int64, voterID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.votes[answerID], voterID)
	return nil
}

func (s *InMemoryStore) ListVotes(_ context.Context, answerID int64) ([]domain.VoteRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listLocked(answerID), nil
}

func (s *InMemoryStore) listLocked(answerID int64) []domain.VoteRecord {
	out := make([]domain.VoteRecord, 0, len(s.votes[answerID]))
	for voter, level := range s.votes[answerID] {
		out = append(out, domain.VoteRecord{AnswerID: answerID, VoterID: voter, Level: level})
	}
	sortVotes(out)
	return out
}

func (s *InMemoryStore) ListVotesForAnswers(_ context.Context, answerIDs []int64) (map[int64][]domain.VoteRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int64][]domain.VoteRecord, len(answerIDs))
	for _, id := range answerIDs {
		if rows := s.listLocked(id); len(rows) > 0 {
			out[id] = rows
		}
	}
	return out, nil
}

func (s *InMemoryStore) ListVotesByVoter(_ context.Context, voterID string, answerIDs []int64) (map[int64]domain.Level, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int64]domain.Level)
	for _, id := range answerIDs {
		if level, ok := s.votes[id][voterID]; ok {
			out[id] = level
		}
	}
	return out, nil
}

func (s *InMemoryStore) SaveTally(_ context.Context, answerID int64, tally domain.VoteTally) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.answers[answerID]
	if !ok {
		return fmt.Errorf("answer %d: %w", answerID, domain.ErrNotFound)
	}
	a.Votes = tally
	s.answers[answerID] = a
	return nil
}

func (s *InMemoryStore) UpsertFavorite(_ context.Context, answerID int64, voterID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.answers[answerID]; !ok {
		return fmt.Errorf("answer %d: %w", answerID, domain.ErrNotFound)
	}
	if s.favorites[answerID] == nil {
		s.favorites[answerID] = make(map[string]struct{})
	}
	s.favorites[answerID][voterID] = struct{}{}
	return nil
}

func (s *InMemoryStore) DeleteFavorite(_ context.Context, answerID int64, voterID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.favorites[answerID], voterID)
	return nil
}

func (s *InMemoryStore) FavoriteExists(_ context.Context, answerID int64, voterID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.favorites[answerID][voterID]
	return ok, nil
}

func (s *InMemoryStore) ListFavoritesForVoter(_ context.Context, voterID string, answerIDs []int64) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []int64{}
	if answerIDs == nil {
		for id, voters := range s.favorites {
			if _, ok := voters[voterID]; ok {
				out = append(out, id)
			}
		}
	} else {
		for _, id := range answerIDs {
			if _, ok := s.favorites[id][voterID]; ok {
				out = append(out, id)
			}
		}
	}
	sortIDs(out)
	return out, nil
}

func (s *InMemoryStore) GetAnswer(_ context.Context, answerID int64) (domain.Answer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.answers[answerID]
	if !ok {
		return domain.Answer{}, fmt.Errorf("answer %d: %w", answerID, domain.ErrNotFound)
	}
	a.CommentCount = len(s.comments[answerID])
	return a, nil
}

func (s *InMemoryStore) AnswerExists(_ context.Context, answerID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.answers[answerID]
	return ok, nil
}

func (s *InMemoryStore) AddComment(_ context.Context, c domain.Comment) (domain.Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.answers[c.AnswerID]; !ok {
		return domain.Comment{}, fmt.Errorf("answer %d: %w", c.AnswerID, domain.ErrNotFound)
	}
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.CreatedAt = s.now().UTC()
	s.comments[c.AnswerID] = append(s.comments[c.AnswerID], c)
	return c, nil
}

func (s *InMemoryStore) CountComments(_ context.Context, answerID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.comments[answerID]), nil
}

func (s *InMemoryStore) Ping(context.Context) error { return nil }

func (s *InMemoryStore) Close() error { return nil }
