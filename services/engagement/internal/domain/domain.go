// Package domain holds the engagement data model shared by the server
// services, the stores and the client engine.
package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
)

// Level is a vote level. LevelNone is never stored: it is the absence of a
// VoteRecord.
type Level int

const (
	LevelNone Level = 0
	Level1    Level = 1
	Level2    Level = 2
	Level3    Level = 3
)

// Valid reports whether l can be stored.
func (l Level) Valid() bool { return l >= Level1 && l <= Level3 }

// ValidCast reports whether l is accepted by a vote cast (0 removes the vote).
func (l Level) ValidCast() bool { return l >= LevelNone && l <= Level3 }

type VoteRecord struct {
	AnswerID int64
	VoterID  string
	Level    Level
}

// VoteTally is the per-level frequency count of one answer.
type VoteTally struct {
	Level1 int `json:"level1"`
	Level2 int `json:"level2"`
	Level3 int `json:"level3"`
}

func (t VoteTally) Total() int { return t.Level1 + t.Level2 + t.Level3 }

// Score is the weighted presentation score. It is never stored.
func (t VoteTally) Score() int { return 1*t.Level1 + 2*t.Level2 + 3*t.Level3 }

// Add moves the bucket of l by delta, flooring at zero.
func (t VoteTally) Add(l Level, delta int) VoteTally {
	bump := func(n int) int {
		n += delta
		if n < 0 {
			return 0
		}
		return n
	}
	switch l {
	case Level1:
		t.Level1 = bump(t.Level1)
	case Level2:
		t.Level2 = bump(t.Level2)
	case Level3:
		t.Level3 = bump(t.Level3)
	}
	return t
}

// TallyOf counts records per level. Records with an invalid level are ignored.
func TallyOf(records []VoteRecord) VoteTally {
	var t VoteTally
	for _, r := range records {
		t = t.Add(r.Level, 1)
	}
	return t
}

// VotersOf builds the voter -> level map from one listing.
func VotersOf(records []VoteRecord) map[string]Level {
	out := make(map[string]Level, len(records))
	for _, r := range records {
		if r.Level.Valid() {
			out[r.VoterID] = r.Level
		}
	}
	return out
}

type FavoriteRecord struct {
	AnswerID int64
	VoterID  string
}

// Answer is the read-mostly answer. Votes and VotesBy are render hints only.
type Answer struct {
	ID           int64            `json:"id"`
	Body         string           `json:"body"`
	Votes        VoteTally        `json:"votes"`
	VotesBy      map[string]Level `json:"votesBy,omitempty"`
	Favorited    *bool            `json:"favorited,omitempty"`
	CommentCount int              `json:"commentCount"`
	CreatedAt    time.Time        `json:"createdAt"`
}

type Comment struct {
	ID        uuid.UUID `json:"id"`
	AnswerID  int64     `json:"answerId"`
	ProfileID string    `json:"profileId"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}

// UserAnswerData is the per-viewer hydration payload for a set of answers.
type UserAnswerData struct {
	Votes     map[int64]Level `json:"votes"`
	Favorites []int64         `json:"favorites"`
}

// EmptyUserAnswerData is the anonymous (or empty request) result.
func EmptyUserAnswerData() UserAnswerData {
	return UserAnswerData{Votes: map[int64]Level{}, Favorites: []int64{}}
}
