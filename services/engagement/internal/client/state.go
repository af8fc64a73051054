package client

import "github.com/example/answer-engagement/services/engagement/internal/domain"

// State is the viewer's local view of one answer.
type State struct {
	// Selection is LevelNone when the viewer has no vote.
	Selection domain.Level
	Counts    domain.VoteTally
	Favorited bool
}

// StateFromAnswer seeds a State from an answer's embedded hints.
func StateFromAnswer(a domain.Answer, viewerID string) State {
	s := State{Counts: a.Votes}
	if viewerID != "" {
		s.Selection = a.VotesBy[viewerID]
	}
	if a.Favorited != nil {
		s.Favorited = *a.Favorited
	}
	return s
}

// PredictVote applies a click on level to s. Clicking the current selection
// removes the vote. The returned level is what goes on the wire.
func PredictVote(s State, level domain.Level) (State, domain.Level) {
	if s.Selection == level {
		s.Counts = s.Counts.Add(level, -1)
		s.Selection = domain.LevelNone
		return s, domain.LevelNone
	}
	if s.Selection != domain.LevelNone {
		s.Counts = s.Counts.Add(s.Selection, -1)
	}
	s.Counts = s.Counts.Add(level, 1)
	s.Selection = level
	return s, level
}

func PredictFavorite(s State) State {
	s.Favorited = !s.Favorited
	return s
}
