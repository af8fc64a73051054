package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/example/answer-engagement/services/engagement/internal/client"
	"github.com/example/answer-engagement/services/engagement/internal/domain"
)

// answerView is the printed form of one answer's state.
type answerView struct {
	AnswerID  int64            `json:"answerId"`
	Selection domain.Level     `json:"selection"`
	Votes     domain.VoteTally `json:"votes"`
	Score     int              `json:"score"`
	Favorited bool             `json:"favorited"`
}

func viewOf(id int64, s client.State) answerView {
	return answerView{AnswerID: id, Selection: s.Selection, Votes: s.Counts, Score: s.Counts.Score(), Favorited: s.Favorited}
}

func (v answerView) String() string {
	sel := "-"
	if v.Selection != domain.LevelNone {
		sel = fmt.Sprint(int(v.Selection))
	}
	return fmt.Sprintf("answer %d  votes %d/%d/%d  score %d  mine %s  favorited %t",
		v.AnswerID, v.Votes.Level1, v.Votes.Level2, v.Votes.Level3, v.Score, sel, v.Favorited)
}

type userDataView domain.UserAnswerData

func (u userDataView) String() string {
	ids := make([]int64, 0, len(u.Votes))
	for id := range u.Votes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var b strings.Builder
	for _, id := range ids {
		fmt.Fprintf(&b, "vote answer %d level %d\n", id, u.Votes[id])
	}
	fmt.Fprintf(&b, "favorites %v", u.Favorites)
	return b.String()
}

// write prints v as JSON or via its String method.
func write(w io.Writer, format string, v fmt.Stringer) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	_, err := fmt.Fprintln(w, v.String())
	return err
}
