package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/example/answer-engagement/services/engagement/internal/domain"
)

var (
	// ErrLoginRequired is returned before any local change when the viewer
	// is anonymous.
	ErrLoginRequired = errors.New("login required")
	ErrNotMounted    = errors.New("answer not mounted")
)

type Options struct {
	// ViewerID is the signed-in profile; empty means anonymous.
	ViewerID string
	// Reconcile issues a background GetAnswer after a failed action.
	Reconcile bool

	OnError          func(answerID int64, err error)
	OnLoginRequired  func(answerID int64)
	OnFavoriteChange func(answerID int64, favorited bool)
	Logger           *zap.Logger
}

// Runner owns the local state of every answer mounted for one viewer.
// Actions predict synchronously and settle on their own goroutine.
type Runner struct {
	backend Backend
	opts    Options
	log     *zap.Logger

	mu      sync.Mutex
	entries map[int64]*entry
	gen     uint64
	wg      sync.WaitGroup
}

type entry struct {
	// gen changes on every mount so a remounted answer ignores responses
	// addressed to its previous life.
	gen   uint64
	state State
	// confirmed is the last state the server acknowledged. A failed action
	// that leaves nothing pending of its kind restores from it.
	confirmed State
	// seq counts every action issued; reconciliation and hydration only land
	// when it has not moved while they were in flight.
	seq          uint64
	votesPending int
	favsPending  int
}

func NewRunner(b Backend, opts Options) *Runner {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Runner{backend: b, opts: opts, log: opts.Logger, entries: make(map[int64]*entry)}
}

// Mount starts tracking answerID seeded from hint.
func (r *Runner) Mount(answerID int64, hint domain.Answer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gen++
	st := StateFromAnswer(hint, r.opts.ViewerID)
	r.entries[answerID] = &entry{gen: r.gen, state: st, confirmed: st}
}

func (r *Runner) Unmount(answerID int64) {
	r.mu.Lock()
	delete(r.entries, answerID)
	r.mu.Unlock()
}

// State returns the current local state of answerID.
func (r *Runner) State(answerID int64) (State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[answerID]
	if !ok {
		return State{}, false
	}
	return e.state, true
}

// Wait blocks until every in-flight action and reconciliation has settled.
func (r *Runner) Wait() { r.wg.Wait() }

// Hydrate overwrites selection and favorite flags of the mounted answers
// among ids with the viewer's stored data. Anonymous viewers are a no-op.
// Answers acted on while the read was in flight keep their local state.
func (r *Runner) Hydrate(ctx context.Context, ids []int64) error {
	if r.opts.ViewerID == "" || len(ids) == 0 {
		return nil
	}
	type mark struct{ gen, seq uint64 }
	marks := make(map[int64]mark, len(ids))
	r.mu.Lock()
	for _, id := range ids {
		if e, ok := r.entries[id]; ok {
			marks[id] = mark{gen: e.gen, seq: e.seq}
		}
	}
	r.mu.Unlock()

	data, err := r.backend.UserAnswerData(ctx, r.opts.ViewerID, ids)
	if err != nil {
		return fmt.Errorf("hydrate: %w", err)
	}
	favs := make(map[int64]bool, len(data.Favorites))
	for _, id := range data.Favorites {
		favs[id] = true
	}

	var changed []int64
	r.mu.Lock()
	for _, id := range ids {
		e, ok := r.entries[id]
		if !ok || marks[id] != (mark{gen: e.gen, seq: e.seq}) {
			continue
		}
		if e.votesPending == 0 {
			e.state.Selection = data.Votes[id]
			e.confirmed.Selection = e.state.Selection
		}
		if e.favsPending == 0 {
			if e.state.Favorited != favs[id] {
				changed = append(changed, id)
			}
			e.state.Favorited = favs[id]
			e.confirmed.Favorited = favs[id]
		}
	}
	r.mu.Unlock()

	for _, id := range changed {
		r.favoriteChanged(id, favs[id])
	}
	return nil
}

type actionKind int

const (
	voteAction actionKind = iota
	favoriteAction
)

// begin applies predict to the mounted entry and marks one action of kind
// as pending.
func (r *Runner) begin(answerID int64, kind actionKind, predict func(State) State) (next State, gen uint64, err error) {
	if r.opts.ViewerID == "" {
		if r.opts.OnLoginRequired != nil {
			r.opts.OnLoginRequired(answerID)
		}
		return State{}, 0, ErrLoginRequired
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[answerID]
	if !ok {
		return State{}, 0, ErrNotMounted
	}
	e.state = predict(e.state)
	e.seq++
	switch kind {
	case voteAction:
		e.votesPending++
	case favoriteAction:
		e.favsPending++
	}
	return e.state, e.gen, nil
}

// Vote records a click on level (1..3); clicking the current selection
// removes the vote.
func (r *Runner) Vote(ctx context.Context, answerID int64, level domain.Level) error {
	if !level.Valid() {
		return fmt.Errorf("level %d: %w", level, domain.ErrValidation)
	}
	var wire, previous domain.Level
	_, gen, err := r.begin(answerID, voteAction, func(s State) State {
		previous = s.Selection
		next, w := PredictVote(s, level)
		wire = w
		return next
	})
	if err != nil {
		return err
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		answer, err := r.backend.CastVote(ctx, answerID, r.opts.ViewerID, wire, previous)
		r.settleVote(answerID, gen, answer, err)
	}()
	return nil
}

func (r *Runner) settleVote(answerID int64, gen uint64, answer domain.Answer, callErr error) {
	r.mu.Lock()
	e, ok := r.entries[answerID]
	if !ok || e.gen != gen {
		r.mu.Unlock()
		return
	}
	e.votesPending--
	if callErr == nil {
		// Latest-arriving response wins.
		e.confirmed.Counts = answer.Votes
		e.confirmed.Selection = answer.VotesBy[r.opts.ViewerID]
		e.state.Counts = e.confirmed.Counts
		e.state.Selection = e.confirmed.Selection
		r.mu.Unlock()
		return
	}
	if e.votesPending == 0 {
		e.state.Counts = e.confirmed.Counts
		e.state.Selection = e.confirmed.Selection
	}
	r.mu.Unlock()
	r.failed(answerID, gen, callErr)
}

// ToggleFavorite flips the viewer's favorite on answerID.
func (r *Runner) ToggleFavorite(ctx context.Context, answerID int64) error {
	next, gen, err := r.begin(answerID, favoriteAction, PredictFavorite)
	if err != nil {
		return err
	}
	r.favoriteChanged(answerID, next.Favorited)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		fav, err := r.backend.ToggleFavorite(ctx, answerID, r.opts.ViewerID)
		r.settleFavorite(answerID, gen, fav, err)
	}()
	return nil
}

func (r *Runner) settleFavorite(answerID int64, gen uint64, fav bool, callErr error) {
	r.mu.Lock()
	e, ok := r.entries[answerID]
	if !ok || e.gen != gen {
		r.mu.Unlock()
		return
	}
	e.favsPending--
	before := e.state.Favorited
	switch {
	case callErr == nil:
		e.confirmed.Favorited = fav
		e.state.Favorited = fav
	case e.favsPending == 0:
		e.state.Favorited = e.confirmed.Favorited
	}
	after := e.state.Favorited
	r.mu.Unlock()

	if after != before {
		r.favoriteChanged(answerID, after)
	}
	if callErr != nil {
		r.failed(answerID, gen, callErr)
	}
}

func (r *Runner) failed(answerID int64, gen uint64, err error) {
	r.log.Warn("engagement action failed", zap.Int64("answer_id", answerID), zap.Error(err))
	if r.opts.OnError != nil {
		r.opts.OnError(answerID, err)
	}
	if !r.opts.Reconcile {
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.reconcile(answerID, gen)
	}()
}

// reconcile replaces the local state with a fresh server read unless an
// action was issued while the read was in flight or is still pending.
func (r *Runner) reconcile(answerID int64, gen uint64) {
	r.mu.Lock()
	e, ok := r.entries[answerID]
	if !ok || e.gen != gen {
		r.mu.Unlock()
		return
	}
	seq := e.seq
	r.mu.Unlock()

	answer, err := r.backend.GetAnswer(context.Background(), answerID, r.opts.ViewerID)
	if err != nil {
		r.log.Warn("engagement reconcile failed", zap.Int64("answer_id", answerID), zap.Error(err))
		return
	}

	r.mu.Lock()
	e, ok = r.entries[answerID]
	if !ok || e.gen != gen || e.seq != seq || e.votesPending > 0 || e.favsPending > 0 {
		r.mu.Unlock()
		return
	}
	before := e.state.Favorited
	fresh := StateFromAnswer(answer, r.opts.ViewerID)
	if answer.Favorited == nil {
		fresh.Favorited = e.confirmed.Favorited
	}
	e.state = fresh
	e.confirmed = fresh
	r.mu.Unlock()

	if fresh.Favorited != before {
		r.favoriteChanged(answerID, fresh.Favorited)
	}
}

func (r *Runner) favoriteChanged(answerID int64, favorited bool) {
	if r.opts.OnFavoriteChange != nil {
		r.opts.OnFavoriteChange(answerID, favorited)
	}
}
