package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/example/answer-engagement/internal/platform/api"
	"github.com/example/answer-engagement/internal/platform/httpserver"
	"github.com/example/answer-engagement/services/engagement/internal/admission"
	"github.com/example/answer-engagement/services/engagement/internal/domain"
)

const (
	opVote     = "vote"
	opFavorite = "favorite"
	opStatus   = "favorite_status"
	opComment  = "comment"
)

type favoriteResponse struct {
	Favorited bool `json:"favorited"`
	Deduped   bool `json:"deduped,omitempty"`
}

type voteResponse struct {
	Answer  domain.Answer `json:"answer"`
	Deduped bool          `json:"deduped,omitempty"`
}

type commentResponse struct {
	OK           bool `json:"ok"`
	CommentCount int  `json:"commentCount"`
	Deduped      bool `json:"deduped,omitempty"`
}

// Actions handles POST /api/actions and POST /api/favorites/actions.
// The form fields select the operation; an unrecognized form is a 204.
func (h *Handlers) Actions(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		api.WriteActionError(w, http.StatusBadRequest, "INVALID_FORM", "invalid form body",
			httpserver.RequestIDFromContext(r.Context()))
		return
	}
	f := r.PostForm

	switch op := strings.TrimSpace(f.Get("op")); {
	case op == "toggle":
		h.toggleFavorite(w, r, f)
	case op == "status":
		h.favoriteStatus(w, r, f)
	case f.Has("level"):
		h.castVote(w, r, f)
	case f.Has("text"):
		h.addComment(w, r, f)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *Handlers) toggleFavorite(w http.ResponseWriter, r *http.Request, f url.Values) {
	voter, err := identity(r, f.Get("profileId"))
	if err != nil {
		h.failAction(w, r, opFavorite, err)
		return
	}
	answerID, err := parseID(f.Get("answerId"))
	if err != nil || voter == "" {
		h.failAction(w, r, opFavorite, domain.ErrValidation)
		return
	}

	op := admission.Operation{Kind: admission.KindFavoriteToggle, VoterID: voter, AnswerID: answerID}
	h.guarded(w, r, op, opFavorite,
		func(ctx context.Context) (any, error) {
			fav, err := h.favorites.Toggle(ctx, answerID, voter)
			if err != nil {
				return nil, err
			}
			return favoriteResponse{Favorited: fav}, nil
		},
		func(ctx context.Context, prev []byte) (any, error) {
			var resp favoriteResponse
			if prev == nil || json.Unmarshal(prev, &resp) != nil {
				fav, err := h.favorites.Status(ctx, answerID, voter)
				if err != nil {
					return nil, err
				}
				resp.Favorited = fav
			}
			resp.Deduped = true
			return resp, nil
		},
	)
}

func (h *Handlers) favoriteStatus(w http.ResponseWriter, r *http.Request, f url.Values) {
	voter, err := identity(r, f.Get("profileId"))
	if err != nil {
		h.failAction(w, r, opStatus, err)
		return
	}
	answerID, err := parseID(f.Get("answerId"))
	if err != nil || voter == "" {
		h.failAction(w, r, opStatus, domain.ErrValidation)
		return
	}
	fav, err := h.favorites.Status(r.Context(), answerID, voter)
	if err != nil {
		h.failAction(w, r, opStatus, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, favoriteResponse{Favorited: fav})
}

func (h *Handlers) castVote(w http.ResponseWriter, r *http.Request, f url.Values) {
	voter, err := identity(r, f.Get("userId"))
	if err != nil {
		h.failAction(w, r, opVote, err)
		return
	}
	answerID, err := parseID(f.Get("answerId"))
	if err != nil || voter == "" {
		h.failAction(w, r, opVote, domain.ErrValidation)
		return
	}
	n, err := strconv.Atoi(strings.TrimSpace(f.Get("level")))
	level := domain.Level(n)
	if err != nil || !level.ValidCast() {
		h.failAction(w, r, opVote, domain.ErrValidation)
		return
	}
	if prev := f.Get("previousLevel"); prev != "" {
		h.log.Debug("vote previous level", zap.Int64("answer_id", answerID),
			zap.String("previous_level", prev), zap.Int("level", n))
	}

	op := admission.Operation{Kind: admission.VoteKind(level), VoterID: voter, AnswerID: answerID}
	h.guarded(w, r, op, opVote,
		func(ctx context.Context) (any, error) {
			res, err := h.votes.CastVote(ctx, answerID, voter, level)
			if err != nil {
				return nil, err
			}
			return voteResponse{Answer: res.Answer}, nil
		},
		func(ctx context.Context, prev []byte) (any, error) {
			var resp voteResponse
			if prev == nil || json.Unmarshal(prev, &resp) != nil {
				res, err := h.votes.Current(ctx, answerID)
				if err != nil {
					return nil, err
				}
				resp.Answer = res.Answer
			}
			resp.Deduped = true
			return resp, nil
		},
	)
}

func (h *Handlers) addComment(w http.ResponseWriter, r *http.Request, f url.Values) {
	profile, err := identity(r, f.Get("profileId"))
	if err != nil {
		h.failAction(w, r, opComment, err)
		return
	}
	answerID, err := parseID(f.Get("answerId"))
	if err != nil || profile == "" {
		h.failAction(w, r, opComment, domain.ErrValidation)
		return
	}
	text := f.Get("text")

	op := admission.Operation{Kind: admission.CommentKind(text), VoterID: profile, AnswerID: answerID}
	h.guarded(w, r, op, opComment,
		func(ctx context.Context) (any, error) {
			_, count, err := h.comments.Add(ctx, answerID, profile, text)
			if err != nil {
				return nil, err
			}
			return commentResponse{OK: true, CommentCount: count}, nil
		},
		func(ctx context.Context, prev []byte) (any, error) {
			var resp commentResponse
			if prev == nil || json.Unmarshal(prev, &resp) != nil {
				count, err := h.store.CountComments(ctx, answerID)
				if err != nil {
					return nil, err
				}
				resp = commentResponse{OK: true, CommentCount: count}
			}
			resp.Deduped = true
			return resp, nil
		},
	)
}
