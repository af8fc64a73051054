package handlers

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/example/answer-engagement/internal/platform/api"
	"github.com/example/answer-engagement/services/engagement/internal/cache"
	"github.com/example/answer-engagement/services/engagement/internal/domain"
	"github.com/example/answer-engagement/services/engagement/internal/userdata"
	"github.com/example/answer-engagement/services/engagement/internal/votes"
)

type favoritesResponse struct {
	Favorites []int64 `json:"favorites"`
}

type answersResponse struct {
	Answers []votes.Summary `json:"answers"`
}

// UserData handles GET /api/user-data?profileId=&answerIds=
func (h *Handlers) UserData(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	voter, err := identity(r, q.Get("profileId"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ids, err := parseIDList(q["answerIds"])
	if err != nil {
		h.fail(w, r, fmt.Errorf("answerIds: %w", err))
		return
	}
	data, err := h.userdata.Get(r.Context(), voter, ids)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, data)
}

// GetAnswer handles GET /api/answers/{answer_id}
func (h *Handlers) GetAnswer(w http.ResponseWriter, r *http.Request) {
	answerID, err := parseID(chi.URLParam(r, "answer_id"))
	if err != nil {
		h.fail(w, r, fmt.Errorf("answer_id: %w", err))
		return
	}
	viewer, err := identity(r, r.URL.Query().Get("profileId"))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	ctx := r.Context()
	key := cache.AnswerKey(answerID)
	answer, hit := h.cache.Get(key)
	h.metrics.CacheLookup(hit)
	if !hit {
		res, err := h.votes.Current(ctx, answerID)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		count, err := h.store.CountComments(ctx, answerID)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		answer = res.Answer
		answer.CommentCount = count
		answer.Favorited = nil
		h.cache.Set(key, answer)
	}

	if viewer != "" {
		fav, err := h.favorites.Status(ctx, answerID, viewer)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		answer.Favorited = &fav
	}
	api.WriteJSON(w, http.StatusOK, answer)
}

// ListAnswers handles GET /api/answers?ids=
func (h *Handlers) ListAnswers(w http.ResponseWriter, r *http.Request) {
	raw, err := parseIDList(r.URL.Query()["ids"])
	if err != nil {
		h.fail(w, r, fmt.Errorf("ids: %w", err))
		return
	}
	ids := userdata.Normalize(raw)
	if len(ids) > userdata.MaxAnswerIDs {
		h.fail(w, r, fmt.Errorf("%d ids, at most %d: %w", len(ids), userdata.MaxAnswerIDs, domain.ErrValidation))
		return
	}
	if len(ids) == 0 {
		api.WriteJSON(w, http.StatusOK, answersResponse{Answers: []votes.Summary{}})
		return
	}
	summaries, err := h.votes.Summaries(r.Context(), ids)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, answersResponse{Answers: summaries})
}

// Favorites handles GET /api/favorites?profileId=
func (h *Handlers) Favorites(w http.ResponseWriter, r *http.Request) {
	voter, err := identity(r, r.URL.Query().Get("profileId"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ids, err := h.favorites.List(r.Context(), voter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if ids == nil {
		ids = []int64{}
	}
	api.WriteJSON(w, http.StatusOK, favoritesResponse{Favorites: ids})
}
