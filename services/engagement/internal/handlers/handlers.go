// Package handlers is the HTTP surface of the engagement service.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/example/answer-engagement/internal/platform/api"
	"github.com/example/answer-engagement/internal/platform/auth"
	"github.com/example/answer-engagement/internal/platform/httpserver"
	"github.com/example/answer-engagement/services/engagement/internal/admission"
	"github.com/example/answer-engagement/services/engagement/internal/cache"
	"github.com/example/answer-engagement/services/engagement/internal/comments"
	"github.com/example/answer-engagement/services/engagement/internal/domain"
	"github.com/example/answer-engagement/services/engagement/internal/favorites"
	"github.com/example/answer-engagement/services/engagement/internal/metrics"
	"github.com/example/answer-engagement/services/engagement/internal/store"
	"github.com/example/answer-engagement/services/engagement/internal/userdata"
	"github.com/example/answer-engagement/services/engagement/internal/votes"
)

const maxFormBytes = 64 << 10

var errIdentityMismatch = errors.New("identity does not match token subject")

// Deps wires the handlers. Store is required; nil services are built from
// it with no cache invalidation fan-out and no events.
type Deps struct {
	Store     store.AggregateStore
	Votes     *votes.Service
	Favorites *favorites.Service
	Comments  *comments.Service
	UserData  *userdata.Service
	Guard     *admission.Guard
	Cache     *cache.TTLCache[domain.Answer]
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
}

type Handlers struct {
	store     store.AggregateStore
	votes     *votes.Service
	favorites *favorites.Service
	comments  *comments.Service
	userdata  *userdata.Service
	guard     *admission.Guard
	cache     *cache.TTLCache[domain.Answer]
	metrics   *metrics.Metrics
	log       *zap.Logger
}

func New(d Deps) *Handlers {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Votes == nil {
		d.Votes = votes.NewService(d.Store, votes.Options{Cache: d.Cache, Logger: d.Logger})
	}
	if d.Favorites == nil {
		d.Favorites = favorites.NewService(d.Store, nil, d.Logger)
	}
	if d.Comments == nil {
		d.Comments = comments.NewService(d.Store, d.Cache, nil, d.Logger)
	}
	if d.UserData == nil {
		d.UserData = userdata.NewService(d.Store)
	}
	if d.Guard == nil {
		d.Guard = admission.NewGuard(nil, nil, d.Logger)
	}
	return &Handlers{
		store:     d.Store,
		votes:     d.Votes,
		favorites: d.Favorites,
		comments:  d.Comments,
		userdata:  d.UserData,
		guard:     d.Guard,
		cache:     d.Cache,
		metrics:   d.Metrics,
		log:       d.Logger,
	}
}

// identity resolves the acting profile. A verified token subject wins over
// the submitted id; a submitted id that disagrees with it is refused.
func identity(r *http.Request, submitted string) (string, error) {
	submitted = strings.TrimSpace(submitted)
	sub, ok := auth.UserIDFromContext(r.Context())
	if !ok || sub == "" {
		return submitted, nil
	}
	if submitted != "" && submitted != sub {
		return "", errIdentityMismatch
	}
	return sub, nil
}

// clientAddr prefers the first X-Forwarded-For hop.
func clientAddr(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.ErrValidation
	}
	return id, nil
}

// parseIDList accepts repeated parameters and comma-separated values.
func parseIDList(values []string) ([]int64, error) {
	var out []int64
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part == "" {
				continue
			}
			id, err := strconv.ParseInt(part, 10, 64)
			if err != nil {
				return nil, domain.ErrValidation
			}
			out = append(out, id)
		}
	}
	return out, nil
}

// statusOf maps service errors onto HTTP.
func statusOf(err error) (int, string, string) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, "VALIDATION_ERROR", "invalid"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "not_found"
	case errors.Is(err, admission.ErrRejected):
		return http.StatusTooManyRequests, "RATE_LIMITED", "rejected"
	case errors.Is(err, errIdentityMismatch):
		return http.StatusForbidden, "FORBIDDEN", "forbidden"
	default:
		return http.StatusInternalServerError, "INTERNAL", "error"
	}
}

// failAction writes the {ok:false} envelope used by the action endpoint.
func (h *Handlers) failAction(w http.ResponseWriter, r *http.Request, op string, err error) {
	rid := httpserver.RequestIDFromContext(r.Context())
	status, code, outcome := statusOf(err)
	h.metrics.Action(op, outcome)

	msg := err.Error()
	switch status {
	case http.StatusInternalServerError:
		h.log.Error("action failed", zap.String("op", op), zap.String("request_id", rid),
			zap.String("client", admission.HashAddr(clientAddr(r))), zap.Error(err))
		msg = "internal error"
	case http.StatusTooManyRequests:
		h.log.Info("action rate limited", zap.String("op", op), zap.String("request_id", rid),
			zap.String("client", admission.HashAddr(clientAddr(r))))
		w.Header().Set("Retry-After", "1")
		msg = "too many requests"
	}
	api.WriteActionError(w, status, code, msg, rid)
}

// fail writes the standard error envelope used by read endpoints.
func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	rid := httpserver.RequestIDFromContext(r.Context())
	status, code, _ := statusOf(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.log.Error("request failed", zap.String("path", r.URL.Path), zap.String("request_id", rid), zap.Error(err))
		msg = "internal error"
	}
	api.WriteError(w, status, code, msg, rid, nil)
}

// guarded runs mutate under the admission guard. Duplicates are answered by
// replay with the recorded outcome of the executed request, or nil while that
// request is still in flight.
func (h *Handlers) guarded(
	w http.ResponseWriter, r *http.Request, op admission.Operation, metricOp string,
	mutate func(context.Context) (any, error),
	replay func(context.Context, []byte) (any, error),
) {
	ctx := r.Context()
	dec, err := h.guard.Admit(ctx, admission.Key(op.VoterID, clientAddr(r)), op)
	if err != nil {
		h.metrics.Rejected(metricOp)
		h.failAction(w, r, metricOp, err)
		return
	}
	if dec.Duplicate {
		h.metrics.Deduped(metricOp)
		resp, err := replay(ctx, dec.Previous)
		if err != nil {
			h.failAction(w, r, metricOp, err)
			return
		}
		h.metrics.Action(metricOp, "deduped")
		api.WriteJSON(w, http.StatusOK, resp)
		return
	}

	resp, err := mutate(ctx)
	if err != nil {
		h.guard.Abort(context.WithoutCancel(ctx), dec)
		h.failAction(w, r, metricOp, err)
		return
	}
	if b, err := json.Marshal(resp); err == nil {
		h.guard.Complete(context.WithoutCancel(ctx), dec, b)
	}
	h.metrics.Action(metricOp, "ok")
	api.WriteJSON(w, http.StatusOK, resp)
}
