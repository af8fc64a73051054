// Package client is the optimistic client engine for the engagement API:
// local predictions applied on click, reconciled with server responses.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/example/answer-engagement/services/engagement/internal/domain"
)

// ErrRejected reports an admission rejection or an {ok:false} body.
var ErrRejected = errors.New("request rejected by server")

// Backend is the server as seen by the Runner.
type Backend interface {
	CastVote(ctx context.Context, answerID int64, voterID string, level, previous domain.Level) (domain.Answer, error)
	ToggleFavorite(ctx context.Context, answerID int64, voterID string) (bool, error)
	UserAnswerData(ctx context.Context, voterID string, answerIDs []int64) (domain.UserAnswerData, error)
	GetAnswer(ctx context.Context, answerID int64, viewerID string) (domain.Answer, error)
}

// StatusError is a non-2xx response.
type StatusError struct {
	Status  int
	Code    string
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("engagement api: status %d", e.Status)
	}
	return fmt.Sprintf("engagement api: status %d: %s: %s", e.Status, e.Code, e.Message)
}

// Is lets a 429 match ErrRejected.
func (e *StatusError) Is(target error) bool {
	return target == ErrRejected && e.Status == http.StatusTooManyRequests
}

type HTTPBackend struct {
	BaseURL    string
	HTTPClient *http.Client
	// Token is sent as a bearer token when set.
	Token string
	// ActionPath defaults to /api/actions.
	ActionPath string
}

func NewHTTPBackend(baseURL, token string) *HTTPBackend {
	return &HTTPBackend{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		Token:      token,
		ActionPath: "/api/actions",
	}
}

type envelope struct {
	OK    *bool `json:"ok"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (b *HTTPBackend) do(req *http.Request, dst any) error {
	req.Header.Set("Accept", "application/json")
	if b.Token != "" {
		req.Header.Set("Authorization", "Bearer "+b.Token)
	}
	resp, err := b.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return err
	}
	var env envelope
	_ = json.Unmarshal(body, &env)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &StatusError{Status: resp.StatusCode}
		if env.Error != nil {
			se.Code, se.Message = env.Error.Code, env.Error.Message
		}
		return se
	}
	if env.OK != nil && !*env.OK {
		return ErrRejected
	}
	if dst == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (b *HTTPBackend) postForm(ctx context.Context, form url.Values, dst any) error {
	path := b.ActionPath
	if path == "" {
		path = "/api/actions"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.BaseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return b.do(req, dst)
}

func (b *HTTPBackend) get(ctx context.Context, path string, q url.Values, dst any) error {
	u := b.BaseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	return b.do(req, dst)
}

func (b *HTTPBackend) CastVote(ctx context.Context, answerID int64, voterID string, level, previous domain.Level) (domain.Answer, error) {
	form := url.Values{
		"answerId":      {strconv.FormatInt(answerID, 10)},
		"userId":        {voterID},
		"level":         {strconv.Itoa(int(level))},
		"previousLevel": {strconv.Itoa(int(previous))},
	}
	var resp struct {
		Answer domain.Answer `json:"answer"`
	}
	if err := b.postForm(ctx, form, &resp); err != nil {
		return domain.Answer{}, err
	}
	return resp.Answer, nil
}

func (b *HTTPBackend) ToggleFavorite(ctx context.Context, answerID int64, voterID string) (bool, error) {
	form := url.Values{
		"op":        {"toggle"},
		"answerId":  {strconv.FormatInt(answerID, 10)},
		"profileId": {voterID},
	}
	var resp struct {
		Favorited bool `json:"favorited"`
	}
	if err := b.postForm(ctx, form, &resp); err != nil {
		return false, err
	}
	return resp.Favorited, nil
}

func (b *HTTPBackend) UserAnswerData(ctx context.Context, voterID string, answerIDs []int64) (domain.UserAnswerData, error) {
	q := url.Values{"profileId": {voterID}}
	for _, id := range answerIDs {
		q.Add("answerIds", strconv.FormatInt(id, 10))
	}
	out := domain.EmptyUserAnswerData()
	if err := b.get(ctx, "/api/user-data", q, &out); err != nil {
		return domain.UserAnswerData{}, err
	}
	return out, nil
}

func (b *HTTPBackend) GetAnswer(ctx context.Context, answerID int64, viewerID string) (domain.Answer, error) {
	q := url.Values{}
	if viewerID != "" {
		q.Set("profileId", viewerID)
	}
	var a domain.Answer
	if err := b.get(ctx, "/api/answers/"+strconv.FormatInt(answerID, 10), q, &a); err != nil {
		return domain.Answer{}, err
	}
	return a, nil
}
