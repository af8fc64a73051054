package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/example/answer-engagement/internal/platform/auth"
	"github.com/example/answer-engagement/internal/platform/httpserver"
	"github.com/example/answer-engagement/services/engagement/internal/admission"
	"github.com/example/answer-engagement/services/engagement/internal/cache"
	"github.com/example/answer-engagement/services/engagement/internal/domain"
	"github.com/example/answer-engagement/services/engagement/internal/metrics"
	"github.com/example/answer-engagement/services/engagement/internal/store"
)

var testSecret = []byte("handlers-test-secret")

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// countingStore counts favorite mutations reaching the store.
type countingStore struct {
	*store.InMemoryStore
	favoriteWrites atomic.Int32
}

func (s *countingStore) UpsertFavorite(ctx context.Context, answerID int64, voterID string) error {
	s.favoriteWrites.Add(1)
	return s.InMemoryStore.UpsertFavorite(ctx, answerID, voterID)
}

func (s *countingStore) DeleteFavorite(ctx context.Context, answerID int64, voterID string) error {
	s.favoriteWrites.Add(1)
	return s.InMemoryStore.DeleteFavorite(ctx, answerID, voterID)
}

type brokenStore struct {
	*store.InMemoryStore
}

func (brokenStore) FavoriteExists(context.Context, int64, string) (bool, error) {
	return false, errors.New("connection reset by peer")
}

type fixture struct {
	router  http.Handler
	store   *countingStore
	clock   *testClock
	metrics *metrics.Metrics
}

type fixtureOptions struct {
	limiter admission.Limiter
	routes  RouteOptions
	store   store.AggregateStore
}

func newFixture(t *testing.T, opts fixtureOptions) *fixture {
	t.Helper()
	mem := store.NewInMemoryStore()
	for _, id := range []int64{1, 2, 5} {
		if _, err := mem.SeedAnswer(context.Background(), domain.Answer{ID: id, Body: "answer"}); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	cs := &countingStore{InMemoryStore: mem}
	var st store.AggregateStore = cs
	if opts.store != nil {
		st = opts.store
	}

	clk := &testClock{now: time.Unix(1_700_000_000, 0)}
	m := metrics.New(prometheus.NewRegistry())
	answers := cache.New[domain.Answer](time.Minute, nil, "", nil)
	guard := admission.NewGuard(opts.limiter, admission.NewMemoryDeduper(800*time.Millisecond).WithClock(clk.Now), nil)

	h := New(Deps{Store: st, Guard: guard, Cache: answers, Metrics: m})
	r := chi.NewRouter()
	httpserver.SetupRouter(r, httpserver.RouterConfig{ReadyFunc: func() error { return st.Ping(context.Background()) }})
	h.Register(r, opts.routes)
	return &fixture{router: r, store: cs, clock: clk, metrics: m}
}

func (f *fixture) post(t *testing.T, form url.Values, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/actions", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

func (f *fixture) get(t *testing.T, target string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rr.Body).Decode(&v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return v
}

func makeToken(subject string) string {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, _ := tok.SignedString(testSecret)
	return signed
}

func vote(answerID, voter, level string) url.Values {
	return url.Values{"answerId": {answerID}, "userId": {voter}, "level": {level}}
}

func toggle(answerID, profile string) url.Values {
	return url.Values{"op": {"toggle"}, "answerId": {answerID}, "profileId": {profile}}
}

func TestActions_VoteScenarioA(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	rr := f.post(t, vote("1", "v1", "2"))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	resp := decode[voteResponse](t, rr)
	if resp.Answer.Votes != (domain.VoteTally{Level2: 1}) {
		t.Fatalf("expected {0,1,0}, got %+v", resp.Answer.Votes)
	}
	if resp.Answer.VotesBy["v1"] != domain.Level2 || resp.Deduped {
		t.Fatalf("unexpected response %+v", resp)
	}

	rr = f.post(t, vote("1", "v1", "0"))
	resp = decode[voteResponse](t, rr)
	if resp.Answer.Votes != (domain.VoteTally{}) || len(resp.Answer.VotesBy) != 0 {
		t.Fatalf("expected empty tally after toggle off, got %+v", resp.Answer)
	}
}

func TestActions_VoteScenarioB(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	f.post(t, vote("1", "v1", "1"))
	rr := f.post(t, vote("1", "v1", "3"))
	resp := decode[voteResponse](t, rr)
	if resp.Answer.Votes != (domain.VoteTally{Level3: 1}) {
		t.Fatalf("expected {0,0,1}, got %+v", resp.Answer.Votes)
	}
	rows, _ := f.store.ListVotes(context.Background(), 1)
	if len(rows) != 1 || rows[0].Level != domain.Level3 {
		t.Fatalf("expected one level-3 row, got %+v", rows)
	}
}

func TestActions_FavoriteScenarioC(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	rr := f.post(t, toggle("5", "v1"))
	if got := decode[favoriteResponse](t, rr); !got.Favorited {
		t.Fatalf("expected favorited, got %+v", got)
	}

	rr = f.get(t, "/api/user-data?profileId=v1&answerIds=5&answerIds=1,2")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	data := decode[domain.UserAnswerData](t, rr)
	if len(data.Favorites) != 1 || data.Favorites[0] != 5 {
		t.Fatalf("expected favorites [5], got %v", data.Favorites)
	}
}

func TestActions_DuplicateToggleWindow(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	first := decode[favoriteResponse](t, f.post(t, toggle("5", "v1")))
	f.clock.Advance(300 * time.Millisecond)
	second := decode[favoriteResponse](t, f.post(t, toggle("5", "v1")))
	if !second.Deduped || second.Favorited != first.Favorited {
		t.Fatalf("expected deduped replay of %+v, got %+v", first, second)
	}
	f.clock.Advance(600 * time.Millisecond)
	third := decode[favoriteResponse](t, f.post(t, toggle("5", "v1")))
	if third.Deduped || third.Favorited {
		t.Fatalf("expected executed unfavorite, got %+v", third)
	}
	if n := f.store.favoriteWrites.Load(); n != 2 {
		t.Fatalf("expected 2 store mutations, got %d", n)
	}
	if got := testutil.ToFloat64(f.metrics.DedupHits.WithLabelValues(opFavorite)); got != 1 {
		t.Fatalf("expected 1 dedup hit, got %v", got)
	}
}

func TestActions_DifferentLevelsAreNotDuplicates(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	f.post(t, vote("1", "v1", "1"))
	resp := decode[voteResponse](t, f.post(t, vote("1", "v1", "2")))
	if resp.Deduped || resp.Answer.Votes != (domain.VoteTally{Level2: 1}) {
		t.Fatalf("expected executed level change, got %+v", resp)
	}
}

func TestActions_RateLimited(t *testing.T) {
	clk := &testClock{now: time.Unix(1_700_000_000, 0)}
	f := newFixture(t, fixtureOptions{limiter: admission.NewTokenBucket(1, 1).WithClock(clk.Now)})

	if rr := f.post(t, toggle("5", "v1")); rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	rr := f.post(t, vote("1", "v1", "2"))
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}
	body := decode[map[string]any](t, rr)
	if body["ok"] != false {
		t.Fatalf("expected ok:false, got %v", body)
	}
	// Other voters have their own bucket.
	if rr := f.post(t, vote("1", "v2", "2")); rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for another voter, got %d", rr.Code)
	}
}

func TestActions_Errors(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	tests := []struct {
		name string
		form url.Values
		want int
	}{
		{"toggle without answer", url.Values{"op": {"toggle"}, "profileId": {"v1"}}, http.StatusBadRequest},
		{"toggle without profile", url.Values{"op": {"toggle"}, "answerId": {"1"}}, http.StatusBadRequest},
		{"toggle unknown answer", toggle("404", "v1"), http.StatusNotFound},
		{"vote level out of range", vote("1", "v1", "4"), http.StatusBadRequest},
		{"vote level not a number", vote("1", "v1", "two"), http.StatusBadRequest},
		{"vote negative answer", vote("-1", "v1", "1"), http.StatusBadRequest},
		{"vote unknown answer", vote("404", "v1", "1"), http.StatusNotFound},
		{"comment empty", url.Values{"answerId": {"1"}, "profileId": {"v1"}, "text": {"  "}}, http.StatusBadRequest},
		{"nothing recognized", url.Values{"foo": {"bar"}}, http.StatusNoContent},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr := f.post(t, tc.form)
			if rr.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestActions_FailedRequestIsNotSuppressed(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	if rr := f.post(t, vote("404", "v1", "1")); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	rr := f.post(t, vote("404", "v1", "1"))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("retry must execute again, got %d", rr.Code)
	}
}

func TestActions_StoreFailure(t *testing.T) {
	mem := store.NewInMemoryStore()
	_, _ = mem.SeedAnswer(context.Background(), domain.Answer{ID: 5})
	f := newFixture(t, fixtureOptions{store: brokenStore{mem}})

	rr := f.post(t, toggle("5", "v1"))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	body := decode[map[string]any](t, rr)
	if body["ok"] != false || body["error"] == nil {
		t.Fatalf("expected {ok:false, error}, got %v", body)
	}
	if strings.Contains(rr.Body.String(), "connection reset") {
		t.Fatal("store errors must not leak to clients")
	}
}

func TestActions_StatusDoesNotMutate(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	form := url.Values{"op": {"status"}, "answerId": {"5"}, "profileId": {"v1"}}
	for i := 0; i < 3; i++ {
		if got := decode[favoriteResponse](t, f.post(t, form)); got.Favorited || got.Deduped {
			t.Fatalf("unexpected status %+v", got)
		}
	}
	if n := f.store.favoriteWrites.Load(); n != 0 {
		t.Fatalf("status must not write, got %d writes", n)
	}
}

func TestActions_Comment(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	form := url.Values{"answerId": {"1"}, "profileId": {"v1"}, "text": {"<b>nice</b> answer"}}
	got := decode[commentResponse](t, f.post(t, form))
	if !got.OK || got.CommentCount != 1 {
		t.Fatalf("unexpected response %+v", got)
	}
	dup := decode[commentResponse](t, f.post(t, form))
	if !dup.Deduped || dup.CommentCount != 1 {
		t.Fatalf("expected deduped comment, got %+v", dup)
	}
	form.Set("text", "second thought")
	if got := decode[commentResponse](t, f.post(t, form)); got.CommentCount != 2 {
		t.Fatalf("expected 2 comments, got %+v", got)
	}
}

func TestActions_FavoritesPathIsSameEndpoint(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	req := httptest.NewRequest(http.MethodPost, "/api/favorites/actions", strings.NewReader(toggle("5", "v1").Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	if got := decode[favoriteResponse](t, rr); !got.Favorited {
		t.Fatalf("expected favorited, got %+v", got)
	}
}

func TestActions_TokenIdentity(t *testing.T) {
	f := newFixture(t, fixtureOptions{routes: RouteOptions{Verifier: auth.JWTVerifier{Secret: testSecret}}})
	bearer := "Bearer " + makeToken("v1")

	rr := f.post(t, url.Values{"op": {"toggle"}, "answerId": {"5"}}, "Authorization", bearer)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected subject to stand in for profileId, got %d", rr.Code)
	}
	if ok, _ := f.store.FavoriteExists(context.Background(), 5, "v1"); !ok {
		t.Fatal("expected favorite stored for the token subject")
	}

	rr = f.post(t, vote("1", "someone-else", "1"), "Authorization", bearer)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 on identity mismatch, got %d", rr.Code)
	}
	rr = f.post(t, vote("1", "v1", "1"), "Authorization", "Bearer not-a-token")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 on bad token, got %d", rr.Code)
	}
}

func TestActions_RequireAuth(t *testing.T) {
	f := newFixture(t, fixtureOptions{routes: RouteOptions{Verifier: auth.JWTVerifier{Secret: testSecret}, RequireAuth: true}})

	if rr := f.post(t, toggle("5", "v1")); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rr.Code)
	}
	if rr := f.post(t, toggle("5", "v1"), "Authorization", "Bearer "+makeToken("v1")); rr.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", rr.Code)
	}
	// Reads stay public.
	if rr := f.get(t, "/api/answers/1"); rr.Code != http.StatusOK {
		t.Fatalf("expected public read, got %d", rr.Code)
	}
}
