// Package admission gates mutating requests: a per-key token bucket first
// (hard reject), then a short-window duplicate suppressor (soft success).
//
// The state is best effort. Losing it on restart only weakens abuse
// mitigation, so backend errors fail open.
package admission

import (
	"context"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"

	"github.com/example/answer-engagement/services/engagement/internal/domain"
)

// ErrRejected means the rate limiter refused the request.
var ErrRejected = errors.New("admission rejected")

const (
	KindFavoriteToggle = "favorite.toggle"
	KindComment        = "comment.add"
)

// VoteKind makes the level part of a vote request's identity, so a cast of
// level 2 right after level 1 is not mistaken for a double submit.
func VoteKind(level domain.Level) string {
	return "vote:" + strconv.Itoa(int(level))
}

// CommentKind keys comment dedup on the text as well, so two different
// comments in quick succession both land.
func CommentKind(text string) string {
	sum := blake2b.Sum256([]byte(strings.TrimSpace(text)))
	return KindComment + ":" + hex.EncodeToString(sum[:8])
}

// Key scopes the rate limiter: the voter when known, else the client address.
func Key(voterID, clientAddr string) string {
	if v := strings.TrimSpace(voterID); v != "" {
		return "p:" + v
	}
	if a := strings.TrimSpace(clientAddr); a != "" {
		return "ip:" + a
	}
	return "anon"
}

// HashAddr is the log-safe form of a client address.
func HashAddr(addr string) string {
	if addr == "" {
		return ""
	}
	sum := blake2b.Sum256([]byte(addr))
	return hex.EncodeToString(sum[:8])
}

type Operation struct {
	Kind     string
	VoterID  string
	AnswerID int64
}

// Fingerprint identifies identical requests for the duplicate suppressor.
func (o Operation) Fingerprint() string {
	return o.Kind + "|" + o.VoterID + "|" + strconv.FormatInt(o.AnswerID, 10)
}

// Limiter is a token bucket keyed by admission key.
type Limiter interface {
	Allow(ctx context.Context, key string, cost int) (bool, error)
}

// ClaimResult is the duplicate suppressor's verdict.
type ClaimResult struct {
	Duplicate bool
	// Previous is the recorded outcome of the executed request, or nil while
	// that request is still in flight.
	Previous []byte
}

// Deduper remembers executed requests for a short window. The window is
// anchored on the executed request: suppressed duplicates do not extend it.
type Deduper interface {
	Claim(ctx context.Context, fingerprint string) (ClaimResult, error)
	Record(ctx context.Context, fingerprint string, outcome []byte) error
	Release(ctx context.Context, fingerprint string) error
}

// Decision is the outcome of Admit. A non-duplicate decision must be
// finished with Complete or Abort.
type Decision struct {
	Key         string
	Fingerprint string
	Duplicate   bool
	Previous    []byte
	claimed     bool
}

type Guard struct {
	limiter Limiter
	deduper Deduper
	log     *zap.Logger
}

// NewGuard builds the guard. A nil limiter or deduper disables that stage.
func NewGuard(l Limiter, d Deduper, log *zap.Logger) *Guard {
	if log == nil {
		log = zap.NewNop()
	}
	return &Guard{limiter: l, deduper: d, log: log}
}

// Admit runs the rate limit and then the duplicate check for op.
func (g *Guard) Admit(ctx context.Context, key string, op Operation) (Decision, error) {
	d := Decision{Key: key, Fingerprint: op.Fingerprint()}
	if g.limiter != nil {
		ok, err := g.limiter.Allow(ctx, key, 1)
		switch {
		case err != nil:
			g.log.Warn("admission: limiter unavailable, allowing", zap.String("op", op.Kind), zap.Error(err))
		case !ok:
			return d, ErrRejected
		}
	}
	if g.deduper != nil {
		res, err := g.deduper.Claim(ctx, d.Fingerprint)
		switch {
		case err != nil:
			g.log.Warn("admission: deduper unavailable, allowing", zap.String("op", op.Kind), zap.Error(err))
		case res.Duplicate:
			d.Duplicate = true
			d.Previous = res.Previous
		default:
			d.claimed = true
		}
	}
	return d, nil
}

// Complete stores the outcome so later duplicates can replay it.
func (g *Guard) Complete(ctx context.Context, d Decision, outcome []byte) {
	if !d.claimed {
		return
	}
	if err := g.deduper.Record(ctx, d.Fingerprint, outcome); err != nil {
		g.log.Warn("admission: record outcome failed", zap.Error(err))
	}
}

// Abort forgets the claim so a retry of a failed request is not suppressed.
func (g *Guard) Abort(ctx context.Context, d Decision) {
	if !d.claimed {
		return
	}
	if err := g.deduper.Release(ctx, d.Fingerprint); err != nil {
		g.log.Warn("admission: release claim failed", zap.Error(err))
	}
}
