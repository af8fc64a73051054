// Package cache is the answer read cache: an in-memory TTL map whose
// invalidations are fanned out to peer instances over NATS.
package cache

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Invalidator drops a key locally and on every peer.
type Invalidator interface {
	Invalidate(key string)
}

// AnswerKey is the cache key of one answer's aggregate view.
func AnswerKey(answerID int64) string {
	return "answer:" + strconv.FormatInt(answerID, 10)
}

// InvalidateAll is the payload that flushes every peer's cache.
const InvalidateAll = "ALL"

type broadcaster interface {
	Publish(subj string, data []byte) error
}

type item[V any] struct {
	val       V
	expiresAt time.Time
}

// TTLCache is an in-memory cache with per-entry expiry and optional NATS
// key-level invalidation. Safe for concurrent use.
type TTLCache[V any] struct {
	mu    sync.RWMutex
	items map[string]item[V]
	ttl   time.Duration
	now   func() time.Time

	bus  broadcaster
	subj string
	sub  *nats.Subscription
	log  *zap.Logger
}

// New creates a TTLCache and subscribes to subj when nc is non-nil.
func New[V any](ttl time.Duration, nc *nats.Conn, subj string, log *zap.Logger) *TTLCache[V] {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	c := &TTLCache[V]{
		items: make(map[string]item[V]),
		ttl:   ttl,
		now:   time.Now,
		subj:  subj,
		log:   log,
	}
	if nc != nil && subj != "" {
		c.bus = nc
		sub, err := nc.Subscribe(subj, func(m *nats.Msg) { c.evict(string(m.Data)) })
		if err != nil {
			log.Warn("cache: invalidation subscribe failed", zap.String("subject", subj), zap.Error(err))
		} else {
			c.sub = sub
		}
	}
	return c
}

func (c *TTLCache[V]) Get(key string) (V, bool) {
	var zero V
	if c == nil {
		return zero, false
	}
	c.mu.RLock()
	it, ok := c.items[key]
	c.mu.RUnlock()
	if !ok {
		return zero, false
	}
	if c.now().After(it.expiresAt) {
		c.mu.Lock()
		if cur, ok2 := c.items[key]; ok2 && c.now().After(cur.expiresAt) {
			delete(c.items, key)
		}
		c.mu.Unlock()
		return zero, false
	}
	return it.val, true
}

func (c *TTLCache[V]) Set(key string, v V) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.items[key] = item[V]{val: v, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

// Invalidate evicts key here and broadcasts it to peers. A nil cache is a no-op.
func (c *TTLCache[V]) Invalidate(key string) {
	if c == nil {
		return
	}
	c.evict(key)
	if c.bus == nil {
		return
	}
	if err := c.bus.Publish(c.subj, []byte(key)); err != nil {
		c.log.Warn("cache: invalidation publish failed", zap.String("key", key), zap.Error(err))
	}
}

func (c *TTLCache[V]) evict(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if key == "" || strings.EqualFold(key, InvalidateAll) {
		c.items = make(map[string]item[V])
		return
	}
	delete(c.items, key)
}

// Close drops the NATS subscription.
func (c *TTLCache[V]) Close() {
	if c == nil || c.sub == nil {
		return
	}
	_ = c.sub.Unsubscribe()
}
