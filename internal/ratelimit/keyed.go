package ratelimit

import (
	"container/list"
	"sync"
)

const defaultMaxKeys = 4096

// KeyedLimiter keeps one TokenBucket per key (for example a client IP). The
// number of buckets is bounded; the least recently used key is evicted first.
type KeyedLimiter struct {
	clock   Clock
	burst   int64
	rate    int64
	maxKeys int

	mu      sync.Mutex
	buckets map[string]*list.Element
	lru     *list.List
}

type keyedEntry struct {
	key    string
	bucket *TokenBucket
}

// NewKeyedLimiter returns nil when rate <= 0; a nil limiter allows everything.
func NewKeyedLimiter(clock Clock, rate, burst int64, maxKeys int) *KeyedLimiter {
	if rate <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = rate
	}
	if maxKeys <= 0 {
		maxKeys = defaultMaxKeys
	}
	return &KeyedLimiter{
		clock:   clock,
		burst:   burst,
		rate:    rate,
		maxKeys: maxKeys,
		buckets: make(map[string]*list.Element),
		lru:     list.New(),
	}
}

func (l *KeyedLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	return l.bucket(key).Allow(1)
}

func (l *KeyedLimiter) bucket(key string) *TokenBucket {
	l.mu.Lock()
	defer l.mu.Unlock()

	if el, ok := l.buckets[key]; ok {
		l.lru.MoveToFront(el)
		return el.Value.(*keyedEntry).bucket
	}

	for l.lru.Len() >= l.maxKeys {
		oldest := l.lru.Back()
		l.lru.Remove(oldest)
		delete(l.buckets, oldest.Value.(*keyedEntry).key)
	}

	b := NewTokenBucket(l.clock, l.burst, l.rate)
	l.buckets[key] = l.lru.PushFront(&keyedEntry{key: key, bucket: b})
	return b
}

// Len reports the number of live buckets.
func (l *KeyedLimiter) Len() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lru.Len()
}
