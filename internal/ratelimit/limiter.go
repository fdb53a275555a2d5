package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	DefaultIdleTTL       = time.Hour
	DefaultSweepInterval = 5 * time.Minute
)

// Decision is the outcome of a single admission check.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter int
	ResetAt    time.Time
}

// bucketKey separates buckets that share a caller key but are checked under
// different limits.
type bucketKey struct {
	key         string
	maxRequests int
	window      time.Duration
}

type bucket struct {
	limiter      *rate.Limiter
	lastRefill   time.Time
	requestCount int64
}

// Store keeps one continuously refilling token bucket per key.
type Store struct {
	mu      sync.Mutex
	buckets map[bucketKey]*bucket
	now     func() time.Time
	idleTTL time.Duration
	log     *logrus.Entry
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithIdleTTL(ttl time.Duration) Option {
	return func(s *Store) { s.idleTTL = ttl }
}

func NewStore(logger *logrus.Logger, opts ...Option) *Store {
	s := &Store{
		buckets: make(map[bucketKey]*bucket),
		now:     time.Now,
		idleTTL: DefaultIdleTTL,
		log:     logger.WithField("component", "rate_limiter"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Check refills the bucket for key at maxRequests/window tokens per second and
// takes one token if at least one is available.
func (s *Store) Check(key string, maxRequests int, window time.Duration) Decision {
	if maxRequests <= 0 || window <= 0 {
		return Decision{Allowed: true, Limit: maxRequests}
	}

	refillRate := float64(maxRequests) / window.Seconds()

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	bk := bucketKey{key: key, maxRequests: maxRequests, window: window}
	b, ok := s.buckets[bk]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rate.Limit(refillRate), maxRequests)}
		b.limiter.SetBurstAt(now, maxRequests)
		s.buckets[bk] = b
	}
	b.lastRefill = now

	if b.limiter.AllowN(now, 1) {
		b.requestCount++
		return Decision{
			Allowed:   true,
			Limit:     maxRequests,
			Remaining: int(math.Floor(math.Max(b.limiter.TokensAt(now), 0))),
			ResetAt:   now,
		}
	}

	// (1 - tokens) / refillRate, rearranged to keep integral windows exact.
	tokens := b.limiter.TokensAt(now)
	retryAfter := int(math.Ceil((1 - tokens) * window.Seconds() / float64(maxRequests)))
	if retryAfter < 1 {
		retryAfter = 1
	}

	return Decision{
		Allowed:    false,
		Limit:      maxRequests,
		Remaining:  0,
		RetryAfter: retryAfter,
		ResetAt:    now.Add(time.Duration(retryAfter) * time.Second),
	}
}

// Sweep drops buckets that have not been touched within the idle TTL.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.idleTTL)
	removed := 0
	for key, b := range s.buckets {
		if b.lastRefill.Before(cutoff) {
			delete(s.buckets, key)
			removed++
		}
	}
	return removed
}

// Len reports the number of live buckets.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buckets)
}

// Start runs Sweep on every tick until ctx is cancelled.
func (s *Store) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.log.Info("Starting bucket sweeper")

	for {
		select {
		case <-ticker.C:
			s.safeSweep()
		case <-ctx.Done():
			s.log.Info("Stopping bucket sweeper")
			return
		}
	}
}

func (s *Store) safeSweep() {
	defer func() {
		if r := recover(); r != nil {
			s.log.WithField("panic", r).Error("Bucket sweep failed")
		}
	}()

	if removed := s.Sweep(); removed > 0 {
		s.log.WithField("count", removed).Debug("Removed idle buckets")
	}
}
