package cache

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/sirupsen/logrus"
)

const DefaultSweepInterval = 60 * time.Second

type entry struct {
	response events.APIGatewayProxyResponse
	storedAt time.Time
	ttl      time.Duration
	hits     int64
}

func (e *entry) expired(now time.Time) bool {
	return now.Sub(e.storedAt) > e.ttl
}

type EntryStats struct {
	Key        string  `json:"key"`
	Hits       int64   `json:"hits"`
	AgeSeconds float64 `json:"ageSeconds"`
}

type Stats struct {
	Size    int          `json:"size"`
	Entries []EntryStats `json:"entries"`
}

// Store memoizes handler responses for a bounded time.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
	log     *logrus.Entry
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func NewStore(logger *logrus.Logger, opts ...Option) *Store {
	s := &Store{
		entries: make(map[string]*entry),
		now:     time.Now,
		log:     logger.WithField("component", "response_cache"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns a copy of the stored response. Expired entries are deleted and
// reported as missing.
func (s *Store) Get(key string) (events.APIGatewayProxyResponse, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return events.APIGatewayProxyResponse{}, false
	}
	if e.expired(s.now()) {
		delete(s.entries, key)
		return events.APIGatewayProxyResponse{}, false
	}

	e.hits++
	return copyResponse(e.response), true
}

func (s *Store) Set(key string, resp events.APIGatewayProxyResponse, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = &entry{
		response: copyResponse(resp),
		storedAt: s.now(),
		ttl:      ttl,
	}
}

func (s *Store) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.entries[key]
	delete(s.entries, key)
	return ok
}

// DeletePattern removes every key matching the regular expression pattern.
func (s *Store) DeletePattern(pattern string) (int, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return 0, fmt.Errorf("invalid cache key pattern: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key := range s.entries {
		if re.MatchString(key) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed, nil
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*entry)
}

func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	stats := Stats{Size: len(s.entries), Entries: make([]EntryStats, 0, len(s.entries))}
	for key, e := range s.entries {
		stats.Entries = append(stats.Entries, EntryStats{
			Key:        key,
			Hits:       e.hits,
			AgeSeconds: now.Sub(e.storedAt).Seconds(),
		})
	}
	sort.Slice(stats.Entries, func(i, j int) bool {
		return stats.Entries[i].Key < stats.Entries[j].Key
	})
	return stats
}

// Sweep removes all expired entries.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for key, e := range s.entries {
		if e.expired(now) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

// Start sweeps expired entries on every tick until ctx is cancelled.
func (s *Store) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.log.Info("Starting cache sweeper")

	for {
		select {
		case <-ticker.C:
			s.safeSweep()
		case <-ctx.Done():
			s.log.Info("Stopping cache sweeper")
			return
		}
	}
}

func (s *Store) safeSweep() {
	defer func() {
		if r := recover(); r != nil {
			s.log.WithField("panic", r).Error("Cache sweep failed")
		}
	}()

	if removed := s.Sweep(); removed > 0 {
		s.log.WithField("count", removed).Debug("Purged expired cache entries")
	}
}

func copyResponse(resp events.APIGatewayProxyResponse) events.APIGatewayProxyResponse {
	cp := resp
	if resp.Headers != nil {
		cp.Headers = make(map[string]string, len(resp.Headers))
		for k, v := range resp.Headers {
			cp.Headers[k] = v
		}
	}
	if resp.MultiValueHeaders != nil {
		cp.MultiValueHeaders = make(map[string][]string, len(resp.MultiValueHeaders))
		for k, v := range resp.MultiValueHeaders {
			cp.MultiValueHeaders[k] = append([]string(nil), v...)
		}
	}
	return cp
}
