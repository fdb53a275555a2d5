package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore() (*Store, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	logger, _ := test.NewNullLogger()
	return NewStore(logger, WithClock(clock.Now)), clock
}

func okResponse(body string) events.APIGatewayProxyResponse {
	return events.APIGatewayProxyResponse{
		StatusCode: 200,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       body,
	}
}

func TestGetReturnsStoredResponse(t *testing.T) {
	store, _ := newTestStore()
	store.Set("GET|/files||", okResponse(`{"n":1}`), time.Minute)

	got, ok := store.Get("GET|/files||")
	require.True(t, ok)
	assert.Equal(t, `{"n":1}`, got.Body)
	assert.Equal(t, 200, got.StatusCode)
}

func TestGetIsCopyOnRead(t *testing.T) {
	store, _ := newTestStore()
	store.Set("k", okResponse("{}"), time.Minute)

	first, _ := store.Get("k")
	first.Headers["X-Cache"] = "HIT"

	second, _ := store.Get("k")
	assert.NotContains(t, second.Headers, "X-Cache")
}

func TestSetCopiesInput(t *testing.T) {
	store, _ := newTestStore()
	resp := okResponse("{}")
	store.Set("k", resp, time.Minute)
	resp.Headers["Mutated"] = "yes"

	got, _ := store.Get("k")
	assert.NotContains(t, got.Headers, "Mutated")
}

func TestEntryVisibleUntilTTLElapses(t *testing.T) {
	store, clock := newTestStore()
	store.Set("k", okResponse("{}"), 30*time.Second)

	clock.Advance(30 * time.Second)
	_, ok := store.Get("k")
	assert.True(t, ok, "entry is visible at exactly ttl")

	clock.Advance(time.Millisecond)
	_, ok = store.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, store.Stats().Size, "expired entry is deleted on read")
}

func TestStatsTracksHits(t *testing.T) {
	store, clock := newTestStore()
	store.Set("a", okResponse("{}"), time.Minute)
	store.Set("b", okResponse("{}"), time.Minute)

	store.Get("a")
	store.Get("a")
	clock.Advance(10 * time.Second)

	stats := store.Stats()
	require.Equal(t, 2, stats.Size)
	assert.Equal(t, EntryStats{Key: "a", Hits: 2, AgeSeconds: 10}, stats.Entries[0])
	assert.Equal(t, EntryStats{Key: "b", Hits: 0, AgeSeconds: 10}, stats.Entries[1])
}

func TestDeleteAndClear(t *testing.T) {
	store, _ := newTestStore()
	store.Set("a", okResponse("{}"), time.Minute)
	store.Set("b", okResponse("{}"), time.Minute)

	assert.True(t, store.Delete("a"))
	assert.False(t, store.Delete("a"))
	assert.Equal(t, 1, store.Stats().Size)

	store.Clear()
	assert.Equal(t, 0, store.Stats().Size)
}

func TestDeletePattern(t *testing.T) {
	store, _ := newTestStore()
	store.Set("GET|/files|limit=10|", okResponse("{}"), time.Minute)
	store.Set("GET|/files/abc||", okResponse("{}"), time.Minute)
	store.Set("GET|/health||", okResponse("{}"), time.Minute)

	removed, err := store.DeletePattern(`^GET\|/files`)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, store.Stats().Size)

	_, err = store.DeletePattern(`([`)
	assert.Error(t, err)
}

func TestSweepRemovesOnlyExpired(t *testing.T) {
	store, clock := newTestStore()
	store.Set("short", okResponse("{}"), 10*time.Second)
	store.Set("long", okResponse("{}"), time.Hour)

	clock.Advance(11 * time.Second)
	assert.Equal(t, 1, store.Sweep())

	_, ok := store.Get("long")
	assert.True(t, ok)
}

func TestStartStopsOnCancel(t *testing.T) {
	logger, hook := test.NewNullLogger()
	store := NewStore(logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		store.Start(ctx, time.Millisecond)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
	assert.Equal(t, "Stopping cache sweeper", hook.LastEntry().Message)
}
