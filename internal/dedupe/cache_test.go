// ABOUTME: Tests for the message dedupe window
// ABOUTME: Validates per-conversation scoping, TTL expiry, size bound and concurrency

package dedupe

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type manualClock struct {
	mu sync.Mutex
	t  time.Time
}

func (m *manualClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t
}

func (m *manualClock) Advance(d time.Duration) {
	m.mu.Lock()
	m.t = m.t.Add(d)
	m.mu.Unlock()
}

func newTestCache(ttl time.Duration, size int) (*Cache, *manualClock) {
	clock := &manualClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	c := New(ttl, size, WithClock(clock.Now))
	return c, clock
}

func TestCache_SecondDeliveryIsDuplicate(t *testing.T) {
	c, _ := newTestCache(10*time.Minute, 100)
	defer c.Close()

	assert.False(t, c.Seen("34600111222", "wamid.1"))
	assert.True(t, c.Seen("34600111222", "wamid.1"))
	assert.Equal(t, 1, c.Len())
}

func TestCache_ScopedPerConversation(t *testing.T) {
	c, _ := newTestCache(10*time.Minute, 100)
	defer c.Close()

	assert.False(t, c.Seen("a", "m1"))
	assert.False(t, c.Seen("b", "m1"))
}

func TestCache_EmptyMessageIDNeverDuplicate(t *testing.T) {
	c, _ := newTestCache(10*time.Minute, 100)
	defer c.Close()

	assert.False(t, c.Seen("a", ""))
	assert.False(t, c.Seen("a", ""))
	assert.Zero(t, c.Len())
}

func TestCache_ExpiresAfterTTL(t *testing.T) {
	c, clock := newTestCache(time.Minute, 100)
	defer c.Close()

	c.Seen("a", "m1")
	clock.Advance(59 * time.Second)
	assert.True(t, c.Seen("a", "m1"))

	clock.Advance(time.Minute)
	assert.False(t, c.Seen("a", "m1"), "expired key is accepted again")
	assert.True(t, c.Seen("a", "m1"), "and re-marked")
}

func TestCache_EvictsOldestAtCapacity(t *testing.T) {
	c, _ := newTestCache(time.Hour, 3)
	defer c.Close()

	for i := 0; i < 4; i++ {
		c.Seen("a", fmt.Sprintf("m%d", i))
	}
	assert.Equal(t, 3, c.Len())
	assert.False(t, c.Seen("a", "m0"), "oldest key was evicted")
	assert.True(t, c.Seen("a", "m3"))
}

func TestCache_PurgeAndForget(t *testing.T) {
	c, clock := newTestCache(time.Minute, 100)
	defer c.Close()

	c.Seen("a", "m1")
	clock.Advance(30 * time.Second)
	c.Seen("a", "m2")
	c.Seen("b", "m1")

	clock.Advance(45 * time.Second)
	c.Purge()
	assert.Equal(t, 2, c.Len())

	c.Forget("a")
	assert.Equal(t, 1, c.Len())
	assert.False(t, c.Seen("a", "m2"))
}

func TestCache_ConcurrentSeenMarksOnce(t *testing.T) {
	c, _ := newTestCache(time.Hour, 1000)
	defer c.Close()

	var fresh atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !c.Seen("a", "same") {
				fresh.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), fresh.Load())
}

func TestCache_CloseIsIdempotent(t *testing.T) {
	c := New(time.Minute, 10)
	c.Close()
	c.Close()
}

func TestCache_ReleaseAcceptsRedelivery(t *testing.T) {
	c, _ := newTestCache(10*time.Minute, 100)
	defer c.Close()

	assert.False(t, c.Seen("a", "m1"))
	assert.False(t, c.Seen("a", "m2"))

	c.Release("a", "m1")
	c.Release("a", "missing")

	assert.Equal(t, 1, c.Len())
	assert.False(t, c.Seen("a", "m1"))
	assert.True(t, c.Seen("a", "m2"))
}
