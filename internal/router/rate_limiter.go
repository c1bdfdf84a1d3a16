package router

import (
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/ratelimit"
)

// MaxEventsPerMinute is the highest accepted limit; above it the bucket fill
// interval would round down to zero.
const MaxEventsPerMinute = 60000

// RateLimiter caps inbound events per connection with one token bucket each.
// A limit of zero or less disables limiting.
type RateLimiter struct {
	mu        sync.Mutex
	perMinute int
	clock     clock.Clock
	buckets   map[string]*ratelimit.Bucket
}

// NewRateLimiter creates a limiter allowing perMinute events per connection,
// with bursts up to the same amount. perMinute is capped at MaxEventsPerMinute.
func NewRateLimiter(perMinute int, clk clock.Clock) *RateLimiter {
	if clk == nil {
		clk = clock.WallClock
	}
	if perMinute > MaxEventsPerMinute {
		perMinute = MaxEventsPerMinute
	}
	return &RateLimiter{
		perMinute: perMinute,
		clock:     clk,
		buckets:   make(map[string]*ratelimit.Bucket),
	}
}

// Enabled reports whether any limit is applied
func (rl *RateLimiter) Enabled() bool {
	return rl != nil && rl.perMinute > 0
}

// Allow takes one token for connID without blocking
func (rl *RateLimiter) Allow(connID string) bool {
	if !rl.Enabled() {
		return true
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	bucket, exists := rl.buckets[connID]
	if !exists {
		// FUNCTIONAL DISCOVERY: Buckets start full so a fresh connection can replay its catch-up burst
		fill := time.Minute / time.Duration(rl.perMinute)
		bucket = ratelimit.NewBucketWithClock(fill, int64(rl.perMinute), bucketClock{rl.clock})
		rl.buckets[connID] = bucket
	}
	return bucket.TakeAvailable(1) == 1
}

// Forget drops the bucket of a closed connection
func (rl *RateLimiter) Forget(connID string) {
	if !rl.Enabled() {
		return
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.buckets, connID)
}

// Tracked returns the number of connections with a bucket
func (rl *RateLimiter) Tracked() int {
	if !rl.Enabled() {
		return 0
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// bucketClock adapts clock.Clock to the ratelimit clock, which also needs Sleep.
type bucketClock struct {
	clock.Clock
}

func (c bucketClock) Sleep(d time.Duration) {
	<-c.After(d)
}
