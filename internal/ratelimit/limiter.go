// Package ratelimit admits or rejects inbound requests per client with a
// continuously refilling token bucket.
//
// Every client identity gets a bucket holding up to requests-per-minute
// tokens that refills at rpm/60 tokens per second. A request consumes one
// token; a request that finds less than one token is rejected without
// consuming anything. Buckets are created lazily and kept in an LRU so that
// memory stays bounded no matter how many distinct clients appear.
package ratelimit

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"golang.org/x/time/rate"
)

// DefaultMaxClients bounds the number of tracked client buckets when the
// caller passes a non-positive limit.
const DefaultMaxClients = 10000

// Result describes a single admission decision.
type Result struct {
	// Allowed is true when the request consumed a token.
	Allowed bool

	// Limit is the bucket capacity (requests per minute).
	Limit int

	// Remaining is the number of whole tokens left after the decision.
	Remaining int

	// RetryAfter is the time needed to accumulate one token.
	RetryAfter time.Duration
}

// RetryAfterSeconds returns RetryAfter rounded up to whole seconds, at
// least 1, for use in a Retry-After header.
func (r Result) RetryAfterSeconds() int {
	return max(1, int(math.Ceil(r.RetryAfter.Seconds())))
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces the time source. Tests use it to control refill.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// Limiter holds one token bucket per client identity. It is safe for
// concurrent use.
type Limiter struct {
	now      func() time.Time
	disabled atomic.Bool

	mu      sync.Mutex
	rpm     int
	buckets *simplelru.LRU[string, *rate.Limiter]
}

// New returns a Limiter admitting rpm requests per minute per client and
// tracking at most maxClients buckets (DefaultMaxClients when maxClients
// <= 0).
func New(rpm, maxClients int, opts ...Option) (*Limiter, error) {
	if rpm <= 0 {
		return nil, fmt.Errorf("ratelimit: requests per minute must be positive, got %d", rpm)
	}
	if maxClients <= 0 {
		maxClients = DefaultMaxClients
	}
	buckets, err := simplelru.NewLRU[string, *rate.Limiter](maxClients, nil)
	if err != nil {
		return nil, fmt.Errorf("ratelimit: %w", err)
	}

	l := &Limiter{
		now:     time.Now,
		rpm:     rpm,
		buckets: buckets,
	}
	for _, o := range opts {
		o(l)
	}
	return l, nil
}

// Allow runs one admission check for client. The clock is read and the token
// spent under one lock, so a bucket only ever sees non-decreasing timestamps
// and two callers can never both spend the same token.
func (l *Limiter) Allow(client string) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	rpm := l.rpm
	bucket, ok := l.buckets.Get(client)
	if !ok {
		bucket = rate.NewLimiter(perSecond(rpm), rpm)
		l.buckets.Add(client, bucket)
	}

	now := l.now()
	allowed := bucket.AllowN(now, 1)
	remaining := int(bucket.TokensAt(now))

	return Result{
		Allowed:    allowed,
		Limit:      rpm,
		Remaining:  max(0, remaining),
		RetryAfter: time.Duration(float64(time.Minute) / float64(rpm)),
	}
}

// SetLimit changes the capacity for all clients. Existing buckets are
// dropped so every client starts again with a full bucket at the new rate.
func (l *Limiter) SetLimit(rpm int) error {
	if rpm <= 0 {
		return fmt.Errorf("ratelimit: requests per minute must be positive, got %d", rpm)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rpm = rpm
	l.buckets.Purge()
	return nil
}

// Limit returns the current capacity in requests per minute.
func (l *Limiter) Limit() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rpm
}

// SetEnabled switches limiting on or off. A disabled limiter still answers
// Allow but the middleware lets every request through.
func (l *Limiter) SetEnabled(enabled bool) {
	l.disabled.Store(!enabled)
}

// Enabled reports whether limiting is switched on.
func (l *Limiter) Enabled() bool {
	return !l.disabled.Load()
}

// Tracked returns the number of client buckets currently held.
func (l *Limiter) Tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buckets.Len()
}

func perSecond(rpm int) rate.Limit {
	return rate.Limit(float64(rpm) / 60.0)
}
