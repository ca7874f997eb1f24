package ratelimit

import (
	"sync"
	"time"
)

// nanoTokensPerToken is the fixed-point scale: one token is 1e9 nano-tokens,
// so a fill rate of X tokens/sec adds X nano-tokens per elapsed nanosecond.
const nanoTokensPerToken = int64(time.Second)

const maxInt64 = int64(^uint64(0) >> 1)

// TokenBucket is a deterministic token bucket refilling at an integer rate
// (tokens/sec) against a provided Clock. Fixed-point arithmetic avoids float
// rounding drift.
//
// The signaling client uses one bucket per connection to bound the inbound
// message rate.
type TokenBucket struct {
	mu sync.Mutex

	clock Clock

	capacity int64 // tokens
	fillRate int64 // tokens/sec

	available int64 // nano-tokens
	last      time.Time
}

func NewTokenBucket(clock Clock, capacity, fillRate int64) *TokenBucket {
	if clock == nil {
		clock = RealClock{}
	}
	if capacity < 0 {
		capacity = 0
	}
	if fillRate < 0 {
		fillRate = 0
	}
	return &TokenBucket{
		clock:     clock,
		capacity:  capacity,
		fillRate:  fillRate,
		available: tokensToNano(capacity),
		last:      clock.Now(),
	}
}

// Allow consumes one token if available.
func (b *TokenBucket) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()

	if b.available < nanoTokensPerToken {
		return false
	}
	b.available -= nanoTokensPerToken
	return true
}

func (b *TokenBucket) refillLocked() {
	now := b.clock.Now()
	if now.Before(b.last) {
		// Time went backwards: move the reference point without refilling.
		b.last = now
		return
	}
	elapsed := now.Sub(b.last).Nanoseconds()
	if elapsed <= 0 {
		return
	}
	b.last = now

	if b.fillRate <= 0 || b.capacity <= 0 {
		return
	}

	capNano := tokensToNano(b.capacity)
	if b.available >= capNano {
		b.available = capNano
		return
	}

	// fillRate in tokens/sec equals nano-tokens per nanosecond, so the refill
	// is elapsed*fillRate. Clamp to capacity before the multiply can overflow.
	need := capNano - b.available
	if fillTime := need / b.fillRate; fillTime <= 0 || elapsed >= fillTime {
		b.available = capNano
		return
	}
	b.available += elapsed * b.fillRate
	if b.available > capNano {
		b.available = capNano
	}
}

func tokensToNano(tokens int64) int64 {
	if tokens <= 0 {
		return 0
	}
	if tokens > maxInt64/nanoTokensPerToken {
		return maxInt64
	}
	return tokens * nanoTokensPerToken
}
