// Package tokenbucket implements a token bucket rate limiter that tracks
// overshoot as debt using modular (wraparound) unsigned arithmetic instead
// of clamping at zero. A caller that withdraws more than its current
// credit is told how long to wait before the bucket would have allowed the
// withdrawal, rather than being refused outright.
package tokenbucket

import (
	"sync"
	"time"
)

const maxUint64 = ^uint64(0)

const nsecPerSec = uint64(time.Second)

// Clock abstracts the monotonic time source so tests can control elapsed
// time deterministically.
type Clock interface {
	NowNS() int64
}

type systemClock struct{}

func (systemClock) NowNS() int64 { return time.Now().UnixNano() }

// Bucket is a mutex-guarded token bucket. The zero value is not usable;
// construct one with New or NewWithClock.
//
// Balance is interpreted modulo 2^64: 0 <= balance <= burst is credit,
// burst < balance <= MaxUint64 is debt of (MaxUint64 - balance + 1)
// tokens. Withdrawal is therefore a single unconditional subtraction that
// can never fail; overshoot rolls the balance into the debt range instead
// of saturating. Do not "fix" this into signed arithmetic.
type Bucket struct {
	mu    sync.Mutex
	clock Clock

	burst        uint64
	rate         uint64
	balance      uint64
	refillTimeNS uint64
	dtMax        uint64 // overflow ceiling for rate*dt in refill
	requests     uint64
}

// New returns a Bucket paced at rate tokens/second with the given burst
// cap, using the wall clock.
func New(burst, rate uint64) *Bucket {
	return NewWithClock(burst, rate, systemClock{})
}

// NewWithClock is New with an injectable time source, for tests.
func NewWithClock(burst, rate uint64, clock Clock) *Bucket {
	b := &Bucket{clock: clock}
	b.setBurst(burst)
	b.setRate(rate)
	b.balance = burst
	b.refillTimeNS = uint64(clock.NowNS())
	return b
}

func (b *Bucket) inDebt() bool { return b.balance > b.burst }

// status reports the credit/debt amount and whether it is debt. Caller
// must hold mu.
func (b *Bucket) status() (amount uint64, debt bool) {
	if b.inDebt() {
		return maxUint64 - b.balance + 1, true
	}
	return b.balance, false
}

// setBurst changes the burst cap and, if doing so would flip the balance's
// credit/debt classification (because the old balance sits strictly
// between the old and new burst), snaps the balance to the edge of its
// prior class instead of letting it land in the opposite class at a wildly
// different magnitude. Caller must hold mu.
func (b *Bucket) setBurst(burst uint64) {
	hadDebt := b.inDebt()
	b.burst = burst
	stillDebt := b.inDebt()

	switch {
	case hadDebt && !stillDebt:
		b.balance = burst + 1
	case !hadDebt && stillDebt:
		b.balance = burst
	}
}

// setRate sets the rate and recomputes dtMax, the largest elapsed-time
// delta that can be multiplied by rate without overflowing a uint64.
// Caller must hold mu.
func (b *Bucket) setRate(rate uint64) {
	b.rate = rate
	if rate == 0 {
		b.dtMax = maxUint64
	} else {
		b.dtMax = maxUint64 / rate
	}
}

// balanceAt computes the balance as of `now` without mutating state.
func (b *Bucket) balanceAt(now uint64) uint64 {
	if b.refillTimeNS > now {
		// Time moved backward; tolerate it, don't adjust.
		return b.balance
	}

	dt := now - b.refillTimeNS
	if dt > b.dtMax {
		// Elapsed time is large enough that rate*dt could overflow;
		// the bucket is certainly full.
		return b.burst
	}

	refill := uint64(float64(b.rate) * float64(dt) * 1e-9)
	if refill > b.burst-b.balance {
		return b.burst
	}
	return b.balance + refill
}

// refill updates balance and refillTimeNS to the current time. Caller
// must hold mu.
func (b *Bucket) refill() {
	now := uint64(b.clock.NowNS())
	b.balance = b.balanceAt(now)
	b.refillTimeNS = now
}

// Adjust changes the burst and rate, refilling in between on the old rate
// so the new rate only governs future accrual. See setBurst for the
// discontinuity guard.
func (b *Bucket) Adjust(burst, rate uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.setBurst(burst)
	b.refill()
	b.setRate(rate)
}

// Burst returns the current burst cap.
func (b *Bucket) Burst() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.burst
}

// Rate returns the current rate in tokens/second.
func (b *Bucket) Rate() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rate
}

// RequestCount returns the number of Request calls that actually withdrew
// tokens (n != 0 and rate != 0).
func (b *Bucket) RequestCount() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.requests
}

// Request withdraws n tokens and returns the number of nanoseconds the
// caller should delay before proceeding in order to respect the rate. A
// request of 0 tokens, or a bucket with rate 0 (pacing disabled), always
// returns 0 immediately.
func (b *Bucket) Request(n uint64) uint64 {
	if n == 0 {
		return 0
	}

	b.mu.Lock()
	if b.rate == 0 {
		b.mu.Unlock()
		return 0
	}

	b.requests++
	b.refill()

	// requestMax is the largest withdrawal that leaves the balance at
	// burst+1 or above, so debt never exceeds MaxUint64 - burst. The
	// subtraction wraps when the bucket holds credit (balance <= burst),
	// which makes the bound large there; in debt it does not wrap and is
	// the room left before the maximum debt.
	requestMax := b.balance - b.burst - 1
	if n > requestMax {
		n = requestMax
	}
	b.balance -= n

	rate := b.rate
	amount, debt := b.status()
	b.mu.Unlock()

	if !debt {
		return 0
	}
	// Can overflow for extreme debt/low rate combinations; accepted
	// limitation, same as the source.
	return amount * nsecPerSec / rate
}

// Delay sleeps for the given number of nanoseconds. A no-op for ns == 0.
func Delay(ns uint64) {
	if ns == 0 {
		return
	}
	time.Sleep(time.Duration(ns))
}
