package jobber

import (
	"context"
	"math"
	"sync"
	"time"
)

// ThrottleStatus is the server-reported budget in extensions.cost.throttleStatus
type ThrottleStatus struct {
	MaximumAvailable   float64 `json:"maximumAvailable"`
	CurrentlyAvailable float64 `json:"currentlyAvailable"`
	RestoreRate        float64 `json:"restoreRate"`
}

// BucketState is a point-in-time view of a leaky bucket
type BucketState struct {
	MaximumAvailable   float64   `json:"maximum_available"`
	CurrentlyAvailable float64   `json:"currently_available"`
	RestoreRate        float64   `json:"restore_rate"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Bucket tracks the query-cost budget of one scope.
// Between responses the balance is extrapolated from RestoreRate (points per second);
// every response overwrites it with the server value.
type Bucket struct {
	mu    sync.Mutex
	state BucketState
	known bool
}

// NewBucket creates a bucket with no server state yet
func NewBucket() *Bucket {
	return &Bucket{}
}

// Update replaces the local estimate with the server-reported status
func (b *Bucket) Update(status ThrottleStatus, now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BucketState{
		MaximumAvailable:   status.MaximumAvailable,
		CurrentlyAvailable: status.CurrentlyAvailable,
		RestoreRate:        status.RestoreRate,
		UpdatedAt:          now,
	}
	b.known = true
}

// Snapshot returns the extrapolated state at now
func (b *Bucket) Snapshot(now time.Time) BucketState {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.state
	s.CurrentlyAvailable = b.availableLocked(now)
	return s
}

// WaitBefore returns how long to wait before spending cost points.
// Below lowWater the bucket is refilled to lowWater; otherwise it waits for any deficit against cost.
func (b *Bucket) WaitBefore(cost, lowWater float64, now time.Time) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.known || b.state.RestoreRate <= 0 {
		return 0
	}
	avail := b.availableLocked(now)
	switch {
	case avail < lowWater:
		return pointsToDuration(lowWater-avail, b.state.RestoreRate)
	case avail < cost:
		return pointsToDuration(cost-avail, b.state.RestoreRate)
	}
	return 0
}

// Deficit returns the time needed to restore cost points, or zero if unknown
func (b *Bucket) Deficit(cost float64, now time.Time) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.known || b.state.RestoreRate <= 0 {
		return 0
	}
	avail := b.availableLocked(now)
	if avail >= cost {
		return 0
	}
	return pointsToDuration(cost-avail, b.state.RestoreRate)
}

func (b *Bucket) availableLocked(now time.Time) float64 {
	if !b.known {
		return 0
	}
	elapsed := now.Sub(b.state.UpdatedAt).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	avail := b.state.CurrentlyAvailable + elapsed*b.state.RestoreRate
	if b.state.MaximumAvailable > 0 {
		avail = math.Min(avail, b.state.MaximumAvailable)
	}
	return avail
}

func pointsToDuration(points, rate float64) time.Duration {
	return time.Duration(math.Ceil(points / rate * float64(time.Second)))
}

// ---------------------------------------------------------------------------
// Sleeper
// ---------------------------------------------------------------------------

// Sleeper suspends the caller; implementations must return early with ctx.Err()
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// SleeperFunc adapts a function to Sleeper
type SleeperFunc func(ctx context.Context, d time.Duration) error

// Sleep calls f(ctx, d)
func (f SleeperFunc) Sleep(ctx context.Context, d time.Duration) error {
	return f(ctx, d)
}

// TimerSleeper sleeps on a real timer
type TimerSleeper struct{}

// Sleep waits for d or until ctx is done
func (TimerSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
