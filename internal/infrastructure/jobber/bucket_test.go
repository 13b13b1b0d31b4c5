package jobber

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBucket_UnknownNeverWaits(t *testing.T) {
	b := NewBucket()
	now := time.Now()

	assert.Zero(t, b.WaitBefore(5000, 500, now))
	assert.Zero(t, b.Deficit(5000, now))
	assert.Zero(t, b.Snapshot(now).CurrentlyAvailable)
}

func TestBucket_ExtrapolatesAndCaps(t *testing.T) {
	b := NewBucket()
	t0 := time.Date(2025, 4, 16, 9, 0, 0, 0, time.UTC)
	b.Update(ThrottleStatus{MaximumAvailable: 10000, CurrentlyAvailable: 1000, RestoreRate: 500}, t0)

	assert.Equal(t, 1000.0, b.Snapshot(t0).CurrentlyAvailable)
	assert.Equal(t, 3500.0, b.Snapshot(t0.Add(5*time.Second)).CurrentlyAvailable)
	assert.Equal(t, 10000.0, b.Snapshot(t0.Add(time.Hour)).CurrentlyAvailable)
	// clock skew never drains the bucket
	assert.Equal(t, 1000.0, b.Snapshot(t0.Add(-time.Minute)).CurrentlyAvailable)
}

func TestBucket_WaitBefore(t *testing.T) {
	t0 := time.Date(2025, 4, 16, 9, 0, 0, 0, time.UTC)
	tests := []struct {
		name     string
		avail    float64
		cost     float64
		lowWater float64
		want     time.Duration
	}{
		{"plenty", 9000, 1500, 500, 0},
		{"below low water", 200, 100, 500, 6 * time.Second},
		{"below cost", 1000, 1500, 500, 10 * time.Second},
		{"exactly cost", 1500, 1500, 500, 0},
		{"fractional rounds up", 499, 1, 500, 20 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBucket()
			b.Update(ThrottleStatus{MaximumAvailable: 10000, CurrentlyAvailable: tt.avail, RestoreRate: 50}, t0)
			assert.Equal(t, tt.want, b.WaitBefore(tt.cost, tt.lowWater, t0))
		})
	}
}

func TestBucket_ZeroRestoreRate(t *testing.T) {
	b := NewBucket()
	now := time.Now()
	b.Update(ThrottleStatus{MaximumAvailable: 100, CurrentlyAvailable: 0, RestoreRate: 0}, now)

	assert.Zero(t, b.WaitBefore(50, 10, now))
	assert.Zero(t, b.Deficit(50, now))
}

func TestBucket_Deficit(t *testing.T) {
	b := NewBucket()
	t0 := time.Date(2025, 4, 16, 9, 0, 0, 0, time.UTC)
	b.Update(ThrottleStatus{MaximumAvailable: 10000, CurrentlyAvailable: 100, RestoreRate: 50}, t0)

	assert.Equal(t, 28*time.Second, b.Deficit(1500, t0))
	assert.Equal(t, 18*time.Second, b.Deficit(1500, t0.Add(10*time.Second)))
	assert.Zero(t, b.Deficit(50, t0))
}

func TestTimerSleeper(t *testing.T) {
	s := TimerSleeper{}

	assert.NoError(t, s.Sleep(context.Background(), time.Millisecond))
	assert.NoError(t, s.Sleep(context.Background(), 0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Sleep(ctx, time.Hour), context.Canceled)
}
