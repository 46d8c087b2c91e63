package timectrl

import (
	"context"
	"sync"
	"time"
)

// SimClock gives read access to simulation time so consumers (recorder,
// metrics) need not depend on the concrete clock.
type SimClock interface {
	// Now returns the current simulation time.
	Now() time.Time
}

// Mode describes how the FrameClock advances simulation time.
type Mode int

const (
	// RealTime paces frames with the wall clock and passes the measured
	// frame time, clamped, to listeners.
	RealTime Mode = iota
	// Accelerated runs frames back to back, each advancing by exactly Period.
	Accelerated
)

func (m Mode) String() string {
	if m == Accelerated {
		return "accelerated"
	}
	return "realtime"
}

// ParseMode accepts "realtime" or "accelerated"; anything else is RealTime.
func ParseMode(s string) Mode {
	if s == "accelerated" || s == "fast" {
		return Accelerated
	}
	return RealTime
}

// Clamp limits a frame delta to (0, max]. Non-positive deltas return 0 so
// callers can skip the frame.
func Clamp(dt, limit time.Duration) time.Duration {
	if dt <= 0 {
		return 0
	}
	if limit > 0 && dt > limit {
		return limit
	}
	return dt
}

// FrameClock drives the simulation loop and notifies registered listeners
// once per frame with the clamped delta in seconds.
type FrameClock struct {
	mu        sync.RWMutex
	StartTime time.Time
	Period    time.Duration
	MaxDelta  time.Duration
	Mode      Mode

	// currentTime tracks simulation time; it only moves by clamped deltas.
	currentTime time.Time
	frames      uint64

	listeners []func(now time.Time, dt float64)
}

// NewFrameClock constructs a clock. maxDelta caps the time a single frame
// may advance after a stall.
func NewFrameClock(start time.Time, period, maxDelta time.Duration, mode Mode) *FrameClock {
	return &FrameClock{
		StartTime:   start,
		Period:      period,
		MaxDelta:    maxDelta,
		Mode:        mode,
		currentTime: start,
	}
}

// Now returns the current simulation time. Implements SimClock.
func (fc *FrameClock) Now() time.Time {
	fc.mu.RLock()
	defer fc.mu.RUnlock()
	return fc.currentTime
}

// Elapsed returns simulation time since StartTime.
func (fc *FrameClock) Elapsed() time.Duration {
	return fc.Now().Sub(fc.StartTime)
}

// Frames returns how many frames have been delivered.
func (fc *FrameClock) Frames() uint64 {
	fc.mu.RLock()
	defer fc.mu.RUnlock()
	return fc.frames
}

// AddListener registers a callback invoked on every frame. Listeners run on
// the clock goroutine, in registration order.
func (fc *FrameClock) AddListener(fn func(now time.Time, dt float64)) {
	fc.listeners = append(fc.listeners, fn)
}

// Advance delivers one frame of length dt (clamped). It reports false and
// does nothing when the clamped delta is zero.
func (fc *FrameClock) Advance(dt time.Duration) bool {
	dt = Clamp(dt, fc.MaxDelta)
	if dt == 0 {
		return false
	}

	fc.mu.Lock()
	fc.currentTime = fc.currentTime.Add(dt)
	fc.frames++
	now := fc.currentTime
	fc.mu.Unlock()

	for _, fn := range fc.listeners {
		fn(now, dt.Seconds())
	}
	return true
}

// Start runs the clock in a separate goroutine until duration of simulation
// time has elapsed (0 means forever) or ctx is cancelled. It returns a
// channel that is closed when the clock stops.
func (fc *FrameClock) Start(ctx context.Context, duration time.Duration) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)

		fc.mu.Lock()
		fc.currentTime = fc.StartTime
		fc.frames = 0
		fc.mu.Unlock()

		finished := func() bool {
			return duration > 0 && fc.Elapsed() >= duration
		}

		if fc.Mode == Accelerated {
			for !finished() {
				if ctx.Err() != nil {
					return
				}
				fc.Advance(fc.Period)
			}
			return
		}

		ticker := time.NewTicker(fc.Period)
		defer ticker.Stop()
		last := time.Now()
		for !finished() {
			select {
			case <-ctx.Done():
				return
			case wall := <-ticker.C:
				fc.Advance(wall.Sub(last))
				last = wall
			}
		}
	}()
	return done
}
