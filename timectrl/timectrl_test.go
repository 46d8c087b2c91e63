package timectrl

import (
	"context"
	"testing"
	"time"
)

func TestClamp(t *testing.T) {
	cases := []struct {
		dt, max, want time.Duration
	}{
		{-time.Second, time.Second, 0},
		{0, time.Second, 0},
		{10 * time.Millisecond, 33 * time.Millisecond, 10 * time.Millisecond},
		{time.Second, 33 * time.Millisecond, 33 * time.Millisecond},
		{time.Second, 0, time.Second},
	}
	for _, tc := range cases {
		if got := Clamp(tc.dt, tc.max); got != tc.want {
			t.Fatalf("Clamp(%v, %v) = %v, want %v", tc.dt, tc.max, got, tc.want)
		}
	}
}

func TestFrameClockAdvanceClampsAndNotifies(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	fc := NewFrameClock(start, 10*time.Millisecond, 20*time.Millisecond, RealTime)

	var deltas []float64
	fc.AddListener(func(_ time.Time, dt float64) { deltas = append(deltas, dt) })

	if fc.Advance(0) {
		t.Fatalf("zero delta delivered a frame")
	}
	fc.Advance(5 * time.Millisecond)
	fc.Advance(2 * time.Second) // stall

	if len(deltas) != 2 || deltas[0] != 0.005 || deltas[1] != 0.02 {
		t.Fatalf("deltas = %v, want [0.005 0.02]", deltas)
	}
	if got, want := fc.Now(), start.Add(25*time.Millisecond); !got.Equal(want) {
		t.Fatalf("Now() = %v, want %v", got, want)
	}
	if fc.Frames() != 2 {
		t.Fatalf("Frames() = %d, want 2", fc.Frames())
	}
}

func TestFrameClockAcceleratedRunsDuration(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	fc := NewFrameClock(start, 5*time.Millisecond, 30*time.Millisecond, Accelerated)

	var frames int
	fc.AddListener(func(time.Time, float64) { frames++ })

	<-fc.Start(context.Background(), 15*time.Millisecond)

	expected := start.Add(15 * time.Millisecond)
	if got := fc.Now(); !got.Equal(expected) {
		t.Fatalf("Now() = %v, want %v", got, expected)
	}
	if frames != 3 {
		t.Fatalf("frames = %d, want 3", frames)
	}
}

func TestFrameClockStopsOnCancel(t *testing.T) {
	fc := NewFrameClock(time.Unix(0, 0), time.Millisecond, 30*time.Millisecond, RealTime)
	ctx, cancel := context.WithCancel(context.Background())
	done := fc.Start(ctx, 0)
	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("clock did not stop after cancel")
	}
}

func TestParseMode(t *testing.T) {
	if ParseMode("accelerated") != Accelerated || ParseMode("realtime") != RealTime || ParseMode("") != RealTime {
		t.Fatalf("ParseMode mismatch")
	}
}
