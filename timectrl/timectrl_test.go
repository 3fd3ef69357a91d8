package timectrl

import (
	"testing"
	"time"
)

func TestClockStartsAtStepZero(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	c := NewClock(start, 24*time.Hour, nil)

	if got := c.Step(); got != 0 {
		t.Fatalf("Step() = %d, want 0", got)
	}
	if got := c.Now(); !got.Equal(start) {
		t.Fatalf("Now() = %v, want %v", got, start)
	}
	if c.Location() != time.UTC {
		t.Fatalf("Location() = %v, want UTC", c.Location())
	}
}

func TestClockAdvance(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	c := NewClock(start, 6*time.Hour, nil)

	for range 3 {
		c.Advance()
	}

	if got := c.Step(); got != 3 {
		t.Fatalf("Step() = %d, want 3", got)
	}
	want := start.Add(18 * time.Hour)
	if got := c.Now(); !got.Equal(want) {
		t.Fatalf("Now() = %v, want %v", got, want)
	}
	if got := c.TimeAt(0); !got.Equal(start) {
		t.Fatalf("TimeAt(0) = %v, want %v", got, start)
	}
}

func TestClockDefaults(t *testing.T) {
	c := NewClock(time.Time{}, 0, nil)
	if got := c.StepDuration(); got != 24*time.Hour {
		t.Fatalf("StepDuration() = %v, want 24h", got)
	}
}

func TestClockLocation(t *testing.T) {
	loc := time.FixedZone("UTC+10", 10*3600)
	start := time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)
	c := NewClock(start, time.Hour, loc)

	if got := c.Now().Location(); got != loc {
		t.Fatalf("Now().Location() = %v, want %v", got, loc)
	}
	if got := c.Now().Hour(); got != 10 {
		t.Fatalf("Now().Hour() = %d, want 10", got)
	}
}

func TestFixedClockImplementsSimClock(t *testing.T) {
	at := time.Date(2025, time.January, 2, 0, 0, 0, 0, time.UTC)
	var clk SimClock = FixedClock{At: at, Index: 4}
	if !clk.Now().Equal(at) || clk.Step() != 4 {
		t.Fatalf("FixedClock = (%v, %d), want (%v, 4)", clk.Now(), clk.Step(), at)
	}
}
