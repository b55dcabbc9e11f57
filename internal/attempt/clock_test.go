package attempt

import (
	"errors"
	"testing"
	"time"

	"github.com/stemsi/exstem-attempt/internal/model"
)

func TestClockTicksDownToZero(t *testing.T) {
	for _, r0 := range []int{0, 1, 5, 60, 3600} {
		for _, n := range []int{0, 1, 4, 59, 60, 61, 5000} {
			var c DeadlineClock
			c.Resume(r0, r0, false)
			for i := 0; i < n; i++ {
				c.Tick()
			}
			if want := max(0, r0-n); c.Remaining() != want {
				t.Errorf("r0=%d n=%d: remaining %d, want %d", r0, n, c.Remaining(), want)
			}
		}
	}
}

func TestClockFiresExpiryOnce(t *testing.T) {
	var c DeadlineClock
	c.Resume(3, 3, false)

	fired := 0
	for i := 0; i < 10; i++ {
		if c.Tick() {
			fired++
			if c.Remaining() != 0 {
				t.Fatalf("fired with %d seconds left", c.Remaining())
			}
		}
	}
	if fired != 1 {
		t.Fatalf("expiry fired %d times, want 1", fired)
	}
	if c.CheckExpiry() {
		t.Fatal("CheckExpiry fired again after Tick already did")
	}
}

func TestClockResumeKeepsFiredFlag(t *testing.T) {
	var c DeadlineClock
	c.Resume(0, 60, true)
	if c.CheckExpiry() || c.Tick() {
		t.Fatal("a fired clock must not fire again after resume")
	}

	var fresh DeadlineClock
	fresh.Resume(0, 60, false)
	if !fresh.CheckExpiry() {
		t.Fatal("an exhausted unfired clock should fire on CheckExpiry")
	}
}

func TestRemainingFromPreference(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	end := now.Add(90*time.Second + 700*time.Millisecond)
	past := now.Add(-time.Minute)

	testCases := []struct {
		name string
		src  TimingSource
		want int
	}{
		{"remaining wins", TimingSource{RemainingSeconds: model.Ptr(42), EndTime: &end, DurationMinutes: model.Ptr(10)}, 42},
		{"end time beats duration", TimingSource{EndTime: &end, DurationMinutes: model.Ptr(10)}, 90},
		{"end time in the past floors at zero", TimingSource{EndTime: &past}, 0},
		{"duration in minutes", TimingSource{DurationMinutes: model.Ptr(2)}, 120},
		{"negative remaining floors at zero", TimingSource{RemainingSeconds: model.Ptr(-5)}, 0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := RemainingFrom(tc.src, now)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("got %d, want %d", got, tc.want)
			}
		})
	}

	if _, err := RemainingFrom(TimingSource{}, now); !errors.Is(err, ErrNoTimingSource) {
		t.Fatalf("expected ErrNoTimingSource, got %v", err)
	}
}

func TestClockProgressAndUrgency(t *testing.T) {
	testCases := []struct {
		remaining int
		progress  float64
		urgency   Urgency
	}{
		{100, 0, UrgencyCalm},
		{51, 49, UrgencyCalm},
		{50, 50, UrgencyNotice},
		{25, 75, UrgencyWarning},
		{10, 90, UrgencyCritical},
		{0, 100, UrgencyCritical},
	}
	for _, tc := range testCases {
		var c DeadlineClock
		c.Resume(tc.remaining, 100, false)
		if c.Progress() != tc.progress {
			t.Errorf("remaining=%d: progress %.1f, want %.1f", tc.remaining, c.Progress(), tc.progress)
		}
		if c.Urgency() != tc.urgency {
			t.Errorf("remaining=%d: urgency %s, want %s", tc.remaining, c.Urgency(), tc.urgency)
		}
	}

	var zero DeadlineClock
	if zero.Progress() != 0 {
		t.Errorf("zero budget progress = %.1f, want 0", zero.Progress())
	}
}
