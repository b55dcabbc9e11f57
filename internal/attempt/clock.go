package attempt

import (
	"math"
	"time"

	"github.com/stemsi/exstem-attempt/internal/model"
)

// Urgency is a UI feedback band derived from clock progress.
type Urgency string

const (
	UrgencyCalm     Urgency = "calm"
	UrgencyNotice   Urgency = "notice"   // >= 50%
	UrgencyWarning  Urgency = "warning"  // >= 75%
	UrgencyCritical Urgency = "critical" // >= 90%
)

// TimingSource carries whichever timing hints the backend provided.
type TimingSource struct {
	RemainingSeconds *int
	EndTime          *time.Time
	DurationMinutes  *int
}

// SourceFromExam extracts the timing hints of an exam.
func SourceFromExam(meta *model.ExamMeta) TimingSource {
	if meta == nil {
		return TimingSource{}
	}
	return TimingSource{
		RemainingSeconds: meta.RemainingSeconds,
		EndTime:          meta.EndTime,
		DurationMinutes:  meta.DurationMinutes,
	}
}

// RemainingFrom resolves the starting remaining seconds. Explicit
// remaining seconds win over an end time, which wins over a duration.
func RemainingFrom(src TimingSource, now time.Time) (int, error) {
	switch {
	case src.RemainingSeconds != nil:
		return max(0, *src.RemainingSeconds), nil
	case src.EndTime != nil:
		secs := int(math.Floor(src.EndTime.Sub(now).Seconds()))
		return max(0, secs), nil
	case src.DurationMinutes != nil:
		return max(0, *src.DurationMinutes*60), nil
	default:
		return 0, ErrNoTimingSource
	}
}

// DeadlineClock counts an attempt down one second per tick and fires
// expiry exactly once.
type DeadlineClock struct {
	remaining int
	initial   int
	fired     bool
}

// Init starts a fresh clock from a timing source.
func (c *DeadlineClock) Init(src TimingSource, now time.Time) error {
	secs, err := RemainingFrom(src, now)
	if err != nil {
		return err
	}
	c.remaining = secs
	c.initial = secs
	c.fired = false
	return nil
}

// Resume restores a clock from persisted values without consulting the
// original source.
func (c *DeadlineClock) Resume(remaining, initial int, fired bool) {
	c.remaining = max(0, remaining)
	c.initial = max(initial, c.remaining)
	c.fired = fired
}

// Tick decrements the clock, floored at zero. It returns true only on
// the call that fires expiry.
func (c *DeadlineClock) Tick() bool {
	if c.remaining > 0 {
		c.remaining--
	}
	return c.checkExpiry()
}

// CheckExpiry fires expiry for a clock that is already at zero, as
// happens when a reload lands on an exhausted but unfired attempt.
func (c *DeadlineClock) CheckExpiry() bool {
	return c.checkExpiry()
}

func (c *DeadlineClock) checkExpiry() bool {
	if c.remaining == 0 && !c.fired {
		c.fired = true
		return true
	}
	return false
}

func (c *DeadlineClock) Remaining() int { return c.remaining }
func (c *DeadlineClock) Initial() int   { return c.initial }
func (c *DeadlineClock) Fired() bool    { return c.fired }

// Progress returns elapsed time as a percentage of the initial budget.
func (c *DeadlineClock) Progress() float64 {
	if c.initial <= 0 {
		return 0
	}
	p := float64(c.initial-c.remaining) * 100 / float64(c.initial)
	return math.Min(100, math.Max(0, p))
}

// Urgency maps progress to a feedback band.
func (c *DeadlineClock) Urgency() Urgency {
	switch p := c.Progress(); {
	case p >= 90:
		return UrgencyCritical
	case p >= 75:
		return UrgencyWarning
	case p >= 50:
		return UrgencyNotice
	default:
		return UrgencyCalm
	}
}
