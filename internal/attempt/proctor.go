package attempt

import (
	"fmt"
	"strings"

	"github.com/stemsi/exstem-attempt/internal/model"
)

// Directive tells the browser what to do in response to a signal.
type Directive struct {
	SuppressKey       bool   `json:"suppress_key,omitempty"`
	RequestFullscreen bool   `json:"request_fullscreen,omitempty"`
	Notice            string `json:"notice,omitempty"`
}

func (d Directive) merge(o Directive) Directive {
	d.SuppressKey = d.SuppressKey || o.SuppressKey
	d.RequestFullscreen = d.RequestFullscreen || o.RequestFullscreen
	if o.Notice != "" {
		d.Notice = o.Notice
	}
	return d
}

// ProctorStatus is the observable state of the monitor.
type ProctorStatus struct {
	Armed        bool `json:"armed"`
	HasFocus     bool `json:"has_focus"`
	IsVisible    bool `json:"is_visible"`
	NeedsReentry bool `json:"needs_reentry"`
	FocusLosses  int  `json:"focus_losses"`
	HiddenCount  int  `json:"hidden_count"`
}

// ProctorPolicy decides how strictly focus and visibility loss are
// handled. Policies may only answer with directives; they never end an
// attempt on their own.
type ProctorPolicy interface {
	OnFocusLost(status ProctorStatus) Directive
	OnFocusRegained(status ProctorStatus) Directive
	OnVisibilityChange(status ProctorStatus, visible bool) Directive
}

// PermissivePolicy observes and does nothing.
type PermissivePolicy struct{}

func (PermissivePolicy) OnFocusLost(ProctorStatus) Directive              { return Directive{} }
func (PermissivePolicy) OnFocusRegained(ProctorStatus) Directive          { return Directive{} }
func (PermissivePolicy) OnVisibilityChange(ProctorStatus, bool) Directive { return Directive{} }

// WarnPolicy shows a notice when the student leaves the exam window.
type WarnPolicy struct{}

func (WarnPolicy) OnFocusLost(s ProctorStatus) Directive {
	return Directive{Notice: fmt.Sprintf("You left the exam window (%d times). Stay on this page until you submit.", s.FocusLosses)}
}

func (WarnPolicy) OnFocusRegained(ProctorStatus) Directive { return Directive{} }

func (WarnPolicy) OnVisibilityChange(s ProctorStatus, visible bool) Directive {
	if visible {
		return Directive{}
	}
	return Directive{Notice: fmt.Sprintf("The exam tab was hidden (%d times). Stay on this page until you submit.", s.HiddenCount)}
}

// PolicyByName resolves a configured policy; unknown names fall back to
// the permissive one.
func PolicyByName(name string) ProctorPolicy {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "warn":
		return WarnPolicy{}
	default:
		return PermissivePolicy{}
	}
}

var exitKeys = map[string]bool{"Escape": true, "Esc": true, "F11": true}

// ProctorMonitor tracks fullscreen, focus and visibility while an
// attempt is active.
type ProctorMonitor struct {
	policy ProctorPolicy
	status ProctorStatus
}

// NewProctorMonitor creates a disarmed monitor.
func NewProctorMonitor(policy ProctorPolicy) *ProctorMonitor {
	if policy == nil {
		policy = PermissivePolicy{}
	}
	return &ProctorMonitor{
		policy: policy,
		status: ProctorStatus{HasFocus: true, IsVisible: true},
	}
}

// Arm starts monitoring. The start action is itself a user gesture, so
// the browser is asked to enter fullscreen right away.
func (m *ProctorMonitor) Arm() Directive {
	m.status.Armed = true
	m.status.NeedsReentry = false
	return Directive{RequestFullscreen: true}
}

// Rearm resumes monitoring after a reload. Fullscreen did not survive
// the reload, so the next click re-requests it.
func (m *ProctorMonitor) Rearm() {
	m.status.Armed = true
	m.status.NeedsReentry = true
}

// Disarm stops monitoring and forgets any pending re-entry.
func (m *ProctorMonitor) Disarm() {
	m.status.Armed = false
	m.status.NeedsReentry = false
}

func (m *ProctorMonitor) Status() ProctorStatus { return m.status }

// Handle processes one signal. The second return value reports whether
// the signal was observed while armed and belongs in the audit trail.
func (m *ProctorMonitor) Handle(sig model.ProctorSignal) (Directive, bool) {
	if !m.status.Armed {
		// Focus and visibility stay observable even when disarmed.
		switch sig.Kind {
		case model.SignalFocus:
			m.status.HasFocus = true
		case model.SignalBlur:
			m.status.HasFocus = false
		case model.SignalVisibility:
			m.status.IsVisible = sig.Visible
		}
		return Directive{}, false
	}

	var d Directive
	switch sig.Kind {
	case model.SignalKeyDown:
		if !exitKeys[sig.Key] {
			return Directive{}, false
		}
		d.SuppressKey = true

	case model.SignalFullscreenChange:
		// Re-entry without a gesture would be rejected; wait for a click.
		m.status.NeedsReentry = !sig.Fullscreen

	case model.SignalFullscreenError:
		m.status.NeedsReentry = true

	case model.SignalClick:
		if !m.status.NeedsReentry {
			return Directive{}, false
		}
		m.status.NeedsReentry = false
		d.RequestFullscreen = true

	case model.SignalBlur:
		if !m.status.HasFocus {
			return Directive{}, false
		}
		m.status.HasFocus = false
		m.status.FocusLosses++
		d = d.merge(m.policy.OnFocusLost(m.status))

	case model.SignalFocus:
		if m.status.HasFocus {
			return Directive{}, false
		}
		m.status.HasFocus = true
		d = d.merge(m.policy.OnFocusRegained(m.status))

	case model.SignalVisibility:
		if m.status.IsVisible == sig.Visible {
			return Directive{}, false
		}
		m.status.IsVisible = sig.Visible
		if !sig.Visible {
			m.status.HiddenCount++
		}
		d = d.merge(m.policy.OnVisibilityChange(m.status, sig.Visible))

	default:
		return Directive{}, false
	}
	return d, true
}
