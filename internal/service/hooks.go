package service

import (
	"github.com/stemsi/exstem-attempt/internal/attempt"
	"github.com/stemsi/exstem-attempt/internal/metrics"
	"github.com/stemsi/exstem-attempt/internal/model"
)

// MultiHooks fans lifecycle notifications out to every hook in order.
type MultiHooks []attempt.Hooks

func (m MultiHooks) AttemptStarted(key model.AttemptKey, remainingSeconds int) {
	for _, h := range m {
		h.AttemptStarted(key, remainingSeconds)
	}
}

func (m MultiHooks) AnswerSelected(key model.AttemptKey, questionID, option string) {
	for _, h := range m {
		h.AnswerSelected(key, questionID, option)
	}
}

func (m MultiHooks) AttemptCompleted(key model.AttemptKey, result *model.Result, auto bool) {
	for _, h := range m {
		h.AttemptCompleted(key, result, auto)
	}
}

func (m MultiHooks) AttemptDismissed(key model.AttemptKey) {
	for _, h := range m {
		h.AttemptDismissed(key)
	}
}

// MetricsHooks counts lifecycle transitions.
type MetricsHooks struct {
	attempt.NopHooks
}

func (MetricsHooks) AttemptStarted(model.AttemptKey, int) {
	metrics.AttemptTransitions.WithLabelValues("started").Inc()
}

func (MetricsHooks) AttemptCompleted(_ model.AttemptKey, _ *model.Result, auto bool) {
	event := "completed_manual"
	if auto {
		event = "completed_auto"
	}
	metrics.AttemptTransitions.WithLabelValues(event).Inc()
}

func (MetricsHooks) AttemptDismissed(model.AttemptKey) {
	metrics.AttemptTransitions.WithLabelValues("dismissed").Inc()
}
