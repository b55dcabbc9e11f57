package attempt

import (
	"context"
	"fmt"

	"github.com/stemsi/exstem-attempt/internal/model"
)

// SubmitOptions qualify a submit request. Auto marks a deadline
// submission, which never asks for confirmation. Confirmed acknowledges
// the missing-answers prompt of an earlier call.
type SubmitOptions struct {
	Auto      bool `json:"auto"`
	Confirmed bool `json:"confirmed"`
}

// SubmitOutcome tells the caller what RequestSubmit did.
type SubmitOutcome struct {
	// Missing lists 1-based positions of unanswered questions.
	Missing           []int         `json:"missing,omitempty"`
	NeedsConfirmation bool          `json:"needs_confirmation"`
	Ignored           bool          `json:"ignored"`
	Submitted         bool          `json:"submitted"`
	Result            *model.Result `json:"result,omitempty"`
}

const submitFailedNotice = "Your answers could not be submitted. They are kept; please try again."

// RequestSubmit runs the submission pipeline.
//
// A manual request with unanswered questions stops at the confirmation
// step. A request made while a submission is in flight, or after the
// attempt finished, is ignored, so only one payload ever reaches the
// backend. A request made after another category of the exam finished
// is ignored as well. On failure the attempt returns to Active with every
// answer intact. The backend call is detached from ctx: a client leaving the
// page does not cancel it.
func (c *Controller) RequestSubmit(ctx context.Context, opts SubmitOptions) (SubmitOutcome, error) {
	c.Refresh(ctx)
	c.mu.Lock()
	if c.closed && !opts.Auto {
		c.mu.Unlock()
		return SubmitOutcome{}, ErrControllerShutdown
	}
	if c.phase == PhaseNotStarted {
		c.mu.Unlock()
		return SubmitOutcome{}, ErrNotActive
	}
	if c.phase != PhaseActive {
		c.mu.Unlock()
		return SubmitOutcome{Ignored: true}, nil
	}

	missing := c.sheet.Missing(c.questions)
	if !opts.Auto && !opts.Confirmed && len(missing) > 0 {
		c.mu.Unlock()
		return SubmitOutcome{Missing: missing, NeedsConfirmation: true}, nil
	}

	next, err := Transition(c.phase, EventSubmit)
	if err != nil {
		c.mu.Unlock()
		return SubmitOutcome{}, err
	}
	c.phase = next
	c.notice = ""
	c.questionTicker = stopTicker(c.questionTicker)
	payload := c.sheet.Payload(c.questions, opts.Auto)
	backend := c.deps.Backend
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.publish(Update{Kind: UpdateSnapshot, Snapshot: &snap})
	c.log.Info().
		Bool("auto", opts.Auto).
		Int("answered", len(payload.Questions)-len(missing)).
		Int("missing", len(missing)).
		Msg("Submitting attempt")

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.SubmitTimeout)
	raw, err := backend.Submit(sctx, c.key.ExamID, payload)
	cancel()
	var result *model.Result
	if err == nil {
		result, err = ParseResult(raw)
	}

	if err != nil {
		return c.submitFailed(missing, err)
	}
	return c.submitSucceeded(missing, result, opts.Auto), nil
}

func (c *Controller) submitFailed(missing []int, cause error) (SubmitOutcome, error) {
	c.mu.Lock()
	next, err := Transition(c.phase, EventSubmitFailed)
	if err != nil {
		c.mu.Unlock()
		return SubmitOutcome{}, err
	}
	c.phase = next
	c.notice = submitFailedNotice
	if !c.closed {
		c.restartQuestionTickerLocked()
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.log.Warn().Err(cause).Msg("Submission failed, answers kept")
	c.publish(Update{Kind: UpdateNotice, Notice: submitFailedNotice})
	c.publish(Update{Kind: UpdateSnapshot, Snapshot: &snap})
	return SubmitOutcome{Missing: missing}, fmt.Errorf("%w: %v", ErrSubmitFailed, cause)
}

// submitSucceeded records the result. Completion only ever moves
// forward: a dismissal made while the submission was in flight stays.
func (c *Controller) submitSucceeded(missing []int, result *model.Result, auto bool) SubmitOutcome {
	ctx := context.Background()
	global, _ := c.deps.Store.LoadGlobalStatus(ctx, c.key.Exam())

	c.mu.Lock()
	if next, err := Transition(c.phase, EventSubmitSucceeded); err == nil {
		c.phase = next
	} else if c.phase != PhaseDismissed {
		c.log.Warn().Err(err).Msg("Attempt finished elsewhere while submitting")
		c.phase = PhaseCompleted
	}
	c.result = result
	c.stopTickersLocked()
	c.proctor.Disarm()
	c.closeRecorderLocked()
	c.sheet = newAnswerSheet(nil, nil)
	c.timers = questionTimers{}

	c.deps.Store.Clear(ctx, c.key)
	c.save(model.AttemptPatch{
		Completed:  model.Ptr(true),
		LastResult: result,
	})
	c.deps.Store.SaveGlobalStatus(ctx, c.key.Exam(), model.GlobalStatusPatch{
		Completed:  model.Ptr(true),
		LastResult: result,
	})
	c.deps.Hooks.AttemptCompleted(c.key, result, auto)
	if global.Dismissed {
		c.adoptGlobalLocked(global)
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.log.Info().
		Float64("obtained_score", result.ObtainedScore).
		Float64("total_score", result.TotalScore).
		Float64("percentage", result.Percentage).
		Bool("auto", auto).
		Msg("Attempt completed")
	c.publish(Update{Kind: UpdateSnapshot, Snapshot: &snap})

	return SubmitOutcome{Missing: missing, Submitted: true, Result: result.Clone()}
}
