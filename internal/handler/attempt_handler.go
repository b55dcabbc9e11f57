package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-attempt/internal/attempt"
	"github.com/stemsi/exstem-attempt/internal/middleware"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/response"
	"github.com/stemsi/exstem-attempt/internal/service"
	"github.com/stemsi/exstem-attempt/internal/validator"
)

const maxExamIDLength = 128

// Attempts is the part of service.AttemptService the handlers use.
type Attempts interface {
	Acquire(ctx context.Context, key model.AttemptKey, token string) (*service.Lease, error)
}

// AttemptHandler exposes a student's attempt over REST.
type AttemptHandler struct {
	attempts Attempts
	log      zerolog.Logger
}

// NewAttemptHandler creates a new AttemptHandler.
func NewAttemptHandler(attempts Attempts, log zerolog.Logger) *AttemptHandler {
	return &AttemptHandler{
		attempts: attempts,
		log:      log.With().Str("component", "attempt_handler").Logger(),
	}
}

type selectAnswerRequest struct {
	QuestionID string `json:"question_id" binding:"required,max=128"`
	Option     string `json:"option" binding:"required,max=64"`
}

type navigateRequest struct {
	Nav  attempt.NavAction `json:"nav" binding:"required,nav_action"`
	Page int               `json:"page" binding:"omitempty,min=1"`
}

type submitRequest struct {
	Confirmed bool `json:"confirmed"`
}

// attemptKey builds the key from the token's student, the path and the
// category query.
func attemptKey(c *gin.Context) (model.AttemptKey, bool) {
	studentID, err := middleware.StudentID(c)
	if err != nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return model.AttemptKey{}, false
	}
	examID := c.Param("exam_id")
	category := c.Query("category")
	if examID == "" || len(examID) > maxExamIDLength || len(category) > maxExamIDLength {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return model.AttemptKey{}, false
	}
	return model.NewAttemptKey(studentID, examID, category), true
}

// with runs fn on the attempt's controller. It writes the error
// response when the controller cannot be opened.
func (h *AttemptHandler) with(c *gin.Context, fn func(ctl *attempt.Controller)) {
	key, ok := attemptKey(c)
	if !ok {
		return
	}
	lease, err := h.attempts.Acquire(c.Request.Context(), key, middleware.GetToken(c))
	if err != nil {
		h.log.Warn().Err(err).Str("attempt", key.String()).Msg("Attempt unavailable")
		response.FailErr(c, err)
		return
	}
	defer lease.Release()
	fn(lease.Controller)
}

// GetAttempt godoc
// GET /api/v1/student/exams/:exam_id/attempt
func (h *AttemptHandler) GetAttempt(c *gin.Context) {
	h.with(c, func(ctl *attempt.Controller) {
		response.Success(c, http.StatusOK, ctl.Snapshot())
	})
}

// StartAttempt godoc
// POST /api/v1/student/exams/:exam_id/attempt/start
func (h *AttemptHandler) StartAttempt(c *gin.Context) {
	h.with(c, func(ctl *attempt.Controller) {
		directive, err := ctl.RequestStart(c.Request.Context())
		if err != nil {
			response.FailErr(c, err)
			return
		}
		response.Success(c, http.StatusOK, gin.H{
			"directive": directive,
			"attempt":   ctl.Snapshot(),
		})
	})
}

// GetQuestions godoc
// GET /api/v1/student/exams/:exam_id/attempt/questions
func (h *AttemptHandler) GetQuestions(c *gin.Context) {
	h.with(c, func(ctl *attempt.Controller) {
		page, err := ctl.CurrentPage(c.Request.Context())
		if err != nil {
			response.FailErr(c, err)
			return
		}
		response.Success(c, http.StatusOK, page)
	})
}

// SelectAnswer godoc
// POST /api/v1/student/exams/:exam_id/attempt/answers
func (h *AttemptHandler) SelectAnswer(c *gin.Context) {
	var req selectAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	h.with(c, func(ctl *attempt.Controller) {
		changed, err := ctl.SelectAnswer(c.Request.Context(), req.QuestionID, req.Option)
		if err != nil {
			response.FailErr(c, err)
			return
		}
		response.Success(c, http.StatusOK, gin.H{
			"changed": changed,
			"attempt": ctl.Snapshot(),
		})
	})
}

// Navigate godoc
// POST /api/v1/student/exams/:exam_id/attempt/navigate
func (h *AttemptHandler) Navigate(c *gin.Context) {
	var req navigateRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	h.with(c, func(ctl *attempt.Controller) {
		changed, err := ctl.Navigate(c.Request.Context(), req.Nav, req.Page)
		if err != nil {
			response.FailErr(c, err)
			return
		}
		page, _ := ctl.CurrentPage(c.Request.Context())
		response.Success(c, http.StatusOK, gin.H{
			"changed": changed,
			"page":    page,
		})
	})
}

// Submit godoc
// POST /api/v1/student/exams/:exam_id/attempt/submit
// A manual submit with unanswered questions answers 200 with
// needs_confirmation; repeat with confirmed=true to send it.
func (h *AttemptHandler) Submit(c *gin.Context) {
	var req submitRequest
	if c.Request.ContentLength > 0 {
		if fields := validator.Bind(c, &req); fields != nil {
			response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
			return
		}
	}
	h.with(c, func(ctl *attempt.Controller) {
		outcome, err := ctl.RequestSubmit(c.Request.Context(), attempt.SubmitOptions{Confirmed: req.Confirmed})
		if err != nil {
			response.FailErr(c, err)
			return
		}
		response.Success(c, http.StatusOK, outcome)
	})
}

// Dismiss godoc
// POST /api/v1/student/exams/:exam_id/attempt/dismiss
func (h *AttemptHandler) Dismiss(c *gin.Context) {
	h.with(c, func(ctl *attempt.Controller) {
		if err := ctl.Dismiss(c.Request.Context()); err != nil {
			response.FailErr(c, err)
			return
		}
		response.Success(c, http.StatusOK, ctl.Snapshot())
	})
}
