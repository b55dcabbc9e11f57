package handler

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-attempt/internal/attempt"
	"github.com/stemsi/exstem-attempt/internal/middleware"
	"github.com/stemsi/exstem-attempt/internal/response"
)

// MediaHandler accepts recorded answers posted as files, for browsers
// that record locally instead of streaming chunks.
type MediaHandler struct {
	attempts Attempts
	maxBytes int64
	log      zerolog.Logger
}

// NewMediaHandler creates a new MediaHandler. maxBytes <= 0 disables the
// size cap.
func NewMediaHandler(attempts Attempts, maxBytes int64, log zerolog.Logger) *MediaHandler {
	return &MediaHandler{
		attempts: attempts,
		maxBytes: maxBytes,
		log:      log.With().Str("component", "media_handler").Logger(),
	}
}

// UploadRecording godoc
// POST /api/v1/student/exams/:exam_id/attempt/recordings
// Multipart form: question_id, file. Stores the recording and attaches
// it to the question.
func (h *MediaHandler) UploadRecording(c *gin.Context) {
	questionID := c.PostForm("question_id")
	if questionID == "" {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation,
			map[string]string{"question_id": "question_id is required"})
		return
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation,
			map[string]string{"file": "file is required"})
		return
	}
	defer file.Close()

	if h.maxBytes > 0 && header.Size > h.maxBytes {
		response.Fail(c, http.StatusRequestEntityTooLarge, response.ErrFileTooLarge)
		return
	}
	limit := h.maxBytes
	if limit <= 0 {
		limit = header.Size
	}
	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidPayload)
		return
	}
	if int64(len(data)) > limit {
		response.Fail(c, http.StatusRequestEntityTooLarge, response.ErrFileTooLarge)
		return
	}

	blob := attempt.Blob{Data: data, MimeType: header.Header.Get("Content-Type")}
	h.with(c, func(ctl *attempt.Controller) {
		ref, err := ctl.UploadAnswer(c.Request.Context(), questionID, blob)
		if err != nil {
			h.log.Warn().Err(err).Str("question_id", questionID).Msg("Recording upload failed")
			response.FailErr(c, err)
			return
		}
		response.Success(c, http.StatusCreated, ref)
	})
}

func (h *MediaHandler) with(c *gin.Context, fn func(ctl *attempt.Controller)) {
	key, ok := attemptKey(c)
	if !ok {
		return
	}
	lease, err := h.attempts.Acquire(c.Request.Context(), key, middleware.GetToken(c))
	if err != nil {
		response.FailErr(c, err)
		return
	}
	defer lease.Release()
	fn(lease.Controller)
}
