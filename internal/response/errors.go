package response

import (
	"context"
	"errors"
	"net/http"

	"github.com/stemsi/exstem-attempt/internal/attempt"
	"github.com/stemsi/exstem-attempt/internal/device"
	"github.com/stemsi/exstem-attempt/internal/service"
	"github.com/stemsi/exstem-attempt/internal/storage"
	"github.com/stemsi/exstem-attempt/internal/upstream"
)

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrSessionInvalidated ErrCode = "SESSION_INVALIDATED"
	ErrTokenRequired      ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid       ErrCode = "TOKEN_INVALID"
	ErrTokenExpired       ErrCode = "TOKEN_EXPIRED"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrForbidden         ErrCode = "FORBIDDEN"
	ErrPermissionDenied  ErrCode = "PERMISSION_DENIED"
	ErrStudentAccessOnly ErrCode = "STUDENT_ACCESS_ONLY"
	ErrAdminAccessOnly   ErrCode = "ADMIN_ACCESS_ONLY"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound        ErrCode = "NOT_FOUND"
	ErrActionForbidden ErrCode = "ACTION_FORBIDDEN"

	// ─── Attempt ───────────────────────────────────────────────────────
	ErrAttemptNotActive   ErrCode = "ATTEMPT_NOT_ACTIVE"
	ErrAttemptFinished    ErrCode = "ATTEMPT_FINISHED"
	ErrAttemptDismissed   ErrCode = "ATTEMPT_DISMISSED"
	ErrNothingToDismiss   ErrCode = "NOTHING_TO_DISMISS"
	ErrNoTimingSource     ErrCode = "NO_TIMING_SOURCE"
	ErrNoQuestions        ErrCode = "NO_QUESTIONS"
	ErrUnknownQuestion    ErrCode = "UNKNOWN_QUESTION"
	ErrSubmitFailed       ErrCode = "SUBMIT_FAILED"
	ErrRecorderBusy       ErrCode = "RECORDER_BUSY"
	ErrRecorderState      ErrCode = "RECORDER_STATE"
	ErrDeviceDenied       ErrCode = "DEVICE_PERMISSION_DENIED"
	ErrRecordingDisabled  ErrCode = "RECORDING_DISABLED"
	ErrUpstreamDown       ErrCode = "UPSTREAM_UNAVAILABLE"
	ErrServiceUnavailable ErrCode = "SERVICE_UNAVAILABLE"
	ErrStorageDown        ErrCode = "STORAGE_UNAVAILABLE"

	// ─── Media ─────────────────────────────────────────────────────────
	ErrUnsupportedFile ErrCode = "UNSUPPORTED_FILE_TYPE"
	ErrFileTooLarge    ErrCode = "FILE_TOO_LARGE"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrSessionInvalidated:
		return "Sesi Anda telah berakhir. Silakan login kembali."
	case ErrTokenRequired:
		return "Token autentikasi diperlukan."
	case ErrTokenInvalid:
		return "Token autentikasi tidak valid."
	case ErrTokenExpired:
		return "Token autentikasi telah kedaluwarsa."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrForbidden:
		return "Anda tidak memiliki izin untuk mengakses sumber daya ini."
	case ErrPermissionDenied:
		return "Izin ditolak."
	case ErrStudentAccessOnly:
		return "Sumber daya ini terbatas untuk siswa."
	case ErrAdminAccessOnly:
		return "Sumber daya ini terbatas untuk administrator."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validasi gagal. Silakan periksa masukan Anda."
	case ErrInvalidID:
		return "Format ID tidak valid."
	case ErrInvalidPayload:
		return "Payload permintaan tidak valid."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Sumber daya tidak ditemukan."
	case ErrActionForbidden:
		return "Tindakan ini tidak diperbolehkan."

	// ─── Attempt ───────────────────────────────────────────────────────
	case ErrAttemptNotActive:
		return "Ujian belum dimulai atau sedang dikumpulkan."
	case ErrAttemptFinished:
		return "Ujian ini sudah selesai."
	case ErrAttemptDismissed:
		return "Hasil ujian ini sudah ditutup."
	case ErrNothingToDismiss:
		return "Belum ada hasil ujian untuk ditutup."
	case ErrNoTimingSource:
		return "Waktu ujian belum diatur."
	case ErrNoQuestions:
		return "Ujian ini tidak memiliki pertanyaan."
	case ErrUnknownQuestion:
		return "Pertanyaan tidak ditemukan dalam ujian ini."
	case ErrSubmitFailed:
		return "Jawaban gagal dikumpulkan. Jawaban Anda tetap tersimpan, silakan coba lagi."
	case ErrRecorderBusy:
		return "Perekam lain masih terbuka."
	case ErrRecorderState:
		return "Tindakan perekam tidak diperbolehkan saat ini."
	case ErrDeviceDenied:
		return "Akses kamera atau mikrofon ditolak."
	case ErrRecordingDisabled:
		return "Jawaban rekaman tidak diaktifkan."
	case ErrUpstreamDown:
		return "Server ujian sedang tidak dapat dihubungi. Silakan coba lagi."
	case ErrServiceUnavailable:
		return "Layanan sedang dimatikan. Silakan coba lagi sebentar."
	case ErrStorageDown:
		return "Penyimpanan ujian sedang tidak dapat diakses. Silakan coba lagi."

	// ─── Media ─────────────────────────────────────────────────────────
	case ErrUnsupportedFile:
		return "Jenis file tidak didukung."
	case ErrFileTooLarge:
		return "Ukuran file melebihi batas."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Terlalu banyak permintaan. Silakan coba lagi nanti."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "Terjadi kesalahan server internal."
	default:
		return "Terjadi kesalahan yang tidak terduga."
	}
}

var errorTable = []struct {
	err    error
	status int
	code   ErrCode
}{
	{attempt.ErrNotActive, http.StatusConflict, ErrAttemptNotActive},
	{attempt.ErrAttemptFinished, http.StatusConflict, ErrAttemptFinished},
	{attempt.ErrAttemptDismissed, http.StatusGone, ErrAttemptDismissed},
	{attempt.ErrNotCompleted, http.StatusConflict, ErrNothingToDismiss},
	{attempt.ErrNoTimingSource, http.StatusUnprocessableEntity, ErrNoTimingSource},
	{attempt.ErrNoQuestions, http.StatusUnprocessableEntity, ErrNoQuestions},
	{attempt.ErrUnknownQuestion, http.StatusNotFound, ErrUnknownQuestion},
	{attempt.ErrSubmitFailed, http.StatusBadGateway, ErrSubmitFailed},
	{attempt.ErrRecorderBusy, http.StatusConflict, ErrRecorderBusy},
	{attempt.ErrRecorderState, http.StatusConflict, ErrRecorderState},
	{attempt.ErrRecorderClosed, http.StatusConflict, ErrRecorderState},
	{attempt.ErrPermissionDenied, http.StatusForbidden, ErrDeviceDenied},
	{attempt.ErrNoUploader, http.StatusNotImplemented, ErrRecordingDisabled},
	{attempt.ErrControllerShutdown, http.StatusServiceUnavailable, ErrServiceUnavailable},
	{attempt.ErrStoreUnavailable, http.StatusServiceUnavailable, ErrStorageDown},
	{device.ErrBusy, http.StatusConflict, ErrRecorderBusy},
	{device.ErrNoRecording, http.StatusConflict, ErrRecorderState},
	{device.ErrNoRequest, http.StatusConflict, ErrRecorderState},
	{device.ErrRecordingTooLarge, http.StatusRequestEntityTooLarge, ErrFileTooLarge},
	{device.ErrDisconnected, http.StatusConflict, ErrRecorderState},
	{storage.ErrUnsupportedType, http.StatusUnsupportedMediaType, ErrUnsupportedFile},
	{storage.ErrTooLarge, http.StatusRequestEntityTooLarge, ErrFileTooLarge},
	{storage.ErrEmpty, http.StatusBadRequest, ErrInvalidPayload},
	{service.ErrServiceClosed, http.StatusServiceUnavailable, ErrServiceUnavailable},
	{upstream.ErrUnauthorized, http.StatusUnauthorized, ErrTokenInvalid},
	{upstream.ErrNotFound, http.StatusNotFound, ErrNotFound},
	{upstream.ErrUnavailable, http.StatusBadGateway, ErrUpstreamDown},
	{context.DeadlineExceeded, http.StatusGatewayTimeout, ErrUpstreamDown},
}

// FromError maps a domain error to its HTTP status and code.
func FromError(err error) (int, ErrCode) {
	for _, e := range errorTable {
		if errors.Is(err, e.err) {
			return e.status, e.code
		}
	}
	return http.StatusInternalServerError, ErrInternal
}
