package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-attempt/internal/attempt"
	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/middleware"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/repository"
	"github.com/stemsi/exstem-attempt/internal/response"
	"github.com/stemsi/exstem-attempt/internal/service"
	"github.com/stemsi/exstem-attempt/internal/validator"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	validator.Setup()
	os.Exit(m.Run())
}

type idleTicker struct{}

func (idleTicker) Stop() {}

type idleTickers struct{}

func (idleTickers) Every(time.Duration, func()) attempt.Ticker { return idleTicker{} }

// examBackend serves a two-question exam and records what it receives.
type examBackend struct {
	mu        sync.Mutex
	submitted []*model.SubmissionPayload
	uploads   []string
}

func (b *examBackend) FetchExam(context.Context, string) (*model.ExamMeta, error) {
	return &model.ExamMeta{ID: "exam-1", RemainingSeconds: model.Ptr(600)}, nil
}

func (b *examBackend) FetchQuestions(context.Context, string, string) ([]model.Question, error) {
	return []model.Question{{ID: "q1"}, {ID: "q2"}}, nil
}

func (b *examBackend) Submit(_ context.Context, _ string, p *model.SubmissionPayload) (json.RawMessage, error) {
	b.mu.Lock()
	b.submitted = append(b.submitted, p)
	b.mu.Unlock()
	return json.RawMessage(`{"score":1,"total":2}`), nil
}

func (b *examBackend) Upload(_ context.Context, name string, _ attempt.Blob) (string, error) {
	b.mu.Lock()
	b.uploads = append(b.uploads, name)
	b.mu.Unlock()
	return "https://cdn/" + name, nil
}

type testEnv struct {
	engine  *gin.Engine
	token   string
	backend *examBackend
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := &config.Config{
		JWTSecret:     "test-secret",
		JWTExpiry:     time.Hour,
		PageSize:      1,
		AttemptIdle:   time.Minute,
		SubmitTimeout: 5 * time.Second,
		ProctorPolicy: "permissive",
	}
	auth := service.NewAuthService(cfg, nil)
	token, err := auth.IssueStudentToken(7, 1)
	if err != nil {
		t.Fatal(err)
	}

	backend := &examBackend{}
	svc := service.NewAttemptService(cfg, service.AttemptServiceDeps{
		Store:    repository.NewResilientStore(repository.NewMemoryAttemptRepository(), time.Second, zerolog.Nop()),
		Backends: func(string) service.StudentBackend { return backend },
		Tickers:  idleTickers{},
		Log:      zerolog.Nop(),
	})
	t.Cleanup(svc.Shutdown)

	ah := NewAttemptHandler(svc, zerolog.Nop())
	mh := NewMediaHandler(svc, 1<<20, zerolog.Nop())

	r := gin.New()
	r.Use(response.RequestIDMiddleware())
	a := r.Group("/exams/:exam_id/attempt", middleware.RequireStudentJWT(auth))
	a.GET("", ah.GetAttempt)
	a.POST("/start", ah.StartAttempt)
	a.GET("/questions", ah.GetQuestions)
	a.POST("/answers", ah.SelectAnswer)
	a.POST("/navigate", ah.Navigate)
	a.POST("/submit", ah.Submit)
	a.POST("/dismiss", ah.Dismiss)
	a.POST("/recordings", mh.UploadRecording)

	return &testEnv{engine: r, token: token, backend: backend}
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code string `json:"code"`
	} `json:"error"`
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) (int, envelope) {
	t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rdr = bytes.NewReader(b)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, "/exams/exam-1/attempt"+path, rdr)
	req.Header.Set("Authorization", "Bearer "+e.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return e.serve(t, req)
}

func (e *testEnv) serve(t *testing.T, req *http.Request) (int, envelope) {
	t.Helper()
	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)
	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
	return w.Code, env
}

func errCode(env envelope) string {
	if env.Error == nil {
		return ""
	}
	return env.Error.Code
}

func TestAttemptLifecycleOverREST(t *testing.T) {
	e := newTestEnv(t)

	code, env := e.do(t, http.MethodGet, "", nil)
	var snap attempt.Snapshot
	json.Unmarshal(env.Data, &snap)
	if code != http.StatusOK || snap.Phase != attempt.PhaseNotStarted {
		t.Fatalf("get = %d %s", code, snap.Phase)
	}

	code, env = e.do(t, http.MethodGet, "/questions", nil)
	if code != http.StatusConflict || errCode(env) != string(response.ErrAttemptNotActive) {
		t.Fatalf("questions before start = %d %s", code, errCode(env))
	}

	code, env = e.do(t, http.MethodPost, "/start", nil)
	var started struct {
		Attempt attempt.Snapshot `json:"attempt"`
	}
	json.Unmarshal(env.Data, &started)
	if code != http.StatusOK || started.Attempt.Phase != attempt.PhaseActive {
		t.Fatalf("start = %d %s", code, started.Attempt.Phase)
	}
	if started.Attempt.Clock.RemainingSeconds != 600 {
		t.Errorf("remaining = %d", started.Attempt.Clock.RemainingSeconds)
	}

	code, env = e.do(t, http.MethodPost, "/answers", map[string]string{"question_id": "q1", "option": "A"})
	if code != http.StatusOK {
		t.Fatalf("answer = %d %s", code, errCode(env))
	}

	code, env = e.do(t, http.MethodPost, "/answers", map[string]string{"question_id": "nope", "option": "A"})
	if code != http.StatusNotFound || errCode(env) != string(response.ErrUnknownQuestion) {
		t.Fatalf("unknown question = %d %s", code, errCode(env))
	}

	code, env = e.do(t, http.MethodPost, "/navigate", map[string]string{"nav": "next"})
	var nav struct {
		Changed bool         `json:"changed"`
		Page    attempt.Page `json:"page"`
	}
	json.Unmarshal(env.Data, &nav)
	if code != http.StatusOK || !nav.Changed || nav.Page.Page != 2 {
		t.Fatalf("navigate = %d %+v", code, nav)
	}
	if len(nav.Page.Questions) != 1 || nav.Page.Questions[0].ID != "q2" {
		t.Errorf("page questions = %+v", nav.Page.Questions)
	}

	code, env = e.do(t, http.MethodPost, "/submit", nil)
	var outcome attempt.SubmitOutcome
	json.Unmarshal(env.Data, &outcome)
	if code != http.StatusOK || !outcome.NeedsConfirmation || len(outcome.Missing) != 1 || outcome.Missing[0] != 2 {
		t.Fatalf("unconfirmed submit = %d %+v", code, outcome)
	}

	code, env = e.do(t, http.MethodPost, "/submit", map[string]bool{"confirmed": true})
	outcome = attempt.SubmitOutcome{}
	json.Unmarshal(env.Data, &outcome)
	if code != http.StatusOK || !outcome.Submitted || outcome.Result == nil {
		t.Fatalf("confirmed submit = %d %+v", code, outcome)
	}
	if outcome.Result.Percentage != 50 {
		t.Errorf("percentage = %v", outcome.Result.Percentage)
	}
	if len(e.backend.submitted) != 1 {
		t.Fatalf("backend saw %d submissions", len(e.backend.submitted))
	}

	code, env = e.do(t, http.MethodPost, "/start", nil)
	if code != http.StatusConflict || errCode(env) != string(response.ErrAttemptFinished) {
		t.Fatalf("restart = %d %s", code, errCode(env))
	}

	code, _ = e.do(t, http.MethodPost, "/dismiss", nil)
	if code != http.StatusOK {
		t.Fatalf("dismiss = %d", code)
	}
	code, env = e.do(t, http.MethodGet, "/questions", nil)
	if code != http.StatusGone || errCode(env) != string(response.ErrAttemptDismissed) {
		t.Fatalf("questions after dismiss = %d %s", code, errCode(env))
	}
}

func TestRequestValidation(t *testing.T) {
	e := newTestEnv(t)
	e.do(t, http.MethodPost, "/start", nil)

	cases := []struct {
		name string
		path string
		body interface{}
	}{
		{"unknown nav action", "/navigate", map[string]string{"nav": "sideways"}},
		{"missing nav", "/navigate", map[string]string{}},
		{"missing option", "/answers", map[string]string{"question_id": "q1"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, env := e.do(t, http.MethodPost, tc.path, tc.body)
			if code != http.StatusBadRequest || errCode(env) != string(response.ErrValidation) {
				t.Fatalf("got %d %s", code, errCode(env))
			}
		})
	}
}

func TestMissingTokenIsRejected(t *testing.T) {
	e := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/exams/exam-1/attempt", nil)
	code, _ := e.serve(t, req)
	if code != http.StatusUnauthorized {
		t.Fatalf("status = %d", code)
	}
}

func TestUploadRecordingAttachesMedia(t *testing.T) {
	e := newTestEnv(t)
	e.do(t, http.MethodPost, "/start", nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("question_id", "q1")
	fw, _ := mw.CreateFormFile("file", "clip.webm")
	fw.Write([]byte("recorded"))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/exams/exam-1/attempt/recordings", &buf)
	req.Header.Set("Authorization", "Bearer "+e.token)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	code, env := e.serve(t, req)
	if code != http.StatusCreated {
		t.Fatalf("upload = %d %s", code, errCode(env))
	}
	var ref model.MediaRef
	json.Unmarshal(env.Data, &ref)
	if ref.URL == "" || len(e.backend.uploads) != 1 {
		t.Fatalf("ref = %+v uploads = %v", ref, e.backend.uploads)
	}

	_, env = e.do(t, http.MethodGet, "", nil)
	var snap attempt.Snapshot
	json.Unmarshal(env.Data, &snap)
	if snap.AnswerMedia["q1"].URL != ref.URL {
		t.Fatalf("answer media = %+v", snap.AnswerMedia)
	}
}

func TestUploadRecordingRequiresQuestion(t *testing.T) {
	e := newTestEnv(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, _ := mw.CreateFormFile("file", "clip.webm")
	fw.Write([]byte("recorded"))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/exams/exam-1/attempt/recordings", &buf)
	req.Header.Set("Authorization", "Bearer "+e.token)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	code, env := e.serve(t, req)
	if code != http.StatusBadRequest || errCode(env) != string(response.ErrValidation) {
		t.Fatalf("got %d %s", code, errCode(env))
	}
}
