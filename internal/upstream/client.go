package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-attempt/internal/attempt"
	"github.com/stemsi/exstem-attempt/internal/model"
)

var (
	ErrUnavailable  = errors.New("exam backend unavailable")
	ErrUnauthorized = errors.New("exam backend rejected the student token")
	ErrNotFound     = errors.New("exam not found upstream")
)

// StatusError is a non-2xx answer from the exam backend.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: upstream status %d: %s", e.Op, e.Status, e.Body)
}

func (e *StatusError) Unwrap() error {
	switch {
	case e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden:
		return ErrUnauthorized
	case e.Status == http.StatusNotFound:
		return ErrNotFound
	case e.Status >= 500:
		return ErrUnavailable
	}
	return nil
}

// Client talks to the exam REST backend.
type Client struct {
	http    *http.Client
	baseURL string
	log     zerolog.Logger
}

// New creates a client for baseURL.
func New(baseURL string, timeout time.Duration, log zerolog.Logger) *Client {
	h := &http.Client{}
	if timeout > 0 {
		h.Timeout = timeout
	}
	return &Client{
		http:    h,
		baseURL: strings.TrimRight(baseURL, "/"),
		log:     log.With().Str("component", "upstream").Logger(),
	}
}

// ForStudent returns a backend that calls upstream with the student's
// bearer token.
func (c *Client) ForStudent(token string) *Session {
	return &Session{c: c, token: token}
}

// Session is a per-student view of the backend. It implements
// attempt.Backend and attempt.Uploader.
type Session struct {
	c     *Client
	token string
}

var (
	_ attempt.Backend  = (*Session)(nil)
	_ attempt.Uploader = (*Session)(nil)
)

// FetchExam reads the exam's timing metadata.
func (s *Session) FetchExam(ctx context.Context, examID string) (*model.ExamMeta, error) {
	body, err := s.do(ctx, "fetch exam", http.MethodGet, "/exams/"+url.PathEscape(examID), nil, "")
	if err != nil {
		return nil, err
	}
	var raw examWire
	if err := json.Unmarshal(unwrapData(body), &raw); err != nil {
		return nil, fmt.Errorf("decode exam: %w", err)
	}
	meta := raw.toModel()
	if meta.ID == "" {
		meta.ID = examID
	}
	return meta, nil
}

// FetchQuestions reads the ordered question list for a category. The
// "all" category sends no filter.
func (s *Session) FetchQuestions(ctx context.Context, examID, category string) ([]model.Question, error) {
	path := "/exams/" + url.PathEscape(examID) + "/questions"
	if category != "" && category != model.CategoryAll {
		path += "?category=" + url.QueryEscape(category)
	}
	body, err := s.do(ctx, "fetch questions", http.MethodGet, path, nil, "")
	if err != nil {
		return nil, err
	}
	items, err := questionList(unwrapData(body))
	if err != nil {
		return nil, fmt.Errorf("decode questions: %w", err)
	}
	out := make([]model.Question, 0, len(items))
	for _, it := range items {
		out = append(out, it.toModel())
	}
	return out, nil
}

// Submit posts the answer payload and returns the raw scored result.
func (s *Session) Submit(ctx context.Context, examID string, payload *model.SubmissionPayload) (json.RawMessage, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode submission: %w", err)
	}
	body, err := s.do(ctx, "submit", http.MethodPost, "/exams/"+url.PathEscape(examID)+"/submit", bytes.NewReader(b), "application/json")
	if err != nil {
		return nil, err
	}
	return json.RawMessage(body), nil
}

// Upload sends a recording to the storage endpoint as a multipart file
// and returns its public URL.
func (s *Session) Upload(ctx context.Context, name string, blob attempt.Blob) (string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
	h.Set("Content-Type", blob.MimeType)
	part, err := w.CreatePart(h)
	if err != nil {
		return "", fmt.Errorf("build upload: %w", err)
	}
	if _, err := part.Write(blob.Data); err != nil {
		return "", fmt.Errorf("build upload: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("build upload: %w", err)
	}

	body, err := s.do(ctx, "upload", http.MethodPost, "/storage/upload", &buf, w.FormDataContentType())
	if err != nil {
		return "", err
	}
	var res struct {
		Success *bool `json:"success"`
		Data    struct {
			PublicURL  string `json:"public_url"`
			PublicURL2 string `json:"publicUrl"`
			URL        string `json:"url"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return "", fmt.Errorf("decode upload: %w", err)
	}
	if res.Success != nil && !*res.Success {
		return "", fmt.Errorf("upload: storage refused the file")
	}
	for _, u := range []string{res.Data.PublicURL, res.Data.PublicURL2, res.Data.URL} {
		if u != "" {
			return u, nil
		}
	}
	return "", fmt.Errorf("upload: response has no public_url")
}

func (s *Session) do(ctx context.Context, op, method, path string, body io.Reader, contentType string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, s.c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	start := time.Now()
	res, err := s.c.http.Do(req)
	if err != nil {
		s.c.log.Warn().Err(err).Str("op", op).Str("path", path).Msg("Upstream request failed")
		return nil, fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(io.LimitReader(res.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
	}
	s.c.log.Debug().
		Str("op", op).
		Int("status", res.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("Upstream request")

	if res.StatusCode/100 != 2 {
		msg := strings.TrimSpace(string(data))
		if len(msg) > 256 {
			msg = msg[:256]
		}
		return nil, &StatusError{Op: op, Status: res.StatusCode, Body: msg}
	}
	return data, nil
}

// unwrapData returns the "data" member of an envelope, or body itself.
func unwrapData(body []byte) []byte {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return trimmed
	}
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(trimmed, &env); err == nil && len(env.Data) > 0 && string(env.Data) != "null" {
		return env.Data
	}
	return trimmed
}

type examWire struct {
	ID                    flexString `json:"id"`
	Title                 string     `json:"title"`
	RemainingSeconds      *int       `json:"remainingSeconds"`
	RemainingSecondsSnake *int       `json:"remaining_seconds"`
	EndTime               *time.Time `json:"end_time"`
	EndTimeCamel          *time.Time `json:"endTime"`
	DurationMinutes       *int       `json:"durationMinutes"`
	DurationMinutesSnake  *int       `json:"duration_minutes"`
	Duration              *int       `json:"duration"`
}

func (w examWire) toModel() *model.ExamMeta {
	m := &model.ExamMeta{ID: string(w.ID), Title: w.Title}
	m.RemainingSeconds = firstNonNil(w.RemainingSeconds, w.RemainingSecondsSnake)
	m.EndTime = firstNonNil(w.EndTime, w.EndTimeCamel)
	m.DurationMinutes = firstNonNil(w.DurationMinutes, w.DurationMinutesSnake, w.Duration)
	return m
}

type questionWire struct {
	ID            flexString      `json:"id"`
	Question      string          `json:"question"`
	Text          string          `json:"question_text"`
	Options       json.RawMessage `json:"options"`
	Hint          string          `json:"hint"`
	MediaURL      string          `json:"mediaUrl"`
	MediaURLSnake string          `json:"media_url"`
	Image         string          `json:"image"`
	Video         string          `json:"video"`
	Audio         string          `json:"audio"`
	SVG           string          `json:"svg"`
	Estimated     *int            `json:"estimated_time_to_complete"`
	EstimatedCC   *int            `json:"estimatedTimeToComplete"`
}

func (w questionWire) toModel() model.Question {
	q := model.Question{
		ID:       string(w.ID),
		Question: w.Question,
		Options:  w.Options,
		Hint:     w.Hint,
		MediaURL: w.MediaURL,
		Image:    w.Image,
		Video:    w.Video,
		Audio:    w.Audio,
		SVG:      w.SVG,
	}
	if q.Question == "" {
		q.Question = w.Text
	}
	if q.MediaURL == "" {
		q.MediaURL = w.MediaURLSnake
	}
	if est := firstNonNil(w.Estimated, w.EstimatedCC); est != nil {
		q.EstimatedTimeToComplete = *est
	}
	return q
}

// questionList accepts a bare array or an object holding "questions".
func questionList(body []byte) ([]questionWire, error) {
	var items []questionWire
	if len(body) > 0 && body[0] == '[' {
		err := json.Unmarshal(body, &items)
		return items, err
	}
	var wrapped struct {
		Questions []questionWire `json:"questions"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, err
	}
	return wrapped.Questions, nil
}

// flexString decodes a JSON string or number into a string.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	if string(b) == "null" {
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	if i, err := strconv.ParseInt(n.String(), 10, 64); err == nil {
		*f = flexString(strconv.FormatInt(i, 10))
		return nil
	}
	*f = flexString(n.String())
	return nil
}

func firstNonNil[T any](vs ...*T) *T {
	for _, v := range vs {
		if v != nil {
			return v
		}
	}
	return nil
}
