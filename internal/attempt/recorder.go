package attempt

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/stemsi/exstem-attempt/internal/model"
)

// RecorderState is the position of the recording workflow.
type RecorderState string

const (
	RecorderIdle       RecorderState = "idle"
	RecorderPreviewing RecorderState = "previewing"
	RecorderRecording  RecorderState = "recording"
	RecorderStopped    RecorderState = "stopped"
	RecorderUploading  RecorderState = "uploading"
	RecorderAttached   RecorderState = "attached"
	RecorderDenied     RecorderState = "denied"
	RecorderClosed     RecorderState = "closed"
)

// TrackState mirrors MediaStreamTrack.readyState.
type TrackState string

const (
	TrackLive  TrackState = "live"
	TrackEnded TrackState = "ended"
)

// Blob is a finished local recording.
type Blob struct {
	Data     []byte
	MimeType string
}

// MediaDevice hands out exclusive camera and microphone streams.
type MediaDevice interface {
	// Acquire blocks until the user grants or denies access. A denial
	// must be reported as an error wrapping ErrPermissionDenied.
	Acquire(ctx context.Context) (MediaStream, error)
}

// MediaStream is a live device stream.
type MediaStream interface {
	Tracks() []MediaTrack
	Record(mimeType string) (Capture, error)
}

// MediaTrack is one audio or video track of a stream.
type MediaTrack interface {
	Kind() string
	ReadyState() TrackState
	Stop()
}

// Capture is an in-progress recording of a stream.
type Capture interface {
	Finish(ctx context.Context) (Blob, error)
	Discard()
}

// RecorderConfig wires a recorder to the rest of the attempt.
type RecorderConfig struct {
	Limit         time.Duration
	MimeType      string
	FinishTimeout time.Duration
	Tickers       TickerFactory
	Uploader      Uploader

	// OnAttach runs after a successful upload, without the recorder lock.
	OnAttach func(questionID string, ref model.MediaRef) error
	// OnChange receives a snapshot after every state or counter change.
	OnChange func(RecorderSnapshot)
}

// RecorderSnapshot is the observable state of a recorder.
type RecorderSnapshot struct {
	QuestionID     string        `json:"question_id"`
	State          RecorderState `json:"state"`
	ElapsedSeconds int           `json:"elapsed_seconds"`
	LimitSeconds   int           `json:"limit_seconds"`
	MimeType       string        `json:"mime_type"`
	BlobSize       int           `json:"blob_size,omitempty"`
	URL            string        `json:"url,omitempty"`
	Error          string        `json:"error,omitempty"`
}

// Recorder runs the acquire, record, stop, upload, attach workflow for
// one question. It exclusively owns the device stream it acquires and
// releases it on stop, remake, close and every failure path.
type Recorder struct {
	mu         sync.Mutex
	questionID string
	device     MediaDevice
	cfg        RecorderConfig

	state   RecorderState
	stream  MediaStream
	capture Capture
	blob    *Blob
	elapsed int
	ticker  Ticker
	url     string
	lastErr error
}

// NewRecorder creates an idle recorder for questionID.
func NewRecorder(questionID string, device MediaDevice, cfg RecorderConfig) *Recorder {
	if cfg.Limit <= 0 {
		cfg.Limit = 5 * time.Minute
	}
	if cfg.MimeType == "" {
		cfg.MimeType = "video/webm"
	}
	if cfg.FinishTimeout <= 0 {
		cfg.FinishTimeout = 10 * time.Second
	}
	if cfg.Tickers == nil {
		cfg.Tickers = RealTickers{}
	}
	return &Recorder{
		questionID: questionID,
		device:     device,
		cfg:        cfg,
		state:      RecorderIdle,
	}
}

func (r *Recorder) QuestionID() string { return r.questionID }

func (r *Recorder) State() RecorderState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Closed reports whether the recorder reached its terminal state.
func (r *Recorder) Closed() bool {
	return r.State() == RecorderClosed
}

func (r *Recorder) Snapshot() RecorderSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Recorder) snapshotLocked() RecorderSnapshot {
	s := RecorderSnapshot{
		QuestionID:     r.questionID,
		State:          r.state,
		ElapsedSeconds: r.elapsed,
		LimitSeconds:   int(r.cfg.Limit / time.Second),
		MimeType:       r.cfg.MimeType,
		URL:            r.url,
	}
	if r.blob != nil {
		s.BlobSize = len(r.blob.Data)
	}
	if r.lastErr != nil {
		s.Error = r.lastErr.Error()
	}
	return s
}

func (r *Recorder) notify(s RecorderSnapshot) {
	if r.cfg.OnChange != nil {
		r.cfg.OnChange(s)
	}
}

// Open acquires the device and enters Previewing. A denial moves the
// recorder to Denied, which only Close leaves.
func (r *Recorder) Open(ctx context.Context) error {
	r.mu.Lock()
	if r.state != RecorderIdle {
		err := r.stateErrLocked("open")
		r.mu.Unlock()
		return err
	}
	r.lastErr = nil
	r.mu.Unlock()

	stream, err := r.device.Acquire(ctx)

	r.mu.Lock()
	if r.state == RecorderClosed {
		r.mu.Unlock()
		if stream != nil {
			releaseStream(stream)
		}
		return ErrRecorderClosed
	}
	if err != nil {
		if stream != nil {
			releaseStream(stream)
		}
		r.state = RecorderDenied
		r.lastErr = err
		snap := r.snapshotLocked()
		r.mu.Unlock()
		r.notify(snap)
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	r.stream = stream
	r.state = RecorderPreviewing
	snap := r.snapshotLocked()
	r.mu.Unlock()
	r.notify(snap)
	return nil
}

// StartRecording begins capturing the previewed stream. Recording stops
// on its own once the limit is reached.
func (r *Recorder) StartRecording() error {
	r.mu.Lock()
	if r.state != RecorderPreviewing {
		err := r.stateErrLocked("record")
		r.mu.Unlock()
		return err
	}
	capture, err := r.stream.Record(r.cfg.MimeType)
	if err != nil {
		r.lastErr = err
		snap := r.snapshotLocked()
		r.mu.Unlock()
		r.notify(snap)
		return fmt.Errorf("start recording: %w", err)
	}
	r.capture = capture
	r.elapsed = 0
	r.blob = nil
	r.state = RecorderRecording
	r.ticker = r.cfg.Tickers.Every(time.Second, r.tick)
	snap := r.snapshotLocked()
	r.mu.Unlock()
	r.notify(snap)
	return nil
}

func (r *Recorder) tick() {
	r.mu.Lock()
	if r.state != RecorderRecording {
		r.mu.Unlock()
		return
	}
	r.elapsed++
	if time.Duration(r.elapsed)*time.Second >= r.cfg.Limit {
		ctx, cancel := context.WithTimeout(context.Background(), r.cfg.FinishTimeout)
		r.stopLocked(ctx)
		cancel()
	}
	snap := r.snapshotLocked()
	r.mu.Unlock()
	r.notify(snap)
}

// StopRecording finalizes the blob and releases the device.
func (r *Recorder) StopRecording(ctx context.Context) error {
	r.mu.Lock()
	if r.state != RecorderRecording {
		err := r.stateErrLocked("stop")
		r.mu.Unlock()
		return err
	}
	err := r.stopLocked(ctx)
	snap := r.snapshotLocked()
	r.mu.Unlock()
	r.notify(snap)
	return err
}

func (r *Recorder) stopLocked(ctx context.Context) error {
	r.ticker = stopTicker(r.ticker)
	capture := r.capture
	r.capture = nil
	blob, err := capture.Finish(ctx)
	r.releaseLocked()
	if err != nil {
		// Nothing usable was captured; start over from the device.
		r.state = RecorderIdle
		r.lastErr = err
		return fmt.Errorf("finish recording: %w", err)
	}
	if blob.MimeType == "" {
		blob.MimeType = r.cfg.MimeType
	}
	r.blob = &blob
	r.state = RecorderStopped
	return nil
}

// Remake discards the stopped blob and re-acquires the device.
func (r *Recorder) Remake(ctx context.Context) error {
	r.mu.Lock()
	if r.state != RecorderStopped {
		err := r.stateErrLocked("remake")
		r.mu.Unlock()
		return err
	}
	r.blob = nil
	r.elapsed = 0
	r.lastErr = nil
	r.state = RecorderIdle
	r.mu.Unlock()
	return r.Open(ctx)
}

// Upload sends the stopped blob to storage and attaches the returned URL.
// On failure the recorder goes back to Stopped with the blob kept.
func (r *Recorder) Upload(ctx context.Context) (model.MediaRef, error) {
	r.mu.Lock()
	if r.state != RecorderStopped || r.blob == nil {
		err := r.stateErrLocked("upload")
		r.mu.Unlock()
		return model.MediaRef{}, err
	}
	if r.cfg.Uploader == nil {
		r.mu.Unlock()
		return model.MediaRef{}, ErrNoUploader
	}
	blob := *r.blob
	r.state = RecorderUploading
	r.lastErr = nil
	snap := r.snapshotLocked()
	r.mu.Unlock()
	r.notify(snap)

	url, err := r.cfg.Uploader.Upload(ctx, r.objectName(), blob)

	r.mu.Lock()
	if r.state == RecorderClosed {
		r.mu.Unlock()
		return model.MediaRef{}, ErrRecorderClosed
	}
	if err != nil {
		r.state = RecorderStopped
		r.lastErr = err
		snap = r.snapshotLocked()
		r.mu.Unlock()
		r.notify(snap)
		return model.MediaRef{}, fmt.Errorf("upload recording: %w", err)
	}
	ref := model.MediaRef{URL: url, MimeType: blob.MimeType}
	r.url = url
	r.state = RecorderAttached
	snap = r.snapshotLocked()
	r.mu.Unlock()

	if r.cfg.OnAttach != nil {
		if err := r.cfg.OnAttach(r.questionID, ref); err != nil {
			return model.MediaRef{}, r.attachFailed(err)
		}
	}
	r.notify(snap)
	return ref, nil
}

// attachFailed puts an uploaded but rejected recording back to Stopped,
// blob kept, so the student can retry or remake it.
func (r *Recorder) attachFailed(err error) error {
	r.mu.Lock()
	if r.state == RecorderClosed {
		r.mu.Unlock()
		return err
	}
	r.state = RecorderStopped
	r.url = ""
	r.lastErr = err
	snap := r.snapshotLocked()
	r.mu.Unlock()
	r.notify(snap)
	return err
}

// Close cancels any recording and releases the device. It is safe to
// call in every state and more than once.
func (r *Recorder) Close() {
	r.mu.Lock()
	if r.state == RecorderClosed {
		r.mu.Unlock()
		return
	}
	r.ticker = stopTicker(r.ticker)
	if r.capture != nil {
		r.capture.Discard()
		r.capture = nil
	}
	r.releaseLocked()
	r.blob = nil
	r.state = RecorderClosed
	snap := r.snapshotLocked()
	r.mu.Unlock()
	r.notify(snap)
}

func (r *Recorder) releaseLocked() {
	if r.stream != nil {
		releaseStream(r.stream)
		r.stream = nil
	}
}

func (r *Recorder) objectName() string {
	ext := "webm"
	switch r.cfg.MimeType {
	case "video/mp4":
		ext = "mp4"
	case "video/ogg":
		ext = "ogv"
	}
	return fmt.Sprintf("answer-%s-%d.%s", r.questionID, time.Now().UnixMilli(), ext)
}

func (r *Recorder) stateErrLocked(action string) error {
	if r.state == RecorderClosed {
		return ErrRecorderClosed
	}
	return fmt.Errorf("%w: cannot %s while %s", ErrRecorderState, action, r.state)
}

func releaseStream(s MediaStream) {
	for _, t := range s.Tracks() {
		t.Stop()
	}
}
