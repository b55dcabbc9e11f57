// Package device implements the recorder's media device over the
// student's WebSocket stream. The browser owns the camera; the gateway
// sends it commands and buffers the chunks it streams back.
package device

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/stemsi/exstem-attempt/internal/attempt"
	ws "github.com/stemsi/exstem-attempt/internal/websocket"
)

var (
	ErrDisconnected      = errors.New("media device disconnected")
	ErrBusy              = errors.New("media device already in use")
	ErrNoRequest         = errors.New("no device request pending")
	ErrNoRecording       = errors.New("no recording in progress")
	ErrRecordingTooLarge = errors.New("recording exceeds the size limit")
)

// Sender delivers a command to the browser.
type Sender interface {
	Send(v interface{}) error
}

// Remote is an attempt.MediaDevice backed by the browser at the other
// end of a stream. At most one stream is live at a time.
type Remote struct {
	send     Sender
	maxBytes int64

	mu      sync.Mutex
	pending chan acquireReply
	stream  *stream
	closed  bool
}

type acquireReply struct {
	tracks []ws.TrackInfo
	err    error
}

var _ attempt.MediaDevice = (*Remote)(nil)

// NewRemote creates a device that talks through send. maxBytes caps one
// recording; <= 0 disables the cap.
func NewRemote(send Sender, maxBytes int64) *Remote {
	return &Remote{send: send, maxBytes: maxBytes}
}

// Acquire asks the browser for camera and microphone and waits for the
// answer.
func (d *Remote) Acquire(ctx context.Context) (attempt.MediaStream, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, ErrDisconnected
	}
	if d.pending != nil || d.stream != nil {
		d.mu.Unlock()
		return nil, ErrBusy
	}
	ch := make(chan acquireReply, 1)
	d.pending = ch
	d.mu.Unlock()

	if err := d.send.Send(ws.DeviceAcquireEvent{Event: ws.EventDeviceAcquire, Video: true, Audio: true}); err != nil {
		d.dropPending(ch)
		return nil, fmt.Errorf("%w: %v", ErrDisconnected, err)
	}

	select {
	case reply := <-ch:
		if reply.err != nil {
			return nil, reply.err
		}
		d.mu.Lock()
		if d.closed {
			d.mu.Unlock()
			return nil, ErrDisconnected
		}
		st := newStream(d, reply.tracks)
		d.stream = st
		d.mu.Unlock()
		return st, nil
	case <-ctx.Done():
		release := true
		if !d.dropPending(ch) {
			// A reply is already on its way.
			release = (<-ch).err == nil
		}
		if release {
			d.send.Send(ws.DeviceReleaseEvent{Event: ws.EventDeviceRelease})
		}
		return nil, ctx.Err()
	}
}

func (d *Remote) dropPending(ch chan acquireReply) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pending == ch {
		d.pending = nil
		return true
	}
	return false
}

// Grant answers the pending request with the granted tracks. An empty
// list means a video and an audio track.
func (d *Remote) Grant(tracks []ws.TrackInfo) error {
	if len(tracks) == 0 {
		tracks = []ws.TrackInfo{{Kind: "video"}, {Kind: "audio"}}
	}
	return d.reply(acquireReply{tracks: tracks})
}

// Deny answers the pending request with a refusal.
func (d *Remote) Deny(reason string) error {
	if reason == "" {
		reason = "access refused"
	}
	return d.reply(acquireReply{err: fmt.Errorf("%w: %s", attempt.ErrPermissionDenied, reason)})
}

func (d *Remote) reply(r acquireReply) error {
	d.mu.Lock()
	ch := d.pending
	d.pending = nil
	d.mu.Unlock()
	if ch == nil {
		return ErrNoRequest
	}
	ch <- r
	return nil
}

// Chunk appends recorded bytes to the running capture.
func (d *Remote) Chunk(data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stream == nil || d.stream.capture == nil {
		return ErrNoRecording
	}
	c := d.stream.capture
	if c.discarded {
		return nil
	}
	if d.maxBytes > 0 && int64(len(c.data)+len(data)) > d.maxBytes {
		c.err = ErrRecordingTooLarge
		return ErrRecordingTooLarge
	}
	c.data = append(c.data, data...)
	return nil
}

// Flushed marks the running capture complete after the browser sent its
// last chunk.
func (d *Remote) Flushed() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stream == nil || d.stream.capture == nil {
		return ErrNoRecording
	}
	d.stream.capture.flush(nil)
	return nil
}

// TrackEnded marks a track that the browser reports as ended.
func (d *Remote) TrackEnded(kind string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stream == nil {
		return
	}
	for _, t := range d.stream.tracks {
		if t.kind == kind {
			t.state = attempt.TrackEnded
		}
	}
}

// Close fails every pending operation. The browser is gone.
func (d *Remote) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	if d.pending != nil {
		d.pending <- acquireReply{err: ErrDisconnected}
		d.pending = nil
	}
	if st := d.stream; st != nil {
		for _, t := range st.tracks {
			t.state = attempt.TrackEnded
		}
		if st.capture != nil {
			st.capture.flush(ErrDisconnected)
		}
		d.stream = nil
	}
}

// Live reports whether a stream is currently held.
func (d *Remote) Live() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stream != nil
}

type stream struct {
	dev     *Remote
	tracks  []*track
	capture *capture
}

func newStream(d *Remote, infos []ws.TrackInfo) *stream {
	st := &stream{dev: d}
	for _, info := range infos {
		st.tracks = append(st.tracks, &track{stream: st, kind: info.Kind, state: attempt.TrackLive})
	}
	return st
}

func (s *stream) Tracks() []attempt.MediaTrack {
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()
	out := make([]attempt.MediaTrack, len(s.tracks))
	for i, t := range s.tracks {
		out[i] = t
	}
	return out
}

func (s *stream) Record(mimeType string) (attempt.Capture, error) {
	s.dev.mu.Lock()
	if s.dev.stream != s {
		s.dev.mu.Unlock()
		return nil, ErrDisconnected
	}
	if s.capture != nil {
		s.dev.mu.Unlock()
		return nil, ErrBusy
	}
	c := &capture{stream: s, mimeType: mimeType, done: make(chan struct{})}
	s.capture = c
	s.dev.mu.Unlock()

	if err := s.dev.send.Send(ws.RecordingStartEvent{Event: ws.EventRecordingStart, MimeType: mimeType}); err != nil {
		s.dev.mu.Lock()
		s.capture = nil
		s.dev.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", ErrDisconnected, err)
	}
	return c, nil
}

type track struct {
	stream *stream
	kind   string
	state  attempt.TrackState
}

func (t *track) Kind() string { return t.kind }

func (t *track) ReadyState() attempt.TrackState {
	t.stream.dev.mu.Lock()
	defer t.stream.dev.mu.Unlock()
	return t.state
}

// Stop ends the track. Once every track of the current stream has ended
// the browser is told to release the device.
func (t *track) Stop() {
	d := t.stream.dev
	d.mu.Lock()
	t.state = attempt.TrackEnded
	release := false
	if d.stream == t.stream {
		release = true
		for _, o := range t.stream.tracks {
			if o.state == attempt.TrackLive {
				release = false
				break
			}
		}
		if release {
			d.stream = nil
		}
	}
	d.mu.Unlock()

	if release {
		d.send.Send(ws.DeviceReleaseEvent{Event: ws.EventDeviceRelease})
	}
}

// capture fields are guarded by the device mutex.
type capture struct {
	stream    *stream
	mimeType  string
	data      []byte
	err       error
	discarded bool
	finished  bool
	done      chan struct{}
}

func (c *capture) flush(err error) {
	if c.finished {
		return
	}
	c.finished = true
	if err != nil && c.err == nil {
		c.err = err
	}
	close(c.done)
}

// Finish asks the browser to stop and waits for its last chunk.
func (c *capture) Finish(ctx context.Context) (attempt.Blob, error) {
	d := c.stream.dev
	if err := d.send.Send(ws.RecordingStopEvent{Event: ws.EventRecordingStop}); err != nil {
		d.mu.Lock()
		c.flush(ErrDisconnected)
		d.mu.Unlock()
	}

	select {
	case <-c.done:
	case <-ctx.Done():
		d.mu.Lock()
		c.flush(ctx.Err())
		d.mu.Unlock()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if c.stream.capture == c {
		c.stream.capture = nil
	}
	if c.err != nil {
		return attempt.Blob{}, c.err
	}
	return attempt.Blob{Data: c.data, MimeType: c.mimeType}, nil
}

// Discard stops the browser recorder and drops what was captured.
func (c *capture) Discard() {
	d := c.stream.dev
	d.mu.Lock()
	c.discarded = true
	c.data = nil
	c.flush(nil)
	if c.stream.capture == c {
		c.stream.capture = nil
	}
	d.mu.Unlock()
	d.send.Send(ws.RecordingStopEvent{Event: ws.EventRecordingStop, Discard: true})
}
