package device

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stemsi/exstem-attempt/internal/attempt"
	ws "github.com/stemsi/exstem-attempt/internal/websocket"
)

// browser records the commands the device sends.
type browser struct {
	mu   sync.Mutex
	sent []interface{}
	fail bool
}

func (b *browser) Send(v interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail {
		return errors.New("broken pipe")
	}
	b.sent = append(b.sent, v)
	return nil
}

func (b *browser) count(match func(interface{}) bool) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, v := range b.sent {
		if match(v) {
			n++
		}
	}
	return n
}

func isAcquire(v interface{}) bool {
	_, ok := v.(ws.DeviceAcquireEvent)
	return ok
}

func isRelease(v interface{}) bool {
	_, ok := v.(ws.DeviceReleaseEvent)
	return ok
}

// acquire runs Acquire and answers it once the command went out.
func acquire(t *testing.T, d *Remote, b *browser, answer func() error) (attempt.MediaStream, error) {
	t.Helper()
	type result struct {
		s   attempt.MediaStream
		err error
	}
	done := make(chan result, 1)
	go func() {
		s, err := d.Acquire(context.Background())
		done <- result{s, err}
	}()
	deadline := time.Now().Add(2 * time.Second)
	for b.count(isAcquire) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("device_acquire never sent")
		}
		time.Sleep(time.Millisecond)
	}
	if err := answer(); err != nil {
		t.Fatalf("answer: %v", err)
	}
	r := <-done
	return r.s, r.err
}

func TestGrantRecordFinish(t *testing.T) {
	b := &browser{}
	d := NewRemote(b, 0)

	st, err := acquire(t, d, b, func() error { return d.Grant(nil) })
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if len(st.Tracks()) != 2 {
		t.Fatalf("tracks = %d", len(st.Tracks()))
	}

	c, err := st.Record("video/webm")
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	d.Chunk([]byte("ab"))
	d.Chunk([]byte("cd"))

	go func() {
		time.Sleep(10 * time.Millisecond)
		d.Chunk([]byte("e"))
		d.Flushed()
	}()
	blob, err := c.Finish(context.Background())
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if string(blob.Data) != "abcde" || blob.MimeType != "video/webm" {
		t.Fatalf("blob %q %s", blob.Data, blob.MimeType)
	}

	for _, tr := range st.Tracks() {
		tr.Stop()
	}
	if b.count(isRelease) != 1 {
		t.Fatal("stopping every track should release the device once")
	}
	if d.Live() {
		t.Fatal("device still holds a stream")
	}
}

func TestDenyWrapsPermissionDenied(t *testing.T) {
	b := &browser{}
	d := NewRemote(b, 0)
	_, err := acquire(t, d, b, func() error { return d.Deny("NotAllowedError") })
	if !errors.Is(err, attempt.ErrPermissionDenied) {
		t.Fatalf("err = %v", err)
	}
	if err := d.Grant(nil); !errors.Is(err, ErrNoRequest) {
		t.Fatalf("late grant err = %v", err)
	}
}

func TestSecondAcquireIsBusy(t *testing.T) {
	b := &browser{}
	d := NewRemote(b, 0)
	if _, err := acquire(t, d, b, func() error { return d.Grant(nil) }); err != nil {
		t.Fatal(err)
	}
	if _, err := d.Acquire(context.Background()); !errors.Is(err, ErrBusy) {
		t.Fatalf("err = %v", err)
	}
}

func TestAcquireCancelledReleases(t *testing.T) {
	b := &browser{}
	d := NewRemote(b, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := d.Acquire(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if b.count(isRelease) != 1 {
		t.Fatal("a cancelled acquire should tell the browser to release")
	}
}

func TestChunkLimit(t *testing.T) {
	b := &browser{}
	d := NewRemote(b, 4)
	st, _ := acquire(t, d, b, func() error { return d.Grant(nil) })
	c, _ := st.Record("video/webm")

	if err := d.Chunk([]byte("12345")); !errors.Is(err, ErrRecordingTooLarge) {
		t.Fatalf("err = %v", err)
	}
	d.Flushed()
	if _, err := c.Finish(context.Background()); !errors.Is(err, ErrRecordingTooLarge) {
		t.Fatalf("finish err = %v", err)
	}
}

func TestCloseFailsPending(t *testing.T) {
	b := &browser{}
	d := NewRemote(b, 0)
	st, _ := acquire(t, d, b, func() error { return d.Grant(nil) })
	c, _ := st.Record("video/webm")

	d.Close()
	if _, err := c.Finish(context.Background()); !errors.Is(err, ErrDisconnected) {
		t.Fatalf("finish err = %v", err)
	}
	if _, err := d.Acquire(context.Background()); !errors.Is(err, ErrDisconnected) {
		t.Fatalf("acquire err = %v", err)
	}
}

func TestChunkWithoutRecording(t *testing.T) {
	d := NewRemote(&browser{}, 0)
	if err := d.Chunk([]byte("x")); !errors.Is(err, ErrNoRecording) {
		t.Fatalf("err = %v", err)
	}
}

func TestRecorderOverRemoteDevice(t *testing.T) {
	b := &browser{}
	d := NewRemote(b, 0)
	rec := attempt.NewRecorder("q1", d, attempt.RecorderConfig{})

	errc := make(chan error, 1)
	go func() { errc <- rec.Open(context.Background()) }()
	for b.count(isAcquire) == 0 {
		time.Sleep(time.Millisecond)
	}
	d.Grant([]ws.TrackInfo{{Kind: "video"}})
	if err := <-errc; err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := rec.StartRecording(); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	d.Chunk([]byte("clip"))
	go func() {
		time.Sleep(10 * time.Millisecond)
		d.Flushed()
	}()
	if err := rec.StopRecording(context.Background()); err != nil {
		t.Fatalf("StopRecording: %v", err)
	}
	if s := rec.Snapshot(); s.State != attempt.RecorderStopped || s.BlobSize != 4 {
		t.Fatalf("snapshot %+v", s)
	}
	if d.Live() {
		t.Fatal("stop must release the device")
	}
	rec.Close()
}
