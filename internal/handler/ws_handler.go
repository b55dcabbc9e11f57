package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-attempt/internal/attempt"
	"github.com/stemsi/exstem-attempt/internal/device"
	"github.com/stemsi/exstem-attempt/internal/metrics"
	"github.com/stemsi/exstem-attempt/internal/middleware"
	"github.com/stemsi/exstem-attempt/internal/response"
	"github.com/stemsi/exstem-attempt/internal/validator"
	ws "github.com/stemsi/exstem-attempt/internal/websocket"
)

// outboxSize bounds the updates queued for one connection.
const outboxSize = 64

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams an attempt to the browser and takes its intents.
type WSHandler struct {
	attempts          Attempts
	maxRecordingBytes int64
	log               zerolog.Logger
	upgrader          websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(attempts Attempts, maxRecordingBytes int64, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		attempts:          attempts,
		maxRecordingBytes: maxRecordingBytes,
		log:               log.With().Str("component", "ws_handler").Logger(),
		upgrader:          buildUpgrader(allowedOrigins),
	}
}

// AttemptStream godoc
// WS /ws/v1/student/exams/:exam_id/attempt
// Upgrades to WebSocket. Text frames carry JSON actions, binary frames
// carry recorded media chunks.
func (h *WSHandler) AttemptStream(c *gin.Context) {
	key, ok := attemptKey(c)
	if !ok {
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	sc := ws.Wrap(conn)
	defer sc.Close()

	wsLog := h.log.With().
		Int("student_id", key.StudentID).
		Str("exam_id", key.ExamID).
		Str("category", key.Category).
		Logger()

	lease, err := h.attempts.Acquire(c.Request.Context(), key, middleware.GetToken(c))
	if err != nil {
		wsLog.Warn().Err(err).Msg("Attempt unavailable")
		_, code := response.FromError(err)
		sc.SendError(string(code), response.GetMessage(code))
		return
	}
	defer lease.Release()

	metrics.StreamConnections.Inc()
	defer metrics.StreamConnections.Dec()

	wsLog.Info().Msg("Student connected")
	s := newStream(sc, lease.Controller, device.NewRemote(sc, h.maxRecordingBytes), wsLog)
	s.run()
	wsLog.Info().Msg("Student disconnected")
}

// stream is one live connection to an attempt.
type stream struct {
	conn *ws.Conn
	ctl  *attempt.Controller
	dev  *device.Remote
	log  zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	out    chan interface{}
	quit   chan struct{}
	resync atomic.Bool
	wg     sync.WaitGroup

	mu    sync.Mutex
	owned *attempt.Recorder
}

func newStream(conn *ws.Conn, ctl *attempt.Controller, dev *device.Remote, log zerolog.Logger) *stream {
	ctx, cancel := context.WithCancel(context.Background())
	return &stream{
		conn:   conn,
		ctl:    ctl,
		dev:    dev,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
		out:    make(chan interface{}, outboxSize),
		quit:   make(chan struct{}),
	}
}

func (s *stream) run() {
	writerDone := make(chan struct{})
	go s.writeLoop(writerDone)

	unsubscribe := s.ctl.Subscribe(s.push)
	snap := s.ctl.Snapshot()
	s.send(ws.SnapshotEvent{Event: ws.EventSnapshot, Snapshot: &snap})

	s.readLoop()

	unsubscribe()
	s.cancel()
	s.dev.Close()
	s.wg.Wait()
	s.closeOwnedRecorder()

	close(s.quit)
	<-writerDone
}

// push runs on the controller's goroutine and must not block. A full
// outbox drops the update and schedules a fresh snapshot instead.
func (s *stream) push(u attempt.Update) {
	select {
	case s.out <- ws.UpdateEvent(u):
	default:
		s.resync.Store(true)
	}
}

func (s *stream) writeLoop(done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-s.quit:
			return
		case ev := <-s.out:
			if err := s.conn.Send(ev); err != nil {
				s.log.Debug().Err(err).Msg("Write failed")
				return
			}
			if s.resync.CompareAndSwap(true, false) {
				snap := s.ctl.Snapshot()
				s.send(ws.SnapshotEvent{Event: ws.EventSnapshot, Snapshot: &snap})
			}
		}
	}
}

func (s *stream) readLoop() {
	for {
		msgType, data, err := ws.ReadMessage(s.conn.Raw())
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warn().Err(err).Msg("Unexpected close")
			} else {
				s.log.Debug().Msg("Connection closed")
			}
			return
		}
		if msgType == websocket.BinaryMessage {
			if err := s.dev.Chunk(data); err != nil {
				s.sendErr(err)
			}
			continue
		}
		s.dispatch(data)
	}
}

func (s *stream) dispatch(data []byte) {
	var env ws.RequestEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		s.conn.SendError(string(response.ErrInvalidPayload), response.GetMessage(response.ErrInvalidPayload))
		return
	}

	switch env.Action {
	case ws.ActionPing:
		s.send(ws.PongResponse{Event: ws.EventPong})

	case ws.ActionStart:
		s.async(func(ctx context.Context) error {
			d, err := s.ctl.RequestStart(ctx)
			if err != nil {
				return err
			}
			s.send(ws.DirectiveEvent{Event: ws.EventDirective, Directive: d})
			return nil
		})

	case ws.ActionAnswer:
		var req ws.AnswerRequest
		if !s.decode(data, &req) {
			return
		}
		changed, err := s.ctl.SelectAnswer(s.ctx, req.QID, req.Answer)
		s.ack(env.Action, changed, err)

	case ws.ActionNavigate:
		var req ws.NavigateRequest
		if !s.decode(data, &req) {
			return
		}
		if !validator.ValidNavAction(req.Nav) {
			s.conn.SendError(string(response.ErrValidation), response.GetMessage(response.ErrValidation))
			return
		}
		changed, err := s.ctl.Navigate(s.ctx, attempt.NavAction(req.Nav), req.Page)
		s.ack(env.Action, changed, err)

	case ws.ActionSignal:
		var req ws.SignalRequest
		if !s.decode(data, &req) {
			return
		}
		d := s.ctl.HandleSignal(req.Signal)
		s.send(ws.DirectiveEvent{Event: ws.EventDirective, Directive: d})

	case ws.ActionSubmit:
		var req ws.SubmitRequest
		if !s.decode(data, &req) {
			return
		}
		s.async(func(ctx context.Context) error {
			outcome, err := s.ctl.RequestSubmit(ctx, attempt.SubmitOptions{Confirmed: req.Confirmed})
			if err != nil {
				return err
			}
			s.send(ws.SubmitEvent{Event: ws.EventSubmit, Outcome: outcome})
			return nil
		})

	case ws.ActionDismiss:
		s.async(func(ctx context.Context) error {
			if err := s.ctl.Dismiss(ctx); err != nil {
				return err
			}
			s.send(ws.AckResponse{Event: ws.EventAck, Action: ws.ActionDismiss, Changed: true})
			return nil
		})

	case ws.ActionRemoveMedia:
		var req ws.RecorderRequest
		if !s.decode(data, &req) {
			return
		}
		changed, err := s.ctl.RemoveMedia(s.ctx, req.QID)
		s.ack(env.Action, changed, err)

	case ws.ActionRecorderOpen, ws.ActionRecorderStart, ws.ActionRecorderStop,
		ws.ActionRecorderRemake, ws.ActionRecorderUpload, ws.ActionRecorderClose:
		var req ws.RecorderRequest
		if !s.decode(data, &req) {
			return
		}
		s.recorderAction(env.Action, req.QID)

	case ws.ActionDeviceGrant:
		var req ws.DeviceGrantRequest
		if !s.decode(data, &req) {
			return
		}
		if err := s.dev.Grant(req.Tracks); err != nil {
			s.sendErr(err)
		}

	case ws.ActionDeviceDeny:
		var req ws.DeviceDenyRequest
		if !s.decode(data, &req) {
			return
		}
		if err := s.dev.Deny(req.Reason); err != nil {
			s.sendErr(err)
		}

	case ws.ActionTrackEnded:
		var req ws.TrackEndedRequest
		if !s.decode(data, &req) {
			return
		}
		s.dev.TrackEnded(req.Kind)

	case ws.ActionRecordingFlushed:
		if err := s.dev.Flushed(); err != nil {
			s.sendErr(err)
		}

	default:
		s.log.Warn().Str("action", string(env.Action)).Msg("Unknown action")
		s.conn.SendError(string(response.ErrInvalidPayload), "unknown action: "+string(env.Action))
	}
}

// recorderAction runs off the read loop: opening and stopping wait for
// device replies that arrive on this same connection.
func (s *stream) recorderAction(action ws.Action, questionID string) {
	if action == ws.ActionRecorderOpen {
		s.async(func(ctx context.Context) error {
			r, err := s.ctl.OpenRecorder(ctx, questionID, s.dev)
			if r != nil {
				s.mu.Lock()
				s.owned = r
				s.mu.Unlock()
			}
			return err
		})
		return
	}
	if action == ws.ActionRecorderClose {
		s.ctl.CloseRecorder()
		s.send(ws.AckResponse{Event: ws.EventAck, Action: action, Changed: true})
		return
	}

	r := s.ctl.Recorder()
	if r == nil || (questionID != "" && r.QuestionID() != questionID) {
		s.sendErr(attempt.ErrRecorderClosed)
		return
	}
	s.async(func(ctx context.Context) error {
		switch action {
		case ws.ActionRecorderStart:
			return r.StartRecording()
		case ws.ActionRecorderStop:
			return r.StopRecording(ctx)
		case ws.ActionRecorderRemake:
			return r.Remake(ctx)
		case ws.ActionRecorderUpload:
			_, err := r.Upload(ctx)
			return err
		}
		return nil
	})
}

// closeOwnedRecorder closes a recorder whose device was this connection.
func (s *stream) closeOwnedRecorder() {
	s.mu.Lock()
	owned := s.owned
	s.mu.Unlock()
	if owned != nil && s.ctl.Recorder() == owned {
		s.ctl.CloseRecorder()
	}
}

func (s *stream) async(fn func(ctx context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := fn(s.ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.sendErr(err)
		}
	}()
}

func (s *stream) decode(data []byte, v interface{}) bool {
	if err := json.Unmarshal(data, v); err != nil {
		s.conn.SendError(string(response.ErrInvalidPayload), response.GetMessage(response.ErrInvalidPayload))
		return false
	}
	return true
}

func (s *stream) ack(action ws.Action, changed bool, err error) {
	if err != nil {
		s.sendErr(err)
		return
	}
	s.send(ws.AckResponse{Event: ws.EventAck, Action: action, Changed: changed})
}

func (s *stream) sendErr(err error) {
	_, code := response.FromError(err)
	if code == response.ErrInternal {
		s.log.Error().Err(err).Msg("Action failed")
	}
	s.conn.SendError(string(code), response.GetMessage(code))
}

func (s *stream) send(v interface{}) {
	if err := s.conn.Send(v); err != nil {
		s.log.Debug().Err(err).Msg("Write failed")
	}
}
