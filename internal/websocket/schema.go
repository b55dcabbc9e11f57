package websocket

import (
	"github.com/stemsi/exstem-attempt/internal/attempt"
	"github.com/stemsi/exstem-attempt/internal/model"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionPing     Action = "ping"
	ActionStart    Action = "start"
	ActionAnswer   Action = "answer"
	ActionNavigate Action = "navigate"
	ActionSignal   Action = "signal"
	ActionSubmit   Action = "submit"
	ActionDismiss  Action = "dismiss"

	ActionRecorderOpen   Action = "recorder_open"
	ActionRecorderStart  Action = "recorder_start"
	ActionRecorderStop   Action = "recorder_stop"
	ActionRecorderRemake Action = "recorder_remake"
	ActionRecorderUpload Action = "recorder_upload"
	ActionRecorderClose  Action = "recorder_close"
	ActionRemoveMedia    Action = "remove_media"

	// Replies of the browser's media device.
	ActionDeviceGrant      Action = "device_grant"
	ActionDeviceDeny       Action = "device_deny"
	ActionTrackEnded       Action = "track_ended"
	ActionRecordingFlushed Action = "recording_flushed"
)

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action Action `json:"action"`
}

// AnswerRequest selects an option for a question.
type AnswerRequest struct {
	Action Action `json:"action"`
	QID    string `json:"q_id"`
	Answer string `json:"ans"`
}

// NavigateRequest moves the pager.
type NavigateRequest struct {
	Action Action `json:"action"`
	Nav    string `json:"nav"`
	Page   int    `json:"page,omitempty"`
}

// SignalRequest reports a proctoring observation.
type SignalRequest struct {
	Action Action              `json:"action"`
	Signal model.ProctorSignal `json:"signal"`
}

// SubmitRequest asks to finish the attempt.
type SubmitRequest struct {
	Action    Action `json:"action"`
	Confirmed bool   `json:"confirmed"`
}

// RecorderRequest drives the recorder of one question.
type RecorderRequest struct {
	Action Action `json:"action"`
	QID    string `json:"q_id"`
}

// TrackInfo describes one track granted by the browser.
type TrackInfo struct {
	Kind string `json:"kind"`
}

// DeviceGrantRequest answers a device_acquire with the granted tracks.
type DeviceGrantRequest struct {
	Action Action      `json:"action"`
	Tracks []TrackInfo `json:"tracks"`
}

// DeviceDenyRequest answers a device_acquire with a refusal.
type DeviceDenyRequest struct {
	Action Action `json:"action"`
	Reason string `json:"reason"`
}

// TrackEndedRequest reports a track that ended on its own.
type TrackEndedRequest struct {
	Action Action `json:"action"`
	Kind   string `json:"kind"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError     Event = "error"
	EventPong      Event = "pong"
	EventAck       Event = "ack"
	EventSnapshot  Event = "snapshot"
	EventTick      Event = "tick"
	EventNotice    Event = "notice"
	EventRecorder  Event = "recorder"
	EventDirective Event = "directive"
	EventSubmit    Event = "submit"

	// Commands for the browser's media device.
	EventDeviceAcquire  Event = "device_acquire"
	EventRecordingStart Event = "recording_start"
	EventRecordingStop  Event = "recording_stop"
	EventDeviceRelease  Event = "device_release"
)

type ErrorResponse struct {
	Event Event  `json:"event"`
	Code  string `json:"code,omitempty"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}

// AckResponse confirms an action that changed nothing visible.
type AckResponse struct {
	Event   Event  `json:"event"`
	Action  Action `json:"action"`
	Changed bool   `json:"changed"`
}

type SnapshotEvent struct {
	Event    Event             `json:"event"`
	Snapshot *attempt.Snapshot `json:"snapshot"`
}

type TickEvent struct {
	Event Event              `json:"event"`
	Clock *attempt.ClockView `json:"clock"`
}

type NoticeEvent struct {
	Event  Event  `json:"event"`
	Notice string `json:"notice"`
}

type RecorderEvent struct {
	Event    Event                     `json:"event"`
	Recorder *attempt.RecorderSnapshot `json:"recorder"`
}

type DirectiveEvent struct {
	Event     Event             `json:"event"`
	Directive attempt.Directive `json:"directive"`
}

type SubmitEvent struct {
	Event   Event                 `json:"event"`
	Outcome attempt.SubmitOutcome `json:"outcome"`
}

type DeviceAcquireEvent struct {
	Event Event `json:"event"`
	Video bool  `json:"video"`
	Audio bool  `json:"audio"`
}

type RecordingStartEvent struct {
	Event    Event  `json:"event"`
	MimeType string `json:"mime_type"`
}

type RecordingStopEvent struct {
	Event   Event `json:"event"`
	Discard bool  `json:"discard"`
}

type DeviceReleaseEvent struct {
	Event Event `json:"event"`
}

// UpdateEvent converts a controller update into its wire event.
func UpdateEvent(u attempt.Update) interface{} {
	switch u.Kind {
	case attempt.UpdateTick:
		return TickEvent{Event: EventTick, Clock: u.Clock}
	case attempt.UpdateNotice:
		return NoticeEvent{Event: EventNotice, Notice: u.Notice}
	case attempt.UpdateRecorder:
		return RecorderEvent{Event: EventRecorder, Recorder: u.Recorder}
	default:
		return SnapshotEvent{Event: EventSnapshot, Snapshot: u.Snapshot}
	}
}
