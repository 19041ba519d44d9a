// Package telephony defines the Provider interface for PSTN call-control
// backends.
//
// A telephony provider wraps a carrier's call-control API (Telnyx, Twilio,
// SignalWire, …) and exposes a uniform capability set: dial/answer/reject/
// hangup, playback start/stop, DTMF, and recording. Concrete variants are
// interchangeable so the rest of the system is carrier-agnostic, matching
// the STT/LLM/TTS provider pattern elsewhere in this module.
//
// Carrier call events (answered, hangup, streaming started, recording saved,
// AMD result, …) arrive out-of-band as inbound webhooks; they are modeled as
// a typed Event union dispatched to the Session Manager rather than returned
// from these methods.
package telephony

import (
	"context"
	"time"
)

// DialParams describes an outbound call request.
type DialParams struct {
	// To is the destination number in E.164 format.
	To string

	// From is the source number in E.164 format.
	From string

	// WebhookURL receives call-control events for this call.
	WebhookURL string

	// CustomVariables are opaque key/value pairs echoed back in events,
	// carrying the call's agent id and session seed data.
	CustomVariables map[string]string

	// StreamURL, if set, requests a carrier-side bidirectional RTP/media
	// stream to this URL in addition to control-plane webhooks.
	StreamURL string

	// EnableAMD turns on answering-machine detection.
	EnableAMD bool

	// AMDMode selects detection cost/accuracy tier ("standard" or "premium").
	// Ignored unless EnableAMD is true.
	AMDMode string
}

// CallHandle identifies an active call leg and is returned by Dial.
type CallHandle struct {
	CallControlID string
	CallLegID     string
	CallSessionID string
}

// PlaybackParams describes an audio playback request.
type PlaybackParams struct {
	// AudioURL is the location of the audio to play (carrier-fetched).
	AudioURL string

	// Loop repeats playback until explicitly stopped.
	Loop bool

	// Overlay plays this audio on top of any in-flight playback instead of
	// replacing it. Used rarely; most playbacks replace.
	Overlay bool
}

// PlaybackHandle identifies an in-flight playback, returned by StartPlayback.
type PlaybackHandle struct {
	PlaybackID string
}

// RecordingHandle identifies an in-flight or completed call recording.
type RecordingHandle struct {
	RecordingID string
}

// EventType enumerates the inbound carrier webhook events this provider
// understands.
type EventType string

const (
	EventCallAnswered     EventType = "call.answered"
	EventCallHangup       EventType = "call.hangup"
	EventCallInitiated    EventType = "call.initiated"
	EventStreamingStarted EventType = "streaming.started"
	EventStreamingStopped EventType = "streaming.stopped"
	EventPlaybackEnded    EventType = "call.playback.ended"
	EventRecordingSaved   EventType = "call.recording.saved"
	EventAMDResult        EventType = "call.machine.detection.ended"
	EventDTMFReceived     EventType = "call.dtmf.received"
)

// Event is a single carrier webhook event, decoded into the core's typed
// representation. Provider-specific payload fields not modeled here are
// preserved in Raw for components that need them.
type Event struct {
	Type          EventType
	CallControlID string
	Occurred      time.Time

	// AMDResult holds the answering-machine-detection classification when
	// Type is EventAMDResult (e.g., "human", "machine_start", "not_sure").
	AMDResult string

	// Digit holds the received DTMF digit when Type is EventDTMFReceived.
	Digit string

	// PlaybackID identifies the playback this event concerns, when applicable.
	PlaybackID string

	// Raw is the provider's original decoded payload.
	Raw map[string]any
}

// Provider is the abstraction over any PSTN call-control backend.
//
// Implementations must be safe for concurrent use; a single Provider serves
// every concurrent call handled by the process.
type Provider interface {
	// Dial originates an outbound call and returns its control handle.
	Dial(ctx context.Context, params DialParams) (CallHandle, error)

	// Answer accepts an inbound call, optionally starting a bidirectional
	// media stream to streamURL.
	Answer(ctx context.Context, callControlID string, streamURL string) error

	// Reject declines an inbound call with the given cause code.
	Reject(ctx context.Context, callControlID string, cause string) error

	// Hangup terminates an active call.
	Hangup(ctx context.Context, callControlID string) error

	// StartPlayback begins playing audio on the call and returns a handle
	// used to stop it.
	StartPlayback(ctx context.Context, callControlID string, params PlaybackParams) (PlaybackHandle, error)

	// StopPlayback stops a specific in-flight playback.
	StopPlayback(ctx context.Context, callControlID string, playbackID string) error

	// SendDTMF plays the given digits on the call.
	SendDTMF(ctx context.Context, callControlID string, digits string) error

	// StartRecording begins recording the call.
	StartRecording(ctx context.Context, callControlID string) (RecordingHandle, error)

	// StopRecording ends an in-progress recording.
	StopRecording(ctx context.Context, callControlID string) error

	// Transfer bridges the call to a new destination, used for human hand-off.
	Transfer(ctx context.Context, callControlID string, to string) error

	// ParseWebhook verifies and decodes a carrier webhook request body into
	// an Event. signature carries the provider-specific signature header
	// value; body is the raw request payload.
	ParseWebhook(body []byte, signature string) (Event, error)
}
