// Package mock provides a test double for the telephony.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/Radicalscale/virevo/pkg/provider/telephony"
)

// ActionCall records a single call-control action invocation.
type ActionCall struct {
	Method        string
	CallControlID string
	Args          map[string]any
}

// Provider is a mock implementation of telephony.Provider.
type Provider struct {
	mu sync.Mutex

	// DialHandle is returned by Dial. DialErr, if non-nil, is returned instead.
	DialHandle telephony.CallHandle
	DialErr    error

	// PlaybackHandle is returned by StartPlayback. StartPlaybackErr, if
	// non-nil, is returned instead.
	PlaybackHandle   telephony.PlaybackHandle
	StartPlaybackErr error

	// RecordingHandle is returned by StartRecording.
	RecordingHandle telephony.RecordingHandle

	// ParseWebhookEvent and ParseWebhookErr configure ParseWebhook's return.
	ParseWebhookEvent telephony.Event
	ParseWebhookErr   error

	// ActionErr, if non-nil, is returned by every action method (Answer,
	// Reject, Hangup, StopPlayback, SendDTMF, StopRecording, Transfer).
	ActionErr error

	// Calls records every action invocation in order.
	Calls []ActionCall
}

func (p *Provider) record(method, callControlID string, args map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, ActionCall{Method: method, CallControlID: callControlID, Args: args})
}

func (p *Provider) Dial(_ context.Context, params telephony.DialParams) (telephony.CallHandle, error) {
	p.record("Dial", "", map[string]any{"to": params.To, "from": params.From})
	if p.DialErr != nil {
		return telephony.CallHandle{}, p.DialErr
	}
	return p.DialHandle, nil
}

func (p *Provider) Answer(_ context.Context, callControlID string, streamURL string) error {
	p.record("Answer", callControlID, map[string]any{"streamURL": streamURL})
	return p.ActionErr
}

func (p *Provider) Reject(_ context.Context, callControlID string, cause string) error {
	p.record("Reject", callControlID, map[string]any{"cause": cause})
	return p.ActionErr
}

func (p *Provider) Hangup(_ context.Context, callControlID string) error {
	p.record("Hangup", callControlID, nil)
	return p.ActionErr
}

func (p *Provider) StartPlayback(_ context.Context, callControlID string, params telephony.PlaybackParams) (telephony.PlaybackHandle, error) {
	p.record("StartPlayback", callControlID, map[string]any{"audioURL": params.AudioURL})
	if p.StartPlaybackErr != nil {
		return telephony.PlaybackHandle{}, p.StartPlaybackErr
	}
	return p.PlaybackHandle, nil
}

func (p *Provider) StopPlayback(_ context.Context, callControlID string, playbackID string) error {
	p.record("StopPlayback", callControlID, map[string]any{"playbackID": playbackID})
	return p.ActionErr
}

func (p *Provider) SendDTMF(_ context.Context, callControlID string, digits string) error {
	p.record("SendDTMF", callControlID, map[string]any{"digits": digits})
	return p.ActionErr
}

func (p *Provider) StartRecording(_ context.Context, callControlID string) (telephony.RecordingHandle, error) {
	p.record("StartRecording", callControlID, nil)
	return p.RecordingHandle, p.ActionErr
}

func (p *Provider) StopRecording(_ context.Context, callControlID string) error {
	p.record("StopRecording", callControlID, nil)
	return p.ActionErr
}

func (p *Provider) Transfer(_ context.Context, callControlID string, to string) error {
	p.record("Transfer", callControlID, map[string]any{"to": to})
	return p.ActionErr
}

func (p *Provider) ParseWebhook(_ []byte, _ string) (telephony.Event, error) {
	return p.ParseWebhookEvent, p.ParseWebhookErr
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
}

// Ensure Provider implements telephony.Provider at compile time.
var _ telephony.Provider = (*Provider)(nil)
