// Package telnyx provides a Telnyx-backed telephony provider using the
// Telnyx Call Control v2 REST API. It implements the telephony.Provider
// interface.
package telnyx

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/Radicalscale/virevo/pkg/provider/telephony"
)

const (
	apiBase = "https://api.telnyx.com/v2"

	defaultTimeout = 10 * time.Second
)

// Option is a functional option for configuring the Provider.
type Option func(*Provider)

// WithHTTPClient overrides the pooled HTTP client used for all API calls.
// By default a single client with keep-alive connection pooling is shared
// across every call the process handles, matching the one-persistent-client
// requirement for telephony playback submission.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.http = c }
}

// WithPublicKey sets the Telnyx webhook Ed25519 public key (base64-encoded,
// as published in the Telnyx dashboard) used by ParseWebhook to verify
// inbound webhook signatures.
func WithPublicKey(base64Key string) Option {
	return func(p *Provider) { p.publicKeyB64 = base64Key }
}

// Provider implements telephony.Provider backed by the Telnyx Call Control API.
type Provider struct {
	apiKey       string
	connectionID string
	publicKeyB64 string
	http         *http.Client
}

// New creates a new Telnyx Provider. apiKey and connectionID must be non-empty.
func New(apiKey, connectionID string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("telnyx: apiKey must not be empty")
	}
	if connectionID == "" {
		return nil, errors.New("telnyx: connectionID must not be empty")
	}
	p := &Provider{
		apiKey:       apiKey,
		connectionID: connectionID,
		http: &http.Client{
			Timeout: defaultTimeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				MaxConnsPerHost:     100,
			},
		},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Dial implements telephony.Provider.
func (p *Provider) Dial(ctx context.Context, params telephony.DialParams) (telephony.CallHandle, error) {
	body := map[string]any{
		"to":            params.To,
		"from":          params.From,
		"connection_id": p.connectionID,
		"webhook_url":   params.WebhookURL,
	}
	if len(params.CustomVariables) > 0 {
		body["client_state"] = encodeClientState(params.CustomVariables)
	}
	if params.EnableAMD {
		mode := params.AMDMode
		if mode == "" {
			mode = "premium"
		}
		body["answering_machine_detection"] = mode
	}
	if params.StreamURL != "" {
		body["stream_url"] = params.StreamURL
		body["stream_track"] = "inbound_track"
		body["stream_bidirectional_mode"] = "rtp"
	}

	var resp struct {
		Data struct {
			CallControlID string `json:"call_control_id"`
			CallLegID     string `json:"call_leg_id"`
			CallSessionID string `json:"call_session_id"`
		} `json:"data"`
	}
	if err := p.post(ctx, "/calls", body, &resp); err != nil {
		return telephony.CallHandle{}, fmt.Errorf("telnyx: dial: %w", err)
	}
	return telephony.CallHandle{
		CallControlID: resp.Data.CallControlID,
		CallLegID:     resp.Data.CallLegID,
		CallSessionID: resp.Data.CallSessionID,
	}, nil
}

// Answer implements telephony.Provider.
func (p *Provider) Answer(ctx context.Context, callControlID string, streamURL string) error {
	body := map[string]any{}
	if streamURL != "" {
		body["stream_url"] = streamURL
	}
	return p.action(ctx, callControlID, "answer", body)
}

// Reject implements telephony.Provider.
func (p *Provider) Reject(ctx context.Context, callControlID string, cause string) error {
	if cause == "" {
		cause = "CALL_REJECTED"
	}
	return p.action(ctx, callControlID, "reject", map[string]any{"cause": cause})
}

// Hangup implements telephony.Provider.
func (p *Provider) Hangup(ctx context.Context, callControlID string) error {
	return p.action(ctx, callControlID, "hangup", nil)
}

// StartPlayback implements telephony.Provider.
func (p *Provider) StartPlayback(ctx context.Context, callControlID string, params telephony.PlaybackParams) (telephony.PlaybackHandle, error) {
	body := map[string]any{
		"audio_url": params.AudioURL,
	}
	if params.Loop {
		body["loop"] = "infinity"
	}
	if params.Overlay {
		body["overlay"] = true
	}

	var resp struct {
		Data struct {
			PlaybackID string `json:"playback_id"`
		} `json:"data"`
	}
	if err := p.actionResp(ctx, callControlID, "playback_start", body, &resp); err != nil {
		return telephony.PlaybackHandle{}, fmt.Errorf("telnyx: start playback: %w", err)
	}
	return telephony.PlaybackHandle{PlaybackID: resp.Data.PlaybackID}, nil
}

// StopPlayback implements telephony.Provider.
func (p *Provider) StopPlayback(ctx context.Context, callControlID string, playbackID string) error {
	body := map[string]any{}
	if playbackID != "" {
		body["overlay_playback_id"] = playbackID
	}
	return p.action(ctx, callControlID, "playback_stop", body)
}

// SendDTMF implements telephony.Provider.
func (p *Provider) SendDTMF(ctx context.Context, callControlID string, digits string) error {
	return p.action(ctx, callControlID, "send_dtmf", map[string]any{"digits": digits})
}

// StartRecording implements telephony.Provider.
func (p *Provider) StartRecording(ctx context.Context, callControlID string) (telephony.RecordingHandle, error) {
	body := map[string]any{"format": "mp3", "channels": "dual"}
	if err := p.action(ctx, callControlID, "record_start", body); err != nil {
		return telephony.RecordingHandle{}, fmt.Errorf("telnyx: start recording: %w", err)
	}
	return telephony.RecordingHandle{RecordingID: callControlID}, nil
}

// StopRecording implements telephony.Provider.
func (p *Provider) StopRecording(ctx context.Context, callControlID string) error {
	return p.action(ctx, callControlID, "record_stop", nil)
}

// Transfer implements telephony.Provider.
func (p *Provider) Transfer(ctx context.Context, callControlID string, to string) error {
	return p.action(ctx, callControlID, "transfer", map[string]any{"to": to})
}

// ParseWebhook implements telephony.Provider, verifying the Telnyx
// Ed25519 webhook signature before decoding the event when a public key was
// set with WithPublicKey; without one, the body is decoded unverified.
func (p *Provider) ParseWebhook(body []byte, signature string) (telephony.Event, error) {
	if p.publicKeyB64 != "" {
		if err := p.verifySignature(body, signature); err != nil {
			return telephony.Event{}, fmt.Errorf("telnyx: verify webhook: %w", err)
		}
	}

	var env struct {
		Data struct {
			EventType  string    `json:"event_type"`
			OccurredAt time.Time `json:"occurred_at"`
			Payload    struct {
				CallControlID string `json:"call_control_id"`
				Result        string `json:"result"`
				Digit         string `json:"digit"`
				PlaybackID    string `json:"playback_id"`
			} `json:"payload"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return telephony.Event{}, fmt.Errorf("telnyx: decode webhook: %w", err)
	}

	var raw map[string]any
	_ = json.Unmarshal(body, &raw)

	return telephony.Event{
		Type:          telephony.EventType(env.Data.EventType),
		CallControlID: env.Data.Payload.CallControlID,
		Occurred:      env.Data.OccurredAt,
		AMDResult:     env.Data.Payload.Result,
		Digit:         env.Data.Payload.Digit,
		PlaybackID:    env.Data.Payload.PlaybackID,
		Raw:           raw,
	}, nil
}

// verifySignature checks the `telnyx-signature-ed25519` header value against
// body using the configured public key.
func (p *Provider) verifySignature(body []byte, signature string) error {
	pubBytes, err := base64.StdEncoding.DecodeString(p.publicKeyB64)
	if err != nil {
		return fmt.Errorf("decode public key: %w", err)
	}
	sigBytes, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}
	if !ed25519.Verify(ed25519.PublicKey(pubBytes), body, sigBytes) {
		return errors.New("signature mismatch")
	}
	return nil
}

// ---- HTTP plumbing ----

func (p *Provider) action(ctx context.Context, callControlID, action string, body map[string]any) error {
	var discard struct{}
	return p.actionResp(ctx, callControlID, action, body, &discard)
}

func (p *Provider) actionResp(ctx context.Context, callControlID, action string, body map[string]any, out any) error {
	path := "/calls/" + callControlID + "/actions/" + action
	return p.post(ctx, path, body, out)
}

func (p *Provider) post(ctx context.Context, path string, body any, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiBase+path, &buf)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %s", strconv.Itoa(resp.StatusCode))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && resp.ContentLength != 0 {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// encodeClientState packs custom variables into Telnyx's base64 client_state
// slot so they round-trip back on every subsequent webhook for the call.
func encodeClientState(vars map[string]string) string {
	b, _ := json.Marshal(vars)
	return base64.StdEncoding.EncodeToString(b)
}
