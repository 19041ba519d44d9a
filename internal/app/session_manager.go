package app

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Radicalscale/virevo/internal/call"
	"github.com/Radicalscale/virevo/internal/config"
	"github.com/Radicalscale/virevo/internal/deadair"
	"github.com/Radicalscale/virevo/internal/observe"
	"github.com/Radicalscale/virevo/pkg/provider/stt"
	"github.com/Radicalscale/virevo/pkg/provider/telephony"
)

// liveCall holds the per-call goroutine state a [CallSessionManager] tracks
// between the answer webhook and the hangup webhook.
type liveCall struct {
	sttSession stt.SessionHandle
	deadair    *deadair.Supervisor
	cancel     context.CancelFunc
}

// CallSessionManager owns the lifetime of every in-progress call: it answers
// inbound calls, opens an STT stream per call, feeds partial/final
// transcripts to the barge-in and dead-air supervisors and the turn
// orchestrator, and tears everything down on hangup.
type CallSessionManager struct {
	app *App

	mu    sync.Mutex
	calls map[string]*liveCall
}

func newCallSessionManager(a *App) *CallSessionManager {
	return &CallSessionManager{app: a, calls: make(map[string]*liveCall)}
}

// Stop cancels every in-flight call's goroutines. Called from App.Shutdown.
func (m *CallSessionManager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, lc := range m.calls {
		lc.cancel()
		delete(m.calls, id)
	}
}

// HandleEvent dispatches one decoded telephony webhook event (§6).
func (m *CallSessionManager) HandleEvent(ctx context.Context, ev telephony.Event) {
	switch ev.Type {
	case telephony.EventCallAnswered, telephony.EventStreamingStarted:
		m.startCall(ctx, ev.CallControlID)
	case telephony.EventCallHangup:
		m.endCall(ctx, ev.CallControlID)
	case telephony.EventDTMFReceived:
		slog.Debug("dtmf received", "call_id", ev.CallControlID, "digit", ev.Digit)
	default:
		slog.Debug("unhandled telephony event", "type", ev.Type, "call_id", ev.CallControlID)
	}
}

// startCall resolves the already-created session (created at Dial/inbound
// acceptance, per §4.1), opens the STT stream, and launches the goroutines
// that drive the rest of the call until hangup.
func (m *CallSessionManager) startCall(parent context.Context, callID string) {
	m.mu.Lock()
	if _, exists := m.calls[callID]; exists {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	ctx, cancel := context.WithCancel(parent)

	sess, err := m.app.calls.Get(ctx, callID)
	if err != nil {
		slog.Error("call session manager: no session for answered call", "call_id", callID, "err", err)
		cancel()
		return
	}

	sttSession, err := m.app.providers.STT.StartStream(ctx, stt.StreamConfig{
		SampleRate: 8000,
		Channels:   1,
		Language:   "en-US",
	})
	if err != nil {
		slog.Error("call session manager: start stt stream failed", "call_id", callID, "err", err)
		cancel()
		return
	}

	dac := deadairConfigFor(sess, m.app.cfg.DeadAir)
	da := deadair.New(dac, deadair.Hooks{
		Checkin: func(ctx context.Context) error {
			return m.app.player.Speak(ctx, callID, singleSentenceChannel("Are you still there?"))
		},
		EndCall: func(ctx context.Context, reason string) {
			slog.Info("ending call from dead-air supervisor", "call_id", callID, "reason", reason)
			_ = m.app.providers.Telephony.Hangup(ctx, callID)
		},
	}, sess.CallStartTime)

	lc := &liveCall{sttSession: sttSession, deadair: da, cancel: cancel}
	m.mu.Lock()
	m.calls[callID] = lc
	m.mu.Unlock()

	observe.DefaultMetrics().ActiveCalls.Add(ctx, 1)

	go m.consumePartials(ctx, callID, sess, sttSession, da)
	go m.consumeFinals(ctx, callID, sess, sttSession, da)
}

// consumePartials feeds low-latency interim transcripts to barge-in
// detection and the dead-air "user is speaking" signal.
func (m *CallSessionManager) consumePartials(ctx context.Context, callID string, sess *call.Session, sh stt.SessionHandle, da *deadair.Supervisor) {
	for {
		select {
		case <-ctx.Done():
			return
		case tr, ok := <-sh.Partials():
			if !ok {
				return
			}
			if strings.TrimSpace(tr.Text) == "" {
				continue
			}
			da.OnUserSpeechStart()
			if retracted := m.app.bargein.Trigger(ctx, sess); retracted {
				observe.DefaultMetrics().RecordBargeIn(ctx, callID)
			}
		}
	}
}

// consumeFinals feeds authoritative transcripts into the turn orchestrator.
func (m *CallSessionManager) consumeFinals(ctx context.Context, callID string, sess *call.Session, sh stt.SessionHandle, da *deadair.Supervisor) {
	orch := m.app.orchestratorFor(m.app.player, da)

	for {
		select {
		case <-ctx.Done():
			return
		case tr, ok := <-sh.Finals():
			if !ok {
				return
			}
			if strings.TrimSpace(tr.Text) == "" {
				continue
			}
			da.OnUserUtterance(tr.Text)

			outcome, err := orch.ProcessTurn(ctx, sess, tr.Text)
			if err != nil {
				slog.Error("turn processing failed", "call_id", callID, "err", err)
				continue
			}
			observe.DefaultMetrics().RecordCallTurn(ctx, callID)
			_ = m.app.calls.Persist(ctx, sess)

			da.OnAgentStoppedSpeaking(ctx)

			if outcome.TransferRequested {
				_ = m.app.providers.Telephony.Transfer(ctx, callID, outcome.TransferDest)
			}
			if outcome.ShouldEndCall {
				_ = m.app.providers.Telephony.Hangup(ctx, callID)
				return
			}
		}
	}
}

// endCall tears down the call's goroutines and session state.
func (m *CallSessionManager) endCall(ctx context.Context, callID string) {
	m.mu.Lock()
	lc, ok := m.calls[callID]
	if ok {
		delete(m.calls, callID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	lc.deadair.Stop()
	_ = lc.sttSession.Close()
	lc.cancel()
	m.app.calls.Destroy(ctx, callID)
	observe.DefaultMetrics().ActiveCalls.Add(ctx, -1)
}

// IngestAudio delivers one chunk of raw PCM audio from the carrier's media
// stream to the call's open STT session.
func (m *CallSessionManager) IngestAudio(callID string, chunk []byte) error {
	m.mu.Lock()
	lc, ok := m.calls[callID]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return lc.sttSession.SendAudio(chunk)
}

// deadairConfigFor derives a [deadair.Config] from the agent's
// dead_air_settings; a zero agent field falls back to the process-wide value
// in defaults, and a field zero in both falls back to the package defaults
// inside [deadair.New].
func deadairConfigFor(sess *call.Session, defaults config.DeadAirConfig) deadair.Config {
	cfg := sess.Agent.Settings.DeadAirSettings
	pick := func(agent, def int) int {
		if agent > 0 {
			return agent
		}
		return def
	}
	return deadair.Config{
		SilenceTimeoutNormal:        time.Duration(pick(cfg.SilenceTimeoutNormalSec, defaults.SilenceTimeoutNormalSec)) * time.Second,
		SilenceTimeoutHoldOn:        time.Duration(pick(cfg.SilenceTimeoutHoldOnSec, defaults.SilenceTimeoutHoldOnSec)) * time.Second,
		MaxCheckinsBeforeDisconnect: pick(cfg.MaxCheckinsBeforeDisconnect, defaults.MaxCheckinsBeforeDisconnect),
		MaxCallDuration:             time.Duration(pick(cfg.MaxCallDurationSec, defaults.MaxCallDurationSec)) * time.Second,
	}
}

// singleSentenceChannel wraps a single string in a closed channel, the shape
// [player.Player.Speak] expects for a one-off utterance like a check-in line.
func singleSentenceChannel(s string) <-chan string {
	ch := make(chan string, 1)
	ch <- s
	close(ch)
	return ch
}
