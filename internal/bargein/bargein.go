// Package bargein implements the Barge-In Supervisor (C6): it reacts to a
// user-speaking-start signal (or a final utterance arriving while the agent
// is still talking) by stopping playback and preventing "double-speak".
package bargein

import (
	"context"
	"strings"

	"github.com/Radicalscale/virevo/internal/call"
	"github.com/Radicalscale/virevo/pkg/store"
)

// Player is the subset of internal/player.Player the supervisor needs.
type Player interface {
	StopAndDrain(ctx context.Context, callID string)
}

// Supervisor implements §4.6.
type Supervisor struct {
	player Player
	store  store.Store
}

// New constructs a Supervisor. st may be nil (single-worker operation).
func New(player Player, st store.Store) *Supervisor {
	return &Supervisor{player: player, store: st}
}

// Trigger runs the barge-in policy for sess. It returns true if a silence
// greeting was retracted from history — callers (the Turn Orchestrator) use
// this to decide whether to render the intended greeting node immediately
// rather than falling through to normal LLM generation (§4.3 step 2).
func (s *Supervisor) Trigger(ctx context.Context, sess *call.Session) (retractedGreeting bool) {
	// 1. Best-effort stop playback.
	s.player.StopAndDrain(ctx, sess.CallID)

	// 2. Playback-id set is cleared by StopAndDrain itself.

	// 3. Retract the last assistant turn if it looks like a silence greeting.
	if sess.SilenceGreetingTriggered() {
		if last, ok := sess.PopLastAssistantTurn(); ok {
			if !looksLikeSilenceGreeting(last.Text) {
				// Wasn't actually a greeting — put it back; only retract
				// turns that match the heuristic.
				sess.AppendAssistantTurn(last.Text, last.NodeID)
			} else {
				retractedGreeting = true
			}
		}
	}

	// 4. Reset the cross-worker flag.
	sess.SetSilenceGreetingTriggered(false)
	if s.store != nil {
		_ = s.store.KVDelete(ctx, store.FlagKey(sess.CallID, "silence_greeting_triggered"))
	}

	return retractedGreeting
}

// looksLikeSilenceGreeting implements the §4.6 step 3 heuristic: short
// (≤50 chars) and interrogative.
func looksLikeSilenceGreeting(text string) bool {
	return len(text) <= 50 && strings.Contains(text, "?")
}
