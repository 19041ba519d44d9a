// Package player implements the TTS Player (C5): it accepts sentences in
// order, synthesizes each via the configured TTS provider, publishes the
// resulting audio somewhere the telephony carrier can fetch it from, and
// requests playback through the telephony control plane. Issued playback
// identifiers are tracked in the cross-worker store so a barge-in on any
// worker can stop them.
package player

import (
	"context"
	"fmt"

	"github.com/Radicalscale/virevo/pkg/provider/telephony"
	"github.com/Radicalscale/virevo/pkg/provider/tts"
	"github.com/Radicalscale/virevo/pkg/store"
	"github.com/Radicalscale/virevo/pkg/types"
)

// AudioPublisher makes a synthesized audio buffer reachable by URL for the
// telephony carrier to fetch, since StartPlayback (§6) takes a URL rather
// than raw bytes. A production deployment backs this with an object store
// or a short-lived static file server; tests can use an in-memory stub.
type AudioPublisher interface {
	Publish(ctx context.Context, callID string, audio []byte) (url string, err error)
}

// Player is the C5 TTS Player.
type Player struct {
	tts       tts.Provider
	telephony telephony.Provider
	publisher AudioPublisher
	store     store.Store
}

// New constructs a Player. store may be nil (single-worker operation; the
// playback-id set is simply not tracked across workers).
func New(ttsP tts.Provider, tel telephony.Provider, publisher AudioPublisher, st store.Store) *Player {
	return &Player{tts: ttsP, telephony: tel, publisher: publisher, store: st}
}

// Speak synthesizes and plays sentences, in order, for one call. Each
// sentence is synthesized and handed to playback as soon as it is ready —
// not after the whole turn has finished synthesizing — so a barge-in mid-turn
// (§4.6) can preempt playback of the turn's remaining, not-yet-played
// sentences. It blocks until the sentence channel is closed and the last
// sentence has finished playing, or ctx is cancelled. The caller's sentence
// producer must close sentences when done; Speak never drops or duplicates a
// sentence.
func (p *Player) Speak(ctx context.Context, callID string, sentences <-chan string) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sentence, ok := <-sentences:
			if !ok {
				return nil
			}
			if err := p.speakOne(ctx, callID, sentence); err != nil {
				return err
			}
		}
	}
}

// speakOne synthesizes and plays a single sentence as its own playback unit.
func (p *Player) speakOne(ctx context.Context, callID, sentence string) error {
	textCh := make(chan string, 1)
	textCh <- sentence
	close(textCh)

	audioCh, err := p.tts.SynthesizeStream(ctx, textCh, types.VoiceProfile{})
	if err != nil {
		return fmt.Errorf("player: start synthesis: %w", err)
	}

	var buf []byte
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case chunk, ok := <-audioCh:
			if !ok {
				if len(buf) == 0 {
					return nil
				}
				return p.playChunk(ctx, callID, buf)
			}
			buf = append(buf, chunk...)
		}
	}
}

func (p *Player) playChunk(ctx context.Context, callID string, audio []byte) error {
	url, err := p.publisher.Publish(ctx, callID, audio)
	if err != nil {
		return fmt.Errorf("player: publish audio: %w", err)
	}

	handle, err := p.telephony.StartPlayback(ctx, callID, telephony.PlaybackParams{AudioURL: url})
	if err != nil {
		return fmt.Errorf("player: start playback: %w", err)
	}

	if p.store != nil {
		_ = p.store.SetAdd(ctx, store.PlaybacksKey(callID), handle.PlaybackID, 0)
	}
	return nil
}

// StopAndDrain implements the barge-in audio-stop contract (§4.5, §4.6): it
// best-effort-stops every outstanding playback for callID and clears the
// cross-worker playback set. Failures are swallowed — the underlying call
// may already have finished its playback (§5 Cancellation and timeouts).
func (p *Player) StopAndDrain(ctx context.Context, callID string) {
	if p.store == nil {
		return
	}

	ids, err := p.store.SetMembers(ctx, store.PlaybacksKey(callID))
	if err != nil {
		return
	}
	for _, id := range ids {
		_ = p.telephony.StopPlayback(ctx, callID, id)
	}
	_ = p.store.SetClear(ctx, store.PlaybacksKey(callID))
}
