package app

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// publishTTL bounds how long a published audio buffer stays reachable.
// Telephony carriers fetch playback audio within seconds of the StartPlayback
// call, so this is generous headroom rather than a tight budget.
const publishTTL = 2 * time.Minute

// httpAudioPublisher implements [player.AudioPublisher] by serving
// synthesized audio over HTTP from an in-memory buffer, reachable at
// baseURL + "/audio/{id}.wav" — the URL shape [player.Player] hands to
// telephony.Provider.StartPlayback, which only accepts a fetchable URL.
type httpAudioPublisher struct {
	baseURL string

	mu      sync.Mutex
	buffers map[string]published
}

type published struct {
	data      []byte
	expiresAt time.Time
}

func newHTTPAudioPublisher(baseURL string) *httpAudioPublisher {
	return &httpAudioPublisher{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		buffers: make(map[string]published),
	}
}

// Publish stores audio under a fresh id and returns its fetchable URL.
func (p *httpAudioPublisher) Publish(_ context.Context, callID string, audio []byte) (string, error) {
	id := uuid.NewString()

	p.mu.Lock()
	p.evictExpiredLocked()
	p.buffers[id] = published{data: audio, expiresAt: time.Now().Add(publishTTL)}
	p.mu.Unlock()

	return p.baseURL + "/audio/" + id + ".wav", nil
}

// evictExpiredLocked drops buffers past their TTL. Called with mu held.
func (p *httpAudioPublisher) evictExpiredLocked() {
	now := time.Now()
	for id, buf := range p.buffers {
		if now.After(buf.expiresAt) {
			delete(p.buffers, id)
		}
	}
}

// ServeHTTP serves a previously published buffer once, matching the
// carrier's single-fetch-per-playback access pattern.
func (p *httpAudioPublisher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/audio/"), ".wav")

	p.mu.Lock()
	buf, ok := p.buffers[id]
	if ok {
		delete(p.buffers, id)
	}
	p.mu.Unlock()

	if !ok || time.Now().After(buf.expiresAt) {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	w.Write(buf.data)
}
