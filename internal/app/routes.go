package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/Radicalscale/virevo/internal/health"
	"github.com/coder/websocket"
)

// routes builds the HTTP handler serving telephony webhooks, the bidirectional
// media stream, published playback audio, and health checks.
func (a *App) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /webhooks/telephony", a.handleTelephonyWebhook)
	mux.HandleFunc("GET /media/{callID}", a.handleMediaStream)

	if pub, ok := a.audioPublisher.(http.Handler); ok {
		mux.Handle("GET /audio/", pub)
	}

	hc := health.New(health.Checker{
		Name: "knowledge_base",
		Check: func(ctx context.Context) error {
			_, err := a.docs.ListKnowledgeBase(ctx, "healthcheck")
			return err
		},
	})
	hc.Register(mux)

	return mux
}

// handleTelephonyWebhook decodes one carrier webhook request into a
// [telephony.Event] and dispatches it to the session manager (§6).
func (a *App) handleTelephonyWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	signature := r.Header.Get("telnyx-signature-ed25519")

	ev, err := a.providers.Telephony.ParseWebhook(body, signature)
	if err != nil {
		slog.Warn("rejected telephony webhook", "err", err)
		http.Error(w, "invalid webhook", http.StatusUnauthorized)
		return
	}

	a.sessions.HandleEvent(r.Context(), ev)
	w.WriteHeader(http.StatusOK)
}

// handleMediaStream accepts the carrier's bidirectional media-stream
// WebSocket connection for one call and forwards inbound PCM frames to the
// call's STT session via [CallSessionManager.IngestAudio].
func (a *App) handleMediaStream(w http.ResponseWriter, r *http.Request) {
	callID := r.PathValue("callID")

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Error("media stream: accept failed", "call_id", callID, "err", err)
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		if err := a.sessions.IngestAudio(callID, data); err != nil {
			slog.Warn("media stream: ingest failed", "call_id", callID, "err", err)
		}
	}
}
