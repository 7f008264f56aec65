package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/deep-research/internal/metrics"
)

const (
	defaultHeartbeat = 15 * time.Second
	defaultStreamMax = 30 * time.Minute
)

// handleStream serves live progress as Server-Sent Events. It sends a
// snapshot of the stored state first, then relays events until a terminal
// event, client disconnect, or the stream lifetime elapses.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	research, ok := s.owned(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// Subscribe before the snapshot so no event falls between the two.
	sub := s.subs.Subscribe(research.ID, s.cfg.Server.SubscriberBuffer)
	defer sub.Close()

	detail, err := s.store.GetDetail(r.Context(), research.ID)
	if err != nil {
		writeStoreError(w, err, "stream snapshot")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	metrics.ActiveStreams.Inc()
	defer metrics.ActiveStreams.Dec()
	log := zap.L().With(zap.String("research_id", research.ID))

	if err := writeSSE(w, "snapshot", detail); err != nil {
		return
	}
	flusher.Flush()
	if detail.Status.IsTerminal() {
		return
	}

	heartbeat := seconds(s.cfg.Server.HeartbeatSecs, defaultHeartbeat)
	hb := time.NewTicker(heartbeat)
	defer hb.Stop()
	lifetime := time.NewTimer(minutes(s.cfg.Server.StreamMaxMinutes, defaultStreamMax))
	defer lifetime.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			log.Debug("api: stream client disconnected")
			return
		case <-lifetime.C:
			log.Info("api: stream lifetime reached")
			return
		case ev, open := <-sub.C:
			if !open {
				return
			}
			if err := writeSSE(w, string(ev.Type), ev); err != nil {
				return
			}
			flusher.Flush()
			if ev.Type.Terminal() {
				return
			}
		case <-hb.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

func seconds(n int, def time.Duration) time.Duration {
	if n <= 0 {
		return def
	}
	return time.Duration(n) * time.Second
}

func minutes(n int, def time.Duration) time.Duration {
	if n <= 0 {
		return def
	}
	return time.Duration(n) * time.Minute
}
