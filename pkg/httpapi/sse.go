package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/takeoffworks/estimator/pkg/broker"
	"github.com/takeoffworks/estimator/pkg/errs"
)

const heartbeatInterval = 25 * time.Second

// streamSSE writes history (already-resolved events, oldest first) and then
// relays live broker events on channel until the client disconnects or
// stopWhen reports the stream is done. A heartbeat keeps intermediaries
// from timing out an idle connection. The broker subscription is opened
// before history is read, so an event published mid-replay is queued for
// the live phase rather than lost — the cost is a possible duplicate at
// the boundary, never a gap.
func (h *handlers) streamSSE(w http.ResponseWriter, r *http.Request, channel string, history []any, stopWhen func() bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, errs.Internalf("streaming_unsupported", errStreamingUnsupported))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	var sub broker.Subscription
	var err error
	if h.deps.Broker != nil {
		sub, err = h.deps.Broker.Subscribe(r.Context(), channel)
		if err != nil {
			h.deps.logger().ErrorContext(r.Context(), "sse subscribe failed", "channel", channel, "error", err)
			return
		}
		defer sub.Close()
	}

	for _, ev := range history {
		writeSSEEvent(w, ev)
	}
	flusher.Flush()
	if stopWhen != nil && stopWhen() {
		return
	}

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	var events <-chan broker.Event
	if sub != nil {
		events = sub.Events()
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			writeSSEEvent(w, ev.Payload)
			flusher.Flush()
			if stopWhen != nil && stopWhen() {
				return
			}
		case <-ticker.C:
			writeSSEEvent(w, map[string]string{"type": "heartbeat"})
			flusher.Flush()
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	_, _ = w.Write([]byte("data: "))
	_, _ = w.Write(data)
	_, _ = w.Write([]byte("\n\n"))
}

var errStreamingUnsupported = errors.New("httpapi: streaming unsupported by response writer")
