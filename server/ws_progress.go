package server

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"melodex/core/pipeline"
	"melodex/logger"
)

// ProgressEvent is one state transition of a request, as sent to
// websocket subscribers.
type ProgressEvent struct {
	RequestID string         `json:"requestId"`
	State     pipeline.State `json:"state"`
	At        time.Time      `json:"at"`
}

// ProgressHub fans request state transitions out to websocket
// subscribers. Subscribers watch a base request ID and also receive
// the per-member events of a bulk request, whose IDs are
// "<requestID>/<position>".
type ProgressHub struct {
	mu   sync.RWMutex
	subs map[string]map[chan ProgressEvent]struct{}
}

// NewProgressHub creates an empty hub.
func NewProgressHub() *ProgressHub {
	return &ProgressHub{subs: make(map[string]map[chan ProgressEvent]struct{})}
}

// Notify implements the coordinator's progress callback. Slow
// subscribers are skipped, never waited on.
func (h *ProgressHub) Notify(requestID string, state pipeline.State) {
	base := requestID
	if i := strings.IndexByte(base, '/'); i >= 0 {
		base = base[:i]
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	channels := h.subs[base]
	if len(channels) == 0 {
		return
	}
	event := ProgressEvent{RequestID: requestID, State: state, At: time.Now()}
	for ch := range channels {
		select {
		case ch <- event:
		default:
		}
	}
}

// Subscribe registers a watcher for a base request ID. The returned
// cancel func must be called when the watcher goes away.
func (h *ProgressHub) Subscribe(requestID string) (<-chan ProgressEvent, func()) {
	ch := make(chan ProgressEvent, 16)
	h.mu.Lock()
	if h.subs[requestID] == nil {
		h.subs[requestID] = make(map[chan ProgressEvent]struct{})
	}
	h.subs[requestID][ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		delete(h.subs[requestID], ch)
		if len(h.subs[requestID]) == 0 {
			delete(h.subs, requestID)
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ProgressHandler handles GET /ws/progress?request=<id>: upgrades to a
// websocket and streams state transitions until the request reaches a
// terminal state or the client disconnects.
func (h *APIHandler) ProgressHandler(hub *ProgressHub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := r.URL.Query().Get("request")
		if requestID == "" {
			respondError(w, http.StatusBadRequest, "bad_request", "request query parameter is required")
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("Websocket upgrade failed", logger.ErrorField(err))
			return
		}
		defer conn.Close()

		events, cancel := hub.Subscribe(requestID)
		defer cancel()

		// drain the client side so we notice a disconnect
		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case event := <-events:
				if err := conn.WriteJSON(event); err != nil {
					return
				}
				if event.RequestID == requestID && isTerminal(event.State) {
					return
				}
			case <-done:
				return
			}
		}
	}
}

func isTerminal(state pipeline.State) bool {
	switch state {
	case pipeline.StateDelivered, pipeline.StateFailed, pipeline.StateDenied:
		return true
	}
	return false
}
