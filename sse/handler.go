package sse

import (
	"fmt"
	"net/http"
	"time"

	"github.com/kbukum/mmalkit/logger"
)

// KeepAlive is the interval between comment lines on an idle stream.
var KeepAlive = 15 * time.Second

// Serve streams events matching filter to the client until the request
// ends or the hub stops.
func Serve(hub *Hub, w http.ResponseWriter, r *http.Request, clientID, filter string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	log := hub.log.WithFields(logger.Fields("client_id", clientID))

	// Streams outlive the server write timeout.
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil {
		log.Debug("write deadline not cleared", logger.ErrorFields("serve", err))
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")

	client := NewClient(clientID, filter)
	if !hub.Register(client) {
		http.Error(w, "event hub stopped", http.StatusServiceUnavailable)
		return
	}
	defer hub.Unregister(client)

	hello := Event{Type: EventConnected, Topic: client.filter, Data: map[string]string{"client_id": clientID}}
	writeFrame(w, frame{event: hello.Type, data: hello.encode()})
	flusher.Flush()

	ticker := time.NewTicker(KeepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			log.Debug("client disconnected")
			return
		case f, ok := <-client.frames:
			if !ok {
				return
			}
			writeFrame(w, f)
			flusher.Flush()
		case <-ticker.C:
			_, _ = fmt.Fprintf(w, ": keepalive %d\n\n", time.Now().Unix())
			flusher.Flush()
		}
	}
}

func writeFrame(w http.ResponseWriter, f frame) {
	_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", f.event, f.data)
}
