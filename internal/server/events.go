package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// handleEvents streams transfer progress snapshots as server-sent events.
// One "status" event goes out immediately, then one per change; unchanged
// polls emit an SSE comment to keep intermediaries from closing the stream.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	flusher.Flush()

	sendEvent := func(event string, data interface{}) {
		jsonData, _ := json.Marshal(data)
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData)
		flusher.Flush()
	}

	snap := s.orchestrator.Status()
	sendEvent("status", snap)
	lastAt, lastID, lastPhase := snap.At, snap.TransferID, snap.Phase

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		// The reporter's notify channel fires on every report of the live
		// transfer; the ticker covers idle periods and new transfers.
		var changed <-chan struct{}
		if reporter := s.orchestrator.ActiveProgress(); reporter != nil {
			changed = reporter.Wait()
		}

		select {
		case <-r.Context().Done():
			return
		case <-changed:
		case <-ticker.C:
		}

		snap = s.orchestrator.Status()
		if snap.At.Equal(lastAt) && snap.TransferID == lastID && snap.Phase == lastPhase {
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
			continue
		}
		lastAt, lastID, lastPhase = snap.At, snap.TransferID, snap.Phase
		sendEvent("status", snap)
	}
}
