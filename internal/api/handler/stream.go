package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/opentaqwa/opentaqwa/internal/engine"
)

// Stream handles GET /v1/stream as a server-sent events feed. Every engine
// state change is sent as a "schedule" event; readers that fall behind only
// see the latest state.
func (h *PrayerHandler) Stream(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	// The stream is long-lived; lift the server write timeout where supported.
	_ = rc.SetWriteDeadline(time.Time{})

	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprint(w, "retry: 5000\n\n"); err != nil {
		return
	}
	if err := rc.Flush(); err != nil {
		h.log(r).Error().Err(err).Msg("response does not support streaming")
		return
	}

	updates, unsubscribe := h.engine.Subscribe()
	defer unsubscribe()

	keepAlive := time.NewTicker(h.keepAlive)
	defer keepAlive.Stop()

	var lastCountdown string
	var lastGeneration uint64
	var lastStatus engine.Status

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
		case snap, ok := <-updates:
			if !ok {
				return
			}
			if snap.Countdown == lastCountdown && snap.Generation == lastGeneration && snap.Status == lastStatus {
				continue
			}
			if err := h.writeEvent(w, snap); err != nil {
				h.log(r).Debug().Err(err).Msg("stream client gone")
				return
			}
			lastCountdown, lastGeneration, lastStatus = snap.Countdown, snap.Generation, snap.Status
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

func (h *PrayerHandler) writeEvent(w http.ResponseWriter, snap engine.Snapshot) error {
	if !snap.HasSchedule() {
		data, err := json.Marshal(map[string]string{"status": string(snap.Status), "error": snap.Error})
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "event: status\ndata: %s\n\n", data)
		return err
	}

	data, err := json.Marshal(scheduleResponse(snap, h.clock()))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: schedule\nid: %d\ndata: %s\n\n", snap.Generation, data)
	return err
}
