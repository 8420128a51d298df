package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"market-feed/internal/domain"
	"market-feed/internal/hub"
	"market-feed/pkg/utils"
)

const DefaultHeartbeatInterval = 15 * time.Second

// eventResync tells a reconnecting viewer that its Last-Event-ID is outside
// the feed window and it has to refetch the feed.
const eventResync = "resync"

type Subscriber interface {
	Subscribe(ctx context.Context) (*hub.Session, error)
	Unsubscribe(s *hub.Session)
}

// Stream serves the live feed as Server-Sent Events. A viewer reconnecting
// with Last-Event-ID first receives whatever it missed from the feed.
func (h *ListingHandler) Stream(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	status := "success"

	defer func() {
		h.metrics.ObserveRequest("GET", "/api/listings/stream", status, startTime)
	}()

	ctx := r.Context()

	session, err := h.hub.Subscribe(ctx)
	if err != nil {
		status = "rejected"
		if errors.Is(err, hub.ErrTooManySessions) || errors.Is(err, hub.ErrHubClosed) {
			utils.RespondWithErrorJSON(w, http.StatusServiceUnavailable, "too many connections")
			return
		}
		h.logger.ErrorLogger.Error("Could not subscribe viewer", utils.Err(err))
		utils.RespondWithErrorJSON(w, http.StatusInternalServerError, unexpectedErrorMessage)
		return
	}
	defer h.hub.Unsubscribe(session)

	rc := http.NewResponseController(w)
	// The server write timeout would cut the stream.
	_ = rc.SetWriteDeadline(time.Time{})

	setSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	send := func(e hub.Event) error {
		if err := writeEvent(w, e); err != nil {
			return err
		}
		return rc.Flush()
	}

	connected := hub.Event{
		Type: hub.EventConnected,
		Data: map[string]any{
			"sessionId": session.ID(),
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		},
	}
	if err := send(connected); err != nil {
		status = "error"
		return
	}

	replayed, err := h.replay(ctx, r.Header.Get("Last-Event-ID"), send)
	if err != nil {
		status = "error"
		h.logger.ErrorLogger.Warn("Could not replay missed listings", utils.Err(err))
		return
	}

	h.logger.InfoLogger.Debug("Viewer connected",
		slog.String("session_id", session.ID()),
		slog.String("remote_addr", r.RemoteAddr),
		slog.Int("replayed", len(replayed)),
	)

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-session.Events():
			if !ok {
				// Closed by the hub; the viewer reconnects with Last-Event-ID.
				return
			}
			if _, seen := replayed[event.ID]; seen {
				continue
			}
			if err := send(event); err != nil {
				return
			}
		case <-ticker.C:
			if err := writeHeartbeat(w); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// replay writes the listings committed after lastID and returns their IDs,
// so live events for the same listings can be skipped.
func (h *ListingHandler) replay(ctx context.Context, lastID string, send func(hub.Event) error) (map[string]struct{}, error) {
	replayed := make(map[string]struct{})
	if lastID == "" {
		return replayed, nil
	}

	missed, found, err := h.feed.Since(ctx, lastID)
	if err != nil {
		return nil, err
	}
	if !found {
		return replayed, send(hub.Event{Type: eventResync, Data: map[string]string{"lastEventId": lastID}})
	}

	for _, l := range missed {
		if err := send(listingEvent(l)); err != nil {
			return nil, err
		}
		replayed[l.ID] = struct{}{}
	}
	return replayed, nil
}

func listingEvent(l *domain.Listing) hub.Event {
	return hub.Event{Type: hub.EventListingNew, ID: l.ID, Data: l}
}

func setSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

func writeEvent(w io.Writer, event hub.Event) error {
	if event.Type != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", event.Type); err != nil {
			return fmt.Errorf("write event type: %w", err)
		}
	}

	if event.ID != "" {
		if _, err := fmt.Fprintf(w, "id: %s\n", event.ID); err != nil {
			return fmt.Errorf("write event id: %w", err)
		}
	}

	data, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}

	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write event data: %w", err)
	}
	return nil
}

func writeHeartbeat(w io.Writer) error {
	if _, err := fmt.Fprintf(w, ": heartbeat %s\n\n", time.Now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("write heartbeat: %w", err)
	}
	return nil
}
