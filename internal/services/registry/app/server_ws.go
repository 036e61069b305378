package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net"
	"strings"
	"sync"
	"time"

	apperrors "github.com/perennial-labs/giftsync/internal/platform/errors"
	"github.com/perennial-labs/giftsync/internal/services/registry/engine"
	"github.com/perennial-labs/giftsync/internal/services/registry/fanout"
	"golang.org/x/net/websocket"
)

type wsFrame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type wsErrorEnvelope struct {
	Error wsError `json:"error"`
}

type wsError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

type watchPayload struct {
	ShareSlug string `json:"share_slug"`
}

type watchingPayload struct {
	WishlistID string     `json:"wishlist_id"`
	ShareSlug  string     `json:"share_slug"`
	Title      string     `json:"title"`
	ServerTime string     `json:"server_time"`
	Items      []itemView `json:"items"`
}

type eventEnvelope struct {
	Event fanout.Event `json:"event"`
}

type wsPeer struct {
	mu      sync.Mutex
	encoder *json.Encoder
}

func newWSPeer(encoder *json.Encoder) *wsPeer {
	return &wsPeer{encoder: encoder}
}

func (p *wsPeer) writeFrame(frame wsFrame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.encoder.Encode(frame)
}

// wsSession tracks one viewer connection and its current subscription.
type wsSession struct {
	mu         sync.Mutex
	peer       *wsPeer
	subscriber *fanout.Subscriber
}

func newWSSession(peer *wsPeer) *wsSession {
	return &wsSession{peer: peer}
}

func (s *wsSession) setSubscriber(next *fanout.Subscriber) *fanout.Subscriber {
	s.mu.Lock()
	previous := s.subscriber
	s.subscriber = next
	s.mu.Unlock()
	return previous
}

func (s *wsSession) currentSubscriber() *fanout.Subscriber {
	s.mu.Lock()
	subscriber := s.subscriber
	s.mu.Unlock()
	return subscriber
}

func handleWSConn(conn *websocket.Conn, registryEngine *engine.Engine, hub *fanout.Hub, idleTimeout time.Duration) {
	defer func() {
		_ = conn.Close()
	}()

	decoder := json.NewDecoder(conn)
	session := newWSSession(newWSPeer(json.NewEncoder(conn)))

	// Unconditional unsubscribe when the connection exits, whatever the
	// reason. Closing the subscriber ends its pump goroutine too.
	defer func() {
		if subscriber := session.currentSubscriber(); subscriber != nil {
			hub.Unsubscribe(subscriber)
		}
	}()

	windowStart := time.Now()
	framesInWindow := 0
	decodeErrors := 0

	for {
		// A session that sends nothing within the idle interval is
		// presumed dead and is closed.
		_ = conn.SetReadDeadline(time.Now().Add(idleTimeout))

		var frame wsFrame
		if err := decoder.Decode(&frame); err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				log.Printf("registry: closing idle viewer session")
				return
			}
			decodeErrors++
			_ = writeWSError(session.peer, "", string(apperrors.CodeInvalidRequest), "invalid frame payload")
			if decodeErrors >= maxDecodeErrorsPerConn {
				return
			}
			continue
		}
		decodeErrors = 0

		if len(frame.Payload) > maxFramePayloadBytes {
			_ = writeWSError(session.peer, frame.RequestID, string(apperrors.CodeInvalidRequest), "payload too large")
			continue
		}

		now := time.Now()
		if now.Sub(windowStart) >= time.Second {
			windowStart = now
			framesInWindow = 0
		}
		framesInWindow++
		if framesInWindow > maxFramesPerSecond {
			_ = writeWSError(session.peer, frame.RequestID, "RESOURCE_EXHAUSTED", "rate limit exceeded")
			return
		}

		switch frame.Type {
		case "registry.watch":
			handleWatchFrame(conn.Request().Context(), session, registryEngine, hub, frame)
		case "registry.ping":
			_ = session.peer.writeFrame(wsFrame{Type: "registry.pong", RequestID: frame.RequestID})
		default:
			_ = writeWSError(session.peer, frame.RequestID, string(apperrors.CodeInvalidRequest), "unsupported frame type")
		}
	}
}

func handleWatchFrame(ctx context.Context, session *wsSession, registryEngine *engine.Engine, hub *fanout.Hub, frame wsFrame) {
	var payload watchPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = writeWSError(session.peer, frame.RequestID, string(apperrors.CodeInvalidRequest), "invalid watch payload")
		return
	}

	shareSlug := strings.TrimSpace(payload.ShareSlug)
	if shareSlug == "" {
		_ = writeWSError(session.peer, frame.RequestID, string(apperrors.CodeInvalidRequest), "share_slug is required")
		return
	}

	wishlist, err := registryEngine.WishlistBySlug(ctx, shareSlug)
	if err != nil {
		writeEngineWSError(session.peer, frame.RequestID, err)
		return
	}

	// Subscribe before reading the snapshot so no commit can fall between
	// them unseen. A duplicate between snapshot and first event is
	// harmless; a gap is not.
	subscriber := hub.Subscribe(wishlist.ID, 0)
	states, err := registryEngine.Snapshot(ctx, wishlist.ID)
	if err != nil {
		hub.Unsubscribe(subscriber)
		writeEngineWSError(session.peer, frame.RequestID, err)
		return
	}

	previous := session.setSubscriber(subscriber)
	if previous != nil {
		hub.Unsubscribe(previous)
	}

	go pumpEvents(session.peer, subscriber)

	items := make([]itemView, 0, len(states))
	for _, state := range states {
		items = append(items, newItemView(state))
	}
	_ = session.peer.writeFrame(wsFrame{
		Type:      "registry.watching",
		RequestID: frame.RequestID,
		Payload: mustJSON(watchingPayload{
			WishlistID: wishlist.ID,
			ShareSlug:  wishlist.ShareSlug,
			Title:      wishlist.Title,
			ServerTime: time.Now().UTC().Format(time.RFC3339),
			Items:      items,
		}),
	})
}

// pumpEvents forwards fanout events to the peer until the subscriber is
// closed. Write failures end the pump; the read loop notices the broken
// connection on its own.
func pumpEvents(peer *wsPeer, subscriber *fanout.Subscriber) {
	for event := range subscriber.Events() {
		if err := peer.writeFrame(wsFrame{
			Type:    "registry.event",
			Payload: mustJSON(eventEnvelope{Event: event}),
		}); err != nil {
			return
		}
	}
}

func writeEngineWSError(peer *wsPeer, requestID string, err error) {
	code := apperrors.CodeOf(err)
	message := "registry operation failed"
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		message = appErr.Message
	}
	_ = writeWSError(peer, requestID, string(code), message)
}

func writeWSError(peer *wsPeer, requestID string, code string, message string) error {
	return peer.writeFrame(wsFrame{
		Type:      "registry.error",
		RequestID: requestID,
		Payload: mustJSON(wsErrorEnvelope{
			Error: wsError{
				Code:      code,
				Message:   message,
				Retryable: apperrors.Code(code).Retryable(),
			},
		}),
	})
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		log.Printf("failed to marshal websocket frame payload: %v", err)
		return nil
	}
	return b
}
