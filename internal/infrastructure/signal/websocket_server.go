package signal

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"rillcall/internal/core/domain"
	"rillcall/internal/core/ports"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type Config struct {
	PingInterval   time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxMessageSize int64
	// AllowedOrigins restricts browser origins; empty allows any.
	AllowedOrigins []string
}

func DefaultConfig() Config {
	return Config{
		PingInterval:   30 * time.Second,
		ReadTimeout:    60 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxMessageSize: 4096,
	}
}

// Message is one frame on the event stream. Exactly one of Event and Sealed
// is set; Sealed carries the JSON event when a signal cipher is configured.
type Message struct {
	Type   string               `json:"type"`
	Event  *domain.Event        `json:"event,omitempty"`
	Sealed *domain.SealedSignal `json:"sealed,omitempty"`
}

// Subscription is what a stream forwards to one client.
type Subscription struct {
	Room   domain.RoomID
	Peer   domain.PeerID
	Events <-chan domain.Event
	Cancel func()
}

// EventStream pushes call manager events to websocket clients.
type EventStream struct {
	cfg      Config
	upgrader websocket.Upgrader
	cipher   ports.SignalCipher
	logger   *zap.SugaredLogger
	active   atomic.Int64
}

// NewEventStream creates a stream server; cipher may be nil.
func NewEventStream(cfg Config, cipher ports.SignalCipher, logger *zap.SugaredLogger) *EventStream {
	s := &EventStream{cfg: cfg, cipher: cipher, logger: logger}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *EventStream) ActiveConnections() int64 {
	return s.active.Load()
}

// Serve upgrades the request and forwards sub's events for sub.Peer until the
// client goes away or the subscription channel closes.
func (s *EventStream) Serve(w http.ResponseWriter, r *http.Request, sub Subscription) {
	defer sub.Cancel()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	s.active.Add(1)
	defer s.active.Add(-1)
	s.logger.Infow("event stream opened", "room_id", sub.Room, "peer_id", sub.Peer)

	if s.cfg.MaxMessageSize > 0 {
		conn.SetReadLimit(s.cfg.MaxMessageSize)
	}
	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	})

	// Clients only send control frames; the reader notices disconnects.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(s.cfg.PingInterval)
	defer ping.Stop()

	for {
		select {
		case <-gone:
			s.logger.Infow("event stream closed by client", "room_id", sub.Room, "peer_id", sub.Peer)
			return
		case <-ping.C:
			deadline := time.Now().Add(s.cfg.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case event, ok := <-sub.Events:
			if !ok {
				deadline := time.Now().Add(s.cfg.WriteTimeout)
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "room closed"), deadline)
				return
			}
			if event.PeerID != "" && event.PeerID != sub.Peer {
				continue
			}
			msg, err := s.encode(r.Context(), sub, event)
			if err != nil {
				s.logger.Warnw("failed to encode event", "type", event.Type, "error", err)
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				s.logger.Debugw("event stream write failed", "peer_id", sub.Peer, "error", err)
				return
			}
		}
	}
}

func (s *EventStream) encode(ctx context.Context, sub Subscription, event domain.Event) (Message, error) {
	if s.cipher == nil {
		return Message{Type: event.Type.String(), Event: &event}, nil
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return Message{}, err
	}
	sealed, err := s.cipher.EncryptSignal(ctx, sub.Peer, payload, string(sub.Room))
	if err != nil {
		return Message{}, err
	}
	return Message{Type: "sealed", Sealed: &sealed}, nil
}

func (s *EventStream) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}
