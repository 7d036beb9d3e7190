// Package eventbus implements the Event bus external collaborator
// (SPEC_FULL.md §6): a fan-out broadcaster for the named ticket/session
// lifecycle events, pushed to connected clients over WebSocket. It
// generalizes internal/web/sse.go's single-process client-registry
// broadcaster (teacher's sseClients map + per-client channel) from
// Server-Sent Events to gorilla/websocket, fronted by a go-chi/chi router
// with go-chi/cors (SPEC_FULL.md §11).
package eventbus

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Kind names one of the Engine's broadcast event types (SPEC_FULL.md §6).
type Kind string

const (
	KindTicketUpdate   Kind = "ticket:update"
	KindTicketActivity Kind = "ticket:activity"
	KindTicketProgress Kind = "ticket:progress"
	KindPRCreated      Kind = "pr:created"
	KindSessionUpdate  Kind = "session:update"
	KindSessionCreated Kind = "session:created"
	KindBuildStarted   Kind = "build:started"
)

// Event is the wire shape broadcast to every connected client.
type Event struct {
	Kind      Kind      `json:"kind"`
	TicketID  string    `json:"ticket_id,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Bus is the publisher interface the rest of the Engine depends on;
// components only ever need to Publish, never touch the transport.
type Bus interface {
	Publish(kind Kind, ticketID, sessionID string, payload any)
}

// Broadcaster fans out Events to every connected WebSocket client, mirroring
// internal/web/sse.go's registry-of-channels pattern.
type Broadcaster struct {
	log *zap.Logger

	mu      sync.Mutex
	clients map[chan Event]struct{}

	upgrader websocket.Upgrader
}

func New(log *zap.Logger) *Broadcaster {
	return &Broadcaster{
		log:     log,
		clients: map[chan Event]struct{}{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The event stream is read-only telemetry served to dashboard
			// clients across origins; it carries no credentials or mutating
			// capability, so cross-origin upgrades are allowed here and the
			// access-control surface is handled by the cors middleware below
			// for the plain HTTP routes instead.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Publish implements Bus.
func (b *Broadcaster) Publish(kind Kind, ticketID, sessionID string, payload any) {
	evt := Event{Kind: kind, TicketID: ticketID, SessionID: sessionID, Payload: payload, Timestamp: time.Now()}

	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.clients {
		select {
		case ch <- evt:
		default:
			b.log.Warn("eventbus: client channel full, dropping event", zap.String("kind", string(kind)))
		}
	}
}

// Router builds the HTTP mux serving the WebSocket upgrade endpoint behind
// permissive CORS, the same cross-origin posture the teacher's SSE handler
// takes with Access-Control-Allow-Origin: *.
func (b *Broadcaster) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
	}))
	r.Get("/events", b.handleWS)
	return r
}

func (b *Broadcaster) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.Warn("eventbus: websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ch := make(chan Event, 32)
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.clients, ch)
		b.mu.Unlock()
	}()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteJSON(evt); err != nil {
				b.log.Debug("eventbus: client disconnected", zap.Error(err))
				return
			}
		}
	}
}

// ClientCount reports the number of currently connected subscribers.
func (b *Broadcaster) ClientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

var _ Bus = (*Broadcaster)(nil)
