package events

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub streams challenge events to WebSocket subscribers (back-office UIs,
// the trader dashboard). It subscribes to every challenge topic on the bus
// and fans frames out to attached connections.
type Hub struct {
	bus *Bus
	log zerolog.Logger

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

// NewHub creates a hub bound to bus.
func NewHub(bus *Bus, log zerolog.Logger) *Hub {
	return &Hub{
		bus:   bus,
		log:   log.With().Str("component", "ws_hub").Logger(),
		conns: make(map[*websocket.Conn]struct{}),
	}
}

// Run subscribes to all challenge topics and broadcasts until ctx is done.
// Call in its own goroutine.
func (h *Hub) Run(done <-chan struct{}) {
	topics := []Type{
		TypeChallengeUpdate,
		TypeChallengeFailed,
		TypeChallengePhasePassed,
		TypeChallengeFunded,
		TypeChallengeWarning,
		TypeChallengePayout,
	}

	merged := make(chan Event, 256)
	for _, t := range topics {
		ch, unsub := h.bus.Subscribe(t, 64)
		defer unsub()
		go func(ch <-chan Event) {
			for ev := range ch {
				select {
				case merged <- ev:
				default:
				}
			}
		}(ch)
	}

	for {
		select {
		case ev := <-merged:
			h.broadcast(ev)
		case <-done:
			h.closeAll()
			return
		}
	}
}

func (h *Hub) broadcast(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.conns {
		if err := conn.WriteJSON(ev); err != nil {
			h.log.Debug().Err(err).Msg("dropping dead ws subscriber")
			conn.Close()
			delete(h.conns, conn)
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.conns {
		conn.Close()
		delete(h.conns, conn)
	}
}

// ServeHTTP upgrades the request and registers the connection for event
// frames. The embedding application decides where to mount it.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("ws upgrade error")
		return
	}

	h.mu.Lock()
	h.conns[conn] = struct{}{}
	n := len(h.conns)
	h.mu.Unlock()
	h.log.Info().Int("subscribers", n).Msg("ws subscriber attached")

	// Reader loop only to detect disconnects; inbound frames are ignored.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.mu.Lock()
				if _, ok := h.conns[conn]; ok {
					conn.Close()
					delete(h.conns, conn)
				}
				h.mu.Unlock()
				return
			}
		}
	}()
}

// SubscriberCount returns the number of attached connections.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}
