package devserver

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsWriteWait = 10 * time.Second
	wsPongWait  = 60 * time.Second
	wsPingEvery = (wsPongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// Message is pushed to every connected hot client
type Message struct {
	Type    string   `json:"type"`
	Hash    string   `json:"hash,omitempty"`
	Message string   `json:"message,omitempty"`
	Modules []string `json:"modules,omitempty"`
	URL     string   `json:"url,omitempty"`
}

type client struct {
	send chan Message
	done chan struct{}
}

// Hub keeps track of connected browsers and fans messages out to them
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
	// greeting returns the messages a new client receives right after connecting
	greeting func() []Message
}

func NewHub(greeting func() []Message) *Hub {
	return &Hub{
		clients:  map[*client]struct{}{},
		greeting: greeting,
	}
}

// Broadcast queues msg for every client. Slow clients miss messages instead of blocking the build.
func (h *Hub) Broadcast(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
		}
	}
}

// Clients returns the number of connected clients
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		Log(r.Context()).Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	if err := conn.SetReadDeadline(time.Now().Add(wsPongWait)); err != nil {
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	c := &client{send: make(chan Message, 32), done: make(chan struct{})}
	if h.greeting != nil {
		for _, msg := range h.greeting() {
			c.send <- msg
		}
	}
	h.register(c)
	defer h.unregister(c)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		ticker := time.NewTicker(wsPingEvery)
		defer ticker.Stop()

		for {
			select {
			case <-c.done:
				return
			case msg := <-c.send:
				if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
					return
				}
				if err := conn.WriteJSON(msg); err != nil {
					return
				}
			case <-ticker.C:
				if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
					return
				}
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	Log(r.Context()).Debug().Msg("Hot client connected")
	for {
		// clients never send anything meaningful; reading keeps pongs and close frames flowing
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	close(c.done)
	<-writerDone
	Log(r.Context()).Debug().Msg("Hot client disconnected")
}
