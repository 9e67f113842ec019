package escalate

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"fallguard/internal/model"
)

// Hub pushes escalations to every connected caregiver websocket. Register,
// unregister and broadcast all go through the Run loop.
type Hub struct {
	clients    map[*websocket.Conn]struct{}
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	broadcast  chan []byte
	upgrader   websocket.Upgrader
	count      atomic.Int64
	done       chan struct{}
	doneOnce   sync.Once
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]struct{}),
		register:   make(chan *websocket.Conn, 16),
		unregister: make(chan *websocket.Conn, 16),
		broadcast:  make(chan []byte, 256),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

func (h *Hub) Run(ctx context.Context) {
	ping := time.NewTicker(20 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			h.doneOnce.Do(func() { close(h.done) })
			for c := range h.clients {
				_ = c.Close()
			}
			h.clients = make(map[*websocket.Conn]struct{})
			h.count.Store(0)
			for {
				select {
				case c := <-h.register:
					_ = c.Close()
				default:
					return
				}
			}

		case c := <-h.register:
			h.clients[c] = struct{}{}

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				_ = c.Close()
			}

		case msg := <-h.broadcast:
			for c := range h.clients {
				_ = c.SetWriteDeadline(time.Now().Add(3 * time.Second))
				if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
					delete(h.clients, c)
					_ = c.Close()
				}
			}

		case <-ping.C:
			for c := range h.clients {
				_ = c.SetWriteDeadline(time.Now().Add(2 * time.Second))
				if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
					delete(h.clients, c)
					_ = c.Close()
				}
			}
		}
		h.count.Store(int64(len(h.clients)))
	}
}

// Clients is the number of connected caregivers as of the last loop turn.
func (h *Hub) Clients() int {
	return int(h.count.Load())
}

func (h *Hub) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		if !h.send(h.register, conn) {
			return
		}

		go func() {
			defer h.send(h.unregister, conn)
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			conn.SetPongHandler(func(string) error {
				_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
				return nil
			})
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	})
}

// send hands conn to the Run loop. Once Run has returned the connection is
// closed instead and send reports false.
func (h *Hub) send(ch chan<- *websocket.Conn, conn *websocket.Conn) bool {
	select {
	case <-h.done:
		_ = conn.Close()
		return false
	default:
	}
	select {
	case ch <- conn:
		return true
	case <-h.done:
		_ = conn.Close()
		return false
	}
}

// Publish queues esc for every client. A full queue drops the message.
func (h *Hub) Publish(_ context.Context, esc model.Escalation) error {
	b, err := json.Marshal(esc)
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- b:
	default:
	}
	return nil
}

func (h *Hub) Close() error {
	return nil
}

// WSSubscriber dials an elder daemon's hub and reconnects until ctx ends.
type WSSubscriber struct {
	URL     string
	Backoff time.Duration
	OnError func(error)
}

func (s *WSSubscriber) Run(ctx context.Context, fn func(model.Escalation)) error {
	backoff := s.Backoff
	if backoff <= 0 {
		backoff = 2 * time.Second
	}
	for {
		err := s.session(ctx, fn)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil && s.OnError != nil {
			s.OnError(err)
		}
		if !sleepCtx(ctx, backoff) {
			return nil
		}
	}
}

func (s *WSSubscriber) session(ctx context.Context, fn func(model.Escalation)) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.URL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		esc, err := Decode(msg)
		if err != nil {
			continue
		}
		fn(esc)
	}
}
