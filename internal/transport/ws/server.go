// Package ws is the live feed: clients subscribe to broadcast channels and
// may submit actions over the same connection. Slow consumers get events
// dropped, never a blocked hub.
package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"aftercoin.ai/internal/metrics"
	"aftercoin.ai/internal/protocol"
)

// Submitter is the action entry point, satisfied by the scheduler.
type Submitter interface {
	Submit(ctx context.Context, req protocol.ActionRequest) protocol.Result
}

type client struct {
	id  string
	out chan []byte

	mu   sync.Mutex
	subs map[string]bool
}

func (c *client) subscribed(channel string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subs[channel]
}

func (c *client) setSubs(channels []string, on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range channels {
		if !protocol.IsKnownChannel(ch) {
			continue
		}
		if on {
			c.subs[ch] = true
		} else {
			delete(c.subs, ch)
		}
	}
}

type Hub struct {
	log *log.Logger

	upgrader websocket.Upgrader

	mu      sync.Mutex
	submit  Submitter
	clients map[string]*client
}

// SetSubmitter wires the action sink after construction; the hub must
// exist before the scheduler because engines publish through it.
func (h *Hub) SetSubmitter(s Submitter) {
	h.mu.Lock()
	h.submit = s
	h.mu.Unlock()
}

func (h *Hub) submitter() Submitter {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.submit
}

func NewHub(submit Submitter, logger *log.Logger) *Hub {
	return &Hub{
		submit: submit,
		log:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		clients: make(map[string]*client),
	}
}

// Publish fans an event out to every client subscribed to its channel.
// A client whose queue is full loses the event.
func (h *Hub) Publish(ev protocol.Event) {
	metrics.EventsPublished.WithLabelValues(ev.Channel).Inc()
	b, err := json.Marshal(map[string]any{"type": "event", "event": ev})
	if err != nil {
		h.log.Printf("marshal event: %v", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.clients {
		if !c.subscribed(ev.Channel) {
			continue
		}
		select {
		case c.out <- b:
		default:
			metrics.WSDropped.Inc()
		}
	}
}

type inboundMsg struct {
	Type     string          `json:"type"`
	ID       string          `json:"id,omitempty"`
	Channels []string        `json:"channels,omitempty"`
	Request  json.RawMessage `json:"request,omitempty"`
}

func (h *Hub) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := h.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		c := &client{
			id:   uuid.NewString(),
			out:  make(chan []byte, 32),
			subs: make(map[string]bool),
		}
		h.mu.Lock()
		h.clients[c.id] = c
		h.mu.Unlock()
		metrics.WSClients.Inc()
		defer func() {
			h.mu.Lock()
			delete(h.clients, c.id)
			h.mu.Unlock()
			metrics.WSClients.Dec()
		}()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b, ok := <-c.out:
					if !ok {
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				return
			}
			var in inboundMsg
			if err := json.Unmarshal(msg, &in); err != nil {
				continue
			}
			switch in.Type {
			case "subscribe":
				c.setSubs(in.Channels, true)
				h.ack(c, in.ID, protocol.Ok("subscribed", nil))
			case "unsubscribe":
				c.setSubs(in.Channels, false)
				h.ack(c, in.ID, protocol.Ok("unsubscribed", nil))
			case "action":
				req, err := protocol.DecodeAction(in.Request)
				if err != nil {
					h.ack(c, in.ID, protocol.Fail(protocol.ErrBadRequest, err.Error()))
					continue
				}
				sub := h.submitter()
				if sub == nil {
					h.ack(c, in.ID, protocol.Fail(protocol.ErrInternal, "not accepting actions yet"))
					continue
				}
				res := sub.Submit(ctx, req)
				metrics.ActionsTotal.WithLabelValues(string(req.Kind), outcome(res)).Inc()
				h.ack(c, in.ID, res)
			}
		}
	}
}

func (h *Hub) ack(c *client, id string, res protocol.Result) {
	b, err := json.Marshal(map[string]any{"type": "result", "id": id, "result": res})
	if err != nil {
		return
	}
	select {
	case c.out <- b:
	default:
		metrics.WSDropped.Inc()
	}
}

func outcome(res protocol.Result) string {
	if res.OK {
		return "ok"
	}
	return res.Code
}
