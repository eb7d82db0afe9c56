package realtime

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/keypointlab/infantposebackend/workflow"
)

// wireEvent is the JSON shape pushed to websocket clients.
type wireEvent struct {
	Type      string         `json:"type"`
	Entity    string         `json:"entity,omitempty"`
	EntityID  uint           `json:"entity_id,omitempty"`
	BatchID   uint           `json:"batch_id,omitempty"`
	Extra     map[string]any `json:"extra,omitempty"`
	Timestamp int64          `json:"timestamp"`
}

// subscriber is one websocket connection. A non-zero batchFilter narrows the
// feed to events about that batch; events without a batch id always pass.
type subscriber struct {
	conn        *websocket.Conn
	outbound    chan []byte
	batchFilter uint
}

func (s *subscriber) wants(ev wireEvent) bool {
	return s.batchFilter == 0 || ev.BatchID == 0 || ev.BatchID == s.batchFilter
}

// Hub fans workflow events out to connected dashboard clients. It implements
// workflow.EventSink, so the engine publishes into it directly.
type Hub struct {
	mu          sync.Mutex
	subscribers map[*subscriber]struct{}
	events      chan wireEvent
	joins       chan *subscriber
	leaves      chan *subscriber
}

func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[*subscriber]struct{}),
		events:      make(chan wireEvent, 256),
		joins:       make(chan *subscriber),
		leaves:      make(chan *subscriber),
	}
}

// Run owns the subscriber set; membership changes and fanout are serialized
// here so subscribers never race their own teardown.
func (h *Hub) Run() {
	for {
		select {
		case sub := <-h.joins:
			h.mu.Lock()
			h.subscribers[sub] = struct{}{}
			h.mu.Unlock()

		case sub := <-h.leaves:
			h.drop(sub)

		case ev := <-h.events:
			payload, err := json.Marshal(ev)
			if err != nil {
				log.Printf("realtime: failed to marshal %s event: %v", ev.Type, err)
				continue
			}
			h.mu.Lock()
			for sub := range h.subscribers {
				if !sub.wants(ev) {
					continue
				}
				select {
				case sub.outbound <- payload:
				default:
					// slow consumer, cut it loose
					delete(h.subscribers, sub)
					close(sub.outbound)
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) drop(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subscribers[sub]; ok {
		delete(h.subscribers, sub)
		close(sub.outbound)
	}
}

// Publish implements workflow.EventSink. Events are best-effort: a full
// event channel drops the event rather than blocking the engine's commit
// path.
func (h *Hub) Publish(event workflow.Event) {
	ev := wireEvent{
		Type:      event.Type,
		Entity:    event.Entity,
		EntityID:  event.EntityID,
		BatchID:   event.BatchID,
		Extra:     event.Extra,
		Timestamp: time.Now().Unix(),
	}
	select {
	case h.events <- ev:
	default:
		log.Printf("realtime: dropping %s event, channel full", event.Type)
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWS upgrades the connection and streams events until the client goes
// away. An optional ?batch_id=N query narrows the feed to one batch.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("realtime: websocket upgrade error: %v", err)
		return
	}

	var batchFilter uint
	if raw := r.URL.Query().Get("batch_id"); raw != "" {
		if parsed, err := strconv.ParseUint(raw, 10, 64); err == nil {
			batchFilter = uint(parsed)
		}
	}

	sub := &subscriber{conn: conn, outbound: make(chan []byte, 64), batchFilter: batchFilter}
	h.joins <- sub

	go func() {
		for msg := range sub.outbound {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
		conn.Close()
	}()

	// drain the read side to notice disconnects
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.leaves <- sub
}
