// Command eventviewer tails the workflow transition and audit topics and
// relays every event to WebSocket clients, for watching encounters live.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"visit-intake-service/internal/events"
	"visit-intake-service/internal/observability/logging"
)

const recentLimit = 200

// Event is one record read from either topic, kept verbatim.
type Event struct {
	Topic     string          `json:"topic"`
	EventType string          `json:"eventType"`
	SessionID string          `json:"sessionId"`
	Payload   json.RawMessage `json:"payload"`
}

// Hub manages WebSocket connections
type Hub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan Event
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mu         sync.RWMutex
	recent     []Event
}

func newHub() *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan Event, 100),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
	}
}

func (h *Hub) run() {
	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			n := len(h.clients)
			h.mu.Unlock()
			log.Info().Int("clients", n).Msg("Client connected")

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			n := len(h.clients)
			h.mu.Unlock()
			log.Info().Int("clients", n).Msg("Client disconnected")

		case event := <-h.broadcast:
			h.mu.Lock()
			h.recent = append(h.recent, event)
			if len(h.recent) > recentLimit {
				h.recent = h.recent[len(h.recent)-recentLimit:]
			}
			for conn := range h.clients {
				if err := conn.WriteJSON(event); err != nil {
					log.Warn().Err(err).Msg("Write error")
					conn.Close()
					delete(h.clients, conn)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Recent returns the last events seen, oldest first.
func (h *Hub) Recent(sessionID string) []Event {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Event, 0, len(h.recent))
	for _, e := range h.recent {
		if sessionID == "" || e.SessionID == sessionID {
			out = append(out, e)
		}
	}
	return out
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local dev
	},
}

func wsHandler(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn().Err(err).Msg("WebSocket upgrade error")
			return
		}
		hub.register <- conn

		// Keep connection alive, handle disconnects
		go func() {
			defer func() {
				hub.unregister <- conn
			}()
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					break
				}
			}
		}()
	}
}

func recentHandler(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(hub.Recent(r.URL.Query().Get("session")))
	}
}

func consumeKafka(ctx context.Context, hub *Hub, brokers, topic string, since time.Duration) {
	// Use partition reader without consumer group (works better through port-forward)
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   strings.Split(brokers, ","),
		Topic:     topic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  10e6,
	})
	defer reader.Close()

	if err := reader.SetOffsetAt(ctx, time.Now().Add(-since)); err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("Failed to seek, reading from the current offset")
	}

	log.Info().Str("topic", topic).Dur("since", since).Msg("Consuming from Kafka topic")

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Str("topic", topic).Msg("Kafka read error")
			time.Sleep(time.Second)
			continue
		}

		var envelope struct {
			EventType string `json:"eventType"`
			SessionID string `json:"sessionId"`
		}
		if err := json.Unmarshal(msg.Value, &envelope); err != nil {
			log.Warn().Err(err).Str("topic", topic).Msg("JSON unmarshal error")
			continue
		}

		log.Info().
			Str("topic", topic).
			Str("eventType", envelope.EventType).
			Str("sessionId", envelope.SessionID).
			Msg("Received event")
		hub.broadcast <- Event{
			Topic:     topic,
			EventType: envelope.EventType,
			SessionID: envelope.SessionID,
			Payload:   append(json.RawMessage(nil), msg.Value...),
		}
	}
}

func main() {
	port := flag.String("port", "8081", "HTTP server port")
	brokers := flag.String("brokers", "localhost:9092", "Kafka brokers (comma-separated)")
	topicTransitions := flag.String("topic-transitions", events.TopicTransitions, "Workflow transition topic")
	topicAudit := flag.String("topic-audit", events.TopicAudit, "Audit topic")
	since := flag.Duration("since", time.Hour, "How far back to start reading")
	flag.Parse()

	logging.Init(logging.Config{Level: "info", Format: "console"})

	hub := newHub()
	go hub.run()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go consumeKafka(ctx, hub, *brokers, *topicTransitions, *since)
	go consumeKafka(ctx, hub, *brokers, *topicAudit, *since)

	http.HandleFunc("/ws", wsHandler(hub))
	http.HandleFunc("/events", recentHandler(hub))

	log.Info().
		Str("port", *port).
		Str("brokers", *brokers).
		Strs("topics", []string{*topicTransitions, *topicAudit}).
		Msg("Event viewer starting")

	if err := http.ListenAndServe(":"+*port, nil); err != nil {
		log.Fatal().Err(err).Msg("Server error")
	}
}
