// Transcript Viewer tails the transcript topics, prints every event and
// relays it to browsers connected on /ws.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"live-transcription-service/internal/observability/logging"
)

// viewerEvent is the union of the piece, final and error events.
type viewerEvent struct {
	EventType       string `json:"eventType"`
	SessionID       string `json:"sessionId"`
	Timestamp       int64  `json:"timestamp"`
	SegmentIndex    *int   `json:"segmentIndex,omitempty"`
	Text            string `json:"text,omitempty"`
	OK              *bool  `json:"ok,omitempty"`
	Error           string `json:"error,omitempty"`
	Status          string `json:"status,omitempty"`
	Segments        int    `json:"segments,omitempty"`
	FailedSegments  []int  `json:"failedSegments,omitempty"`
	MissingSegments []int  `json:"missingSegments,omitempty"`
	Message         string `json:"message,omitempty"`
	Topic           string `json:"topic"`
}

// Hub manages WebSocket connections
type Hub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan viewerEvent
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
}

func newHub() *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan viewerEvent, 100),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
	}
}

// run owns the client set; only this goroutine touches it.
func (h *Hub) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for conn := range h.clients {
				conn.Close()
			}
			return

		case conn := <-h.register:
			h.clients[conn] = true
			log.Info().Int("clients", len(h.clients)).Msg("Viewer connected")

		case conn := <-h.unregister:
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			log.Info().Int("clients", len(h.clients)).Msg("Viewer disconnected")

		case event := <-h.broadcast:
			for conn := range h.clients {
				conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteJSON(event); err != nil {
					log.Warn().Err(err).Msg("Viewer write failed")
					conn.Close()
					delete(h.clients, conn)
				}
			}
		}
	}
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
					return
				}
			}
		}()
	}
}

func consumeKafka(ctx context.Context, hub *Hub, brokers []string, topic, group string, since time.Duration) {
	cfg := kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	}
	if group != "" {
		cfg.GroupID = group
	}
	reader := kafka.NewReader(cfg)
	defer reader.Close()

	// Without a consumer group the reader sits on partition 0 and can rewind.
	if group == "" && since > 0 {
		if err := reader.SetOffsetAt(ctx, time.Now().Add(-since)); err != nil {
			log.Warn().Err(err).Str("topic", topic).Msg("Could not rewind, reading new messages only")
		}
	}

	log.Info().Str("topic", topic).Str("group", group).Dur("since", since).Msg("Consuming")

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

		var event viewerEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			log.Warn().Err(err).Str("topic", topic).Msg("Undecodable event")
			continue
		}
		event.Topic = topic
		logEvent(event)

		select {
		case hub.broadcast <- event:
		case <-ctx.Done():
			return
		}
	}
}

func logEvent(e viewerEvent) {
	l := log.Info().Str("session", e.SessionID).Str("type", e.EventType)
	switch {
	case e.SegmentIndex != nil:
		l = l.Int("segment", *e.SegmentIndex)
		if e.Error != "" {
			l = l.Str("error", e.Error)
		}
		l.Str("text", truncate(e.Text, 60)).Msg("Piece")
	case e.Status != "":
		l.Str("status", e.Status).
			Int("segments", e.Segments).
			Ints("failed", e.FailedSegments).
			Ints("missing", e.MissingSegments).
			Str("text", truncate(e.Text, 200)).
			Msg("Final transcript")
	default:
		l.Str("message", e.Message).Msg("Session error")
	}
}

func truncate(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

func main() {
	port := flag.String("port", "8081", "HTTP server port for browser viewers")
	brokers := flag.String("brokers", "localhost:9092", "Kafka brokers (comma-separated)")
	topicPartial := flag.String("topic-partial", "transcript.partial", "Piece topic (empty to skip)")
	topicFinal := flag.String("topic-final", "transcript.final", "Final transcript topic")
	topicError := flag.String("topic-error", "session.error", "Session error topic")
	group := flag.String("group", "", "Consumer group (empty reads partition 0 directly)")
	since := flag.Duration("since", time.Hour, "Replay window when reading without a group")
	flag.Parse()

	logging.Init(logging.Config{Level: "info", Format: "console"})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := newHub()
	go hub.run(ctx)

	brokerList := strings.Split(*brokers, ",")
	var wg sync.WaitGroup
	for _, topic := range []string{*topicPartial, *topicFinal, *topicError} {
		if topic == "" {
			continue
		}
		wg.Add(1)
		go func(topic string) {
			defer wg.Done()
			consumeKafka(ctx, hub, brokerList, topic, *group, *since)
		}(topic)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsHandler(hub))
	srv := &http.Server{Addr: ":" + *port, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		log.Info().Str("addr", srv.Addr).Strs("brokers", brokerList).Msg("Transcript viewer listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("Server error")
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
	wg.Wait()
}
