// Package ws serves the live audio WebSocket endpoint.
//
// A client connects to /ws with optional query parameters token,
// meeting_name, meeting_topic, participants and user_email. The first text
// message may be a {"type":"metadata",...} object. Binary frames carry
// container fragments. Text STOP, END or {"type":"end"} ends the session,
// after which the server replies with the final_transcript event and closes.
package ws

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"live-transcription-service/internal/observability/logging"
	"live-transcription-service/internal/observability/metrics"
	"live-transcription-service/internal/service/audio"
	"live-transcription-service/internal/service/session"
)

// Config configures the WebSocket handler.
type Config struct {
	AccessToken  string // empty disables the check
	Limits       audio.Limits
	ResultWait   time.Duration // how long to wait for finalization after end
	WriteTimeout time.Duration
	IdleTimeout  time.Duration // read deadline, refreshed by every frame and pong
}

// Handler upgrades requests and runs one session per connection.
type Handler struct {
	sessions audio.Sessions
	cfg      Config
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// NewHandler creates the WebSocket handler.
func NewHandler(sessions audio.Sessions, cfg Config, m *metrics.Metrics) *Handler {
	if cfg.ResultWait <= 0 {
		cfg.ResultWait = 20 * time.Minute
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = time.Minute
	}
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &Handler{
		sessions: sessions,
		cfg:      cfg,
		metrics:  m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 << 10,
			WriteBufferSize: 16 << 10,
			// Recorder pages are served from other origins.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logging.WithComponent("ws"),
	}
}

// controlMessage is a JSON text frame from the client.
type controlMessage struct {
	Type         string `json:"type"`
	MeetingName  string `json:"meeting_name"`
	MeetingTopic string `json:"meeting_topic"`
	Participants string `json:"participants"`
	UserEmail    string `json:"user_email"`
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()
	h.metrics.RecordConnectionOpen()

	q := r.URL.Query()
	if !h.authorized(q.Get("token")) {
		h.logger.Warn().Str("remote", r.RemoteAddr).Msg("Rejected connection with invalid token")
		h.closeWith(conn, websocket.ClosePolicyViolation, "invalid token")
		h.metrics.RecordConnectionClose("unauthorized")
		return
	}
	// Oversized frames fail in the frame header, before the payload is read.
	if h.cfg.Limits.MaxFragmentBytes > 0 {
		conn.SetReadLimit(int64(h.cfg.Limits.MaxFragmentBytes))
	}

	c := &connection{
		h:    h,
		conn: conn,
		meta: session.Metadata{
			Name:         q.Get("meeting_name"),
			Topic:        q.Get("meeting_topic"),
			Participants: q.Get("participants"),
			UserEmail:    q.Get("user_email"),
		},
		logger: h.logger.With().Str("remote", r.RemoteAddr).Logger(),
		done:   make(chan struct{}),
	}
	h.metrics.RecordConnectionClose(c.serve(r.Context()))
}

func (h *Handler) authorized(token string) bool {
	if h.cfg.AccessToken == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.cfg.AccessToken)) == 1
}

func (h *Handler) closeWith(conn *websocket.Conn, code int, text string) {
	deadline := time.Now().Add(h.cfg.WriteTimeout)
	if err := conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), deadline); err != nil {
		h.logger.Debug().Err(err).Int("code", code).Msg("Close frame not delivered")
	}
}

// connection is the state of one client stream.
type connection struct {
	h      *Handler
	conn   *websocket.Conn
	meta   session.Metadata
	stream *audio.Handler
	texts  int
	logger zerolog.Logger
	done   chan struct{}
}

// serve reads until the client ends or drops the stream. It returns the
// close outcome for metrics.
func (c *connection) serve(ctx context.Context) string {
	defer close(c.done)

	c.extendDeadline()
	c.conn.SetPongHandler(func(string) error {
		c.extendDeadline()
		return nil
	})
	go c.keepAlive(c.logger)

	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			var netErr net.Error
			switch {
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
				c.logger.Info().Msg("Client closed the connection, ending session")
				return c.end(ctx, false)
			case errors.Is(err, websocket.ErrReadLimit):
				// gorilla has already sent the 1009 close frame.
				return c.abort(fmt.Sprintf("fragment too large: exceeds %d bytes", c.h.cfg.Limits.MaxFragmentBytes))
			case errors.As(err, &netErr) && netErr.Timeout():
				return c.abort(fmt.Sprintf("idle timeout: no frame or pong for %v", c.h.cfg.IdleTimeout))
			}
			return c.abort("connection lost: " + err.Error())
		}
		c.extendDeadline()

		switch mt {
		case websocket.BinaryMessage:
			if err := c.open(); err != nil {
				return "rejected"
			}
			if err := c.stream.SendAudio(ctx, data); err != nil {
				if errors.Is(err, audio.ErrLimitExceeded) {
					c.h.closeWith(c.conn, websocket.CloseMessageTooBig, err.Error())
					return "abort"
				}
				c.logger.Warn().Err(err).Msg("Fragment rejected")
				c.h.closeWith(c.conn, websocket.CloseInternalServerErr, "session closed")
				return "abort"
			}
		case websocket.TextMessage:
			if c.handleText(data) {
				return c.end(ctx, true)
			}
		}
	}
}

func (c *connection) extendDeadline() {
	_ = c.conn.SetReadDeadline(time.Now().Add(c.h.cfg.IdleTimeout))
}

// keepAlive pings the client so a live but quiet peer keeps refreshing the
// read deadline through its pongs.
func (c *connection) keepAlive(logger zerolog.Logger) {
	ticker := time.NewTicker(c.h.cfg.IdleTimeout * 9 / 10)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.h.cfg.WriteTimeout)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				logger.Debug().Err(err).Msg("Ping failed")
				return
			}
		}
	}
}

// watchExpiry drops the connection once the stream's duration limit has
// aborted the session. Closing the socket unblocks the read loop.
func (c *connection) watchExpiry(expired <-chan struct{}) {
	select {
	case <-c.done:
	case <-expired:
		c.h.closeWith(c.conn, websocket.CloseMessageTooBig, "max duration exceeded")
		_ = c.conn.Close()
	}
}

// handleText applies a text frame and reports whether it ends the session.
func (c *connection) handleText(data []byte) bool {
	c.texts++
	text := strings.TrimSpace(string(data))

	switch strings.ToUpper(text) {
	case "STOP", "END":
		c.logger.Info().Str("marker", text).Msg("Stop marker received")
		return true
	}

	var msg controlMessage
	if err := json.Unmarshal([]byte(text), &msg); err != nil {
		c.logger.Debug().Str("text", truncate(text, 64)).Msg("Ignoring text message")
		return false
	}
	switch msg.Type {
	case "end":
		c.logger.Info().Msg("End message received")
		return true
	case "metadata":
		if c.stream != nil || c.texts > 1 {
			c.logger.Warn().Msg("Metadata must be the first text message before audio, ignored")
			return false
		}
		c.meta = mergeMetadata(c.meta, msg)
		c.logger.Info().
			Str("meetingName", c.meta.Name).
			Str("meetingTopic", c.meta.Topic).
			Msg("Metadata received")
	default:
		c.logger.Debug().Str("type", msg.Type).Msg("Ignoring control message")
	}
	return false
}

// open starts the session on first use so a leading metadata message
// still applies.
func (c *connection) open() error {
	if c.stream != nil {
		return nil
	}
	stream, err := audio.NewHandler(c.h.sessions, c.meta, c.h.cfg.Limits)
	if err != nil {
		c.logger.Error().Err(err).Msg("Session could not be opened")
		c.h.closeWith(c.conn, websocket.CloseTryAgainLater, "service unavailable")
		return err
	}
	c.stream = stream
	c.logger = c.logger.With().Str("sessionId", stream.SessionID()).Logger()
	go c.watchExpiry(stream.Expired())
	return nil
}

// end finishes the session, waits for the transcript and, when the client
// is still listening, sends it back before closing.
func (c *connection) end(ctx context.Context, connected bool) string {
	if err := c.open(); err != nil {
		return "rejected"
	}
	if err := c.stream.End(); err != nil {
		c.logger.Warn().Err(err).Msg("End failed")
	}
	if !connected {
		return "end"
	}

	waitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.h.cfg.ResultWait)
	defer cancel()
	res, err := c.stream.Wait(waitCtx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Gave up waiting for the final transcript")
		c.h.closeWith(c.conn, websocket.CloseInternalServerErr, "transcript not ready")
		return "end"
	}

	_ = c.conn.SetWriteDeadline(time.Now().Add(c.h.cfg.WriteTimeout))
	if err := c.conn.WriteJSON(res.Final); err != nil {
		c.logger.Info().Err(err).Msg("Client left before the final transcript was sent")
		return "end"
	}
	c.h.closeWith(c.conn, websocket.CloseNormalClosure, "")
	return "end"
}

func (c *connection) abort(reason string) string {
	if c.stream == nil {
		c.logger.Info().Str("reason", reason).Msg("Connection dropped before any audio")
		return "abort"
	}
	c.stream.Abort(reason)
	return "abort"
}

func mergeMetadata(m session.Metadata, msg controlMessage) session.Metadata {
	if msg.MeetingName != "" {
		m.Name = msg.MeetingName
	}
	if msg.MeetingTopic != "" {
		m.Topic = msg.MeetingTopic
	}
	if msg.Participants != "" {
		m.Participants = msg.Participants
	}
	if msg.UserEmail != "" {
		m.UserEmail = msg.UserEmail
	}
	return m
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
