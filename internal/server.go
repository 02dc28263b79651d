package internal

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	nanoid "github.com/jaevor/go-nanoid"
	"go.uber.org/zap"

	"roomrelay/internal/history"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// file payloads travel inline as base64, so the read limit is generous.
	maxMsgSize = 1 << 20

	sendBuffer = 256
	connIDLen  = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// all origins are allowed in development; tighten this if the relay
		// is exposed publicly.
		return true
	},
}

// Session wraps a single websocket connection with its opaque connection id
// and buffered send queue. The relay only ever touches id and send, which is
// what lets tests drive it without a live socket.
type Session struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

func newSession(id string, conn *websocket.Conn) *Session {
	return &Session{id: id, conn: conn, send: make(chan []byte, sendBuffer)}
}

// ID returns the opaque connection id assigned at connect time.
func (s *Session) ID() string {
	return s.id
}

// ServerOptions tune the transport-level behavior of the relay server.
type ServerOptions struct {
	// EventLimit/EventWindow bound how many inbound events one connection may
	// deliver per sliding window. Events over the limit are dropped.
	EventLimit  int
	EventWindow time.Duration
}

// Server wires the relay core, its injected components, and the transport
// boundary together. There is no ambient state: construct, run, tear down.
type Server struct {
	logger    *zap.Logger
	registry  *Registry
	rooms     *Directory
	history   *history.Log
	metrics   *Metrics
	relay     *Relay
	limiter   *RateLimiter
	newConnID func() string
}

func NewServer(logger *zap.Logger, opts ServerOptions) (*Server, error) {
	if opts.EventLimit <= 0 {
		opts.EventLimit = 30
	}
	if opts.EventWindow <= 0 {
		opts.EventWindow = 3 * time.Second
	}
	genID, err := nanoid.Standard(connIDLen)
	if err != nil {
		return nil, fmt.Errorf("init connection id generator: %w", err)
	}

	registry := NewRegistry(logger)
	rooms := NewDirectory()
	hist := history.NewLog()
	metrics := NewMetrics()
	return &Server{
		logger:    logger.Named("server"),
		registry:  registry,
		rooms:     rooms,
		history:   hist,
		metrics:   metrics,
		relay:     NewRelay(logger, registry, rooms, hist, metrics),
		limiter:   NewRateLimiter(opts.EventLimit, opts.EventWindow),
		newConnID: genID,
	}, nil
}

// Relay exposes the relay core so the caller can run its loop.
func (s *Server) Relay() *Relay {
	return s.relay
}

// History exposes the message log for the retention sweeper.
func (s *Server) History() *history.Log {
	return s.history
}

// Rooms exposes the room directory for the retention sweeper.
func (s *Server) Rooms() *Directory {
	return s.rooms
}

// ServeWS upgrades the request and registers the new connection with the
// relay. The connection stays anonymous until it sends an identify event.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	sess := newSession(s.newConnID(), conn)
	s.relay.Connect(sess)

	go s.writePump(sess)
	go s.readPump(sess)
}

func (s *Server) readPump(sess *Session) {
	defer func() {
		s.relay.Disconnect(sess)
		s.limiter.Forget(sess.id)
		_ = sess.conn.Close()
	}()
	sess.conn.SetReadLimit(maxMsgSize)
	_ = sess.conn.SetReadDeadline(time.Now().Add(pongWait))
	sess.conn.SetPongHandler(func(string) error {
		return sess.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, payload, err := sess.conn.ReadMessage()
		if err != nil {
			// normal close or read error; the deferred cleanup runs.
			return
		}
		if !s.limiter.Allow(sess.id) {
			s.logger.Debug("rate limit exceeded, dropping event",
				zap.String("connID", sess.id))
			continue
		}
		var ev ClientEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			s.logger.Debug("dropping undecodable frame",
				zap.String("connID", sess.id), zap.Error(err))
			continue
		}
		s.relay.Dispatch(sess, ev)
	}
}

func (s *Server) writePump(sess *Session) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = sess.conn.Close()
	}()
	for {
		select {
		case message, ok := <-sess.send:
			_ = sess.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// the relay closed the send queue on disconnect.
				_ = sess.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := sess.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = sess.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sess.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
