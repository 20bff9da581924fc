package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const (
	// Subprotocol carrying the bearer token as the next offered protocol.
	tokenSubprotocol = "access_token"

	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameBytes  = 64 << 10
	sendQueueDepth = 64
)

var errSlowConsumer = errors.New("send queue full")

// SocketServer upgrades HTTP requests into sessions of one namespace.
type SocketServer struct {
	cfg      SessionConfig
	upgrader websocket.Upgrader
}

// NewSocketServer creates a SocketServer. allowedOrigin empty accepts any
// origin.
func NewSocketServer(cfg SessionConfig, allowedOrigin string) *SocketServer {
	return &SocketServer{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			Subprotocols:    []string{tokenSubprotocol},
			CheckOrigin: func(r *http.Request) bool {
				if allowedOrigin == "" {
					return true
				}
				origin := r.Header.Get("Origin")
				return origin == "" || origin == allowedOrigin
			},
		},
	}
}

// Handle is the echo handler for the namespace endpoint. It blocks until the
// connection ends.
func (s *SocketServer) Handle(c echo.Context) error {
	r := c.Request()
	hs := Handshake{
		Auth:   subprotocolToken(websocket.Subprotocols(r)),
		Query:  r.URL.Query(),
		Header: r.Header,
	}

	conn, err := s.upgrader.Upgrade(c.Response(), r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		slog.Debug("websocket upgrade failed", "namespace", s.cfg.Hub.Namespace(), "error", err)
		return nil
	}

	t := newSocketTransport(conn)
	go t.writeLoop()

	sess := NewSession(s.cfg, t)
	ctx := context.WithoutCancel(r.Context())
	if err := sess.Open(ctx, hs); err != nil {
		<-t.done
		return nil
	}
	defer func() {
		sess.Close()
		<-t.done
	}()

	s.readLoop(ctx, conn, sess)
	return nil
}

func (s *SocketServer) readLoop(ctx context.Context, conn *websocket.Conn, sess *Session) {
	conn.SetReadLimit(maxFrameBytes)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("websocket read ended", "namespace", s.cfg.Hub.Namespace(), "user_id", sess.UserID(), "error", err)
			}
			return
		}
		var in Inbound
		if err := json.Unmarshal(data, &in); err != nil {
			continue
		}
		sess.Handle(ctx, in)
	}
}

// subprotocolToken picks the token offered after the access_token marker.
func subprotocolToken(protocols []string) string {
	for i, p := range protocols {
		if p == tokenSubprotocol && i+1 < len(protocols) {
			return protocols[i+1]
		}
	}
	return ""
}

// socketTransport serializes writes onto one websocket connection.
type socketTransport struct {
	conn    *websocket.Conn
	queue   chan Frame
	closing chan struct{}
	done    chan struct{}
	once    sync.Once
}

func newSocketTransport(conn *websocket.Conn) *socketTransport {
	return &socketTransport{
		conn:    conn,
		queue:   make(chan Frame, sendQueueDepth),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (t *socketTransport) Send(f Frame) error {
	select {
	case <-t.closing:
		return errSessionClosed
	default:
	}
	select {
	case t.queue <- f:
		return nil
	default:
		return errSlowConsumer
	}
}

// Close asks the writer to flush queued frames and close the connection.
func (t *socketTransport) Close() error {
	t.once.Do(func() { close(t.closing) })
	return nil
}

func (t *socketTransport) writeLoop() {
	defer close(t.done)
	defer t.conn.Close()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case f := <-t.queue:
			if err := t.write(f); err != nil {
				t.Close()
				return
			}
		case <-ticker.C:
			_ = t.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := t.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				t.Close()
				return
			}
		case <-t.closing:
			t.drain()
			_ = t.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

func (t *socketTransport) drain() {
	for {
		select {
		case f := <-t.queue:
			if err := t.write(f); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (t *socketTransport) write(f Frame) error {
	_ = t.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return t.conn.WriteJSON(f)
}
