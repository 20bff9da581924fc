package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/sumire/relay/internal/domain"
	"github.com/sumire/relay/internal/service"
)

const (
	DefaultHeartbeatInterval = 25 * time.Second
	streamBufferSize         = 32
)

var (
	errStreamClosed = errors.New("stream closed")
	errStreamFull   = errors.New("stream buffer full")
)

// StreamRegistry is the notification service's per-user stream table.
type StreamRegistry interface {
	RegisterStream(userID int64, sink service.StreamSink)
	ReleaseStream(userID int64, sink service.StreamSink)
}

// StreamHandler serves server-sent notification streams.
type StreamHandler struct {
	registry  StreamRegistry
	validator TokenValidator
	heartbeat time.Duration
}

// NewStreamHandler creates a StreamHandler. A non-positive heartbeat uses
// DefaultHeartbeatInterval.
func NewStreamHandler(registry StreamRegistry, validator TokenValidator, heartbeat time.Duration) *StreamHandler {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeatInterval
	}
	return &StreamHandler{registry: registry, validator: validator, heartbeat: heartbeat}
}

// Handle streams the caller's notification events until the client goes
// away or a newer stream displaces this one.
func (h *StreamHandler) Handle(c echo.Context) error {
	r := c.Request()
	token := bearerToken(r.Header.Get(echo.HeaderAuthorization))
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		return domain.ErrUnauthorized
	}
	userID, err := h.validator.ValidateToken(token)
	if err != nil {
		return domain.ErrUnauthorized
	}

	res := c.Response()
	// Streams outlive the server's write timeout.
	_ = http.NewResponseController(res).SetWriteDeadline(time.Time{})
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.Header().Set("X-Accel-Buffering", "no")
	res.WriteHeader(http.StatusOK)
	res.Flush()

	sink := newChannelSink(streamBufferSize)
	h.registry.RegisterStream(userID, sink)
	defer h.registry.ReleaseStream(userID, sink)

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		var ev domain.Event
		select {
		case <-ctx.Done():
			return nil
		case <-sink.done:
			return nil
		case ev = <-sink.events:
		case t := <-ticker.C:
			ev = domain.Heartbeat{At: t.UTC()}
		}
		if err := writeEvent(res, ev); err != nil {
			slog.Debug("notification stream write failed", "user_id", userID, "error", err)
			return nil
		}
		res.Flush()
	}
}

func writeEvent(w io.Writer, ev domain.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.EventName(), data)
	return err
}

// channelSink is a StreamSink backed by a buffered channel.
type channelSink struct {
	events chan domain.Event
	done   chan struct{}
	once   sync.Once
}

func newChannelSink(size int) *channelSink {
	return &channelSink{
		events: make(chan domain.Event, size),
		done:   make(chan struct{}),
	}
}

func (s *channelSink) Push(ev domain.Event) error {
	select {
	case <-s.done:
		return errStreamClosed
	default:
	}
	select {
	case s.events <- ev:
		return nil
	default:
		return errStreamFull
	}
}

func (s *channelSink) Close() {
	s.once.Do(func() { close(s.done) })
}
