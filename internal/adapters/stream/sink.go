package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"

	"github.com/moodline/moodline/internal/domain/model"
)

// Sink is where a served subscription writes its events. Implementations
// frame events for a particular transport.
type Sink interface {
	// Send writes one event to the transport.
	Send(ev model.StreamEvent) error

	// Flush pushes buffered output to the client.
	Flush() error
}

// SSESink frames events as Server-Sent Events: an id line carrying the resume
// cursor, an event line carrying the kind, and a JSON data line.
type SSESink struct {
	w io.Writer
	f http.Flusher
}

// NewSSESink wraps an HTTP response writer. Flush is a no-op when the writer
// does not support flushing.
func NewSSESink(w http.ResponseWriter) *SSESink {
	f, _ := w.(http.Flusher)
	return &SSESink{w: w, f: f}
}

// Send writes one SSE frame.
func (s *SSESink) Send(ev model.StreamEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal stream event: %w", err)
	}

	if _, err := s.w.Write([]byte("id: " + strconv.FormatUint(ev.ID, 10) + "\n")); err != nil {
		return err
	}
	if _, err := s.w.Write([]byte("event: " + string(ev.Kind) + "\n")); err != nil {
		return err
	}
	if _, err := s.w.Write([]byte("data: ")); err != nil {
		return err
	}
	if _, err := s.w.Write(data); err != nil {
		return err
	}
	_, err = s.w.Write([]byte("\n\n"))
	return err
}

// Flush flushes the underlying response writer.
func (s *SSESink) Flush() error {
	if s.f != nil {
		s.f.Flush()
	}
	return nil
}

// WSSink frames events as JSON text messages on a WebSocket connection.
type WSSink struct {
	conn *websocket.Conn
}

// NewWSSink wraps an upgraded WebSocket connection.
func NewWSSink(conn *websocket.Conn) *WSSink {
	return &WSSink{conn: conn}
}

// Send writes one event as a JSON message.
func (s *WSSink) Send(ev model.StreamEvent) error {
	return s.conn.WriteJSON(ev)
}

// Flush is a no-op; WebSocket messages are not buffered.
func (s *WSSink) Flush() error { return nil }
