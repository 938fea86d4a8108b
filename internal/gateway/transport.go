package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const closeWriteTimeout = time.Second

// Transport is one open bidirectional message connection
type Transport interface {
	// ReadMessage blocks for the next message. When the peer closes the
	// connection it returns a *CloseError.
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	// Close sends a close frame with the given code and releases the
	// connection. It is safe to call more than once.
	Close(code CloseCode, reason string) error
}

// Dialer opens transports
type Dialer interface {
	Dial(ctx context.Context, url string) (Transport, error)
}

// CloseError reports that the peer closed the connection with a code
type CloseError struct {
	Code CloseCode
	Text string
}

func (e *CloseError) Error() string {
	if e.Text == "" {
		return fmt.Sprintf("connection closed: %d (%s)", int(e.Code), e.Code)
	}
	return fmt.Sprintf("connection closed: %d (%s): %s", int(e.Code), e.Code, e.Text)
}

// WebSocketDialer dials gateway transports with gorilla/websocket
type WebSocketDialer struct {
	Dialer *websocket.Dialer
	Header http.Header
}

// NewWebSocketDialer creates a dialer using the default websocket settings
func NewWebSocketDialer() *WebSocketDialer {
	return &WebSocketDialer{Dialer: websocket.DefaultDialer}
}

// Dial opens a websocket connection to url
func (d *WebSocketDialer) Dial(ctx context.Context, url string) (Transport, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	conn, resp, err := dialer.DialContext(ctx, url, d.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to dial gateway (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to dial gateway: %w", err)
	}

	return &wsTransport{conn: conn}, nil
}

type wsTransport struct {
	conn      *websocket.Conn
	closeOnce sync.Once
	closeErr  error
}

func (t *wsTransport) ReadMessage() ([]byte, error) {
	_, data, err := t.conn.ReadMessage()
	if err != nil {
		var ce *websocket.CloseError
		if errors.As(err, &ce) {
			return nil, &CloseError{Code: CloseCode(ce.Code), Text: ce.Text}
		}
		return nil, err
	}
	return data, nil
}

func (t *wsTransport) WriteMessage(data []byte) error {
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) Close(code CloseCode, reason string) error {
	t.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(int(code), reason)
		// The peer may already be gone; the close frame is best effort.
		_ = t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteTimeout))
		t.closeErr = t.conn.Close()
	})
	return t.closeErr
}
