package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
)

// WebSocket carries one JSON text frame per message (spec §4.3).
type WebSocket struct {
	url  string
	conn *websocket.Conn

	mu       sync.Mutex
	writeMu  sync.Mutex
	frames   chan []byte
	readErrs chan error
	closed   bool
	closeCh  chan struct{}
}

// NewWebSocket returns a Transport that will dial url on Open.
func NewWebSocket(url string) *WebSocket {
	return &WebSocket{
		url:      url,
		frames:   make(chan []byte, 16),
		readErrs: make(chan error, 1),
		closeCh:  make(chan struct{}),
	}
}

func (w *WebSocket) Open(ctx context.Context) error {
	dialer := websocket.Dialer{}
	conn, _, err := dialer.DialContext(ctx, w.url, nil)
	if err != nil {
		return fmt.Errorf("transport: websocket dial %s: %w", w.url, err)
	}
	w.conn = conn
	go w.readLoop()
	return nil
}

func (w *WebSocket) readLoop() {
	for {
		msgType, data, err := w.conn.ReadMessage()
		if err != nil {
			select {
			case w.readErrs <- err:
			default:
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		select {
		case w.frames <- data:
		case <-w.closeCh:
			return
		}
	}
}

func (w *WebSocket) Send(ctx context.Context, msg []byte) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	w.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		w.writeMu.Lock()
		defer w.writeMu.Unlock()
		done <- w.conn.WriteMessage(websocket.TextMessage, msg)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *WebSocket) Receive(ctx context.Context) ([]byte, error) {
	select {
	case frame, ok := <-w.frames:
		if !ok {
			return nil, ErrClosed
		}
		return frame, nil
	case err := <-w.readErrs:
		return nil, fmt.Errorf("transport: read failed: %w", err)
	case <-w.closeCh:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (w *WebSocket) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	close(w.closeCh)
	if w.conn != nil {
		return w.conn.Close()
	}
	return nil
}
