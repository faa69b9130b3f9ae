package client

import (
	"context"
	"fmt"

	"github.com/gorilla/websocket"
)

// Conn is the minimal websocket surface the client needs. *websocket.Conn
// satisfies it.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteJSON(v any) error
	Close() error
}

// Dialer establishes proxy connections. Swapped for a fake in tests.
type Dialer interface {
	DialContext(ctx context.Context, rawURL string) (Conn, error)
}

type wsDialer struct{}

// NewDialer returns the production websocket dialer.
func NewDialer() Dialer { return wsDialer{} }

func (wsDialer) DialContext(ctx context.Context, rawURL string) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial live websocket: %w", err)
	}
	return conn, nil
}
