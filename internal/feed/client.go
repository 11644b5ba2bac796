package feed

import (
	"context"
	"fmt"
	"log/slog"

	"nhooyr.io/websocket"
)

// Client is a websocket-backed Feed.
type Client struct {
	conn    *websocket.Conn
	decoder *Decoder
	logger  *slog.Logger
}

var _ Feed = (*Client)(nil)

// Dial connects to the edit-event feed at url.
func Dial(ctx context.Context, url string, logger *slog.Logger) (*Client, error) {
	decoder, err := NewDecoder()
	if err != nil {
		return nil, err
	}
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial event feed: %w", err)
	}
	return &Client{conn: conn, decoder: decoder, logger: logger}, nil
}

// NewDialer returns a Dialer bound to url, for reconnect loops.
func NewDialer(url string, logger *slog.Logger) Dialer {
	return func(ctx context.Context) (Feed, error) {
		return Dial(ctx, url, logger)
	}
}

// Next blocks until the next well-formed event arrives. Malformed messages
// are logged and skipped.
func (c *Client) Next(ctx context.Context) (Event, error) {
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			return Event{}, fmt.Errorf("read event feed: %w", err)
		}
		event, err := c.decoder.Decode(data)
		if err != nil {
			c.logger.Warn("skipping malformed feed message", "error", err)
			continue
		}
		return event, nil
	}
}

// Close closes the websocket with a normal-closure status.
func (c *Client) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "")
}
