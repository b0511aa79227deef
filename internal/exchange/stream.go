package exchange

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

const maxBackoff = 16 * time.Second

// sleepBackoff waits for the current backoff and doubles it up to maxBackoff.
// It returns false when ctx is done first.
func sleepBackoff(ctx context.Context, backoff *time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(*backoff):
	}
	*backoff *= 2
	if *backoff > maxBackoff {
		*backoff = maxBackoff
	}
	return true
}

// closeOnDone closes c when ctx is cancelled so a blocked ReadMessage returns.
// The returned func stops the watcher and closes c.
func closeOnDone(ctx context.Context, c *websocket.Conn) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			c.Close()
		case <-done:
		}
	}()
	return func() {
		close(done)
		c.Close()
	}
}
