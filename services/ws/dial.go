// Package ws holds the websocket plumbing shared by the streaming speech clients.
package ws

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"debatekit/core"

	"github.com/gorilla/websocket"
)

const (
	maxRetries       = 3
	baseDelay        = 500 * time.Millisecond
	handshakeTimeout = 10 * time.Second
	// DefaultReadTimeout bounds each read when ctx carries no deadline.
	DefaultReadTimeout = 60 * time.Second
)

// Dial opens a websocket, retrying a failed handshake with linear backoff.
// The returned connection is closed when ctx is done so blocked reads return.
func Dial(ctx context.Context, url string, header http.Header, logger *core.Logger) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			delay := baseDelay * time.Duration(attempt)
			logger.Infof("retrying websocket connection (attempt %d/%d) in %v after error: %v", attempt+1, maxRetries, delay, lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		conn, resp, err := dialer.DialContext(ctx, url, header)
		if err != nil {
			lastErr = err
			// auth and request errors won't improve on retry
			if resp != nil && resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return nil, fmt.Errorf("websocket handshake rejected with status %d: %w", resp.StatusCode, err)
			}
			continue
		}

		context.AfterFunc(ctx, func() { conn.Close() })
		return conn, nil
	}
	return nil, fmt.Errorf("failed to connect after %d attempts: %w", maxRetries, lastErr)
}

// ReadDeadline is ctx's deadline, or DefaultReadTimeout from now.
func ReadDeadline(ctx context.Context) time.Time {
	if deadline, ok := ctx.Deadline(); ok {
		return deadline
	}
	return time.Now().Add(DefaultReadTimeout)
}
