package rcon

import (
	"context"
	"errors"
	"time"
)

// keepAliveInterval resolves Options.KeepAlive against the link's default.
// Callers hold c.mu.
func (c *Client) keepAliveInterval() time.Duration {
	switch {
	case c.opts.KeepAlive < 0:
		return 0
	case c.opts.KeepAlive > 0:
		return c.opts.KeepAlive
	default:
		return c.caps.KeepAlive
	}
}

// keepAlive sends an empty command every interval until ctx is cancelled
// or the connection leaves Ready. UDP servers drop clients that stay quiet.
func (c *Client) keepAlive(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.Send(ctx, ""); err != nil {
				if errors.Is(err, ErrNotReady) || errors.Is(err, ErrClosed) || ctx.Err() != nil {
					return
				}
				c.logger.Warn().Err(err).Msg("keep-alive failed")
				continue
			}
			c.logger.Trace().Msg("keep-alive acknowledged")
		}
	}
}
