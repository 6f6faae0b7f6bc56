package rcon

import (
	"context"
	"fmt"
)

// Verifier returns the probe Verify runs for this client's game.
func (c *Client) Verifier() Verifier {
	return c.verifier
}

// Verify runs the game's probe command and checks its answer. The session
// must already be Ready.
func (c *Client) Verify(ctx context.Context) (string, error) {
	resp, err := c.Send(ctx, c.verifier.Command)
	if err != nil {
		return "", fmt.Errorf("verify %q: %w", c.verifier.Command, err)
	}
	if !c.verifier.Check(resp) {
		return resp, fmt.Errorf("%w: %q did not contain %q", ErrVerificationFailed, c.verifier.Command, c.verifier.Expect)
	}
	return resp, nil
}

// Check connects with opts, runs the game's probe and ends the session.
// The returned error explains which step failed.
func Check(ctx context.Context, opts Options) (string, error) {
	c, err := New(opts)
	if err != nil {
		return "", err
	}
	defer c.End()

	if err := c.Connect(ctx); err != nil {
		return "", err
	}
	return c.Verify(ctx)
}

// IsAuth reports whether a server accepts the credentials in opts and
// answers its probe command as expected.
func IsAuth(ctx context.Context, opts Options) bool {
	_, err := Check(ctx, opts)
	return err == nil
}
