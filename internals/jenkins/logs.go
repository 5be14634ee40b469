package jenkins

import (
	"context"
	"fmt"
	"log/slog"
)

// GetStageLog fetches the log text of a stage.
func (c *Client) GetStageLog(ctx context.Context, stage Stage) (string, error) {
	href := stage.LogHref()
	if href == "" {
		return "", fmt.Errorf("%w: stage %s", ErrNoLogAvailable, stage.ID)
	}
	return c.GetLog(ctx, href)
}

// GetLog fetches any Jenkins URL as text. Relative URLs resolve against the
// base URL.
func (c *Client) GetLog(ctx context.Context, rawURL string) (string, error) {
	resp, err := c.do(ctx, "GET", rawURL, nil, nil)
	if err != nil {
		c.logger.Error("failed to fetch log",
			slog.String("url", rawURL),
			slog.String("error", err.Error()),
		)
		return "", fmt.Errorf("%w: log %s: %w", ErrRemoteQueryFailed, rawURL, err)
	}
	return string(resp.body), nil
}
