package api

import (
	"context"
	"fmt"
	"net/http"
)

// Health checks GET /health once. Any 2xx response is healthy and the
// body is ignored. It never retries; bound it with ctx.
func (c *Client) Health(ctx context.Context) error {
	if _, err := c.doRequest(ctx, http.MethodGet, "/health", nil); err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	return nil
}
