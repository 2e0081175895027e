package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// BulkAction is one of the backend's bulk bot operations.
type BulkAction string

const (
	StartAll  BulkAction = "start-all"
	StopAll   BulkAction = "stop-all"
	PauseAll  BulkAction = "pause-all"
	ResumeAll BulkAction = "resume-all"
)

// BulkActions lists every supported action.
var BulkActions = []BulkAction{StartAll, StopAll, PauseAll, ResumeAll}

// ParseBulkAction validates an action name.
func ParseBulkAction(s string) (BulkAction, error) {
	for _, a := range BulkActions {
		if string(a) == s {
			return a, nil
		}
	}
	return "", fmt.Errorf("unknown bulk action %q", s)
}

// BulkResult is the backend's answer to a bulk operation.
type BulkResult struct {
	Action   BulkAction      `json:"action"`
	Results  map[string]bool `json:"results"` // bot id -> whether it changed state
	Affected int             `json:"affected"`
}

// bulkResponse mirrors the route payloads, which name the count after the action.
type bulkResponse struct {
	Results map[string]bool `json:"results"`
	Started *int            `json:"started"`
	Stopped *int            `json:"stopped"`
	Paused  *int            `json:"paused"`
	Resumed *int            `json:"resumed"`
}

// Bulk runs a bulk bot operation through the circuit breaker.
func (c *Client) Bulk(ctx context.Context, action BulkAction) (*BulkResult, error) {
	path := "/api/bots/" + string(action)

	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.doWithRetry(ctx, http.MethodPost, path, []byte("{}"))
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", action, err)
	}

	var resp bulkResponse
	if err := json.Unmarshal(out.([]byte), &resp); err != nil {
		return nil, fmt.Errorf("unmarshal %s response: %w", action, err)
	}

	result := &BulkResult{Action: action, Results: resp.Results}
	for _, n := range []*int{resp.Started, resp.Stopped, resp.Paused, resp.Resumed} {
		if n != nil {
			result.Affected = *n
		}
	}
	if result.Results == nil {
		result.Results = map[string]bool{}
	}
	return result, nil
}

// StopAllBots asks the backend to stop every running bot.
func (c *Client) StopAllBots(ctx context.Context) (*BulkResult, error) {
	return c.Bulk(ctx, StopAll)
}

// StartAllBots asks the backend to start every stopped bot.
func (c *Client) StartAllBots(ctx context.Context) (*BulkResult, error) {
	return c.Bulk(ctx, StartAll)
}

// PauseAllBots asks the backend to pause every running bot.
func (c *Client) PauseAllBots(ctx context.Context) (*BulkResult, error) {
	return c.Bulk(ctx, PauseAll)
}

// ResumeAllBots asks the backend to resume every paused bot.
func (c *Client) ResumeAllBots(ctx context.Context) (*BulkResult, error) {
	return c.Bulk(ctx, ResumeAll)
}
