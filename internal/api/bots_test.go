package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
)

func TestBulkActions(t *testing.T) {
	tests := []struct {
		action BulkAction
		call   func(*Client, context.Context) (*BulkResult, error)
		body   string
	}{
		{StopAll, (*Client).StopAllBots, `{"results":{"b1":true,"b2":false},"stopped":1}`},
		{StartAll, (*Client).StartAllBots, `{"results":{"b1":true},"started":1}`},
		{PauseAll, (*Client).PauseAllBots, `{"results":{"b1":true,"b2":true},"paused":2}`},
		{ResumeAll, (*Client).ResumeAllBots, `{"results":{},"resumed":0}`},
	}

	for _, tt := range tests {
		t.Run(string(tt.action), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost {
					t.Errorf("method = %s, want POST", r.Method)
				}
				if r.URL.Path != "/api/bots/"+string(tt.action) {
					t.Errorf("path = %s, want /api/bots/%s", r.URL.Path, tt.action)
				}
				if r.Header.Get("Authorization") != "Bearer admin" {
					t.Errorf("missing admin bearer token")
				}
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			c := NewClient(server.URL, "admin")
			res, err := tt.call(c, context.Background())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if res.Action != tt.action {
				t.Errorf("Action = %q, want %q", res.Action, tt.action)
			}
			want := 0
			for _, ok := range res.Results {
				if ok {
					want++
				}
			}
			if res.Affected != want {
				t.Errorf("Affected = %d, want %d", res.Affected, want)
			}
		})
	}
}

func TestBulkForbiddenDoesNotTripBreaker(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	c := NewClient(server.URL, "not-admin", WithRetries(0, time.Millisecond), WithBreaker(2, time.Minute))
	for i := 0; i < 5; i++ {
		_, err := c.StopAllBots(context.Background())
		var apiErr *APIError
		if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusForbidden {
			t.Fatalf("StopAllBots() = %v, want 403", err)
		}
	}
	if attempts != 5 {
		t.Errorf("attempts = %d, want 5", attempts)
	}
	if c.BreakerState() != "closed" {
		t.Errorf("BreakerState() = %q, want closed", c.BreakerState())
	}
}

func TestBulkBreakerFailsFast(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c := NewClient(server.URL, "admin", WithRetries(0, time.Millisecond), WithBreaker(2, time.Minute))
	for i := 0; i < 2; i++ {
		if _, err := c.StopAllBots(context.Background()); err == nil {
			t.Fatal("expected error")
		}
	}
	if c.BreakerState() != "open" {
		t.Fatalf("BreakerState() = %q, want open", c.BreakerState())
	}

	_, err := c.StopAllBots(context.Background())
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("error = %v, want ErrOpenState", err)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2 (open breaker must not reach the server)", attempts)
	}
}

func TestBulkMalformedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>`))
	}))
	defer server.Close()

	c := NewClient(server.URL, "admin")
	if _, err := c.StopAllBots(context.Background()); err == nil {
		t.Error("expected unmarshal error")
	}
}

func TestParseBulkAction(t *testing.T) {
	for _, a := range BulkActions {
		got, err := ParseBulkAction(string(a))
		if err != nil || got != a {
			t.Errorf("ParseBulkAction(%q) = %q, %v", a, got, err)
		}
	}
	if _, err := ParseBulkAction("delete-all"); err == nil {
		t.Error("expected error for unknown action")
	}
}
