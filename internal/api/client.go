package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
)

// DefaultRetryBackoff is the base wait between retries.
const DefaultRetryBackoff = time.Second

// Client provides access to the dashboard REST API.
type Client struct {
	baseURL    string
	token      string
	clientID   string
	userAgent  string
	httpClient *http.Client
	logger     *slog.Logger

	maxRetries   int
	retryBackoff time.Duration

	breakerSettings gobreaker.Settings
	breaker         *gobreaker.CircuitBreaker
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient creates a new REST API client. token is the admin bearer
// token used for bot control routes and may be empty.
func NewClient(baseURL, token string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger:       slog.Default(),
		maxRetries:   3,
		retryBackoff: DefaultRetryBackoff,
		breakerSettings: gobreaker.Settings{
			Name:     "bot-control",
			Interval: time.Minute,
			Timeout:  30 * time.Second,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	st := c.breakerSettings
	if st.ReadyToTrip == nil {
		st.ReadyToTrip = func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		}
	}
	// Client errors mean the backend is up; only transport and 5xx failures trip.
	st.IsSuccessful = func(err error) bool {
		return err == nil || !isTransient(err)
	}
	logger := c.logger
	st.OnStateChange = func(name string, from, to gobreaker.State) {
		logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
	}
	c.breaker = gobreaker.NewCircuitBreaker(st)

	return c
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithRetries sets the retry configuration for bot control calls.
func WithRetries(max int, backoff time.Duration) ClientOption {
	return func(c *Client) {
		c.maxRetries = max
		c.retryBackoff = backoff
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithClientID sets the X-Client-ID header sent on every request.
func WithClientID(id string) ClientOption {
	return func(c *Client) {
		c.clientID = id
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// WithBreaker sets how many consecutive transient failures open the
// breaker and how long it stays open.
func WithBreaker(failures uint32, openFor time.Duration) ClientOption {
	return func(c *Client) {
		c.breakerSettings.Timeout = openFor
		c.breakerSettings.ReadyToTrip = func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		}
	}
}

// BreakerState reports the bot control breaker state.
func (c *Client) BreakerState() string {
	return c.breaker.State().String()
}
