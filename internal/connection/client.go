package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// closeGrace bounds how long a locally closed socket waits for the
// peer's close frame before dropping the TCP connection.
const closeGrace = 2 * time.Second

// Handlers receive socket events. They are invoked on the Poster's
// goroutine, never concurrently.
type Handlers struct {
	OnOpen    func()
	OnClose   func(code int, reason string)
	OnError   func(err error)
	OnMessage func(data []byte)
}

// Socket is a single transport connection attempt. Dial returns it in
// the connecting state; OnOpen or OnClose follows. OnClose is always
// delivered exactly once unless the socket was detached.
type Socket interface {
	// ReadyState returns the current transport state.
	ReadyState() ReadyState

	// Send writes one text frame. Returns ErrNotConnected unless open.
	Send(data []byte) error

	// Close starts a close handshake with the given code.
	Close(code int, reason string) error

	// Detach drops all handlers. No event is delivered afterwards.
	Detach()
}

// Dialer opens sockets.
type Dialer interface {
	// Dial starts connecting to url without blocking. An error means
	// the socket could not be constructed at all.
	Dial(url string, h Handlers) (Socket, error)
}

// Poster queues a function onto the owning goroutine.
type Poster interface {
	Post(fn func()) bool
}

// WSDialer dials gorilla websocket connections and delivers their events
// through a Poster.
type WSDialer struct {
	poster Poster
	logger *slog.Logger

	// Header is sent with every handshake.
	Header http.Header

	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
}

// NewWSDialer creates a dialer that posts socket events to poster.
func NewWSDialer(poster Poster, header http.Header, logger *slog.Logger) *WSDialer {
	if logger == nil {
		logger = slog.Default()
	}
	if header == nil {
		header = http.Header{}
	}
	return &WSDialer{
		poster:           poster,
		logger:           logger,
		Header:           header,
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
	}
}

// Dial validates rawURL and starts the handshake in the background.
func (d *WSDialer) Dial(rawURL string, h Handlers) (Socket, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDialFailed, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrDialFailed, u.Scheme)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &wsSocket{
		url:    rawURL,
		poster: d.poster,
		logger: d.logger,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: d.HandshakeTimeout,
		},
		header:       d.Header.Clone(),
		writeTimeout: d.WriteTimeout,
		handlers:     h,
		cancel:       cancel,
	}
	s.state.Store(int32(StateConnecting))

	go s.run(ctx)

	return s, nil
}

// wsSocket implements Socket over a gorilla websocket connection.
type wsSocket struct {
	url          string
	poster       Poster
	logger       *slog.Logger
	dialer       *websocket.Dialer
	header       http.Header
	writeTimeout time.Duration
	cancel       context.CancelFunc

	state atomic.Int32

	mu          sync.Mutex
	handlers    Handlers
	detached    bool
	conn        *websocket.Conn
	localCode   int // non-zero once Close was called
	localReason string

	// Write serialization
	writeMu sync.Mutex
}

func (s *wsSocket) ReadyState() ReadyState {
	return ReadyState(s.state.Load())
}

func (s *wsSocket) Send(data []byte) error {
	if s.ReadyState() != StateOpen {
		return ErrNotConnected
	}
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (s *wsSocket) Close(code int, reason string) error {
	s.mu.Lock()
	if s.localCode != 0 || s.ReadyState() == StateClosed {
		s.mu.Unlock()
		return ErrAlreadyClosed
	}
	s.localCode = code
	s.localReason = reason
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		// Still dialing; run reports the close once the dial unwinds.
		s.cancel()
		return nil
	}

	s.state.Store(int32(StateClosing))
	err := conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(time.Second),
	)
	if err != nil {
		conn.Close()
		return fmt.Errorf("write close frame: %w", err)
	}
	// readLoop exits on the peer's close frame or this deadline.
	conn.SetReadDeadline(time.Now().Add(closeGrace))
	return nil
}

func (s *wsSocket) Detach() {
	s.mu.Lock()
	s.detached = true
	s.handlers = Handlers{}
	s.mu.Unlock()
}

// run dials and then reads until the connection ends.
func (s *wsSocket) run(ctx context.Context) {
	defer s.cancel()

	conn, _, err := s.dialer.DialContext(ctx, s.url, s.header)
	if err != nil {
		code, reason, local := s.closeCause(CloseAbnormal, err.Error())
		s.state.Store(int32(StateClosed))
		if !local {
			s.dispatch(func(h Handlers) {
				if h.OnError != nil {
					h.OnError(err)
				}
			})
		}
		s.dispatchClose(code, reason)
		return
	}

	s.mu.Lock()
	if s.localCode != 0 {
		// Closed while the handshake was completing.
		code, reason := s.localCode, s.localReason
		s.mu.Unlock()
		conn.Close()
		s.state.Store(int32(StateClosed))
		s.dispatchClose(code, reason)
		return
	}
	s.conn = conn
	s.state.Store(int32(StateOpen))
	s.mu.Unlock()

	s.logger.Debug("websocket connected", "url", s.url)
	s.dispatch(func(h Handlers) {
		if h.OnOpen != nil {
			h.OnOpen()
		}
	})

	s.readLoop(conn)
}

// readLoop forwards frames until a read fails.
func (s *wsSocket) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			code, reason := CloseAbnormal, err.Error()
			var ce *websocket.CloseError
			isClose := errors.As(err, &ce)
			if isClose {
				code, reason = ce.Code, ce.Text
			}
			code, reason, local := s.closeCause(code, reason)
			conn.Close()
			s.state.Store(int32(StateClosed))
			if !isClose && !local {
				s.dispatch(func(h Handlers) {
					if h.OnError != nil {
						h.OnError(err)
					}
				})
			}
			s.dispatchClose(code, reason)
			return
		}

		s.dispatch(func(h Handlers) {
			if h.OnMessage != nil {
				h.OnMessage(data)
			}
		})
	}
}

// closeCause prefers a locally requested close code over what the
// transport observed.
func (s *wsSocket) closeCause(code int, reason string) (int, string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.localCode != 0 {
		return s.localCode, s.localReason, true
	}
	return code, reason, false
}

func (s *wsSocket) dispatchClose(code int, reason string) {
	s.dispatch(func(h Handlers) {
		if h.OnClose != nil {
			h.OnClose(code, reason)
		}
	})
}

// dispatch posts fn with the handlers current at execution time, so a
// Detach that runs first suppresses it.
func (s *wsSocket) dispatch(fn func(h Handlers)) {
	s.poster.Post(func() {
		s.mu.Lock()
		h, detached := s.handlers, s.detached
		s.mu.Unlock()
		if detached {
			return
		}
		fn(h)
	})
}
