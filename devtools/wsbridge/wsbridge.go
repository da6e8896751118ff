// Package wsbridge connects stores to a remote debugger over a websocket.
//
// The wire format is one JSON text frame per message. The store sends
// START on connect, INIT with its initial snapshot and ACTION after every
// dispatch. The debugger sends devtools.Message frames back; they are
// queued by a reader goroutine and delivered on the goroutine that calls
// Deliver or Run, since stores are single-threaded.
package wsbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/roach88/lemonstate/devtools"
)

// Frame types sent to the debugger.
const (
	FrameStart  = "START"
	FrameInit   = "INIT"
	FrameAction = "ACTION"
)

// ErrClosed is returned by Run once the connection is gone and every
// queued message was delivered.
var ErrClosed = errors.New("wsbridge: connection closed")

// Frame is an outbound message.
type Frame struct {
	Type       string             `json:"type"`
	Name       string             `json:"name,omitempty"`
	InstanceID string             `json:"instanceId"`
	Action     string             `json:"action,omitempty"`
	State      json.RawMessage    `json:"state,omitempty"`
	Features   *devtools.Features `json:"features,omitempty"`
}

// Connector dials a debugger for every store that connects.
type Connector struct {
	url          string
	dialer       *websocket.Dialer
	header       http.Header
	logger       *slog.Logger
	writeTimeout time.Duration
}

// Option configures a Connector.
type Option func(*Connector)

// WithDialer replaces websocket.DefaultDialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Connector) {
		c.dialer = d
	}
}

// WithHeader sets request headers for the handshake.
func WithHeader(h http.Header) Option {
	return func(c *Connector) {
		c.header = h
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Connector) {
		c.logger = logger
	}
}

// WithWriteTimeout bounds each frame write. Default: 5s.
func WithWriteTimeout(d time.Duration) Option {
	return func(c *Connector) {
		c.writeTimeout = d
	}
}

// New creates a connector for the debugger at url (ws:// or wss://).
func New(url string, opts ...Option) *Connector {
	c := &Connector{
		url:          url,
		dialer:       websocket.DefaultDialer,
		logger:       slog.Default(),
		writeTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect implements devtools.Connector.
func (c *Connector) Connect(opts devtools.ConnectOptions) (devtools.Bridge, error) {
	s, err := c.Dial(context.Background(), opts)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Dial opens a session and announces the store with a START frame.
func (c *Connector) Dial(ctx context.Context, opts devtools.ConnectOptions) (*Session, error) {
	conn, _, err := c.dialer.DialContext(ctx, c.url, c.header)
	if err != nil {
		return nil, fmt.Errorf("dial devtools %s: %w", c.url, err)
	}
	s := &Session{
		conn:         conn,
		name:         opts.Name,
		instanceID:   uuid.Must(uuid.NewV7()).String(),
		inbox:        devtools.NewInbox(),
		done:         make(chan struct{}),
		writeTimeout: c.writeTimeout,
		logger:       c.logger.With("store", opts.Name),
	}
	features := opts.Features
	if err := s.write(Frame{Type: FrameStart, Features: &features}); err != nil {
		conn.Close()
		return nil, err
	}
	go s.readLoop()
	return s, nil
}

// Session is one store's websocket connection. It implements
// devtools.Bridge.
//
// Thread-safety: writes are serialized, so Init and Send may be called
// from any goroutine. Handlers run only inside Deliver or Run.
type Session struct {
	conn         *websocket.Conn
	name         string
	instanceID   string
	writeTimeout time.Duration
	logger       *slog.Logger

	writeMu sync.Mutex

	mu       sync.Mutex
	handlers []devtools.Handler

	inbox     *devtools.Inbox
	done      chan struct{}
	closeOnce sync.Once
}

// InstanceID identifies this session to the debugger.
func (s *Session) InstanceID() string {
	return s.instanceID
}

// Init implements devtools.Bridge.
func (s *Session) Init(state []byte) error {
	return s.write(Frame{Type: FrameInit, State: json.RawMessage(state)})
}

// Send implements devtools.Bridge.
func (s *Session) Send(action string, state []byte) error {
	return s.write(Frame{Type: FrameAction, Action: action, State: json.RawMessage(state)})
}

// Subscribe implements devtools.Bridge.
func (s *Session) Subscribe(h devtools.Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, h)
}

// Pending returns the number of received messages not yet delivered.
func (s *Session) Pending() int {
	return s.inbox.Len()
}

// Deliver hands every queued message to the subscribed handlers.
// Call it on the goroutine that owns the store.
func (s *Session) Deliver() int {
	return s.inbox.Drain(s.dispatch)
}

// Run delivers messages as they arrive until ctx is done or the
// connection closes.
func (s *Session) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.inbox.Wait():
			s.Deliver()
			if s.inbox.Closed() {
				s.Deliver()
				return ErrClosed
			}
		}
	}
}

// Done is closed when the reader stops.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Close sends a close frame and tears the connection down.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(s.writeTimeout))
		s.writeMu.Unlock()
		err = s.conn.Close()
		<-s.done
	})
	return err
}

func (s *Session) dispatch(msg devtools.Message) {
	s.mu.Lock()
	handlers := append([]devtools.Handler(nil), s.handlers...)
	s.mu.Unlock()
	for _, h := range handlers {
		h(msg)
	}
}

func (s *Session) write(f Frame) error {
	f.Name = s.name
	f.InstanceID = s.instanceID
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode %s frame: %w", f.Type, err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.writeTimeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write %s frame: %w", f.Type, err)
	}
	return nil
}

func (s *Session) readLoop() {
	defer close(s.done)
	defer s.inbox.Close()
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("devtools connection ended", "error", err)
			}
			return
		}
		var msg devtools.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Warn("devtools frame rejected", "error", err)
			continue
		}
		s.inbox.Push(msg)
	}
}
