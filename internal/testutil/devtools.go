package testutil

import (
	"sync"

	"github.com/roach88/lemonstate/devtools"
)

// Sent is one action recorded by FakeBridge.
type Sent struct {
	Action string
	State  string
}

// FakeBridge is an in-memory devtools.Bridge that records traffic and lets
// tests push messages to the subscribed store.
//
// Thread-safety: recording methods are safe for concurrent use; Emit runs
// handlers on the caller's goroutine.
type FakeBridge struct {
	Opts devtools.ConnectOptions

	// InitErr and SendErr are returned by Init and Send when set.
	InitErr error
	SendErr error

	mu       sync.Mutex
	inits    []string
	sent     []Sent
	handlers []devtools.Handler
}

// Init implements devtools.Bridge.
func (b *FakeBridge) Init(state []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inits = append(b.inits, string(state))
	return b.InitErr
}

// Subscribe implements devtools.Bridge.
func (b *FakeBridge) Subscribe(h devtools.Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Send implements devtools.Bridge.
func (b *FakeBridge) Send(action string, state []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, Sent{Action: action, State: string(state)})
	return b.SendErr
}

// Inits returns the snapshots passed to Init.
func (b *FakeBridge) Inits() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.inits...)
}

// Sent returns the recorded actions in order.
func (b *FakeBridge) Sent() []Sent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Sent(nil), b.sent...)
}

// Emit delivers msg to every subscribed handler.
func (b *FakeBridge) Emit(msg devtools.Message) {
	b.mu.Lock()
	handlers := append([]devtools.Handler(nil), b.handlers...)
	b.mu.Unlock()
	for _, h := range handlers {
		h(msg)
	}
}

// Jump emits a DISPATCH message carrying state.
func (b *FakeBridge) Jump(state string) {
	b.Emit(devtools.Message{Type: devtools.TypeDispatch, State: state})
}

// FakeConnector hands out FakeBridges and remembers them.
type FakeConnector struct {
	// Err fails every Connect when set.
	Err error

	mu      sync.Mutex
	bridges []*FakeBridge
}

// Connect implements devtools.Connector.
func (c *FakeConnector) Connect(opts devtools.ConnectOptions) (devtools.Bridge, error) {
	if c.Err != nil {
		return nil, c.Err
	}
	b := &FakeBridge{Opts: opts}
	c.mu.Lock()
	c.bridges = append(c.bridges, b)
	c.mu.Unlock()
	return b, nil
}

// Bridges returns every bridge handed out, oldest first.
func (c *FakeConnector) Bridges() []*FakeBridge {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*FakeBridge(nil), c.bridges...)
}

// Last returns the most recent bridge or nil.
func (c *FakeConnector) Last() *FakeBridge {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.bridges) == 0 {
		return nil
	}
	return c.bridges[len(c.bridges)-1]
}
