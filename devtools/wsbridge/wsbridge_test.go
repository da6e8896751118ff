package wsbridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lemonstate/devtools"
	"github.com/roach88/lemonstate/lemon"
)

// debugger is a fake remote debugger: it records frames the store sends
// and writes whatever is queued on out.
type debugger struct {
	url    string
	frames chan Frame
	out    chan string
}

func newDebugger(t *testing.T) *debugger {
	t.Helper()
	d := &debugger{
		frames: make(chan Frame, 16),
		out:    make(chan string, 16),
	}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		stop := make(chan struct{})
		defer close(stop)
		go func() {
			for {
				select {
				case <-stop:
					return
				case msg := <-d.out:
					if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
						return
					}
				}
			}
		}()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var f Frame
			if json.Unmarshal(data, &f) == nil {
				d.frames <- f
			}
		}
	}))
	t.Cleanup(srv.Close)
	d.url = "ws" + strings.TrimPrefix(srv.URL, "http")
	return d
}

func (d *debugger) next(t *testing.T) Frame {
	t.Helper()
	select {
	case f := <-d.frames:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return Frame{}
	}
}

func dial(t *testing.T, d *debugger, name string) *Session {
	t.Helper()
	s, err := New(d.url).Dial(context.Background(), devtools.ConnectOptions{
		Name:     name,
		Features: devtools.Features{Jump: true},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// ============================================================================
// Session
// ============================================================================

func TestSession_Handshake(t *testing.T) {
	d := newDebugger(t)
	s := dial(t, d, "counter")

	start := d.next(t)
	assert.Equal(t, FrameStart, start.Type)
	assert.Equal(t, "counter", start.Name)
	assert.Equal(t, s.InstanceID(), start.InstanceID)
	require.NotNil(t, start.Features)
	assert.True(t, start.Features.Jump)

	require.NoError(t, s.Init([]byte(`{"n":0}`)))
	require.NoError(t, s.Send("inc", []byte(`{"n":1}`)))

	init := d.next(t)
	assert.Equal(t, FrameInit, init.Type)
	assert.JSONEq(t, `{"n":0}`, string(init.State))

	action := d.next(t)
	assert.Equal(t, FrameAction, action.Type)
	assert.Equal(t, "inc", action.Action)
	assert.JSONEq(t, `{"n":1}`, string(action.State))
	assert.Equal(t, s.InstanceID(), action.InstanceID)
}

func TestSession_DeliverRunsOnCaller(t *testing.T) {
	d := newDebugger(t)
	s := dial(t, d, "counter")
	d.next(t)

	var got []devtools.Message
	s.Subscribe(func(m devtools.Message) { got = append(got, m) })

	d.out <- "not json"
	d.out <- `{"type":"DISPATCH","state":"{\"n\":3}"}`

	require.Eventually(t, func() bool { return s.Pending() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, got, "nothing is delivered before Deliver")

	assert.Equal(t, 1, s.Deliver())
	assert.Equal(t, []devtools.Message{{Type: devtools.TypeDispatch, State: `{"n":3}`}}, got)
	assert.Equal(t, 0, s.Deliver())
}

func TestSession_RunStopsOnContext(t *testing.T) {
	d := newDebugger(t)
	s := dial(t, d, "counter")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Run(ctx), context.Canceled)
}

func TestSession_RunStopsOnClose(t *testing.T) {
	d := newDebugger(t)
	s := dial(t, d, "counter")

	errc := make(chan error, 1)
	go func() { errc <- s.Run(context.Background()) }()

	require.NoError(t, s.Close())
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Close")
	}
	assert.NoError(t, s.Close(), "second close is a no-op")
}

func TestConnector_DialFailure(t *testing.T) {
	bridge, err := New("ws://127.0.0.1:1/devtools").Connect(devtools.ConnectOptions{Name: "x"})
	require.Error(t, err)
	assert.Nil(t, bridge)
}

// ============================================================================
// Store integration
// ============================================================================

func TestActionStoreOverWebsocket(t *testing.T) {
	d := newDebugger(t)
	c := New(d.url)

	var session *Session
	connector := devtools.ConnectorFunc(func(opts devtools.ConnectOptions) (devtools.Bridge, error) {
		s, err := c.Dial(context.Background(), opts)
		if err != nil {
			return nil, err
		}
		session = s
		return s, nil
	})

	store, err := lemon.NewActionStore(
		map[string]any{"count": 0},
		map[string]lemon.Action{
			"increment": func(ctx lemon.ActionContext, _ any) (any, error) {
				n, err := lemon.Get[int](ctx.GetState(), "count")
				return map[string]any{"count": n + 1}, err
			},
		},
		lemon.WithEngine(lemon.NewEngine()),
		lemon.WithName("counter"),
		lemon.WithDevtools(connector),
	)
	require.NoError(t, err)
	require.NotNil(t, session)
	t.Cleanup(func() { _ = session.Close() })

	assert.Equal(t, FrameStart, d.next(t).Type)
	init := d.next(t)
	assert.Equal(t, FrameInit, init.Type)
	assert.Equal(t, `{"count":0}`, string(init.State))

	_, err = store.Call("increment", nil)
	require.NoError(t, err)
	action := d.next(t)
	assert.Equal(t, "increment", action.Action)
	assert.Equal(t, `{"count":1}`, string(action.State))

	d.out <- `{"type":"DISPATCH","state":"{\"count\":5}"}`
	require.Eventually(t, func() bool { return session.Pending() == 1 }, 2*time.Second, 5*time.Millisecond)
	session.Deliver()

	n, err := lemon.Get[int](store.State(), "count")
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}
