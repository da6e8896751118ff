package devtools

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInbox_FIFO(t *testing.T) {
	q := NewInbox()
	require.True(t, q.Push(Message{Type: TypeDispatch, State: `{"a":1}`}))
	require.True(t, q.Push(Message{Type: TypeDispatch, State: `{"a":2}`}))
	assert.Equal(t, 2, q.Len())

	var got []string
	n := q.Drain(func(m Message) { got = append(got, m.State) })

	assert.Equal(t, 2, n)
	assert.Equal(t, []string{`{"a":1}`, `{"a":2}`}, got)
	assert.Equal(t, 0, q.Len())
}

func TestInbox_SignalCoalesces(t *testing.T) {
	q := NewInbox()
	q.Push(Message{Type: "A"})
	q.Push(Message{Type: "B"})

	select {
	case <-q.Wait():
	default:
		t.Fatal("expected a pending signal")
	}
	select {
	case <-q.Wait():
		t.Fatal("signals should coalesce into one")
	default:
	}
}

func TestInbox_Close(t *testing.T) {
	q := NewInbox()
	q.Push(Message{Type: "A"})
	q.Close()
	q.Close()

	assert.True(t, q.Closed())
	assert.False(t, q.Push(Message{Type: "B"}))

	msg, ok := q.TryPop()
	require.True(t, ok, "queued messages survive Close")
	assert.Equal(t, "A", msg.Type)

	_, open := <-q.Wait()
	assert.False(t, open)
}

func TestInbox_ConcurrentPush(t *testing.T) {
	q := NewInbox()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				q.Push(Message{Type: TypeDispatch})
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 800, q.Drain(func(Message) {}))
}

func TestConnectorFunc(t *testing.T) {
	var got ConnectOptions
	c := ConnectorFunc(func(opts ConnectOptions) (Bridge, error) {
		got = opts
		return nil, nil
	})
	_, err := c.Connect(ConnectOptions{Name: "todo", Features: Features{Jump: true}})
	require.NoError(t, err)
	assert.Equal(t, "todo", got.Name)
	assert.True(t, got.Features.Jump)
}
