package journal

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lemonstate/devtools"
	"github.com/roach88/lemonstate/internal/snapshot"
	"github.com/roach88/lemonstate/internal/testutil"
	"github.com/roach88/lemonstate/lemon"
)

func openTestJournal(t *testing.T, path string, opts ...Option) *Journal {
	t.Helper()
	if path == "" {
		path = filepath.Join(t.TempDir(), "journal.db")
	}
	j, err := Open(path, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func deterministic() []Option {
	return []Option{
		WithClock(testutil.NewDeterministicClock()),
		WithIDGenerator(testutil.NewSequenceGenerator("")),
	}
}

func increment(ctx lemon.ActionContext, _ any) (any, error) {
	n, err := lemon.Get[int](ctx.GetState(), "count")
	return map[string]any{"count": n + 1}, err
}

// newCounter connects a counter store to j and returns the session it opened.
func newCounter(t *testing.T, j *Journal) (*lemon.ActionStore, *Session) {
	t.Helper()
	var session *Session
	connector := devtools.ConnectorFunc(func(opts devtools.ConnectOptions) (devtools.Bridge, error) {
		s, err := j.OpenSession(context.Background(), opts)
		if err != nil {
			return nil, err
		}
		session = s
		return s, nil
	})
	store, err := lemon.NewActionStore(map[string]any{
		"count": 0,
		"double": lemon.Computed(func(v *lemon.View) (any, error) {
			n, err := lemon.Get[int](v, "count")
			return n * 2, err
		}),
	}, map[string]lemon.Action{"increment": increment},
		lemon.WithEngine(lemon.NewEngine()),
		lemon.WithName("counter"),
		lemon.WithDevtools(connector),
	)
	require.NoError(t, err)
	require.NotNil(t, session)
	return store, session
}

// ============================================================================
// Open
// ============================================================================

func TestOpen_Pragmas(t *testing.T) {
	j := openTestJournal(t, "")
	assert.NoError(t, j.verifyPragma("journal_mode", "wal"))
	assert.NoError(t, j.verifyPragma("foreign_keys", "1"))
	assert.NoError(t, j.verifyPragma("user_version", "1"))
}

func TestOpen_ReopenResumesClock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	j, err := Open(path)
	require.NoError(t, err)
	s, err := j.OpenSession(context.Background(), devtools.ConnectOptions{Name: "a"})
	require.NoError(t, err)
	require.NoError(t, s.Init([]byte(`{"n":1}`)))
	require.NoError(t, s.Send("bump", []byte(`{"n":2}`)))
	require.NoError(t, j.Close())

	j2 := openTestJournal(t, path)
	s2, err := j2.OpenSession(context.Background(), devtools.ConnectOptions{Name: "b"})
	require.NoError(t, err)
	require.NoError(t, s2.Init([]byte(`{}`)))

	sessions, err := j2.Sessions(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, int64(1), sessions[0].OpenedSeq)
	assert.Equal(t, int64(3), sessions[0].LastSeq)
	assert.Equal(t, int64(4), sessions[1].OpenedSeq)
	assert.Equal(t, int64(5), sessions[1].LastSeq)
}

// ============================================================================
// Recording and replay
// ============================================================================

func TestJournal_RecordsActionStore(t *testing.T) {
	ctx := context.Background()
	j := openTestJournal(t, "", deterministic()...)
	store, _ := newCounter(t, j)

	_, err := store.Call("increment", nil)
	require.NoError(t, err)
	_, err = store.Call("increment", nil)
	require.NoError(t, err)

	sessions, err := j.Sessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []SessionInfo{{
		ID: "session-1", Name: "counter", Jump: true, OpenedSeq: 1, Entries: 3, LastSeq: 4,
	}}, sessions)

	entries, err := j.Entries(ctx, "session-1")
	require.NoError(t, err)
	require.Len(t, entries, 3)

	want := []struct {
		seq    int64
		kind   string
		action string
		state  string
	}{
		{2, KindInit, devtools.InitAction, `{"count":0,"double":0}`},
		{3, KindAction, "increment", `{"count":1,"double":2}`},
		{4, KindAction, "increment", `{"count":2,"double":4}`},
	}
	for i, w := range want {
		assert.Equal(t, w.seq, entries[i].Seq)
		assert.Equal(t, w.kind, entries[i].Kind)
		assert.Equal(t, w.action, entries[i].Action)
		assert.Equal(t, w.state, entries[i].State)
		assert.Equal(t, snapshot.Hash([]byte(w.state)), entries[i].StateHash)
	}
}

func TestSession_JumpRestoresState(t *testing.T) {
	ctx := context.Background()
	j := openTestJournal(t, "", deterministic()...)
	store, session := newCounter(t, j)

	for i := 0; i < 3; i++ {
		_, err := store.Call("increment", nil)
		require.NoError(t, err)
	}

	require.NoError(t, session.Jump(ctx, 3))
	n, err := lemon.Get[int](store.State(), "count")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	d, err := lemon.Get[int](store.State(), "double")
	require.NoError(t, err)
	assert.Equal(t, 2, d)

	entries, err := j.Entries(ctx, session.ID())
	require.NoError(t, err)
	assert.Len(t, entries, 4, "a jump is not recorded")
}

func TestSession_JumpErrors(t *testing.T) {
	ctx := context.Background()
	j := openTestJournal(t, "", deterministic()...)

	a, err := j.OpenSession(ctx, devtools.ConnectOptions{Name: "a"})
	require.NoError(t, err)
	b, err := j.OpenSession(ctx, devtools.ConnectOptions{Name: "b"})
	require.NoError(t, err)
	require.NoError(t, a.Init([]byte(`{"n":1}`)))

	assert.ErrorIs(t, a.Jump(ctx, 99), ErrNoEntry)
	assert.ErrorIs(t, b.Jump(ctx, 3), ErrNoEntry, "entries of other sessions are not reachable")

	_, err = j.Entry(ctx, 42)
	assert.ErrorIs(t, err, ErrNoEntry)
}

func TestSession_RecordCanonicalizes(t *testing.T) {
	ctx := context.Background()
	j := openTestJournal(t, "", deterministic()...)
	s, err := j.OpenSession(ctx, devtools.ConnectOptions{Name: "a"})
	require.NoError(t, err)

	require.NoError(t, s.Send("edit", []byte(`{"b": 1, "a": "é"}`)))

	entries, err := j.Entries(ctx, s.ID())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "{\"a\":\"é\",\"b\":1}", entries[0].State)
}

func TestSession_RecordRejectsNonObject(t *testing.T) {
	ctx := context.Background()
	j := openTestJournal(t, "", deterministic()...)
	s, err := j.OpenSession(ctx, devtools.ConnectOptions{Name: "a"})
	require.NoError(t, err)

	err = s.Init([]byte(`[1,2]`))
	assert.ErrorIs(t, err, snapshot.ErrNotObject)

	entries, err := j.Entries(ctx, s.ID())
	require.NoError(t, err)
	assert.NotNil(t, entries)
	assert.Empty(t, entries)
}

func TestJournal_ConnectImplementsConnector(t *testing.T) {
	var c devtools.Connector = openTestJournal(t, "", deterministic()...)
	bridge, err := c.Connect(devtools.ConnectOptions{Name: "x"})
	require.NoError(t, err)
	s, ok := bridge.(*Session)
	require.True(t, ok)
	assert.Equal(t, "session-1", s.ID())
}
