package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/roach88/lemonstate/devtools"
	"github.com/roach88/lemonstate/internal/snapshot"
)

// Entry kinds.
const (
	KindInit   = "init"
	KindAction = "action"
)

// ErrNoEntry is returned by Jump and Entry when no entry matches.
var ErrNoEntry = errors.New("journal: no such entry")

// Connect implements devtools.Connector. Each call opens a new session.
func (j *Journal) Connect(opts devtools.ConnectOptions) (devtools.Bridge, error) {
	s, err := j.OpenSession(context.Background(), opts)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// OpenSession starts a session for the store described by opts.
func (j *Journal) OpenSession(ctx context.Context, opts devtools.ConnectOptions) (*Session, error) {
	s := &Session{journal: j, id: j.ids.Generate(), name: opts.Name}
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO sessions (id, name, jump, opened_seq)
		VALUES (?, ?, ?, ?)
	`, s.id, opts.Name, opts.Features.Jump, j.clock.Next())
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	j.logger.Debug("journal session opened", "session", s.id, "store", opts.Name)
	return s, nil
}

// Session records one store's devtools traffic. It implements
// devtools.Bridge; Jump plays a recorded snapshot back to the store.
type Session struct {
	journal *Journal
	id      string
	name    string

	mu       sync.Mutex
	handlers []devtools.Handler
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// Init implements devtools.Bridge. The snapshot is recorded under
// devtools.InitAction.
func (s *Session) Init(state []byte) error {
	_, err := s.record(context.Background(), KindInit, devtools.InitAction, state)
	return err
}

// Send implements devtools.Bridge.
func (s *Session) Send(action string, state []byte) error {
	_, err := s.record(context.Background(), KindAction, action, state)
	return err
}

// Subscribe implements devtools.Bridge.
func (s *Session) Subscribe(h devtools.Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, h)
}

// Jump replays the snapshot recorded at seq as a DISPATCH message.
// Handlers run on the caller's goroutine.
func (s *Session) Jump(ctx context.Context, seq int64) error {
	e, err := s.journal.Entry(ctx, seq)
	if err != nil {
		return err
	}
	if e.SessionID != s.id {
		return fmt.Errorf("jump to %d: %w", seq, ErrNoEntry)
	}

	s.mu.Lock()
	handlers := append([]devtools.Handler(nil), s.handlers...)
	s.mu.Unlock()

	msg := devtools.Message{Type: devtools.TypeDispatch, State: e.State}
	for _, h := range handlers {
		h(msg)
	}
	return nil
}

func (s *Session) record(ctx context.Context, kind, action string, state []byte) (int64, error) {
	decoded, err := snapshot.Decode(state)
	if err != nil {
		return 0, fmt.Errorf("record %s: %w", action, err)
	}
	canonical, err := snapshot.Marshal(decoded)
	if err != nil {
		return 0, fmt.Errorf("record %s: %w", action, err)
	}

	seq := s.journal.clock.Next()
	_, err = s.journal.db.ExecContext(ctx, `
		INSERT INTO entries (seq, session_id, kind, action, state, state_hash)
		VALUES (?, ?, ?, ?, ?, ?)
	`, seq, s.id, kind, action, string(canonical), snapshot.Hash(canonical))
	if err != nil {
		return 0, fmt.Errorf("record %s: %w", action, err)
	}
	return seq, nil
}

// SessionInfo summarizes a recorded session.
type SessionInfo struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Jump      bool   `json:"jump"`
	OpenedSeq int64  `json:"opened_seq"`
	Entries   int    `json:"entries"`
	LastSeq   int64  `json:"last_seq"`
}

// Entry is one recorded snapshot.
type Entry struct {
	Seq       int64  `json:"seq"`
	SessionID string `json:"session_id"`
	Kind      string `json:"kind"`
	Action    string `json:"action"`
	State     string `json:"state"`
	StateHash string `json:"state_hash"`
}

// Sessions lists every session in the order they were opened.
// Returns an empty slice (not nil) if there are none.
func (j *Journal) Sessions(ctx context.Context) ([]SessionInfo, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT s.id, s.name, s.jump, s.opened_seq, COUNT(e.seq), COALESCE(MAX(e.seq), 0)
		FROM sessions s
		LEFT JOIN entries e ON e.session_id = s.id
		GROUP BY s.id
		ORDER BY s.opened_seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	out := []SessionInfo{}
	for rows.Next() {
		var info SessionInfo
		if err := rows.Scan(&info.ID, &info.Name, &info.Jump, &info.OpenedSeq, &info.Entries, &info.LastSeq); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return out, nil
}

// Entries returns a session's entries ordered by seq.
// Returns an empty slice (not nil) if there are none.
func (j *Journal) Entries(ctx context.Context, sessionID string) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT seq, session_id, kind, action, state, state_hash
		FROM entries
		WHERE session_id = ?
		ORDER BY seq ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	out := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return out, nil
}

// Entry returns the entry recorded at seq.
func (j *Journal) Entry(ctx context.Context, seq int64) (Entry, error) {
	row := j.db.QueryRowContext(ctx, `
		SELECT seq, session_id, kind, action, state, state_hash
		FROM entries
		WHERE seq = ?
	`, seq)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, fmt.Errorf("entry %d: %w", seq, ErrNoEntry)
	}
	return e, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (Entry, error) {
	var e Entry
	if err := row.Scan(&e.Seq, &e.SessionID, &e.Kind, &e.Action, &e.State, &e.StateHash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, err
		}
		return Entry{}, fmt.Errorf("scan entry: %w", err)
	}
	return e, nil
}
