// Package session binds an identity to a durable conversation history and
// sends prompts through a completer with that history as context.
//
// Turns for one identity are serialized: a prompt is sent only after the
// previous prompt's completion has been recorded, so later prompts always
// see earlier answers in order.
package session

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/insight-cli/internal/agent"
	"github.com/sells-group/insight-cli/internal/model"
	"github.com/sells-group/insight-cli/internal/store"
)

// ErrEmptyIdentity is returned by Open for a blank identity.
var ErrEmptyIdentity = eris.New("session: identity is empty")

const migration = `
CREATE TABLE IF NOT EXISTS conversation_turns (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	identity   TEXT NOT NULL,
	role       TEXT NOT NULL,
	content    TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_conversation_turns_identity ON conversation_turns(identity, id);
`

// Manager opens conversations over one history database.
type Manager struct {
	db        *sql.DB
	completer agent.Completer
	system    string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewManager creates a Manager over db. Call Migrate before first use.
func NewManager(db *sql.DB, completer agent.Completer, system string) *Manager {
	return &Manager{
		db:        db,
		completer: completer,
		system:    system,
		locks:     make(map[string]*sync.Mutex),
	}
}

// OpenManager opens the SQLite history database at path and migrates it.
func OpenManager(ctx context.Context, path string, completer agent.Completer, system string) (*Manager, error) {
	db, err := store.OpenSQLite(path)
	if err != nil {
		return nil, eris.Wrap(err, "session: open history")
	}
	m := NewManager(db, completer, system)
	if err := m.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return m, nil
}

// Migrate creates the history table.
func (m *Manager) Migrate(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, migration)
	return eris.Wrap(err, "session: migrate")
}

// Close closes the history database.
func (m *Manager) Close() error {
	return m.db.Close()
}

// Open returns the conversation for identity, creating it on first use.
func (m *Manager) Open(ctx context.Context, identity string) (*Conversation, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return nil, ErrEmptyIdentity
	}
	var n int
	err := m.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM conversation_turns WHERE identity = ?`, identity,
	).Scan(&n)
	if err != nil {
		return nil, eris.Wrapf(err, "session: open %s", identity)
	}
	zap.L().Info("session: opened", zap.String("identity", identity), zap.Int("turns", n))
	return &Conversation{m: m, identity: identity}, nil
}

// History returns the turns recorded for identity, oldest first.
func (m *Manager) History(ctx context.Context, identity string) ([]model.Turn, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT role, content, created_at FROM conversation_turns WHERE identity = ? ORDER BY id`,
		identity,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "session: history %s", identity)
	}
	defer rows.Close() //nolint:errcheck

	var turns []model.Turn
	for rows.Next() {
		var t model.Turn
		if err := rows.Scan(&t.Role, &t.Content, &t.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "session: scan turn")
		}
		turns = append(turns, t)
	}
	return turns, eris.Wrap(rows.Err(), "session: history iterate")
}

// Reset deletes the history for identity.
func (m *Manager) Reset(ctx context.Context, identity string) error {
	lock := m.lock(identity)
	lock.Lock()
	defer lock.Unlock()

	_, err := m.db.ExecContext(ctx, `DELETE FROM conversation_turns WHERE identity = ?`, identity)
	return eris.Wrapf(err, "session: reset %s", identity)
}

func (m *Manager) lock(identity string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[identity]
	if !ok {
		l = &sync.Mutex{}
		m.locks[identity] = l
	}
	return l
}

func (m *Manager) append(ctx context.Context, identity string, turns ...model.Turn) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "session: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, t := range turns {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO conversation_turns (identity, role, content, created_at) VALUES (?, ?, ?, ?)`,
			identity, string(t.Role), t.Content, t.CreatedAt,
		); err != nil {
			return eris.Wrap(err, "session: insert turn")
		}
	}
	return eris.Wrap(tx.Commit(), "session: commit")
}

// Conversation is a handle on one identity's history.
type Conversation struct {
	m        *Manager
	identity string
}

// Identity returns the identity the conversation is bound to.
func (c *Conversation) Identity() string { return c.identity }

// Send completes prompt with the recorded history as context and records
// both the prompt and the answer. A failed completion records nothing.
func (c *Conversation) Send(ctx context.Context, prompt string, tools bool) (*agent.Response, error) {
	lock := c.m.lock(c.identity)
	lock.Lock()
	defer lock.Unlock()

	history, err := c.m.History(ctx, c.identity)
	if err != nil {
		return nil, err
	}

	asked := time.Now().UTC()
	resp, err := c.m.completer.Complete(ctx, agent.Request{
		History: history,
		System:  c.m.system,
		Prompt:  prompt,
		Tools:   tools,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "session: send %s", c.identity)
	}

	if err := c.m.append(ctx, c.identity,
		model.Turn{Role: model.RoleUser, Content: prompt, CreatedAt: asked},
		model.Turn{Role: model.RoleAssistant, Content: resp.Text, CreatedAt: time.Now().UTC()},
	); err != nil {
		return nil, err
	}

	zap.L().Debug("session: turn recorded",
		zap.String("identity", c.identity),
		zap.Int("history", len(history)+2),
		zap.Int("tool_calls", resp.ToolCalls),
	)
	return resp, nil
}
