package store

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sacenox/ion/internal/provider"
)

const (
	SQLiteBusyMaxRetries    = 10
	SQLiteBusyBackoffStepMs = 50
	SQLiteBusyMaxBackoff    = time.Second

	// maxInputHistory caps LoadInputHistory's result, oldest entries
	// falling off first.
	maxInputHistory = 1000
)

// Session represents a conversation session.
type Session struct {
	ID         string
	WorkingDir string
	Model      string
	Created    time.Time
	Updated    time.Time
}

// SessionMessage is a persisted chat message.
type SessionMessage struct {
	Role         string
	Content      string
	Reasoning    string
	ToolCalls    json.RawMessage // JSON array
	ToolCallID   string
	FunctionName string
	CreatedAt    time.Time
	InputTokens  int
	OutputTokens int
}

// ErrSessionNotFound is returned by Load when no session exists for the id.
var ErrSessionNotFound = fmt.Errorf("session not found")

// Save upserts a session's row, stamps updated, and transactionally
// rewrites its full message history. A session with no user message among
// msgs is never written, so abandoned/empty sessions don't clutter
// listings.
func (c *Cache) Save(sess Session, msgs []SessionMessage) error {
	if c == nil {
		return nil
	}
	if !hasUserMessage(msgs) {
		return nil
	}

	var err error
	for attempt := 0; attempt <= SQLiteBusyMaxRetries; attempt++ {
		err = c.saveOnce(sess, msgs)
		if err == nil {
			return nil
		}
		if !IsSQLiteBusy(err) || attempt == SQLiteBusyMaxRetries {
			return err
		}
		time.Sleep(busyBackoff(attempt))
	}
	return err
}

func hasUserMessage(msgs []SessionMessage) bool {
	for _, m := range msgs {
		if m.Role == "user" {
			return true
		}
	}
	return false
}

func busyBackoff(attempt int) time.Duration {
	d := time.Duration((attempt+1)*SQLiteBusyBackoffStepMs) * time.Millisecond
	if d > SQLiteBusyMaxBackoff {
		return SQLiteBusyMaxBackoff
	}
	return d
}

func (c *Cache) saveOnce(sess Session, msgs []SessionMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.Begin()
	if err != nil {
		return err
	}
	rollback := func() {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Warn().Err(rbErr).Msg("failed to rollback session save")
		}
	}

	now := time.Now().Unix()
	created := now
	if !sess.Created.IsZero() {
		created = sess.Created.Unix()
	}
	if _, err := tx.Exec(
		`INSERT INTO sessions (id, working_dir, model, created, updated) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET working_dir = excluded.working_dir, model = excluded.model, updated = excluded.updated`,
		sess.ID, sess.WorkingDir, sess.Model, created, now,
	); err != nil {
		rollback()
		return err
	}

	if _, err := tx.Exec("DELETE FROM messages WHERE session_id = ?", sess.ID); err != nil {
		rollback()
		return err
	}

	for _, msg := range msgs {
		tc := msg.ToolCalls
		if tc == nil {
			tc = json.RawMessage("[]")
		}
		createdAt := msg.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}
		if _, err := tx.Exec(
			`INSERT INTO messages (session_id, role, content, reasoning, tool_calls, tool_call_id, function_name, created, input_tokens, output_tokens)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sess.ID, msg.Role, msg.Content, msg.Reasoning, string(tc), msg.ToolCallID, msg.FunctionName,
			createdAt.Unix(), msg.InputTokens, msg.OutputTokens,
		); err != nil {
			rollback()
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		rollback()
		return err
	}
	return nil
}

// Load returns a session's row plus its full message history, or
// ErrSessionNotFound if no row exists for id.
func (c *Cache) Load(id string) (Session, []SessionMessage, error) {
	if c == nil {
		return Session{}, nil, ErrSessionNotFound
	}
	c.mu.Lock()
	var sess Session
	var created, updated int64
	err := c.db.QueryRow(
		"SELECT id, working_dir, model, created, updated FROM sessions WHERE id = ?", id,
	).Scan(&sess.ID, &sess.WorkingDir, &sess.Model, &created, &updated)
	c.mu.Unlock()
	if err != nil {
		return Session{}, nil, ErrSessionNotFound
	}
	sess.Created = time.Unix(created, 0)
	sess.Updated = time.Unix(updated, 0)

	msgs, err := c.LoadMessages(id)
	if err != nil {
		return Session{}, nil, err
	}
	return sess, msgs, nil
}

func IsSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// LoadMessages returns all messages for a session, ordered by insertion.
func (c *Cache) LoadMessages(sessionID string) ([]SessionMessage, error) {
	if c == nil {
		return nil, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	rows, err := c.db.Query(
		`SELECT role, content, reasoning, tool_calls, tool_call_id, function_name, created, input_tokens, output_tokens
		 FROM messages WHERE session_id = ? ORDER BY id`, sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []SessionMessage
	for rows.Next() {
		var m SessionMessage
		var tc string
		var created int64
		if err := rows.Scan(&m.Role, &m.Content, &m.Reasoning, &tc, &m.ToolCallID, &m.FunctionName, &created, &m.InputTokens, &m.OutputTokens); err != nil {
			continue
		}
		m.ToolCalls = json.RawMessage(tc)
		m.CreatedAt = time.Unix(created, 0)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// SessionSummary holds the fields session listings display.
type SessionSummary struct {
	ID               string
	UpdatedAt        time.Time
	WorkingDir       string
	Model            string
	FirstUserMessage string
}

// ListRecent returns the most recently updated sessions, newest first,
// capped at limit.
func (c *Cache) ListRecent(limit int) ([]SessionSummary, error) {
	return c.listRecent("", limit)
}

// ListRecentForDir is ListRecent filtered to an exact working-dir match.
func (c *Cache) ListRecentForDir(workingDir string, limit int) ([]SessionSummary, error) {
	return c.listRecent(workingDir, limit)
}

func (c *Cache) listRecent(workingDir string, limit int) ([]SessionSummary, error) {
	if c == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	query := `
		SELECT s.id, s.updated, s.working_dir, s.model,
		       COALESCE((SELECT m.content FROM messages m
		                 WHERE m.session_id = s.id AND m.role = 'user'
		                 ORDER BY m.id ASC LIMIT 1), '')
		FROM sessions s`
	args := []any{}
	if workingDir != "" {
		query += " WHERE s.working_dir = ?"
		args = append(args, workingDir)
	}
	query += " ORDER BY s.updated DESC LIMIT ?"
	args = append(args, limit)

	rows, err := c.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionSummary
	for rows.Next() {
		var s SessionSummary
		var updated int64
		if err := rows.Scan(&s.ID, &updated, &s.WorkingDir, &s.Model, &s.FirstUserMessage); err != nil {
			continue
		}
		s.UpdatedAt = time.Unix(updated, 0)
		out = append(out, s)
	}
	return out, rows.Err()
}

// LatestSessionID returns the most recently updated session's id.
func (c *Cache) LatestSessionID() (string, error) {
	if c == nil {
		return "", fmt.Errorf("no cache")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	var id string
	err := c.db.QueryRow("SELECT id FROM sessions ORDER BY updated DESC LIMIT 1").Scan(&id)
	if err != nil {
		return "", fmt.Errorf("no sessions found")
	}
	return id, nil
}

// SessionExists returns true if a session with the given ID exists.
func (c *Cache) SessionExists(id string) (bool, error) {
	if c == nil {
		return false, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	var count int
	err := c.db.QueryRow("SELECT COUNT(*) FROM sessions WHERE id = ?", id).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// AddInputHistory appends a submitted input line to the ring buffer,
// skipping it if it repeats the immediately preceding line.
func (c *Cache) AddInputHistory(line string) error {
	if c == nil || strings.TrimSpace(line) == "" {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	var last string
	err := c.db.QueryRow("SELECT line FROM input_history ORDER BY id DESC LIMIT 1").Scan(&last)
	if err == nil && last == line {
		return nil
	}

	_, err = c.db.Exec(
		"INSERT INTO input_history (line, created) VALUES (?, ?)",
		line, time.Now().Unix(),
	)
	return err
}

// LoadInputHistory returns up to the most recent maxInputHistory lines,
// oldest first.
func (c *Cache) LoadInputHistory() ([]string, error) {
	if c == nil {
		return nil, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	rows, err := c.db.Query(
		"SELECT line FROM (SELECT line, id FROM input_history ORDER BY id DESC LIMIT ?) ORDER BY id ASC",
		maxInputHistory,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			continue
		}
		out = append(out, line)
	}
	return out, rows.Err()
}

// ToProviderMessages converts stored messages to provider messages.
func ToProviderMessages(msgs []SessionMessage) []provider.Message {
	out := make([]provider.Message, 0, len(msgs))
	for _, m := range msgs {
		pm := provider.Message{
			Role:         m.Role,
			Content:      m.Content,
			Reasoning:    m.Reasoning,
			ToolCallID:   m.ToolCallID,
			FunctionName: m.FunctionName,
			CreatedAt:    m.CreatedAt,
			InputTokens:  m.InputTokens,
			OutputTokens: m.OutputTokens,
		}
		if len(m.ToolCalls) > 0 {
			var tcs []provider.ToolCall
			if err := json.Unmarshal(m.ToolCalls, &tcs); err == nil {
				pm.ToolCalls = tcs
			}
		}
		out = append(out, pm)
	}
	return out
}

// FromProviderMessages converts in-memory provider messages to the
// persisted shape Save expects.
func FromProviderMessages(msgs []provider.Message) []SessionMessage {
	out := make([]SessionMessage, 0, len(msgs))
	for _, m := range msgs {
		sm := SessionMessage{
			Role:         m.Role,
			Content:      m.Content,
			Reasoning:    m.Reasoning,
			ToolCallID:   m.ToolCallID,
			FunctionName: m.FunctionName,
			CreatedAt:    m.CreatedAt,
			InputTokens:  m.InputTokens,
			OutputTokens: m.OutputTokens,
		}
		if len(m.ToolCalls) > 0 {
			if b, err := json.Marshal(m.ToolCalls); err == nil {
				sm.ToolCalls = b
			}
		}
		out = append(out, sm)
	}
	return out
}
