// Package contextstore persists per-channel conversation history in
// SQLite and compacts it via LLM summarization when the window grows
// past the configured threshold.
package contextstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/shannonlabs/shannon/internal/providers"
)

const schema = `
CREATE TABLE IF NOT EXISTS messages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    platform TEXT NOT NULL,
    channel TEXT NOT NULL,
    user_id TEXT NOT NULL DEFAULT '',
    role TEXT NOT NULL,
    content TEXT NOT NULL,
    token_estimate INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_lookup
    ON messages (platform, channel, id);
`

const summarizePrompt = "Summarize the following conversation history concisely. " +
	"Preserve key facts, decisions, and context that would be needed to continue the conversation. " +
	"Keep the summary under 500 words."

// minMessagesForSummary is the floor below which summarization is a no-op.
const minMessagesForSummary = 4

// Store is the SQLite-backed conversation log. Safe for concurrent use;
// summarization is serialized per (platform, channel).
type Store struct {
	db          *sql.DB
	maxMessages int
	locks       sync.Map // "platform:channel" -> *sync.Mutex
}

// Open creates or opens the context database at path.
func Open(path string, maxMessages int) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("contextstore: create data dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("contextstore: open db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("contextstore: enable wal: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("contextstore: init schema: %w", err)
	}
	if maxMessages <= 0 {
		maxMessages = 50
	}
	return &Store{db: db, maxMessages: maxMessages}, nil
}

// Close releases the database.
func (s *Store) Close() error { return s.db.Close() }

// Append records one turn. tokenEstimate comes from the provider's
// CountTokens so the summarization trigger sees provider-consistent
// numbers.
func (s *Store) Append(platform, channel, userID, role, content string, tokenEstimate int) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.Exec(`
		INSERT INTO messages (platform, channel, user_id, role, content, token_estimate, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		platform, channel, userID, role, content, tokenEstimate, now)
	if err != nil {
		return fmt.Errorf("contextstore: append: %w", err)
	}
	return nil
}

// Recent returns the newest maxMessages turns for a channel, oldest
// first, as provider messages. Summary rows (role "system") surface as
// user turns since they sit mid-conversation.
func (s *Store) Recent(platform, channel string) ([]providers.Message, error) {
	rows, err := s.db.Query(`
		SELECT role, content FROM (
			SELECT id, role, content FROM messages
			WHERE platform = ? AND channel = ?
			ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC`,
		platform, channel, s.maxMessages)
	if err != nil {
		return nil, fmt.Errorf("contextstore: recent: %w", err)
	}
	defer rows.Close()

	var out []providers.Message
	for rows.Next() {
		var role, content string
		if err := rows.Scan(&role, &content); err != nil {
			return nil, fmt.Errorf("contextstore: scan: %w", err)
		}
		if role == "system" {
			role = "user"
		}
		out = append(out, providers.Message{Role: role, Content: content})
	}
	return out, rows.Err()
}

// TotalTokens sums the stored token estimates for a channel.
func (s *Store) TotalTokens(platform, channel string) (int, error) {
	var total int
	err := s.db.QueryRow(`
		SELECT COALESCE(SUM(token_estimate), 0) FROM messages
		WHERE platform = ? AND channel = ?`,
		platform, channel).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("contextstore: total tokens: %w", err)
	}
	return total, nil
}

// Forget clears a channel's history. Returns the number of rows removed.
func (s *Store) Forget(platform, channel string) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM messages WHERE platform = ? AND channel = ?`, platform, channel)
	if err != nil {
		return 0, fmt.Errorf("contextstore: forget: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Stats reports message count and total content size for a channel.
func (s *Store) Stats(platform, channel string) (count int, chars int64, err error) {
	err = s.db.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(LENGTH(content)), 0) FROM messages
		WHERE platform = ? AND channel = ?`,
		platform, channel).Scan(&count, &chars)
	if err != nil {
		err = fmt.Errorf("contextstore: stats: %w", err)
	}
	return
}

func (s *Store) channelLock(platform, channel string) *sync.Mutex {
	v, _ := s.locks.LoadOrStore(platform+":"+channel, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// Summarize replaces the oldest half of a channel's non-summary turns
// with one LLM-written summary row at the same position, returning the
// summary text. At most one summarization runs per channel; a
// concurrent call returns "" immediately. Channels with fewer than
// four turns are left alone.
func (s *Store) Summarize(ctx context.Context, platform, channel string, llm providers.Provider) (string, error) {
	lock := s.channelLock(platform, channel)
	if !lock.TryLock() {
		slog.Debug("summarization already running", "platform", platform, "channel", channel)
		return "", nil
	}
	defer lock.Unlock()

	rows, err := s.db.Query(`
		SELECT id, role, content FROM messages
		WHERE platform = ? AND channel = ? AND role != 'system'
		ORDER BY id ASC`,
		platform, channel)
	if err != nil {
		return "", fmt.Errorf("contextstore: summarize select: %w", err)
	}
	type turn struct {
		id      int64
		role    string
		content string
	}
	var turns []turn
	for rows.Next() {
		var tr turn
		if err := rows.Scan(&tr.id, &tr.role, &tr.content); err != nil {
			rows.Close()
			return "", fmt.Errorf("contextstore: summarize scan: %w", err)
		}
		turns = append(turns, tr)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return "", err
	}
	if len(turns) < minMessagesForSummary {
		return "", nil
	}

	old := turns[:len(turns)/2]
	var b strings.Builder
	for _, tr := range old {
		fmt.Fprintf(&b, "%s: %s\n", tr.role, tr.content)
	}

	resp, err := llm.Complete(ctx, providers.ChatRequest{
		Messages: []providers.Message{
			{Role: "user", Content: summarizePrompt + "\n\n" + b.String()},
		},
		MaxTokens:   1024,
		Temperature: 0.3,
	})
	if err != nil {
		return "", fmt.Errorf("contextstore: summarize llm call: %w", err)
	}

	summary := fmt.Sprintf("[Previous conversation summary: %s]", resp.Content)
	tx, err := s.db.Begin()
	if err != nil {
		return "", fmt.Errorf("contextstore: summarize tx: %w", err)
	}
	defer tx.Rollback()

	for _, tr := range old {
		if _, err := tx.Exec(`DELETE FROM messages WHERE id = ?`, tr.id); err != nil {
			return "", fmt.Errorf("contextstore: summarize delete: %w", err)
		}
	}
	// Reuse the smallest deleted id so the summary keeps its position.
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := tx.Exec(`
		INSERT INTO messages (id, platform, channel, user_id, role, content, token_estimate, created_at)
		VALUES (?, ?, ?, ?, 'system', ?, ?, ?)`,
		old[0].id, platform, channel, "", summary, llm.CountTokens(summary), now); err != nil {
		return "", fmt.Errorf("contextstore: summarize insert: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("contextstore: summarize commit: %w", err)
	}

	slog.Info("context summarized",
		"platform", platform, "channel", channel,
		"replaced", len(old), "summary_chars", len(summary))
	return resp.Content, nil
}
