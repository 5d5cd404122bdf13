package contextstore

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/shannonlabs/shannon/internal/providers"
)

type stubLLM struct {
	mu       sync.Mutex
	calls    int
	response string
}

func (s *stubLLM) Complete(_ context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return &providers.ChatResponse{Content: s.response, FinishReason: "stop"}, nil
}

func (s *stubLLM) Stream(ctx context.Context, req providers.ChatRequest, _ func(providers.StreamChunk)) (*providers.ChatResponse, error) {
	return s.Complete(ctx, req)
}
func (s *stubLLM) CountTokens(text string) int { return len(text) / 4 }
func (s *stubLLM) ContextWindow() int          { return 100000 }
func (s *stubLLM) Name() string                { return "stub" }
func (s *stubLLM) Close() error                { return nil }

func openStore(t *testing.T, maxMessages int) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "context.db"), maxMessages)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenEnablesWAL(t *testing.T) {
	s := openStore(t, 50)
	var mode string
	if err := s.db.QueryRow(`PRAGMA journal_mode`).Scan(&mode); err != nil {
		t.Fatal(err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want wal", mode)
	}
}

func TestAppendAndRecent(t *testing.T) {
	s := openStore(t, 50)
	s.Append("discord", "42", "u1", "user", "hello", 2)
	s.Append("discord", "42", "", "assistant", "hi there", 3)
	s.Append("discord", "other", "u1", "user", "elsewhere", 2)

	msgs, err := s.Recent("discord", "42")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want 2", len(msgs))
	}
	if msgs[0].Role != "user" || msgs[0].Content != "hello" {
		t.Errorf("first = %+v (oldest first)", msgs[0])
	}
	if msgs[1].Role != "assistant" {
		t.Errorf("second = %+v", msgs[1])
	}
}

func TestRecentWindowLimit(t *testing.T) {
	s := openStore(t, 3)
	for i := 0; i < 5; i++ {
		s.Append("discord", "42", "u", "user", fmt.Sprintf("msg-%d", i), 1)
	}
	msgs, err := s.Recent("discord", "42")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 3 {
		t.Fatalf("messages = %d, want 3", len(msgs))
	}
	if msgs[0].Content != "msg-2" || msgs[2].Content != "msg-4" {
		t.Errorf("window = %+v, want newest 3 oldest-first", msgs)
	}
}

func TestTotalTokensAndStats(t *testing.T) {
	s := openStore(t, 50)
	s.Append("discord", "42", "u", "user", "abcd", 10)
	s.Append("discord", "42", "", "assistant", "efgh", 15)

	total, err := s.TotalTokens("discord", "42")
	if err != nil || total != 25 {
		t.Errorf("TotalTokens = %d, %v", total, err)
	}

	count, chars, err := s.Stats("discord", "42")
	if err != nil || count != 2 || chars != 8 {
		t.Errorf("Stats = %d, %d, %v", count, chars, err)
	}
}

func TestForget(t *testing.T) {
	s := openStore(t, 50)
	s.Append("discord", "42", "u", "user", "a", 1)
	s.Append("discord", "42", "u", "user", "b", 1)
	s.Append("signal", "42", "u", "user", "keep", 1)

	n, err := s.Forget("discord", "42")
	if err != nil || n != 2 {
		t.Fatalf("Forget = %d, %v", n, err)
	}
	msgs, _ := s.Recent("signal", "42")
	if len(msgs) != 1 {
		t.Error("other platform history was removed")
	}
}

func TestSummarizeReplacesOldestHalf(t *testing.T) {
	s := openStore(t, 50)
	for i := 0; i < 6; i++ {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		s.Append("discord", "42", "u", role, fmt.Sprintf("turn-%d", i), 5)
	}

	llm := &stubLLM{response: "they discussed turns 0 through 2"}
	summary, err := s.Summarize(context.Background(), "discord", "42", llm)
	if err != nil {
		t.Fatal(err)
	}
	if summary != "they discussed turns 0 through 2" {
		t.Fatalf("summary = %q", summary)
	}

	msgs, _ := s.Recent("discord", "42")
	// 6 turns -> oldest 3 replaced by 1 summary + 3 kept.
	if len(msgs) != 4 {
		t.Fatalf("messages = %d, want 4", len(msgs))
	}
	if !strings.HasPrefix(msgs[0].Content, "[Previous conversation summary:") {
		t.Errorf("first message = %q, want summary first", msgs[0].Content)
	}
	if msgs[0].Role != "user" {
		t.Errorf("summary role surfaces as %q, want user", msgs[0].Role)
	}
	if msgs[1].Content != "turn-3" {
		t.Errorf("second message = %q", msgs[1].Content)
	}
}

func TestSummarizeNoopWhenShort(t *testing.T) {
	s := openStore(t, 50)
	s.Append("discord", "42", "u", "user", "a", 1)
	s.Append("discord", "42", "u", "assistant", "b", 1)
	s.Append("discord", "42", "u", "user", "c", 1)

	llm := &stubLLM{response: "x"}
	summary, err := s.Summarize(context.Background(), "discord", "42", llm)
	if err != nil {
		t.Fatal(err)
	}
	if summary != "" {
		t.Error("summarized fewer than 4 messages")
	}
	if llm.calls != 0 {
		t.Error("LLM was called for a no-op")
	}
}

func TestSummarizeSkipsSummaryRows(t *testing.T) {
	s := openStore(t, 50)
	for i := 0; i < 6; i++ {
		s.Append("discord", "42", "u", "user", fmt.Sprintf("t%d", i), 1)
	}
	llm := &stubLLM{response: "first summary"}
	if _, err := s.Summarize(context.Background(), "discord", "42", llm); err != nil {
		t.Fatal(err)
	}

	// Only 3 non-summary rows remain: next summarize is a no-op.
	summary, err := s.Summarize(context.Background(), "discord", "42", llm)
	if err != nil {
		t.Fatal(err)
	}
	if summary != "" {
		t.Error("summary row was counted toward the threshold")
	}
}
