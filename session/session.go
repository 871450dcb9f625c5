// Package session keeps per-session conversation history: bounded storage,
// merging of externally supplied history with server-side history, and
// de-duplication of repeated turns.
package session

import (
	"sync"

	"github.com/davitran/crypto-rag/llm"
)

// DefaultMaxTurns is the retention window for a session's history.
const DefaultMaxTurns = 5

// Turn is one (user, assistant) exchange. Assistant may be empty when the
// external history ends on an unanswered user message.
type Turn struct {
	User      string
	Assistant string
}

// Store holds conversation history keyed by session id. Sessions come into
// existence on first reference; expiry is the caller's concern.
type Store interface {
	History(sessionID string) []Turn
	Append(sessionID, userMsg, aiMsg string)
	Clear(sessionID string)
}

// Memory is the in-process Store used by single-instance deployments.
type Memory struct {
	mu       sync.Mutex
	maxTurns int
	sessions map[string][]Turn
}

func NewMemory(maxTurns int) *Memory {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	return &Memory{
		maxTurns: maxTurns,
		sessions: make(map[string][]Turn),
	}
}

func (m *Memory) History(sessionID string) []Turn {
	m.mu.Lock()
	defer m.mu.Unlock()

	history := m.sessions[sessionID]
	out := make([]Turn, len(history))
	copy(out, history)
	return out
}

func (m *Memory) Append(sessionID, userMsg, aiMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	history := append(m.sessions[sessionID], Turn{User: userMsg, Assistant: aiMsg})
	if len(history) > m.maxTurns {
		history = history[len(history)-m.maxTurns:]
	}
	m.sessions[sessionID] = history
}

func (m *Memory) Clear(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
}

var _ Store = (*Memory)(nil)

// Regroup pairs each user message in a flat role-tagged list with the
// immediately following assistant message, if any.
func Regroup(messages []llm.Message) []Turn {
	var turns []Turn
	for i := 0; i < len(messages); i++ {
		if messages[i].Role != llm.RoleUser {
			continue
		}
		turn := Turn{User: messages[i].Content}
		if i+1 < len(messages) && messages[i+1].Role == llm.RoleAssistant {
			turn.Assistant = messages[i+1].Content
		}
		turns = append(turns, turn)
	}
	return turns
}

// Merge concatenates server history with regrouped external history,
// dropping turns whose exact (user, assistant) pair was already seen. The
// result keeps only the most recent maxTurns turns.
func Merge(server []Turn, external []llm.Message, maxTurns int) []Turn {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}

	var merged []Turn
	seen := make(map[Turn]struct{})

	add := func(turns []Turn) {
		for _, turn := range turns {
			if turn.User == "" {
				continue
			}
			if _, ok := seen[turn]; ok {
				continue
			}
			seen[turn] = struct{}{}
			merged = append(merged, turn)
		}
	}

	add(server)
	add(Regroup(external))

	if len(merged) > maxTurns {
		merged = merged[len(merged)-maxTurns:]
	}
	return merged
}
