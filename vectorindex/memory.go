package vectorindex

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Memory is a brute-force cosine similarity index kept in process memory.
// It is the default backend for small deployments and tests.
type Memory struct {
	mu        sync.RWMutex
	dimension int
	ids       []string
	vectors   [][]float32
	payloads  []Payload
	positions map[string]int
}

func NewMemory(dimension int) *Memory {
	return &Memory{
		dimension: dimension,
		positions: make(map[string]int),
	}
}

func (m *Memory) Upsert(_ context.Context, entries []Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, entry := range entries {
		if entry.ID == "" {
			return fmt.Errorf("entry has empty id")
		}
		if m.dimension > 0 && len(entry.Vector) != m.dimension {
			return fmt.Errorf("vector dimension mismatch: expected %d, got %d", m.dimension, len(entry.Vector))
		}

		if pos, ok := m.positions[entry.ID]; ok {
			m.vectors[pos] = entry.Vector
			m.payloads[pos] = entry.Payload
			continue
		}

		m.positions[entry.ID] = len(m.ids)
		m.ids = append(m.ids, entry.ID)
		m.vectors = append(m.vectors, entry.Vector)
		m.payloads = append(m.payloads, entry.Payload)
	}
	return nil
}

func (m *Memory) Search(_ context.Context, vector []float32, k int, threshold float64) ([]Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if k <= 0 {
		k = 5
	}

	matches := make([]Match, 0, len(m.vectors))
	for i := range m.vectors {
		score := dot(m.vectors[i], vector)
		if score < threshold {
			continue
		}
		matches = append(matches, Match{Payload: m.payloads[i], Score: score})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})

	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

func (m *Memory) DeleteBy(_ context.Context, key, value string) error {
	if key != FilterDocID && key != FilterSource {
		return fmt.Errorf("unsupported filter key: %s", key)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ids := m.ids[:0]
	vectors := m.vectors[:0]
	payloads := m.payloads[:0]
	positions := make(map[string]int)

	for i := range m.payloads {
		if payloadField(m.payloads[i], key) == value {
			continue
		}
		positions[m.ids[i]] = len(ids)
		ids = append(ids, m.ids[i])
		vectors = append(vectors, m.vectors[i])
		payloads = append(payloads, m.payloads[i])
	}

	m.ids = ids
	m.vectors = vectors
	m.payloads = payloads
	m.positions = positions
	return nil
}

func (m *Memory) Count(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.ids), nil
}

func payloadField(p Payload, key string) string {
	switch key {
	case FilterDocID:
		return p.DocID
	case FilterSource:
		return p.Source
	}
	return ""
}

// Vectors are unit-normalized upstream, so the dot product is the cosine
// similarity.
func dot(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	sum := 0.0
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

var _ Index = (*Memory)(nil)
