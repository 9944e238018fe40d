package network

import (
	"context"
	"sync"

	"github.com/WessleyAI/sewernet/engine/domain"
)

// Memory is a Store backed by a slice, used by tests and the inline HTTP API.
type Memory struct {
	mu      sync.RWMutex
	net     domain.Network
	byID    map[string]int
	updates int
}

// NewMemory stores a copy of net.
func NewMemory(net domain.Network) *Memory {
	m := &Memory{net: net.Clone(), byID: make(map[string]int, len(net.Segments))}
	for i, s := range m.net.Segments {
		m.byID[s.ID] = i
	}
	return m
}

func (m *Memory) Load(_ context.Context) (domain.Network, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.net.Clone(), nil
}

func (m *Memory) UpdateSegment(_ context.Context, s domain.PipeSegment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.byID[s.ID]
	if !ok {
		return ErrNotFound
	}
	m.net.Segments[i] = s.Clone()
	m.updates++
	return nil
}

// Updates is the number of segment writes accepted so far.
func (m *Memory) Updates() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.updates
}
