// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package comm

import (
	"bytes"
	"context"
	"fmt"
	"sync"
)

func init() {
	registerTransport(TransportMemory, createMemory, resolveMemory)
}

// memoryHub holds the in-session queues of the memory transport.
type memoryHub struct {
	mu     sync.Mutex
	queues map[string]*memQueue
}

func (h *memoryHub) add(addr string, q *memQueue) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.queues == nil {
		h.queues = make(map[string]*memQueue)
	}
	h.queues[addr] = q
}

func (h *memoryHub) get(addr string) (*memQueue, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	q, ok := h.queues[addr]
	return q, ok
}

func (h *memoryHub) remove(addr string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.queues, addr)
}

// size returns the number of queues alive in the hub.
func (h *memoryHub) size() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.queues)
}

type memQueue struct {
	mu       sync.Mutex
	frames   [][]byte
	capacity int
	removed  bool
}

type memStore struct {
	hub  *memoryHub
	addr string
	q    *memQueue
}

func createMemory(s *Session, o *options) (Transport, error) {
	var addr string
	for {
		addr = fmt.Sprintf("mem://%d", s.nextSeq())
		if s.reserve(TransportMemory, addr) {
			break
		}
	}
	q := &memQueue{capacity: s.cfg.Memory.Capacity}
	s.memory.add(addr, q)
	store := &memStore{hub: &s.memory, addr: addr, q: q}
	return newQueueTransport(s, o, addr, s.cfg.Memory.MaxMsgSize, store), nil
}

func resolveMemory(s *Session, o *options) (Transport, error) {
	q, ok := s.memory.get(o.address)
	if !ok {
		return nil, fmt.Errorf("%w: no memory queue %q", ErrMissingAddress, o.address)
	}
	store := &memStore{hub: &s.memory, addr: o.address, q: q}
	return newQueueTransport(s, o, o.address, s.cfg.Memory.MaxMsgSize, store), nil
}

func (m *memStore) put(_ context.Context, frame []byte) error {
	q := m.q
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.removed {
		return fmt.Errorf("%w: memory queue %s removed", ErrClosed, m.addr)
	}
	if q.capacity > 0 && len(q.frames) >= q.capacity {
		return transient("memory queue %s full", m.addr)
	}
	q.frames = append(q.frames, bytes.Clone(frame))
	return nil
}

func (m *memStore) take(_ context.Context, _ int) ([]byte, error) {
	q := m.q
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.frames) == 0 {
		if q.removed {
			return nil, fmt.Errorf("%w: memory queue %s removed", ErrClosed, m.addr)
		}
		return nil, transient("memory queue %s empty", m.addr)
	}
	frame := q.frames[0]
	q.frames[0] = nil
	q.frames = q.frames[1:]
	return frame, nil
}

func (m *memStore) count(context.Context) (int, error) {
	m.q.mu.Lock()
	defer m.q.mu.Unlock()
	return len(m.q.frames), nil
}

func (m *memStore) release(remove bool) error {
	if !remove {
		return nil
	}
	m.hub.remove(m.addr)
	m.q.mu.Lock()
	m.q.removed = true
	m.q.frames = nil
	m.q.mu.Unlock()
	return nil
}
