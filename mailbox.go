// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package comm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"time"
)

// mailbox is the bounded frame FIFO hosted by the creating end of a json
// or grpc comm. The partner reaches it through the host's server.
type mailbox struct {
	mu       sync.Mutex
	frames   [][]byte
	capacity int
	closed   bool
}

func newMailbox(capacity int) *mailbox {
	return &mailbox{capacity: capacity}
}

func (m *mailbox) put(frame []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrClosed
	}
	if m.capacity > 0 && len(m.frames) >= m.capacity {
		return false, nil
	}
	m.frames = append(m.frames, bytes.Clone(frame))
	return true, nil
}

func (m *mailbox) take() ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.frames) == 0 {
		if m.closed {
			return nil, false, ErrClosed
		}
		return nil, false, nil
	}
	frame := m.frames[0]
	m.frames[0] = nil
	m.frames = m.frames[1:]
	return frame, true, nil
}

func (m *mailbox) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.frames)
}

func (m *mailbox) close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
}

// hostedMailbox is the slotStore of the end that hosts the mailbox.
type hostedMailbox struct {
	box    *mailbox
	addr   string
	server io.Closer
	linger time.Duration
	poll   time.Duration
}

func (h *hostedMailbox) put(_ context.Context, frame []byte) error {
	ok, err := h.box.put(frame)
	if err != nil {
		return err
	}
	if !ok {
		return transient("mailbox %s full", h.addr)
	}
	return nil
}

func (h *hostedMailbox) take(context.Context, int) ([]byte, error) {
	frame, ok, err := h.box.take()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, transient("mailbox %s empty", h.addr)
	}
	return frame, nil
}

func (h *hostedMailbox) count(context.Context) (int, error) {
	return h.box.count(), nil
}

// release stops the server. A sending host first waits, up to linger, for
// the partner to drain what it has not read yet.
func (h *hostedMailbox) release(remove bool) error {
	if !remove {
		deadline := time.Now().Add(h.linger)
		for h.box.count() > 0 && time.Now().Before(deadline) {
			time.Sleep(h.poll)
		}
		if n := h.box.count(); n > 0 {
			log.Printf("[COMM] mailbox %s closed with %d unread frames", h.addr, n)
		}
	}
	h.box.close()
	return h.server.Close()
}

// mailboxClient reaches a mailbox hosted by another process.
type mailboxClient interface {
	put(ctx context.Context, frame []byte) (bool, error)
	take(ctx context.Context) ([]byte, bool, error)
	count(ctx context.Context) (int, error)
	close() error
}

// remoteMailbox is the slotStore of the end that attached to a mailbox.
type remoteMailbox struct {
	client mailboxClient
	addr   string
}

func (r *remoteMailbox) put(ctx context.Context, frame []byte) error {
	ok, err := r.client.put(ctx, frame)
	if err != nil {
		return fmt.Errorf("mailbox %s put: %w", r.addr, err)
	}
	if !ok {
		return transient("mailbox %s full", r.addr)
	}
	return nil
}

func (r *remoteMailbox) take(ctx context.Context, _ int) ([]byte, error) {
	frame, ok, err := r.client.take(ctx)
	if err != nil {
		return nil, fmt.Errorf("mailbox %s take: %w", r.addr, err)
	}
	if !ok {
		return nil, transient("mailbox %s empty", r.addr)
	}
	return frame, nil
}

func (r *remoteMailbox) count(ctx context.Context) (int, error) {
	n, err := r.client.count(ctx)
	if err != nil {
		return 0, fmt.Errorf("mailbox %s count: %w", r.addr, err)
	}
	return n, nil
}

func (r *remoteMailbox) release(bool) error {
	return r.client.close()
}

func newHostedMailbox(s *Session, o *options, box *mailbox, addr string, server io.Closer) Transport {
	store := &hostedMailbox{
		box:    box,
		addr:   addr,
		server: server,
		linger: s.cfg.Mailbox.Linger,
		poll:   10 * time.Millisecond,
	}
	return newQueueTransport(s, o, addr, s.cfg.Mailbox.MaxMsgSize, store)
}

func newRemoteMailbox(s *Session, o *options, client mailboxClient) Transport {
	store := &remoteMailbox{client: client, addr: o.address}
	return newQueueTransport(s, o, o.address, s.cfg.Mailbox.MaxMsgSize, store)
}
