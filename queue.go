// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package comm

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"sync/atomic"
)

// slotStore is a bounded FIFO of frames shared by the two ends of a queue.
// put and take return transient errors when the store is full or empty.
type slotStore interface {
	put(ctx context.Context, frame []byte) error
	take(ctx context.Context, max int) ([]byte, error)
	count(ctx context.Context) (int, error)

	// release drops this end's handle; remove also destroys the queue
	release(remove bool) error
}

// queueTransport adapts a slotStore to Transport. The receiving end owns
// the queue and removes it on close, so a sender may close before its
// frames are read.
type queueTransport struct {
	addr   string
	max    int
	store  slotStore
	remove bool
	retry  retrier
	closed atomic.Bool
}

func newQueueTransport(s *Session, o *options, addr string, max int, store slotStore) *queueTransport {
	if o.maxMsgSize > 0 {
		max = o.maxMsgSize
	}
	q := &queueTransport{
		addr:   addr,
		max:    max,
		store:  store,
		remove: o.dir == DirRecv,
	}
	q.retry = newRetrier(s, o, o.transport+" queue "+addr, &q.closed)
	return q
}

func (q *queueTransport) Address() string { return q.addr }
func (q *queueTransport) MaxMsgSize() int { return q.max }

func (q *queueTransport) Pending(ctx context.Context) (int, error) {
	if q.closed.Load() {
		return 0, ErrClosed
	}
	return q.store.count(ctx)
}

func (q *queueTransport) Send(ctx context.Context, frame []byte) error {
	if q.closed.Load() {
		return ErrClosed
	}
	if q.max > 0 && len(frame) > q.max {
		return fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, len(frame), q.max)
	}
	return q.retry.do(ctx, func() error {
		return q.store.put(ctx, frame)
	})
}

func (q *queueTransport) Recv(ctx context.Context) ([]byte, error) {
	if q.closed.Load() {
		return nil, ErrClosed
	}
	var frame []byte
	err := q.retry.do(ctx, func() error {
		var err error
		frame, err = q.store.take(ctx, q.max)
		return err
	})
	return frame, err
}

func (q *queueTransport) Close() error {
	if q.closed.Swap(true) {
		return nil
	}
	return q.store.release(q.remove)
}

// discard closes this end and destroys the queue whichever end it is.
func (q *queueTransport) discard() error {
	if q.closed.Swap(true) {
		return nil
	}
	return q.store.release(true)
}

// SendNoLimit streams data without a header: one frame holding the decimal
// length, then the bytes in frame-ceiling chunks. The partner reads it with
// RecvNoLimit.
func (c *Comm) SendNoLimit(ctx context.Context, data []byte) error {
	f, err := c.framed()
	if err != nil {
		return err
	}
	if err := f.t.Send(ctx, []byte(strconv.Itoa(len(data)))); err != nil {
		return fmt.Errorf("send length: %w", err)
	}
	chunk := f.t.MaxMsgSize()
	if chunk <= 0 {
		chunk = len(data)
	}
	for off := 0; off < len(data); off += chunk {
		end := min(off+chunk, len(data))
		if err := f.t.Send(ctx, data[off:end]); err != nil {
			return fmt.Errorf("send chunk at %d: %w", off, err)
		}
	}
	return nil
}

// RecvNoLimit reads a stream written by SendNoLimit. End of stream in
// place of the length frame is io.EOF.
func (c *Comm) RecvNoLimit(ctx context.Context) ([]byte, error) {
	f, err := c.framed()
	if err != nil {
		return nil, err
	}
	frame, err := f.t.Recv(ctx)
	if err != nil {
		return nil, err
	}
	if IsEOF(frame) {
		return nil, io.EOF
	}
	size, err := strconv.Atoi(string(frame))
	if err != nil || size < 0 {
		return nil, fmt.Errorf("%w: length frame %q", ErrMalformedHeader, frame)
	}

	out := make([]byte, 0, size)
	for len(out) < size {
		part, err := f.t.Recv(ctx)
		if err != nil {
			return nil, fmt.Errorf("receive chunk at %d: %w", len(out), err)
		}
		if len(out)+len(part) > size {
			return nil, fmt.Errorf("%w: chunk overruns %d bytes", ErrSizeMismatch, size)
		}
		out = append(out, part...)
	}
	return out, nil
}
