// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package comm

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/luxfi/comm/serialize"
)

// closeTimeout bounds the EOF a send comm delivers while closing.
const closeTimeout = 30 * time.Second

// endpoint is the state behind a Comm: a framed primitive transport or a
// composition of other comms.
type endpoint interface {
	address() string
	maxMsgSize() int
	pending(ctx context.Context) (int, error)
	send(ctx context.Context, payload []byte) error
	recv(ctx context.Context) ([]byte, error)
	sendEOF(ctx context.Context) error
	close() error
}

// Comm is one endpoint of a directional message channel. A Comm is driven
// by one goroutine at a time.
type Comm struct {
	session      *Session
	name         string
	address      string
	dir          Direction
	transport    string
	serializer   serialize.Serializer
	maxMsgSize   int
	alwaysHeader bool
	created      bool
	client       bool
	state        endpoint
	index        int

	closed atomic.Bool
}

func (c *Comm) Name() string                     { return c.name }
func (c *Comm) Address() string                  { return c.address }
func (c *Comm) Direction() Direction             { return c.dir }
func (c *Comm) Transport() string                { return c.transport }
func (c *Comm) Serializer() serialize.Serializer { return c.serializer }

// MaxMsgSize returns the frame ceiling, 0 when unbounded.
func (c *Comm) MaxMsgSize() int { return c.maxMsgSize }

// AlwaysHeader reports whether every message carries a header.
func (c *Comm) AlwaysHeader() bool { return c.alwaysHeader }

// Valid reports whether the comm is open.
func (c *Comm) Valid() bool { return !c.closed.Load() }

// Close releases the comm. A send comm that is not a request/reply client
// first delivers EOF to its partner. Closing twice is a no-op.
func (c *Comm) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	defer c.session.untrack(c)

	var errs []error
	if c.dir == DirSend && !c.client {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		if err := c.state.sendEOF(ctx); err != nil {
			errs = append(errs, fmt.Errorf("send eof: %w", err))
		}
		cancel()
	}
	if err := c.state.close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// release closes without EOF. Compositions use it for comms whose partner
// must not see end of stream.
func (c *Comm) release() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.state.close()
}

// Pending returns how many messages are ready to receive.
func (c *Comm) Pending(ctx context.Context) (int, error) {
	if c.closed.Load() {
		return 0, ErrClosed
	}
	return c.state.pending(ctx)
}

// Send delivers data as one message of any size.
func (c *Comm) Send(ctx context.Context, data []byte) error {
	if c.closed.Load() {
		return ErrClosed
	}
	return c.state.send(ctx, data)
}

// SendEOF signals end of stream to the partner.
func (c *Comm) SendEOF(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}
	return c.state.sendEOF(ctx)
}

// Recv receives the next message into buf. When the message is longer than
// buf it fails with ErrBufferTooSmall unless grow is set, in which case a
// larger buffer is allocated. It returns the message length and the buffer
// holding it. End of stream is io.EOF.
func (c *Comm) Recv(ctx context.Context, buf []byte, grow bool) (int, []byte, error) {
	if c.closed.Load() {
		return 0, buf, ErrClosed
	}
	msg, err := c.state.recv(ctx)
	if err != nil {
		return 0, buf, err
	}
	return fill(buf, msg, grow)
}

// RecvBytes receives the next message into a new buffer.
func (c *Comm) RecvBytes(ctx context.Context) ([]byte, error) {
	n, buf, err := c.Recv(ctx, nil, true)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// SendRaw hands one frame to the transport without framing. The frame must
// fit the frame ceiling.
func (c *Comm) SendRaw(ctx context.Context, frame []byte) error {
	f, err := c.framed()
	if err != nil {
		return err
	}
	if max := f.t.MaxMsgSize(); max > 0 && len(frame) > max {
		return fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, len(frame), max)
	}
	return f.t.Send(ctx, frame)
}

// RecvRaw reads one frame from the transport without interpreting it.
// Buffer handling follows Recv.
func (c *Comm) RecvRaw(ctx context.Context, buf []byte, grow bool) (int, []byte, error) {
	f, err := c.framed()
	if err != nil {
		return 0, buf, err
	}
	frame, err := f.t.Recv(ctx)
	if err != nil {
		return 0, buf, err
	}
	return fill(buf, frame, grow)
}

// SendTyped serializes values with the comm serializer and sends them.
func (c *Comm) SendTyped(ctx context.Context, values ...serialize.Value) error {
	data, err := c.serializer.Serialize(values)
	if err != nil {
		return fmt.Errorf("serialize: %w", err)
	}
	return c.Send(ctx, data)
}

// RecvTyped receives one message and deserializes it.
func (c *Comm) RecvTyped(ctx context.Context) ([]serialize.Value, error) {
	data, err := c.RecvBytes(ctx)
	if err != nil {
		return nil, err
	}
	values, err := c.serializer.Deserialize(data)
	if err != nil {
		return nil, fmt.Errorf("deserialize: %w", err)
	}
	return values, nil
}

// RecvInto receives one message and stores its values in slots, which must
// match the message value count.
func (c *Comm) RecvInto(ctx context.Context, slots ...*serialize.Value) error {
	values, err := c.RecvTyped(ctx)
	if err != nil {
		return err
	}
	if len(values) != len(slots) {
		return fmt.Errorf("%w: %d values for %d slots", serialize.ErrArgCount, len(values), len(slots))
	}
	for i, v := range values {
		*slots[i] = v
	}
	return nil
}

func (c *Comm) framed() (*framed, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	f, ok := c.state.(*framed)
	if !ok {
		return nil, fmt.Errorf("%w: raw frames on %s comm", ErrUnsupported, c.transport)
	}
	return f, nil
}

func fill(buf, msg []byte, grow bool) (int, []byte, error) {
	if len(msg) > len(buf) {
		if !grow {
			return 0, buf, fmt.Errorf("%w: need %d bytes, have %d", ErrBufferTooSmall, len(msg), len(buf))
		}
		buf = make([]byte, len(msg))
	}
	return copy(buf, msg), buf, nil
}
