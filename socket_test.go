// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package comm

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// socketPipe creates a receiving socket comm in one session and attaches a
// sender to it from another.
func socketPipe(t *testing.T, opts ...Option) (send, recv *Comm, sender, receiver *Session) {
	t.Helper()
	receiver = newTestSession(t)
	sender = newTestSession(t)
	opts = append([]Option{WithTransport(TransportSocket)}, opts...)

	recv, err := receiver.New("pipe", DirRecv, opts...)
	require.NoError(t, err)
	send, err = sender.Init("pipe", DirSend, append(opts, WithAddress(recv.Address()))...)
	require.NoError(t, err)
	return send, recv, sender, receiver
}

// sendAll sends every message, then closes, on its own goroutine.
func sendAll(ctx context.Context, c *Comm, msgs [][]byte) <-chan error {
	done := make(chan error, 1)
	go func() {
		for _, m := range msgs {
			if err := c.Send(ctx, m); err != nil {
				done <- err
				return
			}
		}
		done <- c.Close()
	}()
	return done
}

func TestSocketRoundTripSizes(t *testing.T) {
	ctx := testContext(t)
	send, recv, _, _ := socketPipe(t, WithMaxMsgSize(1024))
	require.True(t, strings.HasPrefix(recv.Address(), "tcp://127.0.0.1:"))

	var msgs [][]byte
	for _, n := range []int{0, 1, 1023, 1024, 1025, 4096, 3*1024 + 11} {
		msgs = append(msgs, payload(n))
	}
	done := sendAll(ctx, send, msgs)

	for _, want := range msgs {
		got, err := recv.RecvBytes(ctx)
		require.NoError(t, err)
		requireSameBytes(t, want, got)
	}
	_, err := recv.RecvBytes(ctx)
	require.ErrorIs(t, err, io.EOF)
	require.NoError(t, <-done)
}

func TestSocketMultipartUsesOneAuxiliary(t *testing.T) {
	ctx := testContext(t)
	send, recv, sender, receiver := socketPipe(t, WithMaxMsgSize(2048))

	want := payload(10000)
	done := sendAll(ctx, send, [][]byte{want})

	got, err := recv.RecvBytes(ctx)
	require.NoError(t, err)
	requireSameBytes(t, want, got)
	_, err = recv.RecvBytes(ctx)
	require.ErrorIs(t, err, io.EOF)
	require.NoError(t, <-done)

	for _, s := range []*Session{sender, receiver} {
		st := s.Stats()
		require.Equal(t, int64(1), st.AuxOpened)
		require.Equal(t, int64(1), st.AuxClosed)
	}
}

func TestSocketUnix(t *testing.T) {
	ctx := testContext(t)
	send, recv, _, _ := socketPipe(t, WithNetwork("unix"))
	require.True(t, strings.HasPrefix(recv.Address(), "unix:///"))

	done := sendAll(ctx, send, [][]byte{[]byte("over a unix socket")})
	got, err := recv.RecvBytes(ctx)
	require.NoError(t, err)
	require.Equal(t, "over a unix socket", string(got))
	_, err = recv.RecvBytes(ctx)
	require.ErrorIs(t, err, io.EOF)
	require.NoError(t, <-done)
}

func TestSocketPendingPolls(t *testing.T) {
	ctx := testContext(t)
	send, recv, _, _ := socketPipe(t)

	n, err := recv.Pending(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	// the dialing end can write before the listener accepts
	require.NoError(t, send.Send(ctx, []byte("ping")))
	require.Eventually(t, func() bool {
		n, err := recv.Pending(ctx)
		return err == nil && n == 1
	}, testTimeout, testTick)
}

func TestSocketBadAddress(t *testing.T) {
	s := newTestSession(t)
	_, err := s.Init("x", DirSend, WithTransport(TransportSocket), WithAddress("carrier://nest"))
	require.ErrorIs(t, err, ErrMissingAddress)

	_, err = s.New("x", DirSend, WithTransport(TransportSocket), WithNetwork("udp"))
	require.ErrorIs(t, err, ErrUnsupported)
}
