// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package comm

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func serverClient(t *testing.T, s *Session) (server, client *Comm) {
	t.Helper()
	server, err := s.New("svc", DirRecv, WithTransport(TransportServer), WithBaseTransport(TransportMemory))
	require.NoError(t, err)
	client, err = s.Init("svc", DirSend, WithTransport(TransportClient), WithBaseTransport(TransportMemory),
		WithAddress(server.Address()))
	require.NoError(t, err)
	return server, client
}

func TestServerClient(t *testing.T) {
	ctx := testContext(t)
	s := newTestSession(t)
	server, client := serverClient(t, s)
	require.True(t, server.AlwaysHeader())
	require.True(t, client.AlwaysHeader())

	require.NoError(t, client.Send(ctx, []byte("q1")))
	require.NoError(t, client.Send(ctx, payload(5000)))

	for _, answer := range []string{"a1", "a2"} {
		_, err := server.RecvBytes(ctx)
		require.NoError(t, err)
		require.NoError(t, server.Send(ctx, []byte(answer)))
	}

	got, err := client.RecvBytes(ctx)
	require.NoError(t, err)
	require.Equal(t, "a1", string(got))
	got, err = client.RecvBytes(ctx)
	require.NoError(t, err)
	require.Equal(t, "a2", string(got))
}

func TestServerLargeRequest(t *testing.T) {
	ctx := testContext(t)
	s := newTestSession(t)
	server, client := serverClient(t, s)

	want := payload(3*2048 + 1)
	require.NoError(t, client.Send(ctx, want))
	got, err := server.RecvBytes(ctx)
	require.NoError(t, err)
	requireSameBytes(t, want, got)

	require.NoError(t, server.Send(ctx, want))
	got, err = client.RecvBytes(ctx)
	require.NoError(t, err)
	requireSameBytes(t, want, got)
}

func TestServerReplyWithoutRequest(t *testing.T) {
	ctx := testContext(t)
	s := newTestSession(t)
	server, client := serverClient(t, s)

	err := server.Send(ctx, []byte("unasked"))
	require.ErrorIs(t, err, ErrNoMessage)
	require.Equal(t, StatusNoMessage, Code(err))

	_, err = client.RecvBytes(ctx)
	require.ErrorIs(t, err, ErrNoMessage)

	require.ErrorIs(t, server.SendEOF(ctx), ErrUnsupported)
}

func TestServerClientDirections(t *testing.T) {
	s := newTestSession(t)
	_, err := s.New("svc", DirSend, WithTransport(TransportServer), WithBaseTransport(TransportMemory))
	require.ErrorIs(t, err, ErrInvalidDirection)
	_, err = s.New("svc", DirRecv, WithTransport(TransportClient), WithBaseTransport(TransportMemory))
	require.ErrorIs(t, err, ErrInvalidDirection)
	_, err = s.New("svc", DirRecv, WithTransport(TransportServer), WithBaseTransport(TransportRPC))
	require.ErrorIs(t, err, ErrUnknownTransport)
}

func TestClientStashesEarlyReplies(t *testing.T) {
	ctx := testContext(t)
	s := newTestSession(t)

	// a bare request queue stands in for the server so replies can go out
	// in any order
	requests, err := s.New("svc", DirRecv, WithTransport(TransportMemory))
	require.NoError(t, err)
	client, err := s.Init("svc", DirSend, WithTransport(TransportClient), WithBaseTransport(TransportMemory),
		WithAddress(requests.Address()))
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		require.NoError(t, client.Send(ctx, []byte(fmt.Sprintf("q%d", i))))
	}
	in, err := routed(requests)
	require.NoError(t, err)
	var hdrs []Header
	for i := 1; i <= 3; i++ {
		h, body, err := in.recvMessage(ctx)
		require.NoError(t, err)
		require.Equal(t, fmt.Sprintf("q%d", i), string(body))
		require.NotEmpty(t, h.Response)
		hdrs = append(hdrs, h)
	}

	replies, err := s.Init("replies", DirSend, WithTransport(TransportMemory), WithAddress(hdrs[0].Response))
	require.NoError(t, err)
	out, err := routed(replies)
	require.NoError(t, err)
	require.NoError(t, out.sendMessage(ctx, []byte("stray"), Header{ID: "unknown"}))
	for _, i := range []int{2, 0, 1} {
		require.NoError(t, out.sendMessage(ctx, []byte(fmt.Sprintf("a%d", i+1)), Header{ID: hdrs[i].ID}))
	}

	for _, want := range []string{"a1", "a2", "a3"} {
		got, err := client.RecvBytes(ctx)
		require.NoError(t, err)
		require.Equal(t, want, string(got))
	}
	require.NoError(t, replies.Close())
}

func TestClientCloseSendsNoEOF(t *testing.T) {
	ctx := testContext(t)
	s := newTestSession(t)
	server, client := serverClient(t, s)

	require.NoError(t, client.Close())
	n, err := server.Pending(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestRPC(t *testing.T) {
	ctx := testContext(t)
	caller := newTestSession(t)

	a, err := caller.New("calc", DirSend, WithTransport(TransportRPC), WithBaseTransport(TransportSocket))
	require.NoError(t, err)
	env := caller.Environ()
	require.Len(t, env, 2)
	require.Equal(t, a.Address(), env["calc_IN"])

	callee := newTestSession(t, WithEnv(env))
	b, err := callee.Init("calc", DirRecv, WithTransport(TransportRPC), WithBaseTransport(TransportSocket))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		done <- func() error {
			q, err := b.RecvBytes(ctx)
			if err != nil {
				return err
			}
			if err := b.Send(ctx, append(q, " = 4"...)); err != nil {
				return err
			}
			if _, err := b.RecvBytes(ctx); !errors.Is(err, io.EOF) {
				return fmt.Errorf("want EOF, got %v", err)
			}
			// EOF goes out once even though close follows SendEOF
			if _, err := b.RecvBytes(ctx); !errors.Is(err, ErrPeerClosed) {
				return fmt.Errorf("want closed peer, got %v", err)
			}
			return nil
		}()
	}()

	require.NoError(t, a.Send(ctx, []byte("2 + 2")))
	got, err := a.RecvBytes(ctx)
	require.NoError(t, err)
	require.Equal(t, "2 + 2 = 4", string(got))

	require.NoError(t, a.SendEOF(ctx))
	require.NoError(t, a.Close())
	require.NoError(t, <-done)
}
