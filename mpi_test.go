// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package comm

import (
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/comm/mpi"
)

func mpiSessions(t *testing.T, size int) []*Session {
	t.Helper()
	world := mpi.NewLocal(size)
	t.Cleanup(world.Close)
	sessions := make([]*Session, size)
	for r := range sessions {
		sessions[r] = newTestSession(t, WithMPIWorld(world.Rank(r)))
	}
	return sessions
}

func TestMPIRoundTrip(t *testing.T) {
	ctx := testContext(t)
	ranks := mpiSessions(t, 2)

	send, err := ranks[0].New("pipe", DirSend, WithTransport(TransportMPI), WithMaxMsgSize(512))
	require.NoError(t, err)
	require.Regexp(t, `^mpi:\d+:0,1$`, send.Address())

	recv, err := ranks[1].Init("pipe", DirRecv, WithTransport(TransportMPI), WithAddress(send.Address()),
		WithMaxMsgSize(512))
	require.NoError(t, err)

	msgs := [][]byte{[]byte("hello"), nil, payload(512), payload(3*512 + 5)}
	for _, m := range msgs {
		require.NoError(t, send.Send(ctx, m))
	}
	require.NoError(t, send.Close())

	n, err := recv.Pending(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	for _, want := range msgs {
		got, err := recv.RecvBytes(ctx)
		require.NoError(t, err)
		requireSameBytes(t, want, got)
	}
	_, err = recv.RecvBytes(ctx)
	require.ErrorIs(t, err, io.EOF)

	require.Equal(t, int64(1), ranks[0].Stats().AuxOpened)
	require.Equal(t, int64(1), ranks[1].Stats().AuxOpened)
}

func TestMPIRoundRobin(t *testing.T) {
	ctx := testContext(t)
	ranks := mpiSessions(t, 3)

	send, err := ranks[0].New("fanout", DirSend, WithTransport(TransportMPI))
	require.NoError(t, err)
	require.Regexp(t, `^mpi:\d+:0,1,2$`, send.Address())

	var workers []*Comm
	for _, r := range ranks[1:] {
		c, err := r.Init("fanout", DirRecv, WithTransport(TransportMPI), WithAddress(send.Address()))
		require.NoError(t, err)
		workers = append(workers, c)
	}

	for i := 0; i < 4; i++ {
		require.NoError(t, send.Send(ctx, []byte(fmt.Sprintf("job-%d", i))))
	}
	for i := 0; i < 4; i++ {
		got, err := workers[i%2].RecvBytes(ctx)
		require.NoError(t, err)
		require.Equal(t, fmt.Sprintf("job-%d", i), string(got))
	}
}

func TestMPICloseReachesEveryPartner(t *testing.T) {
	ctx := testContext(t)
	ranks := mpiSessions(t, 3)

	send, err := ranks[0].New("fanout", DirSend, WithTransport(TransportMPI))
	require.NoError(t, err)

	var workers []*Comm
	for _, r := range ranks[1:] {
		c, err := r.Init("fanout", DirRecv, WithTransport(TransportMPI), WithAddress(send.Address()))
		require.NoError(t, err)
		workers = append(workers, c)
	}

	require.NoError(t, send.Send(ctx, []byte("job")))
	require.NoError(t, send.Close())

	got, err := workers[0].RecvBytes(ctx)
	require.NoError(t, err)
	require.Equal(t, "job", string(got))
	for i, w := range workers {
		_, err := w.RecvBytes(ctx)
		require.ErrorIs(t, err, io.EOF, "worker %d", i)
	}
}

func TestMPIRequiresWorld(t *testing.T) {
	s := newTestSession(t)
	_, err := s.New("pipe", DirSend, WithTransport(TransportMPI))
	require.ErrorIs(t, err, ErrMissingWorld)

	ranks := mpiSessions(t, 2)
	_, err = ranks[0].Init("pipe", DirRecv, WithTransport(TransportMPI), WithAddress("mpi:1:0,9"))
	require.ErrorIs(t, err, mpi.ErrRank)

	_, err = ranks[0].Init("pipe", DirRecv, WithTransport(TransportMPI), WithAddress("mpi:x"))
	require.ErrorIs(t, err, ErrMissingAddress)
}
