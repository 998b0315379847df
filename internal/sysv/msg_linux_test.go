// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

//go:build linux && (amd64 || arm64)

package sysv

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func newQueue(t *testing.T) int {
	t.Helper()
	for i := 0; i < 16; i++ {
		id, err := Create(rand.Intn(1<<30) + 1)
		if err == ErrExist {
			continue
		}
		if err != nil {
			t.Skipf("message queues unavailable: %v", err)
		}
		t.Cleanup(func() { _ = Remove(id) })
		return id
	}
	t.Fatal("no free queue key")
	return -1
}

func TestSendRecvCount(t *testing.T) {
	id := newQueue(t)

	_, err := Recv(id, 64)
	require.ErrorIs(t, err, ErrEmpty)

	require.NoError(t, Send(id, []byte("hello")))
	require.NoError(t, Send(id, []byte("world")))

	n, err := Count(id)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	msg, err := Recv(id, 64)
	require.NoError(t, err)
	require.Equal(t, "hello", string(msg))

	_, err = Recv(id, 2)
	require.ErrorIs(t, err, ErrTooBig)

	msg, err = Recv(id, 64)
	require.NoError(t, err)
	require.Equal(t, "world", string(msg))
}

func TestRemovedQueueFails(t *testing.T) {
	id := newQueue(t)
	require.NoError(t, Remove(id))
	require.Error(t, Send(id, []byte("x")))
}
