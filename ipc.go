// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package comm

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"

	"github.com/luxfi/comm/internal/sysv"
)

func init() {
	registerTransport(TransportIPC, createIPC, resolveIPC)
}

// ipcStore is a SysV message queue. The address is the decimal queue key.
type ipcStore struct {
	key int
	id  int
}

func createIPC(s *Session, o *options) (Transport, error) {
	if !sysv.Supported {
		return nil, fmt.Errorf("%w: ipc queues on this platform", ErrUnsupported)
	}
	for {
		key := rand.Intn(1<<31-2) + 1
		addr := strconv.Itoa(key)
		if !s.reserve(TransportIPC, addr) {
			continue
		}
		id, err := sysv.Create(key)
		if errors.Is(err, sysv.ErrExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create queue %d: %w", key, err)
		}
		return newQueueTransport(s, o, addr, s.cfg.IPC.MaxMsgSize, &ipcStore{key: key, id: id}), nil
	}
}

func resolveIPC(s *Session, o *options) (Transport, error) {
	if !sysv.Supported {
		return nil, fmt.Errorf("%w: ipc queues on this platform", ErrUnsupported)
	}
	key, err := strconv.Atoi(o.address)
	if err != nil {
		return nil, fmt.Errorf("%w: ipc address %q is not a queue key", ErrMissingAddress, o.address)
	}
	id, err := sysv.Open(key)
	if err != nil {
		return nil, fmt.Errorf("open queue %d: %w", key, err)
	}
	return newQueueTransport(s, o, o.address, s.cfg.IPC.MaxMsgSize, &ipcStore{key: key, id: id}), nil
}

func (q *ipcStore) put(_ context.Context, frame []byte) error {
	err := sysv.Send(q.id, frame)
	if errors.Is(err, sysv.ErrFull) {
		return transient("queue %d full", q.key)
	}
	if err != nil {
		return fmt.Errorf("msgsnd %d: %w", q.key, err)
	}
	return nil
}

func (q *ipcStore) take(_ context.Context, max int) ([]byte, error) {
	frame, err := sysv.Recv(q.id, max)
	switch {
	case errors.Is(err, sysv.ErrEmpty):
		return nil, transient("queue %d empty", q.key)
	case errors.Is(err, sysv.ErrTooBig):
		return nil, fmt.Errorf("%w: queue %d holds a frame over %d bytes", ErrMessageTooLarge, q.key, max)
	case err != nil:
		return nil, fmt.Errorf("msgrcv %d: %w", q.key, err)
	}
	return frame, nil
}

func (q *ipcStore) count(context.Context) (int, error) {
	n, err := sysv.Count(q.id)
	if err != nil {
		return 0, fmt.Errorf("msgctl %d: %w", q.key, err)
	}
	return n, nil
}

func (q *ipcStore) release(remove bool) error {
	if !remove {
		return nil
	}
	if err := sysv.Remove(q.id); err != nil {
		return fmt.Errorf("remove queue %d: %w", q.key, err)
	}
	return nil
}
