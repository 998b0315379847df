// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

//go:build linux && (amd64 || arm64)

// Package sysv wraps the System V message queue syscalls.
package sysv

import (
	"encoding/binary"
	"errors"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Supported reports whether message queues are available on this platform.
const Supported = true

// mtype is the message type every frame is sent with.
const mtype = 1

// offset of msg_qnum inside struct msqid64_ds on LP64 linux
const qnumOffset = 80

var (
	// ErrFull is returned by Send when the queue has no room (EAGAIN).
	ErrFull = errors.New("sysv: queue full")
	// ErrEmpty is returned by Recv when no message is waiting (ENOMSG).
	ErrEmpty = errors.New("sysv: queue empty")
	// ErrExist is returned by Create when the key is already in use.
	ErrExist = errors.New("sysv: queue exists")
	// ErrTooBig is returned by Recv when the waiting message exceeds max.
	ErrTooBig = errors.New("sysv: message larger than buffer")
)

// Create makes a new queue under key, failing with ErrExist when the key is
// taken.
func Create(key int) (int, error) {
	id, _, errno := unix.Syscall(unix.SYS_MSGGET, uintptr(key), uintptr(unix.IPC_CREAT|unix.IPC_EXCL|0o600), 0)
	if errno != 0 {
		if errno == unix.EEXIST {
			return -1, ErrExist
		}
		return -1, errno
	}
	return int(id), nil
}

// Open attaches to the existing queue under key.
func Open(key int) (int, error) {
	id, _, errno := unix.Syscall(unix.SYS_MSGGET, uintptr(key), 0o600, 0)
	if errno != 0 {
		return -1, errno
	}
	return int(id), nil
}

// Send enqueues data without blocking.
func Send(id int, data []byte) error {
	buf := make([]byte, 8+len(data))
	binary.NativeEndian.PutUint64(buf, mtype)
	copy(buf[8:], data)
	_, _, errno := unix.Syscall6(unix.SYS_MSGSND, uintptr(id), uintptr(unsafe.Pointer(&buf[0])),
		uintptr(len(data)), uintptr(unix.IPC_NOWAIT), 0, 0)
	switch errno {
	case 0:
		return nil
	case unix.EAGAIN:
		return ErrFull
	}
	return errno
}

// Recv dequeues one message of at most max bytes without blocking.
func Recv(id int, max int) ([]byte, error) {
	buf := make([]byte, 8+max)
	n, _, errno := unix.Syscall6(unix.SYS_MSGRCV, uintptr(id), uintptr(unsafe.Pointer(&buf[0])),
		uintptr(max), 0, uintptr(unix.IPC_NOWAIT), 0)
	switch errno {
	case 0:
		return buf[8 : 8+int(n)], nil
	case unix.ENOMSG:
		return nil, ErrEmpty
	case unix.E2BIG:
		return nil, ErrTooBig
	}
	return nil, errno
}

// Count returns the number of messages waiting.
func Count(id int) (int, error) {
	var ds [128]byte
	_, _, errno := unix.Syscall(unix.SYS_MSGCTL, uintptr(id), uintptr(unix.IPC_STAT), uintptr(unsafe.Pointer(&ds[0])))
	if errno != 0 {
		return 0, errno
	}
	return int(binary.NativeEndian.Uint64(ds[qnumOffset:])), nil
}

// Remove destroys the queue. Messages still queued are lost.
func Remove(id int) error {
	_, _, errno := unix.Syscall(unix.SYS_MSGCTL, uintptr(id), uintptr(unix.IPC_RMID), 0)
	if errno != 0 {
		return errno
	}
	return nil
}
