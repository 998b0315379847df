// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

//go:build !(linux && (amd64 || arm64))

// Package sysv wraps the System V message queue syscalls.
package sysv

import "errors"

// Supported reports whether message queues are available on this platform.
const Supported = false

var (
	ErrFull        = errors.New("sysv: queue full")
	ErrEmpty       = errors.New("sysv: queue empty")
	ErrExist       = errors.New("sysv: queue exists")
	ErrTooBig      = errors.New("sysv: message larger than buffer")
	errUnsupported = errors.New("sysv: message queues not supported on this platform")
)

func Create(key int) (int, error) { return -1, errUnsupported }
func Open(key int) (int, error) { return -1, errUnsupported }
func Send(id int, data []byte) error { return errUnsupported }
func Recv(id int, max int) ([]byte, error) { return nil, errUnsupported }
func Count(id int) (int, error) { return 0, errUnsupported }
func Remove(id int) error { return errUnsupported }
