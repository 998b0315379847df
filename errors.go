// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package comm

import (
	"errors"
	"io"
)

var (
	ErrUnknownTransport = errors.New("comm: unknown transport")
	ErrMissingAddress   = errors.New("comm: address not found")
	ErrInvalidDirection = errors.New("comm: invalid direction")
	ErrClosed           = errors.New("comm: closed")
	ErrMessageTooLarge  = errors.New("comm: message exceeds frame ceiling")
	ErrBufferTooSmall   = errors.New("comm: receive buffer too small")
	ErrNoMessage        = errors.New("comm: no message")
	ErrMalformedHeader  = errors.New("comm: malformed header")
	ErrSizeMismatch     = errors.New("comm: body size does not match header")
	ErrUnsupported      = errors.New("comm: operation not supported by transport")
	ErrMissingWorld     = errors.New("comm: mpi transport requires a world")
	ErrPeerClosed       = errors.New("comm: peer closed connection")
)

// errTransient marks a condition that a retry loop waits out (queue full,
// queue empty, nothing to poll). It never reaches callers.
var errTransient = errors.New("comm: transient condition")

// Status codes returned by Code.
const (
	StatusOK             = 0
	StatusEOF            = 1
	StatusError          = -1
	StatusNoMessage      = -2
	StatusBufferTooSmall = -3
)

// Code maps an error returned by this package to an integer status for
// binding facades that cannot carry Go errors.
func Code(err error) int {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, io.EOF):
		return StatusEOF
	case errors.Is(err, ErrNoMessage):
		return StatusNoMessage
	case errors.Is(err, ErrBufferTooSmall):
		return StatusBufferTooSmall
	default:
		return StatusError
	}
}
