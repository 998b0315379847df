// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package comm

import (
	"context"
	"io"
	"sort"
	"sync"
)

// Transport types
const (
	TransportIPC    = "ipc"    // SysV message queue, default
	TransportSQLite = "sqlite" // queue rows in a shared sqlite file
	TransportMemory = "memory" // in-session queue
	TransportSocket = "socket" // tcp or unix stream pair
	TransportMPI    = "mpi"    // rank point-to-point
	TransportJSON   = "json"   // JSON-RPC mailbox over HTTP
	TransportGRPC   = "grpc"   // gRPC mailbox, requires build tag
	TransportFile   = "file"   // one message per line
	TransportTable  = "table"  // ASCII table rows

	TransportServer = "server" // request/reply, answering side
	TransportClient = "client" // request/reply, asking side
	TransportRPC    = "rpc"    // fixed pair of comms
)

// DefaultTransport is the transport used when none is configured.
const DefaultTransport = TransportIPC

// Transport moves whole frames for one communicator endpoint. Frames never
// exceed MaxMsgSize; splitting larger payloads is left to the caller.
type Transport interface {
	io.Closer

	// Address returns the string a partner resolves to reach this endpoint.
	Address() string

	// MaxMsgSize returns the frame ceiling, 0 when unbounded.
	MaxMsgSize() int

	// Pending returns how many frames are ready to receive. Transports that
	// cannot count return 0.
	Pending(ctx context.Context) (int, error)

	// Send delivers one frame, waiting out a full transport.
	Send(ctx context.Context, frame []byte) error

	// Recv returns the next frame, waiting out an empty transport.
	Recv(ctx context.Context) ([]byte, error)
}

// openFunc creates a fresh endpoint (o.address empty) or attaches to o.address.
type openFunc func(s *Session, o *options) (Transport, error)

// patternFunc builds a composed endpoint out of other comms.
type patternFunc func(s *Session, c *Comm, o *options, create bool) (endpoint, error)

type transportEntry struct {
	create  openFunc
	resolve openFunc
}

var (
	transportsMu sync.RWMutex
	transports   = map[string]transportEntry{}
	patterns     = map[string]patternFunc{}
)

// registerTransport registers a primitive transport (used by build tags)
func registerTransport(name string, create, resolve openFunc) {
	transportsMu.Lock()
	defer transportsMu.Unlock()
	transports[name] = transportEntry{create: create, resolve: resolve}
}

// registerPattern registers a transport composed from other comms
func registerPattern(name string, fn patternFunc) {
	transportsMu.Lock()
	defer transportsMu.Unlock()
	patterns[name] = fn
}

func lookupTransport(name string) (transportEntry, bool) {
	transportsMu.RLock()
	defer transportsMu.RUnlock()
	e, ok := transports[name]
	return e, ok
}

func lookupPattern(name string) (patternFunc, bool) {
	transportsMu.RLock()
	defer transportsMu.RUnlock()
	fn, ok := patterns[name]
	return fn, ok
}

// AvailableTransports returns list of available transport types
func AvailableTransports() []string {
	transportsMu.RLock()
	defer transportsMu.RUnlock()
	result := make([]string, 0, len(transports)+len(patterns))
	for name := range transports {
		result = append(result, name)
	}
	for name := range patterns {
		result = append(result, name)
	}
	sort.Strings(result)
	return result
}

// HasTransport checks if a transport is available
func HasTransport(name string) bool {
	transportsMu.RLock()
	defer transportsMu.RUnlock()
	if _, ok := transports[name]; ok {
		return true
	}
	_, ok := patterns[name]
	return ok
}
