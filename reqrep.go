// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package comm

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"

	"github.com/rs/xid"
)

func init() {
	registerPattern(TransportServer, newServerState)
	registerPattern(TransportClient, newClientState)
	registerPattern(TransportRPC, newRPCState)
}

// subComm builds an untracked comm on the base transport of a composition.
func subComm(s *Session, o *options, dir Direction, create bool, addr string) (*Comm, error) {
	sub := *o
	sub.dir = dir
	sub.address = addr
	sub.transport = o.base
	if sub.transport == "" {
		sub.transport = s.cfg.Transport.Default
	}
	if sub.transport == "" {
		sub.transport = DefaultTransport
	}
	if _, ok := lookupPattern(sub.transport); ok {
		return nil, fmt.Errorf("%w: %q cannot be a base transport", ErrUnknownTransport, sub.transport)
	}
	return s.buildWith(&sub, create)
}

func routed(c *Comm) (*framed, error) {
	f, ok := c.state.(*framed)
	if !ok {
		return nil, fmt.Errorf("%w: %s comm is not framed", ErrUnsupported, c.transport)
	}
	return f, nil
}

type pendingRequest struct {
	id       string
	response string
}

// serverState answers requests. Every request header names the address to
// reply on; the first reply to that address opens a comm that is kept for
// later replies. Replies go out in request order and echo the request ID.
type serverState struct {
	s        *Session
	o        options
	requests *Comm
	replies  map[string]*Comm
	awaiting []pendingRequest
}

func newServerState(s *Session, c *Comm, o *options, create bool) (endpoint, error) {
	if o.dir != DirRecv {
		return nil, fmt.Errorf("%w: server comms receive requests", ErrInvalidDirection)
	}
	requests, err := subComm(s, o, DirRecv, create, o.address)
	if err != nil {
		return nil, err
	}
	c.alwaysHeader = true
	return &serverState{s: s, o: *o, requests: requests, replies: make(map[string]*Comm)}, nil
}

func (st *serverState) address() string { return st.requests.address }
func (st *serverState) maxMsgSize() int { return st.requests.maxMsgSize }

func (st *serverState) pending(ctx context.Context) (int, error) {
	return st.requests.Pending(ctx)
}

// recv returns the next request body and queues its reply route.
func (st *serverState) recv(ctx context.Context) ([]byte, error) {
	f, err := routed(st.requests)
	if err != nil {
		return nil, err
	}
	h, body, err := f.recvMessage(ctx)
	if err != nil {
		return nil, err
	}
	if h.Response == "" {
		return nil, fmt.Errorf("%w: request without response address", ErrMalformedHeader)
	}
	st.awaiting = append(st.awaiting, pendingRequest{id: h.ID, response: h.Response})
	return body, nil
}

// send replies to the oldest unanswered request.
func (st *serverState) send(ctx context.Context, payload []byte) error {
	if len(st.awaiting) == 0 {
		return fmt.Errorf("%w: no request awaiting a reply", ErrNoMessage)
	}
	req := st.awaiting[0]

	reply, ok := st.replies[req.response]
	if !ok {
		var err error
		reply, err = subComm(st.s, &st.o, DirSend, false, req.response)
		if err != nil {
			return fmt.Errorf("open reply comm %s: %w", req.response, err)
		}
		st.replies[req.response] = reply
	}
	f, err := routed(reply)
	if err != nil {
		return err
	}
	if err := f.sendMessage(ctx, payload, Header{ID: req.id}); err != nil {
		return err
	}
	st.awaiting = st.awaiting[1:]
	return nil
}

func (st *serverState) sendEOF(context.Context) error {
	return fmt.Errorf("%w: servers do not send end of stream", ErrUnsupported)
}

// close ends every reply stream. Clients that left already are only logged.
func (st *serverState) close() error {
	for addr, reply := range st.replies {
		if err := reply.Close(); err != nil {
			log.Printf("[COMM] close reply comm %s: %v", addr, err)
		}
	}
	return st.requests.Close()
}

// clientState sends requests carrying its reply address and matches
// replies to requests by ID. A reply for a later request that arrives
// early is held until that request is received for.
type clientState struct {
	requests *Comm
	replies  *Comm
	inFlight []string
	early    map[string][]byte
}

func newClientState(s *Session, c *Comm, o *options, create bool) (endpoint, error) {
	if o.dir != DirSend {
		return nil, fmt.Errorf("%w: client comms send requests", ErrInvalidDirection)
	}
	requests, err := subComm(s, o, DirSend, create, o.address)
	if err != nil {
		return nil, err
	}
	replies, err := subComm(s, o, DirRecv, true, "")
	if err != nil {
		requests.release()
		return nil, err
	}
	c.alwaysHeader = true
	return &clientState{requests: requests, replies: replies, early: make(map[string][]byte)}, nil
}

func (st *clientState) address() string { return st.requests.address }
func (st *clientState) maxMsgSize() int { return st.requests.maxMsgSize }

func (st *clientState) pending(ctx context.Context) (int, error) {
	n, err := st.replies.Pending(ctx)
	return n + len(st.early), err
}

func (st *clientState) send(ctx context.Context, payload []byte) error {
	f, err := routed(st.requests)
	if err != nil {
		return err
	}
	id := xid.New().String()
	if err := f.sendMessage(ctx, payload, Header{ID: id, Response: st.replies.address}); err != nil {
		return err
	}
	st.inFlight = append(st.inFlight, id)
	return nil
}

// recv returns the reply to the oldest request still in flight.
func (st *clientState) recv(ctx context.Context) ([]byte, error) {
	if len(st.inFlight) == 0 {
		return nil, fmt.Errorf("%w: no request in flight", ErrNoMessage)
	}
	want := st.inFlight[0]
	if body, ok := st.early[want]; ok {
		delete(st.early, want)
		st.inFlight = st.inFlight[1:]
		return body, nil
	}

	f, err := routed(st.replies)
	if err != nil {
		return nil, err
	}
	for {
		h, body, err := f.recvMessage(ctx)
		if err != nil {
			return nil, err
		}
		switch {
		case h.ID == want:
			st.inFlight = st.inFlight[1:]
			return body, nil
		case slices.Contains(st.inFlight, h.ID):
			st.early[h.ID] = body
		default:
			log.Printf("[COMM] dropping reply %q matching no request", h.ID)
		}
	}
}

func (st *clientState) sendEOF(context.Context) error {
	return fmt.Errorf("%w: clients do not send end of stream", ErrUnsupported)
}

func (st *clientState) close() error {
	return errors.Join(st.requests.release(), st.replies.Close())
}

// rpcState pairs an outbound and an inbound comm without routing headers.
// Init resolves them from <name>_OUT and <name>_IN.
type rpcState struct {
	out     *Comm
	in      *Comm
	eofSent bool
}

func newRPCState(s *Session, c *Comm, o *options, create bool) (endpoint, error) {
	var outAddr, inAddr string
	if !create {
		var err error
		if outAddr, err = s.Lookup(o.name, DirSend); err != nil {
			return nil, err
		}
		if inAddr, err = s.Lookup(o.name, DirRecv); err != nil {
			return nil, err
		}
	}
	out, err := subComm(s, o, DirSend, create, outAddr)
	if err != nil {
		return nil, err
	}
	in, err := subComm(s, o, DirRecv, create, inAddr)
	if err != nil {
		out.release()
		return nil, err
	}
	return &rpcState{out: out, in: in}, nil
}

func (st *rpcState) address() string { return st.out.address }
func (st *rpcState) maxMsgSize() int { return st.out.maxMsgSize }

func (st *rpcState) pending(ctx context.Context) (int, error) {
	return st.in.Pending(ctx)
}

func (st *rpcState) send(ctx context.Context, payload []byte) error {
	return st.out.Send(ctx, payload)
}

func (st *rpcState) recv(ctx context.Context) ([]byte, error) {
	return st.in.state.recv(ctx)
}

// sendEOF ends the outbound stream once; Close after SendEOF adds nothing.
func (st *rpcState) sendEOF(ctx context.Context) error {
	if st.eofSent {
		return nil
	}
	if err := st.out.SendEOF(ctx); err != nil {
		return err
	}
	st.eofSent = true
	return nil
}

// close releases both comms. The outbound one delivers EOF on close unless
// it already went out.
func (st *rpcState) close() error {
	closeOut := st.out.Close
	if st.eofSent {
		closeOut = st.out.release
	}
	return errors.Join(closeOut(), st.in.Close())
}

// environ gives the partner our outbound address as its inbound one and
// the other way round.
func (st *rpcState) environ(name string) map[string]string {
	return map[string]string{
		EnvKey(name, DirRecv): st.out.address,
		EnvKey(name, DirSend): st.in.address,
	}
}
