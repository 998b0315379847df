// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package comm

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/xid"
)

func init() {
	registerTransport(TransportSocket, createSocket, resolveSocket)
}

// pollInterval bounds each wait of Pending.
const pollInterval = time.Millisecond

// socketPair is one end of a stream connection carrying frames as
// [4 len][payload], len big-endian. The creating end listens and accepts its
// partner on first use; the resolving end dials. Address is tcp://host:port
// or unix:///path.
type socketPair struct {
	network string
	target  string
	addr    string
	max     int
	ln      net.Listener
	sock    string // unix socket file owned by the listener

	mu   sync.Mutex
	conn net.Conn
	rd   *bufio.Reader

	writeMu sync.Mutex
	retry   retrier
	closed  atomic.Bool
}

func createSocket(s *Session, o *options) (Transport, error) {
	network := o.network
	if network == "" {
		network = s.cfg.Socket.Network
	}

	var (
		ln   net.Listener
		sock string
		err  error
	)
	switch network {
	case "tcp":
		ln, err = net.Listen("tcp", net.JoinHostPort(s.cfg.Socket.Host, "0"))
	case "unix":
		sock = filepath.Join(s.cfg.File.Dir, "comm-"+xid.New().String()+".sock")
		ln, err = net.Listen("unix", sock)
	default:
		return nil, fmt.Errorf("%w: socket network %q", ErrUnsupported, network)
	}
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}

	target := ln.Addr().String()
	addr := network + "://" + target
	if !s.reserve(TransportSocket, addr) {
		ln.Close()
		return nil, fmt.Errorf("socket address %s handed out twice", addr)
	}
	return newSocketPair(s, o, network, target, ln, sock), nil
}

func resolveSocket(s *Session, o *options) (Transport, error) {
	network, target, ok := strings.Cut(o.address, "://")
	if !ok || target == "" || (network != "tcp" && network != "unix") {
		return nil, fmt.Errorf("%w: socket address %q", ErrMissingAddress, o.address)
	}
	return newSocketPair(s, o, network, target, nil, ""), nil
}

func newSocketPair(s *Session, o *options, network, target string, ln net.Listener, sock string) *socketPair {
	max := s.cfg.Socket.MaxMsgSize
	if o.maxMsgSize > 0 {
		max = o.maxMsgSize
	}
	p := &socketPair{
		network: network,
		target:  target,
		addr:    network + "://" + target,
		max:     max,
		ln:      ln,
		sock:    sock,
	}
	p.retry = newRetrier(s, o, "socket "+p.addr, &p.closed)
	return p
}

func (p *socketPair) Address() string { return p.addr }
func (p *socketPair) MaxMsgSize() int { return p.max }

// connect returns the connection, accepting or dialing it on first use.
func (p *socketPair) connect(ctx context.Context) (net.Conn, *bufio.Reader, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		return p.conn, p.rd, nil
	}
	err := p.retry.do(ctx, func() error {
		return p.connectOnce(p.retry.backoff)
	})
	if err != nil {
		return nil, nil, err
	}
	return p.conn, p.rd, nil
}

func (p *socketPair) connectOnce(wait time.Duration) error {
	var (
		conn net.Conn
		err  error
	)
	if p.ln != nil {
		if dl, ok := p.ln.(interface{ SetDeadline(time.Time) error }); ok {
			dl.SetDeadline(time.Now().Add(wait))
		}
		conn, err = p.ln.Accept()
		if isTimeout(err) {
			return transient("no partner on %s yet", p.addr)
		}
	} else {
		conn, err = net.DialTimeout(p.network, p.target, wait)
		if isTimeout(err) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, os.ErrNotExist) {
			return transient("dial %s: %v", p.addr, err)
		}
	}
	if err != nil {
		if p.closed.Load() {
			return ErrClosed
		}
		return fmt.Errorf("connect %s: %w", p.addr, err)
	}
	log.Printf("[COMM] socket %s connected to %s", p.addr, conn.RemoteAddr())
	p.conn = conn
	p.rd = bufio.NewReader(conn)
	return nil
}

func (p *socketPair) Pending(ctx context.Context) (int, error) {
	if p.closed.Load() {
		return 0, ErrClosed
	}
	p.mu.Lock()
	if p.conn == nil {
		err := p.connectOnce(pollInterval)
		if err != nil {
			p.mu.Unlock()
			if errors.Is(err, errTransient) {
				return 0, nil
			}
			return 0, err
		}
	}
	conn, rd := p.conn, p.rd
	p.mu.Unlock()

	if rd.Buffered() >= 4 {
		return 1, nil
	}
	conn.SetReadDeadline(time.Now().Add(pollInterval))
	defer conn.SetReadDeadline(time.Time{})
	if _, err := rd.Peek(4); err != nil {
		if isTimeout(err) || errors.Is(err, io.EOF) {
			return 0, nil
		}
		return 0, fmt.Errorf("poll %s: %w", p.addr, err)
	}
	return 1, nil
}

func (p *socketPair) Send(ctx context.Context, frame []byte) error {
	if p.closed.Load() {
		return ErrClosed
	}
	if p.max > 0 && len(frame) > p.max {
		return fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, len(frame), p.max)
	}
	conn, _, err := p.connect(ctx)
	if err != nil {
		return err
	}

	buf := make([]byte, 4+len(frame))
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(frame)))
	copy(buf[4:], frame)

	p.writeMu.Lock()
	_, err = conn.Write(buf)
	p.writeMu.Unlock()
	if err != nil {
		if p.closed.Load() {
			return ErrClosed
		}
		return fmt.Errorf("socket write: %w", err)
	}
	return nil
}

func (p *socketPair) Recv(ctx context.Context) ([]byte, error) {
	if p.closed.Load() {
		return nil, ErrClosed
	}
	conn, rd, err := p.connect(ctx)
	if err != nil {
		return nil, err
	}

	// wait for a length prefix in backoff-sized slices so ctx and close are seen
	err = p.retry.do(ctx, func() error {
		conn.SetReadDeadline(time.Now().Add(p.retry.backoff))
		_, err := rd.Peek(4)
		if isTimeout(err) {
			return transient("socket %s empty", p.addr)
		}
		return err
	})
	conn.SetReadDeadline(time.Time{})
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %s", ErrPeerClosed, p.addr)
	}
	if err != nil {
		return nil, p.readErr(err)
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(rd, header); err != nil {
		return nil, p.readErr(err)
	}
	n := binary.BigEndian.Uint32(header)
	if p.max > 0 && int(n) > p.max {
		return nil, fmt.Errorf("%w: socket frame of %d bytes", ErrMessageTooLarge, n)
	}
	frame := make([]byte, n)
	if _, err := io.ReadFull(rd, frame); err != nil {
		return nil, p.readErr(err)
	}
	return frame, nil
}

func (p *socketPair) readErr(err error) error {
	if p.closed.Load() {
		return ErrClosed
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %s", ErrPeerClosed, p.addr)
	}
	return fmt.Errorf("socket read: %w", err)
}

// Close closes the connection
func (p *socketPair) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	// the listener goes first so a pending accept returns
	var errs []error
	if p.ln != nil {
		errs = append(errs, p.ln.Close())
	}
	if p.sock != "" {
		if err := os.Remove(p.sock); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	p.mu.Lock()
	if p.conn != nil {
		errs = append(errs, p.conn.Close())
	}
	p.mu.Unlock()
	return errors.Join(errs...)
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
