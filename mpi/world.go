// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package mpi describes the rank-addressed point-to-point layer the mpi
// transport runs on, and provides Local, an in-process world whose ranks are
// goroutines of one program.
package mpi

import (
	"errors"
	"fmt"
	"sync"
)

var (
	ErrRank   = errors.New("mpi: rank out of range")
	ErrClosed = errors.New("mpi: world closed")
)

// Tag identifies a message stream between two ranks. Channel separates
// independent communicators; Seq orders messages inside one channel.
type Tag struct {
	Channel int
	Seq     uint64
}

func (t Tag) String() string { return fmt.Sprintf("%d/%d", t.Channel, t.Seq) }

// World is one rank's view of a set of cooperating processes.
type World interface {
	// Rank returns the caller's rank
	Rank() int

	// Size returns the number of ranks
	Size() int

	// Send delivers data to dest under tag. It does not wait for a matching
	// receive.
	Send(dest int, tag Tag, data []byte) error

	// Probe reports, without blocking, whether a message from source under
	// tag is waiting and how long it is.
	Probe(source int, tag Tag) (n int, ok bool, err error)

	// Recv blocks until a message from source under tag arrives.
	Recv(source int, tag Tag) ([]byte, error)
}

type key struct {
	src, dst int
	tag      Tag
}

// Local is an in-process world. Every rank shares one mailbox table.
type Local struct {
	mu     sync.Mutex
	cond   *sync.Cond
	size   int
	boxes  map[key][][]byte
	closed bool
}

// NewLocal creates an in-process world with size ranks.
func NewLocal(size int) *Local {
	l := &Local{
		size:  size,
		boxes: make(map[key][][]byte),
	}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// Rank returns the World view of rank r.
func (l *Local) Rank(r int) World {
	return &localRank{world: l, rank: r}
}

// Close wakes every blocked receiver with ErrClosed.
func (l *Local) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.cond.Broadcast()
}

func (l *Local) check(r int) error {
	if r < 0 || r >= l.size {
		return fmt.Errorf("%w: %d of %d", ErrRank, r, l.size)
	}
	return nil
}

type localRank struct {
	world *Local
	rank  int
}

func (r *localRank) Rank() int { return r.rank }
func (r *localRank) Size() int { return r.world.size }

func (r *localRank) Send(dest int, tag Tag, data []byte) error {
	l := r.world
	if err := l.check(dest); err != nil {
		return err
	}
	msg := make([]byte, len(data))
	copy(msg, data)

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	k := key{src: r.rank, dst: dest, tag: tag}
	l.boxes[k] = append(l.boxes[k], msg)
	l.mu.Unlock()
	l.cond.Broadcast()
	return nil
}

func (r *localRank) Probe(source int, tag Tag) (int, bool, error) {
	l := r.world
	if err := l.check(source); err != nil {
		return 0, false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return 0, false, ErrClosed
	}
	box := l.boxes[key{src: source, dst: r.rank, tag: tag}]
	if len(box) == 0 {
		return 0, false, nil
	}
	return len(box[0]), true, nil
}

func (r *localRank) Recv(source int, tag Tag) ([]byte, error) {
	l := r.world
	if err := l.check(source); err != nil {
		return nil, err
	}
	k := key{src: source, dst: r.rank, tag: tag}

	l.mu.Lock()
	defer l.mu.Unlock()
	for len(l.boxes[k]) == 0 {
		if l.closed {
			return nil, ErrClosed
		}
		l.cond.Wait()
	}
	box := l.boxes[k]
	msg := box[0]
	if len(box) == 1 {
		delete(l.boxes, k)
	} else {
		l.boxes[k] = box[1:]
	}
	return msg, nil
}
