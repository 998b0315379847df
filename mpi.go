// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package comm

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/luxfi/comm/mpi"
)

func init() {
	registerTransport(TransportMPI, createMPI, resolveMPI)
}

// channelsPerRank splits the channel space so ranks never hand out the same
// channel.
const channelsPerRank = 1 << 20

// mpiChannel exchanges frames with partner ranks. Every frame travels as
// two sends under one tag: an 8-byte big-endian length, then the payload.
// Tags carry a per-peer sequence number so frames are read in order.
// Address: mpi:<channel>:<rank>,<rank>,... listing every participant.
type mpiChannel struct {
	world    mpi.World
	channel  int
	addr     string
	partners []int
	max      int

	sendSeq map[int]uint64
	recvSeq map[int]uint64
	next    int // round-robin cursor over partners

	retry  retrier
	closed atomic.Bool
}

func createMPI(s *Session, o *options) (Transport, error) {
	if s.world == nil {
		return nil, ErrMissingWorld
	}
	self := s.world.Rank()
	ranks := o.ranks
	if len(ranks) == 0 {
		for r := 0; r < s.world.Size(); r++ {
			if r != self {
				ranks = append(ranks, r)
			}
		}
	}
	if len(ranks) == 0 {
		return nil, fmt.Errorf("%w: mpi comm needs a partner rank", ErrMissingAddress)
	}

	var channel int
	for {
		channel = self*channelsPerRank + int(s.nextSeq()%channelsPerRank)
		if s.reserve(TransportMPI, strconv.Itoa(channel)) {
			break
		}
	}
	participants := append([]int{self}, ranks...)
	return newMPIChannel(s, o, channel, participants)
}

func resolveMPI(s *Session, o *options) (Transport, error) {
	if s.world == nil {
		return nil, ErrMissingWorld
	}
	channel, ranks, err := parseMPIAddress(o.address)
	if err != nil {
		return nil, err
	}
	return newMPIChannel(s, o, channel, ranks)
}

func parseMPIAddress(addr string) (int, []int, error) {
	parts := strings.Split(addr, ":")
	if len(parts) != 3 || parts[0] != "mpi" {
		return 0, nil, fmt.Errorf("%w: mpi address %q", ErrMissingAddress, addr)
	}
	channel, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, nil, fmt.Errorf("%w: mpi channel in %q", ErrMissingAddress, addr)
	}
	var ranks []int
	for _, f := range strings.Split(parts[2], ",") {
		r, err := strconv.Atoi(f)
		if err != nil {
			return 0, nil, fmt.Errorf("%w: mpi rank %q in %q", ErrMissingAddress, f, addr)
		}
		ranks = append(ranks, r)
	}
	return channel, ranks, nil
}

func newMPIChannel(s *Session, o *options, channel int, participants []int) (*mpiChannel, error) {
	self := s.world.Rank()
	var partners []int
	for _, r := range participants {
		if r < 0 || r >= s.world.Size() {
			return nil, fmt.Errorf("%w: %d", mpi.ErrRank, r)
		}
		if r != self && !slices.Contains(partners, r) {
			partners = append(partners, r)
		}
	}
	if len(partners) == 0 {
		return nil, fmt.Errorf("%w: no partner rank besides %d", ErrMissingAddress, self)
	}

	fields := make([]string, len(participants))
	for i, r := range participants {
		fields[i] = strconv.Itoa(r)
	}
	max := s.cfg.MPI.MaxMsgSize
	if o.maxMsgSize > 0 {
		max = o.maxMsgSize
	}
	m := &mpiChannel{
		world:    s.world,
		channel:  channel,
		addr:     fmt.Sprintf("mpi:%d:%s", channel, strings.Join(fields, ",")),
		partners: partners,
		max:      max,
		sendSeq:  make(map[int]uint64),
		recvSeq:  make(map[int]uint64),
	}
	m.retry = newRetrier(s, o, "mpi "+m.addr, &m.closed)
	return m, nil
}

func (m *mpiChannel) Address() string { return m.addr }
func (m *mpiChannel) MaxMsgSize() int { return m.max }

// nextPeer is the rank the next Send goes to.
func (m *mpiChannel) nextPeer() int { return m.partners[m.next%len(m.partners)] }

func (m *mpiChannel) Pending(context.Context) (int, error) {
	if m.closed.Load() {
		return 0, ErrClosed
	}
	n := 0
	for _, r := range m.partners {
		_, ok, err := m.world.Probe(r, mpi.Tag{Channel: m.channel, Seq: m.recvSeq[r]})
		if err != nil {
			return 0, err
		}
		if ok {
			n++
		}
	}
	return n, nil
}

func (m *mpiChannel) Send(_ context.Context, frame []byte) error {
	if m.closed.Load() {
		return ErrClosed
	}
	if m.max > 0 && len(frame) > m.max {
		return fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, len(frame), m.max)
	}
	// end of stream goes to every partner, data round-robin
	if IsEOF(frame) {
		var errs []error
		for _, peer := range m.partners {
			errs = append(errs, m.sendTo(peer, frame))
		}
		return errors.Join(errs...)
	}
	peer := m.nextPeer()
	m.next++
	return m.sendTo(peer, frame)
}

func (m *mpiChannel) sendTo(peer int, frame []byte) error {
	tag := mpi.Tag{Channel: m.channel, Seq: m.sendSeq[peer]}
	m.sendSeq[peer]++

	size := binary.BigEndian.AppendUint64(nil, uint64(len(frame)))
	if err := m.world.Send(peer, tag, size); err != nil {
		return fmt.Errorf("mpi send length to %d: %w", peer, err)
	}
	if err := m.world.Send(peer, tag, frame); err != nil {
		return fmt.Errorf("mpi send to %d: %w", peer, err)
	}
	return nil
}

func (m *mpiChannel) Recv(ctx context.Context) ([]byte, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}
	var frame []byte
	err := m.retry.do(ctx, func() error {
		for _, r := range m.partners {
			tag := mpi.Tag{Channel: m.channel, Seq: m.recvSeq[r]}
			_, ok, err := m.world.Probe(r, tag)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			frame, err = m.recvFrom(r, tag)
			return err
		}
		return transient("nothing from ranks %v", m.partners)
	})
	return frame, err
}

func (m *mpiChannel) recvFrom(rank int, tag mpi.Tag) ([]byte, error) {
	size, err := m.world.Recv(rank, tag)
	if err != nil {
		return nil, fmt.Errorf("mpi recv length from %d: %w", rank, err)
	}
	if len(size) != 8 {
		return nil, fmt.Errorf("%w: mpi length frame of %d bytes", ErrMalformedHeader, len(size))
	}
	want := binary.BigEndian.Uint64(size)
	frame, err := m.world.Recv(rank, tag)
	if err != nil {
		return nil, fmt.Errorf("mpi recv from %d: %w", rank, err)
	}
	if uint64(len(frame)) != want {
		return nil, fmt.Errorf("%w: mpi frame of %d bytes, announced %d", ErrSizeMismatch, len(frame), want)
	}
	m.recvSeq[rank]++
	return frame, nil
}

func (m *mpiChannel) Close() error {
	m.closed.Store(true)
	return nil
}
