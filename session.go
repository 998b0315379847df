// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package comm

import (
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/joho/godotenv"
	"github.com/tebeka/atexit"

	"github.com/luxfi/comm/config"
	"github.com/luxfi/comm/mpi"
	"github.com/luxfi/comm/serialize"
)

// Direction of a communicator
type Direction uint8

const (
	DirSend Direction = iota + 1
	DirRecv
)

func (d Direction) String() string {
	switch d {
	case DirSend:
		return "send"
	case DirRecv:
		return "recv"
	default:
		return fmt.Sprintf("Direction(%d)", uint8(d))
	}
}

// Reverse returns the partner's direction.
func (d Direction) Reverse() Direction {
	if d == DirSend {
		return DirRecv
	}
	return DirSend
}

// EnvKey returns the variable a comm called name resolves its address from:
// <name>_OUT for send comms, <name>_IN for recv comms.
func EnvKey(name string, d Direction) string {
	if d == DirSend {
		return name + "_OUT"
	}
	return name + "_IN"
}

// Stats counts communicator activity in a session.
type Stats struct {
	Live      int
	AuxOpened int64
	AuxClosed int64
}

// Session owns every communicator it creates: it tracks live comms for
// CloseAll and keeps the per-transport table of generated addresses.
type Session struct {
	cfg   config.Config
	env   map[string]string
	world mpi.World

	mu    sync.Mutex
	live  map[int]*Comm
	next  int
	addrs map[string]map[string]struct{}

	seq       atomic.Uint64
	auxOpened atomic.Int64
	auxClosed atomic.Int64

	memory memoryHub
}

// NewSession returns a session. Without WithConfig the configuration comes
// from config.Load.
func NewSession(opts ...SessionOption) (*Session, error) {
	o := &sessionOptions{}
	for _, opt := range opts {
		opt(o)
	}

	var cfg config.Config
	if o.cfg != nil {
		cfg = *o.cfg
	} else {
		var err error
		if cfg, err = config.Load(); err != nil {
			return nil, err
		}
	}

	s := &Session{
		cfg:   cfg,
		env:   make(map[string]string),
		world: o.world,
		live:  make(map[int]*Comm),
		addrs: make(map[string]map[string]struct{}),
	}

	envFile := o.envFile
	if envFile == "" {
		envFile = cfg.Env.File
	}
	if envFile != "" {
		vars, err := godotenv.Read(envFile)
		if err != nil {
			return nil, fmt.Errorf("read env file: %w", err)
		}
		for k, v := range vars {
			s.env[k] = v
		}
	}
	for k, v := range o.env {
		s.env[k] = v
	}
	return s, nil
}

// Config returns the session configuration.
func (s *Session) Config() config.Config { return s.cfg }

// New creates a communicator on a freshly generated address.
func (s *Session) New(name string, dir Direction, opts ...Option) (*Comm, error) {
	return s.open(name, dir, true, opts)
}

// Init attaches a communicator to an existing address, taken from
// WithAddress or looked up under EnvKey(name, dir).
func (s *Session) Init(name string, dir Direction, opts ...Option) (*Comm, error) {
	return s.open(name, dir, false, opts)
}

// Connect attaches a communicator the way a pipeline configuration names
// it: by transport type and serializer tag plus serializer info.
func (s *Session) Connect(name string, dir Direction, transport, serializerTag, serializerInfo string, opts ...Option) (*Comm, error) {
	var all []Option
	if transport != "" {
		all = append(all, WithTransport(transport))
	}
	if serializerTag != "" {
		ser, err := serialize.New(serializerTag, serializerInfo)
		if err != nil {
			return nil, err
		}
		all = append(all, WithSerializer(ser))
	}
	return s.Init(name, dir, append(all, opts...)...)
}

func (s *Session) open(name string, dir Direction, create bool, opts []Option) (*Comm, error) {
	c, err := s.build(name, dir, create, opts)
	if err != nil {
		return nil, err
	}
	s.track(c)
	return c, nil
}

func (s *Session) build(name string, dir Direction, create bool, opts []Option) (*Comm, error) {
	if dir != DirSend && dir != DirRecv {
		return nil, fmt.Errorf("%w: %d", ErrInvalidDirection, dir)
	}
	o := &options{
		name:      name,
		dir:       dir,
		transport: s.cfg.Transport.Default,
		backoff:   s.cfg.Transport.Backoff,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.transport == "" {
		o.transport = DefaultTransport
	}
	if o.serializer == nil && o.format != "" && o.transport != TransportTable {
		ser, err := serialize.NewFormat(o.format)
		if err != nil {
			return nil, err
		}
		o.serializer = ser
	}
	return s.buildWith(o, create)
}

// buildWith constructs an untracked comm from resolved options.
func (s *Session) buildWith(o *options, create bool) (*Comm, error) {
	c := &Comm{
		session:      s,
		name:         o.name,
		dir:          o.dir,
		transport:    o.transport,
		serializer:   o.serializer,
		alwaysHeader: o.alwaysHeader,
		created:      create,
		client:       o.transport == TransportClient,
		index:        -1,
	}

	if fn, ok := lookupPattern(o.transport); ok {
		st, err := fn(s, c, o, create)
		if err != nil {
			return nil, fmt.Errorf("%s comm %q: %w", o.transport, o.name, err)
		}
		c.state = st
	} else {
		t, err := s.openTransport(o, create)
		if err != nil {
			return nil, fmt.Errorf("%s comm %q: %w", o.transport, o.name, err)
		}
		c.state = newFramed(s, t, o)
		if d, ok := t.(interface{ DefaultSerializer() serialize.Serializer }); ok && c.serializer == nil {
			c.serializer = d.DefaultSerializer()
		}
	}

	if c.serializer == nil {
		c.serializer = serialize.Direct{}
	}
	c.address = c.state.address()
	c.maxMsgSize = c.state.maxMsgSize()
	return c, nil
}

func (s *Session) openTransport(o *options, create bool) (Transport, error) {
	e, ok := lookupTransport(o.transport)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTransport, o.transport)
	}
	if create {
		o.address = ""
		return e.create(s, o)
	}
	if o.address == "" {
		addr, err := s.Lookup(o.name, o.dir)
		if err != nil {
			return nil, err
		}
		o.address = addr
	}
	return e.resolve(s, o)
}

// Lookup returns the address a comm called name resolves in direction dir.
func (s *Session) Lookup(name string, dir Direction) (string, error) {
	key := EnvKey(name, dir)
	if v, ok := s.env[key]; ok && v != "" {
		return v, nil
	}
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v, nil
	}
	return "", fmt.Errorf("%w: %s", ErrMissingAddress, key)
}

// openAux creates a send-side auxiliary transport like f's (addr empty) or
// attaches a recv-side one to addr.
func (s *Session) openAux(f *framed, addr string) (Transport, error) {
	e, ok := lookupTransport(f.kind)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTransport, f.kind)
	}
	o := f.o
	o.address = addr

	var (
		t   Transport
		err error
	)
	if addr == "" {
		o.dir = DirSend
		if p, ok := f.t.(interface{ nextPeer() int }); ok {
			o.ranks = []int{p.nextPeer()}
		}
		t, err = e.create(s, &o)
	} else {
		o.dir = DirRecv
		t, err = e.resolve(s, &o)
	}
	if err != nil {
		return nil, err
	}
	s.auxOpened.Add(1)
	return t, nil
}

// closeAux releases an auxiliary transport. With discard set the resource
// behind it is destroyed too, for a send-side auxiliary whose partner was
// never told its address.
func (s *Session) closeAux(t Transport, discard bool) error {
	s.auxClosed.Add(1)
	if d, ok := t.(interface{ discard() error }); ok && discard {
		return d.discard()
	}
	return t.Close()
}

// reserve records addr as generated for transport. It reports false when
// the address was handed out before.
func (s *Session) reserve(transport, addr string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.addrs[transport]
	if !ok {
		set = make(map[string]struct{})
		s.addrs[transport] = set
	}
	if _, dup := set[addr]; dup {
		return false
	}
	set[addr] = struct{}{}
	return true
}

func (s *Session) nextSeq() uint64 { return s.seq.Add(1) }

func (s *Session) track(c *Comm) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.index = s.next
	s.next++
	s.live[c.index] = c
}

func (s *Session) untrack(c *Comm) {
	if c.index < 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.live, c.index)
}

func (s *Session) liveComms() []*Comm {
	s.mu.Lock()
	comms := make([]*Comm, 0, len(s.live))
	for _, c := range s.live {
		comms = append(comms, c)
	}
	s.mu.Unlock()
	sort.Slice(comms, func(i, j int) bool { return comms[i].index < comms[j].index })
	return comms
}

// CloseAll closes every live comm, senders first so their EOF lands before
// receivers release shared resources.
func (s *Session) CloseAll() error {
	comms := s.liveComms()
	if len(comms) == 0 {
		return nil
	}
	log.Printf("[COMM] closing %d live comms", len(comms))

	sort.SliceStable(comms, func(i, j int) bool {
		return comms[i].dir == DirSend && comms[j].dir != DirSend
	})
	var errs []error
	for _, c := range comms {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	return errors.Join(errs...)
}

// CloseAtExit runs CloseAll from atexit handlers. Handlers run when the
// program leaves through atexit.Exit or atexit.Fatal.
func (s *Session) CloseAtExit() {
	atexit.Register(func() {
		if err := s.CloseAll(); err != nil {
			log.Printf("[COMM] close at exit: %v", err)
		}
	})
}

// Stats returns a snapshot of session counters.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	live := len(s.live)
	s.mu.Unlock()
	return Stats{
		Live:      live,
		AuxOpened: s.auxOpened.Load(),
		AuxClosed: s.auxClosed.Load(),
	}
}

// Environ returns the variables a partner process needs to attach to the
// comms this session created.
func (s *Session) Environ() map[string]string {
	env := make(map[string]string)
	for _, c := range s.liveComms() {
		if !c.created {
			continue
		}
		if e, ok := c.state.(interface{ environ(name string) map[string]string }); ok {
			for k, v := range e.environ(c.name) {
				env[k] = v
			}
			continue
		}
		env[EnvKey(c.name, c.dir.Reverse())] = c.address
	}
	return env
}

// WriteEnvFile writes Environ to path in dotenv format.
func (s *Session) WriteEnvFile(path string) error {
	return godotenv.Write(s.Environ(), path)
}
