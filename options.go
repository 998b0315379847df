// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package comm

import (
	"time"

	"github.com/luxfi/comm/config"
	"github.com/luxfi/comm/mpi"
	"github.com/luxfi/comm/serialize"
)

// Option configures a communicator
type Option func(*options)

type options struct {
	name       string
	dir        Direction
	address    string
	transport  string
	base       string // primitive transport under server/client/rpc
	serializer serialize.Serializer

	maxMsgSize   int
	alwaysHeader bool
	backoff      time.Duration

	format     string
	tableArray bool
	fileHeader string
	network    string
	ranks      []int
}

// WithTransport explicitly sets the transport type
func WithTransport(t string) Option {
	return func(o *options) { o.transport = t }
}

// WithBaseTransport sets the primitive transport a server, client or rpc
// comm is built on.
func WithBaseTransport(t string) Option {
	return func(o *options) { o.base = t }
}

// WithAddress attaches to addr instead of looking the name up in the
// environment.
func WithAddress(addr string) Option {
	return func(o *options) { o.address = addr }
}

// WithSerializer sets the serializer used by SendTyped and RecvTyped
func WithSerializer(s serialize.Serializer) Option {
	return func(o *options) { o.serializer = s }
}

// WithMaxMsgSize overrides the transport frame ceiling
func WithMaxMsgSize(n int) Option {
	return func(o *options) { o.maxMsgSize = n }
}

// WithAlwaysHeader makes every message carry a header
func WithAlwaysHeader() Option {
	return func(o *options) { o.alwaysHeader = true }
}

// WithBackoff sets the wait between retries of a transient condition
func WithBackoff(d time.Duration) Option {
	return func(o *options) { o.backoff = d }
}

// WithFormat sets the table format, or the format serializer when no
// serializer is given.
func WithFormat(format string) Option {
	return func(o *options) { o.format = format }
}

// WithTableArray switches the table transport to whole-column messages
func WithTableArray() Option {
	return func(o *options) { o.tableArray = true }
}

// WithFileHeader sets a comment line written once when a file comm opens
// for sending.
func WithFileHeader(line string) Option {
	return func(o *options) { o.fileHeader = line }
}

// WithNetwork selects "tcp" or "unix" for the socket transport
func WithNetwork(network string) Option {
	return func(o *options) { o.network = network }
}

// WithRanks sets the partner ranks of a new mpi comm
func WithRanks(ranks ...int) Option {
	return func(o *options) { o.ranks = ranks }
}

// SessionOption configures a session
type SessionOption func(*sessionOptions)

type sessionOptions struct {
	cfg     *config.Config
	envFile string
	env     map[string]string
	world   mpi.World
}

// WithConfig uses cfg instead of config.Load
func WithConfig(cfg config.Config) SessionOption {
	return func(o *sessionOptions) { o.cfg = &cfg }
}

// WithEnvFile resolves addresses from a dotenv file before the process
// environment.
func WithEnvFile(path string) SessionOption {
	return func(o *sessionOptions) { o.envFile = path }
}

// WithEnv resolves addresses from env before the process environment
func WithEnv(env map[string]string) SessionOption {
	return func(o *sessionOptions) { o.env = env }
}

// WithMPIWorld sets the world the mpi transport runs on
func WithMPIWorld(w mpi.World) SessionOption {
	return func(o *sessionOptions) { o.world = w }
}
