// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds communicator defaults.
type Config struct {
	Transport TransportConfig `mapstructure:"transport"`
	IPC       QueueConfig     `mapstructure:"ipc"`
	SQLite    SQLiteConfig    `mapstructure:"sqlite"`
	Memory    QueueConfig     `mapstructure:"memory"`
	Socket    SocketConfig    `mapstructure:"socket"`
	Mailbox   MailboxConfig   `mapstructure:"mailbox"`
	MPI       QueueConfig     `mapstructure:"mpi"`
	File      FileConfig      `mapstructure:"file"`
	Env       EnvConfig       `mapstructure:"env"`
}

// TransportConfig holds settings shared by every transport.
type TransportConfig struct {
	Default string        `mapstructure:"default"`
	Backoff time.Duration `mapstructure:"backoff"`
	// LogEvery logs a still-pending transient condition every LogEvery retries.
	LogEvery int `mapstructure:"log_every"`
}

// QueueConfig holds frame ceiling and slot capacity of a bounded transport.
type QueueConfig struct {
	MaxMsgSize int `mapstructure:"max_msg_size"`
	Capacity   int `mapstructure:"capacity"`
}

// SQLiteConfig holds the sqlite queue transport settings.
type SQLiteConfig struct {
	Path       string `mapstructure:"path"`
	MaxMsgSize int    `mapstructure:"max_msg_size"`
	Capacity   int    `mapstructure:"capacity"`
}

// MailboxConfig holds settings of the hosted mailbox transports (json, grpc).
type MailboxConfig struct {
	Host       string `mapstructure:"host"`
	MaxMsgSize int    `mapstructure:"max_msg_size"`
	Capacity   int    `mapstructure:"capacity"`
	// Linger bounds how long a sending host keeps serving its mailbox after
	// close so the remote side can drain it.
	Linger time.Duration `mapstructure:"linger"`
}

// SocketConfig holds socket pair settings.
type SocketConfig struct {
	Network    string `mapstructure:"network"`
	Host       string `mapstructure:"host"`
	MaxMsgSize int    `mapstructure:"max_msg_size"`
}

// FileConfig holds file and table transport settings.
type FileConfig struct {
	Dir     string `mapstructure:"dir"`
	Comment string `mapstructure:"comment"`
}

// EnvConfig names an optional dotenv file of communicator addresses.
type EnvConfig struct {
	File string `mapstructure:"file"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("transport.default", "ipc")
	v.SetDefault("transport.backoff", "250ms")
	v.SetDefault("transport.log_every", 40)
	v.SetDefault("ipc.max_msg_size", 2048)
	v.SetDefault("sqlite.path", filepath.Join(os.TempDir(), "comm-queues.db"))
	v.SetDefault("sqlite.max_msg_size", 2048)
	v.SetDefault("sqlite.capacity", 64)
	v.SetDefault("memory.max_msg_size", 2048)
	v.SetDefault("memory.capacity", 64)
	v.SetDefault("socket.network", "tcp")
	v.SetDefault("socket.host", "127.0.0.1")
	v.SetDefault("socket.max_msg_size", 1<<20)
	v.SetDefault("mailbox.max_msg_size", 1<<20)
	v.SetDefault("mailbox.capacity", 64)
	v.SetDefault("mailbox.host", "127.0.0.1")
	v.SetDefault("mailbox.linger", "10s")
	v.SetDefault("mpi.max_msg_size", 1<<20)
	v.SetDefault("file.dir", os.TempDir())
	v.SetDefault("file.comment", "#")
	v.SetDefault("env.file", "")
}

// Default returns the built-in configuration without reading files or the
// environment.
func Default() Config {
	v := viper.New()
	setDefaults(v)
	var c Config
	// Defaults always decode.
	_ = v.Unmarshal(&c)
	return c
}

// Load reads configuration from file and env. Env var overrides use prefix
// COMM_, e.g. COMM_SOCKET_NETWORK=unix. The file is taken from COMM_CONFIG or
// comm.toml in the user config directory.
func Load() (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType("toml")

	cfgPath := os.Getenv("COMM_CONFIG")
	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "comm"))
		}
		v.SetConfigName("comm")
	}

	v.SetEnvPrefix("COMM")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// a missing default file is fine, an explicit one must exist
	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); cfgPath != "" || !notFound {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return c, nil
}
