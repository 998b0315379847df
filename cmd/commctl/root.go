// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"fmt"
	"log"
	"time"

	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"

	"github.com/luxfi/comm"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "commctl",
	Short: "commctl moves messages through pipeline communicators.",
	Long: `commctl moves messages through pipeline communicators. ` +
		`It can create a communicator and publish its address in a dotenv ` +
		`file, or attach to one created by another process.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		atexit.Exit(1)
	}
	atexit.Exit(0)
}

func init() {
	f := rootCmd.PersistentFlags()
	f.String("transport", "", "transport type (default from config)")
	f.String("base", "", "primitive transport under server, client or rpc")
	f.String("address", "", "attach to this address instead of looking the name up")
	f.String("env-file", "", "dotenv file of communicator addresses")
	f.Bool("new", false, "create the communicator and publish its address")
	f.String("publish", "comm.env", "file the address of a new communicator is written to")
	f.Int("max-msg-size", 0, "frame ceiling override")
	f.Duration("timeout", 0, "give up after this long (0 waits forever)")
}

// openComm builds a session from config and flags and opens name in dir.
func openComm(cmd *cobra.Command, name string, dir comm.Direction) (*comm.Session, *comm.Comm, error) {
	f := cmd.Flags()
	envFile, _ := f.GetString("env-file")

	var sopts []comm.SessionOption
	if envFile != "" {
		sopts = append(sopts, comm.WithEnvFile(envFile))
	}
	s, err := comm.NewSession(sopts...)
	if err != nil {
		return nil, nil, err
	}
	s.CloseAtExit()

	var opts []comm.Option
	if v, _ := f.GetString("transport"); v != "" {
		opts = append(opts, comm.WithTransport(v))
	}
	if v, _ := f.GetString("base"); v != "" {
		opts = append(opts, comm.WithBaseTransport(v))
	}
	if v, _ := f.GetString("address"); v != "" {
		opts = append(opts, comm.WithAddress(v))
	}
	if v, _ := f.GetInt("max-msg-size"); v > 0 {
		opts = append(opts, comm.WithMaxMsgSize(v))
	}

	create, _ := f.GetBool("new")
	if !create {
		c, err := s.Init(name, dir, opts...)
		return s, c, err
	}

	c, err := s.New(name, dir, opts...)
	if err != nil {
		return s, nil, err
	}
	publish, _ := f.GetString("publish")
	if err := s.WriteEnvFile(publish); err != nil {
		return s, c, fmt.Errorf("publish address: %w", err)
	}
	log.Printf("[COMM] %s %s comm at %s, partner env in %s", c.Transport(), dir, c.Address(), publish)
	return s, c, nil
}

func timeout(cmd *cobra.Command) time.Duration {
	d, _ := cmd.Flags().GetDuration("timeout")
	return d
}
