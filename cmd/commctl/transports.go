// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/luxfi/comm"
	"github.com/luxfi/comm/config"
	"github.com/luxfi/comm/serialize"
)

var transportsCmd = &cobra.Command{
	Use:   "transports",
	Short: "List the transports and serializers built into this binary.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, name := range comm.AvailableTransports() {
			mark := ""
			if name == cfg.Transport.Default {
				mark = " (default)"
			}
			fmt.Fprintf(out, "transport  %s%s\n", name, mark)
		}
		for _, tag := range serialize.Available() {
			fmt.Fprintf(out, "serializer %s\n", tag)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(transportsCmd)
}
