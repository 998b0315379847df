// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/luxfi/comm"
)

var recvCmd = &cobra.Command{
	Use:   "recv NAME",
	Short: "Print messages from a communicator until end of stream.",
	Long: "`recv NAME` receives messages and prints each on its own line. " +
		"With --count it stops after that many messages.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, c, err := openComm(cmd, args[0], comm.DirRecv)
		if err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("count")

		ctx := cmd.Context()
		if d := timeout(cmd); d > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}

		out := cmd.OutOrStdout()
		var buf []byte
		for n := 0; limit <= 0 || n < limit; n++ {
			var size int
			size, buf, err = c.Recv(ctx, buf, true)
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("receive message %d: %w", n+1, err)
			}
			fmt.Fprintf(out, "%s\n", buf[:size])
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(recvCmd)
	recvCmd.Flags().Int("count", 0, "stop after this many messages")
}
