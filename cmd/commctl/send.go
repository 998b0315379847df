// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"bufio"
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/luxfi/comm"
)

var sendCmd = &cobra.Command{
	Use:   "send NAME",
	Short: "Send stdin to a communicator, one message per line.",
	Long: "`send NAME` reads stdin and sends every line as one message, then " +
		"closes the communicator so the receiver sees end of stream.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, c, err := openComm(cmd, args[0], comm.DirSend)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		if d := timeout(cmd); d > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}

		sc := bufio.NewScanner(cmd.InOrStdin())
		sc.Buffer(make([]byte, 64*1024), 64<<20)
		n := 0
		for sc.Scan() {
			if err := c.Send(ctx, sc.Bytes()); err != nil {
				return fmt.Errorf("send message %d: %w", n+1, err)
			}
			n++
		}
		if err := sc.Err(); err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		if err := c.Close(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "sent %d messages\n", n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)
}
