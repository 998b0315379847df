// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Command commctl sends and receives messages on communicators from the
// shell.
package main

func main() {
	Execute()
}
