// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package comm provides directional message channels between the stages of
// a multi-process pipeline.
//
// # Transport Selection
//
// A communicator runs over one of several transports, chosen per comm with
// WithTransport or for the whole process through configuration
// (transport.default, COMM_TRANSPORT_DEFAULT):
//
//	ipc      SysV message queue (default, Linux only)
//	sqlite   queue rows in a shared sqlite file
//	memory   in-session queue, for tests and single-process pipelines
//	socket   tcp or unix stream pair
//	mpi      point-to-point between ranks of an mpi.World
//	json     JSON-RPC 2.0 mailbox over HTTP
//	grpc     gRPC mailbox (requires -tags grpc)
//	file     one message per line of a text file
//	table    rows of an ASCII table
//
// Request/reply and paired channels are composed from the primitive ones:
//
//	server   receives requests, replies in request order
//	client   sends requests, matches replies by ID
//	rpc      a fixed outbound and inbound pair
//
// Build tags enable optional transports:
//
//	go build              # every transport except grpc
//	go build -tags grpc   # add the gRPC mailbox
//
// # Usage
//
// The creating process generates addresses and hands them to its partners
// through the environment:
//
//	s, err := comm.NewSession()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	s.CloseAtExit()
//
//	out, err := s.New("results", comm.DirSend)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	_ = s.WriteEnvFile("pipeline.env") // results_IN=<address>
//
//	err = out.Send(ctx, payload)
//	err = out.Close() // partner receives io.EOF
//
// The partner attaches by name:
//
//	s, err := comm.NewSession(comm.WithEnvFile("pipeline.env"))
//	in, err := s.Init("results", comm.DirRecv)
//	for {
//	    msg, err := in.RecvBytes(ctx)
//	    if errors.Is(err, io.EOF) {
//	        break
//	    }
//	}
//
// # Messages
//
// Send accepts payloads of any size. A payload larger than the transport
// frame ceiling goes out as a header frame followed by parts on an
// auxiliary channel that lives for that message only. Receivers see whole
// messages.
//
// Typed values travel through a serialize.Serializer (WithSerializer,
// WithFormat, or Session.Connect by tag):
//
//	err = out.SendTyped(ctx, serialize.String("a"), serialize.Int(1))
//	values, err := in.RecvTyped(ctx)
package comm
