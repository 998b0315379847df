//go:build grpc

// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package comm

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func init() {
	// Register gRPC transport when build tag is enabled
	registerTransport(TransportGRPC, createGRPC, resolveGRPC)
}

const grpcService = "comm.Mailbox"

// jsonCodec carries the Mailbox* bodies as JSON so no generated protobuf
// code is needed.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return "comm-json" }

func grpcMethod[A, R any](call func(box *mailbox, args *A) (*R, error)) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, _ context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
		args := new(A)
		if err := dec(args); err != nil {
			return nil, err
		}
		return call(srv.(*mailbox), args)
	}
}

var grpcServiceDesc = grpc.ServiceDesc{
	ServiceName: grpcService,
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Put",
			Handler: grpcMethod(func(box *mailbox, args *MailboxPutArgs) (*MailboxPutReply, error) {
				ok, err := box.put(args.Frame)
				return &MailboxPutReply{Accepted: ok}, err
			}),
		},
		{
			MethodName: "Take",
			Handler: grpcMethod(func(box *mailbox, _ *MailboxTakeArgs) (*MailboxTakeReply, error) {
				frame, ok, err := box.take()
				return &MailboxTakeReply{Frame: frame, Found: ok}, err
			}),
		},
		{
			MethodName: "Count",
			Handler: grpcMethod(func(box *mailbox, _ *MailboxCountArgs) (*MailboxCountReply, error) {
				return &MailboxCountReply{Count: box.count()}, nil
			}),
		},
	},
	Metadata: "comm/mailbox",
}

// grpcHost adapts grpc.Server to io.Closer.
type grpcHost struct {
	srv *grpc.Server
}

func (h grpcHost) Close() error {
	h.srv.Stop()
	return nil
}

func createGRPC(s *Session, o *options) (Transport, error) {
	box := newMailbox(s.cfg.Mailbox.Capacity)

	ln, err := net.Listen("tcp", net.JoinHostPort(s.cfg.Mailbox.Host, "0"))
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}
	addr := ln.Addr().String()
	if !s.reserve(TransportGRPC, addr) {
		ln.Close()
		return nil, fmt.Errorf("grpc address %s handed out twice", addr)
	}

	srv := grpc.NewServer(grpc.ForceServerCodec(jsonCodec{}))
	srv.RegisterService(&grpcServiceDesc, box)
	go func() {
		if err := srv.Serve(ln); err != nil {
			log.Printf("[COMM] grpc mailbox %s: %v", addr, err)
		}
	}()
	return newHostedMailbox(s, o, box, addr, grpcHost{srv: srv}), nil
}

func resolveGRPC(s *Session, o *options) (Transport, error) {
	if _, _, err := net.SplitHostPort(o.address); err != nil {
		return nil, fmt.Errorf("%w: grpc address %q: %v", ErrMissingAddress, o.address, err)
	}
	conn, err := grpc.NewClient(o.address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{})),
	)
	if err != nil {
		return nil, fmt.Errorf("grpc dial: %w", err)
	}
	return newRemoteMailbox(s, o, &grpcMailbox{conn: conn}), nil
}

// grpcMailbox calls comm.Mailbox on a remote host.
type grpcMailbox struct {
	conn *grpc.ClientConn
}

func (g *grpcMailbox) put(ctx context.Context, frame []byte) (bool, error) {
	var reply MailboxPutReply
	err := g.conn.Invoke(ctx, "/"+grpcService+"/Put", &MailboxPutArgs{Frame: frame}, &reply)
	return reply.Accepted, err
}

func (g *grpcMailbox) take(ctx context.Context) ([]byte, bool, error) {
	var reply MailboxTakeReply
	err := g.conn.Invoke(ctx, "/"+grpcService+"/Take", &MailboxTakeArgs{}, &reply)
	return reply.Frame, reply.Found, err
}

func (g *grpcMailbox) count(ctx context.Context) (int, error) {
	var reply MailboxCountReply
	err := g.conn.Invoke(ctx, "/"+grpcService+"/Count", &MailboxCountArgs{}, &reply)
	return reply.Count, err
}

func (g *grpcMailbox) close() error {
	return g.conn.Close()
}
