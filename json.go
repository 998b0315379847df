// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package comm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/rpc/v2"
	"github.com/gorilla/rpc/v2/json2"
)

func init() {
	registerTransport(TransportJSON, createJSON, resolveJSON)
}

const (
	maxRetries    = 3
	retryBaseWait = 500 * time.Millisecond
)

// Mailbox request and reply bodies. They travel as JSON-RPC 2.0 params and
// results, and as JSON messages on the grpc transport.
type MailboxPutArgs struct {
	Frame []byte `json:"frame"`
}

type MailboxPutReply struct {
	Accepted bool `json:"accepted"`
}

type MailboxTakeArgs struct{}

type MailboxTakeReply struct {
	Frame []byte `json:"frame"`
	Found bool   `json:"found"`
}

type MailboxCountArgs struct{}

type MailboxCountReply struct {
	Count int `json:"count"`
}

// MailboxService serves a hosted mailbox as the JSON-RPC service "Mailbox".
type MailboxService struct {
	box *mailbox
}

func (s *MailboxService) Put(_ *http.Request, args *MailboxPutArgs, reply *MailboxPutReply) error {
	ok, err := s.box.put(args.Frame)
	reply.Accepted = ok
	return err
}

func (s *MailboxService) Take(_ *http.Request, _ *MailboxTakeArgs, reply *MailboxTakeReply) error {
	frame, ok, err := s.box.take()
	reply.Frame, reply.Found = frame, ok
	return err
}

func (s *MailboxService) Count(_ *http.Request, _ *MailboxCountArgs, reply *MailboxCountReply) error {
	reply.Count = s.box.count()
	return nil
}

// createJSON hosts a mailbox at http://host:port/rpc.
func createJSON(s *Session, o *options) (Transport, error) {
	box := newMailbox(s.cfg.Mailbox.Capacity)

	srv := rpc.NewServer()
	srv.RegisterCodec(json2.NewCodec(), "application/json")
	if err := srv.RegisterService(&MailboxService{box: box}, "Mailbox"); err != nil {
		return nil, fmt.Errorf("register mailbox service: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/rpc", srv)

	ln, err := net.Listen("tcp", net.JoinHostPort(s.cfg.Mailbox.Host, "0"))
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}
	addr := "http://" + ln.Addr().String() + "/rpc"
	if !s.reserve(TransportJSON, addr) {
		ln.Close()
		return nil, fmt.Errorf("json address %s handed out twice", addr)
	}

	hs := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := hs.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[COMM] mailbox %s: %v", addr, err)
		}
	}()
	return newHostedMailbox(s, o, box, addr, hs), nil
}

func resolveJSON(s *Session, o *options) (Transport, error) {
	if !strings.HasPrefix(o.address, "http://") && !strings.HasPrefix(o.address, "https://") {
		return nil, fmt.Errorf("%w: json address %q is not a URL", ErrMissingAddress, o.address)
	}
	return newRemoteMailbox(s, o, &jsonMailbox{uri: o.address}), nil
}

// jsonMailbox calls Mailbox.* on a remote host.
type jsonMailbox struct {
	uri string
}

func (j *jsonMailbox) put(ctx context.Context, frame []byte) (bool, error) {
	var reply MailboxPutReply
	err := sendJSONRequest(ctx, j.uri, "Mailbox.Put", &MailboxPutArgs{Frame: frame}, &reply)
	return reply.Accepted, err
}

func (j *jsonMailbox) take(ctx context.Context) ([]byte, bool, error) {
	var reply MailboxTakeReply
	err := sendJSONRequest(ctx, j.uri, "Mailbox.Take", &MailboxTakeArgs{}, &reply)
	return reply.Frame, reply.Found, err
}

func (j *jsonMailbox) count(ctx context.Context) (int, error) {
	var reply MailboxCountReply
	err := sendJSONRequest(ctx, j.uri, "Mailbox.Count", &MailboxCountArgs{}, &reply)
	return reply.Count, err
}

func (j *jsonMailbox) close() error { return nil }

// newHTTPClient creates a fresh HTTP client with disabled connection reuse.
func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			DisableKeepAlives: true,
		},
	}
}

// CleanlyCloseBody drains and closes an HTTP response body so the
// connection is not torn down with unread data.
func CleanlyCloseBody(body io.ReadCloser) error {
	if body == nil {
		return nil
	}
	_, _ = io.Copy(io.Discard, body)
	return body.Close()
}

// isRetryableError checks if an error is transient and worth retrying
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	if errors.Is(err, io.EOF) || strings.Contains(errStr, "EOF") {
		return true
	}
	return strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "broken pipe")
}

// shouldRetry limits retries of Mailbox.Put and Mailbox.Take, which are not
// idempotent, to errors where the request never reached the host.
func shouldRetry(method string, err error) bool {
	if method == "Mailbox.Count" {
		return isRetryableError(err)
	}
	return err != nil && strings.Contains(err.Error(), "connection refused")
}

func sendJSONRequest(ctx context.Context, uri, method string, params, reply any) error {
	requestBodyBytes, err := json2.EncodeClientRequest(method, params)
	if err != nil {
		return fmt.Errorf("failed to encode client params: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			// 500ms, 1s
			waitTime := retryBaseWait * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(waitTime):
			}
		}

		// body buffer is consumed by each attempt
		request, err := http.NewRequestWithContext(ctx, http.MethodPost, uri, bytes.NewBuffer(requestBodyBytes))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		request.Header.Set("Content-Type", "application/json")

		resp, err := newHTTPClient().Do(request)
		if err != nil {
			lastErr = err
			retry := shouldRetry(method, err)
			log.Printf("[COMM] %s attempt %d failed: %v (retryable=%v)", method, attempt+1, err, retry)
			if retry {
				continue
			}
			return fmt.Errorf("failed to issue request: %w", err)
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			CleanlyCloseBody(resp.Body)
			return fmt.Errorf("received status code: %d", resp.StatusCode)
		}

		err = json2.DecodeClientResponse(resp.Body, reply)
		CleanlyCloseBody(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to decode client response: %w", err)
		}
		return nil
	}

	return fmt.Errorf("failed to issue request after %d retries: %w", maxRetries, lastErr)
}
