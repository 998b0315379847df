// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package comm

import (
	"context"
	"fmt"
	"io"
	"log"

	"github.com/rs/xid"
)

// framed carries messages of any size over a primitive transport. A
// message travels bare when it fits one frame and needs no routing; it is
// prefixed with a header otherwise. A message whose header and body do not
// fit one frame is multipart: the header goes out alone and the body
// follows on an auxiliary transport opened for this message only.
type framed struct {
	s            *Session
	t            Transport
	kind         string
	o            options
	alwaysHeader bool
}

func newFramed(s *Session, t Transport, o *options) *framed {
	return &framed{
		s:            s,
		t:            t,
		kind:         o.transport,
		o:            *o,
		alwaysHeader: o.alwaysHeader,
	}
}

func (f *framed) address() string { return f.t.Address() }
func (f *framed) maxMsgSize() int { return f.t.MaxMsgSize() }
func (f *framed) close() error    { return f.t.Close() }

func (f *framed) pending(ctx context.Context) (int, error) {
	return f.t.Pending(ctx)
}

func (f *framed) send(ctx context.Context, payload []byte) error {
	return f.sendMessage(ctx, payload, Header{})
}

func (f *framed) sendEOF(ctx context.Context) error {
	return f.t.Send(ctx, eofMessage)
}

func (f *framed) recv(ctx context.Context) ([]byte, error) {
	_, body, err := f.recvMessage(ctx)
	return body, err
}

func (f *framed) needsHeader(payload []byte, h Header) bool {
	if f.alwaysHeader || h.ID != "" || h.Response != "" {
		return true
	}
	if max := f.t.MaxMsgSize(); max > 0 && len(payload) > max {
		return true
	}
	// bare bodies that would read as protocol frames
	return HasHeader(payload) || IsEOF(payload)
}

// sendMessage sends payload with h filled in as needed. Callers set ID or
// Response in h to route the message.
func (f *framed) sendMessage(ctx context.Context, payload []byte, h Header) error {
	if !f.needsHeader(payload, h) {
		return f.t.Send(ctx, payload)
	}

	if h.ID == "" {
		h.ID = xid.New().String()
	}
	h.Size = len(payload)

	max := f.t.MaxMsgSize()
	frame := h.Encode()
	if max == 0 || len(frame)+len(payload) <= max {
		return f.t.Send(ctx, append(frame, payload...))
	}
	return f.sendMultipart(ctx, payload, h)
}

func (f *framed) sendMultipart(ctx context.Context, payload []byte, h Header) (err error) {
	aux, err := f.s.openAux(f, "")
	if err != nil {
		return fmt.Errorf("open auxiliary comm: %w", err)
	}
	delivered := false
	defer func() {
		if cerr := f.s.closeAux(aux, !delivered); cerr != nil {
			log.Printf("[COMM] release auxiliary comm %s: %v", aux.Address(), cerr)
			if err == nil {
				err = cerr
			}
		}
	}()

	h.Multipart = true
	h.Address = aux.Address()
	frame := h.Encode()
	if max := f.t.MaxMsgSize(); len(frame) > max {
		return fmt.Errorf("%w: header alone is %d bytes", ErrMessageTooLarge, len(frame))
	}
	if err := f.t.Send(ctx, frame); err != nil {
		return err
	}
	delivered = true

	chunk := aux.MaxMsgSize()
	if chunk <= 0 {
		chunk = len(payload)
	}
	for off := 0; off < len(payload); off += chunk {
		end := min(off+chunk, len(payload))
		if err := aux.Send(ctx, payload[off:end]); err != nil {
			return fmt.Errorf("send part at %d: %w", off, err)
		}
	}
	return nil
}

// recvMessage reads one message. End of stream is io.EOF. A partially
// received multipart body is discarded on error.
func (f *framed) recvMessage(ctx context.Context) (Header, []byte, error) {
	frame, err := f.t.Recv(ctx)
	if err != nil {
		return Header{}, nil, err
	}
	if IsEOF(frame) {
		return Header{}, nil, io.EOF
	}
	if !HasHeader(frame) {
		return Header{}, frame, nil
	}

	h, n, err := DecodeHeader(frame)
	if err != nil {
		return Header{}, nil, err
	}
	body := frame[n:]
	if !h.Multipart {
		if len(body) != h.Size {
			return Header{}, nil, fmt.Errorf("%w: header says %d, frame holds %d", ErrSizeMismatch, h.Size, len(body))
		}
		return h, body, nil
	}
	if len(body) > h.Size {
		return Header{}, nil, fmt.Errorf("%w: inline part %d exceeds %d", ErrSizeMismatch, len(body), h.Size)
	}

	out := make([]byte, h.Size)
	got := copy(out, body)
	if got == h.Size {
		return h, out, nil
	}
	if err := f.recvParts(ctx, h.Address, out, got); err != nil {
		return Header{}, nil, err
	}
	return h, out, nil
}

func (f *framed) recvParts(ctx context.Context, addr string, out []byte, got int) (err error) {
	aux, err := f.s.openAux(f, addr)
	if err != nil {
		return fmt.Errorf("attach auxiliary comm: %w", err)
	}
	defer func() {
		if cerr := f.s.closeAux(aux, false); cerr != nil {
			log.Printf("[COMM] release auxiliary comm %s: %v", addr, cerr)
			if err == nil {
				err = cerr
			}
		}
	}()

	for got < len(out) {
		part, err := aux.Recv(ctx)
		if err != nil {
			return fmt.Errorf("receive part at %d: %w", got, err)
		}
		if IsEOF(part) || got+len(part) > len(out) {
			return fmt.Errorf("%w: part of %d bytes at %d of %d", ErrSizeMismatch, len(part), got, len(out))
		}
		got += copy(out[got:], part)
	}
	return nil
}
