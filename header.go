// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package comm

import (
	"bytes"
	"fmt"
	"net/url"
	"strconv"
)

// Wire layout of a header frame:
//
//	COMM_HDR{id=<id>&size=<n>[&multipart=1][&address=<aux>][&response=<addr>]}<body>
//
// The fields are form encoded so '}' never appears inside the braces.
const (
	headerMagic = "COMM_HDR{"
	headerClose = '}'
)

var eofMessage = []byte("COMM_EOF!!")

// Header describes the message that follows it.
type Header struct {
	// ID is unique per message; replies echo the request ID.
	ID string

	// Size is the total body length in bytes.
	Size int

	// Multipart is set when the body does not travel in the header frame
	// alone and continues on the comm at Address.
	Multipart bool

	// Address of the auxiliary comm carrying the rest of a multipart body.
	Address string

	// Response is the address a request/reply server answers on.
	Response string
}

// Encode returns the header frame without body.
func (h Header) Encode() []byte {
	v := url.Values{}
	v.Set("id", h.ID)
	v.Set("size", strconv.Itoa(h.Size))
	if h.Multipart {
		v.Set("multipart", "1")
	}
	if h.Address != "" {
		v.Set("address", h.Address)
	}
	if h.Response != "" {
		v.Set("response", h.Response)
	}
	enc := v.Encode()

	buf := make([]byte, 0, len(headerMagic)+len(enc)+1)
	buf = append(buf, headerMagic...)
	buf = append(buf, enc...)
	return append(buf, headerClose)
}

// DecodeHeader parses the header at the start of frame and returns it with
// the offset of the first body byte.
func DecodeHeader(frame []byte) (Header, int, error) {
	if !HasHeader(frame) {
		return Header{}, 0, fmt.Errorf("%w: missing prefix", ErrMalformedHeader)
	}
	rest := frame[len(headerMagic):]
	end := bytes.IndexByte(rest, headerClose)
	if end < 0 {
		return Header{}, 0, fmt.Errorf("%w: unterminated", ErrMalformedHeader)
	}
	v, err := url.ParseQuery(string(rest[:end]))
	if err != nil {
		return Header{}, 0, fmt.Errorf("%w: %v", ErrMalformedHeader, err)
	}

	h := Header{
		ID:        v.Get("id"),
		Multipart: v.Get("multipart") == "1",
		Address:   v.Get("address"),
		Response:  v.Get("response"),
	}
	if h.ID == "" {
		return Header{}, 0, fmt.Errorf("%w: no id", ErrMalformedHeader)
	}
	h.Size, err = strconv.Atoi(v.Get("size"))
	if err != nil || h.Size < 0 {
		return Header{}, 0, fmt.Errorf("%w: bad size %q", ErrMalformedHeader, v.Get("size"))
	}
	if h.Multipart && h.Address == "" {
		return Header{}, 0, fmt.Errorf("%w: multipart without address", ErrMalformedHeader)
	}
	return h, len(headerMagic) + end + 1, nil
}

// HasHeader reports whether frame starts with a header.
func HasHeader(frame []byte) bool {
	return bytes.HasPrefix(frame, []byte(headerMagic))
}

// IsEOF reports whether frame is the end-of-stream sentinel.
func IsEOF(frame []byte) bool {
	return bytes.Equal(frame, eofMessage)
}

// EOFMessage returns a copy of the end-of-stream sentinel.
func EOFMessage() []byte {
	return bytes.Clone(eofMessage)
}
