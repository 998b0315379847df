// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package comm

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

var errBoom = errors.New("boom")

// mockFramed frames over a mocked transport. Auxiliary comms are memory
// queues of s.
func mockFramed(t *testing.T, s *Session, max int, opts ...Option) (*framed, *MockTransport) {
	t.Helper()
	m := NewMockTransport(gomock.NewController(t))
	m.EXPECT().MaxMsgSize().Return(max).AnyTimes()
	o := &options{name: "mock", transport: TransportMemory}
	for _, opt := range opts {
		opt(o)
	}
	return newFramed(s, m, o), m
}

func TestFramedBareSend(t *testing.T) {
	ctx := testContext(t)
	f, m := mockFramed(t, newTestSession(t), 16)

	m.EXPECT().Send(gomock.Any(), []byte("hi")).Return(nil)
	require.NoError(t, f.send(ctx, []byte("hi")))

	m.EXPECT().Send(gomock.Any(), eofMessage).Return(nil)
	require.NoError(t, f.sendEOF(ctx))

	m.EXPECT().Send(gomock.Any(), gomock.Any()).Return(errBoom)
	require.ErrorIs(t, f.send(ctx, []byte("x")), errBoom)
}

func TestFramedAlwaysHeader(t *testing.T) {
	ctx := testContext(t)
	f, m := mockFramed(t, newTestSession(t), 0, WithAlwaysHeader())

	var sent []byte
	m.EXPECT().Send(gomock.Any(), gomock.Cond(func(x any) bool {
		return HasHeader(x.([]byte))
	})).DoAndReturn(func(_ context.Context, frame []byte) error {
		sent = frame
		return nil
	})
	require.NoError(t, f.send(ctx, []byte("hi")))

	h, n, err := DecodeHeader(sent)
	require.NoError(t, err)
	require.NotEmpty(t, h.ID)
	require.Equal(t, 2, h.Size)
	require.False(t, h.Multipart)
	require.Equal(t, "hi", string(sent[n:]))
}

func TestFramedMultipartLoop(t *testing.T) {
	ctx := testContext(t)
	s := newTestSession(t)
	sender, out := mockFramed(t, s, 128, WithMaxMsgSize(50))
	receiver, in := mockFramed(t, s, 128, WithMaxMsgSize(50))

	var header []byte
	out.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, frame []byte) error {
		header = frame
		return nil
	})
	want := payload(300)
	require.NoError(t, sender.send(ctx, want))

	h, n, err := DecodeHeader(header)
	require.NoError(t, err)
	require.True(t, h.Multipart)
	require.Equal(t, 300, h.Size)
	require.Equal(t, len(header), n)

	in.EXPECT().Recv(gomock.Any()).Return(header, nil)
	got, err := receiver.recv(ctx)
	require.NoError(t, err)
	requireSameBytes(t, want, got)

	st := s.Stats()
	require.Equal(t, int64(2), st.AuxOpened)
	require.Equal(t, int64(2), st.AuxClosed)
	require.Zero(t, s.memory.size())
}

func TestFramedMultipartInline(t *testing.T) {
	ctx := testContext(t)
	s := newTestSession(t)
	f, m := mockFramed(t, s, 0)

	frame := append(Header{ID: "a", Size: 3, Multipart: true, Address: "mem://none"}.Encode(), "abc"...)
	m.EXPECT().Recv(gomock.Any()).Return(frame, nil)
	got, err := f.recv(ctx)
	require.NoError(t, err)
	require.Equal(t, "abc", string(got))
	require.Zero(t, s.Stats().AuxOpened)
}

func TestFramedRecvErrors(t *testing.T) {
	tests := []struct {
		name  string
		frame []byte
		err   error
		want  error
	}{
		{"transport error", nil, errBoom, errBoom},
		{"eof", EOFMessage(), nil, io.EOF},
		{"malformed", []byte(headerMagic + "id=a"), nil, ErrMalformedHeader},
		{"short body", append(Header{ID: "a", Size: 5}.Encode(), "abc"...), nil, ErrSizeMismatch},
		{"long body", append(Header{ID: "a", Size: 2}.Encode(), "abc"...), nil, ErrSizeMismatch},
		{
			"inline overruns",
			append(Header{ID: "a", Size: 2, Multipart: true, Address: "mem://none"}.Encode(), "abc"...),
			nil, ErrSizeMismatch,
		},
		{
			"missing auxiliary",
			append(Header{ID: "a", Size: 5, Multipart: true, Address: "mem://none"}.Encode(), "ab"...),
			nil, ErrMissingAddress,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := testContext(t)
			f, m := mockFramed(t, newTestSession(t), 0)
			m.EXPECT().Recv(gomock.Any()).Return(tt.frame, tt.err)
			_, err := f.recv(ctx)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestFramedHeaderTooLargeReleasesAuxiliary(t *testing.T) {
	ctx := testContext(t)
	s := newTestSession(t)
	f, _ := mockFramed(t, s, 20)

	err := f.send(ctx, payload(100))
	require.ErrorIs(t, err, ErrMessageTooLarge)
	st := s.Stats()
	require.Equal(t, int64(1), st.AuxOpened)
	require.Equal(t, int64(1), st.AuxClosed)
	require.Zero(t, s.memory.size())
}

func TestFramedUndeliveredHeaderDiscardsAuxiliary(t *testing.T) {
	ctx := testContext(t)
	s := newTestSession(t)
	f, m := mockFramed(t, s, 100)

	m.EXPECT().Send(gomock.Any(), gomock.Any()).Return(errBoom)
	require.ErrorIs(t, f.send(ctx, payload(1000)), errBoom)
	require.Equal(t, int64(1), s.Stats().AuxClosed)
	require.Zero(t, s.memory.size())
}
