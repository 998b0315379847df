// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package comm

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"
)

const defaultBackoff = 250 * time.Millisecond

// retrier waits out transient conditions with a fixed backoff. There is no
// attempt limit: the loop ends on success, a non-transient error, ctx, or
// the owner closing.
type retrier struct {
	what     string
	backoff  time.Duration
	logEvery int
	closed   *atomic.Bool
}

func newRetrier(s *Session, o *options, what string, closed *atomic.Bool) retrier {
	backoff := o.backoff
	if backoff <= 0 {
		backoff = defaultBackoff
	}
	return retrier{
		what:     what,
		backoff:  backoff,
		logEvery: s.cfg.Transport.LogEvery,
		closed:   closed,
	}
}

func (r retrier) do(ctx context.Context, op func() error) error {
	for attempt := 1; ; attempt++ {
		err := op()
		if err == nil || !errors.Is(err, errTransient) {
			return err
		}
		if r.closed != nil && r.closed.Load() {
			return ErrClosed
		}
		if r.logEvery > 0 && attempt%r.logEvery == 0 {
			log.Printf("[COMM] %s still waiting after %d attempts: %v", r.what, attempt, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.backoff):
		}
	}
}

// transient wraps a condition for retrier.
func transient(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errTransient, fmt.Sprintf(format, args...))
}
