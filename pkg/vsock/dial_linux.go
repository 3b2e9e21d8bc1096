// Copyright (c) 2026 Kata Contributors
//
// SPDX-License-Identifier: Apache-2.0
//

package vsock

import (
	"context"
	"fmt"
	"math"
	"net"
	"time"

	"github.com/hashicorp/go-multierror"
)

const (
	// DefaultDialAttempts is the number of connect attempts made by Dial.
	DefaultDialAttempts = 5
	// DefaultBaseDelay is the wait after the first failed attempt. It
	// doubles after every further failure: 1s, 2s, 4s, 8s, 16s.
	DefaultBaseDelay = time.Second

	// maxDelay bounds a single backoff wait once doubling would overflow.
	maxDelay = time.Duration(math.MaxInt64)
)

// DefaultDialer is used by Dial.
var DefaultDialer = &Dialer{}

// sleepFunc waits for d or until ctx is done. Tests replace it.
var sleepFunc = func(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Dialer connects to a peer that may not be listening yet, such as an agent
// that is still booting inside a freshly started VM.
type Dialer struct {
	// Attempts is the number of connect attempts. Zero means
	// DefaultDialAttempts.
	Attempts int

	// BaseDelay is the wait after the first failure; attempt n (counting
	// from zero) is followed by a wait of BaseDelay << n. Zero means
	// DefaultBaseDelay.
	BaseDelay time.Duration

	// KeepAllErrors reports the failure of every attempt instead of only
	// the last one.
	KeepAllErrors bool

	// OnRetry, if set, is called after each failed attempt, before the
	// backoff wait. attempt counts from one.
	OnRetry func(attempt int, err error)
}

// Dial connects to addr using DefaultDialer.
func Dial(addr net.Addr) (*Stream, error) {
	return DefaultDialer.Dial(addr)
}

// Dial connects to addr, blocking the caller through every backoff wait.
func (d *Dialer) Dial(addr net.Addr) (*Stream, error) {
	return d.DialContext(context.Background(), addr)
}

// DialContext is like Dial, but a done ctx cuts the current backoff wait
// short. A connect(2) already in progress is not interrupted.
func (d *Dialer) DialContext(ctx context.Context, addr net.Addr) (*Stream, error) {
	ops := sysOps

	family, sa, err := sockaddr(addr)
	if err != nil {
		return nil, &OpError{Op: OpSocket, Addr: addr, Err: err}
	}

	var (
		lastErr error
		allErrs *multierror.Error
	)

	for attempt := 0; attempt < d.attempts(); attempt++ {
		fd, err := ops.socket(family)
		if err != nil {
			return nil, &OpError{Op: OpSocket, Addr: addr, Err: err}
		}

		err = ops.connect(fd, sa)
		if err == nil {
			return newStream(ops, fd, addr), nil
		}
		ops.close(fd)

		lastErr = &OpError{Op: OpConnect, Addr: addr, Err: err}
		if d.KeepAllErrors {
			allErrs = multierror.Append(allErrs, fmt.Errorf("attempt %d: %w", attempt+1, lastErr))
		}
		if d.OnRetry != nil {
			d.OnRetry(attempt+1, lastErr)
		}

		if err := sleepFunc(ctx, d.delay(attempt)); err != nil {
			return nil, multierror.Append(err, d.result(lastErr, allErrs))
		}
	}

	return nil, d.result(lastErr, allErrs)
}

func (d *Dialer) result(lastErr error, allErrs *multierror.Error) error {
	if d.KeepAllErrors && allErrs != nil {
		return allErrs.ErrorOrNil()
	}
	return lastErr
}

func (d *Dialer) attempts() int {
	if d.Attempts <= 0 {
		return DefaultDialAttempts
	}
	return d.Attempts
}

// delay returns the wait that follows the failure of attempt (from zero),
// saturating at maxDelay.
func (d *Dialer) delay(attempt int) time.Duration {
	base := d.BaseDelay
	if base <= 0 {
		base = DefaultBaseDelay
	}
	if attempt >= 63 || base > maxDelay>>uint(attempt) {
		return maxDelay
	}
	return base << uint(attempt)
}
