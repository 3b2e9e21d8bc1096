// Copyright (c) 2026 Kata Contributors
//
// SPDX-License-Identifier: Apache-2.0
//

package vsock

import (
	"runtime"
	"sync/atomic"
)

// handle owns a single socket descriptor and releases it exactly once,
// either through close or, for handles dropped without being closed, from a
// finalizer.
type handle struct {
	ops    socketOps
	fd     int
	closed atomic.Bool
}

func newHandle(ops socketOps, fd int) *handle {
	h := &handle{ops: ops, fd: fd}
	runtime.SetFinalizer(h, (*handle).close)
	return h
}

func (h *handle) isClosed() bool {
	return h.closed.Load()
}

func (h *handle) close() error {
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}
	runtime.SetFinalizer(h, nil)
	return h.ops.close(h.fd)
}
