// Copyright (c) 2026 Kata Contributors
//
// SPDX-License-Identifier: Apache-2.0
//

package vsock

import (
	"fmt"
	"net"
)

// Failure stages reported in OpError.Op.
const (
	OpSocket   = "Create socket failed"
	OpBind     = "Bind failed"
	OpListen   = "Listen failed"
	OpAccept   = "Accept failed"
	OpConnect  = "Failed to connect"
	OpRead     = "Read failed"
	OpWrite    = "Write failed"
	OpShutdown = "Shutdown failed"
	OpDup      = "Dup failed"
	OpClose    = "Close failed"
)

// ErrClosed is returned by operations on a closed Listener or Stream.
var ErrClosed = net.ErrClosed

// OpError describes which stage of a socket operation failed. Err is
// usually a unix.Errno, so errors.Is(err, unix.ECONNREFUSED) and friends
// work through it.
type OpError struct {
	Op   string
	Addr net.Addr
	Err  error
}

func (e *OpError) Error() string {
	if e.Addr == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s (%s): %v", e.Op, FormatAddr(e.Addr), e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}
