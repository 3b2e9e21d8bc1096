// Copyright (c) 2026 Kata Contributors
//
// SPDX-License-Identifier: Apache-2.0
//

package vsock

import (
	"errors"
	"io"
	"net"
	"runtime"

	"golang.org/x/sys/unix"
)

// Stream is a connected stream socket. It is created by Listener.Accept or
// Dial and is never reconnected: once closed it stays closed.
//
// Read and Write each issue exactly one system call. A call interrupted by
// a signal before any data moved returns (0, nil) rather than being retried.
// A recv that returns zero bytes into a non-empty buffer means the peer has
// closed its end and is reported as io.EOF.
type Stream struct {
	h      *handle
	remote net.Addr
}

func newStream(ops socketOps, fd int, remote net.Addr) *Stream {
	return &Stream{h: newHandle(ops, fd), remote: remote}
}

// Read receives at most len(p) bytes from the peer.
func (s *Stream) Read(p []byte) (int, error) {
	if s.h.isClosed() {
		return 0, &OpError{Op: OpRead, Addr: s.remote, Err: ErrClosed}
	}
	if len(p) == 0 {
		return 0, nil
	}

	n, err := s.h.ops.recv(s.h.fd, p)
	runtime.KeepAlive(s.h)
	switch {
	case errors.Is(err, unix.EINTR):
		return 0, nil
	case err != nil:
		return 0, &OpError{Op: OpRead, Addr: s.remote, Err: err}
	case n == 0:
		return 0, io.EOF
	}
	return n, nil
}

// Write sends p with a single send(2) and returns how many bytes the kernel
// accepted, which may be fewer than len(p).
func (s *Stream) Write(p []byte) (int, error) {
	if s.h.isClosed() {
		return 0, &OpError{Op: OpWrite, Addr: s.remote, Err: ErrClosed}
	}
	if len(p) == 0 {
		return 0, nil
	}

	n, err := s.h.ops.send(s.h.fd, p)
	runtime.KeepAlive(s.h)
	switch {
	case errors.Is(err, unix.EINTR):
		return 0, nil
	case err != nil:
		return 0, &OpError{Op: OpWrite, Addr: s.remote, Err: err}
	}
	return n, nil
}

// Flush always succeeds; Stream has nothing buffered.
func (s *Stream) Flush() error {
	return nil
}

// CloseRead shuts down the reading side of the connection.
func (s *Stream) CloseRead() error {
	return s.shutdown(unix.SHUT_RD)
}

// CloseWrite shuts down the writing side of the connection. The peer reads
// io.EOF once it has drained what was already sent.
func (s *Stream) CloseWrite() error {
	return s.shutdown(unix.SHUT_WR)
}

func (s *Stream) shutdown(how int) error {
	if s.h.isClosed() {
		return &OpError{Op: OpShutdown, Addr: s.remote, Err: ErrClosed}
	}
	err := s.h.ops.shutdown(s.h.fd, how)
	runtime.KeepAlive(s.h)
	if err != nil {
		return &OpError{Op: OpShutdown, Addr: s.remote, Err: err}
	}
	return nil
}

// Close releases the socket. Closing twice is a no-op.
func (s *Stream) Close() error {
	return s.h.close()
}

// Dup returns a second Stream for the same connection backed by its own
// descriptor. Each copy must be closed independently.
func (s *Stream) Dup() (*Stream, error) {
	if s.h.isClosed() {
		return nil, &OpError{Op: OpDup, Addr: s.remote, Err: ErrClosed}
	}
	fd, err := s.h.ops.dup(s.h.fd)
	runtime.KeepAlive(s.h)
	if err != nil {
		return nil, &OpError{Op: OpDup, Addr: s.remote, Err: err}
	}
	return newStream(s.h.ops, fd, s.remote), nil
}

// RemoteAddr returns the peer address, or nil if the kernel did not report one.
func (s *Stream) RemoteAddr() net.Addr {
	return s.remote
}

// Fd returns the raw connected descriptor, for use with external pollers.
// It remains owned by the Stream.
func (s *Stream) Fd() int {
	return s.h.fd
}
