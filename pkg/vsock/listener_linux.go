// Copyright (c) 2026 Kata Contributors
//
// SPDX-License-Identifier: Apache-2.0
//

package vsock

import (
	"errors"
	"net"
	"runtime"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// listenBacklog is the number of pending connections queued by the kernel.
const listenBacklog = 128

// Listener accepts stream connections on a bound local address.
//
// Accept may be called from several goroutines at once; the package adds no
// locking of its own, so that is exactly as safe as accept(2) on a shared
// descriptor.
type Listener struct {
	h       *handle
	addr    net.Addr
	closing atomic.Bool

	// path is the unix socket file created by bind, removed on Close.
	path string
}

// Listen creates a socket for addr, binds it and puts it into the listening
// state. Use NewAddr(AnyContextID, port) to listen on every local context ID.
func Listen(addr net.Addr) (*Listener, error) {
	return listen(sysOps, addr)
}

func listen(ops socketOps, addr net.Addr) (*Listener, error) {
	family, sa, err := sockaddr(addr)
	if err != nil {
		return nil, &OpError{Op: OpSocket, Addr: addr, Err: err}
	}

	fd, err := ops.socket(family)
	if err != nil {
		return nil, &OpError{Op: OpSocket, Addr: addr, Err: err}
	}

	if err := ops.bind(fd, sa); err != nil {
		ops.close(fd)
		return nil, &OpError{Op: OpBind, Addr: addr, Err: err}
	}

	if err := ops.listen(fd, listenBacklog); err != nil {
		ops.close(fd)
		return nil, &OpError{Op: OpListen, Addr: addr, Err: err}
	}

	return &Listener{h: newHandle(ops, fd), addr: addr, path: socketPath(addr)}, nil
}

// Accept blocks until a peer connects and returns the new connection. A
// failed Accept leaves the listener usable.
func (l *Listener) Accept() (*Stream, error) {
	if l.closing.Load() {
		return nil, &OpError{Op: OpAccept, Addr: l.addr, Err: ErrClosed}
	}

	fd, sa, err := l.h.ops.accept(l.h.fd)
	runtime.KeepAlive(l.h)
	if err != nil {
		if l.closing.Load() {
			err = ErrClosed
		}
		return nil, &OpError{Op: OpAccept, Addr: l.addr, Err: err}
	}

	return newStream(l.h.ops, fd, netAddr(sa)), nil
}

// Close stops the listener. Later calls to Accept fail with an error
// wrapping ErrClosed, as do calls already blocked in accept(2) when the
// address family honours shutdown(2) on a listening socket (AF_UNIX does,
// AF_VSOCK may not). For a unix address the socket file is removed, so the
// same address can be bound again. Closing twice is a no-op.
func (l *Listener) Close() error {
	if !l.closing.CompareAndSwap(false, true) {
		return nil
	}
	// close(2) alone does not wake a thread sleeping in accept(2).
	_ = l.h.ops.shutdown(l.h.fd, unix.SHUT_RDWR)
	err := l.h.close()

	if l.path != "" {
		if uerr := l.h.ops.unlink(l.path); uerr != nil && !errors.Is(uerr, unix.ENOENT) && err == nil {
			err = &OpError{Op: OpClose, Addr: l.addr, Err: uerr}
		}
	}
	return err
}

// Addr returns the address the listener was bound to.
func (l *Listener) Addr() net.Addr {
	return l.addr
}

// Fd returns the raw listening descriptor, for use with external pollers.
// It remains owned by the Listener.
func (l *Listener) Fd() int {
	return l.h.fd
}
