// Copyright (c) 2026 Kata Contributors
//
// SPDX-License-Identifier: Apache-2.0
//

package vsock

import (
	"net"

	"github.com/mdlayher/vsock"
	"golang.org/x/sys/unix"
)

// socketOps is the set of socket system calls the package is built on.
type socketOps interface {
	socket(family int) (int, error)
	bind(fd int, sa unix.Sockaddr) error
	listen(fd, backlog int) error
	accept(fd int) (int, unix.Sockaddr, error)
	connect(fd int, sa unix.Sockaddr) error
	send(fd int, p []byte) (int, error)
	recv(fd int, p []byte) (int, error)
	shutdown(fd, how int) error
	dup(fd int) (int, error)
	close(fd int) error
	unlink(path string) error
}

// sysOps is swapped out by tests.
var sysOps socketOps = unixOps{}

type unixOps struct{}

func (unixOps) socket(family int) (int, error) {
	return unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
}

func (unixOps) bind(fd int, sa unix.Sockaddr) error {
	return unix.Bind(fd, sa)
}

func (unixOps) listen(fd, backlog int) error {
	return unix.Listen(fd, backlog)
}

func (unixOps) accept(fd int) (int, unix.Sockaddr, error) {
	return unix.Accept4(fd, unix.SOCK_CLOEXEC)
}

func (unixOps) connect(fd int, sa unix.Sockaddr) error {
	return unix.Connect(fd, sa)
}

func (unixOps) send(fd int, p []byte) (int, error) {
	// MSG_NOSIGNAL: a peer reset must surface as EPIPE, not SIGPIPE.
	return unix.SendmsgN(fd, p, nil, nil, unix.MSG_NOSIGNAL)
}

func (unixOps) recv(fd int, p []byte) (int, error) {
	return unix.Read(fd, p)
}

func (unixOps) shutdown(fd, how int) error {
	return unix.Shutdown(fd, how)
}

func (unixOps) dup(fd int) (int, error) {
	return unix.FcntlInt(uintptr(fd), unix.F_DUPFD_CLOEXEC, 0)
}

func (unixOps) close(fd int) error {
	return unix.Close(fd)
}

func (unixOps) unlink(path string) error {
	return unix.Unlink(path)
}

// sockaddr maps a caller supplied address onto its family and raw form.
func sockaddr(addr net.Addr) (int, unix.Sockaddr, error) {
	switch a := addr.(type) {
	case *vsock.Addr:
		return unix.AF_VSOCK, &unix.SockaddrVM{CID: a.ContextID, Port: a.Port}, nil
	case *net.UnixAddr:
		return unix.AF_UNIX, &unix.SockaddrUnix{Name: a.Name}, nil
	}
	return 0, nil, unix.EAFNOSUPPORT
}

// socketPath returns the filesystem entry binding addr creates, if any.
// Abstract ("@name") and autobound (empty) unix addresses leave none.
func socketPath(addr net.Addr) string {
	a, ok := addr.(*net.UnixAddr)
	if !ok || a.Name == "" || a.Name[0] == '@' {
		return ""
	}
	return a.Name
}

func netAddr(sa unix.Sockaddr) net.Addr {
	switch a := sa.(type) {
	case *unix.SockaddrVM:
		return &vsock.Addr{ContextID: a.CID, Port: a.Port}
	case *unix.SockaddrUnix:
		return &net.UnixAddr{Name: a.Name, Net: "unix"}
	}
	return nil
}
