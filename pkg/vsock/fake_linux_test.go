// Copyright (c) 2026 Kata Contributors
//
// SPDX-License-Identifier: Apache-2.0
//

package vsock

import (
	"sync"

	"golang.org/x/sys/unix"
)

// fakeOps records every call and fails on demand.
type fakeOps struct {
	sync.Mutex

	nextFd int
	open   map[int]bool
	closes map[int]int

	families []int
	backlog  int

	socketErr error
	bindErr   error
	listenErr error
	acceptErr error
	// connectErrs is consumed one entry per connect call; an exhausted or
	// nil entry means the connect succeeds.
	connectErrs []error
	connects    int

	sendLimit int
	sendErr   error
	sent      []byte
	sends     int

	recvErr  error
	recvData []byte
	recvs    int

	shutdowns []int
	unlinked  []string
}

func newFakeOps() *fakeOps {
	return &fakeOps{
		nextFd: 10,
		open:   make(map[int]bool),
		closes: make(map[int]int),
	}
}

// useFakeOps installs f as the package socket layer until the returned
// function is called.
func useFakeOps(f *fakeOps) func() {
	orig := sysOps
	sysOps = f
	return func() {
		sysOps = orig
	}
}

func (f *fakeOps) newFd() int {
	fd := f.nextFd
	f.nextFd++
	f.open[fd] = true
	return fd
}

func (f *fakeOps) openCount() int {
	f.Lock()
	defer f.Unlock()
	return len(f.open)
}

func (f *fakeOps) socket(family int) (int, error) {
	f.Lock()
	defer f.Unlock()
	f.families = append(f.families, family)
	if f.socketErr != nil {
		return -1, f.socketErr
	}
	return f.newFd(), nil
}

func (f *fakeOps) bind(fd int, sa unix.Sockaddr) error {
	return f.bindErr
}

func (f *fakeOps) listen(fd, backlog int) error {
	f.Lock()
	defer f.Unlock()
	f.backlog = backlog
	return f.listenErr
}

func (f *fakeOps) accept(fd int) (int, unix.Sockaddr, error) {
	f.Lock()
	defer f.Unlock()
	if f.acceptErr != nil {
		return -1, nil, f.acceptErr
	}
	return f.newFd(), &unix.SockaddrVM{CID: 3, Port: 4000}, nil
}

func (f *fakeOps) connect(fd int, sa unix.Sockaddr) error {
	f.Lock()
	defer f.Unlock()
	i := f.connects
	f.connects++
	if i < len(f.connectErrs) {
		return f.connectErrs[i]
	}
	return nil
}

func (f *fakeOps) send(fd int, p []byte) (int, error) {
	f.Lock()
	defer f.Unlock()
	f.sends++
	if f.sendErr != nil {
		return -1, f.sendErr
	}
	n := len(p)
	if f.sendLimit > 0 && n > f.sendLimit {
		n = f.sendLimit
	}
	f.sent = append(f.sent, p[:n]...)
	return n, nil
}

func (f *fakeOps) recv(fd int, p []byte) (int, error) {
	f.Lock()
	defer f.Unlock()
	f.recvs++
	if f.recvErr != nil {
		return -1, f.recvErr
	}
	n := copy(p, f.recvData)
	f.recvData = f.recvData[n:]
	return n, nil
}

func (f *fakeOps) shutdown(fd, how int) error {
	f.Lock()
	defer f.Unlock()
	f.shutdowns = append(f.shutdowns, how)
	return nil
}

func (f *fakeOps) dup(fd int) (int, error) {
	f.Lock()
	defer f.Unlock()
	return f.newFd(), nil
}

func (f *fakeOps) close(fd int) error {
	f.Lock()
	defer f.Unlock()
	f.closes[fd]++
	if !f.open[fd] {
		return unix.EBADF
	}
	delete(f.open, fd)
	return nil
}

func (f *fakeOps) unlink(path string) error {
	f.Lock()
	defer f.Unlock()
	f.unlinked = append(f.unlinked, path)
	return nil
}
