// Copyright (c) 2026 Kata Contributors
//
// SPDX-License-Identifier: Apache-2.0
//

// Package forward relays connections accepted on a vsock listener to a
// TCP or unix socket target.
package forward

import (
	"context"
	"errors"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/kata-containers/kata-containers/src/tools/vsock-helper/pkg/vsock"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultWorkers is the number of accepting workers when none is set.
	DefaultWorkers = 1

	defaultDialTimeout = 10 * time.Second

	// acceptRetryDelay throttles a worker after a failed accept so that
	// a persistent error such as EMFILE does not spin.
	acceptRetryDelay = 100 * time.Millisecond
)

// Acceptor is the part of *vsock.Listener used by Forwarder.
type Acceptor interface {
	Accept() (*vsock.Stream, error)
	Close() error
}

// Target is where accepted connections are forwarded to.
type Target struct {
	Network string
	Address string
}

func (t Target) String() string {
	return t.Network + "://" + t.Address
}

// ParseTarget parses tcp://<host>:<port> and unix://<path>.
func ParseTarget(s string) (Target, error) {
	u, err := url.Parse(s)
	if err != nil {
		return Target{}, pkgerrors.Wrapf(err, "invalid target %q", s)
	}

	switch u.Scheme {
	case "tcp", "tcp4", "tcp6":
		if u.Host == "" || u.Port() == "" {
			return Target{}, pkgerrors.Errorf("invalid tcp target: %s", s)
		}
		return Target{Network: u.Scheme, Address: u.Host}, nil
	case "unix":
		path := u.Host + u.Path
		if path == "" {
			return Target{}, pkgerrors.Errorf("invalid unix target: %s", s)
		}
		return Target{Network: "unix", Address: path}, nil
	}

	return Target{}, pkgerrors.Errorf("invalid target scheme: %s", s)
}

// Forwarder runs a fixed pool of workers. Each worker blocks in Accept on
// the shared listener, relays the connection it gets to Target and only
// then accepts again, so at most Workers connections are served at once.
type Forwarder struct {
	Listener Acceptor
	Target   Target
	Workers  int
	Log      *logrus.Entry

	// Dial reaches the target. Defaults to net.DialTimeout.
	Dial func(network, address string) (net.Conn, error)

	mu       sync.Mutex
	stopping bool
	relays   sync.WaitGroup
}

// Serve accepts connections until ctx is done. It then closes the
// listener, tears down the connections being relayed and waits for them.
//
// Workers still parked in accept(2) are not waited for: AF_VSOCK does not
// wake them on close, they exit once their next connection arrives.
func (f *Forwarder) Serve(ctx context.Context) error {
	if f.Listener == nil {
		return errors.New("forwarder has no listener")
	}
	if f.Target.Network == "" {
		return errors.New("forwarder has no target")
	}

	workers := f.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}

	f.logger().WithFields(logrus.Fields{
		"target":  f.Target.String(),
		"workers": workers,
	}).Info("forwarding connections")

	for i := 0; i < workers; i++ {
		go f.worker(ctx, i)
	}

	<-ctx.Done()

	f.mu.Lock()
	f.stopping = true
	f.mu.Unlock()

	err := f.Listener.Close()
	f.relays.Wait()

	f.logger().Info("forwarder stopped")
	return err
}

func (f *Forwarder) worker(ctx context.Context, id int) {
	log := f.logger().WithField("worker", id)

	for {
		stream, err := f.Listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, vsock.ErrClosed) {
				return
			}

			acceptErrors.Inc()
			log.WithError(err).Warn("accept failed")

			select {
			case <-ctx.Done():
				return
			case <-time.After(acceptRetryDelay):
			}
			continue
		}

		f.mu.Lock()
		if f.stopping || ctx.Err() != nil {
			f.mu.Unlock()
			stream.Close()
			return
		}
		f.relays.Add(1)
		f.mu.Unlock()

		acceptedConnections.Inc()
		f.handle(ctx, log, stream)
		f.relays.Done()
	}
}

func (f *Forwarder) handle(ctx context.Context, log *logrus.Entry, stream *vsock.Stream) {
	log = log.WithFields(logrus.Fields{
		"remote": vsock.FormatAddr(stream.RemoteAddr()),
		"target": f.Target.String(),
	})

	peer, err := f.dial()(f.Target.Network, f.Target.Address)
	if err != nil {
		targetDialErrors.Inc()
		log.WithError(err).Error("failed to connect to target")
		stream.Close()
		return
	}

	activeConnections.Inc()
	defer activeConnections.Dec()

	log.Debug("relaying connection")
	start := time.Now()

	if err := Relay(ctx, stream, peer); err != nil {
		log.WithError(err).Warn("relay finished with errors")
		return
	}

	log.WithField("duration", time.Since(start)).Debug("connection closed")
}

func (f *Forwarder) dial() func(network, address string) (net.Conn, error) {
	if f.Dial != nil {
		return f.Dial
	}
	return func(network, address string) (net.Conn, error) {
		return net.DialTimeout(network, address, defaultDialTimeout)
	}
}

func (f *Forwarder) logger() *logrus.Entry {
	if f.Log != nil {
		return f.Log
	}
	return logrus.NewEntry(logrus.StandardLogger())
}
