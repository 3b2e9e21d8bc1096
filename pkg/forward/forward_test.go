// Copyright (c) 2026 Kata Contributors
//
// SPDX-License-Identifier: Apache-2.0
//

package forward

import (
	"context"
	"errors"
	"io"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/kata-containers/kata-containers/src/tools/vsock-helper/pkg/vsock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Entry {
	logger, _ := test.NewNullLogger()
	return logrus.NewEntry(logger)
}

// echoServer echoes every connection on a unix socket until the test ends.
func echoServer(t *testing.T) string {
	path := filepath.Join(t.TempDir(), "echo.sock")
	l, err := net.Listen("unix", path)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	go func() {
		for {
			c, err := l.Accept()
			if err != nil {
				return
			}
			go func() {
				defer c.Close()
				io.Copy(c, c)
			}()
		}
	}()

	return path
}

func vsockListener(t *testing.T) (*vsock.Listener, net.Addr) {
	addr := &net.UnixAddr{Name: filepath.Join(t.TempDir(), "vsock.sock"), Net: "unix"}
	l, err := vsock.Listen(addr)
	require.NoError(t, err)
	return l, addr
}

func readN(r io.Reader, n int) ([]byte, error) {
	buf := make([]byte, n)
	_, err := io.ReadFull(r, buf)
	return buf, err
}

func TestParseTarget(t *testing.T) {
	assert := assert.New(t)

	type testData struct {
		target    string
		expected  Target
		expectErr bool
	}

	data := []testData{
		{"tcp://127.0.0.1:8080", Target{"tcp", "127.0.0.1:8080"}, false},
		{"tcp6://[::1]:22", Target{"tcp6", "[::1]:22"}, false},
		{"unix:///run/app.sock", Target{"unix", "/run/app.sock"}, false},
		{"tcp://127.0.0.1", Target{}, true},
		{"unix://", Target{}, true},
		{"vsock://3:1024", Target{}, true},
		{"", Target{}, true},
	}

	for _, d := range data {
		target, err := ParseTarget(d.target)
		if d.expectErr {
			assert.Error(err, "%q", d.target)
			continue
		}
		assert.NoError(err, "%q", d.target)
		assert.Equal(d.expected, target)
		assert.Equal(d.target, target.String())
	}
}

func TestForwarderRelaysConnections(t *testing.T) {
	assert := assert.New(t)

	l, addr := vsockListener(t)
	echo := echoServer(t)

	f := &Forwarder{
		Listener: l,
		Target:   Target{Network: "unix", Address: echo},
		Workers:  2,
		Log:      testLogger(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() {
		served <- f.Serve(ctx)
	}()

	accepted := testutil.ToFloat64(acceptedConnections)
	rx := testutil.ToFloat64(forwardedBytes.WithLabelValues(directionRx))

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			s, err := (&vsock.Dialer{Attempts: 1}).Dial(addr)
			if !assert.NoError(err) {
				return
			}
			defer s.Close()

			_, err = s.Write([]byte("hello"))
			assert.NoError(err)

			got, err := readN(s, 5)
			assert.NoError(err)
			assert.Equal("hello", string(got))

			// half-close: the echo server sees EOF and closes its side
			assert.NoError(s.CloseWrite())
			n, err := s.Read(make([]byte, 1))
			assert.Zero(n)
			assert.Equal(io.EOF, err)
		}()
	}
	wg.Wait()

	cancel()
	select {
	case err := <-served:
		assert.NoError(err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}

	assert.Equal(accepted+2, testutil.ToFloat64(acceptedConnections))
	assert.Equal(rx+10, testutil.ToFloat64(forwardedBytes.WithLabelValues(directionRx)))
}

func TestForwarderTargetUnreachable(t *testing.T) {
	assert := assert.New(t)

	l, addr := vsockListener(t)

	f := &Forwarder{
		Listener: l,
		Target:   Target{Network: "unix", Address: "/nonexistent"},
		Log:      testLogger(),
		Dial: func(network, address string) (net.Conn, error) {
			return nil, errors.New("refused")
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() {
		served <- f.Serve(ctx)
	}()

	before := testutil.ToFloat64(targetDialErrors)

	s, err := (&vsock.Dialer{Attempts: 1}).Dial(addr)
	require.NoError(t, err)
	defer s.Close()

	// the forwarder drops the stream
	n, err := s.Read(make([]byte, 1))
	assert.Zero(n)
	assert.Equal(io.EOF, err)
	assert.Equal(before+1, testutil.ToFloat64(targetDialErrors))

	cancel()
	assert.NoError(<-served)
}

func TestForwarderCancelTearsDownRelay(t *testing.T) {
	assert := assert.New(t)

	l, addr := vsockListener(t)
	echo := echoServer(t)

	f := &Forwarder{
		Listener: l,
		Target:   Target{Network: "unix", Address: echo},
		Log:      testLogger(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() {
		served <- f.Serve(ctx)
	}()

	s, err := (&vsock.Dialer{Attempts: 1}).Dial(addr)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Write([]byte("x"))
	assert.NoError(err)
	_, err = readN(s, 1)
	assert.NoError(err)

	cancel()
	select {
	case err := <-served:
		assert.NoError(err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}

	n, err := s.Read(make([]byte, 1))
	assert.Zero(n)
	assert.Equal(io.EOF, err)
}

func TestServeRequiresListenerAndTarget(t *testing.T) {
	assert := assert.New(t)

	assert.Error((&Forwarder{}).Serve(context.Background()))

	l, _ := vsockListener(t)
	defer l.Close()
	assert.Error((&Forwarder{Listener: l}).Serve(context.Background()))
}

func TestRegisterMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	RegisterMetrics(reg)

	forwardedBytes.WithLabelValues(directionTx).Add(0)
	mfs, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}
	assert.True(t, names["vsock_helper_accepted_connections_total"])
	assert.True(t, names["vsock_helper_forwarded_bytes_total"])
	assert.True(t, names["vsock_helper_active_connections"])
}
