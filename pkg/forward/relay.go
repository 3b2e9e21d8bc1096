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
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
)

const copyBufSize = 32 * 1024

var bufPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, copyBufSize)
		return &buf
	},
}

type closeWriter interface {
	CloseWrite() error
}

type closeReader interface {
	CloseRead() error
}

// Relay copies bytes in both directions between stream and peer until both
// directions reach end of stream or ctx is done, then closes both. When one
// direction ends, the write side of its destination is shut down so the
// other end observes EOF while the reverse direction keeps flowing.
func Relay(ctx context.Context, stream, peer io.ReadWriteCloser) error {
	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
			// Close does not wake a blocking recv(2); shutdown does.
			// Descriptors are only closed once both copies have
			// returned, so a call still in flight cannot land on a
			// reused descriptor number.
			shutdown(stream)
			if _, ok := peer.(closeReader); ok {
				shutdown(peer)
			} else {
				peer.Close()
			}
		case <-done:
		}
	}()

	var (
		wg           sync.WaitGroup
		rxErr, txErr error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		rxErr = copyStream(peer, stream, forwardedBytes.WithLabelValues(directionRx))
		if rxErr != nil {
			shutdown(stream)
			shutdown(peer)
		}
		closeWrite(peer)
	}()
	go func() {
		defer wg.Done()
		txErr = copyStream(stream, peer, forwardedBytes.WithLabelValues(directionTx))
		if txErr != nil {
			shutdown(stream)
			shutdown(peer)
		}
		closeWrite(stream)
	}()
	wg.Wait()

	var result *multierror.Error
	if ctx.Err() == nil {
		result = multierror.Append(result, rxErr, txErr)
	}
	result = multierror.Append(result, ignoreClosed(stream.Close()), ignoreClosed(peer.Close()))
	return result.ErrorOrNil()
}

func ignoreClosed(err error) error {
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// copyStream is io.Copy for writers that may accept fewer bytes than
// offered, and readers that may return (0, nil).
func copyStream(dst io.Writer, src io.Reader, counter prometheus.Counter) error {
	bufp := bufPool.Get().(*[]byte)
	defer bufPool.Put(bufp)
	buf := *bufp

	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if err := writeFull(dst, buf[:n]); err != nil {
				return err
			}
			counter.Add(float64(n))
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return rerr
		}
	}
}

func writeFull(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		if err != nil {
			return err
		}
		p = p[n:]
	}
	return nil
}

func closeWrite(c io.Closer) {
	if cw, ok := c.(closeWriter); ok {
		cw.CloseWrite()
	}
}

func shutdown(c io.Closer) {
	if cr, ok := c.(closeReader); ok {
		cr.CloseRead()
	}
	closeWrite(c)
}
