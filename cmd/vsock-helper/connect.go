// Copyright (c) 2026 Kata Contributors
//
// SPDX-License-Identifier: Apache-2.0
//

package main

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/kata-containers/kata-containers/src/tools/vsock-helper/pkg/forward"
	"github.com/kata-containers/kata-containers/src/tools/vsock-helper/pkg/vsock"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
)

var connectCommand = cli.Command{
	Name:      "connect",
	Usage:     "connect to a vsock address and relay stdin/stdout",
	ArgsUsage: " ",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  "address",
			Usage: "vsock address to connect to, e.g. vsock://3:1024",
		},
		cli.IntFlag{
			Name:  "attempts",
			Usage: "number of connect attempts",
		},
		cli.DurationFlag{
			Name:  "base-delay",
			Usage: "wait after the first failed attempt, doubled after each further one",
		},
		cli.BoolFlag{
			Name:  "keep-all-errors",
			Usage: "report the error of every failed attempt, not just the last",
		},
	},
	Action: func(c *cli.Context) error {
		ctx, cancel := signalContext()
		defer cancel()
		return runConnect(ctx, c, stdio{in: os.Stdin, out: os.Stdout})
	},
}

// stdio joins stdin and stdout into one connection end. Closing its write
// side closes stdout so the consumer sees end of input.
type stdio struct {
	in  io.ReadCloser
	out io.WriteCloser
}

func (s stdio) Read(p []byte) (int, error) {
	return s.in.Read(p)
}

func (s stdio) Write(p []byte) (int, error) {
	return s.out.Write(p)
}

func (s stdio) CloseWrite() error {
	return s.out.Close()
}

func (s stdio) Close() error {
	s.in.Close()
	if err := s.out.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return err
	}
	return nil
}

func runConnect(ctx context.Context, c *cli.Context, peer io.ReadWriteCloser) error {
	cfg := runtimeConfig

	if c.IsSet("address") {
		cfg.Connect.Address = c.String("address")
	}
	if c.IsSet("attempts") {
		cfg.Connect.Attempts = c.Int("attempts")
	}
	if c.IsSet("base-delay") {
		cfg.Connect.BaseDelay.Duration = c.Duration("base-delay")
	}
	if c.IsSet("keep-all-errors") {
		cfg.Connect.KeepAllErrors = c.Bool("keep-all-errors")
	}

	if cfg.Connect.Address == "" {
		return errors.New("missing connect address")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	addr, err := vsock.ParseAddr(cfg.Connect.Address)
	if err != nil {
		return err
	}

	log := logger.WithField("address", cfg.Connect.Address)

	d := cfg.Connect.Dialer()
	d.OnRetry = func(attempt int, err error) {
		log.WithFields(logrus.Fields{
			"attempt": attempt,
			"of":      cfg.Connect.Attempts,
		}).WithError(err).Debug("connect attempt failed")
	}

	stream, err := d.DialContext(ctx, addr)
	if err != nil {
		return pkgerrors.Wrap(err, "failed to connect")
	}

	log.Debug("connected")

	return forward.Relay(ctx, stream, peer)
}
