// Copyright (c) 2026 Kata Contributors
//
// SPDX-License-Identifier: Apache-2.0
//

package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/kata-containers/kata-containers/src/tools/vsock-helper/pkg/forward"
	"github.com/kata-containers/kata-containers/src/tools/vsock-helper/pkg/vsock"
	pkgerrors "github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli"
)

var listenCommand = cli.Command{
	Name:      "listen",
	Usage:     "forward vsock connections to a TCP or unix socket",
	ArgsUsage: " ",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  "address",
			Usage: "vsock address to listen on, e.g. vsock://any:1024",
		},
		cli.StringFlag{
			Name:  "target",
			Usage: "where to forward connections, e.g. tcp://127.0.0.1:22",
		},
		cli.IntFlag{
			Name:  "workers",
			Usage: "number of connections served concurrently",
		},
	},
	Action: func(c *cli.Context) error {
		ctx, cancel := signalContext()
		defer cancel()
		return runListen(ctx, c)
	},
}

func runListen(ctx context.Context, c *cli.Context) error {
	cfg := runtimeConfig

	if c.IsSet("address") {
		cfg.Listen.Address = c.String("address")
	}
	if c.IsSet("target") {
		cfg.Listen.Target = c.String("target")
	}
	if c.IsSet("workers") {
		cfg.Listen.Workers = c.Int("workers")
	}

	if cfg.Listen.Address == "" {
		return errors.New("missing listen address")
	}
	if cfg.Listen.Target == "" {
		return errors.New("missing forwarding target")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	addr, err := vsock.ParseAddr(cfg.Listen.Address)
	if err != nil {
		return err
	}
	target, err := forward.ParseTarget(cfg.Listen.Target)
	if err != nil {
		return err
	}

	l, err := vsock.Listen(addr)
	if err != nil {
		return pkgerrors.Wrap(err, "failed to listen")
	}

	log := logger.WithField("address", cfg.Listen.Address)

	if cfg.MetricsAddress != "" {
		stop := serveMetrics(cfg.MetricsAddress)
		defer stop()
	}

	f := &forward.Forwarder{
		Listener: l,
		Target:   target,
		Workers:  cfg.Listen.Workers,
		Log:      log,
	}

	return f.Serve(ctx)
}

// serveMetrics exposes the forwarding metrics over HTTP until the returned
// function is called.
func serveMetrics(address string) func() {
	reg := prometheus.NewRegistry()
	forward.RegisterMetrics(reg)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.WithField("metrics-address", address).Info("serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("metrics server failed")
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
}
