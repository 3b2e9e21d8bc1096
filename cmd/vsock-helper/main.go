// Copyright (c) 2026 Kata Contributors
//
// SPDX-License-Identifier: Apache-2.0
//

//--------------------------------------------------------------------
// Description: Tool to bridge AF_VSOCK stream sockets between a VM
//   and its host. "listen" forwards vsock connections to a TCP or unix
//   socket, "connect" wires a vsock connection to stdin/stdout.
//--------------------------------------------------------------------

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kata-containers/kata-containers/src/tools/vsock-helper/pkg/config"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
)

var (
	// set by the build
	name    = "vsock-helper"
	version = ""
	commit  = ""

	logger *logrus.Entry

	// runtimeConfig is loaded by the app Before hook.
	runtimeConfig config.Config
)

var notes = `

NOTES:

- Addresses are written as vsock://<cid>:<port> or unix://<path>.
  Use "any" (or -1) as the cid to listen on every local context ID.

- Targets of "listen" are written as tcp://<host>:<port> or unix://<path>.

`

func init() {
	logger = logrus.WithFields(logrus.Fields{
		"name":    name,
		"source":  "vsock-helper",
		"version": version,
		"commit":  commit,
		"pid":     os.Getpid(),
	})

	logger.Logger.Formatter = &logrus.TextFormatter{
		TimestampFormat: time.RFC3339Nano,
	}

	// stdout may carry relayed data
	logger.Logger.Out = os.Stderr
}

// setup loads the configuration and applies the global flags on top of it.
func setup(c *cli.Context) error {
	cfg, err := config.Load(c.GlobalString("config"))
	if err != nil {
		return err
	}

	if c.GlobalIsSet("log-level") {
		cfg.LogLevel = c.GlobalString("log-level")
	}
	if c.GlobalBool("debug") {
		cfg.LogLevel = logrus.DebugLevel.String()
	}
	if c.GlobalIsSet("metrics-address") {
		cfg.MetricsAddress = c.GlobalString("metrics-address")
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %v", cfg.LogLevel, err)
	}
	logger.Logger.SetLevel(level)

	runtimeConfig = cfg
	return nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = name
	app.Version = fmt.Sprintf("%s %s (commit %v)", name, version, commit)
	app.Description = "tool to bridge vsock stream sockets"
	app.Usage = app.Description
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config",
			Usage: fmt.Sprintf("configuration file (default %q if present)", config.DefaultConfigPath),
		},
		cli.StringFlag{
			Name:  "log-level",
			Usage: "log level (trace/debug/info/warn/error/fatal/panic)",
		},
		cli.BoolFlag{
			Name:  "debug",
			Usage: "enable debug output",
		},
		cli.StringFlag{
			Name:  "metrics-address",
			Usage: "serve prometheus metrics on this host:port",
		},
	}
	app.Before = setup
	app.Commands = []cli.Command{
		listenCommand,
		connectCommand,
		cidCommand,
	}

	return app
}

func main() {
	cli.VersionPrinter = func(c *cli.Context) {
		fmt.Fprintln(os.Stdout, c.App.Version)
	}

	cli.AppHelpTemplate = fmt.Sprintf(`%s%s`, cli.AppHelpTemplate, notes)

	err := newApp().Run(os.Args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v: %v\n", name, err)
		os.Exit(1)
	}
}
