// Copyright (c) 2026 Kata Contributors
//
// SPDX-License-Identifier: Apache-2.0
//

// Package config loads the vsock-helper TOML configuration file.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/kata-containers/kata-containers/src/tools/vsock-helper/pkg/forward"
	"github.com/kata-containers/kata-containers/src/tools/vsock-helper/pkg/vsock"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// DefaultConfigPath is read when no configuration file is given. A missing
// file at this path is not an error.
const DefaultConfigPath = "/etc/kata-containers/vsock-helper.toml"

const defaultLogLevel = "info"

// maxConnectAttempts keeps the doubling backoff of the last attempt within
// a sane range (2^18 base delays).
const maxConnectAttempts = 20

// Config is the content of the TOML file, which looks like:
//
//	log_level = "debug"
//	metrics_address = "127.0.0.1:8090"
//
//	[listen]
//	address = "vsock://-1:1024"
//	target = "tcp://127.0.0.1:22"
//	workers = 4
//
//	[connect]
//	address = "vsock://3:1024"
//	attempts = 5
//	base_delay = "1s"
//	keep_all_errors = false
type Config struct {
	LogLevel       string        `toml:"log_level"`
	MetricsAddress string        `toml:"metrics_address"`
	Listen         ListenConfig  `toml:"listen"`
	Connect        ConnectConfig `toml:"connect"`
}

type ListenConfig struct {
	Address string `toml:"address"`
	Target  string `toml:"target"`
	Workers int    `toml:"workers"`
}

type ConnectConfig struct {
	Address       string   `toml:"address"`
	Attempts      int      `toml:"attempts"`
	BaseDelay     Duration `toml:"base_delay"`
	KeepAllErrors bool     `toml:"keep_all_errors"`
}

// Duration is a time.Duration written as a string such as "500ms".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		LogLevel: defaultLogLevel,
		Listen: ListenConfig{
			Workers: forward.DefaultWorkers,
		},
		Connect: ConnectConfig{
			Attempts:  vsock.DefaultDialAttempts,
			BaseDelay: Duration{vsock.DefaultBaseDelay},
		},
	}
}

// Load reads the file at path on top of Default. An empty path means
// DefaultConfigPath, which may be absent.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		if _, err := os.Stat(DefaultConfigPath); os.IsNotExist(err) {
			return cfg, nil
		}
		path = DefaultConfigPath
	}

	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return cfg, errors.Wrapf(err, "failed to load config file %q", path)
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return cfg, errors.Errorf("unknown keys in config file %q: %s", path, strings.Join(keys, ", "))
	}

	return cfg, nil
}

// Validate checks the values that are set. Addresses are only checked when
// present, since each command needs just one of them.
func (c Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return errors.Wrap(err, "invalid log_level")
	}

	if c.Listen.Address != "" {
		if _, err := vsock.ParseAddr(c.Listen.Address); err != nil {
			return errors.Wrap(err, "invalid listen.address")
		}
	}
	if c.Listen.Target != "" {
		if _, err := forward.ParseTarget(c.Listen.Target); err != nil {
			return errors.Wrap(err, "invalid listen.target")
		}
	}
	if c.Listen.Workers < 1 {
		return errors.Errorf("listen.workers must be at least 1, got %d", c.Listen.Workers)
	}

	if c.Connect.Address != "" {
		if _, err := vsock.ParseAddr(c.Connect.Address); err != nil {
			return errors.Wrap(err, "invalid connect.address")
		}
	}
	if c.Connect.Attempts < 1 || c.Connect.Attempts > maxConnectAttempts {
		return errors.Errorf("connect.attempts must be between 1 and %d, got %d", maxConnectAttempts, c.Connect.Attempts)
	}
	if c.Connect.BaseDelay.Duration <= 0 {
		return errors.Errorf("connect.base_delay must be positive, got %s", c.Connect.BaseDelay)
	}

	return nil
}

// Dialer returns the dialer described by the [connect] section.
func (c ConnectConfig) Dialer() *vsock.Dialer {
	return &vsock.Dialer{
		Attempts:      c.Attempts,
		BaseDelay:     c.BaseDelay.Duration,
		KeepAllErrors: c.KeepAllErrors,
	}
}
