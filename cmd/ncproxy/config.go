// Copyright (c) 2026 The Ncproxy Authors. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/pflag"

	"github.com/ncproxy/ncproxy"
	"github.com/ncproxy/ncproxy/pkg/logging"
)

const defaultListen = "tcp://127.0.0.1:22121"

type flags struct {
	Listen       string
	Capacity     int
	Timeout      time.Duration
	Async        bool
	LockOSThread bool
	ConfigFile   string
}

// config is the file form of the serve options.
//
//	listen = "tcp://0.0.0.0:22121"
//	capacity = 1024
//	timeout = "100ms"
//
//	[logging]
//	level = "info"
//	file = "/var/log/ncproxy.log"
type config struct {
	Listen       string        `toml:"listen"`
	Capacity     int           `toml:"capacity"`
	Timeout      string        `toml:"timeout"`
	Async        bool          `toml:"async"`
	LockOSThread bool          `toml:"lock_os_thread"`
	Logging      loggingConfig `toml:"logging"`
}

type loggingConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

func defaultConfig() *config {
	return &config{
		Listen:   defaultListen,
		Capacity: ncproxy.DefaultCapacity,
		Timeout:  ncproxy.DefaultTimeout.String(),
	}
}

// loadConfig reads path over the defaults, an empty path gives the defaults.
func loadConfig(path string) (*config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("decode config file %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown keys in config file %s: %v", path, undecoded)
	}
	return cfg, nil
}

// override applies the flags that were set on the command line.
func (cfg *config) override(fs *pflag.FlagSet, f *flags) {
	if fs.Changed("listen") {
		cfg.Listen = f.Listen
	}
	if fs.Changed("capacity") {
		cfg.Capacity = f.Capacity
	}
	if fs.Changed("timeout") {
		cfg.Timeout = f.Timeout.String()
	}
	if fs.Changed("async") {
		cfg.Async = f.Async
	}
	if fs.Changed("lock-os-thread") {
		cfg.LockOSThread = f.LockOSThread
	}
}

func (cfg *config) timeout() (time.Duration, error) {
	d, err := time.ParseDuration(cfg.Timeout)
	if err != nil {
		return 0, fmt.Errorf("invalid timeout %q: %w", cfg.Timeout, err)
	}
	return d, nil
}

// setupLogging replaces the default logger when the file asks for a log file.
func (cfg *config) setupLogging() error {
	if cfg.Logging.File == "" {
		return nil
	}
	level := logging.Level(0)
	if cfg.Logging.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Logging.Level)); err != nil {
			return fmt.Errorf("invalid logging level %q: %w", cfg.Logging.Level, err)
		}
	}
	logger, flusher, err := logging.CreateLoggerAsLocalFile(cfg.Logging.File, level)
	if err != nil {
		return err
	}
	logging.SetDefaultLoggerAndFlusher(logger, flusher)
	return nil
}
