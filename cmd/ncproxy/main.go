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
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ncproxy/ncproxy"
	"github.com/ncproxy/ncproxy/pkg/logging"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		logging.Errorf("%v", err)
		logging.Cleanup()
		os.Exit(1)
	}
	logging.Cleanup()
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "ncproxy",
		Short:         "event-driven TCP proxy core",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCommand())
	return root
}

func newServeCommand() *cobra.Command {
	f := new(flags)
	command := &cobra.Command{
		Use:   "serve",
		Short: "Serve an echo protocol on the reactor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(f.ConfigFile)
			if err != nil {
				return err
			}
			cfg.override(cmd.Flags(), f)
			return serve(cmd.Context(), cfg)
		},
	}
	command.Flags().StringVarP(&f.Listen, "listen", "l", defaultListen, "Set the listening address, like tcp://127.0.0.1:22121.")
	command.Flags().IntVarP(&f.Capacity, "capacity", "n", ncproxy.DefaultCapacity, "Set the number of events taken per wait.")
	command.Flags().DurationVarP(&f.Timeout, "timeout", "t", ncproxy.DefaultTimeout, "Set the timeout of each wait, negative to wait indefinitely.")
	command.Flags().BoolVar(&f.Async, "async", false, "Run the protocol handler on a goroutine pool.")
	command.Flags().BoolVar(&f.LockOSThread, "lock-os-thread", false, "Lock the reactor to an OS thread.")
	command.Flags().StringVarP(&f.ConfigFile, "config", "c", "", "Use a TOML configuration file, flags take precedence.")
	return command
}

func serve(ctx context.Context, cfg *config) error {
	if err := cfg.setupLogging(); err != nil {
		return err
	}
	timeout, err := cfg.timeout()
	if err != nil {
		return err
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng, err := ncproxy.NewEngine(new(echo), cfg.Listen,
		ncproxy.WithCapacity(cfg.Capacity),
		ncproxy.WithTimeout(timeout),
		ncproxy.WithAsyncHandler(cfg.Async),
		ncproxy.WithLockOSThread(cfg.LockOSThread),
		ncproxy.WithLogger(logging.GetDefaultLogger()),
	)
	if err != nil {
		return err
	}
	return eng.Start(ctx)
}

// echo writes back whatever it receives.
type echo struct {
	ncproxy.BuiltinEventEngine
}

func (echo) OnBoot(eng *ncproxy.Engine) ncproxy.Action {
	logging.Infof("echo is serving on %s", eng.Addr())
	return ncproxy.None
}

func (echo) OnTraffic(c ncproxy.Conn, data []byte) ([]byte, ncproxy.Action) {
	return data, ncproxy.None
}
