// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"headset/cmd"
	"headset/internal/config"
	"headset/internal/fault"
	applog "headset/internal/log"
	"headset/pkg/build"
)

// Exit codes.
const (
	exitFailure = 1
	exitHalted  = 2 // the station faulted and must be restarted
)

// main is the supervisor of the test station.
//
// 1. Startup: build information, runtime settings, arguments and config.
// 2. Run: the selected command until it returns or a signal arrives.
// 3. Shutdown: a fault from the hot path ends the process non-zero.
func main() {
	if err := build.Initialize(); err != nil {
		applog.Warnf("Build: %v", err)
	}

	// One thread for the audio callback and the measuring loop, one for I/O.
	runtime.GOMAXPROCS(2)

	opts, err := cmd.ParseArgs(os.Args[1:])
	if err != nil {
		applog.Fatalf("%v", err)
	}
	if opts == nil {
		return
	}

	cfg, err := config.LoadConfig(opts.ConfigPath)
	if err != nil {
		applog.Fatalf("%v", err)
	}
	if level, ok := applog.ParseLevel(cfg.LogLevel); ok {
		applog.SetLevel(level)
	} else {
		applog.Warnf("Config: unknown log level %q, keeping %s", cfg.LogLevel, applog.GetLevel())
	}
	if opts.Verbose {
		applog.SetLevel(applog.LevelDebug)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = cmd.Execute(ctx, opts, cfg)
	stop()
	if err == nil {
		return
	}

	applog.Error(err)
	if fault.IsFatal(err) {
		applog.Errorf("station halted, restart required")
		os.Exit(exitHalted)
	}
	os.Exit(exitFailure)
}
