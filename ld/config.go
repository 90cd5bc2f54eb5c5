// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ld

import (
	"runtime"

	"github.com/xyproto/env/v2"
)

// Config controls how a Link runs.
type Config struct {
	// Threads bounds the number of files processed concurrently in
	// the scan and apply phases.
	Threads int

	// Verbose enables debug logging, including disassembly of
	// synthesized code.
	Verbose bool
}

// DefaultConfig returns a Config that uses all available CPUs.
func DefaultConfig() Config {
	return Config{Threads: runtime.GOMAXPROCS(0)}
}

// ConfigFromEnv returns DefaultConfig overridden by the
// MACHLINK_THREADS and MACHLINK_VERBOSE environment variables.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	cfg.Threads = env.Int("MACHLINK_THREADS", cfg.Threads)
	cfg.Verbose = env.Bool("MACHLINK_VERBOSE")
	return cfg
}
