//go:build !sqlite_vec

package storage

// Default build. modernc.org/sqlite needs no C toolchain, so the binary
// cross-compiles anywhere.

import (
	_ "modernc.org/sqlite"
)

const (
	// DriverName is the database/sql driver registered by this build
	DriverName = "sqlite"

	// BuildMode describes the current build configuration
	BuildMode = "purego"
)
