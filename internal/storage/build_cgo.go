//go:build sqlite_vec

package storage

// Built with CGO_ENABLED=1 go build -tags sqlite_vec ./...
// Uses the C SQLite amalgamation through github.com/mattn/go-sqlite3, which
// scans large stores noticeably faster than the pure Go driver.

import (
	_ "github.com/mattn/go-sqlite3"
)

const (
	// DriverName is the database/sql driver registered by this build
	DriverName = "sqlite3"

	// BuildMode describes the current build configuration
	BuildMode = "cgo"
)
