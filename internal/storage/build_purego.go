//go:build purego || !sqlite_vec
// +build purego !sqlite_vec

package storage

// Default build: pure Go driver, no C toolchain, vectors scored in Go.
//
//   CGO_ENABLED=0 go build -tags "purego" ./...

import (
	_ "modernc.org/sqlite"
)

const (
	// DriverName is the database/sql driver name
	DriverName = "sqlite"

	// VectorExtensionAvailable selects SQL-side vector scoring
	VectorExtensionAvailable = false

	// BuildMode is reported by the version command
	BuildMode = "purego"
)
