//go:build sqlite_vec
// +build sqlite_vec

package storage

// Compiled with the sqlite_vec tag: CGO driver, vector distance computed in SQL.
//
//   CGO_ENABLED=1 go build -tags "sqlite_vec,fts5" ./...

import (
	_ "github.com/mattn/go-sqlite3"
)

const (
	// DriverName is the database/sql driver name
	DriverName = "sqlite3"

	// VectorExtensionAvailable selects SQL-side vector scoring
	VectorExtensionAvailable = true

	// BuildMode is reported by the version command
	BuildMode = "cgo"
)
