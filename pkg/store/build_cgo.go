//go:build cgo && !purego

package store

// Built with CGO: github.com/mattn/go-sqlite3.
//
//   CGO_ENABLED=1 go build ./...

import (
	_ "github.com/mattn/go-sqlite3"
)

const (
	// DriverName is the database/sql driver registered for SQLite
	DriverName = "sqlite3"

	// BuildMode describes the current build configuration
	BuildMode = "cgo"
)
