//go:build !cgo || purego

package store

// Built without CGO or with the purego tag: modernc.org/sqlite.
//
//   CGO_ENABLED=0 go build -tags purego ./...

import (
	_ "modernc.org/sqlite"
)

const (
	// DriverName is the database/sql driver registered for SQLite
	DriverName = "sqlite"

	// BuildMode describes the current build configuration
	BuildMode = "purego"
)
