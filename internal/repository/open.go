package repository

import (
	"context"
	"fmt"
)

// Supported storage drivers.
const (
	DriverFile     = "file"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Options selects and configures a TaskRepo backend.
type Options struct {
	Driver    string
	DSN       string
	StateFile string
}

// Open returns the TaskRepo for opts.Driver with its schema in place.
func Open(ctx context.Context, opts Options) (TaskRepo, error) {
	switch opts.Driver {
	case DriverFile:
		return NewTaskStorage(opts.StateFile)
	case DriverSQLite:
		return NewSQLiteTaskStorage(ctx, opts.DSN)
	case DriverPostgres:
		return NewPostgresTaskStorage(ctx, opts.DSN)
	default:
		return nil, fmt.Errorf("unknown store driver %q", opts.Driver)
	}
}
