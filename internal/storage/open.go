package storage

import (
	"fmt"
	"log/slog"
)

// Supported drivers.
const (
	DriverBadger = "badger"
	DriverSQLite = "sqlite"
)

// OpenConfig selects and locates a backend.
type OpenConfig struct {
	Driver     string
	BadgerPath string
	SQLitePath string
	Guard      GuardConfig
}

// Open opens the configured backend wrapped in a Guarded store.
func Open(cfg OpenConfig, log *slog.Logger) (*Guarded, error) {
	var (
		inner Store
		err   error
	)
	switch cfg.Driver {
	case DriverBadger, "":
		inner, err = OpenBadger(cfg.BadgerPath, log)
	case DriverSQLite:
		inner, err = OpenSQLite(cfg.SQLitePath, log)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	return NewGuarded(inner, cfg.Guard, log), nil
}
