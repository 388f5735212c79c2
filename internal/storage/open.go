package storage

import (
	"context"
	"fmt"
	"strings"

	logx "hooklog/pkg/logx"
)

// Store is the journal API used by the app.
type Store interface {
	AppendDelivery(ctx context.Context, d Delivery) error
	// RecentDeliveries returns up to n entries, oldest first.
	RecentDeliveries(ctx context.Context, n int) ([]Delivery, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driver))

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownDriver, driver)
	}
}
