package dispatch

import (
	"errors"
	"fmt"
	"time"
)

var ErrInvalidConfig = errors.New("invalid dispatcher config")

const (
	DefaultPeriod           = 2 * time.Second
	DefaultQueueCapacity    = 100
	DefaultBulkMessageLimit = 2000
)

// Config is fixed for the lifetime of a Dispatcher.
type Config struct {
	// Period is both the drain interval and the minimum gap between two
	// deliveries.
	Period time.Duration
	// QueueCapacity bounds the intake queue. Records offered to a full queue
	// are dropped and counted.
	QueueCapacity int
	// BulkMessageLimit is the largest merged text (in characters) sent as
	// one message.
	BulkMessageLimit int
}

func DefaultConfig() Config {
	return Config{
		Period:           DefaultPeriod,
		QueueCapacity:    DefaultQueueCapacity,
		BulkMessageLimit: DefaultBulkMessageLimit,
	}
}

// Validate fails on any non-positive value. Zero values are not defaulted here.
func (c Config) Validate() error {
	if c.Period <= 0 {
		return fmt.Errorf("%w: period must be > 0 (got %s)", ErrInvalidConfig, c.Period)
	}
	if c.QueueCapacity <= 0 {
		return fmt.Errorf("%w: queue capacity must be > 0 (got %d)", ErrInvalidConfig, c.QueueCapacity)
	}
	if c.BulkMessageLimit <= 0 {
		return fmt.Errorf("%w: bulk message limit must be > 0 (got %d)", ErrInvalidConfig, c.BulkMessageLimit)
	}
	return nil
}
