// Package bus publishes configuration update envelopes to a message bus and
// reads them back for consumers.
package bus

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/xzhHas/configflow/types"
)

// Publisher delivers one envelope at a time. Publish returns only once the
// bus has accepted or rejected the message. Messages with the same key are
// delivered in the order they were published.
type Publisher interface {
	Publish(ctx context.Context, key uuid.UUID, env types.Envelope) error
	Close() error
}

// Delivery is a received envelope with its routing key.
type Delivery struct {
	Key      string
	Envelope types.Envelope
}

// Consumer reads published envelopes until ctx is done.
type Consumer interface {
	Consume(ctx context.Context, handle func(Delivery) error) error
	Close() error
}

type (
	PublisherFactory func(cfg types.BusConfig, logger *zap.Logger) (Publisher, error)
	ConsumerFactory  func(cfg types.BusConfig, logger *zap.Logger) (Consumer, error)
)

type driver struct {
	publisher PublisherFactory
	consumer  ConsumerFactory
}

var (
	driversMu sync.RWMutex
	drivers   = map[string]driver{}
)

// Register makes a bus driver available by name. consumer may be nil.
func Register(name string, publisher PublisherFactory, consumer ConsumerFactory) {
	driversMu.Lock()
	defer driversMu.Unlock()
	drivers[name] = driver{publisher: publisher, consumer: consumer}
}

// Drivers lists the registered driver names.
func Drivers() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()
	names := make([]string, 0, len(drivers))
	for n := range drivers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func lookup(name string) (driver, error) {
	driversMu.RLock()
	defer driversMu.RUnlock()
	d, ok := drivers[name]
	if !ok {
		return driver{}, errors.Errorf("unknown bus driver %q", name)
	}
	return d, nil
}

// Open creates the publisher configured by cfg.Driver.
func Open(cfg types.BusConfig, logger *zap.Logger) (Publisher, error) {
	d, err := lookup(cfg.Driver)
	if err != nil {
		return nil, err
	}
	return d.publisher(cfg, logger)
}

// OpenConsumer creates the consumer configured by cfg.Driver.
func OpenConsumer(cfg types.BusConfig, logger *zap.Logger) (Consumer, error) {
	d, err := lookup(cfg.Driver)
	if err != nil {
		return nil, err
	}
	if d.consumer == nil {
		return nil, errors.Errorf("bus driver %q cannot consume", cfg.Driver)
	}
	return d.consumer(cfg, logger)
}

func timeout(cfg types.BusConfig) time.Duration {
	if cfg.TimeoutMS <= 0 {
		return 10 * time.Second
	}
	return time.Duration(cfg.TimeoutMS) * time.Millisecond
}
