package graphdb

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// OpenOptions selects how Open treats the location.
type OpenOptions uint8

const (
	// OpenNone opens an existing store and fails if there is none.
	OpenNone OpenOptions = iota
	// OpenCreate opens a store, creating an empty one if absent.
	OpenCreate
	// OpenTruncate discards any existing contents and starts empty.
	OpenTruncate
)

func (o OpenOptions) String() string {
	switch o {
	case OpenNone:
		return "none"
	case OpenCreate:
		return "create"
	case OpenTruncate:
		return "truncate"
	}
	return fmt.Sprintf("OpenOptions(%d)", uint8(o))
}

// Option adjusts how a store is opened.
type Option func(*options)

type options struct {
	config Config
	logger *logrus.Logger
}

func defaultOptions() options {
	return options{config: DefaultConfig()}
}

// WithConfig replaces the whole configuration.
func WithConfig(cfg Config) Option {
	return func(o *options) { o.config = cfg }
}

func WithBackend(kind BackendKind) Option {
	return func(o *options) { o.config.Backend = kind }
}

func WithPageSize(size int) Option {
	return func(o *options) { o.config.PageSize = size }
}

func WithBufferCapacity(pages int) Option {
	return func(o *options) { o.config.BufferCapacity = pages }
}

func WithSyncWrites(sync bool) Option {
	return func(o *options) { o.config.SyncWrites = sync }
}

// WithMaxTransactions bounds the number of concurrently active
// transactions.
func WithMaxTransactions(n int) Option {
	return func(o *options) { o.config.MaxTransactions = n }
}

// WithIDLeaseSize sets how many identities are reserved from storage at a
// time.
func WithIDLeaseSize(n uint64) Option {
	return func(o *options) { o.config.IDLeaseSize = n }
}

// WithLogger makes the store log through logger instead of building one
// from the configured level.
func WithLogger(logger *logrus.Logger) Option {
	return func(o *options) { o.logger = logger }
}
