package graphdb

import (
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config holds the tunables of a store.
type Config struct {
	Backend         BackendKind `yaml:"backend"`
	PageSize        int         `yaml:"page_size"`
	BufferCapacity  int         `yaml:"buffer_capacity"`
	SyncWrites      bool        `yaml:"sync_writes"`
	MaxTransactions int         `yaml:"max_transactions"`
	IDLeaseSize     uint64      `yaml:"id_lease_size"`
	LogLevel        string      `yaml:"log_level"`
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() Config {
	return Config{
		Backend:         BackendPageFile,
		PageSize:        defaultPageLen,
		BufferCapacity:  100,
		SyncWrites:      true,
		MaxTransactions: 64,
		IDLeaseSize:     64,
		LogLevel:        "info",
	}
}

// LoadConfig reads a YAML file. Fields the file leaves out keep their
// default values.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the configuration for values no store can run with.
func (c Config) Validate() error {
	var errs []error
	switch c.Backend {
	case BackendPageFile, BackendBadger, BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown backend %q", c.Backend))
	}
	if c.PageSize < minPageSize {
		errs = append(errs, fmt.Errorf("page_size %d below minimum %d", c.PageSize, minPageSize))
	}
	if c.BufferCapacity <= 0 {
		errs = append(errs, fmt.Errorf("buffer_capacity must be positive"))
	}
	if c.MaxTransactions <= 0 {
		errs = append(errs, fmt.Errorf("max_transactions must be positive"))
	}
	if c.IDLeaseSize == 0 {
		errs = append(errs, fmt.Errorf("id_lease_size must be positive"))
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// logger builds the logger a store uses when none is supplied.
func (c Config) logger() *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if level, err := logrus.ParseLevel(c.LogLevel); err == nil {
		logger.SetLevel(level)
	}
	return logger
}
