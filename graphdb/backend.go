package graphdb

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// BackendKind names a persistence implementation.
type BackendKind string

const (
	BackendPageFile BackendKind = "pagefile"
	BackendBadger   BackendKind = "badger"
	BackendMemory   BackendKind = "memory"
)

// Backend persists the committed state of a store. Calls may arrive
// concurrently: PutString from the interner while Apply runs for a commit.
type Backend interface {
	// Load reports every stored string, then every live record, and returns
	// the sequence of the last durable commit. Removals leave no record, so
	// the returned sequence may exceed every record's Seq.
	Load(strings func(StringID, string) error, records func(Record) error) (uint64, error)
	// PutString durably stores a newly interned string.
	PutString(id StringID, text string) error
	// Apply durably and atomically stores one commit.
	Apply(batch CommitBatch) error
	// Sequence returns the identity source for nodes or edges.
	Sequence(kind ElementKind) (IDSequence, error)
	Close() error
}

func openBackend(location string, mode OpenOptions, cfg Config, log *logrus.Entry) (Backend, error) {
	switch cfg.Backend {
	case BackendPageFile, "":
		return openPageFileBackend(location, mode, cfg, log)
	case BackendBadger:
		return openBadgerBackend(location, mode, cfg, log)
	case BackendMemory:
		return newMemoryBackend(cfg), nil
	}
	return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
}

// memoryBackend keeps nothing; a store on it lives as long as the process.
type memoryBackend struct {
	nodes *leasedSequence
	edges *leasedSequence
}

func newMemoryBackend(cfg Config) *memoryBackend {
	return &memoryBackend{
		nodes: newLeasedSequence(1, cfg.IDLeaseSize, nil),
		edges: newLeasedSequence(1, cfg.IDLeaseSize, nil),
	}
}

func (m *memoryBackend) Load(func(StringID, string) error, func(Record) error) (uint64, error) {
	return 0, nil
}

func (m *memoryBackend) PutString(StringID, string) error { return nil }

func (m *memoryBackend) Apply(CommitBatch) error { return nil }

func (m *memoryBackend) Sequence(kind ElementKind) (IDSequence, error) {
	if kind == KindEdge {
		return m.edges, nil
	}
	return m.nodes, nil
}

func (m *memoryBackend) Close() error { return nil }
