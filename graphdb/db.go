package graphdb

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// Store is an open graph store.
type Store struct {
	location string
	config   Config
	backend  Backend
	interner *Interner
	ids      *IDAllocator
	graph    *GraphManager
	txnMgr   *TransactionManager
	log      *logrus.Entry

	closeOnce sync.Once
	closeErr  error
}

// Stats summarizes the committed state of a store.
type Stats struct {
	Backend            BackendKind
	Nodes              int
	Edges              int
	Strings            int
	CommitSeq          uint64
	ActiveTransactions int
}

// Open opens the store at location. For the page-file backend location is
// a file path, for badger a directory; the memory backend ignores it.
func Open(location string, mode OpenOptions, opts ...Option) (*Store, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	cfg := o.config
	if cfg.Backend == "" {
		cfg.Backend = BackendPageFile
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreOpen, err)
	}
	logger := o.logger
	if logger == nil {
		logger = cfg.logger()
	}
	base := logger.WithField("store", location)
	log := base.WithField("component", "Store")
	log.WithFields(logrus.Fields{"backend": cfg.Backend, "mode": mode}).Info("Opening store")

	backend, err := openBackend(location, mode, cfg, base)
	if err != nil {
		log.WithError(err).Error("Failed to open backend")
		return nil, fmt.Errorf("%w: %w", ErrStoreOpen, err)
	}

	s := &Store{
		location: location,
		config:   cfg,
		backend:  backend,
		interner: NewInterner(backend.PutString, base.WithField("component", "Interner")),
		graph:    NewGraphManager(base.WithField("component", "GraphManager")),
		log:      log,
	}
	if err := s.load(); err != nil {
		log.WithError(err).Error("Failed to load committed state")
		backend.Close()
		return nil, fmt.Errorf("%w: %w", ErrStoreOpen, err)
	}
	nodes, err := backend.Sequence(KindNode)
	if err == nil {
		var edges IDSequence
		if edges, err = backend.Sequence(KindEdge); err == nil {
			s.ids = NewIDAllocator(nodes, edges, base.WithField("component", "IDAllocator"))
		}
	}
	if err != nil {
		backend.Close()
		return nil, fmt.Errorf("%w: %w", ErrStoreOpen, err)
	}
	s.txnMgr = NewTransactionManager(s.graph, backend, cfg.MaxTransactions, base.WithField("component", "TransactionManager"))

	n, e := s.graph.Counts(s.graph.Published())
	log.WithFields(logrus.Fields{
		"nodes":   n,
		"edges":   e,
		"strings": s.interner.Len(),
		"seq":     s.graph.Published(),
	}).Info("Store opened")
	return s, nil
}

func (s *Store) load() error {
	var nodes, edges int
	committed, err := s.backend.Load(s.interner.load, func(rec Record) error {
		if rec.Kind == KindEdge {
			if _, ok := s.graph.Lookup(KindNode, rec.Source, ^uint64(0)); !ok {
				return fmt.Errorf("%w: edge %d source %d missing", ErrCorrupt, rec.ID, rec.Source)
			}
			if _, ok := s.graph.Lookup(KindNode, rec.Target, ^uint64(0)); !ok {
				return fmt.Errorf("%w: edge %d target %d missing", ErrCorrupt, rec.ID, rec.Target)
			}
			edges++
		} else {
			nodes++
		}
		s.graph.load(rec)
		return nil
	})
	if err != nil {
		return err
	}
	s.graph.restore(committed)
	s.log.WithFields(logrus.Fields{
		"nodes": nodes,
		"edges": edges,
		"seq":   s.graph.Published(),
	}).Debug("Committed state loaded")
	return nil
}

// Begin starts a transaction in the given mode. It blocks until the mode
// is admitted or ctx is done.
//
// A goroutine already holding a transaction of s must pass that
// transaction's Context (or a context derived from it) to start another;
// Begin then fails with ErrReentrantTransaction. Called with an unrelated
// context it cannot tell the two apart and may block until ctx is done,
// for instance when asking for ModeExclusive while holding any other mode.
func (s *Store) Begin(ctx context.Context, mode Mode) (*Transaction, error) {
	tx, err := s.txnMgr.Begin(ctx, s, mode)
	if err != nil {
		return nil, opError("begin", KindNone, 0, err)
	}
	return tx, nil
}

// BeginFlags starts a transaction from the exclusive/read-only flag pair.
func (s *Store) BeginFlags(ctx context.Context, exclusive, readOnly bool) (*Transaction, error) {
	mode, err := ModeFromFlags(exclusive, readOnly)
	if err != nil {
		return nil, opError("begin", KindNone, 0, err)
	}
	return s.Begin(ctx, mode)
}

// Run executes fn in a transaction of the given mode, committing if fn
// returns nil and aborting otherwise. Nested calls from fn must pass
// tx.Context(), as with Begin.
func (s *Store) Run(ctx context.Context, mode Mode, fn func(*Transaction) error) error {
	tx, err := s.Begin(ctx, mode)
	if err != nil {
		return err
	}
	defer tx.Abort()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// Update runs fn in a shared-write transaction.
func (s *Store) Update(ctx context.Context, fn func(*Transaction) error) error {
	return s.Run(ctx, ModeSharedWrite, fn)
}

// View runs fn in a read-only transaction.
func (s *Store) View(ctx context.Context, fn func(*Transaction) error) error {
	return s.Run(ctx, ModeReadOnly, fn)
}

// Interner returns the string table of the store.
func (s *Store) Interner() *Interner { return s.interner }

func (s *Store) Location() string { return s.location }

func (s *Store) Config() Config { return s.config }

func (s *Store) Stats() Stats {
	seq := s.graph.Published()
	n, e := s.graph.Counts(seq)
	return Stats{
		Backend:            s.config.Backend,
		Nodes:              n,
		Edges:              e,
		Strings:            s.interner.Len(),
		CommitSeq:          seq,
		ActiveTransactions: s.txnMgr.Active(),
	}
}

// Close waits for every active transaction to end, then releases the
// store. A goroutine must not call Close while it holds a transaction.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		if err := s.txnMgr.Close(context.Background()); err != nil {
			s.closeErr = err
			return
		}
		s.closeErr = errors.Join(s.ids.Release(), s.backend.Close())
		if s.closeErr != nil {
			s.log.WithError(s.closeErr).Error("Failed to close store")
			return
		}
		s.log.Info("Store closed")
	})
	return s.closeErr
}
