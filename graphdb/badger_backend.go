package graphdb

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
)

var (
	badgerNodePrefix   = []byte("n/")
	badgerEdgePrefix   = []byte("e/")
	badgerStringPrefix = []byte("s/")
	badgerNodeSeqKey   = []byte("q/node")
	badgerEdgeSeqKey   = []byte("q/edge")
	badgerCommitKey    = []byte("q/commit")
)

// badgerBackend keeps a store in a BadgerDB directory. Each commit is one
// badger update, so it is atomic on its own.
type badgerBackend struct {
	db    *badger.DB
	nodes *badgerSequence
	edges *badgerSequence
	log   *logrus.Entry
}

func openBadgerBackend(location string, mode OpenOptions, cfg Config, log *logrus.Entry) (*badgerBackend, error) {
	log = log.WithFields(logrus.Fields{"backend": BackendBadger, "dir": location})
	log.Info("Opening badger backend")

	if mode == OpenNone {
		if _, err := os.Stat(filepath.Join(location, "MANIFEST")); err != nil {
			log.WithError(err).Error("No badger store at location")
			return nil, err
		}
	}

	opts := badger.DefaultOptions(location)
	opts.Logger = nil
	opts.SyncWrites = cfg.SyncWrites
	db, err := badger.Open(opts)
	if err != nil {
		log.WithError(err).Error("Failed to open badger")
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}
	if mode == OpenTruncate {
		if err := db.DropAll(); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to truncate badger store: %w", err)
		}
	}

	b := &badgerBackend{db: db, log: log}
	if b.nodes, err = newBadgerSequence(db, badgerNodeSeqKey, cfg.IDLeaseSize); err != nil {
		db.Close()
		return nil, err
	}
	if b.edges, err = newBadgerSequence(db, badgerEdgeSeqKey, cfg.IDLeaseSize); err != nil {
		b.nodes.Release()
		db.Close()
		return nil, err
	}
	return b, nil
}

func badgerKey(prefix []byte, id uint64) []byte {
	key := make([]byte, len(prefix)+8)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], id)
	return key
}

func recordKey(kind ElementKind, id int64) []byte {
	if kind == KindEdge {
		return badgerKey(badgerEdgePrefix, uint64(id))
	}
	return badgerKey(badgerNodePrefix, uint64(id))
}

func (b *badgerBackend) Load(strings func(StringID, string) error, records func(Record) error) (uint64, error) {
	var committed uint64
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerCommitKey)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return err
		default:
			err = item.Value(func(val []byte) error {
				if len(val) != 8 {
					return fmt.Errorf("%w: commit sequence of %d bytes", ErrCorrupt, len(val))
				}
				committed = binary.BigEndian.Uint64(val)
				return nil
			})
			if err != nil {
				return err
			}
		}

		scan := func(prefix []byte, fn func([]byte) error) error {
			opts := badger.DefaultIteratorOptions
			opts.Prefix = prefix
			it := txn.NewIterator(opts)
			defer it.Close()
			for it.Rewind(); it.Valid(); it.Next() {
				val, err := it.Item().ValueCopy(nil)
				if err != nil {
					return err
				}
				if err := fn(val); err != nil {
					return err
				}
			}
			return nil
		}

		err = scan(badgerStringPrefix, func(val []byte) error {
			id, text, err := decodeString(val)
			if err != nil {
				return err
			}
			return strings(id, text)
		})
		if err != nil {
			return err
		}
		for _, prefix := range [][]byte{badgerNodePrefix, badgerEdgePrefix} {
			err := scan(prefix, func(val []byte) error {
				rec, err := DecodeRecord(val)
				if err != nil {
					return err
				}
				return records(rec)
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return committed, err
}

func (b *badgerBackend) PutString(id StringID, text string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey(badgerStringPrefix, uint64(id)), encodeString(id, text))
	})
}

func (b *badgerBackend) Apply(batch CommitBatch) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		for _, rec := range batch.Records {
			key := recordKey(rec.Kind, rec.ID)
			if !rec.Active {
				if err := txn.Delete(key); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
					return fmt.Errorf("delete %s %d: %w", rec.Kind, rec.ID, err)
				}
				continue
			}
			val, err := EncodeRecord(rec)
			if err != nil {
				return err
			}
			if err := txn.Set(key, val); err != nil {
				return fmt.Errorf("write %s %d: %w", rec.Kind, rec.ID, err)
			}
		}
		seq := make([]byte, 8)
		binary.BigEndian.PutUint64(seq, batch.Seq)
		return txn.Set(badgerCommitKey, seq)
	})
	if err != nil {
		b.log.WithError(err).WithField("seq", batch.Seq).Error("Failed to apply commit")
		return err
	}
	return nil
}

func (b *badgerBackend) Sequence(kind ElementKind) (IDSequence, error) {
	if kind == KindEdge {
		return b.edges, nil
	}
	return b.nodes, nil
}

func (b *badgerBackend) Close() error {
	err := b.db.Close()
	if err != nil {
		b.log.WithError(err).Error("Failed to close badger")
	}
	return err
}

// badgerSequence adapts a badger sequence, which starts at zero, to
// identities starting at one.
type badgerSequence struct {
	seq *badger.Sequence
}

func newBadgerSequence(db *badger.DB, key []byte, bandwidth uint64) (*badgerSequence, error) {
	if bandwidth == 0 {
		bandwidth = 1
	}
	seq, err := db.GetSequence(key, bandwidth)
	if err != nil {
		return nil, fmt.Errorf("open sequence %s: %w", key, err)
	}
	return &badgerSequence{seq: seq}, nil
}

func (s *badgerSequence) Next() (uint64, error) {
	n, err := s.seq.Next()
	if err != nil {
		return 0, err
	}
	return n + 1, nil
}

func (s *badgerSequence) Release() error { return s.seq.Release() }
