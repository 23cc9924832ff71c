package graphdb

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

// pageFileBackend keeps a store in one page file plus a write-ahead log
// next to it.
type pageFileBackend struct {
	mu      sync.Mutex
	storage *StorageManager
	pool    *BufferPool
	records *RecordManager
	index   *IndexManager
	wal     *WALManager
	sync    bool
	nodes   *leasedSequence
	edges   *leasedSequence
	failed  error
	log     *logrus.Entry
}

func openPageFileBackend(location string, mode OpenOptions, cfg Config, log *logrus.Entry) (*pageFileBackend, error) {
	log = log.WithField("backend", BackendPageFile)
	storage, err := NewStorageManager(location, cfg.PageSize, mode, log.WithField("component", "StorageManager"))
	if err != nil {
		return nil, err
	}
	pool := NewBufferPool(storage, cfg.BufferCapacity, log.WithField("component", "BufferPool"))
	b := &pageFileBackend{
		storage: storage,
		pool:    pool,
		records: NewRecordManager(pool, storage.PageSize(), log.WithField("component", "RecordManager")),
		index:   NewIndexManager(log.WithField("component", "IndexManager")),
		sync:    cfg.SyncWrites,
		log:     log,
	}
	b.wal, err = OpenWAL(location+".wal", storage.Header().StoreID, mode == OpenTruncate, cfg.SyncWrites,
		log.WithField("component", "WALManager"))
	if err != nil {
		storage.Close()
		return nil, err
	}
	if err := b.recover(); err != nil {
		b.wal.Close()
		storage.Close()
		return nil, err
	}

	header := storage.Header()
	b.nodes = newLeasedSequence(header.NodeCeiling, cfg.IDLeaseSize, func(c uint64) error {
		return b.reserve(KindNode, c)
	})
	b.edges = newLeasedSequence(header.EdgeCeiling, cfg.IDLeaseSize, func(c uint64) error {
		return b.reserve(KindEdge, c)
	})
	nodes, edges, strs := b.index.Len()
	log.WithFields(logrus.Fields{
		"pages":      storage.NumPages(),
		"free_pages": b.records.FreePages(),
		"nodes":      nodes,
		"edges":      edges,
		"strings":    strs,
	}).Info("Page file opened")
	return b, nil
}

// recover rebuilds the index from the pages and replays the log.
func (b *pageFileBackend) recover() error {
	err := b.records.Scan(func(pageID int, kind recordKind, payload []byte) error {
		switch kind {
		case recordString:
			id, _, err := decodeString(payload)
			if err != nil {
				return err
			}
			b.index.PutString(id, pageID)
		case recordNode, recordEdge:
			rec, err := DecodeRecord(payload)
			if err != nil {
				return fmt.Errorf("record at page %d: %w", pageID, err)
			}
			loc := runLocation{pageID: pageID, seq: rec.Seq}
			prev, err := b.index.Search(rec.Kind, rec.ID)
			if err == nil && prev.seq > loc.seq {
				// An interrupted update left an older copy behind.
				return b.records.FreeRecord(pageID)
			}
			if old, ok := b.index.Put(rec.Kind, rec.ID, loc); ok {
				return b.records.FreeRecord(old.pageID)
			}
		default:
			return fmt.Errorf("%w: unknown record kind %d at page %d", ErrCorrupt, kind, pageID)
		}
		return nil
	})
	if err != nil {
		b.log.WithError(err).Error("Failed to scan page file")
		return err
	}

	committed := b.storage.Header().CommitSeq
	n, err := b.wal.Replay(func(batch CommitBatch) error {
		if batch.Seq <= committed {
			return nil
		}
		if err := b.applyPages(batch); err != nil {
			return err
		}
		committed = batch.Seq
		return b.storage.UpdateHeader(func(h *FileHeader) { h.CommitSeq = batch.Seq })
	})
	if err != nil {
		b.log.WithError(err).Error("Failed to replay WAL")
		return err
	}
	if n > 0 {
		if err := b.storage.Sync(); err != nil {
			return err
		}
	}
	return b.wal.Reset()
}

func (b *pageFileBackend) Load(strings func(StringID, string) error, records func(Record) error) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, pageID := range b.index.stringIndex {
		_, payload, err := b.records.ReadRecord(pageID)
		if err != nil {
			return 0, err
		}
		_, text, err := decodeString(payload)
		if err != nil {
			return 0, err
		}
		if err := strings(id, text); err != nil {
			return 0, err
		}
	}
	for _, kind := range []ElementKind{KindNode, KindEdge} {
		table := b.index.table(kind)
		ids := make([]int64, 0, len(table))
		for id := range table {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		for _, id := range ids {
			_, payload, err := b.records.ReadRecord(table[id].pageID)
			if err != nil {
				return 0, err
			}
			rec, err := DecodeRecord(payload)
			if err != nil {
				return 0, err
			}
			if err := records(rec); err != nil {
				return 0, err
			}
		}
	}
	return b.storage.Header().CommitSeq, nil
}

func (b *pageFileBackend) PutString(id StringID, text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failed != nil {
		return b.failed
	}
	pageID, err := b.records.WriteRecord(recordString, encodeString(id, text))
	if err != nil {
		return err
	}
	b.index.PutString(id, pageID)
	if b.sync {
		return b.storage.Sync()
	}
	return nil
}

// Apply logs the batch, then rewrites the affected records. Once the log
// append succeeds the commit is durable; a later page failure poisons the
// backend and the next open replays the log.
func (b *pageFileBackend) Apply(batch CommitBatch) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failed != nil {
		return b.failed
	}
	if err := b.wal.LogBatch(batch); err != nil {
		return fmt.Errorf("write-ahead log: %w", err)
	}

	err := b.applyPages(batch)
	if err == nil {
		err = b.storage.UpdateHeader(func(h *FileHeader) { h.CommitSeq = batch.Seq })
	}
	if err == nil && b.sync {
		err = b.storage.Sync()
	}
	if err == nil {
		err = b.wal.Reset()
	}
	if err != nil {
		b.failed = fmt.Errorf("%w: page file needs recovery: %v", ErrCorrupt, err)
		b.log.WithError(err).WithField("seq", batch.Seq).Error("Commit logged but not applied; reopen to recover")
	}
	return nil
}

func (b *pageFileBackend) applyPages(batch CommitBatch) error {
	for _, rec := range batch.Records {
		if !rec.Active {
			if old, ok := b.index.Delete(rec.Kind, rec.ID); ok {
				if err := b.records.FreeRecord(old.pageID); err != nil {
					return err
				}
			}
			continue
		}
		payload, err := EncodeRecord(rec)
		if err != nil {
			return err
		}
		kind := recordNode
		if rec.Kind == KindEdge {
			kind = recordEdge
		}
		pageID, err := b.records.WriteRecord(kind, payload)
		if err != nil {
			return err
		}
		if old, ok := b.index.Put(rec.Kind, rec.ID, runLocation{pageID: pageID, seq: rec.Seq}); ok {
			if err := b.records.FreeRecord(old.pageID); err != nil {
				return err
			}
		}
	}
	return nil
}

func (b *pageFileBackend) reserve(kind ElementKind, ceiling uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	err := b.storage.UpdateHeader(func(h *FileHeader) {
		if kind == KindEdge {
			h.EdgeCeiling = ceiling
		} else {
			h.NodeCeiling = ceiling
		}
	})
	if err != nil {
		return err
	}
	return b.storage.Sync()
}

func (b *pageFileBackend) Sequence(kind ElementKind) (IDSequence, error) {
	if kind == KindEdge {
		return b.edges, nil
	}
	return b.nodes, nil
}

func (b *pageFileBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return errors.Join(b.wal.Close(), b.pool.Close(), b.storage.Close())
}
