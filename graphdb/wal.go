package graphdb

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	walMagic       = "KWAL"
	walHeaderSize  = 20
	walEntryHeader = 12
)

// WALManager is the write-ahead log of the page-file backend. A commit is
// appended here before its pages are touched; after the pages are written
// the log is reset. On open, complete entries newer than the file header's
// commit sequence are replayed and a torn tail is dropped.
type WALManager struct {
	path    string
	file    *os.File
	storeID uuid.UUID
	sync    bool
	size    int64
	entries int
	log     *logrus.Entry
}

// OpenWAL opens or creates the log at path for the store storeID.
func OpenWAL(path string, storeID uuid.UUID, truncate, sync bool, log *logrus.Entry) (*WALManager, error) {
	log = log.WithField("wal", path)
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o666)
	if err != nil {
		log.WithError(err).Error("Failed to open WAL")
		return nil, err
	}
	wm := &WALManager{path: path, file: file, storeID: storeID, sync: sync, log: log}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}
	if truncate || info.Size() == 0 {
		if err := wm.Reset(); err != nil {
			file.Close()
			return nil, err
		}
		log.Info("WAL initialized")
		return wm, nil
	}

	header := make([]byte, walHeaderSize)
	if _, err := file.ReadAt(header, 0); err != nil || string(header[0:4]) != walMagic {
		log.Warn("WAL header unreadable, discarding log")
		if err := wm.Reset(); err != nil {
			file.Close()
			return nil, err
		}
		return wm, nil
	}
	var owner uuid.UUID
	copy(owner[:], header[4:20])
	if owner != storeID {
		log.WithField("wal_store_id", owner).Warn("WAL belongs to another store, discarding log")
		if err := wm.Reset(); err != nil {
			file.Close()
			return nil, err
		}
		return wm, nil
	}
	wm.size = info.Size()
	return wm, nil
}

// Replay calls fn for every complete entry and returns how many it saw.
func (wm *WALManager) Replay(fn func(CommitBatch) error) (int, error) {
	offset := int64(walHeaderSize)
	n := 0
	for offset < wm.size {
		head := make([]byte, walEntryHeader)
		if _, err := wm.file.ReadAt(head, offset); err != nil {
			wm.log.WithField("offset", offset).Warn("Torn WAL entry header, dropping tail")
			break
		}
		length := int64(binary.LittleEndian.Uint32(head[0:4]))
		sum := binary.LittleEndian.Uint64(head[4:12])
		if offset+walEntryHeader+length > wm.size {
			wm.log.WithField("offset", offset).Warn("Torn WAL entry, dropping tail")
			break
		}
		payload := make([]byte, length)
		if _, err := wm.file.ReadAt(payload, offset+walEntryHeader); err != nil && err != io.EOF {
			return n, fmt.Errorf("read WAL entry at %d: %w", offset, err)
		}
		if xxhash.Sum64(payload) != sum {
			wm.log.WithField("offset", offset).Warn("WAL checksum mismatch, dropping tail")
			break
		}
		batch, err := DecodeBatch(payload)
		if err != nil {
			wm.log.WithError(err).WithField("offset", offset).Warn("Undecodable WAL entry, dropping tail")
			break
		}
		if err := fn(batch); err != nil {
			return n, err
		}
		n++
		offset += walEntryHeader + length
	}
	wm.log.WithField("entries", n).Info("WAL replayed")
	return n, nil
}

// LogBatch appends one commit to the log.
func (wm *WALManager) LogBatch(batch CommitBatch) error {
	payload, err := EncodeBatch(batch)
	if err != nil {
		return fmt.Errorf("encode WAL entry: %w", err)
	}
	entry := make([]byte, walEntryHeader+len(payload))
	binary.LittleEndian.PutUint32(entry[0:4], uint32(len(payload)))
	binary.LittleEndian.PutUint64(entry[4:12], xxhash.Sum64(payload))
	copy(entry[walEntryHeader:], payload)
	if _, err := wm.file.WriteAt(entry, wm.size); err != nil {
		wm.log.WithError(err).Error("Failed to append WAL entry")
		return err
	}
	if wm.sync {
		if err := wm.file.Sync(); err != nil {
			wm.log.WithError(err).Error("Failed to sync WAL")
			return err
		}
	}
	wm.size += int64(len(entry))
	wm.entries++
	wm.log.WithFields(logrus.Fields{"seq": batch.Seq, "records": len(batch.Records)}).Debug("Commit logged")
	return nil
}

// Reset discards every entry.
func (wm *WALManager) Reset() error {
	if err := wm.file.Truncate(0); err != nil {
		wm.log.WithError(err).Error("Failed to truncate WAL")
		return err
	}
	header := make([]byte, walHeaderSize)
	copy(header[0:4], walMagic)
	copy(header[4:20], wm.storeID[:])
	if _, err := wm.file.WriteAt(header, 0); err != nil {
		wm.log.WithError(err).Error("Failed to write WAL header")
		return err
	}
	if wm.sync {
		if err := wm.file.Sync(); err != nil {
			return err
		}
	}
	wm.size = walHeaderSize
	wm.entries = 0
	return nil
}

// Close performs cleanup
func (wm *WALManager) Close() error {
	if err := wm.file.Close(); err != nil {
		wm.log.WithError(err).Error("Failed to close WAL")
		return err
	}
	wm.log.Info("WALManager closed")
	return nil
}
