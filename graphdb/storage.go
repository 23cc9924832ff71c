package graphdb

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	fileMagic      = "KGDB"
	fileVersion    = 1
	minPageSize    = 128
	headerSize     = 56
	defaultPageLen = 4096
)

// FileHeader is the content of page 0.
type FileHeader struct {
	PageSize    uint32
	NumPages    uint32
	NodeCeiling uint64
	EdgeCeiling uint64
	CommitSeq   uint64
	StoreID     uuid.UUID
}

func (h FileHeader) encode(page []byte) {
	copy(page[0:4], fileMagic)
	binary.LittleEndian.PutUint32(page[4:8], fileVersion)
	binary.LittleEndian.PutUint32(page[8:12], h.PageSize)
	binary.LittleEndian.PutUint32(page[12:16], h.NumPages)
	binary.LittleEndian.PutUint64(page[16:24], h.NodeCeiling)
	binary.LittleEndian.PutUint64(page[24:32], h.EdgeCeiling)
	binary.LittleEndian.PutUint64(page[32:40], h.CommitSeq)
	copy(page[40:56], h.StoreID[:])
}

func decodeHeader(page []byte) (FileHeader, error) {
	var h FileHeader
	if len(page) < headerSize || string(page[0:4]) != fileMagic {
		return h, fmt.Errorf("%w: bad file magic", ErrCorrupt)
	}
	if v := binary.LittleEndian.Uint32(page[4:8]); v != fileVersion {
		return h, fmt.Errorf("%w: unsupported file version %d", ErrCorrupt, v)
	}
	h.PageSize = binary.LittleEndian.Uint32(page[8:12])
	h.NumPages = binary.LittleEndian.Uint32(page[12:16])
	h.NodeCeiling = binary.LittleEndian.Uint64(page[16:24])
	h.EdgeCeiling = binary.LittleEndian.Uint64(page[24:32])
	h.CommitSeq = binary.LittleEndian.Uint64(page[32:40])
	copy(h.StoreID[:], page[40:56])
	return h, nil
}

// StorageManager handles disk I/O for the database file
type StorageManager struct {
	file     *os.File
	pageSize int
	header   FileHeader
	log      *logrus.Entry
}

// NewStorageManager opens the database file according to mode. The page
// size of an existing file wins over pageSize.
func NewStorageManager(filename string, pageSize int, mode OpenOptions, log *logrus.Entry) (*StorageManager, error) {
	log = log.WithFields(logrus.Fields{
		"filename":  filename,
		"page_size": pageSize,
		"mode":      mode,
	})
	log.Info("Initializing StorageManager")

	if pageSize < minPageSize {
		return nil, fmt.Errorf("page size %d below minimum %d", pageSize, minPageSize)
	}
	flags := os.O_RDWR
	switch mode {
	case OpenCreate:
		flags |= os.O_CREATE
	case OpenTruncate:
		flags |= os.O_CREATE | os.O_TRUNC
	}
	file, err := os.OpenFile(filename, flags, 0o666)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log.Error("Storage file does not exist")
		} else {
			log.WithError(err).Error("Failed to open storage file")
		}
		return nil, err
	}

	fileInfo, err := file.Stat()
	if err != nil {
		log.WithError(err).Error("Failed to stat storage file")
		file.Close()
		return nil, err
	}

	sm := &StorageManager{file: file, pageSize: pageSize, log: log}
	if fileInfo.Size() == 0 {
		if mode == OpenNone {
			file.Close()
			log.Error("Storage file is empty")
			return nil, fmt.Errorf("%w: empty database file", ErrCorrupt)
		}
		log.Debug("Initializing new database file with header")
		sm.header = FileHeader{
			PageSize:    uint32(pageSize),
			NumPages:    1,
			NodeCeiling: 1,
			EdgeCeiling: 1,
			StoreID:     uuid.New(),
		}
		if err := sm.writeHeader(); err != nil {
			file.Close()
			return nil, err
		}
		return sm, nil
	}

	raw := make([]byte, headerSize)
	if _, err := file.ReadAt(raw, 0); err != nil {
		log.WithError(err).Error("Failed to read header")
		file.Close()
		return nil, fmt.Errorf("%w: read header: %v", ErrCorrupt, err)
	}
	header, err := decodeHeader(raw)
	if err != nil {
		log.WithError(err).Error("Invalid file header")
		file.Close()
		return nil, err
	}
	if int(header.PageSize) != pageSize {
		log.WithField("file_page_size", header.PageSize).Warn("Using page size recorded in file")
		sm.pageSize = int(header.PageSize)
	}
	if fileInfo.Size()%int64(sm.pageSize) != 0 {
		log.Error("File size not aligned with page size")
		file.Close()
		return nil, fmt.Errorf("%w: file size %d not aligned with page size %d", ErrCorrupt, fileInfo.Size(), sm.pageSize)
	}
	onDisk := uint32(fileInfo.Size() / int64(sm.pageSize))
	if onDisk < header.NumPages {
		file.Close()
		return nil, fmt.Errorf("%w: header lists %d pages, file has %d", ErrCorrupt, header.NumPages, onDisk)
	}
	sm.header = header
	return sm, nil
}

func (sm *StorageManager) PageSize() int { return sm.pageSize }

func (sm *StorageManager) NumPages() int { return int(sm.header.NumPages) }

func (sm *StorageManager) Header() FileHeader { return sm.header }

// UpdateHeader applies fn to the header and writes it back.
func (sm *StorageManager) UpdateHeader(fn func(*FileHeader)) error {
	prev := sm.header
	fn(&sm.header)
	if err := sm.writeHeader(); err != nil {
		sm.header = prev
		return err
	}
	return nil
}

func (sm *StorageManager) writeHeader() error {
	page := make([]byte, sm.pageSize)
	sm.header.encode(page)
	if _, err := sm.file.WriteAt(page, 0); err != nil {
		sm.log.WithError(err).Error("Failed to write header")
		return err
	}
	return nil
}

// ReadPage reads a page from disk
func (sm *StorageManager) ReadPage(pageID int) ([]byte, error) {
	if pageID <= 0 || pageID >= sm.NumPages() {
		sm.log.WithField("page_id", pageID).Error("Invalid page ID")
		return nil, fmt.Errorf("read page %d: %w", pageID, os.ErrInvalid)
	}

	data := make([]byte, sm.pageSize)
	_, err := sm.file.ReadAt(data, int64(pageID)*int64(sm.pageSize))
	if err != nil {
		sm.log.WithError(err).WithField("page_id", pageID).Error("Failed to read page")
		return nil, err
	}
	return data, nil
}

// WritePage writes a page to disk
func (sm *StorageManager) WritePage(pageID int, data []byte) error {
	if pageID <= 0 || pageID >= sm.NumPages() || len(data) != sm.pageSize {
		sm.log.WithField("page_id", pageID).Error("Invalid page ID or data length")
		return fmt.Errorf("write page %d: %w", pageID, os.ErrInvalid)
	}

	_, err := sm.file.WriteAt(data, int64(pageID)*int64(sm.pageSize))
	if err != nil {
		sm.log.WithError(err).WithField("page_id", pageID).Error("Failed to write page")
		return err
	}
	return nil
}

// AllocatePages appends n zeroed pages and returns the first page ID.
func (sm *StorageManager) AllocatePages(n int) (int, error) {
	first := sm.NumPages()
	blank := make([]byte, n*sm.pageSize)
	if _, err := sm.file.WriteAt(blank, int64(first)*int64(sm.pageSize)); err != nil {
		sm.log.WithError(err).Error("Failed to allocate pages")
		return -1, err
	}
	if err := sm.UpdateHeader(func(h *FileHeader) { h.NumPages += uint32(n) }); err != nil {
		return -1, err
	}
	sm.log.WithFields(logrus.Fields{"first_page_id": first, "count": n}).Debug("Allocated pages")
	return first, nil
}

func (sm *StorageManager) Sync() error {
	if err := sm.file.Sync(); err != nil {
		sm.log.WithError(err).Error("Failed to sync file")
		return err
	}
	return nil
}

// Close closes the storage file
func (sm *StorageManager) Close() error {
	if err := sm.Sync(); err != nil {
		sm.file.Close()
		return err
	}
	if err := sm.file.Close(); err != nil {
		sm.log.WithError(err).Error("Failed to close file")
		return err
	}
	sm.log.Info("Storage file closed")
	return nil
}
