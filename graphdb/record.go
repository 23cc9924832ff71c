package graphdb

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/sirupsen/logrus"
)

// recordKind tags the first page of a run of pages.
type recordKind byte

const (
	recordFree recordKind = iota
	recordNode
	recordEdge
	recordString
)

// Run header layout: kind(1) length(4) pages(4) checksum(8).
const runHeaderSize = 17

// RecordManager stores variable-length records in runs of consecutive
// pages and reuses freed runs of the same length.
type RecordManager struct {
	bufferPool *BufferPool
	pageSize   int
	free       map[int][]int // run length -> first page IDs
	log        *logrus.Entry
}

// NewRecordManager initializes a new RecordManager
func NewRecordManager(bufferPool *BufferPool, pageSize int, log *logrus.Entry) *RecordManager {
	log = log.WithField("page_size", pageSize)
	log.Info("Initializing RecordManager")
	return &RecordManager{
		bufferPool: bufferPool,
		pageSize:   pageSize,
		free:       make(map[int][]int),
		log:        log,
	}
}

func (rm *RecordManager) pagesFor(n int) int {
	total := n + runHeaderSize
	return (total + rm.pageSize - 1) / rm.pageSize
}

// WriteRecord writes payload to a free or new run and returns its first page.
func (rm *RecordManager) WriteRecord(kind recordKind, payload []byte) (int, error) {
	count := rm.pagesFor(len(payload))
	pageID, err := rm.allocate(count)
	if err != nil {
		rm.log.WithError(err).Error("Failed to allocate run")
		return -1, fmt.Errorf("failed to allocate %d pages: %w", count, err)
	}

	run := make([]byte, count*rm.pageSize)
	run[0] = byte(kind)
	binary.LittleEndian.PutUint32(run[1:5], uint32(len(payload)))
	binary.LittleEndian.PutUint32(run[5:9], uint32(count))
	binary.LittleEndian.PutUint64(run[9:17], xxhash.Sum64(payload))
	copy(run[runHeaderSize:], payload)

	for i := 0; i < count; i++ {
		page := run[i*rm.pageSize : (i+1)*rm.pageSize]
		if err := rm.bufferPool.WritePage(pageID+i, page); err != nil {
			rm.log.WithError(err).WithField("page_id", pageID+i).Error("Failed to write record")
			return -1, fmt.Errorf("failed to write record to page %d: %w", pageID+i, err)
		}
	}
	rm.log.WithFields(logrus.Fields{"page_id": pageID, "pages": count, "kind": kind}).Debug("Record written")
	return pageID, nil
}

func (rm *RecordManager) allocate(count int) (int, error) {
	if ids := rm.free[count]; len(ids) > 0 {
		pageID := ids[len(ids)-1]
		rm.free[count] = ids[:len(ids)-1]
		return pageID, nil
	}
	return rm.bufferPool.storage.AllocatePages(count)
}

// ReadRecord reads and verifies the run starting at pageID.
func (rm *RecordManager) ReadRecord(pageID int) (recordKind, []byte, error) {
	first, err := rm.bufferPool.GetPage(pageID)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read page %d: %w", pageID, err)
	}
	kind, length, count, sum := parseRunHeader(first)
	if kind == recordFree {
		return kind, nil, nil
	}
	if count < 1 || rm.pagesFor(int(length)) != count {
		return 0, nil, fmt.Errorf("%w: run at page %d has length %d in %d pages", ErrCorrupt, pageID, length, count)
	}

	payload := make([]byte, 0, length)
	payload = append(payload, first[runHeaderSize:min(len(first), runHeaderSize+int(length))]...)
	for i := 1; len(payload) < int(length); i++ {
		page, err := rm.bufferPool.GetPage(pageID + i)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to read page %d: %w", pageID+i, err)
		}
		payload = append(payload, page[:min(len(page), int(length)-len(payload))]...)
	}
	if xxhash.Sum64(payload) != sum {
		rm.log.WithField("page_id", pageID).Error("Record checksum mismatch")
		return 0, nil, fmt.Errorf("%w: checksum mismatch at page %d", ErrCorrupt, pageID)
	}
	return kind, payload, nil
}

// FreeRecord marks the run at pageID reusable.
func (rm *RecordManager) FreeRecord(pageID int) error {
	first, err := rm.bufferPool.GetPage(pageID)
	if err != nil {
		return fmt.Errorf("failed to read page %d: %w", pageID, err)
	}
	_, _, count, _ := parseRunHeader(first)
	if count < 1 {
		count = 1
	}
	page := make([]byte, rm.pageSize)
	page[0] = byte(recordFree)
	binary.LittleEndian.PutUint32(page[5:9], uint32(count))
	if err := rm.bufferPool.WritePage(pageID, page); err != nil {
		return fmt.Errorf("failed to free page %d: %w", pageID, err)
	}
	rm.free[count] = append(rm.free[count], pageID)
	rm.log.WithFields(logrus.Fields{"page_id": pageID, "pages": count}).Debug("Record freed")
	return nil
}

// Scan visits every live run in page order and rebuilds the free lists.
func (rm *RecordManager) Scan(fn func(pageID int, kind recordKind, payload []byte) error) error {
	rm.free = make(map[int][]int)
	numPages := rm.bufferPool.storage.NumPages()
	for pageID := 1; pageID < numPages; {
		first, err := rm.bufferPool.GetPage(pageID)
		if err != nil {
			return err
		}
		kind, _, count, _ := parseRunHeader(first)
		if count < 1 {
			count = 1
		}
		if pageID+count > numPages {
			return fmt.Errorf("%w: run at page %d overruns file", ErrCorrupt, pageID)
		}
		if kind == recordFree {
			rm.free[count] = append(rm.free[count], pageID)
			pageID += count
			continue
		}
		_, payload, err := rm.ReadRecord(pageID)
		if err != nil {
			return err
		}
		if err := fn(pageID, kind, payload); err != nil {
			return err
		}
		pageID += count
	}
	return nil
}

// FreePages returns the number of pages in reusable runs.
func (rm *RecordManager) FreePages() int {
	n := 0
	for count, ids := range rm.free {
		n += count * len(ids)
	}
	return n
}

func parseRunHeader(page []byte) (kind recordKind, length uint32, count int, sum uint64) {
	kind = recordKind(page[0])
	length = binary.LittleEndian.Uint32(page[1:5])
	count = int(binary.LittleEndian.Uint32(page[5:9]))
	sum = binary.LittleEndian.Uint64(page[9:17])
	return
}
