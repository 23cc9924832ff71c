package graphdb

import (
	"container/list"

	"github.com/sirupsen/logrus"
)

// frame is one cached page.
type frame struct {
	pageID int
	data   []byte
}

// BufferPool is a write-through LRU cache of pages. It is not safe for
// concurrent use; the page-file backend serializes access to it.
type BufferPool struct {
	storage  *StorageManager
	capacity int
	frames   map[int]*list.Element
	lru      *list.List // front is most recently used
	hits     uint64
	misses   uint64
	log      *logrus.Entry
}

// NewBufferPool initializes a new BufferPool holding at most capacity pages.
func NewBufferPool(storage *StorageManager, capacity int, log *logrus.Entry) *BufferPool {
	if capacity < 1 {
		capacity = 1
	}
	log = log.WithField("capacity", capacity)
	log.Info("Initializing BufferPool")
	return &BufferPool{
		storage:  storage,
		capacity: capacity,
		frames:   make(map[int]*list.Element, capacity),
		lru:      list.New(),
		log:      log,
	}
}

// GetPage returns a page, reading it from storage on a miss. The returned
// slice must not be modified.
func (bp *BufferPool) GetPage(pageID int) ([]byte, error) {
	if elem, ok := bp.frames[pageID]; ok {
		bp.hits++
		bp.lru.MoveToFront(elem)
		return elem.Value.(*frame).data, nil
	}
	bp.misses++

	data, err := bp.storage.ReadPage(pageID)
	if err != nil {
		bp.log.WithError(err).WithField("page_id", pageID).Error("Failed to read page from storage")
		return nil, err
	}
	bp.put(pageID, data)
	return data, nil
}

// WritePage writes a page through to storage and caches a copy.
func (bp *BufferPool) WritePage(pageID int, data []byte) error {
	if err := bp.storage.WritePage(pageID, data); err != nil {
		bp.log.WithError(err).WithField("page_id", pageID).Error("Failed to write page to storage")
		bp.Invalidate(pageID)
		return err
	}
	bp.put(pageID, append([]byte(nil), data...))
	return nil
}

func (bp *BufferPool) put(pageID int, data []byte) {
	if elem, ok := bp.frames[pageID]; ok {
		elem.Value.(*frame).data = data
		bp.lru.MoveToFront(elem)
		return
	}
	for bp.lru.Len() >= bp.capacity {
		bp.evict()
	}
	bp.frames[pageID] = bp.lru.PushFront(&frame{pageID: pageID, data: data})
}

// Invalidate drops a page from the cache.
func (bp *BufferPool) Invalidate(pageID int) {
	if elem, ok := bp.frames[pageID]; ok {
		bp.lru.Remove(elem)
		delete(bp.frames, pageID)
	}
}

// evict drops the least recently used page. Pages are written through, so
// nothing needs flushing.
func (bp *BufferPool) evict() {
	elem := bp.lru.Back()
	if elem == nil {
		return
	}
	f := bp.lru.Remove(elem).(*frame)
	delete(bp.frames, f.pageID)
	bp.log.WithField("page_id", f.pageID).Debug("Evicted page")
}

// Stats returns cache hit and miss counts.
func (bp *BufferPool) Stats() (hits, misses uint64) {
	return bp.hits, bp.misses
}

// Close empties the cache.
func (bp *BufferPool) Close() error {
	bp.frames = make(map[int]*list.Element)
	bp.lru.Init()
	bp.log.WithFields(logrus.Fields{"hits": bp.hits, "misses": bp.misses}).Info("BufferPool closed")
	return nil
}
