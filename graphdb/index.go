package graphdb

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// runLocation is where a record lives in the page file.
type runLocation struct {
	pageID int
	seq    uint64
}

// IndexManager maps node, edge and string identities to the first page of
// the run that holds them.
type IndexManager struct {
	nodeIndex   map[int64]runLocation
	edgeIndex   map[int64]runLocation
	stringIndex map[StringID]int
	log         *logrus.Entry
}

// NewIndexManager initializes a new IndexManager
func NewIndexManager(log *logrus.Entry) *IndexManager {
	log.Debug("Initializing IndexManager")
	return &IndexManager{
		nodeIndex:   make(map[int64]runLocation),
		edgeIndex:   make(map[int64]runLocation),
		stringIndex: make(map[StringID]int),
		log:         log,
	}
}

func (im *IndexManager) table(kind ElementKind) map[int64]runLocation {
	if kind == KindEdge {
		return im.edgeIndex
	}
	return im.nodeIndex
}

// Put records the location of an element and returns the location it
// replaces, if any.
func (im *IndexManager) Put(kind ElementKind, id int64, loc runLocation) (runLocation, bool) {
	t := im.table(kind)
	prev, ok := t[id]
	t[id] = loc
	im.log.WithFields(logrus.Fields{"kind": kind, "id": id, "page_id": loc.pageID}).Debug("Index entry set")
	return prev, ok
}

// Search retrieves the location of an element
func (im *IndexManager) Search(kind ElementKind, id int64) (runLocation, error) {
	loc, ok := im.table(kind)[id]
	if !ok {
		return runLocation{}, fmt.Errorf("%s %d: %w", kind, id, ErrNotFound)
	}
	return loc, nil
}

// Delete removes an element from the index and returns its old location.
func (im *IndexManager) Delete(kind ElementKind, id int64) (runLocation, bool) {
	t := im.table(kind)
	loc, ok := t[id]
	if ok {
		delete(t, id)
		im.log.WithFields(logrus.Fields{"kind": kind, "id": id}).Debug("Index entry deleted")
	}
	return loc, ok
}

func (im *IndexManager) PutString(id StringID, pageID int) {
	im.stringIndex[id] = pageID
}

// Len returns the number of indexed nodes, edges and strings.
func (im *IndexManager) Len() (nodes, edges, strings int) {
	return len(im.nodeIndex), len(im.edgeIndex), len(im.stringIndex)
}
