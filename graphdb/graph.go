package graphdb

import (
	"slices"
	"sync"

	"github.com/sirupsen/logrus"
)

// elemView is an element as one snapshot sees it.
type elemView struct {
	kind  ElementKind
	id    int64
	tag   StringID
	src   int64
	dst   int64
	props propertyMap
}

// GraphManager owns the committed node and edge tables. Every element
// keeps the versions some active snapshot may still need; readers pick the
// newest version at or below their snapshot sequence.
type GraphManager struct {
	mu        sync.RWMutex
	nodes     map[int64]*element
	edges     map[int64]*element
	nodeOrder []int64
	edgeOrder []int64
	outgoing  map[int64][]int64
	incoming  map[int64][]int64
	tagIndex  map[StringID][]int64 // node tag -> node IDs
	seq       uint64
	log       *logrus.Entry
}

// NewGraphManager initializes a new GraphManager
func NewGraphManager(log *logrus.Entry) *GraphManager {
	log.Info("Initializing GraphManager")
	return &GraphManager{
		nodes:    make(map[int64]*element),
		edges:    make(map[int64]*element),
		outgoing: make(map[int64][]int64),
		incoming: make(map[int64][]int64),
		tagIndex: make(map[StringID][]int64),
		log:      log,
	}
}

// Published returns the sequence of the last published commit.
func (gm *GraphManager) Published() uint64 {
	gm.mu.RLock()
	defer gm.mu.RUnlock()
	return gm.seq
}

func (gm *GraphManager) table(kind ElementKind) map[int64]*element {
	if kind == KindEdge {
		return gm.edges
	}
	return gm.nodes
}

// load installs a record read from storage. Edges must be loaded after
// their endpoints.
func (gm *GraphManager) load(rec Record) {
	gm.mu.Lock()
	defer gm.mu.Unlock()
	if !rec.Active {
		return
	}
	gm.insert(rec)
	if rec.Seq > gm.seq {
		gm.seq = rec.Seq
	}
}

// restore raises the published sequence to the last durable commit, which
// may be a removal that left no record behind.
func (gm *GraphManager) restore(seq uint64) {
	gm.mu.Lock()
	defer gm.mu.Unlock()
	if seq > gm.seq {
		gm.seq = seq
	}
}

// insert adds a new element and indexes it. Caller holds mu.
func (gm *GraphManager) insert(rec Record) {
	e := &element{
		kind:     rec.Kind,
		id:       rec.ID,
		tag:      rec.Tag,
		src:      rec.Source,
		dst:      rec.Target,
		versions: []version{{seq: rec.Seq, props: newPropertyMap(rec.Properties), removed: !rec.Active}},
	}
	if rec.Kind == KindEdge {
		gm.edges[rec.ID] = e
		gm.edgeOrder = insertSorted(gm.edgeOrder, rec.ID)
		gm.outgoing[rec.Source] = insertSorted(gm.outgoing[rec.Source], rec.ID)
		gm.incoming[rec.Target] = insertSorted(gm.incoming[rec.Target], rec.ID)
		return
	}
	gm.nodes[rec.ID] = e
	gm.nodeOrder = insertSorted(gm.nodeOrder, rec.ID)
	gm.tagIndex[rec.Tag] = insertSorted(gm.tagIndex[rec.Tag], rec.ID)
}

// drop forgets an element no snapshot can see any more. Caller holds mu.
func (gm *GraphManager) drop(e *element) {
	if e.kind == KindEdge {
		delete(gm.edges, e.id)
		gm.edgeOrder = removeSorted(gm.edgeOrder, e.id)
		gm.outgoing[e.src] = removeSorted(gm.outgoing[e.src], e.id)
		if len(gm.outgoing[e.src]) == 0 {
			delete(gm.outgoing, e.src)
		}
		gm.incoming[e.dst] = removeSorted(gm.incoming[e.dst], e.id)
		if len(gm.incoming[e.dst]) == 0 {
			delete(gm.incoming, e.dst)
		}
		return
	}
	delete(gm.nodes, e.id)
	gm.nodeOrder = removeSorted(gm.nodeOrder, e.id)
	gm.tagIndex[e.tag] = removeSorted(gm.tagIndex[e.tag], e.id)
	if len(gm.tagIndex[e.tag]) == 0 {
		delete(gm.tagIndex, e.tag)
	}
}

// Lookup returns the element as visible at snapshot seq.
func (gm *GraphManager) Lookup(kind ElementKind, id int64, seq uint64) (elemView, bool) {
	gm.mu.RLock()
	defer gm.mu.RUnlock()
	return gm.lookupLocked(kind, id, seq)
}

func (gm *GraphManager) lookupLocked(kind ElementKind, id int64, seq uint64) (elemView, bool) {
	e, ok := gm.table(kind)[id]
	if !ok {
		return elemView{}, false
	}
	v, ok := e.at(seq)
	if !ok {
		return elemView{}, false
	}
	return elemView{kind: e.kind, id: e.id, tag: e.tag, src: e.src, dst: e.dst, props: v.props}, true
}

// latestLocked returns the newest committed state of an element.
func (gm *GraphManager) latestLocked(kind ElementKind, id int64) (elemView, bool) {
	return gm.lookupLocked(kind, id, ^uint64(0))
}

// NextID returns the smallest ID greater than after, taken from the index
// selected by scan, whose element is visible at seq.
func (gm *GraphManager) NextID(scan indexScan, after int64, seq uint64) (int64, bool) {
	gm.mu.RLock()
	defer gm.mu.RUnlock()

	kind := KindNode
	var lists [][]int64
	switch scan.kind {
	case scanNodes:
		lists = [][]int64{gm.nodeOrder}
	case scanTag:
		lists = [][]int64{gm.tagIndex[scan.tag]}
	case scanEdges:
		kind = KindEdge
		lists = [][]int64{gm.edgeOrder}
	case scanAdjacent:
		kind = KindEdge
		switch scan.dir {
		case Outgoing:
			lists = [][]int64{gm.outgoing[scan.node]}
		case Incoming:
			lists = [][]int64{gm.incoming[scan.node]}
		default:
			lists = [][]int64{gm.outgoing[scan.node], gm.incoming[scan.node]}
		}
	}

	best, found := int64(0), false
	for _, ids := range lists {
		i, _ := slices.BinarySearch(ids, after+1)
		for ; i < len(ids); i++ {
			if found && ids[i] >= best {
				break
			}
			if _, ok := gm.lookupLocked(kind, ids[i], seq); ok {
				best, found = ids[i], true
				break
			}
		}
	}
	return best, found
}

// incidentLocked returns IDs of edges live in the latest state that touch node.
func (gm *GraphManager) incidentLocked(node int64) []int64 {
	var out []int64
	for _, ids := range [][]int64{gm.outgoing[node], gm.incoming[node]} {
		for _, id := range ids {
			if _, ok := gm.latestLocked(KindEdge, id); ok {
				out = append(out, id)
			}
		}
	}
	return out
}

// Publish installs a commit. Versions older than what snapshot oldest
// needs are pruned from the elements the commit touched.
func (gm *GraphManager) Publish(batch CommitBatch, oldest uint64) {
	gm.mu.Lock()
	defer gm.mu.Unlock()

	for _, rec := range batch.Records {
		e, ok := gm.table(rec.Kind)[rec.ID]
		if !ok {
			gm.insert(rec)
			continue
		}
		e.versions = append(e.versions, version{
			seq:     rec.Seq,
			props:   newPropertyMap(rec.Properties),
			removed: !rec.Active,
		})
		if e.prune(oldest) {
			gm.drop(e)
		}
	}
	gm.seq = batch.Seq
	gm.log.WithFields(logrus.Fields{"seq": batch.Seq, "records": len(batch.Records)}).Debug("Commit published")
}

// Vacuum prunes every element against snapshot oldest.
func (gm *GraphManager) Vacuum(oldest uint64) int {
	gm.mu.Lock()
	defer gm.mu.Unlock()
	dropped := 0
	for _, table := range []map[int64]*element{gm.edges, gm.nodes} {
		for _, e := range table {
			if e.prune(oldest) {
				gm.drop(e)
				dropped++
			}
		}
	}
	if dropped > 0 {
		gm.log.WithField("dropped", dropped).Debug("Vacuum complete")
	}
	return dropped
}

// Counts returns the number of nodes and edges visible at seq.
func (gm *GraphManager) Counts(seq uint64) (nodes, edges int) {
	gm.mu.RLock()
	defer gm.mu.RUnlock()
	for _, e := range gm.nodes {
		if _, ok := e.at(seq); ok {
			nodes++
		}
	}
	for _, e := range gm.edges {
		if _, ok := e.at(seq); ok {
			edges++
		}
	}
	return nodes, edges
}

func insertSorted(ids []int64, id int64) []int64 {
	i, found := slices.BinarySearch(ids, id)
	if found {
		return ids
	}
	return slices.Insert(ids, i, id)
}

func removeSorted(ids []int64, id int64) []int64 {
	i, found := slices.BinarySearch(ids, id)
	if !found {
		return ids
	}
	return slices.Delete(ids, i, i+1)
}
