package graphdb

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

// Mode is the isolation mode of a transaction.
type Mode uint8

const (
	// ModeExclusive runs alone: it waits for every other transaction to
	// finish and every later one waits for it.
	ModeExclusive Mode = iota + 1
	// ModeSharedWrite runs concurrently on its own snapshot and is
	// validated against concurrent commits when it commits.
	ModeSharedWrite
	// ModeReadOnly runs concurrently on its own snapshot and cannot write.
	ModeReadOnly
)

// ModeFromFlags converts the exclusive/read-only flag pair. An exclusive
// read-only transaction is rejected.
func ModeFromFlags(exclusive, readOnly bool) (Mode, error) {
	switch {
	case exclusive && readOnly:
		return 0, fmt.Errorf("%w: exclusive and read-only", ErrInvalidMode)
	case exclusive:
		return ModeExclusive, nil
	case readOnly:
		return ModeReadOnly, nil
	}
	return ModeSharedWrite, nil
}

func (m Mode) valid() bool { return m >= ModeExclusive && m <= ModeReadOnly }

func (m Mode) String() string {
	switch m {
	case ModeExclusive:
		return "exclusive"
	case ModeSharedWrite:
		return "shared-write"
	case ModeReadOnly:
		return "read-only"
	}
	return fmt.Sprintf("Mode(%d)", uint8(m))
}

// TxState is the lifecycle state of a transaction.
type TxState uint8

const (
	TxActive TxState = iota
	TxCommitted
	TxAborted
)

func (s TxState) String() string {
	switch s {
	case TxActive:
		return "active"
	case TxCommitted:
		return "committed"
	}
	return "aborted"
}

// pendingElement is a node or edge created by a transaction that has not
// committed yet.
type pendingElement struct {
	tag StringID
	src int64
	dst int64
}

// Transaction is a unit of isolated, atomic work against a Store. Node,
// Edge and iterator values obtained from a transaction are only usable
// while it is active.
type Transaction struct {
	id       uint64
	store    *Store
	mode     Mode
	snapshot uint64
	weight   int64
	ctx      context.Context
	log      *logrus.Entry

	mu       sync.Mutex
	state    TxState
	created  map[elementRef]*pendingElement
	newNodes []int64
	newEdges []int64
	deltas   map[elementRef]propertyDelta
	removed  map[elementRef]struct{}
	iters    map[*cursor]struct{}
}

func (tx *Transaction) ID() uint64 { return tx.id }

func (tx *Transaction) Mode() Mode { return tx.mode }

// Snapshot returns the commit sequence this transaction reads at.
func (tx *Transaction) Snapshot() uint64 { return tx.snapshot }

func (tx *Transaction) State() TxState {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.state
}

// Context returns a context carrying this transaction. Beginning another
// transaction on the same store with it fails with ErrReentrantTransaction.
func (tx *Transaction) Context() context.Context { return tx.ctx }

// Commit publishes every write of the transaction atomically. On failure
// the transaction is aborted and the store is left as if it never ran.
func (tx *Transaction) Commit() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.state != TxActive {
		return opError("commit", KindNone, 0, ErrTransactionClosed)
	}
	if err := tx.store.txnMgr.commit(tx); err != nil {
		return opError("commit", KindNone, 0, err)
	}
	return nil
}

// Abort discards every write. Aborting an ended transaction is a no-op.
func (tx *Transaction) Abort() {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.state != TxActive {
		return
	}
	tx.store.txnMgr.finish(tx, TxAborted)
}

// Rollback is Abort for use in defer statements.
func (tx *Transaction) Rollback() error {
	tx.Abort()
	return nil
}

func (tx *Transaction) checkActive(op string, ref elementRef) error {
	if tx.state != TxActive {
		return opError(op, ref.kind, ref.id, ErrTransactionClosed)
	}
	return nil
}

func (tx *Transaction) checkWritable(op string, ref elementRef) error {
	if err := tx.checkActive(op, ref); err != nil {
		return err
	}
	if tx.mode == ModeReadOnly {
		return opError(op, ref.kind, ref.id, ErrWriteNotPermitted)
	}
	return nil
}

func (tx *Transaction) hasWrites() bool {
	return len(tx.created) > 0 || len(tx.deltas) > 0 || len(tx.removed) > 0
}

// resolve returns the element as this transaction sees it, without the
// transaction's own property changes.
func (tx *Transaction) resolve(ref elementRef) (elemView, bool) {
	if _, gone := tx.removed[ref]; gone {
		return elemView{}, false
	}
	if p, ok := tx.created[ref]; ok {
		return elemView{kind: ref.kind, id: ref.id, tag: p.tag, src: p.src, dst: p.dst}, true
	}
	return tx.store.graph.Lookup(ref.kind, ref.id, tx.snapshot)
}

func (tx *Transaction) owns(op string, ref elementRef, h *Transaction) error {
	if h != tx {
		return opError(op, ref.kind, ref.id, ErrHandleScope)
	}
	return nil
}

// AddNode creates a node tagged tag.
func (tx *Transaction) AddNode(tag string) (Node, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if err := tx.checkWritable("add node", elementRef{}); err != nil {
		return Node{}, err
	}
	tagID, err := tx.store.interner.Intern(tag)
	if err != nil {
		return Node{}, opError("add node", KindNone, 0, err)
	}
	id, err := tx.store.ids.Next(KindNode)
	if err != nil {
		return Node{}, opError("add node", KindNone, 0, err)
	}
	tx.created[elementRef{KindNode, id}] = &pendingElement{tag: tagID}
	tx.newNodes = append(tx.newNodes, id)
	tx.log.WithFields(logrus.Fields{"node_id": id, "tag": tag}).Debug("Node added")
	return Node{tx: tx, id: id}, nil
}

// AddEdge creates an edge from src to dst tagged tag. Both endpoints must
// be visible to the transaction.
func (tx *Transaction) AddEdge(src, dst Node, tag string) (Edge, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if err := tx.checkWritable("add edge", elementRef{}); err != nil {
		return Edge{}, err
	}
	for _, n := range []Node{src, dst} {
		ref := n.ref()
		if err := tx.owns("add edge", ref, n.tx); err != nil {
			return Edge{}, err
		}
		if _, ok := tx.resolve(ref); !ok {
			return Edge{}, opError("add edge", KindNode, n.id, ErrDanglingReference)
		}
	}
	tagID, err := tx.store.interner.Intern(tag)
	if err != nil {
		return Edge{}, opError("add edge", KindNone, 0, err)
	}
	id, err := tx.store.ids.Next(KindEdge)
	if err != nil {
		return Edge{}, opError("add edge", KindNone, 0, err)
	}
	tx.created[elementRef{KindEdge, id}] = &pendingElement{tag: tagID, src: src.id, dst: dst.id}
	tx.newEdges = append(tx.newEdges, id)
	tx.log.WithFields(logrus.Fields{
		"edge_id": id,
		"tag":     tag,
		"source":  src.id,
		"target":  dst.id,
	}).Debug("Edge added")
	return Edge{tx: tx, id: id}, nil
}

// Node returns the node with the given identity.
func (tx *Transaction) Node(id int64) (Node, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	ref := elementRef{KindNode, id}
	if err := tx.checkActive("get node", ref); err != nil {
		return Node{}, err
	}
	if _, ok := tx.resolve(ref); !ok {
		return Node{}, opError("get node", KindNode, id, ErrNotFound)
	}
	return Node{tx: tx, id: id}, nil
}

// Edge returns the edge with the given identity.
func (tx *Transaction) Edge(id int64) (Edge, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	ref := elementRef{KindEdge, id}
	if err := tx.checkActive("get edge", ref); err != nil {
		return Edge{}, err
	}
	if _, ok := tx.resolve(ref); !ok {
		return Edge{}, opError("get edge", KindEdge, id, ErrNotFound)
	}
	return Edge{tx: tx, id: id}, nil
}

// RemoveNode removes a node together with every edge incident to it.
func (tx *Transaction) RemoveNode(n Node) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	ref := n.ref()
	if err := tx.checkWritable("remove node", ref); err != nil {
		return err
	}
	if err := tx.owns("remove node", ref, n.tx); err != nil {
		return err
	}
	if _, ok := tx.resolve(ref); !ok {
		return opError("remove node", KindNode, n.id, ErrDanglingReference)
	}
	edges := tx.incidentEdges(n.id)
	for _, id := range edges {
		tx.removeLocked(elementRef{KindEdge, id})
	}
	tx.removeLocked(ref)
	tx.log.WithFields(logrus.Fields{"node_id": n.id, "edges": len(edges)}).Debug("Node removed")
	return nil
}

// RemoveEdge removes an edge.
func (tx *Transaction) RemoveEdge(e Edge) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	ref := e.ref()
	if err := tx.checkWritable("remove edge", ref); err != nil {
		return err
	}
	if err := tx.owns("remove edge", ref, e.tx); err != nil {
		return err
	}
	if _, ok := tx.resolve(ref); !ok {
		return opError("remove edge", KindEdge, e.id, ErrDanglingReference)
	}
	tx.removeLocked(ref)
	tx.log.WithField("edge_id", e.id).Debug("Edge removed")
	return nil
}

func (tx *Transaction) removeLocked(ref elementRef) {
	delete(tx.deltas, ref)
	if _, ok := tx.created[ref]; ok {
		delete(tx.created, ref)
		if ref.kind == KindEdge {
			tx.newEdges = removeSorted(tx.newEdges, ref.id)
		} else {
			tx.newNodes = removeSorted(tx.newNodes, ref.id)
		}
		return
	}
	tx.removed[ref] = struct{}{}
}

// incidentEdges lists the edges touching node in this transaction's view.
func (tx *Transaction) incidentEdges(node int64) []int64 {
	var ids []int64
	scan := indexScan{kind: scanAdjacent, node: node, dir: Any}
	for after := int64(0); ; {
		id, ok := tx.store.graph.NextID(scan, after, tx.snapshot)
		if !ok {
			break
		}
		after = id
		if _, gone := tx.removed[elementRef{KindEdge, id}]; !gone {
			ids = append(ids, id)
		}
	}
	for _, id := range tx.newEdges {
		p := tx.created[elementRef{KindEdge, id}]
		if p.src == node || p.dst == node {
			ids = append(ids, id)
		}
	}
	return ids
}

func (tx *Transaction) tagOf(op string, ref elementRef, h *Transaction) (StringID, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if err := tx.checkActive(op, ref); err != nil {
		return 0, err
	}
	if err := tx.owns(op, ref, h); err != nil {
		return 0, err
	}
	v, ok := tx.resolve(ref)
	if !ok {
		return 0, opError(op, ref.kind, ref.id, ErrDanglingReference)
	}
	return v.tag, nil
}

// endpoint resolves the source (or destination) node of an edge.
func (tx *Transaction) endpoint(op string, e Edge, source bool) (Node, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	ref := e.ref()
	if err := tx.checkActive(op, ref); err != nil {
		return Node{}, err
	}
	if err := tx.owns(op, ref, e.tx); err != nil {
		return Node{}, err
	}
	v, ok := tx.resolve(ref)
	if !ok {
		return Node{}, opError(op, KindEdge, e.id, ErrDanglingReference)
	}
	id := v.dst
	if source {
		id = v.src
	}
	if _, ok := tx.resolve(elementRef{KindNode, id}); !ok {
		return Node{}, opError(op, KindNode, id, ErrDanglingReference)
	}
	return Node{tx: tx, id: id}, nil
}

func (tx *Transaction) getProperty(ref elementRef, h *Transaction, key string) (Property, bool, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	const op = "get property"
	if err := tx.checkActive(op, ref); err != nil {
		return Property{}, false, err
	}
	if err := tx.owns(op, ref, h); err != nil {
		return Property{}, false, err
	}
	v, ok := tx.resolve(ref)
	if !ok {
		return Property{}, false, opError(op, ref.kind, ref.id, ErrDanglingReference)
	}
	keyID, ok := tx.store.interner.Lookup(key)
	if !ok || key == "" {
		return Property{}, false, nil
	}
	p, ok := lookupProperty(v.props, tx.deltas[ref], keyID)
	return p, ok, nil
}

func (tx *Transaction) setProperty(ref elementRef, h *Transaction, key string, p Property) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	const op = "set property"
	if err := tx.checkWritable(op, ref); err != nil {
		return err
	}
	if err := tx.owns(op, ref, h); err != nil {
		return err
	}
	if key == "" {
		return opError(op, ref.kind, ref.id, ErrInvalidKey)
	}
	if _, ok := tx.resolve(ref); !ok {
		return opError(op, ref.kind, ref.id, ErrDanglingReference)
	}
	keyID, err := tx.store.interner.Intern(key)
	if err != nil {
		return opError(op, ref.kind, ref.id, err)
	}
	delta := tx.deltas[ref]
	if delta == nil {
		delta = make(propertyDelta)
		tx.deltas[ref] = delta
	}
	value := p
	delta[keyID] = &value
	tx.log.WithFields(logrus.Fields{"element": ref, "key": key, "type": p.Type()}).Debug("Property set")
	return nil
}

func (tx *Transaction) removeProperty(ref elementRef, h *Transaction, key string) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	const op = "remove property"
	if err := tx.checkWritable(op, ref); err != nil {
		return err
	}
	if err := tx.owns(op, ref, h); err != nil {
		return err
	}
	v, ok := tx.resolve(ref)
	if !ok {
		return opError(op, ref.kind, ref.id, ErrDanglingReference)
	}
	keyID, ok := tx.store.interner.Lookup(key)
	if !ok || key == "" {
		return nil
	}
	delta := tx.deltas[ref]
	if _, present := lookupProperty(v.props, delta, keyID); !present {
		return nil
	}
	if _, committed := v.props[keyID]; !committed {
		// Only this transaction ever set it.
		delete(delta, keyID)
		if len(delta) == 0 {
			delete(tx.deltas, ref)
		}
		return nil
	}
	if delta == nil {
		delta = make(propertyDelta)
		tx.deltas[ref] = delta
	}
	delta[keyID] = nil
	tx.log.WithFields(logrus.Fields{"element": ref, "key": key}).Debug("Property removed")
	return nil
}

// properties snapshots the property set of an element, ordered by key.
func (tx *Transaction) properties(ref elementRef, h *Transaction) (*PropertyIterator, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	const op = "get properties"
	if err := tx.checkActive(op, ref); err != nil {
		return nil, err
	}
	if err := tx.owns(op, ref, h); err != nil {
		return nil, err
	}
	v, ok := tx.resolve(ref)
	if !ok {
		return nil, opError(op, ref.kind, ref.id, ErrDanglingReference)
	}
	merged := v.props.apply(tx.deltas[ref])
	items := make([]PropertyItem, 0, len(merged))
	for k, p := range merged {
		name, err := tx.store.interner.Resolve(k)
		if err != nil {
			return nil, opError(op, ref.kind, ref.id, err)
		}
		items = append(items, PropertyItem{Key: name, KeyID: k, Value: p})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Key < items[j].Key })
	it := &PropertyIterator{items: items}
	it.cursor = tx.register()
	return it, nil
}
