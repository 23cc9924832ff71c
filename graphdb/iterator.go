package graphdb

type scanKind uint8

const (
	scanNodes scanKind = iota
	scanTag
	scanEdges
	scanAdjacent
)

// indexScan selects one of the committed indexes.
type indexScan struct {
	kind scanKind
	tag  StringID  // scanTag
	node int64     // scanAdjacent
	dir  Direction // scanAdjacent
}

// matches reports whether an element created inside the transaction
// belongs to the scan.
func (s indexScan) matches(p *pendingElement) bool {
	switch s.kind {
	case scanTag:
		return p.tag == s.tag
	case scanAdjacent:
		switch s.dir {
		case Outgoing:
			return p.src == s.node
		case Incoming:
			return p.dst == s.node
		}
		return p.src == s.node || p.dst == s.node
	}
	return true
}

func (s indexScan) elementKind() ElementKind {
	if s.kind == scanEdges || s.kind == scanAdjacent {
		return KindEdge
	}
	return KindNode
}

// cursor ties an iterator to its transaction. valid is guarded by tx.mu.
type cursor struct {
	tx    *Transaction
	valid bool
}

func (c *cursor) invalidate() { c.valid = false }

// register creates a cursor that dies with the transaction. Caller holds
// tx.mu.
func (tx *Transaction) register() *cursor {
	c := &cursor{tx: tx, valid: true}
	tx.iters[c] = struct{}{}
	return c
}

func (c *cursor) close() {
	c.tx.mu.Lock()
	defer c.tx.mu.Unlock()
	if c.valid {
		c.valid = false
		delete(c.tx.iters, c)
	}
}

// elementIterator walks one index in identity order, merging committed
// elements visible at the snapshot with those the transaction created.
type elementIterator struct {
	*cursor
	scan   indexScan
	filter func(elemView) bool
	cur    int64
	done   bool
}

func newElementIterator(tx *Transaction, scan indexScan, filter func(elemView) bool) elementIterator {
	it := elementIterator{cursor: tx.register(), scan: scan, filter: filter}
	it.advance(0)
	return it
}

// advance positions the iterator on the first matching identity greater
// than after. Caller holds tx.mu.
func (it *elementIterator) advance(after int64) {
	tx := it.tx
	kind := it.scan.elementKind()
	pending := tx.newNodes
	if kind == KindEdge {
		pending = tx.newEdges
	}
	for {
		committed, ok := int64(0), false
		for from := after; ; {
			committed, ok = tx.store.graph.NextID(it.scan, from, tx.snapshot)
			if !ok {
				break
			}
			if _, gone := tx.removed[elementRef{kind, committed}]; !gone {
				break
			}
			from = committed
		}

		created, found := int64(0), false
		for _, id := range pending {
			if id > after && it.scan.matches(tx.created[elementRef{kind, id}]) {
				created, found = id, true
				break
			}
		}

		var next int64
		switch {
		case ok && found:
			next = min(committed, created)
		case ok:
			next = committed
		case found:
			next = created
		default:
			it.done = true
			return
		}
		if it.filter == nil || it.accept(elementRef{kind, next}) {
			it.cur = next
			return
		}
		after = next
	}
}

func (it *elementIterator) accept(ref elementRef) bool {
	v, ok := it.tx.resolve(ref)
	if !ok {
		return false
	}
	v.props = v.props.apply(it.tx.deltas[ref])
	return it.filter(v)
}

func (it *elementIterator) exhausted() bool {
	it.tx.mu.Lock()
	defer it.tx.mu.Unlock()
	return !it.valid || it.done
}

func (it *elementIterator) current() (int64, error) {
	it.tx.mu.Lock()
	defer it.tx.mu.Unlock()
	if !it.valid {
		return 0, ErrInvalidatedIterator
	}
	if it.done {
		return 0, ErrExhaustedIterator
	}
	return it.cur, nil
}

func (it *elementIterator) next() error {
	it.tx.mu.Lock()
	defer it.tx.mu.Unlock()
	if !it.valid {
		return ErrInvalidatedIterator
	}
	if !it.done {
		it.advance(it.cur)
	}
	return nil
}

// NodeIterator walks nodes in identity order. Done reports true once the
// iterator is exhausted or invalidated.
type NodeIterator struct {
	it elementIterator
}

func (n *NodeIterator) Done() bool { return n.it.exhausted() }

func (n *NodeIterator) Current() (Node, error) {
	id, err := n.it.current()
	if err != nil {
		return Node{}, err
	}
	return Node{tx: n.it.tx, id: id}, nil
}

func (n *NodeIterator) Next() error { return n.it.next() }

func (n *NodeIterator) Close() { n.it.close() }

// EdgeIterator walks edges in identity order.
type EdgeIterator struct {
	it elementIterator
}

func (e *EdgeIterator) Done() bool { return e.it.exhausted() }

func (e *EdgeIterator) Current() (Edge, error) {
	id, err := e.it.current()
	if err != nil {
		return Edge{}, err
	}
	return Edge{tx: e.it.tx, id: id}, nil
}

func (e *EdgeIterator) Next() error { return e.it.next() }

func (e *EdgeIterator) Close() { e.it.close() }

// PropertyItem is one entry of a property set.
type PropertyItem struct {
	Key   string
	KeyID StringID
	Value Property
}

// PropertyIterator walks a snapshot of a property set in key order.
type PropertyIterator struct {
	*cursor
	items []PropertyItem
	pos   int
}

func (p *PropertyIterator) Done() bool {
	p.tx.mu.Lock()
	defer p.tx.mu.Unlock()
	return !p.valid || p.pos >= len(p.items)
}

func (p *PropertyIterator) Current() (PropertyItem, error) {
	p.tx.mu.Lock()
	defer p.tx.mu.Unlock()
	if !p.valid {
		return PropertyItem{}, ErrInvalidatedIterator
	}
	if p.pos >= len(p.items) {
		return PropertyItem{}, ErrExhaustedIterator
	}
	return p.items[p.pos], nil
}

func (p *PropertyIterator) Next() error {
	p.tx.mu.Lock()
	defer p.tx.mu.Unlock()
	if !p.valid {
		return ErrInvalidatedIterator
	}
	if p.pos < len(p.items) {
		p.pos++
	}
	return nil
}

func (p *PropertyIterator) Close() { p.close() }

// Len returns the number of entries in the snapshot.
func (p *PropertyIterator) Len() int { return len(p.items) }

// Nodes returns every node visible to the transaction.
func (tx *Transaction) Nodes() (*NodeIterator, error) {
	return tx.nodeScan("get nodes", indexScan{kind: scanNodes}, nil)
}

// NodesByTag returns the visible nodes tagged tag.
func (tx *Transaction) NodesByTag(tag string) (*NodeIterator, error) {
	return tx.FindNodes(tag, PropertyPredicate{})
}

// FindNodes returns the visible nodes tagged tag whose properties satisfy
// pred. An empty tag matches every tag.
func (tx *Transaction) FindNodes(tag string, pred PropertyPredicate) (*NodeIterator, error) {
	scan := indexScan{kind: scanNodes}
	if tag != "" {
		id, ok := tx.store.interner.Lookup(tag)
		if !ok {
			// Never interned: no node can carry it.
			id = ^StringID(0)
		}
		scan = indexScan{kind: scanTag, tag: id}
	}
	var filter func(elemView) bool
	if !pred.matchesAll() {
		key, ok := tx.store.interner.Lookup(pred.Key)
		filter = func(v elemView) bool {
			if !ok {
				return pred.match(Property{}, false)
			}
			p, present := v.props[key]
			return pred.match(p, present)
		}
	}
	return tx.nodeScan("find nodes", scan, filter)
}

func (tx *Transaction) nodeScan(op string, scan indexScan, filter func(elemView) bool) (*NodeIterator, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if err := tx.checkActive(op, elementRef{}); err != nil {
		return nil, err
	}
	return &NodeIterator{it: newElementIterator(tx, scan, filter)}, nil
}

// Edges returns every edge visible to the transaction.
func (tx *Transaction) Edges() (*EdgeIterator, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if err := tx.checkActive("get edges", elementRef{}); err != nil {
		return nil, err
	}
	return &EdgeIterator{it: newElementIterator(tx, indexScan{kind: scanEdges}, nil)}, nil
}

// FindEdges returns the visible edges tagged tag whose properties satisfy
// pred. An empty tag matches every tag.
func (tx *Transaction) FindEdges(tag string, pred PropertyPredicate) (*EdgeIterator, error) {
	tagID, tagKnown := tx.store.interner.Lookup(tag)
	key, keyKnown := tx.store.interner.Lookup(pred.Key)
	filter := func(v elemView) bool {
		if tag != "" && (!tagKnown || v.tag != tagID) {
			return false
		}
		if !keyKnown {
			return pred.match(Property{}, false)
		}
		p, present := v.props[key]
		return pred.match(p, present)
	}

	tx.mu.Lock()
	defer tx.mu.Unlock()
	if err := tx.checkActive("find edges", elementRef{}); err != nil {
		return nil, err
	}
	return &EdgeIterator{it: newElementIterator(tx, indexScan{kind: scanEdges}, filter)}, nil
}

// adjacent returns the edges touching node in direction dir, optionally
// restricted to one tag.
func (tx *Transaction) adjacent(n Node, dir Direction, tag string) (*EdgeIterator, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	const op = "get edges"
	ref := n.ref()
	if err := tx.checkActive(op, ref); err != nil {
		return nil, err
	}
	if err := tx.owns(op, ref, n.tx); err != nil {
		return nil, err
	}
	if _, ok := tx.resolve(ref); !ok {
		return nil, opError(op, KindNode, n.id, ErrDanglingReference)
	}
	var filter func(elemView) bool
	if tag != "" {
		id, ok := tx.store.interner.Lookup(tag)
		filter = func(v elemView) bool { return ok && v.tag == id }
	}
	scan := indexScan{kind: scanAdjacent, node: n.id, dir: dir}
	return &EdgeIterator{it: newElementIterator(tx, scan, filter)}, nil
}
