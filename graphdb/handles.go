package graphdb

// Node is a reference to a node within one transaction. The zero Node
// belongs to no transaction.
type Node struct {
	tx *Transaction
	id int64
}

func (n Node) ref() elementRef { return elementRef{kind: KindNode, id: n.id} }

func (n Node) ID() int64 { return n.id }

// Transaction returns the transaction the handle belongs to.
func (n Node) Transaction() *Transaction { return n.tx }

// TagID returns the interned tag of the node.
func (n Node) TagID() (StringID, error) {
	if n.tx == nil {
		return 0, opError("get tag", KindNode, n.id, ErrHandleScope)
	}
	return n.tx.tagOf("get tag", n.ref(), n.tx)
}

// Tag returns the tag of the node.
func (n Node) Tag() (string, error) {
	id, err := n.TagID()
	if err != nil {
		return "", err
	}
	return n.tx.store.interner.Resolve(id)
}

// Property returns the value stored under key. The boolean is false when
// the node has no such property.
func (n Node) Property(key string) (Property, bool, error) {
	if n.tx == nil {
		return Property{}, false, opError("get property", KindNode, n.id, ErrHandleScope)
	}
	return n.tx.getProperty(n.ref(), n.tx, key)
}

func (n Node) SetProperty(key string, p Property) error {
	if n.tx == nil {
		return opError("set property", KindNode, n.id, ErrHandleScope)
	}
	return n.tx.setProperty(n.ref(), n.tx, key, p)
}

// RemoveProperty deletes key. Removing an absent key does nothing.
func (n Node) RemoveProperty(key string) error {
	if n.tx == nil {
		return opError("remove property", KindNode, n.id, ErrHandleScope)
	}
	return n.tx.removeProperty(n.ref(), n.tx, key)
}

// Properties snapshots the node's properties in key order.
func (n Node) Properties() (*PropertyIterator, error) {
	if n.tx == nil {
		return nil, opError("get properties", KindNode, n.id, ErrHandleScope)
	}
	return n.tx.properties(n.ref(), n.tx)
}

// Edges returns the edges touching the node in direction dir. An empty tag
// matches every edge.
func (n Node) Edges(dir Direction, tag string) (*EdgeIterator, error) {
	if n.tx == nil {
		return nil, opError("get edges", KindNode, n.id, ErrHandleScope)
	}
	return n.tx.adjacent(n, dir, tag)
}

// Edge is a reference to an edge within one transaction.
type Edge struct {
	tx *Transaction
	id int64
}

func (e Edge) ref() elementRef { return elementRef{kind: KindEdge, id: e.id} }

func (e Edge) ID() int64 { return e.id }

func (e Edge) Transaction() *Transaction { return e.tx }

func (e Edge) TagID() (StringID, error) {
	if e.tx == nil {
		return 0, opError("get tag", KindEdge, e.id, ErrHandleScope)
	}
	return e.tx.tagOf("get tag", e.ref(), e.tx)
}

func (e Edge) Tag() (string, error) {
	id, err := e.TagID()
	if err != nil {
		return "", err
	}
	return e.tx.store.interner.Resolve(id)
}

// Source returns the node the edge leaves.
func (e Edge) Source() (Node, error) {
	if e.tx == nil {
		return Node{}, opError("get source", KindEdge, e.id, ErrHandleScope)
	}
	return e.tx.endpoint("get source", e, true)
}

// Destination returns the node the edge enters.
func (e Edge) Destination() (Node, error) {
	if e.tx == nil {
		return Node{}, opError("get destination", KindEdge, e.id, ErrHandleScope)
	}
	return e.tx.endpoint("get destination", e, false)
}

func (e Edge) Property(key string) (Property, bool, error) {
	if e.tx == nil {
		return Property{}, false, opError("get property", KindEdge, e.id, ErrHandleScope)
	}
	return e.tx.getProperty(e.ref(), e.tx, key)
}

func (e Edge) SetProperty(key string, p Property) error {
	if e.tx == nil {
		return opError("set property", KindEdge, e.id, ErrHandleScope)
	}
	return e.tx.setProperty(e.ref(), e.tx, key, p)
}

func (e Edge) RemoveProperty(key string) error {
	if e.tx == nil {
		return opError("remove property", KindEdge, e.id, ErrHandleScope)
	}
	return e.tx.removeProperty(e.ref(), e.tx, key)
}

func (e Edge) Properties() (*PropertyIterator, error) {
	if e.tx == nil {
		return nil, opError("get properties", KindEdge, e.id, ErrHandleScope)
	}
	return e.tx.properties(e.ref(), e.tx)
}
