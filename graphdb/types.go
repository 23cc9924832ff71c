package graphdb

import "fmt"

// ElementKind distinguishes nodes from edges.
type ElementKind uint8

const (
	KindNone ElementKind = iota
	KindNode
	KindEdge
)

func (k ElementKind) String() string {
	switch k {
	case KindNode:
		return "node"
	case KindEdge:
		return "edge"
	}
	return "none"
}

// Direction selects which incident edges of a node to walk.
type Direction uint8

const (
	Any Direction = iota
	Outgoing
	Incoming
)

func (d Direction) String() string {
	switch d {
	case Outgoing:
		return "outgoing"
	case Incoming:
		return "incoming"
	}
	return "any"
}

// KeyValue is one stored property.
type KeyValue struct {
	Key   StringID
	Value Property
}

// Record is the persisted form of a node or edge. Active is false for a
// record that a commit removed.
type Record struct {
	Kind       ElementKind
	ID         int64
	Seq        uint64
	Tag        StringID
	Source     int64
	Target     int64
	Properties []KeyValue
	Active     bool
}

// CommitBatch is everything one commit publishes.
type CommitBatch struct {
	Seq     uint64
	Records []Record
}

type elementRef struct {
	kind ElementKind
	id   int64
}

func (r elementRef) String() string { return fmt.Sprintf("%s %d", r.kind, r.id) }

// version is one committed state of an element. props is never mutated
// after the version is published.
type version struct {
	seq     uint64
	props   propertyMap
	removed bool
}

// element is a committed node or edge with its version chain, oldest first.
type element struct {
	kind     ElementKind
	id       int64
	tag      StringID
	src      int64
	dst      int64
	versions []version
}

// at returns the version visible at snapshot seq. Callers hold the table
// lock; the returned copy stays valid after it is released.
func (e *element) at(seq uint64) (version, bool) {
	for i := len(e.versions) - 1; i >= 0; i-- {
		v := e.versions[i]
		if v.seq <= seq {
			return v, !v.removed
		}
	}
	return version{}, false
}

func (e *element) latest() version {
	return e.versions[len(e.versions)-1]
}

func (e *element) record(v version) Record {
	return Record{
		Kind:       e.kind,
		ID:         e.id,
		Seq:        v.seq,
		Tag:        e.tag,
		Source:     e.src,
		Target:     e.dst,
		Properties: v.props.entries(),
		Active:     !v.removed,
	}
}

// prune drops versions no snapshot at or after oldest can observe. It
// reports whether the element is gone for every such snapshot.
func (e *element) prune(oldest uint64) bool {
	keep := 0
	for i := len(e.versions) - 1; i >= 0; i-- {
		if e.versions[i].seq <= oldest {
			keep = i
			break
		}
	}
	if keep > 0 {
		e.versions = append(e.versions[:0], e.versions[keep:]...)
	}
	return len(e.versions) == 1 && e.versions[0].removed && e.versions[0].seq <= oldest
}
