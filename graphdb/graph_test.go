package graphdb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nodeRecord(id int64, seq uint64, active bool, props ...KeyValue) Record {
	return Record{Kind: KindNode, ID: id, Seq: seq, Tag: 1, Active: active, Properties: props}
}

func TestGraphManagerVersions(t *testing.T) {
	gm := NewGraphManager(testEntry())
	gm.Publish(CommitBatch{Seq: 1, Records: []Record{
		nodeRecord(1, 1, true, KeyValue{Key: 2, Value: NewInt(1)}),
		nodeRecord(2, 1, true),
	}}, 0)
	gm.Publish(CommitBatch{Seq: 2, Records: []Record{
		nodeRecord(1, 2, true, KeyValue{Key: 2, Value: NewInt(2)}),
	}}, 0)
	gm.Publish(CommitBatch{Seq: 3, Records: []Record{
		nodeRecord(2, 3, false),
	}}, 0)
	assert.Equal(t, uint64(3), gm.Published())

	v, ok := gm.Lookup(KindNode, 1, 1)
	require.True(t, ok)
	assert.True(t, v.props[2].Equal(NewInt(1)))
	v, ok = gm.Lookup(KindNode, 1, 3)
	require.True(t, ok)
	assert.True(t, v.props[2].Equal(NewInt(2)))

	_, ok = gm.Lookup(KindNode, 2, 2)
	assert.True(t, ok)
	_, ok = gm.Lookup(KindNode, 2, 3)
	assert.False(t, ok)
	_, ok = gm.Lookup(KindNode, 1, 0)
	assert.False(t, ok)

	nodes, _ := gm.Counts(2)
	assert.Equal(t, 2, nodes)
	nodes, _ = gm.Counts(3)
	assert.Equal(t, 1, nodes)

	id, ok := gm.NextID(indexScan{kind: scanNodes}, 0, 2)
	require.True(t, ok)
	assert.Equal(t, int64(1), id)
	id, ok = gm.NextID(indexScan{kind: scanNodes}, 1, 2)
	require.True(t, ok)
	assert.Equal(t, int64(2), id)
	_, ok = gm.NextID(indexScan{kind: scanNodes}, 1, 3)
	assert.False(t, ok)

	// Once no snapshot below 3 remains, the removed node disappears.
	assert.Equal(t, 1, gm.Vacuum(3))
	_, ok = gm.Lookup(KindNode, 2, 2)
	assert.False(t, ok)
	assert.Len(t, gm.nodes[1].versions, 1)
	assert.Empty(t, gm.tagIndex[1][1:])
}

func TestGraphManagerAdjacency(t *testing.T) {
	gm := NewGraphManager(testEntry())
	gm.Publish(CommitBatch{Seq: 1, Records: []Record{
		nodeRecord(1, 1, true),
		nodeRecord(2, 1, true),
		{Kind: KindEdge, ID: 1, Seq: 1, Source: 1, Target: 2, Active: true},
		{Kind: KindEdge, ID: 2, Seq: 1, Source: 2, Target: 1, Active: true},
	}}, 0)

	scan := indexScan{kind: scanAdjacent, node: 1, dir: Outgoing}
	id, ok := gm.NextID(scan, 0, 1)
	require.True(t, ok)
	assert.Equal(t, int64(1), id)
	_, ok = gm.NextID(scan, id, 1)
	assert.False(t, ok)

	scan.dir = Any
	var all []int64
	for after := int64(0); ; {
		id, ok := gm.NextID(scan, after, 1)
		if !ok {
			break
		}
		all = append(all, id)
		after = id
	}
	assert.Equal(t, []int64{1, 2}, all)

	gm.mu.RLock()
	assert.Equal(t, []int64{1, 2}, gm.incidentLocked(1))
	gm.mu.RUnlock()
}
