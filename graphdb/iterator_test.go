package graphdb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectNodes(t *testing.T, it *NodeIterator) []int64 {
	t.Helper()
	defer it.Close()
	var ids []int64
	for ; !it.Done(); require.NoError(t, it.Next()) {
		n, err := it.Current()
		require.NoError(t, err)
		ids = append(ids, n.ID())
	}
	return ids
}

func collectEdges(t *testing.T, it *EdgeIterator) []int64 {
	t.Helper()
	defer it.Close()
	var ids []int64
	for ; !it.Done(); require.NoError(t, it.Next()) {
		e, err := it.Current()
		require.NoError(t, err)
		ids = append(ids, e.ID())
	}
	return ids
}

func TestNodeIteratorExhaustion(t *testing.T) {
	s := newTestStore(t)
	const k = 7
	require.NoError(t, s.Update(context.Background(), func(tx *Transaction) error {
		for i := 0; i < k; i++ {
			if _, err := tx.AddNode("n"); err != nil {
				return err
			}
		}
		return nil
	}))

	tx := begin(t, s, ModeReadOnly)
	defer tx.Abort()
	it, err := tx.Nodes()
	require.NoError(t, err)
	defer it.Close()

	advances := 0
	for !it.Done() {
		_, err := it.Current()
		require.NoError(t, err)
		require.NoError(t, it.Next())
		advances++
	}
	assert.Equal(t, k, advances)

	_, err = it.Current()
	assert.ErrorIs(t, err, ErrExhaustedIterator)
	assert.NoError(t, it.Next())
}

func TestIteratorMergesPendingElements(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	var committed []int64
	require.NoError(t, s.Update(ctx, func(tx *Transaction) error {
		for i := 0; i < 3; i++ {
			n, err := tx.AddNode("old")
			require.NoError(t, err)
			committed = append(committed, n.ID())
		}
		return nil
	}))

	tx := begin(t, s, ModeSharedWrite)
	defer tx.Abort()
	fresh, err := tx.AddNode("new")
	require.NoError(t, err)
	gone, err := tx.Node(committed[1])
	require.NoError(t, err)
	require.NoError(t, tx.RemoveNode(gone))

	it, err := tx.Nodes()
	require.NoError(t, err)
	assert.Equal(t, []int64{committed[0], committed[2], fresh.ID()}, collectNodes(t, it))

	it, err = tx.NodesByTag("old")
	require.NoError(t, err)
	assert.Equal(t, []int64{committed[0], committed[2]}, collectNodes(t, it))

	it, err = tx.NodesByTag("new")
	require.NoError(t, err)
	assert.Equal(t, []int64{fresh.ID()}, collectNodes(t, it))

	it, err = tx.NodesByTag("missing")
	require.NoError(t, err)
	assert.Empty(t, collectNodes(t, it))
}

func TestFindNodes(t *testing.T) {
	s := newTestStore(t)
	ids := map[string]int64{}
	require.NoError(t, s.Update(context.Background(), func(tx *Transaction) error {
		for name, age := range map[string]int64{"ann": 20, "ben": 35, "cat": 50} {
			n, err := tx.AddNode("Person")
			require.NoError(t, err)
			require.NoError(t, n.SetProperty("name", NewString(name)))
			require.NoError(t, n.SetProperty("age", NewInt(age)))
			ids[name] = n.ID()
		}
		n, err := tx.AddNode("Pet")
		require.NoError(t, err)
		require.NoError(t, n.SetProperty("age", NewInt(3)))
		ids["pet"] = n.ID()
		return nil
	}))

	tx := begin(t, s, ModeReadOnly)
	defer tx.Abort()

	tests := []struct {
		name string
		tag  string
		pred PropertyPredicate
		want []string
	}{
		{"eq", "Person", Where("name", OpEq, NewString("ben")), []string{"ben"}},
		{"ge", "Person", Where("age", OpGe, NewInt(35)), []string{"ben", "cat"}},
		{"lt any tag", "", Where("age", OpLt, NewInt(21)), []string{"ann", "pet"}},
		{"ne", "", Where("name", OpNe, NewString("ann")), []string{"ben", "cat", "pet"}},
		{"exists", "", Where("name", OpExists, Property{}), []string{"ann", "ben", "cat"}},
		{"type mismatch", "", Where("age", OpGt, NewString("0")), nil},
		{"unknown key", "", Where("weight", OpEq, NewInt(1)), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			it, err := tx.FindNodes(tt.tag, tt.pred)
			require.NoError(t, err)
			var want []int64
			for _, name := range tt.want {
				want = append(want, ids[name])
			}
			assert.ElementsMatch(t, want, collectNodes(t, it))
		})
	}
}

func TestNodeEdgesByDirection(t *testing.T) {
	s := newTestStore(t)
	tx := begin(t, s, ModeSharedWrite)
	defer tx.Abort()

	a, err := tx.AddNode("a")
	require.NoError(t, err)
	b, err := tx.AddNode("b")
	require.NoError(t, err)
	ab, err := tx.AddEdge(a, b, "likes")
	require.NoError(t, err)
	ba, err := tx.AddEdge(b, a, "likes")
	require.NoError(t, err)
	loop, err := tx.AddEdge(a, a, "self")
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	tx = begin(t, s, ModeReadOnly)
	defer tx.Abort()
	a, err = tx.Node(a.ID())
	require.NoError(t, err)

	it, err := a.Edges(Outgoing, "")
	require.NoError(t, err)
	assert.Equal(t, []int64{ab.ID(), loop.ID()}, collectEdges(t, it))

	it, err = a.Edges(Incoming, "")
	require.NoError(t, err)
	assert.Equal(t, []int64{ba.ID(), loop.ID()}, collectEdges(t, it))

	it, err = a.Edges(Any, "")
	require.NoError(t, err)
	assert.Equal(t, []int64{ab.ID(), ba.ID(), loop.ID()}, collectEdges(t, it))

	it, err = a.Edges(Any, "likes")
	require.NoError(t, err)
	assert.Equal(t, []int64{ab.ID(), ba.ID()}, collectEdges(t, it))

	all, err := tx.Edges()
	require.NoError(t, err)
	assert.Len(t, collectEdges(t, all), 3)
}

func TestIteratorInvalidation(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Update(context.Background(), func(tx *Transaction) error {
		n, err := tx.AddNode("n")
		require.NoError(t, err)
		return n.SetProperty("k", NewInt(1))
	}))

	tx := begin(t, s, ModeReadOnly)
	nodes, err := tx.Nodes()
	require.NoError(t, err)
	n, err := nodes.Current()
	require.NoError(t, err)
	props, err := n.Properties()
	require.NoError(t, err)
	edges, err := tx.Edges()
	require.NoError(t, err)

	closed, err := tx.Nodes()
	require.NoError(t, err)
	closed.Close()
	_, err = closed.Current()
	assert.ErrorIs(t, err, ErrInvalidatedIterator)

	tx.Abort()

	assert.True(t, nodes.Done())
	_, err = nodes.Current()
	assert.ErrorIs(t, err, ErrInvalidatedIterator)
	assert.ErrorIs(t, nodes.Next(), ErrInvalidatedIterator)
	_, err = props.Current()
	assert.ErrorIs(t, err, ErrInvalidatedIterator)
	assert.ErrorIs(t, props.Next(), ErrInvalidatedIterator)
	assert.ErrorIs(t, edges.Next(), ErrInvalidatedIterator)

	_, err = tx.Nodes()
	assert.ErrorIs(t, err, ErrTransactionClosed)
}

func TestPropertyIteratorSnapshot(t *testing.T) {
	s := newTestStore(t)
	tx := begin(t, s, ModeSharedWrite)
	defer tx.Abort()
	n, err := tx.AddNode("n")
	require.NoError(t, err)
	require.NoError(t, n.SetProperty("b", NewInt(2)))
	require.NoError(t, n.SetProperty("a", NewBool(false)))
	require.NoError(t, n.SetProperty("c", NewFloat(1.5)))

	it, err := n.Properties()
	require.NoError(t, err)
	defer it.Close()
	require.NoError(t, n.SetProperty("d", NewString("late")))

	var keys []string
	for ; !it.Done(); require.NoError(t, it.Next()) {
		item, err := it.Current()
		require.NoError(t, err)
		keys = append(keys, item.Key)
	}
	assert.Equal(t, []string{"a", "b", "c"}, keys)
}
