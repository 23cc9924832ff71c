package graphdb

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tinkerGraph = `{
  "vertices": [
    {"_id": 1, "_type": "vertex", "_label": "person", "name": "marko", "age": 29},
    {"_id": 2, "_type": "vertex", "_label": "person", "name": "vadas", "age": 27},
    {"_id": 3, "_type": "vertex", "_label": "software", "name": "lop", "lang": "java"}
  ],
  "edges": [
    {"_id": 7, "_type": "edge", "_outV": 1, "_inV": 2, "_label": "knows", "weight": 0.5},
    {"_id": 9, "_type": "edge", "_outV": 1, "_inV": 3, "_label": "created", "weight": 0.4, "tags": ["x"]},
    {"_id": 11, "_type": "edge", "_outV": 4, "_inV": 3, "_label": "created", "active": true}
  ]
}`

func TestImportGraphSON(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	stats, err := ImportGraphSON(ctx, s, strings.NewReader(tinkerGraph))
	require.NoError(t, err)
	assert.Equal(t, ImportStats{Nodes: 4, Edges: 3}, stats)

	// Loader ids make a second import a no-op.
	stats, err = ImportGraphSON(ctx, s, strings.NewReader(tinkerGraph))
	require.NoError(t, err)
	assert.Equal(t, ImportStats{}, stats)
	assert.Equal(t, 4, s.Stats().Nodes)
	assert.Equal(t, 3, s.Stats().Edges)

	tx := begin(t, s, ModeReadOnly)
	defer tx.Abort()

	it, err := tx.FindNodes("person", Where("name", OpEq, NewString("marko")))
	require.NoError(t, err)
	defer it.Close()
	marko, err := it.Current()
	require.NoError(t, err)
	age, ok, err := marko.Property("age")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, age.Equal(NewInt(29)))

	out, err := marko.Edges(Outgoing, "knows")
	require.NoError(t, err)
	defer out.Close()
	knows, err := out.Current()
	require.NoError(t, err)
	weight, _, err := knows.Property("weight")
	require.NoError(t, err)
	assert.True(t, weight.Equal(NewFloat(0.5)))
	dst, err := knows.Destination()
	require.NoError(t, err)
	name, _, err := dst.Property("name")
	require.NoError(t, err)
	assert.True(t, name.Equal(NewString("vadas")))

	edges, err := tx.FindEdges("created", Where(LoaderIDKey, OpEq, NewInt(9)))
	require.NoError(t, err)
	defer edges.Close()
	created, err := edges.Current()
	require.NoError(t, err)
	_, ok, err = created.Property("tags")
	require.NoError(t, err)
	assert.False(t, ok)

	// Vertex 4 only appears as an edge endpoint.
	it4, err := tx.FindNodes("", Where(LoaderIDKey, OpEq, NewInt(4)))
	require.NoError(t, err)
	defer it4.Close()
	stub, err := it4.Current()
	require.NoError(t, err)
	tag, err := stub.Tag()
	require.NoError(t, err)
	assert.Empty(t, tag)
}

func TestImportGraphSONFile(t *testing.T) {
	s := newTestStore(t)
	path := filepath.Join(t.TempDir(), "graph.json")
	require.NoError(t, os.WriteFile(path, []byte(tinkerGraph), 0o600))

	stats, err := ImportGraphSONFile(context.Background(), s, path)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Edges)

	_, err = ImportGraphSONFile(context.Background(), s, filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestImportGraphSONRejectsMalformed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	tests := map[string]string{
		"not json":       `{`,
		"no vertices":    `{"edges": []}`,
		"no edges":       `{"vertices": []}`,
		"id not integer": `{"vertices": [{"_id": "one"}], "edges": []}`,
		"edge no outV":   `{"vertices": [], "edges": [{"_id": 1, "_inV": 2}]}`,
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ImportGraphSON(ctx, s, strings.NewReader(doc))
			assert.Error(t, err)
		})
	}
}
