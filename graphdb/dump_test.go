package graphdb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDump(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Update(context.Background(), func(tx *Transaction) error {
		a, err := tx.AddNode("Person")
		require.NoError(t, err)
		require.NoError(t, a.SetProperty("Name", NewString("katelin")))
		require.NoError(t, a.SetProperty("Age", NewInt(26)))
		require.NoError(t, a.SetProperty("Active", NewBool(true)))
		b, err := tx.AddNode("")
		require.NoError(t, err)
		require.NoError(t, b.SetProperty("Score", NewFloat(0.5)))
		require.NoError(t, b.SetProperty("Note", NewEmpty()))
		e, err := tx.AddEdge(a, b, "rates")
		require.NoError(t, err)
		return e.SetProperty("Stars", NewInt(4))
	}))

	tx := begin(t, s, ModeReadOnly)
	defer tx.Abort()
	got, err := tx.Dump()
	require.NoError(t, err)
	assert.Equal(t, `Node 1 [Person]:
  Active: T
  Age: 26
  Name: katelin
  -> n2 (e1)
Node 2:
  Note: no value
  Score: 0.500000
  <- n1 (e1)
Edge 1 [rates]: n1 -> n2
  Stars: 4
`, got)

	again, err := tx.Dump()
	require.NoError(t, err)
	assert.Equal(t, got, again)
}
