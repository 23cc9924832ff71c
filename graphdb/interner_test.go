package graphdb

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestInterner(t *testing.T) {
	persisted := map[StringID]string{}
	in := NewInterner(func(id StringID, text string) error {
		persisted[id] = text
		return nil
	}, testEntry())

	empty, err := in.Intern("")
	require.NoError(t, err)
	assert.Equal(t, StringID(0), empty)

	a, err := in.Intern("Age")
	require.NoError(t, err)
	b, err := in.Intern("Name")
	require.NoError(t, err)
	again, err := in.Intern("Age")
	require.NoError(t, err)
	assert.Equal(t, a, again)
	assert.NotEqual(t, a, b)
	assert.Equal(t, map[StringID]string{a: "Age", b: "Name"}, persisted)

	text, err := in.Resolve(b)
	require.NoError(t, err)
	assert.Equal(t, "Name", text)
	_, err = in.Resolve(99)
	assert.ErrorIs(t, err, ErrNotFound)

	id, ok := in.Lookup("Name")
	assert.True(t, ok)
	assert.Equal(t, b, id)
	_, ok = in.Lookup("Missing")
	assert.False(t, ok)
	assert.Equal(t, 2, in.Len())
}

func TestInternerPersistFailure(t *testing.T) {
	boom := errors.New("disk full")
	in := NewInterner(func(StringID, string) error { return boom }, testEntry())
	_, err := in.Intern("x")
	require.ErrorIs(t, err, boom)
	_, ok := in.Lookup("x")
	assert.False(t, ok)
}

func TestInternerLoad(t *testing.T) {
	in := NewInterner(nil, testEntry())
	require.NoError(t, in.load(3, "three"))
	require.NoError(t, in.load(1, "one"))
	assert.ErrorIs(t, in.load(0, "zero"), ErrCorrupt)
	assert.ErrorIs(t, in.load(2, "one"), ErrCorrupt)

	next, err := in.Intern("four")
	require.NoError(t, err)
	assert.Equal(t, StringID(4), next)
}

func TestInternerConcurrent(t *testing.T) {
	in := NewInterner(nil, testEntry())
	results := make([][]StringID, 8)
	var g errgroup.Group
	for w := range results {
		w := w
		g.Go(func() error {
			for i := 0; i < 100; i++ {
				id, err := in.Intern(fmt.Sprintf("key-%d", i))
				if err != nil {
					return err
				}
				results[w] = append(results[w], id)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	for _, ids := range results[1:] {
		assert.Equal(t, results[0], ids)
	}
	assert.Equal(t, 100, in.Len())
}

func TestIDAllocator(t *testing.T) {
	var reserved []uint64
	reserve := func(c uint64) error {
		reserved = append(reserved, c)
		return nil
	}
	ids := NewIDAllocator(newLeasedSequence(1, 2, reserve), newLeasedSequence(5, 2, nil), testEntry())

	for want := int64(1); want <= 3; want++ {
		got, err := ids.Next(KindNode)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	e, err := ids.Next(KindEdge)
	require.NoError(t, err)
	assert.Equal(t, int64(5), e)

	assert.Equal(t, []uint64{3, 5}, reserved)
	require.NoError(t, ids.Release())
	assert.Equal(t, []uint64{3, 5, 4}, reserved)
}
