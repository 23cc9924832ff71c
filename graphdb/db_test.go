package graphdb

import (
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func storePath(t *testing.T, kind BackendKind) string {
	t.Helper()
	switch kind {
	case BackendBadger:
		return filepath.Join(t.TempDir(), "badger")
	case BackendMemory:
		return ""
	}
	return filepath.Join(t.TempDir(), "graph.db")
}

func openStore(t *testing.T, kind BackendKind, location string, mode OpenOptions, opts ...Option) *Store {
	t.Helper()
	opts = append([]Option{WithBackend(kind), WithLogger(quietLogger()), WithSyncWrites(false)}, opts...)
	s, err := Open(location, mode, opts...)
	require.NoError(t, err)
	return s
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := openStore(t, BackendMemory, "", OpenCreate)
	t.Cleanup(func() { s.Close() })
	return s
}

func begin(t *testing.T, s *Store, mode Mode) *Transaction {
	t.Helper()
	tx, err := s.Begin(context.Background(), mode)
	require.NoError(t, err)
	return tx
}

var backends = []BackendKind{BackendPageFile, BackendBadger, BackendMemory}

func TestOpenOptions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.db")

	_, err := Open(path, OpenNone, WithLogger(quietLogger()))
	require.ErrorIs(t, err, ErrStoreOpen)

	s := openStore(t, BackendPageFile, path, OpenCreate)
	require.NoError(t, s.Update(context.Background(), func(tx *Transaction) error {
		_, err := tx.AddNode("kept")
		return err
	}))
	require.NoError(t, s.Close())

	s = openStore(t, BackendPageFile, path, OpenNone)
	assert.Equal(t, 1, s.Stats().Nodes)
	require.NoError(t, s.Close())

	s = openStore(t, BackendPageFile, path, OpenTruncate)
	assert.Equal(t, 0, s.Stats().Nodes)
	require.NoError(t, s.Close())
}

func TestOpenRejectsBadConfig(t *testing.T) {
	_, err := Open("", OpenCreate, WithBackend("tape"), WithLogger(quietLogger()))
	require.ErrorIs(t, err, ErrStoreOpen)

	_, err = Open("", OpenCreate, WithBackend(BackendMemory), WithPageSize(16), WithLogger(quietLogger()))
	require.ErrorIs(t, err, ErrStoreOpen)
}

func TestPersistenceAcrossReopen(t *testing.T) {
	for _, kind := range []BackendKind{BackendPageFile, BackendBadger} {
		t.Run(string(kind), func(t *testing.T) {
			ctx := context.Background()
			path := storePath(t, kind)

			s := openStore(t, kind, path, OpenCreate, WithIDLeaseSize(4))
			var aliceID, bobID, edgeID int64
			require.NoError(t, s.Update(ctx, func(tx *Transaction) error {
				alice, err := tx.AddNode("Person")
				require.NoError(t, err)
				require.NoError(t, alice.SetProperty("Name", NewString("alice")))
				require.NoError(t, alice.SetProperty("Age", NewInt(31)))
				bob, err := tx.AddNode("Person")
				require.NoError(t, err)
				require.NoError(t, bob.SetProperty("Score", NewFloat(2.5)))
				e, err := tx.AddEdge(alice, bob, "knows")
				require.NoError(t, err)
				require.NoError(t, e.SetProperty("Since", NewInt(2019)))
				require.NoError(t, e.SetProperty("Close", NewBool(true)))
				aliceID, bobID, edgeID = alice.ID(), bob.ID(), e.ID()
				return nil
			}))
			require.NoError(t, s.Update(ctx, func(tx *Transaction) error {
				alice, err := tx.Node(aliceID)
				require.NoError(t, err)
				return alice.RemoveProperty("Age")
			}))
			var goneID int64
			require.NoError(t, s.Update(ctx, func(tx *Transaction) error {
				n, err := tx.AddNode("Temp")
				goneID = n.ID()
				return err
			}))
			require.NoError(t, s.Update(ctx, func(tx *Transaction) error {
				n, err := tx.Node(goneID)
				require.NoError(t, err)
				return tx.RemoveNode(n)
			}))
			before := begin(t, s, ModeReadOnly)
			want, err := before.Dump()
			require.NoError(t, err)
			before.Abort()
			require.NoError(t, s.Close())

			s = openStore(t, kind, path, OpenNone, WithIDLeaseSize(4))
			defer s.Close()
			tx := begin(t, s, ModeReadOnly)
			defer tx.Abort()

			got, err := tx.Dump()
			require.NoError(t, err)
			assert.Equal(t, want, got)

			e, err := tx.Edge(edgeID)
			require.NoError(t, err)
			src, err := e.Source()
			require.NoError(t, err)
			dst, err := e.Destination()
			require.NoError(t, err)
			assert.Equal(t, aliceID, src.ID())
			assert.Equal(t, bobID, dst.ID())

			_, err = tx.Node(goneID)
			require.ErrorIs(t, err, ErrNotFound)
			tx.Abort()

			// Identities are never handed out twice, even across a reopen.
			require.NoError(t, s.Update(ctx, func(tx *Transaction) error {
				n, err := tx.AddNode("Fresh")
				require.NoError(t, err)
				assert.Greater(t, n.ID(), goneID)
				return nil
			}))
		})
	}
}

// walOnlyBackend stops a page-file commit right after the log append, as a
// crash before the page writes would.
type walOnlyBackend struct {
	*pageFileBackend
}

func (w walOnlyBackend) Apply(batch CommitBatch) error { return w.wal.LogBatch(batch) }

func TestCommitSequenceSurvivesTrailingRemovals(t *testing.T) {
	for _, kind := range []BackendKind{BackendPageFile, BackendBadger} {
		t.Run(string(kind), func(t *testing.T) {
			ctx := context.Background()
			path := storePath(t, kind)

			s := openStore(t, kind, path, OpenCreate)
			var bID int64
			require.NoError(t, s.Update(ctx, func(tx *Transaction) error {
				_, err := tx.AddNode("A")
				return err
			}))
			require.NoError(t, s.Update(ctx, func(tx *Transaction) error {
				b, err := tx.AddNode("B")
				bID = b.ID()
				return err
			}))
			require.NoError(t, s.Update(ctx, func(tx *Transaction) error {
				b, err := tx.Node(bID)
				require.NoError(t, err)
				return tx.RemoveNode(b)
			}))
			want := s.Stats().CommitSeq
			require.Equal(t, uint64(3), want)
			require.NoError(t, s.Close())

			s = openStore(t, kind, path, OpenNone)
			assert.Equal(t, want, s.Stats().CommitSeq)
			if kind == BackendPageFile {
				s.txnMgr.backend = walOnlyBackend{s.backend.(*pageFileBackend)}
			}
			var cID int64
			require.NoError(t, s.Update(ctx, func(tx *Transaction) error {
				c, err := tx.AddNode("C")
				cID = c.ID()
				return err
			}))
			assert.Equal(t, want+1, s.Stats().CommitSeq)
			require.NoError(t, s.Close())

			s = openStore(t, kind, path, OpenNone)
			defer s.Close()
			assert.Equal(t, want+1, s.Stats().CommitSeq)
			tx := begin(t, s, ModeReadOnly)
			defer tx.Abort()
			c, err := tx.Node(cID)
			require.NoError(t, err)
			tag, err := c.Tag()
			require.NoError(t, err)
			assert.Equal(t, "C", tag)
			_, err = tx.Node(bID)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStoreClose(t *testing.T) {
	s := openStore(t, BackendMemory, "", OpenCreate)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err := s.Begin(context.Background(), ModeReadOnly)
	require.ErrorIs(t, err, ErrStoreClosed)
}

func TestStats(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Update(context.Background(), func(tx *Transaction) error {
		a, err := tx.AddNode("a")
		require.NoError(t, err)
		b, err := tx.AddNode("b")
		require.NoError(t, err)
		_, err = tx.AddEdge(a, b, "ab")
		return err
	}))

	stats := s.Stats()
	assert.Equal(t, BackendMemory, stats.Backend)
	assert.Equal(t, 2, stats.Nodes)
	assert.Equal(t, 1, stats.Edges)
	assert.Equal(t, 3, stats.Strings)
	assert.Equal(t, uint64(1), stats.CommitSeq)
	assert.Zero(t, stats.ActiveTransactions)
}
