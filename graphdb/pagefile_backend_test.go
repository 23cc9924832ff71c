package graphdb

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEntry() *logrus.Entry {
	return logrus.NewEntry(quietLogger())
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.PageSize = minPageSize
	cfg.BufferCapacity = 4
	cfg.SyncWrites = false
	return cfg
}

func loadRecords(t *testing.T, b Backend) (map[StringID]string, []Record, uint64) {
	t.Helper()
	strs := map[StringID]string{}
	var recs []Record
	committed, err := b.Load(func(id StringID, text string) error {
		strs[id] = text
		return nil
	}, func(rec Record) error {
		recs = append(recs, rec)
		return nil
	})
	require.NoError(t, err)
	return strs, recs, committed
}

func sampleBatch(seq uint64) CommitBatch {
	return CommitBatch{Seq: seq, Records: []Record{
		{Kind: KindNode, ID: 1, Seq: seq, Tag: 1, Active: true, Properties: []KeyValue{
			{Key: 2, Value: NewString("a long enough value to spill over one small page of the record manager")},
			{Key: 3, Value: NewFloat(0.25)},
		}},
		{Kind: KindNode, ID: 2, Seq: seq, Tag: 1, Active: true},
		{Kind: KindEdge, ID: 1, Seq: seq, Tag: 4, Source: 1, Target: 2, Active: true, Properties: []KeyValue{
			{Key: 5, Value: NewBool(true)},
			{Key: 6, Value: NewEmpty()},
		}},
	}}
}

func TestRecordManagerReusesFreedRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.db")
	storage, err := NewStorageManager(path, minPageSize, OpenCreate, testEntry())
	require.NoError(t, err)
	defer storage.Close()
	pool := NewBufferPool(storage, 2, testEntry())
	rm := NewRecordManager(pool, storage.PageSize(), testEntry())

	long := make([]byte, 3*minPageSize)
	for i := range long {
		long[i] = byte(i)
	}
	first, err := rm.WriteRecord(recordNode, long)
	require.NoError(t, err)
	short, err := rm.WriteRecord(recordString, encodeString(7, "seven"))
	require.NoError(t, err)

	kind, payload, err := rm.ReadRecord(first)
	require.NoError(t, err)
	assert.Equal(t, recordNode, kind)
	assert.Equal(t, long, payload)

	pages := storage.NumPages()
	require.NoError(t, rm.FreeRecord(first))
	assert.Equal(t, rm.pagesFor(len(long)), rm.FreePages())

	again, err := rm.WriteRecord(recordEdge, long)
	require.NoError(t, err)
	assert.Equal(t, first, again)
	assert.Equal(t, pages, storage.NumPages())

	kind, payload, err = rm.ReadRecord(short)
	require.NoError(t, err)
	assert.Equal(t, recordString, kind)
	id, text, err := decodeString(payload)
	require.NoError(t, err)
	assert.Equal(t, StringID(7), id)
	assert.Equal(t, "seven", text)

	hits, misses := pool.Stats()
	assert.NotZero(t, hits+misses)
}

func TestRecordManagerDetectsCorruption(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.db")
	storage, err := NewStorageManager(path, minPageSize, OpenCreate, testEntry())
	require.NoError(t, err)
	defer storage.Close()
	pool := NewBufferPool(storage, 1, testEntry())
	rm := NewRecordManager(pool, storage.PageSize(), testEntry())

	pageID, err := rm.WriteRecord(recordNode, []byte("payload"))
	require.NoError(t, err)
	page, err := storage.ReadPage(pageID)
	require.NoError(t, err)
	page[runHeaderSize] ^= 0xff
	require.NoError(t, storage.WritePage(pageID, page))
	pool.Invalidate(pageID)

	_, _, err = rm.ReadRecord(pageID)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestPageFileBackendApplyAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.db")
	b, err := openPageFileBackend(path, OpenCreate, testConfig(), testEntry())
	require.NoError(t, err)
	require.NoError(t, b.PutString(1, "Person"))
	batch := sampleBatch(1)
	require.NoError(t, b.Apply(batch))

	update := CommitBatch{Seq: 2, Records: []Record{
		{Kind: KindNode, ID: 2, Seq: 2, Tag: 1, Active: true, Properties: []KeyValue{{Key: 3, Value: NewInt(9)}}},
		{Kind: KindEdge, ID: 1, Seq: 2, Tag: 4, Source: 1, Target: 2},
	}}
	require.NoError(t, b.Apply(update))
	require.NoError(t, b.Close())

	b, err = openPageFileBackend(path, OpenNone, testConfig(), testEntry())
	require.NoError(t, err)
	defer b.Close()
	strs, recs, committed := loadRecords(t, b)
	assert.Equal(t, uint64(2), committed)
	assert.Equal(t, map[StringID]string{1: "Person"}, strs)
	require.Len(t, recs, 2)
	assert.Equal(t, batch.Records[0], recs[0])
	assert.Equal(t, update.Records[0], recs[1])
	assert.Equal(t, uint64(2), b.storage.Header().CommitSeq)
}

func TestPageFileBackendReplaysWAL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.db")
	b, err := openPageFileBackend(path, OpenCreate, testConfig(), testEntry())
	require.NoError(t, err)

	// A commit that reached the log but not the pages.
	batch := sampleBatch(1)
	require.NoError(t, b.wal.LogBatch(batch))
	require.NoError(t, b.Close())

	// Followed by a torn entry.
	f, err := os.OpenFile(path+".wal", os.O_WRONLY|os.O_APPEND, 0)
	require.NoError(t, err)
	_, err = f.Write([]byte{200, 0, 0, 0, 1, 2, 3})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	b, err = openPageFileBackend(path, OpenNone, testConfig(), testEntry())
	require.NoError(t, err)
	_, recs, committed := loadRecords(t, b)
	assert.Equal(t, uint64(1), committed)
	assert.Equal(t, batch.Records, recs)
	assert.Equal(t, uint64(1), b.storage.Header().CommitSeq)
	assert.Zero(t, b.wal.entries)
	require.NoError(t, b.Close())

	// Replay is not repeated once applied.
	b, err = openPageFileBackend(path, OpenNone, testConfig(), testEntry())
	require.NoError(t, err)
	defer b.Close()
	_, recs, _ = loadRecords(t, b)
	assert.Len(t, recs, 3)
}

func TestPageFileBackendIdentityLeases(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.db")
	cfg := testConfig()
	cfg.IDLeaseSize = 10
	b, err := openPageFileBackend(path, OpenCreate, cfg, testEntry())
	require.NoError(t, err)

	seq, err := b.Sequence(KindNode)
	require.NoError(t, err)
	for want := uint64(1); want <= 3; want++ {
		got, err := seq.Next()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	assert.Equal(t, uint64(11), b.storage.Header().NodeCeiling)
	require.NoError(t, seq.Release())
	require.NoError(t, b.Close())

	b, err = openPageFileBackend(path, OpenNone, cfg, testEntry())
	require.NoError(t, err)
	defer b.Close()
	seq, err = b.Sequence(KindNode)
	require.NoError(t, err)
	got, err := seq.Next()
	require.NoError(t, err)
	assert.Equal(t, uint64(4), got)

	edges, err := b.Sequence(KindEdge)
	require.NoError(t, err)
	got, err = edges.Next()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), got)
}
