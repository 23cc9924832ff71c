package graphdb

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

const (
	// conflictPruneThreshold bounds the write-tracking maps before entries
	// no active snapshot can conflict with are dropped.
	conflictPruneThreshold = 4096
	// vacuumInterval is the number of commits between full version sweeps.
	vacuumInterval = 64
)

type propertyRef struct {
	elem elementRef
	key  StringID
}

type txContextKey struct {
	tm *TransactionManager
}

// TransactionManager admits transactions and serializes their commits.
//
// Admission goes through a weighted gate: exclusive transactions take the
// full weight, every other mode takes one unit, so an exclusive
// transaction runs alone and waiting callers are admitted in FIFO order.
// Commits validate under commitMu: a shared-write transaction fails with
// ErrConflict when a commit published after its snapshot wrote a property
// it writes, or removed an element it changes or removes.
//
// Lock order: gate, Transaction.mu, commitMu, mu, GraphManager.mu.
type TransactionManager struct {
	gate     *semaphore.Weighted
	capacity int64
	graph    *GraphManager
	backend  Backend
	log      *logrus.Entry

	mu        sync.Mutex
	nextTxnID uint64
	active    map[uint64]*Transaction
	closed    bool

	commitMu    sync.Mutex
	propSeq     map[propertyRef]uint64
	elemSeq     map[elementRef]uint64
	structSeq   map[elementRef]uint64
	sinceVacuum int
}

// NewTransactionManager initializes a new TransactionManager admitting at
// most maxTransactions concurrent transactions.
func NewTransactionManager(graph *GraphManager, backend Backend, maxTransactions int, log *logrus.Entry) *TransactionManager {
	if maxTransactions <= 0 {
		maxTransactions = DefaultConfig().MaxTransactions
	}
	log.WithField("max_transactions", maxTransactions).Info("Initializing TransactionManager")
	return &TransactionManager{
		gate:      semaphore.NewWeighted(int64(maxTransactions)),
		capacity:  int64(maxTransactions),
		graph:     graph,
		backend:   backend,
		log:       log,
		nextTxnID: 1,
		active:    make(map[uint64]*Transaction),
		propSeq:   make(map[propertyRef]uint64),
		elemSeq:   make(map[elementRef]uint64),
		structSeq: make(map[elementRef]uint64),
	}
}

// Begin starts a transaction, blocking until its mode is admitted or ctx
// is done.
func (tm *TransactionManager) Begin(ctx context.Context, store *Store, mode Mode) (*Transaction, error) {
	if !mode.valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidMode, mode)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if owner, ok := ctx.Value(txContextKey{tm}).(*Transaction); ok && owner.State() == TxActive {
		tm.log.WithField("txn_id", owner.id).Warn("Reentrant transaction rejected")
		return nil, ErrReentrantTransaction
	}

	weight := int64(1)
	if mode == ModeExclusive {
		weight = tm.capacity
	}
	if err := tm.gate.Acquire(ctx, weight); err != nil {
		return nil, err
	}

	tm.mu.Lock()
	if tm.closed {
		tm.mu.Unlock()
		tm.gate.Release(weight)
		return nil, ErrStoreClosed
	}
	id := tm.nextTxnID
	tm.nextTxnID++
	tx := &Transaction{
		id:       id,
		store:    store,
		mode:     mode,
		snapshot: tm.graph.Published(),
		weight:   weight,
		state:    TxActive,
		created:  make(map[elementRef]*pendingElement),
		deltas:   make(map[elementRef]propertyDelta),
		removed:  make(map[elementRef]struct{}),
		iters:    make(map[*cursor]struct{}),
	}
	tx.log = tm.log.WithFields(logrus.Fields{"txn_id": id, "mode": mode})
	tx.ctx = context.WithValue(ctx, txContextKey{tm}, tx)
	tm.active[id] = tx
	tm.mu.Unlock()

	tx.log.WithField("snapshot", tx.snapshot).Debug("Transaction started")
	return tx, nil
}

// Active returns the number of running transactions.
func (tm *TransactionManager) Active() int {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return len(tm.active)
}

// finish ends tx and releases its admission. Caller holds tx.mu.
func (tm *TransactionManager) finish(tx *Transaction, state TxState) {
	tx.state = state
	for c := range tx.iters {
		c.invalidate()
	}
	tx.iters = nil
	tx.created, tx.deltas, tx.removed = nil, nil, nil
	tx.newNodes, tx.newEdges = nil, nil

	tm.mu.Lock()
	delete(tm.active, tx.id)
	tm.mu.Unlock()
	tm.gate.Release(tx.weight)

	if state == TxCommitted {
		tx.log.Info("Transaction committed")
	} else {
		tx.log.Info("Transaction aborted")
	}
}

// oldestSnapshot is the smallest sequence any active transaction other than
// skip may read at, or the published sequence when there is none.
func (tm *TransactionManager) oldestSnapshot(skip *Transaction) uint64 {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	oldest := tm.graph.Published()
	for _, tx := range tm.active {
		if tx != skip && tx.snapshot < oldest {
			oldest = tx.snapshot
		}
	}
	return oldest
}

// commit validates and publishes tx, then ends it. Caller holds tx.mu.
func (tm *TransactionManager) commit(tx *Transaction) error {
	if !tx.hasWrites() {
		tm.finish(tx, TxCommitted)
		return nil
	}

	tm.commitMu.Lock()
	batch, err := tm.prepare(tx)
	if err != nil {
		tm.commitMu.Unlock()
		tx.log.WithError(err).Warn("Commit rejected")
		tm.finish(tx, TxAborted)
		return err
	}
	if err := tm.backend.Apply(batch); err != nil {
		tm.commitMu.Unlock()
		tx.log.WithError(err).Error("Failed to persist commit")
		tm.finish(tx, TxAborted)
		return err
	}
	oldest := tm.oldestSnapshot(tx)
	tm.graph.Publish(batch, oldest)
	tm.recordWrites(tx, batch.Seq, oldest)
	tm.sinceVacuum++
	vacuum := tm.sinceVacuum >= vacuumInterval
	if vacuum {
		tm.sinceVacuum = 0
	}
	tm.commitMu.Unlock()

	tx.log.WithFields(logrus.Fields{"seq": batch.Seq, "records": len(batch.Records)}).Debug("Commit published")
	tm.finish(tx, TxCommitted)
	if vacuum {
		tm.graph.Vacuum(tm.oldestSnapshot(nil))
	}
	return nil
}

// prepare validates tx against every commit published after its snapshot
// and builds the batch that installs its writes. Caller holds commitMu.
func (tm *TransactionManager) prepare(tx *Transaction) (CommitBatch, error) {
	gm := tm.graph
	gm.mu.RLock()
	defer gm.mu.RUnlock()

	snap := tx.snapshot
	for ref := range tx.removed {
		if tm.elemSeq[ref] > snap {
			return CommitBatch{}, opError("remove", ref.kind, ref.id, ErrConflict)
		}
		if _, ok := gm.latestLocked(ref.kind, ref.id); !ok {
			return CommitBatch{}, opError("remove", ref.kind, ref.id, ErrConflict)
		}
	}
	for ref, delta := range tx.deltas {
		if _, ok := tx.created[ref]; ok {
			continue
		}
		if tm.structSeq[ref] > snap {
			return CommitBatch{}, opError("set property", ref.kind, ref.id, ErrConflict)
		}
		if _, ok := gm.latestLocked(ref.kind, ref.id); !ok {
			return CommitBatch{}, opError("set property", ref.kind, ref.id, ErrConflict)
		}
		for key := range delta {
			if tm.propSeq[propertyRef{ref, key}] > snap {
				return CommitBatch{}, opError("set property", ref.kind, ref.id, ErrConflict)
			}
		}
	}

	// Structural checks run against the latest state, not the snapshot.
	for _, id := range tx.newEdges {
		p := tx.created[elementRef{KindEdge, id}]
		for _, end := range []int64{p.src, p.dst} {
			if !tm.nodeSurvives(tx, end) {
				return CommitBatch{}, opError("add edge", KindEdge, id, ErrConflict)
			}
		}
	}
	for ref := range tx.removed {
		if ref.kind != KindNode {
			continue
		}
		for _, edge := range gm.incidentLocked(ref.id) {
			if _, ok := tx.removed[elementRef{KindEdge, edge}]; !ok {
				return CommitBatch{}, opError("remove node", KindNode, ref.id, ErrConflict)
			}
		}
	}

	seq := gm.seq + 1
	records := make([]Record, 0, len(tx.created)+len(tx.deltas)+len(tx.removed))
	for _, id := range tx.newNodes {
		ref := elementRef{KindNode, id}
		records = append(records, tm.createdRecord(tx, ref, seq))
	}
	for _, id := range tx.newEdges {
		ref := elementRef{KindEdge, id}
		records = append(records, tm.createdRecord(tx, ref, seq))
	}
	for ref, delta := range tx.deltas {
		if _, ok := tx.created[ref]; ok {
			continue
		}
		e := gm.table(ref.kind)[ref.id]
		v := e.latest()
		v.seq = seq
		v.props = v.props.apply(delta)
		records = append(records, e.record(v))
	}
	for ref := range tx.removed {
		e := gm.table(ref.kind)[ref.id]
		records = append(records, e.record(version{seq: seq, removed: true}))
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].Kind != records[j].Kind {
			return records[i].Kind < records[j].Kind
		}
		return records[i].ID < records[j].ID
	})
	return CommitBatch{Seq: seq, Records: records}, nil
}

// nodeSurvives reports whether node will exist once tx commits. Caller
// holds the graph lock.
func (tm *TransactionManager) nodeSurvives(tx *Transaction, node int64) bool {
	ref := elementRef{KindNode, node}
	if _, ok := tx.created[ref]; ok {
		return true
	}
	if _, ok := tx.removed[ref]; ok {
		return false
	}
	_, ok := tm.graph.latestLocked(KindNode, node)
	return ok
}

func (tm *TransactionManager) createdRecord(tx *Transaction, ref elementRef, seq uint64) Record {
	p := tx.created[ref]
	return Record{
		Kind:       ref.kind,
		ID:         ref.id,
		Seq:        seq,
		Tag:        p.tag,
		Source:     p.src,
		Target:     p.dst,
		Properties: propertyMap(nil).apply(tx.deltas[ref]).entries(),
		Active:     true,
	}
}

// recordWrites remembers what tx wrote for later validations. Caller
// holds commitMu.
func (tm *TransactionManager) recordWrites(tx *Transaction, seq, oldest uint64) {
	for ref := range tx.removed {
		tm.structSeq[ref] = seq
		tm.elemSeq[ref] = seq
	}
	for ref, delta := range tx.deltas {
		if _, ok := tx.created[ref]; ok {
			continue
		}
		tm.elemSeq[ref] = seq
		for key := range delta {
			tm.propSeq[propertyRef{ref, key}] = seq
		}
	}
	if len(tm.propSeq)+len(tm.elemSeq) < conflictPruneThreshold {
		return
	}
	// No transaction begun at or after oldest can conflict with these.
	for k, s := range tm.propSeq {
		if s <= oldest {
			delete(tm.propSeq, k)
		}
	}
	for k, s := range tm.elemSeq {
		if s <= oldest {
			delete(tm.elemSeq, k)
		}
	}
	for k, s := range tm.structSeq {
		if s <= oldest {
			delete(tm.structSeq, k)
		}
	}
}

// Close waits for every running transaction to end, then refuses new ones.
func (tm *TransactionManager) Close(ctx context.Context) error {
	if err := tm.gate.Acquire(ctx, tm.capacity); err != nil {
		return err
	}
	defer tm.gate.Release(tm.capacity)
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if tm.closed {
		return ErrStoreClosed
	}
	tm.closed = true
	tm.log.Info("TransactionManager closed")
	return nil
}
