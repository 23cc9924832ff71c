package graphdb

import (
	"fmt"
	"math"
	"sync"

	"github.com/sirupsen/logrus"
)

// IDSequence hands out strictly increasing identities. Values handed out
// are never handed out again, even if the transaction that took them
// aborts or the store is reopened.
type IDSequence interface {
	Next() (uint64, error)
	Release() error
}

// leasedSequence reserves identities from durable storage in blocks of
// bandwidth and serves them from memory. reserve persists a new ceiling;
// everything below the ceiling counts as used after a reopen.
type leasedSequence struct {
	mu        sync.Mutex
	next      uint64
	ceiling   uint64
	bandwidth uint64
	reserve   func(ceiling uint64) error
}

func newLeasedSequence(start, bandwidth uint64, reserve func(uint64) error) *leasedSequence {
	if start == 0 {
		start = 1
	}
	if bandwidth == 0 {
		bandwidth = 1
	}
	return &leasedSequence{
		next:      start,
		ceiling:   start,
		bandwidth: bandwidth,
		reserve:   reserve,
	}
}

func (s *leasedSequence) Next() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next >= s.ceiling {
		if math.MaxInt64-s.next < s.bandwidth {
			return 0, ErrStoreFull
		}
		ceiling := s.next + s.bandwidth
		if s.reserve != nil {
			if err := s.reserve(ceiling); err != nil {
				return 0, fmt.Errorf("reserve identities: %w", err)
			}
		}
		s.ceiling = ceiling
	}
	id := s.next
	s.next++
	return id, nil
}

// Release hands the unused remainder of the lease back.
func (s *leasedSequence) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reserve == nil || s.next == s.ceiling {
		return nil
	}
	if err := s.reserve(s.next); err != nil {
		return err
	}
	s.ceiling = s.next
	return nil
}

// IDAllocator issues node and edge identities from two independent
// sequences. It is safe for concurrent use and is never rolled back.
type IDAllocator struct {
	nodes IDSequence
	edges IDSequence
	log   *logrus.Entry
}

func NewIDAllocator(nodes, edges IDSequence, log *logrus.Entry) *IDAllocator {
	log.Debug("Initializing IDAllocator")
	return &IDAllocator{nodes: nodes, edges: edges, log: log}
}

func (a *IDAllocator) Next(kind ElementKind) (int64, error) {
	seq := a.nodes
	if kind == KindEdge {
		seq = a.edges
	}
	id, err := seq.Next()
	if err != nil {
		a.log.WithError(err).WithField("kind", kind).Error("Failed to allocate identity")
		return 0, err
	}
	if id > math.MaxInt64 {
		return 0, ErrStoreFull
	}
	return int64(id), nil
}

// Release returns unused leases to storage.
func (a *IDAllocator) Release() error {
	if err := a.nodes.Release(); err != nil {
		return fmt.Errorf("release node sequence: %w", err)
	}
	if err := a.edges.Release(); err != nil {
		return fmt.Errorf("release edge sequence: %w", err)
	}
	return nil
}
