package graphdb

import (
	"errors"
	"fmt"
)

var (
	ErrStoreOpen            = errors.New("store open failed")
	ErrStoreClosed          = errors.New("store is closed")
	ErrWriteNotPermitted    = errors.New("write not permitted in read-only transaction")
	ErrDanglingReference    = errors.New("dangling reference")
	ErrConflict             = errors.New("transaction conflict")
	ErrReentrantTransaction = errors.New("reentrant transaction on the same store")
	ErrExhaustedIterator    = errors.New("iterator exhausted")
	ErrInvalidatedIterator  = errors.New("iterator invalidated")
	ErrTransactionClosed    = errors.New("transaction is not active")
	ErrNotFound             = errors.New("not found")
	ErrPropertyType         = errors.New("property type mismatch")
	ErrInvalidMode          = errors.New("invalid transaction mode")
	ErrCorrupt              = errors.New("corrupt data")
	ErrStoreFull            = errors.New("identifier space exhausted")
	ErrHandleScope          = errors.New("handle used outside its transaction")
	ErrInvalidKey           = errors.New("invalid property key")
)

// OpError reports the operation and the element it was applied to.
type OpError struct {
	Op   string
	Kind ElementKind
	ID   int64
	Err  error
}

func (e *OpError) Error() string {
	if e.Kind == KindNone {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s %d: %v", e.Op, e.Kind, e.ID, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

func opError(op string, kind ElementKind, id int64, err error) error {
	return &OpError{Op: op, Kind: kind, ID: id, Err: err}
}
