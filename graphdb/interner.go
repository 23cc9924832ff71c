package graphdb

import (
	"fmt"
	"math"
	"sync"

	"github.com/sirupsen/logrus"
)

// StringID is the interned handle of a tag or property key. The zero id
// stands for the empty string.
type StringID uint32

// Interner maps tag and property-key strings to StringIDs. Entries are
// never removed and are persisted the first time a string is seen, so an
// id outlives any transaction that caused it to be allocated.
type Interner struct {
	mu      sync.RWMutex
	ids     map[string]StringID
	texts   []string
	persist func(StringID, string) error
	log     *logrus.Entry
}

// NewInterner creates an interner. persist may be nil.
func NewInterner(persist func(StringID, string) error, log *logrus.Entry) *Interner {
	log.Debug("Initializing Interner")
	return &Interner{
		ids:     make(map[string]StringID),
		texts:   []string{""},
		persist: persist,
		log:     log,
	}
}

// load installs a mapping read back from storage.
func (in *Interner) load(id StringID, text string) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if id == 0 {
		return fmt.Errorf("%w: string record with reserved id 0", ErrCorrupt)
	}
	if prev, ok := in.ids[text]; ok && prev != id {
		return fmt.Errorf("%w: string %q stored as %d and %d", ErrCorrupt, text, prev, id)
	}
	for StringID(len(in.texts)) <= id {
		in.texts = append(in.texts, "")
	}
	in.texts[id] = text
	in.ids[text] = id
	return nil
}

// Intern returns the id of text, allocating and persisting one if needed.
func (in *Interner) Intern(text string) (StringID, error) {
	if text == "" {
		return 0, nil
	}
	in.mu.RLock()
	id, ok := in.ids[text]
	in.mu.RUnlock()
	if ok {
		return id, nil
	}

	in.mu.Lock()
	defer in.mu.Unlock()
	if id, ok := in.ids[text]; ok {
		return id, nil
	}
	if uint64(len(in.texts)) > math.MaxUint32 {
		in.log.Error("String id space exhausted")
		return 0, ErrStoreFull
	}
	id = StringID(len(in.texts))
	if in.persist != nil {
		if err := in.persist(id, text); err != nil {
			in.log.WithError(err).WithField("string_id", id).Error("Failed to persist string")
			return 0, fmt.Errorf("persist string %q: %w", text, err)
		}
	}
	in.texts = append(in.texts, text)
	in.ids[text] = id
	in.log.WithFields(logrus.Fields{"string_id": id, "text": text}).Debug("String interned")
	return id, nil
}

// Lookup returns the id of text without allocating one.
func (in *Interner) Lookup(text string) (StringID, bool) {
	if text == "" {
		return 0, true
	}
	in.mu.RLock()
	defer in.mu.RUnlock()
	id, ok := in.ids[text]
	return id, ok
}

// Resolve returns the string an id was allocated for.
func (in *Interner) Resolve(id StringID) (string, error) {
	in.mu.RLock()
	defer in.mu.RUnlock()
	if int(id) >= len(in.texts) {
		return "", fmt.Errorf("string id %d: %w", id, ErrNotFound)
	}
	return in.texts[id], nil
}

// Len returns the number of interned strings, excluding the empty string.
func (in *Interner) Len() int {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return len(in.ids)
}
