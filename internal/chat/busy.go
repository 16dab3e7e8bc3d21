package chat

import (
	"sync"

	"github.com/google/uuid"
)

// Busy tags used by the engine.
const (
	TagSend   = "send"   // a turn is in flight
	TagPrep   = "prep"   // media preparation/upload progress
	TagEnrich = "enrich" // enrichment fan-out still writing
)

// BusyToken is an opaque handle for one held busy slot.
type BusyToken struct {
	id  string
	tag string
}

// BusySet tracks long-running operations as opaque tagged tokens, so
// components block UI or gate scheduling without sharing booleans.
type BusySet struct {
	mu   sync.Mutex
	held map[string]string // token id -> tag
}

// NewBusySet creates an empty set.
func NewBusySet() *BusySet {
	return &BusySet{held: make(map[string]string)}
}

// Acquire registers a busy slot under tag.
func (b *BusySet) Acquire(tag string) BusyToken {
	tok := BusyToken{id: uuid.NewString(), tag: tag}
	b.mu.Lock()
	b.held[tok.id] = tag
	b.mu.Unlock()
	return tok
}

// Release frees a token. Releasing twice is harmless.
func (b *BusySet) Release(tok BusyToken) {
	b.mu.Lock()
	delete(b.held, tok.id)
	b.mu.Unlock()
}

// IsBusy reports whether any token is held for one of the tags; with no
// arguments it reports whether anything at all is busy.
func (b *BusySet) IsBusy(tags ...string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(tags) == 0 {
		return len(b.held) > 0
	}
	for _, held := range b.held {
		for _, tag := range tags {
			if held == tag {
				return true
			}
		}
	}
	return false
}
