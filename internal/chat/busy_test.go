package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBusySet(t *testing.T) {
	b := NewBusySet()
	assert.False(t, b.IsBusy())

	send := b.Acquire(TagSend)
	assert.True(t, b.IsBusy())
	assert.True(t, b.IsBusy(TagSend))
	assert.False(t, b.IsBusy(TagEnrich))

	enrich := b.Acquire(TagEnrich)
	assert.True(t, b.IsBusy(TagEnrich))
	assert.True(t, b.IsBusy(TagSend, TagEnrich))

	b.Release(send)
	assert.False(t, b.IsBusy(TagSend))
	assert.True(t, b.IsBusy(), "other tokens still held")

	b.Release(enrich)
	assert.False(t, b.IsBusy())
}

func TestBusySetIndependentTokensSameTag(t *testing.T) {
	b := NewBusySet()
	first := b.Acquire(TagPrep)
	second := b.Acquire(TagPrep)

	b.Release(first)
	assert.True(t, b.IsBusy(TagPrep), "the second token keeps the tag busy")
	b.Release(second)
	assert.False(t, b.IsBusy(TagPrep))
}

func TestBusySetDoubleReleaseHarmless(t *testing.T) {
	b := NewBusySet()
	tok := b.Acquire(TagSend)
	b.Release(tok)
	b.Release(tok)
	assert.False(t, b.IsBusy())

	// Releasing a zero token is a no-op too.
	b.Release(BusyToken{})
	assert.False(t, b.IsBusy())
}
