package chat

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lingua/internal/gemini"
)

func appendWithMedia(t *testing.T, store *Store, pairID string, n int) []Message {
	t.Helper()
	var msgs []Message
	for i := 0; i < n; i++ {
		m := NewMessage(RoleUser)
		m.Text = "look at this"
		m.TransportMedia = &MediaBlob{Data: []byte{byte(i), 0x01}, MIMEType: "image/jpeg"}
		require.NoError(t, store.Append(pairID, m))
		msgs = append(msgs, m)
	}
	return msgs
}

func TestEnsureLiveReferencesRespectsBudget(t *testing.T) {
	store := newTestStore(t)
	objects := newFakeObjects()
	mm := NewMediaManager(objects, store, "p1", newFakeClock())

	msgs := appendWithMedia(t, store, "p1", 5)

	refs, err := mm.EnsureLiveReferences(context.Background(), msgs, nil)
	require.NoError(t, err)

	assert.Equal(t, KeptMediaBudget, objects.uploadCount())
	assert.Len(t, refs, KeptMediaBudget)
	for _, m := range msgs[len(msgs)-KeptMediaBudget:] {
		assert.Contains(t, refs, m.ID)
	}
	for _, m := range msgs[:len(msgs)-KeptMediaBudget] {
		assert.NotContains(t, refs, m.ID)
	}
}

func TestEnsureLiveReferencesSecondPassUploadsNothing(t *testing.T) {
	store := newTestStore(t)
	objects := newFakeObjects()
	mm := NewMediaManager(objects, store, "p1", newFakeClock())

	appendWithMedia(t, store, "p1", 3)

	msgs, err := store.Load("p1")
	require.NoError(t, err)
	_, err = mm.EnsureLiveReferences(context.Background(), msgs, nil)
	require.NoError(t, err)
	first := objects.uploadCount()
	require.Equal(t, 3, first)

	// References were persisted; a second pass over reloaded history
	// verifies liveness and uploads nothing.
	msgs, err = store.Load("p1")
	require.NoError(t, err)
	refs, err := mm.EnsureLiveReferences(context.Background(), msgs, nil)
	require.NoError(t, err)
	assert.Equal(t, first, objects.uploadCount())
	assert.Len(t, refs, 3)
}

func TestEnsureLiveReferencesReuploadsDead(t *testing.T) {
	store := newTestStore(t)
	objects := newFakeObjects()
	mm := NewMediaManager(objects, store, "p1", newFakeClock())

	m := NewMessage(RoleUser)
	m.TransportMedia = &MediaBlob{Data: []byte{0x01}, MIMEType: "image/jpeg"}
	m.RemoteRef = &gemini.FileRef{URI: "files/expired", Name: "files/expired", MIMEType: "image/jpeg"}
	require.NoError(t, store.Append("p1", m))

	refs, err := mm.EnsureLiveReferences(context.Background(), []Message{m}, nil)
	require.NoError(t, err)

	require.Contains(t, refs, m.ID)
	assert.NotEqual(t, "files/expired", refs[m.ID].URI)
	assert.Equal(t, 1, objects.uploadCount())

	// The fresh reference replaced the dead one durably.
	msgs, err := store.Load("p1")
	require.NoError(t, err)
	require.NotNil(t, msgs[0].RemoteRef)
	assert.Equal(t, refs[m.ID].URI, msgs[0].RemoteRef.URI)
}

func TestEnsureLiveReferencesUploadFailureDropsAttachment(t *testing.T) {
	store := newTestStore(t)
	objects := newFakeObjects()
	objects.failUpload = true
	mm := NewMediaManager(objects, store, "p1", newFakeClock())

	msgs := appendWithMedia(t, store, "p1", 2)

	refs, err := mm.EnsureLiveReferences(context.Background(), msgs, nil)
	require.NoError(t, err, "per-item failures never abort the pass")
	assert.Empty(t, refs)
}

func TestEnsureLiveReferencesDerivesTransportVariant(t *testing.T) {
	store := newTestStore(t)
	objects := newFakeObjects()
	mm := NewMediaManager(objects, store, "p1", newFakeClock())

	m := NewMessage(RoleUser)
	m.DisplayMedia = &MediaBlob{Data: []byte("raw capture bytes"), MIMEType: "video/webm"}
	require.NoError(t, store.Append("p1", m))

	refs, err := mm.EnsureLiveReferences(context.Background(), []Message{m}, nil)
	require.NoError(t, err)
	require.Contains(t, refs, m.ID)

	// The derived variant is persisted for later turns.
	msgs, err := store.Load("p1")
	require.NoError(t, err)
	require.NotNil(t, msgs[0].TransportMedia)
	assert.Equal(t, []byte("raw capture bytes"), msgs[0].TransportMedia.Data)
}

func TestEnsureLiveReferencesProgress(t *testing.T) {
	store := newTestStore(t)
	objects := newFakeObjects()
	mm := NewMediaManager(objects, store, "p1", newFakeClock())

	msgs := appendWithMedia(t, store, "p1", 3)

	var seen []Progress
	_, err := mm.EnsureLiveReferences(context.Background(), msgs, func(p Progress) {
		seen = append(seen, p)
	})
	require.NoError(t, err)
	require.NotEmpty(t, seen)

	assert.Equal(t, Progress{Done: 0, Total: 3}, seen[0])
	last := seen[len(seen)-1]
	assert.Equal(t, 3, last.Done)
	assert.Equal(t, 3, last.Total)
	for i := 1; i < len(seen); i++ {
		assert.GreaterOrEqual(t, seen[i].Done, seen[i-1].Done)
	}
}

func TestEnsureLiveReferencesEmptyWindow(t *testing.T) {
	store := newTestStore(t)
	objects := newFakeObjects()
	mm := NewMediaManager(objects, store, "p1", newFakeClock())

	refs, err := mm.EnsureLiveReferences(context.Background(), []Message{
		{ID: "m1", Role: RoleUser, Text: "no media here"},
	}, nil)
	require.NoError(t, err)
	assert.Empty(t, refs)
	assert.Zero(t, objects.uploadCount())
}
