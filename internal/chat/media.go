package chat

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"lingua/internal/gemini"
	"lingua/internal/logging"
	"lingua/internal/media"
)

// Progress reports sequential upload progress to the caller.
type Progress struct {
	Done  int
	Total int
	ETAMs int64
}

// MediaManager guarantees every media reference in a window is present
// and verified on the remote store before the window is sent.
type MediaManager struct {
	objects ObjectStore
	history *Store
	pairID  string
	clock   Clock
}

// NewMediaManager wires a manager for one conversation pair.
func NewMediaManager(objects ObjectStore, history *Store, pairID string, clock Clock) *MediaManager {
	if clock == nil {
		clock = SystemClock()
	}
	return &MediaManager{objects: objects, history: history, pairID: pairID, clock: clock}
}

// EnsureLiveReferences returns a verified-live remote reference per
// message id for the attachments inside the media budget. Existing
// references are batch-checked for liveness; dead or missing ones are
// re-uploaded strictly sequentially, preferring the most recently
// derived transport variant, deriving one from display media when
// absent. A single upload failure drops that attachment and never
// aborts. The returned map is authoritative: a kept message absent from
// it must not carry a reference in the outgoing payload.
func (mm *MediaManager) EnsureLiveReferences(ctx context.Context, window []Message, onProgress func(Progress)) (map[string]*gemini.FileRef, error) {
	log := logging.L(logging.CategoryMedia)
	keep := mediaKeepSet(window, KeptMediaBudget)
	refs := make(map[string]*gemini.FileRef)

	var kept []Message
	var checkURIs []string
	for _, m := range window {
		if !keep[m.ID] {
			continue
		}
		kept = append(kept, m)
		if m.RemoteRef != nil {
			checkURIs = append(checkURIs, m.RemoteRef.URI)
		}
	}
	if len(kept) == 0 {
		return refs, nil
	}

	live := map[string]bool{}
	if len(checkURIs) > 0 {
		checked, err := mm.objects.CheckLive(ctx, checkURIs)
		if err != nil {
			// Treat every reference as dead and fall through to
			// re-upload; the store's own failures surface per item.
			log.Warn("liveness check failed", zap.Error(err))
		} else {
			live = checked
		}
	}

	var queue []Message
	for _, m := range kept {
		if m.RemoteRef != nil && live[m.RemoteRef.URI] {
			refs[m.ID] = m.RemoteRef
			continue
		}
		queue = append(queue, m)
	}

	total := len(queue)
	var elapsed time.Duration
	for i, m := range queue {
		if onProgress != nil {
			onProgress(mm.progress(i, total, elapsed))
		}

		blob, err := mm.transportVariant(m)
		if err != nil {
			log.Warn("no uploadable variant", zap.String("id", m.ID), zap.Error(err))
			continue
		}

		start := mm.clock.Now()
		ref, err := mm.objects.Upload(ctx, blob.Data, blob.MIMEType, "attachment-"+m.ID)
		elapsed += mm.clock.Now().Sub(start)
		if err != nil {
			// Degrade to text-only for this attachment.
			log.Warn("upload failed, dropping attachment",
				zap.String("id", m.ID), zap.Error(&UploadError{Label: m.ID, Err: err}))
			continue
		}

		refs[m.ID] = ref
		if err := mm.history.UpdateMessage(mm.pairID, m.ID, func(msg *Message) {
			msg.RemoteRef = ref
		}); err != nil {
			log.Warn("persist reference failed", zap.String("id", m.ID), zap.Error(err))
		}

		if onProgress != nil {
			onProgress(mm.progress(i+1, total, elapsed))
		}
	}
	return refs, nil
}

// transportVariant picks the bytes to upload: the most recently derived
// transport variant is authoritative; when only display media exists, a
// transport variant is derived and persisted back onto the message.
func (mm *MediaManager) transportVariant(m Message) (*MediaBlob, error) {
	if m.TransportMedia != nil {
		return m.TransportMedia, nil
	}
	if m.DisplayMedia == nil {
		return nil, fmt.Errorf("message %s has no media bytes", m.ID)
	}

	data, mime, err := media.DeriveTransportVariant(m.DisplayMedia.Data, m.DisplayMedia.MIMEType)
	if err != nil {
		return nil, fmt.Errorf("derive transport variant: %w", err)
	}
	blob := &MediaBlob{Data: data, MIMEType: mime}
	if err := mm.history.UpdateMessage(mm.pairID, m.ID, func(msg *Message) {
		msg.TransportMedia = blob
	}); err != nil {
		logging.L(logging.CategoryMedia).Warn("persist transport variant failed",
			zap.String("id", m.ID), zap.Error(err))
	}
	return blob, nil
}

// progress computes (done, total, eta) where eta is the running average
// per-item latency times the remaining count.
func (mm *MediaManager) progress(done, total int, elapsed time.Duration) Progress {
	p := Progress{Done: done, Total: total}
	if done > 0 && done < total {
		avg := elapsed / time.Duration(done)
		p.ETAMs = (avg * time.Duration(total-done)).Milliseconds()
	}
	return p
}
