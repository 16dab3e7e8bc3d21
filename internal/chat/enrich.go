package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"lingua/internal/gemini"
	"lingua/internal/logging"
	"lingua/internal/media"
	"lingua/internal/speech"
)

const (
	suggestionAttempts   = 3 // one try plus two retries
	suggestionBackoff    = 500 * time.Millisecond
	suggestionTurnCount  = 6
	imageGenAttempts     = 3
	imageGenRetryDelay   = 1500 * time.Millisecond
	profileDigestMaxRune = 2000
)

// startEnrichment fans out best-effort post-processing of a finalized
// reply. Each branch fails independently and silently; none gates turn
// completion. Once every branch drains, the turn settles: recognition
// resumes and the re-engagement watch arms with reason.
func (o *Orchestrator) startEnrichment(assistantID, rawReply string, settings Settings, reason string) {
	token := o.busy.Acquire(TagEnrich)
	ctx := context.Background()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		o.fetchSuggestions(gctx, assistantID, settings)
		return nil
	})
	g.Go(func() error {
		o.generateIllustration(gctx, assistantID, rawReply, settings)
		return nil
	})
	g.Go(func() error {
		o.speakReply(gctx, assistantID, settings)
		return nil
	})

	o.enrichWG.Add(1)
	go func() {
		defer o.enrichWG.Done()
		_ = g.Wait()
		o.busy.Release(token)
		o.settleTurn(reason)
	}()
}

type suggestionPayload struct {
	Suggestions []struct {
		Target string `json:"target"`
		Native string `json:"native"`
	} `json:"suggestions"`
	ReengageSeconds int    `json:"reengageSeconds"`
	Summary         string `json:"summary"`
}

// fetchSuggestions asks the model for reply suggestions once per
// assistant message, repairing and validating its JSON. Validation
// failure clears suggestions rather than guessing; the whole fetch is
// retried with linear backoff.
func (o *Orchestrator) fetchSuggestions(ctx context.Context, assistantID string, settings Settings) {
	o.suggestMu.Lock()
	if o.suggested[assistantID] {
		o.suggestMu.Unlock()
		return
	}
	o.suggested[assistantID] = true
	o.suggestMu.Unlock()

	log := logging.L(logging.CategoryEnrich)
	prompt, err := o.suggestionPrompt(settings)
	if err != nil {
		log.Warn("suggestion prompt failed", zap.Error(err))
		return
	}

	var payload suggestionPayload
	fetch := func() error {
		res, err := o.deps.Gen.Generate(ctx, gemini.GenerateInput{
			System:       suggestionSystem(settings),
			Prompt:       prompt,
			ResponseJSON: true,
		})
		if err != nil {
			return err
		}
		repaired := repairJSON(res.Text)
		var candidate suggestionPayload
		if err := json.Unmarshal([]byte(repaired), &candidate); err != nil {
			return &ParseError{Reason: err.Error()}
		}
		for _, s := range candidate.Suggestions {
			if s.Target == "" || s.Native == "" {
				return &ParseError{Reason: "suggestion missing target or native text"}
			}
		}
		payload = candidate
		return nil
	}

	if err := Retry(ctx, suggestionAttempts, LinearBackoff(suggestionBackoff), fetch); err != nil {
		log.Debug("suggestions failed, clearing", zap.Error(err))
		_ = o.deps.History.UpdateMessage(o.pairID, assistantID, func(m *Message) {
			m.ReplySuggestions = nil
		})
		return
	}

	suggestions := make([]ReplySuggestion, 0, len(payload.Suggestions))
	for _, s := range payload.Suggestions {
		suggestions = append(suggestions, ReplySuggestion{TargetText: s.Target, NativeText: s.Native})
	}
	if err := o.deps.History.UpdateMessage(o.pairID, assistantID, func(m *Message) {
		m.ReplySuggestions = suggestions
	}); err != nil {
		log.Warn("persist suggestions failed", zap.Error(err))
		return
	}

	if payload.ReengageSeconds > 0 && o.reengager != nil {
		o.reengager.SetCountdown(time.Duration(payload.ReengageSeconds) * time.Second)
	}
	if payload.Summary != "" {
		_ = o.deps.History.UpdateMessage(o.pairID, assistantID, func(m *Message) {
			m.ChatSummary = payload.Summary
		})
		// Independent merge into the long-lived profile digest; its
		// failure never disturbs the suggestions already shown.
		o.mergeProfileDigest(ctx, payload.Summary)
	}
}

func suggestionSystem(settings Settings) string {
	return fmt.Sprintf(`You help a language learner continue a conversation in %s.
Reply with JSON only: {"suggestions":[{"target":"...","native":"..."}],"reengageSeconds":N,"summary":"..."}.
Give 2-3 short replies the learner could say next; "native" is the %s translation.`,
		settings.TargetLanguage, settings.NativeLanguage)
}

// suggestionPrompt builds a compact prompt from the last few turns plus
// the carried-forward summary.
func (o *Orchestrator) suggestionPrompt(settings Settings) (string, error) {
	msgs, err := o.deps.History.Load(o.pairID)
	if err != nil {
		return "", err
	}

	var turns []Message
	for _, m := range msgs {
		if m.IsRealTurn() {
			turns = append(turns, m)
		}
	}
	if len(turns) > suggestionTurnCount {
		turns = turns[len(turns)-suggestionTurnCount:]
	}

	summary := ""
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].ChatSummary != "" {
			summary = msgs[i].ChatSummary
			break
		}
	}

	var b strings.Builder
	if summary != "" {
		b.WriteString("Conversation summary: ")
		b.WriteString(summary)
		b.WriteString("\n\n")
	}
	for _, t := range turns {
		if t.Role == RoleAssistant {
			b.WriteString("Tutor: ")
		} else {
			b.WriteString("Learner: ")
		}
		b.WriteString(t.ContentText())
		b.WriteString("\n")
	}
	return b.String(), nil
}

// mergeProfileDigest folds a fresh conversation summary into the
// long-lived learner profile via an independent generation call. Any
// failure is swallowed.
func (o *Orchestrator) mergeProfileDigest(ctx context.Context, summary string) {
	if o.deps.Profile == nil {
		return
	}
	log := logging.L(logging.CategoryEnrich)

	digest, err := o.deps.Profile.Digest()
	if err != nil {
		log.Debug("read profile digest failed", zap.Error(err))
		return
	}

	prompt := fmt.Sprintf(`Merge the new notes into the learner profile. Keep it under %d characters, plain text, most durable facts first.

Current profile:
%s

New notes:
%s`, profileDigestMaxRune, digest, summary)

	res, err := o.deps.Gen.Generate(ctx, gemini.GenerateInput{Prompt: prompt})
	if err != nil {
		log.Debug("profile merge call failed", zap.Error(err))
		return
	}
	merged := res.Text
	if runes := []rune(merged); len(runes) > profileDigestMaxRune {
		merged = string(runes[:profileDigestMaxRune])
	}
	if err := o.deps.Profile.SetDigest(merged); err != nil {
		log.Debug("persist profile digest failed", zap.Error(err))
	}
}

// generateIllustration proactively renders an illustrative image for
// the reply. Each attempt re-derives the window and re-verifies media,
// since image generation uses a stricter context than the text call.
func (o *Orchestrator) generateIllustration(ctx context.Context, assistantID, rawReply string, settings Settings) {
	if !settings.ImageGeneration || o.deps.Images == nil {
		return
	}
	if strings.TrimSpace(rawReply) == "" {
		return
	}
	log := logging.L(logging.CategoryEnrich)

	start := o.deps.Clock.Now()
	_ = o.deps.History.UpdateMessage(o.pairID, assistantID, func(m *Message) {
		m.IsGeneratingImage = true
		m.ImageGenError = ""
		m.GenerationStartedAt = start
	})

	var lastErr error
	for attempt := 1; attempt <= imageGenAttempts; attempt++ {
		if attempt > 1 {
			if err := o.deps.Clock.Sleep(ctx, imageGenRetryDelay); err != nil {
				lastErr = err
				break
			}
		}

		window, err := o.currentWindow(settings, map[string]bool{assistantID: true})
		if err != nil {
			lastErr = err
			continue
		}
		refs, _ := o.media.EnsureLiveReferences(ctx, window, nil)
		applyRefs(window, refs)

		prompt := "Illustrate the scene of this tutoring reply:\n" + rawReply
		img, err := o.deps.Images.GenerateImage(ctx, buildPayload(window), prompt, settings.SystemInstruction, nil)
		if err != nil {
			lastErr = err
			log.Debug("image attempt failed", zap.Int("attempt", attempt), zap.Error(err))
			continue
		}

		// Size-reduce immediately so future re-transmission is cheap,
		// then upload so the next turn can reference instead of resend.
		transport, tmime, derr := media.DeriveTransportVariant(img.Data, img.MIMEType)
		if derr != nil {
			transport, tmime = img.Data, img.MIMEType
		}
		var ref *gemini.FileRef
		if o.deps.Objects != nil {
			uploaded, uerr := o.deps.Objects.Upload(ctx, transport, tmime, "illustration-"+assistantID)
			if uerr != nil {
				log.Debug("illustration upload failed", zap.Error(&UploadError{Label: assistantID, Err: uerr}))
			} else {
				ref = uploaded
			}
		}

		_ = o.deps.History.UpdateMessage(o.pairID, assistantID, func(m *Message) {
			m.DisplayMedia = &MediaBlob{Data: img.Data, MIMEType: img.MIMEType}
			m.TransportMedia = &MediaBlob{Data: transport, MIMEType: tmime}
			m.RemoteRef = ref
			m.IsGeneratingImage = false
			m.ImageGenError = ""
		})
		return
	}

	log.Debug("image generation exhausted", zap.Error(lastErr))
	_ = o.deps.History.UpdateMessage(o.pairID, assistantID, func(m *Message) {
		m.IsGeneratingImage = false
		if lastErr != nil {
			m.ImageGenError = lastErr.Error()
		} else {
			m.ImageGenError = "image generation failed"
		}
	})
}

// speakReply dispatches the finalized reply to the speech subsystem
// with a cache callback keyed per sentence, so repeated playback is
// free.
func (o *Orchestrator) speakReply(ctx context.Context, assistantID string, settings Settings) {
	if o.deps.Speech == nil {
		return
	}
	log := logging.L(logging.CategorySpeech)

	msgs, err := o.deps.History.Load(o.pairID)
	if err != nil {
		log.Debug("load for speech failed", zap.Error(err))
		return
	}
	var msg *Message
	for i := range msgs {
		if msgs[i].ID == assistantID {
			msg = &msgs[i]
			break
		}
	}
	if msg == nil || len(msg.Translations) == 0 {
		return
	}

	var parts []speech.Part
	for _, tr := range msg.Translations {
		if tr.TargetText != "" {
			parts = append(parts, speech.Part{Text: tr.TargetText, Lang: settings.TargetLanguage})
		}
		if settings.SpeakNative && tr.NativeText != "" {
			parts = append(parts, speech.Part{Text: tr.NativeText, Lang: settings.NativeLanguage})
		}
	}
	if len(parts) == 0 {
		return
	}

	// Playback is user-audible activity; it cancels any pending
	// re-engagement from any state.
	if o.reengager != nil {
		o.reengager.Cancel()
	}

	cached := msg.SpeechCache
	lookup := func(key string) ([]byte, bool) {
		audio, ok := cached[key]
		return audio, ok
	}
	cache := func(index int, key string, audio []byte) {
		_ = o.deps.History.UpdateMessage(o.pairID, assistantID, func(m *Message) {
			if m.SpeechCache == nil {
				m.SpeechCache = make(map[string][]byte)
			}
			m.SpeechCache[key] = audio
		})
	}

	if err := o.deps.Speech.Speak(ctx, parts, settings.TargetLanguage, lookup, cache); err != nil {
		log.Debug("speech dispatch failed", zap.Error(err))
	}
}

// repairJSON recovers a JSON object from model output: strip markdown
// code fences, else fall back to the substring between the first '{'
// and the last '}'.
func repairJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(s, "```")
		return strings.TrimSpace(s)
	}
	if strings.HasPrefix(s, "{") {
		return s
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}
