package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"lingua/internal/gemini"
	"lingua/internal/logging"
	"lingua/internal/speech"
)

// TurnState is the orchestrator state machine phase.
type TurnState int

const (
	StateIdle TurnState = iota
	StateBuildingPayload
	StateEnsuringMedia
	StateGenerating
	StateEnriching
	StateError
)

func (s TurnState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBuildingPayload:
		return "buildingPayload"
	case StateEnsuringMedia:
		return "ensuringMedia"
	case StateGenerating:
		return "generating"
	case StateEnriching:
		return "enriching"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// captureReadyTimeout bounds the wait for capture/preview readiness.
const captureReadyTimeout = 3 * time.Second

// reengagePrompt is the synthetic prompt used when a turn is requested
// by the idle re-engagement scheduler rather than by the user.
const reengagePrompt = "The learner has gone quiet. Gently restart the conversation with a short, friendly question related to what was discussed."

// Generator is the text generation service boundary.
type Generator interface {
	Generate(ctx context.Context, in gemini.GenerateInput) (*gemini.GenerateResult, error)
}

// ImageGenerator is the image generation service boundary.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, window []gemini.TurnInput, prompt, system string, avatarRef *gemini.FileRef) (*gemini.ImageResult, error)
}

// ObjectStore is the remote media store boundary.
type ObjectStore interface {
	Upload(ctx context.Context, data []byte, mimeType, label string) (*gemini.FileRef, error)
	CheckLive(ctx context.Context, uris []string) (map[string]bool, error)
	Delete(ctx context.Context, name string) error
}

// Speech is the synthesis side of the speech subsystem.
type Speech interface {
	Speak(ctx context.Context, parts []speech.Part, defaultLang string, lookup speech.CacheLookup, cache speech.CacheFunc) error
	Stop()
	Speaking() bool
}

// CaptureSource provides optional visual context for a turn.
type CaptureSource interface {
	// Ready blocks until the capture pipeline can produce a frame.
	Ready(ctx context.Context) error
	Snapshot(ctx context.Context) (*CapturedMedia, error)
	// StillFrame extracts a representative frame from a video capture.
	StillFrame(m *CapturedMedia) (*CapturedMedia, error)
}

// ProfileStore persists the long-lived learner profile digest.
type ProfileStore interface {
	Digest() (string, error)
	SetDigest(text string) error
}

// CapturedMedia is a raw captured asset entering a turn.
type CapturedMedia struct {
	Data     []byte
	MIMEType string
	Video    bool
}

// SendRequest describes one turn start.
type SendRequest struct {
	Text       string
	Attachment *CapturedMedia
	// Synthetic marks a re-engagement turn, which bypasses the
	// user-prompt requirement.
	Synthetic bool
}

// Settings is the per-turn snapshot of conversation configuration.
type Settings struct {
	TargetLanguage    string
	NativeLanguage    string
	NativePrefix      string
	SystemInstruction string
	MaxVisibleTurns   int
	AutoSnapshot      bool
	SpeakNative       bool
	ImageGeneration   bool
	Search            bool
}

// Deps are the orchestrator's collaborators.
type Deps struct {
	History    *Store
	Profile    ProfileStore
	Gen        Generator
	Images     ImageGenerator
	Objects    ObjectStore
	Speech     Speech
	Recognizer speech.Recognizer
	Capture    CaptureSource
	Clock      Clock
}

// Orchestrator sequences capture → media preparation → generation →
// parse → enrichment for one conversation pair. At most one turn is in
// flight; a second start request is rejected, not queued.
type Orchestrator struct {
	pairID string
	deps   Deps
	media  *MediaManager
	busy   *BusySet

	mu             sync.Mutex
	state          TurnState
	settings       Settings
	sendToken      BusyToken
	prepToken      BusyToken
	interruptedRec bool

	suggestMu sync.Mutex
	suggested map[string]bool

	reengager  *Reengager
	onTurnDone func(assistantID string, err error)

	turnWG   sync.WaitGroup
	enrichWG sync.WaitGroup
}

// New builds an orchestrator for one conversation pair.
func New(pairID string, settings Settings, deps Deps) *Orchestrator {
	if deps.Clock == nil {
		deps.Clock = SystemClock()
	}
	return &Orchestrator{
		pairID:    pairID,
		deps:      deps,
		media:     NewMediaManager(deps.Objects, deps.History, pairID, deps.Clock),
		busy:      NewBusySet(),
		settings:  settings,
		suggested: make(map[string]bool),
	}
}

// State returns the current phase.
func (o *Orchestrator) State() TurnState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Busy exposes the busy-token set for UI gating.
func (o *Orchestrator) Busy() *BusySet { return o.busy }

// UpdateSettings swaps the settings snapshot used by future turns.
func (o *Orchestrator) UpdateSettings(s Settings) {
	o.mu.Lock()
	o.settings = s
	o.mu.Unlock()
}

// SetReengager attaches the idle re-engagement scheduler.
func (o *Orchestrator) SetReengager(r *Reengager) { o.reengager = r }

// SetOnTurnDone registers a completion callback (err is nil for a
// successful turn). Runs on the turn goroutine.
func (o *Orchestrator) SetOnTurnDone(fn func(assistantID string, err error)) {
	o.onTurnDone = fn
}

// Wait blocks until the in-flight turn and its enrichment finish. Test
// and shutdown aid.
func (o *Orchestrator) Wait() {
	o.turnWG.Wait()
	o.enrichWG.Wait()
}

// Send starts a turn. Returns false — leaving any in-flight turn
// untouched — unless the orchestrator is idle, nothing is speaking, and
// the request carries content (synthetic requests bypass that check).
func (o *Orchestrator) Send(ctx context.Context, req SendRequest) bool {
	if !req.Synthetic && strings.TrimSpace(req.Text) == "" && req.Attachment == nil {
		return false
	}

	o.mu.Lock()
	if o.state != StateIdle {
		o.mu.Unlock()
		return false
	}
	if o.deps.Speech != nil && o.deps.Speech.Speaking() {
		o.mu.Unlock()
		return false
	}
	o.state = StateBuildingPayload
	o.sendToken = o.busy.Acquire(TagSend)
	settings := o.settings
	o.mu.Unlock()

	if o.reengager != nil {
		o.reengager.Cancel()
	}
	if rec := o.deps.Recognizer; rec != nil && rec.Active() {
		rec.Stop()
		o.mu.Lock()
		o.interruptedRec = true
		o.mu.Unlock()
	}

	o.turnWG.Add(1)
	go o.run(ctx, req, settings)
	return true
}

func (o *Orchestrator) run(ctx context.Context, req SendRequest, settings Settings) {
	defer o.turnWG.Done()
	log := logging.L(logging.CategoryTurn)

	placeholder := NewMessage(RoleAssistant)
	placeholder.Thinking = true

	attachment, display := o.resolveAttachment(ctx, req, settings)

	var currentIDs = map[string]bool{placeholder.ID: true}
	if !req.Synthetic {
		user := NewMessage(RoleUser)
		user.Text = req.Text
		if display != nil {
			user.DisplayMedia = display
		}
		if attachment != nil {
			// The original capture is the model-facing variant.
			user.TransportMedia = &MediaBlob{Data: attachment.Data, MIMEType: attachment.MIMEType}
			if user.DisplayMedia == nil {
				user.DisplayMedia = &MediaBlob{Data: attachment.Data, MIMEType: attachment.MIMEType}
			}
		}
		if err := o.deps.History.Append(o.pairID, user); err != nil {
			log.Error("append user message failed", zap.Error(err))
		}
		currentIDs[user.ID] = true
	}
	if err := o.deps.History.Append(o.pairID, placeholder); err != nil {
		log.Error("append placeholder failed", zap.Error(err))
		o.finish(placeholder.ID, err, "send-error")
		return
	}

	window, err := o.currentWindow(settings, currentIDs)
	if err != nil {
		o.fail(placeholder.ID, err)
		return
	}

	// First media pass feeds the call; a second pass after payload
	// assembly is authoritative because remote liveness can change in
	// between.
	o.setState(StateEnsuringMedia)
	o.mu.Lock()
	o.prepToken = o.busy.Acquire(TagPrep)
	o.mu.Unlock()

	progress := func(p Progress) {
		log.Debug("media progress", zap.Int("done", p.Done), zap.Int("total", p.Total), zap.Int64("etaMs", p.ETAMs))
	}
	refs, _ := o.media.EnsureLiveReferences(ctx, window, progress)
	applyRefs(window, refs)

	attachRef := o.uploadCurrentAttachment(ctx, req, attachment, currentIDs)

	refs, _ = o.media.EnsureLiveReferences(ctx, window, nil)
	applyRefs(window, refs)
	payload := buildPayload(window)

	prompt := req.Text
	if req.Synthetic && strings.TrimSpace(prompt) == "" {
		prompt = reengagePrompt
	}

	o.setState(StateGenerating)
	res, err := o.deps.Gen.Generate(ctx, gemini.GenerateInput{
		System:     settings.SystemInstruction,
		Window:     payload,
		Prompt:     prompt,
		Attachment: attachRef,
		Search:     settings.Search,
	})
	if err != nil {
		o.fail(placeholder.ID, err)
		return
	}

	pairs := ParseReply(res.Text, settings.NativePrefix)
	if err := o.deps.History.UpdateMessage(o.pairID, placeholder.ID, func(m *Message) {
		m.Thinking = false
		m.Text = ""
		m.Translations = pairs
		m.RawResponse = res.Text
	}); err != nil {
		o.fail(placeholder.ID, err)
		return
	}

	// The reply is durable; enrichment runs concurrently with turn
	// completion and may keep writing to the message afterward.
	o.setState(StateEnriching)
	o.startEnrichment(placeholder.ID, res.Text, settings, "send-complete")
	o.finish(placeholder.ID, nil, "send-complete")
}

// resolveAttachment picks the media accompanying this turn: the fresh
// capture, an auto-snapshot, or none. Capture failures degrade to
// proceeding without media. For video the still frame becomes the
// user-visible content; the original stays model-facing.
func (o *Orchestrator) resolveAttachment(ctx context.Context, req SendRequest, settings Settings) (*CapturedMedia, *MediaBlob) {
	log := logging.L(logging.CategoryTurn)
	attachment := req.Attachment

	if attachment == nil && settings.AutoSnapshot && o.deps.Capture != nil {
		cctx, cancel := context.WithTimeout(ctx, captureReadyTimeout)
		defer cancel()
		if err := o.deps.Capture.Ready(cctx); err != nil {
			log.Debug("capture not ready, proceeding without media",
				zap.Error(&CaptureError{Op: "ready", Err: err}))
			return nil, nil
		}
		snap, err := o.deps.Capture.Snapshot(cctx)
		if err != nil {
			log.Debug("snapshot failed, proceeding without media",
				zap.Error(&CaptureError{Op: "snapshot", Err: err}))
			return nil, nil
		}
		attachment = snap
	}

	if attachment == nil {
		return nil, nil
	}
	if attachment.Video && o.deps.Capture != nil {
		frame, err := o.deps.Capture.StillFrame(attachment)
		if err == nil && frame != nil {
			return attachment, &MediaBlob{Data: frame.Data, MIMEType: frame.MIMEType}
		}
		log.Debug("still frame extraction failed",
			zap.Error(&CaptureError{Op: "still-frame", Err: err}))
	}
	return attachment, nil
}

// uploadCurrentAttachment pushes this turn's own attachment and records
// the reference on the user message. An upload failure degrades to
// sending without the attachment.
func (o *Orchestrator) uploadCurrentAttachment(ctx context.Context, req SendRequest, attachment *CapturedMedia, currentIDs map[string]bool) *gemini.FileRef {
	if attachment == nil || o.deps.Objects == nil {
		return nil
	}
	log := logging.L(logging.CategoryMedia)

	ref, err := o.deps.Objects.Upload(ctx, attachment.Data, attachment.MIMEType, "turn-attachment")
	if err != nil {
		log.Warn("attachment upload failed, sending without it",
			zap.Error(&UploadError{Label: "turn-attachment", Err: err}))
		return nil
	}
	for id := range currentIDs {
		_ = o.deps.History.UpdateMessage(o.pairID, id, func(m *Message) {
			if m.Role == RoleUser {
				m.RemoteRef = ref
			}
		})
	}
	return ref
}

// currentWindow loads history and derives the send window, excluding
// the messages created for the in-flight turn.
func (o *Orchestrator) currentWindow(settings Settings, exclude map[string]bool) ([]Message, error) {
	msgs, err := o.deps.History.Load(o.pairID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	bookmark, err := o.deps.History.GetBookmark(o.pairID)
	if err != nil {
		return nil, fmt.Errorf("load bookmark: %w", err)
	}
	digest := ""
	if o.deps.Profile != nil {
		digest, _ = o.deps.Profile.Digest()
	}

	prior := msgs[:0:0]
	for _, m := range msgs {
		if !exclude[m.ID] {
			prior = append(prior, m)
		}
	}
	return BuildWindow(prior, bookmark, settings.MaxVisibleTurns, digest), nil
}

// applyRefs overwrites window references with the verified set: a kept
// message absent from refs loses its (unverified) reference.
func applyRefs(window []Message, refs map[string]*gemini.FileRef) {
	for i := range window {
		if !window[i].HasAttachment() {
			continue
		}
		window[i].RemoteRef = refs[window[i].ID]
	}
}

// buildPayload converts the window into generation-service turns.
// Attachments outside the media budget, or without a verified
// reference, degrade to a text note.
func buildPayload(window []Message) []gemini.TurnInput {
	keep := mediaKeepSet(window, KeptMediaBudget)
	payload := make([]gemini.TurnInput, 0, len(window))
	for _, m := range window {
		role := "user"
		if m.Role == RoleAssistant {
			role = "model"
		}
		turn := gemini.TurnInput{Role: role, Text: m.ContentText()}
		if m.HasAttachment() {
			if keep[m.ID] && m.RemoteRef != nil {
				turn.FileRef = m.RemoteRef
			} else {
				turn.Text = joinNonEmpty(turn.Text, omittedMediaNote)
			}
		}
		if turn.Text == "" && turn.FileRef == nil {
			continue
		}
		payload = append(payload, turn)
	}
	return payload
}

func joinNonEmpty(a, b string) string {
	if a == "" {
		return b
	}
	return a + "\n" + b
}

func (o *Orchestrator) setState(s TurnState) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

// fail rewrites the placeholder into the turn's single error message
// and releases the turn.
func (o *Orchestrator) fail(placeholderID string, cause error) {
	logging.L(logging.CategoryTurn).Warn("turn failed", zap.Error(cause))
	o.setState(StateError)

	text := userFacingMessage(cause)
	if err := o.deps.History.UpdateMessage(o.pairID, placeholderID, func(m *Message) {
		m.Role = RoleError
		m.Text = text
		m.Thinking = false
		m.Translations = nil
		m.RawResponse = ""
		m.DisplayMedia = nil
		m.TransportMedia = nil
		m.RemoteRef = nil
	}); err != nil {
		logging.L(logging.CategoryTurn).Error("rewrite placeholder failed", zap.Error(err))
	}
	o.finish(placeholderID, cause, "send-error")
}

// finish releases the single-flight gate and clears the prep indicator.
// Recognition resume and the re-engagement request wait until no
// enrichment branch is still writing or speaking; with enrichment in
// flight they run from the enrichment drain instead.
func (o *Orchestrator) finish(assistantID string, cause error, reason string) {
	o.mu.Lock()
	o.state = StateIdle
	o.busy.Release(o.sendToken)
	o.busy.Release(o.prepToken)
	o.mu.Unlock()

	if !o.busy.IsBusy(TagEnrich) {
		o.settleTurn(reason)
	}
	if o.onTurnDone != nil {
		o.onTurnDone(assistantID, cause)
	}
}

// settleTurn runs the quiet-point actions of a completed turn: resume
// interrupted recognition when nothing is speaking, then arm the
// re-engagement watch.
func (o *Orchestrator) settleTurn(reason string) {
	o.mu.Lock()
	resume := o.interruptedRec
	o.interruptedRec = false
	o.mu.Unlock()

	if resume && o.deps.Recognizer != nil {
		speaking := o.deps.Speech != nil && o.deps.Speech.Speaking()
		if !speaking {
			if err := o.deps.Recognizer.Start(context.Background()); err != nil {
				logging.L(logging.CategorySpeech).Warn("resume recognition failed", zap.Error(err))
			}
		}
	}
	if o.reengager != nil {
		o.reengager.Request(reason)
	}
}
