// Package gemini is a hand-rolled REST client for the generativelanguage
// API: text generation, image generation, and the Files object store.
package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"lingua/internal/logging"
)

// Config holds client configuration.
type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	ImageModel string
	Timeout    time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig(apiKey string) Config {
	return Config{
		APIKey:     apiKey,
		BaseURL:    "https://generativelanguage.googleapis.com/v1beta",
		Model:      "gemini-2.5-flash",
		ImageModel: "gemini-2.5-flash-image",
		Timeout:    3 * time.Minute,
	}
}

// Client talks to the generativelanguage REST API.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	imageModel string
	httpClient *http.Client
}

// NewClient creates a client from config, filling empty fields with
// defaults.
func NewClient(cfg Config) *Client {
	def := DefaultConfig(cfg.APIKey)
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.ImageModel == "" {
		cfg.ImageModel = def.ImageModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &Client{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		model:      cfg.Model,
		imageModel: cfg.ImageModel,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// Generate performs one text generation call over the assembled window.
func (c *Client) Generate(ctx context.Context, in GenerateInput) (*GenerateResult, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("API key required")
	}

	model := in.Model
	if model == "" {
		model = c.model
	}

	req := generateRequest{
		Contents: buildContents(in.Window, in.Prompt, in.Attachment),
	}
	if in.System != "" {
		req.SystemInstruction = &Content{Parts: []Part{{Text: in.System}}}
	}
	if in.Search {
		req.Tools = append(req.Tools, Tool{GoogleSearch: &GoogleSearch{}})
	}
	if in.ResponseJSON {
		req.GenerationConfig = &GenerationConfig{ResponseMIMEType: "application/json"}
	}

	logging.L(logging.CategoryGemini).Debug("generate",
		zap.String("model", model),
		zap.Int("window", len(in.Window)),
		zap.Bool("attachment", in.Attachment != nil))

	var resp generateResponse
	if err := c.post(ctx, fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, model, c.apiKey), req, &resp); err != nil {
		return nil, err
	}

	if len(resp.Candidates) == 0 {
		return nil, &APIError{Message: "no candidates returned"}
	}

	cand := resp.Candidates[0]
	var text strings.Builder
	for _, p := range cand.Content.Parts {
		text.WriteString(p.Text)
	}

	result := &GenerateResult{Text: strings.TrimSpace(text.String())}
	if cand.GroundingMetadata != nil {
		for _, chunk := range cand.GroundingMetadata.GroundingChunks {
			if chunk.Web != nil && chunk.Web.URI != "" {
				result.Grounding = append(result.Grounding, chunk.Web.URI)
			}
		}
	}
	return result, nil
}

// GenerateImage performs one image generation call. The window gives the
// model conversational context; avatarRef optionally pins a reference
// image for consistent subjects.
func (c *Client) GenerateImage(ctx context.Context, window []TurnInput, prompt, system string, avatarRef *FileRef) (*ImageResult, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("API key required")
	}

	contents := buildContents(window, prompt, avatarRef)
	req := generateRequest{
		Contents: contents,
		GenerationConfig: &GenerationConfig{
			ResponseModalities: []string{"TEXT", "IMAGE"},
		},
	}
	if system != "" {
		req.SystemInstruction = &Content{Parts: []Part{{Text: system}}}
	}

	logging.L(logging.CategoryGemini).Debug("generate image",
		zap.String("model", c.imageModel),
		zap.Int("window", len(window)))

	var resp generateResponse
	if err := c.post(ctx, fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, c.imageModel, c.apiKey), req, &resp); err != nil {
		return nil, err
	}

	for _, cand := range resp.Candidates {
		for _, p := range cand.Content.Parts {
			if p.InlineData == nil {
				continue
			}
			data, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
			if err != nil {
				return nil, fmt.Errorf("decode image payload: %w", err)
			}
			return &ImageResult{Data: data, MIMEType: p.InlineData.MIMEType}, nil
		}
	}
	return nil, &APIError{Message: "no image in response"}
}

// post sends a JSON request and decodes a JSON response, mapping non-200
// statuses to *APIError.
func (c *Client) post(ctx context.Context, url string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return apiErrorFromBody(resp.StatusCode, raw)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

func apiErrorFromBody(status int, raw []byte) *APIError {
	var er errorResponse
	if err := json.Unmarshal(raw, &er); err == nil && (er.Error.Status != "" || er.Error.Message != "") {
		return &APIError{Status: status, Code: er.Error.Status, Message: er.Error.Message}
	}
	return &APIError{Status: status, Message: strings.TrimSpace(string(raw))}
}

// buildContents turns the window plus current prompt into wire contents.
// The final user content carries the prompt and the optional attachment.
func buildContents(window []TurnInput, prompt string, attachment *FileRef) []Content {
	contents := make([]Content, 0, len(window)+1)
	for _, turn := range window {
		role := turn.Role
		if role != "model" {
			role = "user"
		}
		var parts []Part
		if turn.Text != "" {
			parts = append(parts, Part{Text: turn.Text})
		}
		if turn.FileRef != nil {
			parts = append(parts, Part{FileData: &FileData{MIMEType: turn.FileRef.MIMEType, FileURI: turn.FileRef.URI}})
		} else if len(turn.InlineData) > 0 {
			parts = append(parts, Part{InlineData: &Blob{
				MIMEType: turn.InlineMIME,
				Data:     base64.StdEncoding.EncodeToString(turn.InlineData),
			}})
		}
		if len(parts) == 0 {
			continue
		}
		contents = append(contents, Content{Role: role, Parts: parts})
	}

	var final []Part
	if prompt != "" {
		final = append(final, Part{Text: prompt})
	}
	if attachment != nil {
		final = append(final, Part{FileData: &FileData{MIMEType: attachment.MIMEType, FileURI: attachment.URI}})
	}
	if len(final) > 0 {
		contents = append(contents, Content{Role: "user", Parts: final})
	}
	return contents
}
