package chat

import (
	"errors"
	"fmt"

	"lingua/internal/gemini"
)

// CaptureError is a local capture device failure: unavailable, denied,
// or timed out. Optional enhancements degrade to "no media" on it.
type CaptureError struct {
	Op  string
	Err error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("capture %s: %v", e.Op, e.Err)
}

func (e *CaptureError) Unwrap() error { return e.Err }

// ParseError is model output that did not match the expected structure.
// In enrichment it clears only the enrichment output.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string {
	return "parse: " + e.Reason
}

// UploadError is an object store rejection or timeout for a single
// attachment; never fatal to a turn.
type UploadError struct {
	Label string
	Err   error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload %s: %v", e.Label, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// userFacingMessage derives the single error string shown for a failed
// turn.
func userFacingMessage(err error) string {
	var apiErr *gemini.APIError
	if errors.As(err, &apiErr) {
		return apiErr.UserMessage()
	}
	var capErr *CaptureError
	if errors.As(err, &capErr) {
		return "Could not access the camera or microphone."
	}
	return "Something went wrong while generating a reply."
}
