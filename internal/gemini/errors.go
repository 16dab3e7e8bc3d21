package gemini

import "fmt"

// APIError is a rejected remote call. Status is the HTTP status, Code the
// provider status string (for example "RESOURCE_EXHAUSTED").
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gemini: status %d (%s): %s", e.Status, e.Code, e.Message)
}

// UserMessage derives a user-readable string, preferring the provider
// code, then the HTTP status, then the raw message.
func (e *APIError) UserMessage() string {
	switch {
	case e.Code != "":
		return fmt.Sprintf("The tutor service rejected the request (%s).", e.Code)
	case e.Status != 0:
		return fmt.Sprintf("The tutor service rejected the request (HTTP %d).", e.Status)
	case e.Message != "":
		return e.Message
	default:
		return "The tutor service rejected the request."
	}
}
