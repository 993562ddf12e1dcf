package events

import (
	"fmt"
	"net/url"
)

// ValidationError reports a malformed ingestion payload. Rejected
// payloads are logged and discarded, never retried, and always bounce
// before any store write happens.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid payload (%s): %s", e.Field, e.Reason)
}

// NewValidationError creates a ValidationError.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// Payload is the wire-level tracking payload after JSON decoding.
type Payload struct {
	Website    string         `json:"website"`
	Hostname   string         `json:"hostname"`
	Screen     string         `json:"screen"`
	Language   string         `json:"language"`
	Title      string         `json:"title"`
	URL        string         `json:"url"`
	Referrer   string         `json:"referrer"`
	Tag        string         `json:"tag"`
	Name       string         `json:"name"`
	Data       map[string]any `json:"data"`
	IdentityID string         `json:"id"`
}

// Validate applies the structural payload checks: website identifier
// present, a parseable URL, and property count under the limit. The
// size limit is enforced on the raw body before decoding.
func (p *Payload) Validate(maxProps int) error {
	if p.Website == "" {
		return NewValidationError("website", "website identifier is required")
	}

	if p.URL == "" {
		return NewValidationError("url", "url is required")
	}
	parsed, err := url.Parse(p.URL)
	if err != nil {
		return NewValidationError("url", fmt.Sprintf("unparseable url: %v", err))
	}
	if p.Hostname == "" && parsed.Hostname() == "" {
		return NewValidationError("hostname", "no hostname in payload or url")
	}

	if maxProps > 0 && len(p.Data) > maxProps {
		return NewValidationError("data", fmt.Sprintf("too many properties: %d > %d", len(p.Data), maxProps))
	}

	return nil
}

// EffectiveHostname prefers the explicit hostname field and falls back
// to the tracked URL's host.
func (p *Payload) EffectiveHostname() string {
	if p.Hostname != "" {
		return p.Hostname
	}
	parsed, err := url.Parse(p.URL)
	if err != nil {
		return ""
	}
	return parsed.Hostname()
}
