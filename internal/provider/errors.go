package provider

import "fmt"

// ProviderError is a non-2xx or malformed 2xx response from a provider API.
// It carries the HTTP status and raw payload for diagnostics; it is not
// retried beyond what the transport already did.
type ProviderError struct {
	Provider   Type
	Op         string
	StatusCode int
	Message    string
	Payload    []byte
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: %s (HTTP %d)", e.Provider, e.Op, e.Message, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: %s", e.Provider, e.Op, e.Message)
}

// AuthError means token acquisition failed or returned a malformed response.
// It may be transient; the caller may retry the whole operation.
type AuthError struct {
	Provider Type
	Message  string
	Err      error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s auth: %s: %v", e.Provider, e.Message, e.Err)
	}
	return fmt.Sprintf("%s auth: %s", e.Provider, e.Message)
}

func (e *AuthError) Unwrap() error { return e.Err }

// UnsupportedProviderError is a request naming a provider outside the
// closed set.
type UnsupportedProviderError struct {
	Name string
}

func (e *UnsupportedProviderError) Error() string {
	return fmt.Sprintf("unsupported provider: %q", e.Name)
}
