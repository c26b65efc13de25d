package model

import "github.com/m-mizutani/goerr/v2"

// Error sentinels shared across the orchestration core. Wrap with
// goerr.Wrap and attach context via goerr.V.
var (
	// ErrRetrievalUnavailable means the tool index could not serve a
	// query; callers degrade to the core tool set.
	ErrRetrievalUnavailable = goerr.New("tool retrieval unavailable")

	// ErrIntegrationRequired means a tool needs an external account
	// connection the user has not granted. The wrapping error carries
	// the integration id under the "integration" value key.
	ErrIntegrationRequired = goerr.New("integration required")

	// ErrRecursionLimit means the execution graph hit its step ceiling.
	ErrRecursionLimit = goerr.New("recursion limit reached")

	// ErrModelUnavailable means the chat model could not produce a
	// response at all; the turn is aborted.
	ErrModelUnavailable = goerr.New("model unavailable")
)

// IntegrationFrom extracts the integration id attached to an
// ErrIntegrationRequired chain. Returns empty string if absent.
func IntegrationFrom(err error) string {
	goErr := goerr.Unwrap(err)
	if goErr == nil {
		return ""
	}
	if v, ok := goErr.Values()["integration"].(string); ok {
		return v
	}
	return ""
}
