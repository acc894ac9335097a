package engine

import "errors"

// Error taxonomy for the poll loop. Conversation-scoped failures are caught
// at the processing boundary; only ErrFatalAuthTimeout stops the engine.
var (
	// ErrNavigation marks failures opening or reloading the console page.
	ErrNavigation = errors.New("navigation failure")

	// ErrSendFailure marks a reply that could not be delivered. The message
	// is deliberately not marked seen so the next cycle retries it.
	ErrSendFailure = errors.New("send failure")

	// ErrFatalAuthTimeout means the operator never completed the login
	// within the configured window. Requires manual re-authentication.
	ErrFatalAuthTimeout = errors.New("authentication wait timed out")
)
