package story

import "errors"

// Error variables for story lookups.
var (
	// ErrSourceUnavailable is wrapped by sources when the tracker cannot be
	// reached at all, as opposed to a single lookup failing.
	ErrSourceUnavailable = errors.New("story source unavailable")
	ErrNotFound          = errors.New("story not found")
)
