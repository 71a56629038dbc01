package config

import "errors"

// Error variables for configuration loading.
var (
	ErrConfigFileNotFound = errors.New("config file not found")
	ErrConfigFileRead     = errors.New("cannot read config file")
	ErrConfigInvalid      = errors.New("invalid config file")
	ErrNoReleases         = errors.New("at least one release window is required")
	ErrReleaseFromEmpty   = errors.New("release window needs a \"from\" revision")
	ErrStoriesSelector    = errors.New("invalid stories value")
	ErrSectionHeaderEmpty = errors.New("section header cannot be empty")
	ErrAttachKeyEmpty     = errors.New("section attach key cannot be empty")
	ErrConcurrency        = errors.New("concurrency must not be negative")
	ErrLogLevel           = errors.New("invalid log level")
	ErrProjectIDRequired  = errors.New("tracker.project_id is required")
	ErrTrackerToken       = errors.New("no tracker token (set tracker.token, $SHIPIT_TRACKER_TOKEN, or run shipit login)")
)
