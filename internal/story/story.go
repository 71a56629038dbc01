// Package story holds the tracker work items a release report is built from,
// the identity-preserving collection they live in, and blocker closure.
package story

import (
	"regexp"
	"slices"
	"strconv"
	"time"
)

// ID identifies a story in the tracker.
type ID int64

// String returns the decimal form used in commit messages and URLs.
func (id ID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// ParseID parses a decimal story ID.
func ParseID(s string) (ID, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}

	return ID(n), nil
}

// Story types.
const (
	TypeFeature = "feature"
	TypeBug     = "bug"
	TypeChore   = "chore"
	TypeRelease = "release"
)

// KindStory is the tracker resource kind of a story. Anything else returned
// by a lookup (errors, epics) is not a story.
const KindStory = "story"

// StateAccepted is the workflow state of a story that passed acceptance.
const StateAccepted = "accepted"

// Label names with meaning to the report.
const (
	LabelCarryOver   = "close out and carry over"
	LabelConsumer    = "consumer"
	LabelNewConsumer = "new consumer"
	LabelPrototype   = "prototype"
	LabelAggregator  = "aggregator"
	LabelSpike       = "spike"
	LabelObsolete    = "obsolete"
)

// Story is a tracker work item plus the annotations added while building a
// report. Stories are shared by pointer: a story reached through several
// blocker paths is the same *Story.
type Story struct {
	ID           ID
	ProjectID    int64
	ResourceKind string
	Type         string
	State        string
	Name         string
	Description  string
	Estimate     *float64
	Labels       []string
	AcceptedAt   time.Time
	URL          string

	// Transient is set for stories that are only present because another
	// story is blocked by them.
	Transient bool

	// Blockers is meaningless until BlockersFetched is set.
	Blockers        []Blocker
	BlockersFetched bool

	Review ReviewState
	Flags  []Flag

	// Attrs holds values attached by report sections.
	Attrs map[string]any
}

// Blocker is a "blocked by" record. StoryID is zero when the description
// does not reference another story.
type Blocker struct {
	Description string
	StoryID     ID
	Resolved    bool
}

// ReviewState summarises the reviews attached to a story.
type ReviewState struct {
	RequiresCode        bool
	RequiresQA          bool
	RequiresDesign      bool
	HasFeatureFlag      bool
	RequiresFeatureFlag bool
	PassesFeatureFlag   bool
}

// Review is a review attached to a story in the tracker.
type Review struct {
	TypeID int64
	Status string
}

// ReviewPassed is the status of a passed review.
const ReviewPassed = "pass"

// Flag is a feature flag mentioned in a story description.
type Flag struct {
	FullName  string
	Container string
	Name      string
	URL       string
	Enabled   bool
}

// IsStory reports whether s is a usable story lookup result.
func IsStory(s *Story) bool {
	return s != nil && s.ResourceKind == KindStory
}

// HasLabel reports whether the story carries any of the given labels.
func (s *Story) HasLabel(names ...string) bool {
	for _, name := range names {
		if slices.Contains(s.Labels, name) {
			return true
		}
	}

	return false
}

func (s *Story) IsSpike() bool      { return s.HasLabel(LabelSpike) }
func (s *Story) IsConsumer() bool   { return s.HasLabel(LabelConsumer, LabelNewConsumer) }
func (s *Story) IsAggregator() bool { return s.HasLabel(LabelPrototype, LabelAggregator) }
func (s *Story) IsObsolete() bool   { return s.HasLabel(LabelObsolete) }

// IsCarriedOver reports whether the story was closed out and carried over to
// a later release.
func (s *Story) IsCarriedOver() bool { return s.HasLabel(LabelCarryOver) }

// SetAttr attaches a report attribute to the story.
func (s *Story) SetAttr(key string, value any) {
	if s.Attrs == nil {
		s.Attrs = make(map[string]any)
	}

	s.Attrs[key] = value
}

// Field returns the value of a named field for where-clause evaluation.
// Both the tracker's JSON names and the short report names are accepted.
// Attributes attached by report sections are consulted last.
func (s *Story) Field(name string) (any, bool) {
	switch name {
	case "id":
		return float64(s.ID), true
	case "project_id":
		return float64(s.ProjectID), true
	case "kind", "story_type", "type":
		return s.Type, true
	case "resource_kind":
		return s.ResourceKind, true
	case "state", "current_state":
		return s.State, true
	case "name":
		return s.Name, true
	case "description":
		return s.Description, true
	case "estimate":
		if s.Estimate == nil {
			return nil, false
		}

		return *s.Estimate, true
	case "labels", "labelNames":
		return s.Labels, true
	case "transient":
		return s.Transient, true
	case "isSpike":
		return s.IsSpike(), true
	case "isConsumer":
		return s.IsConsumer(), true
	case "isAggregator":
		return s.IsAggregator(), true
	case "isObsolete":
		return s.IsObsolete(), true
	case "requiresCodeReview":
		return s.Review.RequiresCode, true
	case "requiresQAReview":
		return s.Review.RequiresQA, true
	case "requiresDesignReview":
		return s.Review.RequiresDesign, true
	case "hasFeatureFlagReviews":
		return s.Review.HasFeatureFlag, true
	case "hasFlags":
		return len(s.Flags) > 0, true
	case "requiresFeatureFlagReview":
		return s.Review.RequiresFeatureFlag, true
	case "passesFeatureFlagReview":
		return s.Review.PassesFeatureFlag, true
	case "flagNames":
		names := make([]string, 0, len(s.Flags))
		for _, f := range s.Flags {
			names = append(names, f.FullName)
		}

		return names, true
	case "flagValues":
		values := make([]bool, 0, len(s.Flags))
		for _, f := range s.Flags {
			values = append(values, f.Enabled)
		}

		return values, true
	case "blockerIDs":
		ids := make([]float64, 0, len(s.Blockers))
		for _, b := range s.Blockers {
			if b.StoryID != 0 {
				ids = append(ids, float64(b.StoryID))
			}
		}

		return ids, true
	}

	v, ok := s.Attrs[name]

	return v, ok
}

var blockerRefPattern = regexp.MustCompile(`^#\s*(\d+)`)

// ParseBlockerRef extracts the story referenced by a blocker description
// of the form "#1234 ...".
func ParseBlockerRef(description string) (ID, bool) {
	m := blockerRefPattern.FindStringSubmatch(description)
	if m == nil {
		return 0, false
	}

	id, err := ParseID(m[1])
	if err != nil || id == 0 {
		return 0, false
	}

	return id, true
}
