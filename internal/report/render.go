package report

import (
	"cmp"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/calvinalkan/shipit/internal/release"
	"github.com/calvinalkan/shipit/internal/story"
)

// Fixed section headers.
const (
	HeaderFlagsOn        = "Stories to have flags turned on"
	HeaderCodeReview     = "Stories requiring code review"
	HeaderQAReview       = "Stories requiring QA review"
	HeaderDesignReview   = "Stories requiring design review"
	HeaderFlagReview     = "Stories requiring feature flag reviews"
	HeaderUpsource       = "Upsource"
	sectionSpacer        = "&nbsp;\n&nbsp;\n&nbsp;"
	linkUnclosedReviews  = "Commits with open or no reviews"
	linkUnattachedCommit = "Commits with no attached review"
)

// Upsource builds code review search links.
type Upsource struct {
	BaseURL string
	Project string
	Branch  string
}

// Enabled reports whether links can be built.
func (u Upsource) Enabled() bool { return u.BaseURL != "" }

// StoryURL searches the reviews of one story.
func (u Upsource) StoryURL(id story.ID) string {
	return u.url(fmt.Sprintf("branch: %s and %s", u.Branch, id))
}

// UnclosedURL searches commits of the given stories without a closed review.
func (u Upsource) UnclosedURL(ids []story.ID) string {
	terms := make([]string, 0, len(ids))
	for _, id := range ids {
		terms = append(terms, id.String())
	}

	return u.url(fmt.Sprintf("branch: %s and not #{closed review} and (%s)", u.Branch, strings.Join(terms, " or ")))
}

// UnattachedURL searches commits that are not attached to any review.
func (u Upsource) UnattachedURL() string {
	return u.url(fmt.Sprintf("branch: %s and not #{closed review} and not #{open review}", u.Branch))
}

func (u Upsource) url(query string) string {
	escaped := strings.ReplaceAll(url.QueryEscape(query), "+", "%20")

	return strings.TrimRight(u.BaseURL, "/") + "/" + url.PathEscape(u.Project) + "?query=" + escaped
}

// RenderOptions control Markdown.
type RenderOptions struct {
	Upsource Upsource
}

// Markdown renders the report. It does not modify r; configured sections
// appear only after ApplySections.
func (r *Report) Markdown(opts RenderOptions) string {
	var b strings.Builder

	features := byType(r.Release, story.TypeFeature)
	chores := byType(r.Release, story.TypeChore)
	bugs := byType(r.Release, story.TypeBug)

	writeCount(&b, "Feature", features)
	writeCount(&b, "Chore", chores)
	writeCount(&b, "Bug", bugs)

	all := r.Set.Stories()

	writeList(&b, HeaderFlagsOn, flagsToTurnOn(all), opts.Upsource, false)

	for _, section := range r.Sections {
		writeList(&b, section.Header, section.Stories, opts.Upsource, false)
	}

	writeList(&b, HeaderCodeReview, filter(r.Release, func(s *story.Story) bool {
		return s.Review.RequiresCode
	}), opts.Upsource, true)

	writeList(&b, HeaderQAReview, filter(r.Release, func(s *story.Story) bool {
		return s.Review.RequiresQA && !s.Review.HasFeatureFlag
	}), opts.Upsource, false)

	writeList(&b, HeaderDesignReview, filter(r.Release, func(s *story.Story) bool {
		return s.Review.RequiresDesign && !s.Review.HasFeatureFlag && !s.IsAggregator()
	}), opts.Upsource, false)

	writeList(&b, HeaderFlagReview, filter(r.Release, func(s *story.Story) bool {
		return s.Review.RequiresFeatureFlag
	}), opts.Upsource, false)

	if opts.Upsource.Enabled() {
		b.WriteString(sectionSpacer + "\n# " + HeaderUpsource + ":\n\n")
		fmt.Fprintf(&b, "[%s](%s)\n", linkUnclosedReviews, opts.Upsource.UnclosedURL(r.IDs))
		fmt.Fprintf(&b, "[%s](%s)\n", linkUnattachedCommit, opts.Upsource.UnattachedURL())
	}

	return b.String()
}

// Duplicates renders the commits dropped because an earlier release already
// shipped them. It returns "" when there are none.
func Duplicates(commits []release.Commit) string {
	if len(commits) == 0 {
		return ""
	}

	var b strings.Builder

	b.WriteString("Removing some duplicate commits:\n")

	for _, c := range commits {
		b.WriteString(c.Message + "\n")
	}

	return b.String()
}

// StoryLine renders one story: "#id [type] name", the flag summary, and a
// review link when withReview is set and code review is outstanding.
func StoryLine(s *story.Story, up Upsource, withReview bool) string {
	parts := []string{fmt.Sprintf("#%s [%s] %s", s.ID, s.Type, strings.TrimSpace(s.Name))}

	switch {
	case !s.Review.HasFeatureFlag:
		parts = append(parts, "(no flags)")
	case len(s.Flags) == 0:
		parts = append(parts, "(description missing flag)")
	default:
		for _, f := range s.Flags {
			state := "off"
			if f.Enabled {
				state = "on"
			}

			parts = append(parts, fmt.Sprintf("[Flag (%s)](%s)", state, f.URL))
		}
	}

	if withReview && s.Review.RequiresCode && up.Enabled() {
		parts = append(parts, fmt.Sprintf("[Upsource](%s)", up.StoryURL(s.ID)))
	}

	return strings.Join(parts, " ")
}

func writeCount(b *strings.Builder, noun string, stories []*story.Story) {
	var points float64

	for _, s := range stories {
		if s.Estimate != nil {
			points += *s.Estimate
		}
	}

	fmt.Fprintf(b, "%d %s (%s %s)\n",
		len(stories), plural(noun, float64(len(stories))),
		strconv.FormatFloat(points, 'f', -1, 64), plural("point", points))
}

func plural(noun string, n float64) string {
	if n == 1 {
		return noun
	}

	return noun + "s"
}

func writeList(b *strings.Builder, header string, stories []*story.Story, up Upsource, withReview bool) {
	if len(stories) == 0 {
		return
	}

	sorted := slices.Clone(stories)
	slices.SortStableFunc(sorted, func(x, y *story.Story) int {
		return cmp.Compare(typeRank(x.Type), typeRank(y.Type))
	})

	b.WriteString(sectionSpacer + "\n# " + header + ":\n\n")

	for _, s := range sorted {
		b.WriteString(StoryLine(s, up, withReview) + "\n")
	}
}

func typeRank(t string) int {
	switch t {
	case story.TypeFeature:
		return 1
	case story.TypeBug:
		return 2
	case story.TypeChore:
		return 3
	default:
		return 4
	}
}

// flagsToTurnOn returns accepted stories with a flag still off, unless
// another story sharing one of their flags is not accepted yet.
func flagsToTurnOn(stories []*story.Story) []*story.Story {
	return filter(stories, func(s *story.Story) bool {
		if s.State != story.StateAccepted || !slices.ContainsFunc(s.Flags, func(f story.Flag) bool { return !f.Enabled }) {
			return false
		}

		for _, other := range stories {
			if other != s && sharesFlag(s, other) && other.State != story.StateAccepted {
				return false
			}
		}

		return true
	})
}

func sharesFlag(a, b *story.Story) bool {
	for _, fa := range a.Flags {
		for _, fb := range b.Flags {
			if fa.FullName == fb.FullName {
				return true
			}
		}
	}

	return false
}

func byType(stories []*story.Story, t string) []*story.Story {
	return filter(stories, func(s *story.Story) bool { return s.Type == t })
}

func filter(stories []*story.Story, keep func(*story.Story) bool) []*story.Story {
	var out []*story.Story

	for _, s := range stories {
		if keep(s) {
			out = append(out, s)
		}
	}

	return out
}
