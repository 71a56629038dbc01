// Package report builds a release report: the stories shipped between two
// revisions, annotated with blockers, reviews and feature flag state.
package report

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/calvinalkan/shipit/internal/config"
	"github.com/calvinalkan/shipit/internal/flags"
	"github.com/calvinalkan/shipit/internal/release"
	"github.com/calvinalkan/shipit/internal/review"
	"github.com/calvinalkan/shipit/internal/story"
	"github.com/calvinalkan/shipit/internal/where"
)

// Git reads the commits of release windows.
type Git interface {
	Logs(ctx context.Context, windows []release.Window) ([][]release.Commit, error)
}

// Tracker is the issue tracker the report reads stories from.
type Tracker interface {
	story.Source
	review.Source

	Stories(ctx context.Context, ids []story.ID) ([]*story.Story, error)
	AcceptedAfter(ctx context.Context, t time.Time) ([]*story.Story, error)
}

// FlagStates returns the enabled state of feature flags by full name.
type FlagStates interface {
	States(ctx context.Context) (map[string]bool, error)
}

// Builder gathers everything a report needs.
type Builder struct {
	Git     Git
	Tracker Tracker

	// Flags is optional. Without it every flag is reported as off.
	Flags       FlagStates
	FlagParser  flags.Parser
	ReviewTypes review.TypeIDs

	Concurrency int
	Logger      *slog.Logger
}

// Report is the data a release report is rendered from.
type Report struct {
	Window release.Window
	Dedup  release.Result

	// IDs are the stories referenced by the deduplicated commits.
	IDs []story.ID

	// Fetched holds every story fetched for the release, including those
	// dropped because they were carried over or obsolete.
	Fetched []*story.Story

	// Set holds the release stories and every story blocking them.
	Set *story.Set

	// Release is the non-transient part of Set, in set order.
	Release []*story.Story

	// Sections are the configured sections matched by ApplySections.
	Sections []SectionResult
}

// SectionResult is a configured section and the stories it matched.
type SectionResult struct {
	Header  string
	Stories []*story.Story
}

// ApplySections matches the configured sections in order and replaces
// r.Sections. A section's attach is set on its matches before the next
// section runs, so later where clauses can select on it.
func (r *Report) ApplySections(sections []config.Section) {
	r.Sections = make([]SectionResult, 0, len(sections))

	for _, section := range sections {
		candidates := r.Release
		if section.Stories == config.StoriesAll {
			candidates = r.Fetched
		}

		matched := where.Apply(candidates, section.Where)

		if section.Attach != nil {
			for _, s := range matched {
				s.SetAttr(section.Attach.Key, section.Attach.Value)
			}
		}

		r.Sections = append(r.Sections, SectionResult{Header: section.Header, Stories: matched})
	}
}

// Commits collects and deduplicates the commits of the current window. It is
// the first step of Build and is exposed for commands that only list commits.
func (b *Builder) Commits(ctx context.Context, current release.Window, prior []release.Window) (release.Result, error) {
	windows := append(append([]release.Window{}, prior...), current)

	logs, err := b.Git.Logs(ctx, windows)
	if err != nil {
		return release.Result{}, fmt.Errorf("reading commits: %w", err)
	}

	result := release.Deduplicate(logs[len(logs)-1], logs[:len(logs)-1])

	b.logger().Info("commits collected",
		"window", current,
		"commits", len(result.Commits),
		"duplicates", len(result.Duplicates),
	)

	return result, nil
}

// Build collects the report for current. prior are the earlier windows,
// oldest first; commits already shipped in them are ignored.
func (b *Builder) Build(ctx context.Context, current release.Window, prior []release.Window) (*Report, error) {
	dedup, err := b.Commits(ctx, current, prior)
	if err != nil {
		return nil, err
	}

	r := &Report{
		Window: current,
		Dedup:  dedup,
		IDs:    release.UniqueIDs(dedup.Commits),
	}

	r.Fetched, err = b.fetchReleaseStories(ctx, r.IDs, dedup)
	if err != nil {
		return nil, err
	}

	kept := make([]*story.Story, 0, len(r.Fetched))

	for _, s := range r.Fetched {
		if s.IsCarriedOver() || s.IsObsolete() {
			b.logger().Debug("story dropped", "story", s.ID, "reason", "carried over or obsolete")

			continue
		}

		kept = append(kept, s)
	}

	r.Set = story.NewSet(kept...)

	resolver := &story.Resolver{Source: b.Tracker, Concurrency: b.Concurrency, Logger: b.logger()}

	err = resolver.Resolve(ctx, r.Set)
	if err != nil {
		return nil, fmt.Errorf("resolving blockers: %w", err)
	}

	all := r.Set.Stories()

	annotator := &review.Annotator{
		Source:      b.Tracker,
		TypeIDs:     b.ReviewTypes,
		Concurrency: b.Concurrency,
		Logger:      b.logger(),
	}

	err = annotator.Annotate(ctx, all)
	if err != nil {
		return nil, err
	}

	err = b.attachFlags(ctx, all)
	if err != nil {
		return nil, err
	}

	r.Release = r.Set.Filter(func(s *story.Story) bool { return !s.Transient })

	return r, nil
}

// fetchReleaseStories fetches the stories named by commits, plus stories
// accepted since the previous release that have not been shipped in it.
func (b *Builder) fetchReleaseStories(ctx context.Context, ids []story.ID, dedup release.Result) ([]*story.Story, error) {
	var stories []*story.Story

	if len(ids) > 0 {
		var err error

		stories, err = b.Tracker.Stories(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("fetching stories: %w", err)
		}
	}

	if dedup.PreviousDate == nil || dedup.CurrentDate == nil {
		return stories, nil
	}

	accepted, err := b.Tracker.AcceptedAfter(ctx, *dedup.PreviousDate)
	if err != nil {
		if errors.Is(err, story.ErrSourceUnavailable) {
			return nil, fmt.Errorf("fetching accepted stories: %w", err)
		}

		b.logger().Warn("accepted stories unavailable", "err", err)

		return stories, nil
	}

	present := make(map[story.ID]bool, len(stories))
	for _, s := range stories {
		present[s.ID] = true
	}

	for _, s := range accepted {
		if !story.IsStory(s) || present[s.ID] || s.AcceptedAt.Before(*dedup.CurrentDate) {
			continue
		}

		present[s.ID] = true
		stories = append(stories, s)
	}

	return stories, nil
}

// attachFlags parses flags from descriptions. Only stories with feature flag
// reviews keep them.
func (b *Builder) attachFlags(ctx context.Context, stories []*story.Story) error {
	found := false

	for _, s := range stories {
		s.Flags = []story.Flag{}

		if s.Review.HasFeatureFlag {
			s.Flags = b.FlagParser.Parse(s.Description)
			found = found || len(s.Flags) > 0
		}
	}

	if !found || b.Flags == nil {
		return nil
	}

	states, err := b.Flags.States(ctx)
	if err != nil {
		return fmt.Errorf("fetching flag states: %w", err)
	}

	flags.Apply(stories, states)

	return nil
}

func (b *Builder) logger() *slog.Logger {
	if b.Logger != nil {
		return b.Logger
	}

	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
