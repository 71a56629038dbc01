package story

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency bounds parallel lookups when a Resolver has none set.
const DefaultConcurrency = 8

// Source looks up stories and their blocker records.
type Source interface {
	// Blockers returns the raw blocker records of s. Only Description needs
	// to be populated.
	Blockers(ctx context.Context, s *Story) ([]Blocker, error)
	// Story returns a single story. A nil story with a nil error means the
	// ID does not resolve.
	Story(ctx context.Context, id ID) (*Story, error)
}

// Pinger is implemented by sources that can check whether they answer at all.
// A nil error means the source is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Resolver closes a story set under the "blocked by" relation.
type Resolver struct {
	Source      Source
	Concurrency int
	Logger      *slog.Logger
}

// Resolve fetches blockers for every story that has none yet, pulls in every
// referenced story missing from the set (marked Transient), and repeats for
// the newcomers until a pass adds nothing. Finally every blocker record that
// references a member is marked Resolved, so set.BlockersOf returns the
// member pointers.
//
// Individual lookup failures only drop the affected story. The error is
// returned only when the source never answered during this resolution: every
// lookup so far failed with ErrSourceUnavailable and, for a Pinger source,
// Ping fails too.
func (r *Resolver) Resolve(ctx context.Context, set *Set) error {
	pending := set.Filter(func(s *Story) bool { return !s.BlockersFetched })
	tried := make(map[ID]bool)
	reached := false

	for pass := 1; len(pending) > 0; pass++ {
		err := r.attachBlockers(ctx, pending, &reached)
		if err != nil {
			return err
		}

		missing := missingBlockers(set, pending, tried)

		fetched, err := r.fetchStories(ctx, missing, &reached)
		if err != nil {
			return err
		}

		var next []*Story

		for _, s := range fetched {
			s.Transient = true

			if set.Add(s) {
				next = append(next, s)
			}
		}

		r.logger().Debug("blocker pass",
			"pass", pass,
			"pending", len(pending),
			"missing", len(missing),
			"added", len(next),
		)

		pending = next
	}

	set.link()

	return nil
}

func (r *Resolver) attachBlockers(ctx context.Context, stories []*Story, reached *bool) error {
	results := make([][]Blocker, len(stories))
	errs := make([]error, len(stories))

	r.each(len(stories), func(i int) {
		results[i], errs[i] = r.Source.Blockers(ctx, stories[i])
	})

	err := r.passError(ctx, errs, reached)
	if err != nil {
		return fmt.Errorf("fetching blockers: %w", err)
	}

	for i, s := range stories {
		blockers := results[i]

		if errs[i] != nil {
			r.logger().Debug("blockers unavailable", "story", s.ID, "err", errs[i])

			blockers = nil
		}

		if blockers == nil {
			blockers = []Blocker{}
		}

		for j := range blockers {
			if id, ok := ParseBlockerRef(blockers[j].Description); ok {
				blockers[j].StoryID = id
			}
		}

		s.Blockers = blockers
		s.BlockersFetched = true
	}

	return nil
}

func (r *Resolver) fetchStories(ctx context.Context, ids []ID, reached *bool) ([]*Story, error) {
	results := make([]*Story, len(ids))
	errs := make([]error, len(ids))

	r.each(len(ids), func(i int) {
		results[i], errs[i] = r.Source.Story(ctx, ids[i])
	})

	err := r.passError(ctx, errs, reached)
	if err != nil {
		return nil, fmt.Errorf("fetching blocking stories: %w", err)
	}

	var out []*Story

	for i, s := range results {
		switch {
		case errs[i] != nil:
			r.logger().Debug("blocking story dropped", "story", ids[i], "err", errs[i])
		case !IsStory(s):
			r.logger().Debug("blocking story dropped", "story", ids[i], "reason", "not a story")
		default:
			out = append(out, s)
		}
	}

	return out, nil
}

func (r *Resolver) each(n int, fn func(i int)) {
	var group errgroup.Group

	group.SetLimit(r.limit())

	for i := range n {
		group.Go(func() error {
			fn(i)

			return nil
		})
	}

	_ = group.Wait()
}

func (r *Resolver) limit() int {
	if r.Concurrency > 0 {
		return r.Concurrency
	}

	return DefaultConcurrency
}

func (r *Resolver) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}

	return discardLogger
}

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// passError returns an error when the resolution must be abandoned: the
// context is done, or the source has not answered a single lookup yet. Any
// lookup that did not fail with ErrSourceUnavailable sets *reached.
func (r *Resolver) passError(ctx context.Context, errs []error, reached *bool) error {
	ctxErr := ctx.Err()
	if ctxErr != nil {
		return ctxErr
	}

	for _, err := range errs {
		if !errors.Is(err, ErrSourceUnavailable) {
			*reached = true
		}
	}

	if *reached || len(errs) == 0 {
		return nil
	}

	if p, ok := r.Source.(Pinger); ok && p.Ping(ctx) == nil {
		*reached = true

		return nil
	}

	return errs[0]
}

// missingBlockers returns the IDs referenced by the blockers of stories that
// are neither members of set nor already tried, and marks them tried.
func missingBlockers(set *Set, stories []*Story, tried map[ID]bool) []ID {
	var ids []ID

	for _, s := range stories {
		for _, b := range s.Blockers {
			if b.StoryID == 0 || set.Has(b.StoryID) || tried[b.StoryID] {
				continue
			}

			tried[b.StoryID] = true
			ids = append(ids, b.StoryID)
		}
	}

	slices.Sort(ids)

	return ids
}
