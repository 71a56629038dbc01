// Package review classifies the tracker reviews attached to stories.
package review

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/calvinalkan/shipit/internal/story"
)

// TypeIDs lists the tracker review type IDs of each review category.
type TypeIDs struct {
	Code        []int64 `json:"code"`
	QA          []int64 `json:"qa"`
	Design      []int64 `json:"design"`
	FeatureFlag []int64 `json:"feature_flag"`
}

// Classify derives the review state of s from its reviews.
//
// Code review is required unless at least one code review exists and all of
// them passed. QA review is required when any QA review is open, or when a
// non-spike feature or a bug has no QA review at all.
func (ids TypeIDs) Classify(s *story.Story, reviews []story.Review) story.ReviewState {
	code := ofType(reviews, ids.Code)
	qa := ofType(reviews, ids.QA)
	design := ofType(reviews, ids.Design)
	flag := ofType(reviews, ids.FeatureFlag)

	needsQA := (s.Type == story.TypeFeature && !s.IsSpike()) || s.Type == story.TypeBug

	return story.ReviewState{
		RequiresCode:        len(code) == 0 || anyOpen(code),
		RequiresQA:          (needsQA && len(qa) == 0) || anyOpen(qa),
		RequiresDesign:      anyOpen(design),
		HasFeatureFlag:      len(flag) > 0,
		RequiresFeatureFlag: anyOpen(flag),
		PassesFeatureFlag:   len(flag) > 0 && !anyOpen(flag),
	}
}

func ofType(reviews []story.Review, typeIDs []int64) []story.Review {
	var out []story.Review

	for _, r := range reviews {
		if slices.Contains(typeIDs, r.TypeID) {
			out = append(out, r)
		}
	}

	return out
}

func anyOpen(reviews []story.Review) bool {
	return slices.ContainsFunc(reviews, func(r story.Review) bool {
		return r.Status != story.ReviewPassed
	})
}

// Source returns the reviews of a story.
type Source interface {
	Reviews(ctx context.Context, s *story.Story) ([]story.Review, error)
}

// Annotator fetches reviews and stores the classification on each story.
type Annotator struct {
	Source      Source
	TypeIDs     TypeIDs
	Concurrency int
	Logger      *slog.Logger
}

// Annotate sets Review on every story. A story whose reviews cannot be
// fetched is classified as having none.
func (a *Annotator) Annotate(ctx context.Context, stories []*story.Story) error {
	var group errgroup.Group

	limit := a.Concurrency
	if limit <= 0 {
		limit = story.DefaultConcurrency
	}

	group.SetLimit(limit)

	for _, s := range stories {
		group.Go(func() error {
			reviews, err := a.Source.Reviews(ctx, s)
			if err != nil {
				a.logger().Debug("reviews unavailable", "story", s.ID, "err", err)

				reviews = nil
			}

			s.Review = a.TypeIDs.Classify(s, reviews)

			return nil
		})
	}

	_ = group.Wait()

	err := ctx.Err()
	if err != nil {
		return fmt.Errorf("fetching reviews: %w", err)
	}

	return nil
}

func (a *Annotator) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}

	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
