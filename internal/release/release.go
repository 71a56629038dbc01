// Package release turns the commit logs of consecutive release windows into
// the set of stories that shipped in the newest one.
package release

import (
	"regexp"
	"time"

	"github.com/calvinalkan/shipit/internal/story"
)

// Commit is a single entry of a commit log.
type Commit struct {
	Hash    string
	Message string
	Date    time.Time
}

// Window is a commit range understood by git ("from..to").
type Window struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// String returns the git revision range of the window.
func (w Window) String() string {
	return w.From + ".." + w.To
}

var storyRefPattern = regexp.MustCompile(`(^|\s+)\[#?(\d+)`)

// ExtractID returns the story referenced at the start of a message or after
// whitespace, as in "[#1234] Fix thing" or "Merge [1234]". Only the first
// reference counts.
func ExtractID(message string) (story.ID, bool) {
	m := storyRefPattern.FindStringSubmatch(message)
	if m == nil {
		return 0, false
	}

	id, err := story.ParseID(m[2])
	if err != nil {
		return 0, false
	}

	return id, true
}

// UniqueIDs returns the distinct story IDs referenced by commits, in order of
// first appearance.
func UniqueIDs(commits []Commit) []story.ID {
	seen := make(map[story.ID]bool)

	var ids []story.ID

	for _, c := range commits {
		id, ok := ExtractID(c.Message)
		if !ok || seen[id] {
			continue
		}

		seen[id] = true
		ids = append(ids, id)
	}

	return ids
}

// Result is the outcome of Deduplicate.
type Result struct {
	// Commits are the commits of the current window that no prior window
	// contains, in their original order.
	Commits []Commit
	// Duplicates are the dropped commits, for display.
	Duplicates []Commit
	// PreviousDate is the earliest commit date of the window immediately
	// before the current one. Nil unless there is a prior window and the
	// current window has commits.
	PreviousDate *time.Time
	// CurrentDate is the latest commit date of the current window, with the
	// same availability as PreviousDate.
	CurrentDate *time.Time
}

// Deduplicate drops every commit of current that also appears in one of the
// prior windows. prior is ordered oldest window first. Commits are matched by
// date and message rather than hash, since cherry-picks and rebases rewrite
// hashes.
func Deduplicate(current []Commit, prior [][]Commit) Result {
	if len(prior) == 0 {
		return Result{Commits: current}
	}

	seen := make(map[string]bool)

	for _, window := range prior {
		for _, c := range window {
			seen[key(c)] = true
		}
	}

	res := Result{}

	for _, c := range current {
		if seen[key(c)] {
			res.Duplicates = append(res.Duplicates, c)

			continue
		}

		res.Commits = append(res.Commits, c)
	}

	if len(current) > 0 {
		res.CurrentDate = latest(current)
		res.PreviousDate = earliest(prior[len(prior)-1])
	}

	return res
}

func key(c Commit) string {
	return c.Date.UTC().Format(time.RFC3339Nano) + c.Message
}

func earliest(commits []Commit) *time.Time {
	var out *time.Time

	for _, c := range commits {
		if out == nil || c.Date.Before(*out) {
			d := c.Date
			out = &d
		}
	}

	return out
}

func latest(commits []Commit) *time.Time {
	var out *time.Time

	for _, c := range commits {
		if out == nil || c.Date.After(*out) {
			d := c.Date
			out = &d
		}
	}

	return out
}
