// Package gitlog reads release windows from a git repository.
package gitlog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/calvinalkan/shipit/internal/release"
)

// Error variables for reading history.
var (
	// ErrGitFailed is returned when git exits non-zero.
	ErrGitFailed = errors.New("git failed")
	// ErrMalformedLog is returned when git log output cannot be parsed.
	ErrMalformedLog = errors.New("malformed git log")
)

const (
	fieldSep  = "\x1f"
	recordSep = "\x1e"
	logFormat = "--format=%H%x1f%aI%x1f%s%x1e"
)

// Collector runs git in RepoPath.
type Collector struct {
	RepoPath string
}

// Log returns the commits reachable from w.To but not from w.From, newest
// first, as git prints them.
func (c Collector) Log(ctx context.Context, w release.Window) ([]release.Commit, error) {
	cmd := exec.CommandContext(ctx, "git", "-C", c.RepoPath, "log", logFormat, w.String())

	var stderr bytes.Buffer

	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%w: git log %s: %w (%s)", ErrGitFailed, w, err, strings.TrimSpace(stderr.String()))
	}

	commits, err := parseLog(string(out))
	if err != nil {
		return nil, fmt.Errorf("git log %s: %w", w, err)
	}

	return commits, nil
}

// Logs returns the log of every window, in order.
func (c Collector) Logs(ctx context.Context, windows []release.Window) ([][]release.Commit, error) {
	logs := make([][]release.Commit, 0, len(windows))

	for _, w := range windows {
		commits, err := c.Log(ctx, w)
		if err != nil {
			return nil, err
		}

		logs = append(logs, commits)
	}

	return logs, nil
}

func parseLog(out string) ([]release.Commit, error) {
	var commits []release.Commit

	for _, record := range strings.Split(out, recordSep) {
		record = strings.TrimSpace(record)
		if record == "" {
			continue
		}

		parts := strings.SplitN(record, fieldSep, 3)
		if len(parts) != 3 {
			return nil, fmt.Errorf("%w: record %q", ErrMalformedLog, record)
		}

		date, err := time.Parse(time.RFC3339, parts[1])
		if err != nil {
			return nil, fmt.Errorf("%w: commit %s: parse date: %w", ErrMalformedLog, parts[0], err)
		}

		commits = append(commits, release.Commit{
			Hash:    parts[0],
			Date:    date,
			Message: strings.TrimSpace(parts[2]),
		})
	}

	return commits, nil
}
