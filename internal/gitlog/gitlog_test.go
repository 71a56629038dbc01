package gitlog

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/calvinalkan/shipit/internal/release"
)

func TestParseLog(t *testing.T) {
	t.Parallel()

	out := "aaa\x1f2024-03-01T10:00:00+01:00\x1f[#12] First\x1e\n" +
		"bbb\x1f2024-03-02T10:00:00Z\x1fSecond \x1e\n"

	got, err := parseLog(out)
	if err != nil {
		t.Fatalf("parseLog: %v", err)
	}

	want := []release.Commit{
		{Hash: "aaa", Message: "[#12] First", Date: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)},
		{Hash: "bbb", Message: "Second", Date: time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC)},
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestParseLogEmpty(t *testing.T) {
	t.Parallel()

	got, err := parseLog("\n")
	if err != nil {
		t.Fatalf("parseLog: %v", err)
	}

	if len(got) != 0 {
		t.Errorf("len=%d, want=0", len(got))
	}
}

func TestParseLogMalformed(t *testing.T) {
	t.Parallel()

	for _, out := range []string{"only-hash\x1e", "h\x1fnot-a-date\x1fmsg\x1e"} {
		if _, err := parseLog(out); !errors.Is(err, ErrMalformedLog) {
			t.Errorf("parseLog(%q): err=%v, want ErrMalformedLog", out, err)
		}
	}
}

func TestCollectorLog(t *testing.T) {
	t.Parallel()

	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}

	dir := t.TempDir()
	git(t, dir, "", "init", "-q")
	git(t, dir, "2024-01-01T10:00:00Z", "commit", "-q", "--allow-empty", "-m", "[#1] base")
	git(t, dir, "", "tag", "v1")
	git(t, dir, "2024-01-02T10:00:00Z", "commit", "-q", "--allow-empty", "-m", "[#2] second")
	git(t, dir, "2024-01-03T10:00:00Z", "commit", "-q", "--allow-empty", "-m", "third")

	c := Collector{RepoPath: dir}

	got, err := c.Log(context.Background(), release.Window{From: "v1", To: "HEAD"})
	if err != nil {
		t.Fatalf("Log: %v", err)
	}

	var messages []string
	for _, commit := range got {
		messages = append(messages, commit.Message)
	}

	if diff := cmp.Diff([]string{"third", "[#2] second"}, messages); diff != "" {
		t.Errorf("messages (-want +got):\n%s", diff)
	}

	if got, want := got[1].Date, time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("date=%s, want=%s", got, want)
	}

	_, err = c.Log(context.Background(), release.Window{From: "nope", To: "HEAD"})
	if !errors.Is(err, ErrGitFailed) {
		t.Errorf("err=%v, want ErrGitFailed", err)
	}
}

func git(t *testing.T, dir, date string, args ...string) {
	t.Helper()

	cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
		"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com",
		"GIT_CONFIG_NOSYSTEM=1", "HOME="+dir,
	)

	if date != "" {
		cmd.Env = append(cmd.Env, "GIT_AUTHOR_DATE="+date, "GIT_COMMITTER_DATE="+date)
	}

	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %v: %v\n%s", args, err, out)
	}
}
