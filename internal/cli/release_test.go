package cli_test

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/calvinalkan/shipit/internal/cli"
	"github.com/calvinalkan/shipit/internal/config"
)

const trackerToken = "tracker-secret"

// initRepo creates repo/ in the CLI dir:
//
//	init           (tag base)
//	[#1] one       (tag v1)
//	[#1] one       same date and message, a cherry-pick
//	[#2] two
func initRepo(t *testing.T, c *cli.CLI) {
	t.Helper()

	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}

	dir := filepath.Join(c.Dir, "repo")

	err := os.MkdirAll(dir, 0o750)
	if err != nil {
		t.Fatal(err)
	}

	git(t, dir, "", "init", "-q")
	git(t, dir, "2024-05-01T09:00:00Z", "commit", "-q", "--allow-empty", "-m", "init")
	git(t, dir, "", "tag", "base")
	git(t, dir, "2024-05-02T09:00:00Z", "commit", "-q", "--allow-empty", "-m", "[#1] one")
	git(t, dir, "", "tag", "v1")
	git(t, dir, "2024-05-02T09:00:00Z", "commit", "-q", "--allow-empty", "-m", "[#1] one")
	git(t, dir, "2024-05-03T09:00:00Z", "commit", "-q", "--allow-empty", "-m", "[#2] two")
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

// trackerServer serves tracker resources by path. Blocker and review lists
// not in routes are empty.
func trackerServer(t *testing.T, routes map[string]string) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-TrackerToken") != trackerToken {
			w.WriteHeader(http.StatusForbidden)

			return
		}

		body, ok := routes[r.URL.Path]

		switch {
		case ok:
		case strings.HasSuffix(r.URL.Path, "/blockers"), strings.HasSuffix(r.URL.Path, "/reviews"):
			body = "[]"
		case r.URL.Path == "/projects/99/stories" && r.URL.Query().Has("accepted_after"):
			body = "[]"
		default:
			w.WriteHeader(http.StatusNotFound)

			return
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)

	return srv
}

func storyJSON(id int, storyType, name, description string) string {
	return fmt.Sprintf(`{"kind":"story","id":%d,"project_id":99,"story_type":%q,"current_state":"delivered",`+
		`"name":%q,"description":%q,"estimate":3,"labels":[]}`, id, storyType, name, description)
}

var defaultRoutes = map[string]string{
	"/stories/2":                      storyJSON(2, "feature", "Two", ""),
	"/stories/3":                      storyJSON(3, "chore", "Api for two", ""),
	"/projects/99/stories/2/blockers": `[{"kind":"blocker","description":"#3 needs the api"}]`,
	"/projects/99/stories/2/reviews":  `[{"kind":"review","review_type_id":10,"status":"unstarted"}]`,
}

func writeReleaseConfig(c *cli.CLI, trackerURL, extra string) {
	c.WriteConfig(fmt.Sprintf(`{
		"repo_path": "repo",
		"tracker": {
			"project_id": 99,
			"token": %q,
			"base_url": %q,
			"review_type_ids": {"code": [10], "feature_flag": [20]},
		},
		"releases": [
			{"from": "base", "to": "v1"},
			{"from": "v1", "to": "HEAD"},
		],
		"sections": [
			{"header": "Features", "where": {"equals": {"kind": "feature"}}},
		],
		%s
	}`, trackerToken, trackerURL, extra))
}

func TestReleaseReport(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	initRepo(t, c)
	writeReleaseConfig(c, trackerServer(t, defaultRoutes).URL, "")

	stdout, stderr, exitCode := c.Run()
	if got, want := exitCode, 0; got != want {
		t.Fatalf("exitCode=%d, want=%d\nstderr: %s", got, want, stderr)
	}

	cli.AssertContains(t, stdout, "1 Feature (3 points)\n0 Chores (0 points)\n0 Bugs (0 points)\n")
	cli.AssertContains(t, stdout, "# Features:\n\n#2 [feature] Two (no flags)\n")
	cli.AssertContains(t, stdout, "# Stories requiring code review:\n\n#2 [feature] Two (no flags)\n")
	cli.AssertContains(t, stdout, "# Stories requiring QA review:\n\n#2 [feature] Two (no flags)\n")
	cli.AssertNotContains(t, stdout, "#3")
	cli.AssertNotContains(t, stdout, "Upsource")

	cli.AssertContains(t, stderr, "Removing some duplicate commits:\n[#1] one\n")
}

func TestReleaseNoDupes(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	initRepo(t, c)
	writeReleaseConfig(c, trackerServer(t, defaultRoutes).URL, "")

	_, stderr, exitCode := c.Run("release", "--no-dupes")
	if got, want := exitCode, 0; got != want {
		t.Fatalf("exitCode=%d, want=%d\nstderr: %s", got, want, stderr)
	}

	cli.AssertNotContains(t, stderr, "Removing some duplicate commits")
}

func TestReleaseToFile(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	initRepo(t, c)
	writeReleaseConfig(c, trackerServer(t, defaultRoutes).URL, "")

	stdout, stderr, exitCode := c.Run("release", "--no-dupes", "-o", "out/RELEASE.md")
	if got, want := exitCode, 0; got != want {
		t.Fatalf("exitCode=%d, want=%d\nstderr: %s", got, want, stderr)
	}

	if stdout != "" {
		t.Errorf("stdout should be empty, got:\n%s", stdout)
	}

	cli.AssertContains(t, c.ReadFile("out/RELEASE.md"), "1 Feature (3 points)")
}

func TestReleaseUpsourceLinks(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	initRepo(t, c)
	writeReleaseConfig(c, trackerServer(t, defaultRoutes).URL,
		`"upsource": {"base_url": "https://upsource.example.com/", "project": "web"},`)

	stdout := c.MustRun("release", "--no-dupes")

	cli.AssertContains(t, stdout,
		"#2 [feature] Two (no flags) [Upsource](https://upsource.example.com/web?query=branch%3A%20master%20and%202)")
	cli.AssertContains(t, stdout, "# Upsource:\n\n")
}

func TestReleaseWithFlagStates(t *testing.T) {
	t.Parallel()

	routes := map[string]string{
		"/stories/2": storyJSON(2, "feature", "Two", "Ships behind checkout.newFlow, see app.js"),
		"/projects/99/stories/2/reviews": `[{"kind":"review","review_type_id":10,"status":"pass"},` +
			`{"kind":"review","review_type_id":20,"status":"pass"}]`,
	}

	flagSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer flags-secret" || r.URL.Path != "/public-api/applications/app-1/Production/flags" {
			w.WriteHeader(http.StatusNotFound)

			return
		}

		_, _ = fmt.Fprint(w, `[{"name":"checkout.newFlow","enabled":true}]`)
	}))
	t.Cleanup(flagSrv.Close)

	c := cli.NewCLI(t)
	c.Env[config.EnvFlagsToken] = "flags-secret"
	initRepo(t, c)
	writeReleaseConfig(c, trackerServer(t, routes).URL,
		fmt.Sprintf(`"flags": {"app_key": "app-1", "base_url": %q},`, flagSrv.URL))

	stdout := c.MustRun("release", "--no-dupes")

	cli.AssertContains(t, stdout,
		"#2 [feature] Two [Flag (on)](https://app.rollout.io/app/app-1/flags?filter=checkout.newFlow)")
	cli.AssertNotContains(t, stdout, "app.js")
	cli.AssertNotContains(t, stdout, "# Stories requiring code review")
	cli.AssertNotContains(t, stdout, "# Stories requiring QA review")
}

func TestReleaseWarnsWithoutFlagsToken(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	initRepo(t, c)
	writeReleaseConfig(c, trackerServer(t, defaultRoutes).URL, `"flags": {"app_key": "app-1"},`)

	stdout, stderr, exitCode := c.Run("release", "--no-dupes")

	if got, want := exitCode, 1; got != want {
		t.Errorf("exitCode=%d, want=%d", got, want)
	}

	cli.AssertContains(t, stdout, "1 Feature (3 points)")
	cli.AssertContains(t, stderr, "warning: flags.app_key is set but no flags token was found")
}

func TestReleaseNeedsTrackerToken(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	initRepo(t, c)
	c.WriteConfig(`{"repo_path": "repo", "tracker": {"project_id": 99}, "releases": [{"from": "v1", "to": "HEAD"}]}`)

	stderr := c.MustFail()
	cli.AssertContains(t, stderr, config.ErrTrackerToken.Error())
}

func TestReleaseTrackerUnavailable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	c := cli.NewCLI(t)
	initRepo(t, c)
	writeReleaseConfig(c, srv.URL, "")

	stdout, stderr, exitCode := c.Run("release", "--no-dupes")

	if got, want := exitCode, 1; got != want {
		t.Errorf("exitCode=%d, want=%d", got, want)
	}

	if stdout != "" {
		t.Errorf("stdout should be empty, got:\n%s", stdout)
	}

	cli.AssertContains(t, stderr, "tracker unavailable")
}

func TestCommitsAndIDs(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	initRepo(t, c)
	c.WriteConfig(`{"repo_path": "repo", "releases": [{"from": "base", "to": "v1"}, {"from": "v1", "to": "HEAD"}]}`)

	commits := c.MustRun("commits")
	if got, want := len(strings.Split(commits, "\n")), 1; got != want {
		t.Fatalf("lines=%d, want=%d\n%s", got, want, commits)
	}

	cli.AssertContains(t, commits, " [#2] two")

	dupes := c.MustRun("commits", "--dupes")
	cli.AssertContains(t, dupes, " [#1] one")
	cli.AssertNotContains(t, dupes, "two")

	if got, want := c.MustRun("ids"), "2"; got != want {
		t.Errorf("ids=%q, want=%q", got, want)
	}
}

func TestCommitsBadRevision(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	initRepo(t, c)
	c.WriteConfig(`{"repo_path": "repo", "releases": [{"from": "v9", "to": "HEAD"}]}`)

	stderr := c.MustFail("commits")
	cli.AssertContains(t, stderr, "git failed")
}
