package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/shipit/internal/config"
	"github.com/calvinalkan/shipit/internal/release"
	"github.com/calvinalkan/shipit/internal/settings"
	"github.com/calvinalkan/shipit/internal/where"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

type env struct {
	dir  string
	xdg  string
	vars map[string]string
}

func newEnv(t *testing.T) env {
	t.Helper()

	root := t.TempDir()
	e := env{dir: filepath.Join(root, "project"), xdg: filepath.Join(root, "xdg")}
	e.vars = map[string]string{"XDG_CONFIG_HOME": e.xdg}

	require.NoError(t, os.MkdirAll(e.dir, 0o750))

	return e
}

func (e env) load(t *testing.T, mutate ...func(*config.LoadInput)) (config.Config, error) {
	t.Helper()

	input := config.LoadInput{WorkDirOverride: e.dir, Env: e.vars}
	for _, m := range mutate {
		m(&input)
	}

	return config.Load(input)
}

func TestDefaults(t *testing.T) {
	t.Parallel()

	e := newEnv(t)

	cfg, err := e.load(t)
	require.NoError(t, err)

	assert.Equal(t, "master", cfg.Branch)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, e.dir, cfg.RepoPathAbs)
	assert.Empty(t, cfg.Sources.Global)
	assert.Empty(t, cfg.Sources.Project)
	assert.ErrorIs(t, cfg.ValidateReleases(), config.ErrNoReleases)
	assert.ErrorIs(t, cfg.ValidateTracker(), config.ErrProjectIDRequired)
}

func TestProjectFileWithComments(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	writeFile(t, filepath.Join(e.dir, config.ConfigFileName), `{
		// repo lives next door
		"repo_path": "../app",
		"branch": "main",
		"tracker": {"project_id": 42, "review_type_ids": {"code": [1, 2]}},
		"releases": [
			{"from": "v1", "to": "v2"},
			{"from": "v2", "to": "HEAD"}, // current
		],
		"sections": [
			{"header": "Bugs", "where": [{"equals": {"kind": "bug"}}], "attach": {"key": "seen", "value": true}},
		],
	}`)

	cfg, err := e.load(t)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(e.dir, config.ConfigFileName), cfg.Sources.Project)
	assert.Equal(t, filepath.Join(filepath.Dir(e.dir), "app"), cfg.RepoPathAbs)
	assert.Equal(t, "main", cfg.Branch)
	assert.Equal(t, int64(42), cfg.Tracker.ProjectID)
	assert.Equal(t, []int64{1, 2}, cfg.Tracker.ReviewTypeIDs.Code)

	require.NoError(t, cfg.ValidateReleases())
	assert.Equal(t, release.Window{From: "v2", To: "HEAD"}, cfg.Current())
	assert.Equal(t, []release.Window{{From: "v1", To: "v2"}}, cfg.Prior())

	require.Len(t, cfg.Sections, 1)
	assert.Equal(t, "Bugs", cfg.Sections[0].Header)
	assert.Equal(t, where.MustParse(`{"equals": {"kind": "bug"}}`), cfg.Sections[0].Where)
	assert.Equal(t, &config.Attach{Key: "seen", Value: true}, cfg.Sections[0].Attach)
}

func TestPrecedence(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	writeFile(t, filepath.Join(e.xdg, "shipit", "config.json"), `{
		"branch": "global-branch",
		"concurrency": 3,
		"tracker": {"project_id": 1, "token": "global-token"},
		"releases": [{"from": "a", "to": "b"}]
	}`)
	writeFile(t, filepath.Join(e.dir, config.ConfigFileName), `{"branch": "project-branch", "tracker": {"project_id": 2}}`)
	writeFile(t, filepath.Join(e.dir, "custom.json"), `{"branch": "custom-branch"}`)

	cfg, err := e.load(t)
	require.NoError(t, err)

	assert.Equal(t, "project-branch", cfg.Branch)
	assert.Equal(t, 3, cfg.Concurrency)
	assert.Equal(t, int64(2), cfg.Tracker.ProjectID)
	assert.Equal(t, "global-token", cfg.Tracker.Token)
	assert.Equal(t, "config", cfg.Sources.TrackerToken)
	assert.Equal(t, filepath.Join(e.xdg, "shipit", "config.json"), cfg.Sources.Global)

	cfg, err = e.load(t, func(in *config.LoadInput) {
		in.ConfigPath = "custom.json"
		in.LogLevel = "debug"
	})
	require.NoError(t, err)

	assert.Equal(t, "custom-branch", cfg.Branch)
	assert.Equal(t, int64(1), cfg.Tracker.ProjectID, "explicit file replaces the project file")
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, filepath.Join(e.dir, "custom.json"), cfg.Sources.Project)
}

func TestTokenSources(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	store := settings.Open(filepath.Join(e.xdg, "shipit", "settings.json"))
	require.NoError(t, store.Set(map[string]string{
		settings.KeyTrackerToken: "stored-tracker",
		settings.KeyFlagsToken:   "stored-flags",
	}))

	withStore := func(in *config.LoadInput) { in.Settings = store }

	cfg, err := e.load(t, withStore)
	require.NoError(t, err)
	assert.Equal(t, "stored-tracker", cfg.Tracker.Token)
	assert.Equal(t, "stored-flags", cfg.Flags.APIToken)
	assert.Equal(t, "settings", cfg.Sources.TrackerToken)

	e.vars[config.EnvTrackerToken] = "env-tracker"
	writeFile(t, filepath.Join(e.dir, config.ConfigFileName), `{"flags": {"api_token": "file-flags"}}`)

	cfg, err = e.load(t, withStore)
	require.NoError(t, err)
	assert.Equal(t, "env-tracker", cfg.Tracker.Token)
	assert.Equal(t, "env", cfg.Sources.TrackerToken)
	assert.Equal(t, "file-flags", cfg.Flags.APIToken)
	assert.Equal(t, "config", cfg.Sources.FlagsToken)
}

func TestErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		want    error
	}{
		{name: "invalid jsonc", content: `{invalid`, want: config.ErrConfigInvalid},
		{name: "unknown where command", content: `{"sections": [{"header": "X", "where": [{"greater": {"estimate": 1}}]}]}`, want: where.ErrUnknownCommand},
		{name: "bad where operand", content: `{"sections": [{"header": "X", "where": {"or": {"a": 1}}}]}`, want: where.ErrInvalidOperand},
		{name: "bad stories selector", content: `{"sections": [{"header": "X", "stories": "some", "where": []}]}`, want: config.ErrStoriesSelector},
		{name: "empty header", content: `{"sections": [{"where": []}]}`, want: config.ErrSectionHeaderEmpty},
		{name: "empty attach key", content: `{"sections": [{"header": "X", "attach": {"value": 1}}]}`, want: config.ErrAttachKeyEmpty},
		{name: "release without from", content: `{"releases": [{"to": "HEAD"}]}`, want: config.ErrReleaseFromEmpty},
		{name: "negative concurrency", content: `{"concurrency": -1}`, want: config.ErrConcurrency},
		{name: "bad log level", content: `{"log_level": "loud"}`, want: config.ErrLogLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			e := newEnv(t)
			writeFile(t, filepath.Join(e.dir, config.ConfigFileName), tt.content)

			_, err := e.load(t)
			if !errors.Is(err, tt.want) {
				t.Errorf("err=%v, want %v", err, tt.want)
			}
		})
	}
}

func TestUnknownWhereCommandNamesSection(t *testing.T) {
	t.Parallel()

	_, err := config.Parse([]byte(`{"sections": [{"header": "Risky", "where": [{"equals": {}}, {"bogus": {}}]}]}`))
	require.Error(t, err)

	got, want := err.Error(), `section "Risky": unknown where command "bogus" at where[1].bogus`
	if got != want {
		t.Errorf("err=%q\nwant=%q", got, want)
	}
}

func TestExplicitConfigNotFound(t *testing.T) {
	t.Parallel()

	e := newEnv(t)

	_, err := e.load(t, func(in *config.LoadInput) { in.ConfigPath = "missing.json" })
	assert.ErrorIs(t, err, config.ErrConfigFileNotFound)
}

func TestMergeKeepsUnsetFields(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	writeFile(t, filepath.Join(e.xdg, "shipit", "config.json"), `{
		"tracker": {"review_type_ids": {"code": [1], "qa": [2]}},
		"flags": {"app_key": "app", "environment": "Staging"},
		"upsource": {"base_url": "https://upsource.example.com", "project": "web"}
	}`)
	writeFile(t, filepath.Join(e.dir, config.ConfigFileName), `{
		"tracker": {"review_type_ids": {"qa": [3]}},
		"flags": {"environment": "Production"}
	}`)

	cfg, err := e.load(t)
	require.NoError(t, err)

	want := config.Flags{AppKey: "app", Environment: "Production"}
	if diff := cmp.Diff(want, cfg.Flags); diff != "" {
		t.Errorf("flags (-want +got):\n%s", diff)
	}

	assert.Equal(t, []int64{1}, cfg.Tracker.ReviewTypeIDs.Code)
	assert.Equal(t, []int64{3}, cfg.Tracker.ReviewTypeIDs.QA)
	assert.Equal(t, "web", cfg.Upsource.Project)
}
