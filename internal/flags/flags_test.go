package flags_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/shipit/internal/flags"
	"github.com/calvinalkan/shipit/internal/story"
)

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		description string
		want        []string
	}{
		{name: "empty", description: "", want: nil},
		{name: "single", description: "Behind checkout.newFlow for now", want: []string{"checkout.newFlow"}},
		{name: "start and end", description: "checkout.newFlow", want: []string{"checkout.newFlow"}},
		{name: "several lines", description: "checkout.newFlow\nsearch.v2 (beta)", want: []string{"checkout.newFlow", "search.v2"}},
		{name: "comma separated", description: "flags: checkout.newFlow, search.v2", want: []string{"checkout.newFlow", "search.v2"}},
		{name: "duplicates collapse", description: "checkout.newFlow and checkout.newFlow", want: []string{"checkout.newFlow"}},
		{name: "file extensions ignored", description: "see app.js and build.gradle and Main.java or main.kt", want: nil},
		{name: "extension case insensitive", description: "open bundle.jS", want: nil},
		{name: "hooks path ignored", description: "set core.hooksPath first", want: nil},
		{name: "urls ignored", description: "https://example.com/docs", want: nil},
		{name: "uppercase container ignored", description: "Checkout.flow", want: nil},
		{name: "question mark ignored", description: "what?checkout.flow", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var got []string
			for _, f := range (flags.Parser{}).Parse(tt.description) {
				got = append(got, f.FullName)
			}

			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("flags (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseSplitsNameAndBuildsURL(t *testing.T) {
	t.Parallel()

	got := flags.Parser{AppKey: "app1"}.Parse("uses checkout.newFlow")
	require.Len(t, got, 1)

	want := story.Flag{
		FullName:  "checkout.newFlow",
		Container: "checkout",
		Name:      "newFlow",
		URL:       "https://app.rollout.io/app/app1/flags?filter=checkout.newFlow",
	}
	assert.Equal(t, want, got[0])

	custom := flags.Parser{AppKey: "k", URLTemplate: "https://flags.internal/{app}/{name}"}.Parse("uses checkout.newFlow")
	require.Len(t, custom, 1)
	assert.Equal(t, "https://flags.internal/k/checkout.newFlow", custom[0].URL)
}

func TestNewValidatesOptions(t *testing.T) {
	t.Parallel()

	_, err := flags.New(context.Background(), flags.Options{AppKey: "a"})
	require.ErrorIs(t, err, flags.ErrTokenRequired)

	_, err = flags.New(context.Background(), flags.Options{Token: "t"})
	require.ErrorIs(t, err, flags.ErrAppKeyRequired)
}

func TestStates(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			http.Error(w, "bad auth "+r.Header.Get("Authorization"), http.StatusForbidden)

			return
		}

		if r.URL.Path != "/public-api/applications/app1/Production/flags" {
			http.Error(w, "bad path "+r.URL.Path, http.StatusNotFound)

			return
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"name":"checkout.newFlow","enabled":true},{"name":"search.v2","enabled":false}]`))
	}))
	t.Cleanup(srv.Close)

	c, err := flags.New(context.Background(), flags.Options{
		BaseURL:    srv.URL,
		AppKey:     "app1",
		Token:      "tok",
		HTTPClient: srv.Client(),
	})
	require.NoError(t, err)

	states, err := c.States(context.Background())
	require.NoError(t, err)

	assert.Equal(t, map[string]bool{"checkout.newFlow": true, "search.v2": false}, states)
}

func TestStatesRequestFailed(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	c, err := flags.New(context.Background(), flags.Options{BaseURL: srv.URL, AppKey: "a", Token: "t", Environment: "Staging"})
	require.NoError(t, err)

	_, err = c.States(context.Background())
	require.ErrorIs(t, err, flags.ErrRequestFailed)
}

func TestApply(t *testing.T) {
	t.Parallel()

	s := &story.Story{Flags: []story.Flag{{FullName: "a.on"}, {FullName: "a.unknown", Enabled: true}}}

	flags.Apply([]*story.Story{s}, map[string]bool{"a.on": true})

	assert.True(t, s.Flags[0].Enabled)
	assert.False(t, s.Flags[1].Enabled)
}
