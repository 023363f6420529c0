package version

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dockpeek/dockpeek/pkg/cache"
	"github.com/dockpeek/dockpeek/pkg/log"
)

func init() {
	log.Init(log.Config{Level: log.ErrorLevel})
}

type stubLister struct {
	tags  map[string][]string
	calls int
}

func (s *stubLister) Tags(ref Reference) []string {
	s.calls++
	return s.tags[ref.FullName()]
}

func newTestChecker(t *testing.T, lister TagLister) *Checker {
	t.Helper()
	c := cache.New(filepath.Join(t.TempDir(), "version_cache.json"), time.Hour)
	return NewChecker(lister, c)
}

func TestCheckForNewerStableCurrent(t *testing.T) {
	lister := &stubLister{tags: map[string][]string{
		"linuxserver/sonarr": {"4.0.18", "4.0.19-beta", "4.0.19", "develop", "5.0.0-windowsservercore"},
	}}
	ch := newTestChecker(t, lister)

	info := ch.CheckForNewer("linuxserver/sonarr:4.0.17")
	require.NotNil(t, info)
	assert.Equal(t, "4.0.19", info.Tag)
	assert.True(t, info.IsNewer)
	assert.True(t, info.IsStable)
}

func TestCheckForNewerDateToSemanticMigration(t *testing.T) {
	lister := &stubLister{tags: map[string][]string{
		"library/someapp": {"2022.01.01", "1.0.0"},
	}}
	ch := newTestChecker(t, lister)

	info := ch.CheckForNewer("someapp:2021.12.16")
	require.NotNil(t, info)
	assert.Equal(t, "1.0.0", info.Tag)
}

func TestCheckForNewerCachesPositiveResult(t *testing.T) {
	lister := &stubLister{tags: map[string][]string{
		"library/nginx": {"1.26.0", "1.27.0"},
	}}
	ch := newTestChecker(t, lister)

	first := ch.CheckForNewer("nginx:1.25.0")
	require.NotNil(t, first)
	second := ch.CheckForNewer("nginx:1.25.0")
	require.NotNil(t, second)
	assert.Equal(t, first.Tag, second.Tag)
	assert.Equal(t, 1, lister.calls)
}

func TestCheckForNewerCachesNegativeResult(t *testing.T) {
	lister := &stubLister{tags: map[string][]string{
		"library/nginx": {"1.24.0", "1.25.0"},
	}}
	ch := newTestChecker(t, lister)

	assert.Nil(t, ch.CheckForNewer("nginx:1.25.0"))
	assert.Nil(t, ch.CheckForNewer("nginx:1.25.0"))
	assert.Equal(t, 1, lister.calls, "negative outcome should be served from cache")
}

func TestCheckForNewerEmptyTagListNotCached(t *testing.T) {
	lister := &stubLister{tags: map[string][]string{}}
	ch := newTestChecker(t, lister)

	assert.Nil(t, ch.CheckForNewer("nginx:1.25.0"))
	assert.Nil(t, ch.CheckForNewer("nginx:1.25.0"))
	assert.Equal(t, 2, lister.calls, "transient registry failures are retried")
}

func TestSelectNewestUnstableFilterFixedPoints(t *testing.T) {
	tags := []string{"4.0.18", "4.0.19-beta.1", "4.0.19"}

	// Stable current: unstable candidates are dropped.
	current := mustParse(t, "4.0.17")
	info := selectNewest("4.0.17", current, tags)
	require.NotNil(t, info)
	assert.Equal(t, "4.0.19", info.Tag)

	// Unstable current: unstable candidates are retained, but stable
	// candidates still sort first.
	currentBeta := mustParse(t, "4.0.17-beta.2")
	info = selectNewest("4.0.17-beta.2", currentBeta, tags)
	require.NotNil(t, info)
	assert.Equal(t, "4.0.19", info.Tag, "stable still sorts first")

	onlyBeta := selectNewest("4.0.17-beta.2", currentBeta, []string{"4.0.19-beta.1"})
	require.NotNil(t, onlyBeta)
	assert.Equal(t, "4.0.19-beta.1", onlyBeta.Tag)

	assert.Nil(t, selectNewest("4.0.17", current, []string{"4.0.19-beta.1"}))
}

func TestSelectNewestPlatformFilterFixedPoints(t *testing.T) {
	current := mustParse(t, "1.25.0")
	assert.Nil(t, selectNewest("1.25.0", current, []string{"1.26.0-alpine"}))

	currentAlpine := mustParse(t, "1.25.0-alpine")
	info := selectNewest("1.25.0-alpine", currentAlpine, []string{"1.26.0-alpine"})
	require.NotNil(t, info)
	assert.Equal(t, "1.26.0-alpine", info.Tag)
}

func TestSelectNewestSegmentCountRule(t *testing.T) {
	current := mustParse(t, "5.14.0.9383-ls272")

	assert.Nil(t, selectNewest("5.14.0.9383-ls272", current, []string{"5.15"}))

	info := selectNewest("5.14.0.9383-ls272", current, []string{"5.15", "5.14.0.9384-ls272"})
	require.NotNil(t, info)
	assert.Equal(t, "5.14.0.9384-ls272", info.Tag)
}

func TestSelectNewestRejectsCompoundSuffix(t *testing.T) {
	current := mustParse(t, "5.14.0")
	assert.Nil(t, selectNewest("5.14.0", current, []string{"5.15.0-2.0.0.5344-ls5"}))
}

func TestCachedOnlyReturnsNewer(t *testing.T) {
	lister := &stubLister{tags: map[string][]string{
		"library/nginx": {"1.24.0"},
	}}
	ch := newTestChecker(t, lister)

	// Negative entry cached: Cached reports nothing without registry calls.
	ch.CheckForNewer("nginx:1.25.0")
	calls := lister.calls
	assert.Nil(t, ch.Cached("nginx:1.25.0"))
	assert.Equal(t, calls, lister.calls)
}

func TestAvailableVersionsOrderingAndLimit(t *testing.T) {
	lister := &stubLister{tags: map[string][]string{
		"library/app": {"1.0.0", "2.0.0", "1.5.0-beta.1", "2021.06.01", "3.0.0"},
	}}
	ch := newTestChecker(t, lister)

	versions := ch.AvailableVersions("app:1.0.0", 3)
	require.Len(t, versions, 3)
	assert.Equal(t, "3.0.0", versions[0].Tag)
	assert.Equal(t, "2.0.0", versions[1].Tag)
	assert.Equal(t, "1.0.0", versions[2].Tag)
}

func TestParseReference(t *testing.T) {
	tests := []struct {
		image      string
		registry   string
		repository string
		tag        string
		kind       Kind
	}{
		{"nginx:latest", "docker.io", "library/nginx", "latest", KindHub},
		{"nginx", "docker.io", "library/nginx", "latest", KindHub},
		{"linuxserver/plex:1.41.3", "docker.io", "linuxserver/plex", "1.41.3", KindHub},
		{"ghcr.io/user/repo:v1", "ghcr.io", "user/repo", "v1", KindGhcr},
		{"lscr.io/linuxserver/sonarr:4.0.17", "lscr.io", "linuxserver/sonarr", "4.0.17", KindLscr},
		{"gcr.io/project/image", "gcr.io", "project/image", "latest", KindGcr},
		{"quay.io/org/tool:2.0", "quay.io", "org/tool", "2.0", KindQuay},
		{"registry.example.com/team/app:1.2", "registry.example.com", "team/app", "1.2", KindGenericV2},
		{"localhost:5000/repo", "localhost:5000", "repo", "latest", KindGenericV2},
	}

	for _, tt := range tests {
		t.Run(tt.image, func(t *testing.T) {
			ref := ParseReference(tt.image)
			assert.Equal(t, tt.registry, ref.Registry)
			assert.Equal(t, tt.repository, ref.Repository)
			assert.Equal(t, tt.tag, ref.Tag)
			assert.Equal(t, tt.kind, ref.Kind)
		})
	}
}

func TestNextPageURL(t *testing.T) {
	assert.Equal(t,
		"https://ghcr.io/v2/user/repo/tags/list?last=abc&n=1000",
		nextPageURL(`</v2/user/repo/tags/list?last=abc&n=1000>; rel="next"`, "https://ghcr.io"))
	assert.Equal(t,
		"https://ghcr.io/v2/x/tags/list?last=z",
		nextPageURL(`<https://ghcr.io/v2/x/tags/list?last=z>; rel="next"`, "https://ghcr.io"))
	assert.Empty(t, nextPageURL(`</v2/x>; rel="prev"`, "https://ghcr.io"))
	assert.Empty(t, nextPageURL("", "https://ghcr.io"))
}
