package inventory

import (
	"testing"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/image"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func summaryContainer(id, imageID, imageRef string) types.Container {
	return types.Container{ID: id, ImageID: imageID, Image: imageRef}
}

func TestDetectUnusedImages(t *testing.T) {
	images := []image.Summary{
		{ID: "sha256:used", RepoTags: []string{"nginx:1.25"}, Size: 100, Created: 1000},
		{ID: "sha256:old", RepoTags: []string{"nginx:1.24"}, Size: 200, Created: 500},
	}
	containers := []types.Container{
		summaryContainer("c1", "sha256:used", "nginx:1.25"),
	}

	unused := detectUnusedImages(images, containers)
	require.Len(t, unused, 1)
	assert.Equal(t, "sha256:old", unused[0].ID)
	assert.Equal(t, []string{"nginx:1.24"}, unused[0].Tags)
	assert.Equal(t, int64(200), unused[0].Size)
	assert.False(t, unused[0].PendingUpdate)
}

// A newer image for a tag a container still runs is a pending update, not
// garbage.
func TestDetectUnusedImagesPendingUpdate(t *testing.T) {
	images := []image.Summary{
		{ID: "sha256:running", RepoTags: []string{}, Size: 100, Created: 1000},
		{ID: "sha256:fresh", RepoTags: []string{"nginx:latest"}, Size: 150, Created: 2000},
	}
	containers := []types.Container{
		summaryContainer("c1", "sha256:running", "nginx:latest"),
	}

	unused := detectUnusedImages(images, containers)
	require.Len(t, unused, 1)
	assert.Equal(t, "sha256:fresh", unused[0].ID)
	assert.True(t, unused[0].PendingUpdate)
}

func TestDetectUnusedImagesOlderSameTagIsNotPending(t *testing.T) {
	images := []image.Summary{
		{ID: "sha256:running", RepoTags: []string{}, Size: 100, Created: 2000},
		{ID: "sha256:stale", RepoTags: []string{"nginx:latest"}, Size: 150, Created: 1000},
	}
	containers := []types.Container{
		summaryContainer("c1", "sha256:running", "nginx:latest"),
	}

	unused := detectUnusedImages(images, containers)
	require.Len(t, unused, 1)
	assert.False(t, unused[0].PendingUpdate)
}

func TestDetectUnusedImagesTagFallbacks(t *testing.T) {
	images := []image.Summary{
		{ID: "sha256:digested", RepoDigests: []string{"ghcr.io/org/app@sha256:abc"}, Size: 10, Created: 1},
		{ID: "sha256:dangling", Size: 20, Created: 1},
		{ID: "sha256:nonetag", RepoTags: []string{"<none>:<none>"}, Size: 30, Created: 1},
	}

	unused := detectUnusedImages(images, nil)
	require.Len(t, unused, 3)

	byID := map[string]UnusedImage{}
	for _, img := range unused {
		byID[img.ID] = img
	}
	assert.Equal(t, []string{"ghcr.io/org/app:<none>"}, byID["sha256:digested"].Tags)
	assert.Equal(t, []string{"<none>:<none>"}, byID["sha256:dangling"].Tags)
	assert.Equal(t, []string{"<none>:<none>"}, byID["sha256:nonetag"].Tags)
}

func TestDetectUnusedImagesUntaggedDefaultsToLatest(t *testing.T) {
	// A container declared as "nginx" runs nginx:latest; an unused image
	// tagged nginx:latest and newer counts as pending.
	images := []image.Summary{
		{ID: "sha256:running", Size: 100, Created: 1000},
		{ID: "sha256:fresh", RepoTags: []string{"nginx:latest"}, Size: 150, Created: 2000},
	}
	containers := []types.Container{
		summaryContainer("c1", "sha256:running", "nginx"),
	}

	unused := detectUnusedImages(images, containers)
	require.Len(t, unused, 1)
	assert.True(t, unused[0].PendingUpdate)
}

func TestDetectUnusedImagesAllUsed(t *testing.T) {
	images := []image.Summary{
		{ID: "sha256:a", RepoTags: []string{"a:1"}},
		{ID: "sha256:b", RepoTags: []string{"b:1"}},
	}
	containers := []types.Container{
		summaryContainer("c1", "sha256:a", "a:1"),
		summaryContainer("c2", "sha256:b", "b:1"),
	}

	assert.Empty(t, detectUnusedImages(images, containers))
}
