package update

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsShaImageName(t *testing.T) {
	assert.True(t, isShaImageName("sha256:3f8a4339aadda5897b744682f5f774dc69991a81af8d715d37a616bb4c99edf5"))
	assert.True(t, isShaImageName("3f8a4339aadd"))

	assert.False(t, isShaImageName("nginx:latest"))
	assert.False(t, isShaImageName("nginx"))
	assert.False(t, isShaImageName("3f8a4339aad"))   // 11 chars
	assert.False(t, isShaImageName("3f8a4339aadz"))  // not hex
	assert.False(t, isShaImageName("linuxserver/x")) // 13 chars with slash
	assert.False(t, isShaImageName(""))
}

func TestRepairImageNames(t *testing.T) {
	engine := newFakeEngine()
	engine.images["nginx:1.25"] = "X"
	engine.addContainer(&fakeContainer{
		id: "c1", name: "broken", imageRef: "sha256:deadbeef", imageID: "X", running: true,
	})
	engine.addContainer(&fakeContainer{
		id: "c2", name: "fine", imageRef: "nginx:1.25", imageID: "X", running: true,
	})

	fixed, errs := newTestUpdater(t, engine).RepairImageNames(context.Background())
	assert.Empty(t, errs)
	require.Len(t, fixed, 1)
	assert.Equal(t, "broken", fixed[0].Container)
	assert.Equal(t, "sha256:deadbeef", fixed[0].OldImage)
	assert.Equal(t, "nginx:1.25", fixed[0].NewImage)

	repaired, err := engine.ContainerInspect(context.Background(), "broken")
	require.NoError(t, err)
	assert.Equal(t, "nginx:1.25", repaired.Config.Image)
	assert.True(t, repaired.State.Running)

	// The healthy container is untouched.
	assert.NotContains(t, engine.stopped, "fine")
}

// A SHA-named container whose image has no tags cannot be repaired and is
// skipped without an error.
func TestRepairSkipsUntaggedImages(t *testing.T) {
	engine := newFakeEngine()
	engine.addContainer(&fakeContainer{
		id: "c1", name: "orphan", imageRef: "sha256:deadbeef", imageID: "U", running: true,
	})

	fixed, errs := newTestUpdater(t, engine).RepairImageNames(context.Background())
	assert.Empty(t, fixed)
	assert.Empty(t, errs)
	assert.Empty(t, engine.stopped)
}

func TestRepairReportsPerContainerErrors(t *testing.T) {
	engine := newFakeEngine()
	engine.images["nginx:1.25"] = "X"
	engine.addContainer(&fakeContainer{
		id: "c1", name: "broken", imageRef: "sha256:deadbeef", imageID: "X", running: true,
	})

	failing := &failAllCreates{fakeEngine: engine}
	fixed, errs := NewUpdater(failing, "alpha", Options{
		LockDir:     t.TempDir(),
		StopTimeout: 1,
		PullTimeout: 1,
	}).RepairImageNames(context.Background())

	assert.Empty(t, fixed)
	require.Len(t, errs, 1)
	assert.Equal(t, "broken", errs[0].Container)
	assert.NotEmpty(t, errs[0].Error)
}
