package update

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type notFoundErr struct{ msg string }

func (e notFoundErr) Error() string { return e.msg }
func (e notFoundErr) NotFound()     {}

type fakeContainer struct {
	id          string
	name        string
	imageRef    string
	imageID     string
	running     bool
	labels      map[string]string
	networkMode string
}

// fakeEngine is an in-memory engine client covering the updater's surface.
type fakeEngine struct {
	mu         sync.Mutex
	containers map[string]*fakeContainer // keyed by id
	images     map[string]string         // ref -> image id

	pulled          []string
	stopped         []string
	removed         []string
	created         []string
	failCreateImage string
	nextID          int
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		containers: make(map[string]*fakeContainer),
		images:     make(map[string]string),
	}
}

func (f *fakeEngine) addContainer(c *fakeContainer) {
	f.containers[c.id] = c
}

func (f *fakeEngine) find(nameOrID string) *fakeContainer {
	if c, ok := f.containers[nameOrID]; ok {
		return c
	}
	for _, c := range f.containers {
		if c.name == nameOrID {
			return c
		}
	}
	return nil
}

func (f *fakeEngine) tagsFor(imageID string) []string {
	var tags []string
	for ref, id := range f.images {
		if id == imageID {
			tags = append(tags, ref)
		}
	}
	return tags
}

func (f *fakeEngine) ContainerInspect(_ context.Context, nameOrID string) (types.ContainerJSON, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	c := f.find(nameOrID)
	if c == nil {
		return types.ContainerJSON{}, notFoundErr{msg: "No such container: " + nameOrID}
	}

	status := "exited"
	if c.running {
		status = "running"
	}
	return types.ContainerJSON{
		ContainerJSONBase: &types.ContainerJSONBase{
			ID:    c.id,
			Name:  "/" + c.name,
			Image: c.imageID,
			State: &types.ContainerState{Status: status, Running: c.running},
			HostConfig: &container.HostConfig{
				NetworkMode: container.NetworkMode(c.networkMode),
			},
		},
		Config: &container.Config{
			Image:  c.imageRef,
			Labels: c.labels,
		},
		NetworkSettings: &types.NetworkSettings{
			Networks: map[string]*network.EndpointSettings{},
		},
	}, nil
}

func (f *fakeEngine) ContainerList(_ context.Context, _ container.ListOptions) ([]types.Container, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []types.Container
	for _, c := range f.containers {
		summary := types.Container{ID: c.id, Names: []string{"/" + c.name}}
		summary.HostConfig.NetworkMode = c.networkMode
		out = append(out, summary)
	}
	return out, nil
}

func (f *fakeEngine) ImagePull(_ context.Context, ref string, _ types.ImagePullOptions) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.pulled = append(f.pulled, ref)
	if _, ok := f.images[ref]; !ok {
		f.images[ref] = "pulled-" + ref
	}
	return io.NopCloser(strings.NewReader("{}")), nil
}

func (f *fakeEngine) ImageInspectWithRaw(_ context.Context, ref string) (types.ImageInspect, []byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if id, ok := f.images[ref]; ok {
		return types.ImageInspect{ID: id, RepoTags: f.tagsFor(id)}, nil, nil
	}
	// Lookup by raw image id.
	for _, id := range f.images {
		if id == ref {
			return types.ImageInspect{ID: id, RepoTags: f.tagsFor(id)}, nil, nil
		}
	}
	return types.ImageInspect{ID: ref, RepoTags: f.tagsFor(ref)}, nil, nil
}

func (f *fakeEngine) ContainerStop(_ context.Context, id string, _ container.StopOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	c := f.find(id)
	if c == nil {
		return notFoundErr{msg: "No such container: " + id}
	}
	c.running = false
	f.stopped = append(f.stopped, c.name)
	return nil
}

func (f *fakeEngine) ContainerKill(_ context.Context, id, _ string) error {
	return f.ContainerStop(context.Background(), id, container.StopOptions{})
}

func (f *fakeEngine) ContainerRemove(_ context.Context, id string, _ container.RemoveOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	c := f.find(id)
	if c == nil {
		return notFoundErr{msg: "No such container: " + id}
	}
	delete(f.containers, c.id)
	f.removed = append(f.removed, c.name)
	return nil
}

func (f *fakeEngine) ContainerRename(_ context.Context, id, newName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	c := f.find(id)
	if c == nil {
		return notFoundErr{msg: "No such container: " + id}
	}
	c.name = newName
	return nil
}

func (f *fakeEngine) ContainerCreate(_ context.Context, cfg *container.Config, hostCfg *container.HostConfig, _ *network.NetworkingConfig, _ *ocispec.Platform, name string) (container.CreateResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failCreateImage != "" && cfg.Image == f.failCreateImage {
		return container.CreateResponse{}, fmt.Errorf("create failed for %s", cfg.Image)
	}

	f.nextID++
	id := fmt.Sprintf("created-%d", f.nextID)
	imageID := f.images[cfg.Image]
	if imageID == "" {
		imageID = cfg.Image
	}

	networkMode := ""
	if hostCfg != nil {
		networkMode = string(hostCfg.NetworkMode)
	}
	f.containers[id] = &fakeContainer{
		id:          id,
		name:        name,
		imageRef:    cfg.Image,
		imageID:     imageID,
		labels:      cfg.Labels,
		networkMode: networkMode,
	}
	f.created = append(f.created, name)
	return container.CreateResponse{ID: id}, nil
}

func (f *fakeEngine) ContainerStart(_ context.Context, id string, _ container.StartOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	c := f.find(id)
	if c == nil {
		return notFoundErr{msg: "No such container: " + id}
	}
	c.running = true
	return nil
}

func (f *fakeEngine) NetworkConnect(_ context.Context, _, _ string, _ *network.EndpointSettings) error {
	return nil
}

func newTestUpdater(t *testing.T, engine *fakeEngine) *Updater {
	t.Helper()
	return NewUpdater(engine, "alpha", Options{
		LockDir:     t.TempDir(),
		StopTimeout: time.Second,
		PullTimeout: time.Minute,
	})
}

// A pull that resolves the tag to the running image id performs no
// stop/remove and reports "already up to date".
func TestUpdateIdempotence(t *testing.T) {
	engine := newFakeEngine()
	engine.images["nginx:latest"] = "X"
	engine.addContainer(&fakeContainer{
		id: "c1", name: "web", imageRef: "nginx:latest", imageID: "X", running: true,
	})

	result, err := newTestUpdater(t, engine).Update(context.Background(), "web", false, "")
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, result.Status)
	assert.Contains(t, result.Message, "already up to date")

	assert.Empty(t, engine.stopped)
	assert.Empty(t, engine.removed)
	assert.Equal(t, []string{"nginx:latest"}, engine.pulled)

	ctr, err := engine.ContainerInspect(context.Background(), "web")
	require.NoError(t, err)
	assert.Equal(t, "X", ctr.Image)
	assert.True(t, ctr.State.Running)
}

func TestUpdateReplacesContainer(t *testing.T) {
	engine := newFakeEngine()
	engine.images["nginx:latest"] = "X"
	engine.addContainer(&fakeContainer{
		id: "c1", name: "web", imageRef: "nginx:latest", imageID: "X", running: true,
	})

	// The registry moved the tag.
	engine.images["nginx:latest"] = "Y"

	result, err := newTestUpdater(t, engine).Update(context.Background(), "web", false, "")
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, result.Status)

	assert.Equal(t, []string{"web"}, engine.stopped)
	assert.Equal(t, []string{"web"}, engine.removed)
	assert.Equal(t, []string{"web"}, engine.created)

	ctr, err := engine.ContainerInspect(context.Background(), "web")
	require.NoError(t, err)
	assert.Equal(t, "Y", ctr.Image)
	assert.True(t, ctr.State.Running)
}

// When the new create fails, the container is recreated from the original
// image, the call errors with a restoration notice, and the final container
// runs image X again.
func TestUpdateRollback(t *testing.T) {
	engine := newFakeEngine()
	engine.images["nginx:latest"] = "Y"
	engine.failCreateImage = "nginx:latest"
	engine.addContainer(&fakeContainer{
		id: "c1", name: "web", imageRef: "nginx:latest", imageID: "X", running: true,
	})

	result, err := newTestUpdater(t, engine).Update(context.Background(), "web", false, "")
	require.Error(t, err)
	assert.Equal(t, StatusError, result.Status)
	assert.Contains(t, result.Message, "original container restored")
	assert.NotErrorIs(t, err, ErrRollbackFailed)

	ctr, inspectErr := engine.ContainerInspect(context.Background(), "web")
	require.NoError(t, inspectErr)
	assert.Equal(t, "X", ctr.Image)
	assert.True(t, ctr.State.Running)
}

func TestUpdateRollbackFailure(t *testing.T) {
	engine := newFakeEngine()
	engine.images["nginx:latest"] = "Y"
	engine.addContainer(&fakeContainer{
		id: "c1", name: "web", imageRef: "nginx:latest", imageID: "X", running: true,
	})

	// Every create fails: the replacement create and the restoration create.
	failing := &failAllCreates{fakeEngine: engine}

	result, err := NewUpdater(failing, "alpha", Options{
		LockDir:     t.TempDir(),
		StopTimeout: time.Second,
		PullTimeout: time.Minute,
	}).Update(context.Background(), "web", false, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRollbackFailed)
	assert.Equal(t, StatusError, result.Status)
	assert.Contains(t, result.Message, "manual intervention required for 'web'")
}

type failAllCreates struct {
	*fakeEngine
}

func (f *failAllCreates) ContainerCreate(_ context.Context, cfg *container.Config, _ *container.HostConfig, _ *network.NetworkingConfig, _ *ocispec.Platform, _ string) (container.CreateResponse, error) {
	return container.CreateResponse{}, fmt.Errorf("create failed for %s", cfg.Image)
}

func TestUpdateBlockedByLabel(t *testing.T) {
	for _, action := range []string{"skip", "pin"} {
		t.Run(action, func(t *testing.T) {
			engine := newFakeEngine()
			engine.addContainer(&fakeContainer{
				id: "c1", name: "web", imageRef: "nginx:latest", imageID: "X", running: true,
				labels: map[string]string{updateActionLabel: action},
			})

			result, err := newTestUpdater(t, engine).Update(context.Background(), "web", false, "")
			require.NoError(t, err)
			assert.Equal(t, StatusBlocked, result.Status)
			assert.Contains(t, result.Message, action)
			assert.Empty(t, engine.pulled, "blocked updates never touch the registry")
		})
	}
}

func TestUpdateInProgress(t *testing.T) {
	engine := newFakeEngine()
	engine.addContainer(&fakeContainer{
		id: "c1", name: "web", imageRef: "nginx:latest", imageID: "X", running: true,
	})

	lockDir := t.TempDir()
	held, err := NewContainerLock(lockDir, "web")
	require.NoError(t, err)
	require.True(t, held.TryAcquire())
	defer held.Release()

	updater := NewUpdater(engine, "alpha", Options{LockDir: lockDir})
	result, err := updater.Update(context.Background(), "web", false, "")
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, result.Status)
	assert.Empty(t, engine.pulled)
}

func TestUpdateMissingContainer(t *testing.T) {
	engine := newFakeEngine()

	result, err := newTestUpdater(t, engine).Update(context.Background(), "ghost", false, "")
	require.Error(t, err)
	assert.Equal(t, StatusError, result.Status)
	assert.Contains(t, result.Message, "not found")
}

func TestExtractConfigStripsStaleComposeLabel(t *testing.T) {
	ctr := types.ContainerJSON{
		ContainerJSONBase: &types.ContainerJSONBase{
			Name: "/web",
			HostConfig: &container.HostConfig{
				NetworkMode: "bridge",
			},
		},
		Config: &container.Config{
			Hostname: "web-host",
			Labels: map[string]string{
				composeProjectLabel:              "mystack",
				composeImageLabel:                "nginx@sha256:stale",
				"com.docker.compose.config-hash": "abc123",
			},
		},
	}

	cfg := ExtractConfig(ctr, true)
	assert.Equal(t, "web", cfg.Name)
	assert.Equal(t, "web-host", cfg.Config.Hostname)
	assert.NotContains(t, cfg.Config.Labels, composeImageLabel)
	assert.Equal(t, "abc123", cfg.Config.Labels["com.docker.compose.config-hash"],
		"config-hash must survive so compose keeps managing the container")
	assert.Equal(t, "mystack", cfg.Config.Labels[composeProjectLabel])
}

func TestExtractConfigKeepsLabelsWithoutStrip(t *testing.T) {
	ctr := types.ContainerJSON{
		ContainerJSONBase: &types.ContainerJSONBase{
			Name:       "/web",
			HostConfig: &container.HostConfig{NetworkMode: "bridge"},
		},
		Config: &container.Config{
			Labels: map[string]string{
				composeProjectLabel: "mystack",
				composeImageLabel:   "nginx@sha256:stale",
			},
		},
	}

	cfg := ExtractConfig(ctr, false)
	assert.Contains(t, cfg.Config.Labels, composeImageLabel)
}

func TestExtractConfigDropsHostnameInContainerNetworkMode(t *testing.T) {
	ctr := types.ContainerJSON{
		ContainerJSONBase: &types.ContainerJSONBase{
			Name:       "/dep",
			HostConfig: &container.HostConfig{NetworkMode: "container:abc"},
		},
		Config: &container.Config{Hostname: "should-not-survive"},
	}

	cfg := ExtractConfig(ctr, false)
	assert.Empty(t, cfg.Config.Hostname)
	assert.Equal(t, container.NetworkMode("container:abc"), cfg.Host.NetworkMode)
}

func TestDependentDiscoveryAndRecreation(t *testing.T) {
	engine := newFakeEngine()
	engine.images["nginx:latest"] = "X"
	engine.images["sidecar:1.0"] = "S"
	engine.addContainer(&fakeContainer{
		id: "c1", name: "web", imageRef: "nginx:latest", imageID: "X", running: true,
	})
	engine.addContainer(&fakeContainer{
		id: "c2", name: "side", imageRef: "sidecar:1.0", imageID: "S", running: true,
		networkMode: "container:web",
	})

	engine.images["nginx:latest"] = "Y"

	result, err := newTestUpdater(t, engine).Update(context.Background(), "web", false, "")
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, result.Status)
	assert.Contains(t, result.Message, "recreated 1 dependent")

	side, err := engine.ContainerInspect(context.Background(), "side")
	require.NoError(t, err)
	assert.True(t, side.State.Running)

	web, err := engine.ContainerInspect(context.Background(), "web")
	require.NoError(t, err)
	assert.Equal(t, "container:"+web.ID, string(side.HostConfig.NetworkMode),
		"dependent is re-pointed at the new target id")
}
