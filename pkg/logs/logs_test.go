package logs

import (
	"context"
	"encoding/binary"
	"io"
	"strings"
	"testing"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dockpeek/dockpeek/pkg/log"
)

func init() {
	log.Init(log.Config{Level: log.ErrorLevel})
}

// muxFrame wraps payload in one engine log-stream frame (stream 1 =
// stdout).
func muxFrame(payload string) []byte {
	frame := make([]byte, 8+len(payload))
	frame[0] = 1
	binary.BigEndian.PutUint32(frame[4:8], uint32(len(payload)))
	copy(frame[8:], payload)
	return frame
}

type fakeLogClient struct {
	tty        bool
	container  []byte
	service    []byte
	err        error
	lastOpts   container.LogsOptions
	inspectErr error
}

func (f *fakeLogClient) ContainerInspect(_ context.Context, _ string) (types.ContainerJSON, error) {
	if f.inspectErr != nil {
		return types.ContainerJSON{}, f.inspectErr
	}
	return types.ContainerJSON{
		ContainerJSONBase: &types.ContainerJSONBase{},
		Config:            &container.Config{Tty: f.tty},
	}, nil
}

func (f *fakeLogClient) ContainerLogs(_ context.Context, _ string, options container.LogsOptions) (io.ReadCloser, error) {
	f.lastOpts = options
	if f.err != nil {
		return nil, f.err
	}
	return io.NopCloser(strings.NewReader(string(f.container))), nil
}

func (f *fakeLogClient) ServiceLogs(_ context.Context, _ string, options container.LogsOptions) (io.ReadCloser, error) {
	f.lastOpts = options
	if f.err != nil {
		return nil, f.err
	}
	return io.NopCloser(strings.NewReader(string(f.service))), nil
}

func TestContainerLogsDemuxed(t *testing.T) {
	cli := &fakeLogClient{
		container: append(muxFrame("line one\n"), muxFrame("line two\n")...),
	}

	result := NewFetcher().ContainerLogs(context.Background(), cli, "web", 500)
	require.True(t, result.Success)
	assert.Equal(t, "line one\nline two\n", result.Logs)
	assert.Equal(t, 2, result.Lines)
	assert.Equal(t, "web", result.ContainerName)

	assert.Equal(t, "500", cli.lastOpts.Tail)
	assert.True(t, cli.lastOpts.Timestamps)
	assert.False(t, cli.lastOpts.Follow)
}

func TestContainerLogsTTYPassthrough(t *testing.T) {
	cli := &fakeLogClient{
		tty:       true,
		container: []byte("raw tty line\n"),
	}

	result := NewFetcher().ContainerLogs(context.Background(), cli, "web", 100)
	require.True(t, result.Success)
	assert.Equal(t, "raw tty line\n", result.Logs)
	assert.Equal(t, 1, result.Lines)
}

func TestContainerLogsError(t *testing.T) {
	cli := &fakeLogClient{err: io.ErrUnexpectedEOF}

	result := NewFetcher().ContainerLogs(context.Background(), cli, "ghost", 100)
	assert.False(t, result.Success)
	assert.Equal(t, "ghost", result.ContainerName)
	assert.NotEmpty(t, result.Error)
}

func TestServiceLogsRequestsDetails(t *testing.T) {
	cli := &fakeLogClient{service: muxFrame("svc line\n")}

	result := NewFetcher().ServiceLogs(context.Background(), cli, "websvc", 200)
	require.True(t, result.Success)
	assert.Equal(t, "svc line\n", result.Logs)
	assert.True(t, cli.lastOpts.Details)
	assert.Equal(t, "200", cli.lastOpts.Tail)
}

func TestStreamContainerLogsEmitsLines(t *testing.T) {
	cli := &fakeLogClient{
		container: append(muxFrame("a\n"), muxFrame("b\nc\n")...),
	}

	var lines []string
	err := NewFetcher().StreamContainerLogs(context.Background(), cli, "web", 100, func(line string) error {
		lines = append(lines, line)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, lines)
	assert.True(t, cli.lastOpts.Follow)
}

func TestStreamStopsWhenEmitFails(t *testing.T) {
	cli := &fakeLogClient{
		container: append(muxFrame("a\n"), muxFrame("b\n")...),
	}

	count := 0
	err := NewFetcher().StreamContainerLogs(context.Background(), cli, "web", 100, func(string) error {
		count++
		return io.ErrClosedPipe
	})
	require.Error(t, err)
	assert.Equal(t, 1, count)
}

func TestCountLines(t *testing.T) {
	assert.Equal(t, 0, countLines(""))
	assert.Equal(t, 1, countLines("one\n"))
	assert.Equal(t, 1, countLines("no trailing newline"))
	assert.Equal(t, 3, countLines("a\nb\nc\n"))
}
