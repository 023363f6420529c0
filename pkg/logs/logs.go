package logs

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/rs/zerolog"

	"github.com/dockpeek/dockpeek/pkg/log"
)

// Client is the slice of the engine client the log fetcher uses.
type Client interface {
	ContainerInspect(ctx context.Context, containerID string) (types.ContainerJSON, error)
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ServiceLogs(ctx context.Context, serviceID string, options container.LogsOptions) (io.ReadCloser, error)
}

// Result is one log fetch, successful or not.
type Result struct {
	Success       bool   `json:"success"`
	Logs          string `json:"logs,omitempty"`
	ContainerName string `json:"container_name"`
	Lines         int    `json:"lines,omitempty"`
	Error         string `json:"error,omitempty"`
}

// Fetcher reads container and cluster-service logs from an engine.
type Fetcher struct {
	logger zerolog.Logger
}

// NewFetcher creates a log fetcher.
func NewFetcher() *Fetcher {
	return &Fetcher{logger: log.WithComponent("logs")}
}

func logOptions(tail int, follow bool, details bool) container.LogsOptions {
	return container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Timestamps: true,
		Follow:     follow,
		Details:    details,
		Tail:       strconv.Itoa(tail),
	}
}

// demux copies the engine's log stream into dst. Containers without a TTY
// multiplex stdout/stderr and need the frame headers stripped.
func demux(dst io.Writer, src io.Reader, tty bool) error {
	if tty {
		_, err := io.Copy(dst, src)
		return err
	}
	_, err := stdcopy.StdCopy(dst, dst, src)
	return err
}

// ContainerLogs fetches up to tail timestamped lines from one container.
func (f *Fetcher) ContainerLogs(ctx context.Context, cli Client, containerName string, tail int) Result {
	tty := false
	if inspect, err := cli.ContainerInspect(ctx, containerName); err == nil && inspect.Config != nil {
		tty = inspect.Config.Tty
	}

	reader, err := cli.ContainerLogs(ctx, containerName, logOptions(tail, false, false))
	if err != nil {
		f.logger.Error().Err(err).Str("container", containerName).Msg("error fetching container logs")
		return Result{ContainerName: containerName, Error: err.Error()}
	}
	defer reader.Close()

	var buf bytes.Buffer
	if err := demux(&buf, reader, tty); err != nil {
		f.logger.Error().Err(err).Str("container", containerName).Msg("error reading container logs")
		return Result{ContainerName: containerName, Error: err.Error()}
	}

	text := buf.String()
	return Result{
		Success:       true,
		Logs:          text,
		ContainerName: containerName,
		Lines:         countLines(text),
	}
}

// ServiceLogs fetches up to tail timestamped lines from one cluster
// service, across all its tasks.
func (f *Fetcher) ServiceLogs(ctx context.Context, cli Client, serviceName string, tail int) Result {
	reader, err := cli.ServiceLogs(ctx, serviceName, logOptions(tail, false, true))
	if err != nil {
		f.logger.Error().Err(err).Str("service", serviceName).Msg("error fetching service logs")
		return Result{ContainerName: serviceName, Error: err.Error()}
	}
	defer reader.Close()

	var buf bytes.Buffer
	if err := demux(&buf, reader, false); err != nil {
		f.logger.Error().Err(err).Str("service", serviceName).Msg("error reading service logs")
		return Result{ContainerName: serviceName, Error: err.Error()}
	}

	text := buf.String()
	return Result{
		Success:       true,
		Logs:          text,
		ContainerName: serviceName,
		Lines:         countLines(text),
	}
}

// StreamContainerLogs follows one container's log, invoking emit per line
// until the stream ends, emit errors, or ctx is cancelled.
func (f *Fetcher) StreamContainerLogs(ctx context.Context, cli Client, containerName string, tail int, emit func(line string) error) error {
	tty := false
	if inspect, err := cli.ContainerInspect(ctx, containerName); err == nil && inspect.Config != nil {
		tty = inspect.Config.Tty
	}

	reader, err := cli.ContainerLogs(ctx, containerName, logOptions(tail, true, false))
	if err != nil {
		return fmt.Errorf("error streaming logs for %s: %w", containerName, err)
	}
	return f.streamLines(ctx, reader, tty, emit)
}

// StreamServiceLogs follows one cluster service's log.
func (f *Fetcher) StreamServiceLogs(ctx context.Context, cli Client, serviceName string, tail int, emit func(line string) error) error {
	reader, err := cli.ServiceLogs(ctx, serviceName, logOptions(tail, true, true))
	if err != nil {
		return fmt.Errorf("error streaming logs for service %s: %w", serviceName, err)
	}
	return f.streamLines(ctx, reader, false, emit)
}

// streamLines demuxes the follow stream through a pipe and feeds emit line
// by line. The reader is closed when ctx ends so the scan unblocks.
func (f *Fetcher) streamLines(ctx context.Context, reader io.ReadCloser, tty bool, emit func(line string) error) error {
	go func() {
		<-ctx.Done()
		reader.Close()
	}()
	defer reader.Close()

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(demux(pw, reader, tty))
	}()

	scanner := bufio.NewScanner(pr)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if err := emit(scanner.Text()); err != nil {
			return err
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func countLines(text string) int {
	if text == "" {
		return 0
	}
	return len(strings.Split(strings.TrimRight(text, "\n"), "\n"))
}
