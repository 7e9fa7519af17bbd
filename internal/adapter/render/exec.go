// Package render fetches resources that hide their download behind
// portal-side JavaScript by shelling out to an external rendering command,
// typically a headless browser wrapper. The command receives the resource
// URL as its final argument and must write the file bytes to stdout.
package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// CommandRenderer implements domain.Renderer by invoking a configured
// external command per resource.
type CommandRenderer struct {
	command []string
	timeout time.Duration
	logger  *slog.Logger
}

// New parses the command line and returns a renderer. An empty command is a
// configuration error; callers should pass nil to the fetcher instead of a
// renderer when rendering is disabled.
func New(command string, timeout time.Duration, logger *slog.Logger) (*CommandRenderer, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil, errors.New("render: empty command")
	}
	return &CommandRenderer{command: fields, timeout: timeout, logger: logger}, nil
}

// Render runs the command with the URL appended and returns its stdout.
func (r *CommandRenderer) Render(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	args := append(append([]string(nil), r.command[1:]...), url)
	cmd := exec.CommandContext(ctx, r.command[0], args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("render command %q: %w (stderr: %s)",
			r.command[0], err, firstLine(stderr.String()))
	}

	r.logger.Debug("rendered resource",
		"url", url, "bytes", stdout.Len(), "duration", time.Since(start))
	return stdout.Bytes(), nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
