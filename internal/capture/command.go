package capture

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/hpungsan/focus/internal/errors"
	"github.com/hpungsan/focus/internal/focus"
)

// PathPlaceholder in a capture command is replaced with the output file path.
const PathPlaceholder = "{path}"

// Capturer produces one screen image per call.
type Capturer interface {
	Capture(ctx context.Context) (focus.Capture, error)
}

// CommandCapturer runs an external screenshot tool that writes to {path}.
type CommandCapturer struct {
	Dir     string
	Command []string
	Now     func() time.Time
}

// NewCommandCapturer returns a capturer writing PNG files into dir.
func NewCommandCapturer(dir string, command []string) *CommandCapturer {
	return &CommandCapturer{Dir: dir, Command: command, Now: time.Now}
}

// Capture runs the command and returns the written file with its capture time.
func (c *CommandCapturer) Capture(ctx context.Context) (focus.Capture, error) {
	if len(c.Command) == 0 {
		return focus.Capture{}, errors.NewInvalidRequest("capture command is empty")
	}
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	ts := now()
	path := filepath.Join(c.Dir, fmt.Sprintf("capture_%s.png", focus.NewID(ts)))

	args := make([]string, len(c.Command))
	for i, a := range c.Command {
		args[i] = strings.ReplaceAll(a, PathPlaceholder, path)
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		_ = os.Remove(path)
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			err = fmt.Errorf("%w: %s", err, msg)
		}
		return focus.Capture{}, errors.NewCapture(path, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		if stderrors.Is(err, os.ErrNotExist) {
			return focus.Capture{}, errors.NewCapture(path, fmt.Errorf("command did not write %s", path))
		}
		return focus.Capture{}, errors.NewCapture(path, err)
	}
	if info.Size() == 0 {
		_ = os.Remove(path)
		return focus.Capture{}, errors.NewCapture(path, fmt.Errorf("command wrote an empty file"))
	}

	return focus.Capture{Path: path, Timestamp: ts}, nil
}
