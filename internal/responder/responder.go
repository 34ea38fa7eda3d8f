// Package responder runs the external text generators behind the roast and
// fact-check routes.
package responder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// ErrEmptyOutput is returned when the command exits cleanly but prints nothing.
var ErrEmptyOutput = errors.New("responder: empty output")

// waitDelay bounds how long Respond waits on output pipes held open by
// children of a killed process.
const waitDelay = time.Second

// Request is written to the command's stdin as JSON.
type Request struct {
	TargetUsername string `json:"targetUsername"`
	TargetMessage  string `json:"targetMessage"`
}

// Responder produces a reply for a chat message.
type Responder interface {
	Respond(ctx context.Context, req Request) (string, error)
}

// Command is an external process implementing Responder.
type Command struct {
	Name string
	Path string
	Args []string
	log  *slog.Logger
}

// ParseCommand splits a command line such as "python roast.py" on whitespace.
func ParseCommand(name, line string, log *slog.Logger) (*Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil, fmt.Errorf("responder %s: empty command", name)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Command{
		Name: name,
		Path: fields[0],
		Args: fields[1:],
		log:  log.With(slog.String("component", "responder"), slog.String("responder", name)),
	}, nil
}

// Respond runs the command once and returns its trimmed stdout. The process is
// killed when ctx ends.
func (c *Command) Respond(ctx context.Context, req Request) (string, error) {
	input, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.Stdin = bytes.NewReader(input)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay

	runErr := cmd.Run()
	if stderr.Len() > 0 && c.log != nil {
		c.log.Debug("responder stderr", slog.String("stderr", strings.TrimSpace(stderr.String())))
	}
	if runErr != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("run %s: %w", c.Name, ctx.Err())
		}
		return "", fmt.Errorf("run %s: %w", c.Name, runErr)
	}

	text := strings.TrimSpace(stdout.String())
	if text == "" {
		return "", ErrEmptyOutput
	}
	return text, nil
}
