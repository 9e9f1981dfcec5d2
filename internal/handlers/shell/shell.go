// Package shell executes shell-command tasks.
package shell

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"

	"swarmq/internal/domain"
)

type Shell struct{}

type Cmd struct {
	Command string   `json:"command"`
	Args    []string `json:"args"`
}

type Output struct {
	Output   string `json:"output"`
	ExitCode int    `json:"exit_code"`
}

func (h Shell) Handle(ctx context.Context, task domain.Task) (json.RawMessage, error) {
	var c Cmd
	if err := json.Unmarshal(task.Payload, &c); err != nil {
		return nil, fmt.Errorf("invalid shell payload: %w", err)
	}
	if c.Command == "" {
		return nil, fmt.Errorf("command is required")
	}
	cmd := exec.CommandContext(ctx, c.Command, c.Args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("shell error: %v; out=%s", err, string(out))
	}
	result, err := json.Marshal(Output{Output: string(out), ExitCode: 0})
	if err != nil {
		return nil, fmt.Errorf("encode shell result: %w", err)
	}
	return result, nil
}
