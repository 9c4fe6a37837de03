package runner

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"swarm/pkg/logx"
	"swarm/pkg/proto"
)

// Subprocess runs agent turns by invoking an external coding-agent CLI.
// The prompt is passed on stdin; the process's combined output is scanned
// for signal markers. This is the reference adapter; anything satisfying
// Runner can replace it.
type Subprocess struct {
	command string
	timeout time.Duration
	logger  *logx.Logger
}

// NewSubprocess creates a subprocess runner for the given command line.
func NewSubprocess(command string, timeout time.Duration) *Subprocess {
	return &Subprocess{
		command: command,
		timeout: timeout,
		logger:  logx.NewLogger("runner"),
	}
}

// Run executes up to req.MaxIterations turns of the external process,
// stopping early on the first recognized signal. Iterations past the
// budget with no signal are a warning, not a failure. Commits made in
// req.WorkDir during the run and any cost the agent reports are folded
// into the result so the coordinator can judge a signal-less run by its
// side effects.
func (s *Subprocess) Run(ctx context.Context, req Request) (*Result, error) {
	result := &Result{}
	var transcript strings.Builder

	baseline := commitCount(req.WorkDir)
	defer func() {
		if n := commitCount(req.WorkDir) - baseline; n > 0 {
			result.CommitsMade = n
		}
	}()

	for iteration := 1; iteration <= req.MaxIterations; iteration++ {
		output, err := s.invoke(ctx, req)
		result.Iterations = iteration
		result.CostUSD += parseCost(output)
		transcript.WriteString(output)

		if err != nil {
			result.Signal = proto.SignalError
			result.RawOutput = transcript.String()
			return result, fmt.Errorf("agent %s iteration %d: %w", req.AgentID, iteration, err)
		}

		if signal := DetectSignal(output); signal != proto.SignalNone {
			result.Signal = signal
			result.RawOutput = transcript.String()
			s.logger.Info("Agent %s signaled %s after %d iteration(s)", req.AgentID, signal, iteration)
			return result, nil
		}
	}

	result.RawOutput = transcript.String()
	s.logger.Warn("Agent %s exhausted %d iterations without a signal", req.AgentID, req.MaxIterations)
	return result, nil
}

func (s *Subprocess) invoke(ctx context.Context, req Request) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	parts := strings.Fields(s.command)
	if len(parts) == 0 {
		return "", fmt.Errorf("runner command is empty")
	}

	cmd := exec.CommandContext(runCtx, parts[0], parts[1:]...) //nolint:gosec // Command comes from operator config
	cmd.Dir = req.WorkDir
	cmd.Stdin = bytes.NewBufferString(req.Prompt)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return string(output), fmt.Errorf("runner command failed: %w", err)
	}
	return string(output), nil
}

// costPattern matches the cost line agent CLIs print at the end of a turn,
// e.g. "Total cost: $0.42" or "cost (USD): 0.0312".
var costPattern = regexp.MustCompile(`(?i)cost[^$0-9\n]*\$?([0-9]+(?:\.[0-9]+)?)`)

func parseCost(output string) float64 {
	m := costPattern.FindStringSubmatch(output)
	if m == nil {
		return 0
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0
	}
	return v
}

// commitCount reports how many commits are reachable from HEAD in dir.
// Zero for empty, missing, or non-git directories.
func commitCount(dir string) int {
	if dir == "" {
		return 0
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, "git", "-C", dir, "rev-list", "--count", "HEAD").Output()
	if err != nil {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(out)))
	if err != nil {
		return 0
	}
	return n
}
