package runner

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"swarm/pkg/proto"
	"swarm/pkg/workspace"
)

func requireTool(t *testing.T, name string) {
	t.Helper()
	if _, err := exec.LookPath(name); err != nil {
		t.Skipf("%s not available", name)
	}
}

func TestSubprocessStopsOnSignal(t *testing.T) {
	requireTool(t, "cat")
	s := NewSubprocess("cat", 5*time.Second)

	res, err := s.Run(context.Background(), Request{
		AgentID:       "developer",
		Prompt:        "Implemented it.\nTASK COMPLETE\n",
		MaxIterations: 5,
		WorkDir:       t.TempDir(),
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Signal != proto.SignalTaskComplete {
		t.Fatalf("Signal = %v, want %v", res.Signal, proto.SignalTaskComplete)
	}
	if res.Iterations != 1 {
		t.Fatalf("Iterations = %d, want 1 (stop on first signal)", res.Iterations)
	}
}

func TestSubprocessExhaustsIterations(t *testing.T) {
	requireTool(t, "cat")
	s := NewSubprocess("cat", 5*time.Second)

	res, err := s.Run(context.Background(), Request{
		AgentID:       "developer",
		Prompt:        "still thinking\n",
		MaxIterations: 3,
		WorkDir:       t.TempDir(),
	})
	if err != nil {
		t.Fatalf("exhaustion must not be an error, got %v", err)
	}
	if res.Signal != proto.SignalNone {
		t.Fatalf("Signal = %v, want none", res.Signal)
	}
	if res.Iterations != 3 {
		t.Fatalf("Iterations = %d, want 3", res.Iterations)
	}
}

func TestSubprocessCommandFailure(t *testing.T) {
	requireTool(t, "false")
	s := NewSubprocess("false", 5*time.Second)

	res, err := s.Run(context.Background(), Request{
		AgentID:       "developer",
		Prompt:        "anything",
		MaxIterations: 3,
		WorkDir:       t.TempDir(),
	})
	if err == nil {
		t.Fatal("expected an error from a failing command")
	}
	if res.Signal != proto.SignalError {
		t.Fatalf("Signal = %v, want %v", res.Signal, proto.SignalError)
	}
}

func TestSubprocessCountsCommits(t *testing.T) {
	requireTool(t, "git")
	dir := t.TempDir()
	if err := workspace.InitTestRepo(dir); err != nil {
		t.Fatalf("InitTestRepo failed: %v", err)
	}

	// Each iteration commits but never signals, so the run exhausts its
	// budget and must be judged by the commits it left behind.
	s := NewSubprocess("git commit --allow-empty -m checkpoint", 5*time.Second)
	res, err := s.Run(context.Background(), Request{
		AgentID:       "developer",
		Prompt:        "keep going",
		MaxIterations: 2,
		WorkDir:       dir,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Signal != proto.SignalNone {
		t.Fatalf("Signal = %v, want none", res.Signal)
	}
	if res.CommitsMade != 2 {
		t.Fatalf("CommitsMade = %d, want 2", res.CommitsMade)
	}
}

func TestSubprocessParsesCost(t *testing.T) {
	requireTool(t, "echo")
	s := NewSubprocess("echo Total cost: $0.0321 TASK COMPLETE", 5*time.Second)

	res, err := s.Run(context.Background(), Request{
		AgentID:       "developer",
		Prompt:        "anything",
		MaxIterations: 3,
		WorkDir:       t.TempDir(),
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Signal != proto.SignalTaskComplete {
		t.Fatalf("Signal = %v, want %v", res.Signal, proto.SignalTaskComplete)
	}
	if res.CostUSD < 0.032 || res.CostUSD > 0.033 {
		t.Fatalf("CostUSD = %v, want ~0.0321", res.CostUSD)
	}
}

func TestMockRunnerScripts(t *testing.T) {
	m := NewMockRunner()
	m.ScriptSignal("tester", proto.SignalBugsFound)
	m.ScriptSignal("tester", proto.SignalTaskComplete)

	ctx := context.Background()
	req := Request{AgentID: "tester", MaxIterations: 8}

	res, err := m.Run(ctx, req)
	if err != nil || res.Signal != proto.SignalBugsFound {
		t.Fatalf("first call: signal=%v err=%v", res.Signal, err)
	}
	res, _ = m.Run(ctx, req)
	if res.Signal != proto.SignalTaskComplete {
		t.Fatalf("second call: signal=%v", res.Signal)
	}
	res, _ = m.Run(ctx, req)
	if res.Signal != proto.SignalTaskComplete {
		t.Fatalf("exhausted script must repeat its last result, got %v", res.Signal)
	}
	if m.Calls("tester") != 3 {
		t.Fatalf("Calls = %d, want 3", m.Calls("tester"))
	}

	res, _ = m.Run(ctx, Request{AgentID: "unscripted", MaxIterations: 4})
	if res.Signal != proto.SignalNone || res.Iterations != 4 {
		t.Fatalf("unscripted agent: signal=%v iterations=%d", res.Signal, res.Iterations)
	}
}
