package pipeline

import (
	"context"
	"fmt"
	"time"

	"swarm/pkg/config"
	"swarm/pkg/conflict"
	"swarm/pkg/eventlog"
	"swarm/pkg/gitops"
	"swarm/pkg/proto"
	"swarm/pkg/runner"
	"swarm/pkg/state"
	"swarm/pkg/utils"
)

// runPlanning runs the planner once, if one is configured, then moves the
// pipeline into DevTest.
func (c *Coordinator) runPlanning(ctx context.Context) error {
	planner, ok := c.cfg.PersonaByRole(config.RolePlanner)
	if !ok {
		c.logger.Info("No planner configured; starting at DevTest")
		return c.transition(proto.StateDevTest, map[string]any{"cycle": 1})
	}

	res, err := c.runAgent(ctx, planner, "planning",
		fmt.Sprintf("Break the goal into an implementation plan: %s", c.cfg.Goal), "")
	if err != nil {
		return fmt.Errorf("planning phase failed: %w", err)
	}

	if dev, ok := c.cfg.PersonaByRole(config.RoleDeveloper); ok {
		body := map[string]any{"plan": res.RawOutput}
		if err := c.notify(planner.Name, dev.Name, proto.MsgTypePlanReady,
			"Implementation plan ready", body, proto.PriorityNormal); err != nil {
			return err
		}
	}
	return c.transition(proto.StateDevTest, map[string]any{"cycle": 1})
}

// runDevTest runs the developer/tester feedback loop. Each pass is one
// bug-fix cycle; the loop repeats while the tester reports bugs and the
// cycle bound has not been hit.
func (c *Coordinator) runDevTest(ctx context.Context) error {
	dev, ok := c.cfg.PersonaByRole(config.RoleDeveloper)
	if !ok {
		return fmt.Errorf("no developer persona configured")
	}
	tester, haveTester := c.cfg.PersonaByRole(config.RoleTester)

	c.mu.Lock()
	c.bugFix = 1
	c.mu.Unlock()

	for {
		c.mu.Lock()
		cycle := c.bugFix
		c.mu.Unlock()

		if err := c.transition(proto.StateDevTest, map[string]any{"cycle": cycle}); err != nil {
			return err
		}
		if err := c.checkConflicts(ctx); err != nil {
			return err
		}

		var devRes, testRes *runner.Result
		var err error
		if c.cfg.Mode == config.ModeParallel && haveTester {
			devRes, testRes, err = c.runParallel(ctx, dev, tester)
		} else {
			devRes, testRes, err = c.runSequential(ctx, dev, tester, haveTester)
		}
		if err != nil {
			return err
		}
		if devRes != nil && devRes.Signal == proto.SignalProjectComplete {
			c.logger.Info("Developer reports the project complete")
		}

		if !haveTester || testRes == nil || testRes.Signal != proto.SignalBugsFound {
			if haveTester && testRes != nil {
				if err := c.notify(tester.Name, dev.Name, proto.MsgTypeTestingComplete,
					"Testing passed", nil, proto.PriorityNormal); err != nil {
					return err
				}
			}
			c.syncSessionCounters()
			return nil
		}

		c.mu.Lock()
		atBound := c.bugFix >= c.cfg.Pipeline.MaxBugFixCycles
		if !atBound {
			c.bugFix++
		}
		c.mu.Unlock()

		if atBound {
			c.logger.Warn("Bug-fix cycle bound (%d) reached with bugs still reported; proceeding to review",
				c.cfg.Pipeline.MaxBugFixCycles)
			c.AddNote(fmt.Sprintf("bug-fix bound reached after %d cycles with open bugs", cycle))
			c.syncSessionCounters()
			return nil
		}

		body := map[string]any{"report": testRes.RawOutput, "cycle": cycle}
		if err := c.notify(tester.Name, dev.Name, proto.MsgTypeBugsFound,
			"Bugs found; fixes required", body, proto.PriorityHigh); err != nil {
			return err
		}
		c.syncSessionCounters()
	}
}

// runSequential runs the developer, hands off to the tester, and returns
// both results. With no tester the second result is nil.
func (c *Coordinator) runSequential(ctx context.Context, dev, tester *config.Persona, haveTester bool) (*runner.Result, *runner.Result, error) {
	devRes, err := c.runAgent(ctx, dev, "implement",
		fmt.Sprintf("Implement or fix the code toward the goal: %s", c.cfg.Goal), "test_failure")
	if err != nil {
		return nil, nil, fmt.Errorf("developer run failed: %w", err)
	}
	if !haveTester {
		return devRes, nil, nil
	}

	if err := c.notify(dev.Name, tester.Name, proto.MsgTypeFeatureImplemented,
		"Implementation ready for testing", map[string]any{"signal": devRes.Signal.String()},
		proto.PriorityNormal); err != nil {
		return nil, nil, err
	}

	testRes, err := c.runAgent(ctx, tester, "test",
		fmt.Sprintf("Test the current implementation of: %s", c.cfg.Goal), "")
	if err != nil {
		return nil, nil, fmt.Errorf("tester run failed: %w", err)
	}
	return devRes, testRes, nil
}

// runParallel runs developer and tester concurrently and joins both before
// evaluating the tester's outcome. Conflicting edits surface on the next
// cycle's conflict check.
func (c *Coordinator) runParallel(ctx context.Context, dev, tester *config.Persona) (*runner.Result, *runner.Result, error) {
	type outcome struct {
		res *runner.Result
		err error
	}
	devCh := make(chan outcome, 1)
	testCh := make(chan outcome, 1)

	go func() {
		res, err := c.runAgent(ctx, dev, "implement",
			fmt.Sprintf("Implement or fix the code toward the goal: %s", c.cfg.Goal), "test_failure")
		devCh <- outcome{res, err}
	}()
	go func() {
		res, err := c.runAgent(ctx, tester, "test",
			fmt.Sprintf("Test the current implementation of: %s", c.cfg.Goal), "")
		testCh <- outcome{res, err}
	}()

	devOut := <-devCh
	testOut := <-testCh
	if devOut.err != nil {
		return nil, nil, fmt.Errorf("developer run failed: %w", devOut.err)
	}
	if testOut.err != nil {
		return nil, nil, fmt.Errorf("tester run failed: %w", testOut.err)
	}
	return devOut.res, testOut.res, nil
}

// runReview runs one review cycle. It returns true when the reviewer
// requested changes and the pipeline should loop back to DevTest.
func (c *Coordinator) runReview(ctx context.Context) (bool, error) {
	reviewer, ok := c.cfg.PersonaByRole(config.RoleReviewer)
	if !ok {
		c.logger.Info("No reviewer configured; skipping review")
		c.mu.Lock()
		c.approved = true
		c.mu.Unlock()
		c.syncSessionCounters()
		return false, nil
	}

	c.mu.Lock()
	cycle := c.review
	c.mu.Unlock()

	if err := c.transition(proto.StateReview, map[string]any{"cycle": cycle}); err != nil {
		return false, err
	}
	if err := c.checkConflicts(ctx); err != nil {
		return false, err
	}

	res, err := c.runAgent(ctx, reviewer, "review",
		fmt.Sprintf("Review the implementation of: %s", c.cfg.Goal), "")
	if err != nil {
		return false, fmt.Errorf("reviewer run failed: %w", err)
	}

	dev, haveDev := c.cfg.PersonaByRole(config.RoleDeveloper)

	switch res.Signal {
	case proto.SignalApproved, proto.SignalProjectComplete:
		c.mu.Lock()
		c.approved = true
		c.mu.Unlock()
		if haveDev {
			if err := c.notify(reviewer.Name, dev.Name, proto.MsgTypeReviewApproved,
				"Review approved", nil, proto.PriorityNormal); err != nil {
				return false, err
			}
		}
		c.syncSessionCounters()
		return false, nil

	case proto.SignalChangesRequested:
		c.mu.Lock()
		atBound := c.review >= c.cfg.Pipeline.MaxReviewCycles
		if !atBound {
			c.review++
		}
		c.mu.Unlock()

		if atBound {
			c.logger.Warn("Review cycle bound (%d) reached with changes still requested; finalizing without approval",
				c.cfg.Pipeline.MaxReviewCycles)
			c.AddNote(fmt.Sprintf("review bound reached after %d cycles; run not fully approved", cycle))
			c.syncSessionCounters()
			return false, nil
		}

		if haveDev {
			body := map[string]any{"feedback": res.RawOutput, "cycle": cycle}
			if err := c.notify(reviewer.Name, dev.Name, proto.MsgTypeReviewChangesRequested,
				"Changes requested", body, proto.PriorityHigh); err != nil {
				return false, err
			}
		}
		c.syncSessionCounters()
		return true, nil

	default:
		c.logger.Warn("Reviewer ended with signal %s; finalizing without approval", res.Signal)
		c.AddNote("reviewer gave no verdict; run not fully approved")
		c.syncSessionCounters()
		return false, nil
	}
}

// finalize moves to the terminal phase, runs the optional PR flow, and
// marks the session complete.
func (c *Coordinator) finalize(ctx context.Context) error {
	if err := c.transition(proto.StateFinalized, nil); err != nil {
		return err
	}

	c.mu.Lock()
	approved := c.approved
	bugFix, review := c.bugFix, c.review
	c.mu.Unlock()

	if c.cfg.Pipeline.AutoMerge && c.deps.Git != nil {
		if err := c.runMergeFlow(ctx, approved); err != nil {
			// Merge failures end the run degraded, not failed; the work is
			// still on the branch.
			c.logger.Warn("Auto-merge flow did not complete: %v", err)
			c.AddNote(fmt.Sprintf("auto-merge incomplete: %v", err))
		}
	}

	c.syncSessionCounters()
	if err := c.deps.Store.UpdateSession(func(s *state.Session) {
		s.Status = state.SessionCompleted
	}); err != nil {
		return fmt.Errorf("failed to complete session: %w", err)
	}

	c.mu.Lock()
	prURL := c.prURL
	notes := append([]string(nil), c.notes...)
	c.mu.Unlock()

	c.emit(&eventlog.Event{
		Type:      eventlog.TypeSessionComplete,
		SessionID: c.sessionID,
		Payload: map[string]any{
			"approved":      approved,
			"bugfix_cycles": bugFix,
			"review_cycles": review,
			"pr_url":        prURL,
			"notes":         notes,
		},
	})
	c.logger.Info("Session %s finalized (approved=%t)", c.sessionID, approved)
	return nil
}

// runMergeFlow pushes the developer's work as a PR and merges it once CI
// passes. Unapproved runs stop at the draft PR.
func (c *Coordinator) runMergeFlow(ctx context.Context, approved bool) error {
	dev, ok := c.cfg.PersonaByRole(config.RoleDeveloper)
	if !ok {
		return nil
	}
	agent, err := c.deps.Store.GetAgent(dev.Name)
	if err != nil || agent.Workspace == "" {
		c.logger.Info("No developer workspace; skipping PR flow")
		return nil
	}

	branch := "swarm/" + utils.SanitizeBranchName(c.sessionID)
	if err := c.deps.Git.CreateBranch(ctx, agent.Workspace, branch); err != nil {
		return err
	}
	if err := c.deps.Git.Push(ctx, agent.Workspace, branch); err != nil {
		return err
	}

	prURL, err := c.deps.Git.CreateDraftPR(ctx, agent.Workspace, branch, c.cfg.Goal,
		fmt.Sprintf("Coordinated run %s.", c.sessionID))
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.prURL = prURL
	c.mu.Unlock()

	if !approved {
		c.logger.Warn("Run not fully approved; leaving %s as a draft", prURL)
		return nil
	}

	if err := c.deps.Git.MarkReady(ctx, prURL); err != nil {
		return err
	}
	status, err := c.deps.Git.PollChecks(ctx, prURL, ciPollTimeout)
	if err != nil {
		return err
	}
	switch status {
	case gitops.ChecksPass:
		return c.deps.Git.Merge(ctx, prURL, "squash")
	case gitops.ChecksFail:
		return fmt.Errorf("CI checks failed for %s; merge skipped", prURL)
	default:
		return fmt.Errorf("CI checks still pending for %s; merge skipped", prURL)
	}
}

// checkConflicts detects overlapping edits across running agents and
// resolves each contested file with the configured strategy before the next
// dispatch. A pending (manual) resolution halts the run.
func (c *Coordinator) checkConflicts(ctx context.Context) error {
	if c.deps.Detector == nil || c.deps.Resolver == nil {
		return nil
	}
	agents, err := c.deps.Store.ListAgents()
	if err != nil {
		return fmt.Errorf("conflict check: %w", err)
	}
	ids := make([]string, 0, len(agents))
	for _, a := range agents {
		if a.Workspace != "" {
			ids = append(ids, a.ID)
		}
	}
	if len(ids) < 2 {
		return nil
	}

	detected, err := c.deps.Detector.DetectAll(ctx, ids)
	if err != nil {
		return fmt.Errorf("conflict detection: %w", err)
	}

	strategy := conflict.Strategy(c.cfg.Pipeline.ConflictStrategy)
	for _, conf := range detected {
		conf.Strategy = strategy
		c.emit(&eventlog.Event{
			Type:      eventlog.TypeConflictDetected,
			SessionID: c.sessionID,
			Payload: map[string]any{
				"conflict_id": conf.ID,
				"agent_a":     conf.AgentA,
				"agent_b":     conf.AgentB,
				"files":       conf.Files,
			},
		})

		outcome := conflict.OutcomeResolved
		for _, file := range conf.Files {
			res, err := c.deps.Resolver.Resolve(ctx, strategy, conf.AgentA, conf.AgentB, file)
			if c.deps.Metrics != nil && res != nil {
				c.deps.Metrics.ConflictResolved(string(strategy), string(res.Outcome))
			}
			if err != nil {
				conf.Outcome = conflict.OutcomeConflict
				c.recordConflict(conf)
				return fmt.Errorf("failed to resolve conflict on %s: %w", file, err)
			}
			if res.Outcome != conflict.OutcomeResolved {
				outcome = res.Outcome
			}
		}
		conf.Outcome = outcome
		c.recordConflict(conf)

		if outcome == conflict.OutcomePending {
			c.logger.Warn("Conflict %s parked for manual resolution; halting dispatch", conf.ID)
			return fmt.Errorf("conflict %s on %v: %w", conf.ID, conf.Files, ErrManualResolution)
		}
	}
	return nil
}

func (c *Coordinator) recordConflict(conf *conflict.Conflict) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conflicts = append(c.conflicts, conf)
}

// notify sends a bus message and immediately delivers outboxes so the
// recipient's next prompt sees it.
func (c *Coordinator) notify(from, to string, msgType proto.MsgType, subject string, body map[string]any, priority proto.Priority) error {
	if _, err := c.deps.Bus.Send(from, to, msgType, subject, body, priority); err != nil {
		return fmt.Errorf("failed to send %s: %w", msgType, err)
	}
	if c.deps.Metrics != nil {
		c.deps.Metrics.MessageSent(string(msgType), string(priority))
	}
	c.emit(&eventlog.Event{
		Type:      eventlog.TypeMessageSent,
		SessionID: c.sessionID,
		AgentID:   from,
		Payload:   map[string]any{"to": to, "type": string(msgType), "subject": subject},
	})

	n, err := c.deps.Bus.Deliver()
	if err != nil {
		return fmt.Errorf("failed to deliver messages: %w", err)
	}
	if c.deps.Metrics != nil && n > 0 {
		c.deps.Metrics.MessagesDelivered(n)
	}
	return nil
}

// runAgent executes one agent turn: create the task record, assemble the
// prompt, invoke the runner, and record the outcome.
func (c *Coordinator) runAgent(ctx context.Context, persona *config.Persona, taskType, description, failureType string) (*runner.Result, error) {
	agentID := persona.Name

	taskID, err := c.deps.Store.CreateTask(taskType, agentID, description, persona.Priority, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s task: %w", taskType, err)
	}
	if err := c.deps.Store.UpdateTaskStatus(taskID, state.TaskInProgress, nil); err != nil {
		return nil, fmt.Errorf("failed to start task %s: %w", taskID, err)
	}
	if err := c.deps.Store.UpdateAgentStatus(agentID, state.AgentRunning, 0, 0); err != nil {
		return nil, fmt.Errorf("failed to mark %s running: %w", agentID, err)
	}
	c.emitAgentStatus(agentID, state.AgentRunning)
	c.emitTaskProgress(taskID, agentID, state.TaskInProgress)

	prompt, err := c.buildPrompt(ctx, persona, description, failureType)
	if err != nil {
		return nil, err
	}

	workDir := c.cfg.Paths.RepoDir
	if agent, err := c.deps.Store.GetAgent(agentID); err == nil && agent.Workspace != "" {
		workDir = agent.Workspace
	}

	start := time.Now()
	res, err := c.deps.Runner.Run(ctx, runner.Request{
		AgentID:       agentID,
		Prompt:        prompt,
		MaxIterations: c.cfg.Pipeline.MaxIterations,
		WorkDir:       workDir,
	})
	if err != nil {
		_ = c.deps.Store.UpdateTaskStatus(taskID, state.TaskFailed, map[string]any{"error": err.Error()})
		_ = c.deps.Store.UpdateAgentStatus(agentID, state.AgentError, 0, 0)
		c.emitAgentStatus(agentID, state.AgentError)
		if c.deps.Metrics != nil {
			c.deps.Metrics.AgentRun(agentID, proto.SignalError.String(), time.Since(start), 0)
		}
		return nil, fmt.Errorf("agent %s run failed: %w", agentID, err)
	}

	if err := c.deps.Store.UpdateAgentStatus(agentID, state.AgentWaiting, res.Iterations, res.CostUSD); err != nil {
		return nil, fmt.Errorf("failed to record run for %s: %w", agentID, err)
	}
	if err := c.deps.Store.UpdateTaskStatus(taskID, state.TaskCompleted, map[string]any{
		"signal":     res.Signal.String(),
		"iterations": res.Iterations,
		"commits":    res.CommitsMade,
	}); err != nil {
		return nil, fmt.Errorf("failed to complete task %s: %w", taskID, err)
	}
	c.emitAgentStatus(agentID, state.AgentWaiting)
	c.emitTaskProgress(taskID, agentID, state.TaskCompleted)
	if c.deps.Metrics != nil {
		c.deps.Metrics.AgentRun(agentID, res.Signal.String(), time.Since(start), res.CostUSD)
	}

	c.mu.Lock()
	c.lastResult[agentID] = res
	c.mu.Unlock()

	c.logger.Info("Agent %s finished %s with signal %s (%d iterations, $%.4f)",
		agentID, taskType, res.Signal, res.Iterations, res.CostUSD)
	return res, nil
}

func (c *Coordinator) emitTaskProgress(taskID, agentID string, status state.TaskStatus) {
	c.emit(&eventlog.Event{
		Type:      eventlog.TypeTaskProgressUpdated,
		SessionID: c.sessionID,
		AgentID:   agentID,
		Payload:   map[string]any{"task_id": taskID, "status": string(status)},
	})
}
