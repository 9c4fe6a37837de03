package pipeline

import (
	"context"
	"fmt"
	"strings"

	"swarm/pkg/config"
	"swarm/pkg/runner"
)

// maxPromptInsights caps how many learned lessons are folded into a prompt.
const maxPromptInsights = 3

// roleBriefs frame each persona's responsibility at the top of its prompt.
//
//nolint:gochecknoglobals // Static prompt fragments
var roleBriefs = map[string]string{
	config.RoleDeveloper: "You are the developer. Implement the requested change and commit your work.",
	config.RoleTester:    "You are the tester. Exercise the implementation and report any blocking bugs.",
	config.RoleReviewer:  "You are the reviewer. Judge whether the change is ready to merge.",
	config.RolePlanner:   "You are the planner. Produce a concrete, ordered implementation plan.",
}

// buildPrompt assembles one agent turn's prompt: role brief, goal, task,
// unread inbox messages, shared notes, relevant insights, and the marker
// phrases the agent must emit to end its turn.
func (c *Coordinator) buildPrompt(ctx context.Context, persona *config.Persona, description, failureType string) (string, error) {
	var sb strings.Builder

	if brief, ok := roleBriefs[strings.ToLower(persona.Role)]; ok {
		sb.WriteString(brief)
		sb.WriteString("\n\n")
	}
	fmt.Fprintf(&sb, "Goal: %s\n\nTask: %s\n", c.cfg.Goal, description)

	if err := c.appendInbox(&sb, persona.Name); err != nil {
		return "", err
	}
	c.appendNotes(&sb)
	c.appendInsights(ctx, &sb, failureType)

	sb.WriteString("\nWhen you are done, end your final message with exactly one of these phrases:\n")
	for _, marker := range runner.SignalMarkers() {
		fmt.Fprintf(&sb, "  %s\n", marker)
	}
	return sb.String(), nil
}

// appendInbox folds the agent's unread messages into the prompt and marks
// them read. Unread returns messages priority-first, so urgent feedback
// leads the section.
func (c *Coordinator) appendInbox(sb *strings.Builder, agentID string) error {
	msgs, err := c.deps.Bus.Unread(agentID)
	if err != nil {
		return fmt.Errorf("failed to read inbox for %s: %w", agentID, err)
	}
	if len(msgs) == 0 {
		return nil
	}

	sb.WriteString("\nMessages from other agents:\n")
	for _, msg := range msgs {
		fmt.Fprintf(sb, "  [%s from %s] %s\n", msg.Type, msg.From, msg.Subject)
		for _, key := range []string{"report", "feedback", "plan"} {
			if text, ok := msg.BodyString(key); ok && text != "" {
				fmt.Fprintf(sb, "    %s\n", indent(text, "    "))
			}
		}
		if err := c.deps.Bus.MarkRead(agentID, msg.ID); err != nil {
			return fmt.Errorf("failed to mark message %s read: %w", msg.ID, err)
		}
	}
	return nil
}

func (c *Coordinator) appendNotes(sb *strings.Builder) {
	c.mu.Lock()
	notes := append([]string(nil), c.notes...)
	c.mu.Unlock()

	if len(notes) == 0 {
		return
	}
	sb.WriteString("\nSession notes:\n")
	for _, note := range notes {
		fmt.Fprintf(sb, "  - %s\n", note)
	}
}

// appendInsights enriches the prompt with lessons learned from earlier
// failures of the same category. Best effort; a missing insight store
// never blocks a turn.
func (c *Coordinator) appendInsights(ctx context.Context, sb *strings.Builder, failureType string) {
	if c.deps.Insights == nil || failureType == "" {
		return
	}
	insights := c.deps.Insights.RelevantInsights(ctx, failureType, "", maxPromptInsights)
	if len(insights) == 0 {
		return
	}
	sb.WriteString("\nLessons from previous failures:\n")
	for _, ins := range insights {
		fmt.Fprintf(sb, "  - %s\n", ins.Content)
	}
}

// indent prefixes every line after the first so multi-line message bodies
// stay inside their prompt section.
func indent(text, prefix string) string {
	return strings.ReplaceAll(strings.TrimRight(text, "\n"), "\n", "\n"+prefix)
}
