package conflict

import (
	"context"
	"fmt"
	"sort"
	"time"

	"swarm/pkg/logx"
	"swarm/pkg/utils"
)

// Detector computes file-level overlaps between agents' workspaces.
type Detector struct {
	source Source
	logger *logx.Logger
}

// NewDetector creates a detector reading changed-file sets from source.
func NewDetector(source Source) *Detector {
	return &Detector{
		source: source,
		logger: logx.NewLogger("conflict"),
	}
}

// DetectConflicts returns the sorted intersection of the two agents'
// changed-file sets. The result is symmetric in its arguments.
func (d *Detector) DetectConflicts(ctx context.Context, agentA, agentB string) ([]string, error) {
	filesA, err := d.source.ChangedFiles(ctx, agentA)
	if err != nil {
		return nil, fmt.Errorf("failed to list changes for %s: %w", agentA, err)
	}
	filesB, err := d.source.ChangedFiles(ctx, agentB)
	if err != nil {
		return nil, fmt.Errorf("failed to list changes for %s: %w", agentB, err)
	}

	setA := make(map[string]bool, len(filesA))
	for _, f := range filesA {
		setA[f] = true
	}

	var overlap []string
	for _, f := range filesB {
		if setA[f] {
			overlap = append(overlap, f)
		}
	}
	sort.Strings(overlap)
	return overlap, nil
}

// DetectAll checks every unordered pair of agents once and returns a
// conflict record for each pair with a non-empty overlap.
func (d *Detector) DetectAll(ctx context.Context, agentIDs []string) ([]*Conflict, error) {
	// Stable pair order keeps records deterministic.
	ids := append([]string(nil), agentIDs...)
	sort.Strings(ids)

	var conflicts []*Conflict
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			files, err := d.DetectConflicts(ctx, ids[i], ids[j])
			if err != nil {
				return nil, err
			}
			if len(files) == 0 {
				continue
			}
			conflicts = append(conflicts, &Conflict{
				ID:         "conflict-" + utils.ShortID(),
				AgentA:     ids[i],
				AgentB:     ids[j],
				Files:      files,
				Outcome:    OutcomePending,
				DetectedAt: time.Now().UTC(),
			})
			d.logger.Warn("Overlap between %s and %s on %d file(s): %v", ids[i], ids[j], len(files), files)
		}
	}
	return conflicts, nil
}
