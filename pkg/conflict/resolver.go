package conflict

import (
	"context"
	"fmt"
	"time"

	"swarm/pkg/locks"
	"swarm/pkg/logx"
)

// lockTimeout bounds how long the sequential strategy waits for the
// resource lock before reporting the conflict unresolved.
const lockTimeout = 30 * time.Second

// PrecedenceFunc maps an agent ID to its persona precedence (lower wins).
type PrecedenceFunc func(agentID string) int

// Resolver applies resolution strategies and appends every attempt to the
// conflict history, successful or not.
type Resolver struct {
	source     Source
	locks      *locks.Manager
	precedence PrecedenceFunc
	history    *History
	logger     *logx.Logger
}

// NewResolver creates a resolver. history may be nil when callers do not
// need the append-only log (tests).
func NewResolver(source Source, lockMgr *locks.Manager, precedence PrecedenceFunc, history *History) *Resolver {
	return &Resolver{
		source:     source,
		locks:      lockMgr,
		precedence: precedence,
		history:    history,
		logger:     logx.NewLogger("conflict"),
	}
}

// Resolve applies the strategy to one overlapping file between two agents.
// The resolution is appended to the history regardless of outcome.
func (r *Resolver) Resolve(ctx context.Context, strategy Strategy, agentA, agentB, file string) (*Resolution, error) {
	res := &Resolution{
		Timestamp: time.Now().UTC(),
		Strategy:  strategy,
		AgentA:    agentA,
		AgentB:    agentB,
		File:      file,
	}

	var err error
	switch strategy {
	case StrategySequential:
		err = r.resolveSequential(ctx, res)
	case StrategyPriority:
		r.resolvePriority(res)
	case StrategyMerge:
		err = r.resolveMerge(ctx, res)
	case StrategyManual:
		res.Outcome = OutcomePending
		res.Detail = "awaiting human resolution"
	default:
		return nil, fmt.Errorf("unknown resolution strategy: %s", strategy)
	}

	if r.history != nil {
		if histErr := r.history.Append(res); histErr != nil {
			// History is an audit aid; losing one record must not turn a
			// resolved conflict into a failure.
			r.logger.Warn("Failed to record resolution: %v", histErr)
		}
	}

	if err != nil {
		return res, err
	}
	r.logger.Info("Resolved %s vs %s on %s via %s: %s", agentA, agentB, file, strategy, res.Outcome)
	return res, nil
}

// resolveSequential hands the file lock to agentA; agentB must wait for
// release. Fails only if lock acquisition times out.
func (r *Resolver) resolveSequential(ctx context.Context, res *Resolution) error {
	ok, err := r.locks.Acquire(ctx, res.AgentA, res.File, lockTimeout)
	if err != nil || !ok {
		res.Outcome = OutcomeConflict
		res.Detail = "lock acquisition timed out"
		if err != nil {
			return fmt.Errorf("sequential resolution of %s: %w", res.File, err)
		}
		return fmt.Errorf("sequential resolution of %s: lock not acquired", res.File)
	}
	res.Outcome = OutcomeResolved
	res.Winner = res.AgentA
	res.Detail = fmt.Sprintf("%s holds the lock; %s waits", res.AgentA, res.AgentB)
	return nil
}

// resolvePriority keeps the higher-precedence persona's version. No merge
// is attempted; the loser's edit is simply superseded.
func (r *Resolver) resolvePriority(res *Resolution) {
	pa, pb := r.precedence(res.AgentA), r.precedence(res.AgentB)
	if pa <= pb {
		res.Winner = res.AgentA
	} else {
		res.Winner = res.AgentB
	}
	res.Outcome = OutcomeResolved
	res.Detail = fmt.Sprintf("precedence %d vs %d", pa, pb)
}

// resolveMerge attempts a three-way merge of both agents' versions against
// agentA's base. A clean merge resolves the conflict; anything else must
// take the manual path.
func (r *Resolver) resolveMerge(ctx context.Context, res *Resolution) error {
	base, err := r.source.BaseContent(ctx, res.AgentA, res.File)
	if err != nil {
		res.Outcome = OutcomeConflict
		return fmt.Errorf("merge resolution of %s: %w", res.File, err)
	}
	versionA, err := r.source.FileContent(res.AgentA, res.File)
	if err != nil {
		res.Outcome = OutcomeConflict
		return fmt.Errorf("merge resolution of %s: %w", res.File, err)
	}
	versionB, err := r.source.FileContent(res.AgentB, res.File)
	if err != nil {
		res.Outcome = OutcomeConflict
		return fmt.Errorf("merge resolution of %s: %w", res.File, err)
	}

	merged, clean := Merge3(base, versionA, versionB)
	if !clean {
		res.Outcome = OutcomeConflict
		res.Detail = "overlapping edits; manual resolution required"
		return nil
	}
	res.Outcome = OutcomeResolved
	res.Merged = merged
	res.Detail = "clean three-way merge"
	return nil
}
