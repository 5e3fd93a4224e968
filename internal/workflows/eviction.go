package workflows

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// DefaultHorizon is how long a persisted tile survives without a refetch.
const DefaultHorizon = 7 * 24 * time.Hour

// EvictionInput is the input for the eviction workflow.
type EvictionInput struct {
	// Horizon defaults to DefaultHorizon when zero.
	Horizon time.Duration
}

// EvictionResult reports what a run removed.
type EvictionResult struct {
	Cutoff   time.Time
	Evicted  []string
	Notified bool
}

// EvictionWorkflow removes persisted tiles older than the horizon and
// broadcasts the removed keys. A failed broadcast does not fail the run; the
// tiles are already gone and instances fall back to refetching them.
func EvictionWorkflow(ctx workflow.Context, input EvictionInput) (EvictionResult, error) {
	logger := workflow.GetLogger(ctx)

	horizon := input.Horizon
	if horizon <= 0 {
		horizon = DefaultHorizon
	}
	res := EvictionResult{Cutoff: workflow.Now(ctx).Add(-horizon)}
	logger.Info("Starting tile eviction", "cutoff", res.Cutoff)

	actOpts := workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, actOpts)

	if err := workflow.ExecuteActivity(ctx, "EvictTilesOlderThan", res.Cutoff).Get(ctx, &res.Evicted); err != nil {
		return res, err
	}
	if len(res.Evicted) == 0 {
		return res, nil
	}

	if err := workflow.ExecuteActivity(ctx, "PublishEvictions", res.Evicted).Get(ctx, nil); err != nil {
		logger.Warn("eviction notice failed", "count", len(res.Evicted), "error", err)
		return res, nil
	}
	res.Notified = true

	logger.Info("Tile eviction finished", "evicted", len(res.Evicted))
	return res, nil
}
