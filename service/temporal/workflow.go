package temporal

import (
	"fmt"
	"time"

	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

var a *Activities // for type-safe activity invocation

// RefreshMintActivityWorkflow recomputes the activity history of a watched
// mint. It is triggered by a Temporal schedule at the mint's poll interval.
//
// The workflow performs these steps:
// 1. Rebuild the history and publish events above the mint's slot
//    watermark to JetStream (ComputeActivityHistory)
// 2. Record the poll and advance the watermark (RecordMintPoll)
//
// If step 2 fails the next run publishes the same events again; their
// message IDs are stable, so the stream drops them.
func RefreshMintActivityWorkflow(ctx workflow.Context, input RefreshMintInput) (*RefreshMintResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("RefreshMintActivityWorkflow started", "mint", input.Mint)

	startedAt := workflow.Now(ctx)
	result := &RefreshMintResult{
		Mint:     input.Mint,
		PollTime: startedAt,
	}

	activityOptions := workflow.ActivityOptions{
		StartToCloseTimeout: 300 * time.Second,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, activityOptions)

	// Step 1: Compute the history and publish new events
	var history *ComputeActivityHistoryResult
	err := workflow.ExecuteActivity(ctx, a.ComputeActivityHistory, ComputeActivityHistoryInput{Mint: input.Mint}).Get(ctx, &history)
	if err != nil {
		logger.Error("failed to compute activity history", "mint", input.Mint, "error", err)
		errMsg := fmt.Sprintf("failed to compute activity history: %v", err)
		result.Error = &errMsg

		// Best effort: flag the mint so operators can see the failure.
		pollErr := workflow.ExecuteActivity(ctx, a.RecordMintPoll, RecordMintPollInput{
			Mint:      input.Mint,
			Status:    PollStatusError,
			PollTime:  startedAt,
			StartedAt: startedAt,
		}).Get(ctx, nil)
		if pollErr != nil {
			logger.Warn("failed to record failed poll", "mint", input.Mint, "error", pollErr)
		}
		return result, fmt.Errorf("failed to compute activity history: %w", err)
	}
	result.EventCount = history.EventCount
	result.NewEvents = history.NewEvents
	result.Published = history.Published

	logger.Info("computed activity history",
		"mint", input.Mint,
		"event_count", result.EventCount,
		"new_events", result.NewEvents,
		"published", result.Published,
	)

	// Step 2: Record the poll
	err = workflow.ExecuteActivity(ctx, a.RecordMintPoll, RecordMintPollInput{
		Mint:       input.Mint,
		Status:     PollStatusSuccess,
		PollTime:   startedAt,
		EventCount: result.EventCount,
		LastSlot:   history.LatestSlot,
		StartedAt:  startedAt,
	}).Get(ctx, nil)
	if err != nil {
		logger.Error("failed to record mint poll", "mint", input.Mint, "error", err)
		errMsg := fmt.Sprintf("failed to record mint poll: %v", err)
		result.Error = &errMsg
		return result, fmt.Errorf("failed to record mint poll: %w", err)
	}

	logger.Info("RefreshMintActivityWorkflow completed successfully",
		"mint", input.Mint,
		"event_count", result.EventCount,
		"published", result.Published,
	)

	return result, nil
}
