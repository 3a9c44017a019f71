package temporal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"
)

func newWorkflowEnv(t *testing.T) *testsuite.TestWorkflowEnvironment {
	t.Helper()
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()

	// Register activities first (before mocking)
	activities := &Activities{}
	env.RegisterActivity(activities.ComputeActivityHistory)
	env.RegisterActivity(activities.RecordMintPoll)
	return env
}

func computedHistory() *ComputeActivityHistoryResult {
	return &ComputeActivityHistoryResult{
		EventCount: 5,
		NewEvents:  2,
		Published:  2,
		LatestSlot: slotPtr(120),
	}
}

func TestRefreshMintActivityWorkflow(t *testing.T) {
	tests := []struct {
		name           string
		mockActivities func(compute, record *testsuite.MockCallWrapper)
		expectedError  bool
		validateResult func(*testing.T, *RefreshMintResult)
	}{
		{
			name: "successful refresh with new events",
			mockActivities: func(compute, record *testsuite.MockCallWrapper) {
				compute.Return(computedHistory(), nil)
				record.Return(nil)
			},
			validateResult: func(t *testing.T, result *RefreshMintResult) {
				assert.Equal(t, testMint, result.Mint)
				assert.Equal(t, 5, result.EventCount)
				assert.Equal(t, 2, result.NewEvents)
				assert.Equal(t, 2, result.Published)
				assert.Nil(t, result.Error)
			},
		},
		{
			name: "empty history",
			mockActivities: func(compute, record *testsuite.MockCallWrapper) {
				compute.Return(&ComputeActivityHistoryResult{}, nil)
				record.Return(nil)
			},
			validateResult: func(t *testing.T, result *RefreshMintResult) {
				assert.Equal(t, 0, result.EventCount)
				assert.Equal(t, 0, result.Published)
			},
		},
		{
			name: "compute fails",
			mockActivities: func(compute, record *testsuite.MockCallWrapper) {
				compute.Return(nil, temporalsdk.NewNonRetryableApplicationError("invalid mint", "InvalidAddress", nil))
				record.Return(nil)
			},
			expectedError: true,
		},
		{
			name: "record poll fails",
			mockActivities: func(compute, record *testsuite.MockCallWrapper) {
				compute.Return(computedHistory(), nil)
				record.Return(temporalsdk.NewNonRetryableApplicationError("db down", "Store", nil))
			},
			expectedError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newWorkflowEnv(t)
			activities := &Activities{}

			compute := env.OnActivity(activities.ComputeActivityHistory, mock.Anything, mock.Anything)
			record := env.OnActivity(activities.RecordMintPoll, mock.Anything, mock.Anything)
			tt.mockActivities(compute, record)

			env.ExecuteWorkflow(RefreshMintActivityWorkflow, RefreshMintInput{Mint: testMint})
			require.True(t, env.IsWorkflowCompleted())

			if tt.expectedError {
				assert.Error(t, env.GetWorkflowError())
				return
			}

			require.NoError(t, env.GetWorkflowError())
			var result RefreshMintResult
			require.NoError(t, env.GetWorkflowResult(&result))
			tt.validateResult(t, &result)
		})
	}
}

func TestRefreshMintActivityWorkflow_RecordsFailure(t *testing.T) {
	env := newWorkflowEnv(t)
	activities := &Activities{}

	env.OnActivity(activities.ComputeActivityHistory, mock.Anything, mock.Anything).
		Return(nil, temporalsdk.NewNonRetryableApplicationError("invalid mint", "InvalidAddress", nil))

	var recorded RecordMintPollInput
	env.OnActivity(activities.RecordMintPoll, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			recorded = args.Get(1).(RecordMintPollInput)
		}).
		Return(nil)

	env.ExecuteWorkflow(RefreshMintActivityWorkflow, RefreshMintInput{Mint: testMint})

	assert.Error(t, env.GetWorkflowError())
	assert.Equal(t, testMint, recorded.Mint)
	assert.Equal(t, PollStatusError, recorded.Status)
}

func TestRefreshMintActivityWorkflow_ActivityRetries(t *testing.T) {
	env := newWorkflowEnv(t)
	activities := &Activities{}

	// Fail twice then succeed
	callCount := 0
	env.OnActivity(activities.ComputeActivityHistory, mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		callCount++
		if callCount < 3 {
			panic("transient error") // Temporal retries on panics
		}
	}).Return(computedHistory(), nil)

	var recorded RecordMintPollInput
	env.OnActivity(activities.RecordMintPoll, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			recorded = args.Get(1).(RecordMintPollInput)
		}).
		Return(nil)

	env.ExecuteWorkflow(RefreshMintActivityWorkflow, RefreshMintInput{Mint: testMint})

	// Workflow should succeed after retries
	assert.NoError(t, env.GetWorkflowError())
	assert.Equal(t, 3, callCount)
	assert.Equal(t, PollStatusSuccess, recorded.Status)
	assert.Equal(t, 5, recorded.EventCount)
	require.NotNil(t, recorded.LastSlot)
	assert.Equal(t, uint64(120), *recorded.LastSlot)
	assert.WithinDuration(t, recorded.StartedAt, recorded.PollTime, time.Second)
}
