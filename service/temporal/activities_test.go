package temporal

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/brojonat/nftactivity/service/activity"
	"github.com/brojonat/nftactivity/service/db"
	natspkg "github.com/brojonat/nftactivity/service/nats"
	"github.com/brojonat/nftactivity/service/solana"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	temporalsdk "go.temporal.io/sdk/temporal"
)

const testMint = "So11111111111111111111111111111111111111112"

// Mock History
type MockHistory struct {
	mock.Mock
}

func (m *MockHistory) GetActivityHistory(ctx context.Context, mint string) ([]activity.Event, error) {
	args := m.Called(ctx, mint)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]activity.Event), args.Error(1)
}

// Mock Store
type MockStore struct {
	mock.Mock
}

func (m *MockStore) GetWatchedMint(ctx context.Context, mint string) (*db.WatchedMint, error) {
	args := m.Called(ctx, mint)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*db.WatchedMint), args.Error(1)
}

func (m *MockStore) RecordMintPoll(ctx context.Context, mint string, pollTime time.Time, eventCount int, lastSlot *uint64) (*db.WatchedMint, error) {
	args := m.Called(ctx, mint, pollTime, eventCount, lastSlot)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*db.WatchedMint), args.Error(1)
}

func (m *MockStore) UpdateWatchedMintStatus(ctx context.Context, mint, status string) (*db.WatchedMint, error) {
	args := m.Called(ctx, mint, status)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*db.WatchedMint), args.Error(1)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testEvents() []activity.Event {
	bt := time.Unix(1650000300, 0).UTC()
	sale := &solana.TransactionRecord{Signatures: []string{"sale-sig"}, Slot: 3, BlockTime: &bt}
	listing := &solana.TransactionRecord{Signatures: []string{"listing-sig"}, Slot: 2}
	return []activity.Event{
		activity.NewSaleEvent(sale, "buyer", big.NewInt(5_000_000_000)),
		activity.NewListingEvent(listing, "seller"),
	}
}

func slotPtr(n uint64) *uint64 {
	return &n
}

func watchedAt(slot *uint64) *db.WatchedMint {
	return &db.WatchedMint{Mint: testMint, Status: db.StatusActive, LastSlot: slot}
}

func TestActivities_ComputeActivityHistory(t *testing.T) {
	t.Run("first refresh publishes the whole history oldest first", func(t *testing.T) {
		history := new(MockHistory)
		history.On("GetActivityHistory", mock.Anything, testMint).Return(testEvents(), nil)
		store := new(MockStore)
		store.On("GetWatchedMint", mock.Anything, testMint).Return(watchedAt(nil), nil)
		pub := natspkg.NewMockPublisher()

		acts := NewActivities(history, store, pub, nil, testLogger())
		result, err := acts.ComputeActivityHistory(context.Background(), ComputeActivityHistoryInput{Mint: testMint})
		require.NoError(t, err)

		assert.Equal(t, 2, result.EventCount)
		assert.Equal(t, 2, result.NewEvents)
		assert.Equal(t, 2, result.Published)
		require.NotNil(t, result.LatestSlot)
		assert.Equal(t, uint64(3), *result.LatestSlot)

		published := pub.GetPublished()
		require.Len(t, published, 2)
		assert.Equal(t, "listing", published[0].Kind)
		assert.Equal(t, "sale", published[1].Kind)
		assert.Equal(t, "5000000000", published[1].Lamports)
		assert.Equal(t, "5", published[1].PriceSOL)
		assert.Equal(t, testMint, published[1].Mint)
		history.AssertExpectations(t)
		store.AssertExpectations(t)
	})

	t.Run("only events above the watermark are published", func(t *testing.T) {
		history := new(MockHistory)
		history.On("GetActivityHistory", mock.Anything, testMint).Return(testEvents(), nil)
		store := new(MockStore)
		store.On("GetWatchedMint", mock.Anything, testMint).Return(watchedAt(slotPtr(2)), nil)
		pub := natspkg.NewMockPublisher()

		acts := NewActivities(history, store, pub, nil, testLogger())
		result, err := acts.ComputeActivityHistory(context.Background(), ComputeActivityHistoryInput{Mint: testMint})
		require.NoError(t, err)

		assert.Equal(t, 2, result.EventCount)
		assert.Equal(t, 1, result.NewEvents)
		assert.Equal(t, 1, result.Published)
		require.Len(t, pub.GetPublished(), 1)
		assert.Equal(t, "sale-sig", pub.GetPublished()[0].Signature)
	})

	t.Run("later refreshes do not re-publish old events", func(t *testing.T) {
		history := new(MockHistory)
		history.On("GetActivityHistory", mock.Anything, testMint).Return(testEvents(), nil)
		store := new(MockStore)
		pub := natspkg.NewMockPublisher()
		acts := NewActivities(history, store, pub, nil, testLogger())

		store.On("GetWatchedMint", mock.Anything, testMint).Return(watchedAt(nil), nil).Once()
		first, err := acts.ComputeActivityHistory(context.Background(), ComputeActivityHistoryInput{Mint: testMint})
		require.NoError(t, err)
		require.Equal(t, 2, first.Published)

		// The stream has forgotten the message IDs; the watermark still
		// keeps the old events out.
		pub.Reset()
		store.On("GetWatchedMint", mock.Anything, testMint).Return(watchedAt(first.LatestSlot), nil).Once()
		second, err := acts.ComputeActivityHistory(context.Background(), ComputeActivityHistoryInput{Mint: testMint})
		require.NoError(t, err)

		assert.Equal(t, 2, second.EventCount)
		assert.Equal(t, 0, second.NewEvents)
		assert.Equal(t, 0, second.Published)
		assert.Equal(t, 0, pub.GetPublishedCount())
		require.NotNil(t, second.LatestSlot)
		assert.Equal(t, uint64(3), *second.LatestSlot)
		store.AssertExpectations(t)
	})

	t.Run("duplicates are not counted as published", func(t *testing.T) {
		history := new(MockHistory)
		history.On("GetActivityHistory", mock.Anything, testMint).Return(testEvents(), nil)
		store := new(MockStore)
		store.On("GetWatchedMint", mock.Anything, testMint).Return(watchedAt(nil), nil)
		pub := natspkg.NewMockPublisher()
		acts := NewActivities(history, store, pub, nil, testLogger())

		_, err := acts.ComputeActivityHistory(context.Background(), ComputeActivityHistoryInput{Mint: testMint})
		require.NoError(t, err)
		retry, err := acts.ComputeActivityHistory(context.Background(), ComputeActivityHistoryInput{Mint: testMint})
		require.NoError(t, err)

		assert.Equal(t, 2, retry.NewEvents)
		assert.Equal(t, 0, retry.Published)
		assert.Equal(t, 2, pub.GetPublishedCount())
	})

	t.Run("unwatched mint publishes everything", func(t *testing.T) {
		history := new(MockHistory)
		history.On("GetActivityHistory", mock.Anything, testMint).Return(testEvents(), nil)
		store := new(MockStore)
		store.On("GetWatchedMint", mock.Anything, testMint).Return(nil, db.ErrNotFound)
		pub := natspkg.NewMockPublisher()

		acts := NewActivities(history, store, pub, nil, testLogger())
		result, err := acts.ComputeActivityHistory(context.Background(), ComputeActivityHistoryInput{Mint: testMint})
		require.NoError(t, err)
		assert.Equal(t, 2, result.Published)
	})

	t.Run("store failure is retryable", func(t *testing.T) {
		history := new(MockHistory)
		store := new(MockStore)
		store.On("GetWatchedMint", mock.Anything, testMint).Return(nil, errors.New("connection refused"))

		acts := NewActivities(history, store, natspkg.NewMockPublisher(), nil, testLogger())
		_, err := acts.ComputeActivityHistory(context.Background(), ComputeActivityHistoryInput{Mint: testMint})
		require.Error(t, err)
		history.AssertNotCalled(t, "GetActivityHistory", mock.Anything, mock.Anything)
	})

	t.Run("publish failure does not advance the watermark", func(t *testing.T) {
		history := new(MockHistory)
		history.On("GetActivityHistory", mock.Anything, testMint).Return(testEvents(), nil)
		pub := natspkg.NewMockPublisher()
		pub.SetPublishError(errors.New("nats unavailable"))

		acts := NewActivities(history, nil, pub, nil, testLogger())
		result, err := acts.ComputeActivityHistory(context.Background(), ComputeActivityHistoryInput{Mint: testMint})
		require.Error(t, err)
		assert.Nil(t, result)
	})

	t.Run("nil publisher leaves the watermark unset", func(t *testing.T) {
		history := new(MockHistory)
		history.On("GetActivityHistory", mock.Anything, testMint).Return(testEvents(), nil)

		acts := NewActivities(history, nil, nil, nil, testLogger())
		result, err := acts.ComputeActivityHistory(context.Background(), ComputeActivityHistoryInput{Mint: testMint})
		require.NoError(t, err)
		assert.Equal(t, 2, result.NewEvents)
		assert.Equal(t, 0, result.Published)
		assert.Nil(t, result.LatestSlot)
	})

	t.Run("invalid address is not retried", func(t *testing.T) {
		history := new(MockHistory)
		history.On("GetActivityHistory", mock.Anything, testMint).
			Return(nil, errors.Join(activity.ErrInvalidAddress, errors.New("no metadata")))

		acts := NewActivities(history, nil, nil, nil, testLogger())
		_, err := acts.ComputeActivityHistory(context.Background(), ComputeActivityHistoryInput{Mint: testMint})
		require.Error(t, err)

		var appErr *temporalsdk.ApplicationError
		require.ErrorAs(t, err, &appErr)
		assert.True(t, appErr.NonRetryable())
		assert.Equal(t, "InvalidAddress", appErr.Type())
	})

	t.Run("upstream failure is retryable", func(t *testing.T) {
		history := new(MockHistory)
		history.On("GetActivityHistory", mock.Anything, testMint).
			Return(nil, errors.Join(activity.ErrUpstreamUnavailable, errors.New("429")))

		acts := NewActivities(history, nil, nil, nil, testLogger())
		_, err := acts.ComputeActivityHistory(context.Background(), ComputeActivityHistoryInput{Mint: testMint})
		require.Error(t, err)

		var appErr *temporalsdk.ApplicationError
		assert.False(t, errors.As(err, &appErr))
		assert.ErrorIs(t, err, activity.ErrUpstreamUnavailable)
	})
}

func TestActivities_RecordMintPoll(t *testing.T) {
	pollTime := time.Now().UTC()

	t.Run("success", func(t *testing.T) {
		store := new(MockStore)
		store.On("RecordMintPoll", mock.Anything, testMint, pollTime, 4, slotPtr(90)).
			Return(&db.WatchedMint{Mint: testMint, Status: db.StatusActive, LastSlot: slotPtr(90)}, nil)

		acts := NewActivities(nil, store, nil, nil, testLogger())
		err := acts.RecordMintPoll(context.Background(), RecordMintPollInput{
			Mint: testMint, Status: PollStatusSuccess, PollTime: pollTime, EventCount: 4, LastSlot: slotPtr(90),
		})
		require.NoError(t, err)
		store.AssertExpectations(t)
		store.AssertNotCalled(t, "UpdateWatchedMintStatus", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("success clears error status", func(t *testing.T) {
		store := new(MockStore)
		store.On("RecordMintPoll", mock.Anything, testMint, pollTime, 0, (*uint64)(nil)).
			Return(&db.WatchedMint{Mint: testMint, Status: db.StatusError}, nil)
		store.On("UpdateWatchedMintStatus", mock.Anything, testMint, db.StatusActive).
			Return(&db.WatchedMint{Mint: testMint, Status: db.StatusActive}, nil)

		acts := NewActivities(nil, store, nil, nil, testLogger())
		err := acts.RecordMintPoll(context.Background(), RecordMintPollInput{
			Mint: testMint, Status: PollStatusSuccess, PollTime: pollTime,
		})
		require.NoError(t, err)
		store.AssertExpectations(t)
	})

	t.Run("failure marks error", func(t *testing.T) {
		store := new(MockStore)
		store.On("UpdateWatchedMintStatus", mock.Anything, testMint, db.StatusError).
			Return(&db.WatchedMint{Mint: testMint, Status: db.StatusError}, nil)

		acts := NewActivities(nil, store, nil, nil, testLogger())
		err := acts.RecordMintPoll(context.Background(), RecordMintPollInput{
			Mint: testMint, Status: PollStatusError, PollTime: pollTime,
		})
		require.NoError(t, err)
		store.AssertExpectations(t)
	})

	t.Run("unwatched mint is ignored", func(t *testing.T) {
		store := new(MockStore)
		store.On("RecordMintPoll", mock.Anything, testMint, pollTime, 1, mock.Anything).Return(nil, db.ErrNotFound)

		acts := NewActivities(nil, store, nil, nil, testLogger())
		err := acts.RecordMintPoll(context.Background(), RecordMintPollInput{
			Mint: testMint, Status: PollStatusSuccess, PollTime: pollTime, EventCount: 1,
		})
		assert.NoError(t, err)
	})

	t.Run("database error", func(t *testing.T) {
		store := new(MockStore)
		store.On("RecordMintPoll", mock.Anything, testMint, pollTime, 1, mock.Anything).Return(nil, errors.New("connection refused"))

		acts := NewActivities(nil, store, nil, nil, testLogger())
		err := acts.RecordMintPoll(context.Background(), RecordMintPollInput{
			Mint: testMint, Status: PollStatusSuccess, PollTime: pollTime, EventCount: 1,
		})
		assert.Error(t, err)
	})
}

func TestScheduleID(t *testing.T) {
	assert.Equal(t, "watch-mint-"+testMint, ScheduleID(testMint))

	opts := scheduleOptions(testMint, "queue", time.Minute)
	assert.Equal(t, ScheduleID(testMint), opts.ID)
	require.Len(t, opts.Spec.Intervals, 1)
	assert.Equal(t, time.Minute, opts.Spec.Intervals[0].Every)

	mint, ok := MintFromScheduleID(ScheduleID(testMint))
	require.True(t, ok)
	assert.Equal(t, testMint, mint)

	_, ok = MintFromScheduleID("poll-wallet-abc")
	assert.False(t, ok)
	_, ok = MintFromScheduleID(ScheduleIDPrefix)
	assert.False(t, ok)
}

func TestMockScheduler(t *testing.T) {
	ctx := context.Background()
	s := NewMockScheduler()

	require.NoError(t, s.UpsertMintSchedule(ctx, testMint, time.Minute))
	require.NoError(t, s.UpsertMintSchedule(ctx, testMint, time.Hour))
	assert.Equal(t, 1, s.ScheduleCount())
	interval, ok := s.GetScheduleInterval(testMint)
	require.True(t, ok)
	assert.Equal(t, time.Hour, interval)

	require.NoError(t, s.DeleteMintSchedule(ctx, testMint))
	assert.False(t, s.ScheduleExists(testMint))
	assert.Error(t, s.DeleteMintSchedule(ctx, testMint))
}
