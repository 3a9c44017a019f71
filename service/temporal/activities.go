package temporal

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/brojonat/nftactivity/service/activity"
	"github.com/brojonat/nftactivity/service/db"
	"github.com/brojonat/nftactivity/service/metrics"
	natspkg "github.com/brojonat/nftactivity/service/nats"
	temporalsdk "go.temporal.io/sdk/temporal"
)

// Poll outcomes passed to RecordMintPoll.
const (
	PollStatusSuccess = "success"
	PollStatusError   = "error"
)

// RefreshMintInput contains the input parameters for refreshing a watched mint.
type RefreshMintInput struct {
	Mint string `json:"mint"`
}

// RefreshMintResult contains the result of refreshing a watched mint.
type RefreshMintResult struct {
	Mint       string    `json:"mint"`
	EventCount int       `json:"event_count"`
	NewEvents  int       `json:"new_events"`
	Published  int       `json:"published"`
	PollTime   time.Time `json:"poll_time"`
	Error      *string   `json:"error,omitempty"`
}

// ComputeActivityHistoryInput contains parameters for the ComputeActivityHistory activity.
type ComputeActivityHistoryInput struct {
	Mint string `json:"mint"`
}

// ComputeActivityHistoryResult summarizes a refresh. The events themselves
// never leave the activity.
type ComputeActivityHistoryResult struct {
	EventCount int     `json:"event_count"`
	NewEvents  int     `json:"new_events"`
	Published  int     `json:"published"`
	LatestSlot *uint64 `json:"latest_slot,omitempty"`
}

// RecordMintPollInput contains parameters for the RecordMintPoll activity.
type RecordMintPollInput struct {
	Mint       string    `json:"mint"`
	Status     string    `json:"status"`
	PollTime   time.Time `json:"poll_time"`
	EventCount int       `json:"event_count"`
	LastSlot   *uint64   `json:"last_slot,omitempty"`
	StartedAt  time.Time `json:"started_at"`
}

// HistoryInterface defines the activity history computation needed by activities.
// This allows for easy mocking in tests.
type HistoryInterface interface {
	GetActivityHistory(ctx context.Context, mint string) ([]activity.Event, error)
}

// StoreInterface defines the database operations needed by activities.
// This allows for easy mocking in tests.
type StoreInterface interface {
	GetWatchedMint(ctx context.Context, mint string) (*db.WatchedMint, error)
	RecordMintPoll(ctx context.Context, mint string, pollTime time.Time, eventCount int, lastSlot *uint64) (*db.WatchedMint, error)
	UpdateWatchedMintStatus(ctx context.Context, mint, status string) (*db.WatchedMint, error)
}

// PublisherInterface defines the NATS publishing operations needed by activities.
// This allows for easy mocking in tests.
type PublisherInterface interface {
	PublishActivityBatch(ctx context.Context, msgs []*natspkg.ActivityMessage) (int, error)
}

// Activities holds the dependencies needed by Temporal activities.
// Following go-kit pattern, all dependencies are explicit.
type Activities struct {
	history   HistoryInterface
	store     StoreInterface
	publisher PublisherInterface
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewActivities creates a new Activities instance with explicit dependencies.
// If metrics is nil, no metrics will be recorded. A nil publisher disables
// event fan-out.
func NewActivities(
	history HistoryInterface,
	store StoreInterface,
	publisher PublisherInterface,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activities{
		history:   history,
		store:     store,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
	}
}

func (a *Activities) timeActivity(name, mint string) func() {
	return metrics.Timer(time.Now(), func(d float64) {
		if a.metrics != nil {
			a.metrics.RecordActivityDuration(name, mint, d)
		}
	})
}

// ComputeActivityHistory reconstructs the activity history of a mint and
// publishes the events above the mint's recorded slot watermark, oldest
// first. An address that is not an NFT mint fails without retry.
//
// LatestSlot is only set once every new event reached the stream, so a
// caller that records it never skips an unpublished event.
func (a *Activities) ComputeActivityHistory(ctx context.Context, input ComputeActivityHistoryInput) (*ComputeActivityHistoryResult, error) {
	defer a.timeActivity("ComputeActivityHistory", input.Mint)()

	a.logger.DebugContext(ctx, "computing activity history", "mint", input.Mint)

	afterSlot, err := a.publishedSlot(ctx, input.Mint)
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to load watched mint",
			"mint", input.Mint,
			"error", err,
		)
		return nil, fmt.Errorf("failed to load watched mint: %w", err)
	}

	events, err := a.history.GetActivityHistory(ctx, input.Mint)
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to compute activity history",
			"mint", input.Mint,
			"error", err,
		)
		if errors.Is(err, activity.ErrInvalidAddress) {
			return nil, temporalsdk.NewNonRetryableApplicationError(
				fmt.Sprintf("invalid mint %s", input.Mint), "InvalidAddress", err)
		}
		return nil, fmt.Errorf("failed to compute activity history: %w", err)
	}

	fresh := newActivityMessages(input.Mint, events, afterSlot)
	result := &ComputeActivityHistoryResult{
		EventCount: len(events),
		NewEvents:  len(fresh),
	}

	a.logger.InfoContext(ctx, "computed activity history",
		"mint", input.Mint,
		"count", result.EventCount,
		"new", result.NewEvents,
	)

	if len(fresh) == 0 {
		result.LatestSlot = latestSlot(events)
		return result, nil
	}
	if a.publisher == nil {
		a.logger.WarnContext(ctx, "publisher is nil, skipping publish", "mint", input.Mint)
		return result, nil
	}

	published, err := a.publisher.PublishActivityBatch(ctx, fresh)
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to publish activity events",
			"mint", input.Mint,
			"published", published,
			"total", len(fresh),
			"error", err,
		)
		return nil, fmt.Errorf("failed to publish activity events: %w", err)
	}
	result.Published = published
	result.LatestSlot = latestSlot(events)

	a.logger.InfoContext(ctx, "published activity events",
		"mint", input.Mint,
		"published", published,
		"duplicates", len(fresh)-published,
	)

	return result, nil
}

// publishedSlot returns the slot watermark of a watched mint, or nil when
// nothing has been published yet or the mint is not watched.
func (a *Activities) publishedSlot(ctx context.Context, mint string) (*uint64, error) {
	if a.store == nil {
		return nil, nil
	}
	watched, err := a.store.GetWatchedMint(ctx, mint)
	if errors.Is(err, db.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return watched.LastSlot, nil
}

// newActivityMessages converts the events above afterSlot into messages,
// oldest first. A nil afterSlot selects every event.
func newActivityMessages(mint string, events []activity.Event, afterSlot *uint64) []*natspkg.ActivityMessage {
	msgs := make([]*natspkg.ActivityMessage, 0)
	for _, e := range events {
		if afterSlot != nil && e.Slot <= *afterSlot {
			continue
		}
		msgs = append(msgs, natspkg.FromEvent(mint, e))
	}
	slices.SortStableFunc(msgs, func(x, y *natspkg.ActivityMessage) int {
		return cmp.Compare(x.Slot, y.Slot)
	})
	return msgs
}

func latestSlot(events []activity.Event) *uint64 {
	if len(events) == 0 {
		return nil
	}
	var latest uint64
	for _, e := range events {
		latest = max(latest, e.Slot)
	}
	return &latest
}

// RecordMintPoll stores the outcome of a refresh on the watched mint.
// A mint that was unwatched while the refresh ran is ignored.
func (a *Activities) RecordMintPoll(ctx context.Context, input RecordMintPollInput) error {
	defer a.timeActivity("RecordMintPoll", input.Mint)()

	if a.metrics != nil && !input.StartedAt.IsZero() {
		a.metrics.RecordWorkflowDuration(input.Mint, input.Status, time.Since(input.StartedAt).Seconds())
	}

	var (
		mint *db.WatchedMint
		err  error
	)
	if input.Status == PollStatusError {
		mint, err = a.store.UpdateWatchedMintStatus(ctx, input.Mint, db.StatusError)
	} else {
		mint, err = a.store.RecordMintPoll(ctx, input.Mint, input.PollTime, input.EventCount, input.LastSlot)
		if err == nil && mint.Status == db.StatusError {
			mint, err = a.store.UpdateWatchedMintStatus(ctx, input.Mint, db.StatusActive)
		}
	}
	if errors.Is(err, db.ErrNotFound) {
		a.logger.WarnContext(ctx, "watched mint no longer exists", "mint", input.Mint)
		return nil
	}
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to record mint poll",
			"mint", input.Mint,
			"error", err,
		)
		return fmt.Errorf("failed to record mint poll: %w", err)
	}

	a.logger.DebugContext(ctx, "recorded mint poll",
		"mint", input.Mint,
		"status", mint.Status,
		"event_count", input.EventCount,
	)
	return nil
}
