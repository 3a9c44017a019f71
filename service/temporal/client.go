package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.temporal.io/sdk/client"
)

// Client is a production implementation of Scheduler that talks to Temporal.
type Client struct {
	client    client.Client
	taskQueue string
	logger    *slog.Logger
}

// NewClient creates a new Temporal client.
func NewClient(host, namespace, taskQueue string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("connecting to temporal",
		"host", host,
		"namespace", namespace,
		"task_queue", taskQueue,
	)

	c, err := client.Dial(client.Options{
		HostPort:  host,
		Namespace: namespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}

	logger.Info("connected to temporal successfully")

	return &Client{
		client:    c,
		taskQueue: taskQueue,
		logger:    logger,
	}, nil
}

// scheduleOptions builds the schedule that refreshes mint every interval.
func scheduleOptions(mint, taskQueue string, interval time.Duration) client.ScheduleOptions {
	return client.ScheduleOptions{
		ID: ScheduleID(mint),
		Spec: client.ScheduleSpec{
			Intervals: []client.ScheduleIntervalSpec{
				{Every: interval},
			},
		},
		Action: &client.ScheduleWorkflowAction{
			ID:        "refresh-mint-" + mint,
			Workflow:  RefreshMintActivityWorkflow,
			TaskQueue: taskQueue,
			Args:      []interface{}{RefreshMintInput{Mint: mint}},
		},
		Memo: map[string]interface{}{
			"mint":       mint,
			"created_by": "nftactivity",
		},
	}
}

// CreateMintSchedule creates a new Temporal schedule for refreshing a mint.
func (c *Client) CreateMintSchedule(ctx context.Context, mint string, interval time.Duration) error {
	id := ScheduleID(mint)

	c.logger.DebugContext(ctx, "creating mint schedule",
		"mint", mint,
		"schedule_id", id,
		"interval", interval,
	)

	_, err := c.client.ScheduleClient().Create(ctx, scheduleOptions(mint, c.taskQueue, interval))
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to create schedule",
			"mint", mint,
			"schedule_id", id,
			"error", err,
		)
		return fmt.Errorf("failed to create schedule %q: %w", id, err)
	}

	c.logger.InfoContext(ctx, "mint schedule created",
		"mint", mint,
		"schedule_id", id,
		"interval", interval,
	)

	return nil
}

// UpsertMintSchedule creates or updates a Temporal schedule for refreshing a mint.
// If the schedule already exists, it updates the interval. Otherwise, it creates a new schedule.
func (c *Client) UpsertMintSchedule(ctx context.Context, mint string, interval time.Duration) error {
	id := ScheduleID(mint)

	handle := c.client.ScheduleClient().GetHandle(ctx, id)
	if _, err := handle.Describe(ctx); err != nil {
		// Schedule doesn't exist or error getting it - create new one
		c.logger.DebugContext(ctx, "schedule not found, creating new one",
			"schedule_id", id,
			"error", err,
		)
		return c.CreateMintSchedule(ctx, mint, interval)
	}

	err := handle.Update(ctx, client.ScheduleUpdateOptions{
		DoUpdate: func(input client.ScheduleUpdateInput) (*client.ScheduleUpdate, error) {
			input.Description.Schedule.Spec.Intervals = []client.ScheduleIntervalSpec{
				{Every: interval},
			}
			return &client.ScheduleUpdate{
				Schedule: &input.Description.Schedule,
			}, nil
		},
	})
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to update schedule",
			"mint", mint,
			"schedule_id", id,
			"error", err,
		)
		return fmt.Errorf("failed to update schedule %q: %w", id, err)
	}

	c.logger.InfoContext(ctx, "mint schedule updated",
		"mint", mint,
		"schedule_id", id,
		"interval", interval,
	)

	return nil
}

// DeleteMintSchedule deletes the Temporal schedule for a mint.
func (c *Client) DeleteMintSchedule(ctx context.Context, mint string) error {
	id := ScheduleID(mint)

	handle := c.client.ScheduleClient().GetHandle(ctx, id)
	if err := handle.Delete(ctx); err != nil {
		c.logger.ErrorContext(ctx, "failed to delete schedule",
			"mint", mint,
			"schedule_id", id,
			"error", err,
		)
		return fmt.Errorf("failed to delete schedule %q: %w", id, err)
	}

	c.logger.InfoContext(ctx, "mint schedule deleted",
		"mint", mint,
		"schedule_id", id,
	)

	return nil
}

// SDKClient returns the underlying Temporal SDK client for direct workflow operations.
func (c *Client) SDKClient() client.Client {
	return c.client
}

// TaskQueue returns the configured task queue for this client.
func (c *Client) TaskQueue() string {
	return c.taskQueue
}

// Close closes the Temporal client connection.
func (c *Client) Close() {
	c.logger.Info("closing temporal client")
	c.client.Close()
}

// temporalLogger adapts slog.Logger to Temporal's logger interface.
type temporalLogger struct {
	logger *slog.Logger
}

func newTemporalLogger(logger *slog.Logger) *temporalLogger {
	return &temporalLogger{logger: logger}
}

func (l *temporalLogger) Debug(msg string, keyvals ...interface{}) {
	l.logger.Debug(msg, keyvals...)
}

func (l *temporalLogger) Info(msg string, keyvals ...interface{}) {
	l.logger.Info(msg, keyvals...)
}

func (l *temporalLogger) Warn(msg string, keyvals ...interface{}) {
	l.logger.Warn(msg, keyvals...)
}

func (l *temporalLogger) Error(msg string, keyvals ...interface{}) {
	l.logger.Error(msg, keyvals...)
}
