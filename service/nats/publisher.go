package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/nftactivity/service/metrics"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Publisher defines the interface for publishing activity events to NATS.
type Publisher interface {
	// PublishActivity publishes a single activity message to JetStream.
	// The message is published to the subject "activity.{mint}".
	PublishActivity(ctx context.Context, msg *ActivityMessage) error

	// PublishActivityBatch publishes multiple activity messages and returns
	// how many were stored. Messages the stream already holds are not counted.
	PublishActivityBatch(ctx context.Context, msgs []*ActivityMessage) (int, error)

	// Close closes the connection to NATS.
	Close() error
}

// JetStreamPublisher publishes activity events to NATS JetStream.
type JetStreamPublisher struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	metrics *metrics.Metrics
	logger  *slog.Logger
}

const (
	// StreamName is the name of the JetStream stream for activity events.
	StreamName = "NFT_ACTIVITY"

	// StreamSubjects is the subject pattern for the stream.
	StreamSubjects = "activity.*"

	// StreamRetention is how long messages are retained (30 days by default).
	StreamRetention = 30 * 24 * time.Hour

	// DuplicateWindow is how long the stream remembers message IDs. It bounds
	// the longest poll interval a watched mint may use, so a refresh retried
	// after a failed poll record cannot store an event twice.
	DuplicateWindow = 7 * 24 * time.Hour
)

// Connect opens a NATS connection with the service's reconnect settings.
func Connect(natsURL, name string) (*nats.Conn, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name(name),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1), // Unlimited reconnects
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return nc, nil
}

// NewPublisher creates a new JetStream publisher.
// It connects to NATS and ensures the stream exists.
func NewPublisher(natsURL string, m *metrics.Metrics, logger *slog.Logger) (*JetStreamPublisher, error) {
	nc, err := Connect(natsURL, "nftactivity-publisher")
	if err != nil {
		return nil, err
	}

	// Create JetStream context
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	publisher := &JetStreamPublisher{
		nc:      nc,
		js:      js,
		metrics: m,
		logger:  logger,
	}

	// Ensure stream exists
	if err := publisher.ensureStream(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream exists: %w", err)
	}

	logger.Info("NATS publisher initialized",
		"url", natsURL,
		"stream", StreamName,
	)

	return publisher, nil
}

// StreamConfig returns the configuration of the activity stream.
func StreamConfig() jetstream.StreamConfig {
	return jetstream.StreamConfig{
		Name:        StreamName,
		Description: "NFT activity events",
		Subjects:    []string{StreamSubjects},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      StreamRetention,
		Duplicates:  DuplicateWindow,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	}
}

// ensureStream creates the JetStream stream if it doesn't exist.
func (p *JetStreamPublisher) ensureStream() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Try to get existing stream
	stream, err := p.js.Stream(ctx, StreamName)
	if err == nil {
		info, err := stream.Info(ctx)
		if err != nil {
			return nil
		}
		p.logger.Debug("JetStream stream already exists",
			"stream", StreamName,
			"messages", info.State.Msgs,
		)
		if info.Config.Duplicates != DuplicateWindow {
			p.logger.Info("updating JetStream duplicate window",
				"stream", StreamName,
				"from", info.Config.Duplicates,
				"to", DuplicateWindow,
			)
			if _, err := p.js.UpdateStream(ctx, StreamConfig()); err != nil {
				return fmt.Errorf("failed to update stream: %w", err)
			}
		}
		return nil
	}

	p.logger.Info("creating JetStream stream", "stream", StreamName)

	_, err = p.js.CreateStream(ctx, StreamConfig())
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	p.logger.Info("JetStream stream created successfully", "stream", StreamName)
	return nil
}

// PublishActivity publishes a single activity message.
func (p *JetStreamPublisher) PublishActivity(ctx context.Context, msg *ActivityMessage) error {
	_, err := p.publish(ctx, msg)
	return err
}

// publish sends msg and reports whether the stream already held it.
func (p *JetStreamPublisher) publish(ctx context.Context, msg *ActivityMessage) (bool, error) {
	subject := msg.Subject()
	start := time.Now()

	data, err := json.Marshal(msg)
	if err != nil {
		return false, fmt.Errorf("failed to marshal activity message: %w", err)
	}

	ack, err := p.js.Publish(ctx, subject, data, jetstream.WithMsgID(msg.MsgID()))
	if p.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		p.metrics.RecordNATSPublish(StreamSubjects, status, time.Since(start).Seconds())
	}
	if err != nil {
		return false, fmt.Errorf("failed to publish activity: %w", err)
	}

	p.logger.DebugContext(ctx, "published activity event",
		"subject", subject,
		"signature", msg.Signature,
		"kind", msg.Kind,
		"duplicate", ack.Duplicate,
	)

	return ack.Duplicate, nil
}

// PublishActivityBatch publishes every message, continuing past failures.
// It returns the number newly stored and the first error seen.
func (p *JetStreamPublisher) PublishActivityBatch(ctx context.Context, msgs []*ActivityMessage) (int, error) {
	if len(msgs) == 0 {
		return 0, nil
	}

	published, duplicates := 0, 0
	var firstErr error
	for _, msg := range msgs {
		duplicate, err := p.publish(ctx, msg)
		if err != nil {
			p.logger.ErrorContext(ctx, "failed to publish activity in batch",
				"signature", msg.Signature,
				"mint", msg.Mint,
				"error", err,
			)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if duplicate {
			duplicates++
			continue
		}
		published++
	}

	p.logger.DebugContext(ctx, "published activity batch",
		"count", published,
		"duplicates", duplicates,
		"total", len(msgs),
	)

	return published, firstErr
}

// Close closes the connection to NATS.
func (p *JetStreamPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
		p.logger.Info("NATS publisher closed")
	}
	return nil
}
