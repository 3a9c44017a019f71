package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	natspkg "github.com/brojonat/nftactivity/service/nats"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/urfave/cli/v2"
)

// subscribeCommand subscribes to activity events for one mint or all mints.
func subscribeCommand() *cli.Command {
	return &cli.Command{
		Name:      "subscribe",
		Usage:     "Subscribe to activity events for a mint",
		ArgsUsage: "[mint]",
		Description: `Subscribe to real-time activity events published to NATS JetStream.

Events for a mint are published to the subject activity.{mint} each time its
schedule refreshes the history. Omit the mint to receive events for every
watched mint.

Example:
  nftactivity nats subscribe <mint> --json`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "durable",
				Aliases: []string{"d"},
				Usage:   "Create a durable consumer (survives restarts)",
			},
			&cli.StringFlag{
				Name:  "consumer-name",
				Usage: "Consumer name (required for durable)",
				Value: "nftactivity-cli",
			},
			&cli.BoolFlag{
				Name:  "all",
				Usage: "Replay every retained event instead of only new ones",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() > 1 {
				return fmt.Errorf("accepts at most one argument: mint address")
			}

			subject := natspkg.StreamSubjects
			if mint := c.Args().First(); mint != "" {
				subject = natspkg.SubjectForMint(mint)
			}

			consumerConfig := jetstream.ConsumerConfig{
				FilterSubject: subject,
				AckPolicy:     jetstream.AckExplicitPolicy,
				DeliverPolicy: jetstream.DeliverNewPolicy,
			}
			if c.Bool("all") {
				consumerConfig.DeliverPolicy = jetstream.DeliverAllPolicy
			}
			if c.Bool("durable") {
				consumerConfig.Durable = c.String("consumer-name")
				consumerConfig.Name = c.String("consumer-name")
			}

			return streamActivity(c.String("nats-url"), subject, consumerConfig, c.Bool("json"))
		},
	}
}

// streamActivity connects to NATS and prints activity events until interrupted.
func streamActivity(natsURL, subject string, consumerConfig jetstream.ConsumerConfig, jsonOutput bool) error {
	nc, err := natspkg.Connect(natsURL, "nftactivity-cli")
	if err != nil {
		return err
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	if !jsonOutput {
		fmt.Printf("📡 Subscribing to: %s\n", subject)
		fmt.Printf("   NATS: %s\n", natsURL)
		if consumerConfig.Durable != "" {
			fmt.Printf("   Consumer: %s (durable)\n", consumerConfig.Durable)
		}
		fmt.Printf("\nWaiting for activity... (Ctrl-C to exit)\n\n")
	}

	cons, err := js.CreateOrUpdateConsumer(context.Background(), natspkg.StreamName, consumerConfig)
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	msgChan := make(chan jetstream.Msg, 10)
	cc, err := cons.Consume(func(msg jetstream.Msg) {
		msgChan <- msg
	})
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}
	defer cc.Stop()

	count := 0
	for {
		select {
		case msg := <-msgChan:
			var event natspkg.ActivityMessage
			if err := json.Unmarshal(msg.Data(), &event); err != nil {
				if !jsonOutput {
					fmt.Fprintf(os.Stderr, "Error parsing event: %v\n", err)
				}
				msg.Ack()
				continue
			}

			count++
			if jsonOutput {
				data, _ := json.Marshal(event)
				fmt.Println(string(data))
			} else {
				printActivity(os.Stdout, &event)
			}
			msg.Ack()

		case <-sigChan:
			if !jsonOutput {
				fmt.Printf("\n\n✅ Received %d events\n", count)
				fmt.Println("Shutting down...")
			}
			return nil
		}
	}
}

// inspectStreamCommand shows information about the activity JetStream stream.
func inspectStreamCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect-stream",
		Usage: "Inspect the NFT_ACTIVITY JetStream stream",
		Description: `Show information about the JetStream stream including:
- Message count
- Consumers
- Storage usage
- Stream configuration

Example:
  nftactivity nats inspect-stream`,
		Action: func(c *cli.Context) error {
			nc, err := natspkg.Connect(c.String("nats-url"), "nftactivity-cli")
			if err != nil {
				return err
			}
			defer nc.Close()

			js, err := jetstream.New(nc)
			if err != nil {
				return fmt.Errorf("failed to create JetStream context: %w", err)
			}

			stream, err := js.Stream(context.Background(), natspkg.StreamName)
			if err != nil {
				return fmt.Errorf("failed to get stream: %w", err)
			}

			info, err := stream.Info(context.Background())
			if err != nil {
				return fmt.Errorf("failed to get stream info: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(info)
			}

			fmt.Printf("Stream: %s\n", info.Config.Name)
			fmt.Printf("─────────────────────────────────────────────────────\n")
			fmt.Printf("Description:      %s\n", info.Config.Description)
			fmt.Printf("Subjects:         %v\n", info.Config.Subjects)
			fmt.Printf("Messages:         %d\n", info.State.Msgs)
			fmt.Printf("Bytes:            %d\n", info.State.Bytes)
			fmt.Printf("First Seq:        %d\n", info.State.FirstSeq)
			fmt.Printf("Last Seq:         %d\n", info.State.LastSeq)
			fmt.Printf("Consumers:        %d\n", info.State.Consumers)
			fmt.Printf("Max Age:          %s\n", info.Config.MaxAge)
			fmt.Printf("Duplicate Window: %s\n", info.Config.Duplicates)
			fmt.Printf("Storage:          %s\n", info.Config.Storage)
			fmt.Printf("\n")
			return nil
		},
	}
}

func printActivity(out io.Writer, event *natspkg.ActivityMessage) {
	fmt.Fprintln(out, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Fprintf(out, "Kind:       %s\n", event.Kind)
	fmt.Fprintf(out, "Mint:       %s\n", event.Mint)
	fmt.Fprintf(out, "Signature:  %s\n", event.Signature)
	fmt.Fprintf(out, "Slot:       %d\n", event.Slot)
	if event.BlockTime != nil {
		fmt.Fprintf(out, "Block Time: %s\n", event.BlockTime.Format(time.RFC3339))
	}
	if event.PriceSOL != "" {
		fmt.Fprintf(out, "Price:      %s SOL (%s lamports)\n", event.PriceSOL, event.Lamports)
	}
	fmt.Fprintf(out, "Summary:    %s\n", event.Summary)
	if !event.PublishedAt.IsZero() {
		fmt.Fprintf(out, "Published:  %s\n", event.PublishedAt.Format(time.RFC3339))
	}
	fmt.Fprintln(out)
}
