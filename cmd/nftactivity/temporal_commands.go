package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/brojonat/nftactivity/service/db"
	"github.com/brojonat/nftactivity/service/temporal"
	"github.com/urfave/cli/v2"
	"go.temporal.io/sdk/client"
)

const defaultTaskQueue = "nftactivity-refresh"

func taskQueueFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "task-queue",
		Usage:   "Task queue name",
		Value:   getEnvOrDefault("TEMPORAL_TASK_QUEUE", defaultTaskQueue),
		EnvVars: []string{"TEMPORAL_TASK_QUEUE"},
	}
}

func listSchedulesCommand() *cli.Command {
	return &cli.Command{
		Name:    "list-schedules",
		Usage:   "List all Temporal schedules",
		Aliases: []string{"ls"},
		Action: func(c *cli.Context) error {
			temporalClient, err := getTemporalClient(c, defaultTaskQueue)
			if err != nil {
				return err
			}
			defer temporalClient.Close()

			ids, err := listScheduleIDs(context.Background(), temporalClient.SDKClient())
			if err != nil {
				return err
			}

			if c.Bool("json") {
				return outputJSON(ids)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SCHEDULE ID\tMINT")
			for _, id := range ids {
				mint, ok := temporal.MintFromScheduleID(id)
				if !ok {
					mint = "-"
				}
				fmt.Fprintf(w, "%s\t%s\n", id, mint)
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d schedules\n", len(ids))
			return nil
		},
	}
}

func describeScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:      "describe-schedule",
		Usage:     "Describe a mint's Temporal schedule",
		Aliases:   []string{"desc"},
		ArgsUsage: "<mint|schedule-id>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: mint or schedule ID")
			}

			scheduleID := resolveScheduleID(c.Args().First())
			temporalClient, err := getTemporalClient(c, defaultTaskQueue)
			if err != nil {
				return err
			}
			defer temporalClient.Close()

			ctx := context.Background()
			handle := temporalClient.SDKClient().ScheduleClient().GetHandle(ctx, scheduleID)
			desc, err := handle.Describe(ctx)
			if err != nil {
				return fmt.Errorf("failed to describe schedule: %w", err)
			}

			fmt.Printf("Schedule ID:    %s\n", scheduleID)
			fmt.Printf("State Note:     %s\n", desc.Schedule.State.Note)
			fmt.Printf("Paused:         %v\n", desc.Schedule.State.Paused)

			if action := desc.Schedule.Action; action != nil {
				if wa, ok := action.(*client.ScheduleWorkflowAction); ok {
					fmt.Printf("\nWorkflow:\n")
					fmt.Printf("  Workflow:     %v\n", wa.Workflow)
					fmt.Printf("  Task Queue:   %s\n", wa.TaskQueue)
					fmt.Printf("  Args:         %v\n", wa.Args)
				}
			}

			if desc.Schedule.Spec != nil && len(desc.Schedule.Spec.Intervals) > 0 {
				fmt.Printf("\nSchedule Spec:\n")
				for i, interval := range desc.Schedule.Spec.Intervals {
					fmt.Printf("  Interval %d:   Every %v\n", i+1, interval.Every)
				}
			}

			fmt.Printf("\nRecent Actions: %d\n", len(desc.Info.RecentActions))
			if len(desc.Info.RecentActions) > 0 {
				lastAction := desc.Info.RecentActions[len(desc.Info.RecentActions)-1]
				fmt.Printf("Last Action:  %s\n", lastAction.ActualTime.Format(time.RFC3339))
			}

			return nil
		},
	}
}

func pauseScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:      "pause-schedule",
		Usage:     "Pause a mint's Temporal schedule",
		ArgsUsage: "<mint|schedule-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "note",
				Usage: "Note explaining why schedule is paused",
				Value: "Paused via nftactivity CLI",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: mint or schedule ID")
			}

			scheduleID := resolveScheduleID(c.Args().First())
			note := c.String("note")

			temporalClient, err := getTemporalClient(c, defaultTaskQueue)
			if err != nil {
				return err
			}
			defer temporalClient.Close()

			ctx := context.Background()
			handle := temporalClient.SDKClient().ScheduleClient().GetHandle(ctx, scheduleID)
			if err := handle.Pause(ctx, client.SchedulePauseOptions{Note: note}); err != nil {
				return fmt.Errorf("failed to pause schedule: %w", err)
			}

			fmt.Printf("✓ Schedule paused: %s\n", scheduleID)
			if note != "" {
				fmt.Printf("  Note: %s\n", note)
			}
			return nil
		},
	}
}

func resumeScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:      "resume-schedule",
		Usage:     "Resume a paused Temporal schedule",
		ArgsUsage: "<mint|schedule-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "note",
				Usage: "Note explaining why schedule is resumed",
				Value: "Resumed via nftactivity CLI",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: mint or schedule ID")
			}

			scheduleID := resolveScheduleID(c.Args().First())
			note := c.String("note")

			temporalClient, err := getTemporalClient(c, defaultTaskQueue)
			if err != nil {
				return err
			}
			defer temporalClient.Close()

			ctx := context.Background()
			handle := temporalClient.SDKClient().ScheduleClient().GetHandle(ctx, scheduleID)
			if err := handle.Unpause(ctx, client.ScheduleUnpauseOptions{Note: note}); err != nil {
				return fmt.Errorf("failed to resume schedule: %w", err)
			}

			fmt.Printf("✓ Schedule resumed: %s\n", scheduleID)
			if note != "" {
				fmt.Printf("  Note: %s\n", note)
			}
			return nil
		},
	}
}

func deleteScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:      "delete-schedule",
		Usage:     "Delete a Temporal schedule (use for orphaned schedules)",
		ArgsUsage: "<mint|schedule-id>",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "force",
				Usage: "Skip confirmation prompt",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: mint or schedule ID")
			}

			scheduleID := resolveScheduleID(c.Args().First())

			if !c.Bool("force") {
				fmt.Printf("Are you sure you want to delete schedule %s? (yes/no): ", scheduleID)
				var response string
				fmt.Scanln(&response)
				if response != "yes" {
					fmt.Println("Cancelled")
					return nil
				}
			}

			temporalClient, err := getTemporalClient(c, defaultTaskQueue)
			if err != nil {
				return err
			}
			defer temporalClient.Close()

			ctx := context.Background()
			handle := temporalClient.SDKClient().ScheduleClient().GetHandle(ctx, scheduleID)
			if err := handle.Delete(ctx); err != nil {
				return fmt.Errorf("failed to delete schedule: %w", err)
			}

			fmt.Printf("✓ Schedule deleted: %s\n", scheduleID)
			return nil
		},
	}
}

func reconcileCommand() *cli.Command {
	return &cli.Command{
		Name:  "reconcile",
		Usage: "Check for inconsistencies between watched mints and Temporal schedules",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "fix",
				Usage: "Automatically fix inconsistencies (creates missing schedules, deletes orphaned ones)",
			},
			taskQueueFlag(),
		},
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			temporalClient, err := getTemporalClient(c, c.String("task-queue"))
			if err != nil {
				return err
			}
			defer temporalClient.Close()

			ctx := context.Background()

			mints, err := store.ListWatchedMints(ctx)
			if err != nil {
				return fmt.Errorf("failed to list watched mints: %w", err)
			}

			scheduleIDs, err := listScheduleIDs(ctx, temporalClient.SDKClient())
			if err != nil {
				return err
			}

			report := reconcileSchedules(mints, scheduleIDs)
			report.print(os.Stdout)

			if !report.consistent() {
				if !c.Bool("fix") {
					fmt.Printf("\nTo fix these issues, run: nftactivity temporal reconcile --fix\n")
					return nil
				}
				fmt.Printf("\nFixing inconsistencies...\n")
				report.fix(ctx, os.Stdout, temporalClient)
				fmt.Printf("\nReconciliation complete!\n")
			}
			return nil
		},
	}
}

// reconcileReport is the difference between watched mints and the schedules
// that refresh them.
type reconcileReport struct {
	MintCount     int
	ScheduleCount int
	// Missing holds active mints without a schedule.
	Missing []*db.WatchedMint
	// Orphaned holds schedule IDs with no active watched mint.
	Orphaned []string
}

// reconcileSchedules compares watched mints against schedule IDs. Only mint
// schedules are considered; paused and errored mints are expected to keep
// their schedules but active mints must have one.
func reconcileSchedules(mints []*db.WatchedMint, scheduleIDs []string) *reconcileReport {
	report := &reconcileReport{MintCount: len(mints)}

	scheduled := make(map[string]bool)
	for _, id := range scheduleIDs {
		mint, ok := temporal.MintFromScheduleID(id)
		if !ok {
			continue
		}
		report.ScheduleCount++
		scheduled[mint] = true
	}

	watched := make(map[string]bool, len(mints))
	for _, m := range mints {
		watched[m.Mint] = true
		if m.Status == db.StatusActive && !scheduled[m.Mint] {
			report.Missing = append(report.Missing, m)
		}
	}

	for _, id := range scheduleIDs {
		mint, ok := temporal.MintFromScheduleID(id)
		if ok && !watched[mint] {
			report.Orphaned = append(report.Orphaned, id)
		}
	}
	sort.Strings(report.Orphaned)

	return report
}

func (r *reconcileReport) consistent() bool {
	return len(r.Missing) == 0 && len(r.Orphaned) == 0
}

func (r *reconcileReport) print(out io.Writer) {
	fmt.Fprintf(out, "Reconciliation Report:\n")
	fmt.Fprintf(out, "  Watched mints in DB: %d\n", r.MintCount)
	fmt.Fprintf(out, "  Mint schedules in Temporal: %d\n", r.ScheduleCount)
	fmt.Fprintf(out, "\n")

	if len(r.Missing) > 0 {
		fmt.Fprintf(out, "⚠ Mints missing schedules (%d):\n", len(r.Missing))
		for _, m := range r.Missing {
			fmt.Fprintf(out, "  - %s (every %v)\n", m.Mint, m.PollInterval)
		}
	} else {
		fmt.Fprintf(out, "✓ All active mints have schedules\n")
	}

	if len(r.Orphaned) > 0 {
		fmt.Fprintf(out, "\n⚠ Orphaned schedules (%d):\n", len(r.Orphaned))
		for _, id := range r.Orphaned {
			fmt.Fprintf(out, "  - %s\n", id)
		}
	} else {
		fmt.Fprintf(out, "✓ No orphaned schedules\n")
	}
}

func (r *reconcileReport) fix(ctx context.Context, out io.Writer, scheduler temporal.Scheduler) {
	for _, m := range r.Missing {
		if err := scheduler.UpsertMintSchedule(ctx, m.Mint, m.PollInterval); err != nil {
			fmt.Fprintf(out, "  ✗ Failed to create schedule for %s: %v\n", m.Mint, err)
			continue
		}
		fmt.Fprintf(out, "  ✓ Created schedule for %s\n", m.Mint)
	}

	for _, id := range r.Orphaned {
		mint, _ := temporal.MintFromScheduleID(id)
		if err := scheduler.DeleteMintSchedule(ctx, mint); err != nil {
			fmt.Fprintf(out, "  ✗ Failed to delete schedule %s: %v\n", id, err)
			continue
		}
		fmt.Fprintf(out, "  ✓ Deleted orphaned schedule %s\n", id)
	}
}

func listScheduleIDs(ctx context.Context, c client.Client) ([]string, error) {
	iter, err := c.ScheduleClient().List(ctx, client.ScheduleListOptions{
		PageSize: 1000,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}

	var ids []string
	for iter.HasNext() {
		schedule, err := iter.Next()
		if err != nil {
			return nil, fmt.Errorf("failed to iterate schedules: %w", err)
		}
		ids = append(ids, schedule.ID)
	}
	sort.Strings(ids)
	return ids, nil
}

// resolveScheduleID accepts either a schedule ID or a bare mint address.
func resolveScheduleID(arg string) string {
	if _, ok := temporal.MintFromScheduleID(arg); ok {
		return arg
	}
	return temporal.ScheduleID(arg)
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// Helper function to connect to Temporal
func getTemporalClient(c *cli.Context, taskQueue string) (*temporal.Client, error) {
	host := c.String("temporal-host")
	if host == "" && c.App != nil {
		host = os.Getenv("TEMPORAL_HOST")
	}
	if host == "" {
		host = "localhost:7233"
	}

	namespace := c.String("temporal-namespace")
	if namespace == "" && c.App != nil {
		namespace = os.Getenv("TEMPORAL_NAMESPACE")
	}
	if namespace == "" {
		namespace = "default"
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	return temporal.NewClient(host, namespace, taskQueue, logger)
}
