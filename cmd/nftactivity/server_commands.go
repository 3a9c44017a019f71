package main

import (
	"fmt"
	"net/http"
	"runtime"
	"runtime/debug"
	"strings"
	"time"

	natspkg "github.com/brojonat/nftactivity/service/nats"
	"github.com/urfave/cli/v2"
)

func healthCommand() *cli.Command {
	return &cli.Command{
		Name:  "health",
		Usage: "Check server health",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Request timeout",
				Value: 5 * time.Second,
			},
		},
		Action: func(c *cli.Context) error {
			serverURL := strings.TrimRight(c.String("server-url"), "/")
			if serverURL == "" {
				return fmt.Errorf("server-url is required (set SERVER_URL env var or use --server-url)")
			}

			client := &http.Client{
				Timeout: c.Duration("timeout"),
			}

			start := time.Now()
			resp, err := client.Get(serverURL + "/health")
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode == http.StatusOK {
				fmt.Printf("✓ Server is healthy (status: %d)\n", resp.StatusCode)
				fmt.Printf("  URL:     %s\n", serverURL)
				fmt.Printf("  Latency: %s\n", time.Since(start).Round(time.Millisecond))
				return nil
			}

			return fmt.Errorf("server returned unhealthy status: %d", resp.StatusCode)
		},
	}
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show version information",
		Action: func(c *cli.Context) error {
			info := currentBuildInfo()
			if c.Bool("json") {
				return outputJSON(info)
			}

			fmt.Printf("nftactivity CLI\n")
			fmt.Printf("  Version:    %s\n", info.Version)
			fmt.Printf("  Commit:     %s\n", info.Commit)
			if info.Modified {
				fmt.Printf("              (built from a modified tree)\n")
			}
			fmt.Printf("  Built:      %s\n", info.Built)
			fmt.Printf("  Go:         %s\n", info.GoVersion)
			fmt.Printf("  Stream:     %s (%s)\n", info.Stream, info.StreamSubjects)
			fmt.Printf("  Task queue: %s\n", info.TaskQueue)
			return nil
		},
	}
}

// buildInfo describes the running binary and the service names it talks to.
type buildInfo struct {
	Version        string `json:"version"`
	Commit         string `json:"commit"`
	Built          string `json:"built"`
	Modified       bool   `json:"modified"`
	GoVersion      string `json:"go_version"`
	Stream         string `json:"stream"`
	StreamSubjects string `json:"stream_subjects"`
	TaskQueue      string `json:"task_queue"`
}

// currentBuildInfo prefers the ldflags values and falls back to the VCS
// stamp the Go toolchain embeds.
func currentBuildInfo() buildInfo {
	info := buildInfo{
		Version:        version,
		Commit:         commit,
		Built:          date,
		GoVersion:      runtime.Version(),
		Stream:         natspkg.StreamName,
		StreamSubjects: natspkg.StreamSubjects,
		TaskQueue:      defaultTaskQueue,
	}

	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	if info.Version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		info.Version = bi.Main.Version
	}
	for _, setting := range bi.Settings {
		switch setting.Key {
		case "vcs.revision":
			if info.Commit == "unknown" {
				info.Commit = setting.Value
			}
		case "vcs.time":
			if info.Built == "unknown" {
				info.Built = setting.Value
			}
		case "vcs.modified":
			info.Modified = setting.Value == "true"
		}
	}
	return info
}
