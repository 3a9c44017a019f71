package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	natspkg "github.com/brojonat/nftactivity/service/nats"
	"github.com/urfave/cli/v2"
)

func sseCommands() *cli.Command {
	return &cli.Command{
		Name:  "sse",
		Usage: "Server-Sent Events (SSE) streaming commands",
		Subcommands: []*cli.Command{
			streamCommand(),
		},
	}
}

func streamCommand() *cli.Command {
	return &cli.Command{
		Name:      "stream",
		Usage:     "Stream activity events via SSE (HTTP)",
		ArgsUsage: "[mint]",
		Flags: []cli.Flag{
			serverFlag(),
		},
		Action: func(c *cli.Context) error {
			mint := c.Args().First()
			jsonOutput := c.Bool("json")
			url := sseURL(c.String("server"), mint)

			ctx, cancel := context.WithCancel(c.Context)
			defer cancel()

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
			go func() {
				<-sigChan
				cancel()
			}()

			req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
			if err != nil {
				return fmt.Errorf("failed to create request: %w", err)
			}
			req.Header.Set("Accept", "text/event-stream")

			client := &http.Client{
				Timeout: 0, // No timeout for streaming
			}
			resp, err := client.Do(req)
			if err != nil {
				return fmt.Errorf("failed to connect to SSE endpoint: %w", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("server returned status %d", resp.StatusCode)
			}

			if !jsonOutput {
				if mint != "" {
					fmt.Fprintf(os.Stderr, "Connected to SSE stream for mint: %s\n", mint)
				} else {
					fmt.Fprintf(os.Stderr, "Connected to SSE stream for all mints\n")
				}
				fmt.Fprintf(os.Stderr, "Streaming activity... (Ctrl+C to stop)\n\n")
			}

			err = readSSE(resp.Body, func(eventType, data string) error {
				return handleSSEEvent(os.Stdout, eventType, data, jsonOutput)
			})
			if err != nil && ctx.Err() != nil {
				if !jsonOutput {
					fmt.Fprintf(os.Stderr, "\nDisconnected\n")
				}
				return nil
			}
			return err
		},
	}
}

func sseURL(serverURL, mint string) string {
	serverURL = strings.TrimRight(serverURL, "/")
	if mint != "" {
		return fmt.Sprintf("%s/api/v1/stream/activity/%s", serverURL, mint)
	}
	return serverURL + "/api/v1/stream/activity"
}

// readSSE parses a text/event-stream body and calls handle for each complete
// event. Comment lines (keepalives) are ignored. An error from handle for an
// "error" event ends the stream; other handler errors are reported and skipped.
func readSSE(body io.Reader, handle func(eventType, data string) error) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	var currentEvent, currentData string

	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			if currentEvent != "" && currentData != "" {
				if err := handle(currentEvent, currentData); err != nil {
					if currentEvent == "error" {
						return err
					}
					fmt.Fprintf(os.Stderr, "Error handling event: %v\n", err)
				}
			}
			currentEvent = ""
			currentData = ""
			continue
		}

		if strings.HasPrefix(line, "event:") {
			currentEvent = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		} else if strings.HasPrefix(line, "data:") {
			currentData = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading SSE stream: %w", err)
	}
	return nil
}

func handleSSEEvent(out io.Writer, eventType, data string, jsonOutput bool) error {
	switch eventType {
	case "connected":
		if !jsonOutput {
			var info map[string]interface{}
			if err := json.Unmarshal([]byte(data), &info); err != nil {
				return err
			}
			if mint, ok := info["mint"].(string); ok {
				fmt.Fprintf(os.Stderr, "✓ Subscribed to %s\n\n", mint)
			}
		}
		return nil

	case "activity":
		var event natspkg.ActivityMessage
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			return err
		}

		if jsonOutput {
			fmt.Fprintln(out, data)
		} else {
			printActivity(out, &event)
		}
		return nil

	case "error":
		var errInfo map[string]interface{}
		if err := json.Unmarshal([]byte(data), &errInfo); err != nil {
			return err
		}
		return fmt.Errorf("server error: %v", errInfo["error"])

	default:
		return nil
	}
}
