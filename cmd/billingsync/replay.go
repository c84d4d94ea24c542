package main

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/goccy/go-json"
	"github.com/goliatone/go-billing-sync/adapters/gocommand"
	"github.com/goliatone/go-billing-sync/core"
	"github.com/goliatone/go-billing-sync/realtime"
	"github.com/spf13/cobra"
)

type replayReport struct {
	Results []core.BillingEventResult `json:"results"`
	Failed  int                       `json:"failed"`
	Drain   realtime.DrainReport      `json:"drain"`
	Metrics core.WebhookMetrics       `json:"metrics"`
}

func newReplayCommand(opts *rootOptions) *cobra.Command {
	var failFast bool
	cmd := &cobra.Command{
		Use:   "replay [events-file]",
		Short: "Process recorded webhook events and print the results",
		Long: `Replay reads webhook events from a file ("-" for stdin) and runs them
through the engine in order. The file holds either a JSON array of events
or one JSON event per line.

Examples:
  billingsync replay events.json
  cat events.ndjson | billingsync replay - --db-dsn ""`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			events, err := readEvents(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			ctx := commandContext(cmd)
			rt, err := openRuntime(ctx, opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer rt.Close()

			report, err := replay(ctx, events, failFast)
			if err != nil {
				return err
			}
			report.Metrics = rt.engine.Metrics()
			return writeJSON(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().BoolVar(&failFast, "fail-fast", false, "stop at the first event that fails processing")
	return cmd
}

// replay dispatches events through the subscribed go-command handlers and
// drains the update queue once at the end.
func replay(ctx context.Context, events []core.WebhookEvent, failFast bool) (replayReport, error) {
	report := replayReport{Results: make([]core.BillingEventResult, 0, len(events))}
	for _, event := range events {
		result, err := gocommand.ProcessEvent(ctx, event)
		report.Results = append(report.Results, result)
		if err != nil {
			report.Failed++
			if failFast {
				return report, fmt.Errorf("billingsync: event %s: %w", event.ID, err)
			}
		}
	}
	drain, err := gocommand.DrainUpdates(ctx)
	if err != nil {
		return report, err
	}
	report.Drain = drain
	return report, nil
}

func readEvents(stdin io.Reader, path string) ([]core.WebhookEvent, error) {
	var (
		data []byte
		err  error
	)
	if strings.TrimSpace(path) == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("billingsync: read events: %w", err)
	}
	return decodeEvents(data)
}

func decodeEvents(data []byte) ([]core.WebhookEvent, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("billingsync: no events to replay")
	}
	if trimmed[0] == '[' {
		var events []core.WebhookEvent
		if err := json.Unmarshal(trimmed, &events); err != nil {
			return nil, fmt.Errorf("billingsync: decode event array: %w", err)
		}
		return events, nil
	}

	events := []core.WebhookEvent{}
	scanner := bufio.NewScanner(bytes.NewReader(trimmed))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}
		var event core.WebhookEvent
		if err := json.Unmarshal(text, &event); err != nil {
			return nil, fmt.Errorf("billingsync: decode event on line %d: %w", line, err)
		}
		events = append(events, event)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("billingsync: scan events: %w", err)
	}
	return events, nil
}

func writeJSON(w io.Writer, value any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}
