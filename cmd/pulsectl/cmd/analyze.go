package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"tickerpulse/pkg/client"
	"tickerpulse/pkg/contracts/domain"
	"tickerpulse/pkg/contracts/events"
)

var (
	// Analyze flags
	analyzeMode    string
	analyzeParams  []string
	analyzeTimeout time.Duration
)

// analyzeCmd represents the analyze command
var analyzeCmd = &cobra.Command{
	Use:   "analyze <subject>",
	Short: "Run the analysis pipeline for one subject",
	Long: `Submit a single-subject analysis job and follow its event stream until
the pipeline concludes with a decision, a veto, or an error.

The stream reconnects automatically on transport failures; a resubmitted
job restarts from the first stage under a fresh session. Press Ctrl+C once
to cancel the running job cooperatively, twice to abandon the stream.`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

func init() {
	rootCmd.AddCommand(analyzeCmd)

	analyzeCmd.Flags().StringVar(&analyzeMode, "mode", "standard", "analysis mode (standard, fast, thorough)")
	analyzeCmd.Flags().StringArrayVar(&analyzeParams, "param", nil, "extra job parameter as key=value (repeatable)")
	analyzeCmd.Flags().DurationVar(&analyzeTimeout, "timeout", 2*time.Minute, "overall deadline for this command")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	params, err := parseParams(analyzeParams)
	if err != nil {
		return err
	}

	job := domain.Job{
		Subject:    strings.ToUpper(args[0]),
		Mode:       domain.AnalysisMode(analyzeMode),
		Parameters: params,
	}

	c, err := newStreamClient()
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Submit(job); err != nil {
		return fmt.Errorf("failed to submit job: %w", err)
	}

	view, err := followStream(c, analyzeTimeout)
	if err != nil {
		return err
	}
	return renderJobOutcome(view)
}

// newStreamClient builds the reconnecting stream client shared by analyze
// and compare. Client logs go to stderr at warn level so reconnect noise
// stays out of the rendered output.
func newStreamClient() (*client.Client, error) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	c, err := client.New(client.Config{
		URL:    GetStreamURL(),
		Token:  GetToken(),
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create stream client: %w", err)
	}
	return c, nil
}

// followStream consumes client updates until the tracked job reaches a
// terminal state. The first interrupt requests a cooperative cancel and
// keeps following; the second abandons the stream.
func followStream(c *client.Client, timeout time.Duration) (client.JobView, error) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	interrupted := false
	for {
		select {
		case upd, ok := <-c.Updates():
			if !ok {
				return c.View(), fmt.Errorf("stream client closed")
			}
			switch upd.Kind {
			case client.UpdateStatus:
				if upd.Status == client.StatusReconnecting && !IsJSONOutput() {
					fmt.Fprintln(os.Stderr, "Connection lost, reconnecting...")
				}
			case client.UpdateFailure:
				return c.View(), upd.Err
			case client.UpdateEvent:
				printProgress(upd.Event)
				if upd.Event.IsTerminal() {
					return c.View(), nil
				}
			}

		case <-sigChan:
			if interrupted {
				return c.View(), fmt.Errorf("aborted before the job concluded")
			}
			interrupted = true
			fmt.Fprintln(os.Stderr, "\nCancelling job (Ctrl+C again to abandon)...")
			if err := c.CancelJob(); err != nil {
				return c.View(), fmt.Errorf("failed to cancel: %w", err)
			}

		case <-deadline.C:
			return c.View(), fmt.Errorf("no terminal event within %s", timeout)
		}
	}
}

// printProgress writes one line per stream event in table mode.
func printProgress(ev *events.Event) {
	if IsJSONOutput() {
		return
	}

	switch ev.Type {
	case events.EventTypeJobStarted:
		var p events.JobStartedPayload
		if err := ev.DecodePayload(&p); err != nil {
			return
		}
		fmt.Printf("Session %s started: %s (%d analysts)\n",
			shortID(ev.SessionID), p.Subject, len(p.Analysts))

	case events.EventTypeWorkerStarted:
		var p events.WorkerStartedPayload
		if err := ev.DecodePayload(&p); err != nil {
			return
		}
		fmt.Printf("  > %s running (%s)\n", ev.Producer, p.Role)

	case events.EventTypeWorkerCompleted:
		fmt.Printf("  ✓ %s completed\n", ev.Producer)

	case events.EventTypeWorkerFailed:
		var p events.WorkerFailedPayload
		if err := ev.DecodePayload(&p); err != nil {
			return
		}
		fmt.Printf("  ✗ %s failed: %s\n", ev.Producer, p.Reason)

	case events.EventTypeNotification:
		var p events.NotificationPayload
		if err := ev.DecodePayload(&p); err != nil {
			return
		}
		fmt.Printf("  ! [%s] %s\n", p.Level, p.Message)
	}
}

// renderJobOutcome displays the folded terminal state of a single-subject
// run. A fatal outcome is also surfaced as a command error so scripts see
// a non-zero exit.
func renderJobOutcome(view client.JobView) error {
	if IsJSONOutput() {
		output, err := json.MarshalIndent(view, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(output))
		if view.Fatal != nil {
			return fmt.Errorf("analysis failed: %s", view.Fatal.Reason)
		}
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Field", "Value")

	table.Append("Subject", view.Job.Subject)
	table.Append("Session", view.SessionID)
	table.Append("Outcome", view.Outcome())
	table.Append("Workers", fmt.Sprintf("%d completed, %d failed",
		view.CompletedWorkers(), view.FailedWorkers()))

	switch {
	case view.Decision != nil:
		d := view.Decision
		table.Append("Action", string(d.Action))
		table.Append("Confidence", fmt.Sprintf("%.2f", d.Confidence))
		table.Append("Score", fmt.Sprintf("%.3f", d.Score))
		if d.Rationale != "" {
			table.Append("Rationale", d.Rationale)
		}
		if len(d.Inputs) > 0 {
			table.Append("Inputs", strings.Join(d.Inputs, ", "))
		}
		table.Append("Decided At", d.DecidedAt.Format(time.RFC3339))

	case view.Veto != nil:
		table.Append("Veto Reason", view.Veto.Reason)
		table.Append("Severity", fmt.Sprintf("%.2f", view.Veto.Severity))

	case view.Fatal != nil:
		table.Append("Error", view.Fatal.Reason)
		if view.Fatal.Stage != "" {
			table.Append("Stage", view.Fatal.Stage)
		}

	case view.Cancelled != nil:
		if view.Cancelled.Reason != "" {
			table.Append("Reason", view.Cancelled.Reason)
		}
	}

	table.Render()

	switch {
	case view.Decision != nil:
		fmt.Printf("\nRecommendation: %s %s\n",
			strings.ToUpper(string(view.Decision.Action)), view.Job.Subject)
	case view.Veto != nil:
		fmt.Printf("\nRun vetoed by the risk check: %s\n", view.Veto.Reason)
	case view.Fatal != nil:
		return fmt.Errorf("analysis failed: %s", view.Fatal.Reason)
	}
	return nil
}

// parseParams converts repeated key=value flags into job parameters.
func parseParams(pairs []string) (map[string]interface{}, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	params := make(map[string]interface{}, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid parameter %q, expected key=value", pair)
		}
		params[key] = value
	}
	return params, nil
}

// shortID truncates a session id for display.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
