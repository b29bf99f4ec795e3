package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"tickerpulse/pkg/client"
	"tickerpulse/pkg/contracts/domain"
)

var (
	// Compare flags
	compareMode    string
	compareTimeout time.Duration
)

// compareCmd represents the compare command
var compareCmd = &cobra.Command{
	Use:   "compare <subject> <subject> [subject...]",
	Short: "Analyse several subjects concurrently and rank the outcomes",
	Long: `Submit a comparison job fanning out one pipeline run per subject and
follow the stream until the ranking arrives.

Subjects run concurrently and in isolation: a subject whose run fails or
times out is ranked after all complete results instead of aborting the
comparison. Vetoed subjects count as complete with a negative score.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runCompare,
}

func init() {
	rootCmd.AddCommand(compareCmd)

	compareCmd.Flags().StringVar(&compareMode, "mode", "standard", "analysis mode (standard, fast, thorough)")
	compareCmd.Flags().DurationVar(&compareTimeout, "timeout", 3*time.Minute, "overall deadline for this command")
}

func runCompare(cmd *cobra.Command, args []string) error {
	subjects := make([]string, len(args))
	for i, s := range args {
		subjects[i] = strings.ToUpper(s)
	}

	req := domain.CompareJob{
		Subjects: subjects,
		Mode:     domain.AnalysisMode(compareMode),
	}

	c, err := newStreamClient()
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Compare(req); err != nil {
		return fmt.Errorf("failed to submit comparison: %w", err)
	}

	view, err := followStream(c, compareTimeout)
	if err != nil {
		return err
	}
	return renderComparison(view)
}

// renderComparison displays the ranked comparison result. A stream ending
// without a ranking (cancelled, fatal) falls back to the job outcome view.
func renderComparison(view client.JobView) error {
	if view.Comparison == nil {
		return renderJobOutcome(view)
	}
	result := view.Comparison

	if IsJSONOutput() {
		output, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(output))
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Rank", "Subject", "Action", "Score", "Confidence", "Notes")

	for _, r := range result.Rankings {
		action := r.Action
		if action == "" {
			action = "-"
		}
		notes := "-"
		if r.Reason != "" {
			notes = r.Reason
		}
		if r.Incomplete {
			notes = "incomplete: " + r.Reason
		}

		table.Append(
			fmt.Sprintf("%d", r.Rank),
			r.Subject,
			action,
			fmt.Sprintf("%.3f", r.Score),
			fmt.Sprintf("%.2f", r.Confidence),
			notes,
		)
	}

	table.Render()

	if winner, ok := result.Winner(); ok && winner.Action != "" {
		fmt.Printf("\nTop pick: %s %s (score %.3f, confidence %.2f)\n",
			strings.ToUpper(winner.Action), winner.Subject, winner.Score, winner.Confidence)
	} else {
		fmt.Printf("\nNo subject produced an actionable result\n")
	}
	fmt.Printf("Compared %d subjects in %s (%d incomplete)\n",
		len(result.Subjects), result.Duration.Round(time.Millisecond), result.Incomplete)

	return nil
}
