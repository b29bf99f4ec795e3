package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

// sessionsCmd represents the sessions command
var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage server sessions",
	Long:  `Commands for listing and cancelling analysis sessions on the TickerPulse server.`,
}

// sessionsListCmd represents the sessions list command
var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions",
	Long:  `List the sessions currently tracked by the server, including terminal sessions not yet reaped.`,
	RunE:  runSessionsList,
}

// sessionsCancelCmd represents the sessions cancel command
var sessionsCancelCmd = &cobra.Command{
	Use:   "cancel <session-id>",
	Short: "Cancel a session",
	Long:  `Request cooperative cancellation of a running session. The session still concludes through a terminal cancelled event on its stream.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsCancel,
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsCancelCmd)
}

type sessionSummary struct {
	ID         string    `json:"id"`
	Subject    string    `json:"subject"`
	Mode       string    `json:"mode,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
	Terminal   bool      `json:"terminal"`
	Superseded bool      `json:"superseded"`
	LastSeq    uint64    `json:"last_seq"`
}

type sessionListResponse struct {
	Sessions []sessionSummary `json:"sessions"`
	Count    int              `json:"count"`
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	url := fmt.Sprintf("%s/api/sessions", GetServerURL())

	httpReq, err := CreateAuthenticatedRequest("GET", url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	client := GetHTTPClient()
	resp, err := client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	var result sessionListResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if IsJSONOutput() {
		output, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(output))
	} else {
		table := tablewriter.NewWriter(os.Stdout)
		table.Header("Session", "Subject", "Mode", "State", "Seq", "Created", "Last Active")

		for _, s := range result.Sessions {
			mode := s.Mode
			if mode == "" {
				mode = "-"
			}
			table.Append(
				shortID(s.ID),
				s.Subject,
				mode,
				sessionState(s),
				fmt.Sprintf("%d", s.LastSeq),
				s.CreatedAt.Format("2006-01-02 15:04:05"),
				s.LastActive.Format("15:04:05"),
			)
		}

		table.Render()
		fmt.Printf("\nTotal sessions: %d\n", result.Count)
	}

	return nil
}

func sessionState(s sessionSummary) string {
	switch {
	case s.Terminal:
		return "terminal"
	case s.Superseded:
		return "superseded"
	default:
		return "active"
	}
}

func runSessionsCancel(cmd *cobra.Command, args []string) error {
	sessionID := args[0]
	url := fmt.Sprintf("%s/api/sessions/%s", GetServerURL(), sessionID)

	httpReq, err := CreateAuthenticatedRequest("DELETE", url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	client := GetHTTPClient()
	resp, err := client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	// Cancellation is asynchronous; the server acknowledges with 202 and
	// the session concludes through its own stream.
	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	fmt.Printf("✓ Cancellation requested for session %s\n", sessionID)
	return nil
}
