package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"tickerpulse/pkg/contracts"
)

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Long:  `Show the pulsectl build version. With --output json the full build metadata is printed.`,
	RunE:  runVersion,
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func runVersion(cmd *cobra.Command, args []string) error {
	if IsJSONOutput() {
		output, err := json.MarshalIndent(contracts.GetVersionInfo(), "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(output))
		return nil
	}

	fmt.Println(contracts.GetFullVersionString())
	return nil
}
