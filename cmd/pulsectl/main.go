// The pulsectl command is the operator CLI for the TickerPulse analysis
// server. It submits analysis and comparison jobs over the live event
// stream, follows their progress to a terminal outcome, and manages
// sessions through the REST API.
package main

import (
	"os"

	"tickerpulse/cmd/pulsectl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
