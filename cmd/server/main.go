// The server command runs the TickerPulse analysis server: the stream
// endpoint, the session directory and the metrics surface.
package main

import (
	"log/slog"
	"os"

	"tickerpulse/internal/app"
)

func main() {
	application, err := app.NewApplication()
	if err != nil {
		slog.Error("Failed to initialize application", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := application.Run(); err != nil {
		slog.Error("Application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
