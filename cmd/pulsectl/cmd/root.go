package cmd

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	serverURL    string
	streamToken  string
	outputFormat string
	cfgFile      string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "pulsectl",
	Short: "CLI for the TickerPulse analysis server",
	Long: `pulsectl is a command line interface for the TickerPulse analysis
server. It submits analysis and comparison jobs over the live event stream
and manages sessions through the REST API.`,
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.pulsectl/config)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "server URL (default from config or http://localhost:8080)")
	rootCmd.PersistentFlags().StringVar(&streamToken, "token", "", "credential for the stream and REST endpoints")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "output", "table", "output format: table or json")
}

// initConfig reads in config file and ENV variables if set
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error finding home directory: %v\n", err)
			os.Exit(1)
		}

		// Search config in home directory with name ".pulsectl/config" (without extension)
		configDir := filepath.Join(home, ".pulsectl")
		viper.AddConfigPath(configDir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.AutomaticEnv() // read in environment variables that match

	// Bind specific environment variables
	viper.BindEnv("token", "TICKERPULSE_TOKEN")
	viper.BindEnv("server_url", "TICKERPULSE_SERVER")

	// If a config file is found, read it in
	if err := viper.ReadInConfig(); err == nil {
		if viper.GetString("server_url") != "" && serverURL == "" {
			serverURL = viper.GetString("server_url")
		}
		if viper.GetString("token") != "" && streamToken == "" {
			streamToken = viper.GetString("token")
		}
	}

	// Check environment variables if not set from config
	if streamToken == "" && viper.GetString("token") != "" {
		streamToken = viper.GetString("token")
	}
	if serverURL == "" && viper.GetString("server_url") != "" {
		serverURL = viper.GetString("server_url")
	}

	// Set default if still empty
	if serverURL == "" {
		serverURL = "http://localhost:8080"
	}
}

// GetServerURL returns the configured server URL with trailing slashes removed
func GetServerURL() string {
	return strings.TrimRight(serverURL, "/")
}

// GetStreamURL derives the websocket endpoint from the server URL. A URL
// already carrying a ws or wss scheme is used as-is.
func GetStreamURL() string {
	base := GetServerURL()
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/ws"
}

// GetToken returns the configured stream credential
func GetToken() string {
	return streamToken
}

// IsJSONOutput returns true if JSON output is requested
func IsJSONOutput() bool {
	return outputFormat == "json"
}

// GetHTTPClient returns the client used for REST calls
func GetHTTPClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}

// CreateAuthenticatedRequest creates an HTTP request with the bearer credential if one is configured
func CreateAuthenticatedRequest(method, url string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		return nil, err
	}

	if streamToken != "" {
		req.Header.Set("Authorization", "Bearer "+streamToken)
	}

	return req, nil
}
