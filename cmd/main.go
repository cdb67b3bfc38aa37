// Command dualvad serves streaming voice activity detection over WebSocket.
//
// Usage:
//
//	dualvad [serve] [--config dualvad.yaml] [--addr :8080] [--debug]
//	dualvad version
//
// Every setting can also come from a .env file or DUALVAD_* environment
// variables, e.g. DUALVAD_VAD_THRESHOLD=0.6.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

var (
	configPath string
	addrFlag   string
	debugFlag  bool
)

var rootCmd = &cobra.Command{
	Use:   "dualvad",
	Short: "Streaming dual-detector VAD server",
	Long: `Streaming dual-detector VAD server.

Clients send binary PCM frames over WebSocket and receive one JSON result per
frame with the decisions of a probability detector and a segment detector.`,
	SilenceUsage: true,
	RunE:         runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "dualvad", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (YAML)")
	rootCmd.PersistentFlags().StringVar(&addrFlag, "addr", "", "listen address, overrides server.addr")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "enable debug logging")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
