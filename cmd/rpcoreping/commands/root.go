package commands

import (
	"github.com/spf13/cobra"
)

var (
	// logDir is the directory rotated log files are written to.
	logDir string

	// maxLogFiles is the maximum number of rotated log files to keep.
	maxLogFiles int

	// maxLogFileSize is the maximum log file size in MB before rotation.
	maxLogFileSize int
)

// rootCmd is the base command for the CLI.
var rootCmd = &cobra.Command{
	Use:   "rpcoreping",
	Short: "A demo host for the rpcore in-process RPC runtime",
	Long: `rpcoreping stands up an RpcEnvironment, optionally serving it over
gRPC, and can ask a remote rpcoreping instance's echo endpoint to exercise a
full send/ask round trip through the Dispatcher/Outbox/transport stack.`,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&logDir, "log-dir", "~/.rpcoreping/logs",
		"Directory for log files (empty to disable file logging)",
	)
	rootCmd.PersistentFlags().IntVar(
		&maxLogFiles, "max-log-files", 10,
		"Maximum number of rotated log files to keep",
	)
	rootCmd.PersistentFlags().IntVar(
		&maxLogFileSize, "max-log-file-size", 20,
		"Maximum log file size in MB before rotation",
	)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(pingCmd)
}
