package cmd

import (
	"errors"
	"fmt"
	"os"

	"apiprobe/internal/executor"
	"apiprobe/internal/token"
	"apiprobe/pkg/logging"

	"github.com/spf13/cobra"
)

// Exit codes follow common conventions so CI pipelines can distinguish
// tool errors from test verdicts.
const (
	// ExitCodeSuccess indicates successful execution with all cases passing.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (bad config, unreadable suites).
	ExitCodeError = 1
	// ExitCodeTestsFailed indicates the run completed but cases failed.
	ExitCodeTestsFailed = 2
	// ExitCodeAuthFailed indicates token acquisition failed.
	ExitCodeAuthFailed = 3
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "apiprobe",
	Short: "Contract-driven API test runner",
	Long: `apiprobe executes declarative API test suites: it sends each case's
valid example, derives negative variants by mutating the request contract,
and checks response assertions plus persisted state.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := parseLogLevel(logLevel)
		if err != nil {
			return err
		}
		logging.Init(level, os.Stderr)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "Path to the configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	_ = rootCmd.RegisterFlagCompletionFunc("log-level", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return []string{"debug", "info", "warn", "error"}, cobra.ShellCompDirectiveDefault
	})
}

func parseLogLevel(s string) (logging.LogLevel, error) {
	switch s {
	case "debug":
		return logging.LevelDebug, nil
	case "info":
		return logging.LevelInfo, nil
	case "warn":
		return logging.LevelWarn, nil
	case "error":
		return logging.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}

// SetVersion sets the version for the root command.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute runs the CLI and exits with a semantic exit code.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "apiprobe version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}

// errTestsFailed marks a completed run with failing cases.
var errTestsFailed = errors.New("one or more test cases failed")

func exitCode(err error) int {
	if errors.Is(err, errTestsFailed) {
		return ExitCodeTestsFailed
	}

	var authErr *token.AuthError
	if errors.As(err, &authErr) {
		return ExitCodeAuthFailed
	}
	var execAuthErr *executor.AuthenticationError
	if errors.As(err, &execAuthErr) {
		return ExitCodeAuthFailed
	}

	return ExitCodeError
}
