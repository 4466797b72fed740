package cmd

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"apiprobe/internal/assert"
	"apiprobe/internal/config"
	"apiprobe/internal/contract"
	"apiprobe/internal/executor"
	"apiprobe/internal/report"
	"apiprobe/internal/runner"
	"apiprobe/internal/token"
	"apiprobe/pkg/logging"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"
	"golang.org/x/oauth2/clientcredentials"
)

var (
	runSuitesPath   string
	runReportDir    string
	runFailFast     bool
	runParallel     int
	runMaxNegatives int
	runQuiet        bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute test suites against the configured API",
	Long: `Run loads test-case files, executes each positive case and its
mutation variants, and writes a per-run report directory containing every
HTTP attempt and the final verdicts.

Exit codes:
  0  all cases passed
  1  the run could not be executed
  2  the run completed with failing cases
  3  authentication against the API failed`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSuites(cmd)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runSuitesPath, "suites", "suites", "Suite file or directory of suite files")
	runCmd.Flags().StringVar(&runReportDir, "report-dir", "reports", "Directory for per-run report output")
	runCmd.Flags().BoolVar(&runFailFast, "fail-fast", false, "Stop scheduling cases after the first failure")
	runCmd.Flags().IntVar(&runParallel, "parallel", 0, "Worker count (overrides configuration)")
	runCmd.Flags().IntVar(&runMaxNegatives, "max-negatives", 0, "Cap mutation variants per case (0 = unlimited)")
	runCmd.Flags().BoolVarP(&runQuiet, "quiet", "q", false, "Suppress the progress spinner")
}

func runSuites(cmd *cobra.Command) error {
	settings, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if runParallel > 0 {
		settings.Parallel = runParallel
	}
	if err := settings.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	suites, err := contract.LoadSuites(runSuitesPath)
	if err != nil {
		return err
	}
	total := 0
	for _, s := range suites {
		total += len(s.Cases)
	}
	logging.Info("Run", "Loaded %d suites with %d cases", len(suites), total)

	sink, err := report.NewDirectory(runReportDir)
	if err != nil {
		return err
	}
	defer func() { _ = sink.Close() }()

	httpClient := &http.Client{Timeout: settings.Timeout}

	auth, err := buildAuthenticator(settings, httpClient)
	if err != nil {
		return err
	}

	exec := executor.New(executor.Options{
		Client:       httpClient,
		Auth:         auth,
		Sink:         sink,
		RetryBudget:  settings.RetryBudget,
		RateLimitCap: settings.RateLimitCap,
		BackoffBase:  settings.BackoffBase,
		BackoffMax:   settings.BackoffMax,
	})

	var store assert.Store
	if settings.StoreURL != "" {
		store = &assert.HTTPStore{Client: httpClient, BaseURL: settings.StoreURL}
	}

	r, err := runner.New(runner.Options{
		Executor:       exec,
		Store:          store,
		BaseURL:        settings.BaseURL,
		Parallel:       settings.Parallel,
		FailFast:       runFailFast,
		MaxNegatives:   runMaxNegatives,
		DefaultTimeout: settings.Timeout,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var spin *spinner.Spinner
	if !runQuiet {
		spin = spinner.New(spinner.CharSets[14], 100*time.Millisecond)
		spin.Suffix = fmt.Sprintf(" Running %d cases against %s", total, settings.BaseURL)
		spin.Start()
	}

	result := r.Run(ctx, suites)

	if spin != nil {
		spin.Stop()
	}

	report.PrintSummary(cmd.OutOrStdout(), result)

	doc := report.NewDocument(sink.RunID(), result)
	if err := sink.WriteJSON("report.json", doc); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Report written to %s\n", sink.Dir())

	if ctx.Err() != nil {
		return fmt.Errorf("run interrupted: %w", ctx.Err())
	}
	if result.Failed() {
		return errTestsFailed
	}
	return nil
}

// buildAuthenticator wires the token manager from configuration. Runs
// without credentials get no authenticator at all.
func buildAuthenticator(settings config.Settings, client *http.Client) (executor.Authenticator, error) {
	creds := settings.Credentials

	var source token.Source
	switch {
	case creds.OAuth.Enabled():
		source = &token.OAuthSource{
			Config: clientcredentials.Config{
				TokenURL:     creds.OAuth.TokenURL,
				ClientID:     creds.OAuth.ClientID,
				ClientSecret: creds.OAuth.ClientSecret,
				Scopes:       creds.OAuth.Scopes,
			},
			DefaultTTL: creds.TokenTTL,
		}
	case creds.TokenEndpoint != "":
		source = &token.EndpointSource{
			Client:   client,
			BaseURL:  settings.BaseURL,
			Endpoint: creds.TokenEndpoint,
			Username: creds.Username,
			TTL:      creds.TokenTTL,
		}
	default:
		logging.Info("Run", "No credentials configured, running unauthenticated")
		return nil, nil
	}

	manager, err := token.NewManager(token.Options{
		Source:   source,
		Margin:   settings.TokenMargin,
		CacheDir: settings.CacheDir,
		APIKey:   creds.APIKey,
	})
	if err != nil {
		return nil, err
	}
	return manager, nil
}
