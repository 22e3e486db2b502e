package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/pfrederiksen/events-monitor/internal/config"
	"github.com/pfrederiksen/events-monitor/internal/crypto"
	"github.com/pfrederiksen/events-monitor/internal/event"
	"github.com/pfrederiksen/events-monitor/internal/logger"
	"github.com/pfrederiksen/events-monitor/internal/metrics"
	"github.com/pfrederiksen/events-monitor/internal/pipeline"
	"github.com/pfrederiksen/events-monitor/internal/scheduler"
	"github.com/pfrederiksen/events-monitor/internal/server"
)

// Process exit codes
const (
	ExitNoChange  = 0
	ExitFailure   = 1
	ExitNewEvents = 2
	ExitDegraded  = 3

	// ExitAborted is used when a check could not complete
	ExitAborted = ExitFailure
)

// ExitError carries a non-zero exit code out of a command
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

type globalFlags struct {
	configPath string
	verbose    bool
}

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	flags := &globalFlags{}

	cmd := &cobra.Command{
		Use:   "events-monitor",
		Short: "Watch event listing pages and notify about newly added events",
		Long: `A tool that watches one or more web pages listing upcoming events.
Each check fetches the page, extracts the listed events, compares them with
the previous check and notifies by email and/or webhook about new ones.
The first check of a source only records a baseline.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "Path to config file (default: ./events-monitor.yaml)")
	cmd.PersistentFlags().BoolVar(&flags.verbose, "verbose", false, "Enable verbose logging")

	cmd.AddCommand(
		newCheckCmd(flags),
		newRunCmd(flags),
		newEncryptSecretCmd(),
		newStateCmd(flags),
	)

	return cmd
}

func loadConfig(flags *globalFlags) (config.Config, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("loading config: %w", err)
	}
	setupLogger(cfg, flags.verbose)
	return cfg, nil
}

func newCheckCmd(flags *globalFlags) *cobra.Command {
	var (
		dryRun bool
		format string
		source string
	)

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check every source once and exit",
		Long: `Check every configured source once.

Exit codes:
  0  no new events (also the first run of a source)
  2  new events found and notified
  3  new events found but a channel or the state save failed
  1  the check was aborted or could not start`,
		RunE: func(cmd *cobra.Command, args []string) error {
			outputFormat := OutputFormat(strings.ToLower(format))
			if outputFormat != FormatText && outputFormat != FormatJSON {
				return fmt.Errorf("invalid format: %s (must be 'text' or 'json')", format)
			}

			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			m, err := buildMonitor(ctx, cfg, buildOptions{
				dryRun:  dryRun,
				only:    source,
				out:     cmd.ErrOrStderr(),
				metrics: metrics.NewPrometheusSink(prometheus.NewRegistry()),
			})
			if err != nil {
				return err
			}
			defer m.Close()

			outcomes := make([]*pipeline.Outcome, 0, len(m.pipelines))
			for _, p := range m.pipelines {
				outcomes = append(outcomes, p.Run(ctx))
			}

			result := NewOutputResult(outcomes, time.Now())
			if err := WriteOutput(cmd.OutOrStdout(), result, outputFormat, flags.verbose); err != nil {
				return fmt.Errorf("writing output: %w", err)
			}

			if code := exitCode(outcomes); code != ExitNoChange {
				return &ExitError{Code: code}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print notifications instead of sending them and leave the state unchanged")
	cmd.Flags().StringVar(&format, "format", "text", "Output format: text or json")
	cmd.Flags().StringVar(&source, "source", "", "Only check the source with this name")

	return cmd
}

// exitCode folds outcomes into one process exit code. An aborted source
// dominates, then a degraded one, then new events.
func exitCode(outcomes []*pipeline.Outcome) int {
	code := ExitNoChange
	for _, o := range outcomes {
		switch {
		case o.Kind == pipeline.Aborted:
			return ExitAborted
		case o.Degraded():
			code = ExitDegraded
		case o.Kind == pipeline.CompletedWithNewEvents && code == ExitNoChange:
			code = ExitNewEvents
		}
	}
	return code
}

func newRunCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Check every source on a schedule until interrupted",
		Long: `Check every configured source now and then every check_interval_hours.
When server.addr is set, /healthz, /status and /metrics are served.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

			m, err := buildMonitor(ctx, cfg, buildOptions{metrics: metrics.NewPrometheusSink(reg)})
			if err != nil {
				return err
			}
			defer m.Close()

			tracker := server.NewTracker()
			sched := scheduler.New(cfg.CheckInterval(), func(ctx context.Context) {
				for _, p := range m.pipelines {
					tracker.Record(p.Run(ctx))
				}
			})

			serverErr := make(chan error, 1)
			if cfg.Server.Addr != "" {
				srv := server.New(tracker, reg, sched.NextRun)
				go func() {
					if err := srv.ListenAndServe(ctx, cfg.Server.Addr); err != nil {
						serverErr <- err
						stop()
					}
				}()
			}

			if err := sched.Run(ctx); err != nil {
				return err
			}

			select {
			case err := <-serverErr:
				return fmt.Errorf("status server: %w", err)
			default:
			}
			logger.Info("Shut down", nil)
			return nil
		},
	}
}

func newEncryptSecretCmd() *cobra.Command {
	var key string

	cmd := &cobra.Command{
		Use:   "encrypt-secret [value]",
		Short: "Encrypt a secret for use in the config file",
		Long: `Encrypt a secret (password, token, DSN) into an "enc:" value that can be
placed in the config file. The passphrase is taken from --key or
` + config.SecretKeyEnv + `. Without an argument the value is read from stdin.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if key == "" {
				key = os.Getenv(config.SecretKeyEnv)
			}
			enc := crypto.NewEncryptor(key)
			if enc == nil {
				return fmt.Errorf("no passphrase: set --key or %s", config.SecretKeyEnv)
			}

			var value string
			if len(args) == 1 {
				value = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && !errors.Is(err, io.EOF) {
					return fmt.Errorf("reading secret: %w", err)
				}
				value = strings.TrimRight(line, "\r\n")
			}
			if value == "" {
				return fmt.Errorf("empty secret")
			}

			secret, err := enc.EncryptSecret(value)
			if err != nil {
				return fmt.Errorf("encrypting secret: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), secret)
			return nil
		},
	}

	cmd.Flags().StringVar(&key, "key", "", "Passphrase (default: $"+config.SecretKeyEnv+")")
	return cmd
}

func newStateCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect persisted state",
	}

	var (
		format    string
		sortOrder string
		source    string
	)

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the events currently known for each source",
		RunE: func(cmd *cobra.Command, args []string) error {
			outputFormat := OutputFormat(strings.ToLower(format))
			if outputFormat != FormatText && outputFormat != FormatJSON && outputFormat != FormatICS {
				return fmt.Errorf("invalid format: %s (must be 'text', 'json' or 'ics')", format)
			}
			order, err := parseSortOrder(sortOrder)
			if err != nil {
				return err
			}

			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			sources, err := selectSources(cfg, source)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			states := make([]StateResult, 0, len(sources))
			for _, src := range sources {
				states = append(states, loadStateResult(ctx, cfg.Storage, src, order))
			}

			return WriteStates(cmd.OutOrStdout(), states, outputFormat, flags.verbose, time.Now())
		},
	}

	show.Flags().StringVar(&format, "format", "text", "Output format: text, json or ics")
	show.Flags().StringVar(&sortOrder, "sort", "page", "Sort order: page, date or title")
	show.Flags().StringVar(&source, "source", "", "Only show the source with this name")

	cmd.AddCommand(show)
	return cmd
}

func loadStateResult(ctx context.Context, cfg config.StorageConfig, src config.SourceConfig, order SortOrder) StateResult {
	result := StateResult{Source: sourceLabel(src.Name), Events: []*event.Record{}}

	store, err := openStore(ctx, cfg, src.Name)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	defer store.Close() // nolint:errcheck

	state, err := store.Load(ctx)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	if !state.IsEmpty() {
		checked := state.LastCheckedAt
		result.LastCheckedAt = &checked
	}

	records := append([]*event.Record(nil), state.Records...)
	sortRecords(records, order)
	result.Events = records
	result.EventCount = len(records)
	return result
}

// Execute runs the CLI and exits with the command's exit code
func Execute() {
	code := run(context.Background(), NewRootCmd())
	_ = logger.Default().Sync()
	os.Exit(code)
}

func run(ctx context.Context, cmd *cobra.Command) int {
	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return ExitNoChange
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
	return ExitFailure
}
