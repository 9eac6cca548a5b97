package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/pgokache/internal/config"
	"github.com/ppiankov/pgokache/internal/logging"
	"github.com/ppiankov/pgokache/internal/reporter"
	"github.com/ppiankov/pgokache/internal/service"
	"github.com/ppiankov/pgokache/internal/telemetry"
)

// StoreURLEnv overrides the configured store URL.
const StoreURLEnv = "PGOKACHE_STORE_URL"

// BuildInfo is stamped at link time.
type BuildInfo struct {
	Version string
	Commit  string
	Date    string
}

// ExitError carries a process exit code for outcomes that are not
// failures of the command itself, such as a target that is not ready.
type ExitError struct {
	Code int
	Msg  string
}

func (e *ExitError) Error() string {
	return e.Msg
}

// app holds global flag values and the loaded configuration.
type app struct {
	build    BuildInfo
	storeURL string
	verbose  bool
	trace    bool
	cfg      config.Config
	cwd      string
	shutdown telemetry.Shutdown
}

func newRootCmd(build BuildInfo) *cobra.Command {
	a := &app{build: build}

	root := &cobra.Command{
		Use:          "pgokache",
		Short:        "PostgreSQL query statistics advisor",
		Long:         "Checks pg_stat_statements readiness, snapshots statement statistics and recommends indexes, work_mem changes and read replicas.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logging.Init(a.verbose, cmd.ErrOrStderr())

			cwd, err := os.Getwd()
			if err != nil {
				cwd = "."
			}
			a.cwd = cwd
			a.cfg, err = config.Load(cwd)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			slog.Debug("config loaded", "path", cwd)

			// --store beats the environment, which beats the config file.
			switch {
			case a.storeURL != "":
				a.cfg.Store.URL = a.storeURL
			case os.Getenv(StoreURLEnv) != "":
				a.cfg.Store.URL = os.Getenv(StoreURLEnv)
			}

			if a.trace {
				a.shutdown, err = telemetry.Setup(cmd.ErrOrStderr(), build.Version)
				if err != nil {
					return fmt.Errorf("tracing: %w", err)
				}
			}
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.shutdown == nil {
				return nil
			}
			return a.shutdown(cmd.Context())
		},
	}

	root.PersistentFlags().StringVar(&a.storeURL, "store", "", "store URL: sqlite://path or postgres://... (or set "+StoreURLEnv+")")
	root.PersistentFlags().BoolVar(&a.verbose, "verbose", false, "enable debug-level logging")
	root.PersistentFlags().BoolVar(&a.trace, "trace", false, "print OpenTelemetry spans to stderr")

	root.AddCommand(newVersionCmd(build))
	root.AddCommand(newInstanceCmd(a))
	root.AddCommand(newCheckCmd(a))
	root.AddCommand(newCollectCmd(a))
	root.AddCommand(newRecommendCmd(a))
	root.AddCommand(newRecommendationsCmd(a))
	root.AddCommand(newRecommendationCmd(a))
	root.AddCommand(newSnapshotsCmd(a))
	root.AddCommand(newSetupStatesCmd(a))
	root.AddCommand(newServeCmd(a))

	return root
}

func newVersionCmd(build BuildInfo) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "pgokache %s (commit %s, built %s)\n", build.Version, build.Commit, build.Date)
		},
	}
}

// open wires a service for one command. The caller must Close it.
func (a *app) open(cmd *cobra.Command) (*service.Service, error) {
	return service.Open(cmd.Context(), a.cfg, a.cwd)
}

// format resolves --format, falling back to defaults.format.
func (a *app) format(cmd *cobra.Command, flag string) (reporter.Format, error) {
	if !cmd.Flags().Changed("format") && a.cfg.Defaults.Format != "" {
		flag = a.cfg.Defaults.Format
	}
	return reporter.ParseFormat(flag)
}

// withService opens the service, runs fn and closes it.
func (a *app) withService(cmd *cobra.Command, fn func(svc *service.Service) error) error {
	svc, err := a.open(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := svc.Close(); cerr != nil {
			slog.Debug("close store", "error", cerr)
		}
	}()
	return fn(svc)
}

// Execute runs the root command.
func Execute(version, commit, date string) error {
	return newRootCmd(BuildInfo{Version: version, Commit: commit, Date: date}).Execute()
}
