package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hebaghazali/portl/internal/engine"
	"github.com/hebaghazali/portl/pkg/config"
	"github.com/hebaghazali/portl/pkg/connector/core"
	"github.com/hebaghazali/portl/pkg/connector/registry"
	"github.com/hebaghazali/portl/pkg/logger"

	// Import all available connectors to register them
	_ "github.com/hebaghazali/portl/pkg/connector/csvfile"
	_ "github.com/hebaghazali/portl/pkg/connector/mysql"
	_ "github.com/hebaghazali/portl/pkg/connector/postgres"
)

var version = "0.1.0"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	var logLevel string

	root := &cobra.Command{
		Use:   "portl",
		Short: "Portl - declarative data migration between databases and files",
		Long: `Portl moves tabular data between heterogeneous backends from a single
declarative job file. Sources and destinations are described as endpoints,
conflicts are resolved by a configurable strategy, and a dry run shows what
a job would do without writing a row.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return logger.Init(logger.Config{Level: logLevel})
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Portl v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List available connectors",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("Available source connectors:")
			for _, kind := range registry.ListSources() {
				fmt.Printf("  - %s\n", kind)
			}
			fmt.Println("\nAvailable destination connectors:")
			for _, kind := range registry.ListDestinations() {
				fmt.Printf("  - %s\n", kind)
			}
		},
	})

	var dryRun bool
	var batchSize int
	var timeoutSecs int

	runCmd := &cobra.Command{
		Use:   "run <job.yaml>",
		Short: "Run a migration job",
		Long: `Run a migration job described by a YAML job file.

Example:
  portl run jobs/users.yaml --dry-run`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJob(args[0], engine.Options{
				DryRun:      dryRun,
				BatchSize:   batchSize,
				TimeoutSecs: timeoutSecs,
			})
		},
	}
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Validate and report without writing any data")
	runCmd.Flags().IntVar(&batchSize, "batch-size", 0, "Override the job's batch size")
	runCmd.Flags().IntVar(&timeoutSecs, "timeout", 0, "Override the job's timeout_seconds for connection and schema operations")
	root.AddCommand(runCmd)

	var checkConnections bool

	validateCmd := &cobra.Command{
		Use:   "validate <job.yaml>",
		Short: "Validate a job file without transferring data",
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateJob(args[0], checkConnections)
		},
		Args: cobra.ExactArgs(1),
	}
	validateCmd.Flags().BoolVar(&checkConnections, "check-connections", false, "Also connect to both endpoints and probe them")
	root.AddCommand(validateCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// runJob loads the job file and drives it through the engine. Interrupts
// cancel the run at the next batch boundary.
func runJob(jobFile string, opts engine.Options) error {
	job, warnings, err := config.LoadJob(jobFile)
	if err != nil {
		return err
	}
	for _, warning := range warnings {
		logger.Get().Warn(warning)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result := engine.New(job, opts).Run(ctx)
	printResult(result)

	if !result.Success {
		return fmt.Errorf("migration failed with %d error(s)", len(result.Errors))
	}
	return nil
}

// validateJob checks the job file and constructs both connectors. With
// --check-connections it also connects and probes each endpoint; connector
// construction alone performs no I/O.
func validateJob(jobFile string, checkConnections bool) error {
	job, warnings, err := config.LoadJob(jobFile)
	if err != nil {
		return err
	}

	errs := job.Validate()
	for _, warning := range warnings {
		fmt.Printf("warning: %s\n", warning)
	}
	for _, e := range errs {
		fmt.Printf("error: %s\n", e)
	}
	if len(errs) > 0 {
		return fmt.Errorf("job file is invalid (%d error(s))", len(errs))
	}

	source, err := registry.CreateSource(&job.Source)
	if err != nil {
		return err
	}
	destination, err := registry.CreateDestination(&job.Destination)
	if err != nil {
		return err
	}

	if checkConnections {
		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(config.DefaultTimeoutSecs)*time.Second)
		defer cancel()

		err := core.WithConnection(ctx, source, func() error {
			return core.WithConnection(ctx, destination, func() error {
				if !source.TestConnection(ctx) {
					return fmt.Errorf("source connection test failed")
				}
				if !destination.TestConnection(ctx) {
					return fmt.Errorf("destination connection test failed")
				}
				return nil
			})
		})
		if err != nil {
			return err
		}
		fmt.Println("Both endpoints reachable.")
	}

	fmt.Println("Job file is valid.")
	return nil
}

// printResult renders the run outcome for the terminal
func printResult(result *engine.ExecutionResult) {
	log := logger.Get().With(zap.String("run_id", result.RunID))

	fmt.Println()
	if result.DryRun {
		fmt.Println("Dry run complete, no data was written.")
		fmt.Printf("  Rows available:  %d\n", result.TotalRows)
	} else if result.Success {
		fmt.Println("Migration succeeded.")
	} else {
		fmt.Println("Migration failed.")
	}

	fmt.Printf("  Rows processed:  %d\n", result.RowsProcessed)
	fmt.Printf("  Rows written:    %d\n", result.RowsWritten)
	fmt.Printf("  Batches:         %d\n", result.BatchesProcessed)
	fmt.Printf("  Duration:        %s\n", result.Duration.Round(time.Millisecond))

	if len(result.Warnings) > 0 {
		fmt.Println("\nWarnings:")
		for _, warning := range result.Warnings {
			fmt.Printf("  - %s\n", warning)
		}
	}
	if len(result.Errors) > 0 {
		fmt.Println("\nErrors:")
		for _, e := range result.Errors {
			fmt.Printf("  - %s\n", e)
		}
	}

	if result.DryRun && result.Preview != nil && !result.Preview.IsEmpty() {
		fmt.Printf("\nPreview (first %d rows):\n", result.Preview.Len())
		for _, row := range result.Preview.Rows {
			cells := make([]string, len(row.Columns))
			for i, col := range row.Columns {
				cells[i] = fmt.Sprintf("%s=%v", col, row.Get(col))
			}
			fmt.Printf("  %s\n", strings.Join(cells, ", "))
		}
	}

	log.Info("run finished",
		zap.Bool("success", result.Success),
		zap.Int64("rows_written", result.RowsWritten),
		zap.Duration("duration", result.Duration))
}
