package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	gxoerrors "github.com/gxo-labs/rdx/pkg/rdx/v1/errors"
	gxolog "github.com/gxo-labs/rdx/pkg/rdx/v1/log"
	"gopkg.in/yaml.v3"

	"github.com/gxo-labs/rdx/internal/config"
	"github.com/gxo-labs/rdx/internal/events"
	"github.com/gxo-labs/rdx/internal/logger"
	"github.com/gxo-labs/rdx/internal/metrics"
	"github.com/gxo-labs/rdx/internal/middleware"
	"github.com/gxo-labs/rdx/internal/runner"
	"github.com/gxo-labs/rdx/internal/tracing"

	_ "github.com/gxo-labs/rdx/modules/batch"
	_ "github.com/gxo-labs/rdx/modules/delay"
	_ "github.com/gxo-labs/rdx/modules/exec"
	_ "github.com/gxo-labs/rdx/modules/gate"
	_ "github.com/gxo-labs/rdx/modules/logging"
)

const (
	ExitSuccess          = 0
	ExitFailure          = 1
	ExitUsageError       = 2
	ExitTimeout          = 124
	ExitSigIntBase       = 128
	ExitSigInt           = ExitSigIntBase + int(syscall.SIGINT)
	ExitSigTerm          = ExitSigIntBase + int(syscall.SIGTERM)
	DefaultLogLevel      = "info"
	DefaultLogFmt        = "text"
	DefaultEventBusSize  = 256
	listenerDrainTimeout = 2 * time.Second
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

var defaultRedactedKeywords = []string{"password", "token", "secret", "apikey", "privatekey", "authorization", "bearer"}

func main() {
	if len(os.Args) > 1 && os.Args[1] == "validate" {
		os.Exit(runValidateCommand(os.Args[2:]))
	}
	if len(os.Args) == 2 && (os.Args[1] == "--version" || os.Args[1] == "-version") {
		printVersion()
		os.Exit(ExitSuccess)
	}
	os.Exit(runExecuteCommand(os.Args[1:]))
}

func printVersion() {
	fmt.Printf("rdx version %s\n", version)
	fmt.Printf("commit: %s\n", commit)
	fmt.Printf("built: %s\n", buildDate)
	fmt.Printf("go version: %s\n", runtime.Version())
	fmt.Printf("os/arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
}

func runValidateCommand(args []string) int {
	validateFlags := flag.NewFlagSet("validate", flag.ContinueOnError)
	scenarioPath := validateFlags.String("scenario", "", "Path to the scenario YAML file to validate (required)")
	logLevel := validateFlags.String("log-level", DefaultLogLevel, "Log level for validation output (debug, info, warn, error)")

	validateFlags.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s validate -scenario <path> [flags...]\n\n", os.Args[0])
		fmt.Fprintln(os.Stderr, "Validates the structure and schema compatibility of an rdx scenario.")
		fmt.Fprintln(os.Stderr, "\nFlags:")
		validateFlags.PrintDefaults()
	}
	if err := validateFlags.Parse(args); err != nil {
		return ExitUsageError
	}
	if *scenarioPath == "" {
		fmt.Fprintln(os.Stderr, "Error: -scenario flag is required for validation")
		validateFlags.Usage()
		return ExitUsageError
	}

	log := logger.NewDefaultLogger(*logLevel)
	log.Infof("Validating scenario: %s", *scenarioPath)

	if _, err := config.LoadScenarioFromFile(*scenarioPath); err != nil {
		var validationErr *gxoerrors.ValidationError
		var configErr *gxoerrors.ConfigError
		switch {
		case errors.As(err, &validationErr):
			log.Errorf("Scenario validation failed:\n%s", validationErr.Error())
		case errors.As(err, &configErr):
			log.Errorf("Scenario configuration error:\n%s", configErr.Error())
		default:
			log.Errorf("Failed to load or validate scenario: %v", err)
		}
		return ExitFailure
	}

	log.Infof("Scenario validation successful: %s", *scenarioPath)
	return ExitSuccess
}

func runExecuteCommand(args []string) int {
	execFlags := flag.NewFlagSet("rdx", flag.ContinueOnError)
	scenarioPath := execFlags.String("scenario", "", "Path to the scenario YAML file (required)")
	logLevel := execFlags.String("log-level", DefaultLogLevel, "Log level (debug, info, warn, error)")
	logFormat := execFlags.String("log-format", DefaultLogFmt, "Log format (text, json)")
	dryRun := execFlags.Bool("dry-run", false, "Simulate side effects such as command execution")
	watch := execFlags.Bool("watch", false, "Re-run the scenario whenever the file changes")
	versionFlag := execFlags.Bool("version", false, "Print version information and exit")

	execFlags.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags...] -scenario <path>\n\n", os.Args[0])
		fmt.Fprintln(os.Stderr, "Runs an rdx scenario and prints the final document state as YAML.")
		fmt.Fprintln(os.Stderr, "\nFlags:")
		execFlags.PrintDefaults()
	}
	if err := execFlags.Parse(args); err != nil {
		return ExitUsageError
	}
	if *versionFlag {
		printVersion()
		return ExitSuccess
	}
	if *scenarioPath == "" {
		fmt.Fprintln(os.Stderr, "Error: -scenario flag is required")
		execFlags.Usage()
		return ExitUsageError
	}
	if *logFormat != "text" && *logFormat != "json" {
		fmt.Fprintln(os.Stderr, "Error: -log-format must be 'text' or 'json'")
		return ExitUsageError
	}

	log := logger.NewLogger(*logLevel, *logFormat, os.Stderr).With("rdx_version", version)
	log.Debugf("Log level: %s, format: %s", *logLevel, *logFormat)

	eventBus := events.NewChannelEventBus(DefaultEventBusSize, log)
	metricsProvider := metrics.NewPrometheusRegistryProvider()
	tracerProvider, err := tracing.NewProviderFromEnv(context.Background())
	if err != nil {
		log.Warnf("Failed to initialize tracing from environment: %v. Using NoOp tracer.", err)
		tracerProvider, _ = tracing.NewNoOpProvider()
	}

	r, err := runner.New(log, middleware.DefaultStaticRegistryGetter,
		runner.WithEventBus(eventBus),
		runner.WithMetricsRegistryProvider(metricsProvider),
		runner.WithTracerProvider(tracerProvider),
		runner.WithRedactedKeywords(defaultRedactedKeywords),
	)
	if err != nil {
		log.Errorf("Failed to create scenario runner: %v", err)
		eventBus.Close()
		return ExitFailure
	}

	ctx := context.Background()
	if *dryRun {
		ctx = context.WithValue(ctx, middleware.DryRunKey{}, true)
		log.Infof("Dry run mode enabled.")
	}
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	counter, err := events.NewEventsCounter(metricsProvider.Registry())
	if err != nil {
		log.Warnf("Failed to register events counter: %v", err)
	}
	listenerDone := make(chan struct{})
	if counter != nil {
		listener := events.NewMetricsEventListener(eventBus, counter, log)
		go func() {
			defer close(listenerDone)
			listener.Start(context.Background())
		}()
	} else {
		close(listenerDone)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var receivedSignal os.Signal
	var sigMu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case sig := <-sigChan:
			log.Warnf("Received signal: %v. Initiating graceful shutdown...", sig)
			sigMu.Lock()
			receivedSignal = sig
			sigMu.Unlock()
			cancelRun()
		case <-runCtx.Done():
		}
	}()

	var report *runner.Report
	var execErr error
	if *watch {
		execErr = watchAndRun(runCtx, log, r, *scenarioPath, os.Stdout)
	} else {
		report, execErr = runScenarioFile(runCtx, r, *scenarioPath)
		printFinalState(log, os.Stdout, report)
		printReportSummary(log, report, execErr)
	}

	cancelRun()
	wg.Wait()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if shutdownErr := tracerProvider.Shutdown(shutdownCtx); shutdownErr != nil {
		log.Warnf("Error shutting down tracer provider: %v", shutdownErr)
	}
	eventBus.Close()
	select {
	case <-listenerDone:
	case <-time.After(listenerDrainTimeout):
	}
	if dropped := eventBus.Dropped(); dropped > 0 {
		log.Debugf("Event bus dropped %d events.", dropped)
	}

	sigMu.Lock()
	finalSignal := receivedSignal
	sigMu.Unlock()
	return determineExitCode(report, execErr, finalSignal, log)
}

func runScenarioFile(ctx context.Context, r *runner.Runner, path string) (*runner.Report, error) {
	scenario, err := config.LoadScenarioFromFile(path)
	if err != nil {
		return nil, err
	}
	return r.RunScenario(ctx, scenario)
}

// watchAndRun re-runs the scenario on every change until ctx is done.
// Load and run failures are reported and the watch continues.
func watchAndRun(ctx context.Context, log gxolog.Logger, r *runner.Runner, path string, out io.Writer) error {
	contents, err := runner.WatchFile(ctx, path)
	if err != nil {
		return err
	}
	log.Infof("Watching %s for changes. Press Ctrl+C to stop.", path)
	for data := range contents {
		scenario, loadErr := config.LoadScenario(data, path)
		if loadErr != nil {
			log.Errorf("Scenario is invalid, waiting for the next change: %v", loadErr)
			continue
		}
		report, runErr := r.RunScenario(ctx, scenario)
		printFinalState(log, out, report)
		printReportSummary(log, report, runErr)
	}
	return ctx.Err()
}

func printFinalState(log gxolog.Logger, out io.Writer, report *runner.Report) {
	if report == nil {
		return
	}
	enc := yaml.NewEncoder(out)
	defer enc.Close()
	enc.SetIndent(2)
	if err := enc.Encode(report.FinalState); err != nil {
		log.Errorf("Failed to print final state: %v", err)
	}
}

func printReportSummary(log gxolog.Logger, report *runner.Report, execErr error) {
	if report == nil {
		log.Warnf("Execution finished but no report was generated (likely due to early failure).")
		if execErr != nil {
			logExecutionErrorReason(log, execErr)
		}
		return
	}

	statusLine := fmt.Sprintf("Scenario '%s' finished. Status: %s", report.ScenarioName, report.Status)
	summaryLine := fmt.Sprintf("Duration: %v. Actions=%d, Transitions=%d, Async=%d, Fingerprint=%016x",
		report.Duration.Truncate(time.Millisecond),
		report.ActionsDispatched, report.StateTransitions, report.AsyncOperations, report.Fingerprint)

	if report.Status == runner.StatusFailed || execErr != nil {
		log.Errorf("%s. %s", statusLine, summaryLine)
		if execErr != nil {
			logExecutionErrorReason(log, execErr)
		}
		for _, f := range report.FailedExpectations {
			log.Errorf("  - Expected '%s' = %v, got %v", f.Path, f.Want, f.Got)
		}
		return
	}
	log.Infof("%s. %s", statusLine, summaryLine)
}

func logExecutionErrorReason(log gxolog.Logger, execErr error) {
	switch {
	case errors.Is(execErr, context.Canceled):
		log.Warnf("Execution Reason: Cancelled.")
	case errors.Is(execErr, context.DeadlineExceeded):
		log.Errorf("Execution Reason: Timeout.")
	default:
		log.Errorf("Execution Error: %v", execErr)
	}
}

func determineExitCode(report *runner.Report, execErr error, sig os.Signal, log gxolog.Logger) int {
	if sig != nil {
		switch sig {
		case syscall.SIGINT:
			log.Warnf("Scenario interrupted by signal: SIGINT")
			return ExitSigInt
		case syscall.SIGTERM:
			log.Warnf("Scenario terminated by signal: SIGTERM")
			return ExitSigTerm
		}
	}
	switch {
	case execErr == nil && (report == nil || report.Status != runner.StatusFailed):
		log.Infof("Scenario completed successfully.")
		return ExitSuccess
	case errors.Is(execErr, context.DeadlineExceeded):
		log.Errorf("Scenario timed out.")
		return ExitTimeout
	case errors.Is(execErr, context.Canceled):
		log.Warnf("Scenario cancelled.")
		return ExitFailure
	default:
		return ExitFailure
	}
}
