package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/agentic-research/pbixproj/api"
	"github.com/agentic-research/pbixproj/internal/ingest"
	"github.com/agentic-research/pbixproj/internal/project"
	"github.com/agentic-research/pbixproj/internal/serialize"
)

// Exit codes.
const (
	exitError       = 1
	exitUnsupported = 3
	exitDestination = 4
)

var (
	verbose bool
	logger  = slog.Default()
)

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

var rootCmd = &cobra.Command{
	Use:           "pbixproj",
	Short:         "Extract PBIX/PBIT packages into diffable project folders and compile them back",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	},
}

// loadSettings resolves the settings override from a settings file and a
// mode flag. nil means the project manifest decides.
func loadSettings(file, mode string) (*api.Settings, error) {
	if file == "" && mode == "" {
		return nil, nil
	}
	var s api.Settings
	if file != "" {
		var err error
		if s, err = project.LoadSettingsFile(file); err != nil {
			return nil, err
		}
	}
	if mode != "" {
		m, err := parseMode(mode)
		if err != nil {
			return nil, err
		}
		s.Model.SerializationMode = m
		s.Report.SerializationMode = m
		s.Mashup.SerializationMode = m
	}
	return &s, nil
}

func parseMode(s string) (api.Mode, error) {
	switch api.Mode(s) {
	case api.ModeDefault, api.ModeRaw:
		return api.Mode(s), nil
	}
	return "", fmt.Errorf("unknown serialization mode %q (want %s or %s)", s, api.ModeDefault, api.ModeRaw)
}

// openProject opens an existing project folder without creating it.
func openProject(dir string) (*project.Root, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("open project: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("open project: %s is not a directory", dir)
	}
	return project.OpenDir(dir, logger)
}

func newEngine(settings *api.Settings, legacy bool) *ingest.Engine {
	return ingest.NewEngine(ingest.Options{Settings: settings, AllowLegacy: legacy, Logger: logger})
}

// exitCode maps an error to the process exit status.
func exitCode(err error) int {
	switch {
	case errors.Is(err, api.ErrUnsupportedFormat), errors.Is(err, serialize.ErrUnsupported):
		return exitUnsupported
	case errors.Is(err, project.ErrDestinationExists):
		return exitDestination
	default:
		return exitError
	}
}

// Execute runs the root command.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}
