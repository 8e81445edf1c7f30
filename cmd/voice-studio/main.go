// main package for the voice-studio client
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-studio/internal/config"
	"github.com/book-expert/voice-studio/internal/studio"
	"github.com/spf13/cobra"
)

// File names.
const (
	bootstrapLogFile = "voice-studio-bootstrap.log"
	logFile          = "voice-studio.log"
)

// Flag names and descriptions.
const (
	flagConfig     = "config"
	flagConfigDesc = "Path to a TOML config file (defaults to the configurator lookup)"
	flagBaseURL    = "base-url"
	flagBaseDesc   = "Override the synthesis service base URL"
)

// app carries what every command needs: configuration, logger and the
// lazily built session.
type app struct {
	out        io.Writer
	configPath string
	baseURL    string

	cfg     *config.Config
	log     *logger.Logger
	session *studio.Session
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "voice-studio exited with error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return execute(ctx, &app{out: os.Stdout}, os.Args[1:])
}

// execute runs one command line and always releases the session and logger,
// also when the command failed.
func execute(ctx context.Context, application *app, args []string) error {
	root := newRootCommand(application)
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	teardownErr := application.teardown(ctx)

	if err != nil {
		return err
	}

	return teardownErr
}

func newRootCommand(application *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "voice-studio",
		Short:         "Client for a voice synthesis and cloning service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return application.setup()
		},
	}

	root.SetOut(application.out)
	root.PersistentFlags().StringVar(&application.configPath, flagConfig, "", flagConfigDesc)
	root.PersistentFlags().StringVar(&application.baseURL, flagBaseURL, "", flagBaseDesc)

	root.AddCommand(
		newHealthCommand(application),
		newVoicesCommand(application),
		newSayCommand(application),
		newCloneCommand(application),
		newServeCommand(application),
		newShellCommand(application),
	)

	return root
}

// setup loads the configuration with a bootstrap logger, then opens the final logger.
func (a *app) setup() error {
	bootstrapLog, err := logger.New(os.TempDir(), bootstrapLogFile)
	if err != nil {
		return fmt.Errorf("failed to create bootstrap logger: %w", err)
	}

	defer func() {
		_ = bootstrapLog.Close()
	}()

	bootstrapLog.Info("Bootstrap logger created.")

	cfg, err := a.loadConfig(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if a.baseURL != "" {
		cfg.Studio.BaseURL = a.baseURL

		validateErr := cfg.Validate()
		if validateErr != nil {
			return fmt.Errorf("invalid --%s: %w", flagBaseURL, validateErr)
		}
	}

	finalLog, err := logger.New(cfg.Paths.BaseLogsDir, logFile)
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	a.cfg = cfg
	a.log = finalLog

	finalLog.System("voice-studio started against %s", cfg.Studio.BaseURL)

	return nil
}

func (a *app) loadConfig(bootstrapLog *logger.Logger) (*config.Config, error) {
	if a.configPath != "" {
		return config.LoadFile(a.configPath)
	}

	return config.Load(bootstrapLog)
}

// open builds the session on first use.
func (a *app) open() (*studio.Session, error) {
	if a.session != nil {
		return a.session, nil
	}

	session, err := studio.New(a.cfg, a.log)
	if err != nil {
		a.log.Error("Failed to build session: %v", err)

		return nil, fmt.Errorf("failed to build session: %w", err)
	}

	a.session = session

	return session, nil
}

func (a *app) teardown(ctx context.Context) error {
	var closeErr error

	if a.session != nil {
		closeErr = a.session.Close(context.WithoutCancel(ctx))
		a.session = nil
	}

	if a.log != nil {
		logErr := a.log.Close()
		if logErr != nil && closeErr == nil {
			closeErr = fmt.Errorf("error closing logger: %w", logErr)
		}

		a.log = nil
	}

	return closeErr
}
