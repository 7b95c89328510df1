package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/clsa/birch/internal/app"
	"github.com/clsa/birch/internal/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	configPath string
	debug      bool
)

var rootCmd = &cobra.Command{
	Use:   "birch",
	Short: "birch manages the ultrasound image rating database",
	Long: `birch is the operator tool of the image rating database. It reads
the schema, manages rater accounts, walks studies, stores ratings and
imports studies from a manifest.

Examples:
  birch --config birch.yaml schema
  birch users add alice
  birch studies next A123456
  birch rate alice 42 3`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "birch.yaml", "configuration file (.yaml, .yml or .json)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "log every statement")

	rootCmd.AddCommand(schemaCmd, usersCmd, studiesCmd, rateCmd, importCmd, eventsCmd)
}

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

// run executes the command line and returns the process exit code.
func run(args []string, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetArgs(args)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	return 0
}

func newLogger(cfg *config.Config) (*logrus.Logger, error) {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	if debug {
		level = logrus.DebugLevel
	}
	logger.SetLevel(level)
	return logger, nil
}

// connect loads the configuration and returns a connected application.
// The caller must close it.
func connect(cmd *cobra.Command) (*app.Application, error) {
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}

	a := app.New(cfg, logger)
	if err := a.Connect(cmd.Context()); err != nil {
		return nil, err
	}
	return a, nil
}
