package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"library-circulation/config"
	"library-circulation/library"
	"library-circulation/logger"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// app carries what every subcommand needs once the root command has run.
type app struct {
	configPath string
	manager    *library.LibraryManager
	log        *zap.Logger
	out        io.Writer
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{out: os.Stdout}
	if err := a.execute(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// execute runs one command line and releases the store and logger whether
// or not the command succeeded.
func (a *app) execute(ctx context.Context, args []string) error {
	defer a.close()
	root := a.rootCommand()
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "library",
		Short:         "Multi-branch library circulation",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.open()
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "path to a YAML config file")

	root.AddCommand(
		a.registerCommand(),
		a.borrowCommand(),
		a.renewCommand(),
		a.returnCommand(),
		a.reserveCommand(),
		a.payCommand(),
		a.withdrawCommand(),
		a.searchCommand(),
		a.availabilityCommand(),
		a.historyCommand(),
		a.sweepCommand(),
		a.reportCommand(),
	)
	return root
}

func (a *app) open() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Log.Mode, cfg.Log.Level)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	a.log = log

	mgr, err := library.NewLibraryManager(cfg.Database.Path,
		library.WithLogger(log),
		library.WithBusyTimeout(cfg.Database.BusyTimeout()),
	)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	a.manager = mgr
	return nil
}

// close releases what open acquired. It runs after every command, failed
// ones included, and is safe to call when open never ran.
func (a *app) close() {
	if a.manager != nil {
		if err := a.manager.Close(); err != nil {
			a.log.Warn("close database", zap.Error(err))
		}
		a.manager = nil
	}
	if a.log != nil {
		logger.Sync(a.log)
		a.log = nil
	}
}

// print writes v as indented JSON.
func (a *app) print(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// exitCode maps error kinds to distinct process exit statuses.
func exitCode(err error) int {
	var e *library.Error
	if !errors.As(err, &e) {
		return 1
	}
	switch e.Kind {
	case library.KindInvalidInput:
		return 2
	case library.KindNotFound:
		return 3
	case library.KindInvalidState:
		return 4
	default:
		return 1
	}
}
