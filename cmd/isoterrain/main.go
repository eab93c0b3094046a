package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"isoterrain/internal/config"
	"isoterrain/internal/logging"
)

func main() {
	os.Exit(execute(os.Args[1:]))
}

// execute runs the command line and returns the process exit code. Deferred cleanup, the logger
// sync included, runs before the caller exits.
func execute(args []string) int {
	var (
		cfgPath     string
		writeConfig string
		opts        options
	)
	flags := flag.NewFlagSet("isoterrain", flag.ContinueOnError)
	flags.StringVar(&cfgPath, "config", "", "path to a JSON or YAML configuration file")
	flags.StringVar(&writeConfig, "write-config", "", "write the effective configuration as YAML to this path and exit")
	flags.StringVar(&opts.script, "script", "", "YAML script of cameras and edits applied at startup")
	flags.BoolVar(&opts.save, "save", false, "save the world to storage before exiting")
	flags.BoolVar(&opts.hold, "hold", false, "keep serving after the script has been applied")
	flags.StringVar(&opts.replicate, "replicate", "", "mirror the publisher at this UDP address instead of loading the world")
	if err := flags.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		return 1
	}

	if writeConfig != "" {
		data, err := yaml.Marshal(cfg)
		if err == nil {
			err = os.WriteFile(writeConfig, data, 0o600)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "write config: %v\n", err)
			return 1
		}
		return 0
	}

	logger, err := logging.NewLogger("isoterrain", cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create logger: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signalContext(logger)
	defer cancel()

	if err := run(ctx, cfg, opts, logger); err != nil {
		logger.Errorw("isoterrain exited with error", "error", err)
		return 1
	}
	return 0
}

func signalContext(logger *zap.SugaredLogger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(signals)
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
			return
		}

		// Ensure the process terminates if shutdown stalls.
		time.AfterFunc(30*time.Second, func() {
			logger.Errorw("forced shutdown after timeout")
			_ = logger.Sync()
			os.Exit(1)
		})
	}()

	return ctx, cancel
}
