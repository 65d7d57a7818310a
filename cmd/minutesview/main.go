package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

type rootFlags struct {
	configPath string
	logLevel   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:          "minutesview",
		Short:        "Browse the timeline and summary of a recording and chat about it",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", "",
		"config file (default $XDG_CONFIG_HOME/minutesview/config.yaml)")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "",
		"log level: debug, info, warn or error (overrides logLevel in the config)")

	root.AddCommand(
		newServeCmd(flags),
		newAskCmd(flags),
		newRenderCmd(),
		newHistoryCmd(flags),
	)
	return root
}

// load reads the config and builds the logger every command shares.
func (f *rootFlags) load() (config, zerolog.Logger, error) {
	cfg, err := loadConfig(f.configPath)
	if err != nil {
		return config{}, zerolog.Logger{}, err
	}
	if f.logLevel != "" {
		cfg.LogLevel = f.logLevel
	}

	logger, err := newLogger(os.Stderr, cfg.LogLevel)
	if err != nil {
		return config{}, zerolog.Logger{}, err
	}
	return cfg, logger, nil
}

// newLogger writes human-readable lines to a terminal and JSON everywhere else.
func newLogger(out *os.File, level string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	if lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	var w io.Writer = out
	if isatty.IsTerminal(out.Fd()) || isatty.IsCygwinTerminal(out.Fd()) {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.TimeOnly}
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger(), nil
}
