package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/jessevdk/go-flags"
	"go.uber.org/zap"

	"github.com/decloud-network/validator/config"
	"github.com/decloud-network/validator/logging"
	"github.com/decloud-network/validator/migrations"
)

// Validator binary version.
// It should be passed during the build with '-ldflags "-X main.version="'.
var version = "unknown"

// loadConfig resolves the configuration the same way for every command:
// defaults, then the config file, then the command line.
func loadConfig(ctx context.Context, args []string) (*config.Config, error) {
	// Pre-parse the command line to check for an alternative home or config file
	pre := config.DefaultConfig()
	if _, err := flags.NewParser(pre, flags.IgnoreUnknown).ParseArgs(args); err != nil {
		return nil, err
	}

	cfg := config.DefaultConfig()
	cfg.HomeDir = pre.HomeDir
	cfg.ConfigFile = pre.ConfigFile
	cfg.DbDir = pre.DbDir
	cfg.LogDir = pre.LogDir
	cfg.Datasets.DataDir = pre.Datasets.DataDir

	// Derive paths inside the home directory before looking for the file
	cfg, err := config.SetupConfig(cfg)
	if err != nil {
		return nil, err
	}
	if err := migrations.Migrate(ctx, cfg); err != nil {
		return nil, fmt.Errorf("migrating: %w", err)
	}
	// Load configuration file overwriting defaults with any specified options
	cfg, err = config.ReadConfigFile(cfg)
	if err != nil {
		return nil, err
	}
	return config.SetupConfig(cfg)
}

// run parses args, executing the selected command with output going to out.
func run(args []string, out io.Writer) error {
	logger := logging.New(zap.InfoLevel, "", false)
	cfg, err := loadConfig(logging.NewContext(context.Background(), logger), args)
	if err != nil {
		return err
	}
	// Finally, parse the command line again so that it takes precedence over
	// the config file, and execute the command.
	parser := newParser(&app{cfg: cfg, in: os.Stdin, out: out})
	_, err = parser.ParseArgs(args)
	return err
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		// If it's the flag utility error don't print it,
		// because it was already printed.
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
		} else {
			_, _ = fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
