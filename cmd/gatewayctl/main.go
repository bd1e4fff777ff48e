// Command gatewayctl inspects a gateway configuration without deploying it:
// it checks the config, lists the routes a handler tree serves, shows how a
// route resolves, and runs events through the router with stand-in handlers.
package main

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

// options holds the flags shared by every command.
type options struct {
	configPath string
	root       string
	bucket     string
	prefix     string
	region     string
	verbose    bool

	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:   "gatewayctl",
		Short: "Inspect and exercise gateway router configurations",
		Long: `gatewayctl loads a gateway config file the way a deployed router does,
including GATEWAY_* environment overrides, and reports what the router
would do with it.

Handler trees are read from the local filesystem (--root) or from an
S3 bucket (--bucket, credentials and region from the standard AWS
environment variables, shared config files or instance role).`,
		Version:       fmt.Sprintf("%s (%s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(opts.verbose)
			if err != nil {
				return fmt.Errorf("create logger: %w", err)
			}
			opts.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if opts.logger != nil {
				_ = opts.logger.Sync()
			}
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "gateway.yml", "router config file")
	flags.StringVar(&opts.root, "root", ".", "directory handler paths are relative to")
	flags.StringVar(&opts.bucket, "bucket", "", "read the handler tree from this S3 bucket")
	flags.StringVar(&opts.prefix, "prefix", "", "key prefix of the handler tree in --bucket")
	flags.StringVar(&opts.region, "region", "", "AWS region of --bucket (default from the AWS config)")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "log router decisions")

	rootCmd.AddCommand(
		checkCmd(opts),
		routesCmd(opts),
		resolveCmd(opts),
		invokeCmd(opts),
	)
	return rootCmd
}

// newLogger logs human-readable lines on a terminal and JSON otherwise.
func newLogger(verbose bool) (*zap.Logger, error) {
	level := zapcore.WarnLevel
	if verbose {
		level = zapcore.DebugLevel
	}

	var cfg zap.Config
	if isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()) {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	return cfg.Build()
}
