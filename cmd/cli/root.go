// Package cli implements s2sctl, the operator tool for the S2S trust layer.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/turtacn/s2s/internal/application/dto"
	"github.com/turtacn/s2s/internal/bootstrap"
	"github.com/turtacn/s2s/internal/config"
	"github.com/turtacn/s2s/internal/infrastructure/monitoring"
	"github.com/turtacn/s2s/pkg/errors"
	"github.com/turtacn/s2s/pkg/logger"
)

// globalOptions are shared by every subcommand.
type globalOptions struct {
	configFile string
	envFiles   []string
	verbose    bool
}

// runtimeBuilder assembles the trust layer for one command; tests swap it.
type runtimeBuilder func(ctx context.Context, cfg *config.Config, log logger.Logger) (*bootstrap.Runtime, error)

func defaultBuilder(ctx context.Context, cfg *config.Config, log logger.Logger) (*bootstrap.Runtime, error) {
	// s2sctl never publishes issuance audit: operator tokens are not traffic.
	return bootstrap.Build(ctx, cfg, log, bootstrap.Options{SkipAudit: true})
}

// NewRootCommand builds the s2sctl command tree.
// NewRootCommand 构建 s2sctl 命令树。
func NewRootCommand() *cobra.Command {
	return newRootCommand(defaultBuilder)
}

func newRootCommand(build runtimeBuilder) *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:   "s2sctl",
		Short: "Operate the service-to-service trust layer.",
		Long: `s2sctl mints S2S bearer tokens, resolves targets and performs
authenticated calls using the same configuration as s2s-agent.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "config file (default: /etc/s2s/config.yaml or ./config.yaml)")
	root.PersistentFlags().StringSliceVar(&opts.envFiles, "env-file", []string{".env"}, "dotenv files loaded before the environment is read")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log to stderr")

	root.AddCommand(
		newTokenCommand(opts, build),
		newResolveCommand(opts, build),
		newCallCommand(opts, build),
	)
	return root
}

// Execute runs s2sctl and exits non-zero on failure.
func Execute() {
	root := NewRootCommand()
	if err := root.Execute(); err != nil {
		if _, ok := errors.AsS2SError(err); ok {
			printJSON(os.Stderr, dto.ErrorResponse(err, ""))
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

// withRuntime loads configuration, builds the runtime and hands it to fn.
func withRuntime(ctx context.Context, opts *globalOptions, build runtimeBuilder, fn func(*bootstrap.Runtime) error) error {
	log := logger.NewNoopLogger()
	if opts.verbose {
		l, err := monitoring.NewZapLogger(&config.LogConfig{Level: "debug", Format: "console", OutputPath: "stderr"})
		if err != nil {
			return err
		}
		log = l
	}
	cfg, err := config.LoadConfig(log, config.LoadOptions{File: opts.configFile, DotEnvFiles: opts.envFiles})
	if err != nil {
		return err
	}
	rt, err := build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(rt)
}

func printJSON(w io.Writer, v interface{}) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintln(w, err)
	}
}
