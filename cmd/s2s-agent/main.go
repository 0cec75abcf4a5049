// Command s2s-agent runs the S2S trust layer as a sidecar: it keeps the
// signing chain warm, consumes key lifecycle events and serves the admin API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/turtacn/s2s/internal/bootstrap"
	"github.com/turtacn/s2s/internal/config"
	"github.com/turtacn/s2s/internal/infrastructure/consumers"
	"github.com/turtacn/s2s/internal/infrastructure/monitoring"
	adminhttp "github.com/turtacn/s2s/internal/interfaces/http"
	"github.com/turtacn/s2s/internal/interfaces/http/handlers"
	"github.com/turtacn/s2s/pkg/logger"
)

const shutdownTimeout = 15 * time.Second

type agentFlags struct {
	configFile string
	envFiles   []string
}

func main() {
	flags := &agentFlags{}
	cmd := &cobra.Command{
		Use:           "s2s-agent",
		Short:         "Run the service-to-service trust agent.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, flags)
		},
	}
	cmd.Flags().StringVarP(&flags.configFile, "config", "c", "", "config file (default: /etc/s2s/config.yaml or ./config.yaml)")
	cmd.Flags().StringSliceVar(&flags.envFiles, "env-file", []string{".env"}, "dotenv files loaded before the environment is read")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, flags *agentFlags) error {
	startupLogger, err := monitoring.NewZapLogger(&config.LogConfig{Level: "info"})
	if err != nil {
		return err
	}
	cfg, err := config.LoadConfig(startupLogger, config.LoadOptions{File: flags.configFile, DotEnvFiles: flags.envFiles})
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	appLogger, err := monitoring.NewZapLogger(&cfg.Log)
	if err != nil {
		return err
	}
	log := appLogger.WithFields(logger.Fields{"service": cfg.Service.Name, "env": cfg.Service.Env})

	tracing, err := monitoring.NewTracingManager(ctx, cfg.Tracing, cfg.Service, log)
	if err != nil {
		return err
	}

	rt, err := bootstrap.Build(ctx, cfg, log, bootstrap.Options{Registerer: prometheus.DefaultRegisterer, ProcessWide: true})
	if err != nil {
		return err
	}
	defer rt.Close()

	// Fail fast on a bad key instead of on the first outbound call.
	if _, err := rt.Tokens.Cache(); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	if len(cfg.Kafka.Brokers) > 0 && cfg.Kafka.RotationTopic != "" {
		consumer, err := consumers.NewKeyRotationConsumer(cfg.Kafka, rt.KeyRotation, rt.Metrics, log)
		if err != nil {
			return err
		}
		g.Go(func() error {
			consumer.Start(gctx)
			return nil
		})
		defer consumer.Stop()
	}

	if cfg.Admin.Enabled {
		router := adminhttp.NewRouter(cfg.Admin, routerDeps(rt), log)
		g.Go(router.Start)
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return router.Stop(shutdownCtx)
		})
	}

	log.Info(ctx, "s2s agent started",
		logger.String("signer", cfg.Signer.Provider),
		logger.String("discovery", cfg.Discovery.Provider),
		logger.Bool("admin", cfg.Admin.Enabled))

	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	err = g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if serr := tracing.Shutdown(shutdownCtx); serr != nil {
		log.Warn(shutdownCtx, "tracer shutdown failed", logger.Fields{"error": serr.Error()})
	}
	log.Info(shutdownCtx, "s2s agent stopped")
	return err
}

func routerDeps(rt *bootstrap.Runtime) adminhttp.RouterDeps {
	checks := map[string]handlers.Checker{
		"signer": func(context.Context) error {
			_, err := rt.Tokens.Cache()
			return err
		},
	}
	if rt.Redis != nil {
		checks["redis"] = rt.Redis.Ping
	}
	if rt.DB != nil {
		checks["database"] = rt.DB.Ping
	}

	deps := adminhttp.RouterDeps{
		Health:   handlers.NewHealthHandler(checks),
		Admin:    handlers.NewAdminHandler(rt.Tokens, rt.Resolver, rt.KeyRotation, rt.Logger),
		Observer: rt.Metrics,
		Gatherer: prometheus.DefaultGatherer,
	}
	if rt.Verifier != nil {
		deps.Verifier = rt.Verifier
	}
	if identity, err := rt.Config.S2S.SigningIdentity(); err == nil {
		deps.JWKS = handlers.NewJWKSHandler(rt.PublicKeys, []handlers.PublishedKey{
			{KID: identity.KID(), Alg: identity.Algorithm()},
		}, rt.Logger)
	}
	return deps
}
