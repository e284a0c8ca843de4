package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/goliatone/go-accounts/server"
)

func newServeCmd() *cobra.Command {
	var (
		port  int
		host  string
		debug bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the accounts HTTP server",
		Long:  "Open the store, create the schema, then serve the account API until SIGINT or SIGTERM.",
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := loadViper()
			if err != nil {
				return err
			}

			if cmd.Flags().Changed("port") {
				v.Set("server.port", port)
			}
			if cmd.Flags().Changed("host") {
				v.Set("server.host", host)
			}
			if cmd.Flags().Changed("debug") {
				v.Set("server.debug", debug)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runServe(ctx, v)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "HTTP listen port")
	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "HTTP listen host")
	cmd.Flags().BoolVar(&debug, "debug", false, "expose internal error details in responses")

	return cmd
}

func runServe(ctx context.Context, v *viper.Viper) error {
	rt, err := bootstrap(ctx, v)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.repo.Migrate(ctx); err != nil {
		return err
	}

	telemetryErr, err := rt.telemetry.Start()
	if err != nil {
		return err
	}

	srv := server.New(server.Options{
		Config:    rt.cfg,
		Service:   rt.service,
		Telemetry: rt.telemetry,
		Logger:    rt.logger,
		Version:   appVersion,
	})

	httpErr, err := srv.Start()
	if err != nil {
		return err
	}

	var runErr error
	select {
	case <-ctx.Done():
		rt.logger.Info("shutdown signal received")
	case err, ok := <-httpErr:
		if ok {
			runErr = err
		}
	case err, ok := <-telemetryErr:
		if ok {
			runErr = err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), rt.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		rt.logger.Error("http shutdown failed", "error", err)
	}
	if err := rt.telemetry.Shutdown(shutdownCtx); err != nil {
		rt.logger.Error("telemetry shutdown failed", "error", err)
	}

	return runErr
}
