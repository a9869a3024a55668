// entry point to app :)
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ds124wfegd/appointly/config"
	"github.com/ds124wfegd/appointly/internal/appServer"
	"github.com/ds124wfegd/appointly/internal/service"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	logrus.SetFormatter(new(logrus.JSONFormatter))

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "appointly",
		Short:         "Appointment booking API with SMS confirmations and reminders",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCmd(), sweepCmd(), reconcileCmd(), hashPasswordCmd())
	return root
}

func loadConfig() (*config.Config, error) {
	viperInstance, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("cannot load config: %w", err)
	}

	cfg, err := config.ParseConfig(viperInstance)
	if err != nil {
		return nil, fmt.Errorf("cannot parse config: %w", err)
	}
	return cfg, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and background workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				logrus.Error(err)
				return err
			}
			if err := appServer.NewServer(cfg); err != nil {
				logrus.Errorf("server stopped with error: %v", err)
				return err
			}
			return nil
		},
	}
}

// withApp builds the services for a one-shot command and tears them down after.
func withApp(fn func(ctx context.Context, app *appServer.App) (any, error)) error {
	cfg, err := loadConfig()
	if err != nil {
		logrus.Error(err)
		return err
	}
	appServer.SetupLogging(cfg)
	// отчёт идёт в stdout, логи в stderr
	logrus.SetOutput(os.Stderr)

	app, err := appServer.Build(cfg)
	if err != nil {
		logrus.Error(err)
		return err
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	report, runErr := fn(ctx, app)
	if report != nil {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	}
	if runErr != nil {
		logrus.Error(runErr)
	}
	return runErr
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Send reminders that are due now and print the report",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, app *appServer.App) (any, error) {
				report, err := app.Reminders.Sweep(ctx)
				if err != nil {
					return nil, err
				}
				// failed pairs stay due and are picked up by the next run
				if report.Failed > 0 {
					logrus.Warnf("%d reminder(s) failed", report.Failed)
				}
				return report, nil
			})
		},
	}
}

func reconcileCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Refresh delivery status of SMS attempts that are still open",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, app *appServer.App) (any, error) {
				if limit <= 0 {
					limit = app.Config.SMS.ReconcileLimit
				}
				report, err := app.Delivery.ReconcilePending(ctx, limit)
				if err != nil {
					return nil, err
				}
				if app.Purger != nil {
					purged, err := app.Purger.PurgeExpired(ctx)
					if err != nil {
						return report, fmt.Errorf("purge expired records: %w", err)
					}
					logrus.Infof("Purged %d expired records", purged)
				}
				return report, nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "max attempts to refresh (default from config)")
	return cmd
}

func hashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password <password>",
		Short: "Print a bcrypt hash for admin.password_hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := service.HashPassword(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}
