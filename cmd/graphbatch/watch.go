package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newWatchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Send request files dropped into the spool directory until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.SpoolDir == "" {
				return errors.New("spool-dir is required for watch")
			}

			svc, err := a.newService(a.serviceConfig())
			if err != nil {
				return fmt.Errorf("create service: %w", err)
			}

			// Setup signal handling for graceful shutdown
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := svc.Start(ctx); err != nil {
				return fmt.Errorf("start service: %w", err)
			}
			a.zlog.Info().Str("spool_dir", a.cfg.SpoolDir).Msg("watching")

			<-ctx.Done()
			a.zlog.Info().Msg("received signal, stopping...")

			if err := svc.Stop(); err != nil {
				return fmt.Errorf("stop service: %w", err)
			}
			return nil
		},
	}
}
