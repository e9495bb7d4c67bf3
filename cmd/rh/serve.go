package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/roundhouse/internal/server"
)

func newServeCmd() *cobra.Command {
	var (
		flags configFlags
		host  string
		port  int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long:  "Serves the pipeline and broadcast endpoints, task event streams and health checks.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, flags, host, port)
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&host, "host", "", "interface to listen on (overrides config)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (overrides config)")
	return cmd
}

func runServe(cmd *cobra.Command, flags configFlags, host string, port int) error {
	out := cmd.OutOrStdout()
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}
	if host != "" {
		cfg.Server.Host = host
	}
	if port > 0 {
		cfg.Server.Port = port
	}

	a, err := newApp(cfg, appOpts{Out: out})
	if err != nil {
		return err
	}
	defer a.Close()
	a.warnMissingKeys(out)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			fmt.Fprintf(out, "\nReceived %s, shutting down...\n", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	if a.sweeper != nil {
		go a.sweeper.Run(ctx)
	}

	env := os.Getenv("ROUNDHOUSE_ENV")
	if env == "" {
		env = "development"
	}

	err = server.Start(ctx, server.StartOpts{
		Opts: server.Opts{
			Pipeline:  a.pipeline,
			Broadcast: a.broadcast,
			Store:     a.store,
			Hub:       a.hub,
			Gateway:   a.gateway,
			Costs:     a.costs,
			Keys: server.Keys{
				OpenAI:   cfg.Gateway.OpenAI.APIKey,
				DeepSeek: cfg.Gateway.DeepSeek.APIKey,
			},
			Environment: env,
			Out:         out,
		},
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})

	drainCtx, drainCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer drainCancel()
	if n := a.broadcast.Running(); n > 0 {
		fmt.Fprintf(out, "Waiting for %d broadcast task(s) to settle...\n", n)
	}
	if drainErr := a.broadcast.Drain(drainCtx); drainErr != nil {
		fmt.Fprintf(out, "Warning: %v\n", drainErr)
	}
	fmt.Fprintf(out, "Total model cost: $%.4f over %d call(s)\n", a.costs.Total(), a.costs.Calls())
	return err
}

// commandContext cancels on SIGINT/SIGTERM and after timeout when positive.
func commandContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	if timeout <= 0 {
		return ctx, stop
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	return tctx, func() {
		cancel()
		stop()
	}
}
