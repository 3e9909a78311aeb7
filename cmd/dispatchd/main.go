// Command dispatchd is the dispatch server binary: a cobra root command
// with a "serve" subcommand that loads config, starts the server context
// (internal/server), and runs the operator console over stdin until EOF
// or a SIGINT/SIGTERM, at which point it shuts down gracefully. It
// follows the teacher pack's CLI shape (raft-recovery's internal/cli,
// which builds a cobra root with a --config flag and a "run" subcommand
// doing signal-driven graceful shutdown) layered over the acceptor/
// shutdown flow EBal0vGG-worker-pool's cmd/queue/processor.go uses.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"taskdispatch/internal/config"
	"taskdispatch/internal/server"
)

// version is set at release time; "dev" covers local builds.
var version = "dev"

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "dispatchd",
		Short:   "dispatchd runs the distributed task-dispatch server",
		Version: version,
	}
	root.AddCommand(buildServeCmd())
	return root
}

func buildServeCmd() *cobra.Command {
	var (
		configPath  string
		listenAddr  string
		httpAddr    string
		fileStorage string
		redisAddr   string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the dispatch server and operator console",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if listenAddr != "" {
				cfg.Server.ListenAddr = listenAddr
			}
			if httpAddr != "" {
				cfg.Server.HTTPAddr = httpAddr
			}
			if fileStorage != "" {
				cfg.Storage.Engine = config.StorageFile
				cfg.Storage.FileDir = fileStorage
			}
			if redisAddr != "" {
				cfg.Presence.RedisAddr = redisAddr
			}
			return runServe(cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file (defaults applied when absent)")
	cmd.Flags().StringVar(&listenAddr, "addr", "", "TCP address workers connect to, overriding config")
	cmd.Flags().StringVar(&httpAddr, "http-addr", "", "HTTP status surface address, overriding config; empty disables it")
	cmd.Flags().StringVar(&fileStorage, "file-storage", "", "use the file-backed store rooted at this directory instead of sqlite")
	cmd.Flags().StringVar(&redisAddr, "redis-addr", "", "Redis address for worker presence mirroring, overriding config")

	return cmd
}

func runServe(cfg *config.Config) error {
	ctx := context.Background()

	srv, err := server.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("construct server: %w", err)
	}
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("start server: %w", err)
	}

	consoleDone := make(chan struct{})
	go func() {
		defer close(consoleDone)
		srv.Console(os.Stdout).Run(ctx, os.Stdin)
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigs:
	case <-consoleDone:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
