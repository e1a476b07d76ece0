// Package main implements the stdb CLI: serve a database host process, or
// publish a module to one already running. Uses cobra for cli tool
// implementation, matching the pack's own CLI entrypoints.
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/clockworklabs/stdb-core/internal/config"
	"github.com/clockworklabs/stdb-core/pkg/stdb"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

type serveFlags struct {
	configPath string
}

type publishFlags struct {
	addr          string
	clearDatabase bool
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "stdb",
		Short: "SpacetimeDB-compatible module host",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(publishCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	flags := &serveFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the host process",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runServe(flags)
		},
	}
	cmd.Flags().StringVarP(&flags.configPath, "config", "c", "", "Path to a TOML config file (defaults baked in if omitted)")
	return cmd
}

func runServe(flags *serveFlags) error {
	cfg := config.Default()
	if flags.configPath != "" {
		loaded, err := config.LoadFile(flags.configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		cfg = loaded
	}

	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		return fmt.Errorf("parsing log.level: %w", err)
	}
	zerolog.SetGlobalLevel(level)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	srv, err := stdb.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("starting host: %w", err)
	}
	defer srv.Close()

	log.Info().Str("addr", cfg.HTTP.ListenAddr).Msg("stdb: listening")
	return srv.ListenAndServe(ctx)
}

func publishCmd() *cobra.Command {
	flags := &publishFlags{}
	cmd := &cobra.Command{
		Use:   "publish <wasm-file>",
		Short: "Publish a compiled module to a running host",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runPublish(args[0], flags)
		},
	}
	cmd.Flags().StringVar(&flags.addr, "addr", "http://127.0.0.1:3000", "Base URL of the running host")
	cmd.Flags().BoolVar(&flags.clearDatabase, "clear-database", false, "Wipe existing data before publishing")
	return cmd
}

func runPublish(path string, flags *publishFlags) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening module: %w", err)
	}
	defer f.Close()

	url := flags.addr + "/database"
	if flags.clearDatabase {
		url += "?clear-database=true"
	}
	resp, err := http.Post(url, "application/wasm", f)
	if err != nil {
		return fmt.Errorf("publishing: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("publish failed: %s: %s", resp.Status, string(body))
	}
	fmt.Println("published")
	return nil
}
