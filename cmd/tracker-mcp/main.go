// tracker-mcp serves the archive's MCP tools over stdio, backed by the same
// database the tracker writes. Run it read-only next to a live tracker, or
// standalone against a snapshot.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/Yuanja/watch-tracker-sub002/internal/conf"
	"github.com/Yuanja/watch-tracker-sub002/internal/data"
	"github.com/Yuanja/watch-tracker-sub002/mcpserver"
)

func main() {
	_ = godotenv.Load()

	cfg := conf.LoadFromEnv()

	repos, err := data.NewRepositories(cfg.DBPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open database %s: %v\n", cfg.DBPath, err)
		os.Exit(1)
	}
	defer repos.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	srv := mcpserver.NewServer(repos.Listing, repos.Message, repos.Review)
	if err := srv.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "mcp server stopped: %v\n", err)
		os.Exit(1)
	}
}
