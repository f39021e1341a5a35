package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"grabbot/internal/app"
)

func main() {
	configPath := flag.String("config", "config.json", "path to config file (json or yaml)")
	flag.Parse()

	// .env is optional; real deployments set BOT_TOKEN in the environment.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, *configPath); err != nil {
		fmt.Fprintln(os.Stderr, "grabbot:", err)
		os.Exit(1)
	}
}
