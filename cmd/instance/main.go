// Package main starts the instance runtime and its operator subcommands.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	instancecmd "github.com/louisbranch/casework/internal/cmd/instance"
	"github.com/louisbranch/casework/internal/platform/config"
)

func main() {
	_ = godotenv.Load()

	cfg, err := instancecmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.ExitCodef(config.ExitConfig, "parse flags: %v", err)
	}
	log.SetPrefix("[INSTANCE] ")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := instancecmd.Run(ctx, cfg); err != nil {
		log.Fatalf("instance %s: %v", cfg.Command, err)
	}
}
