// Package main starts the gift registry coordination service and handles
// termination.
//
// The process hosts the reservation coordinator, contribution ledger, and
// viewer-session fanout over a single HTTP/WebSocket surface; wishlist CRUD
// and authentication stay owned by their own collaborators.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	registrycmd "github.com/perennial-labs/giftsync/internal/cmd/registry"
)

func main() {
	cfg, err := registrycmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	log.SetPrefix("[REGISTRY] ")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := registrycmd.Run(ctx, cfg); err != nil {
		log.Fatalf("failed to serve: %v", err)
	}
}
