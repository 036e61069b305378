package main

import (
	"context"
	"flag"
	"os"

	"github.com/perennial-labs/giftsync/internal/cmd/seed"
	"github.com/perennial-labs/giftsync/internal/platform/config"
)

func main() {
	cfg, err := seed.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf("Error: %v", err)
	}

	if err := seed.Run(context.Background(), cfg, os.Stdout); err != nil {
		config.Exitf("Error: %v", err)
	}
}
