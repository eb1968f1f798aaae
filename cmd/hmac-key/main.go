// Package main prints a fresh journal signing key.
package main

import (
	"flag"
	"os"

	"github.com/louisbranch/casework/internal/platform/config"
	"github.com/louisbranch/casework/internal/tools/hmackey"
)

func main() {
	cfg, err := hmackey.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.ExitCodef(config.ExitConfig, "parse flags: %v", err)
	}
	if err := hmackey.Run(cfg, os.Stdout, nil); err != nil {
		config.Exitf("generate key: %v", err)
	}
}
