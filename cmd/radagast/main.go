// Radagast is an LLM gateway that unifies multiple providers behind an
// OpenAI-compatible API.
package main

import (
	"flag"
	"fmt"
	"os"
)

var version = "dev"

// defaultConfigPath resolves the config location: the RADAGAST_CONFIG
// environment variable when set, else the conventional configs/ path.
func defaultConfigPath() string {
	if p := os.Getenv("RADAGAST_CONFIG"); p != "" {
		return p
	}
	return "configs/radagast.yaml"
}

func main() {
	configPath := flag.String("config", defaultConfigPath(), "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("radagast", version)
		os.Exit(0)
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
