// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"flag"
	"log"

	"github.com/relabs-tech/knee_flexion/internal/app"
	"github.com/relabs-tech/knee_flexion/internal/config"
)

func main() {
	configPath := flag.String("config", "./knee_config.txt", "path to configuration file")
	flag.Parse()

	log.Println("starting knee-flexion log download")

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := app.RunLogSync(cfg); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
