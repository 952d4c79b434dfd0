package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"MarketPull/internal/di"
	"MarketPull/pkg/config"
)

func usage() {
	fmt.Fprintf(os.Stderr, `usage: marketpull [flags] <stage>

stages:
  init      allocate a new run directory and write its manifest
  collect   fetch OHLCV and trades into the run (resumable)
  proxies   derive proxy series from collected data
  summary   write the data summary table
  finalize  seal the run with the checksum ledger
  verify    re-check a sealed run
  all       run every stage against a fresh run

flags:
`)
	flag.PrintDefaults()
}

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	runID := flag.String("run", "", "run id (default: latest run)")
	flag.Usage = usage
	flag.Parse()

	stage := flag.Arg(0)
	if stage == "" {
		usage()
		os.Exit(2)
	}

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	app, err := di.InitializeApp(cfg)
	if err != nil {
		log.Fatalf("app initialization failed: %v", err)
	}
	defer func() {
		if err := app.Close(); err != nil {
			log.Printf("close: %v", err)
		}
	}()

	if err := app.Execute(stage, *runID); err != nil {
		log.Fatalf("%s failed: %v", stage, err)
	}
}
