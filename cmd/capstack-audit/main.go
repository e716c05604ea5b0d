package main

import (
	"flag"
	"fmt"
	"os"

	"capstack/history"
	"capstack/history/audit"
)

func main() {
	configPath := flag.String("config", "./audit.yaml", "Path to audit configuration file")
	strict := flag.Bool("strict", false, "exit with non-zero code when anomalies are found")
	flag.Parse()

	cfg, err := audit.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	db, err := history.Open(cfg.History.Driver, cfg.HistoryDSN())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open history store: %v\n", err)
		os.Exit(1)
	}

	result, err := audit.Run(audit.RunConfig{DB: db, OutputDir: cfg.OutputDir})
	if err != nil {
		fmt.Fprintf(os.Stderr, "audit failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("report %s: %d settlement rows, %d anomalies\n", result.ReportID, len(result.Rows), len(result.Anomalies))
	fmt.Printf("settlements: %s\n", result.ReportPath)
	fmt.Printf("anomalies:   %s\n", result.AnomalyPath)
	for _, anomaly := range result.Anomalies {
		fmt.Printf("  %s %s: %s\n", anomaly.Type, anomaly.Tranche, anomaly.Details)
	}
	if *strict && len(result.Anomalies) > 0 {
		os.Exit(1)
	}
}
