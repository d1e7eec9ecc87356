package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/orderflow/cmd/utils/internal/commands"
)

const (
	appName    = "orderflow-utils"
	appVersion = "0.1.0"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	config, err := apt.LoadConfig("ORDERFLOW", os.Args[2:])
	if err != nil {
		log.Fatalf("Cannot load config: %v", err)
	}

	logLevel := config.GetStringOrDef("log.level", "info")
	logger := apt.NewLogger(logLevel)

	ctx := context.Background()
	command := os.Args[1]

	switch command {
	case "seed-demo":
		if err := commands.SeedDemo(ctx, config, logger); err != nil {
			log.Fatalf("Demo seeding failed: %v", err)
		}
		logger.Info("Demo seeding completed")

	case "clear-demo":
		if err := commands.ClearDemo(ctx, config, logger); err != nil {
			log.Fatalf("Clear demo data failed: %v", err)
		}
		logger.Info("Demo data cleared")

	case "reset-db":
		if err := commands.ResetDB(ctx, config, logger); err != nil {
			log.Fatalf("Database reset failed: %v", err)
		}
		logger.Info("Database reset completed")

	case "version":
		fmt.Printf("%s version %s\n", appName, appVersion)

	case "help", "-h", "--help":
		printUsage()

	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf(`%s - orderflow maintenance commands

Usage:
  %s <command> [options]

Commands:
  seed-demo    Store sample open orders and product stock counters
  clear-demo   Remove the sample orders
  reset-db     Drop the orderflow database (USE WITH CAUTION)
  version      Print version information
  help         Show this help message

Environment Variables:
  ORDERFLOW_DB_MONGO_URL    MongoDB connection URL (default: mongodb://localhost:27017)
  ORDERFLOW_DB_MONGO_NAME   Database name (default: orderflow)
  ORDERFLOW_LOG_LEVEL       Log level: debug, info, warn, error (default: info)

`, appName, appName)
}
