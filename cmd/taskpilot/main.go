package main

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/pablasso/taskpilot/internal/cli"
)

func main() {
	// A .env next to the project may carry TASKPILOT_* settings and agent API keys.
	_ = godotenv.Load()

	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
