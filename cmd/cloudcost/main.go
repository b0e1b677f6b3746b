package main

import (
	"github.com/joho/godotenv"
	"github.com/yapay-ai/cloud-cost-aggregator/internal/cli"
)

func main() {
	// Credentials are commonly kept in a local .env during development.
	// Missing file is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	cli.Execute()
}
