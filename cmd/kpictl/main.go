package main

import (
	"os"

	"github.com/godilite/kpi-dashboard/internal/cli"
	"github.com/joho/godotenv"
	_ "github.com/mattn/go-sqlite3"
)

func main() {
	_ = godotenv.Load(".env")

	if err := cli.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
