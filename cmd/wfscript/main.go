package main

import (
	"context"
	"os"

	"github.com/joho/godotenv"

	"wfscript/internal/cli"
)

func main() {
	// A missing .env is fine; variables may come from the environment.
	_ = godotenv.Load()

	os.Exit(cli.Execute(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}
