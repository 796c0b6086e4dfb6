package main

import (
	"fmt"
	"os"

	"metateam/internal/cli"
	"metateam/internal/config"
)

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal Error: %v\n", err)
		os.Exit(1)
	}

	if err := cli.Execute(config.Load()); err != nil {
		os.Exit(1)
	}
}
