package main

// ============================================================================
// workhorse entry point. All logic lives in internal/cli.
//
//   go run ./cmd/workhorse run --tasks examples/plates.json
//   go build -o bin/workhorse ./cmd/workhorse
// ============================================================================

import (
	"fmt"
	"os"

	"github.com/ChuLiYu/workhorse/internal/cli"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", r)
			os.Exit(1)
		}
	}()

	if err := cli.BuildCLI().Execute(); err != nil {
		os.Exit(1)
	}
}
