// Package main is the entry point for loopsim
package main

import (
	"fmt"
	"os"

	"github.com/mrcode/loopsim/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
