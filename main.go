// Package main is the entry point for the ingress frame validator.
package main

import (
	"fmt"
	"os"

	"firestige.xyz/ingress/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
