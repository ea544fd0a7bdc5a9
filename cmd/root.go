// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is overridden at link time.
var version = "0.1.0"

var (
	// Global flags
	configFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "ingress",
	Short: "Ingress - userspace receive-path validator for Ethernet frames",
	Long: `Ingress validates received Ethernet frames layer by layer and hands
accepted transport payloads to a per-protocol sink.

Every frame is either delivered or dropped with exactly one reason:
  - Ethernet: addressing, deny-list, EtherType, padding
  - VLAN/QinQ: tag admission against the configured table
  - ARP: probes, announcements, requests and replies for our addresses
  - IPv4/IPv6: header sanity, options, extension headers, fragments

Frames come from a pcap/pcapng file (replay) or a live AF_PACKET ring (capture).`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "/etc/ingress/config.yml",
		"config file path")

	// Add subcommands
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(versionCmd)
}

// exitWithError prints error message and exits with code 1
func exitWithError(msg string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
	}
	os.Exit(1)
}
