package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"firestige.xyz/ingress/internal/config"
	"firestige.xyz/ingress/internal/source"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Load and compile a configuration file without reading any frames.

The VLAN policy file and BPF filter file referenced by the config are loaded
too. With interface.discover=true the interface is looked up in the kernel.

Examples:
  ingress validate -c config.yml`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runValidate(configFile, cmd.OutOrStdout(), config.DiscoverInterface); err != nil {
			fmt.Fprintf(os.Stderr, "INVALID: %v\n", err)
			os.Exit(1)
		}
	},
}

func runValidate(path string, out io.Writer, discover func(string) (*config.Discovered, error)) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	c, err := cfg.Compile(discover)
	if err != nil {
		return err
	}
	if cfg.Source.FilterFile != "" {
		if _, err := source.LoadFilter(cfg.Source.FilterFile); err != nil {
			return err
		}
	}

	fmt.Fprintf(out, "VALID: interface %q mac %s, %d unicast, %d group(s), %d VLAN rule(s), tag stripping %s, reassembly %t\n",
		cfg.Interface.Name,
		c.Addresses.OurMac(),
		len(c.Addresses.Unicast()),
		len(c.Addresses.Groups()),
		c.Vlans.Len(),
		c.Ingress.TagStripping,
		c.Ingress.Reassembly.Enabled,
	)
	return nil
}
