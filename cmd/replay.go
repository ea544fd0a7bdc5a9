package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"firestige.xyz/ingress/internal/config"
	"firestige.xyz/ingress/internal/core"
	"firestige.xyz/ingress/internal/source/pcapfile"
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Validate the frames of a capture file",
	Long: `Replay a pcap or pcapng capture through the validator and print a summary.

The file format is detected from its magic number. Only Ethernet captures are
accepted. The receiving interface's addresses come from the config file; with
interface.discover=true they are read from the kernel by name.

Examples:
  ingress replay -c config.yml -r trace.pcapng
  ingress replay -c config.yml -r trace.pcap --workers 4 --metrics :9091`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if err := runReplay(ctx, configFile, replayFile, replayFlags, os.Stdout, cmd.OutOrStdout(), config.DiscoverInterface); err != nil {
			exitWithError("replay failed", err)
		}
	},
}

var (
	replayFile  string
	replayFlags runFlags
)

func init() {
	replayCmd.Flags().StringVarP(&replayFile, "read", "r", "",
		"capture file to replay (default: source.file from config)")
	addRunFlags(replayCmd, &replayFlags)
}

func addRunFlags(cmd *cobra.Command, flags *runFlags) {
	cmd.Flags().IntVarP(&flags.workers, "workers", "w", 0,
		"number of workers (default: pipeline.workers from config)")
	cmd.Flags().StringVar(&flags.filterFile, "filter-file", "",
		"classic BPF program, JSON or tcpdump -ddd output")
	cmd.Flags().StringVar(&flags.metrics, "metrics", "",
		"serve Prometheus metrics on this address")
}

func runReplay(ctx context.Context, cfgPath, file string, flags runFlags, console, out io.Writer,
	discover func(string) (*config.Discovered, error)) error {
	s, err := prepare(cfgPath, flags, console, discover)
	if err != nil {
		return err
	}
	if file == "" {
		file = s.cfg.Source.File
	}
	if file == "" {
		return fmt.Errorf("%w: no capture file given (use -r or source.file)", core.ErrConfigInvalid)
	}

	src, err := pcapfile.New(pcapfile.Config{
		Path:   file,
		Filter: s.filter,
		Pool:   core.NewBufferPool(s.cfg.Source.SnapLen),
	})
	if err != nil {
		return err
	}
	return s.run(ctx, src, true, out)
}
