//go:build linux && cgo

package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/ingress/internal/config"
	"firestige.xyz/ingress/internal/core"
	"firestige.xyz/ingress/internal/source/afpacket"
)

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Validate frames received on a live interface",
	Long: `Capture frames from an AF_PACKET ring and validate them until interrupted.

The device defaults to interface.name from the config. VLAN tags removed by
the kernel are re-inserted inline, so validation.tag_stripping must be none
or vlan. Requires CAP_NET_RAW.

Examples:
  ingress capture -c config.yml
  ingress capture -c config.yml -i eth1 --fanout 7 --metrics :9091`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if err := runCapture(ctx); err != nil {
			exitWithError("capture failed", err)
		}
	},
}

var (
	captureDevice  string
	captureBufMB   int
	captureFanout  uint16
	captureTimeout time.Duration
	captureFlags   runFlags
)

func init() {
	captureCmd.Flags().StringVarP(&captureDevice, "interface", "i", "",
		"capture device (default: interface.name from config)")
	captureCmd.Flags().IntVar(&captureBufMB, "buffer-mb", 64, "ring buffer size in MiB")
	captureCmd.Flags().Uint16Var(&captureFanout, "fanout", 0, "PACKET_FANOUT group id, 0 disables")
	captureCmd.Flags().DurationVar(&captureTimeout, "poll-timeout", 100*time.Millisecond,
		"ring poll timeout")
	addRunFlags(captureCmd, &captureFlags)

	rootCmd.AddCommand(captureCmd)
}

func runCapture(ctx context.Context) error {
	s, err := prepare(configFile, captureFlags, os.Stdout, config.DiscoverInterface)
	if err != nil {
		return err
	}
	if err := checkInlineTags(s.compiled.Ingress.TagStripping); err != nil {
		return err
	}
	device := captureDevice
	if device == "" {
		device = s.cfg.Interface.Name
	}

	src, err := afpacket.New(afpacket.Config{
		Device:       device,
		SnapLen:      s.cfg.Source.SnapLen,
		BufferSizeMB: captureBufMB,
		PollTimeout:  captureTimeout,
		FanoutID:     captureFanout,
		Filter:       s.filter,
		Pool:         core.NewBufferPool(s.cfg.Source.SnapLen + core.VlanTagLen),
	})
	if err != nil {
		return err
	}
	return s.run(ctx, src, false, os.Stdout)
}
