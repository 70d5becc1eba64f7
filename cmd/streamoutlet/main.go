// Command streamoutlet starts a TCP stream server advertising one
// synthetic stream and pushes generated samples into it until
// interrupted, supplementing original_source/testing/SendTestStreams.c's
// conformance-test generator with an mpb progress bar showing samples
// pushed, per the teacher's go.mod-declared (but in-tree unused)
// vbauerster/mpb/v4 dependency.
package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/vbauerster/mpb/v4"
	"github.com/vbauerster/mpb/v4/decor"

	"github.com/lslnet/streamnet/config"
	"github.com/lslnet/streamnet/logging"
	"github.com/lslnet/streamnet/outlet"
	"github.com/lslnet/streamnet/sendbuffer"
	"github.com/lslnet/streamnet/streaminfo"
	"github.com/lslnet/streamnet/streamserver"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath   string
		name         string
		streamType   string
		channelCount int
		rate         float64
		verbose      bool
		quiet        bool
	)

	cmd := &cobra.Command{
		Use:   "streamoutlet",
		Short: "Advertise a synthetic stream and push generated samples",
		RunE: func(cmd *cobra.Command, args []string) error {
			logging.SetVerbose(verbose)

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			hostname, _ := os.Hostname()
			info := streaminfo.New(name, streamType, channelCount, streaminfo.FormatDouble64, rate, "streamoutlet", cfg.SessionID, hostname)

			buffer := sendbuffer.New()

			srv, err := streamserver.New(cfg, info, buffer)
			if err != nil {
				return err
			}
			srv.Serve()
			defer srv.Shutdown()

			adv, err := outlet.New(cfg, info)
			if err != nil {
				return err
			}
			go adv.Serve()
			defer adv.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return generate(ctx, buffer, channelCount, rate, quiet)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	cmd.Flags().StringVar(&name, "name", "StreamOutletDemo", "advertised stream name")
	cmd.Flags().StringVar(&streamType, "type", "Test", "advertised stream type")
	cmd.Flags().IntVar(&channelCount, "channels", 3, "channel count")
	cmd.Flags().Float64Var(&rate, "rate", 100, "nominal sample rate in Hz")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "human-readable console logging instead of JSON")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "suppress the progress bar")

	return cmd
}

// generate pushes a sine-wave sample into buffer at the nominal rate
// until ctx is cancelled, driving an mpb progress bar counting samples
// pushed (an indeterminate total, so the bar just scrolls).
func generate(ctx context.Context, buffer *sendbuffer.Buffer, channelCount int, rate float64, quiet bool) error {
	period := time.Second
	if rate > 0 {
		period = time.Duration(float64(time.Second) / rate)
	}

	var bar *mpb.Bar
	var p *mpb.Progress
	if !quiet {
		p = mpb.New(mpb.WithWidth(40))
		bar = p.AddBar(0,
			mpb.PrependDecorators(decor.Name("samples pushed")),
			mpb.AppendDecorators(decor.CountersNoUnit("%d")),
		)
	}

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	start := time.Now()
	var n int64
	for {
		select {
		case <-ctx.Done():
			if p != nil {
				p.Wait()
			}
			return nil
		case <-ticker.C:
			t := time.Since(start).Seconds()
			values := make([]float64, channelCount)
			for i := range values {
				values[i] = math.Sin(t + float64(i))
			}
			buffer.PushSample(sendbuffer.Sample{Values: values, Timestamp: t})
			n++
			if bar != nil {
				bar.SetTotal(n+1, false)
				bar.IncrBy(1)
			}
		}
	}
}
