// Command streamresolve is a CLI front end for the resolver package,
// adapted from the teacher's cmd/volantmq entrypoint shape (cobra root
// command, viper-backed config, zap logging wired before anything else
// runs) but built around a one-shot or continuous discovery run instead
// of a long-lived broker process.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lslnet/streamnet/config"
	"github.com/lslnet/streamnet/logging"
	"github.com/lslnet/streamnet/resolver"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		timeout    time.Duration
		minimum    int
		minTime    time.Duration
		continuous bool
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:   "streamresolve [predicate]",
		Short: "Resolve streams matching a predicate on the local network",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := "*"
			if len(args) == 1 {
				query = args[0]
			}

			logging.SetVerbose(verbose)

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			r := resolver.New(cfg)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if continuous {
				return runContinuous(ctx, r, query)
			}
			return runOneshot(r, query, minimum, timeout, minTime)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 5*time.Second, "one-shot resolve timeout")
	cmd.Flags().IntVarP(&minimum, "minimum", "m", 0, "stop early once this many streams are found")
	cmd.Flags().DurationVar(&minTime, "minimum-time", 0, "with --minimum, keep gathering until at least this long after the resolve started")
	cmd.Flags().BoolVar(&continuous, "continuous", false, "run continuously, printing the live set until interrupted")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "human-readable console logging instead of JSON")

	return cmd
}

func runOneshot(r *resolver.Resolver, query string, minimum int, timeout, minTime time.Duration) error {
	results, err := r.ResolveOneshot(query, minimum, timeout, minTime)
	if err != nil {
		return err
	}
	for uid, res := range results {
		printResult(uid, res)
	}
	fmt.Printf("%d stream(s) found\n", len(results))
	return nil
}

func runContinuous(ctx context.Context, r *resolver.Resolver, query string) error {
	if err := r.ResolveContinuous(query); err != nil {
		return err
	}
	defer r.Cancel()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			snap := r.Results(10*time.Second, 0)
			fmt.Printf("--- %d stream(s) live ---\n", len(snap))
			for _, res := range snap {
				printResult(res.Info.UID(), res)
			}
		}
	}
}

func printResult(uid string, res resolver.Result) {
	fmt.Printf("%s  name=%q type=%q channels=%d rate=%g host=%s\n",
		uid, res.Info.Name, res.Info.Type, res.Info.ChannelCount, res.Info.NominalRate, res.Info.Hostname)
}
