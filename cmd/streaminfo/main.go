// Command streaminfo runs a one-shot resolve for a predicate, then
// connects to each match and dumps its fullinfo block, per
// original_source's lsl_resolve_byprop-plus-fullinfo workflow collapsed
// into a single CLI.
package main

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/lslnet/streamnet/config"
	"github.com/lslnet/streamnet/cstream"
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
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:   "streaminfo [predicate]",
		Short: "Resolve streams and dump their full metadata",
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
			results, err := r.ResolveOneshot(query, 0, timeout, 0)
			if err != nil {
				return err
			}
			if len(results) == 0 {
				fmt.Println("no matching streams found")
				return nil
			}

			for _, res := range results {
				dump(res)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 5*time.Second, "resolve timeout")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "human-readable console logging instead of JSON")

	return cmd
}

func dump(res resolver.Result) {
	fmt.Printf("=== %s (%s) ===\n", res.Info.Name, res.Info.UID())

	addr := res.AddrV4
	port := res.Info.V4DataPort
	if addr == "" {
		addr = res.AddrV6
		port = res.Info.V6DataPort
	}
	if addr == "" || port == 0 {
		fmt.Println("  (no reachable data address advertised)")
		return
	}

	full, err := fetchFullInfo(addr, port)
	if err != nil {
		fmt.Printf("  fullinfo fetch failed: %v\n", err)
		return
	}
	fmt.Println(full)
}

func fetchFullInfo(addr string, port int) (string, error) {
	raw, err := net.DialTimeout("tcp", net.JoinHostPort(addr, strconv.Itoa(port)), 3*time.Second)
	if err != nil {
		return "", err
	}
	defer raw.Close()

	conn := cstream.New(raw)
	_ = raw.SetDeadline(time.Now().Add(3 * time.Second))

	if _, err := conn.Write([]byte("LSL:fullinfo\r\n")); err != nil {
		return "", err
	}
	if err := conn.Flush(); err != nil {
		return "", err
	}

	buf := make([]byte, 64*1024)
	n, err := conn.Read(buf)
	if err != nil && n == 0 {
		return "", err
	}
	return string(buf[:n]), nil
}
