// aegis-cdss runs and inspects clinical decision support actor networks.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ghalamif/AegisCDSS"
	"github.com/ghalamif/AegisCDSS/internal/adapters/observability"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

var (
	cfgPath       string
	watchConfig   bool
	statsURL      string
	statsInterval time.Duration
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "aegis-cdss",
	Short:         "AegisCDSS - reactive clinical decision support runtime",
	Version:       fmt.Sprintf("%s (%s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: false,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the runtime using the provided config",
	Long: `Load the configuration, validate the actor network and run until interrupted.

Examples:
  aegis-cdss run --config ./data/config.yaml`,
	RunE: runRuntime,
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a config file and its actor network without starting it",
	Long: `Load the configuration, build every actor and check the network for cycles.
With --watch the file is validated again every time it changes.

Examples:
  aegis-cdss validate --config ./data/config.yaml
  aegis-cdss validate --config ./data/config.yaml --watch`,
	RunE: runValidate,
}

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Print the actor network: edges, sources, leafs and warnings",
	RunE:  runGraph,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Poll the Prometheus metrics endpoint and print live counters",
	Long: `Examples:
  aegis-cdss stats --url http://localhost:9100/metrics --interval 1s`,
	RunE: runStats,
}

func init() {
	for _, c := range []*cobra.Command{runCmd, validateCmd, graphCmd} {
		c.Flags().StringVarP(&cfgPath, "config", "c", "./data/config.yaml", "Path to configuration file")
	}
	validateCmd.Flags().BoolVarP(&watchConfig, "watch", "w", false, "Re-validate when the file changes")
	statsCmd.Flags().StringVar(&statsURL, "url", "http://localhost:9100/metrics", "Prometheus metrics endpoint")
	statsCmd.Flags().DurationVar(&statsInterval, "interval", 2*time.Second, "Refresh interval")

	rootCmd.AddCommand(runCmd, validateCmd, graphCmd, statsCmd)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func runRuntime(_ *cobra.Command, _ []string) error {
	flow, err := aegiscdss.Conf(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signalContext()
	defer stop()

	return flow.Run(ctx)
}

// buildGraph loads path and builds the runtime without starting it, which
// runs every check the runtime would run at startup.
func buildGraph(path string) (*aegiscdss.Graph, error) {
	cfg, err := aegiscdss.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	rt, err := aegiscdss.NewRuntime(cfg, aegiscdss.WithObservability(observability.Nop{}))
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rt.Shutdown(ctx); err != nil {
		return nil, err
	}
	return rt.Graph(), nil
}

func runValidate(cmd *cobra.Command, _ []string) error {
	check := func() error {
		g, err := buildGraph(cfgPath)
		if err != nil {
			fmt.Fprintln(cmd.OutOrStdout(), errorStyle.Render("✗ "+cfgPath+": "+err.Error()))
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render(fmt.Sprintf("✓ %s: %d actors, %d edges, %d warnings",
			cfgPath, len(g.Actors), len(g.Edges), len(g.Warnings))))
		return nil
	}

	err := check()
	if !watchConfig {
		return err
	}

	ctx, stop := signalContext()
	defer stop()
	fmt.Fprintln(cmd.OutOrStdout(), mutedStyle.Render("watching "+cfgPath+" (Ctrl+C to stop)"))
	return watchFile(ctx, cfgPath, watchDebounce, func() { _ = check() })
}

func runGraph(cmd *cobra.Command, _ []string) error {
	g, err := buildGraph(cfgPath)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), renderGraph(cfgPath, g))
	return nil
}
