package main

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// statsMetrics are summed over all label sets.
var statsMetrics = []string{
	"aegis_updates_ingested_total",
	"aegis_messages_received_total",
	"aegis_fires_total",
	"aegis_fire_failures_total",
	"aegis_emitted_total",
	"aegis_bus_pending_deliveries",
	"aegis_actors_running",
}

func runStats(cmd *cobra.Command, _ []string) error {
	ctx, stop := signalContext()
	defer stop()

	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	client := &http.Client{Timeout: statsInterval}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Streaming metrics from %s (Ctrl+C to stop)\n", statsURL)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			totals, err := fetchMetrics(client, statsURL)
			if err != nil {
				fmt.Fprintf(os.Stderr, "stats error: %v\n", err)
				continue
			}
			fmt.Fprintln(out, formatStats(time.Now(), totals))
		}
	}
}

func fetchMetrics(client *http.Client, url string) (map[string]float64, error) {
	resp, err := client.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return parseMetrics(resp.Body, statsMetrics)
}

// parseMetrics sums the samples of each wanted metric in the Prometheus text format.
func parseMetrics(r io.Reader, wanted []string) (map[string]float64, error) {
	totals := make(map[string]float64, len(wanted))
	for _, name := range wanted {
		totals[name] = 0
	}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		name := line
		if i := strings.IndexAny(line, "{ "); i >= 0 {
			name = line[:i]
		}
		if _, ok := totals[name]; !ok {
			continue
		}
		fields := strings.Fields(line)
		if v, err := strconv.ParseFloat(fields[len(fields)-1], 64); err == nil {
			totals[name] += v
		}
	}
	return totals, scanner.Err()
}

func formatStats(now time.Time, t map[string]float64) string {
	return fmt.Sprintf("[%s] ingested=%.0f received=%.0f fires=%.0f failures=%.0f emitted=%.0f pending=%.0f actors=%.0f",
		now.Format(time.RFC3339),
		t["aegis_updates_ingested_total"],
		t["aegis_messages_received_total"],
		t["aegis_fires_total"],
		t["aegis_fire_failures_total"],
		t["aegis_emitted_total"],
		t["aegis_bus_pending_deliveries"],
		t["aegis_actors_running"],
	)
}
