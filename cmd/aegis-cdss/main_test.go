package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ghalamif/AegisCDSS"
)

const networkConfig = `
actors:
  - id: etco2_trend
    type: trend
    inputs: [etco2]
    outputs: [etco2.trend]
    params:
      window: {etco2: 3}
      delta: {etco2: 1}
  - id: resp_alarm
    type: expression
    inputs: [etco2.trend, rr]
    outputs: [resp.warn]
    params:
      expr: "in['etco2.trend'] < -1.0 && in.rr > 30.0"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestBuildGraphAndRender(t *testing.T) {
	path := writeConfig(t, networkConfig)
	g, err := buildGraph(path)
	if err != nil {
		t.Fatalf("buildGraph: %v", err)
	}
	if len(g.Edges) != 1 {
		t.Fatalf("expected one edge, got %+v", g.Edges)
	}

	out := renderGraph(path, g)
	for _, want := range []string{"etco2_trend → resp_alarm", "etco2.trend", "resp_alarm", "unreachable"} {
		if !strings.Contains(out, want) {
			t.Fatalf("rendered graph misses %q:\n%s", want, out)
		}
	}
}

func TestBuildGraphRejectsCycles(t *testing.T) {
	path := writeConfig(t, `
actors:
  - id: a
    type: ratio
    inputs: [x, y]
    outputs: [z]
  - id: b
    type: mismatch
    inputs: [z, w]
    outputs: [x]
`)
	if _, err := buildGraph(path); !errors.Is(err, aegiscdss.ErrCyclicTopology) {
		t.Fatalf("expected cyclic topology error, got %v", err)
	}
}

func TestParseMetricsSumsLabelSets(t *testing.T) {
	body := `# HELP aegis_fires_total Domain-logic invocations per actor.
# TYPE aegis_fires_total counter
aegis_fires_total{actor="a"} 3
aegis_fires_total{actor="b"} 4
aegis_actors_running 2
aegis_fires_totalx 100
`
	got, err := parseMetrics(strings.NewReader(body), statsMetrics)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got["aegis_fires_total"] != 7 || got["aegis_actors_running"] != 2 {
		t.Fatalf("unexpected totals %v", got)
	}
	if got["aegis_emitted_total"] != 0 {
		t.Fatalf("absent metrics should read zero")
	}
	line := formatStats(time.Unix(0, 0).UTC(), got)
	if !strings.Contains(line, "fires=7") || !strings.Contains(line, "actors=2") {
		t.Fatalf("unexpected stats line %q", line)
	}
}

func TestWatchFileDebouncesWrites(t *testing.T) {
	path := writeConfig(t, networkConfig)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan struct{}, 4)
	errCh := make(chan error, 1)
	go func() {
		errCh <- watchFile(ctx, path, 20*time.Millisecond, func() { changed <- struct{}{} })
	}()

	// Give the watcher time to register before writing.
	time.Sleep(50 * time.Millisecond)
	for i := 0; i < 3; i++ {
		if err := os.WriteFile(path, []byte(networkConfig), 0o600); err != nil {
			t.Fatalf("rewrite: %v", err)
		}
	}

	select {
	case <-changed:
	case <-time.After(2 * time.Second):
		t.Fatalf("no change notification")
	}
	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("watch: %v", err)
	}
}
