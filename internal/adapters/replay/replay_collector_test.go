package replay

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ghalamif/AegisCDSS/internal/domain"
)

const recording = `# bedside recording
{"channel":"hr","value":72,"ts":"2024-05-01T08:00:00Z"}
not json
{"channel":"spo2","value":97.5,"ts":"2024-05-01T08:00:00.100Z","source":"monitor-1"}

{"channel":"","value":1}
{"channel":"alarm","value":"HIGH","ts":"2024-05-01T08:00:00.200Z"}
`

func writeRecording(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "replay.jsonl")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func drain(t *testing.T, ch <-chan *domain.Update, n int) []*domain.Update {
	t.Helper()
	var got []*domain.Update
	timeout := time.After(2 * time.Second)
	for len(got) < n {
		select {
		case u, ok := <-ch:
			if !ok {
				return got
			}
			got = append(got, u)
		case <-timeout:
			t.Fatalf("timed out after %d updates", len(got))
		}
	}
	return got
}

func TestReplayEmitsRecordsAndCloses(t *testing.T) {
	col, err := NewCollector(Config{Path: writeRecording(t, recording)}, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ch := make(chan *domain.Update, 8)
	if err := col.Start(ch); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer col.Stop()

	got := drain(t, ch, 10)
	if len(got) != 3 {
		t.Fatalf("expected 3 valid records, got %d", len(got))
	}
	if got[0].Channel != "hr" || got[0].Payload.Value != 72.0 || got[0].Payload.Source != "replay" {
		t.Fatalf("unexpected first update: %+v", got[0])
	}
	if got[1].Payload.Source != "monitor-1" {
		t.Fatalf("source should be kept, got %q", got[1].Payload.Source)
	}
	want := time.Date(2024, 5, 1, 8, 0, 0, 200*int(time.Millisecond), time.UTC)
	if !got[2].Payload.Timestamp.Equal(want) || got[2].Payload.Value != "HIGH" {
		t.Fatalf("unexpected last update: %+v", got[2])
	}
}

func TestReplayLoopRestampsLaterPasses(t *testing.T) {
	col, err := NewCollector(Config{Path: writeRecording(t, recording), Loop: true}, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	stamp := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	col.now = func() time.Time { return stamp }

	ch := make(chan *domain.Update, 8)
	if err := col.Start(ch); err != nil {
		t.Fatalf("start: %v", err)
	}
	got := drain(t, ch, 6)
	if err := col.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if len(got) != 6 {
		t.Fatalf("expected two passes, got %d updates", len(got))
	}
	if got[0].Payload.Timestamp.Equal(stamp) {
		t.Fatalf("first pass keeps recorded timestamps")
	}
	if !got[3].Payload.Timestamp.Equal(stamp) {
		t.Fatalf("looped pass should be restamped, got %v", got[3].Payload.Timestamp)
	}
}

func TestReplaySpeedScalesGaps(t *testing.T) {
	body := `{"channel":"a","value":1,"ts":"2024-05-01T08:00:00Z"}
{"channel":"a","value":2,"ts":"2024-05-01T08:00:01Z"}
`
	col, err := NewCollector(Config{Path: writeRecording(t, body), Speed: 10}, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ch := make(chan *domain.Update, 2)
	start := time.Now()
	if err := col.Start(ch); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer col.Stop()
	drain(t, ch, 2)
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Fatalf("1s gap at speed 10 should take ~100ms, took %s", elapsed)
	}
}

func TestReplayConfigValidation(t *testing.T) {
	if _, err := NewCollector(Config{}, nil); err == nil {
		t.Fatalf("expected error for missing path")
	}
	if _, err := NewCollector(Config{Path: "x", Speed: -1}, nil); err == nil {
		t.Fatalf("expected error for negative speed")
	}
	col, _ := NewCollector(Config{Path: filepath.Join(t.TempDir(), "missing.jsonl")}, nil)
	if err := col.Start(make(chan *domain.Update)); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
