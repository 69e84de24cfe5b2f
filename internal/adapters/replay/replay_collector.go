// Package replay feeds recorded channel updates from a JSON-lines file, as a
// stand-in for bedside devices during development and testing.
package replay

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ghalamif/AegisCDSS/internal/adapters/observability"
	"github.com/ghalamif/AegisCDSS/internal/domain"
	"github.com/ghalamif/AegisCDSS/internal/ports"
)

const maxLineBytes = 1 << 20

type Config struct {
	Path string `yaml:"path"`
	// Speed scales recorded gaps: 2 replays twice as fast, 0 does not wait.
	Speed float64 `yaml:"speed"`
	// Loop restarts at end of file. Looped passes are stamped with the wall clock.
	Loop bool `yaml:"loop"`
}

// Record is one line of a replay file.
type Record struct {
	Channel string    `json:"channel"`
	Value   any       `json:"value"`
	TS      time.Time `json:"ts"`
	Source  string    `json:"source,omitempty"`
}

type Collector struct {
	cfg Config
	obs ports.Observability
	now func() time.Time

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

func NewCollector(cfg Config, obs ports.Observability) (*Collector, error) {
	if cfg.Path == "" {
		return nil, errors.New("replay path is required")
	}
	if cfg.Speed < 0 {
		return nil, fmt.Errorf("replay speed must not be negative, got %v", cfg.Speed)
	}
	if obs == nil {
		obs = observability.Nop{}
	}
	return &Collector{cfg: cfg, obs: obs, now: time.Now}, nil
}

// Start replays the file on a goroutine. The output channel is closed once a
// non-looping replay reaches the end of the file.
func (c *Collector) Start(out chan<- *domain.Update) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return fmt.Errorf("replay collector already started")
	}
	if _, err := os.Stat(c.cfg.Path); err != nil {
		return fmt.Errorf("replay file: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.started = true

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run(ctx, out)
	}()
	return nil
}

func (c *Collector) Stop() error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = false
	cancel := c.cancel
	c.mu.Unlock()

	cancel()
	c.wg.Wait()
	return nil
}

func (c *Collector) run(ctx context.Context, out chan<- *domain.Update) {
	for pass := 0; ; pass++ {
		n, err := c.replayOnce(ctx, out, pass > 0)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				c.obs.LogError("replay_failed", err, ports.Field{Key: "path", Value: c.cfg.Path})
			}
			return
		}
		if !c.cfg.Loop || n == 0 {
			c.obs.LogInfo("replay_finished",
				ports.Field{Key: "path", Value: c.cfg.Path},
				ports.Field{Key: "passes", Value: pass + 1})
			close(out)
			return
		}
	}
}

func (c *Collector) replayOnce(ctx context.Context, out chan<- *domain.Update, restamp bool) (int, error) {
	f, err := os.Open(c.cfg.Path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var (
		prev time.Time
		sent int
		line int
	)
	for sc.Scan() {
		line++
		raw := strings.TrimSpace(sc.Text())
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil || rec.Channel == "" {
			c.obs.LogWarn("replay_record_skipped",
				ports.Field{Key: "path", Value: c.cfg.Path},
				ports.Field{Key: "line", Value: line})
			continue
		}

		if c.cfg.Speed > 0 && !prev.IsZero() && rec.TS.After(prev) {
			wait := time.Duration(float64(rec.TS.Sub(prev)) / c.cfg.Speed)
			if err := sleep(ctx, wait); err != nil {
				return sent, err
			}
		}
		if !rec.TS.IsZero() {
			prev = rec.TS
		}

		upd := toUpdate(rec)
		if restamp || upd.Payload.Timestamp.IsZero() {
			upd.Payload.Timestamp = c.now()
		}
		select {
		case <-ctx.Done():
			return sent, ctx.Err()
		case out <- upd:
			sent++
		}
	}
	return sent, sc.Err()
}

func toUpdate(rec Record) *domain.Update {
	src := rec.Source
	if src == "" {
		src = "replay"
	}
	return &domain.Update{
		Channel: rec.Channel,
		Payload: domain.Payload{Value: rec.Value, Timestamp: rec.TS, Source: src},
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

var _ ports.Collector = (*Collector)(nil)
