package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/clawinfra/teleclaw/internal/robot"
	"github.com/clawinfra/teleclaw/internal/tensor"
)

func obsWith(channel string, vals ...float64) robot.Observation {
	return robot.Observation{Channels: map[string]tensor.Tensor{channel: tensor.Vector(vals...)}}
}

func TestEcho(t *testing.T) {
	p := &Echo{Channel: "agent_pos"}
	act, err := p.SelectAction(context.Background(), obsWith("agent_pos", 1, 2, 3))
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if !act.Equal(tensor.Vector(0, 1, 2), 0) {
		t.Fatalf("echo action %v, want [0 1 2]", act)
	}

	if _, err := p.SelectAction(context.Background(), obsWith("other", 1)); err == nil {
		t.Fatal("expected missing channel error")
	}
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLinear(t *testing.T) {
	path := writeFile(t, "weights.json", `{"w": [[1, 0], [0, 2]], "b": [0.5, -0.5]}`)

	p, err := LoadLinear(path, "agent_pos")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	act, err := p.SelectAction(context.Background(), obsWith("agent_pos", 3, 4))
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if !act.Equal(tensor.Vector(3.5, 7.5), 1e-12) {
		t.Fatalf("action %v, want [3.5 7.5]", act)
	}

	if _, err := p.SelectAction(context.Background(), obsWith("agent_pos", 1)); err == nil {
		t.Fatal("expected input length error")
	}
}

func TestLoadLinearRejectsBadCheckpoints(t *testing.T) {
	cases := map[string]string{
		"ragged":      `{"w": [[1, 2], [3]], "b": [0, 0]}`,
		"bias count":  `{"w": [[1]], "b": [0, 0]}`,
		"empty":       `{"w": [], "b": []}`,
		"not json":    `weights???`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := LoadLinear(writeFile(t, "w.json", body), "x"); err == nil {
				t.Fatal("expected load error")
			}
		})
	}
}

func TestConstant(t *testing.T) {
	path := writeFile(t, "hold.json", `[0.1, 0.2, 0.3]`)
	p, err := LoadConstant(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	act, err := p.SelectAction(context.Background(), robot.Observation{})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if !act.Equal(tensor.Vector(0.1, 0.2, 0.3), 0) {
		t.Fatalf("action %v", act)
	}
}

// chunkSource predicts a fixed 3x2 chunk and counts invocations.
type chunkSource struct {
	calls int
	reset int
}

func (c *chunkSource) Name() string { return "chunksource" }

func (c *chunkSource) SelectAction(context.Context, robot.Observation) (tensor.Tensor, error) {
	c.calls++
	base := float64(c.calls * 10)
	t, _ := tensor.New([]float64{base, base + 1, base + 2, base + 3, base + 4, base + 5}, 3, 2)
	return t, nil
}

func (c *chunkSource) Reset() { c.reset++ }

func TestChunkedQueuePersistsAcrossCalls(t *testing.T) {
	src := &chunkSource{}
	p := NewChunked(src, 3)
	ctx := context.Background()

	want := [][]float64{{10, 11}, {12, 13}, {14, 15}, {20, 21}}
	for i, w := range want {
		act, err := p.SelectAction(ctx, robot.Observation{})
		if err != nil {
			t.Fatalf("select %d: %v", i, err)
		}
		if !act.Equal(tensor.Vector(w...), 0) {
			t.Fatalf("step %d: got %v, want %v", i, act, w)
		}
	}
	if src.calls != 2 {
		t.Fatalf("inner invoked %d times, want 2", src.calls)
	}
}

func TestChunkedMaxCapsChunk(t *testing.T) {
	src := &chunkSource{}
	p := NewChunked(src, 2)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := p.SelectAction(ctx, robot.Observation{}); err != nil {
			t.Fatalf("select %d: %v", i, err)
		}
	}
	// 2 actions per refill: third pop forces a second inner call.
	if src.calls != 2 {
		t.Fatalf("inner invoked %d times, want 2", src.calls)
	}
}

func TestChunkedReset(t *testing.T) {
	src := &chunkSource{}
	p := NewChunked(src, 3)
	ctx := context.Background()

	if _, err := p.SelectAction(ctx, robot.Observation{}); err != nil {
		t.Fatalf("select: %v", err)
	}
	var pol Policy = p
	r, ok := pol.(Resetter)
	if !ok {
		t.Fatal("chunked must implement Resetter")
	}
	r.Reset()
	if src.reset != 1 {
		t.Fatalf("inner reset %d times, want 1", src.reset)
	}

	// Queue cleared: next call refills.
	act, err := p.SelectAction(ctx, robot.Observation{})
	if err != nil {
		t.Fatalf("select after reset: %v", err)
	}
	if !act.Equal(tensor.Vector(20, 21), 0) {
		t.Fatalf("queue not cleared, got %v", act)
	}
}

func TestLoadFactory(t *testing.T) {
	p, err := Load(Config{Type: "echo", InputChannel: "agent_pos"})
	if err != nil {
		t.Fatalf("load echo: %v", err)
	}
	if p.Name() != "echo" {
		t.Fatalf("name %q", p.Name())
	}

	p, err = Load(Config{Type: "echo", ChunkSize: 4})
	if err != nil {
		t.Fatalf("load chunked echo: %v", err)
	}
	if p.Name() != "echo+chunked" {
		t.Fatalf("name %q", p.Name())
	}
	if _, ok := p.(Resetter); !ok {
		t.Fatal("chunked policy must support reset")
	}

	if _, err := Load(Config{Type: "transformer"}); err == nil {
		t.Fatal("expected unknown type error")
	}

	// Defaulting: empty type means echo over agent_pos.
	p, err = Load(Config{})
	if err != nil {
		t.Fatalf("load default: %v", err)
	}
	if _, err := p.SelectAction(context.Background(), obsWith("agent_pos", 5)); err != nil {
		t.Fatalf("default policy: %v", err)
	}
}
