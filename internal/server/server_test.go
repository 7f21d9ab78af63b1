package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/clawinfra/teleclaw/internal/channel"
	"github.com/clawinfra/teleclaw/internal/config"
	"github.com/clawinfra/teleclaw/internal/policy"
	"github.com/clawinfra/teleclaw/internal/robot"
	"github.com/clawinfra/teleclaw/internal/tensor"
	"github.com/clawinfra/teleclaw/internal/wire"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startRunning boots a full server on an ephemeral port and returns its
// address plus the channel Run's result arrives on.
func startRunning(t *testing.T, cfg config.ServerConfig, pol policy.Policy) (addr string, done <-chan error, stop context.CancelFunc) {
	t.Helper()
	cfg.Host = "127.0.0.1"
	cfg.Port = 0

	srv := New(cfg, pol, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run(ctx) }()

	deadline := time.Now().Add(3 * time.Second)
	for srv.BoundAddr() == "" {
		if time.Now().After(deadline) {
			cancel()
			t.Fatal("server did not bind in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Cleanup(cancel)
	return srv.BoundAddr(), errCh, cancel
}

func TestRunServesEcho(t *testing.T) {
	addr, done, stop := startRunning(t, config.ServerConfig{}, &policy.Echo{Channel: "agent_pos"})

	conn, err := channel.Dial(addr, testLogger())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req := &wire.Request{Channels: map[string]tensor.Tensor{"agent_pos": tensor.Vector(1, 2, 3)}}
	resp, err := conn.Exchange(ctx, req)
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if resp.Err() != nil {
		t.Fatalf("server error: %v", resp.Err())
	}
	if !resp.Action.Equal(tensor.Vector(0, 1, 2), 0) {
		t.Fatalf("echo policy returned %v, want [0 1 2]", resp.Action)
	}

	conn.Close() //nolint:errcheck
	stop()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned %v after cancellation, want nil", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shut down after cancellation")
	}
}

func TestRunBindFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close() //nolint:errcheck

	_, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)

	srv := New(config.ServerConfig{Host: "127.0.0.1", Port: port}, &policy.Echo{Channel: "agent_pos"}, testLogger())
	if err := srv.Run(context.Background()); err == nil {
		t.Fatal("expected bind failure on an occupied port")
	}
}

func TestStatsEndpoint(t *testing.T) {
	addr, _, _ := startRunning(t, config.ServerConfig{}, &policy.Echo{Channel: "agent_pos"})

	conn, err := channel.Dial(addr, testLogger())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req := &wire.Request{Channels: map[string]tensor.Tensor{"agent_pos": tensor.Vector(1)}}
	if _, err := conn.Exchange(ctx, req); err != nil {
		t.Fatalf("exchange: %v", err)
	}

	res, err := http.Get("http://" + addr + "/stats")
	if err != nil {
		t.Fatalf("get stats: %v", err)
	}
	defer res.Body.Close() //nolint:errcheck

	var stats struct {
		Policy string `json:"policy"`
		Served int64  `json:"served"`
		Errors int64  `json:"errors"`
	}
	if err := json.NewDecoder(res.Body).Decode(&stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.Policy != "echo" || stats.Served != 1 || stats.Errors != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestHandlePolicyErrorIsolated(t *testing.T) {
	srv := New(config.ServerConfig{}, &policy.Echo{Channel: "agent_pos"}, testLogger())

	// Missing channel makes the echo policy fail; the reply must carry the
	// error and the next request must still succeed.
	bad := &wire.Request{Channels: map[string]tensor.Tensor{"wrong": tensor.Vector(1)}}
	if resp := srv.handle(context.Background(), bad); resp.Err() == nil {
		t.Fatal("expected error reply for missing channel")
	}

	good := &wire.Request{Channels: map[string]tensor.Tensor{"agent_pos": tensor.Vector(1, 2)}}
	resp := srv.handle(context.Background(), good)
	if resp.Err() != nil {
		t.Fatalf("request after a failed one errored: %v", resp.Err())
	}
	if !resp.Action.Equal(tensor.Vector(0, 1), 0) {
		t.Fatalf("unexpected action: %v", resp.Action)
	}
	if srv.failed.Load() != 1 || srv.served.Load() != 1 {
		t.Fatalf("counters served=%d failed=%d, want 1/1", srv.served.Load(), srv.failed.Load())
	}
}

type resettable struct {
	resets atomic.Int64
}

func (r *resettable) Name() string { return "resettable" }
func (r *resettable) SelectAction(context.Context, robot.Observation) (tensor.Tensor, error) {
	return tensor.Vector(0), nil
}
func (r *resettable) Reset() { r.resets.Add(1) }

func TestResetAtStartup(t *testing.T) {
	pol := &resettable{}
	_, _, stop := startRunning(t, config.ServerConfig{ResetAtStartup: true}, pol)
	stop()

	if got := pol.resets.Load(); got != 1 {
		t.Fatalf("policy reset %d times, want 1", got)
	}
}

// overlapPolicy fails the test if two invocations ever run at once.
type overlapPolicy struct {
	t      *testing.T
	inside atomic.Int32
	calls  atomic.Int32
}

func (p *overlapPolicy) Name() string { return "overlap-detector" }

func (p *overlapPolicy) SelectAction(context.Context, robot.Observation) (tensor.Tensor, error) {
	if p.inside.Add(1) != 1 {
		p.t.Error("policy invoked concurrently")
	}
	time.Sleep(20 * time.Millisecond)
	p.inside.Add(-1)
	p.calls.Add(1)
	return tensor.Vector(0), nil
}

func TestPolicyInvocationIsSequential(t *testing.T) {
	pol := &overlapPolicy{t: t}
	srv := New(config.ServerConfig{}, pol, testLogger())

	ts := httptest.NewServer(channel.NewHandler(srv.handle, testLogger()))
	defer ts.Close()
	addr := strings.TrimPrefix(ts.URL, "http://")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn, err := channel.Dial(addr, testLogger())
			if err != nil {
				t.Errorf("dial: %v", err)
				return
			}
			defer conn.Close() //nolint:errcheck
			req := &wire.Request{Channels: map[string]tensor.Tensor{"agent_pos": tensor.Vector(1)}}
			if _, err := conn.Exchange(ctx, req); err != nil {
				t.Errorf("exchange: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := pol.calls.Load(); got != 3 {
		t.Fatalf("policy saw %d calls, want 3", got)
	}
}
