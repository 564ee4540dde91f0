package adapter

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProcess struct {
	done    chan struct{}
	stderr  string
	stopped atomic.Int32
}

func newFakeProcess(exited bool) *fakeProcess {
	p := &fakeProcess{done: make(chan struct{})}
	if exited {
		p.stderr = "Address already in use"
		close(p.done)
	}

	return p
}

func (p *fakeProcess) Done() <-chan struct{} { return p.done }
func (p *fakeProcess) Stderr() string        { return p.stderr }
func (p *fakeProcess) Stop() error {
	p.stopped.Add(1)
	return nil
}

// fakeLauncher exits immediately for the first conflicts launches.
type fakeLauncher struct {
	mu        sync.Mutex
	conflicts int
	err       error
	launches  []int
	processes []*fakeProcess
}

func (l *fakeLauncher) Launch(port int, _ string) (InstrumenterProcess, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.launches = append(l.launches, port)
	if l.err != nil {
		return nil, l.err
	}

	p := newFakeProcess(len(l.launches) <= l.conflicts)
	l.processes = append(l.processes, p)

	return p, nil
}

func (l *fakeLauncher) launchCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.launches)
}

// fixedPorts hands out a fixed sequence of ports.
type fixedPorts struct {
	mu    sync.Mutex
	ports []int
}

func (p *fixedPorts) Lease() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.ports) == 0 {
		return 0, ErrNoFreePort
	}

	port := p.ports[0]
	if len(p.ports) > 1 {
		p.ports = p.ports[1:]
	}

	return port, nil
}

func testInstrumenterOptions() InstrumenterOptions {
	return InstrumenterOptions{
		MaxStartAttempts:   3,
		MaxConnectAttempts: 3,
		RetryDelay:         time.Millisecond,
		StartupGrace:       5 * time.Millisecond,
		HTTPClient:         &http.Client{Timeout: time.Second},
	}
}

func serverPort(t *testing.T, srv *httptest.Server) int {
	t.Helper()

	_, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)

	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	return port
}

func unusedPort(t *testing.T) int {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	return port
}

func TestJSCoverInstrumenter_Start(t *testing.T) {
	t.Run("starts on first free port", func(t *testing.T) {
		launcher := &fakeLauncher{}
		instr := NewJSCoverInstrumenter("/root", launcher, &fixedPorts{ports: []int{12345}}, testInstrumenterOptions())

		require.NoError(t, instr.Start(context.Background()))
		assert.Equal(t, 12345, instr.Port())
		assert.Equal(t, 1, launcher.launchCount())
	})

	t.Run("retries on port conflicts with new ports", func(t *testing.T) {
		launcher := &fakeLauncher{conflicts: 2}
		ports := &fixedPorts{ports: []int{10001, 10002, 10003}}
		instr := NewJSCoverInstrumenter("/root", launcher, ports, testInstrumenterOptions())

		require.NoError(t, instr.Start(context.Background()))
		assert.Equal(t, []int{10001, 10002, 10003}, launcher.launches)
		assert.Equal(t, 10003, instr.Port())
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		launcher := &fakeLauncher{conflicts: 100}
		instr := NewJSCoverInstrumenter("/root", launcher, NewPortRegistry(), testInstrumenterOptions())

		err := instr.Start(context.Background())
		require.ErrorIs(t, err, ErrInstrumenterStart)
		require.ErrorIs(t, err, ErrPortConflict)
		assert.Equal(t, 3, launcher.launchCount())
		assert.Equal(t, 0, instr.Port())
	})

	t.Run("missing tool fails fast", func(t *testing.T) {
		launcher := &fakeLauncher{err: ErrToolNotFound}
		instr := NewJSCoverInstrumenter("/root", launcher, NewPortRegistry(), testInstrumenterOptions())

		err := instr.Start(context.Background())
		require.ErrorIs(t, err, ErrToolNotFound)
		assert.NotErrorIs(t, err, ErrInstrumenterStart)
		assert.Equal(t, 1, launcher.launchCount())
	})

	t.Run("second start is a no-op", func(t *testing.T) {
		launcher := &fakeLauncher{}
		instr := NewJSCoverInstrumenter("/root", launcher, NewPortRegistry(), testInstrumenterOptions())

		require.NoError(t, instr.Start(context.Background()))
		require.NoError(t, instr.Start(context.Background()))
		assert.Equal(t, 1, launcher.launchCount())
	})
}

func TestJSCoverInstrumenter_Stop(t *testing.T) {
	t.Run("stops the running process", func(t *testing.T) {
		launcher := &fakeLauncher{}
		instr := NewJSCoverInstrumenter("/root", launcher, NewPortRegistry(), testInstrumenterOptions())

		require.NoError(t, instr.Start(context.Background()))
		require.NoError(t, instr.Stop())
		assert.Equal(t, int32(1), launcher.processes[0].stopped.Load())
	})

	t.Run("stop without start is safe", func(t *testing.T) {
		instr := NewJSCoverInstrumenter("/root", &fakeLauncher{}, NewPortRegistry(), testInstrumenterOptions())
		require.NoError(t, instr.Stop())
	})

	t.Run("stop after failed start is safe", func(t *testing.T) {
		instr := NewJSCoverInstrumenter("/root", &fakeLauncher{conflicts: 100}, NewPortRegistry(), testInstrumenterOptions())
		require.Error(t, instr.Start(context.Background()))
		require.NoError(t, instr.Stop())
	})
}

func TestJSCoverInstrumenter_InstrumentedSource(t *testing.T) {
	t.Run("fetches from the instrumenter port and starts lazily", func(t *testing.T) {
		var requested atomic.Value
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requested.Store(r.URL.Path)
			_, _ = w.Write([]byte("instrumented();"))
		}))
		defer srv.Close()

		launcher := &fakeLauncher{}
		instr := NewJSCoverInstrumenter("/root", launcher, &fixedPorts{ports: []int{serverPort(t, srv)}}, testInstrumenterOptions())

		got, err := instr.InstrumentedSource(context.Background(), "src/app.js")
		require.NoError(t, err)
		assert.Equal(t, "instrumented();", string(got))
		assert.Equal(t, "/src/app.js", requested.Load())
		assert.Equal(t, 1, launcher.launchCount())
	})

	t.Run("non-2xx is an instrumentation error without retry", func(t *testing.T) {
		var hits atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			hits.Add(1)
			http.NotFound(w, nil)
		}))
		defer srv.Close()

		instr := NewJSCoverInstrumenter("/root", &fakeLauncher{}, &fixedPorts{ports: []int{serverPort(t, srv)}}, testInstrumenterOptions())

		_, err := instr.InstrumentedSource(context.Background(), "src/missing.js")
		require.ErrorIs(t, err, ErrInstrumentation)
		assert.Equal(t, int32(1), hits.Load())
	})

	t.Run("connection failures exhaust retries", func(t *testing.T) {
		instr := NewJSCoverInstrumenter("/root", &fakeLauncher{}, &fixedPorts{ports: []int{unusedPort(t)}}, testInstrumenterOptions())

		_, err := instr.InstrumentedSource(context.Background(), "src/app.js")
		require.ErrorIs(t, err, ErrInstrumentation)
	})

	t.Run("waits for a service that is still booting", func(t *testing.T) {
		port := unusedPort(t)
		opts := testInstrumenterOptions()
		opts.MaxConnectAttempts = 50
		opts.RetryDelay = 20 * time.Millisecond

		go func() {
			time.Sleep(60 * time.Millisecond)
			ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
			if err != nil {
				return
			}
			srv := &http.Server{
				Handler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
					_, _ = w.Write([]byte("booted"))
				}),
				ReadHeaderTimeout: time.Second,
			}
			t.Cleanup(func() { _ = srv.Close() })
			_ = srv.Serve(ln)
		}()

		instr := NewJSCoverInstrumenter("/root", &fakeLauncher{}, &fixedPorts{ports: []int{port}}, opts)

		got, err := instr.InstrumentedSource(context.Background(), "src/app.js")
		require.NoError(t, err)
		assert.Equal(t, "booted", string(got))
	})

	t.Run("start failure is returned", func(t *testing.T) {
		instr := NewJSCoverInstrumenter("/root", &fakeLauncher{err: ErrToolNotFound}, NewPortRegistry(), testInstrumenterOptions())

		_, err := instr.InstrumentedSource(context.Background(), "src/app.js")
		require.ErrorIs(t, err, ErrToolNotFound)
	})
}
