package adapter

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"sync"
)

// InstrumenterProcess is a running instrumentation service.
type InstrumenterProcess interface {
	// Done is closed once the process has exited.
	Done() <-chan struct{}
	// Stderr returns what the process has written to stderr so far.
	Stderr() string
	// Stop terminates the process and waits for it to exit.
	Stop() error
}

// ProcessLauncher starts an instrumentation service on port that serves
// instrumented copies of the files under rootDir.
type ProcessLauncher interface {
	Launch(port int, rootDir string) (InstrumenterProcess, error)
}

// JSCoverLauncher launches JSCover in web-server mode using os/exec.
type JSCoverLauncher struct {
	javaPath string
	toolPath string
}

// NewJSCoverLauncher constructs a JSCoverLauncher running the JAR at
// toolPath with the java binary at javaPath (looked up on PATH).
func NewJSCoverLauncher(javaPath, toolPath string) *JSCoverLauncher {
	return &JSCoverLauncher{
		javaPath: javaPath,
		toolPath: toolPath,
	}
}

// Launch runs `java -jar JSCover.jar -ws --port=PORT --document-root=ROOT`.
func (l *JSCoverLauncher) Launch(port int, rootDir string) (InstrumenterProcess, error) {
	if _, err := os.Stat(l.toolPath); err != nil {
		return nil, fmt.Errorf("%w: could not find JSCover JAR file at %q", ErrToolNotFound, l.toolPath)
	}

	javaPath, err := exec.LookPath(l.javaPath)
	if err != nil {
		return nil, fmt.Errorf("%w: could not find %q: %w", ErrToolNotFound, l.javaPath, err)
	}

	// #nosec G204 - the JAR path and java binary come from local configuration
	cmd := exec.Command(javaPath, "-jar", l.toolPath, "-ws",
		fmt.Sprintf("--port=%d", port),
		fmt.Sprintf("--document-root=%s", rootDir),
	)

	proc := &execProcess{cmd: cmd, done: make(chan struct{})}
	cmd.Stderr = &proc.stderr

	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %w", ErrToolNotFound, err)
		}

		return nil, fmt.Errorf("failed to launch JSCover: %w", err)
	}

	go func() {
		proc.waitErr = cmd.Wait()
		close(proc.done)
	}()

	return proc, nil
}

type execProcess struct {
	cmd     *exec.Cmd
	stderr  syncBuffer
	done    chan struct{}
	waitErr error
}

func (p *execProcess) Done() <-chan struct{} {
	return p.done
}

func (p *execProcess) Stderr() string {
	return p.stderr.String()
}

func (p *execProcess) Stop() error {
	select {
	case <-p.done:
		return nil
	default:
	}

	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to terminate JSCover: %w", err)
	}

	<-p.done

	return nil
}

// syncBuffer is a bytes.Buffer safe for the exec copier and readers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.String()
}
