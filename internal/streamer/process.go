package streamer

import (
	"context"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

// Process is a running transcoder process.
type Process interface {
	// Done is closed once the process has exited.
	Done() <-chan struct{}
	// Err returns the exit error after Done is closed.
	Err() error
	// Stop asks the process to terminate and waits for it to exit.
	Stop()
	// Output returns the last lines the process wrote to stderr.
	Output() string
}

// Launcher starts processes.
type Launcher interface {
	Launch(name string, args []string) (Process, error)
}

// ExecLauncher launches real operating system processes.
type ExecLauncher struct {
	// KillAfter is how long a process may take to exit after SIGTERM
	// before it is killed.
	KillAfter time.Duration
}

// Launch starts name with args. The process receives SIGTERM on Stop.
func (l ExecLauncher) Launch(name string, args []string) (Process, error) {
	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = l.KillAfter
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = defaultKillAfter
	}
	stderr := newTail(stderrTailLines)
	cmd.Stderr = stderr

	p := &execProcess{cmd: cmd, cancel: cancel, stderr: stderr, done: make(chan struct{})}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, err
	}
	go func() {
		p.err = cmd.Wait()
		cancel()
		close(p.done)
	}()
	return p, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	cancel context.CancelFunc
	stderr *tail
	done   chan struct{}
	err    error
}

func (p *execProcess) Done() <-chan struct{} { return p.done }

func (p *execProcess) Err() error {
	<-p.done
	return p.err
}

func (p *execProcess) Stop() {
	p.cancel()
	<-p.done
}

func (p *execProcess) Output() string { return p.stderr.String() }

const (
	defaultKillAfter = 5 * time.Second
	stderrTailLines  = 20
)

// tail keeps the last n lines written to it.
type tail struct {
	mu      sync.Mutex
	n       int
	lines   []string
	partial strings.Builder
}

func newTail(n int) *tail { return &tail{n: n} }

func (t *tail) Write(b []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, c := range string(b) {
		if c == '\n' {
			t.push(t.partial.String())
			t.partial.Reset()
			continue
		}
		t.partial.WriteRune(c)
	}
	return len(b), nil
}

func (t *tail) push(line string) {
	line = strings.TrimRight(line, "\r")
	if line == "" {
		return
	}
	t.lines = append(t.lines, line)
	if len(t.lines) > t.n {
		t.lines = t.lines[len(t.lines)-t.n:]
	}
}

func (t *tail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := append([]string(nil), t.lines...)
	if t.partial.Len() > 0 {
		out = append(out, t.partial.String())
	}
	return strings.Join(out, "\n")
}
