// Package engine drives an external media player process for the playback orchestrator.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/stwalsh4118/couchcast/internal/logger"
	"github.com/stwalsh4118/couchcast/internal/playback"
)

const (
	// Process termination timeouts
	terminationTimeout = 5 * time.Second
	killTimeout        = 2 * time.Second
	// How long Wait keeps reading output after the player exits
	outputWaitDelay = 2 * time.Second
)

// Engine errors
var (
	ErrNotInitialized = errors.New("engine not initialized")
	ErrNotPlaying     = errors.New("nothing is playing")
	ErrProcessTimeout = errors.New("process termination timeout")
)

// intent records why a run is being torn down, deciding which event its exit produces
type intent int

const (
	intentNone intent = iota
	intentSkip
	intentStop
)

// run is one player process
type run struct {
	cmd    *exec.Cmd
	path   string
	stderr *lineLogger
	done   chan struct{}
	intent intent
}

// Process plays each asset in a fresh player process, e.g. mpv --fs <path>
type Process struct {
	binary string
	args   []string

	mu          sync.Mutex
	initialized bool
	current     *run
	listeners   []playback.Listener
}

var _ playback.Engine = (*Process)(nil)

// NewProcess creates an engine that runs binary with args followed by the asset path
func NewProcess(binary string, args []string) *Process {
	return &Process{
		binary: binary,
		args:   append([]string(nil), args...),
	}
}

// Initialize checks that the player binary can be found
func (p *Process) Initialize(_ context.Context) error {
	resolved, err := exec.LookPath(p.binary)
	if err != nil {
		return fmt.Errorf("media player %q not found: %w", p.binary, err)
	}

	p.mu.Lock()
	p.binary = resolved
	p.initialized = true
	p.mu.Unlock()

	logger.Log.Info().Str("binary", resolved).Msg("Media engine initialized")
	return nil
}

// Subscribe registers a listener for end, skip and error signals
func (p *Process) Subscribe(l playback.Listener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, l)
}

// Play stops whatever is running and starts the player on path
func (p *Process) Play(_ context.Context, path string) error {
	p.mu.Lock()
	if !p.initialized {
		p.mu.Unlock()
		return ErrNotInitialized
	}
	previous := p.current
	p.mu.Unlock()

	if previous != nil {
		if err := p.teardown(previous, intentStop); err != nil {
			logger.Log.Warn().Err(err).Msg("Previous player did not exit cleanly")
		}
	}

	args := append(append([]string(nil), p.args...), path)
	cmd := exec.Command(p.binary, args...)
	stdout := newLineLogger("stdout")
	stderr := newLineLogger("stderr")
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = outputWaitDelay

	startTime := time.Now()
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start media player: %w", err)
	}
	stdout.setPID(cmd.Process.Pid)
	stderr.setPID(cmd.Process.Pid)

	r := &run{cmd: cmd, path: path, stderr: stderr, done: make(chan struct{})}

	p.mu.Lock()
	p.current = r
	p.mu.Unlock()

	logger.Log.Info().
		Int("pid", cmd.Process.Pid).
		Str("path", path).
		Int64("start_latency_ms", time.Since(startTime).Milliseconds()).
		Msg("Media player launched")

	go p.monitor(r)
	return nil
}

// Stop ends playback without reporting an outcome
func (p *Process) Stop() error {
	p.mu.Lock()
	r := p.current
	p.mu.Unlock()

	if r == nil {
		return nil
	}
	return p.teardown(r, intentStop)
}

// Skip ends playback and reports OnSkipped once the player has exited
func (p *Process) Skip() error {
	p.mu.Lock()
	r := p.current
	p.mu.Unlock()

	if r == nil {
		return ErrNotPlaying
	}
	return p.teardown(r, intentSkip)
}

// IsPlaying reports whether a player process is running
func (p *Process) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current != nil
}

// monitor waits for the player to exit and translates the exit into a signal
func (p *Process) monitor(r *run) {
	err := r.cmd.Wait()

	p.mu.Lock()
	if p.current == r {
		p.current = nil
	}
	why := r.intent
	listeners := append([]playback.Listener(nil), p.listeners...)
	p.mu.Unlock()
	close(r.done)

	logger.Log.Debug().
		Int("pid", r.cmd.Process.Pid).
		Str("path", r.path).
		AnErr("exit", err).
		Msg("Media player exited")

	switch {
	case why == intentStop:
		return
	case why == intentSkip:
		for _, l := range listeners {
			l.OnSkipped()
		}
	case err == nil:
		for _, l := range listeners {
			l.OnEnded()
		}
	default:
		msg := fmt.Sprintf("media player exited: %v", err)
		if last := r.stderr.Last(); last != "" {
			msg += ": " + last
		}
		for _, l := range listeners {
			l.OnError(msg)
		}
	}
}

// teardown terminates a run gracefully (SIGTERM) then forcefully (SIGKILL) if needed
func (p *Process) teardown(r *run, why intent) error {
	p.mu.Lock()
	if r.intent == intentNone {
		r.intent = why
	}
	p.mu.Unlock()

	pid := r.cmd.Process.Pid

	select {
	case <-r.done:
		return nil
	default:
	}

	if err := r.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		// Not supported on every platform, or already gone
		_ = r.cmd.Process.Kill()
	}

	select {
	case <-r.done:
		return nil
	case <-time.After(terminationTimeout):
		logger.Log.Warn().
			Int("pid", pid).
			Dur("timeout", terminationTimeout).
			Msg("Media player didn't exit gracefully, sending SIGKILL")
	}

	if err := r.cmd.Process.Kill(); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("failed to kill process: %w", err)
	}

	select {
	case <-r.done:
		return nil
	case <-time.After(killTimeout):
		return fmt.Errorf("%w: process %d did not die after SIGKILL", ErrProcessTimeout, pid)
	}
}
