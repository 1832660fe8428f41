// Package engine manages the lifetime of a local analytical query engine
// process: start it in a private instance directory, wait for the port file
// it writes when ready, hand it to a Client, and tear everything down.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agentic-research/pbixproj/internal/convert"
	"github.com/agentic-research/pbixproj/internal/tree"
)

// ErrEngineStartTimeout is returned when the engine writes no port file
// within the polling budget.
var ErrEngineStartTimeout = errors.New("query engine did not start in time")

// PortFile is written by the engine into its data directory once it listens.
const PortFile = "msmdsrv.port.txt"

const (
	defaultPollInterval  = 500 * time.Millisecond
	defaultPollAttempts  = 60
	defaultRemoveRetries = 3
	defaultRemoveDelay   = 200 * time.Millisecond
)

// Client talks to a running engine.
type Client interface {
	Connect(ctx context.Context, connectionString string) error
	// Load restores a model image and returns the database name.
	Load(ctx context.Context, image []byte) (string, error)
	Evaluate(ctx context.Context, query string) (tree.Value, error)
	Close() error
}

// Options configures Start.
type Options struct {
	// Executable is the engine binary.
	Executable string
	// Args returns the command line for an instance directory. Defaults to
	// the engine's console-mode arguments.
	Args func(dir string) []string
	// BaseDir holds the instance directories. Defaults to os.TempDir().
	BaseDir string
	Config  Config

	PollInterval  time.Duration
	PollAttempts  int
	RemoveRetries int
	RemoveDelay   time.Duration

	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.Args == nil {
		o.Args = func(dir string) []string { return []string{"-c", "-n", "pbixproj", "-s", dir} }
	}
	if o.BaseDir == "" {
		o.BaseDir = os.TempDir()
	}
	if o.PollInterval <= 0 {
		o.PollInterval = defaultPollInterval
	}
	if o.PollAttempts <= 0 {
		o.PollAttempts = defaultPollAttempts
	}
	if o.RemoveRetries <= 0 {
		o.RemoveRetries = defaultRemoveRetries
	}
	if o.RemoveDelay <= 0 {
		o.RemoveDelay = defaultRemoveDelay
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Process is a running engine instance.
type Process struct {
	ID   string
	Dir  string
	Port int

	cmd    *exec.Cmd
	exited chan struct{}
	opts   Options
	log    *slog.Logger
}

// Start launches the engine and blocks until it reports its port. On any
// failure the process is stopped and its directory removed before returning.
func Start(ctx context.Context, opts Options) (*Process, error) {
	opts.defaults()
	id := uuid.NewString()
	dir := filepath.Join(opts.BaseDir, "pbixproj-engine-"+id)
	p := &Process{ID: id, Dir: dir, opts: opts, log: opts.Logger.With("instance", id)}

	if err := p.prepare(); err != nil {
		p.Stop()
		return nil, err
	}

	p.cmd = exec.Command(opts.Executable, opts.Args(dir)...)
	p.cmd.Dir = dir
	setProcessGroup(p.cmd)
	if err := p.cmd.Start(); err != nil {
		p.Stop()
		return nil, fmt.Errorf("start engine %s: %w", opts.Executable, err)
	}
	p.exited = make(chan struct{})
	go func() {
		_ = p.cmd.Wait()
		close(p.exited)
	}()
	p.log.Debug("engine started", "pid", p.cmd.Process.Pid, "dir", dir)

	port, err := p.waitForPort(ctx)
	if err != nil {
		p.Stop()
		return nil, err
	}
	p.Port = port
	p.log.Debug("engine ready", "port", port)
	return p, nil
}

func (p *Process) prepare() error {
	cfg := p.opts.Config
	if cfg.DataDir == "" {
		cfg.DataDir = filepath.Join(p.Dir, "Data")
	}
	if cfg.TempDir == "" {
		cfg.TempDir = filepath.Join(p.Dir, "Temp")
	}
	if cfg.LogDir == "" {
		cfg.LogDir = filepath.Join(p.Dir, "Log")
	}
	for _, d := range []string{p.Dir, cfg.DataDir, cfg.TempDir, cfg.LogDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("create engine dir: %w", err)
		}
	}
	data, err := cfg.Render()
	if err != nil {
		return fmt.Errorf("render engine config: %w", err)
	}
	if err := os.WriteFile(filepath.Join(p.Dir, ConfigFile), data, 0o644); err != nil {
		return fmt.Errorf("write engine config: %w", err)
	}
	p.opts.Config = cfg
	return nil
}

// waitForPort polls for the port file with a fixed interval and a bounded
// number of attempts.
func (p *Process) waitForPort(ctx context.Context) (int, error) {
	path := filepath.Join(p.opts.Config.DataDir, PortFile)
	ticker := time.NewTicker(p.opts.PollInterval)
	defer ticker.Stop()
	for attempt := 1; attempt <= p.opts.PollAttempts; attempt++ {
		if port, ok := readPort(path); ok {
			return port, nil
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-p.exited:
			// The port file may have been written just before exit.
			if port, ok := readPort(path); ok {
				return port, nil
			}
			return 0, fmt.Errorf("engine exited before becoming ready: %s", p.cmd.ProcessState)
		case <-ticker.C:
		}
	}
	return 0, fmt.Errorf("no %s after %d attempts: %w", PortFile, p.opts.PollAttempts, ErrEngineStartTimeout)
}

// readPort parses the port file, which the engine writes as UTF-16 text.
func readPort(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	v, err := convert.Text{}.Decode(data)
	if err != nil {
		return 0, false
	}
	s, ok := v.(tree.String)
	if !ok {
		return 0, false
	}
	port, err := strconv.Atoi(strings.TrimSpace(string(s)))
	if err != nil || port <= 0 {
		return 0, false
	}
	return port, true
}

// ConnectionString addresses the running instance.
func (p *Process) ConnectionString() string {
	return "Data Source=localhost:" + strconv.Itoa(p.Port)
}

// Running reports whether the process has not exited yet.
func (p *Process) Running() bool {
	if p.cmd == nil || p.exited == nil {
		return false
	}
	select {
	case <-p.exited:
		return false
	default:
		return true
	}
}

// Stop kills the process if it is still running and removes the instance
// directory. Removal is retried a few times; what cannot be removed is
// logged and left behind.
func (p *Process) Stop() {
	if p.Running() {
		if err := killProcessGroup(p.cmd); err != nil {
			p.log.Debug("kill engine", "error", err)
		}
		select {
		case <-p.exited:
		case <-time.After(5 * time.Second):
			p.log.Warn("engine did not exit after kill")
		}
	}
	removeAll(p.Dir, p.opts.RemoveRetries, p.opts.RemoveDelay, p.log)
}

func removeAll(dir string, retries int, delay time.Duration, log *slog.Logger) {
	var err error
	for i := 0; i < retries; i++ {
		if err = os.RemoveAll(dir); err == nil {
			return
		}
		time.Sleep(delay)
	}
	log.Warn("cannot remove engine directory", "dir", dir, "error", err)
}
