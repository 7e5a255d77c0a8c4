package runtime

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-resty/resty/v2"

	"nku/internal/logging"
)

// LlamaServerOptions configures the llama-server child process.
type LlamaServerOptions struct {
	Binary      string
	Host        string
	Port        int
	ContextSize int
	Threads     int
	ExtraArgs   []string

	LoadTimeout     time.Duration
	GenerateTimeout time.Duration
	MaxTokens       int
	Temperature     float64

	// MemoryMultiplier scales the artifact size to estimate resident memory.
	MemoryMultiplier float64
}

// DefaultLlamaServerOptions returns sensible defaults for a 4B quantized model.
func DefaultLlamaServerOptions() LlamaServerOptions {
	return LlamaServerOptions{
		Binary:           "llama-server",
		Host:             "127.0.0.1",
		Port:             18080,
		ContextSize:      2048,
		Threads:          4,
		LoadTimeout:      120 * time.Second,
		GenerateTimeout:  180 * time.Second,
		MaxTokens:        512,
		Temperature:      0.2,
		MemoryMultiplier: 1.2,
	}
}

// LlamaServerRuntime runs each loaded model in its own llama-server process.
// Killing the process is the only way to release the model's memory, so
// Close always kills and reaps it.
type LlamaServerRuntime struct {
	opts LlamaServerOptions

	// available reports free RAM in bytes. errMemProbeUnsupported skips the gate.
	available func() (uint64, error)
	command   func(name string, args ...string) *exec.Cmd
	pollEvery time.Duration
}

// NewLlamaServerRuntime builds a runtime. Zero-valued options take defaults.
func NewLlamaServerRuntime(opts LlamaServerOptions) *LlamaServerRuntime {
	def := DefaultLlamaServerOptions()
	if opts.Binary == "" {
		opts.Binary = def.Binary
	}
	if opts.Host == "" {
		opts.Host = def.Host
	}
	if opts.Port == 0 {
		opts.Port = def.Port
	}
	if opts.LoadTimeout <= 0 {
		opts.LoadTimeout = def.LoadTimeout
	}
	if opts.GenerateTimeout <= 0 {
		opts.GenerateTimeout = def.GenerateTimeout
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = def.MaxTokens
	}
	if opts.MemoryMultiplier <= 0 {
		opts.MemoryMultiplier = def.MemoryMultiplier
	}
	return &LlamaServerRuntime{
		opts:      opts,
		available: availableMemory,
		command:   exec.Command,
		pollEvery: 250 * time.Millisecond,
	}
}

// Load starts llama-server on path and waits for it to report healthy.
func (r *LlamaServerRuntime) Load(ctx context.Context, path string) (Model, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat model: %w", err)
	}
	if err := r.checkMemory(info.Size()); err != nil {
		return nil, err
	}

	args := []string{
		"-m", path,
		"--host", r.opts.Host,
		"--port", strconv.Itoa(r.opts.Port),
	}
	if r.opts.ContextSize > 0 {
		args = append(args, "-c", strconv.Itoa(r.opts.ContextSize))
	}
	if r.opts.Threads > 0 {
		args = append(args, "-t", strconv.Itoa(r.opts.Threads))
	}
	args = append(args, r.opts.ExtraArgs...)

	cmd := r.command(r.opts.Binary, args...)
	stderr := newTailBuffer(8 << 10)
	cmd.Stderr = stderr
	cmd.WaitDelay = 2 * time.Second

	logging.Runtime("starting %s on %s:%d", r.opts.Binary, r.opts.Host, r.opts.Port)
	timer := logging.StartTimer(logging.CategoryRuntime, "model load")
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", r.opts.Binary, err)
	}

	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	m := &llamaModel{
		cmd:    cmd,
		exited: exited,
		client: resty.New().
			SetBaseURL(fmt.Sprintf("http://%s:%d", r.opts.Host, r.opts.Port)).
			SetTimeout(r.opts.GenerateTimeout),
		opts: r.opts,
	}

	if err := r.waitHealthy(ctx, m, stderr); err != nil {
		m.Close()
		return nil, err
	}
	timer.StopWithThreshold(30 * time.Second)
	return m, nil
}

func (r *LlamaServerRuntime) checkMemory(artifactSize int64) error {
	avail, err := r.available()
	if err != nil {
		if !errors.Is(err, errMemProbeUnsupported) {
			logging.RuntimeWarn("memory probe failed: %v", err)
		}
		return nil
	}
	need := uint64(float64(artifactSize) * r.opts.MemoryMultiplier)
	if avail < need {
		logging.RuntimeWarn("not enough memory: need %d MiB, have %d MiB", need>>20, avail>>20)
		return fmt.Errorf("%w: need %d bytes, have %d", ErrOutOfMemory, need, avail)
	}
	return nil
}

func (r *LlamaServerRuntime) waitHealthy(ctx context.Context, m *llamaModel, stderr *tailBuffer) error {
	deadline := time.NewTimer(r.opts.LoadTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(r.pollEvery)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("model did not become healthy within %v", r.opts.LoadTimeout)
		case werr := <-m.exited:
			// Put it back so Close does not block.
			m.exited <- werr
			return classifyExit(werr, stderr.String())
		case <-tick.C:
			resp, err := m.client.R().SetContext(ctx).Get("/health")
			if err == nil && resp.StatusCode() == 200 {
				return nil
			}
		}
	}
}

// classifyExit maps an early child exit to ErrOutOfMemory when the kernel
// killed it or llama.cpp reported an allocation failure.
func classifyExit(werr error, stderr string) error {
	lower := strings.ToLower(stderr)
	if strings.Contains(lower, "failed to allocate") || strings.Contains(lower, "out of memory") {
		return fmt.Errorf("%w: allocation failed during load", ErrOutOfMemory)
	}
	var exitErr *exec.ExitError
	if errors.As(werr, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() && ws.Signal() == syscall.SIGKILL {
			return fmt.Errorf("%w: process killed during load", ErrOutOfMemory)
		}
	}
	return fmt.Errorf("llama-server exited during load: %v", werr)
}

type llamaModel struct {
	cmd    *exec.Cmd
	exited chan error
	client *resty.Client
	opts   LlamaServerOptions

	mu     sync.Mutex
	closed bool
}

type completionRequest struct {
	Prompt      string  `json:"prompt"`
	NPredict    int     `json:"n_predict"`
	Temperature float64 `json:"temperature"`
}

type completionResponse struct {
	Content string `json:"content"`
}

func (m *llamaModel) Generate(ctx context.Context, prompt string) (string, error) {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return "", ErrModelClosed
	}

	var out completionResponse
	resp, err := m.client.R().
		SetContext(ctx).
		SetBody(completionRequest{Prompt: prompt, NPredict: m.opts.MaxTokens, Temperature: m.opts.Temperature}).
		SetResult(&out).
		ForceContentType("application/json").
		Post("/completion")
	if err != nil {
		return "", fmt.Errorf("completion request failed: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("llama-server returned status %d", resp.StatusCode())
	}
	if strings.TrimSpace(out.Content) == "" {
		return "", ErrEmptyCompletion
	}
	return out.Content, nil
}

// Close kills the server process and waits for it to exit.
func (m *llamaModel) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	if m.cmd.Process != nil {
		_ = m.cmd.Process.Kill()
	}
	<-m.exited
	m.client.GetClient().CloseIdleConnections()
	logging.RuntimeDebug("llama-server stopped")
	return nil
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func newTailBuffer(max int) *tailBuffer { return &tailBuffer{max: max} }

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.max; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
