package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/apache/incubator-ariatosca-sub004/execution"
	"github.com/apache/incubator-ariatosca-sub004/execution/ctxproxy"
	"github.com/apache/incubator-ariatosca-sub004/model"
)

// ExecutableResolver looks up the external command bound to an
// implementation path. The plugin registry satisfies this.
type ExecutableResolver interface {
	ResolveExecutable(spec model.PluginSpec, implementation string) (string, error)
}

// Subprocess runs each operation attempt in a child process. A per-attempt
// ctx proxy serves the operation context; the child finds it through the
// CTX_SOCKET_URL environment variable. Inputs are passed on stdin as JSON.
type Subprocess struct {
	resolver ExecutableResolver
	logger   *slog.Logger
	timeout  time.Duration

	group   *errgroup.Group
	baseCtx context.Context
	cancel  context.CancelFunc

	closeOnce sync.Once
	closed    chan struct{}
}

// SubprocessConfig configures NewSubprocess.
type SubprocessConfig struct {
	// Timeout bounds one attempt. Zero means no per-attempt timeout.
	Timeout time.Duration

	// MaxConcurrent bounds simultaneously running children. Zero means
	// defaultPoolSize.
	MaxConcurrent int

	Logger *slog.Logger
}

// NewSubprocess creates a subprocess executor.
func NewSubprocess(resolver ExecutableResolver, cfg SubprocessConfig) *Subprocess {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultPoolSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	group := &errgroup.Group{}
	group.SetLimit(cfg.MaxConcurrent)

	s := &Subprocess{
		resolver: resolver,
		logger:   logger,
		timeout:  cfg.Timeout,
		group:    group,
		baseCtx:  ctx,
		cancel:   cancel,
		closed:   make(chan struct{}),
	}
	return s
}

var _ execution.Executor = (*Subprocess)(nil)

// Submit starts a child for the attempt. It blocks when MaxConcurrent
// children are already running.
func (s *Subprocess) Submit(handle *execution.TaskHandle) error {
	select {
	case <-s.closed:
		return fmt.Errorf("executor closed")
	default:
	}
	s.group.Go(func() error {
		s.runOne(handle)
		return nil
	})
	return nil
}

// Close stops accepting work, kills running children, and waits for them.
func (s *Subprocess) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.cancel()
	})
	return s.group.Wait()
}

func (s *Subprocess) runOne(handle *execution.TaskHandle) {
	op := handle.Task.Operation

	// Started precedes the terminal notification even when setup fails,
	// the same contract the pool keeps.
	handle.Started()

	var spec model.PluginSpec
	if op.Plugin != nil {
		spec = *op.Plugin
	}
	command, err := s.resolver.ResolveExecutable(spec, op.Implementation)
	if err != nil {
		handle.Failed(fmt.Errorf("resolve executable %s: %w", op.Implementation, err), "")
		return
	}

	proxy, err := ctxproxy.NewServer(handle.OpCtx, handle.Inputs, s.logger)
	if err != nil {
		handle.Failed(fmt.Errorf("start ctx proxy: %w", err), "")
		return
	}
	defer proxy.Close()

	stdin, err := json.Marshal(handle.Inputs)
	if err != nil {
		handle.Failed(fmt.Errorf("encode inputs: %w", err), "")
		return
	}

	ctx := s.baseCtx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	workDir, err := handle.OpCtx.PluginWorkDir()
	if err != nil {
		handle.Failed(err, "")
		return
	}

	cmd := exec.CommandContext(ctx, command)
	cmd.Dir = workDir
	cmd.Stdin = bytes.NewReader(stdin)
	cmd.Env = append(os.Environ(), fmt.Sprintf("%s=%s", ctxproxy.EnvSocketURL, proxy.URL()))

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	s.logger.Debug("subprocess starting",
		"task_id", handle.Task.ID,
		"command", command,
		"proxy_url", proxy.URL())

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			err = fmt.Errorf("operation timed out after %s", s.timeout)
		} else {
			err = fmt.Errorf("%s: %w", command, err)
		}
		handle.Failed(err, stderr.String())
		return
	}
	handle.Succeeded()
}
