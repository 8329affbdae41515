package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/kirillkom/doc-ocr/internal/core/domain"
	"github.com/kirillkom/doc-ocr/internal/core/ports"
)

const defaultWaitDelay = 5 * time.Second

// Launcher runs the configured command as `<command...> <input> <output>`.
type Launcher struct {
	name      string
	args      []string
	waitDelay time.Duration
	logger    *slog.Logger
}

// NewLauncher splits command on whitespace into the executable and its leading
// arguments, e.g. "python3 worker/process_ocr.py".
func NewLauncher(command string, logger *slog.Logger) (*Launcher, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "worker command", errors.New("command is empty"))
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Launcher{
		name:      fields[0],
		args:      fields[1:],
		waitDelay: defaultWaitDelay,
		logger:    logger,
	}, nil
}

// Start spawns the worker. ctx bounds the process lifetime: cancelling it kills
// the worker.
func (l *Launcher) Start(ctx context.Context, inputPath, outputPath string) (ports.WorkerProcess, error) {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return nil, domain.WrapError(domain.ErrWorkerFailure, "prepare output dir", err)
	}

	args := append(append([]string{}, l.args...), inputPath, outputPath)
	cmd := exec.CommandContext(ctx, l.name, args...)
	cmd.WaitDelay = l.waitDelay

	p := &process{cmd: cmd, ctx: ctx}
	cmd.Stdout = &p.stdout
	cmd.Stderr = &p.stderr

	l.logger.Debug("running command", "cmd_line", strings.Join(append([]string{l.name}, args...), " "))
	p.start = time.Now()
	if err := cmd.Start(); err != nil {
		return nil, domain.WrapError(domain.ErrWorkerFailure, "start worker", fmt.Errorf("%s: %w", l.name, err))
	}
	return p, nil
}

type process struct {
	cmd    *exec.Cmd
	ctx    context.Context
	start  time.Time
	stdout bytes.Buffer
	stderr bytes.Buffer

	once sync.Once
	exit domain.WorkerExit
}

func (p *process) PID() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Wait is safe to call more than once; later calls return the first result.
func (p *process) Wait() domain.WorkerExit {
	p.once.Do(func() {
		err := p.cmd.Wait()
		p.exit = domain.WorkerExit{
			ExitCode: exitCode(p.cmd),
			Stdout:   p.stdout.Bytes(),
			Stderr:   p.stderr.Bytes(),
			Duration: time.Since(p.start),
		}
		switch {
		case err == nil:
		case p.ctx.Err() != nil:
			p.exit.Err = p.ctx.Err()
		case isExitError(err) && p.exit.ExitCode >= 0:
			// A plain non-zero exit is reported through ExitCode.
		default:
			p.exit.Err = err
		}
	})
	return p.exit
}

func exitCode(cmd *exec.Cmd) int {
	if cmd.ProcessState == nil {
		return -1
	}
	return cmd.ProcessState.ExitCode()
}

func isExitError(err error) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr)
}
