package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xela07ax/obsidian-remote-cli/internal/domain"
)

const (
	DefaultMaxOutput = 1 << 20 // 1 MB хвоста stdout
	DefaultKillGrace = 5 * time.Second
)

// Executor - единственная точка запуска внешнего агента.
// Ненулевой код выхода и таймаут - это Outcome, а не ошибка.
// Ошибка возвращается только если процесс не удалось запустить (*domain.LaunchError)
// или произошло что-то совсем непредвиденное.
type Executor interface {
	Run(ctx context.Context, spec domain.CommandSpec, timeout time.Duration) (*domain.Outcome, error)
}

// ProcessExecutor запускает агента как дочерний процесс ОС.
type ProcessExecutor struct {
	maxOutput int
	killGrace time.Duration
	logger    *zap.Logger
}

func NewProcessExecutor(maxOutput int, killGrace time.Duration, logger *zap.Logger) *ProcessExecutor {
	if maxOutput <= 0 {
		maxOutput = DefaultMaxOutput
	}
	if killGrace <= 0 {
		killGrace = DefaultKillGrace
	}
	return &ProcessExecutor{
		maxOutput: maxOutput,
		killGrace: killGrace,
		logger:    logger.Named("executor"),
	}
}

func (e *ProcessExecutor) Run(ctx context.Context, spec domain.CommandSpec, timeout time.Duration) (*domain.Outcome, error) {
	if len(spec.Args) == 0 || spec.Args[0] == "" {
		return nil, &domain.LaunchError{Err: errors.New("empty argv")}
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("executor: invalid timeout %v", timeout)
	}

	// Отключение клиента не прерывает агента: единственная гарантированная граница - timeout.
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, spec.Args[0], spec.Args[1:]...)
	cmd.Dir = spec.Dir
	setProcessGroup(cmd)
	// По таймауту убиваем всю группу процессов, а не только сам агент
	cmd.Cancel = func() error { return killProcessGroup(cmd) }
	// Потомки могут держать pipe открытым - не ждём их дольше killGrace
	cmd.WaitDelay = e.killGrace

	stdout := newTailBuffer(e.maxOutput)
	var stderr bytes.Buffer
	cmd.Stdout = stdout
	cmd.Stderr = &stderr

	runID := uuid.New().String()
	start := time.Now()

	if err := cmd.Start(); err != nil {
		e.logger.Error("agent launch failed",
			zap.String("run_id", runID),
			zap.String("executable", spec.Args[0]),
			zap.Error(err))
		return nil, &domain.LaunchError{Executable: spec.Args[0], Err: err}
	}

	waitErr := cmd.Wait()

	outcome := &domain.Outcome{
		RunID:    runID,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	exited := cmd.ProcessState != nil && cmd.ProcessState.Exited()
	if deadlineKilled(runCtx.Err(), exited) {
		outcome.TimedOut = true
		outcome.ExitCode = -1
		e.logger.Warn("agent killed by timeout",
			zap.String("run_id", runID),
			zap.Duration("timeout", timeout))
		return outcome, nil
	}

	switch {
	case waitErr == nil:
	case errors.Is(waitErr, exec.ErrWaitDelay) && cmd.ProcessState != nil:
		// агент завершился сам, но потомок держит stdout: код выхода агента верен,
		// хвостовые процессы добиваем вместе с группой
		outcome.ExitCode = cmd.ProcessState.ExitCode()
		if err := killProcessGroup(cmd); err != nil && !errors.Is(err, os.ErrProcessDone) {
			e.logger.Warn("failed to kill leftover agent processes",
				zap.String("run_id", runID), zap.Error(err))
		}
		e.logger.Warn("agent left processes holding its output",
			zap.String("run_id", runID),
			zap.Duration("kill_grace", e.killGrace))
	default:
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return nil, fmt.Errorf("executor: wait %s: %w", spec.Args[0], waitErr)
		}
		outcome.ExitCode = exitErr.ExitCode()
	}

	e.logger.Debug("agent finished",
		zap.String("run_id", runID),
		zap.Int("exit_code", outcome.ExitCode),
		zap.Duration("duration", outcome.Duration))
	return outcome, nil
}

// deadlineKilled - таймаут засчитывается, только если агент не успел завершиться сам.
// Процесс, убитый сигналом, не считается завершившимся (Exited() == false).
func deadlineKilled(ctxErr error, exitedOnItsOwn bool) bool {
	return errors.Is(ctxErr, context.DeadlineExceeded) && !exitedOnItsOwn
}

// tailBuffer хранит только последние limit байт записанного потока.
type tailBuffer struct {
	buf       []byte
	limit     int
	truncated bool
}

func newTailBuffer(limit int) *tailBuffer {
	return &tailBuffer{limit: limit}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if len(p) >= t.limit {
		t.buf = append(t.buf[:0], p[len(p)-t.limit:]...)
		t.truncated = true
		return n, nil
	}
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
		t.truncated = true
	}
	return n, nil
}

func (t *tailBuffer) String() string {
	b := t.buf
	if t.truncated {
		// срез мог попасть в середину многобайтного символа
		for len(b) > 0 && !utf8.RuneStart(b[0]) {
			b = b[1:]
		}
	}
	return string(b)
}
