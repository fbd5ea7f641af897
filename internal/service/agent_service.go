package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/obsidian-remote-cli/internal/audit"
	"github.com/xela07ax/obsidian-remote-cli/internal/command"
	"github.com/xela07ax/obsidian-remote-cli/internal/domain"
	"github.com/xela07ax/obsidian-remote-cli/internal/engine"
)

const (
	ActionOrganize = "organize-notes"
	ActionExecute  = "execute-claude"

	promptPreview = 50 // символов промпта в журнале
)

// NoteScanner описывает, что сервису нужно от vault.
type NoteScanner interface {
	LooseNotes(ctx context.Context) ([]string, error)
}

type Options struct {
	Workspace            string
	Timeout              time.Duration
	OrganizeOutputWindow int
	ExecuteOutputWindow  int
}

// AgentService ведёт запрос по состояниям:
// RECEIVED -> VALIDATED -> (SHORT_CIRCUIT_EMPTY | EXECUTING) -> (SUCCEEDED | APP_FAILED | TIMED_OUT | UNEXPECTED_FAILED).
// Каждое терминальное состояние попадает в журнал до возврата.
type AgentService struct {
	scanner  NoteScanner
	builder  *command.Builder
	executor engine.Executor
	journal  audit.Recorder
	metrics  *engine.Metrics
	opts     Options
	logger   *zap.Logger
}

func NewAgentService(
	scanner NoteScanner,
	builder *command.Builder,
	executor engine.Executor,
	journal audit.Recorder,
	metrics *engine.Metrics,
	opts Options,
	logger *zap.Logger,
) *AgentService {
	if metrics == nil {
		metrics = engine.NewMetrics(nil)
	}
	return &AgentService{
		scanner:  scanner,
		builder:  builder,
		executor: executor,
		journal:  journal,
		metrics:  metrics,
		opts:     opts,
		logger:   logger.Named("agent-service"),
	}
}

// OrganizeNotes раскладывает свободные заметки из корня vault.
// Если раскладывать нечего, агент не запускается.
func (s *AgentService) OrganizeNotes(ctx context.Context) (*domain.OrganizeResult, error) {
	s.record(ctx, ActionOrganize, audit.StatusStarted, "")

	notes, err := s.scanner.LooseNotes(ctx)
	if err != nil {
		return nil, s.fail(ctx, ActionOrganize, err)
	}

	if len(notes) == 0 {
		s.record(ctx, ActionOrganize, audit.StatusCompleted, "no loose notes found")
		s.metrics.ExecutionTotal.WithLabelValues(ActionOrganize, engine.ResultNoop).Inc()
		return &domain.OrganizeResult{Notes: []string{}}, nil
	}

	if s.opts.Workspace == "" {
		return nil, s.fail(ctx, ActionOrganize, domain.ErrWorkspaceNotConfigured)
	}

	spec := s.builder.Build(s.opts.Workspace, s.builder.OrganizePrompt(notes))
	outcome, err := s.run(ctx, ActionOrganize, spec)
	if err != nil {
		return nil, err
	}

	s.record(ctx, ActionOrganize, audit.StatusSuccess, fmt.Sprintf("%d notes organized", len(notes)))
	return &domain.OrganizeResult{
		Notes:  notes,
		Output: domain.Tail(outcome.Stdout, s.opts.OrganizeOutputWindow),
		RunID:  outcome.RunID,
	}, nil
}

// Execute запускает агента с произвольным сообщением.
// Пустое сообщение отклоняется до записи в журнал и до запуска процесса.
func (s *AgentService) Execute(ctx context.Context, message string) (*domain.ExecuteResult, error) {
	req := domain.ExecuteRequest{Message: message}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	s.record(ctx, ActionExecute, audit.StatusStarted, "Prompt: "+domain.Head(message, promptPreview)+"...")

	if s.opts.Workspace == "" {
		return nil, s.fail(ctx, ActionExecute, domain.ErrWorkspaceNotConfigured)
	}

	spec := s.builder.Build(s.opts.Workspace, message)
	outcome, err := s.run(ctx, ActionExecute, spec)
	if err != nil {
		return nil, err
	}

	s.record(ctx, ActionExecute, audit.StatusSuccess, "")
	return &domain.ExecuteResult{
		Output: domain.Tail(outcome.Stdout, s.opts.ExecuteOutputWindow),
		RunID:  outcome.RunID,
	}, nil
}

// run запускает агента и превращает Outcome в типизированную ошибку.
// Неуспешные исходы уже записаны в журнал, успех записывает вызывающий.
func (s *AgentService) run(ctx context.Context, action string, spec domain.CommandSpec) (*domain.Outcome, error) {
	outcome, err := s.executor.Run(ctx, spec, s.opts.Timeout)
	if err != nil {
		return nil, s.fail(ctx, action, err)
	}

	switch {
	case outcome.TimedOut:
		s.record(ctx, action, audit.StatusTimeout, "")
		s.observe(action, engine.ResultTimeout, outcome.Duration)
		return nil, &domain.TimeoutError{After: s.opts.Timeout}

	case outcome.ExitCode != 0:
		s.record(ctx, action, audit.StatusError, outcome.Stderr)
		s.observe(action, engine.ResultAppError, outcome.Duration)
		return nil, &domain.ApplicationError{ExitCode: outcome.ExitCode, Stderr: outcome.Stderr}
	}

	s.observe(action, engine.ResultSuccess, outcome.Duration)
	return outcome, nil
}

// fail фиксирует непредвиденный исход (ошибка скана, запуска, конфигурации и т.п.).
func (s *AgentService) fail(ctx context.Context, action string, err error) error {
	result := engine.ResultUnexpected
	var launchErr *domain.LaunchError
	if errors.As(err, &launchErr) {
		result = engine.ResultLaunchError
	}
	s.metrics.ExecutionTotal.WithLabelValues(action, result).Inc()

	s.logger.Error("action failed",
		zap.String("action", action),
		zap.String("trace_id", engine.ExtractTraceID(ctx)),
		zap.Error(err))
	s.record(ctx, action, audit.StatusError, err.Error())
	return err
}

func (s *AgentService) observe(action, result string, d time.Duration) {
	s.metrics.ExecutionTotal.WithLabelValues(action, result).Inc()
	s.metrics.ExecutionDuration.WithLabelValues(action, result).Observe(d.Seconds())
}

func (s *AgentService) record(ctx context.Context, action string, status audit.Status, detail string) {
	s.journal.Record(audit.Event{
		TraceID:   engine.ExtractTraceID(ctx),
		Timestamp: time.Now(),
		Action:    action,
		Status:    status,
		Detail:    detail,
	})
}
