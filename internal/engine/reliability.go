package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/xela07ax/obsidian-remote-cli/internal/domain"
)

// ReliabilityConfig - необязательная защита хоста от лавины запусков.
// Нулевые значения означают «без ограничений».
type ReliabilityConfig struct {
	RateLimit     float64 // запусков в секунду, 0 - без лимита
	RateBurst     int
	MaxConcurrent int64 // одновременно работающих агентов, 0 - без лимита

	BreakerFailures uint32        // подряд неудачных запусков до размыкания
	BreakerTimeout  time.Duration // через сколько CB попробует "закрыться"
}

// ReliabilityWrapper оборачивает Executor: rate limit -> слот -> circuit breaker.
// Повторов нет: каждый запрос запускает агента не более одного раза.
type ReliabilityWrapper struct {
	next    Executor
	cb      *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	slots   *semaphore.Weighted
	metrics *Metrics
}

func NewReliabilityWrapper(next Executor, cfg ReliabilityConfig, metrics *Metrics, logger *zap.Logger) *ReliabilityWrapper {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	logger = logger.Named("reliability")

	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	breakerTimeout := cfg.BreakerTimeout
	if breakerTimeout <= 0 {
		breakerTimeout = 30 * time.Second
	}

	// Предохранитель считает только ошибки запуска: ненулевой код агента - это не поломка хоста
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "agent-launch",
		MaxRequests: 1,
		Timeout:     breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			var launchErr *domain.LaunchError
			return !errors.As(err, &launchErr)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			logger.Warn("circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	var slots *semaphore.Weighted
	if cfg.MaxConcurrent > 0 {
		slots = semaphore.NewWeighted(cfg.MaxConcurrent)
	}

	return &ReliabilityWrapper{
		next:    next,
		cb:      cb,
		limiter: limiter,
		slots:   slots,
		metrics: metrics,
	}
}

func (w *ReliabilityWrapper) Run(ctx context.Context, spec domain.CommandSpec, timeout time.Duration) (*domain.Outcome, error) {
	// 1. Rate Limiter
	if err := w.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit exceeded: %w", err)
	}

	// 2. Слот исполнения
	if w.slots != nil {
		if err := w.slots.Acquire(ctx, 1); err != nil {
			return nil, fmt.Errorf("execution slot unavailable: %w", err)
		}
		defer w.slots.Release(1)
	}

	w.metrics.ExecutionsInFlight.Inc()
	defer w.metrics.ExecutionsInFlight.Dec()

	// 3. Circuit Breaker
	res, err := w.cb.Execute(func() (interface{}, error) {
		return w.next.Run(ctx, spec, timeout)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &domain.LaunchError{Executable: spec.Executable(), Err: err}
		}
		return nil, err
	}

	outcome, ok := res.(*domain.Outcome)
	if !ok || outcome == nil {
		return nil, fmt.Errorf("executor returned no outcome")
	}
	return outcome, nil
}

// State отдаёт текущее состояние предохранителя (для тестов и диагностики).
func (w *ReliabilityWrapper) State() gobreaker.State {
	return w.cb.State()
}
