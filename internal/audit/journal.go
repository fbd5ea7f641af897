package audit

/*
Файл journal.go реализует журнал событий сервиса - единственное разделяемое
между запросами изменяемое состояние.

- Non-blocking Logging: Record никогда не блокирует обработчик запроса, событие
  уходит в буферизированный канал. При переполнении событие сбрасывается (Load Shedding),
  а факт потери фиксируется в zap и метрике.
- Single Writer: строки пишет один воркер, каждая строка - один вызов Write,
  поэтому конкурентные записи не перемешиваются и не обрезаются.
- Batching: если подключено хранилище (Postgres), события копятся и пишутся пачкой
  по таймеру или при достижении 100 событий.
- Drain Pattern: Stop закрывает канал, воркер вычитывает остаток и делает финальный flush.
*/

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	DefaultBufferSize    = 1024
	DefaultFlushInterval = time.Second
	batchSize            = 100
)

// Recorder - то, что нужно сервису от журнала.
type Recorder interface {
	Record(event Event)
}

// Store определяет, куда физически будут сохраняться события (необязательно)
type Store interface {
	// WriteBatch сохраняет пачку событий за один раз
	WriteBatch(ctx context.Context, events []Event) error
}

type Journal struct {
	ch            chan Event // Буфер для асинхронности
	out           io.Writer
	store         Store
	flushInterval time.Duration
	dropped       prometheus.Counter
	logger        *zap.Logger
	wg            sync.WaitGroup

	// mu защищает closed и отправку в ch: после Stop никто не пишет в закрытый канал
	mu     sync.RWMutex
	closed bool
}

type JournalOption func(*Journal)

// WithStore подключает пакетную запись событий во внешнее хранилище.
func WithStore(store Store, flushInterval time.Duration) JournalOption {
	return func(j *Journal) {
		j.store = store
		if flushInterval > 0 {
			j.flushInterval = flushInterval
		}
	}
}

// WithDropCounter считает события, потерянные из-за переполнения буфера.
func WithDropCounter(c prometheus.Counter) JournalOption {
	return func(j *Journal) { j.dropped = c }
}

func NewJournal(out io.Writer, bufferSize int, logger *zap.Logger, opts ...JournalOption) *Journal {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	j := &Journal{
		ch:            make(chan Event, bufferSize),
		out:           out,
		flushInterval: DefaultFlushInterval,
		logger:        logger.With(zap.String("mod", "journal")),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

func (j *Journal) Start() {
	j.wg.Add(1)
	go j.worker()
}

// Stop «запирает» вход в канал и ждет, пока воркер всё допишет.
func (j *Journal) Stop() {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return
	}
	j.closed = true
	close(j.ch) // Новые события больше не принимаются
	j.mu.Unlock()

	j.wg.Wait() // Ждем, пока воркер вычитает остатки из канала
	j.logger.Info("journal stopped gracefully")
}

func (j *Journal) Record(event Event) {
	// Убеждаемся, что ID и таймстемп всегда проставлены
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}

	j.mu.RLock()
	defer j.mu.RUnlock()

	if j.closed {
		j.logger.Warn("journal event dropped: journal is stopped",
			zap.String("action", event.Action),
			zap.String("status", string(event.Status)))
		return
	}

	select {
	case j.ch <- event:
	default:
		// Backpressure: не держим обработчик запроса из-за журнала
		if j.dropped != nil {
			j.dropped.Inc()
		}
		j.logger.Error("journal_buffer_overflow",
			zap.String("action", event.Action),
			zap.String("status", string(event.Status)),
			zap.String("trace_id", event.TraceID))
	}
}

func (j *Journal) worker() {
	defer j.wg.Done()

	var batch []Event
	var tick <-chan time.Time
	if j.store != nil {
		batch = make([]Event, 0, batchSize)
		ticker := time.NewTicker(j.flushInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Используем Background, так как контекст запроса давно закрыт
		if err := j.store.WriteBatch(context.Background(), batch); err != nil {
			j.logger.Error("journal flush failed", zap.Int("events", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case event, ok := <-j.ch:
			if !ok {
				flush() // Финальный сброс
				return
			}
			j.write(event)
			if j.store != nil {
				batch = append(batch, event)
				if len(batch) >= batchSize {
					flush()
				}
			}
		case <-tick:
			flush()
		}
	}
}

// write - одна строка, один Write
func (j *Journal) write(event Event) {
	if j.out == nil {
		return
	}
	if _, err := io.WriteString(j.out, event.Line()); err != nil {
		j.logger.Error("journal write failed", zap.Error(err))
	}
}
