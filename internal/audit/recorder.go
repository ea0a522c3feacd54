package audit

/*
Файл recorder.go реализует конвейер аудита шлюза (Audit Trail).

Ключевые особенности архитектуры:
- Non-blocking Logging: неблокирующий канал на пути запроса. Задержки
  записи в БД не влияют на Response Time, а сбой хранилища никогда не
  ломает пользовательский ответ — аудит это наблюдаемость, не зависимость
  корректности.
- Batching: накопление записей в памяти и пакетная вставка в PostgreSQL
  по таймеру или при достижении лимита (100 записей).
- Schema self-heal: перед первой успешной записью воркер прогоняет
  идемпотентные миграции (EnsureSchema). Мемо ставится только после
  успеха, поэтому при сбое следующие батчи повторяют проверку.
- Drain Pattern & Graceful Shutdown: при остановке канал закрывается,
  воркер вычитывает остатки и делает финальный flush.
*/

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Storage определяет, куда физически сохраняются записи аудита.
type Storage interface {
	// EnsureSchema — идемпотентное создание таблицы и добивка колонок.
	EnsureSchema(ctx context.Context) error
	// InsertBatch сохраняет пачку записей за один раз.
	InsertBatch(ctx context.Context, records []Record) error
}

// Auditor — контракт для ядра шлюза: ровно один Log на обращение.
type Auditor interface {
	Log(record Record)
}

// RecorderOptions — настройки конвейера; нулевые значения заменяются
// дефолтами.
type RecorderOptions struct {
	BufferSize    int
	FlushInterval time.Duration
	FillGauge     prometheus.Gauge // заполненность буфера (backpressure), опционально
}

type Recorder struct {
	ch     chan Record
	store  Storage
	logger *zap.Logger
	fill   prometheus.Gauge
	wg     sync.WaitGroup

	flushEvery time.Duration

	// Мемо схемы: ставится в 1 только после успешного EnsureSchema.
	ensured atomic.Bool

	// Защита от Log после остановки (0 - открыт, 1 - закрыт)
	isClosed int32
}

func NewRecorder(store Storage, logger *zap.Logger, opts RecorderOptions) *Recorder {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 10000
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 500 * time.Millisecond
	}
	return &Recorder{
		ch:         make(chan Record, opts.BufferSize),
		store:      store,
		logger:     logger.Named("audit"),
		fill:       opts.FillGauge,
		flushEvery: opts.FlushInterval,
	}
}

func (r *Recorder) Start() {
	r.wg.Add(1)
	go r.worker()
}

// Stop «запирает» вход в канал и ждет, пока воркер всё допишет.
func (r *Recorder) Stop() {
	// 1. Сначала ставим флаг
	atomic.StoreInt32(&r.isClosed, 1)

	// 2. Крошечная пауза, чтобы текущие Log успели проскочить
	time.Sleep(10 * time.Millisecond)

	// 3. Drain Pattern: завершение воркера — только через закрытие канала.
	r.logger.Info("stopping audit recorder: closing channel and flushing buffer...")
	close(r.ch)
	r.wg.Wait()
	r.logger.Info("audit recorder stopped gracefully")
}

// Log ставит запись в очередь. Никогда не возвращает ошибку и не
// блокирует вызывающего: при переполнении буфера запись уходит в
// обычный лог (Load Shedding).
func (r *Recorder) Log(record Record) {
	// Таймстемп всегда проставлен
	if record.Ts.IsZero() {
		record.Ts = time.Now().UTC()
	}

	if atomic.LoadInt32(&r.isClosed) == 1 {
		r.logger.Warn("audit record dropped: recorder is stopping",
			zap.String("trace_id", record.TraceID))
		return
	}

	select {
	case r.ch <- record:
		if r.fill != nil {
			r.fill.Set(float64(len(r.ch)))
		}
	default:
		// Канал переполнен (Backpressure) — не теряем данные молча
		r.logger.Error("audit_buffer_overflow",
			zap.String("agent_id", record.AgentID),
			zap.String("trace_id", record.TraceID),
		)
	}
}

func (r *Recorder) worker() {
	defer r.wg.Done()

	batch := make([]Record, 0, 100)
	ticker := time.NewTicker(r.flushEvery)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Background: основной контекст может быть уже закрыт
		ctx := context.Background()

		if !r.ensured.Load() {
			if err := r.store.EnsureSchema(ctx); err != nil {
				r.logger.Warn("audit schema ensure failed", zap.Error(err))
			} else {
				r.ensured.Store(true)
			}
		}

		if err := r.store.InsertBatch(ctx, batch); err != nil {
			r.logger.Error("audit flush failed", zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case record, ok := <-r.ch:
			if !ok {
				// Канал закрыт в Stop(): вычитали всё — финальный сброс
				flush()
				r.logger.Info("audit worker finished")
				return
			}
			batch = append(batch, record)
			if len(batch) >= 100 {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
