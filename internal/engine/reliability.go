package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/eventedge/hypepipe/internal/snapshots"
)

// ReliableReaderOptions — нулевые значения заменяются дефолтами.
type ReliableReaderOptions struct {
	CBMaxRequests uint32
	CBInterval    time.Duration
	CBTimeout     time.Duration
	RPS           float64
	Burst         int
	BreakerGauge  prometheus.Gauge // 0=closed, 1=open; опционально
}

// ReliableReader оборачивает чтение снапшотов в стандартный
// защитный сэндвич: Rate Limiter -> Circuit Breaker -> Retry.
// Отсутствие снапшота (nil, nil) — штатный ответ, не сбой: он не
// ретраится и не двигает счетчики предохранителя.
type ReliableReader struct {
	next    snapshots.Reader
	cb      *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

func NewReliableReader(next snapshots.Reader, opts ReliableReaderOptions) *ReliableReader {
	if opts.CBMaxRequests == 0 {
		opts.CBMaxRequests = 3
	}
	if opts.CBInterval <= 0 {
		opts.CBInterval = 5 * time.Second
	}
	if opts.CBTimeout <= 0 {
		opts.CBTimeout = 30 * time.Second
	}
	if opts.RPS <= 0 {
		opts.RPS = 100
	}
	if opts.Burst <= 0 {
		opts.Burst = 20
	}

	// Настройка предохранителя
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "snapshot-store",
		MaxRequests: opts.CBMaxRequests,
		Interval:    opts.CBInterval,
		Timeout:     opts.CBTimeout, // Время, через которое CB попробует "закрыться"
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			// Если более 5 ошибок подряд — открываемся (блокируем трафик)
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if opts.BreakerGauge == nil {
				return
			}
			if to == gobreaker.StateOpen {
				opts.BreakerGauge.Set(1)
			} else {
				opts.BreakerGauge.Set(0)
			}
		},
	})

	return &ReliableReader{
		next:    next,
		cb:      cb,
		limiter: rate.NewLimiter(rate.Limit(opts.RPS), opts.Burst),
	}
}

func (w *ReliableReader) GetSnapshot(ctx context.Context, key string) (*snapshots.Snapshot, error) {
	// 1. Rate Limiter
	if err := w.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("snapshot rate limit exceeded: %w", err)
	}

	// 2. Circuit Breaker + Retry
	result, err := w.cb.Execute(func() (interface{}, error) {
		var snap *snapshots.Snapshot

		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(3),
		)

		retryErr := r.Do(func() error {
			tCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()

			var callErr error
			snap, callErr = w.next.GetSnapshot(tCtx, key)
			return callErr
		})

		return snap, retryErr
	})

	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, nil
	}
	return result.(*snapshots.Snapshot), nil
}
